package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/kpm/pkg/errors"
)

func TestParseVersionToken(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expectErr bool
		latest    bool
	}{
		{name: "latest", input: "latest", latest: true},
		{name: "semver", input: "1.2.0"},
		{name: "prerelease", input: "2.0.0-beta.1"},
		{name: "v prefix kept", input: "v1.0.0"},
		{name: "empty", input: "", expectErr: true},
		{name: "latest is case sensitive", input: "Latest", expectErr: true},
		{name: "garbage", input: "not a version", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := ParseVersionToken(tt.input)
			if tt.expectErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, token.String())
			assert.Equal(t, tt.latest, token.IsLatest())
		})
	}
}

func TestValidatePackageName(t *testing.T) {
	valid := []string{"foo", "foo-bar", "foo_bar.lua", "Foo1"}
	for _, name := range valid {
		assert.NoError(t, ValidatePackageName(name), name)
	}

	invalid := []string{"", ".", "..", ".hidden", "a/b", `a\b`, "../foo", "foo\x00"}
	for _, name := range invalid {
		err := ValidatePackageName(name)
		assert.ErrorIs(t, err, errors.ErrInvalidInput, name)
	}
}

func TestManifestJSONShape(t *testing.T) {
	m := Manifest{
		PackageName:      "foo",
		InstalledVersion: "1.2.0",
		InstalledAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"packageName":"foo","installedVersion":"1.2.0","installedAt":"2024-05-01T12:00:00Z"}`, string(data))
}

func TestBatchResult_HasFailures(t *testing.T) {
	var b BatchResult
	assert.False(t, b.HasFailures())
	b.Failed = append(b.Failed, PackageFailure{Name: "foo"})
	assert.True(t, b.HasFailures())
}
