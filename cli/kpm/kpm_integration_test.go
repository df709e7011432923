//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/kpm/internal/cli"
	"github.com/glorpus-work/kpm/pkg/config"
	"github.com/glorpus-work/kpm/test/testutil"
)

func runKPM(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	cmd := cli.NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestLibraryLifecycle(t *testing.T) {
	t.Setenv(config.EnvInstallLocation, "")
	t.Setenv(config.EnvRegistryURL, "")

	reg := testutil.NewFakeRegistry(t)
	root := filepath.Join(t.TempDir(), "knight_library")
	cfgPath := testutil.SetupTestConfig(t, reg.URL(), root)

	for _, name := range []string{"lance", "bow", "helm"} {
		reg.AddRelease(name, "1.0.0", testutil.TarGzArchive(t, []testutil.Entry{
			{Name: "bin/" + name, Content: "#!/bin/sh\necho " + name + "\n", Mode: 0o755},
			{Name: "current", Link: "bin/" + name},
		}))
	}

	_, err := runKPM(t, "--config", cfgPath, "install", "lance", "bow", "helm")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(root, "lance", "bin", "lance"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	target, err := os.Readlink(filepath.Join(root, "bow", "current"))
	require.NoError(t, err)
	assert.Equal(t, "bin/bow", target)

	reg.AddRelease("bow", "1.2.0", testutil.ZipArchive(t, testutil.Files(map[string]string{"bin/bow": "new"})))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bow", "local-note.txt"), []byte("mine"), 0o644))

	out, err := runKPM(t, "--config", cfgPath, "--output", "json", "update")
	require.NoError(t, err)
	var res struct {
		Succeeded []struct {
			Name     string `json:"name"`
			Version  string `json:"version"`
			UpToDate bool   `json:"upToDate"`
		} `json:"succeeded"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Succeeded, 3)
	for _, s := range res.Succeeded {
		assert.Equal(t, s.Name != "bow", s.UpToDate, s.Name)
	}

	assert.NoFileExists(t, filepath.Join(root, "bow", "local-note.txt"))
	assert.NoFileExists(t, filepath.Join(root, "bow", "current"))

	_, err = runKPM(t, "--config", cfgPath, "uninstall", "lance", "bow", "helm")
	require.NoError(t, err)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
