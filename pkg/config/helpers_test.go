package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/kpm/pkg/errors"
)

func TestSetValue(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(t *testing.T, c *Config)
	}{
		{"install_dir", "/opt/kpm", func(t *testing.T, c *Config) { assert.Equal(t, "/opt/kpm", c.Settings.InstallDir) }},
		{"hooks_enabled", "true", func(t *testing.T, c *Config) { assert.True(t, c.Settings.HooksEnabled) }},
		{"http_timeout", "5s", func(t *testing.T, c *Config) { assert.Equal(t, 5*time.Second, c.Settings.HTTPTimeout) }},
		{"max_concurrent", "3", func(t *testing.T, c *Config) { assert.Equal(t, 3, c.Settings.MaxConcurrent) }},
		{"output_format", "json", func(t *testing.T, c *Config) { assert.Equal(t, "json", c.Settings.OutputFormat) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultConfig()
			require.NoError(t, cfg.SetValue(tt.key, tt.value))
			tt.check(t, cfg)
		})
	}
}

func TestSetValue_Errors(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.SetValue("cache_dir", "/tmp")
	assert.ErrorIs(t, err, errors.ErrUnknownConfigKey)

	err = cfg.SetValue("max_concurrent", "many")
	assert.ErrorIs(t, err, errors.ErrConfigValidation)

	err = cfg.SetValue("max_concurrent", "0")
	assert.ErrorIs(t, err, errors.ErrConfigValidation)
	assert.Equal(t, 1, cfg.Settings.MaxConcurrent, "rejected values are rolled back")
}

func TestGetValueAndToMap(t *testing.T) {
	cfg := DefaultConfig()

	v, err := cfg.GetValue("http_timeout")
	require.NoError(t, err)
	assert.Equal(t, "30s", v)

	v, err = cfg.GetValue("hooks_enabled")
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	_, err = cfg.GetValue("nope")
	assert.ErrorIs(t, err, errors.ErrUnknownConfigKey)

	m := cfg.ToMap()
	assert.Equal(t, DefaultRegistryURL, m["registry_url"])
	assert.Equal(t, "1", m["max_concurrent"])
	assert.Equal(t, []string{
		"hooks_enabled", "http_timeout", "install_dir", "log_level",
		"max_concurrent", "output_format", "registry_url", "user_agent",
	}, cfg.Keys())
}
