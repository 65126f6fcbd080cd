package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANAVA_CONNECTOR_CONFIG",
		"ANAVA_CONNECTOR_LISTEN",
		"ANAVA_CONNECTOR_ORIGINS",
		"ANAVA_CONNECTOR_MIN_FIRMWARE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	// 1. built-in defaults survive an empty environment
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultMinFirmware, cfg.MinFirmware)
	assert.Contains(t, cfg.AllowedOrigins, DefaultWebappOrigin)
	assert.Contains(t, cfg.AllowedOrigins, "http://localhost:5173")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANAVA_CONNECTOR_LISTEN", "127.0.0.1:19876")
	t.Setenv("ANAVA_CONNECTOR_ORIGINS", "https://app.example, http://localhost:8080")
	t.Setenv("ANAVA_CONNECTOR_MIN_FIRMWARE", "12.0.0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:19876", cfg.Listen)
	assert.Equal(t, []string{"https://app.example", "http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, "12.0.0", cfg.MinFirmware)
}

func TestLoadYAMLThenEnvPrecedence(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "connector.yaml")
	yaml := "listen: 127.0.0.1:7000\nmin_firmware: 11.5.0\nallowed_origins:\n  - https://yaml.example\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	t.Setenv("ANAVA_CONNECTOR_CONFIG", path)
	t.Setenv("ANAVA_CONNECTOR_LISTEN", "127.0.0.1:7001")

	cfg, err := Load()
	require.NoError(t, err)

	// env wins over the file, the file wins over defaults
	assert.Equal(t, "127.0.0.1:7001", cfg.Listen)
	assert.Equal(t, "11.5.0", cfg.MinFirmware)
	assert.Equal(t, []string{"https://yaml.example"}, cfg.AllowedOrigins)
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANAVA_CONNECTOR_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default_ok", func(c *Config) {}, ""},
		{"non_loopback", func(c *Config) { c.Listen = "0.0.0.0:9876" }, "loopback"},
		{"public_ip", func(c *Config) { c.Listen = "192.168.1.5:9876" }, "loopback"},
		{"ipv6_loopback", func(c *Config) { c.Listen = "[::1]:9876" }, "loopback"},
		{"missing_port", func(c *Config) { c.Listen = "127.0.0.1" }, "invalid listen"},
		{"no_origins", func(c *Config) { c.AllowedOrigins = nil }, "origins list is empty"},
		{"origin_with_path", func(c *Config) { c.AllowedOrigins = []string{"https://a.example/app"} }, "invalid origin"},
		{"bad_firmware", func(c *Config) { c.MinFirmware = "eleven" }, "invalid min firmware"},
		{"tolerant_firmware", func(c *Config) { c.MinFirmware = "11.11" }, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}
