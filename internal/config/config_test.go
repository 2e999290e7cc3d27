package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swapd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	// No file at the path: defaults alone are a valid configuration.
	cfg, err := LoadConfig(ConfigPaths{Main: filepath.Join(t.TempDir(), "swapd.toml")})
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:5005", cfg.Server.ListenAddr)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout())
	require.Equal(t, "swap-engine", cfg.Settlement.EngineAccount)
	require.Equal(t, 60*time.Second, cfg.AnchorMaxAge())
	require.Equal(t, 5*time.Minute, cfg.ProofMaxSkew())
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
[server]
listen_addr = "0.0.0.0:8080"
admin_principal = "ops-principal"

[storage]
database_path = "/tmp/swapd-test/db"
history_path = ""

[settlement]
engine_account = "custody"
anchor_max_age_seconds = 120

[log]
level = "debug"
pretty = true
`)

	cfg, err := LoadConfig(ConfigPaths{Main: path})
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:8080", cfg.Server.ListenAddr)
	require.Equal(t, "ops-principal", cfg.Server.AdminPrincipal)
	require.Equal(t, "custody", cfg.Settlement.EngineAccount)
	require.Equal(t, 120*time.Second, cfg.AnchorMaxAge())
	require.Empty(t, cfg.Storage.HistoryPath)
	require.True(t, cfg.Log.Pretty)
	require.Equal(t, path, cfg.GetConfigPath())

	// Unset sections keep their defaults.
	require.Equal(t, 30, cfg.Server.RequestTimeoutSeconds)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("SWAPD_SERVER_LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("SWAPD_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(ConfigPaths{Main: filepath.Join(t.TempDir(), "swapd.toml")})
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9999", cfg.Server.ListenAddr)
	require.Equal(t, "warn", cfg.Log.Level)
}

func TestValidationRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad listen addr", func(c *Config) { c.Server.ListenAddr = "no-port" }, "listen_addr"},
		{"zero timeout", func(c *Config) { c.Server.RequestTimeoutSeconds = 0 }, "request_timeout_seconds"},
		{"empty database path", func(c *Config) { c.Storage.DatabasePath = "" }, "database_path"},
		{"empty engine account", func(c *Config) { c.Settlement.EngineAccount = "" }, "engine_account"},
		{"negative anchor age", func(c *Config) { c.Settlement.AnchorMaxAgeSeconds = -1 }, "anchor_max_age_seconds"},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(ConfigPaths{Main: ""})
			require.NoError(t, err)
			tc.mutate(cfg)
			err = ValidateConfig(cfg)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestSaveExampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapd.toml")
	require.NoError(t, SaveExampleConfig(path))

	cfg, err := LoadConfig(ConfigPaths{Main: path})
	require.NoError(t, err)
	require.Equal(t, "admin-principal", cfg.Server.AdminPrincipal)
	require.Equal(t, "swap-engine", cfg.Settlement.EngineAccount)
}
