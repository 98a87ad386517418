package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fwojciec/margin/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("missing file yields defaults", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		cfg, err := config.Load(dir, "", nil)
		require.NoError(t, err)
		assert.Equal(t, config.Default(dir), cfg)
		assert.Equal(t, "/auth/jwt/login", cfg.LoginPath)
		assert.Equal(t, filepath.Join(dir, "credentials.json"), cfg.CredentialsPath)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeConfig(t, dir, `
base_url = "https://reader.example.com"
login_path = "/auth/cookie/login"
header_timeout = "5s"

[log]
level = "debug"
max_backups = 1

[telemetry]
enabled = true
`)
		cfg, err := config.Load(dir, path, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://reader.example.com", cfg.BaseURL)
		assert.Equal(t, "/auth/cookie/login", cfg.LoginPath)
		assert.Equal(t, 5*time.Second, cfg.HeaderTimeout.Duration)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 1, cfg.Log.MaxBackups)
		assert.Equal(t, 10, cfg.Log.MaxSizeMB)
		assert.True(t, cfg.Telemetry.Enabled)
		assert.Equal(t, filepath.Join(dir, "traces.jsonl"), cfg.Telemetry.TracesPath)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeConfig(t, dir, `base_url = "https://file.example.com"`)
		cfg, err := config.Load(dir, path, env(map[string]string{
			config.EnvBaseURL:  "https://env.example.com",
			config.EnvLogLevel: "warn",
		}))
		require.NoError(t, err)
		assert.Equal(t, "https://env.example.com", cfg.BaseURL)
		assert.Equal(t, "warn", cfg.Log.Level)
	})

	t.Run("blanked paths fall back to defaults", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeConfig(t, dir, `credentials_path = ""`)
		cfg, err := config.Load(dir, path, nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "credentials.json"), cfg.CredentialsPath)
	})

	errCases := []struct {
		name string
		body string
		want string
	}{
		{"malformed toml", `base_url = `, "load"},
		{"unknown key", `colour = "blue"`, "unknown keys: colour"},
		{"bad duration", `header_timeout = "soon"`, "load"},
		{"bad scheme", `base_url = "ftp://example.com"`, "scheme must be http or https"},
		{"missing host", `base_url = "http://"`, "missing host"},
		{"relative login path", `login_path = "auth/login"`, "login_path"},
		{"unknown level", "[log]\nlevel = \"loud\"", "unknown level"},
		{"negative rotation", "[log]\nmax_backups = -1", "rotation limits"},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			_, err := config.Load(dir, writeConfig(t, dir, tt.body), nil)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestDuration_MarshalText(t *testing.T) {
	t.Parallel()
	b, err := config.Duration{Duration: 90 * time.Second}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
}
