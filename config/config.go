// Package config loads client settings from ~/.margin/config.toml with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables that override file settings.
const (
	EnvBaseURL  = "MARGIN_API_BASE_URL"
	EnvLogLevel = "MARGIN_LOG_LEVEL"
)

// Config holds all client settings. Zero values are replaced by defaults.
type Config struct {
	BaseURL         string    `toml:"base_url"`
	LoginPath       string    `toml:"login_path"`
	DemoEmail       string    `toml:"demo_email"`
	HeaderTimeout   Duration  `toml:"header_timeout"`
	CredentialsPath string    `toml:"credentials_path"`
	TranscriptsDir  string    `toml:"transcripts_dir"`
	Log             Log       `toml:"log"`
	Telemetry       Telemetry `toml:"telemetry"`
}

// Log configures the rotating log file.
type Log struct {
	Path       string `toml:"path"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Telemetry configures trace and metric export.
type Telemetry struct {
	Enabled     bool   `toml:"enabled"`
	TracesPath  string `toml:"traces_path"`
	MetricsPath string `toml:"metrics_path"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Dir returns the per-user directory that holds the config file and, by
// default, every other file the client writes.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	return filepath.Join(home, ".margin"), nil
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) *Config {
	return &Config{
		BaseURL:         "http://localhost:8000",
		LoginPath:       "/auth/jwt/login",
		DemoEmail:       "demo@example.com",
		HeaderTimeout:   Duration{30 * time.Second},
		CredentialsPath: filepath.Join(dir, "credentials.json"),
		TranscriptsDir:  filepath.Join(dir, "transcripts"),
		Log: Log{
			Path:       filepath.Join(dir, "margin.log"),
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			TracesPath:  filepath.Join(dir, "traces.jsonl"),
			MetricsPath: filepath.Join(dir, "metrics.jsonl"),
		},
	}
}

// Load reads the TOML file at path over the defaults for dir, then applies
// overrides from getenv. A missing file is not an error. getenv may be nil.
func Load(dir, path string, getenv func(string) string) (*Config, error) {
	cfg := Default(dir)
	if path == "" {
		path = filepath.Join(dir, "config.toml")
	}
	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("load %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	if getenv != nil {
		cfg.ApplyEnv(getenv)
	}
	cfg.fillDefaults(dir)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// fillDefaults restores defaults for fields a file explicitly blanked.
func (c *Config) fillDefaults(dir string) {
	d := Default(dir)
	if c.LoginPath == "" {
		c.LoginPath = d.LoginPath
	}
	if c.CredentialsPath == "" {
		c.CredentialsPath = d.CredentialsPath
	}
	if c.TranscriptsDir == "" {
		c.TranscriptsDir = d.TranscriptsDir
	}
	if c.Log.Path == "" {
		c.Log.Path = d.Log.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Telemetry.TracesPath == "" {
		c.Telemetry.TracesPath = d.Telemetry.TracesPath
	}
	if c.Telemetry.MetricsPath == "" {
		c.Telemetry.MetricsPath = d.Telemetry.MetricsPath
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("base_url: missing host")
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("login_path: must start with /, got %q", c.LoginPath)
	}
	if c.HeaderTimeout.Duration < 0 {
		return errors.New("header_timeout: must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return errors.New("log: rotation limits must not be negative")
	}
	return nil
}
