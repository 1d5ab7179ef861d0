// Package config loads trace-agent configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all trace-agent configuration.
type Config struct {
	// Backend endpoints
	Backend BackendConfig `yaml:"backend"`

	// Schematic/PCB converter subprocess
	Converter ConverterConfig `yaml:"converter"`

	// Local data (conversation store, credentials)
	Data DataConfig `yaml:"data"`

	// Background sync
	Sync SyncConfig `yaml:"sync"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig configures the remote API endpoints.
type BackendConfig struct {
	// APIURL serves the streaming chat and version endpoints.
	APIURL string `yaml:"api_url"`

	// SyncURL serves the conversation REST store.
	SyncURL string `yaml:"sync_url"`

	// LoginURL is the browser page that starts the sign-in flow.
	LoginURL string `yaml:"login_url"`

	RequestTimeout string `yaml:"request_timeout"`
}

// ConverterConfig configures the format converter subprocess.
type ConverterConfig struct {
	Interpreter string `yaml:"interpreter"`
	Script      string `yaml:"script"`
	Timeout     string `yaml:"timeout"`

	// Debounce delays conversion after an edit so bursts coalesce.
	Debounce string `yaml:"debounce"`
}

// DataConfig configures local persistence.
type DataConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// SyncConfig configures the background sync worker.
type SyncConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Interval   string `yaml:"interval"`
	FetchLimit int    `yaml:"fetch_limit"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"` // debug, info, warn, error
	Debug bool   `yaml:"debug"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			APIURL:         "https://api.buildwithtrace.com",
			SyncURL:        "https://sync.buildwithtrace.com",
			LoginURL:       "https://buildwithtrace.com/login",
			RequestTimeout: "300s",
		},
		Converter: ConverterConfig{
			Interpreter: "python3",
			Timeout:     "60s",
			Debounce:    "200ms",
		},
		Data: DataConfig{
			Dir:           defaultDataDir(),
			RetentionDays: 7,
		},
		Sync: SyncConfig{
			Enabled:    true,
			Interval:   "30s",
			FetchLimit: 50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trace"
	}
	return filepath.Join(home, ".trace")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables override either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("TRACE_API_URL"); url != "" {
		c.Backend.APIURL = url
	}
	if url := os.Getenv("TRACE_SYNC_URL"); url != "" {
		c.Backend.SyncURL = url
	}
	if url := os.Getenv("TRACE_LOGIN_URL"); url != "" {
		c.Backend.LoginURL = url
	}
	if dir := os.Getenv("TRACE_DATA_DIR"); dir != "" {
		c.Data.Dir = dir
	}
	if script := os.Getenv("TRACE_CONVERTER_SCRIPT"); script != "" {
		c.Converter.Script = script
	}
	if os.Getenv("TRACE_DEBUG") != "" {
		c.Logging.Debug = true
		c.Logging.Level = "debug"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Backend.APIURL == "" {
		return fmt.Errorf("backend api_url not configured")
	}
	if c.Backend.SyncURL == "" && c.Sync.Enabled {
		return fmt.Errorf("sync enabled but backend sync_url not configured")
	}
	return nil
}

// GetRequestTimeout returns the backend request timeout as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.RequestTimeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// GetConverterTimeout returns the converter timeout as a duration.
func (c *Config) GetConverterTimeout() time.Duration {
	d, err := time.ParseDuration(c.Converter.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetConversionDebounce returns the conversion debounce as a duration.
func (c *Config) GetConversionDebounce() time.Duration {
	d, err := time.ParseDuration(c.Converter.Debounce)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// GetSyncInterval returns the background sync cadence as a duration.
func (c *Config) GetSyncInterval() time.Duration {
	d, err := time.ParseDuration(c.Sync.Interval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
