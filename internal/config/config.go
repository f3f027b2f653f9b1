// Package config handles configuration file loading and parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Default configuration values.
const (
	DefaultBackend      = BackendFile
	DefaultKey          = "state"
	DefaultPollInterval = "500ms"
	DefaultRedisAddr    = "localhost:6379"
	DefaultRedisPrefix  = "folio"
	DefaultFormat       = "json"
)

// Config represents the folio configuration.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	SQLite  SQLiteConfig  `toml:"sqlite"`
	Redis   RedisConfig   `toml:"redis"`
	Output  OutputConfig  `toml:"output"`
}

// StorageConfig selects and tunes the local storage area.
type StorageConfig struct {
	Backend    string `toml:"backend"`     // file, sqlite, redis, memory
	Dir        string `toml:"dir"`         // file backend directory (empty = data dir)
	Key        string `toml:"key"`         // key the state is stored under
	QuotaBytes int64  `toml:"quota_bytes"` // 0 = unlimited
}

// SQLiteConfig holds sqlite backend settings.
type SQLiteConfig struct {
	Path         string `toml:"path"`          // empty = <data dir>/folio.db
	PollInterval string `toml:"poll_interval"` // change detection interval
}

// RedisConfig holds redis backend settings.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// OutputConfig holds CLI output defaults.
type OutputConfig struct {
	Format string `toml:"format"` // json, yaml, plain
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: DefaultBackend,
			Key:     DefaultKey,
		},
		SQLite: SQLiteConfig{
			PollInterval: DefaultPollInterval,
		},
		Redis: RedisConfig{
			Addr:   DefaultRedisAddr,
			Prefix: DefaultRedisPrefix,
		},
		Output: OutputConfig{
			Format: DefaultFormat,
		},
	}
}

// ConfigPath returns the path to the config file.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func ConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "folio", "config.toml")
}

// DataPath returns the path to the data directory.
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share.
func DataPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "folio")
}

// StorageDir returns the file backend directory.
func (c *Config) StorageDir() string {
	if c.Storage.Dir != "" {
		return c.Storage.Dir
	}
	return filepath.Join(DataPath(), "storage")
}

// SQLitePath returns the sqlite backend database path.
func (c *Config) SQLitePath() string {
	if c.SQLite.Path != "" {
		return c.SQLite.Path
	}
	return filepath.Join(DataPath(), "folio.db")
}

// PollInterval returns the parsed sqlite poll interval.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.SQLite.PollInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultPollInterval)
	}
	return d
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Key == "" {
		return errors.New("storage key cannot be empty")
	}
	if c.Storage.QuotaBytes < 0 {
		return errors.New("storage quota_bytes cannot be negative")
	}
	if c.SQLite.PollInterval != "" {
		d, err := time.ParseDuration(c.SQLite.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid sqlite poll_interval: %w", err)
		}
		if d <= 0 {
			return errors.New("sqlite poll_interval must be positive")
		}
	}
	switch c.Output.Format {
	case "json", "yaml", "plain":
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	return nil
}

// LoadConfig loads configuration from the specified path.
// If path is empty, uses the default config path.
// Returns default config if file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	// Start with defaults
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the configuration to the specified path.
// Creates parent directories if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
