// Package appconfig implements TOML configuration loading and validation
// for pansync. Durations are stored as strings ("30s", "1h") and parsed
// during validation, so a broken value fails at startup rather than at the
// first scheduled run.
package appconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration parsed from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
	Drive    DriveConfig    `toml:"drive"`
	Sync     SyncConfig     `toml:"sync"`
}

// DatabaseConfig names the SQLite file backing accounts, configs, tasks and
// the file-info cache.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug|info|warn|error
	Format string `toml:"format"` // auto|text|json
}

// NetworkConfig controls provider HTTP behavior.
type NetworkConfig struct {
	Timeout string `toml:"timeout"` // per provider call
}

// DriveConfig tunes the client cache.
type DriveConfig struct {
	MaxIdle         string `toml:"max_idle"`
	CleanupInterval string `toml:"cleanup_interval"`
}

// SyncConfig tunes run execution and listing recursion.
type SyncConfig struct {
	Workers     int    `toml:"workers"`       // concurrent transfer groups per run
	SlowPause   string `toml:"slow_pause"`    // pause per descent in slow mode
	CacheMaxAge string `toml:"cache_max_age"` // freshness window for fast mode
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "pansync.db"},
		Logging:  LoggingConfig{Level: "info", Format: "auto"},
		Network:  NetworkConfig{Timeout: "30s"},
		Drive: DriveConfig{
			MaxIdle:         "30m",
			CleanupInterval: "1h",
		},
		Sync: SyncConfig{
			Workers:     4,
			SlowPause:   "3s",
			CacheMaxAge: "24h",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error; the
// defaults stand alone.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("appconfig: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks enum fields and parses every duration.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("appconfig: logging.level %q is not one of debug|info|warn|error", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("appconfig: logging.format %q is not one of auto|text|json", c.Logging.Format)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("appconfig: database.path must not be empty")
	}

	if c.Sync.Workers <= 0 {
		return fmt.Errorf("appconfig: sync.workers must be positive, got %d", c.Sync.Workers)
	}

	for name, value := range map[string]string{
		"network.timeout":        c.Network.Timeout,
		"drive.max_idle":         c.Drive.MaxIdle,
		"drive.cleanup_interval": c.Drive.CleanupInterval,
		"sync.slow_pause":        c.Sync.SlowPause,
		"sync.cache_max_age":     c.Sync.CacheMaxAge,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("appconfig: %s %q is not a duration: %w", name, value, err)
		}
	}

	return nil
}

// Duration accessors. Validate has already run, so parse failures fall back
// to the defaults rather than erroring at call sites.

func (c *Config) HTTPTimeout() time.Duration { return parseOr(c.Network.Timeout, 30*time.Second) }

func (c *Config) DriveMaxIdle() time.Duration { return parseOr(c.Drive.MaxIdle, 30*time.Minute) }

func (c *Config) DriveCleanupInterval() time.Duration {
	return parseOr(c.Drive.CleanupInterval, time.Hour)
}

func (c *Config) SyncSlowPause() time.Duration { return parseOr(c.Sync.SlowPause, 3*time.Second) }

func (c *Config) SyncCacheMaxAge() time.Duration { return parseOr(c.Sync.CacheMaxAge, 24*time.Hour) }

func parseOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}
