// Package config handles SkaldDB configuration via YAML files and
// environment variables.
//
// Configuration is loaded in layers: built-in defaults, then an optional
// skaldb.yaml file, then SKALDB_* environment variable overrides. The
// environment always wins, which keeps container deployments simple.
//
// Example Usage:
//
//	cfg, err := config.Load("./skaldb.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Data dir: %s\n", cfg.DataDir)
//
// Environment Variables:
//   - SKALDB_DATA_DIR="./data"
//   - SKALDB_DATABASE="default"
//   - SKALDB_BRANCH="main"
//   - SKALDB_WAL_ENABLED=true
//   - SKALDB_WAL_SYNC_MODE="immediate" | "batch" | "none"
//   - SKALDB_WAL_BATCH_SYNC_INTERVAL=100ms
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all SkaldDB configuration.
//
// Zero values are never used directly; start from Default() so unset
// fields get sensible values.
type Config struct {
	// DataDir is the catalog root holding all databases.
	DataDir string `yaml:"data_dir"`

	// Database is the database name opened by default.
	Database string `yaml:"database"`

	// Branch is the branch opened by default.
	Branch string `yaml:"branch"`

	// WAL configures write-ahead logging.
	WAL WALConfig `yaml:"wal"`
}

// WALConfig controls write-ahead log durability.
type WALConfig struct {
	// Enabled turns write-ahead logging on. When false the store only
	// persists at explicit checkpoints.
	Enabled bool `yaml:"enabled"`

	// SyncMode is one of "immediate", "batch", or "none".
	SyncMode string `yaml:"sync_mode"`

	// BatchSyncInterval is how often batch mode fsyncs.
	BatchSyncInterval time.Duration `yaml:"batch_sync_interval"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		DataDir:  "./data",
		Database: "default",
		Branch:   "main",
		WAL: WALConfig{
			Enabled:           true,
			SyncMode:          "batch",
			BatchSyncInterval: 100 * time.Millisecond,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, and
// environment overrides. A missing file is not an error; a malformed one
// is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SKALDB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SKALDB_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("SKALDB_BRANCH"); v != "" {
		c.Branch = v
	}
	if v := os.Getenv("SKALDB_WAL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.WAL.Enabled = b
		}
	}
	if v := os.Getenv("SKALDB_WAL_SYNC_MODE"); v != "" {
		c.WAL.SyncMode = v
	}
	if v := os.Getenv("SKALDB_WAL_BATCH_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.WAL.BatchSyncInterval = d
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("database must not be empty")
	}
	if c.Branch == "" {
		return fmt.Errorf("branch must not be empty")
	}
	switch c.WAL.SyncMode {
	case "immediate", "batch", "none":
	default:
		return fmt.Errorf("wal.sync_mode must be immediate, batch, or none, got %q", c.WAL.SyncMode)
	}
	if c.WAL.SyncMode == "batch" && c.WAL.BatchSyncInterval <= 0 {
		return fmt.Errorf("wal.batch_sync_interval must be positive in batch mode")
	}
	return nil
}

// WriteFile serializes the configuration to a YAML file, creating or
// replacing it.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// String returns a human-readable summary, with one line per setting.
func (c *Config) String() string {
	return fmt.Sprintf("data_dir=%s database=%s branch=%s wal=%v sync=%s",
		c.DataDir, c.Database, c.Branch, c.WAL.Enabled, c.WAL.SyncMode)
}
