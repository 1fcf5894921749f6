package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// DataDir is the Pebble database directory. Empty means the OS default
	// under the user data dir.
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// HTTPAddr is the listen address of the broker's HTTP API.
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
	// Fsync selects WAL durability: "always", "interval" or "never".
	Fsync string `json:"fsync" yaml:"fsync"`
	// FsyncIntervalMs is the group-commit window when Fsync is "interval".
	FsyncIntervalMs int `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`

	Broker BrokerConfig `json:"broker" yaml:"broker"`
	Log    LogConfig    `json:"log" yaml:"log"`
}

// BrokerConfig captures lease and sweeper behavior.
type BrokerConfig struct {
	// DefaultLeaseMs bounds a poll's custody when the worker does not renew.
	DefaultLeaseMs int64 `json:"defaultLeaseMs" yaml:"defaultLeaseMs"`
	// SweepIntervalMs is how often the expiry sweeper scans for overdue
	// leases.
	SweepIntervalMs int `json:"sweepIntervalMs" yaml:"sweepIntervalMs"`
	// SweepMaxPerTick caps reclaims per sweep.
	SweepMaxPerTick int `json:"sweepMaxPerTick" yaml:"sweepMaxPerTick"`
}

// LogConfig selects logger level and format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:        ":7410",
		Fsync:           "interval",
		FsyncIntervalMs: 5,
		Broker: BrokerConfig{
			DefaultLeaseMs:  30_000,
			SweepIntervalMs: 500,
			SweepMaxPerTick: 1024,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// SweepInterval returns the sweeper interval as a duration.
func (c BrokerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}
