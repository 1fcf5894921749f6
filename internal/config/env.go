package config

import (
	"os"
	"strconv"
)

// FromEnv overlays TASQ_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TASQ_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TASQ_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("TASQ_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("TASQ_FSYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FsyncIntervalMs = n
		}
	}
	if v := os.Getenv("TASQ_DEFAULT_LEASE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Broker.DefaultLeaseMs = n
		}
	}
	if v := os.Getenv("TASQ_SWEEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.SweepIntervalMs = n
		}
	}
	if v := os.Getenv("TASQ_SWEEP_MAX_PER_TICK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.SweepMaxPerTick = n
		}
	}
	if v := os.Getenv("TASQ_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TASQ_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
