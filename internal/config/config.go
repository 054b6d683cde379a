// Package config holds the tool's runtime settings: store driver and
// location, walker parallelism and correlator thresholds. Settings load
// from a YAML file; absent or zero fields keep their defaults.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the CLI exposes.
type Config struct {
	// Driver selects the store backend, "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DBPath is the SQLite file path, or the connection string for
	// network backends.
	DBPath string `yaml:"db_path"`
	// Workers bounds the walker's decode worker pool.
	Workers int `yaml:"workers"`

	// SessionGapSeconds is the inactivity gap that starts a new session.
	SessionGapSeconds int `yaml:"session_gap_seconds"`
	// LinkWindowSeconds bounds shortcut-to-prefetch link matching.
	LinkWindowSeconds int `yaml:"link_window_seconds"`
	// RunCountThreshold marks a program as frequently executed.
	RunCountThreshold int64 `yaml:"run_count_threshold"`

	// MaxShellbagDepth caps BagMRU tree recursion.
	MaxShellbagDepth int `yaml:"max_shellbag_depth"`
}

// Default returns the built-in defaults.
func Default() Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return Config{
		Driver:            "sqlite",
		DBPath:            "artifacts.db",
		Workers:           workers,
		SessionGapSeconds: 120,
		LinkWindowSeconds: 120,
		RunCountThreshold: 50,
		MaxShellbagDepth:  25,
	}
}

// Load reads a YAML config file and merges it over the defaults.
// On error the defaults are returned alongside it, so callers can keep
// running with them if they choose to.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	cfg.merge(file)
	return cfg, nil
}

func (c *Config) merge(o Config) {
	if o.Driver != "" {
		c.Driver = o.Driver
	}
	if o.DBPath != "" {
		c.DBPath = o.DBPath
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
	if o.SessionGapSeconds > 0 {
		c.SessionGapSeconds = o.SessionGapSeconds
	}
	if o.LinkWindowSeconds > 0 {
		c.LinkWindowSeconds = o.LinkWindowSeconds
	}
	if o.RunCountThreshold > 0 {
		c.RunCountThreshold = o.RunCountThreshold
	}
	if o.MaxShellbagDepth > 0 {
		c.MaxShellbagDepth = o.MaxShellbagDepth
	}
}
