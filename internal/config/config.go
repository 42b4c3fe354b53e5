// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package config defines the application configuration and its layered
// loading: built-in defaults, an optional YAML file, then environment
// variables with the SLIPMETRICS_ prefix.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Logging  LoggingConfig  `koanf:"logging"`
	Database DatabaseConfig `koanf:"database"`
	Library  LibraryConfig  `koanf:"library"`
	Scorer   ScorerConfig   `koanf:"scorer"`
	Stats    StatsConfig    `koanf:"stats"`
	Server   ServerConfig   `koanf:"server"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig controls the DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// LibraryConfig controls the filesystem indexer and session watcher.
type LibraryConfig struct {
	// ReplayDirs are the directories swept for replay files.
	ReplayDirs []string `koanf:"replay_dirs"`

	// SweepInterval is the period between indexer sweeps.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// PruneMissing removes records whose replay file has disappeared.
	PruneMissing bool `koanf:"prune_missing"`

	// WatchEnabled turns on the fsnotify session watcher over ReplayDirs.
	WatchEnabled bool `koanf:"watch_enabled"`

	// QuietPeriod is how long a watched replay must stop growing before
	// the session is considered ended.
	QuietPeriod time.Duration `koanf:"quiet_period"`
}

// ScorerConfig controls the full-stats producer.
type ScorerConfig struct {
	// ResolutionRetryDelay is the wait before the single retry when a
	// session's replay file cannot be located on the first lookup.
	ResolutionRetryDelay time.Duration `koanf:"resolution_retry_delay"`
}

// StatsConfig tunes aggregation.
type StatsConfig struct {
	// ConversionGapFrames is the largest frame gap between hits that still
	// extends a punish sequence.
	ConversionGapFrames int `koanf:"conversion_gap_frames"`
}

// ServerConfig controls the HTTP read API.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// defaultConfig returns the built-in defaults, applied before the config
// file and environment layers.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			Path:      "/data/slipmetrics.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Library: LibraryConfig{
			ReplayDirs:    []string{},
			SweepInterval: 5 * time.Minute,
			PruneMissing:  true,
			WatchEnabled:  true,
			QuietPeriod:   5 * time.Second,
		},
		Scorer: ScorerConfig{
			ResolutionRetryDelay: 2 * time.Second,
		},
		Stats: StatsConfig{
			ConversionGapFrames: 45,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    3820,
			Timeout: 30 * time.Second,
		},
	}
}
