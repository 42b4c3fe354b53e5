// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package config

import "fmt"

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateLogging,
		c.validateDatabase,
		c.validateLibrary,
		c.validateStats,
		c.validateServer,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("database.threads must be >= 0, got %d", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateLibrary() error {
	if c.Library.SweepInterval <= 0 {
		return fmt.Errorf("library.sweep_interval must be positive, got %s", c.Library.SweepInterval)
	}
	if c.Library.QuietPeriod <= 0 {
		return fmt.Errorf("library.quiet_period must be positive, got %s", c.Library.QuietPeriod)
	}
	return nil
}

func (c *Config) validateStats() error {
	if c.Stats.ConversionGapFrames <= 0 {
		return fmt.Errorf("stats.conversion_gap_frames must be positive, got %d", c.Stats.ConversionGapFrames)
	}
	return nil
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	return nil
}
