// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package main is the entry point for the Slipmetrics server.
//
// Slipmetrics is a self-hosted statistics service for Super Smash Bros.
// Melee replay files (Slippi). It watches and sweeps replay directories,
// decodes each game, computes per-player match statistics, and serves them
// over a REST API backed by DuckDB.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 loading (defaults, YAML file, env)
//  2. Database: DuckDB match store
//  3. Coordinator: the serialized, retrying write path both producers share
//  4. Pipeline services: indexer sweep, session detector, scorer
//  5. HTTP server: REST API plus Prometheus metrics
//
// Everything long-lived runs under a suture supervision tree, so a crashing
// watcher or scorer restarts without taking down the API.
//
// # Configuration
//
// Environment variables use the SLIPMETRICS_ prefix, e.g.
//
//	export SLIPMETRICS_LIBRARY_REPLAY_DIRS=/replays
//	export SLIPMETRICS_DATABASE_PATH=/data/slipmetrics.duckdb
//	export SLIPMETRICS_LOGGING_LEVEL=debug
//	./slipmetrics
//
// A YAML config file is read from SLIPMETRICS_CONFIG or the default lookup
// paths; environment variables win over the file.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervision tree stops
// its services, the HTTP server drains in-flight requests, and the database
// is closed last.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/slipmetrics/slipmetrics/internal/api"
	"github.com/slipmetrics/slipmetrics/internal/config"
	"github.com/slipmetrics/slipmetrics/internal/coordinator"
	"github.com/slipmetrics/slipmetrics/internal/detector"
	"github.com/slipmetrics/slipmetrics/internal/indexer"
	"github.com/slipmetrics/slipmetrics/internal/logging"
	"github.com/slipmetrics/slipmetrics/internal/scorer"
	"github.com/slipmetrics/slipmetrics/internal/store"
	"github.com/slipmetrics/slipmetrics/internal/supervisor"
)

// sessionQueueDepth bounds how many ended sessions may wait for the scorer.
const sessionQueueDepth = 64

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Strs("replay_dirs", cfg.Library.ReplayDirs).
		Str("database", cfg.Database.Path).
		Msg("Starting Slipmetrics")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
	logging.Info().Msg("Shutdown complete")
}

func run(cfg *config.Config) error {
	db, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close database")
		}
	}()

	coord := coordinator.New(db)
	sessions := make(chan scorer.Session, sessionQueueDepth)

	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)

	tree.AddPipelineService(indexer.New(cfg.Library, coord, db))
	tree.AddPipelineService(scorer.New(cfg.Scorer, cfg.Library, cfg.Stats, coord, db, sessions))
	if cfg.Library.WatchEnabled {
		tree.AddPipelineService(detector.New(cfg.Library, sessions))
	} else {
		logging.Info().Msg("Session watcher disabled; only swept replays will be scored")
	}

	if cfg.Server.Enabled {
		handlers := api.NewHandlers(db, cfg.Stats.ConversionGapFrames)
		server := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           api.NewRouter(handlers, cfg.Server.Timeout),
			ReadHeaderTimeout: cfg.Server.Timeout,
		}
		tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.Timeout))
		logging.Info().Str("addr", server.Addr).Msg("HTTP API enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	return nil
}
