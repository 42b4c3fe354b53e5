// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package detector watches the replay directories for files being written
// and signals the scorer when a session ends. A replay is considered done
// once it has stopped growing for the configured quiet period; Slippi
// appends frames for the whole game, so silence means the game is over.
package detector

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/slipmetrics/slipmetrics/internal/config"
	"github.com/slipmetrics/slipmetrics/internal/logging"
	"github.com/slipmetrics/slipmetrics/internal/scorer"
)

// Detector turns filesystem write activity into session-end signals. It
// implements suture.Service.
type Detector struct {
	cfg      config.LibraryConfig
	sessions chan<- scorer.Session
}

// New returns a Detector emitting ended sessions on the given channel.
func New(cfg config.LibraryConfig, sessions chan<- scorer.Session) *Detector {
	return &Detector{cfg: cfg, sessions: sessions}
}

// String implements fmt.Stringer for supervisor logging.
func (d *Detector) String() string {
	return "detector"
}

// Serve implements suture.Service. It watches every replay directory
// recursively, tracks the last write per replay file, and emits a session
// once a file has been quiet for cfg.QuietPeriod.
func (d *Detector) Serve(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range d.cfg.ReplayDirs {
		if err := watchRecursive(watcher, dir); err != nil {
			logging.Warn().Err(err).Str("dir", dir).Msg("Replay directory not watchable")
		}
	}

	// lastWrite tracks in-progress replay files by absolute path.
	lastWrite := make(map[string]time.Time)

	tick := d.cfg.QuietPeriod / 2
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			d.handleEvent(watcher, ev, lastWrite)

		case <-ticker.C:
			d.flushQuiet(ctx, lastWrite)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn().Err(err).Msg("Filesystem watcher error")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Detector) handleEvent(watcher *fsnotify.Watcher, ev fsnotify.Event, lastWrite map[string]time.Time) {
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = filepath.Clean(ev.Name)
	}

	// New subdirectories join the watch so nested replay folders work.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			if err := watchRecursive(watcher, abs); err != nil {
				logging.Warn().Err(err).Str("dir", abs).Msg("New directory not watchable")
			}
			return
		}
	}

	if !strings.EqualFold(filepath.Ext(abs), ".slp") {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		lastWrite[abs] = time.Now()
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		delete(lastWrite, abs)
	}
}

// flushQuiet emits a session for every tracked file whose last write is
// older than the quiet period.
func (d *Detector) flushQuiet(ctx context.Context, lastWrite map[string]time.Time) {
	cutoff := time.Now().Add(-d.cfg.QuietPeriod)
	for path, at := range lastWrite {
		if at.After(cutoff) {
			continue
		}
		delete(lastWrite, path)
		logging.Info().Str("path", path).Msg("Replay session ended")
		select {
		case d.sessions <- scorer.Session{ReplayPathHint: path}:
		case <-ctx.Done():
			return
		}
	}
}

// watchRecursive adds dir and every subdirectory to the watcher.
func watchRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}
