// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package indexer sweeps the configured replay directories and submits a
// skeleton record for every replay file it finds. It is the cheap producer:
// a lite decode per file, no frame data retained, so a library of thousands
// of replays becomes browsable long before the scorer has touched any of
// them. When pruning is enabled the sweep also removes records whose replay
// file has disappeared from disk.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/slipmetrics/slipmetrics/internal/config"
	"github.com/slipmetrics/slipmetrics/internal/coordinator"
	"github.com/slipmetrics/slipmetrics/internal/logging"
	"github.com/slipmetrics/slipmetrics/internal/metrics"
	"github.com/slipmetrics/slipmetrics/internal/models"
	"github.com/slipmetrics/slipmetrics/internal/replay"
	"github.com/slipmetrics/slipmetrics/internal/stats"
)

// replayExtension is the only file type the sweep considers.
const replayExtension = ".slp"

// Catalog is the read/delete surface the sweep needs beyond the coordinator's
// write path. Satisfied by *store.DB.
type Catalog interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (string, error)
	ListReplayPaths(ctx context.Context) (map[string]string, error)
	DeleteMatch(ctx context.Context, recordingID string) error
}

// SweepResult summarizes one pass over the library.
type SweepResult struct {
	Indexed int
	Skipped int
	Failed  int
	Pruned  int
}

// Indexer is the periodic skeleton producer. It implements suture.Service.
type Indexer struct {
	cfg     config.LibraryConfig
	coord   *coordinator.Coordinator
	catalog Catalog
}

// New returns an Indexer sweeping cfg.ReplayDirs every cfg.SweepInterval.
func New(cfg config.LibraryConfig, coord *coordinator.Coordinator, catalog Catalog) *Indexer {
	return &Indexer{cfg: cfg, coord: coord, catalog: catalog}
}

// String implements fmt.Stringer for supervisor logging.
func (ix *Indexer) String() string {
	return "indexer"
}

// Serve implements suture.Service: one sweep immediately, then one per
// interval until the context is canceled. Sweep errors are logged, never
// returned, so a bad directory does not crash-loop the service.
func (ix *Indexer) Serve(ctx context.Context) error {
	ix.sweepAndLog(ctx)

	ticker := time.NewTicker(ix.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ix.sweepAndLog(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (ix *Indexer) sweepAndLog(ctx context.Context) {
	res, err := ix.Sweep(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Library sweep failed")
		return
	}
	logging.Info().
		Int("indexed", res.Indexed).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Int("pruned", res.Pruned).
		Msg("Library sweep complete")
}

// Sweep walks every configured replay directory once. Each file is handled
// in isolation: a file that fails to read, decode, or submit is logged and
// counted, and the sweep moves on.
func (ix *Indexer) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(start)) }()

	var res SweepResult

	stored, err := ix.catalog.ListReplayPaths(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list stored replay paths: %w", err)
	}

	seen := make(map[string]bool)
	for _, dir := range ix.cfg.ReplayDirs {
		if err := ix.sweepDir(ctx, dir, stored, seen, &res); err != nil {
			logging.Warn().Err(err).Str("dir", dir).Msg("Replay directory unreadable")
		}
	}

	if ix.cfg.PruneMissing {
		pruned, err := ix.prune(ctx, stored, seen)
		if err != nil {
			logging.Error().Err(err).Msg("Prune pass failed")
		}
		res.Pruned = pruned
	}
	return res, nil
}

func (ix *Indexer) sweepDir(ctx context.Context, dir string, stored map[string]string, seen map[string]bool, res *SweepResult) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), replayExtension) {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			abs = filepath.Clean(path)
		}
		seen[abs] = true

		switch outcome := ix.indexFile(ctx, abs, stored); outcome {
		case "indexed":
			res.Indexed++
		case "skipped":
			res.Skipped++
		default:
			res.Failed++
		}
		return nil
	})
}

// indexFile handles one replay file and returns the metrics result label.
func (ix *Indexer) indexFile(ctx context.Context, path string, stored map[string]string) string {
	info, err := os.Stat(path)
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Replay file unreadable")
		metrics.IncSweepFile("decode_error")
		return "decode_error"
	}

	fp := fingerprint(path, info)
	existing, err := ix.catalog.FindByFingerprint(ctx, fp)
	if err != nil {
		logging.Error().Err(err).Str("path", path).Msg("Fingerprint lookup failed")
		metrics.IncSweepFile("submit_error")
		return "submit_error"
	}
	if existing != "" {
		metrics.IncSweepFile("skipped")
		return "skipped"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Replay file unreadable")
		metrics.IncSweepFile("decode_error")
		return "decode_error"
	}

	decodeStart := time.Now()
	game, err := replay.DecodeLite(data)
	metrics.ObserveDecode("lite", err, time.Since(decodeStart))
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Replay failed to decode")
		metrics.IncSweepFile("decode_error")
		return "decode_error"
	}

	// A record already holding this path (e.g. created by the scorer for a
	// live session) keeps its recording ID; otherwise the ID is derived from
	// the path so re-sweeps stay idempotent.
	recordingID, ok := stored[path]
	if !ok {
		recordingID = PathRecordingID(path)
	}

	patch := skeletonPatch(game, path, fp)
	if _, err := ix.coord.Submit(ctx, recordingID, coordinator.Submission{
		Producer: coordinator.ProducerIndexer,
		Patch:    patch,
	}); err != nil {
		metrics.IncSweepFile("submit_error")
		return "submit_error"
	}
	metrics.IncSweepFile("indexed")
	return "indexed"
}

// skeletonPatch extracts the coarse metadata a lite decode provides,
// including the match outcome when the end event or final stocks resolve it.
func skeletonPatch(game *replay.Game, path, fp string) models.MatchPatch {
	patch := models.MatchPatch{
		StageID:     models.Ptr(game.Settings.StageID),
		TotalFrames: models.Ptr(game.TotalFrames),
		IsPAL:       models.Ptr(game.Settings.IsPAL),
		ReplayPath:  models.Ptr(path),
		Fingerprint: models.Ptr(fp),
	}

	if game.End != nil {
		patch.GameEndMethod = models.Ptr(game.End.Method)
	}
	patch.WinnerIndex, patch.LoserIndex = stats.ResolveOutcome(game)

	// Duration counts frames from Go!, not the pre-game countdown.
	lastFrame := -1
	for _, post := range game.FinalPosts {
		if post != nil && post.Frame > lastFrame {
			lastFrame = post.Frame
		}
	}
	if lastFrame >= 0 {
		patch.GameDurationFrames = models.Ptr(lastFrame + 1)
	}

	if game.Settings.MatchID != "" {
		patch.MatchID = models.Ptr(game.Settings.MatchID)
		patch.GameNumber = models.Ptr(game.Settings.GameNumber)
	}
	if game.Meta.PlayedOn != "" {
		patch.PlayedOn = models.Ptr(game.Meta.PlayedOn)
	}
	if game.Meta.StartAt != "" {
		if t, err := time.Parse(time.RFC3339, game.Meta.StartAt); err == nil {
			patch.StartedAt = models.Ptr(t.UTC())
		}
	}
	return patch
}

// prune deletes records whose replay file no longer exists on disk. Records
// without a stored path (live sessions not yet swept) are untouched.
func (ix *Indexer) prune(ctx context.Context, stored map[string]string, seen map[string]bool) (int, error) {
	pruned := 0
	for path, recordingID := range stored {
		if seen[path] {
			continue
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			continue
		}
		if err := ix.catalog.DeleteMatch(ctx, recordingID); err != nil {
			logging.Error().Err(err).
				Str("recording_id", recordingID).
				Str("path", path).
				Msg("Failed to prune missing replay")
			continue
		}
		metrics.PrunedRecordsTotal.Inc()
		logging.Info().
			Str("recording_id", recordingID).
			Str("path", path).
			Msg("Pruned record for missing replay")
		pruned++
	}
	return pruned, nil
}

// PathRecordingID derives a stable recording ID from a replay's absolute
// path. Historically imported files get the same ID on every sweep, so the
// indexer and scorer converge on one record per match.
func PathRecordingID(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return "file-" + hex.EncodeToString(sum[:16])
}

// fingerprint identifies one on-disk version of a replay file. A file that
// grows or is rewritten gets a new fingerprint and is re-indexed.
func fingerprint(path string, info os.FileInfo) string {
	h := sha256.New()
	h.Write([]byte(filepath.Clean(path)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(info.Size(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}
