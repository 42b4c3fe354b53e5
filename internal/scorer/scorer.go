// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package scorer is the expensive producer. For every ended recording
// session it locates the session's replay file, runs a full decode and
// aggregation, and submits the complete statistical breakdown. A session
// whose replay cannot be located after one delayed retry is recorded as a
// permanent skeleton, so the match still appears with statistics absent.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slipmetrics/slipmetrics/internal/config"
	"github.com/slipmetrics/slipmetrics/internal/coordinator"
	"github.com/slipmetrics/slipmetrics/internal/indexer"
	"github.com/slipmetrics/slipmetrics/internal/logging"
	"github.com/slipmetrics/slipmetrics/internal/metrics"
	"github.com/slipmetrics/slipmetrics/internal/models"
	"github.com/slipmetrics/slipmetrics/internal/replay"
	"github.com/slipmetrics/slipmetrics/internal/stats"
	"github.com/slipmetrics/slipmetrics/internal/store"
)

// Session describes one ended recording session awaiting scoring.
type Session struct {
	// ReplayPathHint is the replay file the session watcher believes was
	// written, possibly empty when only the video side is known.
	ReplayPathHint string

	// VideoPath is the recorded video for the session, if any.
	VideoPath string
}

// ResolutionError means no replay file could be matched to a session after
// the retry. The session's record stays a skeleton forever.
type ResolutionError struct {
	Hint string
}

func (e *ResolutionError) Error() string {
	if e.Hint == "" {
		return "no replay file could be resolved for session"
	}
	return fmt.Sprintf("no replay file could be resolved for session (hint %q)", e.Hint)
}

// Scorer consumes ended sessions and produces full match statistics. It
// implements suture.Service.
type Scorer struct {
	cfg      config.ScorerConfig
	library  config.LibraryConfig
	gap      int
	coord    *coordinator.Coordinator
	records  store.MatchStore
	sessions <-chan Session
}

// New returns a Scorer draining sessions from the given channel.
func New(cfg config.ScorerConfig, library config.LibraryConfig, statsCfg config.StatsConfig,
	coord *coordinator.Coordinator, records store.MatchStore, sessions <-chan Session) *Scorer {
	return &Scorer{
		cfg:      cfg,
		library:  library,
		gap:      statsCfg.ConversionGapFrames,
		coord:    coord,
		records:  records,
		sessions: sessions,
	}
}

// String implements fmt.Stringer for supervisor logging.
func (sc *Scorer) String() string {
	return "scorer"
}

// Serve implements suture.Service: drain sessions until the context is
// canceled. Per-session failures are logged and never crash the service.
func (sc *Scorer) Serve(ctx context.Context) error {
	for {
		select {
		case sess, ok := <-sc.sessions:
			if !ok {
				return nil
			}
			if err := sc.Score(ctx, sess); err != nil {
				logging.Error().Err(err).
					Str("replay_hint", sess.ReplayPathHint).
					Str("video_path", sess.VideoPath).
					Msg("Session scoring failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Score resolves, decodes, aggregates, and submits one session. When no
// replay can be resolved the session is still recorded as a skeleton, so
// the match shows up with its statistics visibly absent.
func (sc *Scorer) Score(ctx context.Context, sess Session) error {
	path, err := sc.resolve(ctx, sess)
	if err != nil {
		metrics.ResolutionFailures.Inc()
		if IsResolutionError(err) {
			sc.recordUnresolved(ctx, sess)
		}
		return err
	}
	if err := sc.ScoreFile(ctx, path, sess.VideoPath); err != nil {
		return err
	}
	metrics.SessionsScored.Inc()
	return nil
}

// ScoreFile runs the full pipeline for one replay file. VideoPath may be
// empty when scoring a historically imported file.
func (sc *Scorer) ScoreFile(ctx context.Context, path, videoPath string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read replay %s: %w", path, err)
	}

	decodeStart := time.Now()
	game, err := replay.Decode(data)
	metrics.ObserveDecode("full", err, time.Since(decodeStart))
	if err != nil {
		return fmt.Errorf("failed to decode replay %s: %w", path, err)
	}

	result := stats.Compute(game, sc.gap)
	recordingID := sc.recordingIDFor(ctx, path)

	patch := fullPatch(game, result, path, videoPath)
	players := make([]models.PlayerMatchStats, len(result.Players))
	copy(players, result.Players)
	for i := range players {
		players[i].RecordingID = recordingID
	}

	if _, err := sc.coord.Submit(ctx, recordingID, coordinator.Submission{
		Producer: coordinator.ProducerScorer,
		Patch:    patch,
		Players:  players,
	}); err != nil {
		return err
	}

	logging.Info().
		Str("recording_id", recordingID).
		Str("path", path).
		Int("players", len(players)).
		Msg("Session scored")
	return nil
}

// fullPatch assembles the complete-producer view of the match.
func fullPatch(game *replay.Game, result *stats.MatchStats, path, videoPath string) models.MatchPatch {
	patch := models.MatchPatch{
		StageID:       models.Ptr(game.Settings.StageID),
		TotalFrames:   models.Ptr(game.TotalFrames),
		IsPAL:         models.Ptr(game.Settings.IsPAL),
		WinnerIndex:   result.WinnerIndex,
		LoserIndex:    result.LoserIndex,
		GameEndMethod: result.GameEndMethod,
		ReplayPath:    models.Ptr(path),
		Complete:      true,
	}
	if videoPath != "" {
		patch.VideoPath = models.Ptr(videoPath)
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

	lastFrame := -1
	for _, post := range game.FinalPosts {
		if post != nil && post.Frame > lastFrame {
			lastFrame = post.Frame
		}
	}
	if lastFrame >= 0 {
		patch.GameDurationFrames = models.Ptr(lastFrame + 1)
	}
	return patch
}

// recordUnresolved persists an unresolvable session as a skeleton record
// under a fresh ID. The video, if any, stays reachable even though no
// statistics will ever land.
func (sc *Scorer) recordUnresolved(ctx context.Context, sess Session) {
	recordingID := uuid.NewString()
	patch := models.MatchPatch{}
	if sess.VideoPath != "" {
		patch.VideoPath = models.Ptr(sess.VideoPath)
	}
	if _, err := sc.coord.Submit(ctx, recordingID, coordinator.Submission{
		Producer: coordinator.ProducerScorer,
		Patch:    patch,
	}); err != nil {
		logging.Error().Err(err).
			Str("recording_id", recordingID).
			Msg("Failed to record unresolved session")
		return
	}
	logging.Warn().
		Str("recording_id", recordingID).
		Str("video_path", sess.VideoPath).
		Msg("Session recorded without statistics")
}

// recordingIDFor reuses the indexer's path-derived ID when that record
// already exists, so both producers converge on one row. A fresh session
// gets a UUID.
func (sc *Scorer) recordingIDFor(ctx context.Context, path string) string {
	pathID := indexer.PathRecordingID(path)
	if _, err := sc.records.GetMatchRecord(ctx, pathID); err == nil {
		return pathID
	}
	return uuid.NewString()
}

// resolve locates the session's replay file: the hint when it exists,
// otherwise the newest replay in the library. One delayed retry covers the
// recorder still flushing the file when the session-end signal arrives.
func (sc *Scorer) resolve(ctx context.Context, sess Session) (string, error) {
	for attempt := 0; ; attempt++ {
		if path, ok := sc.tryResolve(sess); ok {
			return path, nil
		}
		if attempt >= 1 {
			return "", &ResolutionError{Hint: sess.ReplayPathHint}
		}
		select {
		case <-time.After(sc.cfg.ResolutionRetryDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (sc *Scorer) tryResolve(sess Session) (string, bool) {
	if sess.ReplayPathHint != "" {
		if abs, err := filepath.Abs(sess.ReplayPathHint); err == nil {
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				return abs, true
			}
		}
	}
	if path := sc.newestReplay(); path != "" {
		return path, true
	}
	return "", false
}

// newestReplay returns the most recently modified replay file across the
// configured directories, or "".
func (sc *Scorer) newestReplay() string {
	var (
		newest     string
		newestTime time.Time
	)
	for _, dir := range sc.library.ReplayDirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".slp") {
				return nil //nolint:nilerr // unreadable entries are skipped
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.ModTime().After(newestTime) {
				if abs, err := filepath.Abs(path); err == nil {
					newest = abs
					newestTime = info.ModTime()
				}
			}
			return nil
		})
	}
	return newest
}

// IsResolutionError reports whether err is a session-resolution failure.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
