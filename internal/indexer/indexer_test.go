// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slipmetrics/slipmetrics/internal/config"
	"github.com/slipmetrics/slipmetrics/internal/coordinator"
	"github.com/slipmetrics/slipmetrics/internal/models"
	"github.com/slipmetrics/slipmetrics/internal/replay/replaytest"
	"github.com/slipmetrics/slipmetrics/internal/store"
)

func newTestEnv(t *testing.T) (*Indexer, *store.DB, string) {
	t.Helper()
	db, err := store.New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "256MB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("store.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	replayDir := t.TempDir()
	ix := New(config.LibraryConfig{
		ReplayDirs:    []string{replayDir},
		SweepInterval: time.Minute,
		PruneMissing:  true,
	}, coordinator.New(db), db)
	return ix, db, replayDir
}

func writeReplay(t *testing.T, dir, name string) string {
	t.Helper()
	data := replaytest.NewBuilder().
		WithStage(31).
		WithMetadata("2026-01-15T04:00:00Z", "dolphin").
		AddIdleFrames(-123, 300, map[int]replaytest.FrameState{
			0: {ActionState: 14, Stocks: 4},
			1: {ActionState: 14, Stocks: 4},
		}).
		End(models.GameEndStocks, -1, [4]int{0, 1, -1, -1}).
		Build()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write replay: %v", err)
	}
	return path
}

func TestSweepIndexesNewReplays(t *testing.T) {
	ctx := context.Background()
	ix, db, dir := newTestEnv(t)

	path := writeReplay(t, dir, "game1.slp")
	writeReplay(t, dir, "game2.slp")

	res, err := ix.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if res.Indexed != 2 {
		t.Errorf("Indexed = %d, want 2", res.Indexed)
	}

	abs, _ := filepath.Abs(path)
	rec, err := db.GetMatchRecord(ctx, PathRecordingID(abs))
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.State != models.MatchStateSkeleton {
		t.Errorf("State = %q, want skeleton", rec.State)
	}
	if rec.StageID == nil || *rec.StageID != 31 {
		t.Errorf("StageID = %v, want 31", rec.StageID)
	}
	if rec.GameDurationFrames == nil || *rec.GameDurationFrames != 177 {
		t.Errorf("GameDurationFrames = %v, want 177 (frames from Go!)", rec.GameDurationFrames)
	}
	if rec.TotalFrames == nil || *rec.TotalFrames != 300 {
		t.Errorf("TotalFrames = %v, want 300", rec.TotalFrames)
	}
	if rec.PlayedOn == nil || *rec.PlayedOn != "dolphin" {
		t.Errorf("PlayedOn = %v, want dolphin", rec.PlayedOn)
	}
	if rec.StartedAt == nil || !rec.StartedAt.Equal(time.Date(2026, 1, 15, 4, 0, 0, 0, time.UTC)) {
		t.Errorf("StartedAt = %v, want 2026-01-15T04:00:00Z", rec.StartedAt)
	}
	if rec.ReplayPath == nil || *rec.ReplayPath != abs {
		t.Errorf("ReplayPath = %v, want %s", rec.ReplayPath, abs)
	}
}

func TestSweepSkeletonCarriesOutcome(t *testing.T) {
	ctx := context.Background()
	ix, db, dir := newTestEnv(t)

	path := writeReplay(t, dir, "game1.slp")
	if _, err := ix.Sweep(ctx); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	abs, _ := filepath.Abs(path)
	rec, err := db.GetMatchRecord(ctx, PathRecordingID(abs))
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.GameEndMethod == nil || *rec.GameEndMethod != models.GameEndStocks {
		t.Errorf("GameEndMethod = %v, want %d", rec.GameEndMethod, models.GameEndStocks)
	}
	if rec.WinnerIndex == nil || *rec.WinnerIndex != 0 {
		t.Errorf("WinnerIndex = %v, want 0 (placements resolve without frame data)", rec.WinnerIndex)
	}
	if rec.LoserIndex == nil || *rec.LoserIndex != 1 {
		t.Errorf("LoserIndex = %v, want 1", rec.LoserIndex)
	}
	if rec.State != models.MatchStateSkeleton {
		t.Errorf("State = %q, want skeleton (outcome alone is not completeness)", rec.State)
	}
}

func TestSweepSkipsAlreadyIndexed(t *testing.T) {
	ctx := context.Background()
	ix, _, dir := newTestEnv(t)
	writeReplay(t, dir, "game1.slp")

	if _, err := ix.Sweep(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	res, err := ix.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Indexed != 0 || res.Skipped != 1 {
		t.Errorf("second sweep = %+v, want 0 indexed / 1 skipped", res)
	}
}

func TestSweepIsolatesCorruptFiles(t *testing.T) {
	ctx := context.Background()
	ix, db, dir := newTestEnv(t)

	writeReplay(t, dir, "good.slp")
	if err := os.WriteFile(filepath.Join(dir, "corrupt.slp"), []byte("not a replay"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	res, err := ix.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if res.Indexed != 1 {
		t.Errorf("Indexed = %d, want 1 (good file still lands)", res.Indexed)
	}
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}

	recs, err := db.ListMatches(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("stored records = %d, want 1 (corrupt file never persisted)", len(recs))
	}
}

func TestSweepIgnoresOtherExtensions(t *testing.T) {
	ctx := context.Background()
	ix, _, dir := newTestEnv(t)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	res, err := ix.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if res.Indexed != 0 || res.Failed != 0 {
		t.Errorf("result = %+v, want nothing touched", res)
	}
}

func TestSweepPrunesMissingReplays(t *testing.T) {
	ctx := context.Background()
	ix, db, dir := newTestEnv(t)

	path := writeReplay(t, dir, "game1.slp")
	if _, err := ix.Sweep(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove replay: %v", err)
	}

	res, err := ix.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Pruned != 1 {
		t.Errorf("Pruned = %d, want 1", res.Pruned)
	}

	abs, _ := filepath.Abs(path)
	if _, err := db.GetMatchRecord(ctx, PathRecordingID(abs)); err == nil {
		t.Error("record still present after prune")
	}
}

func TestSweepReusesRecordingIDFromStoredPath(t *testing.T) {
	ctx := context.Background()
	ix, db, dir := newTestEnv(t)

	// A live session already created a record pointing at this file.
	path := writeReplay(t, dir, "session.slp")
	abs, _ := filepath.Abs(path)
	if _, err := db.CreateOrMergeMatchRecord(ctx, "session-uuid", models.MatchPatch{
		ReplayPath: models.Ptr(abs),
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	if _, err := ix.Sweep(ctx); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	rec, err := db.GetMatchRecord(ctx, "session-uuid")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.StageID == nil {
		t.Error("sweep did not merge into the existing session record")
	}
	if _, err := db.GetMatchRecord(ctx, PathRecordingID(abs)); err == nil {
		t.Error("sweep created a duplicate record under the path-derived ID")
	}
}

func TestPathRecordingIDIsStable(t *testing.T) {
	a := PathRecordingID("/replays/game1.slp")
	b := PathRecordingID("/replays/game1.slp")
	if a != b {
		t.Errorf("PathRecordingID not stable: %q vs %q", a, b)
	}
	if a == PathRecordingID("/replays/game2.slp") {
		t.Error("distinct paths collided")
	}
}
