// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/slipmetrics/slipmetrics/internal/models"
	"github.com/slipmetrics/slipmetrics/internal/store"
)

func skeletonSubmission() Submission {
	return Submission{
		Producer: ProducerIndexer,
		Patch: models.MatchPatch{
			StageID:            models.Ptr(31),
			GameDurationFrames: models.Ptr(5400),
		},
	}
}

func fullSubmission() Submission {
	return Submission{
		Producer: ProducerScorer,
		Patch: models.MatchPatch{
			WinnerIndex: models.Ptr(0),
			LoserIndex:  models.Ptr(1),
			Complete:    true,
		},
		Players: []models.PlayerMatchStats{
			{PlayerIndex: 0, KillCount: 4, StocksRemaining: 2},
			{PlayerIndex: 1, DeathCount: 4},
		},
	}
}

// normalize clears the write timestamps so end states can be compared.
func normalize(rec *models.MatchRecord) models.MatchRecord {
	cp := *rec
	cp.CreatedAt = time.Time{}
	cp.UpdatedAt = time.Time{}
	return cp
}

func TestSubmitMergesBothProducers(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := New(s)

	if _, err := c.Submit(ctx, "r1", skeletonSubmission()); err != nil {
		t.Fatalf("indexer submit: %v", err)
	}
	if _, err := c.Submit(ctx, "r1", fullSubmission()); err != nil {
		t.Fatalf("scorer submit: %v", err)
	}

	rec, err := s.GetMatchRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.StageID == nil || *rec.StageID != 31 {
		t.Errorf("StageID = %v, want 31 (indexer's field survived)", rec.StageID)
	}
	if rec.WinnerIndex == nil || *rec.WinnerIndex != 0 {
		t.Errorf("WinnerIndex = %v, want 0 (scorer's field landed)", rec.WinnerIndex)
	}
	if rec.State != models.MatchStateComplete {
		t.Errorf("State = %q, want complete", rec.State)
	}
	if rows := s.PlayerStats("r1"); len(rows) != 2 {
		t.Errorf("player rows = %d, want 2", len(rows))
	}
}

func TestSubmitIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := New(s)

	first, err := c.Submit(ctx, "r1", fullSubmission())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := c.Submit(ctx, "r1", fullSubmission())
	if err != nil {
		t.Fatalf("repeat submit: %v", err)
	}

	if !reflect.DeepEqual(normalize(first), normalize(second)) {
		t.Errorf("repeated submit changed the record:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if rows := s.PlayerStats("r1"); len(rows) != 2 {
		t.Errorf("player rows = %d after repeat, want 2 (no accumulation)", len(rows))
	}
}

func TestSubmitCommutative(t *testing.T) {
	ctx := context.Background()

	run := func(order ...Submission) models.MatchRecord {
		s := store.NewMemoryStore()
		c := New(s)
		for _, sub := range order {
			if _, err := c.Submit(ctx, "r1", sub); err != nil {
				t.Fatalf("submit: %v", err)
			}
		}
		rec, err := s.GetMatchRecord(ctx, "r1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		return normalize(rec)
	}

	skeletonFirst := run(skeletonSubmission(), fullSubmission())
	fullFirst := run(fullSubmission(), skeletonSubmission())
	if !reflect.DeepEqual(skeletonFirst, fullFirst) {
		t.Errorf("order changed the end state:\nskeleton-first: %+v\nfull-first:     %+v",
			skeletonFirst, fullFirst)
	}
}

func TestSubmitConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := New(s)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := c.Submit(ctx, "r1", skeletonSubmission()); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := c.Submit(ctx, "r1", fullSubmission()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent submit error: %v", err)
	}

	rec, err := s.GetMatchRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.StageID == nil || rec.WinnerIndex == nil {
		t.Errorf("final record lost a producer's fields: %+v", rec)
	}
	if rec.State != models.MatchStateComplete {
		t.Errorf("State = %q, want complete", rec.State)
	}
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.FailNext(errors.New("Transaction conflict detected"))
	c := New(s, WithRetry(3, time.Microsecond))

	if _, err := c.Submit(ctx, "r1", skeletonSubmission()); err != nil {
		t.Fatalf("submit should survive one transient failure: %v", err)
	}
	if _, err := s.GetMatchRecord(ctx, "r1"); err != nil {
		t.Errorf("record missing after retried submit: %v", err)
	}
}

func TestSubmitSurfacesPersistenceError(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.FailNext(
		errors.New("Transaction conflict detected"),
		errors.New("Transaction conflict detected"),
		errors.New("Transaction conflict detected"),
	)
	c := New(s, WithRetry(3, time.Microsecond))

	_, err := c.Submit(ctx, "r1", skeletonSubmission())
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *PersistenceError", err)
	}
	if pe.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", pe.Attempts)
	}

	// State unchanged; a later submission for the same key still works.
	if _, err := c.Submit(ctx, "r1", fullSubmission()); err != nil {
		t.Fatalf("later submit blocked by earlier failure: %v", err)
	}
	rec, err := s.GetMatchRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != models.MatchStateComplete {
		t.Errorf("State = %q, want complete", rec.State)
	}
}

func TestSubmitFatalErrorNotRetried(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.FailNext(errors.New("no such table: matches"))
	c := New(s, WithRetry(3, time.Microsecond))

	_, err := c.Submit(ctx, "r1", skeletonSubmission())
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *PersistenceError", err)
	}
	if pe.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (fatal errors fail fast)", pe.Attempts)
	}
}

func TestSubmitFailedPlayerWriteNeverShowsComplete(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	// The field patch succeeds, then the first player row write fails
	// fatally, so the submission aborts before the Complete flag is applied.
	s.FailNext(nil, errors.New("no such table: player_stats"))
	c := New(s, WithRetry(3, time.Microsecond))

	_, err := c.Submit(ctx, "r1", fullSubmission())
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *PersistenceError", err)
	}

	rec, err := s.GetMatchRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != models.MatchStateSkeleton {
		t.Errorf("State = %q after failed player write, want skeleton", rec.State)
	}
	if rows := s.PlayerStats("r1"); len(rows) != 0 {
		t.Errorf("player rows = %d, want 0", len(rows))
	}

	// Resubmitting the whole payload heals the record.
	if _, err := c.Submit(ctx, "r1", fullSubmission()); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	rec, err = s.GetMatchRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("get after resubmit: %v", err)
	}
	if rec.State != models.MatchStateComplete {
		t.Errorf("State = %q after resubmit, want complete", rec.State)
	}
	if rows := s.PlayerStats("r1"); len(rows) != 2 {
		t.Errorf("player rows = %d after resubmit, want 2", len(rows))
	}
}

func TestSubmitDifferentKeysIndependent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := New(s)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		id := fmt.Sprintf("r%d", i)
		go func() {
			defer wg.Done()
			if _, err := c.Submit(ctx, id, skeletonSubmission()); err != nil {
				t.Errorf("submit %s: %v", id, err)
			}
		}()
	}
	wg.Wait()
	if s.MatchCount() != 8 {
		t.Errorf("MatchCount = %d, want 8", s.MatchCount())
	}
}

func TestSubmitRejectsEmptyKey(t *testing.T) {
	c := New(store.NewMemoryStore())
	if _, err := c.Submit(context.Background(), "", skeletonSubmission()); err == nil {
		t.Error("Submit with empty recording ID succeeded, want error")
	}
}
