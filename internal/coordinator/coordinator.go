// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package coordinator owns the write path to the shared per-match record.
// Two independent producers call Submit for the same recording ID, in any
// order and possibly concurrently: the indexer with a skeleton payload and
// the scorer with the full breakdown. Submit is idempotent and commutative,
// so the final record is the union of both producers' fields regardless of
// arrival order.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slipmetrics/slipmetrics/internal/logging"
	"github.com/slipmetrics/slipmetrics/internal/metrics"
	"github.com/slipmetrics/slipmetrics/internal/models"
	"github.com/slipmetrics/slipmetrics/internal/store"
)

// Producer identifies which writer a submission came from, for logs and
// metrics only; the merge rules do not depend on it.
type Producer string

const (
	ProducerIndexer Producer = "indexer"
	ProducerScorer  Producer = "scorer"
)

// Submission is one producer's knowledge of a match. Players is empty for
// skeleton submissions; the patch's Complete flag marks a full payload.
type Submission struct {
	Producer Producer
	Patch    models.MatchPatch
	Players  []models.PlayerMatchStats
}

// PersistenceError wraps a store failure that survived the bounded retry
// loop. The record is never left complete without its player rows, so the
// caller may retry the whole submission later.
type PersistenceError struct {
	RecordingID string
	Attempts    int
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed for %s after %d attempts: %v", e.RecordingID, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Coordinator serializes writes per recording ID and retries transient
// store failures with exponential backoff.
type Coordinator struct {
	store store.MatchStore

	// Per-key write locks, keyed by recording ID. The read-then-write unit
	// inside the store call must never interleave for the same key.
	keyLocks sync.Map

	maxRetries int
	baseDelay  time.Duration
}

// Option tunes a Coordinator.
type Option func(*Coordinator)

// WithRetry overrides the retry budget and initial backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Coordinator) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

// New returns a Coordinator writing through the given store.
func New(s store.MatchStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      s,
		maxRetries: 3,
		baseDelay:  time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit applies one producer's payload for a recording ID. It locks the
// key, upserts the match record, and, for full payloads, replaces each
// player's row wholesale. Transient store errors are retried with backoff
// a bounded number of times before a *PersistenceError surfaces; a failed
// submission leaves state unchanged and never blocks a later submission
// for the same key.
func (c *Coordinator) Submit(ctx context.Context, recordingID string, sub Submission) (*models.MatchRecord, error) {
	if recordingID == "" {
		return nil, fmt.Errorf("recording ID must not be empty")
	}

	mu := c.acquireKeyLock(recordingID)
	defer mu.Unlock()

	start := time.Now()
	rec, err := c.submitLocked(ctx, recordingID, sub)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveSubmit(string(sub.Producer), outcome, time.Since(start))

	if err != nil {
		logging.Error().Err(err).
			Str("recording_id", recordingID).
			Str("producer", string(sub.Producer)).
			Msg("Submission failed")
		return nil, err
	}

	logging.Debug().
		Str("recording_id", recordingID).
		Str("producer", string(sub.Producer)).
		Str("state", string(rec.State)).
		Msg("Submission applied")
	return rec, nil
}

// submitLocked applies the patch fields, then the player rows, and only then
// the Complete flag. A record must never be observable as complete without
// its player rows, so the flag is withheld until every row has landed.
func (c *Coordinator) submitLocked(ctx context.Context, recordingID string, sub Submission) (*models.MatchRecord, error) {
	fields := sub.Patch
	fields.Complete = false
	rec, err := c.withRetry(ctx, recordingID, func() (*models.MatchRecord, error) {
		return c.store.CreateOrMergeMatchRecord(ctx, recordingID, fields)
	})
	if err != nil {
		return nil, err
	}

	for i := range sub.Players {
		p := sub.Players[i]
		_, err := c.withRetry(ctx, recordingID, func() (*models.MatchRecord, error) {
			return nil, c.store.ReplacePlayerStats(ctx, recordingID, p)
		})
		if err != nil {
			return nil, err
		}
	}

	if sub.Patch.Complete {
		rec, err = c.withRetry(ctx, recordingID, func() (*models.MatchRecord, error) {
			return c.store.CreateOrMergeMatchRecord(ctx, recordingID, models.MatchPatch{Complete: true})
		})
		if err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// withRetry runs op, retrying transient failures with exponential backoff
// (baseDelay, 2x per attempt). Non-transient errors fail immediately.
func (c *Coordinator) withRetry(ctx context.Context, recordingID string, op func() (*models.MatchRecord, error)) (*models.MatchRecord, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		rec, err := op()
		if err == nil {
			return rec, nil
		}
		lastErr = err

		if !store.IsTransient(err) {
			return nil, &PersistenceError{RecordingID: recordingID, Attempts: attempt + 1, Err: err}
		}
		metrics.IncSubmitRetry()

		if attempt < c.maxRetries-1 {
			backoff := c.baseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &PersistenceError{RecordingID: recordingID, Attempts: attempt + 1, Err: ctx.Err()}
			}
		}
	}
	return nil, &PersistenceError{RecordingID: recordingID, Attempts: c.maxRetries, Err: lastErr}
}

// acquireKeyLock returns the locked per-key mutex. Lock values are shared
// through a sync.Map so concurrent submitters for the same key serialize
// while different keys proceed independently.
func (c *Coordinator) acquireKeyLock(recordingID string) *sync.Mutex {
	muAny, _ := c.keyLocks.LoadOrStore(recordingID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu
}
