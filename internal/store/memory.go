// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package store

import (
	"context"
	"sync"
	"time"

	"github.com/slipmetrics/slipmetrics/internal/models"
)

// MemoryStore is an in-memory MatchStore used by tests and by the
// coordinator's unit tests in particular. FailNext injects one error per
// queued entry, which is how the retry paths are exercised.
type MemoryStore struct {
	mu      sync.Mutex
	matches map[string]*models.MatchRecord
	players map[string]map[int]models.PlayerMatchStats

	failQueue []error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches: make(map[string]*models.MatchRecord),
		players: make(map[string]map[int]models.PlayerMatchStats),
	}
}

// FailNext queues errors to be returned by the next mutating calls, in
// order, before any state changes.
func (s *MemoryStore) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failQueue = append(s.failQueue, errs...)
}

func (s *MemoryStore) popFailure() error {
	if len(s.failQueue) == 0 {
		return nil
	}
	err := s.failQueue[0]
	s.failQueue = s.failQueue[1:]
	return err
}

func (s *MemoryStore) GetMatchRecord(_ context.Context, recordingID string) (*models.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.matches[recordingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) CreateOrMergeMatchRecord(_ context.Context, recordingID string, patch models.MatchPatch) (*models.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec, ok := s.matches[recordingID]
	if !ok {
		rec = newRecord(recordingID, patch, now)
		s.matches[recordingID] = rec
	} else {
		mergeRecord(rec, patch, now)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ReplacePlayerStats(_ context.Context, recordingID string, stats models.PlayerMatchStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return err
	}

	rows, ok := s.players[recordingID]
	if !ok {
		rows = make(map[int]models.PlayerMatchStats)
		s.players[recordingID] = rows
	}
	stats.RecordingID = recordingID
	rows[stats.PlayerIndex] = stats
	return nil
}

// PlayerStats returns the stored rows for a recording, ordered by player
// index.
func (s *MemoryStore) PlayerStats(recordingID string) []models.PlayerMatchStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.players[recordingID]
	out := make([]models.PlayerMatchStats, 0, len(rows))
	for i := 0; i < 8; i++ {
		if r, ok := rows[i]; ok {
			out = append(out, r)
		}
	}
	return out
}

// RecordingIDs returns every stored recording ID, for tests that need to
// enumerate records regardless of how their IDs were derived.
func (s *MemoryStore) RecordingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.matches))
	for id := range s.matches {
		out = append(out, id)
	}
	return out
}

// MatchCount reports how many records exist, for sweep tests.
func (s *MemoryStore) MatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matches)
}
