// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package store persists match records and per-player statistics. The
// MatchStore interface is the persistence gateway the coordinator writes
// through; each method is one atomic unit of work against the backing
// database.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/slipmetrics/slipmetrics/internal/models"
)

// ErrNotFound is returned when no match record exists for a recording ID.
var ErrNotFound = errors.New("match record not found")

// MatchStore is the persistence gateway. CreateOrMergeMatchRecord is a
// single atomic upsert: the create-vs-update decision must never be an
// if/else in the caller, or the check-then-act itself races.
type MatchStore interface {
	// GetMatchRecord returns the record for a recording ID, or ErrNotFound.
	GetMatchRecord(ctx context.Context, recordingID string) (*models.MatchRecord, error)

	// CreateOrMergeMatchRecord creates the record if absent, otherwise
	// merges the patch field by field: an omitted (nil) field leaves the
	// stored value untouched, and a stored non-null value is never replaced
	// with null unless the patch is a deliberate recompute.
	CreateOrMergeMatchRecord(ctx context.Context, recordingID string, patch models.MatchPatch) (*models.MatchRecord, error)

	// ReplacePlayerStats upserts one player's row, replacing it wholesale so
	// recomputes never accumulate.
	ReplacePlayerStats(ctx context.Context, recordingID string, stats models.PlayerMatchStats) error
}

// IsTransient reports whether a store error is worth retrying: transaction
// conflicts and lock contention heal on their own, everything else does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Transaction conflict") ||
		strings.Contains(s, "Conflict on update") ||
		strings.Contains(s, "database is locked") ||
		strings.Contains(s, "could not set lock")
}

// mergeRecord applies patch to dst under the merge rules. Shared by the
// in-memory store; the DuckDB store expresses the same rules in SQL.
func mergeRecord(dst *models.MatchRecord, patch models.MatchPatch, now time.Time) {
	merge := func(dstField **int, src *int) {
		if src != nil || patch.Recompute {
			*dstField = src
		}
	}
	mergeStr := func(dstField **string, src *string) {
		if src != nil || patch.Recompute {
			*dstField = src
		}
	}

	merge(&dst.StageID, patch.StageID)
	merge(&dst.GameDurationFrames, patch.GameDurationFrames)
	merge(&dst.TotalFrames, patch.TotalFrames)
	merge(&dst.GameNumber, patch.GameNumber)
	merge(&dst.WinnerIndex, patch.WinnerIndex)
	merge(&dst.LoserIndex, patch.LoserIndex)
	merge(&dst.GameEndMethod, patch.GameEndMethod)
	mergeStr(&dst.PlayedOn, patch.PlayedOn)
	mergeStr(&dst.MatchID, patch.MatchID)
	mergeStr(&dst.ReplayPath, patch.ReplayPath)
	mergeStr(&dst.VideoPath, patch.VideoPath)
	mergeStr(&dst.Fingerprint, patch.Fingerprint)
	if patch.IsPAL != nil || patch.Recompute {
		dst.IsPAL = patch.IsPAL
	}
	if patch.StartedAt != nil || patch.Recompute {
		dst.StartedAt = patch.StartedAt
	}

	// Completion is monotonic: a record that has ever held the full
	// breakdown never demotes back to skeleton.
	if patch.Complete {
		dst.State = models.MatchStateComplete
	}
	dst.UpdatedAt = now
}

// newRecord builds a fresh record from a patch for the create path.
func newRecord(recordingID string, patch models.MatchPatch, now time.Time) *models.MatchRecord {
	rec := &models.MatchRecord{
		RecordingID: recordingID,
		State:       models.MatchStateSkeleton,
		CreatedAt:   now,
	}
	mergeRecord(rec, patch, now)
	return rec
}
