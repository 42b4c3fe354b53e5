// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/slipmetrics/slipmetrics/internal/models"
	"github.com/slipmetrics/slipmetrics/internal/replay"
	"github.com/slipmetrics/slipmetrics/internal/stats"
	"github.com/slipmetrics/slipmetrics/internal/store"
)

// Handlers serves the read API over the match store.
type Handlers struct {
	db *store.DB

	// conversionGap is the configured punish-grouping threshold used when
	// conversions are re-derived on demand.
	conversionGap int
}

// NewHandlers creates the handler set.
func NewHandlers(db *store.DB, conversionGap int) *Handlers {
	return &Handlers{db: db, conversionGap: conversionGap}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// ListMatches returns match records newest first.
//
// GET /api/v1/matches?limit=100&offset=0
func (h *Handlers) ListMatches(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > 500 || offset < 0 {
		rw.BadRequest("limit must be 1-500 and offset non-negative")
		return
	}

	recs, err := h.db.ListMatches(r.Context(), limit, offset)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.SuccessWithPagination(recs, &PaginationMeta{
		Count:   len(recs),
		Offset:  offset,
		Limit:   limit,
		HasMore: len(recs) == limit,
	})
}

// GetMatch returns one match with its player rows. Players is empty while
// the record is a skeleton; clients show statistics as absent, not zero.
//
// GET /api/v1/matches/{id}
func (h *Handlers) GetMatch(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	recordingID := chi.URLParam(r, "id")

	rec, err := h.db.GetMatchRecord(r.Context(), recordingID)
	if errors.Is(err, store.ErrNotFound) {
		rw.NotFound("match not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	players, err := h.db.GetPlayerStats(r.Context(), recordingID)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(models.MatchSummary{Match: *rec, Players: players})
}

// GetMatchPlayers returns only the per-player rows of a match.
//
// GET /api/v1/matches/{id}/players
func (h *Handlers) GetMatchPlayers(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	recordingID := chi.URLParam(r, "id")

	if _, err := h.db.GetMatchRecord(r.Context(), recordingID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("match not found")
		} else {
			rw.DatabaseError(err)
		}
		return
	}

	players, err := h.db.GetPlayerStats(r.Context(), recordingID)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(players)
}

// GetMatchConversions re-derives the conversion sequences from the stored
// replay file. Conversions are never persisted; extraction is deterministic
// so re-deriving always matches what the scorer saw.
//
// GET /api/v1/matches/{id}/conversions?gap=45
func (h *Handlers) GetMatchConversions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	recordingID := chi.URLParam(r, "id")

	rec, err := h.db.GetMatchRecord(r.Context(), recordingID)
	if errors.Is(err, store.ErrNotFound) {
		rw.NotFound("match not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if rec.ReplayPath == nil {
		rw.NotFound("match has no replay file on record")
		return
	}

	gap := queryInt(r, "gap", h.conversionGap)
	if gap <= 0 {
		rw.BadRequest("gap must be positive")
		return
	}

	data, err := os.ReadFile(*rec.ReplayPath)
	if err != nil {
		rw.Unprocessable("replay file is no longer readable")
		return
	}
	game, err := replay.Decode(data)
	if err != nil {
		rw.Unprocessable("replay file failed to decode")
		return
	}
	rw.Success(stats.ExtractConversions(game, gap))
}

// DeleteMatch removes a match record and its player rows.
//
// DELETE /api/v1/matches/{id}
func (h *Handlers) DeleteMatch(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	recordingID := chi.URLParam(r, "id")

	if _, err := h.db.GetMatchRecord(r.Context(), recordingID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("match not found")
		} else {
			rw.DatabaseError(err)
		}
		return
	}
	if err := h.db.DeleteMatch(r.Context(), recordingID); err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.NoContent()
}

// PlayerAggregate rolls up a player's persisted statistics across matches.
// The tag matches either the connect code or the display name.
//
// GET /api/v1/players/{tag}/aggregate?character=2&opponent_character=9&stage=31&from=...&to=...
func (h *Handlers) PlayerAggregate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tag := chi.URLParam(r, "tag")
	if tag == "" {
		rw.BadRequest("player tag is required")
		return
	}

	filter, err := parseStatsFilter(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	agg, err := h.db.AggregatePlayerStats(r.Context(), tag, filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(agg)
}

func parseStatsFilter(r *http.Request) (models.StatsFilter, error) {
	var filter models.StatsFilter

	for _, f := range []struct {
		key string
		dst **int
	}{
		{"character", &filter.PlayerCharacterID},
		{"opponent_character", &filter.OpponentCharacterID},
		{"stage", &filter.StageID},
	} {
		raw := r.URL.Query().Get(f.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New(f.key + " must be an integer")
		}
		*f.dst = &v
	}

	for _, f := range []struct {
		key string
		dst **time.Time
	}{
		{"from", &filter.StartTime},
		{"to", &filter.EndTime},
	} {
		raw := r.URL.Query().Get(f.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New(f.key + " must be RFC 3339")
		}
		*f.dst = &t
	}
	return filter, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
