// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package models defines data structures used throughout the Slipmetrics
// application: match records, per-player statistics, conversions, and
// query filters.
package models

import (
	"time"
)

// MatchState tracks how much of a match record has been populated.
type MatchState string

const (
	// MatchStateSkeleton means only coarse, filesystem-derivable metadata is
	// present; full statistics have not been computed yet.
	MatchStateSkeleton MatchState = "skeleton"

	// MatchStateComplete means the full statistical breakdown has landed.
	MatchStateComplete MatchState = "complete"
)

// Game end method codes as recorded in the replay's terminal event.
const (
	GameEndUnresolved = 0
	GameEndTimeout    = 1
	GameEndStocks     = 2
	GameEndResolved   = 3
	GameEndNoContest  = 7 // LRAS withdrawal
)

// MatchRecord is the canonical per-match row. Exactly one exists per
// recording_id. Two independent producers populate it: the filesystem
// indexer writes a skeleton with coarse metadata, the scorer writes the
// full breakdown. Pointer fields are nullable; a nil value means the
// field has not been populated by any producer yet.
type MatchRecord struct {
	// RecordingID is assigned once by whichever producer first observes the
	// match: a session UUID for live recordings, or a content-derived hash of
	// the replay path for historically imported files.
	RecordingID string     `json:"recording_id"`
	State       MatchState `json:"state"`

	// Coarse metadata (populated by either producer).
	StageID            *int       `json:"stage_id,omitempty"`
	GameDurationFrames *int       `json:"game_duration_frames,omitempty"`
	TotalFrames        *int       `json:"total_frames,omitempty"`
	IsPAL              *bool      `json:"is_pal,omitempty"`
	PlayedOn           *string    `json:"played_on,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`

	// Tournament-set linkage (optional).
	MatchID    *string `json:"match_id,omitempty"`
	GameNumber *int    `json:"game_number,omitempty"`

	// Outcome (populated by either producer; winner/loser may legitimately
	// both be null when the replay does not resolve a winner).
	WinnerIndex   *int `json:"winner_index,omitempty"`
	LoserIndex    *int `json:"loser_index,omitempty"`
	GameEndMethod *int `json:"game_end_method,omitempty"`

	// File linkage.
	ReplayPath  *string `json:"replay_path,omitempty"`
	VideoPath   *string `json:"video_path,omitempty"`
	Fingerprint *string `json:"fingerprint,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchPatch is a partial update to a MatchRecord. A nil field is OMITTED:
// the stored value, if any, is left untouched. Recompute switches the store
// from field-level merge to wholesale replacement of the patched fields,
// which is the only path that may clear a previously populated field.
type MatchPatch struct {
	StageID            *int
	GameDurationFrames *int
	TotalFrames        *int
	IsPAL              *bool
	PlayedOn           *string
	StartedAt          *time.Time
	MatchID            *string
	GameNumber         *int
	WinnerIndex        *int
	LoserIndex         *int
	GameEndMethod      *int
	ReplayPath         *string
	VideoPath          *string
	Fingerprint        *string

	// Complete marks the patch as carrying the full statistical breakdown.
	// A record that has ever received a complete patch stays complete.
	Complete bool

	// Recompute indicates a deliberate full recompute of the same match:
	// patched fields replace stored values even when the new value is null.
	Recompute bool
}

// PlayerMatchStats is one participant's statistics for one match. Exactly one
// row exists per (recording_id, player_index); a recompute replaces the row
// wholesale. Ratio fields are null (not zero) when the denominator is zero.
type PlayerMatchStats struct {
	RecordingID string `json:"recording_id"`
	PlayerIndex int    `json:"player_index"`

	// Identity.
	ConnectCode    *string `json:"connect_code,omitempty"`
	DisplayName    *string `json:"display_name,omitempty"`
	CharacterID    int     `json:"character_id"`
	CharacterColor int     `json:"character_color"`
	Port           int     `json:"port"`

	// Damage and kill accounting.
	TotalDamageDealt float64 `json:"total_damage_dealt"`
	TotalDamageTaken float64 `json:"total_damage_taken"`
	KillCount        int     `json:"kill_count"`
	DeathCount       int     `json:"death_count"`

	// Conversions and openings.
	ConversionCount       int      `json:"conversion_count"`
	SuccessfulConversions int      `json:"successful_conversions"`
	OpeningsPerKill       *float64 `json:"openings_per_kill,omitempty"`
	DamagePerOpening      *float64 `json:"damage_per_opening,omitempty"`
	NeutralWinRatio       *float64 `json:"neutral_win_ratio,omitempty"`
	CounterHitRatio       *float64 `json:"counter_hit_ratio,omitempty"`
	BeneficialTradeRatio  *float64 `json:"beneficial_trade_ratio,omitempty"`

	// Inputs.
	InputsTotal     int      `json:"inputs_total"`
	InputsPerMinute *float64 `json:"inputs_per_minute,omitempty"`

	AvgKillPercent *float64 `json:"avg_kill_percent,omitempty"`

	// Technique counters.
	WavedashCount     int `json:"wavedash_count"`
	WavelandCount     int `json:"waveland_count"`
	AirDodgeCount     int `json:"air_dodge_count"`
	DashDanceCount    int `json:"dash_dance_count"`
	SpotDodgeCount    int `json:"spot_dodge_count"`
	LedgegrabCount    int `json:"ledgegrab_count"`
	RollCount         int `json:"roll_count"`
	GrabCount         int `json:"grab_count"`
	ThrowCount        int `json:"throw_count"`
	GroundTechCount   int `json:"ground_tech_count"`
	WallTechCount     int `json:"wall_tech_count"`
	WallJumpTechCount int `json:"wall_jump_tech_count"`

	// L-cancels.
	LCancelSuccessCount int `json:"l_cancel_success_count"`
	LCancelFailCount    int `json:"l_cancel_fail_count"`

	// Terminal state.
	StocksRemaining int      `json:"stocks_remaining"`
	FinalPercent    *float64 `json:"final_percent,omitempty"`
}

// OpeningType classifies how a conversion began.
type OpeningType string

const (
	OpeningNeutral OpeningType = "neutral"
	OpeningCounter OpeningType = "counter"
	OpeningTrade   OpeningType = "trade"
	OpeningUnknown OpeningType = "unknown"
)

// Conversion is a grouped punish sequence, computed on demand for display.
// Never persisted; it has no concurrent writer.
type Conversion struct {
	PlayerIndex  int         `json:"player_index"`
	StartFrame   int         `json:"start_frame"`
	EndFrame     int         `json:"end_frame"`
	StartPercent float64     `json:"start_percent"`
	EndPercent   float64     `json:"end_percent"`
	MoveCount    int         `json:"move_count"`
	OpeningType  OpeningType `json:"opening_type"`
	DidKill      bool        `json:"did_kill"`
}

// Damage returns the display damage of the conversion, clamped to >= 0.
func (c Conversion) Damage() float64 {
	d := c.EndPercent - c.StartPercent
	if d < 0 {
		return 0
	}
	return d
}

// MatchSummary pairs a match record with its per-player rows for API
// responses. Players is empty while the record is a skeleton; the UI shows
// statistics as absent, never as zeros.
type MatchSummary struct {
	Match   MatchRecord        `json:"match"`
	Players []PlayerMatchStats `json:"players,omitempty"`
}

// StatsFilter narrows aggregate queries over persisted rows.
type StatsFilter struct {
	PlayerCharacterID   *int       `json:"player_character_id,omitempty"`
	OpponentCharacterID *int       `json:"opponent_character_id,omitempty"`
	StageID             *int       `json:"stage_id,omitempty"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
}

// AggregatedPlayerStats is the rollup for one player tag across matches.
type AggregatedPlayerStats struct {
	PlayerTag          string             `json:"player_tag"`
	TotalGames         int64              `json:"total_games"`
	TotalWins          int64              `json:"total_wins"`
	AvgLCancelPercent  *float64           `json:"avg_l_cancel_percent,omitempty"`
	AvgOpeningsPerKill *float64           `json:"avg_openings_per_kill,omitempty"`
	AvgDamagePerOpen   *float64           `json:"avg_damage_per_opening,omitempty"`
	AvgNeutralWinPct   *float64           `json:"avg_neutral_win_percent,omitempty"`
	AvgInputsPerMinute *float64           `json:"avg_inputs_per_minute,omitempty"`
	CharacterStats     []CharacterWinRate `json:"character_stats,omitempty"`
	StageStats         []StageWinRate     `json:"stage_stats,omitempty"`
}

// CharacterWinRate is games/wins against one opposing character.
type CharacterWinRate struct {
	CharacterID int   `json:"character_id"`
	Games       int64 `json:"games"`
	Wins        int64 `json:"wins"`
}

// StageWinRate is games/wins on one stage.
type StageWinRate struct {
	StageID int   `json:"stage_id"`
	Games   int64 `json:"games"`
	Wins    int64 `json:"wins"`
}

// Ptr returns a pointer to v. Convenience for building patches and expected
// values in tests.
func Ptr[T any](v T) *T {
	return &v
}
