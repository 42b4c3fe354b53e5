// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/slipmetrics/slipmetrics/internal/config"
	"github.com/slipmetrics/slipmetrics/internal/logging"
	"github.com/slipmetrics/slipmetrics/internal/models"
)

// DB is the DuckDB-backed MatchStore plus the query surface the HTTP API
// reads from. Every exported method is one atomic unit of work.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens (or creates) the database file and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}
	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", numThreads).Msg("Database opened")
	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			recording_id         VARCHAR PRIMARY KEY,
			state                VARCHAR NOT NULL,
			stage_id             INTEGER,
			game_duration_frames INTEGER,
			total_frames         INTEGER,
			is_pal               BOOLEAN,
			played_on            VARCHAR,
			started_at           TIMESTAMP,
			match_id             VARCHAR,
			game_number          INTEGER,
			winner_index         INTEGER,
			loser_index          INTEGER,
			game_end_method      INTEGER,
			replay_path          VARCHAR,
			video_path           VARCHAR,
			fingerprint          VARCHAR,
			created_at           TIMESTAMP NOT NULL,
			updated_at           TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS player_stats (
			recording_id           VARCHAR NOT NULL,
			player_index           INTEGER NOT NULL,
			connect_code           VARCHAR,
			display_name           VARCHAR,
			character_id           INTEGER NOT NULL,
			character_color        INTEGER NOT NULL,
			port                   INTEGER NOT NULL,
			total_damage_dealt     DOUBLE NOT NULL,
			total_damage_taken     DOUBLE NOT NULL,
			kill_count             INTEGER NOT NULL,
			death_count            INTEGER NOT NULL,
			conversion_count       INTEGER NOT NULL,
			successful_conversions INTEGER NOT NULL,
			openings_per_kill      DOUBLE,
			damage_per_opening     DOUBLE,
			neutral_win_ratio      DOUBLE,
			counter_hit_ratio      DOUBLE,
			beneficial_trade_ratio DOUBLE,
			inputs_total           INTEGER NOT NULL,
			inputs_per_minute      DOUBLE,
			avg_kill_percent       DOUBLE,
			wavedash_count         INTEGER NOT NULL,
			waveland_count         INTEGER NOT NULL,
			air_dodge_count        INTEGER NOT NULL,
			dash_dance_count       INTEGER NOT NULL,
			spot_dodge_count       INTEGER NOT NULL,
			ledgegrab_count        INTEGER NOT NULL,
			roll_count             INTEGER NOT NULL,
			grab_count             INTEGER NOT NULL,
			throw_count            INTEGER NOT NULL,
			ground_tech_count      INTEGER NOT NULL,
			wall_tech_count        INTEGER NOT NULL,
			wall_jump_tech_count   INTEGER NOT NULL,
			l_cancel_success_count INTEGER NOT NULL,
			l_cancel_fail_count    INTEGER NOT NULL,
			stocks_remaining       INTEGER NOT NULL,
			final_percent          DOUBLE,
			PRIMARY KEY (recording_id, player_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_fingerprint ON matches(fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_started_at ON matches(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_player_stats_code ON player_stats(connect_code)`,
	}
	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

const matchColumns = `recording_id, state, stage_id, game_duration_frames, total_frames,
	is_pal, played_on, started_at, match_id, game_number, winner_index, loser_index,
	game_end_method, replay_path, video_path, fingerprint, created_at, updated_at`

func scanMatch(row interface{ Scan(...interface{}) error }) (*models.MatchRecord, error) {
	var rec models.MatchRecord
	err := row.Scan(
		&rec.RecordingID, &rec.State, &rec.StageID, &rec.GameDurationFrames, &rec.TotalFrames,
		&rec.IsPAL, &rec.PlayedOn, &rec.StartedAt, &rec.MatchID, &rec.GameNumber,
		&rec.WinnerIndex, &rec.LoserIndex, &rec.GameEndMethod, &rec.ReplayPath,
		&rec.VideoPath, &rec.Fingerprint, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetMatchRecord returns the record for a recording ID, or ErrNotFound.
func (db *DB) GetMatchRecord(ctx context.Context, recordingID string) (*models.MatchRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE recording_id = ?`, recordingID)
	rec, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match record: %w", err)
	}
	return rec, nil
}

// CreateOrMergeMatchRecord upserts the record in one statement. On conflict
// the merge keeps any stored non-null value that the patch omits; a
// recompute patch replaces fields wholesale. State only moves forward.
func (db *DB) CreateOrMergeMatchRecord(ctx context.Context, recordingID string, patch models.MatchPatch) (*models.MatchRecord, error) {
	now := time.Now().UTC()
	state := models.MatchStateSkeleton
	if patch.Complete {
		state = models.MatchStateComplete
	}

	assign := func(col string) string {
		if patch.Recompute {
			return col + " = EXCLUDED." + col
		}
		return col + " = COALESCE(EXCLUDED." + col + ", matches." + col + ")"
	}
	mergeable := []string{
		"stage_id", "game_duration_frames", "total_frames", "is_pal", "played_on",
		"started_at", "match_id", "game_number", "winner_index", "loser_index",
		"game_end_method", "replay_path", "video_path", "fingerprint",
	}
	set := `state = CASE WHEN matches.state = 'complete' THEN 'complete' ELSE EXCLUDED.state END`
	for _, col := range mergeable {
		set += ",\n\t\t\t" + assign(col)
	}
	set += ",\n\t\t\tupdated_at = EXCLUDED.updated_at"

	query := `INSERT INTO matches (` + matchColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (recording_id) DO UPDATE SET ` + set

	_, err := db.conn.ExecContext(ctx, query,
		recordingID, string(state), patch.StageID, patch.GameDurationFrames, patch.TotalFrames,
		patch.IsPAL, patch.PlayedOn, patch.StartedAt, patch.MatchID, patch.GameNumber,
		patch.WinnerIndex, patch.LoserIndex, patch.GameEndMethod, patch.ReplayPath,
		patch.VideoPath, patch.Fingerprint, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert match record: %w", err)
	}
	return db.GetMatchRecord(ctx, recordingID)
}

// ReplacePlayerStats upserts one player's row, replacing every column so a
// recompute never accumulates on top of stale values.
func (db *DB) ReplacePlayerStats(ctx context.Context, recordingID string, s models.PlayerMatchStats) error {
	query := `INSERT INTO player_stats (
			recording_id, player_index, connect_code, display_name, character_id,
			character_color, port, total_damage_dealt, total_damage_taken, kill_count,
			death_count, conversion_count, successful_conversions, openings_per_kill,
			damage_per_opening, neutral_win_ratio, counter_hit_ratio, beneficial_trade_ratio,
			inputs_total, inputs_per_minute, avg_kill_percent, wavedash_count, waveland_count,
			air_dodge_count, dash_dance_count, spot_dodge_count, ledgegrab_count, roll_count,
			grab_count, throw_count, ground_tech_count, wall_tech_count, wall_jump_tech_count,
			l_cancel_success_count, l_cancel_fail_count, stocks_remaining, final_percent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (recording_id, player_index) DO UPDATE SET
			connect_code = EXCLUDED.connect_code,
			display_name = EXCLUDED.display_name,
			character_id = EXCLUDED.character_id,
			character_color = EXCLUDED.character_color,
			port = EXCLUDED.port,
			total_damage_dealt = EXCLUDED.total_damage_dealt,
			total_damage_taken = EXCLUDED.total_damage_taken,
			kill_count = EXCLUDED.kill_count,
			death_count = EXCLUDED.death_count,
			conversion_count = EXCLUDED.conversion_count,
			successful_conversions = EXCLUDED.successful_conversions,
			openings_per_kill = EXCLUDED.openings_per_kill,
			damage_per_opening = EXCLUDED.damage_per_opening,
			neutral_win_ratio = EXCLUDED.neutral_win_ratio,
			counter_hit_ratio = EXCLUDED.counter_hit_ratio,
			beneficial_trade_ratio = EXCLUDED.beneficial_trade_ratio,
			inputs_total = EXCLUDED.inputs_total,
			inputs_per_minute = EXCLUDED.inputs_per_minute,
			avg_kill_percent = EXCLUDED.avg_kill_percent,
			wavedash_count = EXCLUDED.wavedash_count,
			waveland_count = EXCLUDED.waveland_count,
			air_dodge_count = EXCLUDED.air_dodge_count,
			dash_dance_count = EXCLUDED.dash_dance_count,
			spot_dodge_count = EXCLUDED.spot_dodge_count,
			ledgegrab_count = EXCLUDED.ledgegrab_count,
			roll_count = EXCLUDED.roll_count,
			grab_count = EXCLUDED.grab_count,
			throw_count = EXCLUDED.throw_count,
			ground_tech_count = EXCLUDED.ground_tech_count,
			wall_tech_count = EXCLUDED.wall_tech_count,
			wall_jump_tech_count = EXCLUDED.wall_jump_tech_count,
			l_cancel_success_count = EXCLUDED.l_cancel_success_count,
			l_cancel_fail_count = EXCLUDED.l_cancel_fail_count,
			stocks_remaining = EXCLUDED.stocks_remaining,
			final_percent = EXCLUDED.final_percent`

	_, err := db.conn.ExecContext(ctx, query,
		recordingID, s.PlayerIndex, s.ConnectCode, s.DisplayName, s.CharacterID,
		s.CharacterColor, s.Port, s.TotalDamageDealt, s.TotalDamageTaken, s.KillCount,
		s.DeathCount, s.ConversionCount, s.SuccessfulConversions, s.OpeningsPerKill,
		s.DamagePerOpening, s.NeutralWinRatio, s.CounterHitRatio, s.BeneficialTradeRatio,
		s.InputsTotal, s.InputsPerMinute, s.AvgKillPercent, s.WavedashCount, s.WavelandCount,
		s.AirDodgeCount, s.DashDanceCount, s.SpotDodgeCount, s.LedgegrabCount, s.RollCount,
		s.GrabCount, s.ThrowCount, s.GroundTechCount, s.WallTechCount, s.WallJumpTechCount,
		s.LCancelSuccessCount, s.LCancelFailCount, s.StocksRemaining, s.FinalPercent,
	)
	if err != nil {
		return fmt.Errorf("failed to replace player stats: %w", err)
	}
	return nil
}

// GetPlayerStats returns every player's row for a recording, ordered by
// player index. An empty slice means the record is still a skeleton.
func (db *DB) GetPlayerStats(ctx context.Context, recordingID string) ([]models.PlayerMatchStats, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT
			recording_id, player_index, connect_code, display_name, character_id,
			character_color, port, total_damage_dealt, total_damage_taken, kill_count,
			death_count, conversion_count, successful_conversions, openings_per_kill,
			damage_per_opening, neutral_win_ratio, counter_hit_ratio, beneficial_trade_ratio,
			inputs_total, inputs_per_minute, avg_kill_percent, wavedash_count, waveland_count,
			air_dodge_count, dash_dance_count, spot_dodge_count, ledgegrab_count, roll_count,
			grab_count, throw_count, ground_tech_count, wall_tech_count, wall_jump_tech_count,
			l_cancel_success_count, l_cancel_fail_count, stocks_remaining, final_percent
		FROM player_stats WHERE recording_id = ? ORDER BY player_index`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query player stats: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.PlayerMatchStats
	for rows.Next() {
		var s models.PlayerMatchStats
		if err := rows.Scan(
			&s.RecordingID, &s.PlayerIndex, &s.ConnectCode, &s.DisplayName, &s.CharacterID,
			&s.CharacterColor, &s.Port, &s.TotalDamageDealt, &s.TotalDamageTaken, &s.KillCount,
			&s.DeathCount, &s.ConversionCount, &s.SuccessfulConversions, &s.OpeningsPerKill,
			&s.DamagePerOpening, &s.NeutralWinRatio, &s.CounterHitRatio, &s.BeneficialTradeRatio,
			&s.InputsTotal, &s.InputsPerMinute, &s.AvgKillPercent, &s.WavedashCount, &s.WavelandCount,
			&s.AirDodgeCount, &s.DashDanceCount, &s.SpotDodgeCount, &s.LedgegrabCount, &s.RollCount,
			&s.GrabCount, &s.ThrowCount, &s.GroundTechCount, &s.WallTechCount, &s.WallJumpTechCount,
			&s.LCancelSuccessCount, &s.LCancelFailCount, &s.StocksRemaining, &s.FinalPercent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan player stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListMatches returns records newest first.
func (db *DB) ListMatches(ctx context.Context, limit, offset int) ([]models.MatchRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM matches ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.MatchRecord
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteMatch removes the record and its player rows in one transaction.
func (db *DB) DeleteMatch(ctx context.Context, recordingID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM player_stats WHERE recording_id = ?`, recordingID); err != nil {
		return fmt.Errorf("failed to delete player stats: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE recording_id = ?`, recordingID); err != nil {
		return fmt.Errorf("failed to delete match record: %w", err)
	}
	return tx.Commit()
}

// FindByFingerprint returns the recording ID already holding a replay
// fingerprint, or "" when the file has never been indexed.
func (db *DB) FindByFingerprint(ctx context.Context, fingerprint string) (string, error) {
	var id string
	err := db.conn.QueryRowContext(ctx,
		`SELECT recording_id FROM matches WHERE fingerprint = ?`, fingerprint).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	return id, nil
}

// ListReplayPaths maps every stored replay path to its recording ID, used
// by the deletion sweep to prune records whose files are gone.
func (db *DB) ListReplayPaths(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT replay_path, recording_id FROM matches WHERE replay_path IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list replay paths: %w", err)
	}
	defer closeQuietly(rows)

	out := make(map[string]string)
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, fmt.Errorf("failed to scan replay path: %w", err)
		}
		out[path] = id
	}
	return out, rows.Err()
}
