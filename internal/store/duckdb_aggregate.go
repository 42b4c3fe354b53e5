// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/slipmetrics/slipmetrics/internal/models"
)

// aggregateFilter builds the shared WHERE clause for the rollup queries.
// p is the tagged player's row, o the opponent's, m the match.
func aggregateFilter(tag string, filter models.StatsFilter) (string, []interface{}) {
	clauses := []string{"(p.connect_code = ? OR p.display_name = ?)"}
	args := []interface{}{tag, tag}

	if filter.PlayerCharacterID != nil {
		clauses = append(clauses, "p.character_id = ?")
		args = append(args, *filter.PlayerCharacterID)
	}
	if filter.OpponentCharacterID != nil {
		clauses = append(clauses, "o.character_id = ?")
		args = append(args, *filter.OpponentCharacterID)
	}
	if filter.StageID != nil {
		clauses = append(clauses, "m.stage_id = ?")
		args = append(args, *filter.StageID)
	}
	if filter.StartTime != nil {
		clauses = append(clauses, "m.started_at >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		clauses = append(clauses, "m.started_at <= ?")
		args = append(args, *filter.EndTime)
	}
	return strings.Join(clauses, " AND "), args
}

const aggregateJoin = `FROM player_stats p
	JOIN matches m ON m.recording_id = p.recording_id
	JOIN player_stats o ON o.recording_id = p.recording_id AND o.player_index <> p.player_index`

// AggregatePlayerStats rolls up one player tag's persisted rows: win totals,
// averaged ratios, and per-character/per-stage win rates. SQL AVG skips null
// ratio cells, so skeleton-era gaps never read as zeros.
func (db *DB) AggregatePlayerStats(ctx context.Context, tag string, filter models.StatsFilter) (*models.AggregatedPlayerStats, error) {
	where, args := aggregateFilter(tag, filter)
	out := &models.AggregatedPlayerStats{PlayerTag: tag}

	totals := `SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN m.winner_index = p.player_index THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN p.l_cancel_success_count + p.l_cancel_fail_count > 0
				THEN p.l_cancel_success_count * 100.0 / (p.l_cancel_success_count + p.l_cancel_fail_count) END),
			AVG(p.openings_per_kill),
			AVG(p.damage_per_opening),
			AVG(p.neutral_win_ratio * 100.0),
			AVG(p.inputs_per_minute)
		` + aggregateJoin + ` WHERE ` + where

	err := db.conn.QueryRowContext(ctx, totals, args...).Scan(
		&out.TotalGames, &out.TotalWins, &out.AvgLCancelPercent, &out.AvgOpeningsPerKill,
		&out.AvgDamagePerOpen, &out.AvgNeutralWinPct, &out.AvgInputsPerMinute,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate player stats: %w", err)
	}

	characters := `SELECT o.character_id, COUNT(*),
			COALESCE(SUM(CASE WHEN m.winner_index = p.player_index THEN 1 ELSE 0 END), 0)
		` + aggregateJoin + ` WHERE ` + where + `
		GROUP BY o.character_id ORDER BY COUNT(*) DESC`

	rows, err := db.conn.QueryContext(ctx, characters, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate character win rates: %w", err)
	}
	defer closeQuietly(rows)
	for rows.Next() {
		var c models.CharacterWinRate
		if err := rows.Scan(&c.CharacterID, &c.Games, &c.Wins); err != nil {
			return nil, fmt.Errorf("failed to scan character win rate: %w", err)
		}
		out.CharacterStats = append(out.CharacterStats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stages := `SELECT m.stage_id, COUNT(*),
			COALESCE(SUM(CASE WHEN m.winner_index = p.player_index THEN 1 ELSE 0 END), 0)
		` + aggregateJoin + ` WHERE m.stage_id IS NOT NULL AND ` + where + `
		GROUP BY m.stage_id ORDER BY COUNT(*) DESC`

	stageRows, err := db.conn.QueryContext(ctx, stages, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stage win rates: %w", err)
	}
	defer closeQuietly(stageRows)
	for stageRows.Next() {
		var s models.StageWinRate
		if err := stageRows.Scan(&s.StageID, &s.Games, &s.Wins); err != nil {
			return nil, fmt.Errorf("failed to scan stage win rate: %w", err)
		}
		out.StageStats = append(out.StageStats, s)
	}
	return out, stageRows.Err()
}
