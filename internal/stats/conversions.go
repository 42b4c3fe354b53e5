// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package stats

import (
	"github.com/slipmetrics/slipmetrics/internal/models"
	"github.com/slipmetrics/slipmetrics/internal/replay"
)

// DefaultConversionGapFrames is the largest frame gap between consecutive
// hits that still extends a punish sequence. Tunable through configuration;
// the value itself is not correctness-critical.
const DefaultConversionGapFrames = 45

// tradeWindowFrames bounds how close in time both players must land hits
// for the opening to classify as a trade.
const tradeWindowFrames = 5

// maxHitDelta filters percent deltas: a jump of 50%+ in one frame is a
// percent reset or desync artifact, not a hit.
const maxHitDelta = 50.0

// ExtractConversions re-derives each player's punish sequences from a
// decoded game. Pure and deterministic over the decoded events; computed
// on demand for display, never persisted. Only 1v1 games produce
// conversions; the map is empty otherwise.
func ExtractConversions(game *replay.Game, gapFrames int) map[int][]models.Conversion {
	out := make(map[int][]models.Conversion)
	if len(game.Settings.Players) != 2 {
		return out
	}
	if gapFrames <= 0 {
		gapFrames = DefaultConversionGapFrames
	}

	a := game.Settings.Players[0].Index
	b := game.Settings.Players[1].Index
	out[a] = extractFor(game, a, b, gapFrames)
	out[b] = extractFor(game, b, a, gapFrames)
	return out
}

// conversionTracker accumulates one in-progress punish sequence.
type conversionTracker struct {
	active       bool
	conv         models.Conversion
	lastHitFrame int
}

func extractFor(game *replay.Game, attacker, recipient, gapFrames int) []models.Conversion {
	var (
		out []models.Conversion
		cur conversionTracker

		havePrev           bool
		prevRecipientPct   float32
		prevRecipientState uint16
		prevRecipientStk   int
		prevAttackerPct    float32
		lastAttackerHit    int // frame the attacker last took damage, for trades
	)
	lastAttackerHit = -1 << 30

	flush := func() {
		if cur.active {
			out = append(out, cur.conv)
			cur.active = false
		}
	}

	for i := range game.Frames {
		f := &game.Frames[i]
		rp := f.Players[recipient]
		ap := f.Players[attacker]
		if rp == nil || ap == nil {
			continue
		}

		if !havePrev {
			havePrev = true
			prevRecipientPct = rp.Post.Percent
			prevRecipientState = rp.Post.ActionState
			prevRecipientStk = rp.Post.StocksRemaining
			prevAttackerPct = ap.Post.Percent
			continue
		}

		// The sequence ends once the recipient has been hit-free past the gap.
		if cur.active && f.Index-cur.lastHitFrame > gapFrames {
			flush()
		}

		attackerDelta := ap.Post.Percent - prevAttackerPct
		if attackerDelta > 0 && attackerDelta < maxHitDelta {
			lastAttackerHit = f.Index
		}

		recipientDelta := rp.Post.Percent - prevRecipientPct
		if recipientDelta > 0 && recipientDelta < maxHitDelta {
			if !cur.active {
				cur = conversionTracker{
					active: true,
					conv: models.Conversion{
						PlayerIndex:  attacker,
						StartFrame:   f.Index,
						StartPercent: float64(prevRecipientPct),
						OpeningType:  classifyOpening(prevRecipientState, f.Index, lastAttackerHit),
					},
					lastHitFrame: f.Index,
				}
			}
			// Consecutive-frame deltas extend one hit; a gap starts a new move.
			if cur.conv.MoveCount == 0 || f.Index > cur.lastHitFrame+1 {
				cur.conv.MoveCount++
			}
			cur.conv.EndFrame = f.Index
			cur.conv.EndPercent = float64(rp.Post.Percent)
			cur.lastHitFrame = f.Index
		}

		// A stock loss inside the gap credits the sequence with the kill.
		if rp.Post.StocksRemaining < prevRecipientStk && cur.active {
			if f.Index-cur.lastHitFrame <= gapFrames {
				cur.conv.DidKill = true
			}
			flush()
		}

		prevRecipientPct = rp.Post.Percent
		prevRecipientState = rp.Post.ActionState
		prevRecipientStk = rp.Post.StocksRemaining
		prevAttackerPct = ap.Post.Percent
	}
	flush()
	return out
}

// classifyOpening labels how a punish sequence began, from the recipient's
// state on the frame before the first hit. A hit while the attacker was
// also struck inside the trade window is a trade regardless of state.
func classifyOpening(recipientPrevState uint16, firstHitFrame, lastAttackerHit int) models.OpeningType {
	if firstHitFrame-lastAttackerHit <= tradeWindowFrames && lastAttackerHit <= firstHitFrame {
		return models.OpeningTrade
	}
	switch {
	case isHitstun(recipientPrevState) || isShielding(recipientPrevState):
		return models.OpeningCounter
	case isNeutral(recipientPrevState):
		return models.OpeningNeutral
	default:
		// Mid-action: attacking, dodging, or otherwise committed.
		return models.OpeningCounter
	}
}
