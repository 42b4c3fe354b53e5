// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package stats turns a decoded replay into per-player match statistics
// and display-oriented conversion sequences. Everything here is a pure
// function over the decoded frames; persistence and concurrency live in
// the coordinator.
package stats

import (
	"math/bits"

	"github.com/slipmetrics/slipmetrics/internal/models"
	"github.com/slipmetrics/slipmetrics/internal/replay"
)

// MatchStats is the full aggregation output for one decoded game.
// WinnerIndex and LoserIndex are both nil when no signal resolves a
// winner; that is a valid terminal state, not an error.
type MatchStats struct {
	Players       []models.PlayerMatchStats
	WinnerIndex   *int
	LoserIndex    *int
	GameEndMethod *int
	Conversions   map[int][]models.Conversion
}

// Compute aggregates counters for every player in settings and resolves
// the match outcome. conversionGap tunes punish grouping; pass 0 for the
// default.
func Compute(game *replay.Game, conversionGap int) *MatchStats {
	if conversionGap <= 0 {
		conversionGap = DefaultConversionGapFrames
	}

	out := &MatchStats{
		Conversions: ExtractConversions(game, conversionGap),
	}
	if game.End != nil {
		out.GameEndMethod = models.Ptr(game.End.Method)
	}

	for _, ps := range game.Settings.Players {
		row := computePlayer(game, ps)
		applyConversionStats(game, &row, out.Conversions[ps.Index])
		out.Players = append(out.Players, row)
	}

	out.WinnerIndex, out.LoserIndex = ResolveOutcome(game)
	return out
}

func computePlayer(game *replay.Game, ps replay.PlayerSettings) models.PlayerMatchStats {
	row := models.PlayerMatchStats{
		PlayerIndex:    ps.Index,
		Port:           ps.Port,
		CharacterID:    ps.CharacterID,
		CharacterColor: ps.CharacterColor,
	}
	if ps.ConnectCode != "" {
		row.ConnectCode = models.Ptr(ps.ConnectCode)
	}
	if ps.DisplayName != "" {
		row.DisplayName = models.Ptr(ps.DisplayName)
	}

	scanTechniques(game, ps.Index, &row)
	scanInputs(game, ps.Index, &row)

	deaths, finalPct := scanStockLosses(game, ps.Index)
	row.DeathCount = deaths
	row.FinalPercent = finalPct
	row.StocksRemaining = ps.StartStocks - deaths
	if row.StocksRemaining < 0 {
		row.StocksRemaining = 0
	}

	if opp := soleOpponent(game, ps.Index); opp >= 0 {
		scanOpenings(game, ps.Index, opp, &row)
	}

	if game.TotalFrames > 0 {
		minutes := float64(game.TotalFrames) / 3600.0
		row.InputsPerMinute = models.Ptr(float64(row.InputsTotal) / minutes)
	}
	return row
}

// soleOpponent returns the other player's index in a 1v1, or -1. Opponent-
// relative statistics (openings, damage dealt, kills) are only defined for
// two-player games.
func soleOpponent(game *replay.Game, index int) int {
	if len(game.Settings.Players) != 2 {
		return -1
	}
	for _, ps := range game.Settings.Players {
		if ps.Index != index {
			return ps.Index
		}
	}
	return -1
}

// scanTechniques walks the player's action-state transitions counting
// defensive and movement techniques, including L-cancel timing.
func scanTechniques(game *replay.Game, index int, row *models.PlayerMatchStats) {
	var (
		havePrev  bool
		prevState uint16
		prevBtns  uint32
		prevTrig  float32

		lastTriggerPress = -1 << 30
		lastJumpsquat    = -1 << 30

		dashChanges   int
		lastDashFlip  int
		dashDirection float32
	)

	for i := range game.Frames {
		pf := game.Frames[i].Players[index]
		if pf == nil {
			continue
		}
		state := pf.Post.ActionState
		frame := pf.Post.Frame

		// Trigger press edges feed the L-cancel window.
		digital := pf.Pre.Buttons&lCancelButtons != 0 && prevBtns&lCancelButtons == 0
		analog := pf.Pre.Trigger > 0.35 && prevTrig <= 0.35
		if digital || analog {
			lastTriggerPress = frame
		}
		if state == stateKneeBend {
			lastJumpsquat = frame
		}

		if havePrev && state != prevState {
			switch {
			case state == stateEscapeAir:
				row.AirDodgeCount++
			case state == stateEscape:
				row.SpotDodgeCount++
			case isRoll(state):
				row.RollCount++
			case state == stateCliffCatch:
				row.LedgegrabCount++
			case isGrab(state) && !isGrab(prevState):
				row.GrabCount++
			case isThrow(state) && !isThrow(prevState):
				row.ThrowCount++
			case isGroundTech(state) && !isGroundTech(prevState):
				row.GroundTechCount++
			case state == stateWallTech || state == stateCeilingTech:
				row.WallTechCount++
			case state == stateWallTechJump:
				row.WallJumpTechCount++
			}

			// Airdodge into the ground at a downward diagonal is a wavedash
			// when it follows a jumpsquat, a waveland otherwise.
			if prevState == stateEscapeAir && isLandingState(state) {
				diagonal := abs32(pf.Pre.JoyX) > 0.5 && pf.Pre.JoyY < -0.3
				if diagonal {
					if frame-lastJumpsquat <= 8 {
						row.WavedashCount++
					} else {
						row.WavelandCount++
					}
				}
			}

			// Aerial landing lag: the trigger must have been pressed inside
			// the cancel window for the lag to halve.
			if isAerialLanding(state) && !isAerialLanding(prevState) {
				if frame-lastTriggerPress <= lCancelWindow && lastTriggerPress <= frame {
					row.LCancelSuccessCount++
				} else {
					row.LCancelFailCount++
				}
			}
		}

		// Dash dance: direction flips in dash/run, two or more inside a
		// 30 frame window.
		if state == stateDash || state == stateRun {
			x := pf.Pre.JoyX
			if abs32(x) > 0.5 {
				dir := sign32(x)
				if dashDirection != 0 && dir != dashDirection {
					dashChanges++
					lastDashFlip = frame
				}
				dashDirection = dir
			}
			if dashChanges >= 2 && frame-lastDashFlip < 30 {
				row.DashDanceCount++
				dashChanges = 0
			}
		} else {
			dashChanges = 0
		}

		havePrev = true
		prevState = state
		prevBtns = pf.Pre.Buttons
		prevTrig = pf.Pre.Trigger
	}
}

// scanInputs counts button press edges plus frames with significant stick
// deflection, the same operational definition the APM display uses.
func scanInputs(game *replay.Game, index int, row *models.PlayerMatchStats) {
	var prevButtons uint32
	for i := range game.Frames {
		pf := game.Frames[i].Players[index]
		if pf == nil {
			continue
		}
		pressed := pf.Pre.Buttons &^ prevButtons
		row.InputsTotal += bits.OnesCount32(pressed)
		if abs32(pf.Pre.JoyX) > 0.3 || abs32(pf.Pre.JoyY) > 0.3 {
			row.InputsTotal++
		}
		prevButtons = pf.Pre.Buttons
	}
}

// scanStockLosses counts the player's stock losses and captures the percent
// held at the moment of the last one. A player who never lost a stock has a
// nil final percent.
func scanStockLosses(game *replay.Game, index int) (int, *float64) {
	var (
		deaths   int
		finalPct *float64
		havePrev bool
		prevStk  int
		prevPct  float32
	)
	for i := range game.Frames {
		pf := game.Frames[i].Players[index]
		if pf == nil {
			continue
		}
		if havePrev && pf.Post.StocksRemaining < prevStk {
			deaths += prevStk - pf.Post.StocksRemaining
			finalPct = models.Ptr(float64(prevPct))
		}
		havePrev = true
		prevStk = pf.Post.StocksRemaining
		prevPct = pf.Post.Percent
	}
	return deaths, finalPct
}

// scanOpenings runs the neutral/opening state machine against the sole
// opponent: a hit on an opponent not already in hitstun is a neutral win
// and starts an opening; the opening accumulates damage until the opponent
// escapes to neutral, the player is hit back, or a stock falls.
func scanOpenings(game *replay.Game, index, opponent int, row *models.PlayerMatchStats) {
	var (
		havePrev      bool
		selfInHitstun bool
		oppInHitstun  bool
		inOpening     bool
		openingDamage float64
		totalOpenDmg  float64
		openings      int
		neutralWins   int
		neutralLosses int
		kills         int
		killPctSum    float64
		prevSelfPct   float32
		prevOppPct    float32
		prevOppStk    int
	)

	endOpening := func() {
		if inOpening {
			openings++
			totalOpenDmg += openingDamage
			inOpening = false
		}
	}

	for i := range game.Frames {
		self := game.Frames[i].Players[index]
		opp := game.Frames[i].Players[opponent]
		if self == nil || opp == nil {
			continue
		}
		if !havePrev {
			havePrev = true
			selfInHitstun = isHitstun(self.Post.ActionState)
			oppInHitstun = isHitstun(opp.Post.ActionState)
			prevSelfPct = self.Post.Percent
			prevOppPct = opp.Post.Percent
			prevOppStk = opp.Post.StocksRemaining
			continue
		}

		selfNow := isHitstun(self.Post.ActionState)
		oppNow := isHitstun(opp.Post.ActionState)

		if !selfInHitstun && oppNow && !oppInHitstun {
			neutralWins++
			inOpening = true
			openingDamage = 0
		} else if !oppInHitstun && selfNow && !selfInHitstun {
			neutralLosses++
			endOpening()
		}

		oppDelta := opp.Post.Percent - prevOppPct
		if inOpening && oppNow && oppDelta > 0 && oppDelta < maxHitDelta {
			openingDamage += float64(oppDelta)
		}
		if inOpening && !oppNow && isNeutral(opp.Post.ActionState) {
			endOpening()
		}

		selfDelta := self.Post.Percent - prevSelfPct
		if selfDelta > 0 && selfDelta < maxHitDelta {
			row.TotalDamageTaken += float64(selfDelta)
		}
		if oppDelta > 0 && oppDelta < maxHitDelta {
			row.TotalDamageDealt += float64(oppDelta)
		}

		if opp.Post.StocksRemaining < prevOppStk {
			kills += prevOppStk - opp.Post.StocksRemaining
			killPctSum += float64(prevOppPct)
			endOpening()
		}

		selfInHitstun = selfNow
		oppInHitstun = oppNow
		prevSelfPct = self.Post.Percent
		prevOppPct = opp.Post.Percent
		prevOppStk = opp.Post.StocksRemaining
	}
	endOpening()

	row.KillCount = kills
	if kills > 0 {
		row.OpeningsPerKill = models.Ptr(float64(openings) / float64(kills))
		row.AvgKillPercent = models.Ptr(killPctSum / float64(kills))
	}
	if openings > 0 {
		row.DamagePerOpening = models.Ptr(totalOpenDmg / float64(openings))
	}
	if total := neutralWins + neutralLosses; total > 0 {
		row.NeutralWinRatio = models.Ptr(float64(neutralWins) / float64(total))
	}
}

// applyConversionStats derives the conversion counters and classification
// ratios for one player from the extracted sequences.
func applyConversionStats(game *replay.Game, row *models.PlayerMatchStats, convs []models.Conversion) {
	row.ConversionCount = len(convs)

	var counters, trades, beneficial int
	for _, c := range convs {
		if c.DidKill {
			row.SuccessfulConversions++
		}
		switch c.OpeningType {
		case models.OpeningCounter:
			counters++
		case models.OpeningTrade:
			trades++
			if c.Damage() > damageTakenBetween(game, row.PlayerIndex, c.StartFrame, c.EndFrame) {
				beneficial++
			}
		}
	}
	if len(convs) > 0 {
		row.CounterHitRatio = models.Ptr(float64(counters) / float64(len(convs)))
	}
	if trades > 0 {
		row.BeneficialTradeRatio = models.Ptr(float64(beneficial) / float64(trades))
	}
}

// damageTakenBetween sums the player's own percent increases over the
// inclusive frame range.
func damageTakenBetween(game *replay.Game, index, start, end int) float64 {
	var (
		total    float64
		havePrev bool
		prevPct  float32
	)
	for i := range game.Frames {
		f := &game.Frames[i]
		pf := f.Players[index]
		if pf == nil {
			continue
		}
		if havePrev && f.Index >= start && f.Index <= end {
			d := pf.Post.Percent - prevPct
			if d > 0 && d < maxHitDelta {
				total += float64(d)
			}
		}
		havePrev = true
		prevPct = pf.Post.Percent
	}
	return total
}

// ResolveOutcome applies the outcome priority: explicit placements, then
// withdrawal fault, then stocks at the decode horizon. A tie on every
// signal leaves both indexes nil. It needs only settings, the end event,
// and the final post-frames, so it works on lite-decoded games too.
func ResolveOutcome(game *replay.Game) (winner, loser *int) {
	if game.End != nil {
		var first, second *int
		for _, ps := range game.Settings.Players {
			switch game.End.Placements[ps.Index] {
			case 0:
				first = models.Ptr(ps.Index)
			case 1:
				second = models.Ptr(ps.Index)
			}
		}
		if first != nil && second != nil {
			return first, second
		}

		if game.End.Method == models.GameEndNoContest && len(game.Settings.Players) == 2 {
			init := game.End.LRASInitiator
			if game.Settings.Player(init) != nil {
				for _, ps := range game.Settings.Players {
					if ps.Index != init {
						return models.Ptr(ps.Index), models.Ptr(init)
					}
				}
			}
		}
	}

	if len(game.Settings.Players) == 2 {
		a := game.FinalPosts[game.Settings.Players[0].Index]
		b := game.FinalPosts[game.Settings.Players[1].Index]
		if a != nil && b != nil {
			switch {
			case a.StocksRemaining > b.StocksRemaining:
				return models.Ptr(a.PlayerIndex), models.Ptr(b.PlayerIndex)
			case b.StocksRemaining > a.StocksRemaining:
				return models.Ptr(b.PlayerIndex), models.Ptr(a.PlayerIndex)
			}
		}
	}
	return nil, nil
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func sign32(v float32) float32 {
	if v < 0 {
		return -1
	}
	return 1
}
