// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package stats

import (
	"reflect"
	"testing"

	"github.com/slipmetrics/slipmetrics/internal/models"
	"github.com/slipmetrics/slipmetrics/internal/replay"
	"github.com/slipmetrics/slipmetrics/internal/replay/replaytest"
)

// comboGame scripts a 4-stock game where player 0 lands a three-hit combo
// on player 1 (frames 100, 115, 130, 0% to 42%) that ends in a stock loss.
func comboGame() *replaytest.Builder {
	b := replaytest.NewBuilder()

	idle := func(p0, p1 replaytest.FrameState) map[int]replaytest.FrameState {
		return map[int]replaytest.FrameState{0: p0, 1: p1}
	}
	standing := replaytest.FrameState{ActionState: 14, Stocks: 4}

	for f := 0; f < 100; f++ {
		b.AddFrame(f, idle(standing, standing))
	}
	b.AddFrame(100, idle(standing, replaytest.FrameState{ActionState: 75, Percent: 12, Stocks: 4}))
	for f := 101; f < 115; f++ {
		b.AddFrame(f, idle(standing, replaytest.FrameState{ActionState: 75, Percent: 12, Stocks: 4}))
	}
	b.AddFrame(115, idle(standing, replaytest.FrameState{ActionState: 76, Percent: 27, Stocks: 4}))
	for f := 116; f < 130; f++ {
		b.AddFrame(f, idle(standing, replaytest.FrameState{ActionState: 76, Percent: 27, Stocks: 4}))
	}
	b.AddFrame(130, idle(standing, replaytest.FrameState{ActionState: 89, Percent: 42, Stocks: 4}))
	for f := 131; f < 141; f++ {
		b.AddFrame(f, idle(standing, replaytest.FrameState{ActionState: 89, Percent: 42, Stocks: 4}))
	}
	// Stock falls; percent resets.
	b.AddFrame(141, idle(standing, replaytest.FrameState{ActionState: 0, Percent: 0, Stocks: 3}))
	for f := 142; f < 160; f++ {
		b.AddFrame(f, idle(standing, replaytest.FrameState{ActionState: 14, Stocks: 3}))
	}
	return b
}

func decodeOrFail(t *testing.T, data []byte) *replay.Game {
	t.Helper()
	game, err := replay.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	return game
}

func playerRow(t *testing.T, ms *MatchStats, index int) models.PlayerMatchStats {
	t.Helper()
	for _, p := range ms.Players {
		if p.PlayerIndex == index {
			return p
		}
	}
	t.Fatalf("no stats row for player %d", index)
	return models.PlayerMatchStats{}
}

func TestComputeComboScenario(t *testing.T) {
	game := decodeOrFail(t, comboGame().Build())
	ms := Compute(game, 0)

	p0 := playerRow(t, ms, 0)
	if p0.KillCount != 1 {
		t.Errorf("KillCount = %d, want 1", p0.KillCount)
	}
	if p0.TotalDamageDealt != 42 {
		t.Errorf("TotalDamageDealt = %v, want 42", p0.TotalDamageDealt)
	}
	if p0.OpeningsPerKill == nil || *p0.OpeningsPerKill != 1 {
		t.Errorf("OpeningsPerKill = %v, want 1", p0.OpeningsPerKill)
	}
	if p0.DamagePerOpening == nil || *p0.DamagePerOpening != 42 {
		t.Errorf("DamagePerOpening = %v, want 42", p0.DamagePerOpening)
	}
	if p0.AvgKillPercent == nil || *p0.AvgKillPercent != 42 {
		t.Errorf("AvgKillPercent = %v, want 42", p0.AvgKillPercent)
	}
	if p0.NeutralWinRatio == nil || *p0.NeutralWinRatio != 1 {
		t.Errorf("NeutralWinRatio = %v, want 1", p0.NeutralWinRatio)
	}
	if p0.StocksRemaining != 4 {
		t.Errorf("p0 StocksRemaining = %d, want 4", p0.StocksRemaining)
	}
	if p0.FinalPercent != nil {
		t.Errorf("p0 FinalPercent = %v, want nil (never lost a stock)", *p0.FinalPercent)
	}

	p1 := playerRow(t, ms, 1)
	if p1.DeathCount != 1 {
		t.Errorf("DeathCount = %d, want 1", p1.DeathCount)
	}
	if p1.StocksRemaining != 3 {
		t.Errorf("p1 StocksRemaining = %d, want 3", p1.StocksRemaining)
	}
	if p1.FinalPercent == nil || *p1.FinalPercent != 42 {
		t.Errorf("p1 FinalPercent = %v, want 42", p1.FinalPercent)
	}
	if p1.TotalDamageTaken != 42 {
		t.Errorf("TotalDamageTaken = %v, want 42", p1.TotalDamageTaken)
	}
}

func TestExtractConversionsComboScenario(t *testing.T) {
	game := decodeOrFail(t, comboGame().Build())
	convs := ExtractConversions(game, 0)

	got := convs[0]
	if len(got) != 1 {
		t.Fatalf("len(conversions) = %d, want 1", len(got))
	}
	c := got[0]
	if c.StartFrame != 100 || c.EndFrame != 130 {
		t.Errorf("frames = %d..%d, want 100..130", c.StartFrame, c.EndFrame)
	}
	if c.Damage() != 42 {
		t.Errorf("Damage() = %v, want 42", c.Damage())
	}
	if c.MoveCount != 3 {
		t.Errorf("MoveCount = %d, want 3", c.MoveCount)
	}
	if c.OpeningType != models.OpeningNeutral {
		t.Errorf("OpeningType = %q, want neutral", c.OpeningType)
	}
	if !c.DidKill {
		t.Error("DidKill = false, want true")
	}
	if len(convs[1]) != 0 {
		t.Errorf("player 1 conversions = %d, want 0", len(convs[1]))
	}
}

func TestExtractConversionsDeterminism(t *testing.T) {
	game := decodeOrFail(t, comboGame().Build())
	first := ExtractConversions(game, 0)
	second := ExtractConversions(game, 0)
	if !reflect.DeepEqual(first, second) {
		t.Error("conversion extraction is not deterministic over the same events")
	}
}

func TestZeroDenominatorRatiosAreNil(t *testing.T) {
	b := replaytest.NewBuilder()
	standing := replaytest.FrameState{ActionState: 14, Stocks: 4}
	for f := 0; f < 60; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{0: standing, 1: standing})
	}
	game := decodeOrFail(t, b.Build())
	ms := Compute(game, 0)

	for _, p := range ms.Players {
		if p.OpeningsPerKill != nil {
			t.Errorf("player %d OpeningsPerKill = %v, want nil", p.PlayerIndex, *p.OpeningsPerKill)
		}
		if p.DamagePerOpening != nil {
			t.Errorf("player %d DamagePerOpening = %v, want nil", p.PlayerIndex, *p.DamagePerOpening)
		}
		if p.NeutralWinRatio != nil {
			t.Errorf("player %d NeutralWinRatio = %v, want nil", p.PlayerIndex, *p.NeutralWinRatio)
		}
		if p.CounterHitRatio != nil {
			t.Errorf("player %d CounterHitRatio = %v, want nil", p.PlayerIndex, *p.CounterHitRatio)
		}
		if p.BeneficialTradeRatio != nil {
			t.Errorf("player %d BeneficialTradeRatio = %v, want nil", p.PlayerIndex, *p.BeneficialTradeRatio)
		}
		if p.AvgKillPercent != nil {
			t.Errorf("player %d AvgKillPercent = %v, want nil", p.PlayerIndex, *p.AvgKillPercent)
		}
		if p.FinalPercent != nil {
			t.Errorf("player %d FinalPercent = %v, want nil", p.PlayerIndex, *p.FinalPercent)
		}
	}
}

func TestWinnerPlacementsBeatStocks(t *testing.T) {
	// Player 1 wins on placement even though player 0 holds more stocks at
	// the decode horizon.
	b := replaytest.NewBuilder()
	for f := 0; f < 30; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{
			0: {ActionState: 14, Stocks: 4},
			1: {ActionState: 14, Stocks: 2},
		})
	}
	b.End(models.GameEndResolved, -1, [4]int{1, 0, -1, -1})

	game := decodeOrFail(t, b.Build())
	ms := Compute(game, 0)
	if ms.WinnerIndex == nil || *ms.WinnerIndex != 1 {
		t.Errorf("WinnerIndex = %v, want 1", ms.WinnerIndex)
	}
	if ms.LoserIndex == nil || *ms.LoserIndex != 0 {
		t.Errorf("LoserIndex = %v, want 0", ms.LoserIndex)
	}
}

func TestWinnerLRASNonInitiator(t *testing.T) {
	b := replaytest.NewBuilder()
	for f := 0; f < 30; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{
			0: {ActionState: 14, Stocks: 4},
			1: {ActionState: 14, Stocks: 4},
		})
	}
	b.End(models.GameEndNoContest, 0, [4]int{-1, -1, -1, -1})

	game := decodeOrFail(t, b.Build())
	ms := Compute(game, 0)
	if ms.WinnerIndex == nil || *ms.WinnerIndex != 1 {
		t.Errorf("WinnerIndex = %v, want 1 (non-initiator)", ms.WinnerIndex)
	}
	if ms.LoserIndex == nil || *ms.LoserIndex != 0 {
		t.Errorf("LoserIndex = %v, want 0 (initiator)", ms.LoserIndex)
	}
}

func TestWinnerStocksFallback(t *testing.T) {
	game := decodeOrFail(t, comboGame().Build())
	ms := Compute(game, 0)
	if ms.WinnerIndex == nil || *ms.WinnerIndex != 0 {
		t.Errorf("WinnerIndex = %v, want 0 (more stocks)", ms.WinnerIndex)
	}
	if ms.LoserIndex == nil || *ms.LoserIndex != 1 {
		t.Errorf("LoserIndex = %v, want 1", ms.LoserIndex)
	}
}

func TestWinnerUnresolvedTie(t *testing.T) {
	b := replaytest.NewBuilder()
	for f := 0; f < 30; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{
			0: {ActionState: 14, Stocks: 4},
			1: {ActionState: 14, Stocks: 4},
		})
	}
	game := decodeOrFail(t, b.Build())
	ms := Compute(game, 0)
	if ms.WinnerIndex != nil || ms.LoserIndex != nil {
		t.Errorf("winner/loser = %v/%v, want nil/nil on tie", ms.WinnerIndex, ms.LoserIndex)
	}
}

func TestLCancelDetection(t *testing.T) {
	b := replaytest.NewBuilder()
	standing := replaytest.FrameState{ActionState: 14, Stocks: 4}
	p1 := standing

	frame := 0
	add := func(st replaytest.FrameState) {
		b.AddFrame(frame, map[int]replaytest.FrameState{0: st, 1: p1})
		frame++
	}

	for i := 0; i < 10; i++ {
		add(standing)
	}
	// Aerial with a trigger press three frames before landing: success.
	add(replaytest.FrameState{ActionState: 65, Stocks: 4, Airborne: true})
	add(replaytest.FrameState{ActionState: 65, Stocks: 4, Airborne: true})
	add(replaytest.FrameState{ActionState: 65, Stocks: 4, Airborne: true, Trigger: 0.8})
	add(replaytest.FrameState{ActionState: 65, Stocks: 4, Airborne: true, Trigger: 0.8})
	add(replaytest.FrameState{ActionState: 70, Stocks: 4})
	for i := 0; i < 10; i++ {
		add(standing)
	}
	// Aerial with no trigger press: fail.
	add(replaytest.FrameState{ActionState: 66, Stocks: 4, Airborne: true})
	add(replaytest.FrameState{ActionState: 66, Stocks: 4, Airborne: true})
	add(replaytest.FrameState{ActionState: 71, Stocks: 4})
	for i := 0; i < 5; i++ {
		add(standing)
	}

	game := decodeOrFail(t, b.Build())
	ms := Compute(game, 0)
	p0 := playerRow(t, ms, 0)
	if p0.LCancelSuccessCount != 1 {
		t.Errorf("LCancelSuccessCount = %d, want 1", p0.LCancelSuccessCount)
	}
	if p0.LCancelFailCount != 1 {
		t.Errorf("LCancelFailCount = %d, want 1", p0.LCancelFailCount)
	}
}

func TestWavedashDetection(t *testing.T) {
	b := replaytest.NewBuilder()
	standing := replaytest.FrameState{ActionState: 14, Stocks: 4}
	p1 := standing

	frame := 0
	add := func(st replaytest.FrameState) {
		b.AddFrame(frame, map[int]replaytest.FrameState{0: st, 1: p1})
		frame++
	}

	for i := 0; i < 5; i++ {
		add(standing)
	}
	// Jumpsquat, immediate airdodge at a downward diagonal, landing.
	add(replaytest.FrameState{ActionState: 24, Stocks: 4})
	add(replaytest.FrameState{ActionState: 236, Stocks: 4, Airborne: true, JoyX: 0.9, JoyY: -0.5})
	add(replaytest.FrameState{ActionState: 42, Stocks: 4, JoyX: 0.9, JoyY: -0.5})
	for i := 0; i < 20; i++ {
		add(standing)
	}
	// Airdodge to ground with no recent jumpsquat: waveland.
	add(replaytest.FrameState{ActionState: 236, Stocks: 4, Airborne: true, JoyX: -0.8, JoyY: -0.4})
	add(replaytest.FrameState{ActionState: 42, Stocks: 4, JoyX: -0.8, JoyY: -0.4})
	for i := 0; i < 5; i++ {
		add(standing)
	}

	game := decodeOrFail(t, b.Build())
	ms := Compute(game, 0)
	p0 := playerRow(t, ms, 0)
	if p0.WavedashCount != 1 {
		t.Errorf("WavedashCount = %d, want 1", p0.WavedashCount)
	}
	if p0.WavelandCount != 1 {
		t.Errorf("WavelandCount = %d, want 1", p0.WavelandCount)
	}
	if p0.AirDodgeCount != 2 {
		t.Errorf("AirDodgeCount = %d, want 2", p0.AirDodgeCount)
	}
}

func TestCounterHitClassification(t *testing.T) {
	b := replaytest.NewBuilder()
	standing := replaytest.FrameState{ActionState: 14, Stocks: 4}

	for f := 0; f < 20; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{0: standing, 1: standing})
	}
	// Player 1 commits to a spot dodge, then gets hit out of it.
	b.AddFrame(20, map[int]replaytest.FrameState{0: standing, 1: {ActionState: 235, Stocks: 4}})
	b.AddFrame(21, map[int]replaytest.FrameState{0: standing, 1: {ActionState: 75, Percent: 10, Stocks: 4}})
	for f := 22; f < 80; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{0: standing, 1: {ActionState: 14, Percent: 10, Stocks: 4}})
	}

	game := decodeOrFail(t, b.Build())
	convs := ExtractConversions(game, 0)
	if len(convs[0]) != 1 {
		t.Fatalf("len(conversions) = %d, want 1", len(convs[0]))
	}
	if got := convs[0][0].OpeningType; got != models.OpeningCounter {
		t.Errorf("OpeningType = %q, want counter", got)
	}
}

func TestTradeClassification(t *testing.T) {
	b := replaytest.NewBuilder()
	standing := replaytest.FrameState{ActionState: 14, Stocks: 4}

	for f := 0; f < 20; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{0: standing, 1: standing})
	}
	// Both players land hits on the same frame.
	b.AddFrame(20, map[int]replaytest.FrameState{
		0: {ActionState: 75, Percent: 8, Stocks: 4},
		1: {ActionState: 75, Percent: 14, Stocks: 4},
	})
	for f := 21; f < 80; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{
			0: {ActionState: 14, Percent: 8, Stocks: 4},
			1: {ActionState: 14, Percent: 14, Stocks: 4},
		})
	}

	game := decodeOrFail(t, b.Build())
	convs := ExtractConversions(game, 0)
	if len(convs[0]) != 1 {
		t.Fatalf("len(conversions) = %d, want 1", len(convs[0]))
	}
	if got := convs[0][0].OpeningType; got != models.OpeningTrade {
		t.Errorf("OpeningType = %q, want trade", got)
	}

	ms := Compute(game, 0)
	p0 := playerRow(t, ms, 0)
	// 14% dealt against 8% taken in the window: beneficial for player 0.
	if p0.BeneficialTradeRatio == nil || *p0.BeneficialTradeRatio != 1 {
		t.Errorf("BeneficialTradeRatio = %v, want 1", p0.BeneficialTradeRatio)
	}
}

func TestGapSplitsConversions(t *testing.T) {
	b := replaytest.NewBuilder()
	standing := replaytest.FrameState{ActionState: 14, Stocks: 4}

	for f := 0; f < 10; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{0: standing, 1: standing})
	}
	b.AddFrame(10, map[int]replaytest.FrameState{0: standing, 1: {ActionState: 75, Percent: 10, Stocks: 4}})
	for f := 11; f < 100; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{0: standing, 1: {ActionState: 14, Percent: 10, Stocks: 4}})
	}
	// Second hit lands well past the gap threshold.
	b.AddFrame(100, map[int]replaytest.FrameState{0: standing, 1: {ActionState: 75, Percent: 22, Stocks: 4}})
	for f := 101; f < 160; f++ {
		b.AddFrame(f, map[int]replaytest.FrameState{0: standing, 1: {ActionState: 14, Percent: 22, Stocks: 4}})
	}

	game := decodeOrFail(t, b.Build())
	convs := ExtractConversions(game, 45)
	if len(convs[0]) != 2 {
		t.Fatalf("len(conversions) = %d, want 2 across the gap", len(convs[0]))
	}
	if convs[0][0].EndFrame != 10 || convs[0][1].StartFrame != 100 {
		t.Errorf("conversion boundaries = %d / %d, want 10 / 100",
			convs[0][0].EndFrame, convs[0][1].StartFrame)
	}
}
