// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package stats

// Melee action state IDs referenced by the detectors. Only the states the
// aggregator inspects are named; the full table runs to ~380 entries.
const (
	stateWait     = 14
	stateDash     = 20
	stateRun      = 21
	stateKneeBend = 24 // jumpsquat

	stateLanding            = 42
	stateLandingFallSpecial = 43

	stateLandingAirFirst = 70 // aerial landing lag, nair
	stateLandingAirLast  = 74 // aerial landing lag, dair

	stateDamageFirst = 75 // DamageHi1
	stateDamageLast  = 91 // DamageFlyRoll

	stateGuardOn  = 178
	stateGuardHit = 182

	stateTechInPlace  = 199
	stateTechRollF    = 200
	stateTechRollB    = 201
	stateWallTech     = 202
	stateWallTechJump = 203
	stateCeilingTech  = 204

	stateCatch     = 212
	stateCatchDash = 214

	stateThrowF  = 219
	stateThrowLw = 222

	stateCapturedFirst = 223
	stateCapturedLast  = 232

	stateEscapeF   = 233 // roll forward
	stateEscapeB   = 234 // roll backward
	stateEscape    = 235 // spot dodge
	stateEscapeAir = 236 // air dodge

	stateCliffCatch = 252
)

// Digital trigger and Z button bits in the pre-frame button mask. Z counts
// for L-cancel purposes because it registers a light shield press.
const lCancelButtons = 0x0040 | 0x0020 | 0x0010

// lCancelWindow is how many frames before an aerial landing a trigger press
// still cancels the landing lag.
const lCancelWindow = 7

func isHitstun(state uint16) bool {
	if state >= stateDamageFirst && state <= stateDamageLast {
		return true
	}
	return state >= stateCapturedFirst && state <= stateCapturedLast
}

func isShielding(state uint16) bool {
	return state >= stateGuardOn && state <= stateGuardHit
}

// isNeutral reports ground movement and landing states, the positions a
// player escapes to when a punish sequence ends.
func isNeutral(state uint16) bool {
	switch {
	case state >= stateWait && state <= stateRun:
		return true
	case state == stateLanding || state == stateLandingFallSpecial:
		return true
	}
	return false
}

func isAerialLanding(state uint16) bool {
	return state >= stateLandingAirFirst && state <= stateLandingAirLast
}

func isGroundTech(state uint16) bool {
	return state >= stateTechInPlace && state <= stateTechRollB
}

func isGrab(state uint16) bool {
	return state >= stateCatch && state <= stateCatchDash
}

func isThrow(state uint16) bool {
	return state >= stateThrowF && state <= stateThrowLw
}

func isRoll(state uint16) bool {
	return state == stateEscapeF || state == stateEscapeB
}

func isLandingState(state uint16) bool {
	return state == stateLanding || state == stateLandingFallSpecial
}
