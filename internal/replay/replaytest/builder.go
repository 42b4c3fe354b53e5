// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package replaytest builds synthetic replay binaries for tests. The
// builder emits the same wire layout the decoder consumes, so tests can
// script percent, stock, and action-state sequences without fixture files.
package replaytest

import (
	"encoding/binary"
	"math"
)

const (
	cmdEventPayloads = 0x35
	cmdGameStart     = 0x36
	cmdPreFrame      = 0x37
	cmdPostFrame     = 0x38
	cmdGameEnd       = 0x39

	gameStartSize = 0x242
	preFrameSize  = 0x1E
	postFrameSize = 0x14
	gameEndSize   = 0x06
)

// PlayerConfig seeds one occupied port in the game start block.
type PlayerConfig struct {
	Index          int
	CharacterID    int
	CharacterColor int
	PlayerType     int
	StartStocks    int
	DisplayName    string
	ConnectCode    string
}

// FrameState is one player's scripted state for one frame. Zero values are
// valid: a standing player at 0% with default inputs.
type FrameState struct {
	ActionState uint16
	Percent     float32
	Shield      float32
	Stocks      int
	LastHitBy   int
	Airborne    bool

	Buttons uint32
	JoyX    float32
	JoyY    float32
	CStickX float32
	CStickY float32
	Trigger float32
}

type frameEvent struct {
	frame int
	index int
	state FrameState
}

// Builder accumulates settings and scripted frames, then assembles the
// binary with Build.
type Builder struct {
	stageID    int
	isPAL      bool
	matchID    string
	gameNumber int
	players    []PlayerConfig

	events []frameEvent

	hasEnd     bool
	endMethod  int
	endLRAS    int
	placements [4]int

	startAt  string
	playedOn string
}

// NewBuilder returns a builder seeded with a two-player, four-stock game
// on Battlefield (stage 31). Tests override what they care about.
func NewBuilder() *Builder {
	return &Builder{
		stageID: 31,
		players: []PlayerConfig{
			{Index: 0, CharacterID: 2, StartStocks: 4, DisplayName: "P1", ConnectCode: "AAAA#123"},
			{Index: 1, CharacterID: 9, StartStocks: 4, DisplayName: "P2", ConnectCode: "BBBB#456"},
		},
		endLRAS:    -1,
		placements: [4]int{-1, -1, -1, -1},
	}
}

func (b *Builder) WithStage(id int) *Builder {
	b.stageID = id
	return b
}

func (b *Builder) WithPAL(pal bool) *Builder {
	b.isPAL = pal
	return b
}

func (b *Builder) WithMatchID(id string, gameNumber int) *Builder {
	b.matchID = id
	b.gameNumber = gameNumber
	return b
}

func (b *Builder) WithPlayers(players ...PlayerConfig) *Builder {
	b.players = players
	return b
}

func (b *Builder) WithMetadata(startAt, playedOn string) *Builder {
	b.startAt = startAt
	b.playedOn = playedOn
	return b
}

// AddFrame scripts one frame for the given players. Calling it again with
// the same frame index emits a rollback resend; the decoder keeps the last
// write.
func (b *Builder) AddFrame(frame int, states map[int]FrameState) *Builder {
	for i := 0; i < 4; i++ {
		st, ok := states[i]
		if !ok {
			continue
		}
		b.events = append(b.events, frameEvent{frame: frame, index: i, state: st})
	}
	return b
}

// AddIdleFrames scripts n consecutive quiet frames starting at frame,
// carrying each listed player's state forward unchanged.
func (b *Builder) AddIdleFrames(frame, n int, states map[int]FrameState) *Builder {
	for f := frame; f < frame+n; f++ {
		b.AddFrame(f, states)
	}
	return b
}

// End appends the terminal game-end event.
func (b *Builder) End(method, lrasInitiator int, placements [4]int) *Builder {
	b.hasEnd = true
	b.endMethod = method
	b.endLRAS = lrasInitiator
	b.placements = placements
	return b
}

// Build assembles the replay binary.
func (b *Builder) Build() []byte {
	raw := b.buildEventPayloads()
	raw = append(raw, b.buildGameStart()...)
	for _, ev := range b.events {
		raw = append(raw, b.buildPreFrame(ev)...)
		raw = append(raw, b.buildPostFrame(ev)...)
	}
	if b.hasEnd {
		raw = append(raw, b.buildGameEnd()...)
	}

	out := []byte{'{', 'U', 0x03, 'r', 'a', 'w', '[', '$', 'U', '#', 'l'}
	out = binary.BigEndian.AppendUint32(out, uint32(len(raw)))
	out = append(out, raw...)
	out = append(out, b.buildMetadata()...)
	out = append(out, '}')
	return out
}

func (b *Builder) buildEventPayloads() []byte {
	p := []byte{cmdEventPayloads, 1 + 4*3}
	for _, e := range []struct {
		cmd  byte
		size uint16
	}{
		{cmdGameStart, gameStartSize},
		{cmdPreFrame, preFrameSize},
		{cmdPostFrame, postFrameSize},
		{cmdGameEnd, gameEndSize},
	} {
		p = append(p, e.cmd)
		p = binary.BigEndian.AppendUint16(p, e.size)
	}
	return p
}

func (b *Builder) buildGameStart() []byte {
	p := make([]byte, 1+gameStartSize)
	p[0] = cmdGameStart
	body := p[1:]

	copy(body[0:], []byte{3, 16, 0, 0}) // replay format version
	binary.BigEndian.PutUint16(body[0x12:], uint16(b.stageID))

	// Empty ports first, occupied ports overwrite below.
	for i := 0; i < 4; i++ {
		body[0x60+i*0x24+1] = 3
	}
	for _, pc := range b.players {
		block := body[0x60+pc.Index*0x24:]
		block[0] = byte(pc.CharacterID)
		block[1] = byte(pc.PlayerType)
		block[2] = byte(pc.StartStocks)
		block[3] = byte(pc.CharacterColor)

		names := body[0x1DA+pc.Index*0x1A:]
		copy(names[:0x10], pc.DisplayName)
		copy(names[0x10:0x1A], pc.ConnectCode)
	}

	if b.isPAL {
		body[0x1A0] = 1
	}
	copy(body[0x1A4:0x1A4+50], b.matchID)
	binary.BigEndian.PutUint32(body[0x1D6:], uint32(b.gameNumber))
	return p
}

func (b *Builder) buildPreFrame(ev frameEvent) []byte {
	p := make([]byte, 1+preFrameSize)
	p[0] = cmdPreFrame
	body := p[1:]

	binary.BigEndian.PutUint32(body[0:], uint32(int32(ev.frame)))
	body[4] = byte(ev.index)
	binary.BigEndian.PutUint32(body[6:], ev.state.Buttons)
	putFloat32(body[0x0A:], ev.state.JoyX)
	putFloat32(body[0x0E:], ev.state.JoyY)
	putFloat32(body[0x12:], ev.state.CStickX)
	putFloat32(body[0x16:], ev.state.CStickY)
	putFloat32(body[0x1A:], ev.state.Trigger)
	return p
}

func (b *Builder) buildPostFrame(ev frameEvent) []byte {
	p := make([]byte, 1+postFrameSize)
	p[0] = cmdPostFrame
	body := p[1:]

	binary.BigEndian.PutUint32(body[0:], uint32(int32(ev.frame)))
	body[4] = byte(ev.index)
	body[6] = byte(b.internalCharacter(ev.index))
	binary.BigEndian.PutUint16(body[7:], ev.state.ActionState)
	putFloat32(body[9:], ev.state.Percent)
	putFloat32(body[0x0D:], ev.state.Shield)
	body[0x11] = byte(ev.state.Stocks)
	body[0x12] = byte(ev.state.LastHitBy)
	if ev.state.Airborne {
		body[0x13] = 1
	}
	return p
}

func (b *Builder) buildGameEnd() []byte {
	p := make([]byte, 1+gameEndSize)
	p[0] = cmdGameEnd
	p[1] = byte(b.endMethod)
	p[2] = byte(int8(b.endLRAS))
	for i := 0; i < 4; i++ {
		p[3+i] = byte(int8(b.placements[i]))
	}
	return p
}

func (b *Builder) buildMetadata() []byte {
	if b.startAt == "" && b.playedOn == "" {
		return nil
	}
	out := []byte{'U', 8}
	out = append(out, "metadata"...)
	out = append(out, '{')
	if b.startAt != "" {
		out = appendStringPair(out, "startAt", b.startAt)
	}
	if b.playedOn != "" {
		out = appendStringPair(out, "playedOn", b.playedOn)
	}
	out = append(out, '}')
	return out
}

func (b *Builder) internalCharacter(index int) int {
	for _, pc := range b.players {
		if pc.Index == index {
			return pc.CharacterID
		}
	}
	return 0
}

func appendStringPair(dst []byte, key, val string) []byte {
	dst = append(dst, 'U', byte(len(key)))
	dst = append(dst, key...)
	dst = append(dst, 'S', 'U', byte(len(val)))
	return append(dst, val...)
}

func putFloat32(p []byte, v float32) {
	binary.BigEndian.PutUint32(p, math.Float32bits(v))
}
