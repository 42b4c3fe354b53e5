// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package replay

import (
	"bytes"
	"encoding/binary"
	"math"
)

// rawHeader is the UBJSON wrapper announcing the raw game-data element:
// an object opening, the "raw" key, and a strongly-typed uint8 array whose
// int32 length follows immediately.
var rawHeader = []byte{'{', 'U', 0x03, 'r', 'a', 'w', '[', '$', 'U', '#', 'l'}

// Minimum payload sizes per command. Newer replay versions may declare
// larger payloads; the extra bytes are skipped.
const (
	gameStartMinSize = 0x242
	preFrameMinSize  = 0x1E
	postFrameMinSize = 0x14
	gameEndMinSize   = 0x06
)

// Offsets within the game start payload.
const (
	gsVersionOff     = 0x00
	gsStageOff       = 0x12
	gsPlayerBlockOff = 0x60
	gsPlayerBlockLen = 0x24
	gsPALOff         = 0x1A0
	gsMatchIDOff     = 0x1A4
	gsMatchIDLen     = 50
	gsGameNumberOff  = 0x1D6
	gsNameBlockOff   = 0x1DA
	gsNameBlockLen   = 0x1A
	gsDisplayNameLen = 0x10
	gsConnectCodeLen = 0x0A
)

// Decode parses a full replay: settings, every frame, and the terminal
// game-end marker when present. It returns a *DecodeError when the byte
// stream is truncated, the header is unrecognized, a command was not
// declared in the event-payloads table, or a frame references a player
// absent from settings.
func Decode(data []byte) (*Game, error) {
	return decode(data, true)
}

// DecodeLite parses the same stream but does not retain per-frame data;
// only settings, the game-end marker, total frame count, and each player's
// final post-frame state are populated. Used by the indexer sweep, which
// needs stage, duration, and outcome but not the full event sequence.
func DecodeLite(data []byte) (*Game, error) {
	return decode(data, false)
}

func decode(data []byte, keepFrames bool) (*Game, error) {
	if len(data) < len(rawHeader)+4 {
		return nil, decodeErrorf(0, "stream too short for raw header (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:len(rawHeader)], rawHeader) {
		return nil, decodeErrorf(0, "unrecognized header")
	}

	rawLen := int(binary.BigEndian.Uint32(data[len(rawHeader):]))
	rawStart := len(rawHeader) + 4
	if rawLen < 0 || rawStart+rawLen > len(data) {
		return nil, decodeErrorf(rawStart, "declared raw length %d exceeds stream", rawLen)
	}
	raw := data[rawStart : rawStart+rawLen]

	d := &decoder{raw: raw, base: rawStart, keepFrames: keepFrames}
	if err := d.run(); err != nil {
		return nil, err
	}

	game := &Game{
		Settings:    d.settings,
		Frames:      d.frames,
		End:         d.end,
		TotalFrames: d.frameCount,
		FinalPosts:  d.finalPosts,
	}
	game.Meta = parseMetadata(data[rawStart+rawLen:])
	return game, nil
}

// decoder walks the command-framed event stream.
type decoder struct {
	raw        []byte
	base       int // offset of raw[0] in the original stream, for errors
	keepFrames bool

	payloadSizes [256]int
	haveSettings bool
	settings     GameSettings
	end          *GameEnd

	frames     []Frame
	framePos   map[int]int
	frameCount int
	lastFrame  int
	finalPosts [maxPlayers]*PostFrame
}

func (d *decoder) run() error {
	d.framePos = make(map[int]int)
	d.lastFrame = math.MinInt

	pos := 0
	if len(d.raw) == 0 {
		return decodeErrorf(d.base, "empty raw element")
	}
	if d.raw[pos] != cmdEventPayloads {
		return decodeErrorf(d.base+pos, "expected event payloads command, got 0x%02x", d.raw[pos])
	}
	n, err := d.readEventPayloads(pos + 1)
	if err != nil {
		return err
	}
	pos += 1 + n

	for pos < len(d.raw) {
		cmd := d.raw[pos]
		size := d.payloadSizes[cmd]
		if size == 0 {
			return decodeErrorf(d.base+pos, "command 0x%02x not declared in event payloads", cmd)
		}
		if pos+1+size > len(d.raw) {
			return decodeErrorf(d.base+pos, "truncated payload for command 0x%02x", cmd)
		}
		payload := d.raw[pos+1 : pos+1+size]

		switch cmd {
		case cmdGameStart:
			if err := d.readGameStart(payload, pos); err != nil {
				return err
			}
		case cmdPreFrame:
			if err := d.readPreFrame(payload, pos); err != nil {
				return err
			}
		case cmdPostFrame:
			if err := d.readPostFrame(payload, pos); err != nil {
				return err
			}
		case cmdGameEnd:
			d.readGameEnd(payload)
		default:
			// Declared but unknown command from a newer replay version: skip.
		}
		pos += 1 + size
	}

	if !d.haveSettings {
		return decodeErrorf(d.base+len(d.raw), "stream ended without a game start event")
	}
	return nil
}

// readEventPayloads parses the size table. Returns the number of bytes
// consumed after the command byte.
func (d *decoder) readEventPayloads(pos int) (int, error) {
	if pos >= len(d.raw) {
		return 0, decodeErrorf(d.base+pos, "truncated event payloads")
	}
	selfSize := int(d.raw[pos])
	if selfSize < 1 || (selfSize-1)%3 != 0 {
		return 0, decodeErrorf(d.base+pos, "malformed event payloads size %d", selfSize)
	}
	if pos+selfSize > len(d.raw) {
		return 0, decodeErrorf(d.base+pos, "truncated event payloads table")
	}
	for i := pos + 1; i < pos+selfSize; i += 3 {
		cmd := d.raw[i]
		d.payloadSizes[cmd] = int(binary.BigEndian.Uint16(d.raw[i+1 : i+3]))
	}
	if err := d.checkDeclaredSize(cmdGameStart, gameStartMinSize, pos); err != nil {
		return 0, err
	}
	if err := d.checkDeclaredSize(cmdPreFrame, preFrameMinSize, pos); err != nil {
		return 0, err
	}
	if err := d.checkDeclaredSize(cmdPostFrame, postFrameMinSize, pos); err != nil {
		return 0, err
	}
	if err := d.checkDeclaredSize(cmdGameEnd, gameEndMinSize, pos); err != nil {
		return 0, err
	}
	return selfSize, nil
}

func (d *decoder) checkDeclaredSize(cmd byte, minSize, pos int) error {
	if s := d.payloadSizes[cmd]; s != 0 && s < minSize {
		return decodeErrorf(d.base+pos, "declared size %d for command 0x%02x below minimum %d", s, cmd, minSize)
	}
	return nil
}

func (d *decoder) readGameStart(p []byte, pos int) error {
	if d.haveSettings {
		return decodeErrorf(d.base+pos, "duplicate game start event")
	}

	var s GameSettings
	copy(s.Version[:], p[gsVersionOff:gsVersionOff+4])
	s.StageID = int(binary.BigEndian.Uint16(p[gsStageOff:]))
	s.IsPAL = p[gsPALOff] != 0
	s.MatchID = cString(p[gsMatchIDOff : gsMatchIDOff+gsMatchIDLen])
	s.GameNumber = int(binary.BigEndian.Uint32(p[gsGameNumberOff:]))

	for i := 0; i < maxPlayers; i++ {
		block := p[gsPlayerBlockOff+i*gsPlayerBlockLen:]
		playerType := int(block[1])
		if playerType == PlayerTypeEmpty {
			continue
		}
		names := p[gsNameBlockOff+i*gsNameBlockLen:]
		s.Players = append(s.Players, PlayerSettings{
			Index:          i,
			Port:           i + 1,
			CharacterID:    int(block[0]),
			PlayerType:     playerType,
			StartStocks:    int(block[2]),
			CharacterColor: int(block[3]),
			DisplayName:    cString(names[:gsDisplayNameLen]),
			ConnectCode:    cString(names[gsDisplayNameLen : gsDisplayNameLen+gsConnectCodeLen]),
		})
	}
	if len(s.Players) == 0 {
		return decodeErrorf(d.base+pos, "game start declares no occupied ports")
	}

	d.settings = s
	d.haveSettings = true
	return nil
}

func (d *decoder) readPreFrame(p []byte, pos int) error {
	if !d.haveSettings {
		return decodeErrorf(d.base+pos, "pre-frame event before game start")
	}
	idx := int(p[4])
	if p[5] != 0 {
		return nil // follower (e.g. Nana); leader frames carry the stats
	}
	if err := d.checkPlayerIndex(idx, pos); err != nil {
		return err
	}

	pre := PreFrame{
		Frame:       int(int32(binary.BigEndian.Uint32(p[0:]))),
		PlayerIndex: idx,
		Buttons:     binary.BigEndian.Uint32(p[6:]),
		JoyX:        beFloat32(p[0x0A:]),
		JoyY:        beFloat32(p[0x0E:]),
		CStickX:     beFloat32(p[0x12:]),
		CStickY:     beFloat32(p[0x16:]),
		Trigger:     beFloat32(p[0x1A:]),
	}
	pf := d.playerFrame(pre.Frame, idx)
	if pf != nil {
		pf.Pre = pre
	}
	return nil
}

func (d *decoder) readPostFrame(p []byte, pos int) error {
	if !d.haveSettings {
		return decodeErrorf(d.base+pos, "post-frame event before game start")
	}
	idx := int(p[4])
	if p[5] != 0 {
		return nil
	}
	if err := d.checkPlayerIndex(idx, pos); err != nil {
		return err
	}

	post := PostFrame{
		Frame:               int(int32(binary.BigEndian.Uint32(p[0:]))),
		PlayerIndex:         idx,
		InternalCharacterID: int(p[6]),
		ActionState:         binary.BigEndian.Uint16(p[7:]),
		Percent:             beFloat32(p[9:]),
		Shield:              beFloat32(p[0x0D:]),
		StocksRemaining:     int(p[0x11]),
		LastHitBy:           int(p[0x12]),
		Airborne:            p[0x13] != 0,
	}
	pf := d.playerFrame(post.Frame, idx)
	if pf != nil {
		pf.Post = post
	}
	cp := post
	d.finalPosts[idx] = &cp
	return nil
}

func (d *decoder) readGameEnd(p []byte) {
	end := &GameEnd{
		Method:        int(p[0]),
		LRASInitiator: int(int8(p[1])),
	}
	for i := 0; i < maxPlayers; i++ {
		end.Placements[i] = int(int8(p[2+i]))
	}
	d.end = end
}

func (d *decoder) checkPlayerIndex(idx, pos int) error {
	if idx < 0 || idx >= maxPlayers || d.settings.Player(idx) == nil {
		return decodeErrorf(d.base+pos, "frame references player %d absent from settings", idx)
	}
	return nil
}

// playerFrame returns the mutable per-player slot for the given frame,
// advancing the frame count on first sight. A re-sent frame number is a
// rollback: the slot is reused so the last write wins. In lite mode frames
// are not retained and nil is returned.
func (d *decoder) playerFrame(frame, idx int) *PlayerFrame {
	if frame > d.lastFrame {
		d.lastFrame = frame
		d.frameCount++
	}
	if !d.keepFrames {
		return nil
	}
	at, ok := d.framePos[frame]
	if !ok {
		d.frames = append(d.frames, Frame{Index: frame})
		at = len(d.frames) - 1
		d.framePos[frame] = at
	}
	f := &d.frames[at]
	if f.Players[idx] == nil {
		f.Players[idx] = &PlayerFrame{}
	}
	return f.Players[idx]
}

func beFloat32(p []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(p))
}

// cString returns the bytes up to the first NUL as a string.
func cString(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}
