// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package replay decodes Slippi match-replay binaries into structured
// per-frame records. Decoding is a pure function over bytes and is
// all-or-nothing: a malformed stream yields a *DecodeError and no Game,
// because partial statistics are worse than no statistics.
package replay

// Command bytes framing the event stream inside the raw element.
const (
	cmdEventPayloads = 0x35
	cmdGameStart     = 0x36
	cmdPreFrame      = 0x37
	cmdPostFrame     = 0x38
	cmdGameEnd       = 0x39
)

// maxPlayers is the number of controller ports.
const maxPlayers = 4

// Player slot types in the game start block.
const (
	PlayerTypeHuman = 0
	PlayerTypeCPU   = 1
	PlayerTypeDemo  = 2
	PlayerTypeEmpty = 3
)

// GameSettings is the top-level configuration decoded from the game start
// event: stage, player table, PAL flag, and tournament-set numbering.
type GameSettings struct {
	Version    [4]uint8
	StageID    int
	IsPAL      bool
	MatchID    string // empty outside tournament sets
	GameNumber int
	Players    []PlayerSettings // occupied ports only, ascending index
}

// PlayerSettings describes one occupied port.
type PlayerSettings struct {
	Index          int // 0-based port index, stable across the event stream
	Port           int // 1-based display port
	CharacterID    int
	CharacterColor int
	PlayerType     int
	StartStocks    int
	DisplayName    string
	ConnectCode    string
}

// Player returns the settings entry for a 0-based port index, or nil.
func (s *GameSettings) Player(index int) *PlayerSettings {
	for i := range s.Players {
		if s.Players[i].Index == index {
			return &s.Players[i]
		}
	}
	return nil
}

// PreFrame carries one player's inputs for one frame.
type PreFrame struct {
	Frame       int
	PlayerIndex int
	Buttons     uint32
	JoyX        float32
	JoyY        float32
	CStickX     float32
	CStickY     float32
	Trigger     float32
}

// PostFrame carries one player's simulation state after one frame.
type PostFrame struct {
	Frame               int
	PlayerIndex         int
	InternalCharacterID int
	ActionState         uint16
	Percent             float32
	Shield              float32
	StocksRemaining     int
	LastHitBy           int
	Airborne            bool
}

// PlayerFrame pairs the pre and post events of one player on one frame.
type PlayerFrame struct {
	Pre  PreFrame
	Post PostFrame
}

// Frame holds every player's state for one frame index. Unoccupied ports
// are nil.
type Frame struct {
	Index   int
	Players [maxPlayers]*PlayerFrame
}

// GameEnd is the terminal marker. LRASInitiator is -1 unless the match
// ended by withdrawal. Placements holds the final position per port index
// (0 = first place), -1 where unset.
type GameEnd struct {
	Method        int
	LRASInitiator int
	Placements    [maxPlayers]int
}

// Metadata is the optional trailing block. Fields are empty when absent.
type Metadata struct {
	StartAt  string // ISO 8601
	PlayedOn string // e.g. "dolphin", "console"
}

// Game is a fully decoded replay. Frames is nil when decoded with
// DecodeLite; FinalPosts and TotalFrames are populated either way so the
// indexer can derive duration and outcome without retaining frame data.
type Game struct {
	Settings GameSettings
	Frames   []Frame
	End      *GameEnd // nil when the replay was cut off before game end
	Meta     Metadata

	// TotalFrames is the count of distinct frame indexes observed.
	TotalFrames int

	// FinalPosts is each player's last post-frame state at the decode
	// horizon, nil for unoccupied ports.
	FinalPosts [maxPlayers]*PostFrame
}
