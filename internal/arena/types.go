package arena

import (
	"strconv"
	"time"
)

// Side identifies a participant ordinal. White moves first.
type Side int

const (
	White Side = iota
	Black
)

func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

func (s Side) String() string {
	if s == White {
		return "white"
	}
	return "black"
}

// Winner returns the winner token crediting this side.
func (s Side) Winner() Winner {
	if s == White {
		return WinnerWhite
	}
	return WinnerBlack
}

// TimeControl is the per-side thinking budget in whole seconds.
type TimeControl int

// DefaultTimeControls are the 3, 5 and 10 minute pools.
var DefaultTimeControls = []TimeControl{180, 300, 600}

func (tc TimeControl) Duration() time.Duration { return time.Duration(tc) * time.Second }

func (tc TimeControl) String() string { return strconv.Itoa(int(tc)) }

// Reason classifies how a session ended.
type Reason string

const (
	ReasonCheckmate     Reason = "checkmate"
	ReasonTimeout       Reason = "timeout"
	ReasonResignation   Reason = "resignation"
	ReasonDisconnection Reason = "disconnection"
	ReasonDraw          Reason = "draw"
)

// Winner is the result token sent in game_over.
type Winner string

const (
	WinnerWhite Winner = "white"
	WinnerBlack Winner = "black"
	WinnerDraw  Winner = "draw"
)

// Status values carried by game_status frames.
const (
	StatusCheck                = "check"
	StatusCheckmate            = "checkmate"
	StatusStalemate            = "stalemate"
	StatusThreefoldRepetition  = "threefold repetition"
	StatusInsufficientMaterial = "insufficient material"
	StatusDraw                 = "draw"
)

// Conn is the transport handle the core writes to. Implementations must be
// comparable; equality is identity.
type Conn interface {
	ID() string
	Send(frame []byte)
}

// Move is a board move in coordinate form ("e2" -> "e4", optional promotion piece).
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// Engine is the authoritative board for one session.
// ApplyMove must leave the board untouched when it returns an error.
type Engine interface {
	ApplyMove(mv Move) error
	Turn() Side
	IsCheck() bool
	IsCheckmate() bool
	IsStalemate() bool
	IsDraw() bool
	IsThreefoldRepetition() bool
	IsInsufficientMaterial() bool
	Reset()
}

// EngineFactory builds a fresh board for a new session.
type EngineFactory func() Engine
