package arena

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire type tokens. Inbound and outbound share move, offer_draw and draw_response.
const (
	TypeJoinQueue    = "join_queue"
	TypeMove         = "move"
	TypeResign       = "resign"
	TypeOfferDraw    = "offer_draw"
	TypeDrawResponse = "draw_response"
	TypeInitGame     = "init_game"
	TypeClockUpdate  = "clock_update"
	TypeGameStatus   = "game_status"
	TypeGameOver     = "game_over"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// Envelope is the frame wrapper: one JSON object per frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is the closed set of client requests.
type Inbound interface{ inbound() }

type JoinQueue struct {
	TimeLimit TimeControl `json:"timeLimit"`
}

type SubmitMove struct {
	Move Move
}

type Resign struct{}

type OfferDraw struct{}

type DrawResponse struct {
	Accepted bool `json:"accepted"`
}

func (JoinQueue) inbound()    {}
func (SubmitMove) inbound()   {}
func (Resign) inbound()       {}
func (OfferDraw) inbound()    {}
func (DrawResponse) inbound() {}

// DecodeInbound parses one client frame into its variant.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Type {
	case TypeJoinQueue:
		var p JoinQueue
		if err := decodePayload(env.Payload, &p, true); err != nil {
			return nil, err
		}
		return p, nil
	case TypeMove:
		var mv Move
		if err := decodePayload(env.Payload, &mv, true); err != nil {
			return nil, err
		}
		mv.From = strings.ToLower(strings.TrimSpace(mv.From))
		mv.To = strings.ToLower(strings.TrimSpace(mv.To))
		mv.Promotion = strings.ToLower(strings.TrimSpace(mv.Promotion))
		if mv.From == "" || mv.To == "" {
			return nil, fmt.Errorf("%w: move needs from and to", ErrMalformed)
		}
		return SubmitMove{Move: mv}, nil
	case TypeResign:
		return Resign{}, nil
	case TypeOfferDraw:
		return OfferDraw{}, nil
	case TypeDrawResponse:
		var p DrawResponse
		if err := decodePayload(env.Payload, &p, true); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodePayload(raw json.RawMessage, dst any, required bool) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if required {
			return fmt.Errorf("%w: missing payload", ErrMalformed)
		}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Outbound is the closed set of server frames.
type Outbound interface{ wireType() string }

type InitGame struct {
	Color     string      `json:"color"`
	TimeLimit TimeControl `json:"timeLimit"`
}

type MovePlayed Move

type ClockUpdate struct {
	WhiteTime Seconds `json:"whiteTime"`
	BlackTime Seconds `json:"blackTime"`
}

type GameStatus struct {
	Status string `json:"status"`
}

type GameOver struct {
	Winner Winner `json:"winner"`
	Reason Reason `json:"reason"`
}

type DrawOffered struct{}

type DrawDeclined struct {
	Accepted bool `json:"accepted"`
}

func (InitGame) wireType() string     { return TypeInitGame }
func (MovePlayed) wireType() string   { return TypeMove }
func (ClockUpdate) wireType() string  { return TypeClockUpdate }
func (GameStatus) wireType() string   { return TypeGameStatus }
func (GameOver) wireType() string     { return TypeGameOver }
func (DrawOffered) wireType() string  { return TypeOfferDraw }
func (DrawDeclined) wireType() string { return TypeDrawResponse }

// Encode wraps an outbound variant in its envelope.
func Encode(o Outbound) ([]byte, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: o.wireType(), Payload: payload})
}

// Seconds renders a remaining-time value as a one-decimal string, never negative.
type Seconds time.Duration

func (s Seconds) MarshalJSON() ([]byte, error) {
	d := time.Duration(s)
	if d < 0 {
		d = 0
	}
	return json.Marshal(strconv.FormatFloat(d.Seconds(), 'f', 1, 64))
}
