package arena

import (
	"time"

	"go.uber.org/zap"
)

// SessionID keys a session in the manager's arena.
type SessionID string

type sessionEnv struct {
	now   func() time.Time
	sched Scheduler
	tick  time.Duration
	log   *zap.Logger
	ended func(*Session)
}

// Session is the clock, turn and draw-negotiation state machine for one game.
// All methods must run on the manager loop.
type Session struct {
	id        SessionID
	tc        TimeControl
	players   [2]Conn
	remaining [2]time.Duration
	parity    uint64
	lastEvent time.Time
	startedAt time.Time

	terminal  bool
	reason    Reason
	winner    Winner
	drawOffer *Side

	engine   Engine
	stopTick func()
	env      *sessionEnv
	log      *zap.Logger
}

func newSession(id SessionID, white, black Conn, tc TimeControl, engine Engine, env *sessionEnv) *Session {
	now := env.now()
	s := &Session{
		id:        id,
		tc:        tc,
		players:   [2]Conn{white, black},
		remaining: [2]time.Duration{tc.Duration(), tc.Duration()},
		lastEvent: now,
		startedAt: now,
		engine:    engine,
		env:       env,
		log: env.log.With(
			zap.String("session_id", string(id)),
			zap.String("white_id", white.ID()),
			zap.String("black_id", black.ID()),
		),
	}
	s.send(White, InitGame{Color: White.String(), TimeLimit: tc})
	s.send(Black, InitGame{Color: Black.String(), TimeLimit: tc})
	s.stopTick = env.sched.Every(env.tick, s.tick)
	return s
}

func (s *Session) ID() SessionID { return s.id }

func (s *Session) TimeControl() TimeControl { return s.tc }

func (s *Session) Player(side Side) Conn { return s.players[side] }

func (s *Session) MoveParity() uint64 { return s.parity }

func (s *Session) Terminal() bool { return s.terminal }

func (s *Session) Result() (Reason, Winner) { return s.reason, s.winner }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// Remaining is the clock for side as of the last tick or move.
func (s *Session) Remaining(side Side) time.Duration { return s.remaining[side] }

// ToMove is the side whose clock runs.
func (s *Session) ToMove() Side { return Side(s.parity % 2) }

// PendingDrawOffer reports which side has an outstanding offer.
func (s *Session) PendingDrawOffer() (Side, bool) {
	if s.drawOffer == nil {
		return White, false
	}
	return *s.drawOffer, true
}

func (s *Session) sideOf(conn Conn) (Side, bool) {
	switch conn {
	case s.players[White]:
		return White, true
	case s.players[Black]:
		return Black, true
	}
	return White, false
}

// charge deducts wall time since the last event from the side to move.
func (s *Session) charge(now time.Time) Side {
	side := s.ToMove()
	if now.After(s.lastEvent) {
		s.remaining[side] -= now.Sub(s.lastEvent)
		if s.remaining[side] < 0 {
			s.remaining[side] = 0
		}
		s.lastEvent = now
	}
	return side
}

func (s *Session) tick() {
	if s.terminal {
		return
	}
	side := s.charge(s.env.now())
	if s.remaining[side] <= 0 {
		s.finish(ReasonTimeout, side.Opponent().Winner(), White, Black)
		return
	}
	s.broadcast(s.clock())
}

// SubmitMove applies mv for conn. It reports whether the move was accepted.
func (s *Session) SubmitMove(conn Conn, mv Move) bool {
	if s.terminal {
		return false
	}
	side, ok := s.sideOf(conn)
	if !ok || side != s.ToMove() {
		s.log.Debug("arena_move_out_of_turn", zap.String("conn_id", conn.ID()), zap.String("to_move", s.ToMove().String()))
		return false
	}
	if turn := s.engine.Turn(); turn != side {
		s.log.Error("arena_board_turn_mismatch", zap.String("board_turn", turn.String()), zap.String("to_move", side.String()))
		return false
	}
	if err := s.engine.ApplyMove(mv); err != nil {
		s.log.Info("arena_move_rejected",
			zap.String("conn_id", conn.ID()),
			zap.String("from", mv.From),
			zap.String("to", mv.To),
			zap.Error(err),
		)
		return false
	}

	s.charge(s.env.now())
	if s.remaining[side] <= 0 {
		s.finish(ReasonTimeout, side.Opponent().Winner(), White, Black)
		return true
	}

	if status, reason, winner, over := s.outcome(side); over {
		s.broadcast(GameStatus{Status: status})
		s.finish(reason, winner, White, Black)
		return true
	}

	s.broadcast(MovePlayed(mv))
	s.broadcast(s.clock())
	if s.engine.IsCheck() {
		s.broadcast(GameStatus{Status: StatusCheck})
	}
	s.parity++
	s.log.Debug("arena_move",
		zap.String("side", side.String()),
		zap.String("from", mv.From),
		zap.String("to", mv.To),
		zap.Uint64("parity", s.parity),
	)
	return true
}

func (s *Session) outcome(mover Side) (status string, reason Reason, winner Winner, over bool) {
	e := s.engine
	switch {
	case e.IsCheckmate():
		return StatusCheckmate, ReasonCheckmate, mover.Winner(), true
	case e.IsStalemate():
		return StatusStalemate, ReasonDraw, WinnerDraw, true
	case e.IsThreefoldRepetition():
		return StatusThreefoldRepetition, ReasonDraw, WinnerDraw, true
	case e.IsInsufficientMaterial():
		return StatusInsufficientMaterial, ReasonDraw, WinnerDraw, true
	case e.IsDraw():
		return StatusDraw, ReasonDraw, WinnerDraw, true
	}
	return "", "", "", false
}

func (s *Session) Resign(conn Conn) bool {
	side, ok := s.sideOf(conn)
	if s.terminal || !ok {
		return false
	}
	s.finish(ReasonResignation, side.Opponent().Winner(), White, Black)
	return true
}

// OfferDraw records an offer from conn; only one offer may be outstanding.
func (s *Session) OfferDraw(conn Conn) bool {
	side, ok := s.sideOf(conn)
	if s.terminal || !ok || s.drawOffer != nil {
		return false
	}
	s.drawOffer = &side
	s.send(side.Opponent(), DrawOffered{})
	s.log.Info("arena_draw_offer", zap.String("side", side.String()))
	return true
}

// RespondDraw answers the pending offer. Only the offer's recipient may respond.
func (s *Session) RespondDraw(conn Conn, accepted bool) bool {
	side, ok := s.sideOf(conn)
	if s.terminal || !ok || s.drawOffer == nil || *s.drawOffer != side.Opponent() {
		return false
	}
	if accepted {
		s.finish(ReasonDraw, WinnerDraw, White, Black)
		return true
	}
	offerer := *s.drawOffer
	s.drawOffer = nil
	s.send(offerer, DrawDeclined{Accepted: false})
	s.log.Info("arena_draw_declined", zap.String("side", side.String()))
	return true
}

// Disconnect ends the game in favour of the participant still connected.
func (s *Session) Disconnect(conn Conn) bool {
	side, ok := s.sideOf(conn)
	if s.terminal || !ok {
		return false
	}
	s.finish(ReasonDisconnection, side.Opponent().Winner(), side.Opponent())
	return true
}

// stop cancels the tick without ending the game; used on manager teardown.
func (s *Session) stop() {
	if s.stopTick != nil {
		s.stopTick()
		s.stopTick = nil
	}
}

func (s *Session) finish(reason Reason, winner Winner, notify ...Side) {
	if s.terminal {
		return
	}
	s.terminal = true
	s.reason, s.winner = reason, winner
	s.drawOffer = nil
	s.stop()

	if frame, err := Encode(GameOver{Winner: winner, Reason: reason}); err == nil {
		for _, side := range notify {
			s.players[side].Send(frame)
		}
	}
	s.engine.Reset()
	s.log.Info("arena_session_end",
		zap.String("reason", string(reason)),
		zap.String("winner", string(winner)),
		zap.Uint64("moves", s.parity),
		zap.Duration("white_left", s.remaining[White]),
		zap.Duration("black_left", s.remaining[Black]),
	)
	if s.env.ended != nil {
		s.env.ended(s)
	}
}

func (s *Session) clock() ClockUpdate {
	return ClockUpdate{WhiteTime: Seconds(s.remaining[White]), BlackTime: Seconds(s.remaining[Black])}
}

func (s *Session) send(side Side, o Outbound) {
	frame, err := Encode(o)
	if err != nil {
		s.log.Error("arena_encode_error", zap.String("type", o.wireType()), zap.Error(err))
		return
	}
	s.players[side].Send(frame)
}

func (s *Session) broadcast(o Outbound) {
	frame, err := Encode(o)
	if err != nil {
		s.log.Error("arena_encode_error", zap.String("type", o.wireType()), zap.Error(err))
		return
	}
	s.players[White].Send(frame)
	s.players[Black].Send(frame)
}
