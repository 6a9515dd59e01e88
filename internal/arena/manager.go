package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
)

const (
	DefaultTickInterval = 100 * time.Millisecond
	defaultBacklog      = 256
)

var (
	ErrNoEngine           = errors.New("arena: engine factory required")
	ErrInvalidTimeControl = errors.New("arena: time control must be positive")
)

// Options configures a Manager. Zero values fall back to production defaults.
type Options struct {
	TimeControls []TimeControl
	TickInterval time.Duration
	NewEngine    EngineFactory
	Events       EventSink
	Logger       *zap.Logger
	Now          func() time.Time
	// Scheduler overrides the ticker-backed scheduler; tests drive ticks by hand.
	Scheduler Scheduler
	Backlog   int
}

// Manager owns the match queues, the session arena and the connection index.
// Every mutation runs on the goroutine executing Run.
type Manager struct {
	queue     *MatchQueue
	sessions  map[SessionID]*Session
	index     map[Conn]SessionID
	newEngine EngineFactory
	events    EventSink
	env       *sessionEnv
	log       *zap.Logger

	inbox    chan func()
	done     chan struct{}
	stopOnce sync.Once

	started uint64
	ended   uint64
	stats   atomic.Pointer[Stats]
}

func NewManager(opts Options) (*Manager, error) {
	if opts.NewEngine == nil {
		return nil, ErrNoEngine
	}
	tcs := opts.TimeControls
	if len(tcs) == 0 {
		tcs = DefaultTimeControls
	}
	for _, tc := range tcs {
		if tc <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidTimeControl, tc)
		}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = obslog.L()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Events == nil {
		opts.Events = nopSink{}
	}
	if opts.Backlog <= 0 {
		opts.Backlog = defaultBacklog
	}

	m := &Manager{
		sessions:  make(map[SessionID]*Session),
		index:     make(map[Conn]SessionID),
		newEngine: opts.NewEngine,
		events:    opts.Events,
		log:       opts.Logger,
		inbox:     make(chan func(), opts.Backlog),
		done:      make(chan struct{}),
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = loopScheduler{m: m}
	}
	m.env = &sessionEnv{
		now:   opts.Now,
		sched: sched,
		tick:  opts.TickInterval,
		log:   opts.Logger,
		ended: m.onEnded,
	}
	m.queue = NewMatchQueue(tcs, m.createSession, opts.Logger)
	m.refreshStats()
	return m, nil
}

// Deliver hands one inbound frame to the loop. It returns false once the
// manager has stopped.
func (m *Manager) Deliver(conn Conn, frame []byte) bool {
	return m.post(func() { m.handleFrame(conn, frame) })
}

// Disconnect reports that conn closed.
func (m *Manager) Disconnect(conn Conn) bool {
	return m.post(func() { m.handleClose(conn) })
}

// Run serializes every handler and tick until ctx ends. Sessions still active
// at shutdown are stopped without a result.
func (m *Manager) Run(ctx context.Context) error {
	defer m.shutdown()
	m.log.Info("arena_manager_start", zap.Int("pools", len(m.queue.TimeControls())))
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-m.inbox:
			m.exec(fn)
		}
	}
}

// Done is closed when Run returns.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Stats returns the snapshot taken after the last handled event.
func (m *Manager) Stats() Stats {
	cur := m.stats.Load()
	out := *cur
	out.Waiting = make(map[TimeControl]int, len(cur.Waiting))
	for k, v := range cur.Waiting {
		out.Waiting[k] = v
	}
	return out
}

// TimeControls lists the pools accepted by JoinQueue.
func (m *Manager) TimeControls() []TimeControl { return m.queue.TimeControls() }

func (m *Manager) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.inbox <- fn:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("arena_handler_panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (m *Manager) shutdown() {
	m.stopOnce.Do(func() {
		close(m.done)
		for _, s := range m.sessions {
			s.stop()
		}
		m.log.Info("arena_manager_stop", zap.Int("active_sessions", len(m.sessions)))
	})
}

func (m *Manager) handleFrame(conn Conn, frame []byte) {
	msg, err := DecodeInbound(frame)
	if err != nil {
		m.log.Info("arena_frame_dropped", zap.String("conn_id", conn.ID()), zap.Error(err))
		return
	}
	switch msg := msg.(type) {
	case JoinQueue:
		if id, playing := m.index[conn]; playing {
			m.log.Info("arena_join_while_playing", zap.String("conn_id", conn.ID()), zap.String("session_id", string(id)))
			return
		}
		if !m.queue.Enqueue(conn, msg.TimeLimit) {
			m.log.Info("arena_time_control_rejected", zap.String("conn_id", conn.ID()), zap.Int("time_control", int(msg.TimeLimit)))
		}
	case SubmitMove:
		if s := m.sessionOf(conn, TypeMove); s != nil {
			s.SubmitMove(conn, msg.Move)
		}
	case Resign:
		if s := m.sessionOf(conn, TypeResign); s != nil {
			s.Resign(conn)
		}
	case OfferDraw:
		if s := m.sessionOf(conn, TypeOfferDraw); s != nil {
			s.OfferDraw(conn)
		}
	case DrawResponse:
		if s := m.sessionOf(conn, TypeDrawResponse); s != nil {
			s.RespondDraw(conn, msg.Accepted)
		}
	}
	m.refreshStats()
}

func (m *Manager) handleClose(conn Conn) {
	m.queue.RemoveConnection(conn)
	if id, ok := m.index[conn]; ok {
		if s, ok := m.sessions[id]; ok {
			s.Disconnect(conn)
		}
		delete(m.index, conn)
	}
	m.log.Debug("arena_conn_closed", zap.String("conn_id", conn.ID()))
	m.refreshStats()
}

func (m *Manager) sessionOf(conn Conn, kind string) *Session {
	id, ok := m.index[conn]
	if !ok {
		m.log.Debug("arena_no_session", zap.String("conn_id", conn.ID()), zap.String("type", kind))
		return nil
	}
	s, ok := m.sessions[id]
	if !ok {
		// 인덱스만 남은 경우: 정리 후 무시
		delete(m.index, conn)
		return nil
	}
	return s
}

func (m *Manager) createSession(white, black Conn, tc TimeControl) {
	id := SessionID(uuid.NewString())
	s := newSession(id, white, black, tc, m.newEngine(), m.env)
	m.sessions[id] = s
	m.index[white] = id
	m.index[black] = id
	m.started++
	m.log.Info("arena_session_start",
		zap.String("session_id", string(id)),
		zap.String("white_id", white.ID()),
		zap.String("black_id", black.ID()),
		zap.Int("time_control", int(tc)),
	)
	m.events.Publish(Event{
		Type:        EventSessionStarted,
		SessionID:   id,
		White:       white.ID(),
		Black:       black.ID(),
		TimeControl: tc,
		At:          s.StartedAt(),
	})
}

func (m *Manager) onEnded(s *Session) {
	delete(m.sessions, s.id)
	for _, c := range s.players {
		if m.index[c] == s.id {
			delete(m.index, c)
		}
	}
	m.ended++
	reason, winner := s.Result()
	m.events.Publish(Event{
		Type:        EventSessionEnded,
		SessionID:   s.id,
		White:       s.players[White].ID(),
		Black:       s.players[Black].ID(),
		TimeControl: s.tc,
		Reason:      reason,
		Winner:      winner,
		Moves:       s.parity,
		At:          m.env.now(),
	})
	m.refreshStats()
}

func (m *Manager) refreshStats() {
	m.stats.Store(&Stats{
		ActiveSessions:  len(m.sessions),
		Waiting:         m.queue.Waiting(),
		SessionsStarted: m.started,
		SessionsEnded:   m.ended,
	})
}
