package arena

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	id     string
	frames [][]byte
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) {
	c.frames = append(c.frames, append([]byte(nil), frame...))
}

func (c *fakeConn) types() []string {
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

func (c *fakeConn) reset() { c.frames = nil }

// payload decodes the i-th frame's payload into dst.
func (c *fakeConn) payload(t *testing.T, i int, dst any) {
	t.Helper()
	require.Less(t, i, len(c.frames))
	var env Envelope
	require.NoError(t, json.Unmarshal(c.frames[i], &env))
	require.NoError(t, json.Unmarshal(env.Payload, dst))
}

type fakeEngine struct {
	turn    Side
	illegal map[string]bool
	panics  bool

	check, checkmate, stalemate, draw, threefold, insufficient bool

	applied []Move
	resets  int
}

func (e *fakeEngine) ApplyMove(mv Move) error {
	if e.panics {
		panic("board corrupted")
	}
	if e.illegal[mv.From+mv.To] {
		return errors.New("illegal move")
	}
	e.applied = append(e.applied, mv)
	e.turn = e.turn.Opponent()
	return nil
}

func (e *fakeEngine) Turn() Side                   { return e.turn }
func (e *fakeEngine) IsCheck() bool                { return e.check }
func (e *fakeEngine) IsCheckmate() bool            { return e.checkmate }
func (e *fakeEngine) IsStalemate() bool            { return e.stalemate }
func (e *fakeEngine) IsDraw() bool                 { return e.draw }
func (e *fakeEngine) IsThreefoldRepetition() bool  { return e.threefold }
func (e *fakeEngine) IsInsufficientMaterial() bool { return e.insufficient }
func (e *fakeEngine) Reset()                       { e.resets++; e.turn = White; e.applied = nil }

type fakeTask struct {
	d       time.Duration
	fn      func()
	stopped bool
}

type fakeScheduler struct {
	tasks []*fakeTask
}

func (s *fakeScheduler) Every(d time.Duration, fn func()) func() {
	t := &fakeTask{d: d, fn: fn}
	s.tasks = append(s.tasks, t)
	return func() { t.stopped = true }
}

// fire runs one tick of every live task.
func (s *fakeScheduler) fire() {
	for _, t := range s.tasks {
		if !t.stopped {
			t.fn()
		}
	}
}

func (s *fakeScheduler) live() int {
	n := 0
	for _, t := range s.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingSink struct{ events []Event }

func (r *recordingSink) Publish(ev Event) { r.events = append(r.events, ev) }

type harness struct {
	m       *Manager
	clock   *fakeClock
	sched   *fakeScheduler
	sink    *recordingSink
	engines []*fakeEngine
}

func newHarness(t *testing.T, tcs ...TimeControl) *harness {
	t.Helper()
	h := &harness{
		clock: &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		sched: &fakeScheduler{},
		sink:  &recordingSink{},
	}
	m, err := NewManager(Options{
		TimeControls: tcs,
		NewEngine: func() Engine {
			e := &fakeEngine{illegal: map[string]bool{}}
			h.engines = append(h.engines, e)
			return e
		},
		Events:    h.sink,
		Logger:    zap.NewNop(),
		Now:       h.clock.now,
		Scheduler: h.sched,
	})
	require.NoError(t, err)
	h.m = m
	return h
}

// send runs one frame through the dispatcher the way the loop would.
func (h *harness) send(c Conn, frame string) {
	h.m.exec(func() { h.m.handleFrame(c, []byte(frame)) })
}

func (h *harness) close(c Conn) {
	h.m.exec(func() { h.m.handleClose(c) })
}

func (h *harness) join(c Conn, tc TimeControl) {
	h.send(c, fmt.Sprintf(`{"type":"join_queue","payload":{"timeLimit":%d}}`, tc))
}

func (h *harness) move(c Conn, from, to string) {
	h.send(c, fmt.Sprintf(`{"type":"move","payload":{"from":%q,"to":%q}}`, from, to))
}

// pair starts a 180s session between fresh white and black connections.
func (h *harness) pair(t *testing.T) (*fakeConn, *fakeConn, *Session, *fakeEngine) {
	t.Helper()
	white, black := newConn("white"), newConn("black")
	h.join(white, 180)
	h.join(black, 180)
	s := h.sessionFor(t, white)
	require.Same(t, s, h.sessionFor(t, black))
	white.reset()
	black.reset()
	return white, black, s, h.engines[len(h.engines)-1]
}

func (h *harness) sessionFor(t *testing.T, c Conn) *Session {
	t.Helper()
	id, ok := h.m.index[c]
	require.True(t, ok, "no session for %s", c.ID())
	s, ok := h.m.sessions[id]
	require.True(t, ok)
	return s
}

type clockPayload struct {
	WhiteTime string `json:"whiteTime"`
	BlackTime string `json:"blackTime"`
}
