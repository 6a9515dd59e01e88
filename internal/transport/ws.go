// Package transport serves the arena protocol over WebSocket text frames.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/arena"
	"github.com/park285/cheese-arena/internal/obslog"
)

// Hub is the consumer of inbound frames and close notifications.
type Hub interface {
	Deliver(conn arena.Conn, frame []byte) bool
	Disconnect(conn arena.Conn) bool
}

type Options struct {
	// OriginPatterns are host patterns allowed to open a socket from a browser.
	// Empty means same-origin only.
	OriginPatterns []string
	SendBuffer     int
	ReadLimit      int64
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	Logger         *zap.Logger
}

func (o *Options) withDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4 << 10
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = obslog.L()
	}
}

// Server upgrades HTTP requests and pumps frames between sockets and the hub.
type Server struct {
	hub  Hub
	opts Options
	log  *zap.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
}

func NewServer(hub Hub, opts Options) *Server {
	opts.withDefaults()
	base, cancel := context.WithCancel(context.Background())
	return &Server{hub: hub, opts: opts, log: opts.Logger, base: base, cancel: cancel}
}

// Active returns the number of open sockets.
func (s *Server) Active() int64 { return s.active.Load() }

// Close drops every open socket and waits for their pumps to exit.
func (s *Server) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.base.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		s.log.Info("ws_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.ReadLimit)

	s.wg.Add(1)
	defer s.wg.Done()
	s.active.Add(1)
	defer s.active.Add(-1)

	c := newConn(ws, s.opts.SendBuffer, s.log)
	c.log.Info("ws_open", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(s.base)
	var pumps sync.WaitGroup
	pumps.Add(1)
	go func() {
		defer pumps.Done()
		c.writeLoop(ctx, s.opts.PingInterval, s.opts.WriteTimeout)
	}()

	err = c.readLoop(ctx, s.hub)
	c.stop()
	cancel()
	pumps.Wait()
	s.hub.Disconnect(c)

	status := websocket.CloseStatus(err)
	switch {
	case s.base.Err() != nil:
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
	case status == -1:
		_ = ws.CloseNow()
	default:
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}
	c.log.Info("ws_close", zap.Int("status", int(status)), zap.Uint64("dropped", c.Dropped()))
}

// Conn is one accepted socket. Send is non-blocking and drops frames when the
// peer cannot keep up.
type Conn struct {
	id       string
	ws       *websocket.Conn
	out      chan []byte
	stopCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
	log      *zap.Logger
}

func newConn(ws *websocket.Conn, buffer int, log *zap.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:     id,
		ws:     ws,
		out:    make(chan []byte, buffer),
		stopCh: make(chan struct{}),
		log:    log.With(zap.String("conn_id", id)),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(frame []byte) {
	select {
	case <-c.stopCh:
		return
	default:
	}
	select {
	case c.out <- frame:
	default:
		if c.dropped.Add(1) == 1 {
			c.log.Warn("ws_send_buffer_full")
		}
	}
}

// Dropped counts frames discarded by Send.
func (c *Conn) Dropped() uint64 { return c.dropped.Load() }

func (c *Conn) stop() { c.stopOnce.Do(func() { close(c.stopCh) }) }

func (c *Conn) readLoop(ctx context.Context, hub Hub) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.log.Debug("ws_binary_dropped", zap.Int("bytes", len(data)))
			continue
		}
		if !hub.Deliver(c, data) {
			return errors.New("hub stopped")
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context, ping, writeTimeout time.Duration) {
	t := time.NewTicker(ping)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case frame := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.log.Info("ws_write_error", zap.Error(err))
				_ = c.ws.CloseNow()
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.log.Info("ws_ping_failure", zap.Error(err))
				_ = c.ws.CloseNow()
				return
			}
		}
	}
}
