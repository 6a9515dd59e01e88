package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/arena"
)

type delivered struct {
	conn  arena.Conn
	frame string
}

type echoHub struct {
	frames chan delivered
	closed chan arena.Conn
}

func newEchoHub() *echoHub {
	return &echoHub{frames: make(chan delivered, 16), closed: make(chan arena.Conn, 4)}
}

func (h *echoHub) Deliver(conn arena.Conn, frame []byte) bool {
	h.frames <- delivered{conn: conn, frame: string(frame)}
	conn.Send(append([]byte("echo:"), frame...))
	return true
}

func (h *echoHub) Disconnect(conn arena.Conn) bool {
	h.closed <- conn
	return true
}

func startServer(t *testing.T, hub Hub) (*Server, string, func()) {
	t.Helper()
	srv := NewServer(hub, Options{Logger: zap.NewNop()})
	hs := httptest.NewServer(srv)
	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	return srv, url, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Close(ctx)
		hs.Close()
	}
}

func TestServerRoundTrip(t *testing.T) {
	hub := newEchoHub()
	srv, url, stop := startServer(t, hub)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"resign"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got delivered
	select {
	case got = <-hub.frames:
	case <-ctx.Done():
		t.Fatalf("hub never saw the frame")
	}
	if got.frame != `{"type":"resign"}` {
		t.Fatalf("unexpected frame %q", got.frame)
	}
	if got.conn.ID() == "" {
		t.Fatalf("connection id should be set")
	}
	if srv.Active() != 1 {
		t.Fatalf("expected 1 active socket, got %d", srv.Active())
	}

	typ, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText || string(data) != `echo:{"type":"resign"}` {
		t.Fatalf("unexpected reply %v %q", typ, data)
	}

	// Binary frames are ignored.
	if err := c.Write(ctx, websocket.MessageBinary, []byte{1, 2}); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	_ = c.Close(websocket.StatusNormalClosure, "bye")
	select {
	case closed := <-hub.closed:
		if closed != got.conn {
			t.Fatalf("disconnect for a different connection")
		}
	case <-ctx.Done():
		t.Fatalf("hub never saw the disconnect")
	}
	select {
	case extra := <-hub.frames:
		t.Fatalf("binary frame reached the hub: %q", extra.frame)
	default:
	}
}

func TestServerCloseDropsSockets(t *testing.T) {
	hub := newEchoHub()
	srv, url, stop := startServer(t, hub)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"offer_draw"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	<-hub.frames

	if err := srv.Close(ctx); err != nil {
		t.Fatalf("server close: %v", err)
	}
	select {
	case <-hub.closed:
	case <-ctx.Done():
		t.Fatalf("no disconnect on shutdown")
	}
	if srv.Active() != 0 {
		t.Fatalf("expected no active sockets, got %d", srv.Active())
	}
}

func TestConnSendDropsWhenFull(t *testing.T) {
	c := &Conn{id: "c", out: make(chan []byte, 1), stopCh: make(chan struct{}), log: zap.NewNop()}
	c.Send([]byte("a"))
	c.Send([]byte("b"))
	if c.Dropped() != 1 {
		t.Fatalf("expected one dropped frame, got %d", c.Dropped())
	}
	c.stop()
	c.Send([]byte("c"))
	if c.Dropped() != 1 || len(c.out) != 1 {
		t.Fatalf("send after stop must be a no-op")
	}
}
