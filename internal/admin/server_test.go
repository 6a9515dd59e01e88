package admin

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func request(t *testing.T, s *Server, method, path string) *fasthttp.RequestCtx {
	t.Helper()
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	s.Handle(&ctx)
	return &ctx
}

func TestHealthz(t *testing.T) {
	s := NewServer(nil)
	base := s.started
	s.now = func() time.Time { return base.Add(90*time.Second + 400*time.Millisecond) }

	ctx := request(t, s, fasthttp.MethodGet, "/healthz")
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status %d", ctx.Response.StatusCode())
	}
	var h Health
	if err := json.Unmarshal(ctx.Response.Body(), &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Status != "ok" || h.Uptime != "1m30s" {
		t.Fatalf("unexpected health %+v", h)
	}
	if ct := string(ctx.Response.Header.ContentType()); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
}

func TestStatsAndRouting(t *testing.T) {
	s := NewServer(func() any { return map[string]int{"activeSessions": 3} })

	ctx := request(t, s, fasthttp.MethodGet, "/stats")
	if got := string(ctx.Response.Body()); got != `{"activeSessions":3}` {
		t.Fatalf("stats body %q", got)
	}
	if ctx := request(t, s, fasthttp.MethodGet, "/nope"); ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.Response.StatusCode())
	}
	if ctx := request(t, s, fasthttp.MethodPost, "/stats"); ctx.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", ctx.Response.StatusCode())
	}
}

func TestClientAgainstServer(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	s := NewServer(func() any { return map[string]int{"sessionsStarted": 7} })
	go func() { _ = s.srv.Serve(ln) }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()

	c := NewClient("http://admin.local/", WithTimeout(time.Second), WithRetries(2))
	c.http.Dial = func(string) (net.Conn, error) { return ln.Dial() }

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	h, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.Status != "ok" {
		t.Fatalf("unexpected health %+v", h)
	}

	var stats struct {
		SessionsStarted int `json:"sessionsStarted"`
	}
	if err := c.Stats(ctx, &stats); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.SessionsStarted != 7 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	var sink any
	if err := c.getJSON(ctx, "/missing", &sink); err == nil {
		t.Fatalf("expected error for 404")
	}
}
