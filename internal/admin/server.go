// Package admin exposes health and stats over a small fasthttp listener.
package admin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
)

// StatsFunc returns any JSON-encodable snapshot.
type StatsFunc func() any

type Health struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type Server struct {
	stats   StatsFunc
	started time.Time
	now     func() time.Time
	srv     *fasthttp.Server
	log     *zap.Logger
}

func NewServer(stats StatsFunc) *Server {
	s := &Server{stats: stats, now: time.Now, log: obslog.L()}
	s.started = s.now()
	s.srv = &fasthttp.Server{
		Handler:      s.Handle,
		Name:         "cheese-arena-admin",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Handle routes one request. Exported so tests and embedding servers can call it directly.
func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	switch string(ctx.Path()) {
	case "/healthz":
		uptime := s.now().Sub(s.started).Truncate(time.Second)
		s.writeJSON(ctx, Health{Status: "ok", Uptime: uptime.String()})
	case "/stats":
		var body any = struct{}{}
		if s.stats != nil {
			body = s.stats()
		}
		s.writeJSON(ctx, body)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Error("admin_encode_error", zap.ByteString("path", ctx.Path()), zap.Error(err))
		ctx.Error("encode error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(raw)
}

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("admin_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}
