package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/admin"
	"github.com/park285/cheese-arena/internal/arena"
	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/events"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/transport"
)

type snapshot struct {
	arena.Stats
	Sockets       int64  `json:"sockets"`
	EventsSent    uint64 `json:"eventsSent"`
	EventsDropped uint64 `json:"eventsDropped"`
}

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	var sink arena.EventSink
	var pub *events.Publisher
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pub, err = events.Dial(ctx, cfg.RedisURL, cfg.EventsChannel, cfg.EventsBuffer)
		cancel()
		if err != nil {
			logger.Fatal("events_init_error", zap.Error(err))
		}
		sink = pub
	}

	tcs := make([]arena.TimeControl, 0, len(cfg.TimeControls))
	for _, tc := range cfg.TimeControls {
		tcs = append(tcs, arena.TimeControl(tc))
	}
	mgr, err := arena.NewManager(arena.Options{
		TimeControls: tcs,
		TickInterval: cfg.ClockTick(),
		NewEngine:    rules.New,
		Events:       sink,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("arena_init_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan error, 1)
	go func() { loopDone <- mgr.Run(ctx) }()

	wsSrv := transport.NewServer(mgr, transport.Options{
		OriginPatterns: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
		ReadLimit:      cfg.ReadLimit,
		PingInterval:   cfg.PingInterval(),
		Logger:         logger,
	})
	mux := http.NewServeMux()
	mux.Handle(cfg.WSPath, wsSrv)
	httpSrv := &http.Server{Addr: cfg.ArenaAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	adminSrv := admin.NewServer(func() any {
		s := snapshot{Stats: mgr.Stats(), Sockets: wsSrv.Active()}
		if pub != nil {
			s.EventsSent, s.EventsDropped = pub.Sent(), pub.Dropped()
		}
		return s
	})

	go func() {
		logger.Info("arena_listen", zap.String("addr", cfg.ArenaAddr), zap.String("path", cfg.WSPath))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("arena_listen_error", zap.Error(err))
			stop()
		}
	}()
	if cfg.AdminAddr != "" {
		go func() {
			if err := adminSrv.ListenAndServe(cfg.AdminAddr); err != nil {
				logger.Error("admin_listen_error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("arena_shutdown")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	_ = httpSrv.Shutdown(sctx)
	if err := wsSrv.Close(sctx); err != nil {
		logger.Warn("ws_close_timeout", zap.Error(err))
	}
	if err := <-loopDone; err != nil {
		logger.Warn("arena_loop_error", zap.Error(err))
	}
	if cfg.AdminAddr != "" {
		_ = adminSrv.Shutdown(sctx)
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			logger.Warn("events_close_error", zap.Error(err))
		}
	}
}
