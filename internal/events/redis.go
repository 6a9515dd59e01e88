// Package events fans session lifecycle events out over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/arena"
	"github.com/park285/cheese-arena/internal/obslog"
)

const (
	DefaultChannel = "arena:events"
	defaultBuffer  = 1024
	publishTimeout = 2 * time.Second
)

// Publisher implements arena.EventSink. Publish never blocks the arena loop;
// events are dropped when the buffer is full.
type Publisher struct {
	rdb     *redis.Client
	owned   bool
	channel string
	ch      chan arena.Event
	log     *zap.Logger

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewPublisher wraps an existing client. The caller keeps ownership of rdb.
func NewPublisher(rdb *redis.Client, channel string, buffer int) *Publisher {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	p := &Publisher{
		rdb:     rdb,
		channel: channel,
		ch:      make(chan arena.Event, buffer),
		log:     obslog.L().With(zap.String("channel", channel)),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Dial connects to redisURL and verifies it with PING.
func Dial(ctx context.Context, redisURL, channel string, buffer int) (*Publisher, error) {
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	p := NewPublisher(rdb, channel, buffer)
	p.owned = true
	return p, nil
}

func (p *Publisher) Publish(ev arena.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- ev:
	default:
		p.dropped.Add(1)
		p.log.Warn("arena_event_dropped", zap.String("type", string(ev.Type)), zap.String("session_id", string(ev.SessionID)))
	}
}

// Dropped counts events discarded because the buffer was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Sent counts events accepted by Redis.
func (p *Publisher) Sent() uint64 { return p.sent.Load() }

// Close drains buffered events and stops the worker.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	p.wg.Wait()
	if p.owned {
		return p.rdb.Close()
	}
	return nil
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	for ev := range p.ch {
		raw, err := json.Marshal(ev)
		if err != nil {
			p.log.Error("arena_event_encode_error", zap.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = p.rdb.Publish(ctx, p.channel, raw).Err()
		cancel()
		if err != nil {
			p.log.Warn("arena_event_publish_error", zap.String("type", string(ev.Type)), zap.Error(err))
			continue
		}
		p.sent.Add(1)
	}
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional /db path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("redis url missing host")
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", p, err)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
