package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ArenaAddr string `yaml:"arena_addr"`
	AdminAddr string `yaml:"admin_addr"`
	WSPath    string `yaml:"ws_path"`

	TimeControls []int `yaml:"time_controls"`
	ClockTickMS  int   `yaml:"clock_tick_ms"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	SendBuffer     int      `yaml:"send_buffer"`
	ReadLimit      int64    `yaml:"read_limit"`
	PingSeconds    int      `yaml:"ping_seconds"`

	RedisURL      string `yaml:"redis_url"`
	EventsChannel string `yaml:"events_channel"`
	EventsBuffer  int    `yaml:"events_buffer"`

	ShutdownSeconds int `yaml:"shutdown_seconds"`
}

func defaults() *AppConfig {
	return &AppConfig{
		ArenaAddr:       ":8080",
		AdminAddr:       ":8081",
		WSPath:          "/",
		TimeControls:    []int{180, 300, 600},
		ClockTickMS:     100,
		AllowedOrigins:  []string{"*"},
		SendBuffer:      64,
		ReadLimit:       4096,
		PingSeconds:     30,
		EventsChannel:   "arena:events",
		EventsBuffer:    1024,
		ShutdownSeconds: 10,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// ARENA_CONFIG (if set), then environment variables.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("ARENA_CONFIG")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("ARENA_ADDR")); v != "" {
		cfg.ArenaAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_ADDR")); v != "" {
		cfg.AdminAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENA_WS_PATH")); v != "" {
		cfg.WSPath = v
	}
	if v := strings.TrimSpace(os.Getenv("TIME_CONTROLS")); v != "" {
		tcs, err := parseInts(v)
		if err != nil {
			return nil, fmt.Errorf("TIME_CONTROLS: %w", err)
		}
		cfg.TimeControls = tcs
	}
	if v := strings.TrimSpace(os.Getenv("CLOCK_TICK_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClockTickMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("SEND_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendBuffer = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("WS_READ_LIMIT")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.ReadLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("WS_PING_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PingSeconds = n
		}
	}
	if v, ok := os.LookupEnv("REDIS_URL"); ok {
		cfg.RedisURL = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("EVENTS_CHANNEL")); v != "" {
		cfg.EventsChannel = v
	}
	if v := strings.TrimSpace(os.Getenv("EVENTS_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EventsBuffer = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SHUTDOWN_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ShutdownSeconds = n
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) validate() error {
	if c.ArenaAddr == "" {
		return errors.New("ARENA_ADDR is required")
	}
	if len(c.TimeControls) == 0 {
		return errors.New("TIME_CONTROLS must list at least one value")
	}
	for _, tc := range c.TimeControls {
		if tc <= 0 {
			return fmt.Errorf("time control %d must be positive", tc)
		}
	}
	if c.ClockTickMS <= 0 {
		return errors.New("CLOCK_TICK_MS must be positive")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("ws path %q must start with /", c.WSPath)
	}
	return nil
}

func (c *AppConfig) ClockTick() time.Duration {
	return time.Duration(c.ClockTickMS) * time.Millisecond
}

func (c *AppConfig) PingInterval() time.Duration {
	return time.Duration(c.PingSeconds) * time.Second
}

func (c *AppConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSeconds) * time.Second
}

func parseInts(v string) ([]int, error) {
	var out []int
	for _, p := range splitList(v) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
