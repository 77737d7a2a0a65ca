// Package config loads the gateway's environment-driven configuration,
// optionally from a .env file, the same way cmd/agent loaded provider keys
// in the teacher codebase — read once at startup, fail fast on bad values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

// Config carries every tunable the gateway process needs at startup: the
// listen addresses, the session defaults named in the data model, and which
// synthesis engine to wire in.
type Config struct {
	ListenAddr      string
	AdminListenAddr string

	TTL              time.Duration
	MaxPendingUnits  int
	MaxSendQueue     int
	CleanupInterval  time.Duration

	EngineKind   string // "dummy", "remote", "http"
	EngineAPIKey string
	EngineHost   string // host[:port] for the "remote" (WebSocket) engine
	EngineURL    string // full URL for the "http" engine

	DebugEndpoints bool
}

// Load reads a .env file if present (missing file is not an error, matching
// the teacher's "Note: No .env file found" tolerance) and then builds a
// Config from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: loading .env: %w", err)
		}
	}

	cfg := Config{
		ListenAddr:      getEnvDefault("GATEWAY_LISTEN_ADDR", ":8080"),
		AdminListenAddr: getEnvDefault("GATEWAY_ADMIN_LISTEN_ADDR", ":9090"),
		EngineKind:      getEnvDefault("GATEWAY_ENGINE", "dummy"),
		EngineAPIKey:    os.Getenv("GATEWAY_ENGINE_API_KEY"),
		EngineHost:      os.Getenv("GATEWAY_ENGINE_HOST"),
		EngineURL:       os.Getenv("GATEWAY_ENGINE_URL"),
	}

	var err error
	if cfg.TTL, err = getDurationDefault("GATEWAY_TTL_SECONDS", 120*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CleanupInterval, err = getDurationDefault("GATEWAY_CLEANUP_INTERVAL_SECONDS", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxPendingUnits, err = getIntDefault("GATEWAY_MAX_PENDING_UNITS", 24); err != nil {
		return Config{}, err
	}
	if cfg.MaxSendQueue, err = getIntDefault("GATEWAY_MAX_SEND_QUEUE", 200); err != nil {
		return Config{}, err
	}
	if cfg.DebugEndpoints, err = getBoolDefault("GATEWAY_DEBUG_ENDPOINTS", false); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and numeric ranges, the same discipline
// the wire protocol's require_str/require_int validators apply per-message.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: GATEWAY_LISTEN_ADDR must not be empty")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("config: GATEWAY_TTL_SECONDS must be positive, got %s", c.TTL)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("config: GATEWAY_CLEANUP_INTERVAL_SECONDS must be positive, got %s", c.CleanupInterval)
	}
	if c.MaxPendingUnits <= 0 {
		return fmt.Errorf("config: GATEWAY_MAX_PENDING_UNITS must be positive, got %d", c.MaxPendingUnits)
	}
	if c.MaxSendQueue <= 0 {
		return fmt.Errorf("config: GATEWAY_MAX_SEND_QUEUE must be positive, got %d", c.MaxSendQueue)
	}

	switch c.EngineKind {
	case "dummy":
	case "remote":
		if c.EngineHost == "" {
			return fmt.Errorf("config: GATEWAY_ENGINE_HOST must be set when GATEWAY_ENGINE=remote")
		}
		if c.EngineAPIKey == "" {
			return fmt.Errorf("config: GATEWAY_ENGINE_API_KEY must be set when GATEWAY_ENGINE=remote")
		}
	case "http":
		if c.EngineURL == "" {
			return fmt.Errorf("config: GATEWAY_ENGINE_URL must be set when GATEWAY_ENGINE=http")
		}
	default:
		return fmt.Errorf("config: GATEWAY_ENGINE must be one of dummy|remote|http, got %q", c.EngineKind)
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}

func getDurationDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer number of seconds, got %q", key, v)
	}
	return time.Duration(secs) * time.Second, nil
}

func getBoolDefault(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean, got %q", key, v)
	}
	return b, nil
}

// GatewayConfig adapts Config to the gateway package's Config tunables,
// keeping the flush-poll interval at its spec default (not independently
// configurable — it is an implementation interval, not a protocol tunable).
func (c Config) GatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	cfg.TTL = c.TTL
	cfg.MaxPendingUnits = c.MaxPendingUnits
	cfg.MaxSendQueue = c.MaxSendQueue
	cfg.CleanupInterval = c.CleanupInterval
	return cfg
}
