package ratelimit

import (
	"fmt"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
)

// Config selects and sizes a rate limiter backend.
type Config struct {
	Backend string        // memory (default) or redis
	RPS     float64       // sustained requests per second per key
	Burst   int           // memory: bucket size; redis: minimum per-window allowance
	Window  time.Duration // redis: counting window, default 1s
	Prefix  string        // redis: key prefix
}

// NewStore creates an echo rate limiter store for the configured backend.
// client is only used, and then required, by the redis backend.
func NewStore(cfg Config, client redis.UniversalClient, log zerowrap.Logger) (middleware.RateLimiterStore, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(cfg.RPS, cfg.Burst, log), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis rate limit backend needs a redis client")
		}
		return NewRedisStore(client, cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s", cfg.Backend)
	}
}
