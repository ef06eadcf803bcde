package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
)

var _ middleware.RateLimiterStore = (*RedisStore)(nil)

// RedisStore is a fixed-window counter shared by every agent pointing at the
// same redis. Redis failures let the request through.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	limit   int64
	window  time.Duration
	timeout time.Duration
	log     zerowrap.Logger
}

// NewRedisStore creates a redis-backed store. The per-window allowance is
// RPS times the window, and never less than Burst.
func NewRedisStore(client redis.UniversalClient, cfg Config, log zerowrap.Logger) *RedisStore {
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	limit := int64(math.Ceil(cfg.RPS * window.Seconds()))
	if int64(cfg.Burst) > limit {
		limit = int64(cfg.Burst)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "flotilla:ratelimit:"
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		limit:   limit,
		window:  window,
		timeout: 250 * time.Millisecond,
		log:     log,
	}
}

// Allow implements middleware.RateLimiterStore.
func (s *RedisStore) Allow(identifier string) (bool, error) {
	if s.limit <= 0 {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	key := s.prefix + identifier
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.log.Warn().Err(err).Str(zerowrap.FieldAction, "incr").Msg("redis rate limiter unavailable, allowing request")
		return true, nil
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, key, s.window).Err(); err != nil {
			s.log.Warn().Err(err).Str(zerowrap.FieldAction, "expire").Msg("failed to set rate limit window")
		}
	}
	return count <= s.limit, nil
}
