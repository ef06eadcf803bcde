// Package lockstore provides LockStore implementations.
package lockstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bnema/flotilla/internal/boundaries/out"
)

// Config selects and configures a lock backend.
type Config struct {
	Backend  string
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewStore creates a LockStore based on the configured backend. The returned
// close function releases the backend's connections.
func NewStore(ctx context.Context, cfg Config) (out.LockStore, func() error, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
		}
		return NewRedisStore(client, cfg.Prefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend: %s", cfg.Backend)
	}
}
