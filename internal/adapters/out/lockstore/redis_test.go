package lockstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/flotilla/internal/domain"
)

// Set FLOTILLA_TEST_REDIS_ADDR to run against a real server.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("FLOTILLA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLOTILLA_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore_TokenOwnership(t *testing.T) {
	client := redisClient(t)
	s := NewRedisStore(client, "flotilla-test:"+t.Name()+":")
	ctx := context.Background()

	rec, err := s.Acquire(ctx, "certs", "host-a", 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Release(ctx, rec) })

	_, err = s.Acquire(ctx, "certs", "host-b", 2*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	forged := rec
	forged.LockID = "not-mine"
	assert.ErrorIs(t, s.Renew(ctx, forged), domain.ErrLockLost)
	assert.ErrorIs(t, s.Release(ctx, forged), domain.ErrLockLost)

	require.NoError(t, s.Renew(ctx, rec))
	require.NoError(t, s.Release(ctx, rec))
	assert.ErrorIs(t, s.Release(ctx, rec), domain.ErrLockLost)
}
