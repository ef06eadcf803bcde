package ratelimit

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_MemoryBackend(t *testing.T) {
	store, err := NewStore(Config{Backend: "memory", RPS: 10, Burst: 5}, nil, testLogger())
	require.NoError(t, err)

	_, ok := store.(*MemoryStore)
	assert.True(t, ok, "should create a MemoryStore")
}

func TestNewStore_EmptyBackend(t *testing.T) {
	store, err := NewStore(Config{RPS: 10, Burst: 5}, nil, testLogger())
	require.NoError(t, err)

	_, ok := store.(*MemoryStore)
	assert.True(t, ok, "empty backend should create a MemoryStore")
}

func TestNewStore_RedisBackend(t *testing.T) {
	_, err := NewStore(Config{Backend: "redis", RPS: 10}, nil, testLogger())
	assert.ErrorContains(t, err, "needs a redis client")

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	store, err := NewStore(Config{Backend: "redis", RPS: 10, Burst: 20}, client, testLogger())
	require.NoError(t, err)
	rs, ok := store.(*RedisStore)
	require.True(t, ok)
	assert.Equal(t, int64(20), rs.limit)
}

func TestNewStore_UnknownBackend(t *testing.T) {
	store, err := NewStore(Config{Backend: "postgres"}, nil, testLogger())
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "unknown rate limit backend")
}

func TestRedisStore_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(client, Config{RPS: 1}, testLogger())

	allowed, err := store.Allow("10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)
}
