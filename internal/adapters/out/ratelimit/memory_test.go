package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerowrap.Logger {
	return zerowrap.Default()
}

func allow(t *testing.T, s *MemoryStore, id string) bool {
	t.Helper()
	ok, err := s.Allow(id)
	require.NoError(t, err)
	return ok
}

func TestMemoryStore_Allow_WithinLimit(t *testing.T) {
	store := NewMemoryStore(10, 10, testLogger())

	for i := 0; i < 10; i++ {
		assert.True(t, allow(t, store, "test"), "request %d should be allowed", i+1)
	}
}

func TestMemoryStore_Allow_ExceedsLimit(t *testing.T) {
	store := NewMemoryStore(1, 1, testLogger())

	assert.True(t, allow(t, store, "test"), "first request should be allowed")
	assert.False(t, allow(t, store, "test"), "second request should be rate limited")
}

func TestMemoryStore_Allow_Refill(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(10, 5, testLogger())
	store.nowFn = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		assert.True(t, allow(t, store, "test"), "burst request %d should be allowed", i+1)
	}
	assert.False(t, allow(t, store, "test"), "request exceeding burst should be rate limited")

	now = now.Add(200 * time.Millisecond)
	assert.True(t, allow(t, store, "test"), "request after refill should be allowed")
}

func TestMemoryStore_Allow_IndependentKeys(t *testing.T) {
	store := NewMemoryStore(1, 1, testLogger())

	assert.True(t, allow(t, store, "10.0.0.1"))
	assert.False(t, allow(t, store, "10.0.0.1"))
	assert.True(t, allow(t, store, "10.0.0.2"))
	assert.False(t, allow(t, store, "10.0.0.2"))
}

func TestMemoryStore_AllowN_ExceedsBurst(t *testing.T) {
	store := NewMemoryStore(10, 5, testLogger())
	assert.False(t, store.AllowN("test", 6), "AllowN larger than burst never fits")
	assert.True(t, store.AllowN("test", 5))
}

func TestMemoryStore_DropsIdleVisitors(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(1, 1, testLogger())
	store.nowFn = func() time.Time { return now }

	allow(t, store, "a")
	allow(t, store, "b")
	assert.Equal(t, 2, store.Len())

	now = now.Add(DefaultIdleTTL + time.Second)
	assert.True(t, allow(t, store, "c"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Allow_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(1000, 100, testLogger())

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.Allow("shared"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, allowed.Load(), int64(100))
	assert.LessOrEqual(t, allowed.Load(), int64(200))
}
