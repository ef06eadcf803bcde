// Package ratelimit provides the stores behind the agent's echo rate limiter.
package ratelimit

import (
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

var _ middleware.RateLimiterStore = (*MemoryStore)(nil)

// DefaultIdleTTL is how long an unused key keeps its limiter.
const DefaultIdleTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps one token bucket per identifier in process memory.
// Idle identifiers are dropped lazily so the map stays bounded by active clients.
type MemoryStore struct {
	visitors    map[string]*visitor
	mu          sync.Mutex
	rps         float64
	burst       int
	idleTTL     time.Duration
	lastCleanup time.Time
	nowFn       func() time.Time
	log         zerowrap.Logger
}

// NewMemoryStore creates a new in-memory rate limiter store.
func NewMemoryStore(rps float64, burst int, log zerowrap.Logger) *MemoryStore {
	if burst < 1 {
		burst = 1
	}
	return &MemoryStore{
		visitors: make(map[string]*visitor),
		rps:      rps,
		burst:    burst,
		idleTTL:  DefaultIdleTTL,
		nowFn:    time.Now,
		log:      log,
	}
}

// Allow implements middleware.RateLimiterStore.
func (s *MemoryStore) Allow(identifier string) (bool, error) {
	return s.AllowN(identifier, 1), nil
}

// AllowN reports whether n requests for identifier fit in its bucket now.
func (s *MemoryStore) AllowN(identifier string, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	if now.Sub(s.lastCleanup) > s.idleTTL {
		s.cleanup(now)
	}

	v, ok := s.visitors[identifier]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
		s.visitors[identifier] = v
	}
	v.lastSeen = now
	allowed := v.limiter.AllowN(now, n)
	if !allowed {
		s.log.Debug().Str("identifier", identifier).Msg("rate limited")
	}
	return allowed
}

func (s *MemoryStore) cleanup(now time.Time) {
	for id, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.idleTTL {
			delete(s.visitors, id)
		}
	}
	s.lastCleanup = now
}

// Len returns the number of tracked identifiers.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}
