package lockstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

var _ out.LockStore = (*MemoryStore)(nil)

// MemoryStore is a process-local LockStore. It only excludes callers within
// the same process.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]lease
	nowFn  func() time.Time
}

type lease struct {
	lockID  string
	expires time.Time
}

// NewMemoryStore creates an empty in-memory lock store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]lease),
		nowFn:  time.Now,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, key, holder string, ttl time.Duration) (domain.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	if l, ok := s.leases[key]; ok && now.Before(l.expires) {
		return domain.LockRecord{}, domain.ErrLockNotAcquired
	}

	rec := domain.LockRecord{Key: key, LockID: uuid.NewString(), Holder: holder, TTL: ttl}
	s.leases[key] = lease{lockID: rec.LockID, expires: now.Add(ttl)}
	return rec, nil
}

func (s *MemoryStore) Renew(_ context.Context, rec domain.LockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	l, ok := s.leases[rec.Key]
	if !ok || l.lockID != rec.LockID || !now.Before(l.expires) {
		return domain.ErrLockLost
	}
	l.expires = now.Add(rec.TTL)
	s.leases[rec.Key] = l
	return nil
}

func (s *MemoryStore) Release(_ context.Context, rec domain.LockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[rec.Key]
	if !ok || l.lockID != rec.LockID {
		return domain.ErrLockLost
	}
	delete(s.leases, rec.Key)
	if !s.nowFn().Before(l.expires) {
		return domain.ErrLockLost
	}
	return nil
}
