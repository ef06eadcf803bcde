package out

import (
	"context"
	"time"

	"github.com/bnema/flotilla/internal/domain"
)

// LockStore is a shared lease store. Every mutation after Acquire is guarded by
// the record's LockID.
type LockStore interface {
	// Acquire takes the key if free. Returns domain.ErrLockNotAcquired when held.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (domain.LockRecord, error)
	// Renew extends the lease. Returns domain.ErrLockLost when the token no longer matches.
	Renew(ctx context.Context, rec domain.LockRecord) error
	// Release drops the lease. Returns domain.ErrLockLost when the token no longer matches.
	Release(ctx context.Context, rec domain.LockRecord) error
}
