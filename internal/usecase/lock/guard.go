// Package lock runs critical sections under a lease held in a shared LockStore.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/zerowrap"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

const (
	// DefaultTTL is the lease duration when none is configured.
	DefaultTTL = 30 * time.Second

	releaseTimeout = 5 * time.Second
)

// Guard acquires a lease, keeps it alive while work runs and releases it.
type Guard struct {
	store      out.LockStore
	holder     string
	ttl        time.Duration
	renewEvery time.Duration
	nowFn      func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithTTL sets the lease duration. Renewal defaults to a third of it.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithRenewInterval overrides how often the lease is extended.
func WithRenewInterval(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.renewEvery = d
		}
	}
}

// NewGuard creates a Guard that takes leases in the name of holder.
func NewGuard(store out.LockStore, holder string, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		holder: holder,
		ttl:    DefaultTTL,
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.renewEvery == 0 {
		g.renewEvery = g.ttl / 3
	}
	return g
}

// Do runs fn while holding key. It returns domain.ErrLockNotAcquired without
// running fn when another owner holds the key.
//
// If the lease is lost while fn runs, the context passed to fn is cancelled
// with a *domain.LockLostError as its cause and Do returns that error. The
// renewal goroutine is stopped before Do returns on every path.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "LockGuard",
		"lock_key":            key,
	})
	log := zerowrap.FromCtx(ctx)

	rec, err := g.store.Acquire(ctx, key, g.holder, g.ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			log.Info().Msg("lock held elsewhere, skipping")
			return err
		}
		return log.WrapErr(err, "failed to acquire lock")
	}
	log.Debug().Str("lock_id", rec.LockID).Msg("lock acquired")

	workCtx, cancelWork := context.WithCancelCause(ctx)
	defer cancelWork(nil)
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()

	var grp errgroup.Group
	grp.Go(func() error {
		return g.keepAlive(renewCtx, rec, cancelWork)
	})

	fnErr := fn(workCtx)
	stopRenew()
	lostErr := grp.Wait()

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	releaseErr := g.store.Release(releaseCtx, rec)

	switch {
	case lostErr != nil:
		log.Warn().Err(lostErr).Msg("lock lost during critical section")
		return lostErr
	case errors.Is(releaseErr, domain.ErrLockLost):
		// The lease expired between the last renewal and the end of fn.
		return &domain.LockLostError{Key: rec.Key, LockID: rec.LockID, Err: releaseErr}
	case releaseErr != nil:
		log.Warn().Err(releaseErr).Msg("failed to release lock, it will expire")
	}
	return fnErr
}

func (g *Guard) keepAlive(ctx context.Context, rec domain.LockRecord, abort context.CancelCauseFunc) error {
	ticker := time.NewTicker(g.renewEvery)
	defer ticker.Stop()

	log := zerowrap.FromCtx(ctx)
	lastRenewed := g.nowFn()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := g.store.Renew(ctx, rec)
		if err == nil {
			lastRenewed = g.nowFn()
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		// Transient store errors are retried until the lease would have expired.
		if errors.Is(err, domain.ErrLockLost) || g.nowFn().Sub(lastRenewed) >= g.ttl {
			lost := &domain.LockLostError{Key: rec.Key, LockID: rec.LockID, Err: err}
			abort(lost)
			return lost
		}
		log.Warn().Err(err).Msg("lock renewal failed, retrying")
	}
}

// Key builds the lock key of a job scoped to one service.
func Key(job, project, env, service string) string {
	return fmt.Sprintf("flotilla:lock:%s:%s:%s:%s", job, project, env, service)
}
