package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/flotilla/internal/boundaries/out/mocks"
	"github.com/bnema/flotilla/internal/domain"
)

var rec = domain.LockRecord{Key: "flotilla:lock:certs:acme:prod:api", LockID: "tok-1", Holder: "host-a", TTL: time.Second}

func TestGuardDo_RunsAndReleases(t *testing.T) {
	store := mocks.NewMockLockStore(t)
	store.On("Acquire", mock.Anything, rec.Key, "host-a", time.Second).Return(rec, nil).Once()
	store.On("Renew", mock.Anything, rec).Return(nil).Maybe()
	store.On("Release", mock.Anything, rec).Return(nil).Once()

	g := NewGuard(store, "host-a", WithTTL(time.Second))
	ran := false
	err := g.Do(context.Background(), rec.Key, func(ctx context.Context) error {
		ran = true
		assert.NoError(t, ctx.Err())
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestGuardDo_NotAcquired(t *testing.T) {
	store := mocks.NewMockLockStore(t)
	store.On("Acquire", mock.Anything, rec.Key, "host-b", DefaultTTL).Return(domain.LockRecord{}, domain.ErrLockNotAcquired).Once()

	g := NewGuard(store, "host-b")
	err := g.Do(context.Background(), rec.Key, func(context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})

	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
	store.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

func TestGuardDo_ReturnsWorkErrorAndStillReleases(t *testing.T) {
	store := mocks.NewMockLockStore(t)
	store.On("Acquire", mock.Anything, rec.Key, "host-a", time.Second).Return(rec, nil).Once()
	store.On("Renew", mock.Anything, rec).Return(nil).Maybe()
	store.On("Release", mock.Anything, rec).Return(nil).Once()

	boom := errors.New("renewal failed")
	g := NewGuard(store, "host-a", WithTTL(time.Second))
	err := g.Do(context.Background(), rec.Key, func(context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
}

func TestGuardDo_LostLeaseCancelsWork(t *testing.T) {
	store := mocks.NewMockLockStore(t)
	store.On("Acquire", mock.Anything, rec.Key, "host-a", time.Second).Return(rec, nil).Once()
	store.On("Renew", mock.Anything, rec).Return(domain.ErrLockLost).Once()
	store.On("Release", mock.Anything, rec).Return(domain.ErrLockLost).Once()

	g := NewGuard(store, "host-a", WithTTL(time.Second), WithRenewInterval(5*time.Millisecond))

	var cause error
	err := g.Do(context.Background(), rec.Key, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			cause = context.Cause(ctx)
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("work was not cancelled")
		}
	})

	var lost *domain.LockLostError
	require.ErrorAs(t, err, &lost)
	assert.Equal(t, "tok-1", lost.LockID)
	assert.ErrorIs(t, err, domain.ErrLockLost)
	assert.ErrorAs(t, cause, &lost)
}

func TestGuardDo_TransientRenewErrorIsRetried(t *testing.T) {
	store := mocks.NewMockLockStore(t)
	store.On("Acquire", mock.Anything, rec.Key, "host-a", time.Second).Return(rec, nil).Once()
	store.On("Renew", mock.Anything, rec).Return(errors.New("i/o timeout")).Once()

	var renewed atomic.Bool
	store.On("Renew", mock.Anything, rec).Run(func(mock.Arguments) { renewed.Store(true) }).Return(nil)
	store.On("Release", mock.Anything, rec).Return(nil).Once()

	g := NewGuard(store, "host-a", WithTTL(time.Second), WithRenewInterval(5*time.Millisecond))
	err := g.Do(context.Background(), rec.Key, func(ctx context.Context) error {
		deadline := time.After(time.Second)
		for !renewed.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-deadline:
				return errors.New("lease never renewed")
			case <-time.After(time.Millisecond):
			}
		}
		return nil
	})

	require.NoError(t, err)
}

func TestGuardDo_StopsRenewingAfterReturn(t *testing.T) {
	store := mocks.NewMockLockStore(t)
	store.On("Acquire", mock.Anything, rec.Key, "host-a", time.Second).Return(rec, nil).Once()
	var renewals atomic.Int32
	store.On("Renew", mock.Anything, rec).Run(func(mock.Arguments) { renewals.Add(1) }).Return(nil).Maybe()
	store.On("Release", mock.Anything, rec).Return(nil).Once()

	g := NewGuard(store, "host-a", WithTTL(time.Second), WithRenewInterval(2*time.Millisecond))
	require.NoError(t, g.Do(context.Background(), rec.Key, func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}))

	after := renewals.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, renewals.Load())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "flotilla:lock:certs:acme:prod:api", Key("certs", "acme", "prod", "api"))
}
