package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/flotilla/internal/domain"
)

// MockLockStore is a mock of out.LockStore.
type MockLockStore struct {
	mock.Mock
}

// NewMockLockStore creates a mock that asserts its expectations on cleanup.
func NewMockLockStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockLockStore {
	m := &MockLockStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockLockStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (domain.LockRecord, error) {
	args := m.Called(ctx, key, holder, ttl)
	return args.Get(0).(domain.LockRecord), args.Error(1)
}

func (m *MockLockStore) Renew(ctx context.Context, rec domain.LockRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockLockStore) Release(ctx context.Context, rec domain.LockRecord) error {
	return m.Called(ctx, rec).Error(0)
}
