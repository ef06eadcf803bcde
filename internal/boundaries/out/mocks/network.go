package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockDialer is a mock of out.Dialer.
type MockDialer struct {
	mock.Mock
}

// NewMockDialer creates a mock that asserts its expectations on cleanup.
func NewMockDialer(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDialer {
	m := &MockDialer{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockDialer) Dial(ctx context.Context, address string, timeout time.Duration) error {
	return m.Called(ctx, address, timeout).Error(0)
}

// MockMetadataSource is a mock of out.MetadataSource.
type MockMetadataSource struct {
	mock.Mock
}

// NewMockMetadataSource creates a mock that asserts its expectations on cleanup.
func NewMockMetadataSource(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockMetadataSource {
	m := &MockMetadataSource{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockMetadataSource) InstanceID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockMetadataSource) PrivateIPv4(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
