package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockCertificateIssuer is a mock of out.CertificateIssuer.
type MockCertificateIssuer struct {
	mock.Mock
}

// NewMockCertificateIssuer creates a mock that asserts its expectations on cleanup.
func NewMockCertificateIssuer(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCertificateIssuer {
	m := &MockCertificateIssuer{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockCertificateIssuer) Issue(ctx context.Context, domain string) error {
	args := m.Called(ctx, domain)
	if fn, ok := args.Get(0).(func(context.Context, string) error); ok {
		return fn(ctx, domain)
	}
	return args.Error(0)
}

func (m *MockCertificateIssuer) Renew(ctx context.Context, domain string) error {
	args := m.Called(ctx, domain)
	if fn, ok := args.Get(0).(func(context.Context, string) error); ok {
		return fn(ctx, domain)
	}
	return args.Error(0)
}

// MockCertificateStore is a mock of out.CertificateStore.
type MockCertificateStore struct {
	mock.Mock
}

// NewMockCertificateStore creates a mock that asserts its expectations on cleanup.
func NewMockCertificateStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCertificateStore {
	m := &MockCertificateStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockCertificateStore) NotAfter(ctx context.Context, domain string) (time.Time, error) {
	args := m.Called(ctx, domain)
	return args.Get(0).(time.Time), args.Error(1)
}

// MockProxyReloader is a mock of out.ProxyReloader.
type MockProxyReloader struct {
	mock.Mock
}

// NewMockProxyReloader creates a mock that asserts its expectations on cleanup.
func NewMockProxyReloader(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockProxyReloader {
	m := &MockProxyReloader{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockProxyReloader) Reload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
