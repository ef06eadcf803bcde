package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

// MockNodeAgent is a mock of out.NodeAgent.
type MockNodeAgent struct {
	mock.Mock
}

// NewMockNodeAgent creates a mock that asserts its expectations on cleanup.
func NewMockNodeAgent(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockNodeAgent {
	m := &MockNodeAgent{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockNodeAgent) Health(ctx context.Context) (*out.AgentHealth, error) {
	args := m.Called(ctx)
	h, _ := args.Get(0).(*out.AgentHealth)
	return h, args.Error(1)
}

func (m *MockNodeAgent) ListContainers(ctx context.Context) ([]domain.ContainerSummary, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]domain.ContainerSummary)
	return list, args.Error(1)
}

func (m *MockNodeAgent) RunContainer(ctx context.Context, spec domain.RunSpec) error {
	return m.Called(ctx, spec).Error(0)
}

func (m *MockNodeAgent) StopContainer(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockNodeAgent) RestartContainer(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockNodeAgent) RemoveContainer(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockNodeAgent) PullImage(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *MockNodeAgent) Login(ctx context.Context, auth domain.RegistryAuth) error {
	return m.Called(ctx, auth).Error(0)
}

func (m *MockNodeAgent) Upload(ctx context.Context, fileName string, r io.Reader, size int64) (*domain.UploadStatus, error) {
	args := m.Called(ctx, fileName, r, size)
	st, _ := args.Get(0).(*domain.UploadStatus)
	return st, args.Error(1)
}

func (m *MockNodeAgent) BuildImage(ctx context.Context, transferID, fileName, tag, dockerfile string) error {
	return m.Called(ctx, transferID, fileName, tag, dockerfile).Error(0)
}
