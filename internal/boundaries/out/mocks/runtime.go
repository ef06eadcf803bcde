// Package mocks provides testify mocks for the output ports.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/flotilla/internal/domain"
)

// MockContainerRuntime is a mock of out.ContainerRuntime.
type MockContainerRuntime struct {
	mock.Mock
}

// NewMockContainerRuntime creates a mock that asserts its expectations on cleanup.
func NewMockContainerRuntime(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockContainerRuntime {
	m := &MockContainerRuntime{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockContainerRuntime) Kind() domain.RuntimeKind {
	return m.Called().Get(0).(domain.RuntimeKind)
}

func (m *MockContainerRuntime) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockContainerRuntime) ListContainers(ctx context.Context) ([]domain.ContainerSummary, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]domain.ContainerSummary)
	return list, args.Error(1)
}

func (m *MockContainerRuntime) ContainerExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockContainerRuntime) RunContainer(ctx context.Context, spec domain.RunSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockContainerRuntime) StopContainer(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockContainerRuntime) RestartContainer(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockContainerRuntime) RemoveContainer(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockContainerRuntime) PullImage(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *MockContainerRuntime) BuildImage(ctx context.Context, spec domain.BuildSpec) error {
	return m.Called(ctx, spec).Error(0)
}

func (m *MockContainerRuntime) Login(ctx context.Context, auth domain.RegistryAuth) error {
	return m.Called(ctx, auth).Error(0)
}

// MockJobRunner is a mock of out.JobRunner.
type MockJobRunner struct {
	mock.Mock
}

// NewMockJobRunner creates a mock that asserts its expectations on cleanup.
func NewMockJobRunner(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockJobRunner {
	m := &MockJobRunner{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockJobRunner) Build(ctx context.Context, spec domain.BuildSpec) error {
	return m.Called(ctx, spec).Error(0)
}

func (m *MockJobRunner) RunToCompletion(ctx context.Context, spec domain.RunSpec) error {
	return m.Called(ctx, spec).Error(0)
}
