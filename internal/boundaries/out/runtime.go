// Package out defines output ports (interfaces) for infrastructure.
// These interfaces define the contract between use cases and driven adapters
// (container runtimes, metadata endpoints, certificate issuers, lock stores, etc.).
package out

import (
	"context"

	"github.com/bnema/flotilla/internal/domain"
)

// ContainerRuntime defines the contract for the local container runtime used by the node agent.
// Implementations surface the runtime's own error text unchanged and never retry.
type ContainerRuntime interface {
	// Kind reports which runtime variant backs this adapter.
	Kind() domain.RuntimeKind

	// Ping checks that the runtime answers.
	Ping(ctx context.Context) error

	// Container lifecycle
	ListContainers(ctx context.Context) ([]domain.ContainerSummary, error)
	ContainerExists(ctx context.Context, name string) (bool, error)
	RunContainer(ctx context.Context, spec domain.RunSpec) (string, error)
	StopContainer(ctx context.Context, name string) error
	RestartContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error

	// Image operations
	PullImage(ctx context.Context, ref string) error
	BuildImage(ctx context.Context, spec domain.BuildSpec) error
	Login(ctx context.Context, auth domain.RegistryAuth) error
}

// JobRunner builds and runs one-shot containers on the local host, waiting for
// each to exit.
type JobRunner interface {
	Build(ctx context.Context, spec domain.BuildSpec) error
	// RunToCompletion returns a *domain.AgentOperationError carrying the exit
	// code and output when the container exits non-zero.
	RunToCompletion(ctx context.Context, spec domain.RunSpec) error
}
