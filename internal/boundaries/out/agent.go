package out

import (
	"context"
	"io"

	"github.com/bnema/flotilla/internal/domain"
)

// AgentHealth is what a node agent reports about itself.
type AgentHealth struct {
	Status           string
	RuntimeReachable bool
	Containers       []string
	Version          string
}

// NodeAgent is the caller-side view of one host's agent.
type NodeAgent interface {
	Health(ctx context.Context) (*AgentHealth, error)
	ListContainers(ctx context.Context) ([]domain.ContainerSummary, error)
	RunContainer(ctx context.Context, spec domain.RunSpec) error
	StopContainer(ctx context.Context, name string) error
	RestartContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	PullImage(ctx context.Context, ref string) error
	Login(ctx context.Context, auth domain.RegistryAuth) error
	Upload(ctx context.Context, fileName string, r io.Reader, size int64) (*domain.UploadStatus, error)
	BuildImage(ctx context.Context, transferID, fileName, tag, dockerfile string) error
}

// AgentDialer returns a NodeAgent for a host address.
type AgentDialer interface {
	Agent(address string) NodeAgent
}

// Inventory lists managed hosts. It is owned by an external system.
type Inventory interface {
	Host(ctx context.Context, dropletID string) (domain.HostRecord, error)
	Hosts(ctx context.Context) ([]domain.HostRecord, error)
}

// DeployEventSink receives the events of one deploy run.
type DeployEventSink interface {
	Emit(event domain.DeployEvent) error
}
