// Package in defines input ports (interfaces) for use cases.
// These interfaces define the contract between driving adapters (HTTP, CLI)
// and the business logic (use cases).
package in

import (
	"context"
	"io"

	"github.com/bnema/flotilla/internal/domain"
)

// AgentHealth is the node agent's self report.
type AgentHealth struct {
	RuntimeReachable bool
	Containers       []string
}

// AgentService defines the node agent's container lifecycle operations.
type AgentService interface {
	Health(ctx context.Context) AgentHealth
	ListContainers(ctx context.Context) ([]domain.ContainerSummary, error)
	RunContainer(ctx context.Context, spec domain.RunSpec) error
	StopContainer(ctx context.Context, name string) error
	RestartContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	PullImage(ctx context.Context, ref string) error
	BuildImage(ctx context.Context, transferID, fileName, tag, dockerfile string) error
	Login(ctx context.Context, auth domain.RegistryAuth) error

	// ReceiveChunk stores one chunk and assembles the file once all chunks are present.
	ReceiveChunk(ctx context.Context, meta domain.ChunkMetadata, hash string, body io.Reader) (*domain.UploadStatus, error)
}
