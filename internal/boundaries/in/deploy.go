package in

import (
	"context"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

// DeployService rolls a service out to one host and streams progress.
type DeployService interface {
	// Deploy emits exactly one terminal event (done or error) to sink.
	Deploy(ctx context.Context, req domain.DeployRequest, sink out.DeployEventSink) (*domain.DeployResult, error)
	Rollback(ctx context.Context, req domain.DeployRequest, previousImage string) (*domain.RollbackResult, error)
}
