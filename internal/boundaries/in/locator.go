package in

import (
	"context"
	"time"

	"github.com/bnema/flotilla/internal/domain"
)

// ServiceLocator resolves a live endpoint for a service instance.
type ServiceLocator interface {
	Resolve(ctx context.Context, project, env, serviceKind, instanceName string, timeout time.Duration) (domain.ServiceEndpoint, error)
}

// TopologyRouter picks the cheapest reachable address for a target host.
type TopologyRouter interface {
	IsInPrivateNetwork(ctx context.Context) bool
	BestAddress(ctx context.Context, publicIP, privateIP, hostID string) string
	BestAddressFor(ctx context.Context, host domain.HostRecord) string
}
