package out

import (
	"context"

	"github.com/bnema/flotilla/internal/domain"
)

// StaticConfigLoader reads the fleet-wide static configuration once.
type StaticConfigLoader interface {
	Load() (domain.StaticConfig, error)
}

// ServiceDefinitions reads the declared services of one project environment.
type ServiceDefinitions interface {
	Services(ctx context.Context) (map[string]domain.ServiceConfig, error)
}
