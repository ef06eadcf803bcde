package cliruntime

import (
	"context"
	"fmt"

	"github.com/bnema/flotilla/internal/domain"
)

// Driver is the closed set of deployment targets: Docker, Podman, Containerd,
// Kubernetes and CloudRun. The unexported method keeps other packages from
// adding variants.
type Driver interface {
	Kind() domain.RuntimeKind
	Authenticate(ctx context.Context, auth domain.RegistryAuth) error
	Build(ctx context.Context, spec domain.BuildSpec) error
	// Run starts spec and returns the runtime's identifier for it.
	Run(ctx context.Context, spec domain.RunSpec) (string, error)

	sealed()
}

// DriverConfig carries the settings only some variants need.
type DriverConfig struct {
	Binary    string // overrides the default CLI of the variant
	Namespace string // kubernetes
	Project   string // cloudrun
	Region    string // cloudrun
}

// NewDriver returns the driver for kind.
func NewDriver(kind domain.RuntimeKind, cfg DriverConfig, runner Runner) (Driver, error) {
	switch kind {
	case domain.RuntimeDocker:
		return &Docker{engine: newEngine(kind, binaryOr(cfg.Binary, "docker"), runner)}, nil
	case domain.RuntimePodman:
		return &Podman{engine: newEngine(kind, binaryOr(cfg.Binary, "podman"), runner)}, nil
	case domain.RuntimeContainerd:
		return &Containerd{engine: newEngine(kind, binaryOr(cfg.Binary, "nerdctl"), runner)}, nil
	case domain.RuntimeKubernetes:
		return &Kubernetes{
			kubectl:   binaryOr(cfg.Binary, "kubectl"),
			builder:   "docker",
			namespace: cfg.Namespace,
			runner:    runner,
		}, nil
	case domain.RuntimeCloudRun:
		return &CloudRun{
			gcloud:  binaryOr(cfg.Binary, "gcloud"),
			project: cfg.Project,
			region:  cfg.Region,
			runner:  runner,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedRuntime, kind)
	}
}

func binaryOr(bin, def string) string {
	if bin != "" {
		return bin
	}
	return def
}
