package cliruntime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

var _ out.ContainerRuntime = (*Runtime)(nil)

// Runtime is the node agent's local container runtime. Only the host-local
// drivers (docker, podman, containerd) can back it.
type Runtime struct {
	driver Driver
	engine engine
}

// NewRuntime creates a local runtime for kind.
func NewRuntime(kind domain.RuntimeKind, binary string, runner Runner) (*Runtime, error) {
	driver, err := NewDriver(kind, DriverConfig{Binary: binary}, runner)
	if err != nil {
		return nil, err
	}
	switch d := driver.(type) {
	case *Docker:
		return &Runtime{driver: d, engine: d.engine}, nil
	case *Podman:
		return &Runtime{driver: d, engine: d.engine}, nil
	case *Containerd:
		return &Runtime{driver: d, engine: d.engine}, nil
	default:
		return nil, fmt.Errorf("%w: %s cannot run containers on this host", domain.ErrUnsupportedRuntime, kind)
	}
}

func (r *Runtime) Kind() domain.RuntimeKind { return r.driver.Kind() }

func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.engine.exec(ctx, "version")
	return err
}

func (r *Runtime) ListContainers(ctx context.Context) ([]domain.ContainerSummary, error) {
	out, err := r.engine.exec(ctx, "ps", "-a", "--format", "{{.Names}}\t{{.Status}}\t{{.Image}}")
	if err != nil {
		return nil, err
	}
	return parsePS(out), nil
}

func parsePS(out string) []domain.ContainerSummary {
	containers := []domain.ContainerSummary{}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		for len(fields) < 3 {
			fields = append(fields, "")
		}
		name := strings.Trim(fields[0], "[] ")
		if i := strings.IndexAny(name, ", "); i >= 0 {
			name = name[:i]
		}
		containers = append(containers, domain.ContainerSummary{
			Name:   name,
			Status: strings.TrimSpace(fields[1]),
			Image:  strings.TrimSpace(fields[2]),
		})
	}
	return containers
}

func (r *Runtime) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := r.engine.exec(ctx, "container", "inspect", "--format", "{{.Name}}", name)
	if err == nil {
		return true, nil
	}
	if errors.Is(notFound(err), domain.ErrContainerNotFound) {
		return false, nil
	}
	return false, err
}

func (r *Runtime) RunContainer(ctx context.Context, spec domain.RunSpec) (string, error) {
	return r.driver.Run(ctx, spec)
}

func (r *Runtime) StopContainer(ctx context.Context, name string) error {
	_, err := r.engine.exec(ctx, "stop", name)
	return notFound(err)
}

func (r *Runtime) RestartContainer(ctx context.Context, name string) error {
	_, err := r.engine.exec(ctx, "restart", name)
	return notFound(err)
}

func (r *Runtime) RemoveContainer(ctx context.Context, name string) error {
	_, err := r.engine.exec(ctx, "rm", "-f", name)
	return notFound(err)
}

func (r *Runtime) PullImage(ctx context.Context, ref string) error {
	_, err := r.engine.exec(ctx, "pull", ref)
	return err
}

func (r *Runtime) BuildImage(ctx context.Context, spec domain.BuildSpec) error {
	return r.driver.Build(ctx, spec)
}

func (r *Runtime) Login(ctx context.Context, auth domain.RegistryAuth) error {
	return r.driver.Authenticate(ctx, auth)
}
