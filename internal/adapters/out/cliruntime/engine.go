package cliruntime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bnema/flotilla/internal/domain"
)

// engine implements the docker-compatible command line shared by docker,
// podman and nerdctl.
type engine struct {
	kind   domain.RuntimeKind
	bin    string
	runner Runner
}

func newEngine(kind domain.RuntimeKind, bin string, runner Runner) engine {
	return engine{kind: kind, bin: bin, runner: runner}
}

func (e engine) Kind() domain.RuntimeKind { return e.kind }

func (e engine) exec(ctx context.Context, args ...string) (string, error) {
	out, err := e.runner.Run(ctx, nil, e.bin, args...)
	return strings.TrimSpace(string(out)), err
}

func (e engine) Authenticate(ctx context.Context, auth domain.RegistryAuth) error {
	_, err := e.runner.Run(ctx, strings.NewReader(auth.Password), e.bin,
		"login", auth.Server, "--username", auth.Username, "--password-stdin")
	return err
}

func (e engine) Build(ctx context.Context, spec domain.BuildSpec) error {
	args := []string{"build", "-t", spec.Tag}
	if spec.Dockerfile != "" {
		args = append(args, "-f", spec.Dockerfile)
	}
	args = append(args, spec.ContextDir)
	_, err := e.exec(ctx, args...)
	return err
}

func (e engine) Run(ctx context.Context, spec domain.RunSpec) (string, error) {
	if spec.Network != "" {
		if err := e.ensureNetwork(ctx, spec.Network); err != nil {
			return "", err
		}
	}
	return e.exec(ctx, runArgs(spec, "-d")...)
}

// RunToCompletion runs spec in the foreground and removes the container when
// it exits. A non-zero exit comes back from the runner as an
// *domain.AgentOperationError with the exit code and the container's output.
func (e engine) RunToCompletion(ctx context.Context, spec domain.RunSpec) error {
	if spec.Network != "" {
		if err := e.ensureNetwork(ctx, spec.Network); err != nil {
			return err
		}
	}
	_, err := e.exec(ctx, runArgs(spec, "--rm")...)
	return err
}

func runArgs(spec domain.RunSpec, mode string) []string {
	args := []string{"run", mode, "--name", spec.Name}
	if spec.RestartPolicy != "" {
		args = append(args, "--restart", string(spec.RestartPolicy))
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	for _, p := range spec.Ports {
		if p.HostPort > 0 {
			args = append(args, "-p", strconv.Itoa(p.HostPort)+":"+strconv.Itoa(p.ContainerPort))
		} else {
			args = append(args, "--expose", strconv.Itoa(p.ContainerPort))
		}
	}
	for _, kv := range spec.SortedEnv() {
		args = append(args, "-e", kv)
	}
	for _, v := range spec.SortedVolumes() {
		args = append(args, "-v", v)
	}
	return append(args, spec.Image)
}

func (e engine) ensureNetwork(ctx context.Context, name string) error {
	if _, err := e.exec(ctx, "network", "inspect", name); err == nil {
		return nil
	}
	_, err := e.exec(ctx, "network", "create", name)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil
	}
	return err
}

// notFound rewrites a "no such container" failure so callers can match
// domain.ErrContainerNotFound while keeping the runtime's output.
func notFound(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no such container") || strings.Contains(msg, "no container with name") || strings.Contains(msg, "not found") {
		var opErr *domain.AgentOperationError
		if errors.As(err, &opErr) {
			return &domain.AgentOperationError{
				Operation: opErr.Operation,
				Output:    opErr.Output,
				ExitCode:  opErr.ExitCode,
				Err:       domain.ErrContainerNotFound,
			}
		}
		return fmt.Errorf("%w: %v", domain.ErrContainerNotFound, err)
	}
	return err
}

// Docker drives the docker CLI.
type Docker struct{ engine }

// Podman drives the podman CLI.
type Podman struct{ engine }

// Containerd drives containerd through nerdctl.
type Containerd struct{ engine }

func (*Docker) sealed()     {}
func (*Podman) sealed()     {}
func (*Containerd) sealed() {}
