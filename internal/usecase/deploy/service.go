// Package deploy rolls a service out to one host through its node agent.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/boundaries/in"
	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/internal/usecase/lock"
	"github.com/bnema/flotilla/internal/usecase/naming"
	"github.com/bnema/flotilla/pkg/tarball"
	"github.com/bnema/flotilla/pkg/version"
)

var _ in.DeployService = (*Service)(nil)

// Locker serializes deploys of the same service across callers.
type Locker interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Service implements in.DeployService.
type Service struct {
	agents        out.AgentDialer
	router        in.TopologyRouter
	locker        Locker
	clientVersion string
	basePort      int
	nowFn         func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLocker runs each deploy under a per-service lease.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithClientVersion enables the agent version gate.
func WithClientVersion(v string) Option {
	return func(s *Service) { s.clientVersion = v }
}

// WithBasePort overrides naming.DefaultBasePort.
func WithBasePort(port int) Option {
	return func(s *Service) {
		if port > 0 {
			s.basePort = port
		}
	}
}

// NewService creates a deploy driver.
func NewService(agents out.AgentDialer, router in.TopologyRouter, opts ...Option) *Service {
	s := &Service{
		agents:   agents,
		router:   router,
		basePort: naming.DefaultBasePort,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deploy builds or pulls the image, replaces the service container and
// streams progress to sink. Exactly one terminal event (done or error) is
// emitted, whatever the outcome.
func (s *Service) Deploy(ctx context.Context, req domain.DeployRequest, sink out.DeployEventSink) (*domain.DeployResult, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Deploy",
		zerowrap.FieldService: naming.ContainerName(req.Project, req.Env, req.Service),
	})
	log := zerowrap.FromCtx(ctx)

	start := s.nowFn()
	em := &emitter{sink: sink, log: log, nowFn: s.nowFn}
	result := &domain.DeployResult{
		Project:       req.Project,
		Env:           req.Env,
		Service:       req.Service,
		ContainerName: naming.ContainerName(req.Project, req.Env, req.Service),
		ServerIP:      req.Host.IP,
	}

	em.emit(domain.DeployEvent{Type: domain.EventDeployStart, Message: "deploying " + result.ContainerName, ServerIP: req.Host.IP})

	err := s.guarded(ctx, req, func(ctx context.Context) error {
		return s.rollout(ctx, req, em, result)
	})
	result.Duration = s.nowFn().Sub(start)

	if err != nil {
		result.Error = err.Error()
		log.Error().Err(err).Dur(zerowrap.FieldDuration, result.Duration).Msg("deploy failed")
		em.emit(domain.DeployEvent{Type: domain.EventDeployFailure, Message: err.Error(), ServerIP: req.Host.IP, Data: result})
		em.emit(domain.DeployEvent{Type: domain.EventError, Message: err.Error()})
		return result, err
	}

	result.Success = true
	log.Info().Dur(zerowrap.FieldDuration, result.Duration).Int("host_port", result.HostPort).Msg("deploy finished")
	em.emit(domain.DeployEvent{Type: domain.EventDeploySuccess, Message: result.ContainerName + " is running", ServerIP: req.Host.IP, Data: result})
	em.emit(domain.DeployEvent{Type: domain.EventDone})
	return result, nil
}

func (s *Service) guarded(ctx context.Context, req domain.DeployRequest, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.Do(ctx, lock.Key("deploy", req.Project, req.Env, req.Service), fn)
}

func (s *Service) rollout(ctx context.Context, req domain.DeployRequest, em *emitter, result *domain.DeployResult) error {
	if err := naming.Validate(req.Project, req.Env, req.Service); err != nil {
		return err
	}
	if req.Image == "" && req.ContextDir == "" {
		return fmt.Errorf("%w: an image or a build context is required", domain.ErrInvalidConfig)
	}
	if req.Host.Status != "" && !req.Host.Status.Schedulable() {
		return fmt.Errorf("%w: host %s is %s", domain.ErrInvalidConfig, req.Host.IP, req.Host.Status)
	}

	containerPort, err := s.containerPort(req)
	if err != nil {
		return err
	}
	result.HostPort = naming.HostPortFrom(s.basePort, req.Project, req.Env, req.Service, containerPort)

	agent, address, err := s.connect(ctx, req.Host, em)
	if err != nil {
		return err
	}
	em.progress(10, "agent ready at "+address)

	image := req.Image
	if req.ContextDir != "" {
		if image == "" {
			image = fmt.Sprintf("flotilla/%s:%d", result.ContainerName, s.nowFn().Unix())
		}
		if err := s.build(ctx, agent, req, image, em); err != nil {
			return err
		}
	} else {
		if req.Registry != nil {
			em.info("logging in to " + req.Registry.Server)
			if err := agent.Login(ctx, *req.Registry); err != nil {
				return fmt.Errorf("registry login %s: %w", req.Registry.Server, err)
			}
		}
		em.info("pulling " + image)
		if err := agent.PullImage(ctx, image); err != nil {
			return fmt.Errorf("pull %s: %w", image, err)
		}
	}
	result.Image = image
	em.progress(60, "image "+image+" ready")

	if err := s.replace(ctx, agent, result.ContainerName, em); err != nil {
		return err
	}
	em.progress(80, "previous container removed")

	spec := s.runSpec(req, image, containerPort, result.HostPort)
	if err := agent.RunContainer(ctx, spec); err != nil {
		return fmt.Errorf("start %s: %w", spec.Name, err)
	}
	em.progress(100, fmt.Sprintf("%s listening on host port %d", spec.Name, result.HostPort))
	return nil
}

func (s *Service) containerPort(req domain.DeployRequest) (int, error) {
	if req.ContainerPort > 0 {
		return req.ContainerPort, nil
	}
	if req.ContextDir == "" {
		return naming.ResolvePort(req.Service, nil)
	}

	dockerfile := req.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	f, err := os.Open(filepath.Join(req.ContextDir, dockerfile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return naming.ResolvePort(req.Service, nil)
		}
		return 0, err
	}
	defer f.Close()
	return naming.ResolvePort(req.Service, f)
}

func (s *Service) connect(ctx context.Context, host domain.HostRecord, em *emitter) (out.NodeAgent, string, error) {
	address := host.IP
	if s.router != nil {
		address = s.router.BestAddressFor(ctx, host)
	}
	if address == "" {
		return nil, "", fmt.Errorf("%w: host has no address", domain.ErrInvalidConfig)
	}

	agent := s.agents.Agent(address)
	health, err := agent.Health(ctx)
	if err != nil {
		return nil, address, fmt.Errorf("agent at %s: %w", address, err)
	}
	if !health.RuntimeReachable {
		return nil, address, fmt.Errorf("%w: container runtime on %s is down", domain.ErrRuntimeUnreachable, address)
	}
	if s.clientVersion != "" {
		if err := version.Compatible(s.clientVersion, health.Version); err != nil {
			return nil, address, err
		}
	}

	em.emit(domain.DeployEvent{Type: domain.EventServerReady, Message: "agent " + health.Version, ServerIP: host.IP})
	return agent, address, nil
}

func (s *Service) build(ctx context.Context, agent out.NodeAgent, req domain.DeployRequest, image string, em *emitter) error {
	em.info("packing build context " + req.ContextDir)

	tmp, err := os.CreateTemp("", "flotilla-context-*.tar.gz")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := tarball.Pack(tmp, req.ContextDir); err != nil {
		return err
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	em.progress(20, fmt.Sprintf("uploading %d bytes", size))
	status, err := agent.Upload(ctx, "context.tar.gz", tmp, size)
	if err != nil {
		return fmt.Errorf("upload build context: %w", err)
	}
	if !status.Complete {
		return fmt.Errorf("%w: %d/%d chunks", domain.ErrTransferIncomplete, status.Received, status.Total)
	}

	em.progress(40, "building "+image)
	if err := agent.BuildImage(ctx, status.TransferID, "context.tar.gz", image, req.Dockerfile); err != nil {
		return fmt.Errorf("build %s: %w", image, err)
	}
	return nil
}

// replace removes the current container of the service, if any.
func (s *Service) replace(ctx context.Context, agent out.NodeAgent, name string, em *emitter) error {
	containers, err := agent.ListContainers(ctx)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	for _, c := range containers {
		if c.Name != name {
			continue
		}
		em.info(fmt.Sprintf("replacing %s (%s)", name, c.Image))
		if err := agent.RemoveContainer(ctx, name); err != nil && !errors.Is(err, domain.ErrContainerNotFound) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) runSpec(req domain.DeployRequest, image string, containerPort, hostPort int) domain.RunSpec {
	policy := req.RestartPolicy
	if policy == "" {
		policy = domain.RestartUnlessStopped
	}
	return domain.RunSpec{
		Name:          naming.ContainerName(req.Project, req.Env, req.Service),
		Image:         image,
		Ports:         []domain.PortMapping{{HostPort: hostPort, ContainerPort: containerPort}},
		Volumes:       req.Volumes,
		Env:           req.EnvVars,
		Network:       naming.NetworkName(req.Project, req.Env),
		RestartPolicy: policy,
	}
}

// Rollback replaces the service container with previousImage.
func (s *Service) Rollback(ctx context.Context, req domain.DeployRequest, previousImage string) (*domain.RollbackResult, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Rollback",
		zerowrap.FieldService: naming.ContainerName(req.Project, req.Env, req.Service),
	})
	log := zerowrap.FromCtx(ctx)

	result := &domain.RollbackResult{Service: req.Service, ToImage: previousImage}
	fail := func(err error) (*domain.RollbackResult, error) {
		result.Error = err.Error()
		log.Error().Err(err).Str("to_image", previousImage).Msg("rollback failed")
		return result, err
	}

	if previousImage == "" {
		return fail(fmt.Errorf("%w: previous image is required", domain.ErrInvalidConfig))
	}
	req.Image = previousImage
	req.ContextDir = ""

	err := s.guarded(ctx, req, func(ctx context.Context) error {
		if err := naming.Validate(req.Project, req.Env, req.Service); err != nil {
			return err
		}
		containerPort, err := s.containerPort(req)
		if err != nil {
			return err
		}
		em := &emitter{log: log, nowFn: s.nowFn}
		agent, _, err := s.connect(ctx, req.Host, em)
		if err != nil {
			return err
		}

		name := naming.ContainerName(req.Project, req.Env, req.Service)
		containers, err := agent.ListContainers(ctx)
		if err != nil {
			return fmt.Errorf("list containers: %w", err)
		}
		for _, c := range containers {
			if c.Name == name {
				result.FromImage = c.Image
			}
		}
		if result.FromImage == previousImage {
			log.Info().Msg("already running the requested image")
			return nil
		}

		if err := agent.PullImage(ctx, previousImage); err != nil {
			return fmt.Errorf("pull %s: %w", previousImage, err)
		}
		if err := s.replace(ctx, agent, name, em); err != nil {
			return err
		}
		hostPort := naming.HostPortFrom(s.basePort, req.Project, req.Env, req.Service, containerPort)
		return agent.RunContainer(ctx, s.runSpec(req, previousImage, containerPort, hostPort))
	})
	if err != nil {
		return fail(err)
	}

	result.Success = true
	log.Info().Str("from_image", result.FromImage).Str("to_image", previousImage).Msg("rollback finished")
	return result, nil
}
