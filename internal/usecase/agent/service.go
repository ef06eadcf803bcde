// Package agent implements the node agent's container lifecycle operations on
// top of the host's local container runtime.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/boundaries/in"
	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

var _ in.AgentService = (*Service)(nil)

// Config holds the agent's host-local settings.
type Config struct {
	UploadDir string
}

// Service implements in.AgentService. Requests are not serialized: two calls
// on the same container race at the runtime, which has the last word.
type Service struct {
	runtime out.ContainerRuntime
	config  Config
	metrics out.Metrics
	uploads *uploads
}

// NewService creates an agent service. metrics may be nil.
func NewService(runtime out.ContainerRuntime, config Config, metrics out.Metrics) *Service {
	return &Service{
		runtime: runtime,
		config:  config,
		metrics: metrics,
		uploads: newUploads(config.UploadDir),
	}
}

// Health reports runtime reachability. An unreachable runtime is a valid
// answer, not an error.
func (s *Service) Health(ctx context.Context) in.AgentHealth {
	ctx = s.ctx(ctx, "Health")
	log := zerowrap.FromCtx(ctx)

	if err := s.runtime.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("container runtime unreachable")
		return in.AgentHealth{Containers: []string{}}
	}

	containers, err := s.runtime.ListContainers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list containers for health")
		return in.AgentHealth{RuntimeReachable: true, Containers: []string{}}
	}

	names := make([]string, 0, len(containers))
	for _, c := range containers {
		names = append(names, c.Name)
	}
	return in.AgentHealth{RuntimeReachable: true, Containers: names}
}

// ListContainers returns all containers known to the runtime.
func (s *Service) ListContainers(ctx context.Context) ([]domain.ContainerSummary, error) {
	ctx = s.ctx(ctx, "ListContainers")
	var containers []domain.ContainerSummary
	err := s.observe(ctx, "list", func() error {
		var err error
		containers, err = s.runtime.ListContainers(ctx)
		return err
	})
	return containers, err
}

// RunContainer starts a new container. A container that already carries the
// name is a conflict; the caller removes it first when replacing.
func (s *Service) RunContainer(ctx context.Context, spec domain.RunSpec) error {
	ctx = zerowrap.CtxWithFields(s.ctx(ctx, "RunContainer"), map[string]any{
		zerowrap.FieldEntityID: spec.Name,
		"image":                spec.Image,
	})
	log := zerowrap.FromCtx(ctx)

	if err := spec.Validate(); err != nil {
		return err
	}

	exists, err := s.runtime.ContainerExists(ctx, spec.Name)
	if err != nil {
		return log.WrapErr(err, "failed to check existing container")
	}
	if exists {
		log.Info().Msg("container name already in use")
		return fmt.Errorf("%w: %s", domain.ErrContainerNameConflict, spec.Name)
	}

	return s.observe(ctx, "run", func() error {
		id, err := s.runtime.RunContainer(ctx, spec)
		if err == nil {
			log.Info().Str("container_id", id).Msg("container started")
		}
		return err
	})
}

// StopContainer stops a running container.
func (s *Service) StopContainer(ctx context.Context, name string) error {
	return s.lifecycle(ctx, "stop", name, s.runtime.StopContainer)
}

// RestartContainer restarts a container.
func (s *Service) RestartContainer(ctx context.Context, name string) error {
	return s.lifecycle(ctx, "restart", name, s.runtime.RestartContainer)
}

// RemoveContainer force-removes a container.
func (s *Service) RemoveContainer(ctx context.Context, name string) error {
	return s.lifecycle(ctx, "remove", name, s.runtime.RemoveContainer)
}

func (s *Service) lifecycle(ctx context.Context, action, name string, fn func(context.Context, string) error) error {
	ctx = zerowrap.CtxWithFields(s.ctx(ctx, "ContainerLifecycle"), map[string]any{
		zerowrap.FieldAction:   action,
		zerowrap.FieldEntityID: name,
	})
	if name == "" {
		return fmt.Errorf("%w: container name is required", domain.ErrInvalidName)
	}
	err := s.observe(ctx, action, func() error { return fn(ctx, name) })
	if err == nil {
		log := zerowrap.FromCtx(ctx)
		log.Info().Msg("container " + action + " done")
	}
	return err
}

// PullImage pulls an image reference.
func (s *Service) PullImage(ctx context.Context, ref string) error {
	ctx = zerowrap.CtxWithFields(s.ctx(ctx, "PullImage"), map[string]any{"image": ref})
	if ref == "" {
		return fmt.Errorf("%w: image reference is required", domain.ErrInvalidConfig)
	}
	return s.observe(ctx, "pull", func() error { return s.runtime.PullImage(ctx, ref) })
}

// Login authenticates the runtime against a registry.
func (s *Service) Login(ctx context.Context, auth domain.RegistryAuth) error {
	ctx = zerowrap.CtxWithFields(s.ctx(ctx, "Login"), map[string]any{zerowrap.FieldHost: auth.Server})
	if auth.Server == "" || auth.Username == "" {
		return fmt.Errorf("%w: registry server and username are required", domain.ErrInvalidConfig)
	}
	return s.observe(ctx, "login", func() error { return s.runtime.Login(ctx, auth) })
}

// BuildImage builds tag from a previously uploaded tar context.
func (s *Service) BuildImage(ctx context.Context, transferID, fileName, tag, dockerfile string) error {
	ctx = zerowrap.CtxWithFields(s.ctx(ctx, "BuildImage"), map[string]any{
		"transfer_id": transferID,
		"image":       tag,
	})
	log := zerowrap.FromCtx(ctx)

	if tag == "" {
		return fmt.Errorf("%w: image tag is required", domain.ErrInvalidConfig)
	}
	archive, err := s.uploads.completed(transferID, fileName)
	if err != nil {
		return err
	}
	contextDir, err := s.uploads.extract(transferID, archive)
	if err != nil {
		return log.WrapErr(err, "failed to unpack build context")
	}

	spec := domain.BuildSpec{Tag: tag, ContextDir: contextDir, Dockerfile: dockerfile}
	return s.observe(ctx, "build", func() error { return s.runtime.BuildImage(ctx, spec) })
}

// ReceiveChunk stores one chunk of a transfer.
func (s *Service) ReceiveChunk(ctx context.Context, meta domain.ChunkMetadata, hash string, body io.Reader) (*domain.UploadStatus, error) {
	ctx = zerowrap.CtxWithFields(s.ctx(ctx, "ReceiveChunk"), map[string]any{
		"transfer_id": meta.TransferID,
		"chunk":       meta.ChunkNumber,
	})
	log := zerowrap.FromCtx(ctx)

	n, status, err := s.uploads.store(meta, hash, body)
	if s.metrics != nil && n > 0 {
		s.metrics.RecordUploadBytes(ctx, n)
	}
	if err != nil {
		if errors.Is(err, domain.ErrChunkHashMismatch) || errors.Is(err, domain.ErrInvalidChunk) {
			log.Warn().Err(err).Msg("chunk rejected")
			return nil, err
		}
		return nil, log.WrapErr(err, "failed to store chunk")
	}

	if status.Complete {
		log.Info().Str(zerowrap.FieldPath, status.Path).Int(zerowrap.FieldCount, status.Total).Msg("transfer assembled")
	}
	return status, nil
}

func (s *Service) ctx(ctx context.Context, usecase string) context.Context {
	return zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: usecase,
		"runtime":             string(s.runtime.Kind()),
	})
}

// observe times a runtime call and normalizes its error. Runtime output is
// passed through unchanged.
func (s *Service) observe(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.metrics != nil {
		s.metrics.RecordAgentOperation(ctx, op, time.Since(start), err)
	}
	if err == nil {
		return nil
	}

	log := zerowrap.FromCtx(ctx)
	var opErr *domain.AgentOperationError
	switch {
	case errors.As(err, &opErr), errors.Is(err, domain.ErrContainerNotFound), errors.Is(err, domain.ErrImageNotFound):
		log.Warn().Err(err).Str(zerowrap.FieldAction, op).Msg("runtime operation failed")
		return err
	default:
		log.Error().Err(err).Str(zerowrap.FieldAction, op).Msg("runtime operation failed")
		return &domain.AgentOperationError{Operation: op, Err: err}
	}
}
