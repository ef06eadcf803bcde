// Package docker implements the node agent's container runtime on the Docker Engine API.
package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/bnema/zerowrap"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

var _ out.ContainerRuntime = (*Runtime)(nil)

// stopTimeout is how long the engine waits before killing on stop/restart.
const stopTimeout = 30

// Runtime implements out.ContainerRuntime using the Docker API.
type Runtime struct {
	client *client.Client

	mu    sync.RWMutex
	auths map[string]string // registry server -> encoded auth
}

// NewRuntime creates a runtime from the environment (DOCKER_HOST etc.).
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return NewRuntimeWithClient(cli), nil
}

// NewRuntimeWithClient creates a runtime with a custom client (for testing).
func NewRuntimeWithClient(cli *client.Client) *Runtime {
	return &Runtime{
		client: cli,
		auths:  make(map[string]string),
	}
}

func (r *Runtime) Kind() domain.RuntimeKind { return domain.RuntimeDocker }

func logCtx(ctx context.Context, action string, fields map[string]any) context.Context {
	all := map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  action,
	}
	for k, v := range fields {
		all[k] = v
	}
	return zerowrap.CtxWithFields(ctx, all)
}

// opError keeps the engine's message as the operation output and maps
// not-found and conflict answers onto the domain sentinels.
func opError(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	e := &domain.AgentOperationError{Operation: op, Output: err.Error()}
	switch {
	case cerrdefs.IsNotFound(err) && notFound != nil:
		e.Err = notFound
	case cerrdefs.IsConflict(err) && op == "run":
		e.Err = domain.ErrContainerNameConflict
	}
	return e
}

// Ping checks if Docker is responsive.
func (r *Runtime) Ping(ctx context.Context) error {
	ctx = logCtx(ctx, "Ping", nil)
	log := zerowrap.FromCtx(ctx)

	if _, err := r.client.Ping(ctx); err != nil {
		return log.WrapErr(opError("ping", err, nil), "Docker ping failed")
	}
	return nil
}

// ListContainers lists all containers, running or not.
func (r *Runtime) ListContainers(ctx context.Context) ([]domain.ContainerSummary, error) {
	ctx = logCtx(ctx, "ListContainers", nil)
	log := zerowrap.FromCtx(ctx)

	containers, err := r.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, log.WrapErr(opError("list", err, nil), "failed to list containers")
	}

	result := make([]domain.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		// Get the primary name (remove leading slash)
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, domain.ContainerSummary{
			Name:   name,
			Status: c.Status,
			Image:  c.Image,
		})
	}
	return result, nil
}

func (r *Runtime) ContainerExists(ctx context.Context, name string) (bool, error) {
	ctx = logCtx(ctx, "ContainerExists", map[string]any{"container_name": name})
	log := zerowrap.FromCtx(ctx)

	_, err := r.client.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, log.WrapErr(opError("inspect", err, nil), "failed to inspect container")
	}
	return true, nil
}

// RunContainer creates and starts a container, creating its network first.
func (r *Runtime) RunContainer(ctx context.Context, spec domain.RunSpec) (string, error) {
	ctx = logCtx(ctx, "RunContainer", map[string]any{
		"container_name": spec.Name,
		"image":          spec.Image,
	})
	log := zerowrap.FromCtx(ctx)

	if spec.Network != "" {
		if err := r.ensureNetwork(ctx, spec.Network); err != nil {
			return "", err
		}
	}

	containerConfig, hostConfig, networkConfig := createConfig(spec)
	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return "", log.WrapErr(opError("run", err, domain.ErrImageNotFound), "failed to create container")
	}

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", log.WrapErr(opError("run", err, nil), "failed to start container")
	}

	log.Info().Str(zerowrap.FieldEntityID, resp.ID).Msg("container started")
	return resp.ID, nil
}

func createConfig(spec domain.RunSpec) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	exposedPorts := make(nat.PortSet)
	portBindings := make(nat.PortMap)
	for _, p := range spec.Ports {
		containerPort := nat.Port(fmt.Sprintf("%d/tcp", p.ContainerPort))
		exposedPorts[containerPort] = struct{}{}
		if p.HostPort > 0 {
			portBindings[containerPort] = append(portBindings[containerPort], nat.PortBinding{
				HostPort: strconv.Itoa(p.HostPort),
			})
		}
	}

	containerConfig := &container.Config{
		Image:        spec.Image,
		Env:          spec.SortedEnv(),
		ExposedPorts: exposedPorts,
	}
	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        spec.SortedVolumes(),
	}
	if spec.RestartPolicy != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)}
	}

	var networkConfig *network.NetworkingConfig
	if spec.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.Network)
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}
	return containerConfig, hostConfig, networkConfig
}

func (r *Runtime) ensureNetwork(ctx context.Context, name string) error {
	log := zerowrap.FromCtx(ctx)

	_, err := r.client.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return log.WrapErr(opError("network", err, nil), "failed to inspect network")
	}

	_, err = r.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{"flotilla.managed": "true"},
	})
	if err != nil && !cerrdefs.IsConflict(err) {
		return log.WrapErr(opError("network", err, nil), "failed to create network")
	}
	log.Info().Str("network", name).Msg("network created")
	return nil
}

func (r *Runtime) StopContainer(ctx context.Context, name string) error {
	ctx = logCtx(ctx, "StopContainer", map[string]any{"container_name": name})
	log := zerowrap.FromCtx(ctx)

	timeout := stopTimeout
	if err := r.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return log.WrapErr(opError("stop", err, domain.ErrContainerNotFound), "failed to stop container")
	}
	log.Info().Msg("container stopped")
	return nil
}

func (r *Runtime) RestartContainer(ctx context.Context, name string) error {
	ctx = logCtx(ctx, "RestartContainer", map[string]any{"container_name": name})
	log := zerowrap.FromCtx(ctx)

	timeout := stopTimeout
	if err := r.client.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return log.WrapErr(opError("restart", err, domain.ErrContainerNotFound), "failed to restart container")
	}
	log.Info().Msg("container restarted")
	return nil
}

// RemoveContainer force-removes a container, running or not.
func (r *Runtime) RemoveContainer(ctx context.Context, name string) error {
	ctx = logCtx(ctx, "RemoveContainer", map[string]any{"container_name": name})
	log := zerowrap.FromCtx(ctx)

	if err := r.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return log.WrapErr(opError("remove", err, domain.ErrContainerNotFound), "failed to remove container")
	}
	log.Info().Msg("container removed")
	return nil
}

// PullImage pulls ref, using credentials from an earlier Login for its registry.
func (r *Runtime) PullImage(ctx context.Context, ref string) error {
	ctx = logCtx(ctx, "PullImage", map[string]any{"image": ref})
	log := zerowrap.FromCtx(ctx)

	log.Info().Msg("pulling image")
	r.mu.RLock()
	auth := r.auths[registryHost(ref)]
	r.mu.RUnlock()

	reader, err := r.client.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: auth})
	if err != nil {
		return log.WrapErr(opError("pull", err, domain.ErrImageNotFound), "failed to pull image")
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if err := drainStream(reader, nil); err != nil {
		return log.WrapErr(opError("pull", err, nil), "image pull failed")
	}
	log.Info().Msg("image pulled")
	return nil
}

// registryHost extracts the registry server from an image reference.
// e.g., "registry.example.com/app:tag" -> "registry.example.com"
func registryHost(ref string) string {
	idx := strings.Index(ref, "/")
	if idx <= 0 {
		return "docker.io"
	}
	host := ref[:idx]
	if !strings.ContainsAny(host, ".:") && host != "localhost" {
		return "docker.io"
	}
	return host
}

// BuildImage tars the context directory and builds it on the engine.
func (r *Runtime) BuildImage(ctx context.Context, spec domain.BuildSpec) error {
	ctx = logCtx(ctx, "BuildImage", map[string]any{"image": spec.Tag})
	log := zerowrap.FromCtx(ctx)

	buildCtx, err := archive.TarWithOptions(spec.ContextDir, &archive.TarOptions{})
	if err != nil {
		return log.WrapErr(err, "failed to create build context")
	}
	defer buildCtx.Close()

	resp, err := r.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{spec.Tag},
		Dockerfile:  spec.Dockerfile,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return log.WrapErr(opError("build", err, nil), "failed to start build")
	}
	defer resp.Body.Close()

	if err := drainStream(resp.Body, func(line string) {
		log.Debug().Msg(line)
	}); err != nil {
		return log.WrapErr(opError("build", err, nil), "image build failed")
	}
	log.Info().Msg("image built")
	return nil
}

// Login verifies credentials with the registry and keeps them for later pulls.
func (r *Runtime) Login(ctx context.Context, auth domain.RegistryAuth) error {
	ctx = logCtx(ctx, "Login", map[string]any{
		"registry": auth.Server,
		"username": auth.Username,
	})
	log := zerowrap.FromCtx(ctx)

	authConfig := registry.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: auth.Server,
	}
	if _, err := r.client.RegistryLogin(ctx, authConfig); err != nil {
		return log.WrapErr(opError("login", err, nil), "registry login failed")
	}

	// Using StdEncoding; Podman's compatibility API rejects URLEncoding.
	authJSON, err := json.Marshal(authConfig)
	if err != nil {
		return log.WrapErr(err, "failed to marshal auth config")
	}
	r.mu.Lock()
	r.auths[auth.Server] = base64.StdEncoding.EncodeToString(authJSON)
	r.mu.Unlock()

	log.Info().Msg("registry login succeeded")
	return nil
}

// streamMessage is one line of the engine's JSON progress stream.
type streamMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func drainStream(r io.Reader, onLine func(string)) error {
	decoder := json.NewDecoder(r)
	for {
		var msg streamMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode engine output: %w", err)
		}
		if msg.ErrorDetail.Message != "" {
			return errors.New(msg.ErrorDetail.Message)
		}
		if msg.Error != "" {
			return errors.New(msg.Error)
		}
		if onLine == nil {
			continue
		}
		if line := strings.TrimSpace(msg.Stream); line != "" {
			onLine(line)
		}
	}
}
