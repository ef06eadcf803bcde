package cliruntime

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/internal/usecase/naming"
)

// registrySecret is the image pull secret created by Authenticate.
const registrySecret = "flotilla-registry"

// Kubernetes runs services as pods through kubectl. Images are built locally
// and pushed, since cluster nodes pull from the registry.
type Kubernetes struct {
	kubectl   string
	builder   string
	namespace string
	runner    Runner
}

func (*Kubernetes) sealed() {}

func (k *Kubernetes) Kind() domain.RuntimeKind { return domain.RuntimeKubernetes }

func (k *Kubernetes) args(args ...string) []string {
	if k.namespace != "" {
		return append([]string{"--namespace", k.namespace}, args...)
	}
	return args
}

// Authenticate stores the registry credentials as an image pull secret.
func (k *Kubernetes) Authenticate(ctx context.Context, auth domain.RegistryAuth) error {
	manifest, err := k.runner.Run(ctx, nil, k.kubectl, k.args(
		"create", "secret", "docker-registry", registrySecret,
		"--docker-server="+auth.Server,
		"--docker-username="+auth.Username,
		"--docker-password="+auth.Password,
		"--dry-run=client", "-o", "yaml",
	)...)
	if err != nil {
		return err
	}
	_, err = k.runner.Run(ctx, bytes.NewReader(manifest), k.kubectl, k.args("apply", "-f", "-")...)
	return err
}

func (k *Kubernetes) Build(ctx context.Context, spec domain.BuildSpec) error {
	args := []string{"buildx", "build", "--push", "-t", spec.Tag}
	if spec.Dockerfile != "" {
		args = append(args, "-f", spec.Dockerfile)
	}
	args = append(args, spec.ContextDir)
	_, err := k.runner.Run(ctx, nil, k.builder, args...)
	return err
}

func (k *Kubernetes) Run(ctx context.Context, spec domain.RunSpec) (string, error) {
	if len(spec.Volumes) > 0 {
		return "", fmt.Errorf("%w: host volumes are not supported on kubernetes", domain.ErrUnsupportedRuntime)
	}

	name := podName(spec.Name)
	args := []string{"run", name, "--image=" + spec.Image, "--restart=" + podRestart(spec.RestartPolicy)}
	if len(spec.Ports) > 0 {
		args = append(args, "--port="+strconv.Itoa(spec.Ports[0].ContainerPort))
	}
	for _, kv := range spec.SortedEnv() {
		args = append(args, "--env="+kv)
	}
	if project, env, service, ok := naming.ParseContainerName(spec.Name); ok {
		args = append(args, fmt.Sprintf("--labels=flotilla.project=%s,flotilla.env=%s,flotilla.service=%s", project, env, podName(service)))
	}
	if _, err := k.runner.Run(ctx, nil, k.kubectl, k.args(args...)...); err != nil {
		return "", err
	}
	return name, nil
}

// podName maps a container name onto a DNS-1123 label.
func podName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

func podRestart(p domain.RestartPolicy) string {
	switch p {
	case domain.RestartNo:
		return "Never"
	case domain.RestartOnFailure:
		return "OnFailure"
	default:
		return "Always"
	}
}
