package cliruntime

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bnema/flotilla/internal/domain"
)

// CloudRun deploys services to Google Cloud Run through gcloud.
type CloudRun struct {
	gcloud  string
	project string
	region  string
	runner  Runner
}

func (*CloudRun) sealed() {}

func (c *CloudRun) Kind() domain.RuntimeKind { return domain.RuntimeCloudRun }

func (c *CloudRun) scoped(args ...string) []string {
	if c.project != "" {
		args = append(args, "--project", c.project)
	}
	return append(args, "--quiet")
}

// Authenticate configures docker credentials for an Artifact Registry host.
// gcloud holds the actual identity, so the username and password are unused.
func (c *CloudRun) Authenticate(ctx context.Context, auth domain.RegistryAuth) error {
	_, err := c.runner.Run(ctx, nil, c.gcloud, c.scoped("auth", "configure-docker", auth.Server)...)
	return err
}

// Build submits the context to Cloud Build.
func (c *CloudRun) Build(ctx context.Context, spec domain.BuildSpec) error {
	if spec.Dockerfile != "" && filepath.Base(spec.Dockerfile) != "Dockerfile" {
		return fmt.Errorf("%w: cloud build only reads a file named Dockerfile", domain.ErrUnsupportedRuntime)
	}
	_, err := c.runner.Run(ctx, nil, c.gcloud, c.scoped("builds", "submit", spec.ContextDir, "--tag", spec.Tag)...)
	return err
}

func (c *CloudRun) Run(ctx context.Context, spec domain.RunSpec) (string, error) {
	if len(spec.Volumes) > 0 {
		return "", fmt.Errorf("%w: host volumes are not supported on cloud run", domain.ErrUnsupportedRuntime)
	}

	name := podName(spec.Name)
	args := []string{"run", "deploy", name, "--image", spec.Image}
	if c.region != "" {
		args = append(args, "--region", c.region)
	}
	if len(spec.Ports) > 0 {
		args = append(args, "--port", strconv.Itoa(spec.Ports[0].ContainerPort))
	}
	if env := spec.SortedEnv(); len(env) > 0 {
		// Values may contain commas, so use gcloud's custom delimiter syntax.
		args = append(args, "--set-env-vars", "^@^"+strings.Join(env, "@"))
	}
	if _, err := c.runner.Run(ctx, nil, c.gcloud, c.scoped(args...)...); err != nil {
		return "", err
	}
	return name, nil
}
