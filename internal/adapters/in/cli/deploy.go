package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/flotilla/internal/adapters/out/eventstream"
	"github.com/bnema/flotilla/internal/app"
	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

// textSink prints deploy events for a terminal.
type textSink struct {
	w io.Writer
}

var _ out.DeployEventSink = textSink{}

func (s textSink) Emit(ev domain.DeployEvent) error {
	stamp := dimColor.Sprint(ev.Timestamp.Format("15:04:05"))
	switch ev.Type {
	case domain.EventPing, domain.EventDone:
		return nil
	case domain.EventError, domain.EventDeployFailure:
		_, err := fmt.Fprintf(s.w, "%s %s\n", stamp, failColor.Sprint(ev.Message))
		return err
	case domain.EventDeploySuccess:
		_, err := fmt.Fprintf(s.w, "%s %s\n", stamp, okColor.Sprint(ev.Message))
		return err
	case domain.EventProgress:
		pct := 0
		if ev.Progress != nil {
			pct = *ev.Progress
		}
		_, err := fmt.Fprintf(s.w, "%s [%3d%%] %s\n", stamp, pct, ev.Message)
		return err
	default:
		_, err := fmt.Fprintf(s.w, "%s %s\n", stamp, infoColor.Sprint(ev.Message))
		return err
	}
}

// sinkFor returns the event sink for --output. Stream formats get a ping
// every heartbeat so readers can tell a long build from a dead pipe; stop
// ends the pings.
func sinkFor(ctx context.Context, w io.Writer, output string, heartbeat time.Duration) (sink out.DeployEventSink, stop func(), err error) {
	if output == "text" || output == "" {
		return textSink{w: w}, func() {}, nil
	}
	format, err := eventstream.ParseFormat(output)
	if err != nil {
		return nil, nil, err
	}
	writer := eventstream.NewWriter(w, format)
	if heartbeat <= 0 {
		return writer, func() {}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		eventstream.Heartbeat(ctx, writer, heartbeat)
	}()
	return writer, func() {
		cancel()
		<-done
	}, nil
}

// deployFlags holds the flags shared by deploy and rollback.
type deployFlags struct {
	host          string
	port          int
	envVars       []string
	volumes       []string
	restart       string
	force         bool
	registry      string
	registryUser  string
	passwordStdin bool
}

func (f *deployFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "Droplet ID from the inventory, or an IP address")
	cmd.Flags().IntVar(&f.port, "port", 0, "Container port (default: discovered)")
	cmd.Flags().StringArrayVar(&f.envVars, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVarP(&f.volumes, "volume", "v", nil, "Volume SOURCE:TARGET (repeatable)")
	cmd.Flags().StringVar(&f.restart, "restart", string(domain.RestartUnlessStopped), "Restart policy")
	cmd.Flags().BoolVar(&f.force, "force", false, "Deploy to a host that is not active")
	cmd.Flags().StringVar(&f.registry, "registry", "", "Registry to log the host in to before pulling")
	cmd.Flags().StringVar(&f.registryUser, "registry-user", "", "Registry username")
	cmd.Flags().BoolVar(&f.passwordStdin, "registry-password-stdin", false, "Read the registry password from stdin")
	_ = cmd.MarkFlagRequired("host")
}

func (f *deployFlags) request(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) (domain.DeployRequest, error) {
	host, err := lookupHost(ctx, a.Inventory(), f.host)
	if err != nil {
		return domain.DeployRequest{}, err
	}
	if !host.Status.Schedulable() && !f.force {
		return domain.DeployRequest{}, fmt.Errorf("host %s is %s; use --force to deploy anyway", f.host, host.Status)
	}

	env, err := keyValues(f.envVars, "=")
	if err != nil {
		return domain.DeployRequest{}, err
	}
	volumes, err := keyValues(f.volumes, ":")
	if err != nil {
		return domain.DeployRequest{}, err
	}
	policy := domain.RestartPolicy(f.restart)
	if !policy.Valid() {
		return domain.DeployRequest{}, fmt.Errorf("%w: unknown restart policy %q", domain.ErrInvalidConfig, f.restart)
	}

	req := domain.DeployRequest{
		Project:       args[0],
		Env:           args[1],
		Service:       args[2],
		ContainerPort: f.port,
		Host:          host,
		EnvVars:       env,
		Volumes:       volumes,
		RestartPolicy: policy,
	}

	if f.registry != "" {
		auth := &domain.RegistryAuth{Server: f.registry, Username: f.registryUser}
		if f.passwordStdin {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return domain.DeployRequest{}, fmt.Errorf("failed to read registry password: %w", err)
			}
			auth.Password = strings.TrimRight(string(data), "\r\n")
		}
		req.Registry = auth
	}
	return req, nil
}

// lookupHost resolves a droplet ID through the inventory. A literal IP skips
// the inventory and is treated as an active host.
func lookupHost(ctx context.Context, inv out.Inventory, ref string) (domain.HostRecord, error) {
	if ip := net.ParseIP(ref); ip != nil {
		return domain.HostRecord{IP: ref, Status: domain.HostActive}, nil
	}
	return inv.Host(ctx, ref)
}

func newDeployCmd(opts *options) *cobra.Command {
	var (
		flags      deployFlags
		image      string
		contextDir string
		dockerfile string
		output     string
		heartbeat  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "deploy <project> <env> <service>",
		Short: "Deploy a service to a host through its node agent",
		Long: `Deploy a service by pulling --image, or by uploading --context and building
it on the host, then replacing the service container. Events stream to
stdout as text, ndjson or sse.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (image == "") == (contextDir == "") {
				return fmt.Errorf("exactly one of --image or --context is required")
			}
			a, err := opts.App()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(a.Context(cmd.Context()))
			defer stop()

			req, err := flags.request(ctx, cmd, a, args)
			if err != nil {
				return err
			}
			req.Image = image
			req.ContextDir = contextDir
			req.Dockerfile = dockerfile

			svc, err := a.Deploy(ctx)
			if err != nil {
				return err
			}
			sink, stopSink, err := sinkFor(ctx, cmd.OutOrStdout(), output, heartbeat)
			if err != nil {
				return err
			}

			result, err := svc.Deploy(ctx, req, sink)
			stopSink()
			if err != nil {
				return err
			}
			if output == "text" {
				printOK(cmd.OutOrStdout(), "%s running %s on %s:%d (%s)",
					result.ContainerName, result.Image, result.ServerIP, result.HostPort, result.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&image, "image", "", "Image reference to pull")
	cmd.Flags().StringVar(&contextDir, "context", "", "Build context directory to upload and build on the host")
	cmd.Flags().StringVar(&dockerfile, "dockerfile", "", "Dockerfile path inside the context")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Event output: text, ndjson or sse")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 15*time.Second, "Ping interval on ndjson and sse output (0 disables)")

	return cmd
}

func newRollbackCmd(opts *options) *cobra.Command {
	var (
		flags deployFlags
		image string
	)

	cmd := &cobra.Command{
		Use:   "rollback <project> <env> <service>",
		Short: "Replace a service container with a previous image",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.App()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(a.Context(cmd.Context()))
			defer stop()

			req, err := flags.request(ctx, cmd, a, args)
			if err != nil {
				return err
			}
			svc, err := a.Deploy(ctx)
			if err != nil {
				return err
			}

			result, err := svc.Rollback(ctx, req, image)
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "%s rolled back to %s", result.Service, result.ToImage)
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&image, "image", "", "Previous image to run")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}
