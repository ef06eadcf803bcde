package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/flotilla/internal/adapters/out/cliruntime"
	"github.com/bnema/flotilla/internal/app"
	"github.com/bnema/flotilla/internal/domain"
)

// driverFlags selects and configures a runtime driver.
type driverFlags struct {
	runtime string
	cfg     cliruntime.DriverConfig
}

func (f *driverFlags) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.runtime, "runtime", "", "docker, podman, containerd, kubernetes or cloudrun (default agent.runtime)")
	cmd.PersistentFlags().StringVar(&f.cfg.Binary, "binary", "", "CLI binary of the runtime")
	cmd.PersistentFlags().StringVar(&f.cfg.Namespace, "namespace", "", "Kubernetes namespace")
	cmd.PersistentFlags().StringVar(&f.cfg.Project, "gcp-project", "", "Cloud Run project")
	cmd.PersistentFlags().StringVar(&f.cfg.Region, "region", "", "Cloud Run region")
}

func (f *driverFlags) driver(opts *options) (*app.App, cliruntime.Driver, error) {
	a, err := opts.App()
	if err != nil {
		return nil, nil, err
	}
	d, err := a.Driver(f.runtime, f.cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, d, nil
}

func newDriverCmd(opts *options) *cobra.Command {
	var flags driverFlags

	cmd := &cobra.Command{
		Use:   "driver",
		Short: "Drive a container runtime directly on this machine",
	}
	flags.bind(cmd)

	cmd.AddCommand(newDriverLoginCmd(opts, &flags))
	cmd.AddCommand(newDriverBuildCmd(opts, &flags))
	cmd.AddCommand(newDriverRunCmd(opts, &flags))
	return cmd
}

func newDriverLoginCmd(opts *options, flags *driverFlags) *cobra.Command {
	var (
		username      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login <server>",
		Short: "Authenticate the runtime against a registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth := domain.RegistryAuth{Server: args[0], Username: username}
			if passwordStdin {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				auth.Password = strings.TrimRight(string(data), "\r\n")
			}

			a, d, err := flags.driver(opts)
			if err != nil {
				return err
			}
			if err := d.Authenticate(a.Context(cmd.Context()), auth); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "%s logged in to %s", d.Kind(), auth.Server)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Registry username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func newDriverBuildCmd(opts *options, flags *driverFlags) *cobra.Command {
	var spec domain.BuildSpec

	cmd := &cobra.Command{
		Use:   "build <context-dir>",
		Short: "Build an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.ContextDir = args[0]
			a, d, err := flags.driver(opts)
			if err != nil {
				return err
			}
			if err := d.Build(a.Context(cmd.Context()), spec); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "built %s", spec.Tag)
			return nil
		},
	}

	cmd.Flags().StringVarP(&spec.Tag, "tag", "t", "", "Image tag")
	cmd.Flags().StringVarP(&spec.Dockerfile, "file", "f", "", "Dockerfile relative to the context")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func newDriverRunCmd(opts *options, flags *driverFlags) *cobra.Command {
	var (
		spec    domain.RunSpec
		ports   []string
		envVars []string
		volumes []string
		restart string
	)

	cmd := &cobra.Command{
		Use:   "run <name> <image>",
		Short: "Run a container, or deploy a service on orchestrated runtimes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name, spec.Image = args[0], args[1]
			spec.RestartPolicy = domain.RestartPolicy(restart)

			var err error
			if spec.Ports, err = parsePorts(ports); err != nil {
				return err
			}
			if spec.Env, err = keyValues(envVars, "="); err != nil {
				return err
			}
			if spec.Volumes, err = keyValues(volumes, ":"); err != nil {
				return err
			}
			if err := spec.Validate(); err != nil {
				return err
			}

			a, d, err := flags.driver(opts)
			if err != nil {
				return err
			}
			id, err := d.Run(a.Context(cmd.Context()), spec)
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "%s started (%s)", spec.Name, id)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&ports, "publish", "p", nil, "Port HOST:CONTAINER (repeatable)")
	cmd.Flags().StringArrayVarP(&envVars, "env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVarP(&volumes, "volume", "v", nil, "Volume SOURCE:TARGET (repeatable)")
	cmd.Flags().StringVar(&spec.Network, "network", "", "Network to attach to")
	cmd.Flags().StringVar(&restart, "restart", string(domain.RestartUnlessStopped), "Restart policy")
	return cmd
}

// parsePorts parses HOST:CONTAINER pairs. A bare port publishes on the same number.
func parsePorts(values []string) ([]domain.PortMapping, error) {
	ports := make([]domain.PortMapping, 0, len(values))
	for _, v := range values {
		hostPart, ctrPart, ok := strings.Cut(v, ":")
		if !ok {
			ctrPart = hostPart
		}
		host, err := strconv.Atoi(hostPart)
		if err != nil {
			return nil, fmt.Errorf("%w: bad port %q", domain.ErrInvalidConfig, v)
		}
		ctr, err := strconv.Atoi(ctrPart)
		if err != nil {
			return nil, fmt.Errorf("%w: bad port %q", domain.ErrInvalidConfig, v)
		}
		ports = append(ports, domain.PortMapping{HostPort: host, ContainerPort: ctr})
	}
	return ports, nil
}
