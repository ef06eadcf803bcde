package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/flotilla/internal/usecase/naming"
)

func newNameCmd() *cobra.Command {
	var network bool
	var volume string

	cmd := &cobra.Command{
		Use:   "name <project> <env> <service>",
		Short: "Print the container name of a service",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, env, service := args[0], args[1], args[2]
			if err := naming.Validate(project, env, service); err != nil {
				return err
			}
			switch {
			case network:
				fmt.Fprintln(cmd.OutOrStdout(), naming.NetworkName(project, env))
			case volume != "":
				fmt.Fprintln(cmd.OutOrStdout(), naming.VolumeName(project, env, service, volume))
			default:
				fmt.Fprintln(cmd.OutOrStdout(), naming.ContainerName(project, env, service))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&network, "network", false, "Print the environment network name instead")
	cmd.Flags().StringVar(&volume, "volume", "", "Print the name of the volume with this purpose instead")
	cmd.MarkFlagsMutuallyExclusive("network", "volume")

	return cmd
}

func newPortCmd() *cobra.Command {
	var (
		containerPort int
		dockerfile    string
		base          int
	)

	cmd := &cobra.Command{
		Use:   "port <project> <env> <service>",
		Short: "Print the deterministic host port of a service",
		Long: `Print the host port a service is published on. The container port comes
from --container-port, else the first EXPOSE of --dockerfile, else the
conventional port of the service name.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, env, service := args[0], args[1], args[2]
			if err := naming.Validate(project, env, service); err != nil {
				return err
			}

			port := containerPort
			if port == 0 {
				var r io.Reader
				if dockerfile != "" {
					f, err := os.Open(dockerfile)
					if err != nil {
						return fmt.Errorf("failed to open dockerfile: %w", err)
					}
					defer f.Close()
					r = f
				}
				var err error
				if port, err = naming.ResolvePort(service, r); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), naming.HostPortFrom(base, project, env, service, port))
			return nil
		},
	}

	cmd.Flags().IntVar(&containerPort, "container-port", 0, "Internal port of the service")
	cmd.Flags().StringVar(&dockerfile, "dockerfile", "", "Dockerfile to discover the internal port from")
	cmd.Flags().IntVar(&base, "base", naming.DefaultBasePort, "Base of the host port range")
	cmd.MarkFlagsMutuallyExclusive("container-port", "dockerfile")

	return cmd
}

func newResolveCmd(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "resolve <project> <env> <kind> <instance>",
		Short: "Find a reachable endpoint for a service",
		Long: `Try the container address, then the control plane, then localhost, and
print the first endpoint that accepts a connection.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.App()
			if err != nil {
				return err
			}
			loc, err := a.Locator()
			if err != nil {
				return err
			}
			if timeout == 0 {
				timeout = a.Config().Discovery.ProbeTimeout
			}

			ep, err := loc.Resolve(a.Context(cmd.Context()), args[0], args[1], args[2], args[3], timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ep.String(), ep.Strategy)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-probe timeout (default discovery.probe_timeout)")

	return cmd
}
