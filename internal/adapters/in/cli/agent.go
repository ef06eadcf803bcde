package cli

import (
	"github.com/spf13/cobra"
)

func newAgentCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the node agent",
	}
	cmd.AddCommand(newAgentServeCmd(opts))
	return cmd
}

func newAgentServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the node agent API until interrupted",
		Long: `Serve the node agent API on agent.listen. The API key is read once from
agent.api_key_file; the agent refuses to start when it is missing or empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.App()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.ServeAgent(ctx)
		},
	}
}

func newSchedulerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run recurring jobs in the foreground",
		Long: `Run the certificate reconcile job on certs.schedule until interrupted.
Runs take the same host-local job lock as the one-shot commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.App()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.RunScheduler(ctx)
		},
	}
}
