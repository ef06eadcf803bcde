// Package cli implements the flotilla command line.
// Commands parse flags and delegate to the app layer.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bnema/flotilla/internal/app"
)

// options is shared by every command of one invocation.
type options struct {
	configPath string
	app        *app.App
}

// App loads the configuration on first use.
func (o *options) App() (*app.App, error) {
	if o.app != nil {
		return o.app, nil
	}
	a, err := app.New(o.configPath)
	if err != nil {
		return nil, err
	}
	o.app = a
	return a, nil
}

func (o *options) close() error {
	if o.app == nil {
		return nil
	}
	return o.app.Close()
}

// NewRootCmd creates the root command for the flotilla CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flotilla",
		Short: "flotilla - deploy and operate containers across a fleet of hosts",
		Long: `flotilla runs a node agent on every host, deploys services to them,
discovers peers and keeps backups and TLS certificates in shape.`,
		SilenceUsage: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.close()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(newAgentCmd(opts))
	rootCmd.AddCommand(newResolveCmd(opts))
	rootCmd.AddCommand(newNameCmd())
	rootCmd.AddCommand(newPortCmd())
	rootCmd.AddCommand(newBackupCmd(opts))
	rootCmd.AddCommand(newCrontabCmd(opts))
	rootCmd.AddCommand(newCertsCmd(opts))
	rootCmd.AddCommand(newDeployCmd(opts))
	rootCmd.AddCommand(newRollbackCmd(opts))
	rootCmd.AddCommand(newSchedulerCmd(opts))
	rootCmd.AddCommand(newDriverCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
