package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bnema/flotilla/internal/app"
	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/internal/usecase/backup"
)

// backupTarget holds the flags shared by the backup commands.
type backupTarget struct {
	project  string
	env      string
	services string
	hostIP   string
}

func (t *backupTarget) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&t.project, "project", "p", "", "Project name")
	cmd.Flags().StringVarP(&t.env, "env", "e", "", "Environment name")
	cmd.Flags().StringVarP(&t.services, "services", "f", "", "Services file (default backup.services_file)")
	cmd.Flags().StringVar(&t.hostIP, "host-ip", "", "Address of the host the backups run on")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("env")
}

func (t *backupTarget) plan(cmd *cobra.Command, a *app.App) (domain.BackupPlan, error) {
	services, err := a.ServiceDefinitions(t.services).Services(a.Context(cmd.Context()))
	if err != nil {
		return domain.BackupPlan{}, err
	}
	return a.Backup().PlanAll(t.project, t.env, services, t.hostIP), nil
}

// spec returns the backup job of one declared service, or nil when it has none.
func (t *backupTarget) spec(cmd *cobra.Command, a *app.App, name string) (*domain.BackupJobSpec, error) {
	services, err := a.ServiceDefinitions(t.services).Services(a.Context(cmd.Context()))
	if err != nil {
		return nil, err
	}
	svcCfg, ok := services[name]
	if !ok {
		return nil, fmt.Errorf("%w: service %q is not declared", domain.ErrInvalidConfig, name)
	}
	return a.Backup().GenerateBackupSpec(t.project, t.env, name, svcCfg, t.hostIP)
}

// specView is the serialized form of a backup job, without the sidecar sources.
type specView struct {
	Service       string            `yaml:"service"`
	Type          string            `yaml:"type"`
	Schedule      string            `yaml:"schedule"`
	RetentionDays int               `yaml:"retention_days"`
	Container     string            `yaml:"container"`
	Image         string            `yaml:"image"`
	Network       string            `yaml:"network"`
	Volumes       map[string]string `yaml:"volumes"`
	Env           map[string]string `yaml:"env"`
}

func viewOf(spec domain.BackupJobSpec) specView {
	return specView{
		Service:       spec.Service,
		Type:          string(spec.ServiceType),
		Schedule:      spec.Schedule,
		RetentionDays: spec.RetentionDays,
		Container:     spec.Sidecar.ContainerName,
		Image:         spec.Sidecar.ImageTag,
		Network:       spec.Network,
		Volumes:       spec.Volumes,
		Env:           spec.EnvVars,
	}
}

func newBackupCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Plan and run backup sidecars for stateful services",
	}
	cmd.AddCommand(newBackupPlanCmd(opts))
	cmd.AddCommand(newBackupContextCmd(opts))
	cmd.AddCommand(newBackupRunCmd(opts))
	return cmd
}

func newBackupPlanCmd(opts *options) *cobra.Command {
	var target backupTarget

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the backup jobs of every declared service as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.App()
			if err != nil {
				return err
			}
			plan, err := target.plan(cmd, a)
			if err != nil {
				return err
			}

			views := make([]specView, 0, len(plan.Specs))
			for _, spec := range plan.Specs {
				views = append(views, viewOf(spec))
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(map[string]any{"backups": views}); err != nil {
				return fmt.Errorf("failed to encode plan: %w", err)
			}
			if err := enc.Close(); err != nil {
				return err
			}

			return reportPlan(cmd, plan)
		},
	}

	target.bind(cmd)
	return cmd
}

func reportPlan(cmd *cobra.Command, plan domain.BackupPlan) error {
	w := cmd.ErrOrStderr()
	printOK(w, "%d backup job(s) planned", len(plan.Specs))
	if len(plan.Skipped) > 0 {
		skipped := append([]string(nil), plan.Skipped...)
		sort.Strings(skipped)
		printInfo(w, "skipped (no backup): %v", skipped)
	}
	for _, e := range plan.Errors {
		printFail(w, "%s: %v", e.Service, e.Err)
	}
	if plan.Failed() {
		return fmt.Errorf("%d service(s) could not be planned", len(plan.Errors))
	}
	return nil
}

func newBackupContextCmd(opts *options) *cobra.Command {
	var (
		target backupTarget
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "context <service>",
		Short: "Write the sidecar build context of one service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.App()
			if err != nil {
				return err
			}
			spec, err := target.spec(cmd, a, args[0])
			if err != nil {
				return err
			}
			if spec == nil {
				printWarn(cmd.ErrOrStderr(), "%s has no backup job", args[0])
				return nil
			}

			dir := outDir
			if dir == "" {
				dir = filepath.Join(".", spec.Sidecar.ContainerName)
			}
			if err := backup.WriteSidecarContext(dir, *spec); err != nil {
				return err
			}
			printOK(cmd.ErrOrStderr(), "wrote %s build context to %s", spec.Sidecar.ImageTag, dir)
			return nil
		},
	}

	target.bind(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default ./<sidecar container>)")
	return cmd
}

func newBackupRunCmd(opts *options) *cobra.Command {
	var (
		target      backupTarget
		contextRoot string
	)

	cmd := &cobra.Command{
		Use:   "run <service>",
		Short: "Build and run the backup sidecar of one service now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.App()
			if err != nil {
				return err
			}
			spec, err := target.spec(cmd, a, args[0])
			if err != nil {
				return err
			}
			if spec == nil {
				printWarn(cmd.ErrOrStderr(), "%s has no backup job", args[0])
				return nil
			}

			dir := filepath.Join(contextRoot, spec.Sidecar.ContainerName)
			err = a.RunBackup(cmd.Context(), *spec, dir)
			var verr *domain.BackupVerificationError
			if errors.As(err, &verr) {
				printFail(cmd.ErrOrStderr(), "%s backup failed verification, artifact kept at %s", verr.Service, verr.Path)
				return err
			}
			if err != nil {
				return err
			}
			printOK(cmd.ErrOrStderr(), "%s backed up", args[0])
			return nil
		},
	}

	target.bind(cmd)
	cmd.Flags().StringVar(&contextRoot, "context-root", "/srv/flotilla/backups/contexts", "Directory holding the sidecar build contexts")
	return cmd
}

func newCrontabCmd(opts *options) *cobra.Command {
	var (
		target      backupTarget
		contextRoot string
	)

	cmd := &cobra.Command{
		Use:   "crontab",
		Short: "Print crontab lines that start every planned backup sidecar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.App()
			if err != nil {
				return err
			}
			plan, err := target.plan(cmd, a)
			if err != nil {
				return err
			}

			for _, spec := range plan.Specs {
				dir := filepath.Join(contextRoot, spec.Sidecar.ContainerName)
				fmt.Fprintln(cmd.OutOrStdout(), backup.CrontabLine(spec, a.Config().Backup.RuntimeBinary, dir))
			}
			return reportPlan(cmd, plan)
		},
	}

	target.bind(cmd)
	cmd.Flags().StringVar(&contextRoot, "context-root", "/srv/flotilla/backups/contexts", "Directory holding the sidecar build contexts")
	return cmd
}
