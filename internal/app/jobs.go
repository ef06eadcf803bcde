package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	agenthttp "github.com/bnema/flotilla/internal/adapters/in/http/agent"
	"github.com/bnema/flotilla/internal/adapters/out/cliruntime"
	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/internal/usecase/cron"
	"github.com/bnema/flotilla/pkg/slowcall"
)

// Job names shared by the one-shot commands and the scheduler.
const (
	JobCertReconcile = "certs-reconcile"
	JobBackupPrefix  = "backup-"
)

// RunExclusive runs fn unless another process on this host is already
// running the job name. The guard is a file lock under jobs.lock_dir that the
// kernel releases if the process dies.
func (a *App) RunExclusive(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx = zerowrap.CtxWithFields(a.Context(ctx), map[string]any{
		zerowrap.FieldLayer:  "app",
		zerowrap.FieldAction: name,
	})
	log := zerowrap.FromCtx(ctx)

	if err := os.MkdirAll(a.cfg.Jobs.LockDir, 0o755); err != nil {
		return log.WrapErr(err, "failed to create job lock directory")
	}

	fl := flock.New(filepath.Join(a.cfg.Jobs.LockDir, name+".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return log.WrapErr(err, "failed to take job lock")
	}
	if !locked {
		log.Warn().Msg("job already running, skipping")
		return fmt.Errorf("%w: %s", domain.ErrJobAlreadyActive, name)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			log.Warn().Err(err).Msg("failed to release job lock")
		}
	}()

	return slowcall.Track(fn)(ctx)
}

// BackupJobs returns the runtime driver that builds and runs backup sidecars,
// using backup.runtime_binary as its CLI.
func (a *App) BackupJobs() (out.JobRunner, error) {
	d, err := a.Driver("", cliruntime.DriverConfig{Binary: a.cfg.Backup.RuntimeBinary})
	if err != nil {
		return nil, err
	}
	jobs, ok := d.(out.JobRunner)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot run backup sidecars", domain.ErrUnsupportedRuntime, d.Kind())
	}
	return jobs, nil
}

// RunBackup runs one backup of spec under a per-sidecar job lock. The build
// context is written to contextDir.
func (a *App) RunBackup(ctx context.Context, spec domain.BackupJobSpec, contextDir string) error {
	jobs, err := a.BackupJobs()
	if err != nil {
		return err
	}
	return a.RunExclusive(ctx, JobBackupPrefix+spec.Sidecar.ContainerName, func(ctx context.Context) error {
		return a.Backup().Run(ctx, spec, jobs, contextDir)
	})
}

// ReconcileCertificates runs one certificate reconcile pass under the job lock.
func (a *App) ReconcileCertificates(ctx context.Context) (map[string]domain.CertificateOutcome, error) {
	svc, err := a.Certificates()
	if err != nil {
		return nil, err
	}

	var outcomes map[string]domain.CertificateOutcome
	err = a.RunExclusive(ctx, JobCertReconcile, func(ctx context.Context) error {
		var err error
		outcomes, err = svc.ReconcileAll(ctx)
		return err
	})
	return outcomes, err
}

// Scheduler builds the long-lived job scheduler with every recurring job
// registered. Each run still takes the host-local job lock so a one-shot
// invocation and the scheduler never overlap.
func (a *App) Scheduler() (*cron.Scheduler, error) {
	s := cron.NewScheduler(a.log)

	err := s.Add(JobCertReconcile, "certificate reconcile", a.cfg.Certs.Schedule, func(ctx context.Context) error {
		outcomes, err := a.ReconcileCertificates(ctx)
		if err != nil {
			return err
		}
		failed := 0
		for _, o := range outcomes {
			if !o.Success {
				failed++
			}
		}
		log := zerowrap.FromCtx(ctx)
		log.Info().
			Int(zerowrap.FieldCount, len(outcomes)).
			Int("failed", failed).
			Msg("certificate reconcile finished")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", JobCertReconcile, err)
	}
	return s, nil
}

// RunScheduler runs the scheduler until ctx is cancelled. With
// telemetry.listen set it also serves /metrics.
func (a *App) RunScheduler(ctx context.Context) error {
	s, err := a.Scheduler()
	if err != nil {
		return err
	}
	ctx = a.Context(ctx)
	log := zerowrap.FromCtx(ctx)

	g, ctx := errgroup.WithContext(ctx)
	if listen := a.cfg.Telemetry.Listen; listen != "" {
		provider, _, err := a.Telemetry()
		if err != nil {
			return err
		}
		g.Go(func() error {
			return agenthttp.Serve(ctx, metricsServer(provider), listen, a.cfg.Agent.ShutdownTimeout)
		})
	}

	log.Info().Int(zerowrap.FieldCount, len(s.List())).Msg("scheduler started")
	s.Start(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.Stop()
		return nil
	})
	return g.Wait()
}
