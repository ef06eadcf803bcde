// Package backup plans backup sidecars for stateful services.
package backup

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/internal/usecase/naming"
	"github.com/bnema/flotilla/pkg/cronspec"
)

// DefaultRetentionDays applies when a service does not override retention.
const DefaultRetentionDays = 7

// defaultSchedules staggers the kinds so their dumps do not overlap.
var defaultSchedules = map[domain.ServiceKind]string{
	domain.KindPostgres: "0 2 * * *",
	domain.KindRedis:    "0 3 * * *",
}

// Config holds the host layout used for sidecar mounts.
type Config struct {
	HostRoot             string
	DefaultRetentionDays int
}

// Service implements in.BackupService. Every method is a pure function of its
// inputs and the Config.
type Service struct {
	config Config
	log    zerowrap.Logger
}

// NewService creates a backup planner.
func NewService(config Config, log zerowrap.Logger) *Service {
	if config.HostRoot == "" {
		config.HostRoot = "/srv/flotilla"
	}
	if config.DefaultRetentionDays <= 0 {
		config.DefaultRetentionDays = DefaultRetentionDays
	}
	return &Service{config: config, log: log}
}

// DetectServiceType maps a declared service to a backup kind.
func (s *Service) DetectServiceType(serviceName string, cfg domain.ServiceConfig) (domain.ServiceKind, bool) {
	return DetectServiceType(serviceName, cfg)
}

// GenerateBackupSpec returns the sidecar spec for a service, or nil when the
// service is not a supported kind or has backups disabled.
func (s *Service) GenerateBackupSpec(project, env, serviceName string, cfg domain.ServiceConfig, hostIP string) (*domain.BackupJobSpec, error) {
	kind, ok := DetectServiceType(serviceName, cfg)
	if !ok || cfg.BackupsDisabled() {
		return nil, nil
	}

	schedule := defaultSchedules[kind]
	retention := s.config.DefaultRetentionDays
	if cfg.Backup != nil {
		if cfg.Backup.Schedule != "" {
			if err := cronspec.Validate(cfg.Backup.Schedule); err != nil {
				return nil, fmt.Errorf("%w for %s: %v", domain.ErrInvalidSchedule, serviceName, err)
			}
			schedule = cfg.Backup.Schedule
		}
		if cfg.Backup.RetentionDays != nil {
			if *cfg.Backup.RetentionDays <= 0 {
				return nil, fmt.Errorf("%w: retention_days for %s must be positive", domain.ErrInvalidConfig, serviceName)
			}
			retention = *cfg.Backup.RetentionDays
		}
	}

	image, err := sidecarFor(kind)
	if err != nil {
		return nil, err
	}

	parent := naming.ContainerName(project, env, serviceName)
	envVars := mapEnv(kind, cfg.Environment)
	envVars["DB_HOST"] = parent
	envVars["SERVICE_NAME"] = serviceName
	envVars["RETENTION_DAYS"] = strconv.Itoa(retention)
	envVars["BACKUP_DIR"] = "/backups"
	if hostIP != "" {
		envVars["BACKUP_HOST_IP"] = hostIP
	}

	serviceRoot := filepath.Join(s.config.HostRoot, project, env, serviceName)
	backupRoot := filepath.Join(s.config.HostRoot, "backups", project, env, serviceName)
	volumes := map[string]string{
		filepath.Join(serviceRoot, "data"):    "/source:ro",
		filepath.Join(serviceRoot, "secrets"): "/run/secrets:ro",
		backupRoot:                            "/backups",
	}

	return &domain.BackupJobSpec{
		Project:       project,
		Env:           env,
		Service:       serviceName,
		ServiceType:   kind,
		Schedule:      schedule,
		RetentionDays: retention,
		EnvVars:       envVars,
		Volumes:       volumes,
		Network:       naming.NetworkName(project, env),
		Sidecar: domain.SidecarSpec{
			ContainerName: naming.SidecarName(project, env, serviceName, "backup"),
			ImageTag:      image.Tag,
			Dockerfile:    image.Dockerfile,
			Script:        image.Script,
		},
	}, nil
}

// PlanAll generates specs for every declared service. A service that fails is
// reported in the plan and does not stop the others.
func (s *Service) PlanAll(project, env string, services map[string]domain.ServiceConfig, hostIP string) domain.BackupPlan {
	log := s.log.With().
		Str(zerowrap.FieldLayer, "usecase").
		Str(zerowrap.FieldUseCase, "PlanAll").
		Str("project", project).
		Str("env", env).
		Logger()

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	var plan domain.BackupPlan
	for _, name := range names {
		spec, err := s.GenerateBackupSpec(project, env, name, services[name], hostIP)
		switch {
		case err != nil:
			log.Warn().Err(err).Str(zerowrap.FieldService, name).Msg("backup plan failed")
			plan.Errors = append(plan.Errors, domain.BackupPlanError{Service: name, Err: err})
		case spec == nil:
			plan.Skipped = append(plan.Skipped, name)
		default:
			log.Debug().Str(zerowrap.FieldService, name).Str("kind", string(spec.ServiceType)).Msg("backup planned")
			plan.Specs = append(plan.Specs, *spec)
		}
	}

	log.Info().
		Int(zerowrap.FieldCount, len(plan.Specs)).
		Int("skipped", len(plan.Skipped)).
		Int("failed", len(plan.Errors)).
		Msg("backup plan computed")
	return plan
}
