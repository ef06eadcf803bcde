package in

import "github.com/bnema/flotilla/internal/domain"

// BackupService plans backup sidecars for stateful services.
type BackupService interface {
	DetectServiceType(serviceName string, cfg domain.ServiceConfig) (domain.ServiceKind, bool)
	GenerateBackupSpec(project, env, serviceName string, cfg domain.ServiceConfig, hostIP string) (*domain.BackupJobSpec, error)
	PlanAll(project, env string, services map[string]domain.ServiceConfig, hostIP string) domain.BackupPlan
}
