package domain

// ServiceKind identifies a stateful service engine that backups understand.
type ServiceKind string

const (
	KindPostgres ServiceKind = "postgres"
	KindRedis    ServiceKind = "redis"
)

// SupportedKinds lists the kinds in detection order.
var SupportedKinds = []ServiceKind{KindPostgres, KindRedis}

// Supported reports whether backups know how to handle the kind.
func (k ServiceKind) Supported() bool {
	for _, s := range SupportedKinds {
		if s == k {
			return true
		}
	}
	return false
}

// BuildConfig points at a service's build instructions.
type BuildConfig struct {
	Context    string
	Dockerfile string
}

// BackupSettings are the per-service overrides for backups.
// Nil pointers mean "use the default".
type BackupSettings struct {
	Enabled       *bool
	Schedule      string
	RetentionDays *int
}

// ServiceConfig is the declared configuration of one service.
type ServiceConfig struct {
	Type        string
	Image       string
	Build       *BuildConfig
	Ports       []int
	Environment map[string]string
	EnvFile     string
	Backup      *BackupSettings
}

// BackupsDisabled reports whether the service explicitly opted out.
func (c ServiceConfig) BackupsDisabled() bool {
	return c.Backup != nil && c.Backup.Enabled != nil && !*c.Backup.Enabled
}

// SidecarSpec is the build and run definition of a backup sidecar.
type SidecarSpec struct {
	ContainerName string
	ImageTag      string
	Dockerfile    string
	Script        string
}

// BackupJobSpec is derived deterministically from a parent service's declared config.
type BackupJobSpec struct {
	Project       string
	Env           string
	Service       string
	ServiceType   ServiceKind
	Schedule      string
	RetentionDays int
	EnvVars       map[string]string
	Volumes       map[string]string // map[hostPath]containerPath
	Network       string
	Sidecar       SidecarSpec
}

// BackupPlanError records a service whose spec could not be generated.
type BackupPlanError struct {
	Service string
	Err     error
}

// BackupPlan is the outcome of planning backups for a set of services.
type BackupPlan struct {
	Specs   []BackupJobSpec
	Skipped []string
	Errors  []BackupPlanError
}

// Failed reports whether any service failed to plan.
func (p BackupPlan) Failed() bool { return len(p.Errors) > 0 }
