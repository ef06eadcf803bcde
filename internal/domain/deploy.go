package domain

import "time"

// DeployEventType tags a DeployEvent.
type DeployEventType string

const (
	EventLog           DeployEventType = "log"
	EventProgress      DeployEventType = "progress"
	EventServerReady   DeployEventType = "server_ready"
	EventDeployStart   DeployEventType = "deploy_start"
	EventDeploySuccess DeployEventType = "deploy_success"
	EventDeployFailure DeployEventType = "deploy_failure"
	EventDone          DeployEventType = "done"
	EventPing          DeployEventType = "ping"
	EventError         DeployEventType = "error"
)

// IsTerminal reports whether no event may follow this one.
func (t DeployEventType) IsTerminal() bool {
	return t == EventDone || t == EventError
}

// DeployEvent is one record streamed from a driver to its caller.
type DeployEvent struct {
	Type      DeployEventType
	Message   string
	Progress  *int
	ServerIP  string
	Data      any
	Timestamp time.Time
}

// DeployRequest is what a caller asks the driver to roll out.
type DeployRequest struct {
	Project       string
	Env           string
	Service       string
	Image         string
	ContextDir    string // when set, the image is built on the host from this directory
	Dockerfile    string
	ContainerPort int
	Host          HostRecord
	EnvVars       map[string]string
	Volumes       map[string]string
	RestartPolicy RestartPolicy
	// Registry, when set, logs the host in before pulling.
	Registry      *RegistryAuth
}

// DeployResult summarizes a finished deploy.
type DeployResult struct {
	Success       bool
	Project       string
	Env           string
	Service       string
	ContainerName string
	HostPort      int
	ServerIP      string
	Image         string
	Duration      time.Duration
	Error         string
}

// RollbackResult summarizes a finished rollback.
type RollbackResult struct {
	Success   bool
	Service   string
	FromImage string
	ToImage   string
	Error     string
}
