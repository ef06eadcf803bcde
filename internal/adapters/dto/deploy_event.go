package dto

import (
	"time"

	"github.com/bnema/flotilla/internal/domain"
)

// DeployEvent is the streamed form of domain.DeployEvent.
type DeployEvent struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Progress  *int      `json:"progress,omitempty"`
	ServerIP  string    `json:"server_ip,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DeployEventFrom converts a domain event.
func DeployEventFrom(e domain.DeployEvent) DeployEvent {
	return DeployEvent{
		Type:      string(e.Type),
		Message:   e.Message,
		Progress:  e.Progress,
		ServerIP:  e.ServerIP,
		Data:      e.Data,
		Timestamp: e.Timestamp.UTC(),
	}
}

// DeployResult is the JSON form of domain.DeployResult.
type DeployResult struct {
	Success       bool    `json:"success"`
	Project       string  `json:"project"`
	Env           string  `json:"env"`
	Service       string  `json:"service"`
	ContainerName string  `json:"container_name"`
	HostPort      int     `json:"host_port"`
	ServerIP      string  `json:"server_ip"`
	Image         string  `json:"image"`
	DurationSecs  float64 `json:"duration_seconds"`
	Error         string  `json:"error,omitempty"`
}

// DeployResultFrom converts a domain result.
func DeployResultFrom(r domain.DeployResult) DeployResult {
	return DeployResult{
		Success:       r.Success,
		Project:       r.Project,
		Env:           r.Env,
		Service:       r.Service,
		ContainerName: r.ContainerName,
		HostPort:      r.HostPort,
		ServerIP:      r.ServerIP,
		Image:         r.Image,
		DurationSecs:  r.Duration.Seconds(),
		Error:         r.Error,
	}
}

// RollbackResult is the JSON form of domain.RollbackResult.
type RollbackResult struct {
	Success   bool   `json:"success"`
	Service   string `json:"service"`
	FromImage string `json:"from_image"`
	ToImage   string `json:"to_image"`
	Error     string `json:"error,omitempty"`
}

// RollbackResultFrom converts a domain result.
func RollbackResultFrom(r domain.RollbackResult) RollbackResult {
	return RollbackResult(r)
}
