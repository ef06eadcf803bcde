package dto

import (
	"github.com/bnema/flotilla/internal/domain"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string   `json:"status"`
	RuntimeReachable bool     `json:"runtime_reachable"`
	Containers       []string `json:"containers"`
	Version          string   `json:"version"`
}

// Container is one entry of GET /containers.
type Container struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Image  string `json:"image"`
}

// PortMapping publishes container_port on host_port. A zero host_port only exposes.
type PortMapping struct {
	HostPort      int `json:"host_port"`
	ContainerPort int `json:"container_port"`
}

// RunContainerRequest is the body of POST /containers/run.
type RunContainerRequest struct {
	Name          string            `json:"name"`
	Image         string            `json:"image"`
	Ports         []PortMapping     `json:"ports,omitempty"`
	Volumes       map[string]string `json:"volumes,omitempty"`
	EnvVars       map[string]string `json:"env_vars,omitempty"`
	Network       string            `json:"network,omitempty"`
	RestartPolicy string            `json:"restart_policy,omitempty"`
}

// ChunkMetadata is carried JSON-encoded in the X-Chunk-Metadata header.
type ChunkMetadata struct {
	ChunkNumber int    `json:"chunk_number"`
	TotalChunks int    `json:"total_chunks"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalSize   int64  `json:"total_size"`
	FileName    string `json:"file_name"`
}

// UploadResponse answers every accepted chunk.
type UploadResponse struct {
	TransferID string `json:"transfer_id"`
	Received   int    `json:"received"`
	Total      int    `json:"total"`
	Complete   bool   `json:"complete"`
	Path       string `json:"path,omitempty"`
}

// BuildRequest is the body of POST /images/build.
type BuildRequest struct {
	TransferID string `json:"transfer_id"`
	FileName   string `json:"file_name"`
	Tag        string `json:"tag"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// LoginRequest is the body of POST /registry/login.
type LoginRequest struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// StatusResponse acknowledges a mutation.
type StatusResponse struct {
	Status string `json:"status"`
}

// ToRunSpec converts the request into the runtime's spec.
func (r RunContainerRequest) ToRunSpec() domain.RunSpec {
	ports := make([]domain.PortMapping, 0, len(r.Ports))
	for _, p := range r.Ports {
		ports = append(ports, domain.PortMapping{HostPort: p.HostPort, ContainerPort: p.ContainerPort})
	}
	return domain.RunSpec{
		Name:          r.Name,
		Image:         r.Image,
		Ports:         ports,
		Volumes:       r.Volumes,
		Env:           r.EnvVars,
		Network:       r.Network,
		RestartPolicy: domain.RestartPolicy(r.RestartPolicy),
	}
}

// RunContainerRequestFrom is the inverse of ToRunSpec.
func RunContainerRequestFrom(spec domain.RunSpec) RunContainerRequest {
	ports := make([]PortMapping, 0, len(spec.Ports))
	for _, p := range spec.Ports {
		ports = append(ports, PortMapping{HostPort: p.HostPort, ContainerPort: p.ContainerPort})
	}
	return RunContainerRequest{
		Name:          spec.Name,
		Image:         spec.Image,
		Ports:         ports,
		Volumes:       spec.Volumes,
		EnvVars:       spec.Env,
		Network:       spec.Network,
		RestartPolicy: string(spec.RestartPolicy),
	}
}

// ToDomain attaches the transfer ID taken from the URL.
func (m ChunkMetadata) ToDomain(transferID string) domain.ChunkMetadata {
	return domain.ChunkMetadata{
		TransferID:  transferID,
		ChunkNumber: m.ChunkNumber,
		TotalChunks: m.TotalChunks,
		ChunkSize:   m.ChunkSize,
		TotalSize:   m.TotalSize,
		FileName:    m.FileName,
	}
}

// UploadResponseFrom converts a transfer status.
func UploadResponseFrom(s *domain.UploadStatus) UploadResponse {
	return UploadResponse{
		TransferID: s.TransferID,
		Received:   s.Received,
		Total:      s.Total,
		Complete:   s.Complete,
		Path:       s.Path,
	}
}

// ContainersFrom converts runtime summaries.
func ContainersFrom(list []domain.ContainerSummary) []Container {
	out := make([]Container, 0, len(list))
	for _, c := range list {
		out = append(out, Container{Name: c.Name, Status: c.Status, Image: c.Image})
	}
	return out
}

// ToContainerSummaries converts the wire entries back.
func ToContainerSummaries(list []Container) []domain.ContainerSummary {
	out := make([]domain.ContainerSummary, 0, len(list))
	for _, c := range list {
		out = append(out, domain.ContainerSummary{Name: c.Name, Status: c.Status, Image: c.Image})
	}
	return out
}
