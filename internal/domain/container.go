// Package domain contains pure business types without external dependencies.
// These types are used throughout the application and have no tags or framework dependencies.
package domain

import (
	"fmt"
	"sort"
)

// RuntimeKind names a container runtime variant.
type RuntimeKind string

const (
	RuntimeDocker     RuntimeKind = "docker"
	RuntimePodman     RuntimeKind = "podman"
	RuntimeContainerd RuntimeKind = "containerd"
	RuntimeKubernetes RuntimeKind = "kubernetes"
	RuntimeCloudRun   RuntimeKind = "cloudrun"
)

// RestartPolicy is the runtime restart policy for a container.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
	RestartOnFailure     RestartPolicy = "on-failure"
)

// Valid reports whether the policy is one the runtimes accept.
func (p RestartPolicy) Valid() bool {
	switch p {
	case "", RestartNo, RestartAlways, RestartUnlessStopped, RestartOnFailure:
		return true
	}
	return false
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostPort      int
	ContainerPort int
}

// RunSpec describes a container to start on a host.
type RunSpec struct {
	Name          string
	Image         string
	Ports         []PortMapping
	Volumes       map[string]string // map[hostPathOrVolume]containerPath
	Env           map[string]string
	Network       string
	RestartPolicy RestartPolicy
}

// Validate checks the fields the runtime cannot default.
func (s RunSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: container name is required", ErrInvalidConfig)
	}
	if s.Image == "" {
		return fmt.Errorf("%w: image is required", ErrInvalidConfig)
	}
	if !s.RestartPolicy.Valid() {
		return fmt.Errorf("%w: unknown restart policy %q", ErrInvalidConfig, s.RestartPolicy)
	}
	for _, p := range s.Ports {
		if p.ContainerPort <= 0 || p.ContainerPort > 65535 || p.HostPort < 0 || p.HostPort > 65535 {
			return fmt.Errorf("%w: invalid port mapping %d:%d", ErrInvalidConfig, p.HostPort, p.ContainerPort)
		}
	}
	return nil
}

// SortedEnv returns env entries as KEY=VALUE in key order.
func (s RunSpec) SortedEnv() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

// SortedVolumes returns volume binds as source:target in source order.
func (s RunSpec) SortedVolumes() []string {
	keys := make([]string, 0, len(s.Volumes))
	for k := range s.Volumes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+":"+s.Volumes[k])
	}
	return out
}

// ContainerSummary is the agent's view of one container.
type ContainerSummary struct {
	Name   string
	Status string
	Image  string
}

// BuildSpec describes an image build from a local context.
type BuildSpec struct {
	Tag        string
	ContextDir string
	Dockerfile string // relative to ContextDir, defaults to Dockerfile
}

// RegistryAuth holds registry credentials for a login.
type RegistryAuth struct {
	Server   string
	Username string
	Password string
}
