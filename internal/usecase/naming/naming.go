// Package naming derives container, network and volume names and host ports
// from (project, env, service). Every function is pure.
package naming

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"

	"github.com/bnema/flotilla/internal/domain"
)

var (
	segmentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	servicePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// DefaultBasePort is the first host port handed out by HostPort.
const DefaultBasePort = 8000

// portSpan is the size of the host port range above the base.
const portSpan = 1000

// ContainerName returns the runtime name of a service container.
func ContainerName(project, env, service string) string {
	return project + "_" + env + "_" + service
}

// NetworkName returns the network shared by every service of a project environment.
func NetworkName(project, env string) string {
	return project + "_" + env + "_net"
}

// VolumeName returns the name of a named volume owned by a service.
func VolumeName(project, env, service, purpose string) string {
	return ContainerName(project, env, service) + "_" + purpose
}

// SidecarName returns the container name of a service's companion container.
func SidecarName(project, env, service, role string) string {
	return ContainerName(project, env, service) + "_" + role
}

// Validate checks that the triple round-trips through ContainerName and
// ParseContainerName. Project and env may not contain underscores.
func Validate(project, env, service string) error {
	switch {
	case !segmentPattern.MatchString(project):
		return fmt.Errorf("%w: project %q", domain.ErrInvalidName, project)
	case !segmentPattern.MatchString(env):
		return fmt.Errorf("%w: env %q", domain.ErrInvalidName, env)
	case !servicePattern.MatchString(service):
		return fmt.Errorf("%w: service %q", domain.ErrInvalidName, service)
	}
	return nil
}

// ParseContainerName splits a name produced by ContainerName.
// The service part may itself contain underscores.
func ParseContainerName(name string) (project, env, service string, ok bool) {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", false
		}
	}
	return parts[0], parts[1], parts[2], true
}

// HostPort returns the deterministic host port for a service's container port
// using DefaultBasePort.
func HostPort(project, env, service string, containerPort int) int {
	return HostPortFrom(DefaultBasePort, project, env, service, containerPort)
}

// HostPortFrom returns base + (sha256("project:env:service:port") mod 1000).
// Distinct services collide with probability 1/1000; callers must tolerate it.
func HostPortFrom(base int, project, env, service string, containerPort int) int {
	key := fmt.Sprintf("%s:%s:%s:%d", project, env, service, containerPort)
	sum := sha256.Sum256([]byte(key))
	return base + int(binary.BigEndian.Uint64(sum[:8])%portSpan)
}
