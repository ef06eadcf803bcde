package domain

import (
	"net"
	"strconv"
)

// HostStatus is the lifecycle state of a managed host.
type HostStatus string

const (
	HostProvisioning HostStatus = "provisioning"
	HostActive       HostStatus = "active"
	HostDraining     HostStatus = "draining"
	HostDead         HostStatus = "dead"
)

// Schedulable reports whether new work may be sent to a host in this state.
func (s HostStatus) Schedulable() bool {
	return s == HostActive
}

// HostRecord identifies a managed host. It is owned by the inventory.
type HostRecord struct {
	IP        string
	PrivateIP string
	DropletID string
	Zone      string
	Status    HostStatus
}

// DiscoveryStrategy names how an endpoint was found.
type DiscoveryStrategy string

const (
	StrategyContainer    DiscoveryStrategy = "container"
	StrategyControlPlane DiscoveryStrategy = "control-plane"
	StrategyLocalhost    DiscoveryStrategy = "localhost"
)

// ServiceEndpoint is the result of discovery. It is recomputed per call.
type ServiceEndpoint struct {
	Host     string
	Port     int
	Strategy DiscoveryStrategy
}

// String renders the endpoint as host:port.
func (e ServiceEndpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// StaticConfig is fleet-wide configuration shipped to every host.
type StaticConfig struct {
	ControlPlaneHost string
	BasePort         int
}
