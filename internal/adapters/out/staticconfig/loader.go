// Package staticconfig reads the fleet-wide static configuration file.
//
// The file is TOML:
//
//	[control_plane]
//	host = "10.116.0.2"
//
//	[ports]
//	base = 8000
//
//	[[hosts]]
//	droplet_id = "3164494"
//	ip = "203.0.113.10"
//	private_ip = "10.116.0.4"
//	zone = "fra1"
//	status = "active"
package staticconfig

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/internal/usecase/naming"
)

var (
	_ out.StaticConfigLoader = (*File)(nil)
	_ out.Inventory          = (*File)(nil)
)

type fileConfig struct {
	ControlPlane struct {
		Host string `toml:"host"`
	} `toml:"control_plane"`
	Ports struct {
		Base int `toml:"base"`
	} `toml:"ports"`
	Hosts []hostEntry `toml:"hosts"`
}

type hostEntry struct {
	DropletID string `toml:"droplet_id"`
	IP        string `toml:"ip"`
	PrivateIP string `toml:"private_ip"`
	Zone      string `toml:"zone"`
	Status    string `toml:"status"`
}

// File loads the static config file once and serves it as both the locator's
// static config and a read-only host inventory.
type File struct {
	path string

	once  sync.Once
	cfg   domain.StaticConfig
	hosts []domain.HostRecord
	err   error
}

// New creates a loader for path. Nothing is read until first use.
func New(path string) *File {
	return &File{path: path}
}

// Load returns the static config. A missing or malformed file is an error
// wrapping domain.ErrConfigLoadFailed.
func (f *File) Load() (domain.StaticConfig, error) {
	f.once.Do(f.read)
	return f.cfg, f.err
}

// Hosts returns every inventory entry in file order.
func (f *File) Hosts(_ context.Context) ([]domain.HostRecord, error) {
	f.once.Do(f.read)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.HostRecord, len(f.hosts))
	copy(out, f.hosts)
	return out, nil
}

// Host returns the entry for a droplet ID.
func (f *File) Host(ctx context.Context, dropletID string) (domain.HostRecord, error) {
	hosts, err := f.Hosts(ctx)
	if err != nil {
		return domain.HostRecord{}, err
	}
	for _, h := range hosts {
		if h.DropletID == dropletID {
			return h, nil
		}
	}
	return domain.HostRecord{}, fmt.Errorf("%w: %s", domain.ErrHostNotFound, dropletID)
}

func (f *File) read() {
	data, err := os.ReadFile(f.path)
	if err != nil {
		f.err = fmt.Errorf("%w: read static config: %w", domain.ErrConfigLoadFailed, err)
		return
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		f.err = fmt.Errorf("%w: parse static config %s: %w", domain.ErrConfigLoadFailed, f.path, err)
		return
	}

	base := fc.Ports.Base
	if base == 0 {
		base = naming.DefaultBasePort
	}
	if base < 1 || base > 65535-1000 {
		f.err = fmt.Errorf("%w: ports.base %d out of range", domain.ErrInvalidConfig, base)
		return
	}
	f.cfg = domain.StaticConfig{ControlPlaneHost: fc.ControlPlane.Host, BasePort: base}

	hosts := make([]domain.HostRecord, 0, len(fc.Hosts))
	for i, h := range fc.Hosts {
		rec, err := h.record()
		if err != nil {
			f.err = fmt.Errorf("hosts[%d]: %w", i, err)
			return
		}
		hosts = append(hosts, rec)
	}
	f.hosts = hosts
}

func (h hostEntry) record() (domain.HostRecord, error) {
	if h.DropletID == "" || h.IP == "" {
		return domain.HostRecord{}, fmt.Errorf("%w: droplet_id and ip are required", domain.ErrInvalidConfig)
	}
	status := domain.HostStatus(h.Status)
	switch status {
	case "":
		status = domain.HostActive
	case domain.HostProvisioning, domain.HostActive, domain.HostDraining, domain.HostDead:
	default:
		return domain.HostRecord{}, fmt.Errorf("%w: unknown host status %q", domain.ErrInvalidConfig, h.Status)
	}
	return domain.HostRecord{
		IP:        h.IP,
		PrivateIP: h.PrivateIP,
		DropletID: h.DropletID,
		Zone:      h.Zone,
		Status:    status,
	}, nil
}
