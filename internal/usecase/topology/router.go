// Package topology picks the cheapest network path from this host to another.
package topology

import (
	"context"
	"sync"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

// facts are what the router learned about this host.
type facts struct {
	hostID    string
	privateIP string
}

// Router implements in.TopologyRouter. Host facts are read from the metadata
// source once and kept for the life of the process.
type Router struct {
	metadata out.MetadataSource
	once     sync.Once
	facts    facts
}

// NewRouter creates a router backed by a metadata source.
func NewRouter(metadata out.MetadataSource) *Router {
	return &Router{metadata: metadata}
}

func (r *Router) load(ctx context.Context) facts {
	r.once.Do(func() {
		ctx = zerowrap.CtxWithFields(ctx, map[string]any{
			zerowrap.FieldLayer:   "usecase",
			zerowrap.FieldUseCase: "topology",
			zerowrap.FieldAction:  "load",
		})
		log := zerowrap.FromCtx(ctx)

		// Lookup failures mean "not on this infrastructure".
		id, err := r.metadata.InstanceID(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("host metadata unavailable, assuming public network only")
			return
		}
		r.facts.hostID = id

		ip, err := r.metadata.PrivateIPv4(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("no private interface reported")
			return
		}
		r.facts.privateIP = ip

		log.Debug().
			Str("host_id", id).
			Bool("private_network", ip != "").
			Msg("host topology loaded")
	})
	return r.facts
}

// IsInPrivateNetwork reports whether this host has a private (VPC) interface.
func (r *Router) IsInPrivateNetwork(ctx context.Context) bool {
	return r.load(ctx).privateIP != ""
}

// HostID returns this host's provider identifier, or "" off-infrastructure.
func (r *Router) HostID(ctx context.Context) string {
	return r.load(ctx).hostID
}

// BestAddress chooses how to reach a target host:
//  1. the target is this host: its private IP, else its public IP
//  2. this host is in a private network and the target's private IP is known: private IP
//  3. otherwise the public IP
func (r *Router) BestAddress(ctx context.Context, publicIP, privateIP, hostID string) string {
	f := r.load(ctx)

	if hostID != "" && hostID == f.hostID {
		if privateIP != "" {
			return privateIP
		}
		return publicIP
	}
	if f.privateIP != "" && privateIP != "" {
		return privateIP
	}
	return publicIP
}

// BestAddressFor applies BestAddress to an inventory record.
func (r *Router) BestAddressFor(ctx context.Context, host domain.HostRecord) string {
	return r.BestAddress(ctx, host.IP, host.PrivateIP, host.DropletID)
}
