package out

import (
	"context"
	"time"
)

// MetadataSource answers questions about the current host from a host-local
// metadata endpoint.
type MetadataSource interface {
	// InstanceID returns this host's provider identifier.
	InstanceID(ctx context.Context) (string, error)
	// PrivateIPv4 returns this host's private network address, or "" when it has none.
	PrivateIPv4(ctx context.Context) (string, error)
}

// Dialer attempts a raw connection to an address.
type Dialer interface {
	Dial(ctx context.Context, address string, timeout time.Duration) error
}
