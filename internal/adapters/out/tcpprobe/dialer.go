// Package tcpprobe checks endpoint reachability with a raw TCP connect.
package tcpprobe

import (
	"context"
	"net"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/boundaries/out"
)

var _ out.Dialer = (*Dialer)(nil)

// Dialer implements out.Dialer. The connection is closed as soon as it opens.
type Dialer struct {
	network string
}

// New creates a TCP dialer.
func New() *Dialer {
	return &Dialer{network: "tcp"}
}

func (d *Dialer) Dial(ctx context.Context, address string, timeout time.Duration) error {
	nd := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := nd.DialContext(ctx, d.network, address)
	log := zerowrap.FromCtx(ctx)
	if err != nil {
		log.Debug().Err(err).Str(zerowrap.FieldHost, address).Dur(zerowrap.FieldDuration, time.Since(start)).Msg("probe failed")
		return err
	}
	log.Debug().Str(zerowrap.FieldHost, address).Dur(zerowrap.FieldDuration, time.Since(start)).Msg("probe succeeded")
	return conn.Close()
}
