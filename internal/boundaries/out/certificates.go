package out

import (
	"context"
	"time"
)

// CertificateIssuer obtains certificates from a certificate authority.
type CertificateIssuer interface {
	// Issue obtains a first certificate for a domain that has none.
	Issue(ctx context.Context, domain string) error
	// Renew replaces an existing certificate.
	Renew(ctx context.Context, domain string) error
}

// CertificateStore reads certificates installed on this host.
type CertificateStore interface {
	// NotAfter returns the expiry of the domain's certificate,
	// or domain.ErrCertificateNotFound when none is installed.
	NotAfter(ctx context.Context, domain string) (time.Time, error)
}

// ProxyReloader makes the reverse proxy pick up new certificates.
type ProxyReloader interface {
	Reload(ctx context.Context) error
}
