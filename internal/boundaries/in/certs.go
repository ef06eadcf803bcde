package in

import (
	"context"

	"github.com/bnema/flotilla/internal/domain"
)

// CertificateService keeps this host's certificates valid.
type CertificateService interface {
	ScanLocalDomains(ctx context.Context) ([]domain.CertificateRecord, error)
	CheckExpiry(ctx context.Context, domainName string) (*int, error)
	ReconcileAll(ctx context.Context) (map[string]domain.CertificateOutcome, error)
}
