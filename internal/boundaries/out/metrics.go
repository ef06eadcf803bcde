package out

import (
	"context"
	"time"

	"github.com/bnema/flotilla/internal/domain"
)

// Metrics records operational measurements. Use cases accept a nil Metrics.
type Metrics interface {
	RecordAgentOperation(ctx context.Context, operation string, duration time.Duration, err error)
	RecordDiscovery(ctx context.Context, strategy domain.DiscoveryStrategy, ok bool)
	RecordCertificate(ctx context.Context, action domain.CertificateAction, success bool)
	RecordUploadBytes(ctx context.Context, n int64)
}
