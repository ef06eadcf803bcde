package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

var _ out.Metrics = (*Metrics)(nil)

// Metrics holds flotilla's OTel metric instruments.
type Metrics struct {
	// Node agent
	AgentOperations        metric.Int64Counter
	AgentOperationErrors   metric.Int64Counter
	AgentOperationDuration metric.Float64Histogram
	UploadBytes            metric.Int64Counter

	// Discovery
	DiscoveryAttempts metric.Int64Counter

	// Certificates
	CertificateActions metric.Int64Counter
}

// NewMetrics creates all instruments on mp. A nil mp yields noop instruments.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("flotilla")
	m := &Metrics{}
	var err error

	if m.AgentOperations, err = meter.Int64Counter("flotilla.agent.operations",
		metric.WithDescription("Agent operations by name")); err != nil {
		return nil, err
	}
	if m.AgentOperationErrors, err = meter.Int64Counter("flotilla.agent.operation.errors",
		metric.WithDescription("Failed agent operations by name")); err != nil {
		return nil, err
	}
	if m.AgentOperationDuration, err = meter.Float64Histogram("flotilla.agent.operation.duration",
		metric.WithDescription("Agent operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300)); err != nil {
		return nil, err
	}
	if m.UploadBytes, err = meter.Int64Counter("flotilla.agent.upload",
		metric.WithDescription("Bytes received through chunked uploads"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.DiscoveryAttempts, err = meter.Int64Counter("flotilla.discovery.attempts",
		metric.WithDescription("Service discovery probes by strategy and result")); err != nil {
		return nil, err
	}
	if m.CertificateActions, err = meter.Int64Counter("flotilla.certificates.actions",
		metric.WithDescription("Certificate reconcile actions by outcome")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordAgentOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	m.AgentOperations.Add(ctx, 1, attrs)
	m.AgentOperationDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.AgentOperationErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordDiscovery(ctx context.Context, strategy domain.DiscoveryStrategy, ok bool) {
	m.DiscoveryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", string(strategy)),
		attribute.Bool("success", ok),
	))
}

func (m *Metrics) RecordCertificate(ctx context.Context, action domain.CertificateAction, success bool) {
	m.CertificateActions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.Bool("success", success),
	))
}

func (m *Metrics) RecordUploadBytes(ctx context.Context, n int64) {
	m.UploadBytes.Add(ctx, n)
}
