// Package telemetry provides OpenTelemetry metrics for flotilla.
// Instruments are exported through the Prometheus exporter onto a registry
// owned by the Provider, so nothing is registered globally.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// RuntimeCollectors adds the Go runtime and process collectors to the registry.
	RuntimeCollectors bool `mapstructure:"runtime_collectors"`
	// Listen is where the scheduler serves /metrics. Empty disables it; the
	// agent always serves /metrics on its own listener.
	Listen string `mapstructure:"listen"`
}

// Provider holds the meter provider and the registry it exports to.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Registry      *prometheus.Registry
}

// NewProvider creates a meter provider backed by a fresh Prometheus registry.
// When telemetry is disabled the provider has a registry but no meter
// provider, and Meters returns a noop one.
// The returned shutdown function must be called on application exit.
func NewProvider(cfg Config, serviceName, version string) (*Provider, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	reg := prometheus.NewRegistry()
	p := &Provider{Registry: reg}

	if !cfg.Enabled {
		return p, noop, nil
	}

	if cfg.RuntimeCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, noop, fmt.Errorf("create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	p.MeterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return p, p.MeterProvider.Shutdown, nil
}

// Meters returns the meter provider, or a noop one when telemetry is disabled.
func (p *Provider) Meters() otelmetric.MeterProvider {
	if p.MeterProvider == nil {
		return noop.NewMeterProvider()
	}
	return p.MeterProvider
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{Registry: p.Registry})
}
