package app

import (
	"context"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"

	"github.com/bnema/flotilla/internal/adapters/out/telemetry"
	"github.com/bnema/flotilla/pkg/version"
)

// Telemetry returns the process meter provider and its instruments. Both are
// built on first use and shut down by Close.
func (a *App) Telemetry() (*telemetry.Provider, *telemetry.Metrics, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.provider != nil {
		return a.provider, a.metrics, nil
	}

	provider, shutdown, err := telemetry.NewProvider(a.cfg.Telemetry, "flotilla", version.Get().Version)
	if err != nil {
		return nil, nil, a.log.WrapErr(err, "failed to create telemetry provider")
	}
	metrics, err := telemetry.NewMetrics(provider.Meters())
	if err != nil {
		_ = shutdown(context.Background())
		return nil, nil, a.log.WrapErr(err, "failed to create metric instruments")
	}

	a.provider, a.metrics = provider, metrics
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })
	return provider, metrics, nil
}

// metricsServer serves the process registry on /metrics for telemetry.listen.
func metricsServer(provider *telemetry.Provider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: provider.Registry}))
	return e
}
