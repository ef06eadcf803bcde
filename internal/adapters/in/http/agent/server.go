package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bnema/flotilla/internal/adapters/dto"
	"github.com/bnema/flotilla/internal/adapters/in/http/middleware"
	"github.com/bnema/flotilla/internal/boundaries/in"
)

// Config assembles the agent's HTTP surface.
type Config struct {
	APIKey  string
	Version string

	// RateLimit throttles requests per client IP; nil disables it.
	RateLimit echomw.RateLimiterStore

	// Registry collects request metrics and backs GET /metrics; nil disables both.
	Registry *prometheus.Registry
}

// NewServer builds the echo instance serving the agent API. Every route,
// /metrics included, sits behind the API key.
func NewServer(svc in.AgentService, cfg Config, log zerowrap.Logger) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover(log))
	e.Use(middleware.RequestLogger(log))

	if cfg.Registry != nil {
		mw, err := echoprometheus.MiddlewareConfig{
			Namespace:  "flotilla",
			Subsystem:  "agent_http",
			Registerer: cfg.Registry,
		}.ToMiddleware()
		if err != nil {
			return nil, fmt.Errorf("request metrics: %w", err)
		}
		e.Use(mw)
	}

	if cfg.RateLimit != nil {
		e.Use(echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
			Store: cfg.RateLimit,
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
			ErrorHandler: func(c echo.Context, err error) error {
				return c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "cannot identify client"})
			},
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				log.Warn().
					Str(zerowrap.FieldLayer, "adapter").
					Str(zerowrap.FieldAdapter, "http").
					Str(zerowrap.FieldClientIP, identifier).
					Msg("rate limit exceeded")
				return c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{Error: "rate limit exceeded"})
			},
		}))
	}

	e.Use(middleware.APIKey(cfg.APIKey, log))

	NewHandler(svc, cfg.Version, log).Register(e.Group(""))
	if cfg.Registry != nil {
		e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: cfg.Registry}))
	}
	return e, nil
}

// Serve runs e on addr until ctx is done, then drains in-flight requests.
func Serve(ctx context.Context, e *echo.Echo, addr string, shutdownTimeout time.Duration) error {
	log := zerowrap.FromCtx(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info().Str("addr", addr).Msg("http server shutting down")
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
