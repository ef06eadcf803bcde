package app

import (
	"context"
	"fmt"
	"net"

	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	agenthttp "github.com/bnema/flotilla/internal/adapters/in/http/agent"
	"github.com/bnema/flotilla/internal/adapters/out/cliruntime"
	"github.com/bnema/flotilla/internal/adapters/out/docker"
	"github.com/bnema/flotilla/internal/adapters/out/ratelimit"
	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
	agentsvc "github.com/bnema/flotilla/internal/usecase/agent"
	"github.com/bnema/flotilla/pkg/version"
)

// containerRuntime picks the agent's runtime adapter from agent.backend.
func (a *App) containerRuntime() (out.ContainerRuntime, error) {
	if a.cfg.Agent.Backend == "sdk" {
		if domain.RuntimeKind(a.cfg.Agent.Runtime) != domain.RuntimeDocker {
			return nil, fmt.Errorf("%w: sdk backend only supports docker, got %s", domain.ErrUnsupportedRuntime, a.cfg.Agent.Runtime)
		}
		return docker.NewRuntime()
	}

	runner, err := a.Runner()
	if err != nil {
		return nil, err
	}
	return cliruntime.NewRuntime(domain.RuntimeKind(a.cfg.Agent.Runtime), a.cfg.Agent.Binary, runner)
}

// ServeAgent runs the node agent until ctx is cancelled.
func (a *App) ServeAgent(ctx context.Context) error {
	ctx = a.Context(ctx)
	log := a.log

	apiKey, err := readKeyFile(a.cfg.Agent.APIKeyFile)
	if err != nil {
		return log.WrapErr(err, "agent cannot start without an API key")
	}

	runtime, err := a.containerRuntime()
	if err != nil {
		return log.WrapErr(err, "failed to create container runtime")
	}

	info := version.Get()
	provider, metrics, err := a.Telemetry()
	if err != nil {
		return err
	}

	var redisClient redis.UniversalClient
	if a.cfg.Agent.RateLimitBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Lock.RedisAddr,
			Password: a.cfg.Lock.RedisPassword,
			DB:       a.cfg.Lock.RedisDB,
		})
		defer client.Close()
		redisClient = client
	}

	var limiter echomw.RateLimiterStore
	if a.cfg.Agent.RateLimit > 0 {
		limiter, err = ratelimit.NewStore(ratelimit.Config{
			Backend: a.cfg.Agent.RateLimitBackend,
			RPS:     a.cfg.Agent.RateLimit,
			Burst:   a.cfg.Agent.RateBurst,
			Prefix:  a.cfg.Lock.Prefix + "ratelimit:",
		}, redisClient, log)
		if err != nil {
			return log.WrapErr(err, "failed to create rate limiter")
		}
	}

	svc := agentsvc.NewService(runtime, agentsvc.Config{UploadDir: a.cfg.Agent.UploadDir}, metrics)
	e, err := agenthttp.NewServer(svc, agenthttp.Config{
		APIKey:    apiKey,
		Version:   info.Version,
		RateLimit: limiter,
		Registry:  provider.Registry,
	}, log)
	if err != nil {
		return log.WrapErr(err, "failed to build agent server")
	}

	if loopbackOnly(a.cfg.Agent.Listen) {
		log.Warn().
			Str("listen", a.cfg.Agent.Listen).
			Msg("agent listens on loopback only, deploys from other hosts cannot reach it; set agent.listen to the private interface")
	}

	log.Info().
		Str("backend", a.cfg.Agent.Backend).
		Str("runtime", string(runtime.Kind())).
		Str("version", info.String()).
		Msg("starting node agent")

	return agenthttp.Serve(ctx, e, a.cfg.Agent.Listen, a.cfg.Agent.ShutdownTimeout)
}

// loopbackOnly reports whether addr accepts connections from this host alone.
func loopbackOnly(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
