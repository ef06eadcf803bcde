// Package locator resolves a live host:port for a service instance.
package locator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/internal/usecase/naming"
	"github.com/bnema/flotilla/pkg/slowcall"
)

// DefaultProbeTimeout bounds each probe when the caller passes zero.
const DefaultProbeTimeout = 2 * time.Second

var errNoControlPlane = errors.New("no control-plane host configured")

// Service implements in.ServiceLocator.
//
// Strategies are tried strictly in order (container, control-plane, localhost),
// one at a time. Results are never cached here.
type Service struct {
	static  domain.StaticConfig
	dialer  out.Dialer
	metrics out.Metrics
}

// NewService creates a locator. static is loaded once by the caller.
func NewService(static domain.StaticConfig, dialer out.Dialer, metrics out.Metrics) *Service {
	return &Service{static: static, dialer: dialer, metrics: metrics}
}

type candidate struct {
	strategy domain.DiscoveryStrategy
	host     string
	port     int
	skip     error
}

// Resolve finds a reachable endpoint for instanceName, a service of kind serviceKind.
func (s *Service) Resolve(ctx context.Context, project, env, serviceKind, instanceName string, timeout time.Duration) (domain.ServiceEndpoint, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Resolve",
		zerowrap.FieldService: instanceName,
		"project":             project,
		"env":                 env,
		"kind":                serviceKind,
	})
	log := zerowrap.FromCtx(ctx)

	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	internalPort, ok := naming.ConventionalPort(serviceKind)
	if !ok {
		return domain.ServiceEndpoint{}, fmt.Errorf("resolve %s: %w for kind %q", instanceName, domain.ErrPortUnknown, serviceKind)
	}

	basePort := s.static.BasePort
	if basePort == 0 {
		basePort = naming.DefaultBasePort
	}
	externalPort := naming.HostPortFrom(basePort, project, env, instanceName, internalPort)

	controlPlane := candidate{strategy: domain.StrategyControlPlane, host: s.static.ControlPlaneHost, port: externalPort}
	if controlPlane.host == "" {
		controlPlane.skip = errNoControlPlane
	}

	candidates := []candidate{
		{strategy: domain.StrategyContainer, host: naming.ContainerName(project, env, instanceName), port: internalPort},
		controlPlane,
		{strategy: domain.StrategyLocalhost, host: "localhost", port: externalPort},
	}

	derr := &domain.DiscoveryError{Service: naming.ContainerName(project, env, instanceName)}
	for i, c := range candidates {
		if c.skip != nil {
			derr.Attempts = append(derr.Attempts, domain.DiscoveryAttempt{Strategy: c.strategy, Err: c.skip})
			continue
		}

		addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
		err := s.probe(ctx, addr, timeout)
		s.record(ctx, c.strategy, err == nil)
		if err == nil {
			log.Debug().Str("strategy", string(c.strategy)).Str(zerowrap.FieldHost, addr).Msg("service resolved")
			return domain.ServiceEndpoint{Host: c.host, Port: c.port, Strategy: c.strategy}, nil
		}

		log.Debug().Err(err).Str("strategy", string(c.strategy)).Str(zerowrap.FieldHost, addr).Msg("probe failed")
		derr.Attempts = append(derr.Attempts, domain.DiscoveryAttempt{Strategy: c.strategy, Address: addr, Err: err})

		if ctx.Err() != nil {
			skipped := fmt.Errorf("skipped: %w", ctx.Err())
			for _, rest := range candidates[i+1:] {
				derr.Attempts = append(derr.Attempts, domain.DiscoveryAttempt{Strategy: rest.strategy, Err: skipped})
			}
			break
		}
	}

	log.Warn().Err(derr).Msg("service discovery failed")
	return domain.ServiceEndpoint{}, derr
}

func (s *Service) probe(ctx context.Context, addr string, timeout time.Duration) error {
	return slowcall.WithThreshold(timeout/2)(func(ctx context.Context) error {
		return s.dialer.Dial(ctx, addr, timeout)
	})(ctx)
}

func (s *Service) record(ctx context.Context, strategy domain.DiscoveryStrategy, ok bool) {
	if s.metrics != nil {
		s.metrics.RecordDiscovery(ctx, strategy, ok)
	}
}
