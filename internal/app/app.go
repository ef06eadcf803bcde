package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/adapters/out/acme"
	"github.com/bnema/flotilla/internal/adapters/out/agentclient"
	"github.com/bnema/flotilla/internal/adapters/out/certstore"
	"github.com/bnema/flotilla/internal/adapters/out/cliruntime"
	"github.com/bnema/flotilla/internal/adapters/out/lockstore"
	"github.com/bnema/flotilla/internal/adapters/out/metadata"
	"github.com/bnema/flotilla/internal/adapters/out/servicefile"
	"github.com/bnema/flotilla/internal/adapters/out/staticconfig"
	"github.com/bnema/flotilla/internal/adapters/out/tcpprobe"
	"github.com/bnema/flotilla/internal/adapters/out/telemetry"
	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/internal/usecase/backup"
	"github.com/bnema/flotilla/internal/usecase/certs"
	"github.com/bnema/flotilla/internal/usecase/deploy"
	"github.com/bnema/flotilla/internal/usecase/locator"
	"github.com/bnema/flotilla/internal/usecase/lock"
	"github.com/bnema/flotilla/internal/usecase/topology"
	"github.com/bnema/flotilla/pkg/version"
)

// App owns the configuration and logger of one process and builds the
// services each command needs. Services are built on demand so a command
// never opens connections it does not use.
type App struct {
	cfg     Config
	log     zerowrap.Logger
	cleanup func()

	mu      sync.Mutex
	closers []func() error
	static  *staticconfig.File
	router  *topology.Router

	provider *telemetry.Provider
	metrics  *telemetry.Metrics
}

// New loads the configuration and initializes the logger.
func New(configPath string) (*App, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	log, cleanup, err := initLogger(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, log: log, cleanup: cleanup}, nil
}

// NewWithConfig wires an App around an already built configuration.
func NewWithConfig(cfg Config, log zerowrap.Logger) *App {
	return &App{cfg: cfg, log: log}
}

// Config returns the effective configuration.
func (a *App) Config() Config { return a.cfg }

// Logger returns the process logger.
func (a *App) Logger() zerowrap.Logger { return a.log }

// Context attaches the process logger to ctx.
func (a *App) Context(ctx context.Context) context.Context {
	return zerowrap.WithCtx(ctx, a.log)
}

// Close releases every connection opened by the factories, newest first.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.cleanup != nil {
		a.cleanup()
	}
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

func (a *App) staticFile() *staticconfig.File {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.static == nil {
		a.static = staticconfig.New(a.cfg.Discovery.StaticConfig)
	}
	return a.static
}

// Inventory returns the host inventory read from the static config file.
func (a *App) Inventory() out.Inventory {
	return a.staticFile()
}

// Locator builds the service locator. The static config is read here, once;
// a missing or malformed file aborts the caller.
func (a *App) Locator() (*locator.Service, error) {
	static, err := a.staticFile().Load()
	if err != nil {
		return nil, err
	}
	_, metrics, err := a.Telemetry()
	if err != nil {
		return nil, err
	}
	return locator.NewService(static, tcpprobe.New(), metrics), nil
}

// Router returns the process-wide topology router.
func (a *App) Router() *topology.Router {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.router == nil {
		a.router = topology.NewRouter(metadata.New(
			metadata.WithBaseURL(a.cfg.Topology.MetadataURL),
			metadata.WithTimeout(a.cfg.Topology.Timeout),
		))
	}
	return a.router
}

// Backup builds the backup planner.
func (a *App) Backup() *backup.Service {
	return backup.NewService(backup.Config{
		HostRoot:             a.cfg.Backup.HostRoot,
		DefaultRetentionDays: a.cfg.Backup.DefaultRetentionDays,
	}, a.log)
}

// ServiceDefinitions returns the declared services at path, or at
// backup.services_file when path is empty.
func (a *App) ServiceDefinitions(path string) out.ServiceDefinitions {
	if path == "" {
		path = a.cfg.Backup.ServicesFile
	}
	return servicefile.New(path)
}

// Runner returns the command runner shared by CLI-backed adapters.
func (a *App) Runner() (*cliruntime.ExecRunner, error) {
	timeout, err := a.cfg.CommandTimeout()
	if err != nil {
		return nil, err
	}
	return cliruntime.NewExecRunner(timeout), nil
}

// Certificates builds the certificate manager with the configured issuer.
func (a *App) Certificates() (*certs.Service, error) {
	runner, err := a.Runner()
	if err != nil {
		return nil, err
	}

	var issuer out.CertificateIssuer
	switch a.cfg.Certs.Issuer {
	case "certbot":
		issuer, err = acme.NewCertbotIssuer(acme.CertbotConfig{
			Binary:  a.cfg.Certs.CertbotBinary,
			Webroot: a.cfg.Certs.Webroot,
			Email:   a.cfg.Certs.Email,
			Staging: a.cfg.Certs.Staging,
		}, runner)
	default:
		var legoIssuer *acme.LegoIssuer
		legoIssuer, err = acme.NewLegoIssuer(acme.LegoConfig{
			CertDir:  a.cfg.Certs.CertDir,
			Webroot:  a.cfg.Certs.Webroot,
			Email:    a.cfg.Certs.Email,
			Staging:  a.cfg.Certs.Staging,
			CADirURL: a.cfg.Certs.CADirURL,
		})
		if err == nil {
			a.onClose(legoIssuer.Close)
			issuer = legoIssuer
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s issuer: %w", a.cfg.Certs.Issuer, err)
	}

	_, metrics, err := a.Telemetry()
	if err != nil {
		return nil, err
	}

	opts := []certs.Option{certs.WithIssueTimeout(a.cfg.Certs.Timeout), certs.WithMetrics(metrics)}
	if a.cfg.Certs.ReloadCommand != "" {
		opts = append(opts, certs.WithReloader(acme.NewCommandReloader(a.cfg.Certs.ReloadCommand, runner)))
	}

	return certs.NewService(os.DirFS(a.cfg.Certs.NginxDir), certstore.New(a.cfg.Certs.CertDir), issuer, opts...), nil
}

// Deploy builds the deploy driver. Every deploy runs under a lease in the
// configured lock store.
func (a *App) Deploy(ctx context.Context) (*deploy.Service, error) {
	key, err := readKeyFile(a.cfg.Client.APIKeyFile)
	if err != nil {
		return nil, err
	}
	chunkSize, err := a.cfg.ChunkSize()
	if err != nil {
		return nil, err
	}

	store, closeStore, err := lockstore.NewStore(ctx, lockstore.Config{
		Backend:  a.cfg.Lock.Backend,
		Addr:     a.cfg.Lock.RedisAddr,
		Password: a.cfg.Lock.RedisPassword,
		DB:       a.cfg.Lock.RedisDB,
		Prefix:   a.cfg.Lock.Prefix,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(closeStore)

	dialer := agentclient.NewDialer(agentclient.Config{
		Port:      a.cfg.Client.Port,
		APIKey:    key,
		Timeout:   a.cfg.Client.Timeout,
		ChunkSize: chunkSize,
		Retries:   a.cfg.Client.Retries,
	})
	guard := lock.NewGuard(store, holderName(), lock.WithTTL(a.cfg.Lock.TTL))

	return deploy.NewService(dialer, a.Router(),
		deploy.WithLocker(guard),
		deploy.WithClientVersion(version.Get().Version),
		deploy.WithBasePort(a.cfg.Client.BasePort),
	), nil
}

// Driver builds the runtime driver of kind. An empty kind uses agent.runtime.
func (a *App) Driver(kind string, cfg cliruntime.DriverConfig) (cliruntime.Driver, error) {
	if kind == "" {
		kind = a.cfg.Agent.Runtime
	}
	if cfg.Binary == "" {
		cfg.Binary = a.cfg.Agent.Binary
	}
	runner, err := a.Runner()
	if err != nil {
		return nil, err
	}
	return cliruntime.NewDriver(domain.RuntimeKind(kind), cfg, runner)
}

// readKeyFile reads an API key. An unreadable or empty file is fatal for
// both the agent and its clients.
func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read api key file: %v", domain.ErrConfigLoadFailed, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("%w: api key file %s is empty", domain.ErrConfigLoadFailed, path)
	}
	return key, nil
}

func holderName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
