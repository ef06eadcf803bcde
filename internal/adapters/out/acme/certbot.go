package acme

import (
	"context"
	"errors"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/adapters/out/cliruntime"
	"github.com/bnema/flotilla/internal/boundaries/out"
)

// CertbotConfig configures the certbot issuer.
type CertbotConfig struct {
	Binary  string
	Webroot string
	Email   string
	Staging bool
}

var _ out.CertificateIssuer = (*CertbotIssuer)(nil)

// CertbotIssuer delegates to the certbot CLI in webroot mode. certbot writes
// into its own live directory, which is where the certificate store reads.
type CertbotIssuer struct {
	config CertbotConfig
	runner cliruntime.Runner
}

// NewCertbotIssuer creates a certbot-backed issuer.
func NewCertbotIssuer(config CertbotConfig, runner cliruntime.Runner) (*CertbotIssuer, error) {
	if config.Webroot == "" || config.Email == "" {
		return nil, errors.New("certbot: webroot and email are required")
	}
	if config.Binary == "" {
		config.Binary = "certbot"
	}
	return &CertbotIssuer{config: config, runner: runner}, nil
}

func (c *CertbotIssuer) Issue(ctx context.Context, domain string) error {
	return c.run(ctx, domain, false)
}

func (c *CertbotIssuer) Renew(ctx context.Context, domain string) error {
	return c.run(ctx, domain, true)
}

func (c *CertbotIssuer) run(ctx context.Context, domain string, force bool) error {
	args := []string{
		"certonly", "--webroot",
		"-w", c.config.Webroot,
		"-d", domain,
		"--cert-name", domain,
		"--non-interactive", "--agree-tos",
		"-m", c.config.Email,
	}
	if force {
		args = append(args, "--force-renewal")
	}
	if c.config.Staging {
		args = append(args, "--staging")
	}

	log := zerowrap.FromCtx(ctx)
	if _, err := c.runner.Run(ctx, nil, c.config.Binary, args...); err != nil {
		return log.WrapErr(err, "certbot failed")
	}
	return nil
}

var _ out.ProxyReloader = (*CommandReloader)(nil)

// DefaultReloadCommand reloads nginx in place.
const DefaultReloadCommand = "nginx -s reload"

// CommandReloader runs a shell-free command to reload the proxy.
type CommandReloader struct {
	argv   []string
	runner cliruntime.Runner
}

// NewCommandReloader splits command on whitespace. An empty command uses
// DefaultReloadCommand.
func NewCommandReloader(command string, runner cliruntime.Runner) *CommandReloader {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		argv = strings.Fields(DefaultReloadCommand)
	}
	return &CommandReloader{argv: argv, runner: runner}
}

func (r *CommandReloader) Reload(ctx context.Context) error {
	_, err := r.runner.Run(ctx, nil, r.argv[0], r.argv[1:]...)
	return err
}
