// Package certs keeps the certificates of this host's reverse-proxy sites valid.
//
// Reconciliation is local to one host. Nothing coordinates two hosts that serve
// the same domain, so both may renew it in the same window.
package certs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/pkg/slowcall"
)

// DefaultIssueTimeout bounds one issuance or renewal.
const DefaultIssueTimeout = 2 * time.Minute

// Service implements in.CertificateService.
type Service struct {
	sites    fs.FS
	store    out.CertificateStore
	issuer   out.CertificateIssuer
	reloader out.ProxyReloader
	metrics  out.Metrics
	timeout  time.Duration
	nowFn    func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithReloader reloads the proxy after any certificate changed.
func WithReloader(r out.ProxyReloader) Option {
	return func(s *Service) { s.reloader = r }
}

// WithMetrics records outcomes.
func WithMetrics(m out.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithIssueTimeout sets the per-domain issuance timeout.
func WithIssueTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService creates a certificate manager. sites is the directory holding
// the proxy's per-site configuration files.
func NewService(sites fs.FS, store out.CertificateStore, issuer out.CertificateIssuer, opts ...Option) *Service {
	s := &Service{
		sites:   sites,
		store:   store,
		issuer:  issuer,
		timeout: DefaultIssueTimeout,
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanLocalDomains lists the domains served by this host with their remaining
// validity. Files that do not follow the naming convention or carry no usable
// server_name are skipped.
func (s *Service) ScanLocalDomains(ctx context.Context) ([]domain.CertificateRecord, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "ScanLocalDomains",
	})
	log := zerowrap.FromCtx(ctx)

	files, err := fs.Glob(s.sites, "*.conf")
	if err != nil {
		return nil, log.WrapErr(err, "failed to list proxy configs")
	}
	sort.Strings(files)

	seen := make(map[string]bool)
	var records []domain.CertificateRecord
	for _, file := range files {
		project, env, service, ok := parseConfName(file)
		if !ok {
			log.Debug().Str(zerowrap.FieldPath, file).Msg("skipping config with non-conforming name")
			continue
		}
		content, err := fs.ReadFile(s.sites, file)
		if err != nil {
			log.Warn().Err(err).Str(zerowrap.FieldPath, file).Msg("skipping unreadable config")
			continue
		}
		name, ok := serverName(content)
		if !ok {
			log.Debug().Str(zerowrap.FieldPath, file).Msg("skipping config without server_name")
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		rec := domain.CertificateRecord{Domain: name, Project: project, Env: env, Service: service}
		days, err := s.CheckExpiry(ctx, name)
		if err != nil {
			// An unreadable certificate is treated as absent so the next pass replaces it.
			log.Warn().Err(err).Str("domain", name).Msg("certificate unreadable")
		}
		rec.DaysRemaining = days
		records = append(records, rec)
	}

	log.Debug().Int(zerowrap.FieldCount, len(records)).Msg("proxy configs scanned")
	return records, nil
}

// CheckExpiry returns the whole days left on a domain's certificate, or nil
// when no certificate is installed. Expired certificates report 0.
func (s *Service) CheckExpiry(ctx context.Context, domainName string) (*int, error) {
	notAfter, err := s.store.NotAfter(ctx, domainName)
	if errors.Is(err, domain.ErrCertificateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read certificate for %s: %w", domainName, err)
	}

	days := int(math.Floor(notAfter.Sub(s.nowFn()).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return &days, nil
}

// ReconcileAll issues missing certificates and renews those with fewer than
// 30 days left. A failing domain is reported in its outcome and does not stop
// the others. The returned error is only set when the scan itself failed or
// the proxy could not be reloaded.
func (s *Service) ReconcileAll(ctx context.Context) (map[string]domain.CertificateOutcome, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "ReconcileAll",
	})
	log := zerowrap.FromCtx(ctx)

	records, err := s.ScanLocalDomains(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make(map[string]domain.CertificateOutcome, len(records))
	changed := 0
	for _, rec := range records {
		outcome := s.reconcileOne(ctx, rec)
		outcomes[rec.Domain] = outcome
		if outcome.Action != domain.CertSkipped && outcome.Success {
			changed++
		}
		if s.metrics != nil {
			s.metrics.RecordCertificate(ctx, outcome.Action, outcome.Success)
		}
	}

	log.Info().
		Int(zerowrap.FieldCount, len(records)).
		Int("changed", changed).
		Msg("certificate reconciliation finished")

	if changed > 0 && s.reloader != nil {
		if err := s.reloader.Reload(ctx); err != nil {
			return outcomes, log.WrapErr(err, "failed to reload proxy")
		}
	}
	return outcomes, nil
}

func (s *Service) reconcileOne(ctx context.Context, rec domain.CertificateRecord) domain.CertificateOutcome {
	log := zerowrap.FromCtx(ctx).With().Str("domain", rec.Domain).Logger()

	outcome := domain.CertificateOutcome{Domain: rec.Domain, DaysRemaining: rec.DaysRemaining}
	var call func(context.Context, string) error
	switch {
	case rec.DaysRemaining == nil:
		outcome.Action = domain.CertIssued
		call = s.issuer.Issue
	case *rec.DaysRemaining < domain.RenewalThresholdDays:
		outcome.Action = domain.CertRenewed
		call = s.issuer.Renew
	default:
		outcome.Action = domain.CertSkipped
		outcome.Success = true
		log.Debug().Int("days_remaining", *rec.DaysRemaining).Msg("certificate still valid")
		return outcome
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := slowcall.WithThreshold(s.timeout/2)(func(ctx context.Context) error {
		return call(ctx, rec.Domain)
	})(opCtx)
	if err != nil {
		outcome.Err = &domain.CertificateRenewalError{Domain: rec.Domain, Action: outcome.Action, Err: err}
		log.Error().Err(err).Str(zerowrap.FieldAction, string(outcome.Action)).Msg("certificate update failed")
		return outcome
	}

	outcome.Success = true
	if days, err := s.CheckExpiry(ctx, rec.Domain); err == nil {
		outcome.DaysRemaining = days
	}
	log.Info().Str(zerowrap.FieldAction, string(outcome.Action)).Msg("certificate updated")
	return outcome
}
