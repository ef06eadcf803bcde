package certs

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/flotilla/internal/boundaries/out/mocks"
	"github.com/bnema/flotilla/internal/domain"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func site(name string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte("server {\n    listen 443 ssl;\n    server_name " + name + ";\n}\n")}
}

func newTestService(t *testing.T, sites fstest.MapFS, opts ...Option) (*Service, *mocks.MockCertificateStore, *mocks.MockCertificateIssuer) {
	store := mocks.NewMockCertificateStore(t)
	issuer := mocks.NewMockCertificateIssuer(t)
	svc := NewService(sites, store, issuer, opts...)
	svc.nowFn = func() time.Time { return now }
	return svc, store, issuer
}

func TestScanLocalDomains_ParsesConvention(t *testing.T) {
	sites := fstest.MapFS{
		"acme_prod_api.conf":       site("acme.example.com"),
		"shop_staging_web_eu.conf": site("_ www.shop.example.com shop.example.com"),
		"default.conf":             site("fallback.example.com"),
		"acme_prod_catchall.conf":  site("_"),
		"acme_prod_dupe.conf":      site("acme.example.com"),
		"notes.txt":                {Data: []byte("server_name ignored.example.com;")},
		"acme_prod_commented.conf": {Data: []byte("# server_name old.example.com;\nserver_name new.example.com; # current\n")},
	}
	svc, store, _ := newTestService(t, sites)
	store.On("NotAfter", mock.Anything, mock.Anything).Return(time.Time{}, domain.ErrCertificateNotFound)

	records, err := svc.ScanLocalDomains(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.CertificateRecord{
		{Domain: "acme.example.com", Project: "acme", Env: "prod", Service: "api"},
		{Domain: "new.example.com", Project: "acme", Env: "prod", Service: "commented"},
		{Domain: "www.shop.example.com", Project: "shop", Env: "staging", Service: "web_eu"},
	}, records)
}

func TestScanLocalDomains_SingleFileScenario(t *testing.T) {
	svc, store, _ := newTestService(t, fstest.MapFS{"acme_prod_api.conf": site("acme.example.com")})
	store.On("NotAfter", mock.Anything, "acme.example.com").Return(now.Add(45*24*time.Hour), nil)

	records, err := svc.ScanLocalDomains(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "acme.example.com", rec.Domain)
	assert.Equal(t, "acme", rec.Project)
	assert.Equal(t, "prod", rec.Env)
	assert.Equal(t, "api", rec.Service)
	require.NotNil(t, rec.DaysRemaining)
	assert.Equal(t, 45, *rec.DaysRemaining)
}

func TestCheckExpiry(t *testing.T) {
	svc, store, _ := newTestService(t, fstest.MapFS{})
	store.On("NotAfter", mock.Anything, "missing.example.com").Return(time.Time{}, domain.ErrCertificateNotFound)
	store.On("NotAfter", mock.Anything, "soon.example.com").Return(now.Add(10*24*time.Hour+time.Hour), nil)
	store.On("NotAfter", mock.Anything, "expired.example.com").Return(now.Add(-72*time.Hour), nil)
	store.On("NotAfter", mock.Anything, "broken.example.com").Return(time.Time{}, errors.New("x509: malformed certificate"))

	days, err := svc.CheckExpiry(context.Background(), "missing.example.com")
	require.NoError(t, err)
	assert.Nil(t, days)

	days, err = svc.CheckExpiry(context.Background(), "soon.example.com")
	require.NoError(t, err)
	require.NotNil(t, days)
	assert.Equal(t, 10, *days)

	days, err = svc.CheckExpiry(context.Background(), "expired.example.com")
	require.NoError(t, err)
	require.NotNil(t, days)
	assert.Equal(t, 0, *days)

	_, err = svc.CheckExpiry(context.Background(), "broken.example.com")
	assert.Error(t, err)
}

func TestReconcileAll_IssueRenewSkip(t *testing.T) {
	sites := fstest.MapFS{
		"acme_prod_api.conf":  site("api.acme.example.com"),
		"acme_prod_web.conf":  site("www.acme.example.com"),
		"acme_prod_docs.conf": site("docs.acme.example.com"),
	}
	reloader := mocks.NewMockProxyReloader(t)
	svc, store, issuer := newTestService(t, sites, WithReloader(reloader))

	// api: no certificate yet.
	store.On("NotAfter", mock.Anything, "api.acme.example.com").Return(time.Time{}, domain.ErrCertificateNotFound).Once()
	store.On("NotAfter", mock.Anything, "api.acme.example.com").Return(now.Add(90*24*time.Hour), nil).Once()
	// web: 10 days left.
	store.On("NotAfter", mock.Anything, "www.acme.example.com").Return(now.Add(10*24*time.Hour), nil).Once()
	store.On("NotAfter", mock.Anything, "www.acme.example.com").Return(now.Add(90*24*time.Hour), nil).Once()
	// docs: 45 days left.
	store.On("NotAfter", mock.Anything, "docs.acme.example.com").Return(now.Add(45*24*time.Hour), nil).Once()

	issuer.On("Issue", mock.Anything, "api.acme.example.com").Return(nil).Once()
	issuer.On("Renew", mock.Anything, "www.acme.example.com").Return(nil).Once()
	reloader.On("Reload", mock.Anything).Return(nil).Once()

	outcomes, err := svc.ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, domain.CertIssued, outcomes["api.acme.example.com"].Action)
	assert.True(t, outcomes["api.acme.example.com"].Success)
	assert.Equal(t, domain.CertRenewed, outcomes["www.acme.example.com"].Action)
	assert.True(t, outcomes["www.acme.example.com"].Success)
	assert.Equal(t, 90, *outcomes["www.acme.example.com"].DaysRemaining)
	assert.Equal(t, domain.CertSkipped, outcomes["docs.acme.example.com"].Action)

	issuer.AssertNotCalled(t, "Renew", mock.Anything, "docs.acme.example.com")
	issuer.AssertNotCalled(t, "Issue", mock.Anything, "docs.acme.example.com")
}

func TestReconcileAll_FailureDoesNotStopBatch(t *testing.T) {
	sites := fstest.MapFS{
		"acme_prod_a.conf": site("a.acme.example.com"),
		"acme_prod_b.conf": site("b.acme.example.com"),
	}
	svc, store, issuer := newTestService(t, sites)

	store.On("NotAfter", mock.Anything, "a.acme.example.com").Return(now.Add(5*24*time.Hour), nil).Once()
	store.On("NotAfter", mock.Anything, "b.acme.example.com").Return(now.Add(5*24*time.Hour), nil).Once()
	store.On("NotAfter", mock.Anything, "b.acme.example.com").Return(now.Add(90*24*time.Hour), nil).Once()

	issuer.On("Renew", mock.Anything, "a.acme.example.com").Return(errors.New("acme: too many certificates")).Once()
	issuer.On("Renew", mock.Anything, "b.acme.example.com").Return(nil).Once()

	outcomes, err := svc.ReconcileAll(context.Background())
	require.NoError(t, err)

	a := outcomes["a.acme.example.com"]
	assert.False(t, a.Success)
	var renewErr *domain.CertificateRenewalError
	require.ErrorAs(t, a.Err, &renewErr)
	assert.Equal(t, domain.CertRenewed, renewErr.Action)
	assert.ErrorIs(t, a.Err, domain.ErrCertificateRenewal)
	assert.Equal(t, 5, *a.DaysRemaining)

	assert.True(t, outcomes["b.acme.example.com"].Success)
}

func TestReconcileAll_TimeoutIsPerDomain(t *testing.T) {
	sites := fstest.MapFS{
		"acme_prod_slow.conf": site("slow.acme.example.com"),
		"acme_prod_fast.conf": site("fast.acme.example.com"),
	}
	svc, store, issuer := newTestService(t, sites, WithIssueTimeout(20*time.Millisecond))

	store.On("NotAfter", mock.Anything, "slow.acme.example.com").Return(time.Time{}, domain.ErrCertificateNotFound)
	store.On("NotAfter", mock.Anything, "fast.acme.example.com").Return(time.Time{}, domain.ErrCertificateNotFound).Once()
	store.On("NotAfter", mock.Anything, "fast.acme.example.com").Return(now.Add(90*24*time.Hour), nil).Once()

	issuer.On("Issue", mock.Anything, "slow.acme.example.com").Return(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}).Once()
	issuer.On("Issue", mock.Anything, "fast.acme.example.com").Return(nil).Once()

	outcomes, err := svc.ReconcileAll(context.Background())
	require.NoError(t, err)

	assert.False(t, outcomes["slow.acme.example.com"].Success)
	assert.ErrorIs(t, outcomes["slow.acme.example.com"].Err, context.DeadlineExceeded)
	assert.True(t, outcomes["fast.acme.example.com"].Success)
}
