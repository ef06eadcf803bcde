package acme

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/registration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/flotilla/internal/domain"
)

type recordingRunner struct {
	commands []string
	err      error
}

func (r *recordingRunner) Run(_ context.Context, _ io.Reader, name string, args ...string) ([]byte, error) {
	r.commands = append(r.commands, name+" "+strings.Join(args, " "))
	return nil, r.err
}

func TestLoadAccount_CreatesAndReusesKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), accountDir)

	first, err := loadAccount(dir, "ops@acme.test")
	require.NoError(t, err)
	require.NotNil(t, first.key)
	assert.Nil(t, first.Registration)

	info, err := os.Stat(filepath.Join(dir, "account.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := loadAccount(dir, "ops@acme.test")
	require.NoError(t, err)
	assert.Equal(t, certcrypto.PEMEncode(first.key), certcrypto.PEMEncode(second.key))
}

func TestLoadAccount_RegistrationFollowsEmail(t *testing.T) {
	dir := filepath.Join(t.TempDir(), accountDir)
	user, err := loadAccount(dir, "ops@acme.test")
	require.NoError(t, err)

	user.Registration = &registration.Resource{URI: "https://ca.test/acct/1"}
	require.NoError(t, saveAccount(dir, user))

	same, err := loadAccount(dir, "ops@acme.test")
	require.NoError(t, err)
	require.NotNil(t, same.Registration)
	assert.Equal(t, "https://ca.test/acct/1", same.Registration.URI)

	other, err := loadAccount(dir, "new@acme.test")
	require.NoError(t, err)
	assert.Nil(t, other.Registration)
	assert.Equal(t, "new@acme.test", other.GetEmail())
}

func TestSaveAccount_NoKeyInJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), accountDir)
	_, err := loadAccount(dir, "ops@acme.test")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "account.json"))
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, map[string]any{"email": "ops@acme.test", "registration": nil}, fields)
}

func TestWriteResource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeResource(dir, "acme.example.com", []byte("chain"), []byte("key")))

	chain, err := os.ReadFile(filepath.Join(dir, "acme.example.com", chainFile))
	require.NoError(t, err)
	assert.Equal(t, "chain", string(chain))

	info, err := os.Stat(filepath.Join(dir, "acme.example.com", keyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Join(dir, "acme.example.com"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestNewLegoIssuer_Validation(t *testing.T) {
	_, err := NewLegoIssuer(LegoConfig{CertDir: "/c", Email: "a@b.c"})
	assert.Error(t, err)
	_, err = NewLegoIssuer(LegoConfig{CertDir: "/c", Webroot: "/w"})
	assert.Error(t, err)
	_, err = NewLegoIssuer(LegoConfig{CertDir: "/c", Webroot: "/w", Email: "a@b.c", Staging: true})
	assert.NoError(t, err)
}

func TestLegoIssuer_InstallsAfterCallerTimesOut(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLegoIssuer(LegoConfig{CertDir: dir, Webroot: t.TempDir(), Email: "ops@acme.test"})
	require.NoError(t, err)

	release := make(chan struct{})
	l.obtainFn = func(req certificate.ObtainRequest) (*certificate.Resource, error) {
		<-release
		return &certificate.Resource{Domain: req.Domains[0], Certificate: []byte("chain"), PrivateKey: []byte("key")}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = l.Issue(ctx, "slow.example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoFileExists(t, filepath.Join(dir, "slow.example.com", chainFile))

	close(release)
	require.NoError(t, l.Close())

	chain, err := os.ReadFile(filepath.Join(dir, "slow.example.com", chainFile))
	require.NoError(t, err)
	assert.Equal(t, "chain", string(chain))
}

func TestLegoIssuer_ObtainFailure(t *testing.T) {
	l, err := NewLegoIssuer(LegoConfig{CertDir: t.TempDir(), Webroot: t.TempDir(), Email: "ops@acme.test"})
	require.NoError(t, err)
	l.obtainFn = func(certificate.ObtainRequest) (*certificate.Resource, error) {
		return nil, errors.New("urn:ietf:params:acme:error:rateLimited")
	}

	assert.ErrorContains(t, l.Renew(context.Background(), "acme.example.com"), "rateLimited")
}

func TestLegoIssuer_RejectsPathDomains(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLegoIssuer(LegoConfig{CertDir: dir, Webroot: t.TempDir(), Email: "ops@acme.test"})
	require.NoError(t, err)
	l.obtainFn = func(certificate.ObtainRequest) (*certificate.Resource, error) {
		t.Fatal("no order expected for an invalid domain")
		return nil, nil
	}

	for _, d := range []string{"", "..", "../etc", "a/b", `a\b`} {
		assert.ErrorIs(t, l.Renew(context.Background(), d), domain.ErrInvalidName, d)
		assert.ErrorIs(t, l.Issue(context.Background(), d), domain.ErrInvalidName, d)
	}
}

func TestCertbotIssuer(t *testing.T) {
	r := &recordingRunner{}
	c, err := NewCertbotIssuer(CertbotConfig{Webroot: "/var/www/acme", Email: "ops@acme.test", Staging: true}, r)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Issue(ctx, "acme.example.com"))
	require.NoError(t, c.Renew(ctx, "shop.example.com"))
	assert.Equal(t, []string{
		"certbot certonly --webroot -w /var/www/acme -d acme.example.com --cert-name acme.example.com --non-interactive --agree-tos -m ops@acme.test --staging",
		"certbot certonly --webroot -w /var/www/acme -d shop.example.com --cert-name shop.example.com --non-interactive --agree-tos -m ops@acme.test --force-renewal --staging",
	}, r.commands)

	r.err = errors.New("rate limited")
	assert.ErrorContains(t, c.Issue(ctx, "acme.example.com"), "rate limited")

	_, err = NewCertbotIssuer(CertbotConfig{Webroot: "/w"}, r)
	assert.Error(t, err)
}

func TestCommandReloader(t *testing.T) {
	r := &recordingRunner{}
	require.NoError(t, NewCommandReloader("", r).Reload(context.Background()))
	require.NoError(t, NewCommandReloader("systemctl reload  nginx", r).Reload(context.Background()))
	assert.Equal(t, []string{"nginx -s reload", "systemctl reload nginx"}, r.commands)
}
