// Package acme issues certificates from an ACME certificate authority.
package acme

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bnema/zerowrap"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/providers/http/webroot"
	"github.com/go-acme/lego/v4/registration"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

const (
	chainFile = "fullchain.pem"
	keyFile   = "privkey.pem"
	// accountDir sits next to the domain directories in the cert dir.
	accountDir = ".flotilla-acme"
)

// LegoConfig configures the lego issuer.
type LegoConfig struct {
	CertDir string // certificates land in {CertDir}/{domain}/
	Webroot string // served by the proxy at /.well-known/acme-challenge/
	Email   string
	Staging bool
	// CADirURL overrides the Let's Encrypt directory.
	CADirURL string
}

var _ out.CertificateIssuer = (*LegoIssuer)(nil)

type obtainFunc func(certificate.ObtainRequest) (*certificate.Resource, error)

// LegoIssuer obtains certificates over HTTP-01 with the webroot provider.
// The ACME client and account are set up on first use.
type LegoIssuer struct {
	config LegoConfig

	mu     sync.Mutex
	client *lego.Client
	// obtainFn replaces the lego client in tests.
	obtainFn obtainFunc

	// pending counts orders still running after their caller gave up.
	pending sync.WaitGroup
}

// NewLegoIssuer creates a lego-backed issuer.
func NewLegoIssuer(config LegoConfig) (*LegoIssuer, error) {
	if config.CertDir == "" || config.Webroot == "" {
		return nil, errors.New("acme: cert dir and webroot are required")
	}
	if config.Email == "" {
		return nil, errors.New("acme: account email is required")
	}
	return &LegoIssuer{config: config}, nil
}

// accountUser implements registration.User.
type accountUser struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

func (u *accountUser) GetEmail() string                        { return u.Email }
func (u *accountUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *accountUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// validDomain rejects names that would leave the cert dir once joined to it.
func validDomain(d string) error {
	if d == "" || strings.ContainsAny(d, `/\`) || !filepath.IsLocal(d) {
		return fmt.Errorf("%w: domain %q", domain.ErrInvalidName, d)
	}
	return nil
}

func (l *LegoIssuer) Issue(ctx context.Context, d string) error {
	if err := validDomain(d); err != nil {
		return err
	}
	return l.obtain(ctx, d, nil)
}

// Renew obtains a fresh certificate that keeps the installed private key.
func (l *LegoIssuer) Renew(ctx context.Context, d string) error {
	if err := validDomain(d); err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(filepath.Join(l.config.CertDir, d, keyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l.obtain(ctx, d, nil)
		}
		return fmt.Errorf("read private key: %w", err)
	}
	key, err := certcrypto.ParsePEMPrivateKey(keyPEM)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	return l.obtain(ctx, d, key)
}

// Close waits for orders that outlived their caller to finish installing.
func (l *LegoIssuer) Close() error {
	l.pending.Wait()
	return nil
}

func (l *LegoIssuer) obtainer(ctx context.Context) (obtainFunc, error) {
	if l.obtainFn != nil {
		return l.obtainFn, nil
	}
	client, err := l.getClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.Certificate.Obtain, nil
}

func (l *LegoIssuer) obtain(ctx context.Context, d string, key crypto.PrivateKey) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "acme-lego",
		"domain":              d,
	})
	log := zerowrap.FromCtx(ctx)

	obtain, err := l.obtainer(ctx)
	if err != nil {
		return err
	}

	// lego has no context support, so ctx only bounds how long the caller
	// waits. The order keeps running and installs whatever it gets, since the
	// CA may already have issued it.
	done := make(chan error, 1)
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		done <- l.obtainAndInstall(obtain, d, key)
	}()

	select {
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Msg("stopped waiting for certificate, order continues")
		return fmt.Errorf("obtain certificate for %s: %w", d, ctx.Err())
	case err := <-done:
		if err != nil {
			return log.WrapErr(err, "failed to obtain certificate")
		}
	}
	log.Info().Msg("certificate installed")
	return nil
}

func (l *LegoIssuer) obtainAndInstall(obtain obtainFunc, d string, key crypto.PrivateKey) error {
	res, err := obtain(certificate.ObtainRequest{
		Domains:    []string{d},
		Bundle:     true,
		PrivateKey: key,
	})
	if err != nil {
		return err
	}
	if err := writeResource(l.config.CertDir, d, res.Certificate, res.PrivateKey); err != nil {
		return fmt.Errorf("install certificate: %w", err)
	}
	return nil
}

func (l *LegoIssuer) getClient(ctx context.Context) (*lego.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}

	log := zerowrap.FromCtx(ctx)
	dir := filepath.Join(l.config.CertDir, accountDir)

	user, err := loadAccount(dir, l.config.Email)
	if err != nil {
		return nil, err
	}

	cfg := lego.NewConfig(user)
	cfg.Certificate.KeyType = certcrypto.EC256
	switch {
	case l.config.CADirURL != "":
		cfg.CADirURL = l.config.CADirURL
	case l.config.Staging:
		cfg.CADirURL = lego.LEDirectoryStaging
	default:
		cfg.CADirURL = lego.LEDirectoryProduction
	}

	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create lego client: %w", err)
	}

	provider, err := webroot.NewHTTPProvider(l.config.Webroot)
	if err != nil {
		return nil, fmt.Errorf("create webroot provider: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return nil, fmt.Errorf("set http-01 provider: %w", err)
	}

	if user.Registration == nil {
		reg, err := client.Registration.ResolveAccountByKey()
		if err != nil {
			reg, err = client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
			if err != nil {
				return nil, fmt.Errorf("register acme account: %w", err)
			}
			log.Info().Str("email", user.Email).Msg("acme account registered")
		}
		user.Registration = reg
		if err := saveAccount(dir, user); err != nil {
			return nil, err
		}
	}

	l.client = client
	return client, nil
}

// loadAccount reads the account key and registration, creating a key on first use.
func loadAccount(dir, email string) (*accountUser, error) {
	user := &accountUser{Email: email}

	keyPEM, err := os.ReadFile(filepath.Join(dir, "account.key"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
		if err != nil {
			return nil, fmt.Errorf("generate account key: %w", err)
		}
		user.key = key
		if err := saveAccount(dir, user); err != nil {
			return nil, err
		}
		return user, nil
	case err != nil:
		return nil, fmt.Errorf("read account key: %w", err)
	}

	if user.key, err = certcrypto.ParsePEMPrivateKey(keyPEM); err != nil {
		return nil, fmt.Errorf("parse account key: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "account.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	var stored accountUser
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	// A changed email needs a new registration.
	if stored.Email == email {
		user.Registration = stored.Registration
	}
	return user, nil
}

func saveAccount(dir string, user *accountUser) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create account dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "account.key"), certcrypto.PEMEncode(user.key), 0o600); err != nil {
		return fmt.Errorf("write account key: %w", err)
	}
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "account.json"), data, 0o600); err != nil {
		return fmt.Errorf("write account: %w", err)
	}
	return nil
}

// writeResource installs a chain and key where the certificate store reads them.
func writeResource(certDir, d string, chain, key []byte) error {
	dir := filepath.Join(certDir, d)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, keyFile), key, 0o600); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, chainFile), chain, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
