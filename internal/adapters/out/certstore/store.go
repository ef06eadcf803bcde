// Package certstore reads certificates installed in a certbot-style live directory.
package certstore

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

// ChainFile is the leaf-first certificate chain of a domain.
const ChainFile = "fullchain.pem"

var _ out.CertificateStore = (*Store)(nil)

// Store implements out.CertificateStore over {dir}/{domain}/fullchain.pem.
type Store struct {
	dir string
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns where the chain for d is expected.
func (s *Store) Path(d string) string {
	return filepath.Join(s.dir, d, ChainFile)
}

func (s *Store) NotAfter(_ context.Context, d string) (time.Time, error) {
	if d == "" || strings.ContainsAny(d, `/\`) || !filepath.IsLocal(d) {
		return time.Time{}, fmt.Errorf("%w: domain %q", domain.ErrInvalidName, d)
	}

	data, err := os.ReadFile(s.Path(d))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, fmt.Errorf("%w: %s", domain.ErrCertificateNotFound, d)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read certificate for %s: %w", d, err)
	}

	cert, err := leaf(data)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse certificate for %s: %w", d, err)
	}
	return cert.NotAfter, nil
}

// leaf returns the first certificate in a PEM bundle.
func leaf(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errors.New("no CERTIFICATE block found")
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}
