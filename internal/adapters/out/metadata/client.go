// Package metadata reads host facts from a DigitalOcean-style metadata endpoint.
package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/flotilla/internal/boundaries/out"
)

const (
	// DefaultBaseURL is the link-local metadata service.
	DefaultBaseURL = "http://169.254.169.254/metadata/v1"
	// DefaultTimeout keeps startup fast off-provider, where the address does not answer.
	DefaultTimeout = time.Second
)

var _ out.MetadataSource = (*Client)(nil)

// Client implements out.MetadataSource over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the metadata endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// New creates a metadata client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{
			Timeout: c.timeout,
			Transport: &http.Transport{
				Proxy:             nil, // link-local, never proxied
				DisableKeepAlives: true,
			},
		}
	}
	return c
}

// InstanceID returns the droplet ID.
func (c *Client) InstanceID(ctx context.Context) (string, error) {
	id, found, err := c.get(ctx, "/id")
	if err != nil {
		return "", err
	}
	if !found || id == "" {
		return "", fmt.Errorf("metadata: instance id not reported")
	}
	return id, nil
}

// PrivateIPv4 returns the first private interface address, or "" without one.
func (c *Client) PrivateIPv4(ctx context.Context) (string, error) {
	ip, _, err := c.get(ctx, "/interfaces/private/0/ipv4/address")
	return ip, err
}

func (c *Client) get(ctx context.Context, path string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "flotilla-metadata/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("metadata %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", false, fmt.Errorf("read metadata %s: %w", path, err)
	}
	return strings.TrimSpace(string(body)), true, nil
}
