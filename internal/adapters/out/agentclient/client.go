// Package agentclient provides an HTTP client for node agents.
package agentclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/google/uuid"

	"github.com/bnema/flotilla/internal/adapters/dto"
	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

// APIKeyHeader carries the agent's shared secret.
const APIKeyHeader = "X-API-Key"

const (
	DefaultPort      = 7070
	DefaultTimeout   = 30 * time.Second
	DefaultChunkSize = 8 << 20
	DefaultRetries   = 3
)

var _ out.NodeAgent = (*Client)(nil)

// Client is an HTTP client for one node agent. It never retries container
// mutations; only idempotent chunk uploads are retried.
type Client struct {
	baseURL    string
	host       string
	apiKey     string
	httpClient *http.Client
	chunkSize  int64
	retries    int
	backoff    time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// NewClient creates a client for the agent at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL: baseURL,
		host:    baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		chunkSize: DefaultChunkSize,
		retries:   DefaultRetries,
		backoff:   500 * time.Millisecond,
	}
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		c.host = u.Hostname()
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAPIKey sets the X-API-Key header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithChunkSize sets the upload chunk size.
func WithChunkSize(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithRetries sets how often a failed chunk is resent and the base backoff.
func WithRetries(n int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = max(n, 0)
		c.backoff = backoff
	}
}

// request performs an HTTP request to the agent API.
func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	return c.httpClient.Do(req)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
}

// parseResponse decodes a JSON response into target, or turns an error body
// back into the domain error the agent reported.
func (c *Client) parseResponse(resp *http.Response, operation string, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var errResp dto.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(body))
		}
		return c.responseError(resp.StatusCode, operation, errResp)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) responseError(status int, operation string, e dto.ErrorResponse) error {
	if status == http.StatusUnauthorized {
		return &domain.AgentAuthError{Host: c.host}
	}
	if sentinel := dto.SentinelFor(e.Code); sentinel != nil {
		return &domain.AgentOperationError{Operation: operation, Output: e.Error, Err: sentinel}
	}
	if status == http.StatusBadGateway || e.Code == dto.CodeRuntime {
		return &domain.AgentOperationError{Operation: operation, Output: e.Error}
	}
	return fmt.Errorf("agent %s: %s: %d %s", c.host, operation, status, e.Error)
}

func (c *Client) do(ctx context.Context, method, path, operation string, body, target any) error {
	resp, err := c.request(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("agent %s: %s: %w", c.host, operation, err)
	}
	return c.parseResponse(resp, operation, target)
}

func (c *Client) Health(ctx context.Context) (*out.AgentHealth, error) {
	var h dto.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", "health", nil, &h); err != nil {
		return nil, err
	}
	return &out.AgentHealth{
		Status:           h.Status,
		RuntimeReachable: h.RuntimeReachable,
		Containers:       h.Containers,
		Version:          h.Version,
	}, nil
}

func (c *Client) ListContainers(ctx context.Context) ([]domain.ContainerSummary, error) {
	var list []dto.Container
	if err := c.do(ctx, http.MethodGet, "/containers", "list", nil, &list); err != nil {
		return nil, err
	}
	return dto.ToContainerSummaries(list), nil
}

func (c *Client) RunContainer(ctx context.Context, spec domain.RunSpec) error {
	return c.do(ctx, http.MethodPost, "/containers/run", "run", dto.RunContainerRequestFrom(spec), nil)
}

func (c *Client) StopContainer(ctx context.Context, name string) error {
	return c.containerAction(ctx, name, "stop")
}

func (c *Client) RestartContainer(ctx context.Context, name string) error {
	return c.containerAction(ctx, name, "restart")
}

func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	return c.containerAction(ctx, name, "remove")
}

func (c *Client) containerAction(ctx context.Context, name, action string) error {
	return c.do(ctx, http.MethodPost, "/containers/"+url.PathEscape(name)+"/"+action, action, nil, nil)
}

// PullImage path-escapes ref so registry paths survive as one segment.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, "/images/"+url.PathEscape(ref)+"/pull", "pull", nil, nil)
}

func (c *Client) Login(ctx context.Context, auth domain.RegistryAuth) error {
	return c.do(ctx, http.MethodPost, "/registry/login", "login", dto.LoginRequest{
		Server:   auth.Server,
		Username: auth.Username,
		Password: auth.Password,
	}, nil)
}

func (c *Client) BuildImage(ctx context.Context, transferID, fileName, tag, dockerfile string) error {
	return c.do(ctx, http.MethodPost, "/images/build", "build", dto.BuildRequest{
		TransferID: transferID,
		FileName:   fileName,
		Tag:        tag,
		Dockerfile: dockerfile,
	}, nil)
}

// Upload sends r in chunks under a fresh transfer ID. Each chunk carries its
// SHA-256 and is resent on transport errors and 5xx answers.
func (c *Client) Upload(ctx context.Context, fileName string, r io.Reader, size int64) (*domain.UploadStatus, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "agentclient",
		zerowrap.FieldAction:  "upload",
		zerowrap.FieldHost:    c.host,
	})
	log := zerowrap.FromCtx(ctx)

	transferID := uuid.NewString()
	total := int((size + c.chunkSize - 1) / c.chunkSize)
	if total == 0 {
		total = 1
	}

	buf := make([]byte, c.chunkSize)
	var status *domain.UploadStatus
	for i := 0; i < total; i++ {
		n, err := io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read chunk %d: %w", i, err)
		}
		meta := dto.ChunkMetadata{
			ChunkNumber: i,
			TotalChunks: total,
			ChunkSize:   int64(n),
			TotalSize:   size,
			FileName:    fileName,
		}
		status, err = c.sendChunkWithRetry(ctx, transferID, meta, buf[:n])
		if err != nil {
			return nil, err
		}
		log.Debug().Int("chunk", i+1).Int(zerowrap.FieldCount, total).Msg("chunk uploaded")
	}

	if !status.Complete {
		return status, fmt.Errorf("%w: %d of %d chunks acknowledged", domain.ErrTransferIncomplete, status.Received, status.Total)
	}
	return status, nil
}

func (c *Client) sendChunkWithRetry(ctx context.Context, transferID string, meta dto.ChunkMetadata, chunk []byte) (*domain.UploadStatus, error) {
	sum := sha256.Sum256(chunk)
	hash := hex.EncodeToString(sum[:])
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * time.Duration(1<<(attempt-1))
			log := zerowrap.FromCtx(ctx)
			log.Warn().Err(lastErr).Int("attempt", attempt).Msg("retrying chunk")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		status, retry, err := c.sendChunk(ctx, transferID, metaJSON, hash, chunk)
		if err == nil {
			return status, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("chunk %d after %d attempts: %w", meta.ChunkNumber, c.retries+1, lastErr)
}

func (c *Client) sendChunk(ctx context.Context, transferID string, metaJSON []byte, hash string, chunk []byte) (*domain.UploadStatus, bool, error) {
	path := "/uploads/" + url.PathEscape(transferID) + "/chunks"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(chunk))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Chunk-Metadata", string(metaJSON))
	req.Header.Set("X-Chunk-Hash", hash)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, isTransient(err), fmt.Errorf("agent %s: upload: %w", c.host, err)
	}

	retry := resp.StatusCode >= 500
	var body dto.UploadResponse
	if err := c.parseResponse(resp, "upload", &body); err != nil {
		return nil, retry, err
	}
	return &domain.UploadStatus{
		TransferID: transferID,
		Received:   body.Received,
		Total:      body.Total,
		Complete:   body.Complete,
		Path:       body.Path,
	}, false, nil
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
