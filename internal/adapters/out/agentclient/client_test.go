package agentclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/flotilla/internal/adapters/dto"
	"github.com/bnema/flotilla/internal/domain"
)

type recorded struct {
	method  string
	path    string
	rawPath string
	apiKey  string
	body    []byte
	header  http.Header
}

type fakeAgent struct {
	mu       sync.Mutex
	requests []recorded
	handler  func(w http.ResponseWriter, r *http.Request, body []byte)
}

func (f *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		method:  r.Method,
		path:    r.URL.Path,
		rawPath: r.URL.EscapedPath(),
		apiKey:  r.Header.Get(APIKeyHeader),
		body:    body,
		header:  r.Header.Clone(),
	})
	f.mu.Unlock()
	f.handler(w, r, body)
}

func newAgent(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body []byte)) (*fakeAgent, *Client) {
	t.Helper()
	fa := &fakeAgent{handler: handler}
	srv := httptest.NewServer(fa)
	t.Cleanup(srv.Close)
	return fa, NewClient(srv.URL, WithAPIKey("s3cret"), WithRetries(2, time.Millisecond))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_HealthAndList(t *testing.T) {
	fa, c := newAgent(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		switch r.URL.Path {
		case "/health":
			writeJSON(w, 200, dto.HealthResponse{Status: "ok", RuntimeReachable: true, Containers: []string{"acme_prod_api"}, Version: "1.2.0"})
		case "/containers":
			writeJSON(w, 200, []dto.Container{{Name: "acme_prod_api", Status: "Up 2 hours", Image: "ghcr.io/acme/api:2"}})
		}
	})
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", h.Version)
	assert.True(t, h.RuntimeReachable)

	list, err := c.ListContainers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ContainerSummary{{Name: "acme_prod_api", Status: "Up 2 hours", Image: "ghcr.io/acme/api:2"}}, list)

	for _, r := range fa.requests {
		assert.Equal(t, "s3cret", r.apiKey)
	}
}

func TestClient_RunSendsWireBody(t *testing.T) {
	fa, c := newAgent(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		writeJSON(w, 201, dto.StatusResponse{Status: "running"})
	})

	err := c.RunContainer(context.Background(), domain.RunSpec{
		Name:          "acme_prod_api",
		Image:         "ghcr.io/acme/api:2",
		Ports:         []domain.PortMapping{{HostPort: 8327, ContainerPort: 8000}},
		Env:           map[string]string{"PORT": "8000"},
		Network:       "acme_prod_net",
		RestartPolicy: domain.RestartUnlessStopped,
	})
	require.NoError(t, err)

	require.Len(t, fa.requests, 1)
	assert.Equal(t, "/containers/run", fa.requests[0].path)
	assert.JSONEq(t, `{
		"name": "acme_prod_api",
		"image": "ghcr.io/acme/api:2",
		"ports": [{"host_port": 8327, "container_port": 8000}],
		"env_vars": {"PORT": "8000"},
		"network": "acme_prod_net",
		"restart_policy": "unless-stopped"
	}`, string(fa.requests[0].body))
}

func TestClient_PullEscapesReference(t *testing.T) {
	fa, c := newAgent(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		writeJSON(w, 200, dto.StatusResponse{Status: "pulled"})
	})

	require.NoError(t, c.PullImage(context.Background(), "ghcr.io/acme/api:2"))
	assert.Equal(t, "/images/ghcr.io%2Facme%2Fapi:2/pull", fa.requests[0].rawPath)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   dto.ErrorResponse
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", 401, dto.ErrorResponse{Error: "unauthorized"}, func(t *testing.T, err error) {
			var authErr *domain.AgentAuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, "127.0.0.1", authErr.Host)
		}},
		{"conflict", 409, dto.ErrorResponse{Error: "container name already in use", Code: dto.CodeNameConflict}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, domain.ErrContainerNameConflict)
		}},
		{"not found", 404, dto.ErrorResponse{Error: "No such container: ghost", Code: dto.CodeContainerNotFound}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, domain.ErrContainerNotFound)
			assert.Contains(t, err.Error(), "No such container: ghost")
		}},
		{"runtime", 502, dto.ErrorResponse{Error: "port is already allocated", Code: dto.CodeRuntime}, func(t *testing.T, err error) {
			var opErr *domain.AgentOperationError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, "port is already allocated", opErr.Output)
		}},
		{"internal", 500, dto.ErrorResponse{Error: "disk full", Code: dto.CodeInternal}, func(t *testing.T, err error) {
			assert.ErrorContains(t, err, "disk full")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newAgent(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
				writeJSON(w, tt.status, tt.body)
			})
			tt.check(t, c.StopContainer(context.Background(), "acme_prod_api"))
		})
	}
}

func TestClient_UploadChunks(t *testing.T) {
	var (
		mu     sync.Mutex
		chunks = map[int][]byte{}
	)
	fa, c := newAgent(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		var meta dto.ChunkMetadata
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("X-Chunk-Metadata")), &meta))
		sum := sha256.Sum256(body)
		if hex.EncodeToString(sum[:]) != r.Header.Get("X-Chunk-Hash") {
			writeJSON(w, 400, dto.ErrorResponse{Error: "hash", Code: dto.CodeChunkHashMismatch})
			return
		}
		mu.Lock()
		chunks[meta.ChunkNumber] = body
		n := len(chunks)
		mu.Unlock()
		writeJSON(w, 200, dto.UploadResponse{Received: n, Total: meta.TotalChunks, Complete: n == meta.TotalChunks, Path: "/uploads/x/" + meta.FileName})
	})
	c.chunkSize = 4

	payload := []byte("0123456789")
	status, err := c.Upload(context.Background(), "context.tar.gz", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.Equal(t, 3, status.Total)
	assert.NotEmpty(t, status.TransferID)

	require.Len(t, fa.requests, 3)
	transfer := strings.Split(fa.requests[0].path, "/")[2]
	for i, r := range fa.requests {
		assert.Equal(t, "/uploads/"+transfer+"/chunks", r.path)
		var meta dto.ChunkMetadata
		require.NoError(t, json.Unmarshal([]byte(r.header.Get("X-Chunk-Metadata")), &meta))
		assert.Equal(t, dto.ChunkMetadata{ChunkNumber: i, TotalChunks: 3, ChunkSize: int64(len(r.body)), TotalSize: 10, FileName: "context.tar.gz"}, meta)
	}
	assert.Equal(t, "0123", string(chunks[0]))
	assert.Equal(t, "89", string(chunks[2]))
}

func TestClient_UploadRetriesServerErrors(t *testing.T) {
	calls := 0
	_, c := newAgent(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		calls++
		if calls < 3 {
			writeJSON(w, 503, dto.ErrorResponse{Error: "busy"})
			return
		}
		writeJSON(w, 200, dto.UploadResponse{Received: 1, Total: 1, Complete: true})
	})

	status, err := c.Upload(context.Background(), "ctx.tar", strings.NewReader("abc"), 3)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.Equal(t, 3, calls)
}

func TestClient_UploadDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	_, c := newAgent(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		calls++
		writeJSON(w, 400, dto.ErrorResponse{Error: "bad chunk", Code: dto.CodeChunkHashMismatch})
	})

	_, err := c.Upload(context.Background(), "ctx.tar", strings.NewReader("abc"), 3)
	assert.ErrorIs(t, err, domain.ErrChunkHashMismatch)
	assert.Equal(t, 1, calls)
}

func TestClient_UploadIncomplete(t *testing.T) {
	_, c := newAgent(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		writeJSON(w, 200, dto.UploadResponse{Received: 0, Total: 1})
	})

	_, err := c.Upload(context.Background(), "ctx.tar", strings.NewReader("abc"), 3)
	assert.ErrorIs(t, err, domain.ErrTransferIncomplete)
}

func TestDialer_AddsDefaultPort(t *testing.T) {
	d := NewDialer(Config{APIKey: "k"})
	c, ok := d.Agent("10.116.0.4").(*Client)
	require.True(t, ok)
	assert.Equal(t, "http://10.116.0.4:7070", c.baseURL)
	assert.Equal(t, DefaultRetries, c.retries)

	c = d.Agent("10.116.0.4:9000").(*Client)
	assert.Equal(t, "http://10.116.0.4:9000", c.baseURL)
	assert.Equal(t, "10.116.0.4", c.host)
}
