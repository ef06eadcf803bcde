package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_InstanceAndPrivateIP(t *testing.T) {
	srv := newServer(t, map[string]string{
		"/metadata/v1/id":                                "3164494\n",
		"/metadata/v1/interfaces/private/0/ipv4/address": "10.116.0.4\n",
	})
	c := New(WithBaseURL(srv.URL + "/metadata/v1/"))

	id, err := c.InstanceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3164494", id)

	ip, err := c.PrivateIPv4(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.116.0.4", ip)
}

func TestClient_NoPrivateInterface(t *testing.T) {
	srv := newServer(t, map[string]string{"/id": "42"})
	c := New(WithBaseURL(srv.URL))

	ip, err := c.PrivateIPv4(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ip)
}

func TestClient_MissingInstanceID(t *testing.T) {
	srv := newServer(t, nil)
	c := New(WithBaseURL(srv.URL))

	_, err := c.InstanceID(context.Background())
	assert.Error(t, err)
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL)).InstanceID(context.Background())
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := New(WithBaseURL(srv.URL), WithTimeout(30*time.Millisecond)).InstanceID(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
