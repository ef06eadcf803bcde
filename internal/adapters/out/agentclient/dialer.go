package agentclient

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bnema/flotilla/internal/boundaries/out"
)

// Config is shared by every client a Dialer hands out.
type Config struct {
	Port      int
	APIKey    string
	Timeout   time.Duration
	ChunkSize int64
	Retries   int
}

var _ out.AgentDialer = (*Dialer)(nil)

// Dialer creates agent clients by host address. Clients share one transport.
type Dialer struct {
	config     Config
	httpClient *http.Client
}

// NewDialer creates a dialer.
func NewDialer(config Config) *Dialer {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	// Zero means the default; a negative count disables retries.
	if config.Retries == 0 {
		config.Retries = DefaultRetries
	}
	return &Dialer{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Agent returns a client for address. A bare host gets the configured port.
func (d *Dialer) Agent(address string) out.NodeAgent {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(d.config.Port))
	}
	return NewClient("http://"+address,
		WithHTTPClient(d.httpClient),
		WithAPIKey(d.config.APIKey),
		WithChunkSize(d.config.ChunkSize),
		WithRetries(d.config.Retries, 500*time.Millisecond),
	)
}
