// Package eventstream writes deploy events as NDJSON or server-sent events.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bnema/flotilla/internal/adapters/dto"
	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

const (
	// ContentTypeNDJSON is served for line-delimited streams.
	ContentTypeNDJSON = "application/x-ndjson"
	// ContentTypeSSE is served for server-sent event streams.
	ContentTypeSSE = "text/event-stream"
)

// Format selects the framing of a Writer.
type Format int

const (
	NDJSON Format = iota
	SSE
)

// ParseFormat maps "ndjson" and "sse" to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "ndjson", "":
		return NDJSON, nil
	case "sse":
		return SSE, nil
	default:
		return 0, fmt.Errorf("%w: unknown event format %q", domain.ErrInvalidConfig, s)
	}
}

// ContentType returns the media type for the format.
func (f Format) ContentType() string {
	if f == SSE {
		return ContentTypeSSE
	}
	return ContentTypeNDJSON
}

var _ out.DeployEventSink = (*Writer)(nil)

// Writer implements out.DeployEventSink on an io.Writer. It is safe for
// concurrent use and flushes after every frame when w is an http.Flusher.
// The first write error closes the writer.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	format  Format
	closed  bool
	last    time.Time
}

// NewWriter creates a sink.
func NewWriter(w io.Writer, format Format) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher, format: format}
}

// NewNDJSON writes one JSON object per line.
func NewNDJSON(w io.Writer) *Writer { return NewWriter(w, NDJSON) }

// NewSSE writes "event: <type>" and "data: <json>" frames.
func NewSSE(w io.Writer) *Writer { return NewWriter(w, SSE) }

func (s *Writer) Emit(event domain.DeployEvent) error {
	payload, err := json.Marshal(dto.DeployEventFrom(event))
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}

	switch s.format {
	case SSE:
		_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, payload)
	default:
		_, err = fmt.Fprintf(s.w, "%s\n", payload)
	}
	if err != nil {
		s.closed = true
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	s.last = time.Now()
	if event.Type.IsTerminal() {
		s.closed = true
	}
	return nil
}

// LastActivity reports when the last frame was written.
func (s *Writer) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Closed reports whether no more frames will be written.
func (s *Writer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Heartbeat emits ping events every interval until ctx is done or the
// writer closes.
func Heartbeat(ctx context.Context, w *Writer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.Closed() {
				return
			}
			if err := w.Emit(domain.DeployEvent{Type: domain.EventPing, Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}
