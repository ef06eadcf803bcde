package deploy

import (
	"sync"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

// emitter stamps events and guarantees that nothing follows a terminal event.
// A failing sink is logged once and then ignored so the rollout itself is not
// abandoned halfway because the caller went away.
type emitter struct {
	sink   out.DeployEventSink
	log    zerowrap.Logger
	nowFn  func() time.Time
	mu     sync.Mutex
	closed bool
	broken bool
}

func (e *emitter) emit(ev domain.DeployEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.sink == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.nowFn()
	}
	if ev.Type.IsTerminal() {
		e.closed = true
	}
	if e.broken {
		return
	}
	if err := e.sink.Emit(ev); err != nil {
		e.broken = true
		e.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("event sink failed, continuing without it")
	}
}

func (e *emitter) info(msg string) {
	e.emit(domain.DeployEvent{Type: domain.EventLog, Message: msg})
}

func (e *emitter) progress(pct int, msg string) {
	e.emit(domain.DeployEvent{Type: domain.EventProgress, Message: msg, Progress: &pct})
}
