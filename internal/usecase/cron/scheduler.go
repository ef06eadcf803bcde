// Package cron runs the remediation jobs of a long-lived scheduler process.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/pkg/cronspec"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on 5-field cron expressions. A job never overlaps itself.
type Scheduler struct {
	entries map[string]*entry
	mu      sync.RWMutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	log     zerowrap.Logger
	nowFn   func() time.Time
	tick    time.Duration
}

type entry struct {
	id       string
	name     string
	schedule string
	job      Job
	lastRun  time.Time
	nextRun  time.Time
	running  atomic.Bool
}

// NewScheduler creates a scheduler instance.
func NewScheduler(log zerowrap.Logger) *Scheduler {
	return &Scheduler{
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
		log:     log,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
		tick: 30 * time.Second,
	}
}

// Add registers a job under a cron expression.
func (s *Scheduler) Add(id, name, schedule string, job Job) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if job == nil {
		return fmt.Errorf("job is required")
	}

	nextRun, err := cronspec.Next(schedule, s.nowFn())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSchedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return fmt.Errorf("schedule %q already exists", id)
	}

	s.entries[id] = &entry{
		id:       id,
		name:     name,
		schedule: schedule,
		job:      job,
		nextRun:  nextRun,
	}
	s.log.Debug().Str("schedule_id", id).Str("schedule", schedule).Time("next_run", nextRun).Msg("job scheduled")

	return nil
}

// Remove unregisters a scheduled job. A running job cannot be removed.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.running.Load() {
		return fmt.Errorf("schedule %q: %w", id, domain.ErrJobAlreadyActive)
	}
	delete(s.entries, id)
	return nil
}

// Start begins the scheduler loop. It does nothing after Stop or when ctx is
// already done.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx.Err() != nil || s.stopped() {
		return
	}
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	ticker := time.NewTicker(s.tick)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Stop stops the scheduler loop and waits for running jobs.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()
}

// List returns current scheduler entries ordered by ID.
func (s *Scheduler) List() []domain.CronEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.CronEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, domain.CronEntry{
			ID:       e.id,
			Name:     e.name,
			Schedule: e.schedule,
			LastRun:  e.lastRun,
			NextRun:  e.nextRun,
			Running:  e.running.Load(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	return entries
}

// RunNow triggers a registered job immediately.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	e := s.getEntry(id)
	if e == nil {
		return fmt.Errorf("schedule %q not found", id)
	}

	return s.executeEntry(ctx, e)
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.nowFn()
	for _, e := range s.snapshotEntries() {
		s.mu.RLock()
		due := !now.Before(e.nextRun)
		s.mu.RUnlock()
		if !due {
			continue
		}

		e := e
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.executeEntry(ctx, e); err != nil {
				s.log.Warn().Err(err).Str("schedule_id", e.id).Msg("scheduled job failed")
			}
		}()
	}
}

func (s *Scheduler) executeEntry(ctx context.Context, e *entry) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("schedule %q: %w", e.id, domain.ErrJobAlreadyActive)
	}
	defer e.running.Store(false)

	started := s.nowFn()
	err := runJob(ctx, e)

	// The next activation counts from when the job finished so a long run
	// does not fire again immediately.
	nextRun, nextErr := cronspec.Next(e.schedule, s.nowFn())
	if nextErr != nil {
		return nextErr
	}

	s.mu.Lock()
	e.lastRun = started
	e.nextRun = nextRun
	s.mu.Unlock()

	return err
}

func runJob(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule %q panicked: %v", e.id, r)
		}
	}()
	return e.job(ctx)
}

func (s *Scheduler) getEntry(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

func (s *Scheduler) snapshotEntries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	return entries
}
