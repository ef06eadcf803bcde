package domain

import "time"

// CronEntry represents a registered cron job.
type CronEntry struct {
	ID       string
	Name     string
	Schedule string
	LastRun  time.Time
	NextRun  time.Time
	Running  bool
}
