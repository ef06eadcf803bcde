// Package cronspec parses standard 5-field cron expressions.
package cronspec

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse parses "minute hour day-of-month month day-of-week".
// Descriptors such as @daily and a seconds field are rejected.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if len(strings.Fields(expr)) != 5 {
		return nil, fmt.Errorf("cron expression %q must have 5 fields", expr)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Validate reports whether expr is a valid 5-field expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Next returns the first activation strictly after t.
func Next(expr string, t time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}
