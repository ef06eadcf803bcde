// Package slowcall logs calls that take longer than a threshold.
//
// There are two entry points: Track wraps a function with the default
// threshold, WithThreshold builds a wrapper for a custom one.
package slowcall

import (
	"context"
	"time"

	"github.com/bnema/zerowrap"
)

// DefaultThreshold is the duration above which Track reports a call.
const DefaultThreshold = time.Second

// Func is a tracked operation. The logger and fields in ctx identify it.
type Func func(ctx context.Context) error

// Wrapper decorates a Func.
type Wrapper func(Func) Func

// now and report are replaced in tests.
var (
	now    = time.Now
	report = logSlow
)

// Track wraps fn so that runs slower than DefaultThreshold are logged.
func Track(fn Func) Func {
	return wrap(DefaultThreshold, fn)
}

// WithThreshold returns a wrapper that logs runs slower than d.
func WithThreshold(d time.Duration) Wrapper {
	return func(fn Func) Func {
		return wrap(d, fn)
	}
}

func wrap(threshold time.Duration, fn Func) Func {
	return func(ctx context.Context) error {
		start := now()
		err := fn(ctx)
		elapsed := now().Sub(start)
		if elapsed > threshold {
			report(ctx, elapsed, threshold, err)
		}
		return err
	}
}

func logSlow(ctx context.Context, elapsed, threshold time.Duration, err error) {
	log := zerowrap.FromCtx(ctx)
	log.Warn().
		Dur(zerowrap.FieldDuration, elapsed).
		Dur("threshold", threshold).
		Bool("failed", err != nil).
		Msg("slow call")
}
