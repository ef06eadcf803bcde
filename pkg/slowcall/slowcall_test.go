package slowcall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowReport struct {
	elapsed   time.Duration
	threshold time.Duration
	err       error
}

func stub(t *testing.T, steps ...time.Duration) *[]slowReport {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	i := 0
	now = func() time.Time {
		cur := base
		if i < len(steps) {
			cur = base.Add(steps[i])
		}
		i++
		return cur
	}

	var reports []slowReport
	report = func(_ context.Context, elapsed, threshold time.Duration, err error) {
		reports = append(reports, slowReport{elapsed, threshold, err})
	}
	t.Cleanup(func() {
		now = time.Now
		report = logSlow
	})
	return &reports
}

func TestTrack_ReportsSlowCall(t *testing.T) {
	reports := stub(t, 0, 2*time.Second)

	err := Track(func(context.Context) error { return nil })(context.Background())

	require.NoError(t, err)
	require.Len(t, *reports, 1)
	assert.Equal(t, 2*time.Second, (*reports)[0].elapsed)
	assert.Equal(t, DefaultThreshold, (*reports)[0].threshold)
}

func TestTrack_QuietWhenFast(t *testing.T) {
	reports := stub(t, 0, 10*time.Millisecond)

	err := Track(func(context.Context) error { return nil })(context.Background())

	require.NoError(t, err)
	assert.Empty(t, *reports)
}

func TestWithThreshold_UsesCustomThresholdAndKeepsError(t *testing.T) {
	reports := stub(t, 0, 300*time.Millisecond)
	boom := errors.New("boom")

	wrapped := WithThreshold(100 * time.Millisecond)(func(context.Context) error { return boom })
	err := wrapped(context.Background())

	assert.ErrorIs(t, err, boom)
	require.Len(t, *reports, 1)
	assert.Equal(t, 100*time.Millisecond, (*reports)[0].threshold)
	assert.ErrorIs(t, (*reports)[0].err, boom)
}

func TestLogSlowDoesNotPanicWithoutLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		logSlow(context.Background(), time.Second, time.Millisecond, nil)
	})
}
