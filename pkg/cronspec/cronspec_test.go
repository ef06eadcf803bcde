package cronspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	for _, ok := range []string{"0 2 * * *", "*/15 * * * *", "30 4 1 * 0", " 0 3 * * 1-5 "} {
		assert.NoError(t, Validate(ok), ok)
	}
	for _, bad := range []string{"", "@daily", "0 0 2 * * *", "61 * * * *", "0 2 * *", "every day"} {
		assert.Error(t, Validate(bad), bad)
	}
}

func TestNext(t *testing.T) {
	now := time.Date(2026, 2, 7, 12, 34, 20, 0, time.UTC)

	next, err := Next("0 2 * * *", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 8, 2, 0, 0, 0, time.UTC), next)

	next, err = Next("0 * * * *", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 7, 13, 0, 0, 0, time.UTC), next)
}
