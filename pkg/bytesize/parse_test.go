package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512B", 512},
		{"100KB", 100 << 10},
		{"8MB", 8 << 20},
		{"8mb", 8 << 20},
		{" 512 Mb ", 512 << 20},
		{"1.5GB", 3 << 29},
		{"1TB", 1 << 40},
		{"0B", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{"", "   ", "512", "MB", "abcMB", "-1MB", "9999999TB"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "512B", Format(512))
	assert.Equal(t, "1KB", Format(1<<10))
	assert.Equal(t, "8MB", Format(8<<20))
	assert.Equal(t, "1.5GB", Format(3<<29))
	assert.Equal(t, "2TB", Format(2<<40))
}
