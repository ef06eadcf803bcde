// Package bytesize parses and formats binary byte sizes such as "8MB".
package bytesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type unit struct {
	suffix string
	size   int64
}

// units are ordered largest first so "MB" is matched before "B".
var units = []unit{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// Parse parses sizes like "512KB", "8MB" or "1.5GB". Units are 1024-based and
// case-insensitive; a unit is required.
func Parse(s string) (int64, error) {
	in := strings.ToUpper(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("empty size")
	}

	for _, u := range units {
		num, ok := strings.CutSuffix(in, u.suffix)
		if !ok {
			continue
		}
		num = strings.TrimSpace(num)
		if num == "" {
			return 0, fmt.Errorf("size %q has no value", s)
		}
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("size %q: %w", s, err)
		}
		if v < 0 || math.IsNaN(v) {
			return 0, fmt.Errorf("size %q is negative", s)
		}
		total := v * float64(u.size)
		if total > math.MaxInt64 {
			return 0, fmt.Errorf("size %q overflows", s)
		}
		return int64(total), nil
	}
	return 0, fmt.Errorf("size %q has no unit (B, KB, MB, GB, TB)", s)
}

// Format renders n in the largest unit it fills, rounded to one decimal.
func Format(n int64) string {
	for _, u := range units[:len(units)-1] {
		if n >= u.size {
			v := math.Round(float64(n)/float64(u.size)*10) / 10
			return strconv.FormatFloat(v, 'f', -1, 64) + u.suffix
		}
	}
	return strconv.FormatInt(n, 10) + "B"
}
