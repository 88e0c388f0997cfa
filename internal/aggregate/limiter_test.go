package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clockAt(hour, minute int) time.Time {
	return time.Date(2024, 3, 15, hour, minute, 0, 0, time.UTC)
}

func TestRunLimit(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		collected int
		now       time.Time
		want      int
	}{
		{
			// Morning boost dominates: 40% of the full budget.
			name:      "fresh day morning backlog",
			limit:     100,
			collected: 0,
			now:       clockAt(8, 0),
			want:      40,
		},
		{
			// Ahead of pace late in the day: only the floors apply.
			name:      "nearly exhausted evening",
			limit:     100,
			collected: 90,
			now:       clockAt(20, 0),
			want:      2,
		},
		{
			name:      "cap reached",
			limit:     100,
			collected: 100,
			now:       clockAt(12, 0),
			want:      0,
		},
		{
			name:      "cap exceeded",
			limit:     50,
			collected: 60,
			now:       clockAt(12, 0),
			want:      0,
		},
		{
			name:      "zero cap",
			limit:     0,
			collected: 0,
			now:       clockAt(12, 0),
			want:      0,
		},
		{
			// Small feed at midnight: target is 0, floor of 1 applies.
			name:      "tiny feed midnight",
			limit:     4,
			collected: 0,
			now:       clockAt(0, 0),
			want:      1,
		},
		{
			// Behind pace at noon: the gap to the pro-rata target wins.
			name:      "behind pace afternoon",
			limit:     96,
			collected: 10,
			now:       clockAt(12, 0),
			want:      38,
		},
		{
			// One left: every component clamps to the remaining budget.
			name:      "single article remaining",
			limit:     100,
			collected: 99,
			now:       clockAt(6, 0),
			want:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RunLimit(tt.limit, tt.collected, tt.now))
		})
	}
}

// The returned limit may never exceed what is left of the daily budget,
// regardless of clock position.
func TestRunLimitNeverExceedsRemaining(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		for _, collected := range []int{0, 1, 10, 47, 80, 99, 100} {
			got := RunLimit(100, collected, clockAt(hour, 30))
			remaining := 100 - collected
			if remaining < 0 {
				remaining = 0
			}
			assert.LessOrEqual(t, got, remaining, "hour=%d collected=%d", hour, collected)
			assert.GreaterOrEqual(t, got, 0, "hour=%d collected=%d", hour, collected)
			if remaining > 0 {
				assert.Greater(t, got, 0, "a feed with budget left must make progress (hour=%d collected=%d)", hour, collected)
			}
		}
	}
}

func TestRunLimitUsesUTC(t *testing.T) {
	// 20:00 in UTC+12 is 08:00 UTC, so the morning boost applies.
	local := time.Date(2024, 3, 15, 20, 0, 0, 0, time.FixedZone("UTC+12", 12*3600))
	assert.Equal(t, 40, RunLimit(100, 0, local))
}
