package training

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCompletion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		started time.Time
		current int
		total   int
		want    time.Time
	}{
		{"no progress yet", now.Add(-time.Minute), 0, 1000, now.Add(time.Hour)},
		{"total unknown", now.Add(-time.Minute), 10, 0, now.Add(time.Hour)},
		{"no elapsed time", now, 10, 1000, now.Add(time.Hour)},
		{"started in the future", now.Add(time.Minute), 10, 1000, now.Add(time.Hour)},
		// 100 steps in 100s -> 1 step/s, 900 left.
		{"steady rate", now.Add(-100 * time.Second), 100, 1000, now.Add(900 * time.Second)},
		// 500 steps in 1000s -> 0.5 step/s, 500 left.
		{"half way", now.Add(-1000 * time.Second), 500, 1000, now.Add(1000 * time.Second)},
		{"finished", now.Add(-time.Minute), 1000, 1000, now},
		{"past the end", now.Add(-time.Minute), 1200, 1000, now},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := EstimateCompletion(now, tc.started, tc.current, tc.total)
			assert.WithinDuration(t, tc.want, got, time.Millisecond)
		})
	}
}
