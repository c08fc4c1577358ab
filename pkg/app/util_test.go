package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateNextDelay(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var tests = []struct {
		name     string
		now      time.Time
		interval time.Duration
		expected time.Duration
	}{
		{"on the mark", base, 20 * time.Second, 20 * time.Second},
		{"just after", base.Add(time.Second), 20 * time.Second, 19 * time.Second},
		{"just before", base.Add(39 * time.Second), 20 * time.Second, time.Second},
		{"minute", base.Add(90 * time.Second), time.Minute, 30 * time.Second},
		{"default", base.Add(5 * time.Second), 0, 15 * time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, calculateNextDelay(tt.now, tt.interval))
		})
	}
}
