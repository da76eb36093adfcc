package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stubHistory counts messages from recorded (sender, timestamp) pairs.
type stubHistory struct {
	sends map[string][]int64
}

func (s stubHistory) CountFrom(senderID string, since int64) int {
	count := 0
	for _, ts := range s.sends[senderID] {
		if ts >= since {
			count++
		}
	}
	return count
}

func TestAllowUnderBudget(t *testing.T) {
	limiter := NewLimiter(3, 10*time.Second)
	now := time.UnixMilli(100_000)

	history := stubHistory{sends: map[string][]int64{
		"u1": {91_000, 95_000},
	}}
	assert.True(t, limiter.Allow(history, "u1", now))
}

func TestDenyAtBudget(t *testing.T) {
	limiter := NewLimiter(3, 10*time.Second)
	now := time.UnixMilli(100_000)

	// Three sends within the trailing 10s deny the fourth.
	history := stubHistory{sends: map[string][]int64{
		"u1": {91_000, 95_000, 99_000},
	}}
	assert.False(t, limiter.Allow(history, "u1", now))

	// A different sender is unaffected.
	assert.True(t, limiter.Allow(history, "u2", now))
}

func TestWindowSlides(t *testing.T) {
	limiter := NewLimiter(3, 10*time.Second)

	history := stubHistory{sends: map[string][]int64{
		"u1": {91_000, 95_000, 99_000},
	}}

	assert.False(t, limiter.Allow(history, "u1", time.UnixMilli(100_000)))
	// Once the first send ages out of the window, sending is allowed again.
	assert.True(t, limiter.Allow(history, "u1", time.UnixMilli(102_000)))
}

func TestDefaults(t *testing.T) {
	limiter := NewLimiter(0, 0)
	assert.Equal(t, DefaultMaxMessages, limiter.MaxMessages)
	assert.Equal(t, DefaultWindow, limiter.Window)
}
