package ratelimit

import "time"

const (
	DefaultMaxMessages = 3
	DefaultWindow      = 10 * time.Second
)

// History is the slice of the message log the limiter consults.
type History interface {
	// CountFrom counts non-system messages from senderID with a
	// timestamp at or after since (milliseconds).
	CountFrom(senderID string, since int64) int
}

// Limiter bounds outgoing message frequency per sender. It keeps no state
// of its own; the decision is a pure function of the log and now.
type Limiter struct {
	MaxMessages int
	Window      time.Duration
}

func NewLimiter(maxMessages int, window time.Duration) Limiter {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return Limiter{MaxMessages: maxMessages, Window: window}
}

// Allow permits a send when fewer than MaxMessages messages from senderID
// exist within the trailing window ending at now.
func (l Limiter) Allow(history History, senderID string, now time.Time) bool {
	since := now.Add(-l.Window).UnixMilli()
	return history.CountFrom(senderID, since) < l.MaxMessages
}
