package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// SystemSenderID marks messages generated by the synchronizer itself
// (connection notices, rename announcements, clear confirmations).
const (
	SystemSenderID   = "system"
	SystemSenderName = "System"
	SystemColor      = "#ff9900"
)

const (
	MaxBodyLen = 200
	MinNameLen = 3
	MaxNameLen = 20
)

// Identity is the stable per-store user identity. ID never changes after
// first creation; DisplayName is mutable.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// ChatMessage is a single chat entry. Messages are append-only: once
// accepted into a log they are never mutated, only evicted.
type ChatMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Body       string `json:"body"`
	// Timestamp is wall-clock milliseconds since the Unix epoch.
	Timestamp int64  `json:"timestamp"`
	Color     string `json:"color,omitempty"`
	System    bool   `json:"system,omitempty"`
}

// Time returns the message timestamp as a time.Time.
func (m ChatMessage) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// PresenceEntry records when a user was last seen. An entry counts as
// active while now-LastSeenAt stays inside the active window.
type PresenceEntry struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	LastSeenAt  int64  `json:"last_seen_at"`
	Color       string `json:"color,omitempty"`
}

// NewSystemMessage builds a system notice with the given id and time.
func NewSystemMessage(id, body string, at time.Time) ChatMessage {
	return ChatMessage{
		ID:         id,
		SenderID:   SystemSenderID,
		SenderName: SystemSenderName,
		Body:       body,
		Timestamp:  at.UnixMilli(),
		Color:      SystemColor,
		System:     true,
	}
}

// ValidateBody trims the body and checks the length bounds.
func ValidateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", &ValidationError{Field: "body", Reason: "message is empty"}
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return "", &ValidationError{Field: "body", Reason: "message exceeds 200 characters"}
	}
	return body, nil
}

// ValidateDisplayName trims the name and checks the length bounds.
func ValidateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < MinNameLen || n > MaxNameLen {
		return "", &ValidationError{Field: "display_name", Reason: "name must be 3-20 characters"}
	}
	return name, nil
}

// Valid reports whether an inbound message carries enough to be accepted:
// an id, a sender, a body and a timestamp.
func (m ChatMessage) Valid() bool {
	return m.ID != "" && m.SenderID != "" && m.Body != "" && m.Timestamp > 0
}
