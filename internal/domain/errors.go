package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports input rejected before it reached the log.
// It is always recoverable; callers surface the reason to the user.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	// ErrRateLimited is returned when a sender exceeds the send budget
	// inside the trailing rate-limit window.
	ErrRateLimited = errors.New("rate limited: too many messages, slow down")

	// ErrChatDisabled is returned when the persisted kill switch is off.
	ErrChatDisabled = errors.New("chat is disabled")

	// ErrDuplicateMessage is returned when the log rejects a send as a
	// repeat of a just-sent identical message.
	ErrDuplicateMessage = errors.New("duplicate message, not sent")
)
