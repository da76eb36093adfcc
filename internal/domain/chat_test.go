package domain

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBody(t *testing.T) {
	body, err := ValidateBody("  hello world  ")
	require.NoError(t, err)
	assert.Equal(t, "hello world", body)

	_, err = ValidateBody("   ")
	assert.True(t, IsValidation(err))

	_, err = ValidateBody(strings.Repeat("x", MaxBodyLen+1))
	assert.True(t, IsValidation(err))

	body, err = ValidateBody(strings.Repeat("x", MaxBodyLen))
	require.NoError(t, err)
	assert.Len(t, body, MaxBodyLen)
}

func TestValidateBodyCountsCharactersNotBytes(t *testing.T) {
	// 100 CJK characters are 300 bytes but well under the 200-char bound.
	body, err := ValidateBody(strings.Repeat("好", 100))
	require.NoError(t, err)
	assert.Equal(t, 100, utf8.RuneCountInString(body))

	_, err = ValidateBody(strings.Repeat("好", MaxBodyLen+1))
	assert.True(t, IsValidation(err))
}

func TestValidateDisplayName(t *testing.T) {
	_, err := ValidateDisplayName("ab")
	assert.True(t, IsValidation(err))

	name, err := ValidateDisplayName("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", name)

	name, err = ValidateDisplayName("  spaced  ")
	require.NoError(t, err)
	assert.Equal(t, "spaced", name)

	_, err = ValidateDisplayName(strings.Repeat("n", MaxNameLen+1))
	assert.True(t, IsValidation(err))
}

func TestColorForIsStable(t *testing.T) {
	first := ColorFor("user_123abc")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ColorFor("user_123abc"))
	}
	assert.True(t, strings.HasPrefix(first, "#"))
}

func TestNewSystemMessage(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	msg := NewSystemMessage("id1", "Chat cleared", at)

	assert.Equal(t, SystemSenderID, msg.SenderID)
	assert.Equal(t, SystemSenderName, msg.SenderName)
	assert.Equal(t, SystemColor, msg.Color)
	assert.True(t, msg.System)
	assert.Equal(t, at.UnixMilli(), msg.Timestamp)
	assert.True(t, msg.Valid())
}

func TestMessageValid(t *testing.T) {
	msg := ChatMessage{ID: "a", SenderID: "b", Body: "c", Timestamp: 1}
	assert.True(t, msg.Valid())

	assert.False(t, ChatMessage{SenderID: "b", Body: "c", Timestamp: 1}.Valid())
	assert.False(t, ChatMessage{ID: "a", Body: "c", Timestamp: 1}.Valid())
	assert.False(t, ChatMessage{ID: "a", SenderID: "b", Timestamp: 1}.Valid())
	assert.False(t, ChatMessage{ID: "a", SenderID: "b", Body: "c"}.Valid())
}
