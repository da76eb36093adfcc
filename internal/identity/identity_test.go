package identity

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SphrGhfri/tabchat/internal/domain"
	"github.com/SphrGhfri/tabchat/internal/storage"
)

func TestIDIsStable(t *testing.T) {
	kv := storage.NewMemoryKV()
	store := NewStore(kv, "chat")

	id, err := store.GetOrCreateID()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^user_[0-9a-f]{12}$`), id)

	again, err := store.GetOrCreateID()
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// A fresh store over the same KV resolves the same id.
	other := NewStore(kv, "chat")
	same, err := other.GetOrCreateID()
	require.NoError(t, err)
	assert.Equal(t, id, same)
}

func TestGeneratedDisplayName(t *testing.T) {
	store := NewStore(storage.NewMemoryKV(), "chat")

	name, err := store.GetOrCreateDisplayName()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(
		`^(Cool|Happy|Smart|Fast|Brave|Wise|Funny|Kind)(Player|Gamer|Explorer|Hero|Master|Champion|Wizard|Ninja)\d{1,3}$`,
	), name)

	again, err := store.GetOrCreateDisplayName()
	require.NoError(t, err)
	assert.Equal(t, name, again)
}

func TestSetDisplayNameValidation(t *testing.T) {
	store := NewStore(storage.NewMemoryKV(), "chat")

	_, err := store.SetDisplayName("ab")
	assert.True(t, domain.IsValidation(err))

	name, err := store.SetDisplayName("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", name)

	persisted, err := store.GetOrCreateDisplayName()
	require.NoError(t, err)
	assert.Equal(t, "abc", persisted)
}

func TestLoad(t *testing.T) {
	kv := storage.NewMemoryKV()
	store := NewStore(kv, "chat")

	id, err := store.Load()
	require.NoError(t, err)
	assert.NotEmpty(t, id.ID)
	assert.NotEmpty(t, id.DisplayName)

	again, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, id, again)
}
