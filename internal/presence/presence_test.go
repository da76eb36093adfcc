package presence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SphrGhfri/tabchat/internal/domain"
	"github.com/SphrGhfri/tabchat/internal/storage"
)

// movableClock lets a test walk time forward.
type movableClock struct {
	at time.Time
}

func (c *movableClock) now() time.Time          { return c.at }
func (c *movableClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTracker(kv storage.KV, clock *movableClock) *Tracker {
	return NewTracker(kv, "chat", Config{Now: clock.now})
}

func TestTouchAndActiveCount(t *testing.T) {
	clock := &movableClock{at: time.UnixMilli(1_000_000)}
	tracker := newTracker(storage.NewMemoryKV(), clock)

	require.NoError(t, tracker.Touch(domain.Identity{ID: "u1", DisplayName: "Ann"}))
	require.NoError(t, tracker.Touch(domain.Identity{ID: "u2", DisplayName: "Bob"}))
	assert.Equal(t, 2, tracker.ActiveCount())

	// Past the active window the entries stop counting but still exist.
	clock.advance(3 * time.Minute)
	assert.Equal(t, 0, tracker.ActiveCount())
	assert.Len(t, tracker.Entries(), 2)
}

func TestExpiredEntriesPurged(t *testing.T) {
	clock := &movableClock{at: time.UnixMilli(1_000_000)}
	kv := storage.NewMemoryKV()
	tracker := newTracker(kv, clock)

	require.NoError(t, tracker.Touch(domain.Identity{ID: "u1", DisplayName: "Ann"}))

	clock.advance(11 * time.Minute)
	require.NoError(t, tracker.Touch(domain.Identity{ID: "u2", DisplayName: "Bob"}))

	entries := tracker.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "u2", entries[0].UserID)

	// The purge also reached the persisted snapshot.
	fresh := newTracker(kv, clock)
	require.NoError(t, fresh.Refresh())
	require.Len(t, fresh.Entries(), 1)
	assert.Equal(t, "u2", fresh.Entries()[0].UserID)
}

func TestCapEvictsLeastRecentlySeen(t *testing.T) {
	clock := &movableClock{at: time.UnixMilli(1_000_000)}
	tracker := NewTracker(storage.NewMemoryKV(), "chat", Config{
		MaxEntries: 3,
		Now:        clock.now,
	})

	for i := 0; i < 4; i++ {
		require.NoError(t, tracker.Touch(domain.Identity{
			ID:          fmt.Sprintf("u%d", i),
			DisplayName: fmt.Sprintf("User%d", i),
		}))
		clock.advance(time.Second)
	}

	entries := tracker.Entries()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.NotEqual(t, "u0", e.UserID)
	}
}

func TestCrossInstanceMergeKeepsNewerSighting(t *testing.T) {
	clock := &movableClock{at: time.UnixMilli(1_000_000)}
	kv := storage.NewMemoryKV()

	a := newTracker(kv, clock)
	b := newTracker(kv, clock)

	require.NoError(t, a.Touch(domain.Identity{ID: "ua", DisplayName: "Ann"}))
	clock.advance(10 * time.Second)
	require.NoError(t, b.Touch(domain.Identity{ID: "ub", DisplayName: "Bob"}))

	// A refreshes and sees both entries.
	require.NoError(t, a.Refresh())
	assert.Equal(t, 2, a.ActiveCount())

	// B's own entry is not downgraded by A's older snapshot.
	require.NoError(t, b.Refresh())
	entries := b.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "ub", entries[0].UserID)
}

func TestRemove(t *testing.T) {
	clock := &movableClock{at: time.UnixMilli(1_000_000)}
	kv := storage.NewMemoryKV()
	tracker := newTracker(kv, clock)

	require.NoError(t, tracker.Touch(domain.Identity{ID: "u1", DisplayName: "Ann"}))
	require.NoError(t, tracker.Remove("u1"))
	assert.Equal(t, 0, tracker.ActiveCount())

	fresh := newTracker(kv, clock)
	require.NoError(t, fresh.Refresh())
	assert.Empty(t, fresh.Entries())
}
