package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SphrGhfri/tabchat/internal/domain"
	"github.com/SphrGhfri/tabchat/internal/storage"
)

const (
	DefaultActiveWindow = 2 * time.Minute
	DefaultExpiryWindow = 10 * time.Minute
	DefaultMaxEntries   = 50
)

// Config tunes one tracker. Zero values select the defaults above.
type Config struct {
	ActiveWindow time.Duration
	ExpiryWindow time.Duration
	MaxEntries   int
	Now          func() time.Time
}

func (c *Config) fill() {
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = DefaultActiveWindow
	}
	if c.ExpiryWindow <= 0 {
		c.ExpiryWindow = DefaultExpiryWindow
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Tracker maintains the shared liveness map. The persisted map is advisory:
// concurrent instances may race on it and lost updates are tolerated.
type Tracker struct {
	kv  storage.KV
	key string
	cfg Config

	mu      sync.Mutex
	entries map[string]domain.PresenceEntry
}

func NewTracker(kv storage.KV, keyPrefix string, cfg Config) *Tracker {
	cfg.fill()
	return &Tracker{
		kv:      kv,
		key:     keyPrefix + ":presence",
		cfg:     cfg,
		entries: make(map[string]domain.PresenceEntry),
	}
}

// Touch marks the identity as seen now, merges with the persisted map,
// purges expired entries, enforces the cap and persists the result.
func (t *Tracker) Touch(id domain.Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.reload(); err != nil {
		return err
	}
	now := t.cfg.Now()
	t.entries[id.ID] = domain.PresenceEntry{
		UserID:      id.ID,
		DisplayName: id.DisplayName,
		LastSeenAt:  now.UnixMilli(),
		Color:       domain.ColorFor(id.ID),
	}
	t.purge(now)
	return t.persist()
}

// Remove drops the identity from the map, best-effort on teardown.
func (t *Tracker) Remove(userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.reload(); err != nil {
		return err
	}
	delete(t.entries, userID)
	return t.persist()
}

// Refresh reloads the persisted map and purges expired entries without
// persisting, so a pure reader never claims authority over the map.
func (t *Tracker) Refresh() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.reload(); err != nil {
		return err
	}
	t.purge(t.cfg.Now())
	return nil
}

// ActiveCount counts entries seen within the active window.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.cfg.Now().Add(-t.cfg.ActiveWindow).UnixMilli()
	count := 0
	for _, e := range t.entries {
		if e.LastSeenAt >= cutoff {
			count++
		}
	}
	return count
}

// Entries returns the retained entries, most recently seen first.
func (t *Tracker) Entries() []domain.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sorted()
}

func (t *Tracker) sorted() []domain.PresenceEntry {
	out := make([]domain.PresenceEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt > out[j].LastSeenAt })
	return out
}

func (t *Tracker) reload() error {
	raw, err := t.kv.Get(t.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read presence map: %w", err)
	}

	stored := make(map[string]domain.PresenceEntry)
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("failed to parse presence map: %w", err)
	}
	// Keep whichever sighting is newer, ours or the stored one.
	for id, e := range stored {
		if cur, ok := t.entries[id]; !ok || e.LastSeenAt > cur.LastSeenAt {
			t.entries[id] = e
		}
	}
	return nil
}

func (t *Tracker) purge(now time.Time) {
	expiry := now.Add(-t.cfg.ExpiryWindow).UnixMilli()
	for id, e := range t.entries {
		if e.LastSeenAt < expiry {
			delete(t.entries, id)
		}
	}
	if over := len(t.entries) - t.cfg.MaxEntries; over > 0 {
		byAge := t.sorted()
		for _, e := range byAge[len(byAge)-over:] {
			delete(t.entries, e.UserID)
		}
	}
}

func (t *Tracker) persist() error {
	data, err := json.Marshal(t.entries)
	if err != nil {
		return fmt.Errorf("failed to encode presence map: %w", err)
	}
	if err := t.kv.Set(t.key, data); err != nil {
		return fmt.Errorf("failed to persist presence map: %w", err)
	}
	return nil
}
