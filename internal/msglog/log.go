package msglog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/SphrGhfri/tabchat/internal/domain"
	"github.com/SphrGhfri/tabchat/internal/storage"
)

const (
	DefaultMemoryCap   = 100
	DefaultPersistCap  = 50
	DefaultRetention   = 24 * time.Hour
	DefaultDedupWindow = time.Second
)

// Config tunes one log instance. Zero values select the defaults above;
// DedupWindow < 0 disables the sender+body equivalence check entirely.
type Config struct {
	MemoryCap   int
	PersistCap  int
	Retention   time.Duration
	DedupWindow time.Duration
	Now         func() time.Time
}

func (c *Config) fill() {
	if c.MemoryCap <= 0 {
		c.MemoryCap = DefaultMemoryCap
	}
	if c.PersistCap <= 0 {
		c.PersistCap = DefaultPersistCap
	}
	if c.PersistCap > c.MemoryCap {
		c.PersistCap = c.MemoryCap
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// AppendResult reports how an append was handled.
type AppendResult struct {
	Accepted bool
	Deduped  bool
}

type snapshot struct {
	Messages []domain.ChatMessage `json:"messages"`
	LastSave int64                `json:"last_save"`
}

// Log is a bounded, timestamp-ordered message sequence with a persisted
// snapshot. It is single-instance state; the shared KV is the only thing
// other instances see.
type Log struct {
	kv   storage.KV
	key  string
	cfg  Config
	msgs []domain.ChatMessage
	ids  map[string]struct{}
}

func NewLog(kv storage.KV, keyPrefix string, cfg Config) *Log {
	cfg.fill()
	return &Log{
		kv:  kv,
		key: keyPrefix + ":data",
		cfg: cfg,
		ids: make(map[string]struct{}),
	}
}

// Append inserts msg preserving timestamp order, evicts beyond the memory
// cap and persists the snapshot. A message whose id is already present, or
// whose sender+body matches an existing message inside the dedup window, is
// reported deduped and changes nothing. A non-nil error means the accepted
// message could not be persisted; the in-memory log still holds it.
func (l *Log) Append(msg domain.ChatMessage) (AppendResult, error) {
	if _, ok := l.ids[msg.ID]; ok {
		return AppendResult{Deduped: true}, nil
	}
	if l.isEquivalentDup(msg) {
		return AppendResult{Deduped: true}, nil
	}

	l.insertSorted(msg)
	l.ids[msg.ID] = struct{}{}
	l.evictOverCap()

	if err := l.Persist(); err != nil {
		return AppendResult{Accepted: true}, err
	}
	return AppendResult{Accepted: true}, nil
}

// isEquivalentDup guards against echo-server and multi-path duplication:
// the same sender posting the same body within the dedup window. Tunable,
// not a law; see Config.DedupWindow.
func (l *Log) isEquivalentDup(msg domain.ChatMessage) bool {
	if l.cfg.DedupWindow < 0 || msg.System {
		return false
	}
	window := l.cfg.DedupWindow.Milliseconds()
	for i := len(l.msgs) - 1; i >= 0; i-- {
		prev := l.msgs[i]
		if msg.Timestamp-prev.Timestamp > window {
			break
		}
		if prev.SenderID == msg.SenderID && prev.Body == msg.Body &&
			abs64(prev.Timestamp-msg.Timestamp) <= window {
			return true
		}
	}
	return false
}

func (l *Log) insertSorted(msg domain.ChatMessage) {
	idx := sort.Search(len(l.msgs), func(i int) bool {
		return l.msgs[i].Timestamp > msg.Timestamp
	})
	l.msgs = append(l.msgs, domain.ChatMessage{})
	copy(l.msgs[idx+1:], l.msgs[idx:])
	l.msgs[idx] = msg
}

func (l *Log) evictOverCap() {
	if over := len(l.msgs) - l.cfg.MemoryCap; over > 0 {
		for _, evicted := range l.msgs[:over] {
			delete(l.ids, evicted.ID)
		}
		l.msgs = append([]domain.ChatMessage(nil), l.msgs[over:]...)
	}
}

// Load reads the persisted snapshot, drops entries older than the retention
// horizon, merges the rest into memory without duplicating ids and re-sorts.
// It returns the messages that were new to this instance, oldest first.
func (l *Log) Load() ([]domain.ChatMessage, error) {
	raw, err := l.kv.Get(l.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	horizon := l.cfg.Now().Add(-l.cfg.Retention).UnixMilli()
	var added []domain.ChatMessage
	for _, msg := range snap.Messages {
		if msg.ID == "" || msg.Timestamp < horizon {
			continue
		}
		if _, ok := l.ids[msg.ID]; ok {
			continue
		}
		l.insertSorted(msg)
		l.ids[msg.ID] = struct{}{}
		added = append(added, msg)
	}
	l.evictOverCap()

	sort.Slice(added, func(i, j int) bool { return added[i].Timestamp < added[j].Timestamp })
	return added, nil
}

// Persist writes the newest PersistCap messages as the snapshot. On a quota
// failure it halves the snapshot and retries once before giving up.
func (l *Log) Persist() error {
	err := l.writeSnapshot(l.cfg.PersistCap)
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		return err
	}
	if retryErr := l.writeSnapshot(l.cfg.PersistCap / 2); retryErr != nil {
		return fmt.Errorf("snapshot retry after quota eviction failed: %w", retryErr)
	}
	return nil
}

func (l *Log) writeSnapshot(limit int) error {
	if limit < 1 {
		limit = 1
	}
	msgs := l.unionStored()
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	data, err := json.Marshal(snapshot{Messages: msgs, LastSave: l.cfg.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return l.kv.Set(l.key, data)
}

// unionStored returns the in-memory log plus any persisted messages this
// instance has not merged yet, ordered by timestamp. Persisting the union
// keeps an append from erasing sibling messages that reached the snapshot
// before our next Load. An unreadable or corrupt stored snapshot is
// ignored and the write proceeds with the in-memory log alone.
func (l *Log) unionStored() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(l.msgs))
	copy(out, l.msgs)

	raw, err := l.kv.Get(l.key)
	if err != nil {
		return out
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return out
	}

	horizon := l.cfg.Now().Add(-l.cfg.Retention).UnixMilli()
	extra := false
	for _, msg := range snap.Messages {
		if msg.ID == "" || msg.Timestamp < horizon {
			continue
		}
		if _, ok := l.ids[msg.ID]; ok {
			continue
		}
		out = append(out, msg)
		extra = true
	}
	if extra {
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	}
	return out
}

// Clear empties the log and erases the persisted snapshot. Callers invoke
// this only after the user confirmed the action.
func (l *Log) Clear() error {
	l.msgs = nil
	l.ids = make(map[string]struct{})
	if err := l.kv.Delete(l.key); err != nil {
		return fmt.Errorf("failed to erase snapshot: %w", err)
	}
	return nil
}

// Messages returns a copy of the retained messages, oldest first.
func (l *Log) Messages() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len reports the number of retained messages.
func (l *Log) Len() int { return len(l.msgs) }

// Contains reports whether a message id is retained.
func (l *Log) Contains(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// CountFrom counts non-system messages from senderID with a timestamp at or
// after since (milliseconds). The rate limiter is a pure function of this.
func (l *Log) CountFrom(senderID string, since int64) int {
	count := 0
	for i := len(l.msgs) - 1; i >= 0; i-- {
		if l.msgs[i].Timestamp < since {
			break
		}
		if !l.msgs[i].System && l.msgs[i].SenderID == senderID {
			count++
		}
	}
	return count
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
