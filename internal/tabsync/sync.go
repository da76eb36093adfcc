package tabsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/SphrGhfri/tabchat/internal/domain"
	"github.com/SphrGhfri/tabchat/internal/storage"
)

const DefaultSlotTTL = time.Hour

// Config tunes one sync endpoint. Zero values select the defaults.
type Config struct {
	SlotTTL time.Duration
	Now     func() time.Time
}

func (c *Config) fill() {
	if c.SlotTTL <= 0 {
		c.SlotTTL = DefaultSlotTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type slot struct {
	Message   domain.ChatMessage `json:"message"`
	ExpiresAt int64              `json:"expires_at"`
}

// Sync propagates messages between instances of the same shared store. Each
// published message lives in its own time-bounded slot keyed by message id;
// a persisted monotonic signal counter tells other instances when to look.
//
// Delivery is at-least-once and unordered; the log's dedup-by-id and
// sort-by-timestamp provide the only ordering guarantees.
type Sync struct {
	kv         storage.KV
	slotPrefix string
	signalKey  string
	cfg        Config

	mu       sync.Mutex
	lastSeen int64
}

func NewSync(kv storage.KV, keyPrefix string, cfg Config) *Sync {
	cfg.fill()
	return &Sync{
		kv:         kv,
		slotPrefix: keyPrefix + ":msg:",
		signalKey:  keyPrefix + ":signal",
		cfg:        cfg,
		lastSeen:   -1,
	}
}

// Publish writes the message to its relay slot and bumps the signal so
// other instances pick it up on their next poll.
func (s *Sync) Publish(msg domain.ChatMessage) error {
	data, err := json.Marshal(slot{
		Message:   msg,
		ExpiresAt: s.cfg.Now().Add(s.cfg.SlotTTL).UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode relay slot: %w", err)
	}
	if err := s.kv.Set(s.slotPrefix+msg.ID, data); err != nil {
		return fmt.Errorf("failed to write relay slot: %w", err)
	}
	s.purgeExpired()
	return s.bumpSignal()
}

// Poll compares the persisted signal against the last value this instance
// saw. When it advanced, every live relay slot is returned (oldest first)
// and the last-seen marker moves forward. The same signal value is never
// reported twice.
func (s *Sync) Poll() ([]domain.ChatMessage, bool, error) {
	current, err := s.Signal()
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	seen := s.lastSeen
	s.mu.Unlock()
	if current == seen {
		return nil, false, nil
	}

	// Advance last-seen only after the slots were read: a failed scan must
	// not consume the signal, or the pending messages would never be
	// redelivered on a quiet channel.
	msgs, err := s.readSlots()
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	s.lastSeen = current
	s.mu.Unlock()
	return msgs, true, nil
}

// ForcePoll makes the next Poll report changed even if the signal did not
// advance, used when regaining attention after a long idle stretch.
func (s *Sync) ForcePoll() {
	s.mu.Lock()
	s.lastSeen = -1
	s.mu.Unlock()
}

// Signal reads the persisted signal counter. A missing counter reads as 0.
func (s *Sync) Signal() (int64, error) {
	raw, err := s.kv.Get(s.signalKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sync signal: %w", err)
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse sync signal: %w", err)
	}
	return v, nil
}

// BumpSignal advances the persisted counter. The read-modify-write can race
// with other instances; a lost increment only delays detection until the
// next mutation, never loses a message.
func (s *Sync) BumpSignal() error {
	return s.bumpSignal()
}

func (s *Sync) bumpSignal() error {
	current, err := s.Signal()
	if err != nil {
		return err
	}
	next := strconv.FormatInt(current+1, 10)
	if err := s.kv.Set(s.signalKey, []byte(next)); err != nil {
		return fmt.Errorf("failed to write sync signal: %w", err)
	}
	return nil
}

// DropSlots removes every relay slot, then bumps the signal so other
// instances notice the wipe.
func (s *Sync) DropSlots() error {
	keys, err := s.kv.Keys(s.slotPrefix)
	if err != nil {
		return fmt.Errorf("failed to list relay slots: %w", err)
	}
	for _, k := range keys {
		if err := s.kv.Delete(k); err != nil {
			return fmt.Errorf("failed to delete relay slot: %w", err)
		}
	}
	return s.bumpSignal()
}

func (s *Sync) readSlots() ([]domain.ChatMessage, error) {
	keys, err := s.kv.Keys(s.slotPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list relay slots: %w", err)
	}

	now := s.cfg.Now().UnixMilli()
	var msgs []domain.ChatMessage
	for _, k := range keys {
		raw, err := s.kv.Get(k)
		if errors.Is(err, storage.ErrNotFound) {
			continue // deleted by a concurrent instance
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read relay slot: %w", err)
		}
		var sl slot
		if err := json.Unmarshal(raw, &sl); err != nil {
			// A corrupt slot must never take the instance down.
			_ = s.kv.Delete(k)
			continue
		}
		if sl.ExpiresAt <= now {
			_ = s.kv.Delete(k)
			continue
		}
		msgs = append(msgs, sl.Message)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	return msgs, nil
}

func (s *Sync) purgeExpired() {
	keys, err := s.kv.Keys(s.slotPrefix)
	if err != nil {
		return
	}
	now := s.cfg.Now().UnixMilli()
	for _, k := range keys {
		raw, err := s.kv.Get(k)
		if err != nil {
			continue
		}
		var sl slot
		if err := json.Unmarshal(raw, &sl); err != nil || sl.ExpiresAt <= now {
			_ = s.kv.Delete(k)
		}
	}
}
