package storage

import (
	"strings"
	"sync"
)

// MemoryKV is an in-process KV. Multiple synchronizer instances sharing one
// MemoryKV behave like multiple tabs sharing one localStorage, which is how
// the cross-instance paths are tested.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte

	// MaxBytes, when positive, bounds the total stored size and makes
	// Set fail with ErrQuotaExceeded, mimicking a full browser quota.
	MaxBytes int
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MaxBytes > 0 {
		total := len(key) + len(value)
		for k, v := range m.data {
			if k == key {
				continue
			}
			total += len(k) + len(v)
		}
		if total > m.MaxBytes {
			return ErrQuotaExceeded
		}
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryKV) Close() error { return nil }
