package msglog

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SphrGhfri/tabchat/internal/domain"
	"github.com/SphrGhfri/tabchat/internal/storage"
)

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func chatMsg(id, sender, body string, ts int64) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         id,
		SenderID:   sender,
		SenderName: sender,
		Body:       body,
		Timestamp:  ts,
	}
}

func TestAppendKeepsTimestampOrder(t *testing.T) {
	log := NewLog(storage.NewMemoryKV(), "chat", Config{Now: fixedClock(10_000)})

	for _, ts := range []int64{300, 100, 200} {
		res, err := log.Append(chatMsg(fmt.Sprintf("m%d", ts), "u1", fmt.Sprintf("b%d", ts), ts))
		require.NoError(t, err)
		assert.True(t, res.Accepted)
	}

	msgs := log.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []int64{100, 200, 300},
		[]int64{msgs[0].Timestamp, msgs[1].Timestamp, msgs[2].Timestamp})
}

func TestCapEvictsOldestFirst(t *testing.T) {
	log := NewLog(storage.NewMemoryKV(), "chat", Config{
		MemoryCap: 100,
		Now:       fixedClock(1_000_000),
	})

	for i := 0; i < 150; i++ {
		_, err := log.Append(chatMsg(fmt.Sprintf("m%d", i), "u1", fmt.Sprintf("b%d", i), int64(i*2000)))
		require.NoError(t, err)
	}

	msgs := log.Messages()
	require.Len(t, msgs, 100)
	// Exactly the most recent 100 by timestamp survive.
	assert.Equal(t, "m50", msgs[0].ID)
	assert.Equal(t, "m149", msgs[99].ID)
	assert.False(t, log.Contains("m49"))
}

func TestAppendDuplicateIDIsNoOp(t *testing.T) {
	log := NewLog(storage.NewMemoryKV(), "chat", Config{Now: fixedClock(10_000)})

	res, err := log.Append(chatMsg("m1", "u1", "hello", 1000))
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	before := log.Messages()
	res, err = log.Append(chatMsg("m1", "u2", "different body", 9000))
	require.NoError(t, err)
	assert.True(t, res.Deduped)
	assert.False(t, res.Accepted)
	assert.Equal(t, before, log.Messages())
}

func TestAppendEquivalentWithinWindowIsDeduped(t *testing.T) {
	log := NewLog(storage.NewMemoryKV(), "chat", Config{
		DedupWindow: time.Second,
		Now:         fixedClock(10_000),
	})

	_, err := log.Append(chatMsg("m1", "u1", "hello", 1000))
	require.NoError(t, err)

	// Same sender and body, different id, 500ms apart: multi-path echo.
	res, err := log.Append(chatMsg("m2", "u1", "hello", 1500))
	require.NoError(t, err)
	assert.True(t, res.Deduped)

	// Outside the window it is a legitimate repeat.
	res, err = log.Append(chatMsg("m3", "u1", "hello", 2600))
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	// Different sender inside the window is never deduped.
	res, err = log.Append(chatMsg("m4", "u2", "hello", 1200))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestEquivalentCheckDisabled(t *testing.T) {
	log := NewLog(storage.NewMemoryKV(), "chat", Config{
		DedupWindow: -1,
		Now:         fixedClock(10_000),
	})

	_, err := log.Append(chatMsg("m1", "u1", "hello", 1000))
	require.NoError(t, err)
	res, err := log.Append(chatMsg("m2", "u1", "hello", 1001))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestPersistedRoundTrip(t *testing.T) {
	kv := storage.NewMemoryKV()
	now := fixedClock(1_000_000)

	log := NewLog(kv, "chat", Config{Now: now})
	for i := 0; i < 10; i++ {
		_, err := log.Append(chatMsg(fmt.Sprintf("m%d", i), "u1", fmt.Sprintf("b%d", i), int64(990_000+i*1500)))
		require.NoError(t, err)
	}

	// A fresh instance over the same KV reloads the same log.
	reloaded := NewLog(kv, "chat", Config{Now: now})
	added, err := reloaded.Load()
	require.NoError(t, err)
	assert.Len(t, added, 10)

	want := log.Messages()
	got := reloaded.Messages()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
	}
}

func TestLoadFiltersRetentionHorizon(t *testing.T) {
	kv := storage.NewMemoryKV()
	nowMs := int64(48 * time.Hour / time.Millisecond)

	log := NewLog(kv, "chat", Config{Retention: 24 * time.Hour, Now: fixedClock(nowMs)})
	_, err := log.Append(chatMsg("old", "u1", "stale", nowMs-25*3600*1000))
	require.NoError(t, err)
	_, err = log.Append(chatMsg("new", "u1", "fresh", nowMs-3600*1000))
	require.NoError(t, err)

	reloaded := NewLog(kv, "chat", Config{Retention: 24 * time.Hour, Now: fixedClock(nowMs)})
	added, err := reloaded.Load()
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "new", added[0].ID)
	assert.False(t, reloaded.Contains("old"))
}

func TestLoadMergesWithoutDuplicates(t *testing.T) {
	kv := storage.NewMemoryKV()
	now := fixedClock(1_000_000)

	writer := NewLog(kv, "chat", Config{Now: now})
	_, err := writer.Append(chatMsg("m1", "u1", "one", 900_000))
	require.NoError(t, err)
	_, err = writer.Append(chatMsg("m2", "u1", "two", 910_000))
	require.NoError(t, err)

	reader := NewLog(kv, "chat", Config{Now: now})
	_, err = reader.Append(chatMsg("m2", "u1", "two", 910_000))
	require.NoError(t, err)

	added, err := reader.Load()
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "m1", added[0].ID)
	assert.Equal(t, 2, reader.Len())

	// A second load adds nothing.
	added, err = reader.Load()
	require.NoError(t, err)
	assert.Empty(t, added)
}

// quotaKV fails the next n Sets with ErrQuotaExceeded before recovering.
type quotaKV struct {
	*storage.MemoryKV
	failNext int
}

func (q *quotaKV) Set(key string, value []byte) error {
	if q.failNext > 0 {
		q.failNext--
		return storage.ErrQuotaExceeded
	}
	return q.MemoryKV.Set(key, value)
}

func TestPersistRecoversFromQuotaOnce(t *testing.T) {
	kv := &quotaKV{MemoryKV: storage.NewMemoryKV()}
	log := NewLog(kv, "chat", Config{PersistCap: 10, Now: fixedClock(1_000_000)})

	for i := 0; i < 10; i++ {
		_, err := log.Append(chatMsg(fmt.Sprintf("m%d", i), "u1", fmt.Sprintf("b%d", i), int64(900_000+i*2000)))
		require.NoError(t, err)
	}

	kv.failNext = 1
	require.NoError(t, log.Persist())

	// The retry persisted a halved snapshot; a fresh instance sees it.
	reloaded := NewLog(kv.MemoryKV, "chat", Config{Now: fixedClock(1_000_000)})
	added, err := reloaded.Load()
	require.NoError(t, err)
	assert.Len(t, added, 5)
}

func TestPersistSurfacesRepeatedQuotaFailure(t *testing.T) {
	kv := &quotaKV{MemoryKV: storage.NewMemoryKV()}
	log := NewLog(kv, "chat", Config{Now: fixedClock(1_000_000)})

	kv.failNext = 2
	res, err := log.Append(chatMsg("m1", "u1", "hello", 999_000))
	assert.True(t, res.Accepted)
	assert.Error(t, err)

	// The in-memory log still holds the message.
	assert.Equal(t, 1, log.Len())
}

func TestClearErasesSnapshot(t *testing.T) {
	kv := storage.NewMemoryKV()
	log := NewLog(kv, "chat", Config{Now: fixedClock(1_000_000)})

	_, err := log.Append(chatMsg("m1", "u1", "hello", 999_000))
	require.NoError(t, err)
	require.NoError(t, log.Clear())

	assert.Zero(t, log.Len())
	reloaded := NewLog(kv, "chat", Config{Now: fixedClock(1_000_000)})
	added, err := reloaded.Load()
	require.NoError(t, err)
	assert.Empty(t, added)

	// The id is free again after eviction by clear.
	res, err := log.Append(chatMsg("m1", "u1", "hello again", 999_500))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestCountFrom(t *testing.T) {
	log := NewLog(storage.NewMemoryKV(), "chat", Config{Now: fixedClock(100_000)})

	_, err := log.Append(chatMsg("m1", "u1", "a", 90_000))
	require.NoError(t, err)
	_, err = log.Append(chatMsg("m2", "u1", "b", 95_000))
	require.NoError(t, err)
	_, err = log.Append(chatMsg("m3", "u2", "c", 96_000))
	require.NoError(t, err)
	_, err = log.Append(domain.NewSystemMessage("s1", "notice", time.UnixMilli(97_000)))
	require.NoError(t, err)

	assert.Equal(t, 2, log.CountFrom("u1", 90_000))
	assert.Equal(t, 1, log.CountFrom("u1", 91_000))
	assert.Equal(t, 1, log.CountFrom("u2", 0))
	assert.Equal(t, 0, log.CountFrom("system", 0))
}

func TestPersistKeepsUnmergedSiblingMessages(t *testing.T) {
	kv := storage.NewMemoryKV()
	now := fixedClock(1_000_000)

	writer := NewLog(kv, "chat", Config{Now: now})
	_, err := writer.Append(chatMsg("m1", "u1", "one", 900_000))
	require.NoError(t, err)
	_, err = writer.Append(chatMsg("m2", "u1", "two", 910_000))
	require.NoError(t, err)

	// A fresh instance that has never loaded the snapshot appends before
	// merging; its persist must not erase m1 and m2.
	other := NewLog(kv, "chat", Config{Now: now})
	_, err = other.Append(chatMsg("m3", "u2", "three", 920_000))
	require.NoError(t, err)

	third := NewLog(kv, "chat", Config{Now: now})
	added, err := third.Load()
	require.NoError(t, err)
	require.Len(t, added, 3)
	assert.Equal(t, "m1", added[0].ID)
	assert.Equal(t, "m2", added[1].ID)
	assert.Equal(t, "m3", added[2].ID)
}
