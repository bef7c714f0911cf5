package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/bella/internal/emotion"
	"github.com/kalambet/bella/internal/storage"
)

type memBackend struct {
	mu     sync.Mutex
	data   map[string][]byte
	putErr error
	puts   int
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (m *memBackend) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.data[key] = append([]byte(nil), data...)
	return nil
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts Options) (*Store, *memBackend, *fixedClock) {
	t.Helper()
	be := newMemBackend()
	clock := &fixedClock{now: t0}
	s := NewStoreWithClock(be, opts, clock)
	require.NoError(t, s.Load(context.Background()))
	return s, be, clock
}

func TestAppend_EvictsOldestBeyondCap(t *testing.T) {
	s, _, clock := newTestStore(t, Options{MaxEntries: 50})
	ctx := context.Background()

	for i := range 51 {
		clock.now = t0.Add(time.Duration(i) * time.Second)
		_, err := s.Append(ctx, Entry{UserText: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}

	require.Equal(t, 50, s.Len())
	snap := s.Snapshot()
	assert.Equal(t, "msg 1", snap.Entries[0].UserText)
	assert.Equal(t, "msg 50", snap.Entries[49].UserText)
}

func TestAppend_FillsDefaults(t *testing.T) {
	s, _, _ := newTestStore(t, Options{})

	e, err := s.Append(context.Background(), Entry{UserText: "こんにちは"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, t0, e.CreatedAt)
	assert.Equal(t, emotion.Neutral, e.Emotion)
	assert.True(t, e.Pending())
}

func TestComplete(t *testing.T) {
	s, be, _ := newTestStore(t, Options{})
	ctx := context.Background()

	e, err := s.Append(ctx, Entry{UserText: "ラーメンが好き"})
	require.NoError(t, err)

	require.NoError(t, s.Complete(ctx, e.ID, "いいね！", emotion.Positive, 3))

	got := s.Recent(1)[0]
	assert.Equal(t, "いいね！", got.ResponseText)
	assert.Equal(t, emotion.Positive, got.Emotion)
	assert.Equal(t, 3, got.AffinityDelta)

	stored, err := Decode(be.data[storage.KeyHistory])
	require.NoError(t, err)
	assert.Equal(t, "いいね！", stored.Entries[0].ResponseText)
}

func TestComplete_UnknownID(t *testing.T) {
	s, _, _ := newTestStore(t, Options{})

	err := s.Complete(context.Background(), "missing", "x", emotion.Neutral, 0)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRecent(t *testing.T) {
	s, _, clock := newTestStore(t, Options{})
	ctx := context.Background()
	for i := range 5 {
		clock.now = t0.Add(time.Duration(i) * time.Minute)
		_, err := s.Append(ctx, Entry{UserText: fmt.Sprint(i)})
		require.NoError(t, err)
	}

	got := s.Recent(3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"2", "3", "4"}, []string{got[0].UserText, got[1].UserText, got[2].UserText})

	assert.Len(t, s.Recent(100), 5)
	assert.Empty(t, s.Recent(0))

	got[0].UserText = "changed"
	assert.Equal(t, "2", s.Recent(3)[0].UserText, "Recent must return copies")
}

func TestExpire_ImportantKeptSevenDays(t *testing.T) {
	s, _, _ := newTestStore(t, Options{})
	ctx := context.Background()
	_, err := s.Append(ctx, Entry{UserText: "誕生日は4月5日", Important: true})
	require.NoError(t, err)

	removed, err := s.Expire(ctx, t0.Add(6*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, s.Len())

	removed, err = s.Expire(ctx, t0.Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, s.Len())
}

func TestExpire_OrdinaryGoneAfterADay(t *testing.T) {
	s, _, _ := newTestStore(t, Options{})
	ctx := context.Background()
	_, err := s.Append(ctx, Entry{UserText: "こんにちは"})
	require.NoError(t, err)

	removed, err := s.Expire(ctx, t0.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = s.Expire(ctx, t0.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, s.Snapshot().Entries)
}

func TestExpire_NoRemovalSkipsWrite(t *testing.T) {
	s, be, _ := newTestStore(t, Options{})
	ctx := context.Background()
	_, err := s.Append(ctx, Entry{UserText: "a"})
	require.NoError(t, err)
	puts := be.puts

	_, err = s.Expire(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, puts, be.puts)
}

func TestAppend_PersistenceFailureKeepsEntry(t *testing.T) {
	s, be, _ := newTestStore(t, Options{})
	ctx := context.Background()
	be.putErr = errors.New("read-only filesystem")

	_, err := s.Append(ctx, Entry{UserText: "a"})
	require.ErrorIs(t, err, storage.ErrPersistence)
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Dirty())

	be.putErr = nil
	require.NoError(t, s.Flush(ctx))
	assert.False(t, s.Dirty())

	stored, err := Decode(be.data[storage.KeyHistory])
	require.NoError(t, err)
	assert.Len(t, stored.Entries, 1)
}

func TestLoad_MalformedStartsNewSession(t *testing.T) {
	be := newMemBackend()
	be.data[storage.KeyHistory] = []byte(`{"conversations": "nope"}`)
	s := NewStoreWithClock(be, Options{}, &fixedClock{now: t0})

	require.NoError(t, s.Load(context.Background()))
	assert.Zero(t, s.Len())
	assert.Equal(t, t0, s.Snapshot().SessionStartedAt)
}

func TestLoad_TruncatesOversizedHistory(t *testing.T) {
	var h History
	for i := range 10 {
		h.Entries = append(h.Entries, Entry{ID: fmt.Sprint(i), CreatedAt: t0, Emotion: emotion.Neutral})
	}
	data, err := Encode(h)
	require.NoError(t, err)

	be := newMemBackend()
	be.data[storage.KeyHistory] = data
	s := NewStoreWithClock(be, Options{MaxEntries: 4}, &fixedClock{now: t0})
	require.NoError(t, s.Load(context.Background()))

	require.Equal(t, 4, s.Len())
	assert.Equal(t, "6", s.Snapshot().Entries[0].ID)
}

func TestHistoryRoundTrip(t *testing.T) {
	orig := History{
		SessionStartedAt: t0,
		Entries: []Entry{
			{ID: "a", CreatedAt: t0.Add(time.Second), UserText: "私の名前は太郎です", ResponseText: "よろしくね、太郎さん！", Emotion: emotion.Positive, AffinityDelta: 2, Important: true},
			{ID: "b", CreatedAt: t0.Add(time.Minute), UserText: "疲れた", Emotion: emotion.Neutral, AffinityDelta: -1},
		},
	}
	data, err := Encode(orig)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, orig, got)

	empty := History{SessionStartedAt: t0}
	data, err = Encode(empty)
	require.NoError(t, err)
	got, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, empty, got)
}

func TestEncode_WireShape(t *testing.T) {
	data, err := Encode(History{Entries: []Entry{{ID: "x", Emotion: emotion.Neutral}}})
	require.NoError(t, err)
	for _, key := range []string{"conversations", "sessionStarted", "userMessage", "aiResponse", "favorabilityChange", "isImportant", "timestamp"} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}
}
