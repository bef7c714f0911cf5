package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/bella/internal/emotion"
	"github.com/kalambet/bella/internal/storage"
)

// ErrEntryNotFound is returned by Complete for an unknown (or evicted) id.
var ErrEntryNotFound = errors.New("conversation entry not found")

// Defaults for Options fields left zero.
const (
	DefaultMaxEntries         = 50
	DefaultOrdinaryRetention  = 24 * time.Hour
	DefaultImportantRetention = 7 * 24 * time.Hour
)

// Backend is the subset of storage.Backend the Store needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options bounds the history.
type Options struct {
	MaxEntries         int
	OrdinaryRetention  time.Duration
	ImportantRetention time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.OrdinaryRetention <= 0 {
		o.OrdinaryRetention = DefaultOrdinaryRetention
	}
	if o.ImportantRetention <= 0 {
		o.ImportantRetention = DefaultImportantRetention
	}
	return o
}

// Store owns the in-memory history and writes it through to the backend on
// every mutation. Failed writes keep the mutation and mark the store dirty.
type Store struct {
	backend Backend
	clock   Clock
	opts    Options

	mu    sync.RWMutex
	hist  History
	dirty bool
}

// NewStore creates a Store with an empty session. Call Load to read the
// stored history.
func NewStore(backend Backend, opts Options) *Store {
	return NewStoreWithClock(backend, opts, realClock{})
}

// NewStoreWithClock creates a Store with a custom clock (for testing).
func NewStoreWithClock(backend Backend, opts Options, clock Clock) *Store {
	return &Store{
		backend: backend,
		clock:   clock,
		opts:    opts.withDefaults(),
		hist:    History{SessionStartedAt: clock.Now().UTC()},
	}
}

// Load reads the stored history. A missing document starts a new session; a
// malformed one is logged and replaced by a new session.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.backend.Get(ctx, storage.KeyHistory)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.hist = History{SessionStartedAt: s.clock.Now().UTC()}
		s.dirty = true
		return nil
	case err != nil:
		return fmt.Errorf("loading history: %w", err)
	}

	h, err := Decode(data)
	if err != nil {
		slog.Warn("stored history is malformed, starting a new session", "error", err)
		s.hist = History{SessionStartedAt: s.clock.Now().UTC()}
		s.dirty = true
		return nil
	}
	s.hist = h
	s.truncateLocked()
	s.dirty = false
	return nil
}

// Append adds a pending entry, evicting the oldest entries beyond MaxEntries.
// A missing ID or CreatedAt is filled in; the stored entry is returned.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if e.Emotion == "" {
		e.Emotion = emotion.Neutral
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hist.Entries = append(s.hist.Entries, e)
	s.truncateLocked()
	s.dirty = true
	return e, s.persistLocked(ctx)
}

// Complete fills in the response of the entry with the given id.
func (s *Store) Complete(ctx context.Context, id, responseText string, emo emotion.Emotion, affinityDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.hist.Entries, func(e Entry) bool { return e.ID == id })
	if i < 0 {
		return fmt.Errorf("completing %s: %w", id, ErrEntryNotFound)
	}
	if emo == "" {
		emo = emotion.Neutral
	}
	s.hist.Entries[i].ResponseText = responseText
	s.hist.Entries[i].Emotion = emo
	s.hist.Entries[i].AffinityDelta = affinityDelta
	s.dirty = true
	return s.persistLocked(ctx)
}

// Recent returns copies of the last n entries in chronological order.
func (s *Store) Recent(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := max(0, len(s.hist.Entries)-n)
	return slices.Clone(s.hist.Entries[start:])
}

// Expire removes entries older than their retention window relative to now:
// ImportantRetention for important entries, OrdinaryRetention otherwise.
// It returns the number removed and persists only if something was removed.
func (s *Store) Expire(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.hist.Entries)
	s.hist.Entries = slices.DeleteFunc(s.hist.Entries, func(e Entry) bool {
		keep := s.opts.OrdinaryRetention
		if e.Important {
			keep = s.opts.ImportantRetention
		}
		return now.Sub(e.CreatedAt) >= keep
	})
	removed := before - len(s.hist.Entries)
	if len(s.hist.Entries) == 0 {
		s.hist.Entries = nil
	}
	if removed == 0 {
		return 0, nil
	}
	s.dirty = true
	return removed, s.persistLocked(ctx)
}

// Len returns the number of retained entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hist.Entries)
}

// Snapshot returns a copy of the whole history.
func (s *Store) Snapshot() History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return History{
		Entries:          slices.Clone(s.hist.Entries),
		SessionStartedAt: s.hist.SessionStartedAt,
	}
}

// Replace swaps in h wholesale (used by import).
func (s *Store) Replace(ctx context.Context, h History) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hist = History{Entries: slices.Clone(h.Entries), SessionStartedAt: h.SessionStartedAt}
	if s.hist.SessionStartedAt.IsZero() {
		s.hist.SessionStartedAt = s.clock.Now().UTC()
	}
	s.truncateLocked()
	s.dirty = true
	return s.persistLocked(ctx)
}

// Reset starts a new, empty session.
func (s *Store) Reset(ctx context.Context) error {
	return s.Replace(ctx, History{})
}

// Flush persists the history if an earlier write failed or it was never saved.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.persistLocked(ctx)
}

// Dirty reports whether in-memory changes are not yet persisted.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Document returns the current history in its persisted JSON form.
func (s *Store) Document() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Encode(s.hist)
}

func (s *Store) truncateLocked() {
	if over := len(s.hist.Entries) - s.opts.MaxEntries; over > 0 {
		s.hist.Entries = slices.Delete(s.hist.Entries, 0, over)
	}
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := Encode(s.hist)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}
	if err := s.backend.Put(ctx, storage.KeyHistory, data); err != nil {
		slog.Warn("history write failed, keeping changes in memory", "error", err)
		return fmt.Errorf("%w: saving history: %w", storage.ErrPersistence, err)
	}
	s.dirty = false
	return nil
}
