package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kalambet/bella/internal/extract"
	"github.com/kalambet/bella/internal/storage"
)

// Store is the subset of storage.Backend the Manager needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// MergeResult reports the effect of merging one candidate.
type MergeResult struct {
	Updated bool
	Message string
}

// TurnMerge aggregates the merges of one turn.
type TurnMerge struct {
	Updated  bool
	Messages []string
}

// Manager owns the in-memory profile and writes it through to the store after
// every mutation. A failed write leaves the mutation in memory and marks the
// profile dirty so the next successful write (or Flush) persists it.
type Manager struct {
	store Store
	clock Clock

	mu      sync.RWMutex
	profile Profile
	dirty   bool
}

// NewManager creates a Manager with an empty profile. Call Load to read the
// stored one.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{})
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock) *Manager {
	return &Manager{
		store:   store,
		clock:   clock,
		profile: Profile{LastUpdated: clock.Now().UTC()},
	}
}

// Load reads the stored profile. A missing document starts a fresh profile;
// a malformed one is logged and replaced by a fresh profile.
func (m *Manager) Load(ctx context.Context) error {
	data, err := m.store.Get(ctx, storage.KeyProfile)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case errors.Is(err, storage.ErrNotFound):
		m.profile = Profile{LastUpdated: m.clock.Now().UTC()}
		m.dirty = true
		return nil
	case err != nil:
		return fmt.Errorf("loading profile: %w", err)
	}

	p, err := Decode(data)
	if err != nil {
		slog.Warn("stored profile is malformed, starting fresh", "error", err)
		m.profile = Profile{LastUpdated: m.clock.Now().UTC()}
		m.dirty = true
		return nil
	}
	m.profile = p
	m.dirty = false
	return nil
}

// GetProfile returns a deep copy of the current profile.
func (m *Manager) GetProfile() Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deepCopyProfile(&m.profile)
}

// Merge applies one candidate and persists the profile if it changed.
// The result is valid even when the returned error is non-nil.
func (m *Manager) Merge(ctx context.Context, c extract.Candidate) (MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := Apply(&m.profile, c, m.clock.Now())
	if !res.Updated {
		return res, nil
	}
	m.dirty = true
	return res, m.persistLocked(ctx)
}

// MergeAll applies every candidate whose confidence exceeds threshold, in
// order, and persists once if anything changed.
func (m *Manager) MergeAll(ctx context.Context, cands []extract.Candidate, threshold float64) (TurnMerge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tm TurnMerge
	now := m.clock.Now()
	for _, c := range cands {
		if c.Confidence <= threshold {
			continue
		}
		res := Apply(&m.profile, c, now)
		if res.Updated {
			tm.Updated = true
			tm.Messages = append(tm.Messages, res.Message)
		}
	}
	if !tm.Updated {
		return tm, nil
	}
	m.dirty = true
	return tm, m.persistLocked(ctx)
}

// Remember stores text as a note directly, bypassing extraction.
func (m *Manager) Remember(ctx context.Context, text string, origin Origin) (MergeResult, error) {
	return m.Merge(ctx, extract.Candidate{
		Type:                extract.FreeNote,
		RawValue:            text,
		NormalizedValue:     text,
		Confidence:          1,
		ExplicitlyRequested: origin == OriginExplicit,
	})
}

// Reset replaces the profile with an empty one.
func (m *Manager) Reset(ctx context.Context) error {
	return m.Replace(ctx, Profile{})
}

// Replace swaps in p wholesale (used by import and reset).
func (m *Manager) Replace(ctx context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profile = deepCopyProfile(&p)
	if m.profile.LastUpdated.IsZero() {
		m.profile.LastUpdated = m.clock.Now().UTC()
	}
	m.dirty = true
	return m.persistLocked(ctx)
}

// Flush persists the profile if an earlier write failed or it was never saved.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}
	return m.persistLocked(ctx)
}

// Dirty reports whether in-memory changes are not yet persisted.
func (m *Manager) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// Document returns the current profile in its persisted JSON form.
func (m *Manager) Document() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Encode(m.profile)
}

func (m *Manager) persistLocked(ctx context.Context) error {
	data, err := Encode(m.profile)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}
	if err := m.store.Put(ctx, storage.KeyProfile, data); err != nil {
		slog.Warn("profile write failed, keeping changes in memory", "error", err)
		return fmt.Errorf("%w: saving profile: %w", storage.ErrPersistence, err)
	}
	m.dirty = false
	return nil
}

// Apply merges c into p:
//   - Name and Birthday overwrite unconditionally.
//   - Likes and Dislikes are inserted only when absent.
//   - Notes are inserted only when no note has the same text.
//
// LastUpdated is refreshed when p changes.
func Apply(p *Profile, c extract.Candidate, now time.Time) MergeResult {
	v := c.NormalizedValue
	if v == "" {
		v = c.RawValue
	}
	if v == "" {
		return MergeResult{}
	}

	var res MergeResult
	switch c.Type {
	case extract.Name:
		p.Name = &v
		res = MergeResult{Updated: true, Message: fmt.Sprintf("お名前を「%s」として記憶しました", v)}
	case extract.Birthday:
		p.Birthday = &v
		res = MergeResult{Updated: true, Message: fmt.Sprintf("誕生日を%sとして記憶しました", v)}
	case extract.LikePreference:
		if !slices.Contains(p.Likes, v) {
			p.Likes = append(p.Likes, v)
			res = MergeResult{Updated: true, Message: fmt.Sprintf("「%s」が好きなことを記憶しました", v)}
		}
	case extract.DislikePreference:
		if !slices.Contains(p.Dislikes, v) {
			p.Dislikes = append(p.Dislikes, v)
			res = MergeResult{Updated: true, Message: fmt.Sprintf("「%s」が苦手なことを記憶しました", v)}
		}
	case extract.FreeNote:
		dup := slices.ContainsFunc(p.Notes, func(n Note) bool { return n.Text == v })
		if !dup {
			origin := OriginContextual
			if c.ExplicitlyRequested {
				origin = OriginExplicit
			}
			p.Notes = append(p.Notes, Note{Text: v, CreatedAt: now.UTC(), Origin: origin})
			res = MergeResult{Updated: true, Message: "大切な情報として記憶しました"}
		}
	}
	if res.Updated {
		p.LastUpdated = now.UTC()
	}
	return res
}

func deepCopyProfile(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := *p
	if p.Name != nil {
		name := *p.Name
		cp.Name = &name
	}
	if p.Birthday != nil {
		bday := *p.Birthday
		cp.Birthday = &bday
	}
	cp.Likes = slices.Clone(p.Likes)
	cp.Dislikes = slices.Clone(p.Dislikes)
	cp.Notes = slices.Clone(p.Notes)
	return cp
}
