// Package pipeline runs the per-turn memory flow: extract facts, merge them
// into the profile, log the turn and assemble the responder context.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/bella/internal/composer"
	"github.com/kalambet/bella/internal/emotion"
	"github.com/kalambet/bella/internal/extract"
	"github.com/kalambet/bella/internal/history"
	"github.com/kalambet/bella/internal/metrics"
	"github.com/kalambet/bella/internal/profile"
	"github.com/kalambet/bella/internal/storage"
)

// Defaults for Options fields left zero.
const (
	DefaultConfidenceThreshold = 0.7
	DefaultMaxContext          = 10
	DefaultAffinity            = 65
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures an Engine.
type Options struct {
	// ConfidenceThreshold is the exclusive lower bound a candidate's
	// confidence must exceed to be merged.
	ConfidenceThreshold float64
	// MaxContext is how many recent entries the context window holds.
	MaxContext      int
	History         history.Options
	InitialAffinity int
	Rules           *extract.RuleSet
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	Clock           Clock
}

func (o Options) withDefaults() Options {
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if o.MaxContext <= 0 {
		o.MaxContext = DefaultMaxContext
	}
	if o.InitialAffinity <= 0 {
		o.InitialAffinity = DefaultAffinity
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	return o
}

// TurnResult is everything produced for one user message.
type TurnResult struct {
	Context        composer.Payload
	Entry          history.Entry
	Candidates     []extract.Candidate
	ProfileUpdated bool
	UpdateMessages []string
}

// Engine is the conversational memory core. Turns are serialized; the
// profile and history stores guard their own state for concurrent readers.
type Engine struct {
	backend   storage.Backend
	extractor *extract.Extractor
	profile   *profile.Manager
	history   *history.Store
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics

	turnMu sync.Mutex

	affMu    sync.RWMutex
	affinity int
}

// NewEngine wires an Engine over backend. Call Load before the first turn.
func NewEngine(backend storage.Backend, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		backend:   backend,
		extractor: extract.NewExtractor(opts.Rules, opts.Logger),
		profile:   profile.NewManagerWithClock(backend, opts.Clock),
		history:   history.NewStoreWithClock(backend, opts.History, opts.Clock),
		opts:      opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		affinity:  opts.InitialAffinity,
	}
}

// Load reads the stored profile and history, drops expired entries and
// writes back anything that was missing or malformed.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.profile.Load(ctx); err != nil {
		return err
	}
	if err := e.history.Load(ctx); err != nil {
		return err
	}
	if _, err := e.RunRetentionPass(ctx, e.opts.Clock.Now()); err != nil {
		e.logger.Warn("startup retention pass failed", "error", err)
	}
	if err := e.Flush(ctx); err != nil {
		e.logger.Warn("initial flush failed", "error", err)
	}
	e.metrics.HistorySize(e.history.Len())
	e.metrics.Affinity(e.Affinity())
	return nil
}

// ProcessUserMessage runs one turn: extraction, profile merge, history append
// and context assembly. The window is taken before the new entry is appended,
// so it holds only earlier turns. A non-nil error means a persistence
// failure; the returned result is still complete and the in-memory state
// keeps the turn.
func (e *Engine) ProcessUserMessage(ctx context.Context, text string) (TurnResult, error) {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	e.metrics.Turn()
	cands := e.extractor.Extract(text)
	for _, c := range cands {
		e.metrics.Candidate(string(c.Type))
	}

	var errs []error
	merge, err := e.profile.MergeAll(ctx, cands, e.opts.ConfidenceThreshold)
	if err != nil {
		e.metrics.PersistenceFailure(storage.KeyProfile)
		errs = append(errs, err)
	}
	if merge.Updated {
		e.metrics.ProfileUpdated()
	}

	important := merge.Updated
	for _, c := range cands {
		if c.ExplicitlyRequested {
			important = true
		}
	}

	window := e.history.Recent(e.opts.MaxContext)
	entry, err := e.history.Append(ctx, history.Entry{
		UserText:  text,
		CreatedAt: e.opts.Clock.Now(),
		Emotion:   emotion.Neutral,
		Important: important,
	})
	if err != nil {
		e.metrics.PersistenceFailure(storage.KeyHistory)
		errs = append(errs, err)
	}
	e.metrics.HistorySize(e.history.Len())

	res := TurnResult{
		Context:        composer.Build(e.profile.GetProfile(), window, merge.Messages),
		Entry:          entry,
		Candidates:     cands,
		ProfileUpdated: merge.Updated,
		UpdateMessages: merge.Messages,
	}
	e.logger.Debug("turn processed",
		"entry", entry.ID,
		"candidates", len(cands),
		"profile_updated", merge.Updated,
		"important", important,
	)
	return res, errors.Join(errs...)
}

// CompleteConversation records the response for entry and applies the
// affinity delta.
func (e *Engine) CompleteConversation(ctx context.Context, entry history.Entry, responseText string, emo emotion.Emotion, affinityDelta int) error {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	err := e.history.Complete(ctx, entry.ID, responseText, emo, affinityDelta)
	if errors.Is(err, history.ErrEntryNotFound) {
		return err
	}

	e.affMu.Lock()
	e.affinity = clampAffinity(e.affinity + affinityDelta)
	aff := e.affinity
	e.affMu.Unlock()
	e.metrics.Affinity(aff)

	if err != nil {
		e.metrics.PersistenceFailure(storage.KeyHistory)
		return err
	}
	return nil
}

// RunRetentionPass expires history entries relative to now and returns how
// many were removed.
func (e *Engine) RunRetentionPass(ctx context.Context, now time.Time) (int, error) {
	n, err := e.history.Expire(ctx, now)
	e.metrics.Expired(n)
	e.metrics.HistorySize(e.history.Len())
	if err != nil {
		e.metrics.PersistenceFailure(storage.KeyHistory)
		return n, err
	}
	if n > 0 {
		e.logger.Info("expired conversation entries", "removed", n)
	}
	return n, nil
}

// Flush persists any profile or history changes whose earlier write failed.
func (e *Engine) Flush(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.profile.Flush(ctx) })
	g.Go(func() error { return e.history.Flush(ctx) })
	return g.Wait()
}

// Backup writes a backup of the profile and, when it has entries, of the
// history.
func (e *Engine) Backup(ctx context.Context) ([]storage.BackupInfo, error) {
	var (
		mu    sync.Mutex
		infos []storage.BackupInfo
	)
	backup := func(kind string, doc func() ([]byte, error)) func() error {
		return func() error {
			data, err := doc()
			if err != nil {
				return err
			}
			info, err := e.backend.Backup(ctx, kind, data)
			if err != nil {
				return fmt.Errorf("backing up %s: %w", kind, err)
			}
			e.metrics.Backup(kind)
			mu.Lock()
			infos = append(infos, info)
			mu.Unlock()
			return nil
		}
	}

	var g errgroup.Group
	g.Go(backup(storage.KeyProfile, e.profile.Document))
	if e.history.Len() > 0 {
		g.Go(backup(storage.KeyHistory, e.history.Document))
	}
	err := g.Wait()
	return infos, err
}

// Reset forgets everything: the profile is emptied and a new session starts.
func (e *Engine) Reset(ctx context.Context) error {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	errP := e.profile.Reset(ctx)
	errH := e.history.Reset(ctx)
	e.metrics.HistorySize(0)
	return errors.Join(errP, errH)
}

// ResetProfile empties only the profile.
func (e *Engine) ResetProfile(ctx context.Context) error {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()
	return e.profile.Reset(ctx)
}

// ResetHistory starts a new, empty session without touching the profile.
func (e *Engine) ResetHistory(ctx context.Context) error {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()
	err := e.history.Reset(ctx)
	e.metrics.HistorySize(0)
	return err
}

// Remember stores text as an explicit note.
func (e *Engine) Remember(ctx context.Context, text string) (profile.MergeResult, error) {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()
	return e.profile.Remember(ctx, text, profile.OriginExplicit)
}

// Profile returns a copy of the current profile.
func (e *Engine) Profile() profile.Profile {
	return e.profile.GetProfile()
}

// History returns a copy of the whole retained history.
func (e *Engine) History() history.History {
	return e.history.Snapshot()
}

// Recent returns up to n of the latest entries, oldest first.
func (e *Engine) Recent(n int) []history.Entry {
	return e.history.Recent(n)
}

// Affinity returns the current affinity score (0-100).
func (e *Engine) Affinity() int {
	e.affMu.RLock()
	defer e.affMu.RUnlock()
	return e.affinity
}

// Extract runs extraction only, without touching any state.
func (e *Engine) Extract(text string) []extract.Candidate {
	return e.extractor.Extract(text)
}

// Stats reports what the backend holds.
func (e *Engine) Stats(ctx context.Context) (storage.Stats, error) {
	return e.backend.Stats(ctx)
}

// ListBackups lists stored backups, newest first.
func (e *Engine) ListBackups(ctx context.Context) ([]storage.BackupInfo, error) {
	return e.backend.ListBackups(ctx)
}

func clampAffinity(v int) int {
	return max(0, min(100, v))
}
