package api

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/bella/internal/metrics"
	"github.com/kalambet/bella/internal/pipeline"
	"github.com/kalambet/bella/internal/storage"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestEngine(t *testing.T) *pipeline.Engine {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	eng := pipeline.NewEngine(store, pipeline.Options{
		Clock:   fixedClock{testNow},
		Metrics: metrics.New(),
	})
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return eng
}
