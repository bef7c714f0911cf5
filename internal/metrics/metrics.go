// Package metrics exposes Prometheus counters for the memory engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	turns               prometheus.Counter
	candidates          *prometheus.CounterVec
	profileUpdates      prometheus.Counter
	persistenceFailures *prometheus.CounterVec
	expiredEntries      prometheus.Counter
	historySize         prometheus.Gauge
	affinity            prometheus.Gauge
	backups             *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		turns: f.NewCounter(prometheus.CounterOpts{
			Name: "bella_turns_total",
			Help: "Total number of processed user messages",
		}),
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bella_extracted_candidates_total",
			Help: "Extracted fact candidates by type",
		}, []string{"type"}),
		profileUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "bella_profile_updates_total",
			Help: "Turns that changed the user profile",
		}),
		persistenceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bella_persistence_failures_total",
			Help: "Failed writes to the persistent store by document",
		}, []string{"document"}),
		expiredEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "bella_history_expired_total",
			Help: "Conversation entries removed by retention passes",
		}),
		historySize: f.NewGauge(prometheus.GaugeOpts{
			Name: "bella_history_entries",
			Help: "Conversation entries currently retained",
		}),
		affinity: f.NewGauge(prometheus.GaugeOpts{
			Name: "bella_affinity",
			Help: "Current affinity score (0-100)",
		}),
		backups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bella_backups_total",
			Help: "Backups written by document",
		}, []string{"document"}),
	}
}

func (m *Metrics) Turn() {
	if m != nil {
		m.turns.Inc()
	}
}

func (m *Metrics) Candidate(factType string) {
	if m != nil {
		m.candidates.WithLabelValues(factType).Inc()
	}
}

func (m *Metrics) ProfileUpdated() {
	if m != nil {
		m.profileUpdates.Inc()
	}
}

func (m *Metrics) PersistenceFailure(document string) {
	if m != nil {
		m.persistenceFailures.WithLabelValues(document).Inc()
	}
}

func (m *Metrics) Expired(n int) {
	if m != nil {
		m.expiredEntries.Add(float64(n))
	}
}

func (m *Metrics) HistorySize(n int) {
	if m != nil {
		m.historySize.Set(float64(n))
	}
}

func (m *Metrics) Affinity(v int) {
	if m != nil {
		m.affinity.Set(float64(v))
	}
}

func (m *Metrics) Backup(document string) {
	if m != nil {
		m.backups.WithLabelValues(document).Inc()
	}
}

// Gatherer returns the registry for inspection in tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
