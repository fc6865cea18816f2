// Package metrics provides Prometheus collectors for the cache tiers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the cache collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Lookups            *prometheus.CounterVec
	SemanticSimilarity prometheus.Histogram
	Saves              *prometheus.CounterVec
	StoreRetries       *prometheus.CounterVec
	ValidatorVerdicts  *prometheus.CounterVec
	Cleaned            *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "askcache_lookups_total",
			Help: "Cache lookups by tier, result and match level",
		}, []string{"tier", "result", "level"}),
		SemanticSimilarity: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "askcache_semantic_similarity",
			Help:    "Best cosine similarity found during semantic lookups",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.92, 0.94, 0.96, 0.98, 1},
		}),
		Saves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "askcache_saves_total",
			Help: "Cache writes by tier and outcome",
		}, []string{"tier", "outcome"}),
		StoreRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "askcache_store_retries_total",
			Help: "Store operations retried after lock contention",
		}, []string{"op"}),
		ValidatorVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "askcache_validator_verdicts_total",
			Help: "Equivalence validator verdicts",
		}, []string{"verdict"}),
		Cleaned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "askcache_cleaned_entries_total",
			Help: "Expired entries removed by cleanup",
		}, []string{"tier"}),
	}
}

// Lookup records one cache resolution.
func (m *Metrics) Lookup(tier, result, level string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(tier, result, level).Inc()
}

// Similarity records the best similarity score of a semantic scan.
func (m *Metrics) Similarity(score float64) {
	if m == nil {
		return
	}
	m.SemanticSimilarity.Observe(score)
}

// Save records a write attempt outcome: saved, rejected, duplicate or dropped.
func (m *Metrics) Save(tier, outcome string) {
	if m == nil {
		return
	}
	m.Saves.WithLabelValues(tier, outcome).Inc()
}

// Retry records one busy retry of a store operation.
func (m *Metrics) Retry(op string) {
	if m == nil {
		return
	}
	m.StoreRetries.WithLabelValues(op).Inc()
}

// Verdict records a validator verdict.
func (m *Metrics) Verdict(v string) {
	if m == nil {
		return
	}
	m.ValidatorVerdicts.WithLabelValues(v).Inc()
}

// Clean records entries removed by cleanup.
func (m *Metrics) Clean(tier string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Cleaned.WithLabelValues(tier).Add(float64(n))
}
