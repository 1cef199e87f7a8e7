// Package metrics exposes prometheus collectors for the anonymization engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Detection sources.
const (
	SourcePattern = "pattern"
	SourceNER     = "ner"
	SourceSweep   = "sweep"
)

// Metrics holds the engine collectors.
type Metrics struct {
	entitiesDetected     *prometheus.CounterVec
	anonymizations       *prometheus.CounterVec
	entitySourceFailures *prometheus.CounterVec
	anonymizeDuration    *prometheus.HistogramVec
	sessionsBurned       prometheus.Counter
}

// New registers the collectors with reg, or the default registerer when reg
// is nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entitiesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anonymizer",
			Name:      "entities_detected_total",
			Help:      "Entities substituted, by class and detection source",
		}, []string{"entity_class", "source"}),
		anonymizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anonymizer",
			Name:      "anonymizations_total",
			Help:      "Anonymization calls, by kind and detected context",
		}, []string{"kind", "context"}),
		entitySourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anonymizer",
			Name:      "entity_source_failures_total",
			Help:      "Entity source calls that degraded to an empty result",
		}, []string{"reason"}),
		anonymizeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anonymizer",
			Name:      "anonymize_duration_seconds",
			Help:      "Latency of anonymization calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		sessionsBurned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anonymizer",
			Name:      "sessions_burned_total",
			Help:      "Sessions whose mapping store was destroyed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.entitiesDetected, m.anonymizations, m.entitySourceFailures, m.anonymizeDuration, m.sessionsBurned)
	return m
}

func (m *Metrics) ObserveEntities(class, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.entitiesDetected.WithLabelValues(class, source).Add(float64(n))
}

func (m *Metrics) ObserveAnonymization(kind, context string, seconds float64) {
	if m == nil {
		return
	}
	m.anonymizations.WithLabelValues(kind, context).Inc()
	m.anonymizeDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) ObserveEntitySourceFailure(reason string) {
	if m == nil {
		return
	}
	m.entitySourceFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveSessionBurned() {
	if m == nil {
		return
	}
	m.sessionsBurned.Inc()
}
