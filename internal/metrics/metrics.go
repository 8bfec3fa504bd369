package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

// Namespace prefixes every collector name.
const Namespace = "throttle"

// Metrics exports limiter events as Prometheus collectors. It implements
// limiter.Observer.
type Metrics struct {
	// Admission outcomes
	decisions *prometheus.CounterVec

	// Current limiter state
	occupancy *prometheus.GaugeVec
	tokens    *prometheus.GaugeVec

	// Time spent blocked in Acquire
	waitDuration *prometheus.HistogramVec
}

// New creates a Metrics instance and registers its collectors with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "decisions_total",
				Help:      "Total number of limiter outcomes by kind",
			},
			[]string{"limiter", "result"},
		),

		occupancy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "window_occupancy",
				Help:      "Admissions currently counted in the sliding window",
			},
			[]string{"limiter"},
		),

		tokens: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "bucket_tokens",
				Help:      "Tokens currently available in the bucket",
			},
			[]string{"limiter"},
		),

		waitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "wait_duration_seconds",
				Help:      "Time blocking callers waited before admission or timeout",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"limiter", "result"},
		),
	}
}

// Observe records one limiter event.
func (m *Metrics) Observe(e limiter.Event) {
	result := string(e.Kind)
	m.decisions.WithLabelValues(e.Limiter, result).Inc()
	m.occupancy.WithLabelValues(e.Limiter).Set(float64(e.Occupancy))
	if e.Tokens != nil {
		m.tokens.WithLabelValues(e.Limiter).Set(*e.Tokens)
	}
	if e.Waited > 0 {
		m.waitDuration.WithLabelValues(e.Limiter, result).Observe(e.Waited.Seconds())
	}
}

// RecordStats refreshes the state gauges from a snapshot. Gauges otherwise
// only move when an event fires, so idle limiters would report stale values.
func (m *Metrics) RecordStats(stats []limiter.Stats) {
	for _, s := range stats {
		m.occupancy.WithLabelValues(s.Name).Set(float64(s.WindowOccupancy))
		if s.Bucket != nil {
			m.tokens.WithLabelValues(s.Name).Set(s.Bucket.Tokens)
		}
	}
}
