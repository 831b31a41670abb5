package service

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics manages Prometheus metrics for the extraction pipeline.
// A nil *Metrics records nothing.
type Metrics struct {
	strategyOutcomes   *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	samplesReturned    *prometheus.HistogramVec
	sessionRefreshes   prometheus.Counter
	registered         bool
	mu                 sync.Mutex
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		strategyOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmk_history_strategy_outcomes_total",
				Help: "Count of extraction strategy attempts by stage, strategy and outcome",
			},
			[]string{"stage", "strategy", "outcome"},
		),
		extractionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cmk_history_extraction_duration_seconds",
				Help:    "Duration of complete history extractions",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"result"},
		),
		samplesReturned: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cmk_history_samples_returned",
				Help:    "Number of samples returned per extraction",
				Buckets: []float64{0, 1, 5, 25, 100, 500, 1000, 5000},
			},
			[]string{"period"},
		),
		sessionRefreshes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cmk_history_session_refreshes_total",
				Help: "Count of re-authentications triggered by expired sessions",
			},
		),
	}
}

// Register registers metrics with the given registerer, once
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	for _, c := range []prometheus.Collector{
		m.strategyOutcomes,
		m.extractionDuration,
		m.samplesReturned,
		m.sessionRefreshes,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// RecordOutcome counts one strategy attempt
func (m *Metrics) RecordOutcome(stage, strategy string, status OutcomeStatus) {
	if m == nil {
		return
	}
	m.strategyOutcomes.WithLabelValues(stage, strategy, status.String()).Inc()
}

// ObserveExtraction records the duration and size of a finished extraction
func (m *Metrics) ObserveExtraction(result, period string, durationSeconds float64, samples int) {
	if m == nil {
		return
	}
	m.extractionDuration.WithLabelValues(result).Observe(durationSeconds)
	m.samplesReturned.WithLabelValues(period).Observe(float64(samples))
}

// RecordSessionRefresh counts a re-authentication
func (m *Metrics) RecordSessionRefresh() {
	if m == nil {
		return
	}
	m.sessionRefreshes.Inc()
}
