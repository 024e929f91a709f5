package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the UBI module.
type Metrics struct {
	// Per-citizen payment outcomes
	PaymentOutcome *prometheus.CounterVec

	// Full batch duration
	BatchLatency prometheus.Histogram

	// Eligible population seen by the last run
	EligiblePopulation prometheus.Gauge
}

// New creates a new Metrics instance with all UBI module metrics registered.
func New() *Metrics {
	return &Metrics{
		PaymentOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "khural_ubi_payments_total",
			Help: "Per-citizen UBI payment outcomes",
		}, []string{"outcome"}), // outcome: "paid", "skipped", "failed"

		BatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "khural_ubi_batch_duration_seconds",
			Help:    "Duration of a full UBI distribution run",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),

		EligiblePopulation: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "khural_ubi_eligible_population",
			Help: "Eligible citizens seen by the most recent run",
		}),
	}
}

// IncrementOutcome records one per-citizen outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.PaymentOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveBatchLatency records a full run duration.
func (m *Metrics) ObserveBatchLatency(d time.Duration) {
	if m != nil {
		m.BatchLatency.Observe(d.Seconds())
	}
}

// SetEligible records the eligible population size.
func (m *Metrics) SetEligible(n int) {
	if m != nil {
		m.EligiblePopulation.Set(float64(n))
	}
}
