package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the state anchor module.
type Metrics struct {
	// Per-category anchor outcomes
	AnchorOutcome *prometheus.CounterVec

	// Leaves committed per category
	Leaves *prometheus.CounterVec

	// External ledger publish duration
	PublishLatency prometheus.Histogram
}

// New creates a new Metrics instance with all anchor module metrics registered.
func New() *Metrics {
	return &Metrics{
		AnchorOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "khural_anchor_outcomes_total",
			Help: "Anchor run outcomes by category",
		}, []string{"category", "outcome"}), // outcome: "published", "skipped", "failed", "empty"

		Leaves: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "khural_anchor_leaves_total",
			Help: "Leaves committed to anchors by category",
		}, []string{"category"}),

		PublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "khural_anchor_publish_duration_seconds",
			Help:    "Duration of an external ledger anchor publish",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
	}
}

// IncrementOutcome records one anchor outcome.
func (m *Metrics) IncrementOutcome(category, outcome string) {
	if m != nil {
		m.AnchorOutcome.WithLabelValues(category, outcome).Inc()
	}
}

// AddLeaves records the leaves committed in one anchor.
func (m *Metrics) AddLeaves(category string, n int) {
	if m != nil {
		m.Leaves.WithLabelValues(category).Add(float64(n))
	}
}

// ObservePublishLatency records one publish duration.
func (m *Metrics) ObservePublishLatency(d time.Duration) {
	if m != nil {
		m.PublishLatency.Observe(d.Seconds())
	}
}
