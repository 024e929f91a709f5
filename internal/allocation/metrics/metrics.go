package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the allocation module.
type Metrics struct {
	// Allocation outcomes by tier
	AllocationOutcome *prometheus.CounterVec
}

// New creates a new Metrics instance with all allocation module metrics registered.
func New() *Metrics {
	return &Metrics{
		AllocationOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "khural_allocation_outcomes_total",
			Help: "Total tier allocation outcomes by level and outcome",
		}, []string{"level", "outcome"}), // outcome: "granted", "already_allocated", "denied", "error"
	}
}

// IncrementOutcome records an allocation outcome.
func (m *Metrics) IncrementOutcome(level, outcome string) {
	if m != nil {
		m.AllocationOutcome.WithLabelValues(level, outcome).Inc()
	}
}
