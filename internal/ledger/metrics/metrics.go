package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger module.
type Metrics struct {
	// Transfer outcomes by category
	TransferOutcome *prometheus.CounterVec

	// Transfer amounts by category
	TransferAmount *prometheus.CounterVec

	// Full transfer latency including store round trips
	TransferLatency prometheus.Histogram
}

// New creates a new Metrics instance with all ledger module metrics registered.
func New() *Metrics {
	return &Metrics{
		TransferOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "khural_ledger_transfers_total",
			Help: "Total transfer outcomes by category and outcome",
		}, []string{"category", "outcome"}), // outcome: "completed", "rejected", "duplicate", "error"

		TransferAmount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "khural_ledger_transfer_amount_total",
			Help: "Total ALTAN moved by completed transfers, by category",
		}, []string{"category"}),

		TransferLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "khural_ledger_transfer_duration_seconds",
			Help:    "Duration of the full transfer operation including store round trips",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementOutcome records a transfer outcome.
func (m *Metrics) IncrementOutcome(category, outcome string) {
	if m != nil {
		m.TransferOutcome.WithLabelValues(category, outcome).Inc()
	}
}

// AddAmount records the amount moved by a completed transfer.
func (m *Metrics) AddAmount(category string, amount float64) {
	if m != nil {
		m.TransferAmount.WithLabelValues(category).Add(amount)
	}
}

// ObserveTransferLatency records the total transfer duration.
func (m *Metrics) ObserveTransferLatency(d time.Duration) {
	if m != nil {
		m.TransferLatency.Observe(d.Seconds())
	}
}
