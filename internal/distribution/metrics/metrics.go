package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the distribution module.
type Metrics struct {
	// Slice releases by level and outcome
	SliceOutcome *prometheus.CounterVec

	// Cumulative ALTAN released from the citizen pool
	Released prometheus.Counter

	// Registered citizens
	Registered prometheus.Counter

	// Wallet mirror outcomes
	MirrorOutcome *prometheus.CounterVec
}

// New creates a new Metrics instance with all distribution module metrics registered.
func New() *Metrics {
	return &Metrics{
		SliceOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "khural_distribution_slices_total",
			Help: "Total slice release outcomes by verification level and outcome",
		}, []string{"level", "outcome"}), // outcome: "released", "nothing_due", "error"

		Released: promauto.NewCounter(prometheus.CounterOpts{
			Name: "khural_distribution_released_altan_total",
			Help: "Cumulative ALTAN released from the citizen pool",
		}),

		Registered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "khural_distribution_registered_citizens_total",
			Help: "Citizens registered for distribution",
		}),

		MirrorOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "khural_distribution_wallet_mirror_total",
			Help: "Wallet mirror attempts by outcome",
		}, []string{"outcome"}), // outcome: "ok", "failed", "disabled"
	}
}

// IncrementSlice records a slice release outcome.
func (m *Metrics) IncrementSlice(level, outcome string) {
	if m != nil {
		m.SliceOutcome.WithLabelValues(level, outcome).Inc()
	}
}

// AddReleased records ALTAN released from the citizen pool.
func (m *Metrics) AddReleased(amount float64) {
	if m != nil {
		m.Released.Add(amount)
	}
}

// IncrementRegistered records one citizen registration.
func (m *Metrics) IncrementRegistered() {
	if m != nil {
		m.Registered.Inc()
	}
}

// IncrementMirror records a wallet mirror outcome.
func (m *Metrics) IncrementMirror(outcome string) {
	if m != nil {
		m.MirrorOutcome.WithLabelValues(outcome).Inc()
	}
}
