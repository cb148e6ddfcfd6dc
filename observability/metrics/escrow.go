package metrics

import (
	"math"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records escrow operation outcomes and the current funding
// position. A nil receiver is valid and records nothing.
type EscrowMetrics struct {
	operations  *prometheus.CounterVec
	delegations *prometheus.CounterVec
	totalFunds  prometheus.Gauge
	unpaidFunds prometheus.Gauge
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// NewEscrowMetrics builds the escrow collectors and registers them with reg.
// A nil registerer leaves the collectors unregistered.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	m := &EscrowMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "operations_total",
			Help:      "Escrow mutations segmented by operation and outcome code.",
		}, []string{"operation", "outcome"}),
		delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "delegation_callbacks_total",
			Help:      "Delegation callbacks segmented by outcome code and whether both factories succeeded.",
		}, []string{"outcome", "created"}),
		totalFunds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "total_funds",
			Help:      "Funds currently held by the escrow in base units.",
		}),
		unpaidFunds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "unpaid_funds",
			Help:      "Remaining deposit headroom before the funding limit in base units.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.delegations, m.totalFunds, m.unpaidFunds)
	}
	return m
}

// Escrow returns the process-wide escrow metrics registered with the default
// Prometheus registry.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = NewEscrowMetrics(prometheus.DefaultRegisterer)
	})
	return escrowRegistry
}

func (m *EscrowMetrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *EscrowMetrics) ObserveDelegation(outcome string, created bool) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	label := "false"
	if created {
		label = "true"
	}
	m.delegations.WithLabelValues(outcome, label).Inc()
}

// SetFunds publishes the funding position. Gauges are float64, so very large
// amounts lose precision.
func (m *EscrowMetrics) SetFunds(total, unpaid *uint256.Int) {
	if m == nil {
		return
	}
	m.totalFunds.Set(amountToFloat(total))
	m.unpaidFunds.Set(amountToFloat(unpaid))
}

func amountToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	if v.IsUint64() {
		return float64(v.Uint64())
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
