package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics exposes the pool-level counters and gauges the lending
// engine reports through its metrics sink.
type LendingMetrics struct {
	originations *prometheus.CounterVec
	repayments   *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	defaults     *prometheus.CounterVec
	utilization  *prometheus.GaugeVec
	borrowRate   *prometheus.GaugeVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide lending metrics registry, registering the
// collectors on first use.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			originations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_originations_total",
				Help: "Count of funded loans per pool.",
			}, []string{"pool"}),
			repayments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_repayments_total",
				Help: "Count of repayment transactions per pool.",
			}, []string{"pool"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_liquidations_total",
				Help: "Count of executed liquidation events per pool.",
			}, []string{"pool"}),
			defaults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_defaults_total",
				Help: "Count of obligations closed in default per pool.",
			}, []string{"pool"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_pool_utilization_bps",
				Help: "Current pool utilization in basis points.",
			}, []string{"pool"}),
			borrowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_pool_borrow_rate_bps",
				Help: "Current pool borrow rate in basis points.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			lendingRegistry.originations,
			lendingRegistry.repayments,
			lendingRegistry.liquidations,
			lendingRegistry.defaults,
			lendingRegistry.utilization,
			lendingRegistry.borrowRate,
		)
	})
	return lendingRegistry
}

func (m *LendingMetrics) ObserveOrigination(pool string) {
	if m == nil {
		return
	}
	m.originations.WithLabelValues(pool).Inc()
}

func (m *LendingMetrics) ObserveRepayment(pool string) {
	if m == nil {
		return
	}
	m.repayments.WithLabelValues(pool).Inc()
}

func (m *LendingMetrics) ObserveLiquidation(pool string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(pool).Inc()
}

func (m *LendingMetrics) ObserveDefault(pool string) {
	if m == nil {
		return
	}
	m.defaults.WithLabelValues(pool).Inc()
}

func (m *LendingMetrics) SetUtilization(pool string, bps uint64) {
	if m == nil {
		return
	}
	m.utilization.WithLabelValues(pool).Set(float64(bps))
}

func (m *LendingMetrics) SetBorrowRate(pool string, bps uint64) {
	if m == nil {
		return
	}
	m.borrowRate.WithLabelValues(pool).Set(float64(bps))
}
