package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics: метрики платёжного леджера.
type LedgerMetrics struct {
	holds      *prometheus.CounterVec
	closed     *prometheus.CounterVec
	replenish  prometheus.Counter
	casRetries prometheus.Counter

	balance   prometheus.Gauge
	held      prometheus.Gauge
	openHolds prometheus.Gauge
}

func NewLedgerMetrics() *LedgerMetrics {
	return NewLedgerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewLedgerMetricsWithRegisterer(registerer prometheus.Registerer) *LedgerMetrics {
	return &LedgerMetrics{
		holds: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "payments_ledger_holds_total",
			Help: "Hold attempts by outcome (placed, insufficient_funds)",
		}, []string{"outcome"}),
		closed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "payments_ledger_holds_closed_total",
			Help: "Confirm and cancel calls by result (ok, not_found)",
		}, []string{"op", "result"}),
		replenish: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payments_ledger_replenish_total",
			Help: "Total number of balance replenishments",
		}),
		casRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payments_ledger_cas_retries_total",
			Help: "Lost compare-and-swap rounds in the hold loop",
		}),
		balance: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "payments_ledger_balance_minor",
			Help: "Available balance in minor units",
		}),
		held: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "payments_ledger_held_minor",
			Help: "Sum of open holds in minor units",
		}),
		openHolds: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "payments_ledger_open_holds",
			Help: "Number of open holds",
		}),
	}
}

func (m *LedgerMetrics) RecordHoldPlaced() {
	m.holds.WithLabelValues("placed").Inc()
}

func (m *LedgerMetrics) RecordHoldRejected() {
	m.holds.WithLabelValues("insufficient_funds").Inc()
}

// RecordHoldClosed учитывает confirm/cancel; found=false означает HoldNotFound.
func (m *LedgerMetrics) RecordHoldClosed(op string, found bool) {
	result := "ok"
	if !found {
		result = "not_found"
	}
	m.closed.WithLabelValues(op, result).Inc()
}

func (m *LedgerMetrics) RecordReplenish() {
	m.replenish.Inc()
}

func (m *LedgerMetrics) RecordCASRetry() {
	m.casRetries.Inc()
}

// ObserveSnapshot выставляет gauges по снимку леджера.
func (m *LedgerMetrics) ObserveSnapshot(balanceMinor, heldMinor int64, openHolds int) {
	m.balance.Set(float64(balanceMinor))
	m.held.Set(float64(heldMinor))
	m.openHolds.Set(float64(openHolds))
}
