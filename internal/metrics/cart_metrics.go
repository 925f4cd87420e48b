package metrics

import "github.com/prometheus/client_golang/prometheus"

// CartMetrics считает мутации корзины и конфликты optimistic locking.
type CartMetrics struct {
	mutations *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	exhausted *prometheus.CounterVec
}

func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	return &CartMetrics{
		mutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "market_cart_mutations_total",
			Help: "Successful cart mutations by operation",
		}, []string{"op"}),
		conflicts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "market_cart_version_conflicts_total",
			Help: "Version conflicts observed while mutating the cart",
		}, []string{"op"}),
		exhausted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "market_cart_retries_exhausted_total",
			Help: "Cart mutations that gave up after the last retry",
		}, []string{"op"}),
	}
}

func (m *CartMetrics) RecordMutation(op string) {
	m.mutations.WithLabelValues(op).Inc()
}

func (m *CartMetrics) RecordConflict(op string) {
	m.conflicts.WithLabelValues(op).Inc()
}

func (m *CartMetrics) RecordRetriesExhausted(op string) {
	m.exhausted.WithLabelValues(op).Inc()
}
