package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics: RED-метрики HTTP API процесса (леджер или витрина). route: шаблон маршрута, не сырой путь.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics() *HTTPMetrics {
	return NewHTTPMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewHTTPMetricsWithRegisterer(registerer prometheus.Registerer) *HTTPMetrics {
	return &HTTPMetrics{
		requests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "HTTP requests served by the process API",
		}, []string{"method", "route", "status"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "http_server_request_duration_seconds",
			Help:    "HTTP request latency of the process API",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *HTTPMetrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// BreakerMetrics отслеживает состояние circuit breaker клиента леджера.
type BreakerMetrics struct {
	state    prometheus.Gauge
	rejected prometheus.Counter
	trips    prometheus.Counter
}

func NewBreakerMetrics() *BreakerMetrics {
	return NewBreakerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewBreakerMetricsWithRegisterer(registerer prometheus.Registerer) *BreakerMetrics {
	return &BreakerMetrics{
		state: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "market_ledger_breaker_state",
			Help: "Ledger client circuit breaker state: 0 closed, 1 open, 2 half-open",
		}),
		rejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_ledger_breaker_rejected_total",
			Help: "Ledger calls rejected while the breaker was open",
		}),
		trips: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_ledger_breaker_trips_total",
			Help: "Times the ledger circuit breaker opened",
		}),
	}
}

func (m *BreakerMetrics) SetState(state int) {
	m.state.Set(float64(state))
}

func (m *BreakerMetrics) RecordRejected() {
	m.rejected.Inc()
}

func (m *BreakerMetrics) RecordTrip() {
	m.trips.Inc()
}
