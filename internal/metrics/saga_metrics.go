package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики саги оформления заказа.
type SagaMetrics struct {
	// Счётчики исходов
	sagaStarted     prometheus.Counter
	sagaCompleted   prometheus.Counter
	sagaFailed      *prometheus.CounterVec
	sagaCompensated prometheus.Counter
	doubleFaults    prometheus.Counter
	confirmFailures prometheus.Counter

	// Гистограммы времени выполнения
	sagaDuration prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	journalRecords  prometheus.Counter
	publishedEvents prometheus.Counter

	// Gauge для активных саг
	activeSagas prometheus.Gauge
}

// NewSagaMetrics создаёт метрики саги в глобальном реестре.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer создаёт метрики в указанном реестре (изолированные реестры в тестах).
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	return &SagaMetrics{
		sagaStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_saga_started_total",
			Help: "Total number of order sagas started",
		}),
		sagaCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_saga_completed_total",
			Help: "Total number of order sagas that persisted an order",
		}),
		sagaFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "market_saga_failed_total",
			Help: "Total number of order sagas that returned an error, by reason",
		}, []string{"reason"}),
		sagaCompensated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_saga_compensated_total",
			Help: "Total number of holds cancelled after a persistence failure",
		}),
		doubleFaults: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_saga_double_fault_total",
			Help: "Total number of sagas where both persistence and cancel failed",
		}),
		confirmFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_saga_confirm_failed_total",
			Help: "Total number of persisted orders whose hold confirm failed",
		}),
		sagaDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "market_saga_duration_seconds",
			Help:    "Duration of order sagas in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "market_saga_step_duration_seconds",
			Help:    "Duration of individual saga steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		journalRecords: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_saga_journal_records_total",
			Help: "Total number of saga journal records appended",
		}),
		publishedEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_saga_events_published_total",
			Help: "Total number of saga events published to the message bus",
		}),
		activeSagas: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "market_active_sagas",
			Help: "Number of order sagas currently in flight",
		}),
	}
}

// RecordSagaStarted увеличивает счётчик запущенных саг и число активных.
func (m *SagaMetrics) RecordSagaStarted() {
	m.sagaStarted.Inc()
	m.activeSagas.Inc()
}

// RecordSagaFinished уменьшает количество активных саг и пишет длительность.
func (m *SagaMetrics) RecordSagaFinished(duration time.Duration) {
	m.activeSagas.Dec()
	m.sagaDuration.Observe(duration.Seconds())
}

func (m *SagaMetrics) RecordSagaCompleted() {
	m.sagaCompleted.Inc()
}

// RecordSagaFailed увеличивает счётчик неудачных саг с причиной (empty_cart, hold, persist...).
func (m *SagaMetrics) RecordSagaFailed(reason string) {
	m.sagaFailed.WithLabelValues(reason).Inc()
}

func (m *SagaMetrics) RecordSagaCompensated() {
	m.sagaCompensated.Inc()
}

func (m *SagaMetrics) RecordDoubleFault() {
	m.doubleFaults.Inc()
}

func (m *SagaMetrics) RecordConfirmFailed() {
	m.confirmFailures.Inc()
}

// RecordStepDuration записывает время выполнения шага саги.
func (m *SagaMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

func (m *SagaMetrics) RecordJournalRecord() {
	m.journalRecords.Inc()
}

func (m *SagaMetrics) RecordEventPublished() {
	m.publishedEvents.Inc()
}
