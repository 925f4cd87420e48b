package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcileMetrics: метрики монитора зависших hold.
type ReconcileMetrics struct {
	orphaned   prometheus.Gauge
	scans      prometheus.Counter
	scanErrors prometheus.Counter
}

func NewReconcileMetrics() *ReconcileMetrics {
	return NewReconcileMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewReconcileMetricsWithRegisterer(registerer prometheus.Registerer) *ReconcileMetrics {
	return &ReconcileMetrics{
		orphaned: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "market_orphaned_holds",
			Help: "Saga runs stuck with a possibly orphaned hold, as of the last scan",
		}),
		scans: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_orphan_scans_total",
			Help: "Total number of orphaned-hold scans",
		}),
		scanErrors: registerCounter(registerer, prometheus.CounterOpts{
			Name: "market_orphan_scan_errors_total",
			Help: "Total number of failed orphaned-hold scans",
		}),
	}
}

// RecordScan фиксирует успешный проход и число найденных прогонов.
func (m *ReconcileMetrics) RecordScan(orphaned int) {
	m.scans.Inc()
	m.orphaned.Set(float64(orphaned))
}

func (m *ReconcileMetrics) RecordScanError() {
	m.scans.Inc()
	m.scanErrors.Inc()
}
