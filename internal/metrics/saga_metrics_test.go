package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewSagaMetrics(t *testing.T) {
	metrics := NewSagaMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("NewSagaMetricsWithRegisterer should not return nil")
	}
	if metrics.sagaStarted == nil || metrics.sagaCompleted == nil || metrics.sagaFailed == nil {
		t.Error("outcome counters should not be nil")
	}
	if metrics.sagaDuration == nil || metrics.stepDuration == nil {
		t.Error("duration histograms should not be nil")
	}
	if metrics.activeSagas == nil {
		t.Error("activeSagas gauge should not be nil")
	}
}

func TestSagaMetrics_StartedAndFinished(t *testing.T) {
	metrics := NewSagaMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordSagaStarted()
	metrics.RecordSagaStarted()

	if got := counterValue(t, metrics.sagaStarted); got != 2 {
		t.Errorf("expected started 2, got %f", got)
	}
	if got := gaugeValue(t, metrics.activeSagas); got != 2 {
		t.Errorf("expected active sagas 2, got %f", got)
	}

	metrics.RecordSagaFinished(15 * time.Millisecond)

	if got := gaugeValue(t, metrics.activeSagas); got != 1 {
		t.Errorf("expected active sagas 1, got %f", got)
	}

	histogram := &dto.Metric{}
	if err := metrics.sagaDuration.Write(histogram); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histogram.Histogram.GetSampleCount() != 1 {
		t.Errorf("expected one duration sample, got %d", histogram.Histogram.GetSampleCount())
	}
}

func TestSagaMetrics_FailedByReason(t *testing.T) {
	metrics := NewSagaMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordSagaFailed("hold")
	metrics.RecordSagaFailed("hold")
	metrics.RecordSagaFailed("persist")

	if got := counterValue(t, metrics.sagaFailed.WithLabelValues("hold")); got != 2 {
		t.Errorf("expected hold failures 2, got %f", got)
	}
	if got := counterValue(t, metrics.sagaFailed.WithLabelValues("persist")); got != 1 {
		t.Errorf("expected persist failures 1, got %f", got)
	}
}

func TestSagaMetrics_CompensationCounters(t *testing.T) {
	metrics := NewSagaMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordSagaCompleted()
	metrics.RecordSagaCompensated()
	metrics.RecordDoubleFault()
	metrics.RecordConfirmFailed()
	metrics.RecordJournalRecord()
	metrics.RecordEventPublished()

	for name, c := range map[string]prometheus.Counter{
		"completed":   metrics.sagaCompleted,
		"compensated": metrics.sagaCompensated,
		"double":      metrics.doubleFaults,
		"confirm":     metrics.confirmFailures,
		"journal":     metrics.journalRecords,
		"events":      metrics.publishedEvents,
	} {
		if got := counterValue(t, c); got != 1 {
			t.Errorf("%s: expected 1, got %f", name, got)
		}
	}
}

func TestRecordStepDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewSagaMetricsWithRegisterer(reg)

	metrics.RecordStepDuration("hold", 5*time.Millisecond)
	metrics.RecordStepDuration("hold", 7*time.Millisecond)
	metrics.RecordStepDuration("persist", 3*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var found bool
	for _, family := range families {
		if family.GetName() != "market_saga_step_duration_seconds" {
			continue
		}
		found = true
		if len(family.GetMetric()) != 2 {
			t.Errorf("expected 2 step series, got %d", len(family.GetMetric()))
		}
	}
	if !found {
		t.Fatal("step duration family not gathered")
	}
}

func TestRegister_AlreadyRegisteredReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewSagaMetricsWithRegisterer(reg)
	second := NewSagaMetricsWithRegisterer(reg)

	first.RecordSagaCompleted()

	if got := counterValue(t, second.sagaCompleted); got != 1 {
		t.Errorf("expected shared counter value 1, got %f", got)
	}
}

func TestRegister_ConflictingTypePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "market_saga_started_total",
		Help: "Saga started counter",
	}))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on type mismatch")
		}
	}()

	NewSagaMetricsWithRegisterer(reg)
}
