// Package reconcile ищет прогоны саги, после которых в леджере мог остаться висящий hold.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/metrics"
)

const (
	defaultScanInterval = time.Minute
	defaultOrphanAge    = 5 * time.Minute
	defaultScanLimit    = 500
)

// MonitorOptions задает параметры монитора.
type MonitorOptions struct {
	Logger   *log.Entry
	Metrics  *metrics.ReconcileMetrics
	Interval time.Duration
	Age      time.Duration
	Limit    int
	Now      func() time.Time
}

// MonitorOption настраивает OrphanMonitor.
type MonitorOption func(*MonitorOptions)

// WithLogger задает logger для монитора.
func WithLogger(logger *log.Entry) MonitorOption {
	return func(opts *MonitorOptions) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.ReconcileMetrics) MonitorOption {
	return func(opts *MonitorOptions) {
		opts.Metrics = m
	}
}

// WithInterval задает интервал между проходами.
func WithInterval(interval time.Duration) MonitorOption {
	return func(opts *MonitorOptions) {
		opts.Interval = interval
	}
}

// WithAge задает, сколько прогон должен простоять, чтобы считаться зависшим.
func WithAge(age time.Duration) MonitorOption {
	return func(opts *MonitorOptions) {
		opts.Age = age
	}
}

// WithLimit ограничивает число записей за один проход.
func WithLimit(limit int) MonitorOption {
	return func(opts *MonitorOptions) {
		opts.Limit = limit
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) MonitorOption {
	return func(opts *MonitorOptions) {
		opts.Now = now
	}
}

// OrphanMonitor периодически сканирует журнал саги и сообщает о прогонах,
// застрявших после hold. В леджер монитор не ходит: вызовы без idempotency-ключа
// повторять вслепую нельзя, решение остаётся за оператором.
type OrphanMonitor struct {
	journal  domain.SagaJournal
	logger   *log.Entry
	metrics  *metrics.ReconcileMetrics
	interval time.Duration
	age      time.Duration
	limit    int
	now      func() time.Time

	mu   sync.RWMutex
	last []domain.SagaRecord
}

// NewOrphanMonitor создает монитор зависших hold.
func NewOrphanMonitor(journal domain.SagaJournal, options ...MonitorOption) *OrphanMonitor {
	opts := MonitorOptions{
		Interval: defaultScanInterval,
		Age:      defaultOrphanAge,
		Limit:    defaultScanLimit,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "orphan-monitor")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultScanInterval
	}
	if opts.Age <= 0 {
		opts.Age = defaultOrphanAge
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultScanLimit
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &OrphanMonitor{
		journal:  journal,
		logger:   logger,
		metrics:  opts.Metrics,
		interval: opts.Interval,
		age:      opts.Age,
		limit:    opts.Limit,
		now:      opts.Now,
	}
}

// Run сканирует журнал до отмены ctx.
func (m *OrphanMonitor) Run(ctx context.Context) {
	if m.journal == nil {
		m.logger.Warn("orphan monitor is disabled: journal is nil")
		return
	}

	m.scan(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *OrphanMonitor) scan(ctx context.Context) {
	orphans, err := m.Scan(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if m.metrics != nil {
			m.metrics.RecordScanError()
		}
		m.logger.WithError(err).Warn("orphaned hold scan failed")
		return
	}
	if m.metrics != nil {
		m.metrics.RecordScan(len(orphans))
	}

	for _, record := range orphans {
		entry := m.logger.WithFields(log.Fields{
			"run_id":       record.RunID,
			"state":        record.State,
			"hold_id":      record.HoldID,
			"order_id":     record.OrderID,
			"amount_minor": record.AmountMinor,
			"since":        record.Occurred.Format(time.RFC3339),
		})
		if record.State.IsAnomaly() {
			entry.WithField("reason", record.Reason).Error("saga ended with an unsettled hold, operator action required")
			continue
		}
		entry.Warn("saga run stuck after hold")
	}
}

// Scan возвращает прогоны, застрявшие дольше порога, и запоминает результат для Last.
func (m *OrphanMonitor) Scan(ctx context.Context) ([]domain.SagaRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	orphans, err := m.journal.Stale(ctx, m.now().Add(-m.age), m.limit)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.last = orphans
	m.mu.Unlock()
	return orphans, nil
}

// Last возвращает результат последнего успешного прохода.
func (m *OrphanMonitor) Last() []domain.SagaRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.SagaRecord, len(m.last))
	copy(result, m.last)
	return result
}
