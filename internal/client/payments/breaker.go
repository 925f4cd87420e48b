package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/metrics"
)

// ErrCircuitOpen: вызов отклонён без обращения к леджеру.
var ErrCircuitOpen = errors.New("ledger circuit breaker is open")

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкается после maxFailures подряд неудач и пропускает пробный вызов через resetTimeout.
// Бизнес-отказы леджера (нет денег, нет hold) неудачей не считаются.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *log.Entry
	metrics      *metrics.BreakerMetrics

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	probing     bool
}

// NewCircuitBreaker создаёт circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry, m *metrics.BreakerMetrics) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       logger,
		metrics:      m,
		state:        CircuitClosed,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет fn через breaker.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	if err := cb.before(operation); err != nil {
		return err
	}
	err := fn()
	cb.after(operation, err)
	return err
}

func (cb *CircuitBreaker) before(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.reject()
			return fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, ErrCircuitOpen)
		}
		cb.setState(CircuitHalfOpen)
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	case CircuitHalfOpen:
		// Пока пробный вызов не вернулся, остальные отклоняются.
		if cb.probing {
			cb.reject()
			return fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, ErrCircuitOpen)
		}
	}
	if cb.state == CircuitHalfOpen {
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) after(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if errors.Is(err, domain.ErrLedgerUnavailable) {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen && cb.metrics != nil {
				cb.metrics.RecordTrip()
			}
			cb.setState(CircuitOpen)
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.setState(CircuitClosed)
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.failures = 0
}

func (cb *CircuitBreaker) reject() {
	if cb.metrics != nil {
		cb.metrics.RecordRejected()
	}
}

func (cb *CircuitBreaker) setState(state CircuitState) {
	cb.state = state
	if cb.metrics != nil {
		cb.metrics.SetState(int(state))
	}
}

// BreakerLedger оборачивает удалённый леджер circuit breaker-ом.
type BreakerLedger struct {
	next    domain.PaymentLedger
	breaker *CircuitBreaker
}

// NewBreakerLedger создаёт декоратор.
func NewBreakerLedger(next domain.PaymentLedger, breaker *CircuitBreaker) *BreakerLedger {
	return &BreakerLedger{next: next, breaker: breaker}
}

func (b *BreakerLedger) Balance(ctx context.Context) (int64, error) {
	var balance int64
	err := b.breaker.Execute("balance", func() error {
		var err error
		balance, err = b.next.Balance(ctx)
		return err
	})
	return balance, err
}

func (b *BreakerLedger) Replenish(ctx context.Context, amountMinor int64) error {
	return b.breaker.Execute("replenish", func() error {
		return b.next.Replenish(ctx, amountMinor)
	})
}

func (b *BreakerLedger) Hold(ctx context.Context, amountMinor int64) (string, error) {
	var holdID string
	err := b.breaker.Execute("hold", func() error {
		var err error
		holdID, err = b.next.Hold(ctx, amountMinor)
		return err
	})
	return holdID, err
}

func (b *BreakerLedger) Confirm(ctx context.Context, holdID string) error {
	return b.breaker.Execute("confirm", func() error {
		return b.next.Confirm(ctx, holdID)
	})
}

func (b *BreakerLedger) Cancel(ctx context.Context, holdID string) error {
	return b.breaker.Execute("cancel", func() error {
		return b.next.Cancel(ctx, holdID)
	})
}

var _ domain.PaymentLedger = (*BreakerLedger)(nil)
