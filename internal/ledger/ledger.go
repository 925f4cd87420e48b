// Package ledger реализует платёжный леджер с одним общим балансом и таблицей открытых hold.
//
// Баланс меняется только атомарными операциями: hold через CAS-цикл, replenish и cancel
// через атомарное сложение. Таблица hold: sync.Map с insert-if-absent и remove-if-present,
// поэтому каждый hold закрывается ровно один раз. Общего мьютекса нет.
//
// Между успешным CAS и вставкой в таблицу есть короткое окно, когда деньги уже списаны,
// а hold ещё не виден в Snapshot. Инвариант
// balance + Σ(open holds) == injected − Σ(confirmed) выполняется в каждой точке покоя.
//
// funds: отдельный счётчик injected − Σ(confirmed). Replenish увеличивает его CAS-циклом
// с проверкой переполнения раньше баланса, поэтому ни баланс, ни возврат hold в Cancel
// не выходят за int64.
package ledger

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/metrics"
)

// Snapshot: срез состояния леджера. Поля читаются не атомарно относительно друг друга.
type Snapshot struct {
	BalanceMinor int64
	HeldMinor    int64
	OpenHolds    int
}

// Ledger хранит баланс и открытые hold. Нулевое значение не используется, создавайте через New.
type Ledger struct {
	balance atomic.Int64
	funds   atomic.Int64
	holds   sync.Map // holdID -> int64

	newID   func() string
	logger  *log.Entry
	metrics *metrics.LedgerMetrics
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithIDGenerator подменяет генератор идентификаторов hold (тесты коллизий).
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// New создаёт леджер с начальным балансом в минорных единицах.
func New(initialMinor int64, opts ...Option) *Ledger {
	l := &Ledger{
		newID:  uuid.NewString,
		logger: log.New().WithField("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if initialMinor > 0 {
		l.balance.Store(initialMinor)
		l.funds.Store(initialMinor)
	}
	l.observe()
	return l
}

// Balance возвращает текущий доступный баланс.
func (l *Ledger) Balance(context.Context) (int64, error) {
	return l.balance.Load(), nil
}

// Replenish атомарно пополняет баланс. Отрицательная сумма отклоняется, пополнение,
// после которого деньги леджера не помещаются в int64, отклоняется с ErrAmountOverflow.
func (l *Ledger) Replenish(_ context.Context, amountMinor int64) error {
	if amountMinor < 0 {
		return domain.ErrAmountNegative
	}

	for {
		current := l.funds.Load()
		next, err := domain.AddMinor(current, amountMinor)
		if err != nil {
			l.logger.WithFields(log.Fields{
				"amount_minor": amountMinor,
				"funds_minor":  current,
			}).Warn("replenish rejected: overflow")
			return err
		}
		if l.funds.CompareAndSwap(current, next) {
			break
		}
		if l.metrics != nil {
			l.metrics.RecordCASRetry()
		}
	}

	balance := l.balance.Add(amountMinor)
	if l.metrics != nil {
		l.metrics.RecordReplenish()
	}
	l.logger.WithFields(log.Fields{
		"amount_minor":  amountMinor,
		"balance_minor": balance,
	}).Debug("balance replenished")
	l.observe()
	return nil
}

// Hold списывает сумму с баланса и открывает удержание.
// При нехватке средств возвращает *domain.InsufficientFundsError без повторов;
// проигранный CAS перечитывает баланс и пробует снова.
func (l *Ledger) Hold(_ context.Context, amountMinor int64) (string, error) {
	if amountMinor < 0 {
		return "", domain.ErrAmountNegative
	}

	for {
		current := l.balance.Load()
		if current < amountMinor {
			if l.metrics != nil {
				l.metrics.RecordHoldRejected()
			}
			return "", &domain.InsufficientFundsError{BalanceMinor: current, AmountMinor: amountMinor}
		}
		if l.balance.CompareAndSwap(current, current-amountMinor) {
			break
		}
		if l.metrics != nil {
			l.metrics.RecordCASRetry()
		}
	}

	// Деньги уже списаны: коллизия id не должна их потерять, поэтому просто берём новый id.
	var holdID string
	for {
		holdID = l.newID()
		if _, loaded := l.holds.LoadOrStore(holdID, amountMinor); !loaded {
			break
		}
		l.logger.WithField("hold_id", holdID).Warn("hold id collision, regenerating")
	}

	if l.metrics != nil {
		l.metrics.RecordHoldPlaced()
	}
	l.logger.WithFields(log.Fields{
		"hold_id":      holdID,
		"amount_minor": amountMinor,
	}).Debug("hold placed")
	l.observe()
	return holdID, nil
}

// Confirm закрывает hold без возврата денег: списание уже произошло в Hold.
func (l *Ledger) Confirm(_ context.Context, holdID string) error {
	value, ok := l.holds.LoadAndDelete(holdID)
	if l.metrics != nil {
		l.metrics.RecordHoldClosed("confirm", ok)
	}
	if !ok {
		return domain.ErrHoldNotFound
	}
	l.funds.Add(-value.(int64))
	l.logger.WithField("hold_id", holdID).Debug("hold confirmed")
	l.observe()
	return nil
}

// Cancel закрывает hold и возвращает сумму на баланс.
func (l *Ledger) Cancel(_ context.Context, holdID string) error {
	value, ok := l.holds.LoadAndDelete(holdID)
	if l.metrics != nil {
		l.metrics.RecordHoldClosed("cancel", ok)
	}
	if !ok {
		return domain.ErrHoldNotFound
	}
	amountMinor := value.(int64)
	balance := l.balance.Add(amountMinor)
	l.logger.WithFields(log.Fields{
		"hold_id":       holdID,
		"amount_minor":  amountMinor,
		"balance_minor": balance,
	}).Debug("hold cancelled")
	l.observe()
	return nil
}

// Snapshot собирает баланс и сумму открытых hold.
func (l *Ledger) Snapshot() Snapshot {
	var s Snapshot
	l.holds.Range(func(_, value any) bool {
		s.HeldMinor += value.(int64)
		s.OpenHolds++
		return true
	})
	s.BalanceMinor = l.balance.Load()
	return s
}

// HoldAmount возвращает сумму открытого hold.
func (l *Ledger) HoldAmount(holdID string) (int64, bool) {
	value, ok := l.holds.Load(holdID)
	if !ok {
		return 0, false
	}
	return value.(int64), true
}

func (l *Ledger) observe() {
	if l.metrics == nil {
		return
	}
	s := l.Snapshot()
	l.metrics.ObserveSnapshot(s.BalanceMinor, s.HeldMinor, s.OpenHolds)
}

var _ domain.PaymentLedger = (*Ledger)(nil)
