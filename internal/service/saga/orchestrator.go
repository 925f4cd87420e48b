package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/metrics"
)

const (
	tracerName = "github.com/vladislavdragonenkov/market/internal/service/saga"

	// DefaultSettleTimeout ограничивает confirm/cancel, выполняемые после отмены клиентского ctx.
	DefaultSettleTimeout = 5 * time.Second
)

// Orchestrator описывает сагу оформления заказа из корзины.
type Orchestrator interface {
	// CreateOrder оформляет заказ и возвращает его ID.
	CreateOrder(ctx context.Context) (string, error)
}

// orchestrator реализует последовательность шагов: Snapshot → Price → Hold → Persist → Confirm | Cancel.
type orchestrator struct {
	cart    domain.CartRepository
	catalog domain.Catalog
	orders  domain.OrderRepository
	tx      domain.Transactor
	ledger  domain.PaymentLedger

	journal domain.SagaJournal
	events  domain.EventPublisher
	metrics *metrics.SagaMetrics
	tracer  trace.Tracer
	logger  *log.Entry

	settleTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

// Option настраивает оркестратор.
type Option func(*orchestrator)

// WithJournal подключает журнал переходов саги.
func WithJournal(journal domain.SagaJournal) Option {
	return func(o *orchestrator) { o.journal = journal }
}

// WithEvents подключает публикацию событий (Kafka).
func WithEvents(events domain.EventPublisher) Option {
	return func(o *orchestrator) { o.events = events }
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(o *orchestrator) { o.metrics = m }
}

// WithTracer подменяет tracer (по умолчанию глобальный otel provider).
func WithTracer(tracer trace.Tracer) Option {
	return func(o *orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithSettleTimeout задаёт таймаут confirm/cancel.
func WithSettleTimeout(d time.Duration) Option {
	return func(o *orchestrator) {
		if d > 0 {
			o.settleTimeout = d
		}
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	cart domain.CartRepository,
	catalog domain.Catalog,
	orders domain.OrderRepository,
	tx domain.Transactor,
	ledger domain.PaymentLedger,
	logger *log.Entry,
	opts ...Option,
) Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "saga")
	}
	o := &orchestrator{
		cart:          cart,
		catalog:       catalog,
		orders:        orders,
		tx:            tx,
		ledger:        ledger,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		settleTimeout: DefaultSettleTimeout,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run: состояние одного прогона саги.
type run struct {
	id          string
	state       domain.SagaState
	holdID      string
	orderID     string
	amountMinor int64
	logger      *log.Entry
}

// CreateOrder выполняет сагу. Ошибки hold возвращаются без изменений; сбой сохранения
// возвращается как ErrPersistenceFailure вместе с исходной ошибкой после компенсации hold.
func (o *orchestrator) CreateOrder(ctx context.Context) (orderID string, err error) {
	start := time.Now()
	r := &run{id: o.newID(), state: domain.SagaStateStart}
	r.logger = o.logger.WithField("run_id", r.id)

	ctx, span := o.tracer.Start(ctx, "saga.CreateOrder", trace.WithAttributes(attribute.String("saga.run_id", r.id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if o.metrics != nil {
		o.metrics.RecordSagaStarted()
		defer func() { o.metrics.RecordSagaFinished(time.Since(start)) }()
	}

	lines, err := o.snapshot(ctx)
	if err != nil {
		o.recordFailed(domain.SagaStepSnapshot)
		return "", err
	}
	if len(lines) == 0 {
		o.recordFailed("empty_cart")
		return "", domain.ErrOrderEmpty
	}

	orderLines, total, err := o.price(ctx, lines)
	if err != nil {
		o.recordFailed(domain.SagaStepPrice)
		return "", err
	}
	// Заказ собирается до hold: невалидный заказ не должен трогать леджер.
	order := o.buildOrder(orderLines, total)
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		o.recordFailed(domain.SagaStepPrice)
		err := fmt.Errorf("invalid order: %w", errors.Join(errs...))
		r.logger.WithError(err).Warn("order rejected before hold")
		return "", err
	}
	r.amountMinor = total
	r.logger = r.logger.WithField("amount_minor", total)
	span.SetAttributes(attribute.Int64("saga.amount_minor", total))
	o.journalAppend(ctx, r, "")

	holdID, err := o.hold(ctx, total)
	if err != nil {
		o.transition(ctx, r, domain.SagaStateHoldFailed, err.Error())
		o.recordFailed(domain.SagaStepHold)
		o.publishOutcome(ctx, r, err.Error())
		r.logger.WithError(err).Warn("hold failed")
		return "", err
	}
	r.holdID = holdID
	r.logger = r.logger.WithField("hold_id", holdID)
	o.transition(ctx, r, domain.SagaStateHeld, "")

	r.orderID = order.ID
	r.logger = r.logger.WithField("order_id", order.ID)

	if err := o.persist(ctx, order, lines); err != nil {
		o.transition(ctx, r, domain.SagaStatePersistFailed, err.Error())
		o.recordFailed(domain.SagaStepPersist)
		r.logger.WithError(err).Warn("persist failed, cancelling hold")
		o.compensate(ctx, r, err)
		return "", fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err)
	}
	o.transition(ctx, r, domain.SagaStatePersisted, "")
	o.publishOrderCreated(ctx, r, order)

	o.confirm(ctx, r)
	return order.ID, nil
}

func (o *orchestrator) snapshot(ctx context.Context) ([]domain.CartLine, error) {
	defer o.observeStep(domain.SagaStepSnapshot, time.Now())

	lines, err := o.cart.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot cart: %w", err)
	}
	return lines, nil
}

func (o *orchestrator) price(ctx context.Context, lines []domain.CartLine) ([]domain.OrderLine, int64, error) {
	defer o.observeStep(domain.SagaStepPrice, time.Now())

	items, err := o.catalog.FindByIDs(ctx, domain.DistinctItemIDs(lines))
	if err != nil {
		return nil, 0, fmt.Errorf("resolve prices: %w", err)
	}
	return domain.PriceCart(lines, items)
}

func (o *orchestrator) hold(ctx context.Context, amountMinor int64) (string, error) {
	defer o.observeStep(domain.SagaStepHold, time.Now())

	ctx, span := o.tracer.Start(ctx, "saga.hold")
	defer span.End()

	holdID, err := o.ledger.Hold(ctx, amountMinor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("saga.hold_id", holdID))
	return holdID, nil
}

func (o *orchestrator) buildOrder(lines []domain.OrderLine, total int64) domain.Order {
	order := domain.Order{
		ID:          o.newID(),
		AmountMinor: total,
		CreatedAt:   o.now(),
		Lines:       make([]domain.OrderLine, 0, len(lines)),
	}
	for _, line := range lines {
		line.ID = o.newID()
		line.OrderID = order.ID
		order.Lines = append(order.Lines, line)
	}
	return order
}

// persist сохраняет заказ с позициями и удаляет из корзины строки снимка в одной локальной
// транзакции. Строки, добавленные после снимка, остаются в корзине; строка, изменённая
// после снимка, даёт ErrCartVersionConflict и откат.
func (o *orchestrator) persist(ctx context.Context, order domain.Order, snapshot []domain.CartLine) error {
	defer o.observeStep(domain.SagaStepPersist, time.Now())

	ctx, span := o.tracer.Start(ctx, "saga.persist")
	defer span.End()

	err := o.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := o.orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for _, line := range snapshot {
			if err := o.cart.Delete(ctx, line.ItemID, line.Version); err != nil {
				return fmt.Errorf("clear cart line %d: %w", line.ItemID, err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// settleContext отвязывает завершающие шаги от отмены клиентского запроса: после hold
// деньги должны быть либо подтверждены, либо возвращены.
func (o *orchestrator) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.settleTimeout)
}

func (o *orchestrator) confirm(ctx context.Context, r *run) {
	defer o.observeStep(domain.SagaStepConfirm, time.Now())

	settleCtx, cancel := o.settleContext(ctx)
	defer cancel()
	settleCtx, span := o.tracer.Start(settleCtx, "saga.confirm")
	defer span.End()

	if err := o.ledger.Confirm(settleCtx, r.holdID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.transition(ctx, r, domain.SagaStateConfirmFailed, err.Error())
		if o.metrics != nil {
			o.metrics.RecordConfirmFailed()
		}
		r.logger.WithError(err).Error("confirm failed, order persisted with an open hold")
		return
	}

	o.transition(ctx, r, domain.SagaStateConfirmed, "")
	if o.metrics != nil {
		o.metrics.RecordSagaCompleted()
	}
	o.publishOutcome(ctx, r, "")
	r.logger.Info("order created")
}

func (o *orchestrator) compensate(ctx context.Context, r *run, cause error) {
	defer o.observeStep(domain.SagaStepCancel, time.Now())

	settleCtx, cancel := o.settleContext(ctx)
	defer cancel()
	settleCtx, span := o.tracer.Start(settleCtx, "saga.cancel")
	defer span.End()

	if err := o.ledger.Cancel(settleCtx, r.holdID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.transition(ctx, r, domain.SagaStateCancelFailed, err.Error())
		if o.metrics != nil {
			o.metrics.RecordDoubleFault()
		}
		r.logger.WithError(err).WithField("cause", cause.Error()).Error("persist and cancel both failed, hold is orphaned")
		o.publishOutcome(ctx, r, err.Error())
		return
	}

	o.transition(ctx, r, domain.SagaStateCancelled, cause.Error())
	if o.metrics != nil {
		o.metrics.RecordSagaCompensated()
	}
	o.publishOutcome(ctx, r, cause.Error())
	r.logger.Info("hold cancelled after persist failure")
}

// transition проверяет ребро автомата и пишет запись в журнал.
func (o *orchestrator) transition(ctx context.Context, r *run, next domain.SagaState, reason string) {
	if !r.state.CanTransitionTo(next) {
		// Ошибка программиста, не данных: саму сагу не прерываем.
		r.logger.WithFields(log.Fields{
			"from": r.state,
			"to":   next,
		}).Error(domain.ErrSagaTransition)
		return
	}
	r.state = next
	o.journalAppend(ctx, r, reason)
}

func (o *orchestrator) journalAppend(ctx context.Context, r *run, reason string) {
	if o.journal == nil {
		return
	}
	record := domain.SagaRecord{
		RunID:       r.id,
		State:       r.state,
		HoldID:      r.holdID,
		OrderID:     r.orderID,
		AmountMinor: r.amountMinor,
		Reason:      reason,
		Occurred:    o.now(),
	}
	if err := o.journal.Append(context.WithoutCancel(ctx), record); err != nil {
		r.logger.WithError(err).WithField("state", r.state).Warn("append saga journal failed")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordJournalRecord()
	}
}

func (o *orchestrator) publishOrderCreated(ctx context.Context, r *run, order domain.Order) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishOrderCreated(context.WithoutCancel(ctx), order); err != nil {
		r.logger.WithError(err).Warn("failed to publish order created event")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordEventPublished()
	}
}

// publishOutcome публикует исход саги. Ошибка публикации не влияет на результат.
func (o *orchestrator) publishOutcome(ctx context.Context, r *run, reason string) {
	if o.events == nil {
		return
	}
	record := domain.SagaRecord{
		RunID:       r.id,
		State:       r.state,
		HoldID:      r.holdID,
		OrderID:     r.orderID,
		AmountMinor: r.amountMinor,
		Reason:      reason,
		Occurred:    o.now(),
	}
	if err := o.events.PublishSagaOutcome(context.WithoutCancel(ctx), record); err != nil {
		r.logger.WithError(err).WithField("state", r.state).Warn("failed to publish saga event")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordEventPublished()
	}
}

func (o *orchestrator) recordFailed(reason domain.SagaStep) {
	if o.metrics != nil {
		o.metrics.RecordSagaFailed(string(reason))
	}
}

func (o *orchestrator) observeStep(step domain.SagaStep, started time.Time) {
	if o.metrics != nil {
		o.metrics.RecordStepDuration(string(step), time.Since(started))
	}
}

var _ Orchestrator = (*orchestrator)(nil)
