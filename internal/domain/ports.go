package domain

import (
	"context"
	"time"
)

// PaymentLedger описывает двухфазный протокол внешнего леджера: hold, затем confirm или cancel.
// Реализации: ledger.Ledger в процессе, HTTP и gRPC клиенты к сервису payments.
type PaymentLedger interface {
	Balance(ctx context.Context) (int64, error)
	Replenish(ctx context.Context, amountMinor int64) error
	// Hold списывает сумму с баланса и возвращает идентификатор удержания.
	Hold(ctx context.Context, amountMinor int64) (string, error)
	// Confirm закрывает удержание без возврата денег.
	Confirm(ctx context.Context, holdID string) error
	// Cancel закрывает удержание и возвращает сумму на баланс.
	Cancel(ctx context.Context, holdID string) error
}

// Transactor выполняет fn как одну локальную единицу работы.
// Ошибка fn откатывает все изменения, сделанные репозиториями через переданный ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SagaJournal хранит историю переходов саги для аудита и поиска зависших hold.
type SagaJournal interface {
	Append(ctx context.Context, record SagaRecord) error
	List(ctx context.Context, runID string) ([]SagaRecord, error)
	// Stale возвращает последние записи прогонов, которые застряли в нетерминальном
	// или аномальном состоянии и старше olderThan.
	Stale(ctx context.Context, olderThan time.Time, limit int) ([]SagaRecord, error)
}

// EventPublisher публикует события саги во внешнюю шину. Вызывается best-effort.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order Order) error
	PublishSagaOutcome(ctx context.Context, record SagaRecord) error
}
