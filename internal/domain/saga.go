package domain

import "time"

// SagaState описывает шаг саги оформления заказа.
type SagaState string

const (
	// SagaStateStart: корзина прочитана, в леджер ещё не ходили.
	SagaStateStart SagaState = "START"
	// SagaStateHeld: деньги удержаны, заказ ещё не сохранён.
	SagaStateHeld SagaState = "HELD"
	// SagaStateHoldFailed: леджер отказал в hold; терминальное состояние.
	SagaStateHoldFailed SagaState = "HOLD_FAILED"
	// SagaStatePersisted: заказ и позиции сохранены, корзина очищена.
	SagaStatePersisted SagaState = "PERSISTED"
	// SagaStatePersistFailed: локальная транзакция откатилась, нужен cancel.
	SagaStatePersistFailed SagaState = "PERSIST_FAILED"
	// SagaStateConfirmed: hold подтверждён; терминальное состояние.
	SagaStateConfirmed SagaState = "CONFIRMED"
	// SagaStateCancelled: hold возвращён на баланс; терминальное состояние.
	SagaStateCancelled SagaState = "CANCELLED"

	// SagaStateConfirmFailed: заказ сохранён, но confirm не прошёл. Только для журнала.
	SagaStateConfirmFailed SagaState = "CONFIRM_FAILED"
	// SagaStateCancelFailed: двойной сбой: ни заказа, ни возврата hold. Только для журнала.
	SagaStateCancelFailed SagaState = "CANCEL_FAILED"
)

var sagaTransitions = map[SagaState][]SagaState{
	SagaStateStart:         {SagaStateHeld, SagaStateHoldFailed},
	SagaStateHeld:          {SagaStatePersisted, SagaStatePersistFailed},
	SagaStatePersisted:     {SagaStateConfirmed, SagaStateConfirmFailed},
	SagaStatePersistFailed: {SagaStateCancelled, SagaStateCancelFailed},
}

// CanTransitionTo сообщает, разрешён ли переход. Повторный вход в состояние запрещён.
func (s SagaState) CanTransitionTo(next SagaState) bool {
	if s == next {
		return false
	}
	for _, allowed := range sagaTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для состояний, после которых сага больше ничего не делает.
func (s SagaState) IsTerminal() bool {
	switch s {
	case SagaStateHoldFailed, SagaStateConfirmed, SagaStateCancelled:
		return true
	default:
		return false
	}
}

// IsAnomaly: состояние требует внимания оператора: деньги могут висеть в hold.
func (s SagaState) IsAnomaly() bool {
	return s == SagaStateConfirmFailed || s == SagaStateCancelFailed
}

// SagaRecord: запись журнала саги о переходе в новое состояние.
type SagaRecord struct {
	RunID       string
	State       SagaState
	HoldID      string
	OrderID     string
	AmountMinor int64
	Reason      string
	Occurred    time.Time
}

// SagaStep задаёт константы шагов для метрик, логов и спанов.
type SagaStep string

const (
	SagaStepSnapshot SagaStep = "snapshot"
	SagaStepPrice    SagaStep = "price"
	SagaStepHold     SagaStep = "hold"
	SagaStepPersist  SagaStep = "persist"
	SagaStepConfirm  SagaStep = "confirm"
	SagaStepCancel   SagaStep = "cancel"
)
