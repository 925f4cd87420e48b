package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeOrderCreated    EventType = "order.created"
	EventTypeSagaCompleted   EventType = "saga.completed"
	EventTypeSagaCompensated EventType = "saga.compensated"
	EventTypeSagaFailed      EventType = "saga.failed"
)

// Topics для Kafka
const (
	TopicOrderEvents = "market.order.events"
	TopicSagaEvents  = "market.saga.events"
)

// OrderLineEvent: позиция заказа в событии order.created.
type OrderLineEvent struct {
	ItemID     int64 `json:"item_id"`
	Qty        int32 `json:"qty"`
	PriceMinor int64 `json:"price_minor"`
}

// OrderEvent публикуется, когда заказ сохранён.
type OrderEvent struct {
	EventType   EventType        `json:"event_type"`
	OrderID     string           `json:"order_id"`
	AmountMinor int64            `json:"amount_minor"`
	Lines       []OrderLineEvent `json:"lines"`
	Timestamp   time.Time        `json:"timestamp"`
}

// SagaEvent описывает исход прогона саги.
type SagaEvent struct {
	EventType   EventType `json:"event_type"`
	RunID       string    `json:"run_id"`
	State       string    `json:"state"`
	OrderID     string    `json:"order_id,omitempty"`
	HoldID      string    `json:"hold_id,omitempty"`
	AmountMinor int64     `json:"amount_minor"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewOrderEvent строит событие order.created.
func NewOrderEvent(order domain.Order, now time.Time) *OrderEvent {
	lines := make([]OrderLineEvent, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderLineEvent{ItemID: line.ItemID, Qty: line.Qty, PriceMinor: line.PriceMinor})
	}
	return &OrderEvent{
		EventType:   EventTypeOrderCreated,
		OrderID:     order.ID,
		AmountMinor: order.AmountMinor,
		Lines:       lines,
		Timestamp:   now,
	}
}

// NewSagaEvent строит событие по итоговой записи журнала.
func NewSagaEvent(record domain.SagaRecord, now time.Time) *SagaEvent {
	return &SagaEvent{
		EventType:   SagaEventType(record.State),
		RunID:       record.RunID,
		State:       string(record.State),
		OrderID:     record.OrderID,
		HoldID:      record.HoldID,
		AmountMinor: record.AmountMinor,
		Reason:      record.Reason,
		Timestamp:   now,
	}
}

// SagaEventType сопоставляет исход саги типу события.
func SagaEventType(state domain.SagaState) EventType {
	switch state {
	case domain.SagaStateConfirmed:
		return EventTypeSagaCompleted
	case domain.SagaStateCancelled:
		return EventTypeSagaCompensated
	default:
		return EventTypeSagaFailed
	}
}
