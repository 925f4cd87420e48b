package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds: бизнес-отказ леджера: баланса не хватает на hold.
	// Не повторяется, наружу отдаётся как конфликт.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrHoldNotFound: hold уже закрыт (confirm/cancel) или никогда не существовал.
	ErrHoldNotFound = errors.New("hold not found")
	// ErrAmountNegative: отрицательная сумма в операции леджера.
	ErrAmountNegative = errors.New("amount must be non-negative")
	// ErrAmountOverflow: сумма не помещается в int64 минорных единиц.
	ErrAmountOverflow = errors.New("amount overflows int64 minor units")
	// ErrInvalidRequest: леджер отклонил запрос как некорректный (кроме невалидной суммы).
	ErrInvalidRequest = errors.New("invalid ledger request")
	// ErrLedgerUnavailable: леджер недоступен (сеть, таймаут, 5xx, открытый circuit breaker).
	ErrLedgerUnavailable = errors.New("payment ledger unavailable")
	// ErrOrderEmpty: попытка оформить заказ из пустой корзины.
	ErrOrderEmpty = errors.New("order must contain at least one item")
	// ErrPersistenceFailure: сбой сохранения заказа; запускает компенсацию hold.
	ErrPersistenceFailure = errors.New("order persistence failed")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён; заказы не перезаписываются.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrItemNotFound: товара нет в каталоге.
	ErrItemNotFound = errors.New("item not found")
	// ErrCartItemNotFound: в корзине нет позиции по товару.
	ErrCartItemNotFound = errors.New("cart item not found")
	// ErrCartVersionConflict сигнализирует о конфликте версий строки корзины.
	ErrCartVersionConflict = errors.New("cart item version conflict")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка при некорректном количестве в позиции (<= 0).
	ErrLineQtyInvalid = errors.New("line qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrLinePriceInvalid = errors.New("line price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match lines sum")
	// ErrSagaTransition: попытка повторно войти в состояние саги или перейти по несуществующему ребру.
	ErrSagaTransition = errors.New("invalid saga transition")
)

// InsufficientFundsError несёт баланс, который леджер видел в момент отказа.
type InsufficientFundsError struct {
	BalanceMinor int64
	AmountMinor  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance=%d amount=%d", e.BalanceMinor, e.AmountMinor)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrInsufficientFunds).
func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий строки корзины.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrCartVersionConflict)
}

// IsNotFound объединяет "не найдено" для всех сущностей магазина и леджера.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrHoldNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrCartItemNotFound)
}
