package domain

import (
	"math"
	"time"
)

// OrderLine: позиция оформленного заказа. PriceMinor фиксируется на момент оформления
// и не зависит от последующих изменений цены в каталоге.
type OrderLine struct {
	ID         string
	OrderID    string
	ItemID     int64
	Qty        int32
	PriceMinor int64
}

// Order: неизменяемая запись заказа вместе с позициями.
type Order struct {
	ID          string
	AmountMinor int64
	CreatedAt   time.Time
	Lines       []OrderLine
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrOrderEmpty)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	var overflow bool
	for _, line := range o.Lines {
		if line.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
			continue
		}
		if line.PriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
			continue
		}
		amount, err := MulMinor(int64(line.Qty), line.PriceMinor)
		if err == nil {
			calc, err = AddMinor(calc, amount)
		}
		if err != nil {
			overflow = true
		}
	}
	switch {
	case overflow:
		errs = append(errs, ErrAmountOverflow)
	case calc != o.AmountMinor:
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Item: товар каталога. Корзина и заказ ссылаются на него только по ID.
type Item struct {
	ID          int64
	Title       string
	Description string
	PriceMinor  int64
}

// CartLine: строка корзины: одна на товар, количество не меньше 1.
// Version используется для optimistic locking; 0 означает ещё не сохранённую строку.
type CartLine struct {
	ItemID  int64
	Qty     int32
	Version int64
}

// PriceCart превращает снимок корзины в позиции заказа по ценам каталога.
// Возвращает ErrOrderEmpty для пустой корзины, ErrItemNotFound, если цена товара не найдена,
// и ErrAmountOverflow, если сумма не помещается в int64.
func PriceCart(lines []CartLine, items []Item) ([]OrderLine, int64, error) {
	if len(lines) == 0 {
		return nil, 0, ErrOrderEmpty
	}

	prices := make(map[int64]int64, len(items))
	for _, item := range items {
		prices[item.ID] = item.PriceMinor
	}

	result := make([]OrderLine, 0, len(lines))
	var total int64
	for _, line := range lines {
		price, ok := prices[line.ItemID]
		if !ok {
			return nil, 0, ErrItemNotFound
		}
		amount, err := MulMinor(int64(line.Qty), price)
		if err == nil {
			total, err = AddMinor(total, amount)
		}
		if err != nil {
			return nil, 0, err
		}
		result = append(result, OrderLine{
			ItemID:     line.ItemID,
			Qty:        line.Qty,
			PriceMinor: price,
		})
	}

	return result, total, nil
}

// DistinctItemIDs возвращает уникальные ID товаров корзины в порядке первого появления.
func DistinctItemIDs(lines []CartLine) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ItemID]; ok {
			continue
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	return ids
}

// AddMinor складывает неотрицательные суммы с проверкой переполнения.
func AddMinor(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrAmountNegative
	}
	if b > math.MaxInt64-a {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

// MulMinor умножает количество на цену с проверкой переполнения.
func MulMinor(qty, price int64) (int64, error) {
	if qty < 0 || price < 0 {
		return 0, ErrAmountNegative
	}
	if qty != 0 && price > math.MaxInt64/qty {
		return 0, ErrAmountOverflow
	}
	return qty * price, nil
}
