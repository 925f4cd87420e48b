// Package money переводит суммы между минорными единицами и десятичным представлением на HTTP-проводе.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale: число знаков после запятой у минорной единицы.
const Scale = 2

// ErrFractionalMinor: сумма точнее минорной единицы.
var ErrFractionalMinor = errors.New("amount has more than 2 fractional digits")

// Amount: десятичная сумма в мажорных единицах. В JSON пишется числом, читается из числа или строки.
type Amount struct {
	decimal.Decimal
}

// FromMinor строит Amount из минорных единиц.
func FromMinor(minor int64) Amount {
	return Amount{Decimal: decimal.New(minor, -Scale)}
}

// Minor возвращает сумму в минорных единицах.
func (a Amount) Minor() (int64, error) {
	return ToMinor(a.Decimal)
}

// ToMinor переводит десятичную сумму в минорные единицы без округления.
func ToMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrFractionalMinor, d.String())
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount out of range: %s", d.String())
	}
	return shifted.IntPart(), nil
}

// MarshalJSON пишет сумму числом с двумя знаками.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(Scale)), nil
}

// UnmarshalJSON принимает как 12.5, так и "12.5".
func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Decimal.UnmarshalJSON(data)
}
