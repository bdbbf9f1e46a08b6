package money

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in the currency's minor unit (kobo, cents).
type Money int64

var (
	ErrNegative       = errors.New("money: negative amount")
	ErrOverflow       = errors.New("money: amount overflow")
	ErrInvalidPercent = errors.New("money: percent must be between 0 and 100")
)

var hundred = decimal.NewFromInt(100)

// Int64 exposes the raw minor-unit value.
func (m Money) Int64() int64 { return int64(m) }

// Add returns a+b, failing when the result does not fit into int64.
func Add(a, b Money) (Money, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a-b with the same overflow guarantees as Add.
func Sub(a, b Money) (Money, error) {
	if b == math.MinInt64 {
		return 0, ErrOverflow
	}
	return Add(a, -b)
}

// Mul multiplies a unit price by a quantity.
func Mul(unit Money, qty int64) (Money, error) {
	if unit < 0 || qty < 0 {
		return 0, ErrNegative
	}
	if unit == 0 || qty == 0 {
		return 0, nil
	}
	if unit > Money(math.MaxInt64/qty) {
		return 0, ErrOverflow
	}
	return unit * Money(qty), nil
}

// Sum adds all amounts, stopping at the first overflow.
func Sum(values ...Money) (Money, error) {
	var total Money
	for _, v := range values {
		next, err := Add(total, v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// Min returns the smaller of two amounts.
func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// ValidPercent reports whether pct lies in the closed range [0, 100].
func ValidPercent(pct decimal.Decimal) bool {
	return !pct.IsNegative() && !pct.GreaterThan(hundred)
}

// PercentPlaces is the number of decimal places a stored percentage keeps.
const PercentPlaces = 2

// ExactPercent reports whether pct is a valid percentage representable with
// PercentPlaces decimals, so storing it never rounds.
func ExactPercent(pct decimal.Decimal) bool {
	return ValidPercent(pct) && pct.Equal(pct.Truncate(PercentPlaces))
}

// PercentOf computes round_half_up(amount * pct / 100).
func PercentOf(amount Money, pct decimal.Decimal) (Money, error) {
	if amount < 0 {
		return 0, ErrNegative
	}
	if !ValidPercent(pct) {
		return 0, ErrInvalidPercent
	}
	// amount*pct/100 never exceeds amount, so IntPart cannot overflow.
	v := decimal.NewFromInt(int64(amount)).Mul(pct).Div(hundred).Round(0)
	return Money(v.IntPart()), nil
}
