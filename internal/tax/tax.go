package tax

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/money"
)

// ErrInvalidInput is returned for a negative base or a rate outside [0, 100].
var ErrInvalidInput = errors.New("tax: invalid input")

// Calculate returns round_half_up(base * ratePercent / 100).
// Out-of-range input is rejected rather than clamped.
func Calculate(base money.Money, ratePercent decimal.Decimal) (money.Money, error) {
	if base < 0 {
		return 0, fmt.Errorf("%w: negative base %d", ErrInvalidInput, base)
	}
	if !money.ValidPercent(ratePercent) {
		return 0, fmt.Errorf("%w: rate %s outside 0-100", ErrInvalidInput, ratePercent.String())
	}
	amount, err := money.PercentOf(base, ratePercent)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return amount, nil
}

// ParseRate parses a textual percent such as "7.5" and validates its range.
func ParseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: rate %q", ErrInvalidInput, raw)
	}
	if !money.ValidPercent(rate) {
		return decimal.Zero, fmt.Errorf("%w: rate %s outside 0-100", ErrInvalidInput, rate.String())
	}
	return rate, nil
}
