package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is used when a cart carries no currency of its own.
const DefaultCurrency = "NGN"

var ErrUnknownCurrency = errors.New("money: unknown currency")

// NormalizeCurrency validates an ISO 4217 code and returns its canonical upper-case form.
func NormalizeCurrency(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return DefaultCurrency, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return unit.String(), nil
}

// Scale returns the number of minor-unit digits for the currency (2 for NGN, 0 for JPY).
func Scale(code string) int {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// Major converts a minor-unit amount into its major-unit decimal value.
func Major(amount Money, code string) decimal.Decimal {
	return decimal.New(int64(amount), int32(-Scale(code)))
}

// Format renders the amount for display, e.g. "₦ 1,234.56".
func Format(amount Money, code string) string {
	return FormatIn(language.English, amount, code)
}

// FormatIn renders the amount using locale-specific grouping.
func FormatIn(tag language.Tag, amount Money, code string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return fmt.Sprintf("%d %s", amount, code)
	}
	p := message.NewPrinter(tag)
	return p.Sprint(currency.NarrowSymbol(unit.Amount(Major(amount, code).InexactFloat64())))
}
