package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/tax"
)

var (
	ErrInvalidQuantity = errors.New("pricing: quantity must be at least 1")
	ErrInvalidPrice    = errors.New("pricing: unit price must not be negative")
	ErrInvalidDiscount = errors.New("pricing: discount must not be negative")
	ErrInvalidShipping = errors.New("pricing: shipping fee must not be negative")
	ErrInvariant       = errors.New("pricing: breakdown invariant violated")
)

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice money.Money
}

// Breakdown is the monetary summary of a cart or order.
type Breakdown struct {
	Subtotal    money.Money `json:"subtotal"`
	Discount    money.Money `json:"discount"`
	ShippingFee money.Money `json:"shippingFee"`
	Tax         money.Money `json:"tax"`
	GrandTotal  money.Money `json:"grandTotal"`
	Currency    string      `json:"currency"`
}

// Input gathers the already-resolved components of a breakdown.
type Input struct {
	Items       []Item
	Discount    money.Money
	ShippingFee money.Money
	TaxRate     decimal.Decimal
	Currency    string
}

// Subtotal sums qty * unit price over all items.
func Subtotal(items []Item) (money.Money, error) {
	var subtotal money.Money
	for i, it := range items {
		if it.Qty < 1 {
			return 0, fmt.Errorf("%w: item %d", ErrInvalidQuantity, i)
		}
		if it.UnitPrice < 0 {
			return 0, fmt.Errorf("%w: item %d", ErrInvalidPrice, i)
		}
		line, err := money.Mul(it.UnitPrice, int64(it.Qty))
		if err != nil {
			return 0, fmt.Errorf("item %d: %w", i, err)
		}
		subtotal, err = money.Add(subtotal, line)
		if err != nil {
			return 0, err
		}
	}
	return subtotal, nil
}

// Compute builds a breakdown. Tax is charged on the pre-discount subtotal and the
// discount is capped at the subtotal.
func Compute(in Input) (Breakdown, error) {
	subtotal, err := Subtotal(in.Items)
	if err != nil {
		return Breakdown{}, err
	}
	if in.Discount < 0 {
		return Breakdown{}, ErrInvalidDiscount
	}
	if in.ShippingFee < 0 {
		return Breakdown{}, ErrInvalidShipping
	}
	discount := money.Min(in.Discount, subtotal)
	taxAmount, err := tax.Calculate(subtotal, in.TaxRate)
	if err != nil {
		return Breakdown{}, err
	}
	total, err := money.Sum(subtotal-discount, in.ShippingFee, taxAmount)
	if err != nil {
		return Breakdown{}, err
	}
	b := Breakdown{
		Subtotal:    subtotal,
		Discount:    discount,
		ShippingFee: in.ShippingFee,
		Tax:         taxAmount,
		GrandTotal:  total,
		Currency:    in.Currency,
	}
	if b.Currency == "" {
		b.Currency = money.DefaultCurrency
	}
	return b, b.Validate()
}

// Validate checks grandTotal = subtotal - discount + shippingFee + tax with every
// component non-negative and the discount bounded by the subtotal.
func (b Breakdown) Validate() error {
	if b.Subtotal < 0 || b.Discount < 0 || b.ShippingFee < 0 || b.Tax < 0 || b.GrandTotal < 0 {
		return fmt.Errorf("%w: negative component", ErrInvariant)
	}
	if b.Discount > b.Subtotal {
		return fmt.Errorf("%w: discount %d exceeds subtotal %d", ErrInvariant, b.Discount, b.Subtotal)
	}
	if b.GrandTotal != b.Subtotal-b.Discount+b.ShippingFee+b.Tax {
		return fmt.Errorf("%w: grand total %d does not add up", ErrInvariant, b.GrandTotal)
	}
	return nil
}

// Formatted is the display form of a breakdown.
type Formatted struct {
	Subtotal    string `json:"subtotal"`
	Discount    string `json:"discount"`
	ShippingFee string `json:"shippingFee"`
	Tax         string `json:"tax"`
	GrandTotal  string `json:"grandTotal"`
}

// Format renders every component with the breakdown's currency.
func (b Breakdown) Format() Formatted {
	return Formatted{
		Subtotal:    money.Format(b.Subtotal, b.Currency),
		Discount:    money.Format(b.Discount, b.Currency),
		ShippingFee: money.Format(b.ShippingFee, b.Currency),
		Tax:         money.Format(b.Tax, b.Currency),
		GrandTotal:  money.Format(b.GrandTotal, b.Currency),
	}
}
