package cart

import (
	"errors"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/coupon"
	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrForbidden is returned when neither the secret nor the caller identity grants access.
var ErrForbidden = errors.New("cart access denied")

// ErrConverted is returned when a write targets a cart that already became an order.
var ErrConverted = errors.New("cart already converted")

// Status is the checkout state recorded on the cart.
type Status string

const (
	StatusOpen             Status = "OPEN"
	StatusPriced           Status = "PRICED"
	StatusPaymentInitiated Status = "PAYMENT_INITIATED"
	StatusConfirmed        Status = "CONFIRMED"
)

// Item is a cart line. UnitPrice is the snapshot taken when the item was added.
type Item struct {
	ID         string      `json:"id"`
	ProductID  string      `json:"productId"`
	VariantID  string      `json:"variantId,omitempty"`
	CategoryID string      `json:"categoryId,omitempty"`
	Title      string      `json:"title"`
	Qty        int         `json:"qty"`
	UnitPrice  money.Money `json:"unitPrice"`
}

// Subtotal is the line total.
func (it Item) Subtotal() (money.Money, error) {
	return money.Mul(it.UnitPrice, int64(it.Qty))
}

// Address is the shipping address snapshot stored on the cart.
type Address struct {
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Cart is the checkout view of a shopping cart.
type Cart struct {
	ID            string
	Secret        string
	Currency      string
	CustomerID    string
	CustomerEmail string
	CouponCode    string
	Address       Address
	Status        Status
	OrderID       string
	Items         []Item
}

// Authorize grants access to the owner or to anyone holding the cart secret.
func (c *Cart) Authorize(secret, userID string) error {
	if c == nil {
		return ErrNotFound
	}
	if userID != "" && c.CustomerID != "" && userID == c.CustomerID {
		return nil
	}
	if common.SecureCompare(secret, c.Secret) {
		return nil
	}
	return ErrForbidden
}

// PricingItems maps cart lines to pricing inputs.
func (c *Cart) PricingItems() []pricing.Item {
	out := make([]pricing.Item, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, pricing.Item{Qty: it.Qty, UnitPrice: it.UnitPrice})
	}
	return out
}

// CouponView maps cart lines to the coupon validator's view.
func (c *Cart) CouponView() (*coupon.Cart, error) {
	view := &coupon.Cart{Items: make([]coupon.Item, 0, len(c.Items))}
	for _, it := range c.Items {
		sub, err := it.Subtotal()
		if err != nil {
			return nil, err
		}
		view.Items = append(view.Items, coupon.Item{
			ProductID:  it.ProductID,
			CategoryID: it.CategoryID,
			Subtotal:   sub,
		})
	}
	return view, nil
}

// CustomerKey identifies the customer for per-customer coupon limits.
func (c *Cart) CustomerKey() string {
	if c.CustomerID != "" {
		return c.CustomerID
	}
	return c.CustomerEmail
}
