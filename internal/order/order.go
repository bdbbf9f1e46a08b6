package order

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

var (
	// ErrNotFound indicates the requested order could not be located.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyProcessed is returned with the existing order when the transaction was already converted.
	ErrAlreadyProcessed = errors.New("transaction already processed")
	// ErrCartConverted is returned when the cart became an order under a different transaction.
	ErrCartConverted = errors.New("cart already converted")
	// ErrInvalidTransition rejects status changes outside processing -> completed|cancelled.
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from s to next.
func (s Status) CanTransition(next Status) bool {
	return s == StatusProcessing && (next == StatusCompleted || next == StatusCancelled)
}

// Item is the line snapshot copied from the cart at conversion time.
type Item struct {
	ProductID  string      `json:"productId"`
	VariantID  string      `json:"variantId,omitempty"`
	CategoryID string      `json:"categoryId,omitempty"`
	Title      string      `json:"title"`
	Qty        int         `json:"qty"`
	UnitPrice  money.Money `json:"unitPrice"`
	Subtotal   money.Money `json:"subtotal"`
}

// Order is immutable after creation apart from its status.
type Order struct {
	ID              string            `json:"id"`
	Number          string            `json:"number"`
	CartID          string            `json:"cartId"`
	Breakdown       pricing.Breakdown `json:"breakdown"`
	Items           []Item            `json:"items"`
	CustomerEmail   string            `json:"customerEmail"`
	CustomerID      string            `json:"customerId,omitempty"`
	ShippingAddress json.RawMessage   `json:"shippingAddress,omitempty"`
	CouponCode      string            `json:"couponCode,omitempty"`
	Gateway         string            `json:"gateway"`
	TransactionID   string            `json:"transactionId"`
	Status          Status            `json:"status"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Conversion carries everything the atomic Cart to Order conversion writes.
type Conversion struct {
	CartID          string
	Breakdown       pricing.Breakdown
	Items           []Item
	CustomerEmail   string
	CustomerID      string
	ShippingAddress json.RawMessage
	CouponID        string
	CouponCode      string
	CustomerKey     string
	Gateway         string
	TransactionID   string
	AttemptID       string
}

// Validate rejects conversions that could not produce a consistent order.
func (c Conversion) Validate() error {
	if strings.TrimSpace(c.CartID) == "" {
		return errors.New("conversion: cart id is required")
	}
	if strings.TrimSpace(c.Gateway) == "" || strings.TrimSpace(c.TransactionID) == "" {
		return errors.New("conversion: gateway and transaction id are required")
	}
	if len(c.Items) == 0 {
		return errors.New("conversion: order must contain items")
	}
	return c.Breakdown.Validate()
}

// NewNumber returns a sortable human-facing order reference.
func NewNumber(now time.Time) string {
	return "ORD-" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
