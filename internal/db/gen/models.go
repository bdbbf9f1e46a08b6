package dbgen

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Cart struct {
	ID              pgtype.UUID
	Secret          string
	Currency        string
	CustomerID      pgtype.UUID
	CustomerEmail   string
	CouponCode      pgtype.Text
	ShippingAddress []byte
	CheckoutStatus  string
	OrderID         pgtype.UUID
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

type CartItem struct {
	ID         pgtype.UUID
	CartID     pgtype.UUID
	ProductID  string
	VariantID  pgtype.Text
	CategoryID pgtype.Text
	Title      string
	Qty        int32
	UnitPrice  int64
	Position   int32
}

type Coupon struct {
	ID               pgtype.UUID
	Code             string
	Kind             string
	Percent          string
	Amount           int64
	Description      string
	MinSubtotal      pgtype.Int8
	PerCustomerLimit pgtype.Int4
	UsageLimit       pgtype.Int4
	UsedCount        int32
	ValidFrom        pgtype.Timestamptz
	ValidTo          pgtype.Timestamptz
	ProductIds       []string
	CategoryIds      []string
	Active           bool
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

type CouponRedemption struct {
	ID          pgtype.UUID
	CouponID    pgtype.UUID
	OrderID     pgtype.UUID
	CustomerKey string
	Discount    int64
	CreatedAt   pgtype.Timestamptz
}

type ShippingConfig struct {
	DefaultFee    int64
	FreeThreshold pgtype.Int8
	TaxRate       string
	Regions       []byte
	UpdatedAt     pgtype.Timestamptz
}

type Order struct {
	ID              pgtype.UUID
	Number          string
	CartID          pgtype.UUID
	Subtotal        int64
	Discount        int64
	ShippingFee     int64
	Tax             int64
	GrandTotal      int64
	Currency        string
	Items           []byte
	CustomerEmail   string
	CustomerID      pgtype.UUID
	ShippingAddress []byte
	CouponCode      pgtype.Text
	Gateway         string
	TransactionID   string
	Status          string
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

type PaymentAttempt struct {
	ID               pgtype.UUID
	CartID           pgtype.UUID
	Gateway          string
	TransactionID    string
	Reference        string
	AccessCode       string
	AuthorizationUrl string
	Amount           int64
	Currency         string
	Status           string
	FailureReason    string
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}
