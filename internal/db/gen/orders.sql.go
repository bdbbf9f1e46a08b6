package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, number, cart_id, subtotal, discount, shipping_fee, tax, grand_total, currency, items,
customer_email, customer_id, shipping_address, coupon_code, gateway, transaction_id, status, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.Number,
		&i.CartID,
		&i.Subtotal,
		&i.Discount,
		&i.ShippingFee,
		&i.Tax,
		&i.GrandTotal,
		&i.Currency,
		&i.Items,
		&i.CustomerEmail,
		&i.CustomerID,
		&i.ShippingAddress,
		&i.CouponCode,
		&i.Gateway,
		&i.TransactionID,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

// insertOrder silently skips rows that collide on transaction_id or cart_id;
// callers receive pgx.ErrNoRows and look the winner up.
const insertOrder = `INSERT INTO orders (
    id, number, cart_id, subtotal, discount, shipping_fee, tax, grand_total, currency, items,
    customer_email, customer_id, shipping_address, coupon_code, gateway, transaction_id, status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 'processing')
ON CONFLICT DO NOTHING
RETURNING ` + orderColumns

type InsertOrderParams struct {
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
}

func (q *Queries) InsertOrder(ctx context.Context, arg InsertOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, insertOrder,
		arg.ID,
		arg.Number,
		arg.CartID,
		arg.Subtotal,
		arg.Discount,
		arg.ShippingFee,
		arg.Tax,
		arg.GrandTotal,
		arg.Currency,
		arg.Items,
		arg.CustomerEmail,
		arg.CustomerID,
		arg.ShippingAddress,
		arg.CouponCode,
		arg.Gateway,
		arg.TransactionID,
	)
	return scanOrder(row)
}

const getOrderByID = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrderByID(ctx context.Context, id pgtype.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByID, id))
}

const getOrderByTransactionID = `SELECT ` + orderColumns + ` FROM orders WHERE transaction_id = $1`

func (q *Queries) GetOrderByTransactionID(ctx context.Context, transactionID string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByTransactionID, transactionID))
}

const getOrderByCartID = `SELECT ` + orderColumns + ` FROM orders WHERE cart_id = $1`

func (q *Queries) GetOrderByCartID(ctx context.Context, cartID pgtype.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByCartID, cartID))
}

const updateOrderStatus = `UPDATE orders SET status = $2, updated_at = now()
WHERE id = $1 AND status = $3
RETURNING ` + orderColumns

type UpdateOrderStatusParams struct {
	ID     pgtype.UUID
	Status string
	From   string
}

// UpdateOrderStatus only applies when the order is still in From.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.Status, arg.From))
}
