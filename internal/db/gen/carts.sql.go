package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const cartColumns = `id, secret, currency, customer_id, customer_email, coupon_code, shipping_address, checkout_status, order_id, created_at, updated_at`

func scanCart(row interface{ Scan(...any) error }) (Cart, error) {
	var i Cart
	err := row.Scan(
		&i.ID,
		&i.Secret,
		&i.Currency,
		&i.CustomerID,
		&i.CustomerEmail,
		&i.CouponCode,
		&i.ShippingAddress,
		&i.CheckoutStatus,
		&i.OrderID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getCartByID = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`

func (q *Queries) GetCartByID(ctx context.Context, id pgtype.UUID) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, getCartByID, id))
}

const listCartItems = `SELECT id, cart_id, product_id, variant_id, category_id, title, qty, unit_price, position
FROM cart_items WHERE cart_id = $1 ORDER BY position, id`

func (q *Queries) ListCartItems(ctx context.Context, cartID pgtype.UUID) ([]CartItem, error) {
	rows, err := q.db.Query(ctx, listCartItems, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CartItem
	for rows.Next() {
		var i CartItem
		if err := rows.Scan(
			&i.ID,
			&i.CartID,
			&i.ProductID,
			&i.VariantID,
			&i.CategoryID,
			&i.Title,
			&i.Qty,
			&i.UnitPrice,
			&i.Position,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const updateCartStatus = `UPDATE carts SET checkout_status = $2, updated_at = now()
WHERE id = $1 AND checkout_status <> 'CONFIRMED'`

type UpdateCartStatusParams struct {
	ID     pgtype.UUID
	Status string
}

// UpdateCartStatus never moves a CONFIRMED cart; the affected row count tells callers whether it applied.
func (q *Queries) UpdateCartStatus(ctx context.Context, arg UpdateCartStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateCartStatus, arg.ID, arg.Status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const setCartCoupon = `UPDATE carts SET coupon_code = $2, updated_at = now()
WHERE id = $1 AND checkout_status <> 'CONFIRMED'`

type SetCartCouponParams struct {
	ID         pgtype.UUID
	CouponCode pgtype.Text
}

func (q *Queries) SetCartCoupon(ctx context.Context, arg SetCartCouponParams) (int64, error) {
	tag, err := q.db.Exec(ctx, setCartCoupon, arg.ID, arg.CouponCode)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const setCartEmail = `UPDATE carts SET customer_email = $2, updated_at = now()
WHERE id = $1 AND checkout_status <> 'CONFIRMED'`

type SetCartEmailParams struct {
	ID            pgtype.UUID
	CustomerEmail string
}

func (q *Queries) SetCartEmail(ctx context.Context, arg SetCartEmailParams) (int64, error) {
	tag, err := q.db.Exec(ctx, setCartEmail, arg.ID, arg.CustomerEmail)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markCartConverted = `UPDATE carts SET checkout_status = 'CONFIRMED', order_id = $2, updated_at = now()
WHERE id = $1 AND checkout_status <> 'CONFIRMED'`

type MarkCartConvertedParams struct {
	ID      pgtype.UUID
	OrderID pgtype.UUID
}

// MarkCartConverted is the compare-and-swap guarding the Cart to Order conversion.
func (q *Queries) MarkCartConverted(ctx context.Context, arg MarkCartConvertedParams) (int64, error) {
	tag, err := q.db.Exec(ctx, markCartConverted, arg.ID, arg.OrderID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
