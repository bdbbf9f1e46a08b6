package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const couponColumns = `id, code, kind, percent::text, amount, description, min_subtotal, per_customer_limit, usage_limit,
used_count, valid_from, valid_to, product_ids, category_ids, active, created_at, updated_at`

func scanCoupon(row interface{ Scan(...any) error }) (Coupon, error) {
	var i Coupon
	err := row.Scan(
		&i.ID,
		&i.Code,
		&i.Kind,
		&i.Percent,
		&i.Amount,
		&i.Description,
		&i.MinSubtotal,
		&i.PerCustomerLimit,
		&i.UsageLimit,
		&i.UsedCount,
		&i.ValidFrom,
		&i.ValidTo,
		&i.ProductIds,
		&i.CategoryIds,
		&i.Active,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getCouponByCode = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

func (q *Queries) GetCouponByCode(ctx context.Context, code string) (Coupon, error) {
	return scanCoupon(q.db.QueryRow(ctx, getCouponByCode, code))
}

const upsertCoupon = `INSERT INTO coupons (
    id, code, kind, percent, amount, description, min_subtotal, per_customer_limit, usage_limit,
    valid_from, valid_to, product_ids, category_ids, active
) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (code) DO UPDATE SET
    kind = EXCLUDED.kind,
    percent = EXCLUDED.percent,
    amount = EXCLUDED.amount,
    description = EXCLUDED.description,
    min_subtotal = EXCLUDED.min_subtotal,
    per_customer_limit = EXCLUDED.per_customer_limit,
    usage_limit = EXCLUDED.usage_limit,
    valid_from = EXCLUDED.valid_from,
    valid_to = EXCLUDED.valid_to,
    product_ids = EXCLUDED.product_ids,
    category_ids = EXCLUDED.category_ids,
    active = EXCLUDED.active,
    updated_at = now()
RETURNING ` + couponColumns

type UpsertCouponParams struct {
	ID               pgtype.UUID
	Code             string
	Kind             string
	Percent          string
	Amount           int64
	Description      string
	MinSubtotal      pgtype.Int8
	PerCustomerLimit pgtype.Int4
	UsageLimit       pgtype.Int4
	ValidFrom        pgtype.Timestamptz
	ValidTo          pgtype.Timestamptz
	ProductIds       []string
	CategoryIds      []string
	Active           bool
}

func (q *Queries) UpsertCoupon(ctx context.Context, arg UpsertCouponParams) (Coupon, error) {
	row := q.db.QueryRow(ctx, upsertCoupon,
		arg.ID,
		arg.Code,
		arg.Kind,
		arg.Percent,
		arg.Amount,
		arg.Description,
		arg.MinSubtotal,
		arg.PerCustomerLimit,
		arg.UsageLimit,
		arg.ValidFrom,
		arg.ValidTo,
		arg.ProductIds,
		arg.CategoryIds,
		arg.Active,
	)
	return scanCoupon(row)
}

const countCouponRedemptionsByCustomer = `SELECT count(*) FROM coupon_redemptions WHERE coupon_id = $1 AND customer_key = $2`

type CountCouponRedemptionsByCustomerParams struct {
	CouponID    pgtype.UUID
	CustomerKey string
}

func (q *Queries) CountCouponRedemptionsByCustomer(ctx context.Context, arg CountCouponRedemptionsByCustomerParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countCouponRedemptionsByCustomer, arg.CouponID, arg.CustomerKey).Scan(&count)
	return count, err
}

const createCouponRedemption = `INSERT INTO coupon_redemptions (id, coupon_id, order_id, customer_key, discount)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (coupon_id, order_id) DO NOTHING`

type CreateCouponRedemptionParams struct {
	ID          pgtype.UUID
	CouponID    pgtype.UUID
	OrderID     pgtype.UUID
	CustomerKey string
	Discount    int64
}

func (q *Queries) CreateCouponRedemption(ctx context.Context, arg CreateCouponRedemptionParams) (int64, error) {
	tag, err := q.db.Exec(ctx, createCouponRedemption, arg.ID, arg.CouponID, arg.OrderID, arg.CustomerKey, arg.Discount)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const incrementCouponUsage = `UPDATE coupons SET used_count = used_count + 1, updated_at = now() WHERE id = $1`

func (q *Queries) IncrementCouponUsage(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, incrementCouponUsage, id)
	return err
}
