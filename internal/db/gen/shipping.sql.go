package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getShippingConfig = `SELECT default_fee, free_threshold, tax_rate::text, regions, updated_at
FROM shipping_config WHERE id = 1`

func (q *Queries) GetShippingConfig(ctx context.Context) (ShippingConfig, error) {
	var i ShippingConfig
	err := q.db.QueryRow(ctx, getShippingConfig).Scan(
		&i.DefaultFee,
		&i.FreeThreshold,
		&i.TaxRate,
		&i.Regions,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertShippingConfig = `INSERT INTO shipping_config (id, default_fee, free_threshold, tax_rate, regions, updated_at)
VALUES (1, $1, $2, $3::numeric, $4, now())
ON CONFLICT (id) DO UPDATE SET
    default_fee = EXCLUDED.default_fee,
    free_threshold = EXCLUDED.free_threshold,
    tax_rate = EXCLUDED.tax_rate,
    regions = EXCLUDED.regions,
    updated_at = now()
RETURNING default_fee, free_threshold, tax_rate::text, regions, updated_at`

type UpsertShippingConfigParams struct {
	DefaultFee    int64
	FreeThreshold pgtype.Int8
	TaxRate       string
	Regions       []byte
}

func (q *Queries) UpsertShippingConfig(ctx context.Context, arg UpsertShippingConfigParams) (ShippingConfig, error) {
	var i ShippingConfig
	err := q.db.QueryRow(ctx, upsertShippingConfig,
		arg.DefaultFee,
		arg.FreeThreshold,
		arg.TaxRate,
		arg.Regions,
	).Scan(
		&i.DefaultFee,
		&i.FreeThreshold,
		&i.TaxRate,
		&i.Regions,
		&i.UpdatedAt,
	)
	return i, err
}
