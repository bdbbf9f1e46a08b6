package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const paymentAttemptColumns = `id, cart_id, gateway, transaction_id, reference, access_code, authorization_url,
amount, currency, status, failure_reason, created_at, updated_at`

func scanPaymentAttempt(row interface{ Scan(...any) error }) (PaymentAttempt, error) {
	var i PaymentAttempt
	err := row.Scan(
		&i.ID,
		&i.CartID,
		&i.Gateway,
		&i.TransactionID,
		&i.Reference,
		&i.AccessCode,
		&i.AuthorizationUrl,
		&i.Amount,
		&i.Currency,
		&i.Status,
		&i.FailureReason,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createPaymentAttempt = `INSERT INTO payment_attempts (
    id, cart_id, gateway, transaction_id, reference, access_code, authorization_url, amount, currency, status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'initiated')
RETURNING ` + paymentAttemptColumns

type CreatePaymentAttemptParams struct {
	ID               pgtype.UUID
	CartID           pgtype.UUID
	Gateway          string
	TransactionID    string
	Reference        string
	AccessCode       string
	AuthorizationUrl string
	Amount           int64
	Currency         string
}

func (q *Queries) CreatePaymentAttempt(ctx context.Context, arg CreatePaymentAttemptParams) (PaymentAttempt, error) {
	row := q.db.QueryRow(ctx, createPaymentAttempt,
		arg.ID,
		arg.CartID,
		arg.Gateway,
		arg.TransactionID,
		arg.Reference,
		arg.AccessCode,
		arg.AuthorizationUrl,
		arg.Amount,
		arg.Currency,
	)
	return scanPaymentAttempt(row)
}

const getPaymentAttemptByTransaction = `SELECT ` + paymentAttemptColumns + `
FROM payment_attempts WHERE gateway = $1 AND transaction_id = $2`

type GetPaymentAttemptByTransactionParams struct {
	Gateway       string
	TransactionID string
}

func (q *Queries) GetPaymentAttemptByTransaction(ctx context.Context, arg GetPaymentAttemptByTransactionParams) (PaymentAttempt, error) {
	return scanPaymentAttempt(q.db.QueryRow(ctx, getPaymentAttemptByTransaction, arg.Gateway, arg.TransactionID))
}

const getPaymentAttemptByReference = `SELECT ` + paymentAttemptColumns + ` FROM payment_attempts WHERE reference = $1`

func (q *Queries) GetPaymentAttemptByReference(ctx context.Context, reference string) (PaymentAttempt, error) {
	return scanPaymentAttempt(q.db.QueryRow(ctx, getPaymentAttemptByReference, reference))
}

const updatePaymentAttemptStatus = `UPDATE payment_attempts SET status = $2, failure_reason = $3, updated_at = now()
WHERE id = $1 AND status <> 'confirmed'`

type UpdatePaymentAttemptStatusParams struct {
	ID            pgtype.UUID
	Status        string
	FailureReason string
}

// UpdatePaymentAttemptStatus leaves confirmed attempts untouched.
func (q *Queries) UpdatePaymentAttemptStatus(ctx context.Context, arg UpdatePaymentAttemptStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updatePaymentAttemptStatus, arg.ID, arg.Status, arg.FailureReason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listPendingPaymentAttempts = `SELECT ` + paymentAttemptColumns + `
FROM payment_attempts
WHERE status = 'pending_reconcile' AND updated_at < $1
ORDER BY updated_at
LIMIT $2`

type ListPendingPaymentAttemptsParams struct {
	Before pgtype.Timestamptz
	Limit  int32
}

func (q *Queries) ListPendingPaymentAttempts(ctx context.Context, arg ListPendingPaymentAttemptsParams) ([]PaymentAttempt, error) {
	rows, err := q.db.Query(ctx, listPendingPaymentAttempts, arg.Before, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PaymentAttempt
	for rows.Next() {
		i, err := scanPaymentAttempt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
