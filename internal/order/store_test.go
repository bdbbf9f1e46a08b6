package order

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	dbgen "github.com/noah-isme/toko-checkout/internal/db/gen"
)

// fakeTx plays both the pool connection and the transaction. Statements are
// matched by the table they touch.
type fakeTx struct {
	pgx.Tx

	insertConflict bool
	cartRows       int64
	failOn         string
	byTransaction  map[string]dbgen.Order
	byCart         map[string]dbgen.Order

	execs      []string
	committed  bool
	rolledBack bool
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		cartRows:      1,
		byTransaction: map[string]dbgen.Order{},
		byCart:        map[string]dbgen.Order{},
	}
}

func (f *fakeTx) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) { return f, nil }

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.committed {
		return pgx.ErrTxClosed
	}
	f.rolledBack = true
	return nil
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	var table string
	switch {
	case strings.Contains(sql, "UPDATE carts"):
		table = "carts"
	case strings.Contains(sql, "coupon_redemptions"):
		table = "coupon_redemptions"
	case strings.Contains(sql, "UPDATE coupons"):
		table = "coupons"
	case strings.Contains(sql, "payment_attempts"):
		table = "payment_attempts"
	default:
		return pgconn.CommandTag{}, errors.New("unexpected exec: " + sql)
	}
	f.execs = append(f.execs, table)
	if f.failOn == table {
		return pgconn.CommandTag{}, errors.New(table + " write failed")
	}
	if table == "carts" && f.cartRows == 0 {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("query not supported")
}

func (f *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "INSERT INTO orders"):
		if f.insertConflict {
			return orderRow{err: pgx.ErrNoRows}
		}
		return orderRow{order: insertedOrder(args)}
	case strings.Contains(sql, "WHERE transaction_id"):
		o, ok := f.byTransaction[args[0].(string)]
		if !ok {
			return orderRow{err: pgx.ErrNoRows}
		}
		return orderRow{order: o}
	case strings.Contains(sql, "WHERE cart_id"):
		o, ok := f.byCart[dbgen.UUIDString(args[0].(pgtype.UUID))]
		if !ok {
			return orderRow{err: pgx.ErrNoRows}
		}
		return orderRow{order: o}
	}
	return orderRow{err: errors.New("unexpected query: " + sql)}
}

type orderRow struct {
	order dbgen.Order
	err   error
}

func (r orderRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	o := r.order
	values := []any{
		o.ID, o.Number, o.CartID, o.Subtotal, o.Discount, o.ShippingFee, o.Tax, o.GrandTotal,
		o.Currency, o.Items, o.CustomerEmail, o.CustomerID, o.ShippingAddress, o.CouponCode,
		o.Gateway, o.TransactionID, o.Status, o.CreatedAt, o.UpdatedAt,
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(values[i]))
	}
	return nil
}

func insertedOrder(args []any) dbgen.Order {
	return dbgen.Order{
		ID:              args[0].(pgtype.UUID),
		Number:          args[1].(string),
		CartID:          args[2].(pgtype.UUID),
		Subtotal:        args[3].(int64),
		Discount:        args[4].(int64),
		ShippingFee:     args[5].(int64),
		Tax:             args[6].(int64),
		GrandTotal:      args[7].(int64),
		Currency:        args[8].(string),
		Items:           args[9].([]byte),
		CustomerEmail:   args[10].(string),
		CustomerID:      args[11].(pgtype.UUID),
		ShippingAddress: args[12].([]byte),
		CouponCode:      args[13].(pgtype.Text),
		Gateway:         args[14].(string),
		TransactionID:   args[15].(string),
		Status:          string(StatusProcessing),
	}
}

func storedOrder(t *testing.T, cartID, txn string) dbgen.Order {
	t.Helper()
	id, err := dbgen.ToUUID(uuid.NewString())
	require.NoError(t, err)
	cart, err := dbgen.ToUUID(cartID)
	require.NoError(t, err)
	return dbgen.Order{
		ID: id, Number: "ORD-WINNER", CartID: cart, Subtotal: 500_000, Discount: 50_000,
		ShippingFee: 3_000, Tax: 37_500, GrandTotal: 490_500, Currency: "NGN",
		Gateway: "paystack", TransactionID: txn, Status: string(StatusProcessing),
	}
}

func pgConversion(txn string) Conversion {
	conv := conversion(uuid.NewString(), txn)
	conv.CouponID = uuid.NewString()
	conv.AttemptID = uuid.NewString()
	conv.CustomerKey = "email:ada@example.com"
	return conv
}

func newPGStore(f *fakeTx) *Store {
	return &Store{Pool: f, Q: dbgen.New(f)}
}

func TestStoreCreateAtomicallyCommitsEveryWrite(t *testing.T) {
	f := newFakeTx()
	conv := pgConversion("T-OK")

	o, err := newPGStore(f).CreateAtomically(context.Background(), conv)
	require.NoError(t, err)
	require.Equal(t, "T-OK", o.TransactionID)
	require.Equal(t, conv.CartID, o.CartID)
	require.Equal(t, StatusProcessing, o.Status)
	require.Equal(t, []string{"carts", "coupon_redemptions", "coupons", "payment_attempts"}, f.execs)
	require.True(t, f.committed)
}

func TestStoreCreateAtomicallyReturnsWinnerOnDuplicateTransaction(t *testing.T) {
	f := newFakeTx()
	f.insertConflict = true
	conv := pgConversion("T-DUP")
	winner := storedOrder(t, conv.CartID, "T-DUP")
	f.byTransaction["T-DUP"] = winner

	o, err := newPGStore(f).CreateAtomically(context.Background(), conv)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Equal(t, dbgen.UUIDString(winner.ID), o.ID)
	require.Equal(t, "ORD-WINNER", o.Number)
	require.Empty(t, f.execs)
	require.False(t, f.committed)
	require.True(t, f.rolledBack)
}

func TestStoreCreateAtomicallyRefusesConvertedCart(t *testing.T) {
	f := newFakeTx()
	f.cartRows = 0
	conv := pgConversion("T-SECOND")
	first := storedOrder(t, conv.CartID, "T-FIRST")
	f.byCart[conv.CartID] = first

	o, err := newPGStore(f).CreateAtomically(context.Background(), conv)
	require.ErrorIs(t, err, ErrCartConverted)
	require.Equal(t, "T-FIRST", o.TransactionID)
	require.Equal(t, []string{"carts"}, f.execs)
	require.False(t, f.committed)
	require.True(t, f.rolledBack)
}

func TestStoreCreateAtomicallyRollsBackOnCouponFailure(t *testing.T) {
	for _, table := range []string{"coupon_redemptions", "coupons", "payment_attempts"} {
		t.Run(table, func(t *testing.T) {
			f := newFakeTx()
			f.failOn = table

			_, err := newPGStore(f).CreateAtomically(context.Background(), pgConversion("T-FAIL"))
			require.Error(t, err)
			require.Contains(t, err.Error(), table+" write failed")
			require.False(t, f.committed)
			require.True(t, f.rolledBack)
		})
	}
}
