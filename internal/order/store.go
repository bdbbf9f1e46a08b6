package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbgen "github.com/noah-isme/toko-checkout/internal/db/gen"
	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Repository is the order persistence used by checkout and the order handlers.
type Repository interface {
	CreateAtomically(ctx context.Context, conv Conversion) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	GetByTransaction(ctx context.Context, transactionID string) (Order, error)
	UpdateStatus(ctx context.Context, id string, next Status) (Order, error)
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store persists orders in Postgres.
type Store struct {
	Pool TxBeginner
	Q    *dbgen.Queries
	Now  func() time.Time
}

// CreateAtomically converts a cart into an order in one transaction: the order
// insert keyed by transaction id, the cart status compare-and-swap, the coupon
// redemption and the payment attempt confirmation either all apply or none do.
func (s *Store) CreateAtomically(ctx context.Context, conv Conversion) (Order, error) {
	if s == nil || s.Pool == nil || s.Q == nil {
		return Order{}, errors.New("order store not configured")
	}
	if err := conv.Validate(); err != nil {
		return Order{}, err
	}
	params, err := insertParams(conv, s.now())
	if err != nil {
		return Order{}, err
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	qtx := s.Q.WithTx(tx)

	row, err := qtx.InsertOrder(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = tx.Rollback(ctx)
			return s.conflict(ctx, conv)
		}
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	n, err := qtx.MarkCartConverted(ctx, dbgen.MarkCartConvertedParams{ID: params.CartID, OrderID: row.ID})
	if err != nil {
		return Order{}, fmt.Errorf("mark cart converted: %w", err)
	}
	if n == 0 {
		_ = tx.Rollback(ctx)
		return s.conflict(ctx, conv)
	}
	if conv.CouponID != "" {
		couponID, err := dbgen.ToUUID(conv.CouponID)
		if err != nil {
			return Order{}, fmt.Errorf("coupon id: %w", err)
		}
		if _, err := qtx.CreateCouponRedemption(ctx, dbgen.CreateCouponRedemptionParams{
			ID:          dbgen.FromUUID(uuid.New()),
			CouponID:    couponID,
			OrderID:     row.ID,
			CustomerKey: conv.CustomerKey,
			Discount:    conv.Breakdown.Discount.Int64(),
		}); err != nil {
			return Order{}, fmt.Errorf("record coupon redemption: %w", err)
		}
		if err := qtx.IncrementCouponUsage(ctx, couponID); err != nil {
			return Order{}, fmt.Errorf("increment coupon usage: %w", err)
		}
	}
	if conv.AttemptID != "" {
		attemptID, err := dbgen.ToUUID(conv.AttemptID)
		if err != nil {
			return Order{}, fmt.Errorf("attempt id: %w", err)
		}
		if _, err := qtx.UpdatePaymentAttemptStatus(ctx, dbgen.UpdatePaymentAttemptStatusParams{
			ID:     attemptID,
			Status: "confirmed",
		}); err != nil {
			return Order{}, fmt.Errorf("confirm payment attempt: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return fromModel(row)
}

// conflict resolves a lost race into the winner's order.
func (s *Store) conflict(ctx context.Context, conv Conversion) (Order, error) {
	existing, err := s.GetByTransaction(ctx, conv.TransactionID)
	if err == nil {
		return existing, ErrAlreadyProcessed
	}
	if !errors.Is(err, ErrNotFound) {
		return Order{}, err
	}
	cartID, err := dbgen.ToUUID(conv.CartID)
	if err != nil {
		return Order{}, err
	}
	row, err := s.Q.GetOrderByCartID(ctx, cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrCartConverted
		}
		return Order{}, err
	}
	existing, err = fromModel(row)
	if err != nil {
		return Order{}, err
	}
	return existing, ErrCartConverted
}

// Get loads an order by id.
func (s *Store) Get(ctx context.Context, id string) (Order, error) {
	oID, err := dbgen.ToUUID(id)
	if err != nil {
		return Order{}, ErrNotFound
	}
	row, err := s.Q.GetOrderByID(ctx, oID)
	return orNotFound(row, err)
}

// GetByTransaction loads the order created for a gateway transaction.
func (s *Store) GetByTransaction(ctx context.Context, transactionID string) (Order, error) {
	row, err := s.Q.GetOrderByTransactionID(ctx, transactionID)
	return orNotFound(row, err)
}

// UpdateStatus applies an allowed transition. Concurrent transitions lose with ErrInvalidTransition.
func (s *Store) UpdateStatus(ctx context.Context, id string, next Status) (Order, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !current.Status.CanTransition(next) {
		return Order{}, ErrInvalidTransition
	}
	oID, _ := dbgen.ToUUID(id)
	row, err := s.Q.UpdateOrderStatus(ctx, dbgen.UpdateOrderStatusParams{
		ID:     oID,
		Status: string(next),
		From:   string(current.Status),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrInvalidTransition
		}
		return Order{}, err
	}
	return fromModel(row)
}

func (s *Store) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func orNotFound(row dbgen.Order, err error) (Order, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return fromModel(row)
}

func insertParams(conv Conversion, now time.Time) (dbgen.InsertOrderParams, error) {
	cartID, err := dbgen.ToUUID(conv.CartID)
	if err != nil {
		return dbgen.InsertOrderParams{}, fmt.Errorf("cart id: %w", err)
	}
	items, err := json.Marshal(conv.Items)
	if err != nil {
		return dbgen.InsertOrderParams{}, err
	}
	address := []byte(conv.ShippingAddress)
	if len(address) == 0 {
		address = []byte("{}")
	}
	var couponCode pgtype.Text
	if conv.CouponCode != "" {
		couponCode = dbgen.Text(conv.CouponCode)
	}
	b := conv.Breakdown
	return dbgen.InsertOrderParams{
		ID:              dbgen.FromUUID(uuid.New()),
		Number:          NewNumber(now),
		CartID:          cartID,
		Subtotal:        b.Subtotal.Int64(),
		Discount:        b.Discount.Int64(),
		ShippingFee:     b.ShippingFee.Int64(),
		Tax:             b.Tax.Int64(),
		GrandTotal:      b.GrandTotal.Int64(),
		Currency:        b.Currency,
		Items:           items,
		CustomerEmail:   conv.CustomerEmail,
		CustomerID:      dbgen.OptionalUUID(conv.CustomerID),
		ShippingAddress: address,
		CouponCode:      couponCode,
		Gateway:         conv.Gateway,
		TransactionID:   conv.TransactionID,
	}, nil
}

func fromModel(row dbgen.Order) (Order, error) {
	o := Order{
		ID:     dbgen.UUIDString(row.ID),
		Number: row.Number,
		CartID: dbgen.UUIDString(row.CartID),
		Breakdown: pricing.Breakdown{
			Subtotal:    money.Money(row.Subtotal),
			Discount:    money.Money(row.Discount),
			ShippingFee: money.Money(row.ShippingFee),
			Tax:         money.Money(row.Tax),
			GrandTotal:  money.Money(row.GrandTotal),
			Currency:    row.Currency,
		},
		CustomerEmail:   row.CustomerEmail,
		ShippingAddress: json.RawMessage(row.ShippingAddress),
		Gateway:         row.Gateway,
		TransactionID:   row.TransactionID,
		Status:          Status(row.Status),
		Items:           []Item{},
	}
	if row.CustomerID.Valid {
		o.CustomerID = dbgen.UUIDString(row.CustomerID)
	}
	if row.CouponCode.Valid {
		o.CouponCode = row.CouponCode.String
	}
	if len(row.Items) > 0 {
		if err := json.Unmarshal(row.Items, &o.Items); err != nil {
			return Order{}, fmt.Errorf("order items: %w", err)
		}
	}
	if row.CreatedAt.Valid {
		o.CreatedAt = row.CreatedAt.Time
	}
	if row.UpdatedAt.Valid {
		o.UpdatedAt = row.UpdatedAt.Time
	}
	return o, nil
}
