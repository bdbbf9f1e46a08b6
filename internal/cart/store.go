package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/toko-checkout/internal/coupon"
	dbgen "github.com/noah-isme/toko-checkout/internal/db/gen"
	"github.com/noah-isme/toko-checkout/internal/money"
)

// Querier captures the database methods required by the cart store.
type Querier interface {
	GetCartByID(ctx context.Context, id pgtype.UUID) (dbgen.Cart, error)
	ListCartItems(ctx context.Context, cartID pgtype.UUID) ([]dbgen.CartItem, error)
	UpdateCartStatus(ctx context.Context, arg dbgen.UpdateCartStatusParams) (int64, error)
	SetCartCoupon(ctx context.Context, arg dbgen.SetCartCouponParams) (int64, error)
	SetCartEmail(ctx context.Context, arg dbgen.SetCartEmailParams) (int64, error)
}

// Patch lists the cart fields checkout may change. Nil fields are left untouched;
// an empty CouponCode clears the applied coupon.
type Patch struct {
	Status     *Status
	CouponCode *string
	Email      *string
}

// Store loads and updates carts. Checkout never creates or deletes carts.
type Store struct {
	Q Querier
}

// Get loads the cart with its items in position order.
func (s *Store) Get(ctx context.Context, id string) (*Cart, error) {
	if s == nil || s.Q == nil {
		return nil, errors.New("cart store not configured")
	}
	cID, err := dbgen.ToUUID(id)
	if err != nil {
		return nil, ErrNotFound
	}
	row, err := s.Q.GetCartByID(ctx, cID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	items, err := s.Q.ListCartItems(ctx, cID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	return fromModel(row, items)
}

// Update applies patch. Converted carts are immutable and yield ErrConverted.
func (s *Store) Update(ctx context.Context, id string, patch Patch) error {
	if s == nil || s.Q == nil {
		return errors.New("cart store not configured")
	}
	cID, err := dbgen.ToUUID(id)
	if err != nil {
		return ErrNotFound
	}
	if patch.CouponCode != nil {
		code := pgtype.Text{}
		if c := coupon.NormalizeCode(*patch.CouponCode); c != "" {
			code = dbgen.Text(c)
		}
		n, err := s.Q.SetCartCoupon(ctx, dbgen.SetCartCouponParams{ID: cID, CouponCode: code})
		if err := s.applied(ctx, cID, n, err); err != nil {
			return err
		}
	}
	if patch.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*patch.Email))
		n, err := s.Q.SetCartEmail(ctx, dbgen.SetCartEmailParams{ID: cID, CustomerEmail: email})
		if err := s.applied(ctx, cID, n, err); err != nil {
			return err
		}
	}
	if patch.Status != nil {
		if *patch.Status == StatusConfirmed {
			return errors.New("carts are confirmed only by order conversion")
		}
		n, err := s.Q.UpdateCartStatus(ctx, dbgen.UpdateCartStatusParams{ID: cID, Status: string(*patch.Status)})
		if err := s.applied(ctx, cID, n, err); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applied(ctx context.Context, id pgtype.UUID, rows int64, err error) error {
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.Q.GetCartByID(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return ErrConverted
}

// CouponCart implements coupon.CartSource. Missing carts yield a nil view.
func (s *Store) CouponCart(ctx context.Context, cartID string) (*coupon.Cart, string, error) {
	c, err := s.Get(ctx, cartID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	view, err := c.CouponView()
	if err != nil {
		return nil, "", err
	}
	return view, c.CustomerKey(), nil
}

func fromModel(row dbgen.Cart, items []dbgen.CartItem) (*Cart, error) {
	c := &Cart{
		ID:            dbgen.UUIDString(row.ID),
		Secret:        row.Secret,
		Currency:      row.Currency,
		CustomerEmail: row.CustomerEmail,
		Status:        Status(row.CheckoutStatus),
		Items:         make([]Item, 0, len(items)),
	}
	if c.Currency == "" {
		c.Currency = money.DefaultCurrency
	}
	if row.CustomerID.Valid {
		c.CustomerID = dbgen.UUIDString(row.CustomerID)
	}
	if row.OrderID.Valid {
		c.OrderID = dbgen.UUIDString(row.OrderID)
	}
	if row.CouponCode.Valid {
		c.CouponCode = row.CouponCode.String
	}
	if len(row.ShippingAddress) > 0 {
		if err := json.Unmarshal(row.ShippingAddress, &c.Address); err != nil {
			return nil, fmt.Errorf("cart shipping address: %w", err)
		}
	}
	for _, it := range items {
		c.Items = append(c.Items, Item{
			ID:         dbgen.UUIDString(it.ID),
			ProductID:  it.ProductID,
			VariantID:  it.VariantID.String,
			CategoryID: it.CategoryID.String,
			Title:      it.Title,
			Qty:        int(it.Qty),
			UnitPrice:  money.Money(it.UnitPrice),
		})
	}
	return c, nil
}
