package order

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository with the same conversion guarantees as
// Store. It backs tests and local runs without Postgres.
type MemoryStore struct {
	mu          sync.Mutex
	orders      map[string]Order
	byTxn       map[string]string
	byCart      map[string]string
	redemptions map[string]int

	// OnConvert runs inside the conversion critical section; an error aborts it.
	OnConvert func(ctx context.Context, conv Conversion, orderID string) error
	Now       func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      map[string]Order{},
		byTxn:       map[string]string{},
		byCart:      map[string]string{},
		redemptions: map[string]int{},
	}
}

func (m *MemoryStore) CreateAtomically(ctx context.Context, conv Conversion) (Order, error) {
	if err := conv.Validate(); err != nil {
		return Order{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byTxn[conv.TransactionID]; ok {
		return m.orders[id], ErrAlreadyProcessed
	}
	if id, ok := m.byCart[conv.CartID]; ok {
		return m.orders[id], ErrCartConverted
	}
	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}
	o := Order{
		ID:              uuid.NewString(),
		Number:          NewNumber(now),
		CartID:          conv.CartID,
		Breakdown:       conv.Breakdown,
		Items:           append([]Item(nil), conv.Items...),
		CustomerEmail:   conv.CustomerEmail,
		CustomerID:      conv.CustomerID,
		ShippingAddress: conv.ShippingAddress,
		CouponCode:      conv.CouponCode,
		Gateway:         conv.Gateway,
		TransactionID:   conv.TransactionID,
		Status:          StatusProcessing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if m.OnConvert != nil {
		if err := m.OnConvert(ctx, conv, o.ID); err != nil {
			return Order{}, err
		}
	}
	m.orders[o.ID] = o
	m.byTxn[conv.TransactionID] = o.ID
	m.byCart[conv.CartID] = o.ID
	if conv.CouponID != "" {
		m.redemptions[conv.CouponID]++
	}
	return o, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryStore) GetByTransaction(_ context.Context, transactionID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byTxn[transactionID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return m.orders[id], nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, next Status) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if !o.Status.CanTransition(next) {
		return Order{}, ErrInvalidTransition
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	m.orders[id] = o
	return o, nil
}

// Count returns the number of stored orders.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// Redemptions returns how many conversions redeemed couponID.
func (m *MemoryStore) Redemptions(couponID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redemptions[couponID]
}
