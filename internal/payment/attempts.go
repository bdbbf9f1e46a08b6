package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbgen "github.com/noah-isme/toko-checkout/internal/db/gen"
	"github.com/noah-isme/toko-checkout/internal/money"
)

// ErrAttemptNotFound is returned when no attempt matches the lookup.
var ErrAttemptNotFound = errors.New("payment attempt not found")

// AttemptStatus is the lifecycle state of a payment attempt.
type AttemptStatus string

const (
	AttemptInitiated        AttemptStatus = "initiated"
	AttemptConfirmed        AttemptStatus = "confirmed"
	AttemptFailed           AttemptStatus = "failed"
	AttemptPendingReconcile AttemptStatus = "pending_reconcile"
)

// Attempt records one initiation against a gateway.
type Attempt struct {
	ID               string
	CartID           string
	Gateway          string
	TransactionID    string
	Reference        string
	AccessCode       string
	AuthorizationURL string
	Amount           money.Money
	Currency         string
	Status           AttemptStatus
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Attempts persists payment attempts.
type Attempts interface {
	Create(ctx context.Context, a Attempt) (Attempt, error)
	GetByTransaction(ctx context.Context, gateway, transactionID string) (Attempt, error)
	GetByReference(ctx context.Context, reference string) (Attempt, error)
	SetStatus(ctx context.Context, id string, status AttemptStatus, reason string) error
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Attempt, error)
}

// AttemptQuerier captures the database methods required by AttemptStore.
type AttemptQuerier interface {
	CreatePaymentAttempt(ctx context.Context, arg dbgen.CreatePaymentAttemptParams) (dbgen.PaymentAttempt, error)
	GetPaymentAttemptByTransaction(ctx context.Context, arg dbgen.GetPaymentAttemptByTransactionParams) (dbgen.PaymentAttempt, error)
	GetPaymentAttemptByReference(ctx context.Context, reference string) (dbgen.PaymentAttempt, error)
	UpdatePaymentAttemptStatus(ctx context.Context, arg dbgen.UpdatePaymentAttemptStatusParams) (int64, error)
	ListPendingPaymentAttempts(ctx context.Context, arg dbgen.ListPendingPaymentAttemptsParams) ([]dbgen.PaymentAttempt, error)
}

// AttemptStore is the Postgres implementation of Attempts.
type AttemptStore struct {
	Q AttemptQuerier
}

func (s *AttemptStore) Create(ctx context.Context, a Attempt) (Attempt, error) {
	cartID, err := dbgen.ToUUID(a.CartID)
	if err != nil {
		return Attempt{}, fmt.Errorf("cart id: %w", err)
	}
	row, err := s.Q.CreatePaymentAttempt(ctx, dbgen.CreatePaymentAttemptParams{
		ID:               dbgen.FromUUID(uuid.New()),
		CartID:           cartID,
		Gateway:          a.Gateway,
		TransactionID:    a.TransactionID,
		Reference:        a.Reference,
		AccessCode:       a.AccessCode,
		AuthorizationUrl: a.AuthorizationURL,
		Amount:           a.Amount.Int64(),
		Currency:         a.Currency,
	})
	if err != nil {
		return Attempt{}, err
	}
	return attemptFromModel(row), nil
}

func (s *AttemptStore) GetByTransaction(ctx context.Context, gateway, transactionID string) (Attempt, error) {
	row, err := s.Q.GetPaymentAttemptByTransaction(ctx, dbgen.GetPaymentAttemptByTransactionParams{
		Gateway:       gateway,
		TransactionID: transactionID,
	})
	return attemptOrNotFound(row, err)
}

func (s *AttemptStore) GetByReference(ctx context.Context, reference string) (Attempt, error) {
	row, err := s.Q.GetPaymentAttemptByReference(ctx, reference)
	return attemptOrNotFound(row, err)
}

// SetStatus never downgrades a confirmed attempt.
func (s *AttemptStore) SetStatus(ctx context.Context, id string, status AttemptStatus, reason string) error {
	aID, err := dbgen.ToUUID(id)
	if err != nil {
		return ErrAttemptNotFound
	}
	_, err = s.Q.UpdatePaymentAttemptStatus(ctx, dbgen.UpdatePaymentAttemptStatusParams{
		ID:            aID,
		Status:        string(status),
		FailureReason: reason,
	})
	return err
}

func (s *AttemptStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Attempt, error) {
	rows, err := s.Q.ListPendingPaymentAttempts(ctx, dbgen.ListPendingPaymentAttemptsParams{
		Before: pgtype.Timestamptz{Time: olderThan, Valid: true},
		Limit:  int32(limit),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Attempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, attemptFromModel(row))
	}
	return out, nil
}

func attemptOrNotFound(row dbgen.PaymentAttempt, err error) (Attempt, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, ErrAttemptNotFound
		}
		return Attempt{}, err
	}
	return attemptFromModel(row), nil
}

func attemptFromModel(row dbgen.PaymentAttempt) Attempt {
	a := Attempt{
		ID:               dbgen.UUIDString(row.ID),
		CartID:           dbgen.UUIDString(row.CartID),
		Gateway:          row.Gateway,
		TransactionID:    row.TransactionID,
		Reference:        row.Reference,
		AccessCode:       row.AccessCode,
		AuthorizationURL: row.AuthorizationUrl,
		Amount:           money.Money(row.Amount),
		Currency:         row.Currency,
		Status:           AttemptStatus(row.Status),
		FailureReason:    row.FailureReason,
	}
	if row.CreatedAt.Valid {
		a.CreatedAt = row.CreatedAt.Time
	}
	if row.UpdatedAt.Valid {
		a.UpdatedAt = row.UpdatedAt.Time
	}
	return a
}

// MemoryAttempts is an in-process Attempts used by tests and local runs.
type MemoryAttempts struct {
	mu    sync.Mutex
	items map[string]Attempt
}

// NewMemoryAttempts constructs an empty store.
func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{items: map[string]Attempt{}}
}

func (m *MemoryAttempts) Create(_ context.Context, a Attempt) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Gateway == a.Gateway && existing.TransactionID == a.TransactionID {
			return Attempt{}, fmt.Errorf("duplicate attempt for %s/%s", a.Gateway, a.TransactionID)
		}
	}
	now := time.Now()
	a.ID = uuid.NewString()
	a.Status = AttemptInitiated
	a.CreatedAt, a.UpdatedAt = now, now
	m.items[a.ID] = a
	return a, nil
}

func (m *MemoryAttempts) GetByTransaction(_ context.Context, gateway, transactionID string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.Gateway == gateway && a.TransactionID == transactionID {
			return a, nil
		}
	}
	return Attempt{}, ErrAttemptNotFound
}

func (m *MemoryAttempts) GetByReference(_ context.Context, reference string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.Reference == reference {
			return a, nil
		}
	}
	return Attempt{}, ErrAttemptNotFound
}

func (m *MemoryAttempts) SetStatus(_ context.Context, id string, status AttemptStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return ErrAttemptNotFound
	}
	if a.Status == AttemptConfirmed {
		return nil
	}
	a.Status, a.FailureReason, a.UpdatedAt = status, reason, time.Now()
	m.items[id] = a
	return nil
}

func (m *MemoryAttempts) ListPending(_ context.Context, olderThan time.Time, limit int) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	for _, a := range m.items {
		if a.Status == AttemptPendingReconcile && a.UpdatedAt.Before(olderThan) {
			out = append(out, a)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
