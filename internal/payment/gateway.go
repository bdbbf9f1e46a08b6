package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

var (
	// ErrUnknownGateway is returned by the registry for unregistered gateway ids.
	ErrUnknownGateway = errors.New("unknown payment gateway")
	// ErrInvalidAmount rejects zero or negative charges before any network call.
	ErrInvalidAmount = errors.New("payment amount must be positive")
	// ErrTransient marks gateway failures that may succeed on retry.
	ErrTransient = errors.New("transient gateway failure")
	// ErrDeclined marks permanent gateway rejections.
	ErrDeclined = errors.New("gateway rejected request")
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// InitiateRequest describes a charge to open with a gateway.
type InitiateRequest struct {
	Reference   string
	Amount      money.Money
	Currency    string
	Email       string
	CallbackURL string
	Metadata    map[string]string
}

// Transaction is the handle a gateway returns when a charge is opened.
type Transaction struct {
	TransactionID    string
	Reference        string
	AccessCode       string
	AuthorizationURL string
}

// Verification is the gateway's authoritative view of a transaction.
type Verification struct {
	TransactionID string
	Reference     string
	Settled       bool
	Status        string
	Amount        money.Money
	Currency      string
	PaidAt        *time.Time
}

// Gateway abstracts a payment provider.
type Gateway interface {
	ID() string
	Initiate(ctx context.Context, req InitiateRequest) (Transaction, error)
	Verify(ctx context.Context, transactionID string) (Verification, error)
}

// WebhookEvent is the normalised content of a verified gateway callback.
type WebhookEvent struct {
	Type          string
	TransactionID string
	Reference     string
	// Actionable is false for events that carry no settlement information.
	Actionable bool
}

// WebhookVerifier is implemented by gateways that push signed callbacks.
type WebhookVerifier interface {
	VerifyWebhook(header http.Header, body []byte) (WebhookEvent, error)
}

// Registry resolves gateways by id.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry indexes the provided gateways by their lower-cased id.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		if g == nil {
			continue
		}
		r.gateways[strings.ToLower(g.ID())] = g
	}
	return r
}

// Get returns the gateway registered under id.
func (r *Registry) Get(id string) (Gateway, error) {
	if r != nil {
		if g, ok := r.gateways[strings.ToLower(strings.TrimSpace(id))]; ok {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, id)
}

// IDs lists registered gateway ids in sorted order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewReference generates a unique, time-ordered merchant reference.
func NewReference(now time.Time) string {
	return "chk_" + strings.ToLower(ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String())
}

// IsTransient reports whether err is worth retrying or reconciling later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, resilience.ErrOpenCircuit) ||
		errors.Is(err, resilience.ErrUpstreamStatus) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
