package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/obs"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig configures the Stripe gateway. Intents is only set by tests.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Intents       stripeIntentAPI
}

// Stripe implements Gateway over Stripe PaymentIntents. The transaction id is the intent id.
type Stripe struct {
	intents       stripeIntentAPI
	webhookSecret string
}

// NewStripe constructs the gateway.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	intents := cfg.Intents
	if intents == nil {
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(key, cfg.Backends).PaymentIntents
	}
	return &Stripe{intents: intents, webhookSecret: strings.TrimSpace(cfg.WebhookSecret)}, nil
}

func (s *Stripe) ID() string { return "stripe" }

// Initiate creates a PaymentIntent; the merchant reference doubles as idempotency key.
func (s *Stripe) Initiate(ctx context.Context, req InitiateRequest) (Transaction, error) {
	if req.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	ctx, span := otel.Tracer("payment.stripe").Start(ctx, "Stripe.Initiate")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", req.Reference))

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount.Int64()),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Reference != "" {
		params.SetIdempotencyKey(req.Reference)
		params.AddMetadata("reference", req.Reference)
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	start := time.Now()
	intent, err := s.intents.New(params)
	err = classifyStripe(err)
	obs.ObserveGatewayCall(s.ID(), "initiate", resultLabel(err), time.Since(start))
	if err != nil {
		return Transaction{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return Transaction{
		TransactionID: intent.ID,
		Reference:     req.Reference,
		AccessCode:    intent.ClientSecret,
	}, nil
}

// Verify reads the intent; only succeeded intents are settled.
func (s *Stripe) Verify(ctx context.Context, transactionID string) (Verification, error) {
	id := strings.TrimSpace(transactionID)
	if id == "" {
		return Verification{}, fmt.Errorf("%w: payment intent id is required", ErrDeclined)
	}
	ctx, span := otel.Tracer("payment.stripe").Start(ctx, "Stripe.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("payment.intent", id))

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	start := time.Now()
	intent, err := s.intents.Get(id, params)
	err = classifyStripe(err)
	obs.ObserveGatewayCall(s.ID(), "verify", resultLabel(err), time.Since(start))
	if err != nil {
		return Verification{}, fmt.Errorf("stripe: get payment intent: %w", err)
	}
	v := Verification{
		TransactionID: intent.ID,
		Reference:     intent.Metadata["reference"],
		Status:        string(intent.Status),
		Settled:       intent.Status == stripe.PaymentIntentStatusSucceeded,
		Amount:        money.Money(intent.Amount),
		Currency:      strings.ToUpper(string(intent.Currency)),
	}
	if v.Settled && intent.LatestCharge != nil && intent.LatestCharge.Created > 0 {
		t := time.Unix(intent.LatestCharge.Created, 0).UTC()
		v.PaidAt = &t
	}
	return v, nil
}

// VerifyWebhook validates the Stripe-Signature header and extracts the intent id.
func (s *Stripe) VerifyWebhook(header http.Header, body []byte) (WebhookEvent, error) {
	if s.webhookSecret == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	ev := WebhookEvent{Type: string(event.Type)}
	if !strings.HasPrefix(ev.Type, "payment_intent.") || event.Data == nil {
		return ev, nil
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe webhook: %w", err)
	}
	ev.TransactionID = intent.ID
	ev.Reference = intent.Metadata["reference"]
	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		ev.Actionable = ev.TransactionID != ""
	}
	return ev, nil
}

// classifyStripe tags retryable Stripe failures with ErrTransient and the rest with ErrDeclined.
func classifyStripe(err error) error {
	if err == nil {
		return nil
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == http.StatusTooManyRequests || serr.Type == stripe.ErrorTypeAPI {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return fmt.Errorf("%w: %w", ErrDeclined, err)
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
