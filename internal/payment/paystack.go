package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

const paystackDefaultBaseURL = "https://api.paystack.co"

// PaystackConfig configures the Paystack gateway.
type PaystackConfig struct {
	SecretKey   string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	Breaker     *resilience.Breaker
	HTTPClient  *http.Client
}

// Paystack talks to the Paystack transaction API. Transactions are identified by
// the merchant reference.
type Paystack struct {
	secret  string
	baseURL string
	http    resilience.HTTPClient
}

// NewPaystack constructs the gateway. Outbound calls are traced and guarded by the breaker.
func NewPaystack(cfg PaystackConfig) (*Paystack, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errors.New("paystack: secret key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = paystackDefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("paystack")
	}
	return &Paystack{
		secret:  secret,
		baseURL: base,
		http: resilience.HTTPClient{
			Client:      client,
			Breaker:     breaker,
			MaxAttempts: cfg.MaxAttempts,
			BaseBackoff: cfg.RetryBase,
			Jitter:      0.2,
			Timeout:     cfg.Timeout,
		},
	}, nil
}

func (p *Paystack) ID() string { return "paystack" }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackVerifyData struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at"`
}

// Initiate opens a transaction. Initialisation is sent once; the reference keeps it idempotent upstream.
func (p *Paystack) Initiate(ctx context.Context, req InitiateRequest) (Transaction, error) {
	if req.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	ctx, span := otel.Tracer("payment.paystack").Start(ctx, "Paystack.Initiate")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", req.Reference))

	payload := map[string]any{
		"email":     req.Email,
		"amount":    req.Amount.Int64(),
		"currency":  strings.ToUpper(req.Currency),
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Transaction{}, err
	}
	once := p.http
	once.MaxAttempts = 1

	var data paystackInitData
	if err := p.call(ctx, once, "initiate", http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return Transaction{}, err
	}
	ref := data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return Transaction{
		TransactionID:    ref,
		Reference:        ref,
		AccessCode:       data.AccessCode,
		AuthorizationURL: data.AuthorizationURL,
	}, nil
}

// Verify fetches the settlement state of a transaction. Verification is retried with backoff.
func (p *Paystack) Verify(ctx context.Context, transactionID string) (Verification, error) {
	ref := strings.TrimSpace(transactionID)
	if ref == "" {
		return Verification{}, fmt.Errorf("%w: transaction reference is required", ErrDeclined)
	}
	ctx, span := otel.Tracer("payment.paystack").Start(ctx, "Paystack.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", ref))

	var data paystackVerifyData
	if err := p.call(ctx, p.http, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(ref), nil, &data); err != nil {
		return Verification{}, err
	}
	v := Verification{
		TransactionID: ref,
		Reference:     data.Reference,
		Status:        data.Status,
		Settled:       strings.EqualFold(data.Status, "success"),
		Amount:        money.Money(data.Amount),
		Currency:      strings.ToUpper(data.Currency),
	}
	if data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			v.PaidAt = &t
		}
	}
	return v, nil
}

func (p *Paystack) call(ctx context.Context, client resilience.HTTPClient, op, method, path string, body []byte, dst any) (err error) {
	start := time.Now()
	defer func() {
		obs.ObserveGatewayCall(p.ID(), op, resultLabel(err), time.Since(start))
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		if IsTransient(err) {
			return fmt.Errorf("paystack %s: %w: %w", op, ErrTransient, err)
		}
		return fmt.Errorf("paystack %s: %w", op, err)
	}
	defer resp.Body.Close()

	var env paystackEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return fmt.Errorf("paystack %s: decode response: %w", op, err)
	}
	if resp.StatusCode >= 300 || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("paystack %s: %w: %s", op, ErrDeclined, msg)
	}
	if dst != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return fmt.Errorf("paystack %s: decode data: %w", op, err)
		}
	}
	return nil
}

// VerifyWebhook checks the HMAC SHA-512 x-paystack-signature over the raw body.
func (p *Paystack) VerifyWebhook(header http.Header, body []byte) (WebhookEvent, error) {
	provided := strings.TrimSpace(header.Get("x-paystack-signature"))
	if provided == "" {
		return WebhookEvent{}, ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(p.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return WebhookEvent{}, ErrInvalidSignature
	}
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("paystack webhook: %w", err)
	}
	ev := WebhookEvent{
		Type:          payload.Event,
		TransactionID: payload.Data.Reference,
		Reference:     payload.Data.Reference,
	}
	switch payload.Event {
	case "charge.success", "charge.failed":
		ev.Actionable = ev.TransactionID != ""
	}
	return ev, nil
}
