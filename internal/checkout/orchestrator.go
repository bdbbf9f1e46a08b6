package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/coupon"
	"github.com/noah-isme/toko-checkout/internal/lock"
	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/pricing"
	"github.com/noah-isme/toko-checkout/internal/shipping"
)

var (
	// ErrEmptyCart rejects payment initiation for a cart without items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrEmailRequired is returned when neither the request nor the cart carries an email.
	ErrEmailRequired = errors.New("customer email is required")
	// ErrTransactionRequired is returned when confirmation names no transaction.
	ErrTransactionRequired = errors.New("transaction id or reference is required")
	// ErrAttemptMismatch is returned when the transaction belongs to another cart or gateway.
	ErrAttemptMismatch = errors.New("transaction does not belong to this cart")
	// ErrNotSettled is returned when the gateway reports the payment as unpaid.
	ErrNotSettled = errors.New("payment not settled")
	// ErrAmountMismatch is returned when the paid amount differs from the current price.
	ErrAmountMismatch = errors.New("paid amount does not match cart total")
	// ErrGatewayUnavailable wraps transient gateway failures during initiation.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected wraps permanent gateway failures.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
	// ErrSettlementPending is returned by Reconcile when settlement could not be determined yet.
	ErrSettlementPending = errors.New("settlement pending")
)

// Carts is the cart persistence the orchestrator drives.
type Carts interface {
	Get(ctx context.Context, id string) (*cart.Cart, error)
	Update(ctx context.Context, id string, patch cart.Patch) error
}

// Coupons evaluates and invalidates coupon definitions.
type Coupons interface {
	Validate(ctx context.Context, code string, c *coupon.Cart, customerKey string) (coupon.Result, error)
	Invalidate(ctx context.Context, code string) error
}

// ShippingConfigs supplies the current shipping and tax configuration.
type ShippingConfigs interface {
	Get(ctx context.Context) (shipping.Config, error)
}

// Enqueuer schedules a background settlement check for a transaction.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, gatewayID, transactionID string) error
}

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Orchestrator runs the checkout state machine:
// OPEN -> PRICED -> PAYMENT_INITIATED -> CONFIRMED, with failures returning to PRICED.
type Orchestrator struct {
	Carts      Carts
	Coupons    Coupons
	Shipping   ShippingConfigs
	Orders     order.Repository
	Attempts   payment.Attempts
	Gateways   *payment.Registry
	Reconciler Enqueuer
	Locker     Locker

	InitiateTimeout time.Duration
	VerifyTimeout   time.Duration
	LockTTL         time.Duration
	CallbackURL     string

	Now func() time.Time
	Log zerolog.Logger
}

// Quote is a freshly computed price for a cart.
type Quote struct {
	Breakdown pricing.Breakdown `json:"breakdown"`
	Formatted pricing.Formatted `json:"formatted"`
	Shipping  shipping.Quote    `json:"shipping"`
	Coupon    *coupon.Result    `json:"coupon,omitempty"`
}

// Customer is the payer data supplied at initiation.
type Customer struct {
	Email string `json:"email" validate:"omitempty,email"`
}

// InitiateInput identifies the cart, the caller capability and the gateway.
type InitiateInput struct {
	CartID    string
	Secret    string
	UserID    string
	GatewayID string
	Customer  Customer
}

// Initiation is the gateway handle returned to the client.
type Initiation struct {
	Gateway          string            `json:"gateway"`
	Reference        string            `json:"reference"`
	AccessCode       string            `json:"accessCode"`
	TransactionID    string            `json:"transactionId"`
	AuthorizationURL string            `json:"authorizationUrl,omitempty"`
	Breakdown        pricing.Breakdown `json:"breakdown"`
}

// ConfirmInput names the transaction to settle. Either TransactionID or Reference is required.
type ConfirmInput struct {
	CartID        string
	Secret        string
	UserID        string
	GatewayID     string
	TransactionID string
	Reference     string
}

// Outcome is the result kind of a confirmation.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomePending          Outcome = "pending"
)

// Confirmation reports what happened to a confirmation request.
type Confirmation struct {
	Outcome Outcome
	Order   *order.Order
	Message string
}

// Access loads the cart and checks the caller's capability.
func (o *Orchestrator) Access(ctx context.Context, cartID, secret, userID string) (*cart.Cart, error) {
	if strings.TrimSpace(cartID) == "" {
		return nil, cart.ErrNotFound
	}
	c, err := o.Carts.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := c.Authorize(secret, userID); err != nil {
		return nil, err
	}
	return c, nil
}

// Price recomputes the breakdown of the cart. OPEN carts move to PRICED.
func (o *Orchestrator) Price(ctx context.Context, cartID string) (Quote, error) {
	c, err := o.Carts.Get(ctx, cartID)
	if err != nil {
		return Quote{}, err
	}
	return o.PriceCart(ctx, c)
}

// PriceCart prices an already loaded cart.
func (o *Orchestrator) PriceCart(ctx context.Context, c *cart.Cart) (Quote, error) {
	q, err := o.quote(ctx, c)
	if err != nil {
		return Quote{}, err
	}
	if c.Status == cart.StatusOpen {
		if err := o.setStatus(ctx, c.ID, cart.StatusPriced); err != nil {
			return Quote{}, err
		}
		c.Status = cart.StatusPriced
	}
	return q, nil
}

// quote is the single pricing path used by pricing, initiation and confirmation.
// An applied coupon that no longer validates contributes no discount.
func (o *Orchestrator) quote(ctx context.Context, c *cart.Cart) (Quote, error) {
	cfg, err := o.Shipping.Get(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("load shipping config: %w", err)
	}
	items := c.PricingItems()
	subtotal, err := pricing.Subtotal(items)
	if err != nil {
		return Quote{}, err
	}

	var discount pricingDiscount
	if c.CouponCode != "" && len(c.Items) > 0 {
		discount, err = o.evaluateCoupon(ctx, c)
		if err != nil {
			return Quote{}, err
		}
	}

	ship := shipping.Resolve(c.Address.Region, subtotal, cfg)
	b, err := pricing.Compute(pricing.Input{
		Items:       items,
		Discount:    discount.amount,
		ShippingFee: ship.Fee,
		TaxRate:     cfg.TaxRate,
		Currency:    c.Currency,
	})
	if err != nil {
		return Quote{}, err
	}
	return Quote{Breakdown: b, Formatted: b.Format(), Shipping: ship, Coupon: discount.result}, nil
}

type pricingDiscount struct {
	amount money.Money
	result *coupon.Result
}

func (o *Orchestrator) evaluateCoupon(ctx context.Context, c *cart.Cart) (pricingDiscount, error) {
	view, err := c.CouponView()
	if err != nil {
		return pricingDiscount{}, err
	}
	res, err := o.Coupons.Validate(ctx, c.CouponCode, view, c.CustomerKey())
	if err != nil {
		if errors.Is(err, coupon.ErrEmptyCode) {
			return pricingDiscount{}, nil
		}
		return pricingDiscount{}, fmt.Errorf("validate coupon: %w", err)
	}
	if !res.Valid {
		o.Log.Info().Str("cart_id", c.ID).Str("coupon", c.CouponCode).Str("reason", string(res.Reason)).Msg("coupon_not_applied")
		return pricingDiscount{result: &res}, nil
	}
	return pricingDiscount{amount: res.Discount, result: &res}, nil
}

// InitiatePayment opens a transaction with the gateway for the cart's current total.
// Any gateway failure leaves the cart PRICED.
func (o *Orchestrator) InitiatePayment(ctx context.Context, in InitiateInput) (Initiation, error) {
	gw, err := o.Gateways.Get(in.GatewayID)
	if err != nil {
		return Initiation{}, err
	}
	gatewayID := gw.ID()
	c, err := o.Access(ctx, in.CartID, in.Secret, in.UserID)
	if err != nil {
		return Initiation{}, err
	}
	if c.Status == cart.StatusConfirmed {
		return Initiation{}, cart.ErrConverted
	}
	if len(c.Items) == 0 {
		return Initiation{}, ErrEmptyCart
	}
	email := strings.ToLower(strings.TrimSpace(in.Customer.Email))
	if email == "" {
		email = c.CustomerEmail
	}
	if email == "" {
		return Initiation{}, ErrEmailRequired
	}
	if email != c.CustomerEmail {
		if err := o.Carts.Update(ctx, c.ID, cart.Patch{Email: &email}); err != nil {
			return Initiation{}, err
		}
		c.CustomerEmail = email
	}

	q, err := o.PriceCart(ctx, c)
	if err != nil {
		return Initiation{}, err
	}
	if c.Status == cart.StatusPaymentInitiated {
		// A new attempt supersedes the previous one; the cart is PRICED until it succeeds.
		if err := o.setStatus(ctx, c.ID, cart.StatusPriced); err != nil {
			return Initiation{}, err
		}
	}

	reference := payment.NewReference(o.now())
	callCtx, cancel := context.WithTimeout(ctx, o.initiateTimeout())
	defer cancel()
	tx, err := gw.Initiate(callCtx, payment.InitiateRequest{
		Reference:   reference,
		Amount:      q.Breakdown.GrandTotal,
		Currency:    q.Breakdown.Currency,
		Email:       email,
		CallbackURL: o.CallbackURL,
		Metadata:    map[string]string{"cart_id": c.ID},
	})
	if err != nil {
		obs.CountPaymentInitiation(gatewayID, "failed")
		o.Log.Warn().Err(err).Str("cart_id", c.ID).Str("gateway", gatewayID).Msg("payment_initiation_failed")
		return Initiation{}, classifyGatewayErr(err, "initiate")
	}

	attempt, err := o.Attempts.Create(ctx, payment.Attempt{
		CartID:           c.ID,
		Gateway:          gatewayID,
		TransactionID:    tx.TransactionID,
		Reference:        reference,
		AccessCode:       tx.AccessCode,
		AuthorizationURL: tx.AuthorizationURL,
		Amount:           q.Breakdown.GrandTotal,
		Currency:         q.Breakdown.Currency,
	})
	if err != nil {
		obs.CountPaymentInitiation(gatewayID, "error")
		return Initiation{}, fmt.Errorf("record payment attempt: %w", err)
	}
	if err := o.setStatus(ctx, c.ID, cart.StatusPaymentInitiated); err != nil {
		obs.CountPaymentInitiation(gatewayID, "error")
		return Initiation{}, err
	}

	obs.CountPaymentInitiation(gatewayID, "ok")
	o.Log.Info().
		Str("cart_id", c.ID).
		Str("gateway", gatewayID).
		Str("attempt_id", attempt.ID).
		Str("reference", reference).
		Int64("amount", q.Breakdown.GrandTotal.Int64()).
		Msg("payment_initiated")
	return Initiation{
		Gateway:          gatewayID,
		Reference:        reference,
		AccessCode:       tx.AccessCode,
		TransactionID:    tx.TransactionID,
		AuthorizationURL: tx.AuthorizationURL,
		Breakdown:        q.Breakdown,
	}, nil
}

// ConfirmOrder verifies settlement with the gateway and converts the cart into an
// order exactly once per transaction.
func (o *Orchestrator) ConfirmOrder(ctx context.Context, in ConfirmInput) (Confirmation, error) {
	gw, err := o.Gateways.Get(in.GatewayID)
	if err != nil {
		return Confirmation{}, err
	}
	if strings.TrimSpace(in.TransactionID) == "" && strings.TrimSpace(in.Reference) == "" {
		return Confirmation{}, ErrTransactionRequired
	}
	c, err := o.Access(ctx, in.CartID, in.Secret, in.UserID)
	if err != nil {
		return Confirmation{}, err
	}
	attempt, err := o.findAttempt(ctx, gw.ID(), in.TransactionID, in.Reference)
	if err != nil {
		return Confirmation{}, err
	}
	if attempt.CartID != c.ID {
		return Confirmation{}, ErrAttemptMismatch
	}
	conf, err := o.settle(ctx, gw, attempt)
	obs.CountConfirmation(gw.ID(), confirmationLabel(conf, err))
	return conf, err
}

// Reconcile settles a transaction reported by a webhook or the background worker.
// Permanent outcomes are recorded and swallowed; only retryable conditions return an error.
func (o *Orchestrator) Reconcile(ctx context.Context, gatewayID, transactionID string) error {
	gw, err := o.Gateways.Get(gatewayID)
	if err != nil {
		return err
	}
	attempt, err := o.findAttempt(ctx, gw.ID(), transactionID, transactionID)
	if err != nil {
		if errors.Is(err, payment.ErrAttemptNotFound) {
			o.Log.Warn().Str("gateway", gw.ID()).Str("transaction_id", transactionID).Msg("reconcile_unknown_transaction")
			return nil
		}
		return err
	}
	conf, err := o.settle(ctx, gw, attempt)
	obs.CountConfirmation(gw.ID(), confirmationLabel(conf, err))
	switch {
	case err == nil && conf.Outcome == OutcomePending:
		return ErrSettlementPending
	case err == nil:
		return nil
	case errors.Is(err, order.ErrCartConverted):
		// Another payment already became the cart's order; this one needs a refund.
		o.Log.Error().
			Str("gateway", gw.ID()).
			Str("transaction_id", attempt.TransactionID).
			Str("cart_id", attempt.CartID).
			Int64("amount", attempt.Amount.Int64()).
			Msg("settled_payment_for_converted_cart")
		return nil
	case errors.Is(err, ErrNotSettled), errors.Is(err, ErrAmountMismatch),
		errors.Is(err, ErrGatewayRejected), errors.Is(err, cart.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (o *Orchestrator) findAttempt(ctx context.Context, gatewayID, transactionID, reference string) (payment.Attempt, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID != "" {
		a, err := o.Attempts.GetByTransaction(ctx, gatewayID, transactionID)
		if err == nil || !errors.Is(err, payment.ErrAttemptNotFound) {
			return a, err
		}
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return payment.Attempt{}, payment.ErrAttemptNotFound
	}
	a, err := o.Attempts.GetByReference(ctx, reference)
	if err != nil {
		return payment.Attempt{}, err
	}
	if a.Gateway != gatewayID {
		return payment.Attempt{}, ErrAttemptMismatch
	}
	return a, nil
}

func (o *Orchestrator) settle(ctx context.Context, gw payment.Gateway, attempt payment.Attempt) (Confirmation, error) {
	if o.Locker == nil {
		return o.settleLocked(ctx, gw, attempt)
	}
	var conf Confirmation
	key := lock.ConfirmKey(gw.ID(), attempt.TransactionID)
	err := o.Locker.WithLock(ctx, key, o.lockTTL(), func(ctx context.Context) error {
		var err error
		conf, err = o.settleLocked(ctx, gw, attempt)
		return err
	})
	return conf, err
}

func (o *Orchestrator) settleLocked(ctx context.Context, gw payment.Gateway, attempt payment.Attempt) (Confirmation, error) {
	gatewayID := gw.ID()
	log := o.Log.With().Str("cart_id", attempt.CartID).Str("gateway", gatewayID).Str("transaction_id", attempt.TransactionID).Logger()

	if existing, err := o.Orders.GetByTransaction(ctx, attempt.TransactionID); err == nil {
		return alreadyProcessed(existing), nil
	} else if !errors.Is(err, order.ErrNotFound) {
		return Confirmation{}, err
	}
	c, err := o.Carts.Get(ctx, attempt.CartID)
	if err != nil {
		return Confirmation{}, err
	}
	if c.Status == cart.StatusConfirmed {
		// The winner of a concurrent confirmation may have committed after the check above.
		if existing, err := o.Orders.GetByTransaction(ctx, attempt.TransactionID); err == nil {
			return alreadyProcessed(existing), nil
		}
		return Confirmation{}, order.ErrCartConverted
	}

	callCtx, cancel := context.WithTimeout(ctx, o.verifyTimeout())
	verification, err := gw.Verify(callCtx, attempt.TransactionID)
	cancel()
	if err != nil {
		if payment.IsTransient(err) {
			return o.pending(ctx, log, gatewayID, attempt, err)
		}
		log.Warn().Err(err).Msg("payment_verification_rejected")
		o.fail(ctx, log, attempt, c.ID, "verification rejected")
		return Confirmation{}, fmt.Errorf("%w: %w", ErrGatewayRejected, err)
	}
	if !verification.Settled {
		log.Info().Str("status", verification.Status).Msg("payment_not_settled")
		o.fail(ctx, log, attempt, c.ID, "not settled: "+verification.Status)
		return Confirmation{}, ErrNotSettled
	}

	q, err := o.quote(ctx, c)
	if err != nil {
		return Confirmation{}, err
	}
	if verification.Amount != q.Breakdown.GrandTotal ||
		(verification.Currency != "" && !strings.EqualFold(verification.Currency, q.Breakdown.Currency)) {
		log.Error().
			Int64("paid", verification.Amount.Int64()).
			Str("paid_currency", verification.Currency).
			Int64("expected", q.Breakdown.GrandTotal.Int64()).
			Str("expected_currency", q.Breakdown.Currency).
			Msg("price_drift")
		o.fail(ctx, log, attempt, c.ID, "amount mismatch")
		return Confirmation{}, ErrAmountMismatch
	}

	conv, err := conversion(c, q, attempt)
	if err != nil {
		return Confirmation{}, err
	}
	created, err := o.Orders.CreateAtomically(ctx, conv)
	switch {
	case errors.Is(err, order.ErrAlreadyProcessed):
		return alreadyProcessed(created), nil
	case err != nil:
		return Confirmation{}, err
	}
	if conv.CouponCode != "" {
		if err := o.Coupons.Invalidate(ctx, conv.CouponCode); err != nil {
			log.Warn().Err(err).Str("coupon", conv.CouponCode).Msg("coupon cache invalidation failed")
		}
	}
	log.Info().
		Str("order_id", created.ID).
		Str("order_number", created.Number).
		Int64("grand_total", created.Breakdown.GrandTotal.Int64()).
		Msg("order_confirmed")
	return Confirmation{Outcome: OutcomeCreated, Order: &created, Message: "order created"}, nil
}

func (o *Orchestrator) pending(ctx context.Context, log zerolog.Logger, gatewayID string, attempt payment.Attempt, cause error) (Confirmation, error) {
	log.Warn().Err(cause).Msg("confirmation_pending")
	if err := o.Attempts.SetStatus(ctx, attempt.ID, payment.AttemptPendingReconcile, cause.Error()); err != nil {
		return Confirmation{}, err
	}
	if o.Reconciler != nil {
		if err := o.Reconciler.EnqueueReconcile(ctx, gatewayID, attempt.TransactionID); err != nil {
			return Confirmation{}, fmt.Errorf("enqueue reconcile: %w", err)
		}
	}
	return Confirmation{Outcome: OutcomePending, Message: "payment is being verified, check back shortly"}, nil
}

// fail records a failed attempt and returns the cart to PRICED.
func (o *Orchestrator) fail(ctx context.Context, log zerolog.Logger, attempt payment.Attempt, cartID, reason string) {
	if err := o.Attempts.SetStatus(ctx, attempt.ID, payment.AttemptFailed, reason); err != nil {
		log.Error().Err(err).Msg("mark attempt failed")
	}
	if err := o.setStatus(ctx, cartID, cart.StatusPriced); err != nil && !errors.Is(err, cart.ErrConverted) {
		log.Error().Err(err).Msg("reset cart status")
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, cartID string, status cart.Status) error {
	return o.Carts.Update(ctx, cartID, cart.Patch{Status: &status})
}

func conversion(c *cart.Cart, q Quote, attempt payment.Attempt) (order.Conversion, error) {
	items := make([]order.Item, 0, len(c.Items))
	for _, it := range c.Items {
		sub, err := it.Subtotal()
		if err != nil {
			return order.Conversion{}, err
		}
		items = append(items, order.Item{
			ProductID:  it.ProductID,
			VariantID:  it.VariantID,
			CategoryID: it.CategoryID,
			Title:      it.Title,
			Qty:        it.Qty,
			UnitPrice:  it.UnitPrice,
			Subtotal:   sub,
		})
	}
	address, err := json.Marshal(c.Address)
	if err != nil {
		return order.Conversion{}, err
	}
	conv := order.Conversion{
		CartID:          c.ID,
		Breakdown:       q.Breakdown,
		Items:           items,
		CustomerEmail:   c.CustomerEmail,
		CustomerID:      c.CustomerID,
		ShippingAddress: address,
		CustomerKey:     strings.ToLower(c.CustomerKey()),
		Gateway:         attempt.Gateway,
		TransactionID:   attempt.TransactionID,
		AttemptID:       attempt.ID,
	}
	if q.Coupon != nil && q.Coupon.Valid && q.Breakdown.Discount > 0 && q.Coupon.Rule != nil {
		conv.CouponID = q.Coupon.Rule.ID
		conv.CouponCode = q.Coupon.Rule.Code
	}
	return conv, nil
}

func alreadyProcessed(o order.Order) Confirmation {
	return Confirmation{Outcome: OutcomeAlreadyProcessed, Order: &o, Message: "order already processed"}
}

func classifyGatewayErr(err error, op string) error {
	switch {
	case errors.Is(err, payment.ErrInvalidAmount):
		return err
	case payment.IsTransient(err):
		return fmt.Errorf("%w: %s: %w", ErrGatewayUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrGatewayRejected, op, err)
	}
}

func confirmationLabel(conf Confirmation, err error) string {
	switch {
	case err == nil:
		return string(conf.Outcome)
	case errors.Is(err, ErrNotSettled):
		return "not_settled"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	default:
		return "error"
	}
}

func (o *Orchestrator) initiateTimeout() time.Duration {
	if o.InitiateTimeout > 0 {
		return o.InitiateTimeout
	}
	return 15 * time.Second
}

func (o *Orchestrator) verifyTimeout() time.Duration {
	if o.VerifyTimeout > 0 {
		return o.VerifyTimeout
	}
	return 20 * time.Second
}

func (o *Orchestrator) lockTTL() time.Duration {
	if o.LockTTL > 0 {
		return o.LockTTL
	}
	return 30 * time.Second
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
