package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/cache"
	dbgen "github.com/noah-isme/toko-checkout/internal/db/gen"
	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/obs"
)

// ErrEmptyCode is a validation error: no lookup is performed for a blank code.
var ErrEmptyCode = errors.New("coupon code is required")

// ErrNotFound is returned by Lookup when no coupon carries the code.
var ErrNotFound = errors.New("coupon not found")

// Querier captures the database methods required by the coupon service.
type Querier interface {
	GetCouponByCode(ctx context.Context, code string) (dbgen.Coupon, error)
	CountCouponRedemptionsByCustomer(ctx context.Context, arg dbgen.CountCouponRedemptionsByCustomerParams) (int64, error)
	UpsertCoupon(ctx context.Context, arg dbgen.UpsertCouponParams) (dbgen.Coupon, error)
}

// Cart is the read-only view of a cart the validator needs.
type Cart struct {
	Items []Item
}

// Subtotal sums every line.
func (c Cart) Subtotal() money.Money {
	var total money.Money
	for _, it := range c.Items {
		total += it.Subtotal
	}
	return total
}

// View is the public description of a coupon.
type View struct {
	Code        string      `json:"code"`
	Kind        Kind        `json:"kind"`
	Percent     string      `json:"percent,omitempty"`
	Amount      money.Money `json:"amount,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Result describes the outcome of evaluating a coupon without mutating state.
type Result struct {
	Valid    bool        `json:"valid"`
	Discount money.Money `json:"discount"`
	Eligible money.Money `json:"eligibleSubtotal"`
	Coupon   *View       `json:"coupon,omitempty"`
	Reason   Reason      `json:"reason,omitempty"`
	Message  string      `json:"message,omitempty"`

	Rule *Rule `json:"-"`
}

func rejected(reason Reason) Result {
	return Result{Valid: false, Reason: reason, Message: reason.Message()}
}

// Message is the actionable, customer-facing text for a rejection.
func (r Reason) Message() string {
	switch r {
	case ReasonNotFound:
		return "Invalid coupon code"
	case ReasonInactive, ReasonExpired:
		return "This coupon is no longer available"
	case ReasonNotYetActive:
		return "This coupon is not active yet"
	case ReasonMinimumNotMet:
		return "Your cart does not meet the minimum amount for this coupon"
	case ReasonUsageLimitReached:
		return "This coupon has reached its usage limit"
	case ReasonCustomerLimitReached:
		return "You have already used this coupon"
	case ReasonNotApplicable:
		return "This coupon does not apply to the items in your cart"
	case ReasonCartNotFound:
		return "Cart not found"
	case ReasonCartEmpty:
		return "Your cart is empty"
	default:
		return ""
	}
}

// Service encapsulates coupon rule evaluation. Validation is a pure read.
type Service struct {
	Q     Querier
	Cache *cache.JSON
	Now   func() time.Time
	Log   zerolog.Logger
}

// Validate evaluates code against cart for the given customer key (customer id or email).
// A nil cart yields cart_not_found. Business rejections are returned as data, never as errors.
func (s *Service) Validate(ctx context.Context, code string, cart *Cart, customerKey string) (Result, error) {
	if s == nil || s.Q == nil {
		return Result{}, errors.New("coupon service not configured")
	}
	normalised := NormalizeCode(code)
	if normalised == "" {
		return Result{}, ErrEmptyCode
	}
	if cart == nil {
		obs.CountCouponValidation(string(ReasonCartNotFound))
		return rejected(ReasonCartNotFound), nil
	}
	if len(cart.Items) == 0 {
		obs.CountCouponValidation(string(ReasonCartEmpty))
		return rejected(ReasonCartEmpty), nil
	}
	rule, err := s.Lookup(ctx, normalised)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.CountCouponValidation(string(ReasonNotFound))
			return rejected(ReasonNotFound), nil
		}
		return Result{}, err
	}

	var used int64
	key := strings.ToLower(strings.TrimSpace(customerKey))
	if rule.PerCustomerLimit != nil && *rule.PerCustomerLimit > 0 && key != "" {
		couponID, err := dbgen.ToUUID(rule.ID)
		if err != nil {
			return Result{}, fmt.Errorf("coupon id: %w", err)
		}
		used, err = s.Q.CountCouponRedemptionsByCustomer(ctx, dbgen.CountCouponRedemptionsByCustomerParams{
			CouponID:    couponID,
			CustomerKey: key,
		})
		if err != nil {
			return Result{}, err
		}
	}

	subtotal := cart.Subtotal()
	if err := rule.Validate(s.now(), subtotal, used); err != nil {
		reason := ReasonFor(err)
		if reason == "" {
			return Result{}, err
		}
		obs.CountCouponValidation(string(reason))
		return rejected(reason), nil
	}
	eligible := EligibleSubtotal(cart.Items, rule)
	if eligible <= 0 {
		obs.CountCouponValidation(string(ReasonNotApplicable))
		return rejected(ReasonNotApplicable), nil
	}
	discount, err := Compute(eligible, rule)
	if err != nil {
		return Result{}, err
	}
	discount = money.Min(discount, subtotal)
	obs.CountCouponValidation("valid")
	view := rule.View()
	return Result{
		Valid:    true,
		Discount: discount,
		Eligible: eligible,
		Coupon:   &view,
		Rule:     &rule,
	}, nil
}

// Lookup returns the coupon definition for an already-normalised code, reading
// through the Redis cache. Misses are not cached.
func (s *Service) Lookup(ctx context.Context, code string) (Rule, error) {
	key := cache.KeyCoupon(code)
	var rule Rule
	if ok, err := s.Cache.Get(ctx, key, &rule); err != nil {
		s.Log.Warn().Err(err).Str("coupon", code).Msg("coupon cache read failed")
	} else if ok {
		return rule, nil
	}
	model, err := s.Q.GetCouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrNotFound
		}
		return Rule{}, err
	}
	rule, err = RuleFromModel(model)
	if err != nil {
		return Rule{}, err
	}
	if err := s.Cache.Set(ctx, key, rule); err != nil {
		s.Log.Warn().Err(err).Str("coupon", code).Msg("coupon cache write failed")
	}
	return rule, nil
}

// Upsert creates or replaces a coupon definition and invalidates its cache entry.
func (s *Service) Upsert(ctx context.Context, rule Rule) (Rule, error) {
	if s == nil || s.Q == nil {
		return Rule{}, errors.New("coupon service not configured")
	}
	rule.Code = NormalizeCode(rule.Code)
	if err := rule.Check(); err != nil {
		return Rule{}, err
	}
	model, err := s.Q.UpsertCoupon(ctx, upsertParams(rule))
	if err != nil {
		return Rule{}, err
	}
	if err := s.Invalidate(ctx, rule.Code); err != nil {
		return Rule{}, fmt.Errorf("invalidate coupon cache: %w", err)
	}
	return RuleFromModel(model)
}

// Invalidate drops the cached definition, e.g. after usage counters change.
func (s *Service) Invalidate(ctx context.Context, code string) error {
	if s == nil {
		return nil
	}
	return s.Cache.Invalidate(ctx, cache.KeyCoupon(NormalizeCode(code)))
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// View renders the public description of the rule.
func (r Rule) View() View {
	v := View{Code: r.Code, Kind: r.Kind, Description: r.Description}
	switch r.Kind {
	case KindPercentage:
		v.Percent = r.Percent.String()
	case KindFixed:
		v.Amount = r.Amount
	}
	return v
}

// RuleFromModel converts the database row into a Rule used for evaluation.
func RuleFromModel(c dbgen.Coupon) (Rule, error) {
	rule := Rule{
		ID:          dbgen.UUIDString(c.ID),
		Code:        c.Code,
		Kind:        Kind(c.Kind),
		Amount:      money.Money(c.Amount),
		Description: c.Description,
		UsedCount:   c.UsedCount,
		ValidFrom:   dbgen.TimePtr(c.ValidFrom),
		ValidTo:     dbgen.TimePtr(c.ValidTo),
		ProductIDs:  c.ProductIds,
		CategoryIDs: c.CategoryIds,
		Active:      c.Active,
	}
	if strings.TrimSpace(c.Percent) != "" {
		pct, err := decimal.NewFromString(c.Percent)
		if err != nil {
			return Rule{}, fmt.Errorf("coupon %s percent: %w", c.Code, err)
		}
		rule.Percent = pct
	}
	if c.MinSubtotal.Valid {
		floor := money.Money(c.MinSubtotal.Int64)
		rule.MinSubtotal = &floor
	}
	if c.PerCustomerLimit.Valid {
		limit := c.PerCustomerLimit.Int32
		rule.PerCustomerLimit = &limit
	}
	if c.UsageLimit.Valid {
		limit := c.UsageLimit.Int32
		rule.UsageLimit = &limit
	}
	return rule, nil
}

func upsertParams(r Rule) dbgen.UpsertCouponParams {
	id := dbgen.OptionalUUID(r.ID)
	if !id.Valid {
		id = dbgen.FromUUID(uuid.New())
	}
	var minSubtotal *int64
	if r.MinSubtotal != nil {
		v := int64(*r.MinSubtotal)
		minSubtotal = &v
	}
	productIDs := r.ProductIDs
	if productIDs == nil {
		productIDs = []string{}
	}
	categoryIDs := r.CategoryIDs
	if categoryIDs == nil {
		categoryIDs = []string{}
	}
	return dbgen.UpsertCouponParams{
		ID:               id,
		Code:             r.Code,
		Kind:             string(r.Kind),
		Percent:          r.Percent.String(),
		Amount:           int64(r.Amount),
		Description:      r.Description,
		MinSubtotal:      dbgen.Int8(minSubtotal),
		PerCustomerLimit: dbgen.Int4(r.PerCustomerLimit),
		UsageLimit:       dbgen.Int4(r.UsageLimit),
		ValidFrom:        dbgen.Timestamptz(r.ValidFrom),
		ValidTo:          dbgen.Timestamptz(r.ValidTo),
		ProductIds:       productIDs,
		CategoryIds:      categoryIDs,
		Active:           r.Active,
	}
}
