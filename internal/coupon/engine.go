package coupon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/noah-isme/toko-checkout/internal/money"
)

// Kind is the discount type of a coupon.
type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

// Reason is a machine-readable rejection returned to callers as data.
type Reason string

const (
	ReasonNotFound             Reason = "not_found"
	ReasonInactive             Reason = "inactive"
	ReasonNotYetActive         Reason = "not_yet_active"
	ReasonExpired              Reason = "expired"
	ReasonMinimumNotMet        Reason = "minimum_not_met"
	ReasonUsageLimitReached    Reason = "usage_limit_reached"
	ReasonCustomerLimitReached Reason = "customer_limit_reached"
	ReasonNotApplicable        Reason = "not_applicable"
	ReasonCartNotFound         Reason = "cart_not_found"
	ReasonCartEmpty            Reason = "cart_empty"
)

var (
	// ErrInactive is returned when the coupon has been switched off by an administrator.
	ErrInactive = errors.New("coupon inactive")
	// ErrNotYetActive is returned before the validity window opens.
	ErrNotYetActive = errors.New("coupon not yet active")
	// ErrExpired is returned once the validity window has closed.
	ErrExpired = errors.New("coupon expired")
	// ErrMinimumNotMet indicates the cart subtotal did not meet the coupon requirement.
	ErrMinimumNotMet = errors.New("coupon minimum subtotal not met")
	// ErrUsageLimitReached indicates the coupon has exhausted the global usage quota.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrCustomerLimitReached indicates the customer has exceeded the per-customer allowance.
	ErrCustomerLimitReached = errors.New("coupon per-customer usage limit reached")
	// ErrNotApplicable is returned when no cart line falls inside the coupon scope.
	ErrNotApplicable = errors.New("coupon not applicable to cart contents")
	// ErrInvalidRule flags a coupon definition that breaks the value constraints.
	ErrInvalidRule = errors.New("invalid coupon definition")
)

var reasonByErr = []struct {
	err    error
	reason Reason
}{
	{ErrInactive, ReasonInactive},
	{ErrNotYetActive, ReasonNotYetActive},
	{ErrExpired, ReasonExpired},
	{ErrMinimumNotMet, ReasonMinimumNotMet},
	{ErrUsageLimitReached, ReasonUsageLimitReached},
	{ErrCustomerLimitReached, ReasonCustomerLimitReached},
	{ErrNotApplicable, ReasonNotApplicable},
}

// ReasonFor maps a rule error to its rejection reason. Unknown errors yield "".
func ReasonFor(err error) Reason {
	for _, m := range reasonByErr {
		if errors.Is(err, m.err) {
			return m.reason
		}
	}
	return ""
}

// Rule captures the runtime constraints of a coupon.
type Rule struct {
	ID               string
	Code             string
	Kind             Kind
	Percent          decimal.Decimal
	Amount           money.Money
	Description      string
	MinSubtotal      *money.Money
	PerCustomerLimit *int32
	UsageLimit       *int32
	UsedCount        int32
	ValidFrom        *time.Time
	ValidTo          *time.Time
	ProductIDs       []string
	CategoryIDs      []string
	Active           bool
}

// Item represents a cart line considered for discount scoping.
type Item struct {
	ProductID  string
	CategoryID string
	Subtotal   money.Money
}

// NormalizeCode trims and case-folds a code to its stored upper-case form.
// A Caser is stateful, so one is built per call.
func NormalizeCode(code string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}

// Check validates the definition itself, independent of any cart.
func (r Rule) Check() error {
	if NormalizeCode(r.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidRule)
	}
	switch r.Kind {
	case KindPercentage:
		if !money.ValidPercent(r.Percent) {
			return fmt.Errorf("%w: percent must be between 0 and 100", ErrInvalidRule)
		}
		if !money.ExactPercent(r.Percent) {
			return fmt.Errorf("%w: percent allows at most %d decimal places", ErrInvalidRule, money.PercentPlaces)
		}
	case KindFixed:
		if r.Amount < 0 {
			return fmt.Errorf("%w: amount must not be negative", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: kind must be percentage or fixed", ErrInvalidRule)
	}
	if r.MinSubtotal != nil && *r.MinSubtotal < 0 {
		return fmt.Errorf("%w: minimum subtotal must not be negative", ErrInvalidRule)
	}
	if r.ValidFrom != nil && r.ValidTo != nil && r.ValidTo.Before(*r.ValidFrom) {
		return fmt.Errorf("%w: validTo precedes validFrom", ErrInvalidRule)
	}
	return nil
}

// Validate ensures the rule can be applied at the provided instant to a cart subtotal,
// given how many times the customer already redeemed it.
func (r Rule) Validate(now time.Time, subtotal money.Money, customerUsed int64) error {
	if !r.Active {
		return ErrInactive
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrNotYetActive
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return ErrExpired
	}
	if r.UsageLimit != nil && *r.UsageLimit >= 0 && r.UsedCount >= *r.UsageLimit {
		return ErrUsageLimitReached
	}
	if r.PerCustomerLimit != nil && *r.PerCustomerLimit > 0 && customerUsed >= int64(*r.PerCustomerLimit) {
		return ErrCustomerLimitReached
	}
	if r.MinSubtotal != nil && subtotal < *r.MinSubtotal {
		return ErrMinimumNotMet
	}
	return nil
}

// Scoped reports whether the coupon only applies to some products or categories.
func (r Rule) Scoped() bool {
	return len(r.ProductIDs) > 0 || len(r.CategoryIDs) > 0
}

// EligibleSubtotal calculates the portion of the cart that is affected by the rule.
func EligibleSubtotal(items []Item, r Rule) money.Money {
	var total money.Money
	for _, it := range items {
		if it.Subtotal <= 0 {
			continue
		}
		if !r.Scoped() || matches(r, it) {
			total += it.Subtotal
		}
	}
	return total
}

// An item matches when either its product or its category is in scope.
func matches(r Rule, it Item) bool {
	if it.ProductID != "" {
		for _, id := range r.ProductIDs {
			if id == it.ProductID {
				return true
			}
		}
	}
	if it.CategoryID != "" {
		for _, id := range r.CategoryIDs {
			if id == it.CategoryID {
				return true
			}
		}
	}
	return false
}

// Compute determines the discount for an eligible amount. The result never exceeds
// the eligible amount, and therefore never the subtotal.
func Compute(eligible money.Money, r Rule) (money.Money, error) {
	if eligible <= 0 {
		return 0, nil
	}
	switch r.Kind {
	case KindPercentage:
		return money.PercentOf(eligible, r.Percent)
	case KindFixed:
		if r.Amount < 0 {
			return 0, ErrInvalidRule
		}
		return money.Min(r.Amount, eligible), nil
	default:
		return 0, ErrInvalidRule
	}
}
