package coupon

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/money"
)

// CartSource resolves the coupon view of a cart. A nil cart means the cart does not exist.
type CartSource interface {
	CouponCart(ctx context.Context, cartID string) (*Cart, string, error)
}

// Handler exposes coupon validation and administrative endpoints.
type Handler struct {
	Svc   *Service
	Carts CartSource
}

type validateRequest struct {
	Code   string `json:"code" validate:"required"`
	CartID string `json:"cartId" validate:"required,uuid"`
}

type couponPayload struct {
	Kind             Kind       `json:"kind" validate:"required,oneof=percentage fixed"`
	Percent          string     `json:"percent" validate:"omitempty,numeric"`
	Amount           int64      `json:"amount" validate:"gte=0"`
	Description      string     `json:"description" validate:"max=500"`
	MinSubtotal      *int64     `json:"minSubtotal" validate:"omitempty,gte=0"`
	PerCustomerLimit *int32     `json:"perCustomerLimit" validate:"omitempty,gte=0"`
	UsageLimit       *int32     `json:"usageLimit" validate:"omitempty,gte=0"`
	ValidFrom        *time.Time `json:"validFrom"`
	ValidTo          *time.Time `json:"validTo"`
	ProductIDs       []string   `json:"productIds"`
	CategoryIDs      []string   `json:"categoryIds"`
	Active           *bool      `json:"active"`
}

// Validate evaluates a code against a cart. Unknown coupons and carts map to 404,
// other rejections are reported with 200 and valid=false.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Carts == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "coupon service not configured", nil)
		return
	}
	var req validateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cart, email, err := h.Carts.CouponCart(r.Context(), req.CartID)
	if err != nil {
		writeError(w, err)
		return
	}
	customerKey := email
	if uid, ok := common.UserID(r.Context()); ok && uid != "" {
		customerKey = uid
	}
	result, err := h.Svc.Validate(r.Context(), req.Code, cart, customerKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Reason == ReasonNotFound || result.Reason == ReasonCartNotFound {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", result.Message, map[string]any{"reason": result.Reason})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// Upsert creates or replaces the coupon identified by code.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "coupon service not configured", nil)
		return
	}
	code := NormalizeCode(chi.URLParam(r, "code"))
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required", nil)
		return
	}
	var payload couponPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	rule, err := payload.rule(code)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	saved, err := h.Svc.Upsert(r.Context(), rule)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": saved.View()})
}

func (p couponPayload) rule(code string) (Rule, error) {
	rule := Rule{
		Code:             code,
		Kind:             p.Kind,
		Amount:           money.Money(p.Amount),
		Description:      strings.TrimSpace(p.Description),
		PerCustomerLimit: p.PerCustomerLimit,
		UsageLimit:       p.UsageLimit,
		ValidFrom:        p.ValidFrom,
		ValidTo:          p.ValidTo,
		ProductIDs:       trimAll(p.ProductIDs),
		CategoryIDs:      trimAll(p.CategoryIDs),
		Active:           true,
	}
	if p.Active != nil {
		rule.Active = *p.Active
	}
	if p.MinSubtotal != nil {
		floor := money.Money(*p.MinSubtotal)
		rule.MinSubtotal = &floor
	}
	if p.Kind == KindPercentage {
		pct, err := decimal.NewFromString(strings.TrimSpace(p.Percent))
		if err != nil {
			return Rule{}, errors.New("percent must be a decimal between 0 and 100")
		}
		rule.Percent = pct
	}
	return rule, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyCode):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrInvalidRule):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		common.WriteError(w, err)
	}
}
