package cart

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/coupon"
)

// Repository is the cart persistence used by the handlers.
type Repository interface {
	Get(ctx context.Context, id string) (*Cart, error)
	Update(ctx context.Context, id string, patch Patch) error
}

// CouponValidator evaluates a code against a cart without redeeming it.
type CouponValidator interface {
	Validate(ctx context.Context, code string, cart *coupon.Cart, customerKey string) (coupon.Result, error)
}

// Handler wires cart coupon operations to HTTP.
type Handler struct {
	Carts   Repository
	Coupons CouponValidator
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required"`
}

// ApplyCoupon validates the code against the cart and stores it on success.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	if h.Carts == nil || h.Coupons == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	var req applyCouponRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	view, err := c.CouponView()
	if err != nil {
		common.WriteError(w, err)
		return
	}
	key := c.CustomerKey()
	if uid, ok := common.UserID(r.Context()); ok && uid != "" {
		key = uid
	}
	result, err := h.Coupons.Validate(r.Context(), req.Code, view, key)
	if err != nil {
		if errors.Is(err, coupon.ErrEmptyCode) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		common.WriteError(w, err)
		return
	}
	if !result.Valid {
		status := http.StatusBadRequest
		code := "COUPON_REJECTED"
		if result.Reason == coupon.ReasonNotFound {
			status, code = http.StatusNotFound, "NOT_FOUND"
		}
		common.JSONError(w, status, code, result.Message, map[string]any{"reason": result.Reason})
		return
	}
	applied := result.Coupon.Code
	if err := h.Carts.Update(r.Context(), c.ID, Patch{CouponCode: &applied}); err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// RemoveCoupon clears any applied coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	if h.Carts == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	empty := ""
	if err := h.Carts.Update(r.Context(), c.ID, Patch{CouponCode: &empty}); err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"cartId": c.ID, "couponCode": nil}})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*Cart, bool) {
	c, err := h.Carts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	uid, _ := common.UserID(r.Context())
	if err := c.Authorize(r.URL.Query().Get("secret"), uid); err != nil {
		writeError(w, err)
		return nil, false
	}
	if c.Status == StatusConfirmed {
		writeError(w, ErrConverted)
		return nil, false
	}
	return c, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart not found", nil)
	case errors.Is(err, ErrForbidden):
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "cart access denied", nil)
	case errors.Is(err, ErrConverted):
		common.JSONError(w, http.StatusConflict, "CART_CONVERTED", "cart has already been converted to an order", nil)
	default:
		common.WriteError(w, err)
	}
}
