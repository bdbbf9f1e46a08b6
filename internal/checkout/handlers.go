package checkout

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/lock"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
)

// Handler exposes the orchestrator over HTTP.
type Handler struct {
	Svc *Orchestrator
}

type initiateRequest struct {
	CartID   string   `json:"cartId" validate:"required"`
	Customer Customer `json:"customer"`
}

type confirmRequest struct {
	CartID        string `json:"cartId" validate:"required"`
	TransactionID string `json:"transactionId" validate:"required_without=Reference"`
	Reference     string `json:"reference"`
}

// Pricing returns a freshly computed breakdown for the cart.
func (h *Handler) Pricing(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	uid, _ := common.UserID(r.Context())
	c, err := h.Svc.Access(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("secret"), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := h.Svc.PriceCart(r.Context(), c)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

// Initiate opens a gateway transaction for the cart.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req initiateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	uid, _ := common.UserID(r.Context())
	out, err := h.Svc.InitiatePayment(r.Context(), InitiateInput{
		CartID:    req.CartID,
		Secret:    r.URL.Query().Get("secret"),
		UserID:    uid,
		GatewayID: chi.URLParam(r, "gatewayID"),
		Customer:  req.Customer,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// ConfirmOrder settles the transaction and converts the cart.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req confirmRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	uid, _ := common.UserID(r.Context())
	conf, err := h.Svc.ConfirmOrder(r.Context(), ConfirmInput{
		CartID:        req.CartID,
		Secret:        r.URL.Query().Get("secret"),
		UserID:        uid,
		GatewayID:     chi.URLParam(r, "gatewayID"),
		TransactionID: req.TransactionID,
		Reference:     req.Reference,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	body := map[string]any{"status": conf.Outcome, "message": conf.Message}
	if conf.Order != nil {
		body["orderId"] = conf.Order.ID
		body["orderNumber"] = conf.Order.Number
		body["breakdown"] = conf.Order.Breakdown
	}
	status := http.StatusOK
	switch conf.Outcome {
	case OutcomeCreated:
		status = http.StatusCreated
	case OutcomePending:
		status = http.StatusAccepted
	}
	common.JSON(w, status, map[string]any{"data": body})
}

func (h *Handler) configured(w http.ResponseWriter) bool {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart not found", nil)
	case errors.Is(err, cart.ErrForbidden):
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "cart access denied", nil)
	case errors.Is(err, cart.ErrConverted), errors.Is(err, order.ErrCartConverted):
		common.JSONError(w, http.StatusConflict, "CART_CONVERTED", "cart has already been converted to an order", nil)
	case errors.Is(err, payment.ErrUnknownGateway):
		common.JSONError(w, http.StatusNotFound, "GATEWAY_NOT_SUPPORTED", "unknown payment gateway", nil)
	case errors.Is(err, payment.ErrAttemptNotFound):
		common.JSONError(w, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "no payment was initiated for this transaction", nil)
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusBadRequest, "CART_EMPTY", "Your cart is empty", nil)
	case errors.Is(err, ErrEmailRequired), errors.Is(err, ErrTransactionRequired):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, payment.ErrInvalidAmount):
		common.JSONError(w, http.StatusBadRequest, "INVALID_AMOUNT", "order total must be greater than zero to pay online", nil)
	case errors.Is(err, ErrAttemptMismatch):
		common.JSONError(w, http.StatusConflict, "TRANSACTION_MISMATCH", err.Error(), nil)
	case errors.Is(err, ErrNotSettled):
		common.JSONError(w, http.StatusPaymentRequired, "PAYMENT_NOT_SETTLED", "payment has not been completed", nil)
	case errors.Is(err, ErrAmountMismatch):
		common.JSONError(w, http.StatusConflict, "AMOUNT_MISMATCH", "cart total changed since payment was initiated", nil)
	case errors.Is(err, ErrGatewayUnavailable):
		status, code := http.StatusBadGateway, "GATEWAY_UNAVAILABLE"
		if errors.Is(err, context.DeadlineExceeded) {
			status, code = http.StatusGatewayTimeout, "GATEWAY_TIMEOUT"
		}
		common.JSONError(w, status, code, "payment provider is unavailable, please retry", nil)
	case errors.Is(err, lock.ErrNotAcquired):
		common.JSONError(w, http.StatusConflict, "CONFIRMATION_IN_PROGRESS", "this payment is already being confirmed, please retry", nil)
	case errors.Is(err, ErrGatewayRejected):
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_ERROR", "payment provider rejected the request", nil)
	default:
		common.WriteError(w, err)
	}
}
