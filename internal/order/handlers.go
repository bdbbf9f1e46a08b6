package order

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// Handler exposes customer and admin order endpoints.
type Handler struct {
	Orders Repository
}

type patchStatusRequest struct {
	Status Status `json:"status" validate:"required,oneof=completed cancelled"`
}

type orderView struct {
	Order
	Formatted any `json:"formatted"`
}

// Get returns an order to its owner. Guest orders are matched on the checkout email.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !canView(r, o) {
		// Hide existence from non-owners.
		writeError(w, ErrNotFound)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": orderView{Order: o, Formatted: o.Breakdown.Format()}})
}

// PatchStatus moves an order from processing to completed or cancelled.
func (h *Handler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	var req patchStatusRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

func canView(r *http.Request, o Order) bool {
	ctx := r.Context()
	if common.HasRole(ctx, "admin") {
		return true
	}
	if uid, ok := common.UserID(ctx); ok && uid != "" && uid == o.CustomerID {
		return true
	}
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	return o.CustomerID == "" && common.SecureCompare(email, strings.ToLower(o.CustomerEmail))
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", "state transition not allowed", nil)
	default:
		common.WriteError(w, err)
	}
}
