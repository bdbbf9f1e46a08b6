package shipping

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/money"
)

// Handler exposes the admin shipping configuration endpoints.
type Handler struct {
	Store *Store
}

type regionPayload struct {
	Region  string `json:"region" validate:"required"`
	Fee     int64  `json:"fee" validate:"gte=0"`
	Enabled *bool  `json:"enabled"`
}

type configPayload struct {
	DefaultFee            int64           `json:"defaultFee" validate:"gte=0"`
	FreeShippingThreshold *int64          `json:"freeShippingThreshold" validate:"omitempty,gte=0"`
	TaxRate               string          `json:"taxRate" validate:"required,numeric"`
	Regions               []regionPayload `json:"regions" validate:"dive"`
}

// Get returns the active configuration.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.Get(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": cfg})
}

// Put replaces the configuration.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	var payload configPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	rate, err := decimal.NewFromString(payload.TaxRate)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "taxRate must be a decimal", nil)
		return
	}
	cfg := Config{
		DefaultFee: money.Money(payload.DefaultFee),
		TaxRate:    rate,
		Regions:    make([]Region, 0, len(payload.Regions)),
	}
	if payload.FreeShippingThreshold != nil {
		v := money.Money(*payload.FreeShippingThreshold)
		cfg.FreeThreshold = &v
	}
	for _, rp := range payload.Regions {
		enabled := true
		if rp.Enabled != nil {
			enabled = *rp.Enabled
		}
		cfg.Regions = append(cfg.Regions, Region{Code: rp.Region, Fee: money.Money(rp.Fee), Enabled: enabled})
	}
	saved, err := h.Store.Save(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": saved})
}
