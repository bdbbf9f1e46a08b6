package shipping

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/money"
)

// ErrInvalidConfig is returned when an admin write breaks a configuration constraint.
var ErrInvalidConfig = errors.New("invalid shipping config")

// Region is a per-zone fee entry. Disabled entries are treated as absent.
type Region struct {
	Code    string      `json:"region"`
	Fee     money.Money `json:"fee"`
	Enabled bool        `json:"enabled"`
}

// Config is the process-wide shipping and tax configuration.
type Config struct {
	DefaultFee    money.Money     `json:"defaultFee"`
	Regions       []Region        `json:"regions"`
	FreeThreshold *money.Money    `json:"freeShippingThreshold,omitempty"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Validate checks fee signs, the tax rate range and region uniqueness after normalisation.
func (c Config) Validate() error {
	if c.DefaultFee < 0 {
		return fmt.Errorf("%w: default fee must not be negative", ErrInvalidConfig)
	}
	if c.FreeThreshold != nil && *c.FreeThreshold < 0 {
		return fmt.Errorf("%w: free shipping threshold must not be negative", ErrInvalidConfig)
	}
	if !money.ValidPercent(c.TaxRate) {
		return fmt.Errorf("%w: tax rate must be between 0 and 100", ErrInvalidConfig)
	}
	if !money.ExactPercent(c.TaxRate) {
		return fmt.Errorf("%w: tax rate allows at most %d decimal places", ErrInvalidConfig, money.PercentPlaces)
	}
	seen := make(map[string]struct{}, len(c.Regions))
	for _, r := range c.Regions {
		code := NormalizeRegion(r.Code)
		if code == "" {
			return fmt.Errorf("%w: region code is required", ErrInvalidConfig)
		}
		if r.Fee < 0 {
			return fmt.Errorf("%w: fee for %q must not be negative", ErrInvalidConfig, r.Code)
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("%w: duplicate region %q", ErrInvalidConfig, r.Code)
		}
		seen[code] = struct{}{}
	}
	return nil
}

// Normalized returns a copy whose region codes are stored in normalised form.
func (c Config) Normalized() Config {
	out := c
	out.Regions = make([]Region, len(c.Regions))
	for i, r := range c.Regions {
		r.Code = NormalizeRegion(r.Code)
		out.Regions[i] = r
	}
	return out
}
