package shipping

import "github.com/noah-isme/toko-checkout/internal/money"

// Quote is the resolved shipping fee for a cart.
type Quote struct {
	Fee              money.Money `json:"fee"`
	IsFree           bool        `json:"isFree"`
	RegionRecognized bool        `json:"regionRecognized"`
	Region           string      `json:"region,omitempty"`
}

// Resolve maps a delivery region and pre-discount subtotal to a fee. It is a pure
// function of its inputs.
func Resolve(region string, subtotal money.Money, cfg Config) Quote {
	code := NormalizeRegion(region)
	entry, found := lookup(code, cfg)

	if cfg.FreeThreshold != nil && subtotal >= *cfg.FreeThreshold {
		return Quote{Fee: 0, IsFree: true, RegionRecognized: found, Region: code}
	}
	if code == "" {
		return Quote{Fee: nonNegative(cfg.DefaultFee), RegionRecognized: false}
	}
	if !found {
		return Quote{Fee: nonNegative(cfg.DefaultFee), RegionRecognized: false, Region: code}
	}
	return Quote{Fee: nonNegative(entry.Fee), RegionRecognized: true, Region: code}
}

func lookup(code string, cfg Config) (Region, bool) {
	if code == "" {
		return Region{}, false
	}
	for _, r := range cfg.Regions {
		if !r.Enabled {
			continue
		}
		if NormalizeRegion(r.Code) == code {
			return r, true
		}
	}
	return Region{}, false
}

func nonNegative(fee money.Money) money.Money {
	if fee < 0 {
		return 0
	}
	return fee
}
