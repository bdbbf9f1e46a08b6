package cache

import "strings"

// KeyShippingConfig is the single key holding the cached shipping configuration.
const KeyShippingConfig = "checkout:shipping-config"

// KeyCoupon returns the cache key of a coupon definition by its normalised code.
func KeyCoupon(code string) string {
	return "checkout:coupon:" + strings.ToUpper(strings.TrimSpace(code))
}
