/**
 * @description
 * This file implements the pricing engine: it converts a provider's USD-per-1000
 * rate plus a quantity into a local-currency charge in kobo, applying the
 * configured exchange rate and margin. Rounding is always upward so the
 * storefront never undercharges.
 */

package app

import (
	"errors"
	"fmt"
	"math"

	"github.com/gainfollowers/panel-service/internal/domain"
)

var (
	ErrBadServiceRate = errors.New("service has no usable rate")
)

// InvalidQuantityError reports a quantity outside the catalog entry's bounds.
type InvalidQuantityError struct {
	Min int64
	Max int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between %d and %d", e.Min, e.Max)
}

// Quote computes the charge in kobo for ordering `quantity` units of the given
// service: ceil(rate * quantity / 1000 * fxRate * (1 + margin/100)).
func Quote(entry *domain.ServiceCatalogEntry, quantity int64, fxRate, marginPercent float64) (int64, error) {
	if entry.RateUSDPer1000 <= 0 {
		return 0, ErrBadServiceRate
	}
	if quantity <= 0 {
		return 0, &InvalidQuantityError{Min: entry.Min, Max: entry.Max}
	}
	if (entry.Min > 0 && quantity < entry.Min) || (entry.Max > 0 && quantity > entry.Max) {
		return 0, &InvalidQuantityError{Min: entry.Min, Max: entry.Max}
	}

	usd := entry.RateUSDPer1000 * float64(quantity) / 1000.0
	price := math.Ceil(usd * fxRate * (1 + marginPercent/100.0))
	return int64(price), nil
}
