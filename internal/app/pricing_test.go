package app

import (
	"errors"
	"testing"

	"github.com/gainfollowers/panel-service/internal/domain"
)

func TestQuote(t *testing.T) {
	entry := &domain.ServiceCatalogEntry{
		ServiceID:      "101",
		Name:           "Instagram Followers",
		RateUSDPer1000: 1.0,
		Min:            100,
		Max:            10000,
	}

	testCases := []struct {
		name     string
		quantity int64
		fxRate   float64
		margin   float64
		want     int64
	}{
		{
			name:     "baseline rate with margin",
			quantity: 2000,
			fxRate:   1700,
			margin:   20,
			want:     4080, // ceil(1.0 * 2 * 1700 * 1.2)
		},
		{
			name:     "rounds up to the next kobo",
			quantity: 333,
			fxRate:   1700,
			margin:   20,
			want:     680, // 1.0 * 0.333 * 1700 * 1.2 = 679.32
		},
		{
			name:     "zero margin",
			quantity: 1000,
			fxRate:   1500,
			margin:   0,
			want:     1500,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Quote(entry, tc.quantity, tc.fxRate, tc.margin)
			if err != nil {
				t.Fatalf("Quote() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Quote() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestQuoteRejectsBadRate(t *testing.T) {
	for _, rate := range []float64{0, -0.5} {
		entry := &domain.ServiceCatalogEntry{ServiceID: "7", RateUSDPer1000: rate, Min: 1, Max: 100}
		if _, err := Quote(entry, 10, 1700, 20); !errors.Is(err, ErrBadServiceRate) {
			t.Errorf("rate %v: Quote() error = %v, want ErrBadServiceRate", rate, err)
		}
	}
}

func TestQuoteRejectsOutOfBoundsQuantity(t *testing.T) {
	entry := &domain.ServiceCatalogEntry{ServiceID: "7", RateUSDPer1000: 2.5, Min: 100, Max: 5000}

	for _, quantity := range []int64{0, -1, 99, 5001} {
		_, err := Quote(entry, quantity, 1700, 20)
		var invalidErr *InvalidQuantityError
		if !errors.As(err, &invalidErr) {
			t.Fatalf("quantity %d: Quote() error = %v, want InvalidQuantityError", quantity, err)
		}
		if invalidErr.Min != 100 || invalidErr.Max != 5000 {
			t.Errorf("quantity %d: bounds in error = [%d, %d], want [100, 5000]", quantity, invalidErr.Min, invalidErr.Max)
		}
	}
}

func TestQuoteUnboundedEntry(t *testing.T) {
	// Entries with zero min/max accept any positive quantity.
	entry := &domain.ServiceCatalogEntry{ServiceID: "9", RateUSDPer1000: 0.5}
	got, err := Quote(entry, 1, 1700, 20)
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if got != 2 { // ceil(0.5 * 0.001 * 1700 * 1.2) = ceil(1.02)
		t.Errorf("Quote() = %d, want 2", got)
	}
}
