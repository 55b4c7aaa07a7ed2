package app

import (
	"testing"

	"github.com/gainfollowers/panel-service/internal/domain"
)

func TestMapProviderStatus(t *testing.T) {
	testCases := []struct {
		name       string
		statusText string
		remains    int64
		want       string
	}{
		{"completed", "Completed", 0, domain.OrderStatusCompleted},
		{"partial outranks complete", "Partially Completed", 40, domain.OrderStatusPartial},
		{"partial", "Partial", 12, domain.OrderStatusPartial},
		{"canceled", "Canceled", 500, domain.OrderStatusCanceled},
		{"cancelled british spelling", "Cancelled", 500, domain.OrderStatusCanceled},
		{"in progress", "In progress", 300, domain.OrderStatusProcessing},
		{"processing", "Processing", 300, domain.OrderStatusProcessing},
		{"unknown text with nothing remaining", "Done-ish", 0, domain.OrderStatusCompleted},
		{"unknown text with work remaining", "Queued", 250, domain.OrderStatusPending},
		{"pending", "Pending", 1000, domain.OrderStatusPending},
		{"empty status with work remaining", "", 10, domain.OrderStatusPending},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapProviderStatus(tc.statusText, tc.remains)
			if got != tc.want {
				t.Errorf("mapProviderStatus(%q, %d) = %q, want %q", tc.statusText, tc.remains, got, tc.want)
			}
		})
	}
}
