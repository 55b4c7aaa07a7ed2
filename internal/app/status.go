package app

import (
	"strings"

	"github.com/gainfollowers/panel-service/internal/domain"
)

// mapProviderStatus folds the provider's free-text status onto the canonical
// order status enum. Provider status vocabularies are not contractually fixed,
// so this is a substring heuristic; unknown strings fall through to 'pending'
// rather than failing.
func mapProviderStatus(statusText string, remains int64) string {
	s := strings.ToLower(statusText)

	// "partial" outranks "complete" so "Partially Completed" maps to partial.
	switch {
	case strings.Contains(s, "partial"):
		return domain.OrderStatusPartial
	case strings.Contains(s, "complete"):
		return domain.OrderStatusCompleted
	case strings.Contains(s, "cancel"):
		return domain.OrderStatusCanceled
	case strings.Contains(s, "progress"), strings.Contains(s, "process"):
		return domain.OrderStatusProcessing
	}

	// If nothing remains to deliver, treat as completed even when the status
	// text is odd.
	if remains <= 0 {
		return domain.OrderStatusCompleted
	}
	return domain.OrderStatusPending
}
