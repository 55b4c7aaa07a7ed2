/**
 * @description
 * This file defines the core domain models for the panel-service: the per-user
 * wallet, its append-only credit/debit ledger records, the order lifecycle, and
 * the catalog entries used to price orders.
 *
 * @notes
 * - All monetary amounts are `int64` values in the smallest currency unit (kobo),
 *   which avoids floating-point inaccuracies with financial data.
 * - Credit records are keyed by the payment gateway reference, which doubles as
 *   the idempotency key for reconciliation.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses. "creating" is a transient state that exists only between the
// funds reservation and the provider placement; it must never be returned to a
// caller as a terminal state.
const (
	OrderStatusCreating   = "creating"
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusPartial    = "partial"
	OrderStatusCompleted  = "completed"
	OrderStatusCanceled   = "canceled"
	OrderStatusFailed     = "failed"
)

// CreditSource identifies which reconciliation entry point applied a credit.
const (
	CreditSourceVerify  = "verify"
	CreditSourceWebhook = "webhook"
	CreditSourceAdmin   = "admin"
)

// Wallet represents a user's balance record. Wallets are created lazily on the
// first credit and are never deleted.
type Wallet struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"` // in kobo
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditRecord represents a single wallet top-up. The gateway reference is the
// primary key: at most one credit per reference is ever applied.
type CreditRecord struct {
	Reference string    `json:"reference"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"` // in kobo
	Source    string    `json:"source"` // 'verify', 'webhook' or 'admin'
	CreatedAt time.Time `json:"created_at"`
}

// DebitRecord represents funds reserved against an order. It is flipped to
// refunded exactly once if the provider placement fails.
type DebitRecord struct {
	OrderID    uuid.UUID  `json:"order_id"`
	UserID     string     `json:"user_id"`
	Amount     int64      `json:"amount"` // in kobo
	Refunded   bool       `json:"refunded"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Order is the local record of a placed (or attempted) provider order.
// Every order that is neither 'creating' nor 'failed' has a provider order id.
type Order struct {
	ID              uuid.UUID `json:"id"`
	UserID          string    `json:"user_id"`
	ServiceID       string    `json:"service_id"`
	Link            string    `json:"link"`
	Quantity        int64     `json:"quantity"`
	Price           int64     `json:"price"` // in kobo
	Status          string    `json:"status"`
	ProviderOrderID *string   `json:"provider_order_id,omitempty"`
	FailureReason   *string   `json:"failure_reason,omitempty"`

	// Last-seen provider telemetry, refreshed by status sync.
	Remains           int64   `json:"remains"`
	Charge            float64 `json:"charge"`
	StartCount        int64   `json:"start_count"`
	ProviderStatusRaw string  `json:"provider_status_raw"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Placed reports whether the order has been accepted by the provider.
func (o *Order) Placed() bool {
	return o.ProviderOrderID != nil && *o.ProviderOrderID != ""
}

// ServiceCatalogEntry is a read-only view of one provider service. The core
// does not own catalog data; it only reads it to price orders.
type ServiceCatalogEntry struct {
	ServiceID      string  `json:"service"`
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	RateUSDPer1000 float64 `json:"rate"`
	Min            int64   `json:"min"`
	Max            int64   `json:"max"`
}

// CreateOrderRequest is the DTO for incoming order placement API requests.
type CreateOrderRequest struct {
	ServiceID string `json:"service"`
	Link      string `json:"link"`
	Quantity  int64  `json:"quantity"`
}

// OrderResult is returned after a successful order placement.
type OrderResult struct {
	OrderID         uuid.UUID `json:"order_id"`
	ProviderOrderID string    `json:"provider_order_id"`
	Price           int64     `json:"price"` // in kobo
	BalanceAfter    int64     `json:"balance_after"`
}

// QuoteRequest is the DTO for price quote API requests.
type QuoteRequest struct {
	ServiceID string `json:"service"`
	Quantity  int64  `json:"quantity"`
}

// ReconcileResult reports the outcome of applying a payment reference.
type ReconcileResult struct {
	Credited bool  `json:"credited"`
	Amount   int64 `json:"amount"` // in kobo
}

// TopupInitRequest is the DTO for starting a wallet top-up at the gateway.
type TopupInitRequest struct {
	Amount      int64  `json:"amount"` // in kobo
	CallbackURL string `json:"callback_url,omitempty"`
}

// TopupInitResult carries the gateway checkout handoff back to the caller.
type TopupInitResult struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

// WalletEntry is one row of the merged wallet history (credits and debits).
type WalletEntry struct {
	Type      string     `json:"type"` // 'credit' or 'debit'
	Reference string     `json:"reference,omitempty"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	Amount    int64      `json:"amount"` // in kobo
	Refunded  bool       `json:"refunded,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AdminAdjustRequest credits a wallet outside the payment gateway flow.
type AdminAdjustRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"` // in kobo
	Reason string `json:"reason,omitempty"`
}
