/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the panel-service. The ledger methods
 * are the heart of the service: every balance mutation commits together with its
 * credit or debit record in one database transaction.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For order identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gainfollowers/panel-service/internal/domain"
)

// OrderSyncState carries the canonical status plus raw provider telemetry
// persisted by a status sync.
type OrderSyncState struct {
	Status            string
	Remains           int64
	Charge            float64
	StartCount        int64
	ProviderStatusRaw string
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Ledger methods. Each mutating call is a single atomic transaction over
	// the wallet balance and its accompanying ledger record.
	GetWalletBalance(ctx context.Context, userID string) (int64, error)
	ApplyCredit(ctx context.Context, reference, userID string, amount int64, source string) (applied bool, newBalance int64, err error)
	CreateOrderWithReservation(ctx context.Context, order *domain.Order) (balanceAfter int64, err error)
	RefundOrderReservation(ctx context.Context, orderID uuid.UUID, userID string, amount int64, failureDetail string) error

	// Order methods.
	MarkOrderPlaced(ctx context.Context, orderID uuid.UUID, providerOrderID string) error
	UpdateOrderSyncState(ctx context.Context, orderID uuid.UUID, state OrderSyncState) error
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	FindOrderByProviderOrderID(ctx context.Context, userID, providerOrderID string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error)
	ListSyncableOrders(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Order, error)

	// Wallet history methods.
	ListCreditsByUser(ctx context.Context, userID string, limit int) ([]domain.CreditRecord, error)
	ListDebitsByUser(ctx context.Context, userID string, limit int) ([]domain.DebitRecord, error)
}
