/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the wallet, ledger
 * and order tables.
 *
 * The ledger invariant enforced here: a wallet balance change and its matching
 * credit/debit record are always written inside the same transaction, and the
 * balance is re-read under a `FOR UPDATE` row lock so concurrent reservations
 * against one wallet serialize correctly.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gainfollowers/panel-service/internal/domain"
)

var (
	ErrInvalidAmount     = errors.New("amount must be a positive integer")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderNotFound     = errors.New("order not found")
	ErrDebitNotFound     = errors.New("debit record not found")
)

const orderColumns = `
	id, user_id, service_id, link, quantity, price, status, provider_order_id,
	failure_reason, remains, charge, start_count, provider_status_raw,
	created_at, updated_at
`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetWalletBalance returns the current balance for a user. An absent wallet
// reads as zero; no row is created.
func (r *PostgresRepository) GetWalletBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, "SELECT balance FROM wallets WHERE user_id = $1", userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// ApplyCredit atomically credits a wallet, keyed by the gateway reference.
// A replayed reference is a no-op and reports applied=false with the current
// balance, which makes webhook retries and the verify/webhook race safe.
func (r *PostgresRepository) ApplyCredit(ctx context.Context, reference, userID string, amount int64, source string) (bool, int64, error) {
	if amount <= 0 {
		return false, 0, ErrInvalidAmount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback(ctx)

	var existing string
	err = tx.QueryRow(ctx, "SELECT reference FROM wallet_credits WHERE reference = $1", reference).Scan(&existing)
	if err == nil {
		// Already processed; report the balance as it stands.
		var balance int64
		if balErr := tx.QueryRow(ctx, "SELECT balance FROM wallets WHERE user_id = $1", userID).Scan(&balance); balErr != nil && balErr != pgx.ErrNoRows {
			return false, 0, balErr
		}
		return false, balance, tx.Commit(ctx)
	}
	if err != pgx.ErrNoRows {
		return false, 0, err
	}

	var newBalance int64
	err = tx.QueryRow(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		return false, 0, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_credits (reference, user_id, amount, source)
		VALUES ($1, $2, $3, $4)
	`, reference, userID, amount, source)
	if err != nil {
		// Two deliveries of the same reference can both pass the SELECT above;
		// the loser hits the primary key and is treated as a replay, not an error.
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			var balance int64
			if balErr := r.db.QueryRow(ctx, "SELECT balance FROM wallets WHERE user_id = $1", userID).Scan(&balance); balErr != nil && balErr != pgx.ErrNoRows {
				return false, 0, balErr
			}
			return false, balance, nil
		}
		return false, 0, err
	}

	return true, newBalance, tx.Commit(ctx)
}

// CreateOrderWithReservation reserves funds and creates the order row in one
// transaction: the balance decrement, the debit record and the order record
// either all commit or none do. A crash can never leave a debit without its
// order.
func (r *PostgresRepository) CreateOrderWithReservation(ctx context.Context, order *domain.Order) (int64, error) {
	if order.Price <= 0 {
		return 0, ErrInvalidAmount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Re-read the balance inside the transaction boundary under a row lock so
	// two concurrent reservations cannot both pass the funds check.
	var balance int64
	err = tx.QueryRow(ctx, "SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE", order.UserID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrInsufficientFunds
		}
		return 0, err
	}
	if balance < order.Price {
		return 0, ErrInsufficientFunds
	}

	newBalance := balance - order.Price
	if _, err := tx.Exec(ctx, "UPDATE wallets SET balance = $1, updated_at = NOW() WHERE user_id = $2", newBalance, order.UserID); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, service_id, link, quantity, price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.ID, order.UserID, order.ServiceID, order.Link, order.Quantity, order.Price, domain.OrderStatusCreating); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_debits (order_id, user_id, amount)
		VALUES ($1, $2, $3)
	`, order.ID, order.UserID, order.Price); err != nil {
		return 0, err
	}

	return newBalance, tx.Commit(ctx)
}

// RefundOrderReservation rolls back a reservation after a failed provider
// placement: the wallet is credited, the debit is marked refunded and the order
// is marked failed, all in one transaction. Callers invoke this at most once
// per order (only the placement failure path reaches it).
func (r *PostgresRepository) RefundOrderReservation(ctx context.Context, orderID uuid.UUID, userID string, amount int64, failureDetail string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE user_id = $2
	`, amount, userID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE wallet_debits
		SET refunded = TRUE, refunded_at = NOW()
		WHERE order_id = $1 AND refunded = FALSE
	`, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDebitNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3
	`, domain.OrderStatusFailed, failureDetail, orderID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkOrderPlaced transitions an order out of its transient 'creating' state
// once the provider has accepted it.
func (r *PostgresRepository) MarkOrderPlaced(ctx context.Context, orderID uuid.UUID, providerOrderID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $1, provider_order_id = $2, updated_at = NOW()
		WHERE id = $3
	`, domain.OrderStatusPending, providerOrderID, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// UpdateOrderSyncState persists the canonical status plus raw provider telemetry.
func (r *PostgresRepository) UpdateOrderSyncState(ctx context.Context, orderID uuid.UUID, state OrderSyncState) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $1, remains = $2, charge = $3, start_count = $4,
		    provider_status_raw = $5, updated_at = NOW()
		WHERE id = $6
	`, state.Status, state.Remains, state.Charge, state.StartCount, state.ProviderStatusRaw, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// FindOrderByID retrieves a single order by its local id.
func (r *PostgresRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID)
	return scanOrder(row)
}

// FindOrderByProviderOrderID retrieves a user's order by the provider-side id.
func (r *PostgresRepository) FindOrderByProviderOrderID(ctx context.Context, userID, providerOrderID string) (*domain.Order, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND provider_order_id = $2 LIMIT 1",
		userID, providerOrderID)
	return scanOrder(row)
}

// ListOrdersByUser retrieves a user's orders, newest first.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListSyncableOrders retrieves placed, non-terminal orders whose status has not
// been refreshed since the cutoff. Used by the background sweep.
func (r *PostgresRepository) ListSyncableOrders(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE provider_order_id IS NOT NULL
		  AND status IN ($1, $2, $3)
		  AND updated_at < $4
		ORDER BY updated_at ASC
		LIMIT $5
	`, domain.OrderStatusPending, domain.OrderStatusProcessing, domain.OrderStatusPartial, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListCreditsByUser retrieves a user's credit records, newest first.
func (r *PostgresRepository) ListCreditsByUser(ctx context.Context, userID string, limit int) ([]domain.CreditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT reference, user_id, amount, source, created_at
		FROM wallet_credits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var credits []domain.CreditRecord
	for rows.Next() {
		var c domain.CreditRecord
		if err := rows.Scan(&c.Reference, &c.UserID, &c.Amount, &c.Source, &c.CreatedAt); err != nil {
			return nil, err
		}
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

// ListDebitsByUser retrieves a user's debit records, newest first.
func (r *PostgresRepository) ListDebitsByUser(ctx context.Context, userID string, limit int) ([]domain.DebitRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT order_id, user_id, amount, refunded, refunded_at, created_at
		FROM wallet_debits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var debits []domain.DebitRecord
	for rows.Next() {
		var d domain.DebitRecord
		if err := rows.Scan(&d.OrderID, &d.UserID, &d.Amount, &d.Refunded, &d.RefundedAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		debits = append(debits, d)
	}
	return debits, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.ServiceID, &o.Link, &o.Quantity, &o.Price, &o.Status,
		&o.ProviderOrderID, &o.FailureReason, &o.Remains, &o.Charge, &o.StartCount,
		&o.ProviderStatusRaw, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.ServiceID, &o.Link, &o.Quantity, &o.Price, &o.Status,
			&o.ProviderOrderID, &o.FailureReason, &o.Remains, &o.Charge, &o.StartCount,
			&o.ProviderStatusRaw, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
