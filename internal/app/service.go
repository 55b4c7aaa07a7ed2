/**
 * @description
 * This file contains the core business logic for the panel-service. The `Service`
 * struct orchestrates the order transaction flow, coordinating between the
 * database repository, the SMM provider client, the payment gateway client, and
 * the message broker.
 *
 * Key features:
 * - The order placement state machine: reserve funds atomically, call the
 *   provider, confirm or refund based on the outcome.
 * - Idempotent payment reconciliation keyed by the gateway reference, shared by
 *   the synchronous verify path and the asynchronous webhook path.
 * - Status sync mapping provider free-text statuses onto the canonical enum.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For order id generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/smmclient, pkg/paystackclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gainfollowers/panel-service/internal/domain"
	"github.com/gainfollowers/panel-service/internal/store"
	"github.com/gainfollowers/panel-service/pkg/paystackclient"
	"github.com/gainfollowers/panel-service/pkg/rabbitmq"
	"github.com/gainfollowers/panel-service/pkg/smmclient"
)

var (
	ErrUnknownService    = errors.New("unknown service")
	ErrForbidden         = errors.New("order does not belong to caller")
	ErrOrderNotPlaced    = errors.New("order has not been placed with the provider yet")
	ErrProviderPlacement = errors.New("provider order placement failed")
	ErrInvalidTopup      = errors.New("top-up amount must be a positive integer")
)

// ProviderClient is the interface to the SMM fulfillment provider.
type ProviderClient interface {
	ListServices(ctx context.Context) ([]domain.ServiceCatalogEntry, error)
	AddOrder(ctx context.Context, serviceID, link string, quantity int64) (string, error)
	GetOrderStatus(ctx context.Context, providerOrderID string) (*smmclient.OrderStatus, error)
}

// GatewayClient is the interface to the payment gateway.
type GatewayClient interface {
	InitializeTransaction(ctx context.Context, req paystackclient.InitializeRequest) (*paystackclient.InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystackclient.VerifyResult, error)
}

// Options carries the tunables the service needs beyond its collaborators.
type Options struct {
	USDRate           float64
	MarginPercent     float64
	PlaceOrderTimeout time.Duration
	StatusTimeout     time.Duration
	TopupCallbackURL  string
}

// Service provides the core business logic for the storefront.
type Service struct {
	repo     store.Repository
	provider ProviderClient
	gateway  GatewayClient
	events   rabbitmq.Publisher
	catalog  CatalogCache
	opts     Options
}

// NewService creates a new panel service instance. All collaborators are
// injected here; nothing is initialized at import time.
func NewService(repo store.Repository, provider ProviderClient, gateway GatewayClient, events rabbitmq.Publisher, catalog CatalogCache, opts Options) *Service {
	if opts.PlaceOrderTimeout <= 0 {
		opts.PlaceOrderTimeout = 20 * time.Second
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = 10 * time.Second
	}
	if events == nil {
		events = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		repo:     repo,
		provider: provider,
		gateway:  gateway,
		events:   events,
		catalog:  catalog,
		opts:     opts,
	}
}

// ListServices returns the provider catalog, served from the cache when fresh.
func (s *Service) ListServices(ctx context.Context) ([]domain.ServiceCatalogEntry, error) {
	if s.catalog != nil {
		if entries, ok := s.catalog.Get(ctx); ok {
			return entries, nil
		}
	}

	entries, err := s.provider.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	if s.catalog != nil {
		s.catalog.Set(ctx, entries)
	}
	return entries, nil
}

// resolveService looks one service up in the catalog.
func (s *Service) resolveService(ctx context.Context, serviceID string) (*domain.ServiceCatalogEntry, error) {
	entries, err := s.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load service catalog: %w", err)
	}
	for i := range entries {
		if entries[i].ServiceID == serviceID {
			return &entries[i], nil
		}
	}
	return nil, ErrUnknownService
}

// QuoteOrder prices an order without placing it.
func (s *Service) QuoteOrder(ctx context.Context, serviceID string, quantity int64) (int64, error) {
	entry, err := s.resolveService(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	return Quote(entry, quantity, s.opts.USDRate, s.opts.MarginPercent)
}

// CreateOrder runs the order placement state machine:
//
//	Phase A (atomic, local): reserve funds and create the order row together.
//	Phase B (external):      place the order with the provider under a bounded
//	                         timeout; confirm on success, refund on any failure.
//
// The caller always ends with either a fully placed order (funds debited,
// provider order id recorded) or a full rollback (funds restored, order failed).
func (s *Service) CreateOrder(ctx context.Context, userID string, req domain.CreateOrderRequest) (*domain.OrderResult, error) {
	entry, err := s.resolveService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	price, err := Quote(entry, req.Quantity, s.opts.USDRate, s.opts.MarginPercent)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:        uuid.New(),
		UserID:    userID,
		ServiceID: req.ServiceID,
		Link:      req.Link,
		Quantity:  req.Quantity,
		Price:     price,
	}

	// Phase A: nothing external has been touched; an insufficient balance
	// aborts with no side effects at all.
	balanceAfter, err := s.repo.CreateOrderWithReservation(ctx, order)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to reserve funds: %w", err)
	}
	log.Printf("level=info component=orders msg=\"funds reserved\" order_id=%s user_id=%s price=%d balance_after=%d",
		order.ID, userID, price, balanceAfter)

	// Phase B: the provider call runs outside any local transaction, bounded
	// by a timeout. Expiry is a provider failure like any other.
	placeCtx, cancel := context.WithTimeout(ctx, s.opts.PlaceOrderTimeout)
	defer cancel()

	providerOrderID, err := s.provider.AddOrder(placeCtx, req.ServiceID, req.Link, req.Quantity)

	// Once funds are reserved, the confirm/refund writes must commit even when
	// the caller has disconnected and the request context is already canceled.
	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer settleCancel()

	if err != nil {
		detail := err.Error()
		var provErr *smmclient.ProviderError
		if errors.As(err, &provErr) {
			detail = provErr.Detail
		}
		log.Printf("level=warn component=orders msg=\"provider placement failed; refunding\" order_id=%s user_id=%s err=%v",
			order.ID, userID, err)

		if refundErr := s.repo.RefundOrderReservation(settleCtx, order.ID, userID, price, detail); refundErr != nil {
			// The reservation stands and the order is still 'creating'; this is
			// the one state that needs operator attention.
			log.Printf("level=error component=orders msg=\"refund after placement failure did not commit\" order_id=%s user_id=%s err=%v",
				order.ID, userID, refundErr)
			return nil, fmt.Errorf("refund after placement failure: %w", refundErr)
		}

		s.publishOrderEvent(settleCtx, "order.failed", order, "", detail)
		return nil, fmt.Errorf("%w: %s", ErrProviderPlacement, detail)
	}

	if err := s.repo.MarkOrderPlaced(settleCtx, order.ID, providerOrderID); err != nil {
		return nil, fmt.Errorf("failed to confirm placed order: %w", err)
	}
	log.Printf("level=info component=orders msg=\"order placed\" order_id=%s provider_order_id=%s user_id=%s",
		order.ID, providerOrderID, userID)

	s.publishOrderEvent(settleCtx, "order.placed", order, providerOrderID, "")

	return &domain.OrderResult{
		OrderID:         order.ID,
		ProviderOrderID: providerOrderID,
		Price:           price,
		BalanceAfter:    balanceAfter,
	}, nil
}

// ReconcilePayment applies one gateway payment notification to the wallet.
// It is safe to call any number of times with the same reference, from either
// the verify path or the webhook path; the credit record's primary key is the
// only idempotency mechanism in play.
func (s *Service) ReconcilePayment(ctx context.Context, reference, userID string, amount int64, gatewayStatus, source string) (domain.ReconcileResult, error) {
	if !strings.EqualFold(gatewayStatus, "success") || strings.TrimSpace(userID) == "" || amount <= 0 {
		log.Printf("level=info component=payments msg=\"payment ignored\" reference=%s status=%s user_id_set=%t amount=%d",
			reference, gatewayStatus, strings.TrimSpace(userID) != "", amount)
		return domain.ReconcileResult{}, nil
	}

	applied, newBalance, err := s.repo.ApplyCredit(ctx, reference, userID, amount, source)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("failed to apply credit: %w", err)
	}
	if !applied {
		log.Printf("level=info component=payments msg=\"credit replayed; no-op\" reference=%s source=%s", reference, source)
		return domain.ReconcileResult{Credited: false, Amount: amount}, nil
	}

	log.Printf("level=info component=payments msg=\"wallet credited\" reference=%s user_id=%s amount=%d balance=%d source=%s",
		reference, userID, amount, newBalance, source)
	if err := s.events.Publish(ctx, rabbitmq.EventsExchange, "wallet.credited", rabbitmq.WalletCreditEvent{
		Reference: reference,
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		log.Printf("level=warn component=payments msg=\"wallet credit event publish failed\" reference=%s err=%v", reference, err)
	}

	return domain.ReconcileResult{Credited: true, Amount: amount}, nil
}

// InitializeTopup creates a unique payment reference and asks the gateway for a
// checkout URL.
func (s *Service) InitializeTopup(ctx context.Context, userID, email string, req domain.TopupInitRequest) (*domain.TopupInitResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidTopup
	}

	reference := newTopupReference()
	callback := req.CallbackURL
	if callback == "" {
		callback = s.opts.TopupCallbackURL
	}

	result, err := s.gateway.InitializeTransaction(ctx, paystackclient.InitializeRequest{
		Email:       email,
		Amount:      req.Amount,
		Reference:   reference,
		Metadata:    map[string]string{"user_id": userID},
		CallbackURL: callback,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway initialize failed: %w", err)
	}

	return &domain.TopupInitResult{
		AuthorizationURL: result.AuthorizationURL,
		Reference:        result.Reference,
	}, nil
}

// VerifyTopup is the synchronous reconciliation trigger: it asks the gateway
// for its view of the reference and feeds the result into ReconcilePayment.
func (s *Service) VerifyTopup(ctx context.Context, reference string) (domain.ReconcileResult, error) {
	verified, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("gateway verify failed: %w", err)
	}
	return s.ReconcilePayment(ctx, verified.Reference, verified.UserID, verified.Amount, verified.Status, domain.CreditSourceVerify)
}

// AdjustWallet credits a wallet outside the gateway flow (support/admin action).
// The generated reference keeps the adjustment in the same idempotent ledger as
// gateway credits.
func (s *Service) AdjustWallet(ctx context.Context, req domain.AdminAdjustRequest) (domain.ReconcileResult, error) {
	reference := "adm_" + uuid.NewString()
	return s.ReconcilePayment(ctx, reference, req.UserID, req.Amount, "success", domain.CreditSourceAdmin)
}

// GetWalletBalance returns a user's current balance (zero for an absent wallet).
func (s *Service) GetWalletBalance(ctx context.Context, userID string) (int64, error) {
	return s.repo.GetWalletBalance(ctx, userID)
}

// WalletHistory returns the merged credit/debit ledger for a user, newest first.
func (s *Service) WalletHistory(ctx context.Context, userID string, limit int) ([]domain.WalletEntry, error) {
	credits, err := s.repo.ListCreditsByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	debits, err := s.repo.ListDebitsByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.WalletEntry, 0, len(credits)+len(debits))
	for _, c := range credits {
		entries = append(entries, domain.WalletEntry{
			Type:      "credit",
			Reference: c.Reference,
			Amount:    c.Amount,
			CreatedAt: c.CreatedAt,
		})
	}
	for _, d := range debits {
		orderID := d.OrderID
		entries = append(entries, domain.WalletEntry{
			Type:      "debit",
			OrderID:   &orderID,
			Amount:    d.Amount,
			Refunded:  d.Refunded,
			CreatedAt: d.CreatedAt,
		})
	}

	// Newest first across both record types.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// ListOrders returns a user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID, limit, offset)
}

// GetOrder returns one order, enforcing ownership.
func (s *Service) GetOrder(ctx context.Context, userID string, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}
	return order, nil
}

// SyncOrderStatus pulls the provider's status for one order, maps it onto the
// canonical enum and persists it along with the raw telemetry. Provider errors
// leave the order untouched (stale status beats corrupted status).
func (s *Service) SyncOrderStatus(ctx context.Context, userID string, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s.syncOrder(ctx, order)
}

// SyncOrderByProviderID resolves a user's order by the provider-side id and syncs it.
func (s *Service) SyncOrderByProviderID(ctx context.Context, userID, providerOrderID string) (*domain.Order, error) {
	order, err := s.repo.FindOrderByProviderOrderID(ctx, userID, providerOrderID)
	if err != nil {
		return nil, err
	}
	return s.syncOrder(ctx, order)
}

func (s *Service) syncOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if !order.Placed() {
		return nil, ErrOrderNotPlaced
	}

	statusCtx, cancel := context.WithTimeout(ctx, s.opts.StatusTimeout)
	defer cancel()

	raw, err := s.provider.GetOrderStatus(statusCtx, *order.ProviderOrderID)
	if err != nil {
		return nil, err
	}

	mapped := mapProviderStatus(raw.StatusText, raw.Remains)
	state := store.OrderSyncState{
		Status:            mapped,
		Remains:           raw.Remains,
		Charge:            raw.Charge,
		StartCount:        raw.StartCount,
		ProviderStatusRaw: raw.StatusText,
	}
	if err := s.repo.UpdateOrderSyncState(ctx, order.ID, state); err != nil {
		return nil, err
	}

	if mapped != order.Status {
		s.publishOrderEvent(ctx, "order.status.changed", order, *order.ProviderOrderID, mapped)
	}

	order.Status = mapped
	order.Remains = raw.Remains
	order.Charge = raw.Charge
	order.StartCount = raw.StartCount
	order.ProviderStatusRaw = raw.StatusText
	return order, nil
}

// SyncStaleOrders refreshes placed, non-terminal orders that have not been
// synced since the grace cutoff. Invoked by the internal cron endpoint; one
// provider failure does not abort the sweep.
func (s *Service) SyncStaleOrders(ctx context.Context, grace time.Duration, batchSize int) (synced int, err error) {
	cutoff := time.Now().Add(-grace)
	orders, err := s.repo.ListSyncableOrders(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	for i := range orders {
		if _, syncErr := s.syncOrder(ctx, &orders[i]); syncErr != nil {
			log.Printf("level=warn component=sync msg=\"order sync failed\" order_id=%s err=%v", orders[i].ID, syncErr)
			continue
		}
		synced++
	}
	return synced, nil
}

func (s *Service) publishOrderEvent(ctx context.Context, routingKey string, order *domain.Order, providerOrderID, detail string) {
	status := order.Status
	switch routingKey {
	case "order.placed":
		status = domain.OrderStatusPending
	case "order.failed":
		status = domain.OrderStatusFailed
	case "order.status.changed":
		status = detail
		detail = ""
	}

	event := rabbitmq.OrderEvent{
		OrderID:         order.ID,
		UserID:          order.UserID,
		ServiceID:       order.ServiceID,
		ProviderOrderID: providerOrderID,
		Status:          status,
		Amount:          order.Price,
		Detail:          detail,
		Timestamp:       time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, rabbitmq.EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=orders msg=\"event publish failed\" routing_key=%s order_id=%s err=%v", routingKey, order.ID, err)
	}
}

// newTopupReference builds a unique, human-scannable payment reference.
func newTopupReference() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("GF_%d_%s", time.Now().UnixMilli(), suffix)
}
