package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gainfollowers/panel-service/internal/domain"
	"github.com/gainfollowers/panel-service/internal/store"
	"github.com/gainfollowers/panel-service/pkg/paystackclient"
	"github.com/gainfollowers/panel-service/pkg/smmclient"
)

// fakeRepository is an in-memory Repository with the same transactional
// semantics as the Postgres implementation: mutations serialize behind one
// lock and fail with the context's error when it is already canceled, the way
// a pgx transaction would.
type fakeRepository struct {
	mu       sync.Mutex
	balances map[string]int64
	credits  map[string]domain.CreditRecord
	orders   map[uuid.UUID]*domain.Order
	debits   map[uuid.UUID]*domain.DebitRecord
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		balances: make(map[string]int64),
		credits:  make(map[string]domain.CreditRecord),
		orders:   make(map[uuid.UUID]*domain.Order),
		debits:   make(map[uuid.UUID]*domain.DebitRecord),
	}
}

func (r *fakeRepository) GetWalletBalance(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[userID], nil
}

func (r *fakeRepository) ApplyCredit(ctx context.Context, reference, userID string, amount int64, source string) (bool, int64, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if amount <= 0 {
		return false, 0, store.ErrInvalidAmount
	}
	if _, exists := r.credits[reference]; exists {
		return false, r.balances[userID], nil
	}
	r.balances[userID] += amount
	r.credits[reference] = domain.CreditRecord{
		Reference: reference,
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		CreatedAt: time.Now(),
	}
	return true, r.balances[userID], nil
}

func (r *fakeRepository) CreateOrderWithReservation(ctx context.Context, order *domain.Order) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.Price <= 0 {
		return 0, store.ErrInvalidAmount
	}
	if r.balances[order.UserID] < order.Price {
		return 0, store.ErrInsufficientFunds
	}
	r.balances[order.UserID] -= order.Price
	stored := *order
	stored.Status = domain.OrderStatusCreating
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.orders[order.ID] = &stored
	r.debits[order.ID] = &domain.DebitRecord{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Amount:    order.Price,
		CreatedAt: stored.CreatedAt,
	}
	return r.balances[order.UserID], nil
}

func (r *fakeRepository) RefundOrderReservation(ctx context.Context, orderID uuid.UUID, userID string, amount int64, failureDetail string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	debit, ok := r.debits[orderID]
	if !ok || debit.Refunded {
		return store.ErrDebitNotFound
	}
	r.balances[userID] += amount
	debit.Refunded = true
	now := time.Now()
	debit.RefundedAt = &now
	order := r.orders[orderID]
	order.Status = domain.OrderStatusFailed
	order.FailureReason = &failureDetail
	return nil
}

func (r *fakeRepository) MarkOrderPlaced(ctx context.Context, orderID uuid.UUID, providerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	order.Status = domain.OrderStatusPending
	order.ProviderOrderID = &providerOrderID
	return nil
}

func (r *fakeRepository) UpdateOrderSyncState(ctx context.Context, orderID uuid.UUID, state store.OrderSyncState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	order.Status = state.Status
	order.Remains = state.Remains
	order.Charge = state.Charge
	order.StartCount = state.StartCount
	order.ProviderStatusRaw = state.ProviderStatusRaw
	order.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *fakeRepository) FindOrderByProviderOrderID(ctx context.Context, userID, providerOrderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.UserID == userID && order.ProviderOrderID != nil && *order.ProviderOrderID == providerOrderID {
			copied := *order
			return &copied, nil
		}
	}
	return nil, store.ErrOrderNotFound
}

func (r *fakeRepository) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (r *fakeRepository) ListSyncableOrders(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, order := range r.orders {
		if order.Placed() && order.Status != domain.OrderStatusCompleted &&
			order.Status != domain.OrderStatusCanceled && order.Status != domain.OrderStatusFailed {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (r *fakeRepository) ListCreditsByUser(ctx context.Context, userID string, limit int) ([]domain.CreditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CreditRecord
	for _, c := range r.credits {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeRepository) ListDebitsByUser(ctx context.Context, userID string, limit int) ([]domain.DebitRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DebitRecord
	for _, d := range r.debits {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

// fakeProvider is a scriptable ProviderClient. When cancelOnAdd is set it is
// invoked during AddOrder, standing in for a client that disconnects while the
// placement call is in flight.
type fakeProvider struct {
	mu           sync.Mutex
	services     []domain.ServiceCatalogEntry
	servicesErr  error
	addOrderID   string
	addErr       error
	addCalls     int
	cancelOnAdd  context.CancelFunc
	status       *smmclient.OrderStatus
	statusErr    error
	listCalls    int
	statusOrders []string
}

func (p *fakeProvider) ListServices(ctx context.Context) ([]domain.ServiceCatalogEntry, error) {
	p.mu.Lock()
	p.listCalls++
	p.mu.Unlock()
	return p.services, p.servicesErr
}

func (p *fakeProvider) AddOrder(ctx context.Context, serviceID, link string, quantity int64) (string, error) {
	p.mu.Lock()
	p.addCalls++
	p.mu.Unlock()
	if p.cancelOnAdd != nil {
		p.cancelOnAdd()
	}
	if p.addErr != nil {
		return "", p.addErr
	}
	return p.addOrderID, nil
}

func (p *fakeProvider) GetOrderStatus(ctx context.Context, providerOrderID string) (*smmclient.OrderStatus, error) {
	p.statusOrders = append(p.statusOrders, providerOrderID)
	return p.status, p.statusErr
}

// fakeGateway is a scriptable GatewayClient.
type fakeGateway struct {
	initResult   *paystackclient.InitializeResult
	initErr      error
	verifyResult *paystackclient.VerifyResult
	verifyErr    error
	lastInit     paystackclient.InitializeRequest
}

func (g *fakeGateway) InitializeTransaction(ctx context.Context, req paystackclient.InitializeRequest) (*paystackclient.InitializeResult, error) {
	g.lastInit = req
	if g.initErr != nil {
		return nil, g.initErr
	}
	if g.initResult != nil {
		return g.initResult, nil
	}
	return &paystackclient.InitializeResult{
		AuthorizationURL: "https://checkout.example/" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*paystackclient.VerifyResult, error) {
	return g.verifyResult, g.verifyErr
}

// recordingPublisher captures every published event.
type recordingPublisher struct {
	routingKeys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func catalogEntry() domain.ServiceCatalogEntry {
	return domain.ServiceCatalogEntry{
		ServiceID:      "101",
		Name:           "Instagram Followers",
		Category:       "Instagram",
		RateUSDPer1000: 1.0,
		Min:            100,
		Max:            10000,
	}
}

func newTestService(repo *fakeRepository, provider *fakeProvider, gateway *fakeGateway, events *recordingPublisher) *Service {
	return NewService(repo, provider, gateway, events, nil, Options{
		USDRate:           1700,
		MarginPercent:     20,
		PlaceOrderTimeout: time.Second,
		StatusTimeout:     time.Second,
	})
}

func TestCreateOrderSuccess(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 5000
	provider := &fakeProvider{
		services:   []domain.ServiceCatalogEntry{catalogEntry()},
		addOrderID: "prov-42",
	}
	events := &recordingPublisher{}
	svc := newTestService(repo, provider, &fakeGateway{}, events)

	result, err := svc.CreateOrder(context.Background(), "user_1", domain.CreateOrderRequest{
		ServiceID: "101",
		Link:      "https://instagram.com/someone",
		Quantity:  2000,
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if result.Price != 4080 {
		t.Errorf("price = %d, want 4080", result.Price)
	}
	if result.BalanceAfter != 920 {
		t.Errorf("balance after = %d, want 920", result.BalanceAfter)
	}
	if result.ProviderOrderID != "prov-42" {
		t.Errorf("provider order id = %q, want %q", result.ProviderOrderID, "prov-42")
	}
	if repo.balances["user_1"] != 920 {
		t.Errorf("wallet balance = %d, want 920", repo.balances["user_1"])
	}

	order := repo.orders[result.OrderID]
	if order == nil {
		t.Fatal("order row not persisted")
	}
	if order.Status != domain.OrderStatusPending {
		t.Errorf("order status = %q, want %q", order.Status, domain.OrderStatusPending)
	}
	if !order.Placed() {
		t.Error("order should carry the provider order id")
	}

	if len(events.routingKeys) != 1 || events.routingKeys[0] != "order.placed" {
		t.Errorf("published events = %v, want [order.placed]", events.routingKeys)
	}
}

func TestCreateOrderProviderFailureRefunds(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 5000
	provider := &fakeProvider{
		services: []domain.ServiceCatalogEntry{catalogEntry()},
		addErr:   &smmclient.ProviderError{Detail: "not enough funds on provider account"},
	}
	events := &recordingPublisher{}
	svc := newTestService(repo, provider, &fakeGateway{}, events)

	_, err := svc.CreateOrder(context.Background(), "user_1", domain.CreateOrderRequest{
		ServiceID: "101",
		Link:      "https://instagram.com/someone",
		Quantity:  2000,
	})
	if !errors.Is(err, ErrProviderPlacement) {
		t.Fatalf("CreateOrder() error = %v, want ErrProviderPlacement", err)
	}
	if !strings.Contains(err.Error(), "not enough funds on provider account") {
		t.Errorf("error should carry the provider detail, got %q", err.Error())
	}

	if repo.balances["user_1"] != 5000 {
		t.Errorf("wallet balance = %d, want 5000 after refund", repo.balances["user_1"])
	}

	var order *domain.Order
	for _, o := range repo.orders {
		order = o
	}
	if order == nil {
		t.Fatal("order row should exist for audit")
	}
	if order.Status != domain.OrderStatusFailed {
		t.Errorf("order status = %q, want %q", order.Status, domain.OrderStatusFailed)
	}
	if order.FailureReason == nil || !strings.Contains(*order.FailureReason, "not enough funds") {
		t.Errorf("failure reason not recorded: %v", order.FailureReason)
	}

	debit := repo.debits[order.ID]
	if debit == nil || !debit.Refunded {
		t.Error("debit record should be marked refunded")
	}

	if len(events.routingKeys) != 1 || events.routingKeys[0] != "order.failed" {
		t.Errorf("published events = %v, want [order.failed]", events.routingKeys)
	}
}

func TestCreateOrderInsufficientFunds(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 4079 // one kobo short
	provider := &fakeProvider{services: []domain.ServiceCatalogEntry{catalogEntry()}}
	svc := newTestService(repo, provider, &fakeGateway{}, &recordingPublisher{})

	_, err := svc.CreateOrder(context.Background(), "user_1", domain.CreateOrderRequest{
		ServiceID: "101",
		Link:      "https://instagram.com/someone",
		Quantity:  2000,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("CreateOrder() error = %v, want ErrInsufficientFunds", err)
	}

	if provider.addCalls != 0 {
		t.Error("provider must not be called when the reservation fails")
	}
	if repo.balances["user_1"] != 4079 {
		t.Errorf("wallet balance = %d, want 4079 (untouched)", repo.balances["user_1"])
	}
	if len(repo.orders) != 0 {
		t.Error("no order row should exist")
	}
}

func TestCreateOrderUnknownService(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 100000
	provider := &fakeProvider{services: []domain.ServiceCatalogEntry{catalogEntry()}}
	svc := newTestService(repo, provider, &fakeGateway{}, &recordingPublisher{})

	_, err := svc.CreateOrder(context.Background(), "user_1", domain.CreateOrderRequest{
		ServiceID: "999",
		Link:      "https://instagram.com/someone",
		Quantity:  2000,
	})
	if !errors.Is(err, ErrUnknownService) {
		t.Fatalf("CreateOrder() error = %v, want ErrUnknownService", err)
	}
	if repo.balances["user_1"] != 100000 {
		t.Error("wallet must be untouched for an unknown service")
	}
}

func TestCreateOrderRefundSurvivesCallerCancellation(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 5000

	// The client disconnects while the placement call is in flight: the request
	// context dies mid-Phase-B and the placement fails.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := &fakeProvider{
		services:    []domain.ServiceCatalogEntry{catalogEntry()},
		addErr:      &smmclient.ProviderError{Detail: "connection reset"},
		cancelOnAdd: cancel,
	}
	events := &recordingPublisher{}
	svc := newTestService(repo, provider, &fakeGateway{}, events)

	_, err := svc.CreateOrder(ctx, "user_1", domain.CreateOrderRequest{
		ServiceID: "101",
		Link:      "https://instagram.com/someone",
		Quantity:  2000,
	})
	if !errors.Is(err, ErrProviderPlacement) {
		t.Fatalf("CreateOrder() error = %v, want ErrProviderPlacement", err)
	}

	if repo.balances["user_1"] != 5000 {
		t.Errorf("wallet balance = %d, want 5000; the refund must commit even after the caller is gone", repo.balances["user_1"])
	}
	for _, order := range repo.orders {
		if order.Status != domain.OrderStatusFailed {
			t.Errorf("order status = %q, want failed (never stuck in creating)", order.Status)
		}
	}
	for _, debit := range repo.debits {
		if !debit.Refunded {
			t.Error("debit record should be marked refunded")
		}
	}
}

func TestCreateOrderConfirmSurvivesCallerCancellation(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 5000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := &fakeProvider{
		services:    []domain.ServiceCatalogEntry{catalogEntry()},
		addOrderID:  "prov-55",
		cancelOnAdd: cancel,
	}
	svc := newTestService(repo, provider, &fakeGateway{}, &recordingPublisher{})

	result, err := svc.CreateOrder(ctx, "user_1", domain.CreateOrderRequest{
		ServiceID: "101",
		Link:      "https://instagram.com/someone",
		Quantity:  2000,
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v; the provider accepted, so the order must confirm", err)
	}

	order := repo.orders[result.OrderID]
	if order == nil || order.Status != domain.OrderStatusPending || !order.Placed() {
		t.Errorf("order should be confirmed placed despite the dead request context, got %+v", order)
	}
}

func TestCreateOrderConcurrentReservations(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 1000
	entry := domain.ServiceCatalogEntry{
		ServiceID:      "700",
		Name:           "Telegram Members",
		RateUSDPer1000: 700,
		Min:            1000,
		Max:            1000,
	}
	provider := &fakeProvider{
		services:   []domain.ServiceCatalogEntry{entry},
		addOrderID: "prov-race",
	}
	svc := NewService(repo, provider, &fakeGateway{}, &recordingPublisher{}, nil, Options{
		USDRate:       1,
		MarginPercent: 0,
	})

	// Two concurrent 700-kobo reservations against a 1000-kobo balance: the
	// store serializes them and only one can pass the funds check.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.CreateOrder(context.Background(), "user_1", domain.CreateOrderRequest{
				ServiceID: "700",
				Link:      "https://t.me/group",
				Quantity:  1000,
			})
			errs <- err
		}()
	}

	var succeeded, insufficient int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("got %d successes and %d insufficient-funds rejections, want exactly 1 and 1", succeeded, insufficient)
	}
	if repo.balances["user_1"] != 300 {
		t.Errorf("balance = %d, want 300", repo.balances["user_1"])
	}
}

func TestWalletHistoryNewestFirst(t *testing.T) {
	repo := newFakeRepository()
	base := time.Now().Add(-time.Hour)
	repo.credits["GF_1_aaa"] = domain.CreditRecord{
		Reference: "GF_1_aaa", UserID: "user_1", Amount: 1000, CreatedAt: base,
	}
	repo.credits["GF_2_bbb"] = domain.CreditRecord{
		Reference: "GF_2_bbb", UserID: "user_1", Amount: 3000, CreatedAt: base.Add(30 * time.Minute),
	}
	orderID := uuid.New()
	repo.debits[orderID] = &domain.DebitRecord{
		OrderID: orderID, UserID: "user_1", Amount: 500, CreatedAt: base.Add(15 * time.Minute),
	}
	svc := newTestService(repo, &fakeProvider{}, &fakeGateway{}, &recordingPublisher{})

	entries, err := svc.WalletHistory(context.Background(), "user_1", 50)
	if err != nil {
		t.Fatalf("WalletHistory() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Fatalf("entries out of order at index %d: %v after %v", i, entries[i].CreatedAt, entries[i-1].CreatedAt)
		}
	}
	if entries[0].Reference != "GF_2_bbb" || entries[1].OrderID == nil || entries[2].Reference != "GF_1_aaa" {
		t.Errorf("merged order wrong: %+v", entries)
	}
}

func TestReconcilePaymentAppliesOnce(t *testing.T) {
	repo := newFakeRepository()
	events := &recordingPublisher{}
	svc := newTestService(repo, &fakeProvider{}, &fakeGateway{}, events)

	first, err := svc.ReconcilePayment(context.Background(), "GF_123_abc", "user_1", 250000, "success", domain.CreditSourceWebhook)
	if err != nil {
		t.Fatalf("ReconcilePayment() error = %v", err)
	}
	if !first.Credited {
		t.Error("first reconciliation should credit")
	}
	if repo.balances["user_1"] != 250000 {
		t.Errorf("balance = %d, want 250000", repo.balances["user_1"])
	}

	// Webhook and verify race on the same reference; the second arrival is a no-op.
	second, err := svc.ReconcilePayment(context.Background(), "GF_123_abc", "user_1", 250000, "success", domain.CreditSourceVerify)
	if err != nil {
		t.Fatalf("ReconcilePayment() replay error = %v", err)
	}
	if second.Credited {
		t.Error("replayed reference must not credit again")
	}
	if repo.balances["user_1"] != 250000 {
		t.Errorf("balance after replay = %d, want 250000", repo.balances["user_1"])
	}

	if len(events.routingKeys) != 1 || events.routingKeys[0] != "wallet.credited" {
		t.Errorf("published events = %v, want exactly one wallet.credited", events.routingKeys)
	}
}

func TestReconcilePaymentIgnoresNonSuccess(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakeProvider{}, &fakeGateway{}, &recordingPublisher{})

	testCases := []struct {
		name   string
		userID string
		amount int64
		status string
	}{
		{"failed status", "user_1", 1000, "failed"},
		{"abandoned status", "user_1", 1000, "abandoned"},
		{"missing user id", "", 1000, "success"},
		{"zero amount", "user_1", 0, "success"},
		{"negative amount", "user_1", -50, "success"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := svc.ReconcilePayment(context.Background(), "ref_"+tc.name, tc.userID, tc.amount, tc.status, domain.CreditSourceWebhook)
			if err != nil {
				t.Fatalf("ReconcilePayment() error = %v", err)
			}
			if result.Credited {
				t.Error("notification should be ignored without error")
			}
		})
	}

	if repo.balances["user_1"] != 0 {
		t.Errorf("balance = %d, want 0", repo.balances["user_1"])
	}
}

func TestVerifyTopupFeedsReconciliation(t *testing.T) {
	repo := newFakeRepository()
	gateway := &fakeGateway{
		verifyResult: &paystackclient.VerifyResult{
			Status:    "success",
			Amount:    500000,
			Reference: "GF_999_xyz",
			UserID:    "user_7",
		},
	}
	svc := newTestService(repo, &fakeProvider{}, gateway, &recordingPublisher{})

	result, err := svc.VerifyTopup(context.Background(), "GF_999_xyz")
	if err != nil {
		t.Fatalf("VerifyTopup() error = %v", err)
	}
	if !result.Credited || result.Amount != 500000 {
		t.Errorf("result = %+v, want credited 500000", result)
	}
	if repo.balances["user_7"] != 500000 {
		t.Errorf("balance = %d, want 500000", repo.balances["user_7"])
	}

	credit, ok := repo.credits["GF_999_xyz"]
	if !ok {
		t.Fatal("credit record missing")
	}
	if credit.Source != domain.CreditSourceVerify {
		t.Errorf("credit source = %q, want %q", credit.Source, domain.CreditSourceVerify)
	}
}

func TestInitializeTopup(t *testing.T) {
	gateway := &fakeGateway{}
	svc := newTestService(newFakeRepository(), &fakeProvider{}, gateway, &recordingPublisher{})

	result, err := svc.InitializeTopup(context.Background(), "user_1", "user@example.com", domain.TopupInitRequest{Amount: 100000})
	if err != nil {
		t.Fatalf("InitializeTopup() error = %v", err)
	}
	if !strings.HasPrefix(result.Reference, "GF_") {
		t.Errorf("reference = %q, want GF_ prefix", result.Reference)
	}
	if gateway.lastInit.Amount != 100000 {
		t.Errorf("gateway amount = %d, want 100000", gateway.lastInit.Amount)
	}
	if gateway.lastInit.Metadata["user_id"] != "user_1" {
		t.Errorf("gateway metadata user_id = %q, want user_1", gateway.lastInit.Metadata["user_id"])
	}

	if _, err := svc.InitializeTopup(context.Background(), "user_1", "user@example.com", domain.TopupInitRequest{Amount: 0}); !errors.Is(err, ErrInvalidTopup) {
		t.Errorf("zero amount: error = %v, want ErrInvalidTopup", err)
	}
}

func TestAdjustWalletUsesAdminReference(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakeProvider{}, &fakeGateway{}, &recordingPublisher{})

	result, err := svc.AdjustWallet(context.Background(), domain.AdminAdjustRequest{UserID: "user_2", Amount: 7500})
	if err != nil {
		t.Fatalf("AdjustWallet() error = %v", err)
	}
	if !result.Credited {
		t.Fatal("adjustment should credit")
	}

	found := false
	for ref, credit := range repo.credits {
		if strings.HasPrefix(ref, "adm_") && credit.Source == domain.CreditSourceAdmin {
			found = true
		}
	}
	if !found {
		t.Error("credit should be recorded with an adm_ reference and admin source")
	}
}

func TestSyncOrderStatus(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 10000
	provider := &fakeProvider{
		services:   []domain.ServiceCatalogEntry{catalogEntry()},
		addOrderID: "prov-7",
		status: &smmclient.OrderStatus{
			StatusText: "Partially Completed",
			Remains:    40,
			Charge:     1.2,
			StartCount: 120,
		},
	}
	events := &recordingPublisher{}
	svc := newTestService(repo, provider, &fakeGateway{}, events)

	created, err := svc.CreateOrder(context.Background(), "user_1", domain.CreateOrderRequest{
		ServiceID: "101", Link: "https://x.com/u", Quantity: 2000,
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	synced, err := svc.SyncOrderStatus(context.Background(), "user_1", created.OrderID)
	if err != nil {
		t.Fatalf("SyncOrderStatus() error = %v", err)
	}
	if synced.Status != domain.OrderStatusPartial {
		t.Errorf("status = %q, want %q", synced.Status, domain.OrderStatusPartial)
	}
	if synced.Remains != 40 || synced.StartCount != 120 {
		t.Errorf("telemetry = remains %d start %d, want 40/120", synced.Remains, synced.StartCount)
	}

	stored := repo.orders[created.OrderID]
	if stored.Status != domain.OrderStatusPartial || stored.ProviderStatusRaw != "Partially Completed" {
		t.Errorf("persisted state = %q / %q, want partial / Partially Completed", stored.Status, stored.ProviderStatusRaw)
	}

	want := []string{"order.placed", "order.status.changed"}
	if len(events.routingKeys) != len(want) || events.routingKeys[1] != want[1] {
		t.Errorf("published events = %v, want %v", events.routingKeys, want)
	}
}

func TestSyncOrderStatusOwnership(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 10000
	provider := &fakeProvider{
		services:   []domain.ServiceCatalogEntry{catalogEntry()},
		addOrderID: "prov-8",
	}
	svc := newTestService(repo, provider, &fakeGateway{}, &recordingPublisher{})

	created, err := svc.CreateOrder(context.Background(), "user_1", domain.CreateOrderRequest{
		ServiceID: "101", Link: "https://x.com/u", Quantity: 2000,
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if _, err := svc.SyncOrderStatus(context.Background(), "user_2", created.OrderID); !errors.Is(err, ErrForbidden) {
		t.Errorf("other user's sync: error = %v, want ErrForbidden", err)
	}
	if _, err := svc.SyncOrderStatus(context.Background(), "user_1", uuid.New()); !errors.Is(err, store.ErrOrderNotFound) {
		t.Errorf("missing order: error = %v, want ErrOrderNotFound", err)
	}
}

func TestSyncOrderStatusNotPlaced(t *testing.T) {
	repo := newFakeRepository()
	orderID := uuid.New()
	repo.orders[orderID] = &domain.Order{
		ID:     orderID,
		UserID: "user_1",
		Status: domain.OrderStatusFailed,
	}
	svc := newTestService(repo, &fakeProvider{}, &fakeGateway{}, &recordingPublisher{})

	if _, err := svc.SyncOrderStatus(context.Background(), "user_1", orderID); !errors.Is(err, ErrOrderNotPlaced) {
		t.Errorf("error = %v, want ErrOrderNotPlaced", err)
	}
}

func TestSyncOrderStatusProviderFailureLeavesOrderUntouched(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 10000
	provider := &fakeProvider{
		services:   []domain.ServiceCatalogEntry{catalogEntry()},
		addOrderID: "prov-9",
	}
	svc := newTestService(repo, provider, &fakeGateway{}, &recordingPublisher{})

	created, err := svc.CreateOrder(context.Background(), "user_1", domain.CreateOrderRequest{
		ServiceID: "101", Link: "https://x.com/u", Quantity: 2000,
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	provider.statusErr = &smmclient.ProviderError{Detail: "timeout"}
	if _, err := svc.SyncOrderStatus(context.Background(), "user_1", created.OrderID); err == nil {
		t.Fatal("expected provider error")
	}

	stored := repo.orders[created.OrderID]
	if stored.Status != domain.OrderStatusPending {
		t.Errorf("status = %q, want pending (unchanged)", stored.Status)
	}
}

func TestListServicesUsesCache(t *testing.T) {
	provider := &fakeProvider{services: []domain.ServiceCatalogEntry{catalogEntry()}}
	cache := &memoryCache{}
	svc := NewService(newFakeRepository(), provider, &fakeGateway{}, &recordingPublisher{}, cache, Options{
		USDRate: 1700, MarginPercent: 20,
	})

	for i := 0; i < 3; i++ {
		entries, err := svc.ListServices(context.Background())
		if err != nil {
			t.Fatalf("ListServices() error = %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(entries))
		}
	}
	if provider.listCalls != 1 {
		t.Errorf("provider called %d times, want 1 (rest from cache)", provider.listCalls)
	}
}

func TestSyncStaleOrdersContinuesPastFailures(t *testing.T) {
	repo := newFakeRepository()
	repo.balances["user_1"] = 100000
	provider := &fakeProvider{
		services:   []domain.ServiceCatalogEntry{catalogEntry()},
		addOrderID: "prov-a",
		status:     &smmclient.OrderStatus{StatusText: "Completed", Remains: 0},
	}
	svc := newTestService(repo, provider, &fakeGateway{}, &recordingPublisher{})

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateOrder(context.Background(), "user_1", domain.CreateOrderRequest{
			ServiceID: "101", Link: "https://x.com/u", Quantity: 2000,
		}); err != nil {
			t.Fatalf("CreateOrder() error = %v", err)
		}
	}

	synced, err := svc.SyncStaleOrders(context.Background(), 10*time.Minute, 50)
	if err != nil {
		t.Fatalf("SyncStaleOrders() error = %v", err)
	}
	if synced != 3 {
		t.Errorf("synced = %d, want 3", synced)
	}
	for _, order := range repo.orders {
		if order.Status != domain.OrderStatusCompleted {
			t.Errorf("order %s status = %q, want completed", order.ID, order.Status)
		}
	}
}

// memoryCache is a trivial CatalogCache for tests.
type memoryCache struct {
	entries []domain.ServiceCatalogEntry
}

func (c *memoryCache) Get(ctx context.Context) ([]domain.ServiceCatalogEntry, bool) {
	if c.entries == nil {
		return nil, false
	}
	return c.entries, true
}

func (c *memoryCache) Set(ctx context.Context, entries []domain.ServiceCatalogEntry) {
	c.entries = entries
}
