/**
 * @description
 * This file contains the HTTP handlers for the panel-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - crypto/hmac, crypto/sha512: Webhook signature verification.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gainfollowers/panel-service/internal/app"
	"github.com/gainfollowers/panel-service/internal/domain"
	"github.com/gainfollowers/panel-service/internal/store"
)

// PanelHandlers holds the application service that handlers will use.
type PanelHandlers struct {
	service       *app.Service
	webhookSecret string
	syncGrace     time.Duration
	syncBatchSize int
}

// NewPanelHandlers creates a new instance of PanelHandlers.
func NewPanelHandlers(service *app.Service, webhookSecret string, syncGrace time.Duration, syncBatchSize int) *PanelHandlers {
	return &PanelHandlers{
		service:       service,
		webhookSecret: webhookSecret,
		syncGrace:     syncGrace,
		syncBatchSize: syncBatchSize,
	}
}

// ListServicesHandler returns the provider service catalog.
func (h *PanelHandlers) ListServicesHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListServices(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=services msg=\"catalog fetch failed\" err=%v", err)
		h.writeError(w, http.StatusBadGateway, "Unable to load service catalog")
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// QuoteHandler prices an order without placing it.
func (h *PanelHandlers) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	price, err := h.service.QuoteOrder(r.Context(), req.ServiceID, req.Quantity)
	if err != nil {
		h.writeOrderError(w, "quote", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"price": price})
}

// CreateOrderHandler handles order placement requests.
func (h *PanelHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_order outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ServiceID == "" || req.Link == "" {
		h.writeError(w, http.StatusBadRequest, "service and link are required")
		return
	}

	log.Printf("level=info component=api endpoint=create_order outcome=accepted user_id=%s service=%s quantity=%d", userID, req.ServiceID, req.Quantity)

	result, err := h.service.CreateOrder(r.Context(), userID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_order outcome=failed user_id=%s err=%v", userID, err)
		h.writeOrderError(w, "create_order", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// ListOrdersHandler returns the authenticated user's orders, newest first.
func (h *PanelHandlers) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 1<<30)

	orders, err := h.service.ListOrders(r.Context(), userID, limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_orders user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	h.writeJSON(w, http.StatusOK, orders)
}

// GetOrderHandler returns one of the authenticated user's orders.
func (h *PanelHandlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	order, err := h.service.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		h.writeOrderError(w, "get_order", err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// SyncOrderHandler refreshes one order's status from the provider on demand.
func (h *PanelHandlers) SyncOrderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	order, err := h.service.SyncOrderStatus(r.Context(), userID, orderID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=sync_order user_id=%s order_id=%s err=%v", userID, orderID, err)
		h.writeOrderError(w, "sync_order", err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// WalletBalanceHandler returns the authenticated user's balance in kobo.
func (h *PanelHandlers) WalletBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	balance, err := h.service.GetWalletBalance(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=wallet_balance user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load wallet balance")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

// WalletHistoryHandler returns the merged credit/debit ledger for the user.
func (h *PanelHandlers) WalletHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	limit := queryInt(r, "limit", 50, 200)
	entries, err := h.service.WalletHistory(r.Context(), userID, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=wallet_history user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load wallet history")
		return
	}
	if entries == nil {
		entries = []domain.WalletEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// InitializeTopupHandler starts a wallet top-up at the payment gateway.
func (h *PanelHandlers) InitializeTopupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.TopupInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.InitializeTopup(r.Context(), userID, GetClerkEmail(r.Context()), req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidTopup) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=topup_init user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusBadGateway, "Unable to initialize payment")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// VerifyTopupHandler is the synchronous reconciliation trigger invoked after
// the user returns from checkout.
func (h *PanelHandlers) VerifyTopupHandler(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "reference is required")
		return
	}

	result, err := h.service.VerifyTopup(r.Context(), reference)
	if err != nil {
		log.Printf("level=warn component=api endpoint=topup_verify reference=%s err=%v", reference, err)
		h.writeError(w, http.StatusBadGateway, "Unable to verify payment")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// paystackWebhookEvent is the subset of the gateway's webhook envelope the
// service cares about.
type paystackWebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
		Metadata  struct {
			UserID string `json:"user_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// PaystackWebhookHandler handles asynchronous payment notifications. The
// signature is an HMAC-SHA512 of the raw body; nothing is parsed before the
// signature passes.
func (h *PanelHandlers) PaystackWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	if !h.verifyWebhookSignature(body, r.Header.Get("x-paystack-signature")) {
		log.Printf("level=warn component=api endpoint=paystack_webhook outcome=reject reason=bad_signature")
		h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var event paystackWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	// Only successful charges move money; everything else is acknowledged so
	// the gateway stops retrying.
	if event.Event != "charge.success" {
		log.Printf("level=info component=api endpoint=paystack_webhook outcome=ignored event=%s", event.Event)
		h.writeJSON(w, http.StatusOK, domain.ReconcileResult{})
		return
	}

	result, err := h.service.ReconcilePayment(r.Context(), event.Data.Reference, event.Data.Metadata.UserID,
		event.Data.Amount, event.Data.Status, domain.CreditSourceWebhook)
	if err != nil {
		log.Printf("level=error component=api endpoint=paystack_webhook reference=%s err=%v", event.Data.Reference, err)
		h.writeError(w, http.StatusInternalServerError, "Reconciliation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *PanelHandlers) verifyWebhookSignature(body []byte, signature string) bool {
	if h.webhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// InternalSyncHandler sweeps stale orders. Called by the scheduler, not users.
func (h *PanelHandlers) InternalSyncHandler(w http.ResponseWriter, r *http.Request) {
	synced, err := h.service.SyncStaleOrders(r.Context(), h.syncGrace, h.syncBatchSize)
	if err != nil {
		log.Printf("level=error component=api endpoint=internal_sync err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Sweep failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"synced": synced})
}

// InternalAdjustWalletHandler credits a wallet outside the gateway flow.
func (h *PanelHandlers) InternalAdjustWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.AdminAdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "user_id and a positive amount are required")
		return
	}

	result, err := h.service.AdjustWallet(r.Context(), req)
	if err != nil {
		log.Printf("level=error component=api endpoint=wallet_adjust user_id=%s err=%v", req.UserID, err)
		h.writeError(w, http.StatusInternalServerError, "Adjustment failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// writeOrderError maps service-layer errors onto HTTP statuses.
func (h *PanelHandlers) writeOrderError(w http.ResponseWriter, endpoint string, err error) {
	var quantityErr *app.InvalidQuantityError
	switch {
	case errors.As(err, &quantityErr):
		h.writeError(w, http.StatusBadRequest, quantityErr.Error())
	case errors.Is(err, app.ErrUnknownService), errors.Is(err, app.ErrBadServiceRate):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, "Insufficient wallet balance")
	case errors.Is(err, app.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "Order does not belong to you")
	case errors.Is(err, store.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, app.ErrOrderNotPlaced):
		h.writeError(w, http.StatusConflict, "Order was not placed with the provider")
	case errors.Is(err, app.ErrProviderPlacement):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func queryInt(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	if v > max {
		return max
	}
	return v
}

// writeJSON is a helper for writing JSON responses.
func (h *PanelHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PanelHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
