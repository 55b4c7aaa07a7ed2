/**
 * @description
 * This file sets up the HTTP router for the panel-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PanelRoutes creates and returns a new router for the panel service.
func PanelRoutes(h *PanelHandlers, jwksURL, internalKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// The gateway signs webhook calls itself; no user token is involved.
	r.Post("/webhooks/paystack", h.PaystackWebhookHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(jwksURL))

		r.Get("/services", h.ListServicesHandler)

		r.Post("/orders/quote", h.QuoteHandler)
		r.Post("/orders", h.CreateOrderHandler)
		r.Get("/orders", h.ListOrdersHandler)
		r.Get("/orders/{orderID}", h.GetOrderHandler)
		r.Post("/orders/{orderID}/sync", h.SyncOrderHandler)

		r.Get("/wallet", h.WalletBalanceHandler)
		r.Get("/wallet/history", h.WalletHistoryHandler)
		r.Post("/wallet/topup", h.InitializeTopupHandler)
		r.Get("/wallet/topup/verify", h.VerifyTopupHandler)
	})

	// Internal endpoints for the scheduler and admin tooling.
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(internalKey))

		r.Post("/internal/orders/sync", h.InternalSyncHandler)
		r.Post("/internal/wallet/adjust", h.InternalAdjustWalletHandler)
	})

	return r
}
