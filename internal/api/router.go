/**
 * @description
 * This file sets up the HTTP router for the transfer-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the router needs beyond the handlers.
type RouterConfig struct {
	JWTSecret      string
	JWTIssuer      string
	AllowedOrigins []string
}

// TransferRoutes creates and returns a new router for the transfer service.
func TransferRoutes(h *TransferHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for request ids, logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer))

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/validate", h.ValidateTransferHandler)
			r.Post("/", h.SubmitTransferHandler)
			r.Get("/", h.ListTransfersHandler)

			r.Route("/{transferID}", func(r chi.Router) {
				r.Get("/", h.GetTransferHandler)
				r.Post("/verification", h.IssueVerificationHandler)
				r.Post("/verification/resend", h.ResendVerificationHandler)
				r.Post("/verification/confirm", h.ConfirmVerificationHandler)
				r.Post("/execute", h.ExecuteTransferHandler)
				r.Get("/receipt", h.GetReceiptHandler)
			})
		})

		// Recipient registry endpoints
		r.Get("/recipients", h.ListRecipientsHandler)
		r.Post("/recipients", h.SaveRecipientHandler)
		r.Delete("/recipients/{recipientID}", h.DeleteRecipientHandler)

		r.Get("/accounts/{accountID}/balance", h.GetAccountBalanceHandler)
	})

	return r
}
