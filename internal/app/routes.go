// Package app assembles the gateway's HTTP surface.
package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightledger/messaging-core/internal/gateway"
	"github.com/brightledger/messaging-core/internal/handler"
	"github.com/brightledger/messaging-core/internal/middleware"
	"github.com/brightledger/messaging-core/pkg/logger"
)

// RouterOptions configures the HTTP surface of the gateway.
type RouterOptions struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter mounts the REST routes and the websocket endpoint. Both
// cmd/chatd and the integration tests use this.
func NewRouter(store *gateway.Store, hub *gateway.Hub, log *logger.Logger, opts RouterOptions) http.Handler {
	healthHandler := handler.NewHealthHandler()
	conversationHandler := handler.NewConversationHandler(store, log)
	messageHandler := handler.NewMessageHandler(store, log)
	userHandler := handler.NewUserHandler(store, log)

	if opts.RateLimitRequests <= 0 {
		opts.RateLimitRequests = 120
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Realtime endpoint; the same bearer token guards REST and socket.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(opts.JWTSecret))
		r.Get("/ws", hub.ServeWS)
	})

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(opts.JWTSecret))
		r.Use(middleware.RateLimit(opts.RateLimitRequests, opts.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Get("/{id}/messages", messageHandler.List)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/read", messageHandler.MarkRead)
			r.Get("/unread", messageHandler.Unread)
		})

		r.Get("/users/available", userHandler.Available)
	})

	return r
}
