// Package main is the entry point for the messaging gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/brightledger/messaging-core/internal/app"
	"github.com/brightledger/messaging-core/internal/bridge"
	"github.com/brightledger/messaging-core/internal/config"
	"github.com/brightledger/messaging-core/internal/gateway"
	"github.com/brightledger/messaging-core/internal/middleware"
	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/pkg/logger"
	"github.com/brightledger/messaging-core/pkg/tracing"
)

func main() {
	// Load .env when present, then configuration
	_ = godotenv.Load()
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting messaging gateway")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Initialize store and hub
	store := gateway.NewStore()
	hub := gateway.NewHub(store, log, gateway.HubOptions{
		MessagesPerSecond: cfg.SocketMessagesPerSecond,
		Burst:             cfg.SocketBurst,
	})

	// Attach the NATS relay when running as part of a fleet
	if cfg.NATSUrl != "" {
		b, err := bridge.Connect(bridge.Config{
			URL:      cfg.NATSUrl,
			Token:    cfg.NATSToken,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
		}, log)
		if err != nil {
			log.Error("failed to connect bridge", zap.Error(err))
			os.Exit(1)
		}
		defer b.Close()
		hub.SetRelay(b)
		if err := b.Start(hub); err != nil {
			log.Error("failed to start bridge", zap.Error(err))
			os.Exit(1)
		}
	}

	seedDevUsers(cfg, store, log)

	router := app.NewRouter(store, hub, log, app.RouterOptions{
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// seedDevUsers mints local accounts and tokens from DEV_USERS
// ("id:name:role,..."). Development convenience only; production users come
// from the auth service.
func seedDevUsers(cfg *config.Config, store *gateway.Store, log *logger.Logger) {
	if cfg.DevUsers == "" {
		return
	}

	for _, entry := range strings.Split(cfg.DevUsers, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 {
			log.Warn("skipping malformed dev user entry", zap.String("entry", entry))
			continue
		}
		user := model.Participant{
			ID:    parts[0],
			Name:  parts[1],
			Email: parts[0] + "@example.test",
			Role:  model.Role(parts[2]),
		}
		store.UpsertUser(user)

		token, err := middleware.MintToken(cfg.JWTSecret, user, cfg.JWTExpiration)
		if err != nil {
			log.Warn("failed to mint dev token", zap.String("user_id", user.ID), zap.Error(err))
			continue
		}
		log.Info("dev user seeded",
			zap.String("user_id", user.ID),
			zap.String("role", string(user.Role)),
			zap.String("token", token),
		)
	}
}
