// Package main is the entry point for the relay server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/moltbot/relay/internal/agent"
	"github.com/moltbot/relay/internal/config"
	"github.com/moltbot/relay/internal/crypto"
	"github.com/moltbot/relay/internal/events"
	"github.com/moltbot/relay/internal/handler"
	"github.com/moltbot/relay/internal/middleware"
	"github.com/moltbot/relay/internal/platform"
	"github.com/moltbot/relay/internal/quota"
	"github.com/moltbot/relay/internal/resolver"
	"github.com/moltbot/relay/internal/service"
	"github.com/moltbot/relay/internal/store"
	"github.com/moltbot/relay/pkg/logger"
	"github.com/moltbot/relay/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting relay server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Credential vault. A bad key means every stored credential is
	// unreadable, so refuse to start.
	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		log.Error("invalid encryption key", zap.Error(err))
		os.Exit(1)
	}

	// Storage: Postgres when configured, in-memory otherwise
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", zap.Error(err))
			os.Exit(1)
		}
		st = pg
		log.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory store")
	}
	defer st.Close()

	// Optional relay event stream
	publisher, err := events.Connect(ctx, cfg.NATSURL, cfg.NATSToken, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer publisher.Close()

	// Platform clients
	slackClient := platform.NewSlackClient(nil, "")
	telegramClient := platform.NewTelegramClient(nil, "")
	replier := platform.NewReplier(slackClient, telegramClient)

	// Agent runtime client
	runtime := agent.NewClient(cfg.WorkerURL, cfg.WorkerAPISecret, cfg.AgentTimeout, log)

	// Core services
	res := resolver.New(st, vault, log)
	limits := quota.Limits{Free: cfg.FreePlanLimit, Pro: cfg.ProPlanLimit}
	gate := quota.NewGate(st, limits)
	pipeline := service.NewPipeline(st, res, gate, runtime, replier, publisher, log)
	connectionSvc := service.NewConnectionService(st, vault, telegramClient, cfg.AppURL, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(publisher)
	webhookHandler := handler.NewWebhookHandler(pipeline, cfg.SlackSigningSecret, log)
	chatHandler := handler.NewChatHandler(pipeline, st, log)
	connectionHandler := handler.NewConnectionHandler(connectionSvc, st, log)
	usageHandler := handler.NewUsageHandler(st, limits, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Platform webhooks authenticate per-request (signatures / secret
	// tokens), not with dashboard JWTs
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/slack", webhookHandler.Slack)
		r.Post("/telegram", webhookHandler.Telegram)
	})

	// Agent runtime callbacks
	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.InternalAuth(cfg.WorkerAPISecret))
		r.Post("/usage/report", usageHandler.Report)
	})

	// Dashboard API with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Dashboard chat
		r.Route("/chat", func(r chi.Router) {
			r.Post("/messages", chatHandler.Send)
			r.Get("/messages", chatHandler.History)
			r.Delete("/", chatHandler.Clear)
		})

		// Channel connections
		r.Route("/connections", func(r chi.Router) {
			r.Get("/", connectionHandler.List)
			r.Post("/", connectionHandler.ConnectWithToken)
			r.Post("/telegram", connectionHandler.ConnectTelegram)
			r.Delete("/{id}", connectionHandler.Delete)
		})

		// Usage summary
		r.Get("/usage", usageHandler.Summary)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
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
