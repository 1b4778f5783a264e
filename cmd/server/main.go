package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-cq-quotes/internal/client"
	"github.com/pesio-ai/be-cq-quotes/internal/config"
	"github.com/pesio-ai/be-cq-quotes/internal/database"
	"github.com/pesio-ai/be-cq-quotes/internal/handler"
	"github.com/pesio-ai/be-cq-quotes/internal/logger"
	"github.com/pesio-ai/be-cq-quotes/internal/middleware"
	"github.com/pesio-ai/be-cq-quotes/internal/policy"
	"github.com/pesio-ai/be-cq-quotes/internal/repository"
	"github.com/pesio-ai/be-cq-quotes/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Quotes Service (CQ-1)")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load approval policy (rule catalog, precedence order, scales)
	pol := policy.Default()
	if cfg.Policy.File != "" {
		pol, err = policy.Load(cfg.Policy.File)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Policy.File).Msg("Failed to load policy file")
		}
		log.Info().Str("path", cfg.Policy.File).Int("rules", len(pol.Rules)).Msg("Approval policy loaded")
	}

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	quoteRepo := repository.NewQuoteRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize NATS event publisher (optional)
	var events service.EventPublisherInterface
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		events = client.NewEventPublisher(nc, log.Logger)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS event publisher initialized")
	} else {
		log.Info().Msg("NATS disabled; quote events will not be published")
	}

	// Initialize services
	quoteService := service.NewQuoteService(pol, quoteRepo, approvalRepo, auditRepo, events, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(quoteService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Quote routes
	mux.HandleFunc("/api/v1/quotes", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListQuotes(w, r)
		case http.MethodPost:
			httpHandler.CreateQuote(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/quotes/get", httpHandler.GetQuote)
	mux.HandleFunc("/api/v1/quotes/history", httpHandler.GetQuoteHistory)
	mux.HandleFunc("/api/v1/quotes/decision", httpHandler.RecordDecision)
	mux.HandleFunc("/api/v1/quotes/recall", httpHandler.RecallQuote)
	mux.HandleFunc("/api/v1/quotes/audit", httpHandler.GetAuditTrail)
	mux.HandleFunc("/api/v1/rules", httpHandler.ListRules)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
