package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valekseev/satledger/internal/infra/postgres"
	infraRedis "github.com/valekseev/satledger/internal/infra/redis"
	"github.com/valekseev/satledger/internal/ledger"
	"github.com/valekseev/satledger/internal/report"
	"github.com/valekseev/satledger/internal/transport/httpapi"
	"github.com/valekseev/satledger/internal/transport/httpapi/handler"
	"github.com/valekseev/satledger/pkg/config"
	"github.com/valekseev/satledger/pkg/logger"
)

func main() {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("Starting SatLedger API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	// Initialize database connection pool
	dbCfg := postgres.Config{
		URL: cfg.DatabaseURL,
	}
	db, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Initialize ledger service
	ledgerRepo := postgres.NewLedgerRepository(db.Pool)
	replayOpts := ledger.ReplayOptions{
		TransferFeeDisposal: cfg.TransferFeeDisposal,
	}
	ledgerSvc := ledger.NewService(ledgerRepo, replayOpts, log)

	// Initialize Redis-backed report cache when configured. Reports are
	// served straight from Postgres otherwise.
	var reportCache report.Cache
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		log.Info("Redis connection established")

		cache := infraRedis.NewCache(redisClient, log)
		reportCache = cache

		// Every ledger mutation triggers a full replay, so any cached
		// report may be stale afterwards.
		ledgerSvc.OnMutation(func(ctx context.Context) {
			if err := cache.Clear(ctx); err != nil {
				log.Warn("Failed to invalidate report cache", "error", err)
			}
		})
	} else {
		log.Warn("REDIS_URL not configured, report caching disabled")
	}

	reportSvc := report.NewService(ledgerSvc, reportCache, log)
	log.Info("Report service initialized")

	// Initialize HTTP handlers
	transactionHandler := handler.NewTransactionHandler(ledgerSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	healthHandler := handler.NewHealthHandler(db.Pool)

	// Create HTTP router
	routerCfg := httpapi.Config{
		Logger:             log,
		AllowedOrigins:     cfg.AllowedOrigins,
		TransactionHandler: transactionHandler,
		ReportHandler:      reportHandler,
		HealthHandler:      healthHandler,
	}
	r := httpapi.NewRouter(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}
