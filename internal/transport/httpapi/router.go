package httpapi

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/valekseev/satledger/internal/transport/httpapi/handler"
	"github.com/valekseev/satledger/internal/transport/httpapi/middleware"
	"github.com/valekseev/satledger/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger             *logger.Logger
	AllowedOrigins     []string
	TransactionHandler *handler.TransactionHandler
	ReportHandler      *handler.ReportHandler
	HealthHandler      *handler.HealthHandler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.RateLimit()) // 100 req/s with burst of 20

	// Health check endpoints
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/accounts", handler.GetAccounts)

		if cfg.TransactionHandler != nil {
			r.Post("/transactions", cfg.TransactionHandler.CreateTransaction)
			r.Post("/transactions/group", cfg.TransactionHandler.CreateTransactionGroup)
			r.Post("/transactions/lock", cfg.TransactionHandler.LockTransactions)
			r.Get("/transactions", cfg.TransactionHandler.GetTransactions)
			r.Get("/transactions/{id}", cfg.TransactionHandler.GetTransaction)
			r.Get("/transactions/{id}/entries", cfg.TransactionHandler.GetTransactionEntries)
			r.Put("/transactions/{id}", cfg.TransactionHandler.UpdateTransaction)
			r.Delete("/transactions/{id}", cfg.TransactionHandler.DeleteTransaction)
			r.Post("/recalculate", cfg.TransactionHandler.Recalculate)
		}

		if cfg.ReportHandler != nil {
			r.Route("/reports", func(r chi.Router) {
				r.Get("/balances", cfg.ReportHandler.GetBalances)
				r.Get("/gains", cfg.ReportHandler.GetGains)
				r.Get("/disposals", cfg.ReportHandler.GetDisposals)
				r.Get("/lots", cfg.ReportHandler.GetOpenLots)
			})
		}
	})

	return r
}
