// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/service"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
)

// Service interfaces for dependency injection and testing

// WebhookHandler defines the webhook ingestion operation
type WebhookHandler interface {
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string, now time.Time) (*service.WebhookResult, error)
}

// BackfillRunner defines the backfill operation
type BackfillRunner interface {
	Backfill(ctx context.Context, req service.BackfillRequest, now time.Time) (*service.BackfillResult, error)
}

// Reconciler defines reconciliation operations
type Reconciler interface {
	Reconcile(ctx context.Context, day time.Time, accountID string, now time.Time) (*service.ReconcileResult, error)
	ReconcileAll(ctx context.Context, day time.Time, class types.AccountClass, limit int, now time.Time) (*service.ReconcileSummary, error)
}

// JobRequeuer defines the failed job requeue operation
type JobRequeuer interface {
	Requeue(ctx context.Context, jobID string, now time.Time) (*models.SyncJob, error)
}

// LedgerQuerier defines read operations over jobs, accounts and the ledger
type LedgerQuerier interface {
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error)
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
	GetAccount(ctx context.Context, id string) (*models.SyncAccount, error)
	AccountTransactions(ctx context.Context, accountID string, from, to time.Time, limit int) (*service.AccountLedger, error)
	AccountSnapshots(ctx context.Context, accountID string, from, to time.Time) ([]*models.DailyBalanceSnapshot, error)
	AccountHistory(ctx context.Context, accountID string, from, to time.Time) ([]storage.DailyNet, error)
}

// Auditor re-fetches a stored day and compares it with the ledger
type Auditor interface {
	ValidateDay(ctx context.Context, accountID string, day time.Time, now time.Time) (*service.ValidationResult, error)
}

// MirrorChecker compares the reporting mirror with the ledger
type MirrorChecker interface {
	CheckConsistency(ctx context.Context, accountID string, day time.Time, now time.Time) (*service.ConsistencyCheckResult, error)
}

// Services groups the dependencies of the server. Auditor and Mirror are optional.
type Services struct {
	Webhooks  WebhookHandler
	Backfill  BackfillRunner
	Reconcile Reconciler
	Jobs      JobRequeuer
	Query     LedgerQuerier
	Auditor   Auditor
	Mirror    MirrorChecker
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	validate   *validator.Validate
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AdminToken      string // empty disables the admin token check
	RequestsPerSec  int    // per-client limit on /admin and /api
	MaxWebhookBytes int64
	Clock           func() time.Time
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("server config is required")
	}
	if services.Webhooks == nil || services.Backfill == nil || services.Reconcile == nil ||
		services.Jobs == nil || services.Query == nil {
		return nil, fmt.Errorf("webhook, backfill, reconcile, jobs and query services are required")
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.MaxWebhookBytes <= 0 {
		config.MaxWebhookBytes = 1 << 20
	}
	if config.RequestsPerSec <= 0 {
		config.RequestsPerSec = 10
	}

	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		validate: validator.New(),
		config:   config,
	}

	s.setupRouter()

	return s, nil
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Processor webhooks are authenticated by signature, not by token or rate limit
	s.router.HandleFunc("/webhooks/processor", s.handleProcessorWebhook).Methods("POST")

	limiter := NewRateLimiter(s.config.RequestsPerSec)

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(RateLimitMiddleware(limiter))
	admin.Use(AdminAuthMiddleware(s.config.AdminToken))
	admin.HandleFunc("/sync", s.handleSync).Methods("GET", "POST")
	admin.HandleFunc("/reconcile", s.handleReconcile).Methods("POST")
	admin.HandleFunc("/jobs/{id}/requeue", s.handleRequeueJob).Methods("POST")
	admin.HandleFunc("/audit", s.handleAudit).Methods("POST")
	admin.HandleFunc("/mirror/check", s.handleMirrorCheck).Methods("POST")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	api.Use(AdminAuthMiddleware(s.config.AdminToken))
	api.Use(CompressionMiddleware)
	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{id}/transactions", s.handleAccountTransactions).Methods("GET")
	api.HandleFunc("/accounts/{id}/snapshots", s.handleAccountSnapshots).Methods("GET")
	api.HandleFunc("/accounts/{id}/history", s.handleAccountHistory).Methods("GET")
}

// Handler exposes the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "tip-ledger",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
