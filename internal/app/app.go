// Package app wires configuration, storage and services into the components
// shared by the server, worker and CLI binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tip-ledger/internal/adapter"
	"github.com/tip-ledger/internal/circuitbreaker"
	"github.com/tip-ledger/internal/config"
	"github.com/tip-ledger/internal/job"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/ratelimit"
	"github.com/tip-ledger/internal/retry"
	"github.com/tip-ledger/internal/service"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
	"github.com/tip-ledger/internal/worker"
)

// App holds the connections, repositories and services of one process
type App struct {
	Config *config.Config
	Logger *logging.Logger

	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB // nil when the mirror is disabled

	Accounts  *storage.AccountRepository
	Jobs      *storage.SyncJobRepository
	Ledger    *storage.LedgerRepository
	Snapshots *storage.BalanceSnapshotRepository
	Mirror    *storage.LedgerMirrorRepository // nil when the mirror is disabled

	Budget    *ratelimit.RequestBudget
	Processor *adapter.StripeClient

	Orchestrator *job.Orchestrator
	Worker       *worker.SyncWorker
	Reconciler   *service.ReconciliationService
	Backfill     *service.BackfillService
	Query        *service.QueryService
	Auditor      *service.ImmutabilityValidator
	Consistency  *service.ConsistencyChecker // nil when the mirror is disabled
}

// LoadConfig loads and validates configuration and initializes the global logger
func LoadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	return cfg, logger, nil
}

// New connects to every configured backend and builds the services.
// The caller owns the returned App and must Close it.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	logger.Info("Connecting to databases...")

	var err error
	a.Postgres, err = storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	a.Redis, err = storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if cfg.Database.ClickHouse.Enabled {
		a.ClickHouse, err = storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.Mirror = storage.NewLedgerMirrorRepository(a.ClickHouse)
	} else {
		logger.Info("ClickHouse mirror disabled")
	}

	logger.Info("Database connections established")

	a.Accounts = storage.NewAccountRepository(a.Postgres)
	a.Jobs = storage.NewSyncJobRepository(a.Postgres)
	a.Ledger = storage.NewLedgerRepository(a.Postgres)
	a.Snapshots = storage.NewBalanceSnapshotRepository(a.Postgres)

	if err := a.buildProcessor(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildServices(); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("Services initialized")
	return a, nil
}

func (a *App) buildProcessor() error {
	cfg := a.Config

	budget, err := ratelimit.NewRequestBudget(&ratelimit.BudgetConfig{
		Redis:             a.Redis.Client(),
		TotalBudget:       cfg.RateLimit.ProcessorBudget,
		HighPriorityShare: cfg.RateLimit.HighPriorityShare,
		WindowSize:        cfg.RateLimit.BudgetWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create processor request budget: %w", err)
	}
	a.Budget = budget

	pacer, err := ratelimit.NewPacer(&ratelimit.PacerConfig{Budget: budget})
	if err != nil {
		return fmt.Errorf("failed to create processor pacer: %w", err)
	}

	a.Processor, err = adapter.NewStripeClient(adapter.StripeConfig{
		APIKey:            cfg.Processor.APIKey,
		BaseURL:           cfg.Processor.BaseURL,
		Timeout:           cfg.Processor.Timeout,
		RequestsPerSecond: cfg.Processor.RequestsPerSecond,
		PageSize:          cfg.Processor.PageSize,
		Pacer:             pacer,
		Breaker:           circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(adapter.ProviderName)),
	})
	if err != nil {
		return fmt.Errorf("failed to create processor client: %w", err)
	}

	a.Logger.WithFields(map[string]interface{}{
		"base_url": cfg.Processor.BaseURL,
		"rps":      cfg.Processor.RequestsPerSecond,
		"budget":   cfg.RateLimit.ProcessorBudget,
	}).Info("Processor client initialized")
	return nil
}

func (a *App) buildServices() error {
	cfg := a.Config
	retryConfig := a.RetryConfig()

	workerConfig := &worker.SyncWorkerConfig{
		Accounts:    a.Accounts,
		Jobs:        a.Jobs,
		Ledger:      a.Ledger,
		Processor:   a.Processor,
		RetryConfig: retryConfig,
		LeaseTTL:    cfg.Sync.LeaseTTL,
		Concurrency: cfg.Sync.Concurrency,
		PageSize:    cfg.Processor.PageSize,
	}
	var history service.HistoryReader
	if a.Mirror != nil {
		workerConfig.Mirror = a.Mirror
		history = a.Mirror
	}

	var err error
	a.Worker, err = worker.NewSyncWorker(workerConfig)
	if err != nil {
		return fmt.Errorf("failed to create sync worker: %w", err)
	}

	a.Orchestrator = job.NewOrchestrator(a.Accounts, a.Jobs)
	a.Reconciler = service.NewReconciliationService(a.Accounts, a.Ledger, a.Snapshots, a.Processor, retryConfig)
	a.Backfill = service.NewBackfillService(a.Orchestrator, a.Worker, cfg.Sync.BatchSize)
	a.Query = service.NewQueryService(a.Accounts, a.Jobs, a.Ledger, a.Snapshots, history)
	a.Auditor = service.NewImmutabilityValidator(a.Accounts, a.Ledger, a.Processor, retryConfig)
	if a.Mirror != nil {
		a.Consistency = service.NewConsistencyChecker(a.Accounts, a.Ledger, a.Mirror)
	}
	return nil
}

// RetryConfig returns the per-request retry policy for processor calls
func (a *App) RetryConfig() *retry.RetryConfig {
	rc := retry.DefaultRetryConfig()
	if a.Config.Processor.MaxRetries >= 0 {
		rc.MaxAttempts = a.Config.Processor.MaxRetries + 1
	}
	return rc
}

// AccountClass returns the configured account selection for scheduled work
func (a *App) AccountClass() types.AccountClass {
	class, err := types.ParseAccountClass(a.Config.Sync.AccountClass)
	if err != nil {
		return types.ClassAll
	}
	return class
}

// NewWebhookService builds the webhook ingestor. It needs the webhook secret.
func (a *App) NewWebhookService() (*service.WebhookService, error) {
	return service.NewWebhookService(&service.WebhookServiceConfig{
		Secret:     a.Config.Webhook.Secret,
		Tolerance:  a.Config.Webhook.Tolerance,
		DedupeTTL:  a.Config.Webhook.DedupeTTL,
		Deduper:    a.Redis,
		Accounts:   a.Accounts,
		Jobs:       a.Jobs,
		Worker:     a.Worker,
		Reconciler: a.Reconciler,
	})
}

// NewScheduler builds the scheduler loop. Reconciliation runs only when enabled in config.
func (a *App) NewScheduler() (*worker.Scheduler, error) {
	cfg := a.Config
	class := a.AccountClass()

	var reconcile worker.ReconcileFunc
	if cfg.Reconcile.Enabled {
		reconcile = func(ctx context.Context, day time.Time, now time.Time) error {
			summary, err := a.Reconciler.ReconcileAll(ctx, day, class, cfg.Sync.AccountLimit, now)
			if err != nil {
				return err
			}
			if summary.Unmatched > 0 || len(summary.Failures) > 0 {
				logging.FromContext(ctx).WithFields(map[string]interface{}{
					"day":       summary.Day,
					"unmatched": summary.Unmatched,
					"failures":  len(summary.Failures),
				}).Warn("Reconciliation found discrepancies")
			}
			return nil
		}
	}

	return worker.NewScheduler(a.Orchestrator, a.Worker, reconcile, worker.SchedulerConfig{
		PollInterval:      cfg.Sync.PollInterval,
		EnqueueInterval:   cfg.Sync.EnqueueInterval,
		ReconcileInterval: cfg.Reconcile.Interval,
		StaleThreshold:    cfg.Sync.StaleThreshold,
		BatchSize:         cfg.Sync.BatchSize,
		AccountClass:      class,
		AccountLimit:      cfg.Sync.AccountLimit,
	})
}

// Close releases every open connection
func (a *App) Close() {
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close ClickHouse connection")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close Redis connection")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
