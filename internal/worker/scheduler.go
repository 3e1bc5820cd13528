package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tip-ledger/internal/job"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/types"
)

// ReconcileFunc reconciles every selected account for day
type ReconcileFunc func(ctx context.Context, day time.Time, now time.Time) error

// Scheduler drives the periodic work of a worker process: enqueue daily jobs,
// execute queued jobs, sweep stale ones and reconcile
type Scheduler struct {
	orchestrator *job.Orchestrator
	worker       *SyncWorker
	reconcile    ReconcileFunc
	cfg          SchedulerConfig

	mu            sync.Mutex
	running       bool
	lastDay       time.Time
	lastEnqueue   time.Time
	lastReconcile time.Time
	lastTick      time.Time
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	PollInterval      time.Duration
	EnqueueInterval   time.Duration
	ReconcileInterval time.Duration // zero disables intraday reconciliation
	StaleThreshold    time.Duration
	BatchSize         int
	MaxBatchesPerTick int
	AccountClass      types.AccountClass
	AccountLimit      int
}

// TickResult reports what one scheduler tick did
type TickResult struct {
	Swept        int64    `json:"swept"`
	EnqueuedDays []string `json:"enqueuedDays"`
	Executed     int      `json:"executed"`
	Failed       int      `json:"failed"`
	Reconciled   []string `json:"reconciled"`
}

// NewScheduler creates a new scheduler. reconcile may be nil.
func NewScheduler(orchestrator *job.Orchestrator, worker *SyncWorker, reconcile ReconcileFunc, cfg SchedulerConfig) (*Scheduler, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if worker == nil {
		return nil, fmt.Errorf("sync worker cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.EnqueueInterval <= 0 {
		cfg.EnqueueInterval = time.Hour
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxBatchesPerTick <= 0 {
		cfg.MaxBatchesPerTick = 20
	}
	if cfg.AccountClass == "" {
		cfg.AccountClass = types.ClassAll
	}

	return &Scheduler{
		orchestrator: orchestrator,
		worker:       worker,
		reconcile:    reconcile,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start runs a tick immediately and then every poll interval until Stop or ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"pollInterval":    s.cfg.PollInterval.String(),
		"enqueueInterval": s.cfg.EnqueueInterval.String(),
		"accounts":        string(s.cfg.AccountClass),
	}).Info("Starting sync scheduler")

	go s.loop(ctx)
	return nil
}

// Stop signals the loop and waits for the current tick to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		logging.FromContext(ctx).Info("Sync scheduler stopped gracefully")
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// LastTick returns when the last tick started
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)
	logger := logging.FromContext(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	if _, err := s.Tick(ctx, time.Now()); err != nil {
		logger.WithError(err).Warn("Scheduler tick failed")
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx, time.Now()); err != nil {
				logger.WithError(err).Warn("Scheduler tick failed")
			}
		}
	}
}

// Tick performs one round of scheduled work as of now.
// When now enters a new UTC day the day that just ended is enqueued once more so late
// rows reach the ledger. Only today is reconciled; a closed day keeps the closing of its
// last intraday pass.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (*TickResult, error) {
	logger := logging.FromContext(ctx)
	result := &TickResult{}
	today := types.StartOfDay(now)

	s.mu.Lock()
	s.lastTick = now
	previous := s.lastDay
	dayChanged := !previous.IsZero() && today.After(previous)
	enqueueDue := previous.IsZero() || dayChanged || now.Sub(s.lastEnqueue) >= s.cfg.EnqueueInterval
	reconcileDue := s.reconcile != nil && s.cfg.ReconcileInterval > 0 &&
		(s.lastReconcile.IsZero() || now.Sub(s.lastReconcile) >= s.cfg.ReconcileInterval)
	s.mu.Unlock()

	swept, err := s.orchestrator.SweepStale(ctx, now, s.cfg.StaleThreshold)
	if err != nil {
		logger.WithError(err).Warn("Stale job sweep failed")
	}
	result.Swept = swept

	if enqueueDue {
		days := []time.Time{today}
		if dayChanged {
			days = []time.Time{previous, today}
		}
		for _, day := range days {
			res, err := s.orchestrator.EnqueueDailyJobs(ctx, day, s.cfg.AccountClass, s.cfg.AccountLimit, now)
			if err != nil {
				return result, fmt.Errorf("failed to enqueue %s: %w", day.Format(types.DayLayout), err)
			}
			result.EnqueuedDays = append(result.EnqueuedDays, res.Day)
		}
		s.mu.Lock()
		s.lastDay = today
		s.lastEnqueue = now
		s.mu.Unlock()
	}

	for i := 0; i < s.cfg.MaxBatchesPerTick; i++ {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		batch, err := s.worker.RunBatch(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to run sync batch: %w", err)
		}
		result.Executed += batch.Done
		result.Failed += batch.Failed
		if batch.Claimed < s.cfg.BatchSize {
			break
		}
	}

	if s.reconcile == nil {
		return result, nil
	}

	if !reconcileDue {
		return result, nil
	}
	if err := s.reconcile(ctx, today, now); err != nil {
		logger.WithError(err).WithField("day", today.Format(types.DayLayout)).Warn("Scheduled reconciliation failed")
	} else {
		result.Reconciled = append(result.Reconciled, today.Format(types.DayLayout))
	}
	s.mu.Lock()
	s.lastReconcile = now
	s.mu.Unlock()

	return result, nil
}
