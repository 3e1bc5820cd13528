// Package job creates and maintains sync jobs. It never talks to the processor.
package job

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
)

// MaxRangeDays bounds a single EnqueueRange call
const MaxRangeDays = 366

// DefaultAccountLimit is used when a caller passes a non-positive limit
const DefaultAccountLimit = 1000

// Orchestrator turns account selections into queued sync jobs
type Orchestrator struct {
	accounts storage.AccountStore
	jobs     storage.JobStore
}

// NewOrchestrator creates a new job orchestrator
func NewOrchestrator(accounts storage.AccountStore, jobs storage.JobStore) *Orchestrator {
	return &Orchestrator{accounts: accounts, jobs: jobs}
}

// EnqueueResult describes the jobs created for one day
type EnqueueResult struct {
	Day    string   `json:"day"`
	FromTS int64    `json:"fromTs"`
	ToTS   int64    `json:"toTs"`
	JobIDs []string `json:"jobIds"`
}

// EnqueueDailyJobs inserts one queued sync job per selected active account for day's UTC window.
// Calling it again creates another set of jobs.
func (o *Orchestrator) EnqueueDailyJobs(ctx context.Context, day time.Time, class types.AccountClass, limit int, now time.Time) (*EnqueueResult, error) {
	if limit <= 0 {
		limit = DefaultAccountLimit
	}

	accounts, err := o.accounts.ListActive(ctx, class, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	from, to := types.DayWindow(day)
	result := &EnqueueResult{
		Day:    types.StartOfDay(day).Format(types.DayLayout),
		FromTS: from,
		ToTS:   to,
		JobIDs: make([]string, 0, len(accounts)),
	}
	if len(accounts) == 0 {
		return result, nil
	}

	jobs := make([]*models.SyncJob, 0, len(accounts))
	for _, account := range accounts {
		end := to
		jobs = append(jobs, models.NewSyncJob("", account.Ref(), from, &end))
	}

	if err := o.jobs.CreateBatch(ctx, jobs, now); err != nil {
		return nil, fmt.Errorf("failed to create jobs: %w", err)
	}
	for _, j := range jobs {
		result.JobIDs = append(result.JobIDs, j.ID)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"day":      result.Day,
		"accounts": string(class),
		"jobs":     len(jobs),
	}).Info("Enqueued daily sync jobs")

	return result, nil
}

// EnqueueRange enqueues daily jobs for every day in [from, to]
func (o *Orchestrator) EnqueueRange(ctx context.Context, from, to time.Time, class types.AccountClass, limit int, now time.Time) ([]*EnqueueResult, error) {
	days := types.DaysBetween(from, to)
	if len(days) == 0 {
		return nil, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	if len(days) > MaxRangeDays {
		return nil, apperrors.NewInvalidParameterError("to", fmt.Sprintf("range exceeds %d days", MaxRangeDays))
	}

	results := make([]*EnqueueResult, 0, len(days))
	for _, day := range days {
		res, err := o.EnqueueDailyJobs(ctx, day, class, limit, now)
		if err != nil {
			return results, fmt.Errorf("failed to enqueue %s: %w", day.Format(types.DayLayout), err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Requeue creates a fresh queued job for the account and window of a failed job.
// The failed job keeps its error status.
func (o *Orchestrator) Requeue(ctx context.Context, jobID string, now time.Time) (*models.SyncJob, error) {
	failed, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if failed.Status != types.JobStatusError {
		return nil, apperrors.NewConflictError(fmt.Sprintf("job %s is %s; only failed jobs can be requeued", jobID, failed.Status))
	}

	var to *int64
	if failed.ToTS != nil {
		end := *failed.ToTS
		to = &end
	}
	job := models.NewSyncJob("", failed.Ref(), failed.FromTS, to)
	if err := o.jobs.CreateBatch(ctx, []*models.SyncJob{job}, now); err != nil {
		return nil, fmt.Errorf("failed to requeue job %s: %w", jobID, err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":      job.ID,
		"requeuedOf": jobID,
		"account":    failed.Ref().String(),
	}).Info("Requeued failed sync job")

	return job, nil
}

// SweepStale returns jobs stuck in running for longer than threshold to the queue
func (o *Orchestrator) SweepStale(ctx context.Context, now time.Time, threshold time.Duration) (int64, error) {
	if threshold <= 0 {
		return 0, apperrors.NewInvalidParameterError("threshold", "must be positive")
	}

	n, err := o.jobs.RequeueStale(ctx, now.Add(-threshold), now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	if n > 0 {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"requeued":  n,
			"threshold": threshold.String(),
		}).Warn("Requeued stale running jobs")
	}
	return n, nil
}
