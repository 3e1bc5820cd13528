package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tip-ledger/internal/job"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/types"
	"github.com/tip-ledger/internal/worker"
)

// DefaultMaxBatches bounds how many batches a single Backfill call executes inline
const DefaultMaxBatches = 100

// BackfillService enqueues historical sync windows and optionally drains them inline
type BackfillService struct {
	orchestrator *job.Orchestrator
	worker       *worker.SyncWorker
	batchSize    int
	maxBatches   int
}

// NewBackfillService creates a new backfill service
func NewBackfillService(orchestrator *job.Orchestrator, w *worker.SyncWorker, batchSize int) *BackfillService {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &BackfillService{
		orchestrator: orchestrator,
		worker:       w,
		batchSize:    batchSize,
		maxBatches:   DefaultMaxBatches,
	}
}

// BackfillRequest selects the days and accounts to sync
type BackfillRequest struct {
	From  time.Time
	To    time.Time
	Class types.AccountClass
	Limit int
	Run   bool // execute the queued jobs before returning
}

// BackfillResult summarizes a backfill call
type BackfillResult struct {
	Days     []*job.EnqueueResult `json:"days"`
	Jobs     int                  `json:"jobs"`
	Ran      bool                 `json:"ran"`
	Executed int                  `json:"executed"`
	Failed   int                  `json:"failed"`
	// Pending is true when inline execution stopped before the queue was empty
	Pending bool `json:"pending,omitempty"`
}

// Backfill enqueues one job per account and day in [From, To].
// With Run set the worker drains the queue before the call returns.
func (s *BackfillService) Backfill(ctx context.Context, req BackfillRequest, now time.Time) (*BackfillResult, error) {
	if req.Class == "" {
		req.Class = types.ClassAll
	}

	days, err := s.orchestrator.EnqueueRange(ctx, req.From, req.To, req.Class, req.Limit, now)
	if err != nil {
		return nil, err
	}

	result := &BackfillResult{Days: days}
	for _, d := range days {
		result.Jobs += len(d.JobIDs)
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"from":     req.From.Format(types.DayLayout),
		"to":       req.To.Format(types.DayLayout),
		"accounts": string(req.Class),
		"jobs":     result.Jobs,
	})
	logger.Info("Backfill enqueued")

	if !req.Run || s.worker == nil {
		return result, nil
	}

	result.Ran = true
	for i := 0; ; i++ {
		if i == s.maxBatches {
			result.Pending = true
			break
		}
		batch, err := s.worker.RunBatch(ctx, now, s.batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to run backfill batch: %w", err)
		}
		result.Executed += batch.Done
		result.Failed += batch.Failed
		if batch.Claimed < s.batchSize {
			break
		}
	}

	logger.WithFields(map[string]interface{}{
		"executed": result.Executed,
		"failed":   result.Failed,
	}).Info("Backfill executed")
	return result, nil
}
