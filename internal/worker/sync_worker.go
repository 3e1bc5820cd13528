package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tip-ledger/internal/adapter"
	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/retry"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
)

// SyncWorker executes sync jobs: fetch an account's new balance transactions,
// persist them and advance the account cursor
type SyncWorker struct {
	accounts    storage.AccountStore
	jobs        storage.JobStore
	ledger      storage.LedgerStore
	mirror      storage.LedgerMirror
	processor   adapter.Processor
	retryConfig *retry.RetryConfig
	leaseTTL    time.Duration
	concurrency int
	pageSize    int
	clock       func() time.Time
}

// SyncWorkerConfig holds configuration for a sync worker
type SyncWorkerConfig struct {
	Accounts    storage.AccountStore
	Jobs        storage.JobStore
	Ledger      storage.LedgerStore
	Mirror      storage.LedgerMirror // optional
	Processor   adapter.Processor
	RetryConfig *retry.RetryConfig // per page fetch; default retry.DefaultRetryConfig
	LeaseTTL    time.Duration      // default 10m
	Concurrency int                // accounts processed in parallel per batch; default 1
	PageSize    int
	// Clock supplies the time for lease checks and status writes; default time.Now
	Clock func() time.Time
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("account store cannot be nil")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job store cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger store cannot be nil")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}

	retryConfig := cfg.RetryConfig
	if retryConfig == nil {
		retryConfig = retry.DefaultRetryConfig()
	}
	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 10 * time.Minute
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &SyncWorker{
		accounts:    cfg.Accounts,
		jobs:        cfg.Jobs,
		ledger:      cfg.Ledger,
		mirror:      cfg.Mirror,
		processor:   cfg.Processor,
		retryConfig: retryConfig,
		leaseTTL:    leaseTTL,
		concurrency: concurrency,
		pageSize:    cfg.PageSize,
		clock:       clock,
	}, nil
}

// JobOutcome reports what one job execution did
type JobOutcome struct {
	JobID     string          `json:"jobId"`
	Account   string          `json:"account"`
	Status    types.JobStatus `json:"status"`
	FromTS    int64           `json:"fromTs"`
	ToTS      int64           `json:"toTs"`
	Fetched   int             `json:"fetched"`
	Persisted int             `json:"persisted"`
	Skipped   int             `json:"skipped"`
	Cursor    *models.Cursor  `json:"cursor,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// BatchResult summarizes a RunBatch call
type BatchResult struct {
	Claimed  int           `json:"claimed"`
	Done     int           `json:"done"`
	Failed   int           `json:"failed"`
	Outcomes []*JobOutcome `json:"outcomes"`
}

// RunBatch claims up to limit queued jobs and executes them.
// Jobs for one account run in claim order; different accounts run in parallel up to the
// configured concurrency. A failed job never stops the others.
func (w *SyncWorker) RunBatch(ctx context.Context, now time.Time, limit int) (*BatchResult, error) {
	if limit <= 0 {
		return nil, apperrors.NewInvalidParameterError("limit", "must be positive")
	}

	claimed, err := w.jobs.ClaimQueued(ctx, limit, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	result := &BatchResult{Claimed: len(claimed), Outcomes: make([]*JobOutcome, len(claimed))}
	if len(claimed) == 0 {
		return result, nil
	}

	// group by target account, keeping claim order inside each group
	groups := make(map[string][]int)
	var order []string
	for i, job := range claimed {
		key := job.Ref().String()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, key := range order {
		indexes := groups[key]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			for _, i := range indexes {
				result.Outcomes[i] = w.ExecuteJob(ctx, claimed[i], now)
			}
		}()
	}
	wg.Wait()

	for _, o := range result.Outcomes {
		if o.Status == types.JobStatusDone {
			result.Done++
		} else {
			result.Failed++
		}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"claimed": result.Claimed,
		"done":    result.Done,
		"failed":  result.Failed,
	}).Info("Sync batch finished")

	return result, nil
}

// RunJob claims one queued job by id and executes it
func (w *SyncWorker) RunJob(ctx context.Context, jobID string, now time.Time) (*JobOutcome, error) {
	job, err := w.jobs.ClaimByID(ctx, jobID, now)
	if err != nil {
		return nil, err
	}
	return w.ExecuteJob(ctx, job, now), nil
}

// ExecuteJob runs a claimed job to completion and records done or error on it.
// now bounds an open-ended window; the worker clock drives lease checks.
func (w *SyncWorker) ExecuteJob(ctx context.Context, job *models.SyncJob, now time.Time) *JobOutcome {
	ref := job.Ref()
	logger := logging.FromContext(ctx).WithJob(job.ID, ref.String())
	ctx = logging.WithLogger(ctx, logger)

	outcome := &JobOutcome{JobID: job.ID, Account: ref.String()}

	err := w.sync(ctx, job, now, outcome)
	finishedAt := w.clock()
	// status writes must land even when the caller gave up
	writeCtx := context.WithoutCancel(ctx)

	if err != nil {
		outcome.Status = types.JobStatusError
		outcome.Error = err.Error()
		outcome.Cursor = nil
		logger.WithError(err).Warn("Sync job failed")
		if markErr := w.jobs.MarkError(writeCtx, job.ID, err.Error(), finishedAt); markErr != nil {
			logger.WithError(markErr).Error("Failed to record sync job error")
		}
		return outcome
	}

	if markErr := w.jobs.MarkDone(writeCtx, job.ID, finishedAt); markErr != nil {
		logger.WithError(markErr).Error("Failed to mark sync job done")
		outcome.Status = types.JobStatusError
		outcome.Error = markErr.Error()
		return outcome
	}

	outcome.Status = types.JobStatusDone
	logger.WithFields(map[string]interface{}{
		"fetched":   outcome.Fetched,
		"persisted": outcome.Persisted,
		"skipped":   outcome.Skipped,
	}).Info("Sync job done")
	return outcome
}

// sync performs the fetch-persist-advance cycle under the account lease
func (w *SyncWorker) sync(ctx context.Context, job *models.SyncJob, now time.Time, outcome *JobOutcome) error {
	logger := logging.FromContext(ctx)
	ref := job.Ref()

	account, err := w.accounts.FindByRef(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to resolve job account: %w", err)
	}

	token, err := w.accounts.AcquireLease(ctx, account.ID, w.leaseTTL, w.clock())
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	defer func() {
		if err := w.accounts.ReleaseLease(context.WithoutCancel(ctx), account.ID, token); err != nil {
			logger.WithError(err).Warn("Failed to release account lease")
		}
	}()

	// reload under the lease so the cursor is not stale
	account, err = w.accounts.GetByID(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	cursor := account.Cursor()

	from, to := fetchWindow(cursor, job, now)
	outcome.FromTS, outcome.ToTS = from, to
	if from > to {
		logger.WithFields(map[string]interface{}{
			"cursorTs": cursor.TS,
			"from":     from,
			"to":       to,
		}).Debug("Sync window empty")
		return nil
	}

	txs, err := adapter.DrainWindow(ctx, w.processor, adapter.ListRequest{
		Account: ref,
		From:    from,
		To:      to,
		Limit:   w.pageSize,
	}, w.retryConfig)
	if err != nil {
		return fmt.Errorf("failed to fetch transactions: %w", err)
	}
	outcome.Fetched = len(txs)
	if len(txs) == 0 {
		return nil
	}

	rows, skipped, err := w.buildRows(ctx, account, ref, txs)
	if err != nil {
		return err
	}
	outcome.Skipped = skipped

	if len(rows) > 0 {
		if err := w.ledger.UpsertTransactions(ctx, rows, w.clock()); err != nil {
			return fmt.Errorf("failed to persist transactions: %w", err)
		}
		outcome.Persisted = len(rows)
		w.mirrorRows(ctx, rows)
	}

	next := maxCursor(txs)
	if err := w.accounts.AdvanceCursor(ctx, account.ID, token, next, w.clock()); err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	outcome.Cursor = &next
	return nil
}

// buildRows maps fetched transactions to ledger rows owned by internal accounts.
// Transactions whose owner cannot be resolved are skipped.
func (w *SyncWorker) buildRows(ctx context.Context, account *models.SyncAccount, ref types.AccountRef, txs []adapter.BalanceTransaction) ([]*models.LedgerTransaction, int, error) {
	logger := logging.FromContext(ctx)

	owners := make(map[string]*models.SyncAccount)
	resolve := func() (*models.SyncAccount, error) {
		if ref.Kind == types.KindPlatform {
			return account, nil
		}
		if owner, ok := owners[ref.ProcessorAccountID]; ok {
			return owner, nil
		}
		owner, err := w.accounts.ResolveInternalAccount(ctx, ref.ProcessorAccountID)
		if err != nil {
			return nil, err
		}
		owners[ref.ProcessorAccountID] = owner
		return owner, nil
	}

	rows := make([]*models.LedgerTransaction, 0, len(txs))
	skipped := 0
	for i := range txs {
		tx := &txs[i]
		owner, err := resolve()
		if err != nil {
			if apperrors.Is(err, apperrors.ErrAccountNotFound) || apperrors.Is(err, apperrors.ErrAmbiguousAccount) {
				skipped++
				logger.WithFields(map[string]interface{}{
					"transactionId": tx.ID,
					"reason":        err.Error(),
				}).Warn("Skipping transaction without a single owner")
				continue
			}
			return nil, skipped, fmt.Errorf("failed to resolve owner of %s: %w", tx.ID, err)
		}
		rows = append(rows, toLedgerRow(tx, owner, ref))
	}
	return rows, skipped, nil
}

func (w *SyncWorker) mirrorRows(ctx context.Context, rows []*models.LedgerTransaction) {
	if w.mirror == nil {
		return
	}
	if err := w.mirror.MirrorTransactions(ctx, rows); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to mirror ledger rows")
	}
}

// fetchWindow returns the inclusive window a job should fetch given the account cursor
func fetchWindow(cursor models.Cursor, job *models.SyncJob, now time.Time) (from, to int64) {
	from = cursor.TS + 1
	if job.FromTS > from {
		from = job.FromTS
	}
	to = now.Unix()
	if job.ToTS != nil {
		to = *job.ToTS
	}
	return from, to
}

// maxCursor returns the newest (timestamp, id) among txs
func maxCursor(txs []adapter.BalanceTransaction) models.Cursor {
	var c models.Cursor
	for _, tx := range txs {
		candidate := models.Cursor{TS: tx.Created, TxID: tx.ID}
		if candidate.After(c) {
			c = candidate
		}
	}
	return c
}

func toLedgerRow(tx *adapter.BalanceTransaction, owner *models.SyncAccount, ref types.AccountRef) *models.LedgerTransaction {
	row := &models.LedgerTransaction{
		ID:                tx.ID,
		AccountID:         owner.ID,
		AccountKind:       owner.Kind,
		Type:              tx.Type,
		ReportingCategory: tx.ReportingCategory,
		Currency:          tx.Currency,
		Amount:            tx.Amount,
		Net:               tx.Net,
		Fee:               tx.Fee,
		CreatedTS:         tx.Created,
		Raw:               tx.Raw,
	}
	if ref.ProcessorAccountID != "" {
		pid := ref.ProcessorAccountID
		row.ProcessorAccountID = &pid
	}
	if tx.SourceID != "" {
		src := tx.SourceID
		row.SourceID = &src
	}
	if tx.Description != "" {
		desc := tx.Description
		row.Description = &desc
	}
	if tx.ReportingCategory == types.CategoryTransferReversal && tx.SourceTransferID != "" {
		transfer := tx.SourceTransferID
		row.RelatedTransferID = &transfer
	}
	return row
}
