package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/types"
)

const jobColumns = `
	id, job_type, account_kind, processor_account_id, from_ts, to_ts,
	status, attempts, last_error, running_since, finished_at, created_at, updated_at`

// SyncJobRepository handles sync job persistence
type SyncJobRepository struct {
	db *PostgresDB
}

// NewSyncJobRepository creates a new sync job repository
func NewSyncJobRepository(db *PostgresDB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

func scanJob(row pgx.Row) (*models.SyncJob, error) {
	var j models.SyncJob
	err := row.Scan(
		&j.ID,
		&j.JobType,
		&j.AccountKind,
		&j.ProcessorAccountID,
		&j.FromTS,
		&j.ToTS,
		&j.Status,
		&j.Attempts,
		&j.LastError,
		&j.RunningSince,
		&j.FinishedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.SyncJob, error) {
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CreateBatch inserts queued jobs in a single round trip
func (r *SyncJobRepository) CreateBatch(ctx context.Context, jobs []*models.SyncJob, now time.Time) error {
	if len(jobs) == 0 {
		return nil
	}

	query := `
		INSERT INTO sync_jobs (
			id, job_type, account_kind, processor_account_id, from_ts, to_ts,
			status, attempts, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
	`

	batch := &pgx.Batch{}
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		if job.JobType == "" {
			job.JobType = types.JobTypeSync
		}
		job.Status = types.JobStatusQueued
		job.CreatedAt = now
		job.UpdatedAt = now
		batch.Queue(query, job.ID, job.JobType, job.AccountKind, job.ProcessorAccountID,
			job.FromTS, job.ToTS, job.Status, now)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()

	for range jobs {
		if _, err := results.Exec(); err != nil {
			return apperrors.NewDatabaseError("create sync jobs", err)
		}
	}
	return nil
}

// GetByID retrieves a job by id
func (r *SyncJobRepository) GetByID(ctx context.Context, id string) (*models.SyncJob, error) {
	job, err := scanJob(r.db.Pool().QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewJobNotFoundError(id)
		}
		return nil, apperrors.NewDatabaseError("get sync job", err)
	}
	return job, nil
}

// ClaimQueued atomically moves the oldest queued jobs to running.
// SKIP LOCKED lets concurrent workers claim disjoint sets.
func (r *SyncJobRepository) ClaimQueued(ctx context.Context, limit int, now time.Time) ([]*models.SyncJob, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'running', running_since = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = 'queued'
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.db.Pool().Query(ctx, query, limit, now)
	if err != nil {
		return nil, apperrors.NewDatabaseError("claim sync jobs", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, apperrors.NewDatabaseError("claim sync jobs", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// ClaimByID moves one queued job to running
func (r *SyncJobRepository) ClaimByID(ctx context.Context, id string, now time.Time) (*models.SyncJob, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'running', running_since = $2, updated_at = $2
		WHERE id = $1 AND status = 'queued'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, apperrors.NewConflictError(fmt.Sprintf("job %s is not queued", id))
		}
		return nil, apperrors.NewDatabaseError("claim sync job", err)
	}
	return job, nil
}

// MarkDone completes a running job
func (r *SyncJobRepository) MarkDone(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE sync_jobs
		SET status = 'done', last_error = NULL, finished_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'running'
	`, id, now)
	if err != nil {
		return apperrors.NewDatabaseError("mark job done", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewConflictError(fmt.Sprintf("job %s is not running", id))
	}
	return nil
}

// MarkError fails a running job, recording the message and incrementing attempts
func (r *SyncJobRepository) MarkError(ctx context.Context, id string, message string, now time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE sync_jobs
		SET status = 'error', last_error = $2, attempts = attempts + 1, finished_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, message, now)
	if err != nil {
		return apperrors.NewDatabaseError("mark job error", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewConflictError(fmt.Sprintf("job %s is not running", id))
	}
	return nil
}

// RequeueStale puts back jobs stuck in running since before cutoff
func (r *SyncJobRepository) RequeueStale(ctx context.Context, cutoff time.Time, now time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE sync_jobs
		SET status = 'queued',
			attempts = attempts + 1,
			last_error = 'requeued after running since ' || to_char(running_since AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'),
			running_since = NULL,
			updated_at = $2
		WHERE status = 'running' AND running_since < $1
	`, cutoff, now)
	if err != nil {
		return 0, apperrors.NewDatabaseError("requeue stale jobs", err)
	}
	return tag.RowsAffected(), nil
}

// List returns jobs matching filter, newest first
func (r *SyncJobRepository) List(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + `
		FROM sync_jobs
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR account_kind = $2)
			AND ($3 = '' OR processor_account_id = $3)
		ORDER BY created_at DESC, id
		LIMIT $4`

	rows, err := r.db.Pool().Query(ctx, query,
		string(filter.Status), string(filter.AccountKind), filter.ProcessorAccountID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list sync jobs", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list sync jobs", err)
	}
	return jobs, nil
}
