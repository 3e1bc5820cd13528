package models

import (
	"time"

	"github.com/tip-ledger/internal/types"
)

// SyncJob is a unit of work pulling one account's transactions for a time window.
// The target is a denormalized (kind, processor account id) key, not a foreign key.
type SyncJob struct {
	ID                 string            `json:"id" db:"id"`
	JobType            types.JobType     `json:"jobType" db:"job_type"`
	AccountKind        types.AccountKind `json:"accountKind" db:"account_kind"`
	ProcessorAccountID *string           `json:"processorAccountId,omitempty" db:"processor_account_id"`
	FromTS             int64             `json:"fromTs" db:"from_ts"`
	ToTS               *int64            `json:"toTs,omitempty" db:"to_ts"` // nil means "now" at execution time
	Status             types.JobStatus   `json:"status" db:"status"`
	Attempts           int               `json:"attempts" db:"attempts"`
	LastError          *string           `json:"lastError,omitempty" db:"last_error"`
	RunningSince       *time.Time        `json:"runningSince,omitempty" db:"running_since"`
	FinishedAt         *time.Time        `json:"finishedAt,omitempty" db:"finished_at"`
	CreatedAt          time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time         `json:"updatedAt" db:"updated_at"`
}

// Ref returns the tagged account reference targeted by the job
func (j *SyncJob) Ref() types.AccountRef {
	if j.AccountKind == types.KindPlatform || j.ProcessorAccountID == nil {
		return types.AccountRef{Kind: j.AccountKind}
	}
	return types.ConnectedRef(j.AccountKind, *j.ProcessorAccountID)
}

// NewSyncJob builds a queued sync job for ref over [from, to]
func NewSyncJob(id string, ref types.AccountRef, from int64, to *int64) *SyncJob {
	job := &SyncJob{
		ID:          id,
		JobType:     types.JobTypeSync,
		AccountKind: ref.Kind,
		FromTS:      from,
		ToTS:        to,
		Status:      types.JobStatusQueued,
	}
	if ref.ProcessorAccountID != "" {
		pid := ref.ProcessorAccountID
		job.ProcessorAccountID = &pid
	}
	return job
}

// JobFilter narrows job listings
type JobFilter struct {
	Status             types.JobStatus
	AccountKind        types.AccountKind
	ProcessorAccountID string
	Limit              int
}
