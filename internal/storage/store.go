package storage

import (
	"context"
	"time"

	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/types"
)

// AccountStore is the account registry: identity, cursor and per-account lease.
type AccountStore interface {
	Register(ctx context.Context, account *models.SyncAccount, now time.Time) error
	GetByID(ctx context.Context, id string) (*models.SyncAccount, error)
	FindByRef(ctx context.Context, ref types.AccountRef) (*models.SyncAccount, error)
	// ResolveInternalAccount maps a connected processor account to its single owner.
	// Returns errors wrapping ErrAccountNotFound or ErrAmbiguousAccount.
	ResolveInternalAccount(ctx context.Context, processorAccountID string) (*models.SyncAccount, error)
	ListActive(ctx context.Context, class types.AccountClass, limit int) ([]*models.SyncAccount, error)
	SetActive(ctx context.Context, id string, active bool, now time.Time) error
	// AcquireLease returns a fresh lease token, or an error wrapping ErrLeaseHeld.
	AcquireLease(ctx context.Context, accountID string, ttl time.Duration, now time.Time) (string, error)
	// AdvanceCursor writes the cursor only while leaseToken is still held and unexpired.
	AdvanceCursor(ctx context.Context, accountID, leaseToken string, cursor models.Cursor, now time.Time) error
	ReleaseLease(ctx context.Context, accountID, leaseToken string) error
}

// JobStore persists sync jobs and their status transitions.
type JobStore interface {
	CreateBatch(ctx context.Context, jobs []*models.SyncJob, now time.Time) error
	GetByID(ctx context.Context, id string) (*models.SyncJob, error)
	// ClaimQueued moves up to limit queued jobs to running, oldest first.
	ClaimQueued(ctx context.Context, limit int, now time.Time) ([]*models.SyncJob, error)
	// ClaimByID moves one specific queued job to running.
	ClaimByID(ctx context.Context, id string, now time.Time) (*models.SyncJob, error)
	MarkDone(ctx context.Context, id string, now time.Time) error
	// MarkError records the failure and increments attempts.
	MarkError(ctx context.Context, id string, message string, now time.Time) error
	// RequeueStale returns running jobs claimed before cutoff to the queue.
	RequeueStale(ctx context.Context, cutoff time.Time, now time.Time) (int64, error)
	List(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error)
}

// DefaultListLimit bounds a ledger listing that names no limit
const DefaultListLimit = 1000

// LedgerStore persists balance transactions and compensating adjustments.
type LedgerStore interface {
	// UpsertTransactions inserts new rows and refreshes annotations of existing ones.
	UpsertTransactions(ctx context.Context, txs []*models.LedgerTransaction, now time.Time) error
	GetTransaction(ctx context.Context, id string) (*models.LedgerTransaction, error)
	// ListForAccount returns up to limit rows with created_ts in [from, to], oldest first.
	// A non-positive limit means DefaultListLimit.
	ListForAccount(ctx context.Context, accountID string, from, to int64, limit int) ([]*models.LedgerTransaction, error)
	// ListAfter is ListForAccount resumed strictly after the (created_ts, id) position after.
	ListAfter(ctx context.Context, accountID string, from, to int64, after models.Cursor, limit int) ([]*models.LedgerTransaction, error)
	// ListReversals returns every transfer reversal row with created_ts in [from, to], oldest first.
	ListReversals(ctx context.Context, accountID string, from, to int64) ([]*models.LedgerTransaction, error)
	// SumNet totals net amounts in currency with created_ts in [from, to].
	SumNet(ctx context.Context, accountID, currency string, from, to int64) (int64, int, error)
	UpsertAdjustment(ctx context.Context, adj *models.LedgerAdjustment, now time.Time) error
	ListAdjustments(ctx context.Context, accountID string, from, to int64) ([]*models.LedgerAdjustment, error)
}

// SnapshotStore persists daily reconciliation snapshots.
type SnapshotStore interface {
	// Get returns nil without error when no snapshot exists.
	Get(ctx context.Context, accountID string, day time.Time) (*models.DailyBalanceSnapshot, error)
	// Upsert creates the row or overwrites everything except the opening balance.
	Upsert(ctx context.Context, snap *models.DailyBalanceSnapshot, now time.Time) error
	List(ctx context.Context, accountID string, from, to time.Time) ([]*models.DailyBalanceSnapshot, error)
	ListUnmatched(ctx context.Context, day time.Time) ([]*models.DailyBalanceSnapshot, error)
}

// LedgerMirror copies persisted rows to an analytics store. Failures never affect the ledger.
type LedgerMirror interface {
	MirrorTransactions(ctx context.Context, txs []*models.LedgerTransaction) error
}

// EventDeduper remembers processed webhook event ids.
type EventDeduper interface {
	// MarkSeen returns true the first time eventID is seen within ttl.
	MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	// Forget drops a recorded id so a redelivery is processed again.
	Forget(ctx context.Context, eventID string) error
}
