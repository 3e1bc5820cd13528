// Package testutil provides in-memory implementations of the storage interfaces for package tests.
// They mirror the conditional-update semantics of the Postgres repositories.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
)

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AccountStore is an in-memory account registry
type AccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.SyncAccount
	order    []string
}

// NewAccountStore creates an empty account store
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*models.SyncAccount)}
}

func copyAccount(a *models.SyncAccount) *models.SyncAccount {
	c := *a
	c.ProcessorAccountID = cloneString(a.ProcessorAccountID)
	c.LastSyncedTxID = cloneString(a.LastSyncedTxID)
	c.LeaseToken = cloneString(a.LeaseToken)
	c.LeaseExpiresAt = cloneTime(a.LeaseExpiresAt)
	return &c
}

// Register inserts or refreshes an account keyed by kind and internal id
func (s *AccountStore) Register(ctx context.Context, account *models.SyncAccount, now time.Time) error {
	ref := types.AccountRef{Kind: account.Kind}
	if account.ProcessorAccountID != nil {
		ref.ProcessorAccountID = *account.ProcessorAccountID
	}
	if err := ref.Validate(); err != nil {
		return apperrors.NewInvalidParameterError("account", err.Error())
	}
	if account.InternalID == "" {
		return apperrors.NewInvalidParameterError("internalId", "required")
	}
	if account.Currency == "" {
		account.Currency = "usd"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		existing := s.accounts[id]
		if existing.Kind == account.Kind && existing.InternalID == account.InternalID {
			existing.ProcessorAccountID = cloneString(account.ProcessorAccountID)
			existing.Currency = account.Currency
			existing.IsActive = account.IsActive
			existing.UpdatedAt = now
			account.ID = existing.ID
			account.LastSyncedTS = existing.LastSyncedTS
			account.CreatedAt = existing.CreatedAt
			account.UpdatedAt = now
			return nil
		}
		if account.Kind == types.KindPlatform && existing.Kind == types.KindPlatform {
			return apperrors.NewConflictError("platform account already registered")
		}
	}

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = now
	account.UpdatedAt = now
	s.accounts[account.ID] = copyAccount(account)
	s.order = append(s.order, account.ID)
	return nil
}

// GetByID returns a copy of the account
func (s *AccountStore) GetByID(ctx context.Context, id string) (*models.SyncAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, apperrors.NewAccountNotFoundError(id)
	}
	return copyAccount(a), nil
}

// FindByRef looks an account up by its tagged processor reference
func (s *AccountStore) FindByRef(ctx context.Context, ref types.AccountRef) (*models.SyncAccount, error) {
	if err := ref.Validate(); err != nil {
		return nil, apperrors.NewInvalidParameterError("account", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		a := s.accounts[id]
		if a.Kind != ref.Kind {
			continue
		}
		if ref.Kind == types.KindPlatform ||
			(a.ProcessorAccountID != nil && *a.ProcessorAccountID == ref.ProcessorAccountID) {
			return copyAccount(a), nil
		}
	}
	return nil, apperrors.NewAccountNotFoundError(ref.String())
}

// ResolveInternalAccount finds the single earner or employer owning processorAccountID
func (s *AccountStore) ResolveInternalAccount(ctx context.Context, processorAccountID string) (*models.SyncAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owners []*models.SyncAccount
	for _, id := range s.order {
		a := s.accounts[id]
		if a.Kind.IsConnected() && a.ProcessorAccountID != nil && *a.ProcessorAccountID == processorAccountID {
			owners = append(owners, a)
		}
	}

	switch len(owners) {
	case 0:
		return nil, apperrors.NewAccountNotFoundError(processorAccountID)
	case 1:
		return copyAccount(owners[0]), nil
	default:
		return nil, apperrors.NewAmbiguousAccountError(processorAccountID, len(owners))
	}
}

// ListActive returns active accounts in class, platform first then registration order
func (s *AccountStore) ListActive(ctx context.Context, class types.AccountClass, limit int) ([]*models.SyncAccount, error) {
	if _, err := types.ParseAccountClass(string(class)); err != nil || class == "" {
		return nil, apperrors.NewInvalidParameterError("accounts", fmt.Sprintf("unknown class %q", class))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var platform, connected []*models.SyncAccount
	for _, id := range s.order {
		a := s.accounts[id]
		if !a.IsActive || !class.Includes(a.Kind) {
			continue
		}
		if a.Kind == types.KindPlatform {
			platform = append(platform, copyAccount(a))
		} else {
			connected = append(connected, copyAccount(a))
		}
	}

	result := append(platform, connected...)
	if limit >= 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SetActive toggles the active flag
func (s *AccountStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return apperrors.NewAccountNotFoundError(id)
	}
	a.IsActive = active
	a.UpdatedAt = now
	return nil
}

// AcquireLease takes the lease when free or expired
func (s *AccountStore) AcquireLease(ctx context.Context, accountID string, ttl time.Duration, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return "", apperrors.NewAccountNotFoundError(accountID)
	}
	if a.LeaseToken != nil && a.LeaseExpiresAt != nil && a.LeaseExpiresAt.After(now) {
		return "", apperrors.NewLeaseHeldError(accountID)
	}

	token := uuid.New().String()
	expires := now.Add(ttl)
	a.LeaseToken = &token
	a.LeaseExpiresAt = &expires
	return token, nil
}

// AdvanceCursor writes the cursor while the lease is held and the cursor does not regress
func (s *AccountStore) AdvanceCursor(ctx context.Context, accountID, leaseToken string, cursor models.Cursor, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return apperrors.NewAccountNotFoundError(accountID)
	}
	if a.LeaseToken == nil || *a.LeaseToken != leaseToken || a.LeaseExpiresAt == nil || !a.LeaseExpiresAt.After(now) {
		return apperrors.NewLeaseLostError(accountID)
	}
	if a.Cursor().After(cursor) {
		return apperrors.NewConflictError(fmt.Sprintf(
			"cursor for account %s would move backwards from %d to %d", accountID, a.LastSyncedTS, cursor.TS))
	}

	a.LastSyncedTS = cursor.TS
	txID := cursor.TxID
	a.LastSyncedTxID = &txID
	a.UpdatedAt = now
	return nil
}

// ReleaseLease frees the lease if leaseToken still holds it
func (s *AccountStore) ReleaseLease(ctx context.Context, accountID, leaseToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if ok && a.LeaseToken != nil && *a.LeaseToken == leaseToken {
		a.LeaseToken = nil
		a.LeaseExpiresAt = nil
	}
	return nil
}

// ExpireLease forces the account's lease into the past
func (s *AccountStore) ExpireLease(accountID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[accountID]; ok && a.LeaseToken != nil {
		a.LeaseExpiresAt = &at
	}
}

// JobStore is an in-memory sync job table
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.SyncJob
	seq  map[string]int
	next int
}

// NewJobStore creates an empty job store
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*models.SyncJob),
		seq:  make(map[string]int),
	}
}

func copyJob(j *models.SyncJob) *models.SyncJob {
	c := *j
	c.ProcessorAccountID = cloneString(j.ProcessorAccountID)
	c.LastError = cloneString(j.LastError)
	c.RunningSince = cloneTime(j.RunningSince)
	c.FinishedAt = cloneTime(j.FinishedAt)
	if j.ToTS != nil {
		to := *j.ToTS
		c.ToTS = &to
	}
	return &c
}

// sorted returns jobs in insertion order
func (s *JobStore) sorted() []*models.SyncJob {
	jobs := make([]*models.SyncJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool { return s.seq[jobs[a].ID] < s.seq[jobs[b].ID] })
	return jobs
}

// CreateBatch inserts queued jobs
func (s *JobStore) CreateBatch(ctx context.Context, jobs []*models.SyncJob, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		if _, exists := s.jobs[job.ID]; exists {
			return apperrors.NewDatabaseError("create sync jobs", fmt.Errorf("duplicate job id %s", job.ID))
		}
		if job.JobType == "" {
			job.JobType = types.JobTypeSync
		}
		job.Status = types.JobStatusQueued
		job.CreatedAt = now
		job.UpdatedAt = now
		s.jobs[job.ID] = copyJob(job)
		s.next++
		s.seq[job.ID] = s.next
	}
	return nil
}

// GetByID returns a copy of the job
func (s *JobStore) GetByID(ctx context.Context, id string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewJobNotFoundError(id)
	}
	return copyJob(j), nil
}

func (s *JobStore) claim(j *models.SyncJob, now time.Time) {
	t := now
	j.Status = types.JobStatusRunning
	j.RunningSince = &t
	j.UpdatedAt = now
}

// ClaimQueued moves the oldest queued jobs to running
func (s *JobStore) ClaimQueued(ctx context.Context, limit int, now time.Time) ([]*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*models.SyncJob
	for _, j := range s.sorted() {
		if len(claimed) >= limit {
			break
		}
		if j.Status != types.JobStatusQueued {
			continue
		}
		s.claim(j, now)
		claimed = append(claimed, copyJob(j))
	}
	return claimed, nil
}

// ClaimByID moves one queued job to running
func (s *JobStore) ClaimByID(ctx context.Context, id string, now time.Time) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewJobNotFoundError(id)
	}
	if j.Status != types.JobStatusQueued {
		return nil, apperrors.NewConflictError(fmt.Sprintf("job %s is not queued", id))
	}
	s.claim(j, now)
	return copyJob(j), nil
}

// MarkDone completes a running job
func (s *JobStore) MarkDone(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != types.JobStatusRunning {
		return apperrors.NewConflictError(fmt.Sprintf("job %s is not running", id))
	}
	t := now
	j.Status = types.JobStatusDone
	j.LastError = nil
	j.FinishedAt = &t
	j.UpdatedAt = now
	return nil
}

// MarkError fails a running job and increments attempts
func (s *JobStore) MarkError(ctx context.Context, id string, message string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != types.JobStatusRunning {
		return apperrors.NewConflictError(fmt.Sprintf("job %s is not running", id))
	}
	t := now
	msg := message
	j.Status = types.JobStatusError
	j.LastError = &msg
	j.Attempts++
	j.FinishedAt = &t
	j.UpdatedAt = now
	return nil
}

// RequeueStale returns running jobs claimed before cutoff to the queue
func (s *JobStore) RequeueStale(ctx context.Context, cutoff time.Time, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, j := range s.jobs {
		if j.Status != types.JobStatusRunning || j.RunningSince == nil || !j.RunningSince.Before(cutoff) {
			continue
		}
		msg := "requeued after running since " + j.RunningSince.UTC().Format(time.RFC3339)
		j.Status = types.JobStatusQueued
		j.Attempts++
		j.LastError = &msg
		j.RunningSince = nil
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

// List returns jobs matching filter, newest first
func (s *JobStore) List(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	all := s.sorted()
	var result []*models.SyncJob
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		j := all[i]
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.AccountKind != "" && j.AccountKind != filter.AccountKind {
			continue
		}
		if filter.ProcessorAccountID != "" && (j.ProcessorAccountID == nil || *j.ProcessorAccountID != filter.ProcessorAccountID) {
			continue
		}
		result = append(result, copyJob(j))
	}
	return result, nil
}

// All returns every job in insertion order
func (s *JobStore) All() []*models.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.SyncJob
	for _, j := range s.sorted() {
		result = append(result, copyJob(j))
	}
	return result
}

// LedgerStore is an in-memory ledger
type LedgerStore struct {
	mu          sync.Mutex
	txs         map[string]*models.LedgerTransaction
	adjustments map[string]*models.LedgerAdjustment
	// FailUpserts makes UpsertTransactions return this error when set
	FailUpserts error
	upserts     int
}

// NewLedgerStore creates an empty ledger
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		txs:         make(map[string]*models.LedgerTransaction),
		adjustments: make(map[string]*models.LedgerAdjustment),
	}
}

// UpsertTransactions inserts new rows and refreshes annotations on existing ones
func (s *LedgerStore) UpsertTransactions(ctx context.Context, txs []*models.LedgerTransaction, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpserts != nil {
		return s.FailUpserts
	}
	for _, tx := range txs {
		s.upserts++
		if existing, ok := s.txs[tx.ID]; ok {
			if tx.RelatedTransferID != nil {
				existing.RelatedTransferID = cloneString(tx.RelatedTransferID)
			}
			existing.Description = cloneString(tx.Description)
			existing.Raw = tx.Raw
			existing.UpdatedAt = now
			continue
		}
		c := *tx
		c.IngestedAt = now
		c.UpdatedAt = now
		s.txs[tx.ID] = &c
	}
	return nil
}

// GetTransaction returns one row by processor id
func (s *LedgerStore) GetTransaction(ctx context.Context, id string) (*models.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("transaction", id)
	}
	c := *tx
	return &c, nil
}

func (s *LedgerStore) forAccount(accountID string, from, to int64) []*models.LedgerTransaction {
	var result []*models.LedgerTransaction
	for _, tx := range s.txs {
		if tx.AccountID == accountID && tx.CreatedTS >= from && tx.CreatedTS <= to {
			c := *tx
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedTS == result[j].CreatedTS {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedTS < result[j].CreatedTS
	})
	return result
}

// ListForAccount returns the account's rows in [from, to], oldest first.
// Like the Postgres store, a non-positive limit means storage.DefaultListLimit.
func (s *LedgerStore) ListForAccount(ctx context.Context, accountID string, from, to int64, limit int) ([]*models.LedgerTransaction, error) {
	return s.ListAfter(ctx, accountID, from, to, models.Cursor{}, limit)
}

// ListAfter pages the account's rows strictly after the (created_ts, id) position after
func (s *LedgerStore) ListAfter(ctx context.Context, accountID string, from, to int64, after models.Cursor, limit int) ([]*models.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	var result []*models.LedgerTransaction
	for _, tx := range s.forAccount(accountID, from, to) {
		if tx.CreatedTS < after.TS || (tx.CreatedTS == after.TS && tx.ID <= after.TxID) {
			continue
		}
		result = append(result, tx)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// ListReversals returns every transfer reversal row in [from, to]
func (s *LedgerStore) ListReversals(ctx context.Context, accountID string, from, to int64) ([]*models.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.LedgerTransaction
	for _, tx := range s.forAccount(accountID, from, to) {
		if tx.IsTransferReversal() {
			result = append(result, tx)
		}
	}
	return result, nil
}

// SumNet totals net in currency over [from, to]
func (s *LedgerStore) SumNet(ctx context.Context, accountID, currency string, from, to int64) (int64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	var count int
	for _, tx := range s.forAccount(accountID, from, to) {
		if tx.Currency == currency {
			sum += tx.Net
			count++
		}
	}
	return sum, count, nil
}

// UpsertAdjustment writes an adjustment keyed by its reversal transaction
func (s *LedgerStore) UpsertAdjustment(ctx context.Context, adj *models.LedgerAdjustment, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *adj
	if existing, ok := s.adjustments[adj.ReversalTxID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.adjustments[adj.ReversalTxID] = &c
	return nil
}

// ListAdjustments returns the account's adjustments effective in [from, to]
func (s *LedgerStore) ListAdjustments(ctx context.Context, accountID string, from, to int64) ([]*models.LedgerAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.LedgerAdjustment
	for _, adj := range s.adjustments {
		if adj.AccountID == accountID && adj.EffectiveTS >= from && adj.EffectiveTS <= to {
			c := *adj
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ReversalTxID < result[j].ReversalTxID })
	return result, nil
}

// Count returns the number of distinct ledger rows
func (s *LedgerStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

// AdjustmentCount returns the number of distinct adjustments
func (s *LedgerStore) AdjustmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.adjustments)
}

// SnapshotStore is an in-memory snapshot table
type SnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]*models.DailyBalanceSnapshot
}

// NewSnapshotStore creates an empty snapshot store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[string]*models.DailyBalanceSnapshot)}
}

func snapshotKey(accountID string, day time.Time) string {
	return accountID + "|" + types.StartOfDay(day).Format(types.DayLayout)
}

// Get returns the snapshot or nil
func (s *SnapshotStore) Get(ctx context.Context, accountID string, day time.Time) (*models.DailyBalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snaps[snapshotKey(accountID, day)]
	if !ok {
		return nil, nil
	}
	c := *snap
	return &c, nil
}

// Upsert creates or overwrites a snapshot, keeping an existing opening balance
func (s *SnapshotStore) Upsert(ctx context.Context, snap *models.DailyBalanceSnapshot, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snapshotKey(snap.AccountID, snap.SnapshotDate)
	c := *snap
	c.SnapshotDate = types.StartOfDay(snap.SnapshotDate)
	if existing, ok := s.snaps[key]; ok {
		c.OpeningBalance = existing.OpeningBalance
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.snaps[key] = &c
	return nil
}

// List returns the account's snapshots in [from, to], oldest first
func (s *SnapshotStore) List(ctx context.Context, accountID string, from, to time.Time) ([]*models.DailyBalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to = types.StartOfDay(from), types.StartOfDay(to)
	var result []*models.DailyBalanceSnapshot
	for _, snap := range s.snaps {
		if snap.AccountID == accountID && !snap.SnapshotDate.Before(from) && !snap.SnapshotDate.After(to) {
			c := *snap
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SnapshotDate.Before(result[j].SnapshotDate) })
	return result, nil
}

// ListUnmatched returns every unmatched snapshot for day
func (s *SnapshotStore) ListUnmatched(ctx context.Context, day time.Time) ([]*models.DailyBalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day = types.StartOfDay(day)
	var result []*models.DailyBalanceSnapshot
	for _, snap := range s.snaps {
		if !snap.Matched && snap.SnapshotDate.Equal(day) {
			c := *snap
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AccountID < result[j].AccountID })
	return result, nil
}

// Mirror records mirrored rows
type Mirror struct {
	mu   sync.Mutex
	rows []*models.LedgerTransaction
	// Err makes MirrorTransactions fail when set
	Err error
}

// MirrorTransactions records txs or returns Err
func (m *Mirror) MirrorTransactions(ctx context.Context, txs []*models.LedgerTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.rows = append(m.rows, txs...)
	return nil
}

// Count returns the number of mirrored rows
func (m *Mirror) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Deduper is an in-memory EventDeduper
type Deduper struct {
	mu   sync.Mutex
	seen map[string]bool
	// Err makes MarkSeen fail when set
	Err error
}

// NewDeduper creates an empty deduper
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]bool)}
}

// MarkSeen returns true the first time eventID is recorded
func (d *Deduper) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Err != nil {
		return false, d.Err
	}
	if eventID == "" {
		return true, nil
	}
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

// Forget removes a recorded event id
func (d *Deduper) Forget(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
}
