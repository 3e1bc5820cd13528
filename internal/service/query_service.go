package service

import (
	"context"
	"time"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
)

// MaxQueryLimit caps list queries
const MaxQueryLimit = 1000

// HistoryReader reads per-day aggregates from the analytics mirror
type HistoryReader interface {
	DailyNetHistory(ctx context.Context, accountID string, from, to time.Time) ([]storage.DailyNet, error)
}

// QueryService serves read-only views of accounts, jobs, ledger rows and snapshots
type QueryService struct {
	accounts  storage.AccountStore
	jobs      storage.JobStore
	ledger    storage.LedgerStore
	snapshots storage.SnapshotStore
	history   HistoryReader
}

// NewQueryService creates a new query service. history may be nil when the mirror is disabled.
func NewQueryService(
	accounts storage.AccountStore,
	jobs storage.JobStore,
	ledger storage.LedgerStore,
	snapshots storage.SnapshotStore,
	history HistoryReader,
) *QueryService {
	return &QueryService{
		accounts:  accounts,
		jobs:      jobs,
		ledger:    ledger,
		snapshots: snapshots,
		history:   history,
	}
}

// TransactionView is a ledger row with amounts rendered in major units
type TransactionView struct {
	*models.LedgerTransaction
	AmountDisplay string `json:"amountDisplay"`
	NetDisplay    string `json:"netDisplay"`
	FeeDisplay    string `json:"feeDisplay"`
}

// AccountLedger is an account's ledger over a day range
type AccountLedger struct {
	Account      *models.SyncAccount        `json:"account"`
	From         string                     `json:"from"`
	To           string                     `json:"to"`
	Transactions []TransactionView          `json:"transactions"`
	Adjustments  []*models.LedgerAdjustment `json:"adjustments"`
	NetTotal     string                     `json:"netTotal"`
}

// ListJobs returns jobs matching filter
func (s *QueryService) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.NewInvalidParameterError("status", "must be queued, running, done or error")
	}
	if filter.Limit <= 0 || filter.Limit > MaxQueryLimit {
		filter.Limit = 100
	}
	return s.jobs.List(ctx, filter)
}

// GetJob returns one job
func (s *QueryService) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// GetAccount returns one account
func (s *QueryService) GetAccount(ctx context.Context, id string) (*models.SyncAccount, error) {
	return s.accounts.GetByID(ctx, id)
}

// AccountTransactions returns the account's ledger rows and adjustments for days [from, to]
func (s *QueryService) AccountTransactions(ctx context.Context, accountID string, from, to time.Time, limit int) (*AccountLedger, error) {
	if to.Before(from) {
		return nil, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	fromTS, _ := types.DayWindow(from)
	_, toTS := types.DayWindow(to)

	rows, err := s.ledger.ListForAccount(ctx, account.ID, fromTS, toTS, limit)
	if err != nil {
		return nil, err
	}
	adjustments, err := s.ledger.ListAdjustments(ctx, account.ID, fromTS, toTS)
	if err != nil {
		return nil, err
	}

	views := make([]TransactionView, 0, len(rows))
	total := types.MinorToDecimal(0, account.Currency)
	for _, row := range rows {
		views = append(views, TransactionView{
			LedgerTransaction: row,
			AmountDisplay:     types.FormatMinor(row.Amount, row.Currency),
			NetDisplay:        types.FormatMinor(row.Net, row.Currency),
			FeeDisplay:        types.FormatMinor(row.Fee, row.Currency),
		})
		if row.Currency == account.Currency {
			total = total.Add(types.MinorToDecimal(row.Net, row.Currency))
		}
	}

	return &AccountLedger{
		Account:      account,
		From:         types.StartOfDay(from).Format(types.DayLayout),
		To:           types.StartOfDay(to).Format(types.DayLayout),
		Transactions: views,
		Adjustments:  adjustments,
		NetTotal:     total.StringFixed(types.CurrencyExponent(account.Currency)),
	}, nil
}

// AccountSnapshots returns the account's daily snapshots for days [from, to]
func (s *QueryService) AccountSnapshots(ctx context.Context, accountID string, from, to time.Time) ([]*models.DailyBalanceSnapshot, error) {
	if to.Before(from) {
		return nil, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.snapshots.List(ctx, accountID, from, to)
}

// AccountHistory returns per-day net movement from the analytics mirror
func (s *QueryService) AccountHistory(ctx context.Context, accountID string, from, to time.Time) ([]storage.DailyNet, error) {
	if s.history == nil {
		return nil, apperrors.NewServiceUnavailableError("ledger mirror")
	}
	if to.Before(from) {
		return nil, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	return s.history.DailyNetHistory(ctx, accountID, types.StartOfDay(from), types.StartOfDay(to))
}
