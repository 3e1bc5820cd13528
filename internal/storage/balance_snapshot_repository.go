package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/types"
)

const snapshotColumns = `
	snapshot_date, account_id, currency, opening_balance, closing_balance, delta,
	live_available, live_pending, transaction_count, matched, created_at, updated_at`

// BalanceSnapshotRepository handles daily reconciliation snapshots
type BalanceSnapshotRepository struct {
	db *PostgresDB
}

// NewBalanceSnapshotRepository creates a new balance snapshot repository
func NewBalanceSnapshotRepository(db *PostgresDB) *BalanceSnapshotRepository {
	return &BalanceSnapshotRepository{db: db}
}

func scanSnapshot(row pgx.Row) (*models.DailyBalanceSnapshot, error) {
	var s models.DailyBalanceSnapshot
	err := row.Scan(
		&s.SnapshotDate,
		&s.AccountID,
		&s.Currency,
		&s.OpeningBalance,
		&s.ClosingBalance,
		&s.Delta,
		&s.LiveAvailable,
		&s.LivePending,
		&s.TransactionCount,
		&s.Matched,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.SnapshotDate = types.StartOfDay(s.SnapshotDate)
	return &s, nil
}

func collectSnapshots(rows pgx.Rows) ([]*models.DailyBalanceSnapshot, error) {
	defer rows.Close()

	var snapshots []*models.DailyBalanceSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// Get returns the account's snapshot for day, or nil when none exists
func (r *BalanceSnapshotRepository) Get(ctx context.Context, accountID string, day time.Time) (*models.DailyBalanceSnapshot, error) {
	snap, err := scanSnapshot(r.db.Pool().QueryRow(ctx, `SELECT `+snapshotColumns+`
		FROM daily_balance_snapshots
		WHERE account_id = $1 AND snapshot_date = $2`, accountID, types.StartOfDay(day)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("get balance snapshot", err)
	}
	return snap, nil
}

// Upsert writes the day's snapshot; an existing row keeps its opening balance
func (r *BalanceSnapshotRepository) Upsert(ctx context.Context, snap *models.DailyBalanceSnapshot, now time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO daily_balance_snapshots (
			snapshot_date, account_id, currency, opening_balance, closing_balance, delta,
			live_available, live_pending, transaction_count, matched, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (snapshot_date, account_id) DO UPDATE SET
			currency = EXCLUDED.currency,
			closing_balance = EXCLUDED.closing_balance,
			delta = EXCLUDED.delta,
			live_available = EXCLUDED.live_available,
			live_pending = EXCLUDED.live_pending,
			transaction_count = EXCLUDED.transaction_count,
			matched = EXCLUDED.matched,
			updated_at = EXCLUDED.updated_at
	`,
		types.StartOfDay(snap.SnapshotDate),
		snap.AccountID,
		snap.Currency,
		snap.OpeningBalance,
		snap.ClosingBalance,
		snap.Delta,
		snap.LiveAvailable,
		snap.LivePending,
		snap.TransactionCount,
		snap.Matched,
		now,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert balance snapshot", err)
	}
	return nil
}

// List returns an account's snapshots between two days inclusive
func (r *BalanceSnapshotRepository) List(ctx context.Context, accountID string, from, to time.Time) ([]*models.DailyBalanceSnapshot, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT `+snapshotColumns+`
		FROM daily_balance_snapshots
		WHERE account_id = $1 AND snapshot_date BETWEEN $2 AND $3
		ORDER BY snapshot_date`, accountID, types.StartOfDay(from), types.StartOfDay(to))
	if err != nil {
		return nil, apperrors.NewDatabaseError("list balance snapshots", err)
	}
	snapshots, err := collectSnapshots(rows)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list balance snapshots", err)
	}
	return snapshots, nil
}

// ListUnmatched returns every snapshot for day whose ledger did not match the live balance
func (r *BalanceSnapshotRepository) ListUnmatched(ctx context.Context, day time.Time) ([]*models.DailyBalanceSnapshot, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT `+snapshotColumns+`
		FROM daily_balance_snapshots
		WHERE snapshot_date = $1 AND NOT matched
		ORDER BY account_id`, types.StartOfDay(day))
	if err != nil {
		return nil, apperrors.NewDatabaseError("list unmatched snapshots", err)
	}
	snapshots, err := collectSnapshots(rows)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list unmatched snapshots", err)
	}
	return snapshots, nil
}
