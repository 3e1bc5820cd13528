package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/types"
)

const accountColumns = `
	id, kind, internal_id, processor_account_id, currency, is_active,
	last_synced_ts, last_synced_tx_id, lease_token, lease_expires_at,
	created_at, updated_at`

// AccountRepository handles the account registry in Postgres
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(row pgx.Row) (*models.SyncAccount, error) {
	var a models.SyncAccount
	err := row.Scan(
		&a.ID,
		&a.Kind,
		&a.InternalID,
		&a.ProcessorAccountID,
		&a.Currency,
		&a.IsActive,
		&a.LastSyncedTS,
		&a.LastSyncedTxID,
		&a.LeaseToken,
		&a.LeaseExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAccounts(rows pgx.Rows) ([]*models.SyncAccount, error) {
	defer rows.Close()

	var accounts []*models.SyncAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Register inserts an account or refreshes the mutable identity fields of an existing one.
// Cursor and lease columns are never touched.
func (r *AccountRepository) Register(ctx context.Context, account *models.SyncAccount, now time.Time) error {
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
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.Currency == "" {
		account.Currency = "usd"
	}

	query := `
		INSERT INTO sync_accounts (
			id, kind, internal_id, processor_account_id, currency, is_active,
			last_synced_ts, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
		ON CONFLICT (kind, internal_id) DO UPDATE SET
			processor_account_id = EXCLUDED.processor_account_id,
			currency = EXCLUDED.currency,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, last_synced_ts, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		account.ID,
		account.Kind,
		account.InternalID,
		account.ProcessorAccountID,
		account.Currency,
		account.IsActive,
		now,
	).Scan(&account.ID, &account.LastSyncedTS, &account.CreatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("register account", err)
	}
	account.UpdatedAt = now
	return nil
}

// GetByID retrieves an account by its internal id
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.SyncAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM sync_accounts WHERE id = $1`

	account, err := scanAccount(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewAccountNotFoundError(id)
		}
		return nil, apperrors.NewDatabaseError("get account", err)
	}
	return account, nil
}

// FindByRef retrieves the account a job or webhook refers to
func (r *AccountRepository) FindByRef(ctx context.Context, ref types.AccountRef) (*models.SyncAccount, error) {
	if err := ref.Validate(); err != nil {
		return nil, apperrors.NewInvalidParameterError("account", err.Error())
	}

	var row pgx.Row
	if ref.Kind == types.KindPlatform {
		row = r.db.Pool().QueryRow(ctx,
			`SELECT `+accountColumns+` FROM sync_accounts WHERE kind = 'platform' LIMIT 1`)
	} else {
		row = r.db.Pool().QueryRow(ctx,
			`SELECT `+accountColumns+` FROM sync_accounts WHERE kind = $1 AND processor_account_id = $2`,
			ref.Kind, ref.ProcessorAccountID)
	}

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewAccountNotFoundError(ref.String())
		}
		return nil, apperrors.NewDatabaseError("find account", err)
	}
	return account, nil
}

// ResolveInternalAccount finds the earner or employer owning a connected processor account
func (r *AccountRepository) ResolveInternalAccount(ctx context.Context, processorAccountID string) (*models.SyncAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM sync_accounts
		WHERE processor_account_id = $1 AND kind IN ('earner', 'employer')
		LIMIT 2`

	rows, err := r.db.Pool().Query(ctx, query, processorAccountID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("resolve account", err)
	}
	owners, err := collectAccounts(rows)
	if err != nil {
		return nil, apperrors.NewDatabaseError("resolve account", err)
	}

	switch len(owners) {
	case 0:
		return nil, apperrors.NewAccountNotFoundError(processorAccountID)
	case 1:
		return owners[0], nil
	default:
		return nil, apperrors.NewAmbiguousAccountError(processorAccountID, len(owners))
	}
}

// ListActive returns up to limit active accounts in the class, platform first
func (r *AccountRepository) ListActive(ctx context.Context, class types.AccountClass, limit int) ([]*models.SyncAccount, error) {
	var kinds []string
	switch class {
	case types.ClassPlatform:
		kinds = []string{string(types.KindPlatform)}
	case types.ClassConnected:
		kinds = []string{string(types.KindEarner), string(types.KindEmployer)}
	case types.ClassAll:
		kinds = []string{string(types.KindPlatform), string(types.KindEarner), string(types.KindEmployer)}
	default:
		return nil, apperrors.NewInvalidParameterError("accounts", fmt.Sprintf("unknown class %q", class))
	}

	query := `SELECT ` + accountColumns + `
		FROM sync_accounts
		WHERE is_active AND kind = ANY($1)
		ORDER BY (kind = 'platform') DESC, created_at, id
		LIMIT $2`

	rows, err := r.db.Pool().Query(ctx, query, kinds, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list active accounts", err)
	}
	accounts, err := collectAccounts(rows)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list active accounts", err)
	}
	return accounts, nil
}

// SetActive toggles whether an account participates in batch runs
func (r *AccountRepository) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE sync_accounts SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, now)
	if err != nil {
		return apperrors.NewDatabaseError("set account active", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewAccountNotFoundError(id)
	}
	return nil
}

// AcquireLease takes the account's lease if it is free or expired
func (r *AccountRepository) AcquireLease(ctx context.Context, accountID string, ttl time.Duration, now time.Time) (string, error) {
	token := uuid.New().String()

	query := `
		UPDATE sync_accounts
		SET lease_token = $2, lease_expires_at = $3, updated_at = $4
		WHERE id = $1 AND (lease_token IS NULL OR lease_expires_at <= $4)
	`

	tag, err := r.db.Pool().Exec(ctx, query, accountID, token, now.Add(ttl), now)
	if err != nil {
		return "", apperrors.NewDatabaseError("acquire lease", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, accountID); err != nil {
			return "", err
		}
		return "", apperrors.NewLeaseHeldError(accountID)
	}
	return token, nil
}

// AdvanceCursor overwrites the cursor if the lease is still held and the cursor does not move backwards
func (r *AccountRepository) AdvanceCursor(ctx context.Context, accountID, leaseToken string, cursor models.Cursor, now time.Time) error {
	query := `
		UPDATE sync_accounts
		SET last_synced_ts = $3, last_synced_tx_id = $4, updated_at = $5
		WHERE id = $1
			AND lease_token = $2
			AND lease_expires_at > $5
			AND (last_synced_ts < $3 OR (last_synced_ts = $3 AND COALESCE(last_synced_tx_id, '') <= $4))
	`

	tag, err := r.db.Pool().Exec(ctx, query, accountID, leaseToken, cursor.TS, cursor.TxID, now)
	if err != nil {
		return apperrors.NewDatabaseError("advance cursor", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := r.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if current.LeaseToken == nil || *current.LeaseToken != leaseToken ||
		current.LeaseExpiresAt == nil || !current.LeaseExpiresAt.After(now) {
		return apperrors.NewLeaseLostError(accountID)
	}
	return apperrors.NewConflictError(fmt.Sprintf(
		"cursor for account %s would move backwards from %d to %d", accountID, current.LastSyncedTS, cursor.TS))
}

// ReleaseLease frees the lease if the caller still holds it
func (r *AccountRepository) ReleaseLease(ctx context.Context, accountID, leaseToken string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE sync_accounts
		SET lease_token = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_token = $2
	`, accountID, leaseToken)
	if err != nil {
		return apperrors.NewDatabaseError("release lease", err)
	}
	return nil
}
