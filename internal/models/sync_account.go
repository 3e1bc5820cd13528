package models

import (
	"time"

	"github.com/tip-ledger/internal/types"
)

// SyncAccount is a registry entry for one processor account tracked by the engine.
// Accounts are deactivated, never deleted.
type SyncAccount struct {
	ID                 string            `json:"id" db:"id"`
	Kind               types.AccountKind `json:"kind" db:"kind"`
	InternalID         string            `json:"internalId" db:"internal_id"`                  // platform/earner/employer id in the owning system
	ProcessorAccountID *string           `json:"processorAccountId,omitempty" db:"processor_account_id"` // nil for the platform
	Currency           string            `json:"currency" db:"currency"`
	IsActive           bool              `json:"isActive" db:"is_active"`
	LastSyncedTS       int64             `json:"lastSyncedTs" db:"last_synced_ts"`
	LastSyncedTxID     *string           `json:"lastSyncedTxId,omitempty" db:"last_synced_tx_id"`
	LeaseToken         *string           `json:"-" db:"lease_token"`
	LeaseExpiresAt     *time.Time        `json:"leaseExpiresAt,omitempty" db:"lease_expires_at"`
	CreatedAt          time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time         `json:"updatedAt" db:"updated_at"`
}

// Ref returns the tagged processor reference for the account
func (a *SyncAccount) Ref() types.AccountRef {
	if a.Kind == types.KindPlatform || a.ProcessorAccountID == nil {
		return types.AccountRef{Kind: a.Kind}
	}
	return types.ConnectedRef(a.Kind, *a.ProcessorAccountID)
}

// Cursor returns the account's current sync cursor
func (a *SyncAccount) Cursor() Cursor {
	c := Cursor{TS: a.LastSyncedTS}
	if a.LastSyncedTxID != nil {
		c.TxID = *a.LastSyncedTxID
	}
	return c
}

// Cursor marks the newest transaction already persisted for an account.
// TxID breaks ties between transactions sharing a timestamp.
type Cursor struct {
	TS   int64  `json:"ts"`
	TxID string `json:"txId,omitempty"`
}

// After reports whether c is strictly newer than other
func (c Cursor) After(other Cursor) bool {
	if c.TS != other.TS {
		return c.TS > other.TS
	}
	return c.TxID > other.TxID
}
