// Package types provides common type definitions for the tip ledger engine.
package types

import (
	"fmt"
	"strings"
)

// AccountKind identifies which side of the platform owns a processor account
type AccountKind string

const (
	// KindPlatform is the platform's own processor account
	KindPlatform AccountKind = "platform"
	// KindEarner is a connected account receiving tips
	KindEarner AccountKind = "earner"
	// KindEmployer is a connected account belonging to an employer
	KindEmployer AccountKind = "employer"
)

// Valid reports whether k is a known account kind
func (k AccountKind) Valid() bool {
	switch k {
	case KindPlatform, KindEarner, KindEmployer:
		return true
	}
	return false
}

// IsConnected reports whether the kind is backed by a connected sub-account
func (k AccountKind) IsConnected() bool {
	return k == KindEarner || k == KindEmployer
}

// AccountRef is the tagged reference to a processor account.
// Platform refs carry no processor account id; connected refs always do.
type AccountRef struct {
	Kind               AccountKind `json:"kind"`
	ProcessorAccountID string      `json:"processorAccountId,omitempty"`
}

// PlatformRef returns the reference to the platform account
func PlatformRef() AccountRef {
	return AccountRef{Kind: KindPlatform}
}

// ConnectedRef returns a reference to a connected account of the given kind
func ConnectedRef(kind AccountKind, processorAccountID string) AccountRef {
	return AccountRef{Kind: kind, ProcessorAccountID: processorAccountID}
}

// Validate checks the variant invariants of the reference
func (r AccountRef) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid account kind %q", r.Kind)
	}
	if r.Kind == KindPlatform && r.ProcessorAccountID != "" {
		return fmt.Errorf("platform reference must not carry a processor account id")
	}
	if r.Kind.IsConnected() && r.ProcessorAccountID == "" {
		return fmt.Errorf("%s reference requires a processor account id", r.Kind)
	}
	return nil
}

func (r AccountRef) String() string {
	if r.Kind == KindPlatform {
		return string(KindPlatform)
	}
	return string(r.Kind) + ":" + r.ProcessorAccountID
}

// AccountClass selects accounts for batch operations
type AccountClass string

const (
	// ClassPlatform selects only the platform account
	ClassPlatform AccountClass = "platform"
	// ClassConnected selects earner and employer accounts
	ClassConnected AccountClass = "connected"
	// ClassAll selects every active account
	ClassAll AccountClass = "all"
)

// ParseAccountClass parses an account class, defaulting to ClassAll for empty input
func ParseAccountClass(s string) (AccountClass, error) {
	switch AccountClass(strings.ToLower(strings.TrimSpace(s))) {
	case "", ClassAll:
		return ClassAll, nil
	case ClassPlatform:
		return ClassPlatform, nil
	case ClassConnected:
		return ClassConnected, nil
	}
	return "", fmt.Errorf("invalid account class %q (must be platform, connected or all)", s)
}

// Includes reports whether accounts of the given kind fall in the class
func (c AccountClass) Includes(kind AccountKind) bool {
	switch c {
	case ClassPlatform:
		return kind == KindPlatform
	case ClassConnected:
		return kind.IsConnected()
	case ClassAll:
		return kind.Valid()
	}
	return false
}

// JobType represents the kind of work a job performs
type JobType string

const (
	// JobTypeSync pulls balance transactions for one account and window
	JobTypeSync JobType = "sync"
)

// JobStatus represents the lifecycle state of a sync job
type JobStatus string

const (
	// JobStatusQueued represents a job waiting to be claimed
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning represents a job claimed by a worker
	JobStatusRunning JobStatus = "running"
	// JobStatusDone represents a successfully completed job
	JobStatusDone JobStatus = "done"
	// JobStatusError represents a failed job; it is not retried automatically
	JobStatusError JobStatus = "error"
)

// Valid reports whether s is a known job status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusError:
		return true
	}
	return false
}

// Reporting categories of processor balance transactions used by the engine
const (
	CategoryCharge           = "charge"
	CategoryRefund           = "refund"
	CategoryTransfer         = "transfer"
	CategoryTransferReversal = "transfer_reversal"
	CategoryPayout           = "payout"
	CategoryFee              = "fee"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
