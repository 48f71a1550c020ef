// Package syncrecord defines the per-(transaction, provider) record of
// pushing a ledger transaction to an accounting provider.
//
// Lifecycle: a record is created pending on the first attempt and moves to
// synced, failed or skipped once the provider answers. Only failed records
// re-enter pending automatically; a retry reuses the same record and bumps
// RetryCount.
package syncrecord

import (
	"time"

	"github.com/xraph/barre/id"
	"github.com/xraph/barre/txn"
	"github.com/xraph/barre/types"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// ObjectType is the provider-side object a transaction becomes.
type ObjectType string

const (
	ObjectInvoice         ObjectType = "invoice"
	ObjectPayment         ObjectType = "payment"
	ObjectBankTransaction ObjectType = "bank_transaction"
)

type Record struct {
	types.Entity
	ID               id.SyncRecordID `json:"id"`
	StudioKey        string          `json:"studio_key"`
	Provider         string          `json:"provider"`
	ConnectionID     id.ConnectionID `json:"connection_id"`
	TransactionID    string          `json:"transaction_id"`
	TransactionKind  txn.Kind        `json:"transaction_kind"`
	ObjectType       ObjectType      `json:"external_object_type"`
	ExternalObjectID string          `json:"external_object_id,omitempty"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Fingerprint      string          `json:"fingerprint"`
	Status           Status          `json:"status"`
	RetryCount       int             `json:"retry_count"`
	LastError        string          `json:"last_error,omitempty"`
	LastAttemptAt    *time.Time      `json:"last_attempt_at,omitempty"`
	SyncedAt         *time.Time      `json:"synced_at,omitempty"`

	// ClaimToken identifies the run currently holding a pending record.
	// Only a completion carrying the same token is applied.
	ClaimToken string `json:"-"`
}

// Terminal reports whether the record needs no automatic follow-up.
func (r *Record) Terminal() bool {
	return r.Status == StatusSynced || r.Status == StatusSkipped
}

// Claim describes a compare-and-swap move of an existing record back into
// pending. The store applies it only while the record is still in one of
// From, or pending with an UpdatedAt older than StaleBefore.
type Claim struct {
	RecordID     id.SyncRecordID
	From         []Status
	StaleBefore  time.Time
	At           time.Time
	Token        string
	ConnectionID id.ConnectionID
	Fingerprint  string
	ObjectType   ObjectType
}

type ListOpts struct {
	Provider       string
	Status         Status
	TransactionIDs []string
	Limit          int
	Offset         int
}
