package store

import (
	"context"
	"time"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/dancer"
	"github.com/xraph/barre/event"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/mapping"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/txn"
)

// Store is the unified storage interface for all barre entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
//
// Backends enforce the ledger's uniqueness rules themselves: (dancer, seq)
// and (dancer, event) on charges and payments, (studio, provider) on
// connections, at most one active connection per studio, and
// (transaction, provider) on sync records.
type Store interface {
	// Dancer methods
	CreateDancer(ctx context.Context, d *dancer.Dancer) error
	GetDancer(ctx context.Context, dancerID id.DancerID) (*dancer.Dancer, error)
	UpdateDancer(ctx context.Context, d *dancer.Dancer) error
	ListDancers(ctx context.Context, studioKey string, opts dancer.ListOpts) ([]*dancer.Dancer, error)

	// Event methods
	CreateEvent(ctx context.Context, e *event.Event) error
	GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error)
	UpdateEvent(ctx context.Context, e *event.Event) error
	ListEvents(ctx context.Context, studioKey string, opts event.ListOpts) ([]*event.Event, error)

	// Charge methods

	// CreateCharge fails with ErrConflict when c.Seq is already taken for
	// the dancer and ErrEventAlreadyBilled when the dancer already has a
	// fee for c.EventID.
	CreateCharge(ctx context.Context, c *charge.Charge) error
	GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error)
	GetChargeByEventFee(ctx context.Context, feeID id.EventFeeID) (*charge.Charge, error)
	ListEventCharges(ctx context.Context, eventID id.EventID) ([]*charge.Charge, error)
	// UpdateCharge writes the corrected fields only while the stored row
	// is unlocked and still at expectedRevision.
	UpdateCharge(ctx context.Context, c *charge.Charge, expectedRevision int) error
	LockCharge(ctx context.Context, chargeID id.ChargeID) error

	// Payment methods
	CreatePayment(ctx context.Context, p *payment.Payment) error
	GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error)

	// Transaction methods

	// ListDancerTransactions returns a dancer's charges and payments in
	// seq order.
	ListDancerTransactions(ctx context.Context, dancerID id.DancerID) ([]*charge.Charge, []*payment.Payment, error)
	// ListTransactions returns a studio's transactions most recent first.
	ListTransactions(ctx context.Context, studioKey string, opts txn.ListOpts) ([]txn.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (txn.Transaction, error)

	// Connection methods
	CreateConnection(ctx context.Context, c *connection.Connection) error
	GetConnection(ctx context.Context, studioKey, provider string) (*connection.Connection, error)
	GetConnectionByID(ctx context.Context, connID id.ConnectionID) (*connection.Connection, error)
	// ReconnectConnection moves a row back to connected with fresh tokens,
	// clearing disconnected_at and last_error. is_active is left alone.
	ReconnectConnection(ctx context.Context, connID id.ConnectionID, tokens connection.TokenState, at time.Time) error
	// SetConnectionTokens and SetConnectionMapping touch only their own
	// column, so they never undo a concurrent status change.
	SetConnectionTokens(ctx context.Context, connID id.ConnectionID, tokens connection.TokenState, at time.Time) error
	SetConnectionMapping(ctx context.Context, connID id.ConnectionID, m mapping.Mapping, at time.Time) error
	ListConnections(ctx context.Context, studioKey string) ([]*connection.Connection, error)
	// ActivateConnection makes the studio's connected row for provider the
	// only active one, in a single atomic step.
	ActivateConnection(ctx context.Context, studioKey, provider string, at time.Time) error
	DeactivateConnection(ctx context.Context, connID id.ConnectionID, status connection.Status, lastError string, at time.Time) error
	GetActiveConnection(ctx context.Context, studioKey string) (*connection.Connection, error)
	RecordSyncOutcome(ctx context.Context, connID id.ConnectionID, outcome connection.SyncOutcome) error

	// Sync record methods

	// CreateSyncRecord fails with ErrAlreadyExists when a record for the
	// same (transaction, provider) exists.
	CreateSyncRecord(ctx context.Context, r *syncrecord.Record) error
	GetSyncRecord(ctx context.Context, transactionID, provider string) (*syncrecord.Record, error)
	ListSyncRecords(ctx context.Context, studioKey string, opts syncrecord.ListOpts) ([]*syncrecord.Record, error)
	// ClaimSyncRecord moves a record back to pending if, and only if, it
	// still matches the claim. A lost claim returns ErrSyncInFlight.
	ClaimSyncRecord(ctx context.Context, claim syncrecord.Claim) (*syncrecord.Record, error)
	// CompleteSyncRecord writes the outcome of a pending record.
	CompleteSyncRecord(ctx context.Context, r *syncrecord.Record) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
