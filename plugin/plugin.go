// Package plugin provides an extensible plugin system for barre.
// Plugins can hook into ledger, connection and sync lifecycle events.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/provider"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnChargeCreated is called after a charge is booked.
type OnChargeCreated interface {
	Plugin
	OnChargeCreated(ctx context.Context, c *charge.Charge) error
}

// OnChargeUpdated is called after a charge is corrected.
type OnChargeUpdated interface {
	Plugin
	OnChargeUpdated(ctx context.Context, oldCharge, newCharge *charge.Charge) error
}

// OnEventBilled is called after a finance event fee is billed to a dancer.
type OnEventBilled interface {
	Plugin
	OnEventBilled(ctx context.Context, c *charge.Charge) error
}

// OnPaymentRecorded is called after a payment is booked. credit is the
// part of the payment left unapplied.
type OnPaymentRecorded interface {
	Plugin
	OnPaymentRecorded(ctx context.Context, p *payment.Payment, credit types.Money) error
}

// ──────────────────────────────────────────────────
// Connection hooks
// ──────────────────────────────────────────────────

// OnConnectionActivated is called when a connection becomes the studio's
// active destination.
type OnConnectionActivated interface {
	Plugin
	OnConnectionActivated(ctx context.Context, c *connection.Connection) error
}

// OnConnectionDisconnected is called when a connection is disconnected or
// its tokens are revoked.
type OnConnectionDisconnected interface {
	Plugin
	OnConnectionDisconnected(ctx context.Context, c *connection.Connection) error
}

// ──────────────────────────────────────────────────
// Sync hooks
// ──────────────────────────────────────────────────

// OnTransactionSynced is called when a provider confirms a push.
type OnTransactionSynced interface {
	Plugin
	OnTransactionSynced(ctx context.Context, r *syncrecord.Record) error
}

// OnSyncFailed is called when a push fails transiently.
type OnSyncFailed interface {
	Plugin
	OnSyncFailed(ctx context.Context, r *syncrecord.Record, err error) error
}

// OnSyncSkipped is called when a push is definitively rejected.
type OnSyncSkipped interface {
	Plugin
	OnSyncSkipped(ctx context.Context, r *syncrecord.Record, reason string) error
}

// SyncRun summarizes one sync run for observers.
type SyncRun struct {
	StudioKey string
	Provider  string
	Synced    int
	Failed    int
	Skipped   int
	Deferred  int
	Unchanged int
	DryRun    bool
	Elapsed   time.Duration
}

// OnSyncRunCompleted is called at the end of every sync run.
type OnSyncRunCompleted interface {
	Plugin
	OnSyncRunCompleted(ctx context.Context, run SyncRun) error
}

// ──────────────────────────────────────────────────
// Accounting providers
// ──────────────────────────────────────────────────

// AccountingProviderPlugin contributes an accounting provider.
type AccountingProviderPlugin interface {
	Plugin
	Provider() provider.Provider
}
