// Package audithook bridges barre lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/plugin"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                   = (*Extension)(nil)
	_ plugin.OnChargeCreated          = (*Extension)(nil)
	_ plugin.OnChargeUpdated          = (*Extension)(nil)
	_ plugin.OnEventBilled            = (*Extension)(nil)
	_ plugin.OnPaymentRecorded        = (*Extension)(nil)
	_ plugin.OnConnectionActivated    = (*Extension)(nil)
	_ plugin.OnConnectionDisconnected = (*Extension)(nil)
	_ plugin.OnTransactionSynced      = (*Extension)(nil)
	_ plugin.OnSyncFailed             = (*Extension)(nil)
	_ plugin.OnSyncSkipped            = (*Extension)(nil)
	_ plugin.OnSyncRunCompleted       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly. Callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges barre lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnChargeCreated implements plugin.OnChargeCreated.
func (e *Extension) OnChargeCreated(ctx context.Context, c *charge.Charge) error {
	return e.record(ctx, ActionChargeCreated, SeverityInfo, OutcomeSuccess,
		ResourceCharge, c.ID.String(), CategoryLedger, nil,
		"studio_key", c.StudioKey,
		"dancer_id", c.DancerID.String(),
		"kind", string(c.Kind),
		"amount", c.Amount.Amount,
		"currency", c.Amount.Currency,
	)
}

// OnChargeUpdated implements plugin.OnChargeUpdated.
func (e *Extension) OnChargeUpdated(ctx context.Context, oldCharge, newCharge *charge.Charge) error {
	return e.record(ctx, ActionChargeCorrected, SeverityInfo, OutcomeSuccess,
		ResourceCharge, newCharge.ID.String(), CategoryLedger, nil,
		"studio_key", newCharge.StudioKey,
		"dancer_id", newCharge.DancerID.String(),
		"old_amount", oldCharge.Amount.Amount,
		"new_amount", newCharge.Amount.Amount,
		"revision", newCharge.Revision,
	)
}

// OnEventBilled implements plugin.OnEventBilled.
func (e *Extension) OnEventBilled(ctx context.Context, c *charge.Charge) error {
	return e.record(ctx, ActionEventBilled, SeverityInfo, OutcomeSuccess,
		ResourceCharge, c.ID.String(), CategoryLedger, nil,
		"studio_key", c.StudioKey,
		"dancer_id", c.DancerID.String(),
		"event_id", c.EventID.String(),
		"event_fee_id", c.EventFeeID.String(),
		"amount", c.Amount.Amount,
	)
}

// OnPaymentRecorded implements plugin.OnPaymentRecorded.
func (e *Extension) OnPaymentRecorded(ctx context.Context, p *payment.Payment, credit types.Money) error {
	return e.record(ctx, ActionPaymentRecorded, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.ID.String(), CategoryPayment, nil,
		"studio_key", p.StudioKey,
		"dancer_id", p.DancerID.String(),
		"amount", p.Amount.Amount,
		"currency", p.Amount.Currency,
		"unapplied", credit.Amount,
	)
}

// ──────────────────────────────────────────────────
// Connection hooks
// ──────────────────────────────────────────────────

// OnConnectionActivated implements plugin.OnConnectionActivated.
func (e *Extension) OnConnectionActivated(ctx context.Context, c *connection.Connection) error {
	return e.record(ctx, ActionConnectionActivated, SeverityInfo, OutcomeSuccess,
		ResourceConnection, c.ID.String(), CategoryIntegration, nil,
		"studio_key", c.StudioKey,
		"provider", c.Provider,
	)
}

// OnConnectionDisconnected implements plugin.OnConnectionDisconnected.
// A revoked token is recorded as a warning.
func (e *Extension) OnConnectionDisconnected(ctx context.Context, c *connection.Connection) error {
	severity := SeverityInfo
	if c.Status == connection.StatusError {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionConnectionDisconnected, severity, OutcomeSuccess,
		ResourceConnection, c.ID.String(), CategoryIntegration, nil,
		"studio_key", c.StudioKey,
		"provider", c.Provider,
		"status", string(c.Status),
		"last_error", c.LastError,
	)
}

// ──────────────────────────────────────────────────
// Sync hooks
// ──────────────────────────────────────────────────

// OnTransactionSynced implements plugin.OnTransactionSynced.
func (e *Extension) OnTransactionSynced(ctx context.Context, r *syncrecord.Record) error {
	return e.record(ctx, ActionTransactionSynced, SeverityInfo, OutcomeSuccess,
		ResourceSyncRecord, r.TransactionID, CategorySync, nil,
		"provider", r.Provider,
		"object_type", string(r.ObjectType),
		"external_object_id", r.ExternalObjectID,
	)
}

// OnSyncFailed implements plugin.OnSyncFailed.
func (e *Extension) OnSyncFailed(ctx context.Context, r *syncrecord.Record, err error) error {
	return e.record(ctx, ActionSyncFailed, SeverityWarning, OutcomeFailure,
		ResourceSyncRecord, r.TransactionID, CategorySync, err,
		"provider", r.Provider,
		"retry_count", r.RetryCount,
	)
}

// OnSyncSkipped implements plugin.OnSyncSkipped.
func (e *Extension) OnSyncSkipped(ctx context.Context, r *syncrecord.Record, reason string) error {
	return e.record(ctx, ActionSyncSkipped, SeverityError, OutcomeFailure,
		ResourceSyncRecord, r.TransactionID, CategorySync, nil,
		"provider", r.Provider,
		"reason", reason,
	)
}

// OnSyncRunCompleted implements plugin.OnSyncRunCompleted. Dry runs are
// not audited.
func (e *Extension) OnSyncRunCompleted(ctx context.Context, run plugin.SyncRun) error {
	if run.DryRun {
		return nil
	}
	outcome, severity := OutcomeSuccess, SeverityInfo
	switch {
	case run.Failed+run.Skipped > 0 && run.Synced > 0:
		outcome, severity = OutcomePartial, SeverityWarning
	case run.Failed+run.Skipped > 0:
		outcome, severity = OutcomeFailure, SeverityWarning
	}
	return e.record(ctx, ActionSyncRunCompleted, severity, outcome,
		ResourceSyncRun, run.StudioKey, CategorySync, nil,
		"provider", run.Provider,
		"synced", run.Synced,
		"failed", run.Failed,
		"skipped", run.Skipped,
		"deferred", run.Deferred,
		"elapsed_ms", run.Elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
