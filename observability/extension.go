// Package observability provides a metrics extension for barre that records
// ledger and sync lifecycle counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/plugin"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                   = (*MetricsExtension)(nil)
	_ plugin.OnChargeCreated          = (*MetricsExtension)(nil)
	_ plugin.OnChargeUpdated          = (*MetricsExtension)(nil)
	_ plugin.OnEventBilled            = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRecorded        = (*MetricsExtension)(nil)
	_ plugin.OnConnectionActivated    = (*MetricsExtension)(nil)
	_ plugin.OnConnectionDisconnected = (*MetricsExtension)(nil)
	_ plugin.OnTransactionSynced      = (*MetricsExtension)(nil)
	_ plugin.OnSyncFailed             = (*MetricsExtension)(nil)
	_ plugin.OnSyncSkipped            = (*MetricsExtension)(nil)
	_ plugin.OnSyncRunCompleted       = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a barre plugin to track ledger and sync metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Ledger metrics
	ChargesCreated   Counter
	ChargesCorrected Counter
	EventsBilled     Counter
	ChargeAmount     Histogram
	PaymentsRecorded Counter
	PaymentAmount    Histogram
	UnappliedCredit  Histogram

	// Connection metrics
	ConnectionsActivated    Counter
	ConnectionsDisconnected Counter
	TokensRevoked           Counter

	// Sync metrics
	TransactionsSynced Counter
	SyncFailures       Counter
	SyncSkipped        Counter
	SyncDeferred       Counter
	SyncRuns           Counter
	SyncRunLatency     Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewOTelFactory to back it with an OpenTelemetry meter.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Ledger metrics
		ChargesCreated:   factory.Counter("barre.charge.created"),
		ChargesCorrected: factory.Counter("barre.charge.corrected"),
		EventsBilled:     factory.Counter("barre.event.billed"),
		ChargeAmount:     factory.Histogram("barre.charge.amount"),
		PaymentsRecorded: factory.Counter("barre.payment.recorded"),
		PaymentAmount:    factory.Histogram("barre.payment.amount"),
		UnappliedCredit:  factory.Histogram("barre.payment.unapplied"),

		// Connection metrics
		ConnectionsActivated:    factory.Counter("barre.connection.activated"),
		ConnectionsDisconnected: factory.Counter("barre.connection.disconnected"),
		TokensRevoked:           factory.Counter("barre.connection.token_revoked"),

		// Sync metrics
		TransactionsSynced: factory.Counter("barre.sync.synced"),
		SyncFailures:       factory.Counter("barre.sync.failed"),
		SyncSkipped:        factory.Counter("barre.sync.skipped"),
		SyncDeferred:       factory.Counter("barre.sync.deferred"),
		SyncRuns:           factory.Counter("barre.sync.runs"),
		SyncRunLatency:     factory.Histogram("barre.sync.run.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnChargeCreated implements plugin.OnChargeCreated.
func (m *MetricsExtension) OnChargeCreated(_ context.Context, c *charge.Charge) error {
	m.ChargesCreated.Inc()
	m.ChargeAmount.Observe(float64(c.Amount.Amount))
	return nil
}

// OnChargeUpdated implements plugin.OnChargeUpdated.
func (m *MetricsExtension) OnChargeUpdated(_ context.Context, _, _ *charge.Charge) error {
	m.ChargesCorrected.Inc()
	return nil
}

// OnEventBilled implements plugin.OnEventBilled.
func (m *MetricsExtension) OnEventBilled(_ context.Context, _ *charge.Charge) error {
	m.EventsBilled.Inc()
	return nil
}

// OnPaymentRecorded implements plugin.OnPaymentRecorded.
func (m *MetricsExtension) OnPaymentRecorded(_ context.Context, p *payment.Payment, credit types.Money) error {
	m.PaymentsRecorded.Inc()
	m.PaymentAmount.Observe(float64(p.Amount.Amount))
	if credit.IsPositive() {
		m.UnappliedCredit.Observe(float64(credit.Amount))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Connection hooks
// ──────────────────────────────────────────────────

// OnConnectionActivated implements plugin.OnConnectionActivated.
func (m *MetricsExtension) OnConnectionActivated(_ context.Context, _ *connection.Connection) error {
	m.ConnectionsActivated.Inc()
	return nil
}

// OnConnectionDisconnected implements plugin.OnConnectionDisconnected.
func (m *MetricsExtension) OnConnectionDisconnected(_ context.Context, c *connection.Connection) error {
	if c.Status == connection.StatusError {
		m.TokensRevoked.Inc()
		return nil
	}
	m.ConnectionsDisconnected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Sync hooks
// ──────────────────────────────────────────────────

// OnTransactionSynced implements plugin.OnTransactionSynced.
func (m *MetricsExtension) OnTransactionSynced(_ context.Context, _ *syncrecord.Record) error {
	m.TransactionsSynced.Inc()
	return nil
}

// OnSyncFailed implements plugin.OnSyncFailed.
func (m *MetricsExtension) OnSyncFailed(_ context.Context, _ *syncrecord.Record, _ error) error {
	m.SyncFailures.Inc()
	return nil
}

// OnSyncSkipped implements plugin.OnSyncSkipped.
func (m *MetricsExtension) OnSyncSkipped(_ context.Context, _ *syncrecord.Record, _ string) error {
	m.SyncSkipped.Inc()
	return nil
}

// OnSyncRunCompleted implements plugin.OnSyncRunCompleted. Per-transaction
// outcomes are already counted by the hooks above; deferred ones only show
// up here.
func (m *MetricsExtension) OnSyncRunCompleted(_ context.Context, run plugin.SyncRun) error {
	if run.DryRun {
		return nil
	}
	m.SyncRuns.Inc()
	m.SyncDeferred.Add(float64(run.Deferred))
	m.SyncRunLatency.Observe(float64(run.Elapsed.Milliseconds()))
	return nil
}
