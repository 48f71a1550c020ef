package audithook

// Action constants for audit events.
const (
	// Ledger actions
	ActionChargeCreated   = "charge.created"
	ActionChargeCorrected = "charge.corrected"
	ActionEventBilled     = "event.billed"
	ActionPaymentRecorded = "payment.recorded"

	// Connection actions
	ActionConnectionActivated    = "connection.activated"
	ActionConnectionDisconnected = "connection.disconnected"

	// Sync actions
	ActionTransactionSynced = "sync.synced"
	ActionSyncFailed        = "sync.failed"
	ActionSyncSkipped       = "sync.skipped"
	ActionSyncRunCompleted  = "sync.run_completed"
)

// Resource constants for audit events.
const (
	ResourceCharge     = "charge"
	ResourcePayment    = "payment"
	ResourceConnection = "connection"
	ResourceSyncRecord = "sync_record"
	ResourceSyncRun    = "sync_run"
)

// Category constants for audit events.
const (
	CategoryLedger      = "ledger"
	CategoryPayment     = "payment"
	CategoryIntegration = "integration"
	CategorySync        = "sync"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)

// knownActions lists every action the extension can emit.
var knownActions = []string{
	ActionChargeCreated,
	ActionChargeCorrected,
	ActionEventBilled,
	ActionPaymentRecorded,
	ActionConnectionActivated,
	ActionConnectionDisconnected,
	ActionTransactionSynced,
	ActionSyncFailed,
	ActionSyncSkipped,
	ActionSyncRunCompleted,
}
