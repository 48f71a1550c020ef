package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/barre"
	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/dancer"
	"github.com/xraph/barre/event"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/mapping"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/store"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/txn"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("barre/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("barre/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Dancer Store ====================

func (s *Store) CreateDancer(ctx context.Context, d *dancer.Dancer) error {
	_, err := s.sdb.NewInsert(toDancerModel(d)).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/sqlite: create dancer: %w", err)
	}
	return nil
}

func (s *Store) GetDancer(ctx context.Context, dancerID id.DancerID) (*dancer.Dancer, error) {
	m := new(dancerModel)
	err := s.sdb.NewSelect(m).Where("id = ?", dancerID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrDancerNotFound
		}
		return nil, fmt.Errorf("barre/sqlite: get dancer: %w", err)
	}
	return fromDancerModel(m)
}

func (s *Store) UpdateDancer(ctx context.Context, d *dancer.Dancer) error {
	res, err := s.sdb.NewUpdate(toDancerModel(d)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/sqlite: update dancer: %w", err)
	}
	return requireRow(res, barre.ErrDancerNotFound)
}

func (s *Store) ListDancers(ctx context.Context, studioKey string, opts dancer.ListOpts) ([]*dancer.Dancer, error) {
	var models []dancerModel
	q := s.sdb.NewSelect(&models).Where("studio_key = ?", studioKey)
	if opts.ActiveOnly {
		q = q.Where("active = TRUE")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("name ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("barre/sqlite: list dancers: %w", err)
	}

	result := make([]*dancer.Dancer, 0, len(models))
	for i := range models {
		d, err := fromDancerModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, e *event.Event) error {
	_, err := s.sdb.NewInsert(toEventModel(e)).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/sqlite: create event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	m := new(eventModel)
	err := s.sdb.NewSelect(m).Where("id = ?", eventID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrEventNotFound
		}
		return nil, fmt.Errorf("barre/sqlite: get event: %w", err)
	}
	return fromEventModel(m)
}

func (s *Store) UpdateEvent(ctx context.Context, e *event.Event) error {
	res, err := s.sdb.NewUpdate(toEventModel(e)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/sqlite: update event: %w", err)
	}
	return requireRow(res, barre.ErrEventNotFound)
}

func (s *Store) ListEvents(ctx context.Context, studioKey string, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.sdb.NewSelect(&models).Where("studio_key = ?", studioKey)

	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if !opts.From.IsZero() {
		q = q.Where("date >= ?", opts.From)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("date ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("barre/sqlite: list events: %w", err)
	}

	result := make([]*event.Event, 0, len(models))
	for i := range models {
		e, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// ==================== Charge Store ====================

func (s *Store) CreateCharge(ctx context.Context, c *charge.Charge) error {
	_, err := s.sdb.NewInsert(chargeToModel(c)).Exec(ctx)
	if err != nil {
		return insertTransactionError("create charge", err)
	}
	return nil
}

func (s *Store) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", chargeID.String()).
		Where("kind = ?", string(txn.KindCharge)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrChargeNotFound
		}
		return nil, fmt.Errorf("barre/sqlite: get charge: %w", err)
	}
	return fromChargeModel(m)
}

func (s *Store) GetChargeByEventFee(ctx context.Context, feeID id.EventFeeID) (*charge.Charge, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("event_fee_id = ?", feeID.String()).
		Where("kind = ?", string(txn.KindCharge)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrEventFeeNotFound
		}
		return nil, fmt.Errorf("barre/sqlite: get charge by event fee: %w", err)
	}
	return fromChargeModel(m)
}

func (s *Store) ListEventCharges(ctx context.Context, eventID id.EventID) ([]*charge.Charge, error) {
	var models []transactionModel
	err := s.sdb.NewSelect(&models).
		Where("event_id = ?", eventID.String()).
		Where("kind = ?", string(txn.KindCharge)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("barre/sqlite: list event charges: %w", err)
	}

	result := make([]*charge.Charge, 0, len(models))
	for i := range models {
		c, err := fromChargeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

func (s *Store) UpdateCharge(ctx context.Context, c *charge.Charge, expectedRevision int) error {
	res, err := s.sdb.NewUpdate((*transactionModel)(nil)).
		Set("amount = ?", c.Amount.Amount).
		Set("currency = ?", c.Amount.Currency).
		Set("description = ?", c.Description).
		Set("due_date = ?", c.DueDate).
		Set("accounting_code = ?", c.AccountingCode).
		Set("revision = ?", c.Revision).
		Set("updated_at = ?", c.UpdatedAt).
		Where("id = ?", c.ID.String()).
		Where("kind = ?", string(txn.KindCharge)).
		Where("locked = FALSE").
		Where("revision = ?", expectedRevision).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/sqlite: update charge: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("barre/sqlite: update charge: %w", err)
	}
	if rows > 0 {
		return nil
	}

	current, err := s.GetCharge(ctx, c.ID)
	if err != nil {
		return err
	}
	if current.Locked {
		return barre.ErrChargeLocked
	}
	return barre.ErrConflict
}

func (s *Store) LockCharge(ctx context.Context, chargeID id.ChargeID) error {
	res, err := s.sdb.NewUpdate((*transactionModel)(nil)).
		Set("locked = TRUE").
		Where("id = ?", chargeID.String()).
		Where("kind = ?", string(txn.KindCharge)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/sqlite: lock charge: %w", err)
	}
	return requireRow(res, barre.ErrChargeNotFound)
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	_, err := s.sdb.NewInsert(paymentToModel(p)).Exec(ctx)
	if err != nil {
		return insertTransactionError("create payment", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", paymentID.String()).
		Where("kind = ?", string(txn.KindPayment)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("barre/sqlite: get payment: %w", err)
	}
	return fromPaymentModel(m)
}

// ==================== Transaction Store ====================

func (s *Store) ListDancerTransactions(ctx context.Context, dancerID id.DancerID) ([]*charge.Charge, []*payment.Payment, error) {
	var models []transactionModel
	err := s.sdb.NewSelect(&models).
		Where("dancer_id = ?", dancerID.String()).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("barre/sqlite: list dancer transactions: %w", err)
	}

	charges := make([]*charge.Charge, 0)
	payments := make([]*payment.Payment, 0)
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, nil, fmt.Errorf("barre/sqlite: list dancer transactions: %w", err)
		}
		if t.Kind == txn.KindCharge {
			charges = append(charges, t.Charge)
		} else {
			payments = append(payments, t.Payment)
		}
	}
	return charges, payments, nil
}

func (s *Store) ListTransactions(ctx context.Context, studioKey string, opts txn.ListOpts) ([]txn.Transaction, error) {
	var models []transactionModel
	q := s.sdb.NewSelect(&models).Where("studio_key = ?", studioKey)

	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if !opts.DancerID.IsNil() {
		q = q.Where("dancer_id = ?", opts.DancerID.String())
	}
	if !opts.EventID.IsNil() {
		// Payments belong to an event through the fee they target.
		q = q.Where(`(event_id = ? OR (kind = 'payment' AND event_fee_id <> '' AND event_fee_id IN (
			SELECT f.event_fee_id FROM barre_transactions f WHERE f.kind = 'charge' AND f.event_id = ?)))`,
			opts.EventID.String(), opts.EventID.String())
	}
	if len(opts.IDs) > 0 {
		q = q.Where(fmt.Sprintf("id IN (%s)", placeholders(len(opts.IDs))), anySlice(opts.IDs)...)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("date DESC, seq DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("barre/sqlite: list transactions: %w", err)
	}

	result := make([]txn.Transaction, 0, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("barre/sqlite: list transactions: %w", err)
		}
		result = append(result, t)
	}
	return result, nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (txn.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).Where("id = ?", transactionID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return txn.Transaction{}, barre.ErrNotFound
		}
		return txn.Transaction{}, fmt.Errorf("barre/sqlite: get transaction: %w", err)
	}
	return fromTransactionModel(m)
}

// ==================== Connection Store ====================

func (s *Store) CreateConnection(ctx context.Context, c *connection.Connection) error {
	m, err := toConnectionModel(c)
	if err != nil {
		return fmt.Errorf("barre/sqlite: create connection: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/sqlite: create connection: %w", err)
	}
	return nil
}

func (s *Store) GetConnection(ctx context.Context, studioKey, provider string) (*connection.Connection, error) {
	m := new(connectionModel)
	err := s.sdb.NewSelect(m).
		Where("studio_key = ?", studioKey).
		Where("provider = ?", provider).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("barre/sqlite: get connection: %w", err)
	}
	return fromConnectionModel(m)
}

func (s *Store) GetConnectionByID(ctx context.Context, connID id.ConnectionID) (*connection.Connection, error) {
	m := new(connectionModel)
	err := s.sdb.NewSelect(m).Where("id = ?", connID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("barre/sqlite: get connection: %w", err)
	}
	return fromConnectionModel(m)
}

func (s *Store) ReconnectConnection(ctx context.Context, connID id.ConnectionID, tokens connection.TokenState, at time.Time) error {
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("barre/sqlite: reconnect connection: %w", err)
	}
	res, err := s.sdb.NewUpdate((*connectionModel)(nil)).
		Set("status = ?", string(connection.StatusConnected)).
		Set("tokens = ?", string(encoded)).
		Set("connected_at = ?", at).
		Set("disconnected_at = ?", (*time.Time)(nil)).
		Set("last_error = ?", "").
		Set("updated_at = ?", at).
		Where("id = ?", connID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/sqlite: reconnect connection: %w", err)
	}
	return requireRow(res, barre.ErrConnectionNotFound)
}

func (s *Store) SetConnectionTokens(ctx context.Context, connID id.ConnectionID, tokens connection.TokenState, at time.Time) error {
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("barre/sqlite: set connection tokens: %w", err)
	}
	return s.setConnectionColumn(ctx, "tokens", string(encoded), connID, at)
}

func (s *Store) SetConnectionMapping(ctx context.Context, connID id.ConnectionID, m mapping.Mapping, at time.Time) error {
	encoded, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("barre/sqlite: set connection mapping: %w", err)
	}
	return s.setConnectionColumn(ctx, "mapping", string(encoded), connID, at)
}

// setConnectionColumn writes one JSON column and updated_at.
func (s *Store) setConnectionColumn(ctx context.Context, column string, value any, connID id.ConnectionID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*connectionModel)(nil)).
		Set(column+" = ?", value).
		Set("updated_at = ?", at).
		Where("id = ?", connID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/sqlite: set connection %s: %w", column, err)
	}
	return requireRow(res, barre.ErrConnectionNotFound)
}

func (s *Store) ListConnections(ctx context.Context, studioKey string) ([]*connection.Connection, error) {
	var models []connectionModel
	err := s.sdb.NewSelect(&models).
		Where("studio_key = ?", studioKey).
		OrderExpr("provider ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("barre/sqlite: list connections: %w", err)
	}

	result := make([]*connection.Connection, 0, len(models))
	for i := range models {
		c, err := fromConnectionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

// ActivateConnection flips is_active for every connection of the studio in
// one statement. SQLite admits a single writer at a time, so the statement
// alone keeps at most one connection active.
func (s *Store) ActivateConnection(ctx context.Context, studioKey, provider string, at time.Time) error {
	res, err := s.sdb.NewUpdate((*connectionModel)(nil)).
		Set("is_active = (provider = ?)", provider).
		Set("updated_at = CASE WHEN is_active = (provider = ?) THEN updated_at ELSE ? END", provider, at).
		Where("studio_key = ?", studioKey).
		Where(`EXISTS (SELECT 1 FROM barre_connections target
			WHERE target.studio_key = ? AND target.provider = ? AND target.status = ?)`,
			studioKey, provider, string(connection.StatusConnected)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/sqlite: activate connection: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("barre/sqlite: activate connection: %w", err)
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.GetConnection(ctx, studioKey, provider); err != nil {
		return err
	}
	return barre.ErrConnectionClosed
}

func (s *Store) DeactivateConnection(ctx context.Context, connID id.ConnectionID, status connection.Status, lastError string, at time.Time) error {
	q := s.sdb.NewUpdate((*connectionModel)(nil)).
		Set("status = ?", string(status)).
		Set("is_active = FALSE").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", at).
		Where("id = ?", connID.String())
	if status == connection.StatusDisconnected {
		q = q.Set("disconnected_at = ?", at)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/sqlite: deactivate connection: %w", err)
	}
	return requireRow(res, barre.ErrConnectionNotFound)
}

func (s *Store) GetActiveConnection(ctx context.Context, studioKey string) (*connection.Connection, error) {
	m := new(connectionModel)
	err := s.sdb.NewSelect(m).
		Where("studio_key = ?", studioKey).
		Where("is_active = TRUE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrNoActiveConnection
		}
		return nil, fmt.Errorf("barre/sqlite: get active connection: %w", err)
	}
	return fromConnectionModel(m)
}

func (s *Store) RecordSyncOutcome(ctx context.Context, connID id.ConnectionID, outcome connection.SyncOutcome) error {
	res, err := s.sdb.NewUpdate((*connectionModel)(nil)).
		Set("last_synced_at = ?", outcome.At).
		Set("last_error = ?", outcome.LastError).
		Set("updated_at = ?", outcome.At).
		Where("id = ?", connID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/sqlite: record sync outcome: %w", err)
	}
	return requireRow(res, barre.ErrConnectionNotFound)
}

// ==================== Sync Record Store ====================

func (s *Store) CreateSyncRecord(ctx context.Context, r *syncrecord.Record) error {
	_, err := s.sdb.NewInsert(toSyncRecordModel(r)).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/sqlite: create sync record: %w", err)
	}
	return nil
}

func (s *Store) GetSyncRecord(ctx context.Context, transactionID, provider string) (*syncrecord.Record, error) {
	m := new(syncRecordModel)
	err := s.sdb.NewSelect(m).
		Where("transaction_id = ?", transactionID).
		Where("provider = ?", provider).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrSyncRecordNotFound
		}
		return nil, fmt.Errorf("barre/sqlite: get sync record: %w", err)
	}
	return fromSyncRecordModel(m)
}

func (s *Store) getSyncRecordByID(ctx context.Context, recID id.SyncRecordID) (*syncrecord.Record, error) {
	m := new(syncRecordModel)
	err := s.sdb.NewSelect(m).Where("id = ?", recID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrSyncRecordNotFound
		}
		return nil, fmt.Errorf("barre/sqlite: get sync record: %w", err)
	}
	return fromSyncRecordModel(m)
}

func (s *Store) ListSyncRecords(ctx context.Context, studioKey string, opts syncrecord.ListOpts) ([]*syncrecord.Record, error) {
	var models []syncRecordModel
	q := s.sdb.NewSelect(&models).Where("studio_key = ?", studioKey)

	if opts.Provider != "" {
		q = q.Where("provider = ?", opts.Provider)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if len(opts.TransactionIDs) > 0 {
		q = q.Where(fmt.Sprintf("transaction_id IN (%s)", placeholders(len(opts.TransactionIDs))),
			anySlice(opts.TransactionIDs)...)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("updated_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("barre/sqlite: list sync records: %w", err)
	}

	result := make([]*syncrecord.Record, 0, len(models))
	for i := range models {
		r, err := fromSyncRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

// ClaimSyncRecord is a compare-and-set on status: the UPDATE only matches
// while the row is in one of claim.From or is a pending row whose lease
// expired before claim.StaleBefore. The claim token names the new owner.
func (s *Store) ClaimSyncRecord(ctx context.Context, claim syncrecord.Claim) (*syncrecord.Record, error) {
	var (
		conds []string
		args  []any
	)
	if len(claim.From) > 0 {
		conds = append(conds, fmt.Sprintf("status IN (%s)", placeholders(len(claim.From))))
		args = append(args, anySlice(claim.From)...)
	}
	if !claim.StaleBefore.IsZero() {
		conds = append(conds, "(status = ? AND updated_at < ?)")
		args = append(args, string(syncrecord.StatusPending), claim.StaleBefore)
	}
	if len(conds) == 0 {
		conds = append(conds, "FALSE")
	}

	at := claim.At
	res, err := s.sdb.NewUpdate((*syncRecordModel)(nil)).
		Set("status = ?", string(syncrecord.StatusPending)).
		Set("connection_id = ?", claim.ConnectionID.String()).
		Set("fingerprint = ?", claim.Fingerprint).
		Set("external_object_type = ?", string(claim.ObjectType)).
		Set("last_attempt_at = ?", at).
		Set("updated_at = ?", at).
		Set("claim_token = ?", claim.Token).
		Where("id = ?", claim.RecordID.String()).
		Where("("+strings.Join(conds, " OR ")+")", args...).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("barre/sqlite: claim sync record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("barre/sqlite: claim sync record: %w", err)
	}
	if rows == 0 {
		if _, err := s.getSyncRecordByID(ctx, claim.RecordID); err != nil {
			return nil, err
		}
		return nil, barre.ErrSyncInFlight
	}
	return s.getSyncRecordByID(ctx, claim.RecordID)
}

func (s *Store) CompleteSyncRecord(ctx context.Context, r *syncrecord.Record) error {
	res, err := s.sdb.NewUpdate((*syncRecordModel)(nil)).
		Set("status = ?", string(r.Status)).
		Set("external_object_id = ?", r.ExternalObjectID).
		Set("retry_count = ?", r.RetryCount).
		Set("last_error = ?", r.LastError).
		Set("synced_at = ?", r.SyncedAt).
		Set("updated_at = ?", r.UpdatedAt).
		Set("claim_token = ?", "").
		Where("id = ?", r.ID.String()).
		Where("status = ?", string(syncrecord.StatusPending)).
		Where("claim_token = ?", r.ClaimToken).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/sqlite: complete sync record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("barre/sqlite: complete sync record: %w", err)
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.getSyncRecordByID(ctx, r.ID); err != nil {
		return err
	}
	return barre.ErrConflict
}

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation matches the modernc.org/sqlite constraint message,
// which names the offending columns.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// insertTransactionError maps the unique indexes on barre_transactions to
// the ledger's sentinels.
func insertTransactionError(op string, err error) error {
	if !isUniqueViolation(err) {
		return fmt.Errorf("barre/sqlite: %s: %w", op, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "barre_transactions.event_id"),
		strings.Contains(msg, "barre_transactions.event_fee_id"):
		return barre.ErrEventAlreadyBilled
	case strings.Contains(msg, "barre_transactions.seq"):
		return barre.ErrConflict
	default:
		return barre.ErrAlreadyExists
	}
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffecter, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// placeholders returns "?, ?, ..." for count positional args.
func placeholders(count int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

func anySlice[T ~string](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
