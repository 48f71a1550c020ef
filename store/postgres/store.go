package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("barre/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("barre/postgres: migration failed: %w", err)
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
	_, err := s.pg.NewInsert(toDancerModel(d)).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/postgres: create dancer: %w", err)
	}
	return nil
}

func (s *Store) GetDancer(ctx context.Context, dancerID id.DancerID) (*dancer.Dancer, error) {
	m := new(dancerModel)
	err := s.pg.NewSelect(m).Where("id = $1", dancerID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrDancerNotFound
		}
		return nil, fmt.Errorf("barre/postgres: get dancer: %w", err)
	}
	return fromDancerModel(m)
}

func (s *Store) UpdateDancer(ctx context.Context, d *dancer.Dancer) error {
	res, err := s.pg.NewUpdate(toDancerModel(d)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/postgres: update dancer: %w", err)
	}
	return requireRow(res, barre.ErrDancerNotFound)
}

func (s *Store) ListDancers(ctx context.Context, studioKey string, opts dancer.ListOpts) ([]*dancer.Dancer, error) {
	var models []dancerModel
	q := s.pg.NewSelect(&models).Where("studio_key = $1", studioKey)
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
		return nil, fmt.Errorf("barre/postgres: list dancers: %w", err)
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
	_, err := s.pg.NewInsert(toEventModel(e)).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/postgres: create event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).Where("id = $1", eventID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrEventNotFound
		}
		return nil, fmt.Errorf("barre/postgres: get event: %w", err)
	}
	return fromEventModel(m)
}

func (s *Store) UpdateEvent(ctx context.Context, e *event.Event) error {
	res, err := s.pg.NewUpdate(toEventModel(e)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/postgres: update event: %w", err)
	}
	return requireRow(res, barre.ErrEventNotFound)
}

func (s *Store) ListEvents(ctx context.Context, studioKey string, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models).Where("studio_key = $1", studioKey)

	argIdx := 1
	if opts.Kind != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("kind = $%d", argIdx), string(opts.Kind))
	}
	if !opts.From.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("date >= $%d", argIdx), opts.From)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("date ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("barre/postgres: list events: %w", err)
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
	_, err := s.pg.NewInsert(chargeToModel(c)).Exec(ctx)
	if err != nil {
		return insertTransactionError("create charge", err)
	}
	return nil
}

func (s *Store) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", chargeID.String()).
		Where("kind = $2", string(txn.KindCharge)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrChargeNotFound
		}
		return nil, fmt.Errorf("barre/postgres: get charge: %w", err)
	}
	return fromChargeModel(m)
}

func (s *Store) GetChargeByEventFee(ctx context.Context, feeID id.EventFeeID) (*charge.Charge, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).
		Where("event_fee_id = $1", feeID.String()).
		Where("kind = $2", string(txn.KindCharge)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrEventFeeNotFound
		}
		return nil, fmt.Errorf("barre/postgres: get charge by event fee: %w", err)
	}
	return fromChargeModel(m)
}

func (s *Store) ListEventCharges(ctx context.Context, eventID id.EventID) ([]*charge.Charge, error) {
	var models []transactionModel
	err := s.pg.NewSelect(&models).
		Where("event_id = $1", eventID.String()).
		Where("kind = $2", string(txn.KindCharge)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("barre/postgres: list event charges: %w", err)
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
	res, err := s.pg.NewUpdate((*transactionModel)(nil)).
		Set("amount = $1", c.Amount.Amount).
		Set("currency = $2", c.Amount.Currency).
		Set("description = $3", c.Description).
		Set("due_date = $4", c.DueDate).
		Set("accounting_code = $5", c.AccountingCode).
		Set("revision = $6", c.Revision).
		Set("updated_at = $7", c.UpdatedAt).
		Where("id = $8", c.ID.String()).
		Where("kind = $9", string(txn.KindCharge)).
		Where("locked = FALSE").
		Where("revision = $10", expectedRevision).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/postgres: update charge: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("barre/postgres: update charge: %w", err)
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
	res, err := s.pg.NewUpdate((*transactionModel)(nil)).
		Set("locked = TRUE").
		Where("id = $1", chargeID.String()).
		Where("kind = $2", string(txn.KindCharge)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/postgres: lock charge: %w", err)
	}
	return requireRow(res, barre.ErrChargeNotFound)
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	_, err := s.pg.NewInsert(paymentToModel(p)).Exec(ctx)
	if err != nil {
		return insertTransactionError("create payment", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", paymentID.String()).
		Where("kind = $2", string(txn.KindPayment)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("barre/postgres: get payment: %w", err)
	}
	return fromPaymentModel(m)
}

// ==================== Transaction Store ====================

func (s *Store) ListDancerTransactions(ctx context.Context, dancerID id.DancerID) ([]*charge.Charge, []*payment.Payment, error) {
	var models []transactionModel
	err := s.pg.NewSelect(&models).
		Where("dancer_id = $1", dancerID.String()).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("barre/postgres: list dancer transactions: %w", err)
	}

	charges := make([]*charge.Charge, 0)
	payments := make([]*payment.Payment, 0)
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, nil, fmt.Errorf("barre/postgres: list dancer transactions: %w", err)
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
	q := s.pg.NewSelect(&models).Where("studio_key = $1", studioKey)

	argIdx := 1
	if opts.Kind != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("kind = $%d", argIdx), string(opts.Kind))
	}
	if !opts.DancerID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("dancer_id = $%d", argIdx), opts.DancerID.String())
	}
	if !opts.EventID.IsNil() {
		// Payments belong to an event through the fee they target.
		argIdx++
		q = q.Where(fmt.Sprintf(`(event_id = $%[1]d OR (kind = 'payment' AND event_fee_id <> '' AND event_fee_id IN (
			SELECT f.event_fee_id FROM barre_transactions f WHERE f.kind = 'charge' AND f.event_id = $%[1]d)))`, argIdx),
			opts.EventID.String())
	}
	if len(opts.IDs) > 0 {
		q = q.Where(fmt.Sprintf("id IN (%s)", placeholders(argIdx+1, len(opts.IDs))), anySlice(opts.IDs)...)
		argIdx += len(opts.IDs)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("date DESC, seq DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("barre/postgres: list transactions: %w", err)
	}

	result := make([]txn.Transaction, 0, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("barre/postgres: list transactions: %w", err)
		}
		result = append(result, t)
	}
	return result, nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (txn.Transaction, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).Where("id = $1", transactionID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return txn.Transaction{}, barre.ErrNotFound
		}
		return txn.Transaction{}, fmt.Errorf("barre/postgres: get transaction: %w", err)
	}
	return fromTransactionModel(m)
}

// ==================== Connection Store ====================

func (s *Store) CreateConnection(ctx context.Context, c *connection.Connection) error {
	m, err := toConnectionModel(c)
	if err != nil {
		return fmt.Errorf("barre/postgres: create connection: %w", err)
	}
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		switch {
		case isUniqueViolation(err):
			return barre.ErrAlreadyExists
		case isExclusionViolation(err):
			return barre.ErrConflict
		}
		return fmt.Errorf("barre/postgres: create connection: %w", err)
	}
	return nil
}

func (s *Store) GetConnection(ctx context.Context, studioKey, provider string) (*connection.Connection, error) {
	m := new(connectionModel)
	err := s.pg.NewSelect(m).
		Where("studio_key = $1", studioKey).
		Where("provider = $2", provider).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("barre/postgres: get connection: %w", err)
	}
	return fromConnectionModel(m)
}

func (s *Store) GetConnectionByID(ctx context.Context, connID id.ConnectionID) (*connection.Connection, error) {
	m := new(connectionModel)
	err := s.pg.NewSelect(m).Where("id = $1", connID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("barre/postgres: get connection: %w", err)
	}
	return fromConnectionModel(m)
}

func (s *Store) ReconnectConnection(ctx context.Context, connID id.ConnectionID, tokens connection.TokenState, at time.Time) error {
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("barre/postgres: reconnect connection: %w", err)
	}
	res, err := s.pg.NewUpdate((*connectionModel)(nil)).
		Set("status = $1", string(connection.StatusConnected)).
		Set("tokens = $2", encoded).
		Set("connected_at = $3", at).
		Set("disconnected_at = $4", (*time.Time)(nil)).
		Set("last_error = $5", "").
		Set("updated_at = $6", at).
		Where("id = $7", connID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/postgres: reconnect connection: %w", err)
	}
	return requireRow(res, barre.ErrConnectionNotFound)
}

func (s *Store) SetConnectionTokens(ctx context.Context, connID id.ConnectionID, tokens connection.TokenState, at time.Time) error {
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("barre/postgres: set connection tokens: %w", err)
	}
	return s.setConnectionColumn(ctx, "tokens", encoded, connID, at)
}

func (s *Store) SetConnectionMapping(ctx context.Context, connID id.ConnectionID, m mapping.Mapping, at time.Time) error {
	encoded, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("barre/postgres: set connection mapping: %w", err)
	}
	return s.setConnectionColumn(ctx, "mapping", encoded, connID, at)
}

// setConnectionColumn writes one JSON column and updated_at.
func (s *Store) setConnectionColumn(ctx context.Context, column string, value any, connID id.ConnectionID, at time.Time) error {
	res, err := s.pg.NewUpdate((*connectionModel)(nil)).
		Set(column+" = $1", value).
		Set("updated_at = $2", at).
		Where("id = $3", connID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/postgres: set connection %s: %w", column, err)
	}
	return requireRow(res, barre.ErrConnectionNotFound)
}

func (s *Store) ListConnections(ctx context.Context, studioKey string) ([]*connection.Connection, error) {
	var models []connectionModel
	err := s.pg.NewSelect(&models).
		Where("studio_key = $1", studioKey).
		OrderExpr("provider ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("barre/postgres: list connections: %w", err)
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
// one statement. Concurrent activations serialize on the row locks and the
// last one to commit wins.
func (s *Store) ActivateConnection(ctx context.Context, studioKey, provider string, at time.Time) error {
	res, err := s.pg.NewUpdate((*connectionModel)(nil)).
		Set("is_active = (provider = $1)", provider).
		Set("updated_at = CASE WHEN is_active = (provider = $2) THEN updated_at ELSE $3 END", provider, at).
		Where("studio_key = $4", studioKey).
		Where(`EXISTS (SELECT 1 FROM barre_connections target
			WHERE target.studio_key = $5 AND target.provider = $6 AND target.status = $7)`,
			studioKey, provider, string(connection.StatusConnected)).
		Exec(ctx)
	if err != nil {
		if isExclusionViolation(err) {
			return barre.ErrConflict
		}
		return fmt.Errorf("barre/postgres: activate connection: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("barre/postgres: activate connection: %w", err)
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
	q := s.pg.NewUpdate((*connectionModel)(nil)).
		Set("status = $1", string(status)).
		Set("is_active = FALSE").
		Set("last_error = $2", lastError).
		Set("updated_at = $3", at).
		Where("id = $4", connID.String())
	if status == connection.StatusDisconnected {
		q = q.Set("disconnected_at = $5", at)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/postgres: deactivate connection: %w", err)
	}
	return requireRow(res, barre.ErrConnectionNotFound)
}

func (s *Store) GetActiveConnection(ctx context.Context, studioKey string) (*connection.Connection, error) {
	m := new(connectionModel)
	err := s.pg.NewSelect(m).
		Where("studio_key = $1", studioKey).
		Where("is_active = TRUE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrNoActiveConnection
		}
		return nil, fmt.Errorf("barre/postgres: get active connection: %w", err)
	}
	return fromConnectionModel(m)
}

func (s *Store) RecordSyncOutcome(ctx context.Context, connID id.ConnectionID, outcome connection.SyncOutcome) error {
	res, err := s.pg.NewUpdate((*connectionModel)(nil)).
		Set("last_synced_at = $1", outcome.At).
		Set("last_error = $2", outcome.LastError).
		Set("updated_at = $3", outcome.At).
		Where("id = $4", connID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/postgres: record sync outcome: %w", err)
	}
	return requireRow(res, barre.ErrConnectionNotFound)
}

// ==================== Sync Record Store ====================

func (s *Store) CreateSyncRecord(ctx context.Context, r *syncrecord.Record) error {
	_, err := s.pg.NewInsert(toSyncRecordModel(r)).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/postgres: create sync record: %w", err)
	}
	return nil
}

func (s *Store) GetSyncRecord(ctx context.Context, transactionID, provider string) (*syncrecord.Record, error) {
	m := new(syncRecordModel)
	err := s.pg.NewSelect(m).
		Where("transaction_id = $1", transactionID).
		Where("provider = $2", provider).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrSyncRecordNotFound
		}
		return nil, fmt.Errorf("barre/postgres: get sync record: %w", err)
	}
	return fromSyncRecordModel(m)
}

func (s *Store) getSyncRecordByID(ctx context.Context, recID id.SyncRecordID) (*syncrecord.Record, error) {
	m := new(syncRecordModel)
	err := s.pg.NewSelect(m).Where("id = $1", recID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, barre.ErrSyncRecordNotFound
		}
		return nil, fmt.Errorf("barre/postgres: get sync record: %w", err)
	}
	return fromSyncRecordModel(m)
}

func (s *Store) ListSyncRecords(ctx context.Context, studioKey string, opts syncrecord.ListOpts) ([]*syncrecord.Record, error) {
	var models []syncRecordModel
	q := s.pg.NewSelect(&models).Where("studio_key = $1", studioKey)

	argIdx := 1
	if opts.Provider != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("provider = $%d", argIdx), opts.Provider)
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if len(opts.TransactionIDs) > 0 {
		q = q.Where(fmt.Sprintf("transaction_id IN (%s)", placeholders(argIdx+1, len(opts.TransactionIDs))),
			anySlice(opts.TransactionIDs)...)
		argIdx += len(opts.TransactionIDs)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("updated_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("barre/postgres: list sync records: %w", err)
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
	argIdx := 8
	if len(claim.From) > 0 {
		conds = append(conds, fmt.Sprintf("status IN (%s)", placeholders(argIdx+1, len(claim.From))))
		args = append(args, anySlice(claim.From)...)
		argIdx += len(claim.From)
	}
	if !claim.StaleBefore.IsZero() {
		conds = append(conds, fmt.Sprintf("(status = $%d AND updated_at < $%d)", argIdx+1, argIdx+2))
		args = append(args, string(syncrecord.StatusPending), claim.StaleBefore)
	}
	if len(conds) == 0 {
		conds = append(conds, "FALSE")
	}

	at := claim.At
	res, err := s.pg.NewUpdate((*syncRecordModel)(nil)).
		Set("status = $1", string(syncrecord.StatusPending)).
		Set("connection_id = $2", claim.ConnectionID.String()).
		Set("fingerprint = $3", claim.Fingerprint).
		Set("external_object_type = $4", string(claim.ObjectType)).
		Set("last_attempt_at = $5", at).
		Set("updated_at = $6", at).
		Set("claim_token = $7", claim.Token).
		Where("id = $8", claim.RecordID.String()).
		Where("("+strings.Join(conds, " OR ")+")", args...).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("barre/postgres: claim sync record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("barre/postgres: claim sync record: %w", err)
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
	res, err := s.pg.NewUpdate((*syncRecordModel)(nil)).
		Set("status = $1", string(r.Status)).
		Set("external_object_id = $2", r.ExternalObjectID).
		Set("retry_count = $3", r.RetryCount).
		Set("last_error = $4", r.LastError).
		Set("synced_at = $5", r.SyncedAt).
		Set("updated_at = $6", r.UpdatedAt).
		Set("claim_token = $7", "").
		Where("id = $8", r.ID.String()).
		Where("status = $9", string(syncrecord.StatusPending)).
		Where("claim_token = $10", r.ClaimToken).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/postgres: complete sync record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("barre/postgres: complete sync record: %w", err)
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

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == "23505" || strings.Contains(err.Error(), "SQLSTATE 23505")
}

func isExclusionViolation(err error) bool {
	return sqlState(err) == "23P01" || strings.Contains(err.Error(), "SQLSTATE 23P01")
}

// insertTransactionError maps the unique indexes on barre_transactions to
// the ledger's sentinels.
func insertTransactionError(op string, err error) error {
	if !isUniqueViolation(err) {
		return fmt.Errorf("barre/postgres: %s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	constraint := err.Error()
	if errors.As(err, &pgErr) {
		constraint = pgErr.ConstraintName
	}
	switch {
	case strings.Contains(constraint, "idx_barre_transactions_dancer_event"),
		strings.Contains(constraint, "idx_barre_transactions_event_fee"):
		return barre.ErrEventAlreadyBilled
	case strings.Contains(constraint, "idx_barre_transactions_dancer_seq"):
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

// placeholders returns "$start, $start+1, ..." for count positional args.
func placeholders(start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func anySlice[T ~string](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
