package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

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

// Collection name constants.
const (
	colDancers      = "barre_dancers"
	colEvents       = "barre_events"
	colTransactions = "barre_transactions"
	colConnections  = "barre_connections"
	colSyncRecords  = "barre_sync_records"
)

// Index names that map duplicate-key errors back to ledger sentinels.
const (
	idxDancerSeq   = "uniq_dancer_seq"
	idxDancerEvent = "uniq_dancer_event"
	idxEventFee    = "uniq_event_fee"
	idxOneActive   = "uniq_active_connection"
)

// activateAttempts bounds how often ActivateConnection retries after
// losing a race to a concurrent activation.
const activateAttempts = 5

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all barre collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("barre/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(toDancerModel(d)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/mongo: create dancer: %w", err)
	}
	return nil
}

func (s *Store) GetDancer(ctx context.Context, dancerID id.DancerID) (*dancer.Dancer, error) {
	var m dancerModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": dancerID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, barre.ErrDancerNotFound
		}
		return nil, fmt.Errorf("barre/mongo: get dancer: %w", err)
	}
	return fromDancerModel(&m)
}

func (s *Store) UpdateDancer(ctx context.Context, d *dancer.Dancer) error {
	m := toDancerModel(d)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/mongo: update dancer: %w", err)
	}
	if res.MatchedCount() == 0 {
		return barre.ErrDancerNotFound
	}
	return nil
}

func (s *Store) ListDancers(ctx context.Context, studioKey string, opts dancer.ListOpts) ([]*dancer.Dancer, error) {
	var models []dancerModel

	filter := bson.M{"studio_key": studioKey}
	if opts.ActiveOnly {
		filter["active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("barre/mongo: list dancers: %w", err)
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
	_, err := s.mdb.NewInsert(toEventModel(e)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/mongo: create event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	var m eventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": eventID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, barre.ErrEventNotFound
		}
		return nil, fmt.Errorf("barre/mongo: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) UpdateEvent(ctx context.Context, e *event.Event) error {
	m := toEventModel(e)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/mongo: update event: %w", err)
	}
	if res.MatchedCount() == 0 {
		return barre.ErrEventNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, studioKey string, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel

	filter := bson.M{"studio_key": studioKey}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}
	if !opts.From.IsZero() {
		filter["date"] = bson.M{"$gte": opts.From}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("barre/mongo: list events: %w", err)
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
	_, err := s.mdb.NewInsert(chargeToModel(c)).Exec(ctx)
	if err != nil {
		return insertTransactionError("create charge", err)
	}
	return nil
}

func (s *Store) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	t, err := s.findTransaction(ctx, bson.M{"_id": chargeID.String(), "kind": string(txn.KindCharge)})
	if err != nil {
		if isNoDocuments(err) {
			return nil, barre.ErrChargeNotFound
		}
		return nil, fmt.Errorf("barre/mongo: get charge: %w", err)
	}
	return t.Charge, nil
}

func (s *Store) GetChargeByEventFee(ctx context.Context, feeID id.EventFeeID) (*charge.Charge, error) {
	t, err := s.findTransaction(ctx, bson.M{"event_fee_id": feeID.String(), "kind": string(txn.KindCharge)})
	if err != nil {
		if isNoDocuments(err) {
			return nil, barre.ErrEventFeeNotFound
		}
		return nil, fmt.Errorf("barre/mongo: get charge by event fee: %w", err)
	}
	return t.Charge, nil
}

func (s *Store) ListEventCharges(ctx context.Context, eventID id.EventID) ([]*charge.Charge, error) {
	txns, err := s.findTransactions(ctx,
		bson.M{"event_id": eventID.String(), "kind": string(txn.KindCharge)},
		bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("barre/mongo: list event charges: %w", err)
	}
	charges, _ := txn.Split(txns)
	if charges == nil {
		charges = make([]*charge.Charge, 0)
	}
	return charges, nil
}

func (s *Store) UpdateCharge(ctx context.Context, c *charge.Charge, expectedRevision int) error {
	res, err := s.mdb.NewUpdate((*transactionModel)(nil)).
		Filter(bson.M{
			"_id":      c.ID.String(),
			"kind":     string(txn.KindCharge),
			"locked":   false,
			"revision": expectedRevision,
		}).
		Set("amount", c.Amount.Amount).
		Set("currency", c.Amount.Currency).
		Set("description", c.Description).
		Set("due_date", c.DueDate).
		Set("accounting_code", c.AccountingCode).
		Set("revision", c.Revision).
		Set("updated_at", c.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/mongo: update charge: %w", err)
	}
	if res.MatchedCount() > 0 {
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
	res, err := s.mdb.NewUpdate((*transactionModel)(nil)).
		Filter(bson.M{"_id": chargeID.String(), "kind": string(txn.KindCharge)}).
		Set("locked", true).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/mongo: lock charge: %w", err)
	}
	if res.MatchedCount() == 0 {
		return barre.ErrChargeNotFound
	}
	return nil
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	_, err := s.mdb.NewInsert(paymentToModel(p)).Exec(ctx)
	if err != nil {
		return insertTransactionError("create payment", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	t, err := s.findTransaction(ctx, bson.M{"_id": paymentID.String(), "kind": string(txn.KindPayment)})
	if err != nil {
		if isNoDocuments(err) {
			return nil, barre.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("barre/mongo: get payment: %w", err)
	}
	return t.Payment, nil
}

// ==================== Transaction Store ====================

func (s *Store) ListDancerTransactions(ctx context.Context, dancerID id.DancerID) ([]*charge.Charge, []*payment.Payment, error) {
	txns, err := s.findTransactions(ctx,
		bson.M{"dancer_id": dancerID.String()},
		bson.D{{Key: "seq", Value: 1}}, 0, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("barre/mongo: list dancer transactions: %w", err)
	}
	charges, payments := txn.Split(txns)
	if charges == nil {
		charges = make([]*charge.Charge, 0)
	}
	if payments == nil {
		payments = make([]*payment.Payment, 0)
	}
	return charges, payments, nil
}

func (s *Store) ListTransactions(ctx context.Context, studioKey string, opts txn.ListOpts) ([]txn.Transaction, error) {
	filter := bson.M{"studio_key": studioKey}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}
	if !opts.DancerID.IsNil() {
		filter["dancer_id"] = opts.DancerID.String()
	}
	if len(opts.IDs) > 0 {
		filter["_id"] = bson.M{"$in": opts.IDs}
	}
	if !opts.EventID.IsNil() {
		// Payments belong to an event through the fee they target, so the
		// event's fee ids are resolved first.
		charges, err := s.ListEventCharges(ctx, opts.EventID)
		if err != nil {
			return nil, err
		}
		feeIDs := make([]string, 0, len(charges))
		for _, c := range charges {
			if c.IsEventFee() {
				feeIDs = append(feeIDs, c.EventFeeID.String())
			}
		}
		filter["$or"] = bson.A{
			bson.M{"event_id": opts.EventID.String()},
			bson.M{"kind": string(txn.KindPayment), "event_fee_id": bson.M{"$in": feeIDs}},
		}
	}

	txns, err := s.findTransactions(ctx, filter,
		bson.D{{Key: "date", Value: -1}, {Key: "seq", Value: -1}, {Key: "_id", Value: -1}},
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("barre/mongo: list transactions: %w", err)
	}
	return txns, nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (txn.Transaction, error) {
	t, err := s.findTransaction(ctx, bson.M{"_id": transactionID})
	if err != nil {
		if isNoDocuments(err) {
			return txn.Transaction{}, barre.ErrNotFound
		}
		return txn.Transaction{}, fmt.Errorf("barre/mongo: get transaction: %w", err)
	}
	return t, nil
}

func (s *Store) findTransaction(ctx context.Context, filter bson.M) (txn.Transaction, error) {
	var m transactionModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		return txn.Transaction{}, err
	}
	return fromTransactionModel(&m)
}

func (s *Store) findTransactions(ctx context.Context, filter bson.M, sort bson.D, limit, offset int) ([]txn.Transaction, error) {
	var models []transactionModel
	q := s.mdb.NewFind(&models).Filter(filter).Sort(sort)
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if offset > 0 {
		q = q.Skip(int64(offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]txn.Transaction, 0, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// ==================== Connection Store ====================

func (s *Store) CreateConnection(ctx context.Context, c *connection.Connection) error {
	_, err := s.mdb.NewInsert(toConnectionModel(c)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), idxOneActive) {
				return barre.ErrConflict
			}
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/mongo: create connection: %w", err)
	}
	return nil
}

func (s *Store) GetConnection(ctx context.Context, studioKey, provider string) (*connection.Connection, error) {
	return s.findConnection(ctx, bson.M{"studio_key": studioKey, "provider": provider}, barre.ErrConnectionNotFound)
}

func (s *Store) GetConnectionByID(ctx context.Context, connID id.ConnectionID) (*connection.Connection, error) {
	return s.findConnection(ctx, bson.M{"_id": connID.String()}, barre.ErrConnectionNotFound)
}

func (s *Store) GetActiveConnection(ctx context.Context, studioKey string) (*connection.Connection, error) {
	return s.findConnection(ctx, bson.M{"studio_key": studioKey, "is_active": true}, barre.ErrNoActiveConnection)
}

func (s *Store) findConnection(ctx context.Context, filter bson.M, notFound error) (*connection.Connection, error) {
	var m connectionModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, notFound
		}
		return nil, fmt.Errorf("barre/mongo: get connection: %w", err)
	}
	return fromConnectionModel(&m)
}

func (s *Store) ReconnectConnection(ctx context.Context, connID id.ConnectionID, tokens connection.TokenState, at time.Time) error {
	res, err := s.mdb.NewUpdate((*connectionModel)(nil)).
		Filter(bson.M{"_id": connID.String()}).
		Set("status", string(connection.StatusConnected)).
		Set("tokens", toTokenStateModel(tokens)).
		Set("connected_at", at).
		Set("disconnected_at", nil).
		Set("last_error", "").
		Set("updated_at", at).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/mongo: reconnect connection: %w", err)
	}
	if res.MatchedCount() == 0 {
		return barre.ErrConnectionNotFound
	}
	return nil
}

func (s *Store) SetConnectionTokens(ctx context.Context, connID id.ConnectionID, tokens connection.TokenState, at time.Time) error {
	return s.setConnectionField(ctx, "tokens", toTokenStateModel(tokens), connID, at)
}

func (s *Store) SetConnectionMapping(ctx context.Context, connID id.ConnectionID, m mapping.Mapping, at time.Time) error {
	return s.setConnectionField(ctx, "mapping", toMappingModel(m), connID, at)
}

func (s *Store) setConnectionField(ctx context.Context, field string, value any, connID id.ConnectionID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*connectionModel)(nil)).
		Filter(bson.M{"_id": connID.String()}).
		Set(field, value).
		Set("updated_at", at).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/mongo: set connection %s: %w", field, err)
	}
	if res.MatchedCount() == 0 {
		return barre.ErrConnectionNotFound
	}
	return nil
}

func (s *Store) ListConnections(ctx context.Context, studioKey string) ([]*connection.Connection, error) {
	var models []connectionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"studio_key": studioKey}).
		Sort(bson.D{{Key: "provider", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("barre/mongo: list connections: %w", err)
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

// ActivateConnection clears the studio's other active rows and sets the
// target inside one session transaction, so both writes commit together.
// The partial unique index on active connections rejects a concurrent
// activation; that attempt is retried from the start and the last
// activation wins.
func (s *Store) ActivateConnection(ctx context.Context, studioKey, provider string, at time.Time) error {
	coll := s.mdb.Collection(colConnections)

	sess, err := coll.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("barre/mongo: activate connection: start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		_, err := sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
			return nil, activateInTxn(sc, coll, studioKey, provider, at)
		})
		switch {
		case err == nil:
			return struct{}{}, nil
		case mongo.IsDuplicateKeyError(err) || errors.Is(err, barre.ErrConflict):
			return struct{}{}, barre.ErrConflict
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(activateAttempts))
	return err
}

// activateInTxn runs the activation writes on the session carried by sc.
func activateInTxn(sc context.Context, coll *mongo.Collection, studioKey, provider string, at time.Time) error {
	var target connectionModel
	err := coll.FindOne(sc, bson.M{"studio_key": studioKey, "provider": provider}).Decode(&target)
	if err != nil {
		if isNoDocuments(err) {
			return barre.ErrConnectionNotFound
		}
		return fmt.Errorf("barre/mongo: activate connection: %w", err)
	}
	if target.Status != string(connection.StatusConnected) {
		return barre.ErrConnectionClosed
	}

	_, err = coll.UpdateMany(sc,
		bson.M{"studio_key": studioKey, "is_active": true, "_id": bson.M{"$ne": target.ID}},
		bson.M{"$set": bson.M{"is_active": false, "updated_at": at}})
	if err != nil {
		return fmt.Errorf("barre/mongo: activate connection: %w", err)
	}

	if target.IsActive {
		return nil
	}
	res, err := coll.UpdateOne(sc,
		bson.M{"_id": target.ID, "status": string(connection.StatusConnected), "is_active": false},
		bson.M{"$set": bson.M{"is_active": true, "updated_at": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Changed since it was read in this transaction.
		return barre.ErrConflict
	}
	return nil
}

func (s *Store) DeactivateConnection(ctx context.Context, connID id.ConnectionID, status connection.Status, lastError string, at time.Time) error {
	q := s.mdb.NewUpdate((*connectionModel)(nil)).
		Filter(bson.M{"_id": connID.String()}).
		Set("status", string(status)).
		Set("is_active", false).
		Set("last_error", lastError).
		Set("updated_at", at)
	if status == connection.StatusDisconnected {
		q = q.Set("disconnected_at", at)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/mongo: deactivate connection: %w", err)
	}
	if res.MatchedCount() == 0 {
		return barre.ErrConnectionNotFound
	}
	return nil
}

func (s *Store) RecordSyncOutcome(ctx context.Context, connID id.ConnectionID, outcome connection.SyncOutcome) error {
	res, err := s.mdb.NewUpdate((*connectionModel)(nil)).
		Filter(bson.M{"_id": connID.String()}).
		Set("last_synced_at", outcome.At).
		Set("last_error", outcome.LastError).
		Set("updated_at", outcome.At).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/mongo: record sync outcome: %w", err)
	}
	if res.MatchedCount() == 0 {
		return barre.ErrConnectionNotFound
	}
	return nil
}

// ==================== Sync Record Store ====================

func (s *Store) CreateSyncRecord(ctx context.Context, r *syncrecord.Record) error {
	_, err := s.mdb.NewInsert(toSyncRecordModel(r)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return barre.ErrAlreadyExists
		}
		return fmt.Errorf("barre/mongo: create sync record: %w", err)
	}
	return nil
}

func (s *Store) GetSyncRecord(ctx context.Context, transactionID, provider string) (*syncrecord.Record, error) {
	return s.findSyncRecord(ctx, bson.M{"transaction_id": transactionID, "provider": provider})
}

func (s *Store) findSyncRecord(ctx context.Context, filter bson.M) (*syncrecord.Record, error) {
	var m syncRecordModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, barre.ErrSyncRecordNotFound
		}
		return nil, fmt.Errorf("barre/mongo: get sync record: %w", err)
	}
	return fromSyncRecordModel(&m)
}

func (s *Store) ListSyncRecords(ctx context.Context, studioKey string, opts syncrecord.ListOpts) ([]*syncrecord.Record, error) {
	var models []syncRecordModel

	filter := bson.M{"studio_key": studioKey}
	if opts.Provider != "" {
		filter["provider"] = opts.Provider
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if len(opts.TransactionIDs) > 0 {
		filter["transaction_id"] = bson.M{"$in": opts.TransactionIDs}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("barre/mongo: list sync records: %w", err)
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

func (s *Store) ClaimSyncRecord(ctx context.Context, claim syncrecord.Claim) (*syncrecord.Record, error) {
	from := make([]string, len(claim.From))
	for i, st := range claim.From {
		from[i] = string(st)
	}
	or := bson.A{bson.M{"status": bson.M{"$in": from}}}
	if !claim.StaleBefore.IsZero() {
		or = append(or, bson.M{
			"status":     string(syncrecord.StatusPending),
			"updated_at": bson.M{"$lt": claim.StaleBefore},
		})
	}

	at := claim.At
	res, err := s.mdb.NewUpdate((*syncRecordModel)(nil)).
		Filter(bson.M{"_id": claim.RecordID.String(), "$or": or}).
		Set("status", string(syncrecord.StatusPending)).
		Set("connection_id", claim.ConnectionID.String()).
		Set("fingerprint", claim.Fingerprint).
		Set("external_object_type", string(claim.ObjectType)).
		Set("last_attempt_at", at).
		Set("updated_at", at).
		Set("claim_token", claim.Token).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("barre/mongo: claim sync record: %w", err)
	}

	current, err := s.findSyncRecord(ctx, bson.M{"_id": claim.RecordID.String()})
	if err != nil {
		return nil, err
	}
	if res.MatchedCount() == 0 || current.ClaimToken != claim.Token {
		return nil, barre.ErrSyncInFlight
	}
	return current, nil
}

func (s *Store) CompleteSyncRecord(ctx context.Context, r *syncrecord.Record) error {
	res, err := s.mdb.NewUpdate((*syncRecordModel)(nil)).
		Filter(bson.M{
			"_id":         r.ID.String(),
			"status":      string(syncrecord.StatusPending),
			"claim_token": r.ClaimToken,
		}).
		Set("claim_token", "").
		Set("status", string(r.Status)).
		Set("external_object_id", r.ExternalObjectID).
		Set("retry_count", r.RetryCount).
		Set("last_error", r.LastError).
		Set("synced_at", r.SyncedAt).
		Set("updated_at", r.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("barre/mongo: complete sync record: %w", err)
	}
	if res.MatchedCount() > 0 {
		return nil
	}
	if _, err := s.findSyncRecord(ctx, bson.M{"_id": r.ID.String()}); err != nil {
		return err
	}
	return barre.ErrConflict
}

// ==================== Helpers ====================

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// insertTransactionError maps duplicate keys on the transactions
// collection to the ledger's sentinels by index name.
func insertTransactionError(op string, err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("barre/mongo: %s: %w", op, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, idxDancerEvent), strings.Contains(msg, idxEventFee):
		return barre.ErrEventAlreadyBilled
	case strings.Contains(msg, idxDancerSeq):
		return barre.ErrConflict
	default:
		return barre.ErrAlreadyExists
	}
}

// migrationIndexes returns the index definitions for all barre collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	chargeWithEvent := bson.M{"kind": string(txn.KindCharge), "event_id": bson.M{"$gt": ""}}
	chargeWithFee := bson.M{"kind": string(txn.KindCharge), "event_fee_id": bson.M{"$gt": ""}}

	return map[string][]mongo.IndexModel{
		colDancers: {
			{Keys: bson.D{{Key: "studio_key", Value: 1}, {Key: "name", Value: 1}}},
		},
		colEvents: {
			{Keys: bson.D{{Key: "studio_key", Value: 1}, {Key: "date", Value: 1}}},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "dancer_id", Value: 1}, {Key: "seq", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxDancerSeq),
			},
			{
				Keys:    bson.D{{Key: "dancer_id", Value: 1}, {Key: "event_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxDancerEvent).SetPartialFilterExpression(chargeWithEvent),
			},
			{
				Keys:    bson.D{{Key: "event_fee_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxEventFee).SetPartialFilterExpression(chargeWithFee),
			},
			{Keys: bson.D{{Key: "studio_key", Value: 1}, {Key: "date", Value: -1}, {Key: "seq", Value: -1}}},
			{Keys: bson.D{{Key: "event_id", Value: 1}}},
		},
		colConnections: {
			{
				Keys:    bson.D{{Key: "studio_key", Value: 1}, {Key: "provider", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "studio_key", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxOneActive).SetPartialFilterExpression(bson.M{"is_active": true}),
			},
		},
		colSyncRecords: {
			{
				Keys:    bson.D{{Key: "transaction_id", Value: 1}, {Key: "provider", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "studio_key", Value: 1}, {Key: "provider", Value: 1}, {Key: "status", Value: 1}}},
		},
	}
}
