package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/dancer"
	"github.com/xraph/barre/event"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/mapping"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/txn"
	"github.com/xraph/barre/types"
)

// ==================== Dancer models ====================

type dancerModel struct {
	grove.BaseModel `grove:"table:barre_dancers"`

	ID        string            `grove:"id,pk"`
	StudioKey string            `grove:"studio_key"`
	Name      string            `grove:"name"`
	Active    bool              `grove:"active"`
	Metadata  string            `grove:"metadata"`
	CreatedAt time.Time         `grove:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at"`
}

func toDancerModel(d *dancer.Dancer) *dancerModel {
	return &dancerModel{
		ID:        d.ID.String(),
		StudioKey: d.StudioKey,
		Name:      d.Name,
		Active:    d.Active,
		Metadata:  encodeMetadata(d.Metadata),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func fromDancerModel(m *dancerModel) (*dancer.Dancer, error) {
	dancerID, err := id.ParseDancerID(m.ID)
	if err != nil {
		return nil, err
	}
	metadata, err := decodeMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}
	return &dancer.Dancer{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        dancerID,
		StudioKey: m.StudioKey,
		Name:      m.Name,
		Active:    m.Active,
		Metadata:  metadata,
	}, nil
}

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:barre_events"`

	ID        string            `grove:"id,pk"`
	StudioKey string            `grove:"studio_key"`
	Name      string            `grove:"name"`
	Kind      string            `grove:"kind"`
	Fee       int64             `grove:"fee"`
	Currency  string            `grove:"currency"`
	Date      time.Time         `grove:"date"`
	DueDate   *time.Time        `grove:"due_date"`
	Metadata  string            `grove:"metadata"`
	CreatedAt time.Time         `grove:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		ID:        e.ID.String(),
		StudioKey: e.StudioKey,
		Name:      e.Name,
		Kind:      string(e.Kind),
		Fee:       e.Fee.Amount,
		Currency:  e.Fee.Currency,
		Date:      e.Date,
		DueDate:   e.DueDate,
		Metadata:  encodeMetadata(e.Metadata),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	eventID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	metadata, err := decodeMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}
	return &event.Event{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        eventID,
		StudioKey: m.StudioKey,
		Name:      m.Name,
		Kind:      event.Kind(m.Kind),
		Fee:       types.Cents(m.Fee, m.Currency),
		Date:      m.Date,
		DueDate:   m.DueDate,
		Metadata:  metadata,
	}, nil
}

// ==================== Transaction models ====================

// transactionModel holds charges and payments in one table so a dancer's
// seq is unique across both kinds.
type transactionModel struct {
	grove.BaseModel `grove:"table:barre_transactions"`

	ID             string     `grove:"id,pk"`
	Kind           string     `grove:"kind"`
	StudioKey      string     `grove:"studio_key"`
	DancerID       string     `grove:"dancer_id"`
	Seq            int64      `grove:"seq"`
	Amount         int64      `grove:"amount"`
	Currency       string     `grove:"currency"`
	Date           time.Time  `grove:"date"`
	Description    string     `grove:"description"`
	ChargeKind     string     `grove:"charge_kind"`
	DueDate        *time.Time `grove:"due_date"`
	EventID        string     `grove:"event_id"`
	EventFeeID     string     `grove:"event_fee_id"`
	CompetitionID  string     `grove:"competition_id"`
	RoutineID      string     `grove:"routine_id"`
	AccountingCode string     `grove:"accounting_code"`
	Revision       int        `grove:"revision"`
	Locked         bool       `grove:"locked"`
	Method         string     `grove:"method"`
	Reference      string     `grove:"reference"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func chargeToModel(c *charge.Charge) *transactionModel {
	return &transactionModel{
		ID:             c.ID.String(),
		Kind:           string(txn.KindCharge),
		StudioKey:      c.StudioKey,
		DancerID:       c.DancerID.String(),
		Seq:            c.Seq,
		Amount:         c.Amount.Amount,
		Currency:       c.Amount.Currency,
		Date:           c.Date,
		Description:    c.Description,
		ChargeKind:     string(c.Kind),
		DueDate:        c.DueDate,
		EventID:        c.EventID.String(),
		EventFeeID:     c.EventFeeID.String(),
		CompetitionID:  c.CompetitionID,
		RoutineID:      c.RoutineID,
		AccountingCode: c.AccountingCode,
		Revision:       c.Revision,
		Locked:         c.Locked,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func paymentToModel(p *payment.Payment) *transactionModel {
	return &transactionModel{
		ID:          p.ID.String(),
		Kind:        string(txn.KindPayment),
		StudioKey:   p.StudioKey,
		DancerID:    p.DancerID.String(),
		Seq:         p.Seq,
		Amount:      p.Amount.Amount,
		Currency:    p.Amount.Currency,
		Date:        p.Date,
		Description: p.Description,
		EventFeeID:  p.EventFeeID.String(),
		Method:      string(p.Method),
		Reference:   p.Reference,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func fromChargeModel(m *transactionModel) (*charge.Charge, error) {
	chargeID, err := id.ParseChargeID(m.ID)
	if err != nil {
		return nil, err
	}
	dancerID, err := id.ParseDancerID(m.DancerID)
	if err != nil {
		return nil, err
	}
	eventID, err := id.ParseOptional(m.EventID, id.PrefixEvent)
	if err != nil {
		return nil, err
	}
	feeID, err := id.ParseOptional(m.EventFeeID, id.PrefixEventFee)
	if err != nil {
		return nil, err
	}
	return &charge.Charge{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             chargeID,
		StudioKey:      m.StudioKey,
		DancerID:       dancerID,
		Kind:           charge.Kind(m.ChargeKind),
		Description:    m.Description,
		Amount:         types.Cents(m.Amount, m.Currency),
		Date:           m.Date,
		DueDate:        m.DueDate,
		EventID:        eventID,
		EventFeeID:     feeID,
		CompetitionID:  m.CompetitionID,
		RoutineID:      m.RoutineID,
		AccountingCode: m.AccountingCode,
		Seq:            m.Seq,
		Revision:       m.Revision,
		Locked:         m.Locked,
	}, nil
}

func fromPaymentModel(m *transactionModel) (*payment.Payment, error) {
	paymentID, err := id.ParsePaymentID(m.ID)
	if err != nil {
		return nil, err
	}
	dancerID, err := id.ParseDancerID(m.DancerID)
	if err != nil {
		return nil, err
	}
	feeID, err := id.ParseOptional(m.EventFeeID, id.PrefixEventFee)
	if err != nil {
		return nil, err
	}
	return &payment.Payment{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          paymentID,
		StudioKey:   m.StudioKey,
		DancerID:    dancerID,
		Amount:      types.Cents(m.Amount, m.Currency),
		Date:        m.Date,
		Description: m.Description,
		Method:      payment.Method(m.Method),
		Reference:   m.Reference,
		EventFeeID:  feeID,
		Seq:         m.Seq,
	}, nil
}

func fromTransactionModel(m *transactionModel) (txn.Transaction, error) {
	switch txn.Kind(m.Kind) {
	case txn.KindCharge:
		c, err := fromChargeModel(m)
		if err != nil {
			return txn.Transaction{}, err
		}
		return txn.FromCharge(c), nil
	case txn.KindPayment:
		p, err := fromPaymentModel(m)
		if err != nil {
			return txn.Transaction{}, err
		}
		return txn.FromPayment(p), nil
	default:
		return txn.Transaction{}, fmt.Errorf("unknown transaction kind %q", m.Kind)
	}
}

// ==================== Connection models ====================

type connectionModel struct {
	grove.BaseModel `grove:"table:barre_connections"`

	ID             string          `grove:"id,pk"`
	StudioKey      string          `grove:"studio_key"`
	Provider       string          `grove:"provider"`
	Status         string          `grove:"status"`
	IsActive       bool            `grove:"is_active"`
	Tokens         string          `grove:"tokens"`
	Mapping        string          `grove:"mapping"`
	ConnectedAt    *time.Time      `grove:"connected_at"`
	DisconnectedAt *time.Time      `grove:"disconnected_at"`
	LastSyncedAt   *time.Time      `grove:"last_synced_at"`
	LastError      string          `grove:"last_error"`
	CreatedAt      time.Time       `grove:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"`
}

func toConnectionModel(c *connection.Connection) (*connectionModel, error) {
	tokens, err := json.Marshal(c.Tokens)
	if err != nil {
		return nil, err
	}
	mapped, err := json.Marshal(c.Mapping)
	if err != nil {
		return nil, err
	}
	return &connectionModel{
		ID:             c.ID.String(),
		StudioKey:      c.StudioKey,
		Provider:       c.Provider,
		Status:         string(c.Status),
		IsActive:       c.IsActive,
		Tokens:         string(tokens),
		Mapping:        string(mapped),
		ConnectedAt:    c.ConnectedAt,
		DisconnectedAt: c.DisconnectedAt,
		LastSyncedAt:   c.LastSyncedAt,
		LastError:      c.LastError,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}, nil
}

func fromConnectionModel(m *connectionModel) (*connection.Connection, error) {
	connID, err := id.ParseConnectionID(m.ID)
	if err != nil {
		return nil, err
	}
	var tokens connection.TokenState
	if len(m.Tokens) > 0 {
		if err := json.Unmarshal([]byte(m.Tokens), &tokens); err != nil {
			return nil, fmt.Errorf("decode tokens: %w", err)
		}
	}
	var mapped mapping.Mapping
	if len(m.Mapping) > 0 {
		if err := json.Unmarshal([]byte(m.Mapping), &mapped); err != nil {
			return nil, fmt.Errorf("decode mapping: %w", err)
		}
	}
	return &connection.Connection{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             connID,
		StudioKey:      m.StudioKey,
		Provider:       m.Provider,
		Status:         connection.Status(m.Status),
		IsActive:       m.IsActive,
		Tokens:         tokens,
		Mapping:        mapped,
		ConnectedAt:    m.ConnectedAt,
		DisconnectedAt: m.DisconnectedAt,
		LastSyncedAt:   m.LastSyncedAt,
		LastError:      m.LastError,
	}, nil
}

func encodeMetadata(md map[string]string) string {
	if len(md) == 0 {
		return "{}"
	}
	data, _ := json.Marshal(md) //nolint:errcheck // map[string]string always marshals
	return string(data)
}

func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}

// ==================== Sync record models ====================

type syncRecordModel struct {
	grove.BaseModel `grove:"table:barre_sync_records"`

	ID               string     `grove:"id,pk"`
	StudioKey        string     `grove:"studio_key"`
	Provider         string     `grove:"provider"`
	ConnectionID     string     `grove:"connection_id"`
	TransactionID    string     `grove:"transaction_id"`
	TransactionKind  string     `grove:"transaction_kind"`
	ObjectType       string     `grove:"external_object_type"`
	ExternalObjectID string     `grove:"external_object_id"`
	IdempotencyKey   string     `grove:"idempotency_key"`
	Fingerprint      string     `grove:"fingerprint"`
	Status           string     `grove:"status"`
	RetryCount       int        `grove:"retry_count"`
	LastError        string     `grove:"last_error"`
	LastAttemptAt    *time.Time `grove:"last_attempt_at"`
	SyncedAt         *time.Time `grove:"synced_at"`
	ClaimToken       string     `grove:"claim_token"`
	CreatedAt        time.Time  `grove:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"`
}

func toSyncRecordModel(r *syncrecord.Record) *syncRecordModel {
	return &syncRecordModel{
		ID:               r.ID.String(),
		StudioKey:        r.StudioKey,
		Provider:         r.Provider,
		ConnectionID:     r.ConnectionID.String(),
		TransactionID:    r.TransactionID,
		TransactionKind:  string(r.TransactionKind),
		ObjectType:       string(r.ObjectType),
		ExternalObjectID: r.ExternalObjectID,
		IdempotencyKey:   r.IdempotencyKey,
		Fingerprint:      r.Fingerprint,
		Status:           string(r.Status),
		RetryCount:       r.RetryCount,
		LastError:        r.LastError,
		LastAttemptAt:    r.LastAttemptAt,
		SyncedAt:         r.SyncedAt,
		ClaimToken:       r.ClaimToken,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func fromSyncRecordModel(m *syncRecordModel) (*syncrecord.Record, error) {
	recID, err := id.ParseSyncRecordID(m.ID)
	if err != nil {
		return nil, err
	}
	connID, err := id.ParseOptional(m.ConnectionID, id.PrefixConnection)
	if err != nil {
		return nil, err
	}
	return &syncrecord.Record{
		Entity:           types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:               recID,
		StudioKey:        m.StudioKey,
		Provider:         m.Provider,
		ConnectionID:     connID,
		TransactionID:    m.TransactionID,
		TransactionKind:  txn.Kind(m.TransactionKind),
		ObjectType:       syncrecord.ObjectType(m.ObjectType),
		ExternalObjectID: m.ExternalObjectID,
		IdempotencyKey:   m.IdempotencyKey,
		Fingerprint:      m.Fingerprint,
		Status:           syncrecord.Status(m.Status),
		RetryCount:       m.RetryCount,
		LastError:        m.LastError,
		LastAttemptAt:    m.LastAttemptAt,
		SyncedAt:         m.SyncedAt,
		ClaimToken:       m.ClaimToken,
	}, nil
}
