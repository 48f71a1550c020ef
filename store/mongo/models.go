package mongo

import (
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

	ID        string            `grove:"id,pk"      bson:"_id"`
	StudioKey string            `grove:"studio_key" bson:"studio_key"`
	Name      string            `grove:"name"       bson:"name"`
	Active    bool              `grove:"active"     bson:"active"`
	Metadata  map[string]string `grove:"metadata"   bson:"metadata,omitempty"`
	CreatedAt time.Time         `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at" bson:"updated_at"`
}

func toDancerModel(d *dancer.Dancer) *dancerModel {
	return &dancerModel{
		ID:        d.ID.String(),
		StudioKey: d.StudioKey,
		Name:      d.Name,
		Active:    d.Active,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func fromDancerModel(m *dancerModel) (*dancer.Dancer, error) {
	dancerID, err := id.ParseDancerID(m.ID)
	if err != nil {
		return nil, err
	}
	return &dancer.Dancer{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        dancerID,
		StudioKey: m.StudioKey,
		Name:      m.Name,
		Active:    m.Active,
		Metadata:  m.Metadata,
	}, nil
}

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:barre_events"`

	ID        string            `grove:"id,pk"      bson:"_id"`
	StudioKey string            `grove:"studio_key" bson:"studio_key"`
	Name      string            `grove:"name"       bson:"name"`
	Kind      string            `grove:"kind"       bson:"kind"`
	Fee       int64             `grove:"fee"        bson:"fee"`
	Currency  string            `grove:"currency"   bson:"currency"`
	Date      time.Time         `grove:"date"       bson:"date"`
	DueDate   *time.Time        `grove:"due_date"   bson:"due_date,omitempty"`
	Metadata  map[string]string `grove:"metadata"   bson:"metadata,omitempty"`
	CreatedAt time.Time         `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at" bson:"updated_at"`
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
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	eventID, err := id.ParseEventID(m.ID)
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
		Metadata:  m.Metadata,
	}, nil
}

// ==================== Transaction models ====================

// transactionModel keeps charges and payments in one collection so the
// (dancer_id, seq) index covers both kinds.
type transactionModel struct {
	grove.BaseModel `grove:"table:barre_transactions"`

	ID             string     `grove:"id,pk"           bson:"_id"`
	Kind           string     `grove:"kind"            bson:"kind"`
	StudioKey      string     `grove:"studio_key"      bson:"studio_key"`
	DancerID       string     `grove:"dancer_id"       bson:"dancer_id"`
	Seq            int64      `grove:"seq"             bson:"seq"`
	Amount         int64      `grove:"amount"          bson:"amount"`
	Currency       string     `grove:"currency"        bson:"currency"`
	Date           time.Time  `grove:"date"            bson:"date"`
	Description    string     `grove:"description"     bson:"description"`
	ChargeKind     string     `grove:"charge_kind"     bson:"charge_kind,omitempty"`
	DueDate        *time.Time `grove:"due_date"        bson:"due_date,omitempty"`
	EventID        string     `grove:"event_id"        bson:"event_id"`
	EventFeeID     string     `grove:"event_fee_id"    bson:"event_fee_id"`
	CompetitionID  string     `grove:"competition_id"  bson:"competition_id,omitempty"`
	RoutineID      string     `grove:"routine_id"      bson:"routine_id,omitempty"`
	AccountingCode string     `grove:"accounting_code" bson:"accounting_code,omitempty"`
	Revision       int        `grove:"revision"        bson:"revision"`
	Locked         bool       `grove:"locked"          bson:"locked"`
	Method         string     `grove:"method"          bson:"method,omitempty"`
	Reference      string     `grove:"reference"       bson:"reference,omitempty"`
	CreatedAt      time.Time  `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"      bson:"updated_at"`
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

func fromTransactionModel(m *transactionModel) (txn.Transaction, error) {
	dancerID, err := id.ParseDancerID(m.DancerID)
	if err != nil {
		return txn.Transaction{}, err
	}
	feeID, err := id.ParseOptional(m.EventFeeID, id.PrefixEventFee)
	if err != nil {
		return txn.Transaction{}, err
	}
	entity := types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}

	switch txn.Kind(m.Kind) {
	case txn.KindCharge:
		chargeID, err := id.ParseChargeID(m.ID)
		if err != nil {
			return txn.Transaction{}, err
		}
		eventID, err := id.ParseOptional(m.EventID, id.PrefixEvent)
		if err != nil {
			return txn.Transaction{}, err
		}
		return txn.FromCharge(&charge.Charge{
			Entity:         entity,
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
		}), nil
	case txn.KindPayment:
		paymentID, err := id.ParsePaymentID(m.ID)
		if err != nil {
			return txn.Transaction{}, err
		}
		return txn.FromPayment(&payment.Payment{
			Entity:      entity,
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
		}), nil
	default:
		return txn.Transaction{}, fmt.Errorf("unknown transaction kind %q", m.Kind)
	}
}

// ==================== Connection models ====================

type tokenStateModel struct {
	HasAccessToken        bool       `bson:"has_access_token"`
	HasRefreshToken       bool       `bson:"has_refresh_token"`
	AccessTokenExpiresAt  *time.Time `bson:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time `bson:"refresh_token_expires_at,omitempty"`
	ExternalTenantID      string     `bson:"external_tenant_id,omitempty"`
}

type mappingModel struct {
	ChargeAccounts map[string]string `bson:"charge_accounts,omitempty"`
	DepositAccount string            `bson:"deposit_account,omitempty"`
	TaxCode        string            `bson:"tax_code,omitempty"`
}

type connectionModel struct {
	grove.BaseModel `grove:"table:barre_connections"`

	ID             string          `grove:"id,pk"           bson:"_id"`
	StudioKey      string          `grove:"studio_key"      bson:"studio_key"`
	Provider       string          `grove:"provider"        bson:"provider"`
	Status         string          `grove:"status"          bson:"status"`
	IsActive       bool            `grove:"is_active"       bson:"is_active"`
	Tokens         tokenStateModel `grove:"tokens"          bson:"tokens"`
	Mapping        mappingModel    `grove:"mapping"         bson:"mapping"`
	ConnectedAt    *time.Time      `grove:"connected_at"    bson:"connected_at,omitempty"`
	DisconnectedAt *time.Time      `grove:"disconnected_at" bson:"disconnected_at,omitempty"`
	LastSyncedAt   *time.Time      `grove:"last_synced_at"  bson:"last_synced_at,omitempty"`
	LastError      string          `grove:"last_error"      bson:"last_error"`
	CreatedAt      time.Time       `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"      bson:"updated_at"`
}

func toTokenStateModel(t connection.TokenState) tokenStateModel {
	return tokenStateModel{
		HasAccessToken:        t.HasAccessToken,
		HasRefreshToken:       t.HasRefreshToken,
		AccessTokenExpiresAt:  t.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: t.RefreshTokenExpiresAt,
		ExternalTenantID:      t.ExternalTenantID,
	}
}

func toMappingModel(m mapping.Mapping) mappingModel {
	out := mappingModel{DepositAccount: m.DepositAccount, TaxCode: m.TaxCode}
	if len(m.ChargeAccounts) > 0 {
		out.ChargeAccounts = make(map[string]string, len(m.ChargeAccounts))
		for kind, account := range m.ChargeAccounts {
			out.ChargeAccounts[string(kind)] = account
		}
	}
	return out
}

func (m mappingModel) toMapping() mapping.Mapping {
	out := mapping.Mapping{DepositAccount: m.DepositAccount, TaxCode: m.TaxCode}
	if len(m.ChargeAccounts) > 0 {
		out.ChargeAccounts = make(map[charge.Kind]string, len(m.ChargeAccounts))
		for kind, account := range m.ChargeAccounts {
			out.ChargeAccounts[charge.Kind(kind)] = account
		}
	}
	return out
}

func toConnectionModel(c *connection.Connection) *connectionModel {
	return &connectionModel{
		ID:             c.ID.String(),
		StudioKey:      c.StudioKey,
		Provider:       c.Provider,
		Status:         string(c.Status),
		IsActive:       c.IsActive,
		Tokens:         toTokenStateModel(c.Tokens),
		Mapping:        toMappingModel(c.Mapping),
		ConnectedAt:    c.ConnectedAt,
		DisconnectedAt: c.DisconnectedAt,
		LastSyncedAt:   c.LastSyncedAt,
		LastError:      c.LastError,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func fromConnectionModel(m *connectionModel) (*connection.Connection, error) {
	connID, err := id.ParseConnectionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &connection.Connection{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        connID,
		StudioKey: m.StudioKey,
		Provider:  m.Provider,
		Status:    connection.Status(m.Status),
		IsActive:  m.IsActive,
		Tokens: connection.TokenState{
			HasAccessToken:        m.Tokens.HasAccessToken,
			HasRefreshToken:       m.Tokens.HasRefreshToken,
			AccessTokenExpiresAt:  m.Tokens.AccessTokenExpiresAt,
			RefreshTokenExpiresAt: m.Tokens.RefreshTokenExpiresAt,
			ExternalTenantID:      m.Tokens.ExternalTenantID,
		},
		Mapping:        m.Mapping.toMapping(),
		ConnectedAt:    m.ConnectedAt,
		DisconnectedAt: m.DisconnectedAt,
		LastSyncedAt:   m.LastSyncedAt,
		LastError:      m.LastError,
	}, nil
}

// ==================== Sync record models ====================

type syncRecordModel struct {
	grove.BaseModel `grove:"table:barre_sync_records"`

	ID               string     `grove:"id,pk"                bson:"_id"`
	StudioKey        string     `grove:"studio_key"           bson:"studio_key"`
	Provider         string     `grove:"provider"             bson:"provider"`
	ConnectionID     string     `grove:"connection_id"        bson:"connection_id"`
	TransactionID    string     `grove:"transaction_id"       bson:"transaction_id"`
	TransactionKind  string     `grove:"transaction_kind"     bson:"transaction_kind"`
	ObjectType       string     `grove:"external_object_type" bson:"external_object_type"`
	ExternalObjectID string     `grove:"external_object_id"   bson:"external_object_id"`
	IdempotencyKey   string     `grove:"idempotency_key"      bson:"idempotency_key"`
	Fingerprint      string     `grove:"fingerprint"          bson:"fingerprint"`
	Status           string     `grove:"status"               bson:"status"`
	RetryCount       int        `grove:"retry_count"          bson:"retry_count"`
	LastError        string     `grove:"last_error"           bson:"last_error"`
	LastAttemptAt    *time.Time `grove:"last_attempt_at"      bson:"last_attempt_at,omitempty"`
	SyncedAt         *time.Time `grove:"synced_at"            bson:"synced_at,omitempty"`
	ClaimToken       string     `grove:"claim_token"          bson:"claim_token"`
	CreatedAt        time.Time  `grove:"created_at"           bson:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"           bson:"updated_at"`
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
