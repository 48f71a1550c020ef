// Package memory is an in-process store.Store for tests and single-node
// development. A single RWMutex makes every method atomic, which is how it
// upholds the same uniqueness rules the SQL backends get from indexes.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

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

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	dancers map[string]*dancer.Dancer
	events  map[string]*event.Event

	// Ledger storage. seqs holds dancer -> seq -> transaction id and
	// billed holds dancer|event -> charge id.
	charges  map[string]*charge.Charge
	payments map[string]*payment.Payment
	seqs     map[string]map[int64]string
	billed   map[string]string
	fees     map[string]string

	// Connection storage, indexed by studio|provider.
	connections map[string]*connection.Connection
	connIndex   map[string]string

	// Sync record storage, indexed by transaction|provider.
	records     map[string]*syncrecord.Record
	recordIndex map[string]string
}

func New() *Store {
	return &Store{
		dancers:     make(map[string]*dancer.Dancer),
		events:      make(map[string]*event.Event),
		charges:     make(map[string]*charge.Charge),
		payments:    make(map[string]*payment.Payment),
		seqs:        make(map[string]map[int64]string),
		billed:      make(map[string]string),
		fees:        make(map[string]string),
		connections: make(map[string]*connection.Connection),
		connIndex:   make(map[string]string),
		records:     make(map[string]*syncrecord.Record),
		recordIndex: make(map[string]string),
	}
}

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Close() error                  { return nil }

// ==================== Dancer Store ====================

func (s *Store) CreateDancer(_ context.Context, d *dancer.Dancer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dancers[d.ID.String()]; exists {
		return barre.ErrAlreadyExists
	}
	s.dancers[d.ID.String()] = cloneDancer(d)
	return nil
}

func (s *Store) GetDancer(_ context.Context, dancerID id.DancerID) (*dancer.Dancer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.dancers[dancerID.String()]; ok {
		return cloneDancer(d), nil
	}
	return nil, barre.ErrDancerNotFound
}

func (s *Store) UpdateDancer(_ context.Context, d *dancer.Dancer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dancers[d.ID.String()]; !exists {
		return barre.ErrDancerNotFound
	}
	s.dancers[d.ID.String()] = cloneDancer(d)
	return nil
}

func (s *Store) ListDancers(_ context.Context, studioKey string, opts dancer.ListOpts) ([]*dancer.Dancer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dancer.Dancer, 0)
	for _, d := range s.dancers {
		if d.StudioKey != studioKey || (opts.ActiveOnly && !d.Active) {
			continue
		}
		result = append(result, cloneDancer(d))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[e.ID.String()]; exists {
		return barre.ErrAlreadyExists
	}
	s.events[e.ID.String()] = cloneEvent(e)
	return nil
}

func (s *Store) GetEvent(_ context.Context, eventID id.EventID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.events[eventID.String()]; ok {
		return cloneEvent(e), nil
	}
	return nil, barre.ErrEventNotFound
}

func (s *Store) UpdateEvent(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[e.ID.String()]; !exists {
		return barre.ErrEventNotFound
	}
	s.events[e.ID.String()] = cloneEvent(e)
	return nil
}

func (s *Store) ListEvents(_ context.Context, studioKey string, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0)
	for _, e := range s.events {
		if e.StudioKey != studioKey {
			continue
		}
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		if !opts.From.IsZero() && e.Date.Before(opts.From) {
			continue
		}
		result = append(result, cloneEvent(e))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ==================== Charge Store ====================

func (s *Store) CreateCharge(_ context.Context, c *charge.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.charges[c.ID.String()]; exists {
		return barre.ErrAlreadyExists
	}
	if err := s.claimSeq(c.DancerID, c.Seq, c.ID); err != nil {
		return err
	}
	if c.IsEventFee() {
		key := c.DancerID.String() + "|" + c.EventID.String()
		if _, exists := s.billed[key]; exists {
			delete(s.seqs[c.DancerID.String()], c.Seq)
			return barre.ErrEventAlreadyBilled
		}
		s.billed[key] = c.ID.String()
		s.fees[c.EventFeeID.String()] = c.ID.String()
	}
	cp := *c
	s.charges[c.ID.String()] = &cp
	return nil
}

func (s *Store) GetCharge(_ context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.charges[chargeID.String()]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, barre.ErrChargeNotFound
}

func (s *Store) GetChargeByEventFee(_ context.Context, feeID id.EventFeeID) (*charge.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if chargeID, ok := s.fees[feeID.String()]; ok {
		cp := *s.charges[chargeID]
		return &cp, nil
	}
	return nil, barre.ErrEventFeeNotFound
}

func (s *Store) ListEventCharges(_ context.Context, eventID id.EventID) ([]*charge.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*charge.Charge, 0)
	for _, c := range s.charges {
		if c.EventID == eventID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) UpdateCharge(_ context.Context, c *charge.Charge, expectedRevision int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.charges[c.ID.String()]
	if !ok {
		return barre.ErrChargeNotFound
	}
	if stored.Locked {
		return barre.ErrChargeLocked
	}
	if stored.Revision != expectedRevision {
		return barre.ErrConflict
	}
	stored.Amount = c.Amount
	stored.Description = c.Description
	stored.DueDate = c.DueDate
	stored.AccountingCode = c.AccountingCode
	stored.Revision = c.Revision
	stored.UpdatedAt = c.UpdatedAt
	return nil
}

func (s *Store) LockCharge(_ context.Context, chargeID id.ChargeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[chargeID.String()]
	if !ok {
		return barre.ErrChargeNotFound
	}
	c.Locked = true
	return nil
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID.String()]; exists {
		return barre.ErrAlreadyExists
	}
	if err := s.claimSeq(p.DancerID, p.Seq, p.ID); err != nil {
		return err
	}
	cp := *p
	s.payments[p.ID.String()] = &cp
	return nil
}

func (s *Store) GetPayment(_ context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.payments[paymentID.String()]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, barre.ErrPaymentNotFound
}

func (s *Store) claimSeq(dancerID id.DancerID, seq int64, txID id.ID) error {
	key := dancerID.String()
	taken := s.seqs[key]
	if taken == nil {
		taken = make(map[int64]string)
		s.seqs[key] = taken
	}
	if _, exists := taken[seq]; exists {
		return barre.ErrConflict
	}
	taken[seq] = txID.String()
	return nil
}

// ==================== Transaction Store ====================

func (s *Store) ListDancerTransactions(_ context.Context, dancerID id.DancerID) ([]*charge.Charge, []*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	charges := make([]*charge.Charge, 0)
	payments := make([]*payment.Payment, 0)
	for _, c := range s.charges {
		if c.DancerID == dancerID {
			cp := *c
			charges = append(charges, &cp)
		}
	}
	for _, p := range s.payments {
		if p.DancerID == dancerID {
			cp := *p
			payments = append(payments, &cp)
		}
	}
	sort.Slice(charges, func(i, j int) bool { return charges[i].Seq < charges[j].Seq })
	sort.Slice(payments, func(i, j int) bool { return payments[i].Seq < payments[j].Seq })
	return charges, payments, nil
}

func (s *Store) ListTransactions(_ context.Context, studioKey string, opts txn.ListOpts) ([]txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wanted map[string]bool
	if len(opts.IDs) > 0 {
		wanted = make(map[string]bool, len(opts.IDs))
		for _, v := range opts.IDs {
			wanted[v] = true
		}
	}
	keep := func(t txn.Transaction) bool {
		if t.StudioKey() != studioKey {
			return false
		}
		if opts.Kind != "" && t.Kind != opts.Kind {
			return false
		}
		if !opts.DancerID.IsNil() && t.DancerID() != opts.DancerID {
			return false
		}
		return wanted == nil || wanted[t.ID().String()]
	}

	result := make([]txn.Transaction, 0)
	for _, c := range s.charges {
		cp := *c
		t := txn.FromCharge(&cp)
		if !opts.EventID.IsNil() && c.EventID != opts.EventID {
			continue
		}
		if keep(t) {
			result = append(result, t)
		}
	}
	for _, p := range s.payments {
		if !opts.EventID.IsNil() {
			chargeID, ok := s.fees[p.EventFeeID.String()]
			if !p.Targeted() || !ok || s.charges[chargeID].EventID != opts.EventID {
				continue
			}
		}
		cp := *p
		t := txn.FromPayment(&cp)
		if keep(t) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return txn.Less(result[j], result[i]) })
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) GetTransaction(_ context.Context, transactionID string) (txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.charges[transactionID]; ok {
		cp := *c
		return txn.FromCharge(&cp), nil
	}
	if p, ok := s.payments[transactionID]; ok {
		cp := *p
		return txn.FromPayment(&cp), nil
	}
	return txn.Transaction{}, barre.ErrNotFound
}

// ==================== Connection Store ====================

func (s *Store) CreateConnection(_ context.Context, c *connection.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.StudioKey + "|" + c.Provider
	if _, exists := s.connIndex[key]; exists {
		return barre.ErrAlreadyExists
	}
	if c.IsActive {
		for _, other := range s.connections {
			if other.StudioKey == c.StudioKey && other.IsActive {
				return barre.ErrConflict
			}
		}
	}
	s.connections[c.ID.String()] = cloneConnection(c)
	s.connIndex[key] = c.ID.String()
	return nil
}

func (s *Store) GetConnection(_ context.Context, studioKey, provider string) (*connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if connID, ok := s.connIndex[studioKey+"|"+provider]; ok {
		return cloneConnection(s.connections[connID]), nil
	}
	return nil, barre.ErrConnectionNotFound
}

func (s *Store) GetConnectionByID(_ context.Context, connID id.ConnectionID) (*connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.connections[connID.String()]; ok {
		return cloneConnection(c), nil
	}
	return nil, barre.ErrConnectionNotFound
}

func (s *Store) ReconnectConnection(_ context.Context, connID id.ConnectionID, tokens connection.TokenState, at time.Time) error {
	return s.updateConnection(connID, func(c *connection.Connection) {
		c.Status = connection.StatusConnected
		c.Tokens = tokens
		c.ConnectedAt = &at
		c.DisconnectedAt = nil
		c.LastError = ""
	}, at)
}

func (s *Store) SetConnectionTokens(_ context.Context, connID id.ConnectionID, tokens connection.TokenState, at time.Time) error {
	return s.updateConnection(connID, func(c *connection.Connection) { c.Tokens = tokens }, at)
}

func (s *Store) SetConnectionMapping(_ context.Context, connID id.ConnectionID, m mapping.Mapping, at time.Time) error {
	return s.updateConnection(connID, func(c *connection.Connection) { c.Mapping = m.Clone() }, at)
}

func (s *Store) updateConnection(connID id.ConnectionID, apply func(*connection.Connection), at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.connections[connID.String()]
	if !ok {
		return barre.ErrConnectionNotFound
	}
	apply(stored)
	stored.UpdatedAt = at
	return nil
}

func (s *Store) ListConnections(_ context.Context, studioKey string) ([]*connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*connection.Connection, 0)
	for _, c := range s.connections {
		if c.StudioKey == studioKey {
			result = append(result, cloneConnection(c))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Provider < result[j].Provider })
	return result, nil
}

func (s *Store) ActivateConnection(_ context.Context, studioKey, provider string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	connID, ok := s.connIndex[studioKey+"|"+provider]
	if !ok {
		return barre.ErrConnectionNotFound
	}
	target := s.connections[connID]
	if target.Status != connection.StatusConnected {
		return barre.ErrConnectionClosed
	}
	for _, c := range s.connections {
		if c.StudioKey != studioKey {
			continue
		}
		want := c.ID == target.ID
		if c.IsActive != want {
			c.IsActive = want
			c.UpdatedAt = at
		}
	}
	return nil
}

func (s *Store) DeactivateConnection(_ context.Context, connID id.ConnectionID, status connection.Status, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connections[connID.String()]
	if !ok {
		return barre.ErrConnectionNotFound
	}
	c.Status = status
	c.IsActive = false
	c.LastError = lastError
	if status == connection.StatusDisconnected {
		t := at
		c.DisconnectedAt = &t
	}
	c.UpdatedAt = at
	return nil
}

func (s *Store) GetActiveConnection(_ context.Context, studioKey string) (*connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.connections {
		if c.StudioKey == studioKey && c.IsActive {
			return cloneConnection(c), nil
		}
	}
	return nil, barre.ErrNoActiveConnection
}

func (s *Store) RecordSyncOutcome(_ context.Context, connID id.ConnectionID, outcome connection.SyncOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connections[connID.String()]
	if !ok {
		return barre.ErrConnectionNotFound
	}
	t := outcome.At
	c.LastSyncedAt = &t
	c.LastError = outcome.LastError
	c.UpdatedAt = outcome.At
	return nil
}

// ==================== Sync Record Store ====================

func (s *Store) CreateSyncRecord(_ context.Context, r *syncrecord.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.TransactionID + "|" + r.Provider
	if _, exists := s.recordIndex[key]; exists {
		return barre.ErrAlreadyExists
	}
	cp := *r
	s.records[r.ID.String()] = &cp
	s.recordIndex[key] = r.ID.String()
	return nil
}

func (s *Store) GetSyncRecord(_ context.Context, transactionID, provider string) (*syncrecord.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if recID, ok := s.recordIndex[transactionID+"|"+provider]; ok {
		cp := *s.records[recID]
		return &cp, nil
	}
	return nil, barre.ErrSyncRecordNotFound
}

func (s *Store) ListSyncRecords(_ context.Context, studioKey string, opts syncrecord.ListOpts) ([]*syncrecord.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*syncrecord.Record, 0)
	for _, r := range s.records {
		if r.StudioKey != studioKey {
			continue
		}
		if opts.Provider != "" && r.Provider != opts.Provider {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if len(opts.TransactionIDs) > 0 && !slices.Contains(opts.TransactionIDs, r.TransactionID) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID.String() > result[j].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ClaimSyncRecord(_ context.Context, claim syncrecord.Claim) (*syncrecord.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[claim.RecordID.String()]
	if !ok {
		return nil, barre.ErrSyncRecordNotFound
	}
	claimable := slices.Contains(claim.From, r.Status)
	if !claimable && r.Status == syncrecord.StatusPending && !claim.StaleBefore.IsZero() {
		claimable = r.UpdatedAt.Before(claim.StaleBefore)
	}
	if !claimable {
		return nil, barre.ErrSyncInFlight
	}
	at := claim.At
	r.Status = syncrecord.StatusPending
	r.ConnectionID = claim.ConnectionID
	r.Fingerprint = claim.Fingerprint
	r.ObjectType = claim.ObjectType
	r.LastAttemptAt = &at
	r.UpdatedAt = at
	r.ClaimToken = claim.Token
	cp := *r
	return &cp, nil
}

func (s *Store) CompleteSyncRecord(_ context.Context, r *syncrecord.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[r.ID.String()]
	if !ok {
		return barre.ErrSyncRecordNotFound
	}
	if stored.Status != syncrecord.StatusPending || stored.ClaimToken != r.ClaimToken {
		return barre.ErrConflict
	}
	stored.Status = r.Status
	stored.ExternalObjectID = r.ExternalObjectID
	stored.RetryCount = r.RetryCount
	stored.LastError = r.LastError
	stored.SyncedAt = r.SyncedAt
	stored.UpdatedAt = r.UpdatedAt
	stored.ClaimToken = ""
	return nil
}

// ==================== Helpers ====================

func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func cloneDancer(d *dancer.Dancer) *dancer.Dancer {
	cp := *d
	cp.Metadata = maps.Clone(d.Metadata)
	return &cp
}

func cloneEvent(e *event.Event) *event.Event {
	cp := *e
	cp.Metadata = maps.Clone(e.Metadata)
	return &cp
}

func cloneConnection(c *connection.Connection) *connection.Connection {
	cp := *c
	cp.Mapping = c.Mapping.Clone()
	return &cp
}
