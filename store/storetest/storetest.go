// Package storetest is a conformance suite every store.Store backend runs
// against itself.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	"github.com/xraph/barre/types"
)

const studio = "studio-conformance"

// Factory returns a fresh, migrated store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("Dancers", func(t *testing.T) { testDancers(t, newStore(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("ChargeSeqUnique", func(t *testing.T) { testChargeSeqUnique(t, newStore(t)) })
	t.Run("EventBilledOnce", func(t *testing.T) { testEventBilledOnce(t, newStore(t)) })
	t.Run("ChargeUpdateGuards", func(t *testing.T) { testChargeUpdateGuards(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("ConnectionLifecycle", func(t *testing.T) { testConnectionLifecycle(t, newStore(t)) })
	t.Run("ConnectionWritesKeepStatus", func(t *testing.T) { testConnectionWritesKeepStatus(t, newStore(t)) })
	t.Run("ActivationExclusive", func(t *testing.T) { testActivationExclusive(t, newStore(t)) })
	t.Run("SyncRecordUnique", func(t *testing.T) { testSyncRecordUnique(t, newStore(t)) })
	t.Run("SyncRecordClaim", func(t *testing.T) { testSyncRecordClaim(t, newStore(t)) })
	t.Run("SyncRecordCompletionOwner", func(t *testing.T) { testSyncRecordCompletionOwner(t, newStore(t)) })
}

func at(day int) time.Time {
	return time.Date(2026, time.January, day, 12, 0, 0, 0, time.UTC)
}

func seedDancer(t *testing.T, s store.Store) *dancer.Dancer {
	t.Helper()
	d := &dancer.Dancer{
		Entity:    types.NewEntity(),
		ID:        id.NewDancerID(),
		StudioKey: studio,
		Name:      "Ada",
		Active:    true,
	}
	require.NoError(t, s.CreateDancer(context.Background(), d))
	return d
}

func newCharge(d *dancer.Dancer, seq int64, cents int64, day int) *charge.Charge {
	return &charge.Charge{
		Entity:    types.NewEntityAt(at(day)),
		ID:        id.NewChargeID(),
		StudioKey: d.StudioKey,
		DancerID:  d.ID,
		Kind:      charge.KindTuition,
		Amount:    types.USD(cents),
		Date:      at(day),
		Seq:       seq,
	}
}

func newPayment(d *dancer.Dancer, seq int64, cents int64, day int) *payment.Payment {
	return &payment.Payment{
		Entity:    types.NewEntityAt(at(day)),
		ID:        id.NewPaymentID(),
		StudioKey: d.StudioKey,
		DancerID:  d.ID,
		Amount:    types.USD(cents),
		Date:      at(day),
		Method:    payment.MethodCash,
		Seq:       seq,
	}
}

func newConnection(provider string) *connection.Connection {
	t := time.Now().UTC()
	return &connection.Connection{
		Entity:      types.NewEntity(),
		ID:          id.NewConnectionID(),
		StudioKey:   studio,
		Provider:    provider,
		Status:      connection.StatusConnected,
		Tokens:      connection.TokenState{HasAccessToken: true},
		ConnectedAt: &t,
	}
}

func testDancers(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDancer(t, s)

	got, err := s.GetDancer(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)

	got.Name = "Ada L."
	got.Active = false
	require.NoError(t, s.UpdateDancer(ctx, got))

	list, err := s.ListDancers(ctx, studio, dancer.ListOpts{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.ListDancers(ctx, studio, dancer.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Ada L.", list[0].Name)

	_, err = s.GetDancer(ctx, id.NewDancerID())
	assert.ErrorIs(t, err, barre.ErrDancerNotFound)
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := &event.Event{
		Entity:    types.NewEntity(),
		ID:        id.NewEventID(),
		StudioKey: studio,
		Name:      "Spring Regional",
		Kind:      event.KindCompetition,
		Fee:       types.USD(5000),
		Date:      at(20),
	}
	require.NoError(t, s.CreateEvent(ctx, e))

	got, err := s.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(5000), got.Fee)

	got.Fee = types.USD(5500)
	require.NoError(t, s.UpdateEvent(ctx, got))

	list, err := s.ListEvents(ctx, studio, event.ListOpts{Kind: event.KindCompetition})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, types.USD(5500), list[0].Fee)

	_, err = s.GetEvent(ctx, id.NewEventID())
	assert.ErrorIs(t, err, barre.ErrEventNotFound)
}

func testChargeSeqUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDancer(t, s)

	require.NoError(t, s.CreateCharge(ctx, newCharge(d, 1, 1000, 1)))
	assert.ErrorIs(t, s.CreateCharge(ctx, newCharge(d, 1, 2000, 2)), barre.ErrConflict)
	assert.ErrorIs(t, s.CreatePayment(ctx, newPayment(d, 1, 500, 3)), barre.ErrConflict)
	require.NoError(t, s.CreatePayment(ctx, newPayment(d, 2, 500, 3)))

	other := seedDancer(t, s)
	require.NoError(t, s.CreateCharge(ctx, newCharge(other, 1, 1000, 1)), "seq is per dancer")
}

func testEventBilledOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDancer(t, s)
	eventID := id.NewEventID()

	first := newCharge(d, 1, 5000, 1)
	first.Kind = charge.KindCompetition
	first.EventID = eventID
	first.EventFeeID = id.NewEventFeeID()
	require.NoError(t, s.CreateCharge(ctx, first))

	second := newCharge(d, 2, 5000, 2)
	second.Kind = charge.KindCompetition
	second.EventID = eventID
	second.EventFeeID = id.NewEventFeeID()
	assert.ErrorIs(t, s.CreateCharge(ctx, second), barre.ErrEventAlreadyBilled)

	got, err := s.GetChargeByEventFee(ctx, first.EventFeeID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	roster, err := s.ListEventCharges(ctx, eventID)
	require.NoError(t, err)
	assert.Len(t, roster, 1)

	_, err = s.GetChargeByEventFee(ctx, id.NewEventFeeID())
	assert.ErrorIs(t, err, barre.ErrEventFeeNotFound)
}

func testChargeUpdateGuards(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDancer(t, s)
	c := newCharge(d, 1, 1000, 1)
	require.NoError(t, s.CreateCharge(ctx, c))

	amount := types.USD(1200)
	charge.Update{Amount: &amount}.Apply(c)
	require.NoError(t, s.UpdateCharge(ctx, c, 0))

	got, err := s.GetCharge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(1200), got.Amount)
	assert.Equal(t, 1, got.Revision)

	assert.ErrorIs(t, s.UpdateCharge(ctx, c, 0), barre.ErrConflict, "stale revision")

	require.NoError(t, s.LockCharge(ctx, c.ID))
	charge.Update{Amount: &amount}.Apply(got)
	assert.ErrorIs(t, s.UpdateCharge(ctx, got, 1), barre.ErrChargeLocked)

	assert.ErrorIs(t, s.LockCharge(ctx, id.NewChargeID()), barre.ErrChargeNotFound)
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := seedDancer(t, s)
	c1 := newCharge(d, 1, 1000, 1)
	c2 := newCharge(d, 2, 2000, 15)
	p := newPayment(d, 3, 1500, 10)
	require.NoError(t, s.CreateCharge(ctx, c1))
	require.NoError(t, s.CreateCharge(ctx, c2))
	require.NoError(t, s.CreatePayment(ctx, p))

	charges, payments, err := s.ListDancerTransactions(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, charges, 2)
	require.Len(t, payments, 1)
	assert.Equal(t, int64(1), charges[0].Seq)
	assert.Equal(t, int64(2), charges[1].Seq)

	all, err := s.ListTransactions(ctx, studio, txn.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, c2.ID, all[0].ID(), "most recent first")
	assert.Equal(t, p.ID, all[1].ID())
	assert.Equal(t, c1.ID, all[2].ID())

	limited, err := s.ListTransactions(ctx, studio, txn.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	onlyPayments, err := s.ListTransactions(ctx, studio, txn.ListOpts{Kind: txn.KindPayment})
	require.NoError(t, err)
	require.Len(t, onlyPayments, 1)
	assert.Equal(t, txn.KindPayment, onlyPayments[0].Kind)

	picked, err := s.ListTransactions(ctx, studio, txn.ListOpts{IDs: []string{c1.ID.String()}})
	require.NoError(t, err)
	require.Len(t, picked, 1)

	tx, err := s.GetTransaction(ctx, p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, txn.KindPayment, tx.Kind)
	assert.Equal(t, types.USD(1500), tx.Amount())

	_, err = s.GetTransaction(ctx, id.NewChargeID().String())
	assert.True(t, barre.IsNotFound(err))
}

func testConnectionLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := newConnection("books")
	require.NoError(t, s.CreateConnection(ctx, c))
	assert.ErrorIs(t, s.CreateConnection(ctx, newConnection("books")), barre.ErrAlreadyExists)

	got, err := s.GetConnection(ctx, studio, "books")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	m := mapping.Mapping{
		DepositAccount: "1200",
		ChargeAccounts: map[charge.Kind]string{charge.KindTuition: "4000"},
	}
	require.NoError(t, s.SetConnectionMapping(ctx, got.ID, m, time.Now().UTC()))

	byID, err := s.GetConnectionByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "1200", byID.Mapping.DepositAccount)
	assert.Equal(t, "4000", byID.Mapping.ChargeAccounts[charge.KindTuition])

	require.NoError(t, s.ActivateConnection(ctx, studio, "books", time.Now().UTC()))
	active, err := s.GetActiveConnection(ctx, studio)
	require.NoError(t, err)
	assert.Equal(t, c.ID, active.ID)

	tokens := connection.TokenState{HasAccessToken: true, HasRefreshToken: true, ExternalTenantID: "realm-1"}
	require.NoError(t, s.SetConnectionTokens(ctx, c.ID, tokens, time.Now().UTC()))
	active, err = s.GetActiveConnection(ctx, studio)
	require.NoError(t, err, "token refresh leaves is_active alone")
	assert.Equal(t, c.ID, active.ID)
	assert.Equal(t, "realm-1", active.Tokens.ExternalTenantID)
	assert.Equal(t, "1200", active.Mapping.DepositAccount)

	syncedAt := time.Now().UTC()
	require.NoError(t, s.RecordSyncOutcome(ctx, c.ID, connection.SyncOutcome{At: syncedAt, LastError: "1 failed"}))

	require.NoError(t, s.DeactivateConnection(ctx, c.ID, connection.StatusDisconnected, "", time.Now().UTC()))
	got, err = s.GetConnection(ctx, studio, "books")
	require.NoError(t, err)
	assert.Equal(t, connection.StatusDisconnected, got.Status)
	assert.False(t, got.IsActive)
	assert.NotNil(t, got.DisconnectedAt)
	require.NotNil(t, got.LastSyncedAt)

	_, err = s.GetActiveConnection(ctx, studio)
	assert.ErrorIs(t, err, barre.ErrNoActiveConnection)
	assert.ErrorIs(t, s.ActivateConnection(ctx, studio, "books", time.Now().UTC()), barre.ErrConnectionClosed)
	assert.ErrorIs(t, s.ActivateConnection(ctx, studio, "nobody", time.Now().UTC()), barre.ErrConnectionNotFound)

	require.NoError(t, s.ReconnectConnection(ctx, c.ID, connection.TokenState{HasAccessToken: true}, time.Now().UTC()))
	got, err = s.GetConnectionByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, connection.StatusConnected, got.Status)
	assert.Nil(t, got.DisconnectedAt)
	assert.False(t, got.IsActive, "reconnect does not activate")
	assert.Equal(t, "1200", got.Mapping.DepositAccount, "reconnect keeps the mapping")

	assert.ErrorIs(t, s.SetConnectionMapping(ctx, id.NewConnectionID(), m, time.Now().UTC()), barre.ErrConnectionNotFound)
}

// Mapping and token writes that were read before a disconnect must not
// bring the connection back.
func testConnectionWritesKeepStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := newConnection("books")
	require.NoError(t, s.CreateConnection(ctx, c))
	require.NoError(t, s.ActivateConnection(ctx, studio, "books", time.Now().UTC()))

	stale, err := s.GetConnection(ctx, studio, "books")
	require.NoError(t, err)
	require.NoError(t, s.DeactivateConnection(ctx, c.ID, connection.StatusDisconnected, "", time.Now().UTC()))

	m := mapping.Mapping{DepositAccount: "1200"}
	require.NoError(t, s.SetConnectionMapping(ctx, stale.ID, m, time.Now().UTC()))
	require.NoError(t, s.SetConnectionTokens(ctx, stale.ID, connection.TokenState{HasAccessToken: true}, time.Now().UTC()))

	got, err := s.GetConnectionByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, connection.StatusDisconnected, got.Status)
	assert.False(t, got.IsActive)
	assert.NotNil(t, got.DisconnectedAt)
	assert.Equal(t, "1200", got.Mapping.DepositAccount)
}

func testActivationExclusive(t *testing.T, s store.Store) {
	ctx := context.Background()
	providers := []string{"books", "ledgerly", "tallyho"}
	for _, p := range providers {
		require.NoError(t, s.CreateConnection(ctx, newConnection(p)))
	}

	var wg sync.WaitGroup
	for i := range 30 {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_ = s.ActivateConnection(ctx, studio, p, time.Now().UTC())
		}(providers[i%len(providers)])
	}
	wg.Wait()

	list, err := s.ListConnections(ctx, studio)
	require.NoError(t, err)
	require.Len(t, list, 3)
	active := 0
	for _, c := range list {
		if c.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func newRecord(txID, provider string) *syncrecord.Record {
	now := time.Now().UTC()
	return &syncrecord.Record{
		Entity:          types.NewEntityAt(now),
		ID:              id.NewSyncRecordID(),
		StudioKey:       studio,
		Provider:        provider,
		ConnectionID:    id.NewConnectionID(),
		TransactionID:   txID,
		TransactionKind: txn.KindCharge,
		ObjectType:      syncrecord.ObjectInvoice,
		IdempotencyKey:  syncrecord.IdempotencyKey(txID, provider),
		Fingerprint:     "f0",
		Status:          syncrecord.StatusPending,
		LastAttemptAt:   &now,
		ClaimToken:      syncrecord.NewClaimToken(),
	}
}

func testSyncRecordUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	txID := id.NewChargeID().String()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateSyncRecord(ctx, newRecord(txID, "books"))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, barre.ErrAlreadyExists)
	}
	assert.Equal(t, 1, created)

	require.NoError(t, s.CreateSyncRecord(ctx, newRecord(txID, "ledgerly")), "unique per provider")

	list, err := s.ListSyncRecords(ctx, studio, syncrecord.ListOpts{TransactionIDs: []string{txID}})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.ListSyncRecords(ctx, studio, syncrecord.ListOpts{Provider: "books", Status: syncrecord.StatusPending})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testSyncRecordClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := newRecord(id.NewChargeID().String(), "books")
	require.NoError(t, s.CreateSyncRecord(ctx, r))

	claim := syncrecord.Claim{
		RecordID:     r.ID,
		From:         []syncrecord.Status{syncrecord.StatusFailed},
		StaleBefore:  time.Now().UTC().Add(-time.Hour),
		At:           time.Now().UTC(),
		Token:        syncrecord.NewClaimToken(),
		ConnectionID: r.ConnectionID,
		Fingerprint:  "f1",
		ObjectType:   syncrecord.ObjectInvoice,
	}
	_, err := s.ClaimSyncRecord(ctx, claim)
	assert.ErrorIs(t, err, barre.ErrSyncInFlight, "fresh pending record")

	done := time.Now().UTC()
	r.Status = syncrecord.StatusFailed
	r.RetryCount = 1
	r.LastError = "timeout"
	r.UpdatedAt = done
	require.NoError(t, s.CompleteSyncRecord(ctx, r))
	assert.ErrorIs(t, s.CompleteSyncRecord(ctx, r), barre.ErrConflict, "only pending records complete")

	var wg sync.WaitGroup
	wins := make([]bool, 6)
	for i := range wins {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ClaimSyncRecord(ctx, claim)
			wins[i] = err == nil
		}(i)
	}
	wg.Wait()
	won := 0
	for _, w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one claim wins")

	got, err := s.GetSyncRecord(ctx, r.TransactionID, "books")
	require.NoError(t, err)
	assert.Equal(t, syncrecord.StatusPending, got.Status)
	assert.Equal(t, "f1", got.Fingerprint)
	assert.Equal(t, 1, got.RetryCount)

	stale := claim
	stale.StaleBefore = time.Now().UTC().Add(time.Hour)
	stale.At = time.Now().UTC()
	_, err = s.ClaimSyncRecord(ctx, stale)
	require.NoError(t, err, "stale pending is reclaimable")

	_, err = s.GetSyncRecord(ctx, id.NewChargeID().String(), "books")
	assert.ErrorIs(t, err, barre.ErrSyncRecordNotFound)
}

// A run whose lease expired cannot complete a record another run has
// reclaimed since.
func testSyncRecordCompletionOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := newRecord(id.NewChargeID().String(), "books")
	require.NoError(t, s.CreateSyncRecord(ctx, first))

	later := first.UpdatedAt.Add(20 * time.Minute)
	second, err := s.ClaimSyncRecord(ctx, syncrecord.Claim{
		RecordID:     first.ID,
		From:         []syncrecord.Status{syncrecord.StatusFailed},
		StaleBefore:  later.Add(-15 * time.Minute),
		At:           later,
		Token:        syncrecord.NewClaimToken(),
		ConnectionID: first.ConnectionID,
		Fingerprint:  first.Fingerprint,
		ObjectType:   syncrecord.ObjectInvoice,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ClaimToken, second.ClaimToken)

	first.Status = syncrecord.StatusFailed
	first.RetryCount = 1
	first.LastError = "provider unavailable"
	first.UpdatedAt = later.Add(time.Minute)
	assert.ErrorIs(t, s.CompleteSyncRecord(ctx, first), barre.ErrConflict, "stale owner")

	syncedAt := later.Add(2 * time.Minute)
	second.Status = syncrecord.StatusSynced
	second.ExternalObjectID = "inv-77"
	second.SyncedAt = &syncedAt
	second.UpdatedAt = syncedAt
	require.NoError(t, s.CompleteSyncRecord(ctx, second))

	got, err := s.GetSyncRecord(ctx, first.TransactionID, "books")
	require.NoError(t, err)
	assert.Equal(t, syncrecord.StatusSynced, got.Status)
	assert.Equal(t, "inv-77", got.ExternalObjectID)
	assert.Equal(t, 0, got.RetryCount)
}
