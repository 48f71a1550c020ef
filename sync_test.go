package barre_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/barre"
	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/mapping"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/txn"
	"github.com/xraph/barre/types"
)

func tuitionMapping() mapping.Mapping {
	return mapping.Mapping{
		ChargeAccounts: map[charge.Kind]string{
			charge.KindTuition:     "4000",
			charge.KindCompetition: "4100",
			charge.KindRecital:     "4200",
		},
		DepositAccount: "1200",
	}
}

func (h *harness) connect(t *testing.T, providerName string, m mapping.Mapping) *connection.Connection {
	t.Helper()
	ctx := context.Background()
	_, err := h.engine.Connect(ctx, studio, providerName)
	require.NoError(t, err)
	_, err = h.engine.SetMappings(ctx, studio, providerName, m)
	require.NoError(t, err)
	conn, err := h.engine.Activate(ctx, studio, providerName)
	require.NoError(t, err)
	return conn
}

func (h *harness) record(t *testing.T, transactionID string) *syncrecord.Record {
	t.Helper()
	r, err := h.store.GetSyncRecord(context.Background(), transactionID, "quickbooks")
	require.NoError(t, err)
	return r
}

func TestSyncLimitCountsProcessedOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Lia")

	var charges []*charge.Charge
	for i := 1; i <= 5; i++ {
		c := h.charge(t, d.ID, charge.KindTuition, int64(1000*i), fmt.Sprintf("2026-01-%02d", i))
		charges = append(charges, c)
		h.books.Fail(c.ID.String(), nil)
	}

	first, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 5, first.Failed)
	for _, c := range charges {
		h.books.Clear(c.ID.String())
	}

	newest, next := charges[4], charges[3]
	h.books.Reject(newest.ID.String(), "item code 4000 is archived")
	h.books.Hang(next.ID.String())

	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{Limit: 2, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Results, 2)

	assert.Equal(t, newest.ID.String(), res.Results[0].TransactionID)
	assert.Equal(t, barre.OutcomeSkipped, res.Results[0].Outcome)
	assert.False(t, barre.IsRetryable(res.Results[0].Err))
	assert.Equal(t, next.ID.String(), res.Results[1].TransactionID)
	assert.Equal(t, barre.OutcomeFailed, res.Results[1].Outcome)
	assert.True(t, barre.IsRetryable(res.Results[1].Err))

	skipped := h.record(t, newest.ID.String())
	assert.Equal(t, syncrecord.StatusSkipped, skipped.Status)
	assert.Contains(t, skipped.LastError, "archived")

	timedOut := h.record(t, next.ID.String())
	assert.Equal(t, syncrecord.StatusFailed, timedOut.Status)
	assert.Equal(t, 2, timedOut.RetryCount)
	assert.Contains(t, timedOut.LastError, "timed out")

	untouched := h.record(t, charges[0].ID.String())
	assert.Equal(t, syncrecord.StatusFailed, untouched.Status)
	assert.Equal(t, 1, untouched.RetryCount)

	assert.Equal(t, 7, h.books.CallCount())
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Ivy")

	var ids []string
	for i := 1; i <= 3; i++ {
		c := h.charge(t, d.ID, charge.KindTuition, 5000, fmt.Sprintf("2026-01-%02d", i))
		ids = append(ids, c.ID.String())
	}

	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Synced)
	assert.Equal(t, 3, h.books.CallCount())
	for _, r := range res.Results {
		assert.NotEmpty(t, r.ExternalObjectID)
		assert.Equal(t, syncrecord.ObjectInvoice, r.ObjectType)
	}

	again, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	assert.Empty(t, again.Results)

	named, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{TransactionIDs: ids})
	require.NoError(t, err)
	assert.Equal(t, 3, named.Unchanged)
	assert.Equal(t, 3, h.books.CallCount(), "no extra provider calls")

	records, err := h.store.ListSyncRecords(ctx, studio, syncrecord.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	c, err := h.engine.GetCharge(ctx, id.MustParse(ids[0]))
	require.NoError(t, err)
	assert.True(t, c.Locked, "synced charges are locked")
	amount := types.USD(1)
	_, err = h.engine.UpdateCharge(ctx, charge.Update{ID: c.ID, Revision: c.Revision, Amount: &amount})
	assert.ErrorIs(t, err, barre.ErrChargeLocked)
}

func TestSyncIdempotencyKeyStableAcrossRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Kit")
	c := h.charge(t, d.ID, charge.KindTuition, 5000, "2026-01-05")

	h.books.Fail(c.ID.String(), nil)
	_, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	h.books.Clear(c.ID.String())
	_, err = h.engine.RetryFailedSync(ctx, studio, barre.RetryOptions{})
	require.NoError(t, err)

	calls := h.books.CallsFor(c.ID.String())
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
	assert.Equal(t, syncrecord.IdempotencyKey(c.ID.String(), "quickbooks"), calls[0].IdempotencyKey)
	assert.Equal(t, "tenant-test", calls[0].TenantID)
	require.Len(t, calls[0].Lines, 1)
	assert.Equal(t, "4000", calls[0].Lines[0].AccountCode)
	assert.Equal(t, syncrecord.StatusSynced, h.record(t, c.ID.String()).Status)
}

func TestSyncDryRunPersistsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	conn := h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Dot")
	h.charge(t, d.ID, charge.KindTuition, 5000, "2026-01-01")
	h.charge(t, d.ID, charge.KindRecital, 2500, "2026-01-02")
	h.charge(t, d.ID, charge.KindCostume, 4000, "2026-01-03")

	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.Planned)
	assert.Equal(t, 1, res.Skipped, "unmapped costume would be skipped")
	assert.Zero(t, h.books.CallCount())

	records, err := h.store.ListSyncRecords(ctx, studio, syncrecord.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, records)

	stored, err := h.store.GetConnectionByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastSyncedAt)
}

func TestSyncUnmappedSkippedUntilMappingFixed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Mae")
	c := h.charge(t, d.ID, charge.KindCostume, 4000, "2026-01-03")

	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	assert.ErrorIs(t, res.Results[0].Err, barre.ErrUnmapped)
	assert.Zero(t, h.books.CallCount(), "rejected locally without a provider call")

	res, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Results, "skipped is terminal for automatic runs")

	m := tuitionMapping()
	m.ChargeAccounts[charge.KindCostume] = "4300"
	_, err = h.engine.SetMappings(ctx, studio, "quickbooks", m)
	require.NoError(t, err)

	res, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, syncrecord.StatusSynced, h.record(t, c.ID.String()).Status)
}

func TestSyncNamedReattemptsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Nia")
	c := h.charge(t, d.ID, charge.KindTuition, 4000, "2026-01-03")

	h.books.Reject(c.ID.String(), "customer archived")
	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)

	h.books.Clear(c.ID.String())
	res, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{
		TransactionIDs: []string{c.ID.String(), "charge_01h2xcejqtf2nbrexx3vqjhp41", "efee_01h2xcejqtf2nbrexx3vqjhp41"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.ElementsMatch(t, []string{"charge_01h2xcejqtf2nbrexx3vqjhp41", "efee_01h2xcejqtf2nbrexx3vqjhp41"}, res.Missing)
}

func TestSyncPayments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())

	d := h.dancer(t, "Pam")
	c := h.charge(t, d.ID, charge.KindTuition, 10000, "2026-01-01")
	applied := h.pay(t, d.ID, 4000, "2026-01-10")

	credit := h.dancer(t, "Cy")
	prepaid := h.pay(t, credit.ID, 2500, "2026-01-11")

	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Synced)

	invoice := h.record(t, c.ID.String())
	calls := h.books.CallsFor(applied.Payment.ID.String())
	require.Len(t, calls, 1)
	assert.Equal(t, syncrecord.ObjectPayment, calls[0].ObjectType)
	require.Len(t, calls[0].Applications, 1)
	assert.Equal(t, invoice.ExternalObjectID, calls[0].Applications[0].ExternalInvoiceID)
	assert.Equal(t, types.USD(4000), calls[0].Applications[0].Amount)

	calls = h.books.CallsFor(prepaid.Payment.ID.String())
	require.Len(t, calls, 1)
	assert.Equal(t, syncrecord.ObjectBankTransaction, calls[0].ObjectType)
	assert.Equal(t, "1200", calls[0].DepositAccount)
}

func TestSyncRepushesPaymentWhenApplicationsMove(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Ivy")
	costume := h.charge(t, d.ID, charge.KindCostume, 0, "2026-01-01")
	tuition := h.charge(t, d.ID, charge.KindTuition, 10000, "2026-01-02")
	p := h.pay(t, d.ID, 10000, "2026-01-10")

	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Synced)
	require.Equal(t, 1, res.Skipped)
	calls := h.books.CallsFor(p.Payment.ID.String())
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Applications, 1)
	assert.Equal(t, tuition.ID.String(), calls[0].Applications[0].ChargeID)

	amount := types.USD(6000)
	_, err = h.engine.UpdateCharge(ctx, charge.Update{ID: costume.ID, Revision: costume.Revision, Amount: &amount})
	require.NoError(t, err)

	_, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	rec := h.record(t, p.Payment.ID.String())
	assert.Equal(t, syncrecord.StatusFailed, rec.Status, "the moved payment now waits on the costume invoice")
	assert.Len(t, h.books.CallsFor(p.Payment.ID.String()), 1)

	m := tuitionMapping()
	m.ChargeAccounts[charge.KindCostume] = "4300"
	_, err = h.engine.SetMappings(ctx, studio, "quickbooks", m)
	require.NoError(t, err)
	res, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{TransactionIDs: []string{costume.ID.String()}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)
	res, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{TransactionIDs: []string{p.Payment.ID.String()}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)

	calls = h.books.CallsFor(p.Payment.ID.String())
	require.Len(t, calls, 2)
	last := calls[1].Applications
	require.Len(t, last, 2)
	assert.Equal(t, costume.ID.String(), last[0].ChargeID)
	assert.Equal(t, types.USD(6000), last[0].Amount)
	assert.Equal(t, tuition.ID.String(), last[1].ChargeID)
	assert.Equal(t, types.USD(4000), last[1].Amount)
}

func TestSyncPaymentWaitsForInvoice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Wren")
	c := h.charge(t, d.ID, charge.KindTuition, 10000, "2026-01-01")
	p := h.pay(t, d.ID, 4000, "2026-01-10")

	h.books.Fail(c.ID.String(), nil)
	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Empty(t, h.books.CallsFor(p.Payment.ID.String()))
	rec := h.record(t, p.Payment.ID.String())
	assert.Contains(t, rec.LastError, "not been synced")

	h.books.Clear(c.ID.String())
	res, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
}

func TestSyncBankTransactionNeedsDepositAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := tuitionMapping()
	m.DepositAccount = ""
	h.connect(t, "quickbooks", m)
	d := h.dancer(t, "Bo")
	p := h.pay(t, d.ID, 1000, "2026-01-10")

	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	assert.Equal(t, syncrecord.ObjectBankTransaction, res.Results[0].ObjectType)
	assert.Equal(t, syncrecord.StatusSkipped, h.record(t, p.Payment.ID.String()).Status)
}

func TestSyncStalePendingReclaimed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	conn := h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Sol")
	c := h.charge(t, d.ID, charge.KindTuition, 5000, "2026-01-01")

	// A run that crashed after claiming the record.
	require.NoError(t, h.store.CreateSyncRecord(ctx, &syncrecord.Record{
		Entity:          types.NewEntityAt(h.clock.Now()),
		ID:              id.NewSyncRecordID(),
		StudioKey:       studio,
		Provider:        "quickbooks",
		ConnectionID:    conn.ID,
		TransactionID:   c.ID.String(),
		TransactionKind: txn.KindCharge,
		ObjectType:      syncrecord.ObjectInvoice,
		IdempotencyKey:  syncrecord.IdempotencyKey(c.ID.String(), "quickbooks"),
		Status:          syncrecord.StatusPending,
	}))

	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{TransactionIDs: []string{c.ID.String()}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)
	assert.True(t, barre.IsConflict(res.Results[0].Err))

	res, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Results, "fresh pending records are left to their owner")

	h.clock.Advance(barre.DefaultPendingLease + time.Minute)
	res, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, h.books.CallCount())
}

func TestConcurrentSyncRunsNeverDoublePost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, barre.WithSyncWorkers(3))
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Zia")

	var charges []*charge.Charge
	for i := 1; i <= 10; i++ {
		c := h.charge(t, d.ID, charge.KindTuition, 1000, fmt.Sprintf("2026-01-%02d", i))
		h.books.Delay(c.ID.String(), 5*time.Millisecond)
		charges = append(charges, c)
	}

	const runs = 4
	var wg sync.WaitGroup
	results := make([]*barre.SyncResult, runs)
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	synced := 0
	for _, r := range results {
		require.NotNil(t, r)
		synced += r.Synced
		assert.Zero(t, r.Failed)
	}
	assert.Equal(t, 10, synced)
	for _, c := range charges {
		assert.Len(t, h.books.CallsFor(c.ID.String()), 1, "charge %s pushed more than once", c.ID)
	}
	records, err := h.store.ListSyncRecords(ctx, studio, syncrecord.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, records, 10)
}

func TestRetryFailedSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, barre.WithMaxRetries(2))
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Rio")

	failing := h.charge(t, d.ID, charge.KindTuition, 1000, "2026-01-01")
	rejected := h.charge(t, d.ID, charge.KindTuition, 1000, "2026-01-02")
	h.books.Fail(failing.ID.String(), nil)
	h.books.Reject(rejected.ID.String(), "duplicate document number")

	_, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)

	res, err := h.engine.RetryFailedSync(ctx, studio, barre.RetryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Results, 1, "only failed records are retried")
	assert.Equal(t, failing.ID.String(), res.Results[0].TransactionID)
	assert.Equal(t, 2, h.record(t, failing.ID.String()).RetryCount)

	res, err = h.engine.RetryFailedSync(ctx, studio, barre.RetryOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Results, "retry cap reached")

	h.books.Clear(failing.ID.String())
	res, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{TransactionIDs: []string{failing.ID.String()}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced, "named transactions ignore the cap")
	assert.Len(t, h.books.CallsFor(rejected.ID.String()), 1)
}

func TestSyncRecordsOutcomeOnConnection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	conn := h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Ona")
	c := h.charge(t, d.ID, charge.KindTuition, 1000, "2026-01-01")
	h.books.Fail(c.ID.String(), nil)

	_, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)

	stored, err := h.store.GetConnectionByID(ctx, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSyncedAt)
	assert.Contains(t, stored.LastError, "unavailable")
}

func TestSyncTargetErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	assert.ErrorIs(t, err, barre.ErrNoActiveConnection)

	h.connect(t, "quickbooks", tuitionMapping())
	_, err = h.engine.Disconnect(ctx, studio, "quickbooks")
	require.NoError(t, err)

	_, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{Provider: "quickbooks"})
	assert.ErrorIs(t, err, barre.ErrConnectionClosed)

	_, err = h.engine.RunSync(ctx, studio, barre.SyncOptions{Provider: "xero"})
	assert.True(t, barre.IsNotFound(err))
}
