package barre_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/barre"
	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/dancer"
	"github.com/xraph/barre/event"
	"github.com/xraph/barre/eventfee"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/plugin"
	"github.com/xraph/barre/provider/providertest"
	"github.com/xraph/barre/store"
	"github.com/xraph/barre/store/memory"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/types"
)

const studio = "studio-pointe"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine *barre.Engine
	store  *memory.Store
	books  *providertest.Provider
	auth   *providertest.Authorizer
	clock  *testClock
}

func newHarness(t *testing.T, opts ...barre.Option) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.New(), opts...)
}

func newHarnessWithStore(t *testing.T, s store.Store, opts ...barre.Option) *harness {
	t.Helper()
	h := &harness{
		books: providertest.New("quickbooks"),
		auth:  providertest.NewAuthorizer(),
		clock: &testClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
	}
	if ms, ok := s.(*memory.Store); ok {
		h.store = ms
	}
	base := []barre.Option{
		barre.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		barre.WithProvider(h.books),
		barre.WithAuthorizer(h.auth),
		barre.WithClock(h.clock.Now),
	}
	h.engine = barre.New(s, append(base, opts...)...)
	require.NoError(t, h.engine.Start(context.Background()))
	t.Cleanup(func() { _ = h.engine.Stop() })
	return h
}

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func (h *harness) dancer(t *testing.T, name string) *dancer.Dancer {
	t.Helper()
	d, err := h.engine.CreateDancer(context.Background(), barre.DancerInput{StudioKey: studio, Name: name})
	require.NoError(t, err)
	return d
}

func (h *harness) charge(t *testing.T, dancerID id.DancerID, kind charge.Kind, cents int64, date string) *charge.Charge {
	t.Helper()
	c, err := h.engine.CreateCharge(context.Background(), barre.ChargeInput{
		DancerID: dancerID,
		Kind:     kind,
		Amount:   types.USD(cents),
		Date:     day(date),
	})
	require.NoError(t, err)
	return c
}

func (h *harness) pay(t *testing.T, dancerID id.DancerID, cents int64, date string) *barre.PaymentResult {
	t.Helper()
	res, err := h.engine.RecordPayment(context.Background(), barre.PaymentInput{
		DancerID: dancerID,
		Amount:   types.USD(cents),
		Date:     day(date),
		Method:   payment.MethodCheck,
	})
	require.NoError(t, err)
	return res
}

// ── Ledger ─────────────────────────────────────────

func TestWaterfallScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	d := h.dancer(t, "Dana")

	tuition := h.charge(t, d.ID, charge.KindTuition, 10000, "2026-01-01")
	comp := h.charge(t, d.ID, charge.KindCompetition, 5000, "2026-01-15")
	res := h.pay(t, d.ID, 12000, "2026-01-10")

	assert.True(t, res.RemainingCredit.IsZero())
	require.Len(t, res.Applications, 2)
	assert.Equal(t, tuition.ID, res.Applications[0].ChargeID)
	assert.Equal(t, types.USD(10000), res.Applications[0].Amount)
	assert.Equal(t, comp.ID, res.Applications[1].ChargeID)
	assert.Equal(t, types.USD(2000), res.Applications[1].Amount)
	assert.Equal(t, types.USD(12000), res.Payment.Amount, "payment keeps the full amount")

	ledger, err := h.engine.ComputeLedger(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(3000), ledger.CurrentBalance)
	require.Len(t, ledger.Entries, 3)
	assert.Equal(t, types.USD(10000), ledger.Entries[0].Running)
	assert.Equal(t, types.USD(-2000), ledger.Entries[1].Running)
	assert.Equal(t, types.USD(3000), ledger.Entries[2].Running)
	require.NotNil(t, ledger.LastPaymentDate)
	assert.True(t, ledger.LastPaymentDate.Equal(day("2026-01-10")))

	alloc, err := h.engine.Allocation(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, alloc.Charge(tuition.ID).Balance.IsZero())
	assert.Equal(t, types.USD(3000), alloc.Charge(comp.ID).Balance)

	summary, err := h.engine.GetSummary(ctx, studio, "")
	require.NoError(t, err)
	assert.Equal(t, types.USD(3000), summary.Outstanding.Total)
	assert.Equal(t, 3, summary.Outstanding.Count)
}

func TestComputeLedgerNotFound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.ComputeLedger(ctx, id.NewDancerID())
	require.Error(t, err)
	assert.True(t, barre.IsNotFound(err))

	d := h.dancer(t, "Quiet")
	ledger, err := h.engine.ComputeLedger(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, ledger.Entries)
	assert.True(t, ledger.CurrentBalance.IsZero())
	assert.Nil(t, ledger.LastPaymentDate)
}

func TestRecordPaymentValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	d := h.dancer(t, "Vera")
	other := h.dancer(t, "Olga")

	ev, err := h.engine.CreateEvent(ctx, barre.EventInput{
		StudioKey: studio,
		Name:      "Spring Regionals",
		Kind:      event.KindCompetition,
		Fee:       types.USD(5000),
		Date:      day("2026-03-14"),
	})
	require.NoError(t, err)
	otherFee, err := h.engine.BillEvent(ctx, ev.ID, other.ID, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		in    barre.PaymentInput
		check func(error) bool
	}{
		{"zero amount", barre.PaymentInput{DancerID: d.ID, Amount: types.USD(0)}, barre.IsValidation},
		{"negative amount", barre.PaymentInput{DancerID: d.ID, Amount: types.USD(-100)}, barre.IsValidation},
		{"wrong currency", barre.PaymentInput{DancerID: d.ID, Amount: types.Cents(100, "cad")}, barre.IsValidation},
		{"missing dancer", barre.PaymentInput{Amount: types.USD(100)}, barre.IsValidation},
		{"unknown dancer", barre.PaymentInput{DancerID: id.NewDancerID(), Amount: types.USD(100)}, barre.IsNotFound},
		{"unknown fee", barre.PaymentInput{DancerID: d.ID, Amount: types.USD(100), EventFeeID: id.NewEventFeeID()}, barre.IsNotFound},
		{"fee of another dancer", barre.PaymentInput{DancerID: d.ID, Amount: types.USD(100), EventFeeID: otherFee.ID}, barre.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.RecordPayment(ctx, tt.in)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}

	_, payments, err := h.store.ListDancerTransactions(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, payments, "rejected payments are never written")
}

func TestTargetedPaymentCreditsExcess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	d := h.dancer(t, "Tess")

	h.charge(t, d.ID, charge.KindTuition, 10000, "2026-01-01")
	ev, err := h.engine.CreateEvent(ctx, barre.EventInput{
		StudioKey: studio,
		Name:      "Winter Showcase",
		Kind:      event.KindShowcase,
		Fee:       types.USD(5000),
		Date:      day("2026-02-20"),
	})
	require.NoError(t, err)
	fee, err := h.engine.BillEvent(ctx, ev.ID, d.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, eventfee.StatusBilled, fee.Status)

	res, err := h.engine.RecordPayment(ctx, barre.PaymentInput{
		DancerID:   d.ID,
		Amount:     types.USD(8000),
		EventFeeID: fee.ID,
	})
	require.NoError(t, err)
	require.Len(t, res.Applications, 1)
	assert.Equal(t, types.USD(5000), res.Applications[0].Amount)
	assert.Equal(t, types.USD(3000), res.RemainingCredit, "excess is credit, not the tuition charge")

	status, err := h.engine.EventFeeStatus(ctx, d.ID, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, eventfee.StatusPaid, status)

	ledger, err := h.engine.ComputeLedger(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(7000), ledger.CurrentBalance)
	assert.Equal(t, types.USD(3000), ledger.UnappliedCredit)

	// Credit stays visible; a later charge is not paid from it.
	later := h.charge(t, d.ID, charge.KindCostume, 2000, "2026-03-01")
	alloc, err := h.engine.Allocation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(2000), alloc.Charge(later.ID).Balance)
}

func TestEventBilling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.dancer(t, "Ada")
	b := h.dancer(t, "Bea")

	ev, err := h.engine.CreateEvent(ctx, barre.EventInput{
		StudioKey: studio,
		Name:      "Nationals",
		Kind:      event.KindCompetition,
		Fee:       types.USD(7500),
		Date:      day("2026-06-01"),
	})
	require.NoError(t, err)

	status, err := h.engine.EventFeeStatus(ctx, a.ID, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, eventfee.StatusUnbilled, status)

	_, err = h.engine.BillEvent(ctx, ev.ID, a.ID, nil)
	require.NoError(t, err)
	override := types.USD(6000)
	_, err = h.engine.BillEvent(ctx, ev.ID, b.ID, &override)
	require.NoError(t, err)

	_, err = h.engine.BillEvent(ctx, ev.ID, a.ID, nil)
	require.ErrorIs(t, err, barre.ErrEventAlreadyBilled)
	assert.True(t, barre.IsConflict(err))

	h.pay(t, a.ID, 2500, "2026-05-01")

	roster, err := h.engine.ListEventRoster(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	byDancer := map[id.DancerID]eventfee.EventFee{}
	for _, f := range roster {
		byDancer[f.DancerID] = f
	}
	assert.Equal(t, eventfee.StatusPartial, byDancer[a.ID].Status)
	assert.Equal(t, types.USD(5000), byDancer[a.ID].Balance)
	assert.Equal(t, eventfee.StatusBilled, byDancer[b.ID].Status)
	assert.Equal(t, types.USD(6000), byDancer[b.ID].Amount)
}

func TestUpdateCharge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	d := h.dancer(t, "Uma")
	c := h.charge(t, d.ID, charge.KindTuition, 10000, "2026-01-01")

	amount := types.USD(9000)
	updated, err := h.engine.UpdateCharge(ctx, charge.Update{ID: c.ID, Revision: c.Revision, Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, amount, updated.Amount)
	assert.Equal(t, c.Revision+1, updated.Revision)

	_, err = h.engine.UpdateCharge(ctx, charge.Update{ID: c.ID, Revision: c.Revision, Amount: &amount})
	require.ErrorIs(t, err, barre.ErrConflict, "stale revision")

	require.NoError(t, h.store.LockCharge(ctx, c.ID))
	_, err = h.engine.UpdateCharge(ctx, charge.Update{ID: c.ID, Revision: updated.Revision, Amount: &amount})
	require.ErrorIs(t, err, barre.ErrChargeLocked)
}

// conflictStore fails the first n payment writes the way a lost seq race does.
type conflictStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (s *conflictStore) CreatePayment(ctx context.Context, p *payment.Payment) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return barre.ErrConflict
	}
	s.mu.Unlock()
	return s.Store.CreatePayment(ctx, p)
}

func TestAppendConflictRetried(t *testing.T) {
	ctx := context.Background()
	cs := &conflictStore{Store: memory.New(), failures: 2}
	h := newHarnessWithStore(t, cs)

	d, err := h.engine.CreateDancer(ctx, barre.DancerInput{StudioKey: studio, Name: "Rae"})
	require.NoError(t, err)
	res, err := h.engine.RecordPayment(ctx, barre.PaymentInput{DancerID: d.ID, Amount: types.USD(500)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Payment.Seq)

	cs.failures = 100
	_, err = h.engine.RecordPayment(ctx, barre.PaymentInput{DancerID: d.ID, Amount: types.USD(500)})
	require.ErrorIs(t, err, barre.ErrConflict, "gives up after the retry budget")
}

func TestConcurrentPaymentsSerializePerDancer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, barre.WithAppendRetries(50))
	d := h.dancer(t, "Cora")
	h.charge(t, d.ID, charge.KindTuition, 40000, "2026-01-01")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.RecordPayment(ctx, barre.PaymentInput{DancerID: d.ID, Amount: types.USD(1000)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	charges, payments, err := h.store.ListDancerTransactions(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, payments, writers)
	seen := map[int64]bool{}
	for _, c := range charges {
		seen[c.Seq] = true
	}
	for _, p := range payments {
		assert.False(t, seen[p.Seq], "seq %d reused", p.Seq)
		seen[p.Seq] = true
	}

	ledger, err := h.engine.ComputeLedger(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(32000), ledger.CurrentBalance)
}

// ── Plugins ────────────────────────────────────────

type recordingPlugin struct {
	mu       sync.Mutex
	payments []types.Money
	synced   []string
	runs     int
}

func (p *recordingPlugin) Name() string { return "recorder" }

func (p *recordingPlugin) OnPaymentRecorded(_ context.Context, _ *payment.Payment, credit types.Money) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments = append(p.payments, credit)
	return nil
}

func (p *recordingPlugin) OnTransactionSynced(_ context.Context, r *syncrecord.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synced = append(p.synced, r.TransactionID)
	return nil
}

func (p *recordingPlugin) OnSyncRunCompleted(_ context.Context, _ plugin.SyncRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs++
	return nil
}

func TestPluginHooks(t *testing.T) {
	ctx := context.Background()
	rec := &recordingPlugin{}
	h := newHarness(t, barre.WithPlugin(rec))
	h.connect(t, "quickbooks", tuitionMapping())

	d := h.dancer(t, "Pia")
	c := h.charge(t, d.ID, charge.KindTuition, 1000, "2026-01-01")
	h.pay(t, d.ID, 1500, "2026-01-02")

	_, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{TransactionIDs: []string{c.ID.String()}})
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []types.Money{types.USD(500)}, rec.payments)
	assert.Equal(t, []string{c.ID.String()}, rec.synced)
	assert.Equal(t, 1, rec.runs)
}

func TestDancerAndEventManagement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	zoe := h.dancer(t, "Zoe")
	h.dancer(t, "Ada")
	h.charge(t, zoe.ID, charge.KindTuition, 8000, "2026-01-01")

	_, err := h.engine.SetDancerActive(ctx, zoe.ID, false)
	require.NoError(t, err)

	all, err := h.engine.ListDancers(ctx, studio, dancer.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ada", all[0].Name)

	active, err := h.engine.ListDancers(ctx, studio, dancer.ListOpts{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Ada", active[0].Name)

	stmt, err := h.engine.ComputeLedger(ctx, zoe.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(8000), stmt.CurrentBalance, "inactive dancers keep their ledger")

	ev, err := h.engine.CreateEvent(ctx, barre.EventInput{
		StudioKey: studio,
		Name:      "Spring Recital",
		Kind:      event.KindRecital,
		Fee:       types.USD(3000),
		Date:      day("2026-05-10"),
	})
	require.NoError(t, err)
	_, err = h.engine.CreateEvent(ctx, barre.EventInput{
		StudioKey: studio,
		Name:      "Regionals",
		Kind:      event.KindCompetition,
		Fee:       types.USD(9000),
		Date:      day("2026-03-01"),
	})
	require.NoError(t, err)

	fee := types.USD(3500)
	name := "Spring Recital 2026"
	updated, err := h.engine.UpdateEvent(ctx, barre.EventUpdate{ID: ev.ID, Name: &name, Fee: &fee})
	require.NoError(t, err)
	assert.Equal(t, fee, updated.Fee)

	_, err = h.engine.UpdateEvent(ctx, barre.EventUpdate{ID: ev.ID, Name: new(string)})
	assert.True(t, barre.IsValidation(err))

	events, err := h.engine.ListEvents(ctx, studio, event.ListOpts{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Regionals", events[0].Name, "events list by date")

	recitals, err := h.engine.ListEvents(ctx, studio, event.ListOpts{Kind: event.KindRecital})
	require.NoError(t, err)
	require.Len(t, recitals, 1)
	assert.Equal(t, name, recitals[0].Name)

	_, err = h.engine.CreateEvent(ctx, barre.EventInput{StudioKey: studio, Name: "No kind", Date: day("2026-06-01")})
	assert.True(t, barre.IsValidation(err))
}
