package observability_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/observability"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/plugin"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/types"
)

type fakeFactory struct {
	mu       sync.Mutex
	counters map[string]float64
	observed map[string][]float64
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{counters: map[string]float64{}, observed: map[string][]float64{}}
}

func (f *fakeFactory) Counter(name string) observability.Counter {
	return fakeCounter{f: f, name: name}
}

func (f *fakeFactory) Histogram(name string) observability.Histogram {
	return fakeHistogram{f: f, name: name}
}

type fakeCounter struct {
	f    *fakeFactory
	name string
}

func (c fakeCounter) Inc() { c.Add(1) }
func (c fakeCounter) Add(v float64) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.counters[c.name] += v
}

type fakeHistogram struct {
	f    *fakeFactory
	name string
}

func (h fakeHistogram) Observe(v float64) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	h.f.observed[h.name] = append(h.f.observed[h.name], v)
}

func TestLedgerMetrics(t *testing.T) {
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)
	ctx := context.Background()

	require.NoError(t, m.OnChargeCreated(ctx, &charge.Charge{Amount: types.USD(12000)}))
	require.NoError(t, m.OnEventBilled(ctx, &charge.Charge{Amount: types.USD(4500)}))
	require.NoError(t, m.OnPaymentRecorded(ctx, &payment.Payment{Amount: types.USD(5000)}, types.USD(0)))
	require.NoError(t, m.OnPaymentRecorded(ctx, &payment.Payment{Amount: types.USD(9000)}, types.USD(1500)))

	assert.Equal(t, 1.0, f.counters["barre.charge.created"])
	assert.Equal(t, 1.0, f.counters["barre.event.billed"])
	assert.Equal(t, 2.0, f.counters["barre.payment.recorded"])
	assert.Equal(t, []float64{12000}, f.observed["barre.charge.amount"])
	assert.Equal(t, []float64{1500}, f.observed["barre.payment.unapplied"], "zero credit is not observed")
}

func TestConnectionMetrics(t *testing.T) {
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)
	ctx := context.Background()

	require.NoError(t, m.OnConnectionActivated(ctx, &connection.Connection{}))
	require.NoError(t, m.OnConnectionDisconnected(ctx, &connection.Connection{Status: connection.StatusDisconnected}))
	require.NoError(t, m.OnConnectionDisconnected(ctx, &connection.Connection{Status: connection.StatusError}))

	assert.Equal(t, 1.0, f.counters["barre.connection.activated"])
	assert.Equal(t, 1.0, f.counters["barre.connection.disconnected"])
	assert.Equal(t, 1.0, f.counters["barre.connection.token_revoked"])
}

func TestSyncMetrics(t *testing.T) {
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)
	ctx := context.Background()
	r := &syncrecord.Record{Provider: "quickbooks"}

	require.NoError(t, m.OnTransactionSynced(ctx, r))
	require.NoError(t, m.OnTransactionSynced(ctx, r))
	require.NoError(t, m.OnSyncFailed(ctx, r, assert.AnError))
	require.NoError(t, m.OnSyncSkipped(ctx, r, "rejected"))
	require.NoError(t, m.OnSyncRunCompleted(ctx, plugin.SyncRun{Synced: 2, Failed: 1, Skipped: 1, Deferred: 3, Elapsed: 250 * time.Millisecond}))
	require.NoError(t, m.OnSyncRunCompleted(ctx, plugin.SyncRun{DryRun: true, Elapsed: time.Second}))

	assert.Equal(t, 2.0, f.counters["barre.sync.synced"])
	assert.Equal(t, 1.0, f.counters["barre.sync.failed"])
	assert.Equal(t, 1.0, f.counters["barre.sync.skipped"])
	assert.Equal(t, 3.0, f.counters["barre.sync.deferred"])
	assert.Equal(t, 1.0, f.counters["barre.sync.runs"], "dry runs are not counted")
	assert.Equal(t, []float64{250}, f.observed["barre.sync.run.latency_ms"])
}

func TestOTelFactory(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("barre-test")
	m := observability.NewMetricsExtension(observability.NewOTelFactory(meter))

	assert.NotPanics(t, func() {
		_ = m.OnChargeCreated(context.Background(), &charge.Charge{Amount: types.USD(100)})
		_ = m.OnSyncRunCompleted(context.Background(), plugin.SyncRun{Synced: 1})
	})
}
