package barre_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/barre"
	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/provider/providertest"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/types"
)

func TestGetSummary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, barre.WithProvider(providertest.New("xero")))
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Gia")

	h.charge(t, d.ID, charge.KindTuition, 10000, "2026-01-01")
	comp := h.charge(t, d.ID, charge.KindCompetition, 5000, "2026-01-15")
	costume := h.charge(t, d.ID, charge.KindCostume, 3000, "2026-01-20")
	h.pay(t, d.ID, 4000, "2026-01-10")
	h.books.Fail(comp.ID.String(), nil)

	res, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Synced)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Skipped)

	h.charge(t, d.ID, charge.KindRecital, 2000, "2026-02-01")

	sum, err := h.engine.GetSummary(ctx, studio, "")
	require.NoError(t, err)
	assert.Equal(t, "quickbooks", sum.Provider)
	assert.Equal(t, types.USD(10000), sum.SyncedTotals.Charges)
	assert.Equal(t, types.USD(4000), sum.SyncedTotals.Payments)
	assert.Equal(t, types.USD(6000), sum.SyncedTotals.Net)

	assert.Equal(t, 2, sum.Outstanding.Count)
	assert.Equal(t, types.USD(7000), sum.Outstanding.Total)
	statuses := map[string]syncrecord.Status{}
	for _, item := range sum.Outstanding.Items {
		statuses[item.TransactionID] = item.Status
	}
	assert.Equal(t, syncrecord.StatusFailed, statuses[comp.ID.String()])

	require.Equal(t, 1, sum.Skipped.Count)
	assert.Equal(t, costume.ID.String(), sum.Skipped.Items[0].TransactionID)
	assert.NotEmpty(t, sum.Skipped.Items[0].LastError)

	other, err := h.engine.GetSummary(ctx, studio, "xero")
	require.NoError(t, err)
	assert.Equal(t, 5, other.Outstanding.Count, "nothing has reached xero")
	assert.Equal(t, types.USD(16000), other.Outstanding.Total)
	assert.True(t, other.SyncedTotals.Net.IsZero())
}

func TestGetSummaryEmptyStudio(t *testing.T) {
	h := newHarness(t)
	sum, err := h.engine.GetSummary(context.Background(), "studio-empty", "")
	require.NoError(t, err)
	assert.Zero(t, sum.Outstanding.Count)
	assert.True(t, sum.Outstanding.Total.IsZero())
	assert.NotNil(t, sum.Outstanding.Items)
	assert.Empty(t, sum.Skipped.Items)
}
