package barre_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/barre"
	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/mapping"
	"github.com/xraph/barre/provider/providertest"
	"github.com/xraph/barre/store/memory"
	"github.com/xraph/barre/types"
)

// TestDocumentationExamples keeps the package documentation examples honest.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStart", func(t *testing.T) {
		ctx := context.Background()
		eng := barre.New(memory.New(),
			barre.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			barre.WithProvider(providertest.New("quickbooks")),
			barre.WithAuthorizer(providertest.NewAuthorizer()),
		)
		require.NoError(t, eng.Start(ctx))
		defer eng.Stop()

		d, err := eng.CreateDancer(ctx, barre.DancerInput{StudioKey: "studio-pointe", Name: "Dana"})
		require.NoError(t, err)
		_, err = eng.CreateCharge(ctx, barre.ChargeInput{DancerID: d.ID, Kind: charge.KindTuition, Amount: barre.USD(12000)})
		require.NoError(t, err)
		_, err = eng.RecordPayment(ctx, barre.PaymentInput{DancerID: d.ID, Amount: barre.USD(5000)})
		require.NoError(t, err)

		stmt, err := eng.ComputeLedger(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "$70.00", stmt.CurrentBalance.String())

		_, err = eng.Connect(ctx, "studio-pointe", "quickbooks")
		require.NoError(t, err)
		_, err = eng.SetMappings(ctx, "studio-pointe", "quickbooks", mapping.Mapping{
			ChargeAccounts: map[charge.Kind]string{charge.KindTuition: "4000"},
			DepositAccount: "1200",
		})
		require.NoError(t, err)
		_, err = eng.Activate(ctx, "studio-pointe", "quickbooks")
		require.NoError(t, err)

		result, err := eng.RunSync(ctx, "studio-pointe", barre.SyncOptions{Limit: 100})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Synced)
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		m1 := types.USD(100)
		m2 := types.USD(250)

		assert.Equal(t, types.USD(350), m1.Add(m2))
		assert.True(t, m1.LessThan(m2))
		assert.Equal(t, "-1.50", m1.Subtract(m2).FormatMajor())
		assert.Equal(t, "-$1.50", m1.Subtract(m2).String())
		assert.Equal(t, "0.00", types.Zero("usd").FormatMajor())
	})
}
