package barre_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/barre"
	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/mapping"
	"github.com/xraph/barre/provider/providertest"
	"github.com/xraph/barre/syncrecord"
)

func activeCount(t *testing.T, h *harness) int {
	t.Helper()
	conns, err := h.engine.ListConnections(context.Background(), studio)
	require.NoError(t, err)
	n := 0
	for _, c := range conns {
		if c.IsActive {
			n++
		}
	}
	return n
}

func TestConnectionLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	c, err := h.engine.Connect(ctx, studio, "QuickBooks")
	require.NoError(t, err)
	assert.Equal(t, "quickbooks", c.Provider)
	assert.Equal(t, connection.StatusConnected, c.Status)
	assert.False(t, c.IsActive, "new connections start pending")
	assert.True(t, c.Tokens.HasAccessToken)
	assert.Equal(t, "tenant-test", c.Tokens.ExternalTenantID)

	active, err := h.engine.Activate(ctx, studio, "quickbooks")
	require.NoError(t, err)
	assert.True(t, active.IsActive)
	assert.Equal(t, c.ID, active.ID)

	got, err := h.engine.ActiveConnection(ctx, studio)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	off, err := h.engine.Disconnect(ctx, studio, "quickbooks")
	require.NoError(t, err)
	assert.Equal(t, connection.StatusDisconnected, off.Status)
	assert.False(t, off.IsActive)
	assert.NotNil(t, off.DisconnectedAt)

	_, err = h.engine.ActiveConnection(ctx, studio)
	assert.ErrorIs(t, err, barre.ErrNoActiveConnection)

	conns, err := h.engine.ListConnections(ctx, studio)
	require.NoError(t, err)
	require.Len(t, conns, 1, "disconnect keeps the row")

	again, err := h.engine.Connect(ctx, studio, "quickbooks")
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID, "reconnect reuses the row")
	assert.Equal(t, connection.StatusConnected, again.Status)
	assert.Nil(t, again.DisconnectedAt)
}

func TestDisconnectKeepsSyncRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())
	d := h.dancer(t, "Ada")
	h.charge(t, d.ID, charge.KindTuition, 1000, "2026-01-01")

	_, err := h.engine.RunSync(ctx, studio, barre.SyncOptions{})
	require.NoError(t, err)
	_, err = h.engine.Disconnect(ctx, studio, "quickbooks")
	require.NoError(t, err)

	records, err := h.store.ListSyncRecords(ctx, studio, syncrecord.ListOpts{Provider: "quickbooks"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestConnectAuthorizationFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.auth.Fail(errors.New("consent denied"))
	_, err := h.engine.Connect(ctx, studio, "quickbooks")
	require.Error(t, err)
	assert.True(t, barre.IsProviderError(err))
	assert.Contains(t, err.Error(), "consent denied")

	conns, err := h.engine.ListConnections(ctx, studio)
	require.NoError(t, err)
	assert.Empty(t, conns, "nothing written on failure")

	h.auth.Fail(nil)
	c := h.connect(t, "quickbooks", tuitionMapping())

	h.auth.Fail(errors.New("refresh token expired"))
	_, err = h.engine.Connect(ctx, studio, "quickbooks")
	require.Error(t, err)

	stored, err := h.engine.ActiveConnection(ctx, studio)
	require.NoError(t, err)
	assert.Equal(t, c.ID, stored.ID)
	assert.Equal(t, connection.StatusConnected, stored.Status, "prior state kept")
}

func TestConnectUnknownProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Connect(context.Background(), studio, "sage")
	assert.ErrorIs(t, err, barre.ErrProviderNotFound)
	assert.Zero(t, h.auth.Calls())
}

func TestActivationExclusive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, barre.WithProvider(providertest.New("xero")))

	for _, p := range []string{"quickbooks", "xero"} {
		_, err := h.engine.Connect(ctx, studio, p)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, activeCount(t, h))

	_, err := h.engine.Activate(ctx, studio, "quickbooks")
	require.NoError(t, err)
	_, err = h.engine.Activate(ctx, studio, "xero")
	require.NoError(t, err)
	assert.Equal(t, 1, activeCount(t, h))
	active, err := h.engine.ActiveConnection(ctx, studio)
	require.NoError(t, err)
	assert.Equal(t, "xero", active.Provider)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := "quickbooks"
			if i%2 == 0 {
				p = "xero"
			}
			_, err := h.engine.Activate(ctx, studio, p)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, activeCount(t, h))
}

func TestActivateRequiresConnected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.Activate(ctx, studio, "quickbooks")
	assert.True(t, barre.IsNotFound(err))

	_, err = h.engine.Connect(ctx, studio, "quickbooks")
	require.NoError(t, err)
	_, err = h.engine.Disconnect(ctx, studio, "quickbooks")
	require.NoError(t, err)

	_, err = h.engine.Activate(ctx, studio, "quickbooks")
	assert.True(t, barre.IsValidation(err))
	assert.Equal(t, 0, activeCount(t, h))
}

func TestRecordTokenEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())

	c, err := h.engine.RecordTokenState(ctx, studio, "quickbooks", connection.TokenState{HasAccessToken: true})
	require.NoError(t, err)
	assert.False(t, c.Tokens.HasRefreshToken)
	assert.True(t, c.IsActive, "token refresh leaves activation alone")

	c, err = h.engine.RecordTokenRevoked(ctx, studio, "quickbooks", "")
	require.NoError(t, err)
	assert.Equal(t, connection.StatusError, c.Status)
	assert.False(t, c.IsActive)
	assert.Equal(t, "token revoked", c.LastError)
}

func TestSetMappingsValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.engine.Connect(ctx, studio, "quickbooks")
	require.NoError(t, err)

	_, err = h.engine.SetMappings(ctx, studio, "quickbooks", mapping.Mapping{
		ChargeAccounts: map[charge.Kind]string{"lessons": "4000"},
		TaxCode:        "tax code!",
	})
	require.Error(t, err)
	assert.True(t, barre.IsValidation(err))
	var multi barre.MultiError
	require.ErrorAs(t, err, &multi)
	assert.Len(t, multi.Errors, 2)

	c, err := h.engine.SetMappings(ctx, studio, "quickbooks", tuitionMapping())
	require.NoError(t, err)
	assert.Equal(t, "4000", c.Mapping.ChargeAccounts[charge.KindTuition])
}

func TestConnectionEditsAfterDisconnectStayDisconnected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.connect(t, "quickbooks", tuitionMapping())
	_, err := h.engine.Disconnect(ctx, studio, "quickbooks")
	require.NoError(t, err)

	m := tuitionMapping()
	m.DepositAccount = "1250"
	c, err := h.engine.SetMappings(ctx, studio, "quickbooks", m)
	require.NoError(t, err)
	assert.Equal(t, "1250", c.Mapping.DepositAccount)
	assert.Equal(t, connection.StatusDisconnected, c.Status)
	assert.NotNil(t, c.DisconnectedAt)

	c, err = h.engine.RecordTokenState(ctx, studio, "quickbooks", connection.TokenState{HasAccessToken: true})
	require.NoError(t, err)
	assert.Equal(t, connection.StatusDisconnected, c.Status)
	assert.False(t, c.IsActive)

	c, err = h.engine.Connect(ctx, studio, "quickbooks")
	require.NoError(t, err)
	assert.Equal(t, connection.StatusConnected, c.Status)
	assert.Nil(t, c.DisconnectedAt)
	assert.Equal(t, "1250", c.Mapping.DepositAccount, "reconnect keeps the mapping")
}
