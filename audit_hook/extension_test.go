package audithook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audithook "github.com/xraph/barre/audit_hook"
	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/plugin"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/types"
)

type captured struct {
	events []*audithook.AuditEvent
}

func (c *captured) recorder() audithook.Recorder {
	return audithook.RecorderFunc(func(_ context.Context, e *audithook.AuditEvent) error {
		c.events = append(c.events, e)
		return nil
	})
}

func TestChargeCreatedRecorded(t *testing.T) {
	var got captured
	ext := audithook.New(got.recorder())

	c := &charge.Charge{
		ID:        id.NewChargeID(),
		StudioKey: "studio-pointe",
		DancerID:  id.NewDancerID(),
		Kind:      charge.KindTuition,
		Amount:    types.USD(12000),
	}
	require.NoError(t, ext.OnChargeCreated(context.Background(), c))

	require.Len(t, got.events, 1)
	evt := got.events[0]
	assert.Equal(t, audithook.ActionChargeCreated, evt.Action)
	assert.Equal(t, audithook.ResourceCharge, evt.Resource)
	assert.Equal(t, c.ID.String(), evt.ResourceID)
	assert.Equal(t, int64(12000), evt.Metadata["amount"])
	assert.Equal(t, "tuition", evt.Metadata["kind"])
}

func TestSyncFailedCarriesReason(t *testing.T) {
	var got captured
	ext := audithook.New(got.recorder())

	r := &syncrecord.Record{TransactionID: "charge_01h2xcejqtf2nbrexx3vqjhp41", Provider: "quickbooks", RetryCount: 2}
	require.NoError(t, ext.OnSyncFailed(context.Background(), r, errors.New("provider unavailable")))

	require.Len(t, got.events, 1)
	assert.Equal(t, audithook.OutcomeFailure, got.events[0].Outcome)
	assert.Equal(t, "provider unavailable", got.events[0].Reason)
	assert.Equal(t, 2, got.events[0].Metadata["retry_count"])
}

func TestRevokedConnectionIsWarning(t *testing.T) {
	var got captured
	ext := audithook.New(got.recorder())

	c := &connection.Connection{ID: id.NewConnectionID(), Provider: "xero", Status: connection.StatusError}
	require.NoError(t, ext.OnConnectionDisconnected(context.Background(), c))

	require.Len(t, got.events, 1)
	assert.Equal(t, audithook.SeverityWarning, got.events[0].Severity)
}

func TestSyncRunOutcome(t *testing.T) {
	tests := []struct {
		name    string
		run     plugin.SyncRun
		outcome string
		events  int
	}{
		{"all synced", plugin.SyncRun{Synced: 3}, audithook.OutcomeSuccess, 1},
		{"partial", plugin.SyncRun{Synced: 2, Failed: 1}, audithook.OutcomePartial, 1},
		{"nothing pushed", plugin.SyncRun{Skipped: 2}, audithook.OutcomeFailure, 1},
		{"dry run", plugin.SyncRun{Synced: 3, DryRun: true}, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			ext := audithook.New(got.recorder())
			tt.run.Elapsed = time.Second

			require.NoError(t, ext.OnSyncRunCompleted(context.Background(), tt.run))
			require.Len(t, got.events, tt.events)
			if tt.events > 0 {
				assert.Equal(t, tt.outcome, got.events[0].Outcome)
			}
		})
	}
}

func TestDisabledActions(t *testing.T) {
	var got captured
	ext := audithook.New(got.recorder(), audithook.WithDisabledActions(audithook.ActionTransactionSynced))

	r := &syncrecord.Record{TransactionID: "payment_01h2xcejqtf2nbrexx3vqjhp41", Provider: "quickbooks"}
	require.NoError(t, ext.OnTransactionSynced(context.Background(), r))
	require.NoError(t, ext.OnSyncSkipped(context.Background(), r, "account archived"))

	require.Len(t, got.events, 1)
	assert.Equal(t, audithook.ActionSyncSkipped, got.events[0].Action)
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("audit backend down")
	}))

	c := &connection.Connection{ID: id.NewConnectionID(), Provider: "quickbooks", Status: connection.StatusConnected}
	assert.NoError(t, ext.OnConnectionActivated(context.Background(), c))
}
