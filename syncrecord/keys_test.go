package syncrecord_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/barre/syncrecord"
)

func TestIdempotencyKey(t *testing.T) {
	a := syncrecord.IdempotencyKey("charge_01h2xcejqtf2nbrexx3vqjhp41", "quickbooks")
	b := syncrecord.IdempotencyKey("charge_01h2xcejqtf2nbrexx3vqjhp41", "QuickBooks")
	c := syncrecord.IdempotencyKey("charge_01h2xcejqtf2nbrexx3vqjhp41", "xero")
	d := syncrecord.IdempotencyKey("payment_01h2xcejqtf2nbrexx3vqjhp41", "quickbooks")

	assert.Equal(t, a, b, "provider name is case-insensitive")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestFingerprint(t *testing.T) {
	type content struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
	}

	first, err := syncrecord.Fingerprint(content{ID: "charge_1", Amount: 10000})
	require.NoError(t, err)
	again, err := syncrecord.Fingerprint(content{ID: "charge_1", Amount: 10000})
	require.NoError(t, err)
	changed, err := syncrecord.Fingerprint(content{ID: "charge_1", Amount: 9000})
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, changed)
	assert.Len(t, first, 64)

	_, err = syncrecord.Fingerprint(func() {})
	assert.Error(t, err)
}
