package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/store"
	"github.com/xraph/barre/store/storetest"
	"github.com/xraph/barre/types"
)

// BARRE_MONGO_URI must point at a replica set; transactions are rejected
// by a standalone mongod.
const uriEnv = "BARRE_MONGO_URI"

var dbSeq atomic.Int64

func openStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv(uriEnv)
	if uri == "" {
		t.Skipf("%s not set", uriEnv)
	}
	ctx := context.Background()
	name := fmt.Sprintf("barre_test_%d_%d", time.Now().UnixNano(), dbSeq.Add(1))

	mdb := mongodriver.New()
	require.NoError(t, mdb.Open(ctx, uri, mongodriver.WithDatabase(name)))
	db, err := grove.Open(mdb)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mdb.Database().Drop(context.Background())
		_ = db.Close()
	})

	s := New(db)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestConformance(t *testing.T) {
	if os.Getenv(uriEnv) == "" {
		t.Skipf("%s not set", uriEnv)
	}
	storetest.Run(t, func(t *testing.T) store.Store { return openStore(t) })
}

func seedConnection(t *testing.T, s *Store, provider string, active bool) *connection.Connection {
	t.Helper()
	now := time.Now().UTC()
	c := &connection.Connection{
		Entity:      types.NewEntity(),
		ID:          id.NewConnectionID(),
		StudioKey:   "studio-mongo",
		Provider:    provider,
		Status:      connection.StatusConnected,
		ConnectedAt: &now,
	}
	require.NoError(t, s.CreateConnection(context.Background(), c))
	if active {
		require.NoError(t, s.ActivateConnection(context.Background(), c.StudioKey, provider, now))
	}
	return c
}

func TestActivationRollsBackTogether(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	current := seedConnection(t, s, "books", true)
	seedConnection(t, s, "ledgerly", false)

	coll := s.mdb.Collection(colConnections)
	sess, err := s.mdb.Client().StartSession()
	require.NoError(t, err)
	defer sess.EndSession(ctx)

	aborted := errors.New("aborted after activation writes")
	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		if err := activateInTxn(sc, coll, current.StudioKey, "ledgerly", time.Now().UTC()); err != nil {
			return nil, err
		}
		return nil, aborted
	})
	require.ErrorIs(t, err, aborted)

	active, err := s.GetActiveConnection(ctx, current.StudioKey)
	require.NoError(t, err, "the deactivation of books rolled back with the activation")
	assert.Equal(t, current.ID, active.ID)

	n, err := coll.CountDocuments(ctx, bson.M{"studio_key": current.StudioKey, "is_active": true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestActivationSwitchesInOneCommit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	first := seedConnection(t, s, "books", true)
	second := seedConnection(t, s, "ledgerly", false)

	require.NoError(t, s.ActivateConnection(ctx, first.StudioKey, "ledgerly", time.Now().UTC()))

	active, err := s.GetActiveConnection(ctx, first.StudioKey)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
	old, err := s.GetConnectionByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
}
