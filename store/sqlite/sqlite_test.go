package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recycle-points/points"
	"github.com/warp/recycle-points/points/storetest"
	"github.com/warp/recycle-points/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) points.AdminStore {
		return newTestStore(t)
	})
}

func TestSQLiteStore_FileBacked_SurvivesReopen(t *testing.T) {
	// GIVEN: A file-backed store with a committed earn
	// WHEN: The store is closed and reopened
	// THEN: Balance, token state and ledger are all still there

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "points.db")

	store, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, "u1"))
	require.NoError(t, store.SaveToken(ctx, points.QrToken{ID: "T", Status: points.TokenActive}))
	_, err = store.Commit(ctx, []points.Op{
		points.CreditBalance{UserID: "u1", Points: 10},
		points.RedeemToken{TokenID: "T", UserID: "u1"},
		points.AppendEntry{Entry: points.LedgerEntry{
			TransactionID: "txn_1", UserID: "u1", Type: points.TxEarn, PointsChange: 10, SourceReference: "T",
		}, CaptureBalance: true},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	u, err := reopened.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.PointsBalance)

	tok, err := reopened.GetToken(ctx, "T")
	require.NoError(t, err)
	assert.True(t, tok.Status.Is(points.TokenRedeemed))

	e, err := reopened.GetEntry(ctx, "txn_1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(0), e.PointsBefore)
	assert.Equal(t, int64(10), e.PointsAfter)
}

func TestSQLiteStore_StatusMatchIsCaseInsensitive(t *testing.T) {
	// GIVEN: A token issued with an upper-case status
	// WHEN: Redeeming it
	// THEN: The predicate still holds

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateUser(ctx, "u1"))
	require.NoError(t, store.SaveToken(ctx, points.QrToken{ID: "T", Status: "ACTIVE"}))

	_, err := store.Commit(ctx, []points.Op{points.RedeemToken{TokenID: "T", UserID: "u1"}})
	assert.NoError(t, err)
}

func TestSQLiteStore_TimestampsRoundTrip(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 11, 30, 23, 59, 59, 123456789, time.UTC)
	store := newTestStore(t).WithClock(points.NewFixedClock(at))

	require.NoError(t, store.CreateUser(ctx, "u1"))
	_, err := store.Commit(ctx, []points.Op{
		points.CreditBalance{UserID: "u1", Points: 1},
		points.AppendEntry{Entry: points.LedgerEntry{TransactionID: "t", UserID: "u1", Type: points.TxAdjustment, PointsChange: 1}},
	})
	require.NoError(t, err)

	e, err := store.GetEntry(ctx, "t")
	require.NoError(t, err)
	assert.True(t, at.Equal(e.CreatedAt), "got %v", e.CreatedAt)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, at.Equal(u.UpdatedAt))
}

func TestSQLiteStore_Ping(t *testing.T) {
	assert.NoError(t, newTestStore(t).Ping(context.Background()))
}
