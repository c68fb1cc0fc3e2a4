/*
Package storetest holds the contract tests every points.AdminStore must pass.

USAGE (from an implementation's _test.go):

	func TestMemoryStore_Contract(t *testing.T) {
	    storetest.Run(t, func(t *testing.T) points.AdminStore {
	        return store.NewMemory()
	    })
	}

COVERED:
  - read-by-key, (nil, nil) for missing records
  - each op's predicate and its failure reason
  - all-or-nothing commits, every failure reported
  - append-only ledger with unique transaction ids
  - balance capture into ledger entries
  - filtered, paginated ledger scans
  - concurrent commits racing for one token / one unit of stock
*/
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recycle-points/points"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) points.AdminStore

// Run executes the full contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, points.AdminStore)
	}{
		{"MissingRecordsAreNil", testMissingRecordsAreNil},
		{"CreateUserIsIdempotent", testCreateUserIsIdempotent},
		{"SaveAndGetToken", testSaveAndGetToken},
		{"SaveAndGetReward", testSaveAndGetReward},
		{"EarnCommit_AppliesAllOps", testEarnCommit},
		{"RedeemToken_NotRedeemable", testRedeemTokenNotRedeemable},
		{"RedeemToken_Missing", testRedeemTokenMissing},
		{"DebitBalance_Insufficient", testDebitInsufficient},
		{"BalanceOps_RejectNonPositivePoints", testBalanceOpsRejectNonPositive},
		{"ConsumeStock_Reasons", testConsumeStockReasons},
		{"ConsumeStock_Untracked", testConsumeStockUntracked},
		{"SaveReward_KeepsTotalRedeemed", testSaveRewardKeepsTotalRedeemed},
		{"ClaimSlot_RespectsLimitAndFloor", testClaimSlot},
		{"AllOrNothing_ReportsEveryFailure", testAllOrNothing},
		{"DuplicateTransactionID", testDuplicateTransactionID},
		{"CaptureBalance", testCaptureBalance},
		{"ScanLedger_FiltersAndPages", testScanLedger},
		{"ScanLedger_Since", testScanLedgerSince},
		{"Concurrent_SingleTokenRedeemedOnce", testConcurrentToken},
		{"Concurrent_StockNeverOversold", testConcurrentStock},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

func i64(n int64) *int64 { return &n }

func fund(t *testing.T, s points.AdminStore, id points.UserID, pts int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, id))
	if pts == 0 {
		return
	}
	_, err := s.Commit(ctx, []points.Op{
		points.CreditBalance{UserID: id, Points: pts},
		points.AppendEntry{Entry: points.LedgerEntry{
			TransactionID: points.TransactionID(fmt.Sprintf("open-%s", id)),
			UserID:        id,
			Type:          points.TxAdjustment,
			PointsChange:  pts,
			Reason:        "opening balance",
		}, CaptureBalance: true},
	})
	require.NoError(t, err)
}

func exchangeEntry(txID string, user points.UserID, reward points.RewardID, cost int64, at time.Time) points.LedgerEntry {
	return points.LedgerEntry{
		TransactionID:   points.TransactionID(txID),
		UserID:          user,
		Type:            points.TxRewardExchange,
		PointsChange:    -cost,
		SourceReference: string(reward),
		CreatedAt:       at,
	}
}

func conditionFailed(t *testing.T, err error) *points.ConditionFailedError {
	t.Helper()
	var cf *points.ConditionFailedError
	require.ErrorAs(t, err, &cf)
	require.ErrorIs(t, err, points.ErrConditionFailed)
	return cf
}

// =============================================================================
// READS AND SETUP
// =============================================================================

func testMissingRecordsAreNil(t *testing.T, s points.AdminStore) {
	ctx := context.Background()

	u, err := s.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)

	tok, err := s.GetToken(ctx, "nothing")
	require.NoError(t, err)
	assert.Nil(t, tok)

	r, err := s.GetReward(ctx, "nothing")
	require.NoError(t, err)
	assert.Nil(t, r)

	e, err := s.GetEntry(ctx, "txn_missing")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func testCreateUserIsIdempotent(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	fund(t, s, "u1", 40)

	require.NoError(t, s.CreateUser(ctx, "u1"))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, int64(40), u.PointsBalance)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func testSaveAndGetToken(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveToken(ctx, points.QrToken{
		ID:          "T1",
		Status:      points.TokenActive,
		PointsValue: i64(25),
		ExpiresAt:   &exp,
		LocationID:  "bin-7",
	}))

	tok, err := s.GetToken(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, points.TokenActive, tok.Status)
	require.NotNil(t, tok.PointsValue)
	assert.Equal(t, int64(25), *tok.PointsValue)
	require.NotNil(t, tok.ExpiresAt)
	assert.True(t, exp.Equal(*tok.ExpiresAt))
	assert.Equal(t, points.LocationID("bin-7"), tok.LocationID)
	assert.Nil(t, tok.RedeemedBy)
}

func testSaveAndGetReward(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	perUser := 2
	require.NoError(t, s.SaveReward(ctx, points.Reward{
		ID:                     "R1",
		Name:                   "Tote bag",
		PointsCost:             30,
		StockCount:             i64(5),
		IsActive:               true,
		RedemptionLimitPerUser: &perUser,
	}))
	require.NoError(t, s.SaveReward(ctx, points.Reward{ID: "R2", Name: "Sticker", PointsCost: 5, IsActive: true}))

	r, err := s.GetReward(ctx, "R1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "Tote bag", r.Name)
	require.NotNil(t, r.StockCount)
	assert.Equal(t, int64(5), *r.StockCount)
	require.NotNil(t, r.RedemptionLimitPerUser)
	assert.Equal(t, 2, *r.RedemptionLimitPerUser)
	assert.Nil(t, r.RedemptionLimitPerDay)

	r2, err := s.GetReward(ctx, "R2")
	require.NoError(t, err)
	require.NotNil(t, r2)
	assert.False(t, r2.TracksStock())
}

// =============================================================================
// PREDICATES
// =============================================================================

func testEarnCommit(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	fund(t, s, "u1", 0)
	require.NoError(t, s.SaveToken(ctx, points.QrToken{ID: "T1", Status: points.TokenIssued}))

	receipt, err := s.Commit(ctx, []points.Op{
		points.CreditBalance{UserID: "u1", Points: 10},
		points.RedeemToken{TokenID: "T1", UserID: "u1"},
		points.AppendEntry{Entry: points.LedgerEntry{
			TransactionID:   "txn_1",
			UserID:          "u1",
			Type:            points.TxEarn,
			PointsChange:    10,
			SourceReference: "T1",
		}, CaptureBalance: true},
	})
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, int64(10), receipt.Balances["u1"])

	u, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, int64(10), u.PointsBalance)

	tok, _ := s.GetToken(ctx, "T1")
	assert.True(t, tok.Status.Is(points.TokenRedeemed))
	require.NotNil(t, tok.RedeemedBy)
	assert.Equal(t, points.UserID("u1"), *tok.RedeemedBy)
	assert.NotNil(t, tok.RedeemedAt)

	e, err := s.GetEntry(ctx, "txn_1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, points.TxEarn, e.Type)
	assert.False(t, e.CreatedAt.IsZero())
}

func testRedeemTokenNotRedeemable(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	fund(t, s, "u1", 0)
	require.NoError(t, s.SaveToken(ctx, points.QrToken{ID: "T1", Status: points.TokenRedeemed}))

	_, err := s.Commit(ctx, []points.Op{points.RedeemToken{TokenID: "T1", UserID: "u1"}})
	cf := conditionFailed(t, err)
	require.Len(t, cf.Failures, 1)
	assert.Equal(t, points.ReasonTokenNotRedeemable, cf.Failures[0].Reason)
}

func testRedeemTokenMissing(t *testing.T, s points.AdminStore) {
	_, err := s.Commit(context.Background(), []points.Op{points.RedeemToken{TokenID: "ghost", UserID: "u1"}})
	cf := conditionFailed(t, err)
	require.Len(t, cf.Failures, 1)
	assert.Equal(t, points.ReasonMissing, cf.Failures[0].Reason)
}

func testDebitInsufficient(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	fund(t, s, "u1", 20)

	_, err := s.Commit(ctx, []points.Op{points.DebitBalance{UserID: "u1", Points: 21}})
	cf := conditionFailed(t, err)
	assert.Equal(t, points.ReasonInsufficientBalance, cf.Failures[0].Reason)

	_, err = s.Commit(ctx, []points.Op{points.DebitBalance{UserID: "ghost", Points: 1}})
	cf = conditionFailed(t, err)
	assert.Equal(t, points.ReasonMissing, cf.Failures[0].Reason)

	// Exact balance is allowed and leaves zero.
	_, err = s.Commit(ctx, []points.Op{points.DebitBalance{UserID: "u1", Points: 20}})
	require.NoError(t, err)
	u, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, int64(0), u.PointsBalance)
}

func testBalanceOpsRejectNonPositive(t *testing.T, s points.AdminStore) {
	// GIVEN: A user with 10 points
	// WHEN: Crediting or debiting zero or a negative amount
	// THEN: The op fails with invalid_amount and the balance is unchanged

	ctx := context.Background()
	fund(t, s, "U1", 10)

	for _, op := range []points.Op{
		points.CreditBalance{UserID: "U1", Points: -5},
		points.CreditBalance{UserID: "U1", Points: 0},
		points.DebitBalance{UserID: "U1", Points: -5},
	} {
		_, err := s.Commit(ctx, []points.Op{op})
		cf := conditionFailed(t, err)
		assert.Equal(t, points.ReasonInvalidAmount, cf.Failures[0].Reason, "%#v", op)
	}

	u, err := s.GetUser(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.PointsBalance)
}

func testConsumeStockReasons(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveReward(ctx, points.Reward{ID: "empty", Name: "x", PointsCost: 1, StockCount: i64(0), IsActive: true}))
	require.NoError(t, s.SaveReward(ctx, points.Reward{ID: "off", Name: "x", PointsCost: 1, StockCount: i64(3), IsActive: false}))
	require.NoError(t, s.SaveReward(ctx, points.Reward{ID: "one", Name: "x", PointsCost: 1, StockCount: i64(1), IsActive: true}))

	cases := map[points.RewardID]points.FailureReason{
		"empty": points.ReasonOutOfStock,
		"off":   points.ReasonInactive,
		"ghost": points.ReasonMissing,
	}
	for id, want := range cases {
		_, err := s.Commit(ctx, []points.Op{points.ConsumeStock{RewardID: id}})
		cf := conditionFailed(t, err)
		assert.Equal(t, want, cf.Failures[0].Reason, "reward %s", id)
	}

	_, err := s.Commit(ctx, []points.Op{points.ConsumeStock{RewardID: "one"}})
	require.NoError(t, err)
	r, _ := s.GetReward(ctx, "one")
	assert.Equal(t, int64(0), *r.StockCount)
	assert.Equal(t, int64(1), r.TotalRedeemed)

	_, err = s.Commit(ctx, []points.Op{points.ConsumeStock{RewardID: "one"}})
	cf := conditionFailed(t, err)
	assert.Equal(t, points.ReasonOutOfStock, cf.Failures[0].Reason)
}

func testConsumeStockUntracked(t *testing.T, s points.AdminStore) {
	// GIVEN: An active reward with no stock_count
	// WHEN: Consuming it
	// THEN: The predicate fails and nothing is counted

	ctx := context.Background()
	require.NoError(t, s.SaveReward(ctx, points.Reward{ID: "R", Name: "x", PointsCost: 1, IsActive: true}))

	_, err := s.Commit(ctx, []points.Op{points.ConsumeStock{RewardID: "R"}})
	cf := conditionFailed(t, err)
	assert.Equal(t, points.ReasonStockUntracked, cf.Failures[0].Reason)

	r, _ := s.GetReward(ctx, "R")
	assert.Nil(t, r.StockCount)
	assert.Zero(t, r.TotalRedeemed)
}

func testSaveRewardKeepsTotalRedeemed(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveReward(ctx, points.Reward{ID: "R", Name: "x", PointsCost: 1, StockCount: i64(5), IsActive: true}))
	_, err := s.Commit(ctx, []points.Op{points.ConsumeStock{RewardID: "R"}})
	require.NoError(t, err)

	require.NoError(t, s.SaveReward(ctx, points.Reward{ID: "R", Name: "renamed", PointsCost: 2, StockCount: i64(9), IsActive: true}))

	r, err := s.GetReward(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, "renamed", r.Name)
	assert.Equal(t, int64(9), *r.StockCount)
	assert.Equal(t, int64(1), r.TotalRedeemed)
}

func testClaimSlot(t *testing.T, s points.AdminStore) {
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Commit(ctx, []points.Op{points.ClaimSlot{Key: "k", Limit: 2}})
		require.NoError(t, err)
	}
	_, err := s.Commit(ctx, []points.Op{points.ClaimSlot{Key: "k", Limit: 2}})
	cf := conditionFailed(t, err)
	assert.Equal(t, points.ReasonLimitReached, cf.Failures[0].Reason)

	// A floor at the limit blocks a fresh key.
	_, err = s.Commit(ctx, []points.Op{points.ClaimSlot{Key: "fresh", Limit: 3, Floor: 3}})
	conditionFailed(t, err)

	// A floor below the limit seeds the counter.
	_, err = s.Commit(ctx, []points.Op{points.ClaimSlot{Key: "seeded", Limit: 3, Floor: 2}})
	require.NoError(t, err)
	_, err = s.Commit(ctx, []points.Op{points.ClaimSlot{Key: "seeded", Limit: 3}})
	conditionFailed(t, err)
}

// =============================================================================
// ATOMICITY AND THE LEDGER
// =============================================================================

func testAllOrNothing(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	fund(t, s, "u1", 5)
	require.NoError(t, s.SaveReward(ctx, points.Reward{ID: "R", Name: "x", PointsCost: 10, StockCount: i64(0), IsActive: true}))

	_, err := s.Commit(ctx, []points.Op{
		points.DebitBalance{UserID: "u1", Points: 10},
		points.ConsumeStock{RewardID: "R"},
		points.AppendEntry{Entry: exchangeEntry("txn_x", "u1", "R", 10, time.Time{}), CaptureBalance: true},
	})
	cf := conditionFailed(t, err)
	require.Len(t, cf.Failures, 2)
	assert.Equal(t, 0, cf.Failures[0].Index)
	assert.Equal(t, points.ReasonInsufficientBalance, cf.Failures[0].Reason)
	assert.Equal(t, 1, cf.Failures[1].Index)
	assert.Equal(t, points.ReasonOutOfStock, cf.Failures[1].Reason)

	u, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, int64(5), u.PointsBalance)
	e, err := s.GetEntry(ctx, "txn_x")
	require.NoError(t, err)
	assert.Nil(t, e, "no entry for a failed commit")

	// One bad op poisons otherwise valid ops.
	require.NoError(t, s.SaveToken(ctx, points.QrToken{ID: "T", Status: points.TokenIssued}))
	_, err = s.Commit(ctx, []points.Op{
		points.CreditBalance{UserID: "u1", Points: 10},
		points.RedeemToken{TokenID: "T", UserID: "u1"},
		points.DebitBalance{UserID: "u1", Points: 1000},
	})
	conditionFailed(t, err)

	u, _ = s.GetUser(ctx, "u1")
	assert.Equal(t, int64(5), u.PointsBalance)
	tok, _ := s.GetToken(ctx, "T")
	assert.True(t, tok.Status.Redeemable(), "token untouched")
}

func testDuplicateTransactionID(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	fund(t, s, "u1", 0)

	entry := points.LedgerEntry{TransactionID: "txn_dup", UserID: "u1", Type: points.TxAdjustment, PointsChange: 5}
	_, err := s.Commit(ctx, []points.Op{
		points.CreditBalance{UserID: "u1", Points: 5},
		points.AppendEntry{Entry: entry},
	})
	require.NoError(t, err)

	_, err = s.Commit(ctx, []points.Op{
		points.CreditBalance{UserID: "u1", Points: 5},
		points.AppendEntry{Entry: entry},
	})
	cf := conditionFailed(t, err)
	f, ok := cf.Failed(func(op points.Op) bool { _, ok := op.(points.AppendEntry); return ok })
	require.True(t, ok)
	assert.Equal(t, points.ReasonDuplicateTransaction, f.Reason)

	u, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, int64(5), u.PointsBalance, "replay must not credit twice")
}

func testCaptureBalance(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	fund(t, s, "u1", 50)

	_, err := s.Commit(ctx, []points.Op{
		points.DebitBalance{UserID: "u1", Points: 30},
		points.AppendEntry{Entry: exchangeEntry("txn_c", "u1", "R", 30, time.Time{}), CaptureBalance: true},
	})
	require.NoError(t, err)

	e, err := s.GetEntry(ctx, "txn_c")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(50), e.PointsBefore)
	assert.Equal(t, int64(20), e.PointsAfter)
	assert.Equal(t, e.PointsBefore+e.PointsChange, e.PointsAfter)
}

func testScanLedger(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	fund(t, s, "u1", 100)
	fund(t, s, "u2", 100)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var ops []points.Op
	for i := 0; i < 7; i++ {
		ops = append(ops, points.AppendEntry{Entry: exchangeEntry(fmt.Sprintf("u1-a-%d", i), "u1", "A", 1, base.Add(time.Duration(i)*time.Minute))})
	}
	ops = append(ops,
		points.AppendEntry{Entry: exchangeEntry("u1-b-0", "u1", "B", 1, base)},
		points.AppendEntry{Entry: exchangeEntry("u2-a-0", "u2", "A", 1, base)},
	)
	_, err := s.Commit(ctx, ops)
	require.NoError(t, err)

	filter := points.LedgerFilter{UserID: "u1", Type: points.TxRewardExchange, SourceReference: "A"}
	var (
		got    []points.TransactionID
		cursor string
		pages  int
	)
	for {
		page, err := s.ScanLedger(ctx, filter, points.Page{Cursor: cursor, Limit: 3})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Entries), 3)
		for _, e := range page.Entries {
			got = append(got, e.TransactionID)
		}
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		require.Less(t, pages, 10, "scan must terminate")
	}
	require.Len(t, got, 7)
	for i, id := range got {
		assert.Equal(t, points.TransactionID(fmt.Sprintf("u1-a-%d", i)), id, "commit order")
	}

	all, err := s.ScanLedger(ctx, points.LedgerFilter{UserID: "u1"}, points.Page{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, all.Entries, 9, "opening adjustment + 8 exchanges")
	assert.Empty(t, all.NextCursor)

	_, err = s.ScanLedger(ctx, filter, points.Page{Cursor: "not-a-cursor"})
	assert.ErrorIs(t, err, points.ErrInvalidRequest)
}

func testScanLedgerSince(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	fund(t, s, "u1", 0)

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	_, err := s.Commit(ctx, []points.Op{
		points.AppendEntry{Entry: exchangeEntry("old", "u1", "A", 1, day.Add(-time.Second))},
		points.AppendEntry{Entry: exchangeEntry("edge", "u1", "A", 1, day)},
		points.AppendEntry{Entry: exchangeEntry("new", "u1", "A", 1, day.Add(3*time.Hour))},
	})
	require.NoError(t, err)

	page, err := s.ScanLedger(ctx, points.LedgerFilter{UserID: "u1", Type: points.TxRewardExchange, Since: &day}, points.Page{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, points.TransactionID("edge"), page.Entries[0].TransactionID)
	assert.Equal(t, points.TransactionID("new"), page.Entries[1].TransactionID)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func testConcurrentToken(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	const n = 20
	for i := 0; i < n; i++ {
		fund(t, s, points.UserID(fmt.Sprintf("u%d", i)), 0)
	}
	require.NoError(t, s.SaveToken(ctx, points.QrToken{ID: "T", Status: points.TokenActive}))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := points.UserID(fmt.Sprintf("u%d", i))
			_, err := s.Commit(ctx, []points.Op{
				points.CreditBalance{UserID: user, Points: 10},
				points.RedeemToken{TokenID: "T", UserID: user},
				points.AppendEntry{Entry: points.LedgerEntry{
					TransactionID:   points.TransactionID(fmt.Sprintf("txn_%d", i)),
					UserID:          user,
					Type:            points.TxEarn,
					PointsChange:    10,
					SourceReference: "T",
				}, CaptureBalance: true},
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	page, err := s.ScanLedger(ctx, points.LedgerFilter{Type: points.TxEarn, SourceReference: "T"}, points.Page{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)
}

func testConcurrentStock(t *testing.T, s points.AdminStore) {
	ctx := context.Background()
	const (
		n     = 25
		stock = 7
	)
	for i := 0; i < n; i++ {
		fund(t, s, points.UserID(fmt.Sprintf("u%d", i)), 100)
	}
	require.NoError(t, s.SaveReward(ctx, points.Reward{ID: "R", Name: "x", PointsCost: 10, StockCount: i64(stock), IsActive: true}))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := points.UserID(fmt.Sprintf("u%d", i))
			_, _ = s.Commit(ctx, []points.Op{
				points.DebitBalance{UserID: user, Points: 10},
				points.ConsumeStock{RewardID: "R"},
				points.AppendEntry{Entry: exchangeEntry(fmt.Sprintf("txn_%d", i), user, "R", 10, time.Time{}), CaptureBalance: true},
			})
		}(i)
	}
	wg.Wait()

	r, err := s.GetReward(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, int64(0), *r.StockCount)
	assert.Equal(t, int64(stock), r.TotalRedeemed)

	page, err := s.ScanLedger(ctx, points.LedgerFilter{Type: points.TxRewardExchange, SourceReference: "R"}, points.Page{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page.Entries, stock)
}
