package points_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recycle-points/points"
)

// pagedLedger serves a fixed list of matching entries and records how many
// pages were requested.
type pagedLedger struct {
	entries []points.LedgerEntry
	calls   int
	err     error
}

func (l *pagedLedger) ScanLedger(_ context.Context, f points.LedgerFilter, page points.Page) (points.LedgerPage, error) {
	l.calls++
	if l.err != nil {
		return points.LedgerPage{}, l.err
	}
	start := 0
	if page.Cursor != "" {
		start, _ = strconv.Atoi(page.Cursor)
	}
	var out points.LedgerPage
	for i := start; i < len(l.entries); i++ {
		e := l.entries[i]
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if len(out.Entries) == page.Limit {
			out.NextCursor = strconv.Itoa(i)
			break
		}
		out.Entries = append(out.Entries, e)
	}
	return out, nil
}

func redemptions(n int, at time.Time) []points.LedgerEntry {
	out := make([]points.LedgerEntry, n)
	for i := range out {
		out[i] = points.LedgerEntry{
			TransactionID:   points.TransactionID(fmt.Sprintf("x%d", i)),
			UserID:          "U1",
			Type:            points.TxRewardExchange,
			SourceReference: "R1",
			CreatedAt:       at,
		}
	}
	return out
}

// =============================================================================
// COUNTING
// =============================================================================

func TestCountRedemptions_StopsAtLimit(t *testing.T) {
	// GIVEN: 50 matching entries and page size 5
	// WHEN: Counting with limit 7
	// THEN: Only two pages are read and the count is at least the limit

	ledger := &pagedLedger{entries: redemptions(50, testNow)}
	ev := points.NewEvaluator(ledger)
	ev.PageSize = 5

	n, err := ev.CountRedemptions(context.Background(), points.RedemptionQuery{UserID: "U1", RewardID: "R1", Limit: 7})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 7)
	assert.Equal(t, 2, ledger.calls)
}

func TestCountRedemptions_WithoutLimitReadsEverything(t *testing.T) {
	ledger := &pagedLedger{entries: redemptions(23, testNow)}
	ev := points.NewEvaluator(ledger)
	ev.PageSize = 5

	n, err := ev.CountRedemptions(context.Background(), points.RedemptionQuery{UserID: "U1", RewardID: "R1"})
	require.NoError(t, err)
	assert.Equal(t, 23, n)
	assert.Equal(t, 5, ledger.calls)
}

func TestCountRedemptions_PropagatesScanError(t *testing.T) {
	boom := errors.New("scan failed")
	ev := points.NewEvaluator(&pagedLedger{err: boom})

	_, err := ev.CountRedemptions(context.Background(), points.RedemptionQuery{UserID: "U1", RewardID: "R1", Limit: 1})
	assert.ErrorIs(t, err, boom)
}

// =============================================================================
// LIMITS
// =============================================================================

func TestCheckLimits_PerUserBeforePerDay(t *testing.T) {
	// GIVEN: Both caps reached
	// THEN: The per-user cap is reported

	ledger := &pagedLedger{entries: redemptions(3, testNow)}
	ev := points.NewEvaluator(ledger)
	perUser, perDay := 3, 1
	reward := &points.Reward{ID: "R1", RedemptionLimitPerUser: &perUser, RedemptionLimitPerDay: &perDay}

	_, err := ev.CheckLimits(context.Background(), "U1", reward, testNow)
	assert.ErrorIs(t, err, points.ErrRedemptionLimitReached)
	assert.NotErrorIs(t, err, points.ErrDailyLimitReached)
}

func TestCheckLimits_DailyCountsOnlyToday(t *testing.T) {
	// GIVEN: Two exchanges yesterday, one today, daily cap 2
	// THEN: Allowed, with DayCount 1

	yesterday := testNow.Add(-24 * time.Hour)
	entries := append(redemptions(2, yesterday), redemptions(1, testNow)...)
	ev := points.NewEvaluator(&pagedLedger{entries: entries})
	ev.Location = time.UTC
	perDay := 2
	reward := &points.Reward{ID: "R1", RedemptionLimitPerDay: &perDay}

	usage, err := ev.CheckLimits(context.Background(), "U1", reward, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.DayCount)
	assert.Equal(t, time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC), usage.DayStart)
}

func TestCheckLimits_NoCapsSkipsCounting(t *testing.T) {
	ledger := &pagedLedger{}
	ev := points.NewEvaluator(ledger)

	_, err := ev.CheckLimits(context.Background(), "U1", &points.Reward{ID: "R1"}, testNow)
	require.NoError(t, err)
	assert.Zero(t, ledger.calls)
}

// =============================================================================
// TOKENS AND REWARDS
// =============================================================================

func TestCheckToken_StatusCaseInsensitive(t *testing.T) {
	ev := points.NewEvaluator(&pagedLedger{})

	assert.NoError(t, ev.CheckToken(&points.QrToken{Status: "ACTIVE"}, testNow))
	assert.NoError(t, ev.CheckToken(&points.QrToken{Status: ""}, testNow))
	assert.ErrorIs(t, ev.CheckToken(&points.QrToken{Status: "Redeemed"}, testNow), points.ErrTokenAlreadyUsed)
	assert.ErrorIs(t, ev.CheckToken(&points.QrToken{Status: "void"}, testNow), points.ErrTokenAlreadyUsed)
}

func TestCheckToken_ExpiryBoundary(t *testing.T) {
	ev := points.NewEvaluator(&pagedLedger{})
	at := testNow

	// expires_at == now is still valid; strictly earlier is expired.
	assert.NoError(t, ev.CheckToken(&points.QrToken{Status: points.TokenActive, ExpiresAt: &at}, testNow))
	assert.ErrorIs(t, ev.CheckToken(&points.QrToken{Status: points.TokenActive, ExpiresAt: &at}, testNow.Add(time.Nanosecond)), points.ErrTokenExpired)
}

func TestPointsFor_UsesConfiguredDefault(t *testing.T) {
	ev := points.NewEvaluator(&pagedLedger{})
	ev.DefaultPoints = 3

	assert.Equal(t, int64(3), ev.PointsFor(&points.QrToken{}))
	assert.Equal(t, int64(8), ev.PointsFor(&points.QrToken{PointsValue: ptr(int64(8))}))
}

func TestCheckReward_Order(t *testing.T) {
	// GIVEN: A reward violating every rule
	// THEN: Inactive is reported first; fixing it reveals the next rule

	ev := points.NewEvaluator(&pagedLedger{})
	user := &points.User{ID: "U1", PointsBalance: 0}
	r := &points.Reward{
		ID:              "R1",
		PointsCost:      0,
		StockCount:      ptr(int64(0)),
		IsActive:        false,
		RedeemableFrom:  ptr(testNow.Add(time.Hour)),
		RedeemableUntil: ptr(testNow.Add(-time.Hour)),
	}

	assert.ErrorIs(t, ev.CheckReward(r, user, testNow), points.ErrRewardInactive)
	r.IsActive = true
	assert.ErrorIs(t, ev.CheckReward(r, user, testNow), points.ErrRewardOutOfStock)
	r.StockCount = nil
	assert.ErrorIs(t, ev.CheckReward(r, user, testNow), points.ErrRewardNotAvailableYet)
	r.RedeemableFrom = nil
	assert.ErrorIs(t, ev.CheckReward(r, user, testNow), points.ErrRewardExpired)
	r.RedeemableUntil = nil
	assert.ErrorIs(t, ev.CheckReward(r, user, testNow), points.ErrInvalidPointsCost)
	r.PointsCost = 5
	assert.ErrorIs(t, ev.CheckReward(r, user, testNow), points.ErrInsufficientPoints)
	user.PointsBalance = 5
	assert.NoError(t, ev.CheckReward(r, user, testNow))
}

// =============================================================================
// DAY BOUNDARY
// =============================================================================

func TestStartOfDay_UsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 20:00 UTC on the 15th is 05:00 on the 16th in Tokyo.
	t0 := time.Date(2025, time.June, 15, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, "2025-06-15", points.DayKey(t0, time.UTC))
	assert.Equal(t, "2025-06-16", points.DayKey(t0, tokyo))

	start := points.StartOfDay(t0, tokyo)
	assert.True(t, start.Equal(time.Date(2025, time.June, 15, 15, 0, 0, 0, time.UTC)))
}
