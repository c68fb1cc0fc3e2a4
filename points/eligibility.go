/*
eligibility.go - Read-side pre-checks for earn and spend

PURPOSE:
  The Evaluator decides whether an intent may be attempted. It never
  mutates anything. Its verdict is advisory: final enforcement is the
  conditional write in the Coordinator, which re-checks every invariant
  against the latest committed values.

CHECK ORDER (fail fast on the first violation):
  Token:  not found -> already used -> expired
  Reward: inactive -> out of stock -> not yet available -> expired ->
          invalid cost -> insufficient points
  Limits: per-user cap -> per-day cap

REDEMPTION CAPS:
  Caps are counted from the ledger: reward_exchange entries for
  (user, reward[, created_at >= start of day]). Counting pages through the
  ledger and stops as soon as the count reaches the limit.

  Counting then deciding is not atomic. Two concurrent exchanges can both
  observe count = limit-1 and both commit. In LimitsSoft mode that overshoot
  is accepted. In LimitsHard mode the Coordinator adds a ClaimSlot op per
  cap to the same commit, seeded with the observed count, which closes it.

DAY BOUNDARY:
  "Per day" starts at midnight in Evaluator.Location (server local time
  when nil).
*/
package points

import (
	"context"
	"fmt"
	"time"
)

// DefaultQRPoints is awarded for tokens without a points_value.
const DefaultQRPoints int64 = 10

// DefaultScanPageSize bounds each ledger page read while counting.
const DefaultScanPageSize = 100

// Evaluator performs eligibility checks.
type Evaluator struct {
	Ledger        LedgerScanner
	DefaultPoints int64
	Location      *time.Location
	PageSize      int
}

// NewEvaluator returns an Evaluator with default settings.
func NewEvaluator(ledger LedgerScanner) *Evaluator {
	return &Evaluator{
		Ledger:        ledger,
		DefaultPoints: DefaultQRPoints,
		PageSize:      DefaultScanPageSize,
	}
}

// =============================================================================
// TOKENS
// =============================================================================

// CheckToken validates a token read before redemption.
func (e *Evaluator) CheckToken(token *QrToken, now time.Time) error {
	if token == nil {
		return ErrTokenNotFound
	}
	if token.Status.Is(TokenExpired) {
		return ErrTokenExpired
	}
	if !token.Status.Redeemable() {
		return ErrTokenAlreadyUsed
	}
	if token.ExpiredAt(now) {
		return ErrTokenExpired
	}
	if token.PointsValue != nil && *token.PointsValue <= 0 {
		return ErrInvalidPointsValue
	}
	return nil
}

// PointsFor returns what redeeming token is worth.
func (e *Evaluator) PointsFor(token *QrToken) int64 {
	if token.PointsValue != nil {
		return *token.PointsValue
	}
	if e.DefaultPoints > 0 {
		return e.DefaultPoints
	}
	return DefaultQRPoints
}

// =============================================================================
// REWARDS
// =============================================================================

// CheckReward validates a reward and the user's balance, in order.
// Both reward and user must be non-nil.
func (e *Evaluator) CheckReward(reward *Reward, user *User, now time.Time) error {
	if !reward.IsActive {
		return ErrRewardInactive
	}
	if reward.TracksStock() && *reward.StockCount <= 0 {
		return ErrRewardOutOfStock
	}
	if reward.RedeemableFrom != nil && now.Before(*reward.RedeemableFrom) {
		return ErrRewardNotAvailableYet
	}
	if reward.RedeemableUntil != nil && now.After(*reward.RedeemableUntil) {
		return ErrRewardExpired
	}
	if reward.PointsCost <= 0 {
		return ErrInvalidPointsCost
	}
	if user.PointsBalance < reward.PointsCost {
		return &InsufficientPointsError{
			UserID:    user.ID,
			Available: user.PointsBalance,
			Required:  reward.PointsCost,
		}
	}
	return nil
}

// LimitUsage is what CheckLimits observed. Counts are only meaningful for
// caps that are set on the reward.
type LimitUsage struct {
	UserCount int
	DayCount  int
	DayStart  time.Time
}

// CheckLimits enforces redemption_limit_per_user then redemption_limit_per_day.
func (e *Evaluator) CheckLimits(ctx context.Context, userID UserID, reward *Reward, now time.Time) (LimitUsage, error) {
	usage := LimitUsage{DayStart: e.DayStart(now)}

	if limit := reward.RedemptionLimitPerUser; limit != nil && *limit > 0 {
		count, err := e.CountRedemptions(ctx, RedemptionQuery{
			UserID:   userID,
			RewardID: reward.ID,
			Limit:    *limit,
		})
		if err != nil {
			return usage, err
		}
		usage.UserCount = count
		if count >= *limit {
			return usage, &LimitReachedError{RewardID: reward.ID, Count: count, Limit: *limit}
		}
	}

	if limit := reward.RedemptionLimitPerDay; limit != nil && *limit > 0 {
		since := usage.DayStart
		count, err := e.CountRedemptions(ctx, RedemptionQuery{
			UserID:   userID,
			RewardID: reward.ID,
			Since:    &since,
			Limit:    *limit,
		})
		if err != nil {
			return usage, err
		}
		usage.DayCount = count
		if count >= *limit {
			return usage, &LimitReachedError{RewardID: reward.ID, Count: count, Limit: *limit, Daily: true}
		}
	}

	return usage, nil
}

// DayStart returns the start of now's day for daily caps.
func (e *Evaluator) DayStart(now time.Time) time.Time {
	return StartOfDay(now, e.Location)
}

// =============================================================================
// COUNTING
// =============================================================================

// RedemptionQuery selects a user's exchanges of one reward.
// Limit > 0 allows the count to stop early once it reaches Limit.
type RedemptionQuery struct {
	UserID   UserID
	RewardID RewardID
	Since    *time.Time
	Limit    int
}

// CountRedemptions counts matching reward_exchange entries page by page.
func (e *Evaluator) CountRedemptions(ctx context.Context, q RedemptionQuery) (int, error) {
	filter := LedgerFilter{
		UserID:          q.UserID,
		Type:            TxRewardExchange,
		SourceReference: string(q.RewardID),
		Since:           q.Since,
	}
	pageSize := e.PageSize
	if pageSize <= 0 {
		pageSize = DefaultScanPageSize
	}

	count := 0
	cursor := ""
	for {
		page, err := e.Ledger.ScanLedger(ctx, filter, Page{Cursor: cursor, Limit: pageSize})
		if err != nil {
			return 0, fmt.Errorf("count redemptions: %w", err)
		}
		count += len(page.Entries)
		if q.Limit > 0 && count >= q.Limit {
			return count, nil
		}
		if page.NextCursor == "" {
			return count, nil
		}
		cursor = page.NextCursor
	}
}
