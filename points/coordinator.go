/*
coordinator.go - Transaction Coordinator

PURPOSE:
  Turns an Intent into one atomic conditional commit:

    Earn:   CreditBalance + RedeemToken + AppendEntry(earn)
    Spend:  DebitBalance + ConsumeStock [+ ClaimSlot...] + AppendEntry(reward_exchange)
    Adjust: CreditBalance|DebitBalance + AppendEntry(adjustment)

  Partial application is never observable: the store commits every op or
  none.

FLOW:
  1. Read current state (token, or reward + user concurrently)
  2. Eligibility pre-checks (typed errors, nothing written)
  3. Commit the op set
  4. On *ConditionFailedError, re-derive the most specific domain error
     (the race-losing case) or detect an idempotent replay
  5. Re-read the authoritative balance; fall back to the receipt

RACES:
  Two redemptions of one token: both pass step 2, exactly one commit's
  RedeemToken predicate holds, the other sees ErrDuplicateRedeem.
  N exchanges of a reward with stock k: exactly k ConsumeStock predicates
  hold. Conflicts are never retried here; retry policy belongs to the
  caller and a retry after ErrDuplicateRedeem is not a success.

IDEMPOTENCY:
  An intent may carry its own TransactionID. Committing an id that is
  already in the ledger fails the AppendEntry predicate, so nothing is
  applied twice. If the stored entry is the same operation, its result is
  returned with Replayed=true.
*/
package points

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// LimitMode selects how redemption caps are enforced.
type LimitMode string

const (
	// LimitsSoft checks caps against the ledger before commit only.
	LimitsSoft LimitMode = "soft"
	// LimitsHard also claims a counter slot inside the commit.
	LimitsHard LimitMode = "hard"
)

// Coordinator applies intents against a Store.
type Coordinator struct {
	Store     Store
	Evaluator *Evaluator
	Clock     Clock
	Limits    LimitMode
	Log       logrus.FieldLogger

	// NewID generates transaction ids when an intent carries none.
	NewID func() TransactionID
}

// NewCoordinator wires a Coordinator with defaults: system clock, soft
// limits, a discarding logger and txn_<uuid> ids.
func NewCoordinator(store Store) *Coordinator {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	return &Coordinator{
		Store:     store,
		Evaluator: NewEvaluator(store),
		Clock:     SystemClock{},
		Limits:    LimitsSoft,
		Log:       quiet,
		NewID:     NewTransactionID,
	}
}

// NewTransactionID returns a fresh txn_<uuid> identifier.
func NewTransactionID() TransactionID {
	return TransactionID("txn_" + uuid.NewString())
}

// =============================================================================
// ENTRY POINTS
// =============================================================================

// ApplyTransaction executes one intent atomically.
func (c *Coordinator) ApplyTransaction(ctx context.Context, in Intent) (*Result, error) {
	if in == nil || in.User() == "" {
		return nil, ErrUnauthorized
	}
	switch i := in.(type) {
	case Earn:
		return c.Redeem(ctx, i)
	case Spend:
		return c.Exchange(ctx, i)
	case Adjust:
		return c.Adjust(ctx, i)
	default:
		return nil, fmt.Errorf("unknown intent %T: %w", in, ErrInvalidRequest)
	}
}

// Redeem credits the user with a QR token's points and consumes the token.
func (c *Coordinator) Redeem(ctx context.Context, in Earn) (*Result, error) {
	if in.UserID == "" {
		return nil, ErrUnauthorized
	}
	if in.TokenID == "" {
		return nil, ErrTokenRequired
	}
	log := c.Log.WithFields(logrus.Fields{"user_id": in.UserID, "qr_token": in.TokenID})

	probe := LedgerEntry{TransactionID: in.TransactionID, UserID: in.UserID, Type: TxEarn, SourceReference: string(in.TokenID)}
	if res, err := c.committed(ctx, log, probe); res != nil || err != nil {
		return res, err
	}

	token, err := c.Store.GetToken(ctx, in.TokenID)
	if err != nil {
		return nil, c.internal(log, "read token", err)
	}
	now := c.Clock.Now().UTC()
	if err := c.Evaluator.CheckToken(token, now); err != nil {
		return nil, err
	}

	pts := c.Evaluator.PointsFor(token)
	txID := c.txID(in.TransactionID)
	entry := LedgerEntry{
		TransactionID:   txID,
		UserID:          in.UserID,
		Type:            TxEarn,
		PointsChange:    pts,
		SourceReference: string(in.TokenID),
		LocationID:      token.LocationID,
		CreatedAt:       now,
	}
	ops := []Op{
		CreditBalance{UserID: in.UserID, Points: pts},
		RedeemToken{TokenID: in.TokenID, UserID: in.UserID},
		AppendEntry{Entry: entry, CaptureBalance: true},
	}

	receipt, err := c.Store.Commit(ctx, ops)
	if err != nil {
		return c.commitFailed(ctx, log, entry, err)
	}

	res := &Result{
		TransactionID: txID,
		UserID:        in.UserID,
		Type:          TxEarn,
		PointsChange:  pts,
		At:            now,
		TokenID:       in.TokenID,
	}
	res.NewBalance = c.balanceAfter(ctx, log, in.UserID, receipt)
	log.WithFields(logrus.Fields{"transaction_id": txID, "points": pts}).Info("qr token redeemed")
	return res, nil
}

// Exchange spends points on one unit of a reward.
func (c *Coordinator) Exchange(ctx context.Context, in Spend) (*Result, error) {
	if in.UserID == "" {
		return nil, ErrUnauthorized
	}
	if in.RewardID == "" {
		return nil, ErrInvalidRequest
	}
	log := c.Log.WithFields(logrus.Fields{"user_id": in.UserID, "reward_id": in.RewardID})

	probe := LedgerEntry{TransactionID: in.TransactionID, UserID: in.UserID, Type: TxRewardExchange, SourceReference: string(in.RewardID)}
	if res, err := c.committed(ctx, log, probe); res != nil || err != nil {
		return res, err
	}

	var (
		reward *Reward
		user   *User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reward, err = c.Store.GetReward(gctx, in.RewardID)
		return err
	})
	g.Go(func() error {
		var err error
		user, err = c.Store.GetUser(gctx, in.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, c.internal(log, "read reward and user", err)
	}
	if reward == nil {
		return nil, ErrRewardNotFound
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	now := c.Clock.Now().UTC()
	if err := c.Evaluator.CheckReward(reward, user, now); err != nil {
		return nil, err
	}
	usage, err := c.Evaluator.CheckLimits(ctx, in.UserID, reward, now)
	if err != nil {
		if KindOf(err) == KindInternal {
			return nil, c.internal(log, "count redemptions", err)
		}
		return nil, err
	}

	txID := c.txID(in.TransactionID)
	entry := LedgerEntry{
		TransactionID:   txID,
		UserID:          in.UserID,
		Type:            TxRewardExchange,
		PointsChange:    -reward.PointsCost,
		SourceReference: string(in.RewardID),
		CreatedAt:       now,
		PointsBefore:    user.PointsBalance,
		PointsAfter:     user.PointsBalance - reward.PointsCost,
	}
	ops := []Op{
		DebitBalance{UserID: in.UserID, Points: reward.PointsCost},
		ConsumeStock{RewardID: in.RewardID},
	}
	if c.Limits == LimitsHard {
		ops = append(ops, c.slotOps(in.UserID, reward, usage)...)
	}
	ops = append(ops, AppendEntry{Entry: entry, CaptureBalance: true})

	receipt, err := c.Store.Commit(ctx, ops)
	if err != nil {
		return c.commitFailed(ctx, log, entry, err)
	}

	res := &Result{
		TransactionID: txID,
		UserID:        in.UserID,
		Type:          TxRewardExchange,
		PointsChange:  -reward.PointsCost,
		At:            now,
		RewardID:      in.RewardID,
		RewardName:    reward.Name,
	}
	res.NewBalance = c.balanceAfter(ctx, log, in.UserID, receipt)
	if fresh, err := c.Store.GetReward(ctx, in.RewardID); err == nil && fresh != nil && fresh.Name != "" {
		res.RewardName = fresh.Name
	}
	log.WithFields(logrus.Fields{"transaction_id": txID, "points": reward.PointsCost}).Info("reward exchanged")
	return res, nil
}

// Adjust applies an administrative credit or debit.
func (c *Coordinator) Adjust(ctx context.Context, in Adjust) (*Result, error) {
	if in.UserID == "" || in.Points == 0 || in.Points == math.MinInt64 {
		return nil, ErrInvalidRequest
	}
	log := c.Log.WithFields(logrus.Fields{"user_id": in.UserID, "reference": in.Reference})

	probe := LedgerEntry{TransactionID: in.TransactionID, UserID: in.UserID, Type: TxAdjustment, SourceReference: in.Reference}
	if res, err := c.committed(ctx, log, probe); res != nil || err != nil {
		return res, err
	}

	now := c.Clock.Now().UTC()
	txID := c.txID(in.TransactionID)
	entry := LedgerEntry{
		TransactionID:   txID,
		UserID:          in.UserID,
		Type:            TxAdjustment,
		PointsChange:    in.Points,
		SourceReference: in.Reference,
		Reason:          in.Reason,
		CreatedAt:       now,
	}
	var balanceOp Op = CreditBalance{UserID: in.UserID, Points: in.Points}
	if in.Points < 0 {
		balanceOp = DebitBalance{UserID: in.UserID, Points: -in.Points}
	}

	receipt, err := c.Store.Commit(ctx, []Op{balanceOp, AppendEntry{Entry: entry, CaptureBalance: true}})
	if err != nil {
		return c.commitFailed(ctx, log, entry, err)
	}

	res := &Result{
		TransactionID: txID,
		UserID:        in.UserID,
		Type:          TxAdjustment,
		PointsChange:  in.Points,
		At:            now,
	}
	res.NewBalance = c.balanceAfter(ctx, log, in.UserID, receipt)
	log.WithFields(logrus.Fields{"transaction_id": txID, "points": in.Points}).Info("balance adjusted")
	return res, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Coordinator) txID(requested TransactionID) TransactionID {
	if requested != "" {
		return requested
	}
	if c.NewID != nil {
		return c.NewID()
	}
	return NewTransactionID()
}

// slotOps builds one ClaimSlot per cap configured on reward.
func (c *Coordinator) slotOps(userID UserID, reward *Reward, usage LimitUsage) []Op {
	var ops []Op
	if l := reward.RedemptionLimitPerUser; l != nil && *l > 0 {
		ops = append(ops, ClaimSlot{Key: UserSlotKey(userID, reward.ID), Limit: *l, Floor: usage.UserCount})
	}
	if l := reward.RedemptionLimitPerDay; l != nil && *l > 0 {
		ops = append(ops, ClaimSlot{
			Key:   DaySlotKey(userID, reward.ID, usage.DayStart.Format("2006-01-02")),
			Limit: *l,
			Floor: usage.DayCount,
		})
	}
	return ops
}

// UserSlotKey names the lifetime counter for (user, reward).
func UserSlotKey(userID UserID, rewardID RewardID) string {
	return "user:" + string(userID) + "|reward:" + string(rewardID)
}

// DaySlotKey names the daily counter for (user, reward, day).
func DaySlotKey(userID UserID, rewardID RewardID, day string) string {
	return UserSlotKey(userID, rewardID) + "|day:" + day
}

// balanceAfter re-reads the balance, tolerating a failed or stale read by
// falling back to the balance the commit itself produced.
func (c *Coordinator) balanceAfter(ctx context.Context, log logrus.FieldLogger, userID UserID, receipt *Receipt) int64 {
	fallback := receipt.Balances[userID]
	user, err := c.Store.GetUser(ctx, userID)
	if err != nil || user == nil {
		log.WithError(err).Warn("balance re-read failed, using committed value")
		return fallback
	}
	return user.PointsBalance
}

// commitFailed maps a failed commit to the most specific domain error.
func (c *Coordinator) commitFailed(ctx context.Context, log logrus.FieldLogger, entry LedgerEntry, err error) (*Result, error) {
	var cf *ConditionFailedError
	if !errors.As(err, &cf) {
		return nil, c.internal(log, "commit", err)
	}

	if _, dup := cf.Failed(isAppend); dup {
		res, err := c.committed(ctx, log, entry)
		if res == nil && err == nil {
			return nil, ErrDuplicateTransaction
		}
		return res, err
	}

	log.WithField("reasons", cf.Failures).Info("conditional write lost")

	if f, ok := cf.Failed(isRedeemToken); ok {
		if f.Reason == ReasonMissing {
			return nil, ErrTokenNotFound
		}
		return nil, ErrDuplicateRedeem
	}
	if f, ok := cf.Failed(isBalanceOp); ok {
		switch {
		case f.Reason == ReasonMissing && entry.Type == TxEarn:
			// Earn never reads the user, so a missing account surfaces here
			// and is reported like any other lost redeem.
			return nil, ErrDuplicateRedeem
		case f.Reason == ReasonMissing:
			return nil, ErrUserNotFound
		case f.Reason == ReasonInvalidAmount:
			return nil, fmt.Errorf("%w: %v", ErrConditionFailed, cf)
		}
		required := entry.PointsChange
		if required < 0 {
			required = -required
		}
		available := entry.PointsBefore
		if u, err := c.Store.GetUser(ctx, entry.UserID); err == nil && u != nil {
			available = u.PointsBalance
		}
		return nil, &InsufficientPointsError{UserID: entry.UserID, Available: available, Required: required}
	}
	if f, ok := cf.Failed(isConsumeStock); ok {
		switch f.Reason {
		case ReasonMissing:
			return nil, ErrRewardNotFound
		case ReasonInactive:
			return nil, ErrRewardInactive
		case ReasonOutOfStock:
			return nil, ErrRewardOutOfStock
		case ReasonStockUntracked:
			return nil, fmt.Errorf("%w: %v", ErrConditionFailed, cf)
		}
	}
	if f, ok := cf.Failed(isClaimSlot); ok {
		slot := f.Op.(ClaimSlot)
		return nil, &LimitReachedError{
			RewardID: RewardID(entry.SourceReference),
			Count:    slot.Limit,
			Limit:    slot.Limit,
			Daily:    slot.Key != UserSlotKey(entry.UserID, RewardID(entry.SourceReference)),
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrConditionFailed, cf)
}

// committed looks up probe.TransactionID in the ledger. It returns
// (nil, nil) when the id is unused, the original result when the stored
// entry is the same operation, and ErrDuplicateTransaction otherwise.
func (c *Coordinator) committed(ctx context.Context, log logrus.FieldLogger, probe LedgerEntry) (*Result, error) {
	if probe.TransactionID == "" {
		return nil, nil
	}
	stored, err := c.Store.GetEntry(ctx, probe.TransactionID)
	if err != nil {
		return nil, c.internal(log, "read ledger entry", err)
	}
	if stored == nil {
		return nil, nil
	}
	if stored.UserID != probe.UserID ||
		stored.Type != probe.Type ||
		stored.SourceReference != probe.SourceReference {
		log.WithField("transaction_id", probe.TransactionID).Warn("transaction id reused by a different operation")
		return nil, ErrDuplicateTransaction
	}

	res := &Result{
		TransactionID: stored.TransactionID,
		UserID:        stored.UserID,
		Type:          stored.Type,
		PointsChange:  stored.PointsChange,
		NewBalance:    stored.PointsAfter,
		At:            stored.CreatedAt,
		Replayed:      true,
	}
	switch stored.Type {
	case TxEarn:
		res.TokenID = TokenID(stored.SourceReference)
	case TxRewardExchange:
		res.RewardID = RewardID(stored.SourceReference)
		if r, err := c.Store.GetReward(ctx, res.RewardID); err == nil && r != nil {
			res.RewardName = r.Name
		}
	}
	log.WithField("transaction_id", stored.TransactionID).Info("replayed committed transaction")
	return res, nil
}

func (c *Coordinator) internal(log logrus.FieldLogger, what string, err error) error {
	log.WithError(err).Error(what + " failed")
	return fmt.Errorf("%s: %v: %w", what, err, ErrInternal)
}

func isAppend(op Op) bool {
	_, ok := op.(AppendEntry)
	return ok
}

func isRedeemToken(op Op) bool {
	_, ok := op.(RedeemToken)
	return ok
}

func isConsumeStock(op Op) bool {
	_, ok := op.(ConsumeStock)
	return ok
}

func isClaimSlot(op Op) bool {
	_, ok := op.(ClaimSlot)
	return ok
}

func isBalanceOp(op Op) bool {
	switch op.(type) {
	case CreditBalance, DebitBalance:
		return true
	}
	return false
}
