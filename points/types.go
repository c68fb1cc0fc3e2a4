/*
Package points provides the points-ledger transaction engine.

PURPOSE:
  Users earn points by redeeming single-use QR tokens at recycling locations
  and spend them on limited-stock rewards. This package owns every balance
  mutation: each earn or spend is one atomic, idempotent, conditional
  multi-record write that updates the balance, consumes the redeemable and
  appends an immutable ledger entry together.

KEY CONCEPTS IN THIS FILE (types.go):
  - User:        Owner of a points balance (never written outside the Coordinator)
  - QrToken:     Single-use redeemable (issued/active -> redeemed)
  - Reward:      Finite-stock redeemable exchanged for points
  - LedgerEntry: Immutable record of one balance-affecting event
  - Intent:      What a caller asks the Coordinator to do (Earn, Spend, Adjust)

DESIGN PRINCIPLES:
  1. Immutability: ledger entries are never modified or deleted
  2. Conditional writes: balance >= 0 and stock >= 0 are store predicates,
     never post-hoc corrections
  3. No in-process locks: mutual exclusion lives in the store's commit
  4. Typed errors: every rule violation is a closed-set *Error value

SEE ALSO:
  - store.go:        Store contracts and conditional write operations
  - coordinator.go:  Transaction Coordinator
  - eligibility.go:  Eligibility Evaluator
  - errors.go:       Error taxonomy
*/
package points

import (
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TokenID string
type RewardID string
type TransactionID string
type LocationID string

// =============================================================================
// USER
// =============================================================================

// User holds a non-negative points balance.
type User struct {
	ID            UserID
	PointsBalance int64
	UpdatedAt     time.Time
}

// =============================================================================
// QR TOKEN
// =============================================================================

type TokenStatus string

const (
	TokenIssued   TokenStatus = "issued"
	TokenActive   TokenStatus = "active"
	TokenRedeemed TokenStatus = "redeemed"
	TokenExpired  TokenStatus = "expired"
)

// Redeemable reports whether a token in this status may still be redeemed.
// An empty status is accepted, matching tokens issued without one.
func (s TokenStatus) Redeemable() bool {
	switch TokenStatus(strings.ToLower(string(s))) {
	case "", TokenIssued, TokenActive:
		return true
	}
	return false
}

// Is compares statuses case-insensitively.
func (s TokenStatus) Is(other TokenStatus) bool {
	return strings.EqualFold(string(s), string(other))
}

// QrToken is a single-use token printed at a recycling location.
type QrToken struct {
	ID          TokenID
	Status      TokenStatus
	PointsValue *int64 // nil = use the configured default
	ExpiresAt   *time.Time
	LocationID  LocationID
	RedeemedBy  *UserID
	RedeemedAt  *time.Time
}

// ExpiredAt reports whether the token's expiry lies before now.
func (t *QrToken) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// =============================================================================
// REWARD
// =============================================================================

// Reward is a finite-capacity resource exchanged for points.
type Reward struct {
	ID                     RewardID
	Name                   string
	PointsCost             int64
	StockCount             *int64 // nil = no stock recorded; cannot be exchanged
	IsActive               bool
	RedeemableFrom         *time.Time
	RedeemableUntil        *time.Time
	RedemptionLimitPerUser *int
	RedemptionLimitPerDay  *int
	TotalRedeemed          int64
	UpdatedAt              time.Time
}

// TracksStock reports whether the reward has a stock_count. A reward
// without one passes CheckReward but fails ConsumeStock at commit.
func (r *Reward) TracksStock() bool { return r.StockCount != nil }

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type TransactionType string

const (
	TxEarn           TransactionType = "earn"            // QR token redemption
	TxRewardExchange TransactionType = "reward_exchange" // Points spent on a reward
	TxAdjustment     TransactionType = "adjustment"      // Admin correction or opening balance
)

// LedgerEntry is one immutable balance-affecting event.
// TransactionID is globally unique and doubles as the idempotency key.
type LedgerEntry struct {
	TransactionID   TransactionID
	UserID          UserID
	Type            TransactionType
	PointsChange    int64
	SourceReference string // qr token id, reward id or adjustment reference
	LocationID      LocationID
	Reason          string
	CreatedAt       time.Time
	PointsBefore    int64
	PointsAfter     int64
}

// =============================================================================
// INTENTS
// =============================================================================

// Intent is a request to mutate a balance. The set is closed: Earn, Spend, Adjust.
type Intent interface {
	intent()
	User() UserID
}

// Earn redeems a QR token for its points value.
type Earn struct {
	UserID        UserID
	TokenID       TokenID
	TransactionID TransactionID // optional idempotency key
}

// Spend exchanges points for one unit of a reward.
type Spend struct {
	UserID        UserID
	RewardID      RewardID
	TransactionID TransactionID // optional idempotency key
}

// Adjust credits (Points > 0) or debits (Points < 0) a balance outside the
// earn/spend flows, e.g. opening balances or support corrections.
type Adjust struct {
	UserID        UserID
	Points        int64
	Reference     string
	Reason        string
	TransactionID TransactionID // optional idempotency key
}

func (Earn) intent()   {}
func (Spend) intent()  {}
func (Adjust) intent() {}

func (i Earn) User() UserID   { return i.UserID }
func (i Spend) User() UserID  { return i.UserID }
func (i Adjust) User() UserID { return i.UserID }

// =============================================================================
// RESULT
// =============================================================================

// Result describes a committed (or replayed) transaction.
type Result struct {
	TransactionID TransactionID
	UserID        UserID
	Type          TransactionType
	PointsChange  int64
	NewBalance    int64
	At            time.Time

	TokenID    TokenID
	RewardID   RewardID
	RewardName string

	// Replayed is true when the transaction id had already been committed
	// and this result was rebuilt from the stored ledger entry.
	Replayed bool
}
