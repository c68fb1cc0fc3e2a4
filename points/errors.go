/*
errors.go - Closed error taxonomy for the points engine

PURPOSE:
  Every failure the engine can report is one of the *Error sentinels below.
  Callers compare with errors.Is; transports map Kind/Code to status codes
  at their boundary (see api/errors.go). Domain code never knows about HTTP.

ERROR KINDS:
  1. Validation   - missing or malformed input, or a pre-check rule violation
  2. NotFound     - referenced entity absent
  3. Conflict     - a concurrent transaction won the conditional write
  4. Unauthorized - no resolvable identity
  5. Internal     - store unavailable or unexpected failure

STRUCTURED ERRORS:
  InsufficientPointsError and LimitReachedError carry context and unwrap
  to their sentinel, so errors.Is(err, ErrInsufficientPoints) still works.

STORE ERRORS:
  ConditionFailedError is returned by Committer.Commit when any predicate
  fails. It lists every failing op so the Coordinator can re-derive the
  most specific domain error.

SEE ALSO:
  - coordinator.go: derives domain errors from ConditionFailedError
  - api/errors.go:  Kind/Code -> HTTP status
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// KIND + CODE
// =============================================================================

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Code is the stable machine-readable error identifier returned to clients.
type Code string

const (
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeTokenRequired          Code = "QR_TOKEN_REQUIRED"
	CodeTokenNotFound          Code = "QR_TOKEN_NOT_FOUND"
	CodeTokenAlreadyUsed       Code = "QR_TOKEN_ALREADY_USED"
	CodeTokenExpired           Code = "QR_TOKEN_EXPIRED"
	CodeInvalidPointsValue     Code = "INVALID_POINTS_VALUE"
	CodeDuplicateRedeem        Code = "DUPLICATE_REDEEM"
	CodeRewardNotFound         Code = "REWARD_NOT_FOUND"
	CodeUserNotFound           Code = "USER_NOT_FOUND"
	CodeRewardInactive         Code = "REWARD_INACTIVE"
	CodeRewardOutOfStock       Code = "REWARD_OUT_OF_STOCK"
	CodeRewardNotAvailableYet  Code = "REWARD_NOT_AVAILABLE_YET"
	CodeRewardExpired          Code = "REWARD_EXPIRED"
	CodeInvalidPointsCost      Code = "INVALID_POINTS_COST"
	CodeInsufficientPoints     Code = "INSUFFICIENT_POINTS"
	CodeRedemptionLimitReached Code = "REDEMPTION_LIMIT_REACHED"
	CodeDailyLimitReached      Code = "DAILY_LIMIT_REACHED"
	CodeConditionFailed        Code = "CONDITION_FAILED"
	CodeDuplicateTransaction   Code = "DUPLICATE_TRANSACTION"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeForbidden              Code = "FORBIDDEN"
	CodeInternal               Code = "INTERNAL_ERROR"
)

// Error is a domain error variant. Sentinels are compared by identity.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func newError(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// =============================================================================
// SENTINELS
// =============================================================================

var (
	ErrInvalidRequest = newError(KindValidation, CodeInvalidRequest, "request is malformed")
	ErrTokenRequired  = newError(KindValidation, CodeTokenRequired, "qr_token is required")

	ErrTokenNotFound      = newError(KindNotFound, CodeTokenNotFound, "qr token not found")
	ErrTokenAlreadyUsed   = newError(KindValidation, CodeTokenAlreadyUsed, "qr token has already been used")
	ErrTokenExpired       = newError(KindValidation, CodeTokenExpired, "qr token has expired")
	ErrInvalidPointsValue = newError(KindValidation, CodeInvalidPointsValue, "qr token points value must be positive")

	// ErrDuplicateRedeem means another request redeemed the token between
	// our read and our commit. Retrying must not be treated as success.
	ErrDuplicateRedeem = newError(KindConflict, CodeDuplicateRedeem, "qr token was redeemed by a concurrent request")

	ErrRewardNotFound = newError(KindNotFound, CodeRewardNotFound, "reward not found")
	ErrUserNotFound   = newError(KindNotFound, CodeUserNotFound, "user not found")

	ErrRewardInactive         = newError(KindValidation, CodeRewardInactive, "reward is not currently available")
	ErrRewardOutOfStock       = newError(KindValidation, CodeRewardOutOfStock, "reward is out of stock")
	ErrRewardNotAvailableYet  = newError(KindValidation, CodeRewardNotAvailableYet, "reward is not yet redeemable")
	ErrRewardExpired          = newError(KindValidation, CodeRewardExpired, "reward redemption period has ended")
	ErrInvalidPointsCost      = newError(KindValidation, CodeInvalidPointsCost, "reward points cost must be positive")
	ErrInsufficientPoints     = newError(KindValidation, CodeInsufficientPoints, "not enough points")
	ErrRedemptionLimitReached = newError(KindValidation, CodeRedemptionLimitReached, "redemption limit reached for this reward")
	ErrDailyLimitReached      = newError(KindValidation, CodeDailyLimitReached, "daily redemption limit reached for this reward")

	ErrConditionFailed      = newError(KindConflict, CodeConditionFailed, "conditional write failed")
	ErrDuplicateTransaction = newError(KindConflict, CodeDuplicateTransaction, "transaction id already used by a different operation")

	ErrUnauthorized = newError(KindUnauthorized, CodeUnauthorized, "user identification required")
	ErrForbidden    = newError(KindUnauthorized, CodeForbidden, "operation not permitted")
	ErrInternal     = newError(KindInternal, CodeInternal, "internal error")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientPointsError reports a balance shortage.
// Available is the balance observed when the shortage was detected.
type InsufficientPointsError struct {
	UserID    UserID
	Available int64
	Required  int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: available %d, required %d", e.Available, e.Required)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// LimitReachedError reports a per-user or per-day cap hit.
type LimitReachedError struct {
	RewardID RewardID
	Count    int
	Limit    int
	Daily    bool
}

func (e *LimitReachedError) Error() string {
	scope := "per-user"
	if e.Daily {
		scope = "daily"
	}
	return fmt.Sprintf("%s redemption limit reached for %s: %d/%d", scope, e.RewardID, e.Count, e.Limit)
}

func (e *LimitReachedError) Unwrap() error {
	if e.Daily {
		return ErrDailyLimitReached
	}
	return ErrRedemptionLimitReached
}

// =============================================================================
// CONDITIONAL WRITE FAILURES
// =============================================================================

// FailureReason says why an op's predicate did not hold.
type FailureReason string

const (
	ReasonMissing              FailureReason = "missing"
	ReasonInsufficientBalance  FailureReason = "insufficient_balance"
	ReasonTokenNotRedeemable   FailureReason = "token_not_redeemable"
	ReasonInactive             FailureReason = "inactive"
	ReasonOutOfStock           FailureReason = "out_of_stock"
	ReasonLimitReached         FailureReason = "limit_reached"
	ReasonDuplicateTransaction FailureReason = "duplicate_transaction"

	// Balance op with Points <= 0.
	ReasonInvalidAmount  FailureReason = "invalid_amount"
	// ConsumeStock on a reward without a stock_count.
	ReasonStockUntracked FailureReason = "stock_untracked"
)

// ConditionFailure identifies one failing op by its index in the commit.
type ConditionFailure struct {
	Index  int
	Op     Op
	Reason FailureReason
}

// ConditionFailedError aborts a whole commit. Nothing in it was applied.
type ConditionFailedError struct {
	Failures []ConditionFailure
}

func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("conditional write failed: %d predicate(s) did not hold (first: %s)",
		len(e.Failures), e.Failures[0].Reason)
}

func (e *ConditionFailedError) Unwrap() error { return ErrConditionFailed }

// Failed returns the first failure whose op matches the given predicate.
func (e *ConditionFailedError) Failed(match func(Op) bool) (ConditionFailure, bool) {
	for _, f := range e.Failures {
		if match(f.Op) {
			return f, true
		}
	}
	return ConditionFailure{}, false
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// AsError returns the domain *Error at the root of err, or ErrInternal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	// Structured errors unwrap to their sentinel, so As finds it.
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return ErrInternal
}

// CodeOf returns the client-facing code for err, or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return AsError(err).Code
}

// KindOf returns the taxonomy kind for err. nil reports KindInternal;
// check err first.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	return AsError(err).Kind
}

// IsConflict reports whether err was caused by losing a conditional write race.
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}
