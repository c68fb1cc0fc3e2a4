/*
store.go - Persistence contracts for users, redeemables and the ledger

PURPOSE:
  Defines the interface between the engine and the transactional data store.
  The engine never locks in-process: every invariant is expressed as a
  predicate on a conditional write, and the store commits a whole set of
  such writes atomically or not at all.

KEY INTERFACES:
  Reader:        Read-by-key for users, tokens, rewards and ledger entries
  LedgerScanner: Filtered, paginated scan over the ledger (count queries)
  Committer:     Atomic multi-record conditional write
  Store:         Reader + LedgerScanner + Committer (what the engine needs)
  AdminStore:    Store + catalog setup (users, tokens, rewards)

COMMIT CONTRACT:
  Commit(ctx, ops) must provide:
  (a) all-or-nothing application of every op
  (b) each op's predicate evaluated against the latest committed value
  (c) no partial visibility of an in-flight commit to concurrent readers
  On any predicate failure nothing is applied and *ConditionFailedError
  lists every op that failed.

APPEND-ONLY LEDGER:
  AppendEntry is the only way an entry is written. There is no update or
  delete. The transaction id is unique; appending an existing id fails
  with ReasonDuplicateTransaction, which makes replays store-level no-ops.

IMPLEMENTATIONS:
  - points/store/memory.go: in-memory (tests, dev)
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - coordinator.go:     builds op sets
  - storetest/suite.go: contract tests every implementation must pass
*/
package points

import (
	"context"
	"time"
)

// =============================================================================
// READ SIDE
// =============================================================================

// Reader loads records by key. A missing record is (nil, nil).
type Reader interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetToken(ctx context.Context, id TokenID) (*QrToken, error)
	GetReward(ctx context.Context, id RewardID) (*Reward, error)
	GetEntry(ctx context.Context, id TransactionID) (*LedgerEntry, error)
}

// LedgerFilter selects ledger entries. Zero-valued fields match everything.
type LedgerFilter struct {
	UserID          UserID
	Type            TransactionType
	SourceReference string
	Since           *time.Time // CreatedAt >= Since
}

// Page requests one page of a scan. Cursor is opaque; "" starts at the beginning.
type Page struct {
	Cursor string
	Limit  int
}

// LedgerPage is one page of scan results in commit order.
// NextCursor is "" when there are no further entries.
type LedgerPage struct {
	Entries    []LedgerEntry
	NextCursor string
}

// LedgerScanner scans the ledger page by page.
type LedgerScanner interface {
	ScanLedger(ctx context.Context, filter LedgerFilter, page Page) (LedgerPage, error)
}

// =============================================================================
// WRITE SIDE - Conditional operations
// =============================================================================

// Op is one conditional write inside a commit. The set is closed.
type Op interface {
	op()
}

// CreditBalance adds Points to a user. Predicate: Points > 0 AND user exists.
type CreditBalance struct {
	UserID UserID
	Points int64
}

// DebitBalance subtracts Points from a user.
// Predicate: Points > 0 AND user exists AND points_balance >= Points.
type DebitBalance struct {
	UserID UserID
	Points int64
}

// RedeemToken marks a token redeemed by UserID.
// Predicate: token exists AND status in {"", issued, active}.
type RedeemToken struct {
	TokenID TokenID
	UserID  UserID
}

// ConsumeStock takes one unit of a reward and bumps total_redeemed.
// Predicate: reward exists AND is_active AND stock_count is set AND stock_count >= 1.
type ConsumeStock struct {
	RewardID RewardID
}

// ClaimSlot increments a redemption counter.
// Predicate: max(stored count, Floor) < Limit.
// Floor seeds the counter from the ledger count observed before the commit.
type ClaimSlot struct {
	Key   string
	Limit int
	Floor int
}

// AppendEntry appends an immutable ledger entry.
// Predicate: Entry.TransactionID does not exist.
// When CaptureBalance is set, PointsBefore/PointsAfter are filled from the
// balance op on the same user earlier in this commit.
type AppendEntry struct {
	Entry          LedgerEntry
	CaptureBalance bool
}

func (CreditBalance) op() {}
func (DebitBalance) op()  {}
func (RedeemToken) op()   {}
func (ConsumeStock) op()  {}
func (ClaimSlot) op()     {}
func (AppendEntry) op()   {}

// Receipt reports what a successful commit produced.
type Receipt struct {
	CommittedAt time.Time
	// Balances holds the post-commit balance of every user touched.
	Balances map[UserID]int64
}

// Committer applies a set of ops atomically.
type Committer interface {
	Commit(ctx context.Context, ops []Op) (*Receipt, error)
}

// =============================================================================
// COMPOSITE INTERFACES
// =============================================================================

// Store is everything the Coordinator and Evaluator need.
type Store interface {
	Reader
	LedgerScanner
	Committer
}

// AdminStore adds catalog setup. Tokens and rewards are issued by
// collaborators outside the engine; balances are never set directly.
type AdminStore interface {
	Store

	// CreateUser registers a user with a zero balance. Existing users are untouched.
	CreateUser(ctx context.Context, id UserID) error

	// SaveToken inserts or replaces a token.
	SaveToken(ctx context.Context, token QrToken) error

	// SaveReward inserts or replaces a reward's catalog fields.
	SaveReward(ctx context.Context, reward Reward) error

	// ListUsers returns every user, ordered by id.
	ListUsers(ctx context.Context) ([]User, error)
}
