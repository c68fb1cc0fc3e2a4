// Package store provides in-process points.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/warp/recycle-points/points"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an AdminStore held in maps behind one mutex. Commit stages every
// op on copies of the touched records and publishes them only when all
// predicates hold, so readers never see a partial commit.
type Memory struct {
	mu       sync.RWMutex
	users    map[points.UserID]points.User
	tokens   map[points.TokenID]points.QrToken
	rewards  map[points.RewardID]points.Reward
	counters map[string]int
	ledger   []points.LedgerEntry
	byTxID   map[points.TransactionID]int
	now      func() time.Time
}

var _ points.AdminStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[points.UserID]points.User),
		tokens:   make(map[points.TokenID]points.QrToken),
		rewards:  make(map[points.RewardID]points.Reward),
		counters: make(map[string]int),
		byTxID:   make(map[points.TransactionID]int),
		now:      time.Now,
	}
}

// WithClock makes the store stamp updated_at/redeemed_at from clock.
func (m *Memory) WithClock(clock points.Clock) *Memory {
	m.now = clock.Now
	return m
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id points.UserID) (*points.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) GetToken(_ context.Context, id points.TokenID) (*points.QrToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) GetReward(_ context.Context, id points.RewardID) (*points.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rewards[id]
	if !ok {
		return nil, nil
	}
	return copyReward(r), nil
}

func (m *Memory) GetEntry(_ context.Context, id points.TransactionID) (*points.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byTxID[id]
	if !ok {
		return nil, nil
	}
	e := m.ledger[i]
	return &e, nil
}

// ScanLedger walks the ledger in append order. The cursor is the index of
// the next entry to examine.
func (m *Memory) ScanLedger(_ context.Context, f points.LedgerFilter, page points.Page) (points.LedgerPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if page.Cursor != "" {
		n, err := strconv.Atoi(page.Cursor)
		if err != nil || n < 0 {
			return points.LedgerPage{}, points.ErrInvalidRequest
		}
		start = n
	}
	limit := page.Limit
	if limit <= 0 {
		limit = points.DefaultScanPageSize
	}

	var out points.LedgerPage
	for i := start; i < len(m.ledger); i++ {
		if len(out.Entries) == limit {
			out.NextCursor = strconv.Itoa(i)
			break
		}
		if e := m.ledger[i]; matches(e, f) {
			out.Entries = append(out.Entries, e)
		}
	}
	return out, nil
}

func matches(e points.LedgerEntry, f points.LedgerFilter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.SourceReference != "" && e.SourceReference != f.SourceReference {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// =============================================================================
// COMMIT
// =============================================================================

// staged holds copies of every record a commit touches.
type staged struct {
	users    map[points.UserID]points.User
	tokens   map[points.TokenID]points.QrToken
	rewards  map[points.RewardID]points.Reward
	counters map[string]int
	entries  []points.LedgerEntry
	before   map[points.UserID]int64
}

// Commit applies ops atomically. Every predicate is evaluated against the
// staged state, so later ops see earlier ops of the same commit.
func (m *Memory) Commit(ctx context.Context, ops []points.Op) (*points.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	s := &staged{
		users:    make(map[points.UserID]points.User),
		tokens:   make(map[points.TokenID]points.QrToken),
		rewards:  make(map[points.RewardID]points.Reward),
		counters: make(map[string]int),
		before:   make(map[points.UserID]int64),
	}
	var failures []points.ConditionFailure
	fail := func(i int, op points.Op, reason points.FailureReason) {
		failures = append(failures, points.ConditionFailure{Index: i, Op: op, Reason: reason})
	}

	for i, op := range ops {
		switch o := op.(type) {
		case points.CreditBalance:
			if o.Points <= 0 {
				fail(i, op, points.ReasonInvalidAmount)
				continue
			}
			u, ok := m.stagedUser(s, o.UserID)
			if !ok {
				fail(i, op, points.ReasonMissing)
				continue
			}
			u.PointsBalance += o.Points
			u.UpdatedAt = now
			s.users[o.UserID] = u

		case points.DebitBalance:
			if o.Points <= 0 {
				fail(i, op, points.ReasonInvalidAmount)
				continue
			}
			u, ok := m.stagedUser(s, o.UserID)
			if !ok {
				fail(i, op, points.ReasonMissing)
				continue
			}
			if u.PointsBalance < o.Points {
				fail(i, op, points.ReasonInsufficientBalance)
				continue
			}
			u.PointsBalance -= o.Points
			u.UpdatedAt = now
			s.users[o.UserID] = u

		case points.RedeemToken:
			t, ok := s.tokens[o.TokenID]
			if !ok {
				t, ok = m.tokens[o.TokenID]
			}
			if !ok {
				fail(i, op, points.ReasonMissing)
				continue
			}
			if !t.Status.Redeemable() {
				fail(i, op, points.ReasonTokenNotRedeemable)
				continue
			}
			by, at := o.UserID, now
			t.Status = points.TokenRedeemed
			t.RedeemedBy = &by
			t.RedeemedAt = &at
			s.tokens[o.TokenID] = t

		case points.ConsumeStock:
			r, ok := s.rewards[o.RewardID]
			if !ok {
				r, ok = m.rewards[o.RewardID]
				if ok {
					r = *copyReward(r)
				}
			}
			if !ok {
				fail(i, op, points.ReasonMissing)
				continue
			}
			if !r.IsActive {
				fail(i, op, points.ReasonInactive)
				continue
			}
			if r.StockCount == nil {
				fail(i, op, points.ReasonStockUntracked)
				continue
			}
			if *r.StockCount < 1 {
				fail(i, op, points.ReasonOutOfStock)
				continue
			}
			left := *r.StockCount - 1
			r.StockCount = &left
			r.TotalRedeemed++
			r.UpdatedAt = now
			s.rewards[o.RewardID] = r

		case points.ClaimSlot:
			n, ok := s.counters[o.Key]
			if !ok {
				n = m.counters[o.Key]
			}
			if o.Floor > n {
				n = o.Floor
			}
			if n >= o.Limit {
				fail(i, op, points.ReasonLimitReached)
				continue
			}
			s.counters[o.Key] = n + 1

		case points.AppendEntry:
			e := o.Entry
			if _, exists := m.byTxID[e.TransactionID]; exists || stagedHas(s, e.TransactionID) {
				fail(i, op, points.ReasonDuplicateTransaction)
				continue
			}
			if o.CaptureBalance {
				if u, ok := s.users[e.UserID]; ok {
					e.PointsBefore = s.before[e.UserID]
					e.PointsAfter = u.PointsBalance
				}
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			s.entries = append(s.entries, e)
		}
	}

	if len(failures) > 0 {
		return nil, &points.ConditionFailedError{Failures: failures}
	}
	for id, u := range s.users {
		if u.PointsBalance < 0 {
			return nil, fmt.Errorf("memory: balance of %s would be %d", id, u.PointsBalance)
		}
	}

	receipt := &points.Receipt{CommittedAt: now, Balances: make(map[points.UserID]int64)}
	for id, u := range s.users {
		m.users[id] = u
		receipt.Balances[id] = u.PointsBalance
	}
	for id, t := range s.tokens {
		m.tokens[id] = t
	}
	for id, r := range s.rewards {
		m.rewards[id] = r
	}
	for k, n := range s.counters {
		m.counters[k] = n
	}
	for _, e := range s.entries {
		m.byTxID[e.TransactionID] = len(m.ledger)
		m.ledger = append(m.ledger, e)
	}
	return receipt, nil
}

// stagedUser returns the staged copy of a user, staging it on first touch.
func (m *Memory) stagedUser(s *staged, id points.UserID) (points.User, bool) {
	if u, ok := s.users[id]; ok {
		return u, true
	}
	u, ok := m.users[id]
	if ok {
		s.before[id] = u.PointsBalance
	}
	return u, ok
}

func stagedHas(s *staged, id points.TransactionID) bool {
	for _, e := range s.entries {
		if e.TransactionID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// ADMIN
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, id points.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		m.users[id] = points.User{ID: id, UpdatedAt: m.now().UTC()}
	}
	return nil
}

func (m *Memory) SaveToken(_ context.Context, t points.QrToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.ID] = t
	return nil
}

// SaveReward inserts or replaces a reward's catalog fields.
// TotalRedeemed of an existing reward is kept.
func (m *Memory) SaveReward(_ context.Context, r points.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.rewards[r.ID]; ok {
		r.TotalRedeemed = old.TotalRedeemed
	}
	r.UpdatedAt = m.now().UTC()
	m.rewards[r.ID] = *copyReward(r)
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]points.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]points.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// copyReward detaches the StockCount pointer so callers can't mutate stored state.
func copyReward(r points.Reward) *points.Reward {
	if r.StockCount != nil {
		n := *r.StockCount
		r.StockCount = &n
	}
	return &r
}
