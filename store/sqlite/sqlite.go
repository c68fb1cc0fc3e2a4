/*
Package sqlite provides a SQLite-backed implementation of points.AdminStore.

PURPOSE:
  Implements the users, redeemables and ledger tables and the atomic
  conditional commit on top of database/sql. The same statements port to
  PostgreSQL with only dialect changes.

KEY TABLES:
  users:               points_balance (CHECK >= 0), updated_at
  qr_tokens:           status, points_value, expires_at, redeemed_by/at
  rewards:             points_cost, stock_count (NULL = not stocked, never exchangeable; CHECK >= 0),
                       total_redeemed, availability window, caps
  points_ledger:       append-only; transaction_id PRIMARY KEY
  redemption_counters: hard-cap slots keyed by (user, reward[, day])

CONDITIONAL COMMIT:
  Commit runs every op inside one SQL transaction. Each op is a single
  UPDATE/INSERT whose WHERE clause is the op's predicate; zero rows
  affected means the predicate failed, and a follow-up SELECT inside the
  same transaction classifies why. If any op failed the transaction rolls
  back and *points.ConditionFailedError lists them all.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement targets points_ledger. A duplicate
  transaction_id violates the primary key and is reported as
  ReasonDuplicateTransaction.

CONCURRENCY:
  Writers are serialized by a sync.RWMutex and transactions are opened with
  _txlock=immediate so separate processes serialize on the SQLite write
  lock as well. ":memory:" databases are pinned to one connection.

TIME FORMAT:
  Timestamps are stored as fixed-width UTC text so string comparison is
  chronological (needed for created_at >= since scans).

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - points/store.go:        interface definitions
  - points/store/memory.go: in-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/recycle-points/points"
)

// timeFormat sorts lexicographically in chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store implements points.AdminStore using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

var _ points.AdminStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// WithClock makes the store stamp updated_at/redeemed_at from clock.
func (s *Store) WithClock(clock points.Clock) *Store {
	s.now = clock.Now
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		points_balance INTEGER NOT NULL DEFAULT 0 CHECK (points_balance >= 0),
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS qr_tokens (
		token_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'issued',
		points_value INTEGER,
		expires_at TEXT,
		location_id TEXT,
		redeemed_by TEXT,
		redeemed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS rewards (
		reward_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		points_cost INTEGER NOT NULL,
		stock_count INTEGER CHECK (stock_count IS NULL OR stock_count >= 0),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		redeemable_from TEXT,
		redeemable_until TEXT,
		redemption_limit_per_user INTEGER,
		redemption_limit_per_day INTEGER,
		total_redeemed INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- Append-only ledger. transaction_id is the idempotency key.
	CREATE TABLE IF NOT EXISTS points_ledger (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		points_change INTEGER NOT NULL,
		source_reference TEXT,
		location_id TEXT,
		reason TEXT,
		created_at TEXT NOT NULL,
		points_before INTEGER NOT NULL,
		points_after INTEGER NOT NULL
	);

	-- Redemption cap counts (hot path for exchanges)
	CREATE INDEX IF NOT EXISTS idx_ledger_user_type_source_created
		ON points_ledger(user_id, transaction_type, source_reference, created_at);

	CREATE INDEX IF NOT EXISTS idx_ledger_user
		ON points_ledger(user_id, seq);

	CREATE TABLE IF NOT EXISTS redemption_counters (
		counter_key TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// READS (points.Reader)
// =============================================================================

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id points.UserID) (*points.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		u         points.User
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, points_balance, updated_at FROM users WHERE user_id = ?", id,
	).Scan(&u.ID, &u.PointsBalance, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// GetToken retrieves a QR token by ID.
func (s *Store) GetToken(ctx context.Context, id points.TokenID) (*points.QrToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		t                                  points.QrToken
		status                             string
		pointsValue                        sql.NullInt64
		expiresAt, location, by, redeemedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token_id, status, points_value, expires_at, location_id, redeemed_by, redeemed_at
		FROM qr_tokens WHERE token_id = ?`, id,
	).Scan(&t.ID, &status, &pointsValue, &expiresAt, &location, &by, &redeemedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	t.Status = points.TokenStatus(status)
	if pointsValue.Valid {
		v := pointsValue.Int64
		t.PointsValue = &v
	}
	t.ExpiresAt = parseNullTime(expiresAt)
	t.LocationID = points.LocationID(location.String)
	if by.Valid {
		u := points.UserID(by.String)
		t.RedeemedBy = &u
	}
	t.RedeemedAt = parseNullTime(redeemedAt)
	return &t, nil
}

// GetReward retrieves a reward by ID.
func (s *Store) GetReward(ctx context.Context, id points.RewardID) (*points.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r                   points.Reward
		stock               sql.NullInt64
		from, until         sql.NullString
		perUser, perDay     sql.NullInt64
		updatedAt           string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT reward_id, name, points_cost, stock_count, is_active, redeemable_from, redeemable_until,
		       redemption_limit_per_user, redemption_limit_per_day, total_redeemed, updated_at
		FROM rewards WHERE reward_id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.PointsCost, &stock, &r.IsActive, &from, &until,
		&perUser, &perDay, &r.TotalRedeemed, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}

	if stock.Valid {
		n := stock.Int64
		r.StockCount = &n
	}
	r.RedeemableFrom = parseNullTime(from)
	r.RedeemableUntil = parseNullTime(until)
	r.RedemptionLimitPerUser = nullIntPtr(perUser)
	r.RedemptionLimitPerDay = nullIntPtr(perDay)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// GetEntry retrieves a ledger entry by transaction ID.
func (s *Store) GetEntry(ctx context.Context, id points.TransactionID) (*points.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectEntries+" WHERE transaction_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, _, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// LEDGER SCAN (points.LedgerScanner)
// =============================================================================

const selectEntries = `
	SELECT seq, transaction_id, user_id, transaction_type, points_change, source_reference,
	       location_id, reason, created_at, points_before, points_after
	FROM points_ledger`

// ScanLedger returns one page of matching entries in seq order.
// The cursor is the seq of the last entry returned.
func (s *Store) ScanLedger(ctx context.Context, f points.LedgerFilter, page points.Page) (points.LedgerPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var after int64
	if page.Cursor != "" {
		n, err := strconv.ParseInt(page.Cursor, 10, 64)
		if err != nil || n < 0 {
			return points.LedgerPage{}, points.ErrInvalidRequest
		}
		after = n
	}
	limit := page.Limit
	if limit <= 0 {
		limit = points.DefaultScanPageSize
	}

	where := []string{"seq > ?"}
	args := []any{after}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Type != "" {
		where = append(where, "transaction_type = ?")
		args = append(args, f.Type)
	}
	if f.SourceReference != "" {
		where = append(where, "source_reference = ?")
		args = append(args, f.SourceReference)
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*f.Since))
	}
	// Fetch one extra row to learn whether another page exists.
	args = append(args, limit+1)

	query := selectEntries + " WHERE " + strings.Join(where, " AND ") + " ORDER BY seq ASC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return points.LedgerPage{}, fmt.Errorf("failed to scan ledger: %w", err)
	}
	defer rows.Close()

	var (
		out     points.LedgerPage
		lastSeq int64
	)
	for rows.Next() {
		e, seq, err := scanEntry(rows)
		if err != nil {
			return points.LedgerPage{}, err
		}
		if len(out.Entries) == limit {
			out.NextCursor = strconv.FormatInt(lastSeq, 10)
			break
		}
		out.Entries = append(out.Entries, e)
		lastSeq = seq
	}
	return out, rows.Err()
}

func scanEntry(rows *sql.Rows) (points.LedgerEntry, int64, error) {
	var (
		e                      points.LedgerEntry
		seq                    int64
		source, location, note sql.NullString
		createdAt              string
	)
	err := rows.Scan(&seq, &e.TransactionID, &e.UserID, &e.Type, &e.PointsChange, &source,
		&location, &note, &createdAt, &e.PointsBefore, &e.PointsAfter)
	if err != nil {
		return e, 0, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	e.SourceReference = source.String
	e.LocationID = points.LocationID(location.String)
	e.Reason = note.String
	e.CreatedAt = parseTime(createdAt)
	return e, seq, nil
}

// =============================================================================
// CONDITIONAL COMMIT (points.Committer)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// commitState tracks per-user balances inside one SQL transaction.
type commitState struct {
	before   map[points.UserID]int64
	balances map[points.UserID]int64
}

// Commit applies ops in one SQL transaction, all or nothing.
func (s *Store) Commit(ctx context.Context, ops []points.Op) (*points.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := s.now().UTC()
	st := &commitState{
		before:   make(map[points.UserID]int64),
		balances: make(map[points.UserID]int64),
	}

	var failures []points.ConditionFailure
	for i, op := range ops {
		reason, err := s.apply(ctx, sqlTx, st, op, now)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			failures = append(failures, points.ConditionFailure{Index: i, Op: op, Reason: reason})
		}
	}
	if len(failures) > 0 {
		return nil, &points.ConditionFailedError{Failures: failures}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &points.Receipt{CommittedAt: now, Balances: st.balances}, nil
}

// apply executes one op. A non-empty reason means its predicate failed.
func (s *Store) apply(ctx context.Context, tx execer, st *commitState, op points.Op, now time.Time) (points.FailureReason, error) {
	ts := formatTime(now)

	switch o := op.(type) {
	case points.CreditBalance:
		if o.Points <= 0 {
			return points.ReasonInvalidAmount, nil
		}
		if err := st.capture(ctx, tx, o.UserID); err != nil {
			return "", err
		}
		ok, err := affected(tx.ExecContext(ctx,
			"UPDATE users SET points_balance = points_balance + ?, updated_at = ? WHERE user_id = ?",
			o.Points, ts, o.UserID))
		if err != nil {
			return "", fmt.Errorf("failed to credit balance: %w", err)
		}
		if !ok {
			return points.ReasonMissing, nil
		}
		return "", st.refresh(ctx, tx, o.UserID)

	case points.DebitBalance:
		if o.Points <= 0 {
			return points.ReasonInvalidAmount, nil
		}
		if err := st.capture(ctx, tx, o.UserID); err != nil {
			return "", err
		}
		ok, err := affected(tx.ExecContext(ctx,
			"UPDATE users SET points_balance = points_balance - ?, updated_at = ? WHERE user_id = ? AND points_balance >= ?",
			o.Points, ts, o.UserID, o.Points))
		if err != nil {
			return "", fmt.Errorf("failed to debit balance: %w", err)
		}
		if !ok {
			if found, err := exists(ctx, tx, "SELECT 1 FROM users WHERE user_id = ?", o.UserID); err != nil || !found {
				return points.ReasonMissing, err
			}
			return points.ReasonInsufficientBalance, nil
		}
		return "", st.refresh(ctx, tx, o.UserID)

	case points.RedeemToken:
		ok, err := affected(tx.ExecContext(ctx, `
			UPDATE qr_tokens SET status = 'redeemed', redeemed_by = ?, redeemed_at = ?
			WHERE token_id = ? AND LOWER(status) IN ('', 'issued', 'active')`,
			o.UserID, ts, o.TokenID))
		if err != nil {
			return "", fmt.Errorf("failed to redeem token: %w", err)
		}
		if !ok {
			if found, err := exists(ctx, tx, "SELECT 1 FROM qr_tokens WHERE token_id = ?", o.TokenID); err != nil || !found {
				return points.ReasonMissing, err
			}
			return points.ReasonTokenNotRedeemable, nil
		}
		return "", nil

	case points.ConsumeStock:
		ok, err := affected(tx.ExecContext(ctx, `
			UPDATE rewards
			SET stock_count = stock_count - 1,
			    total_redeemed = total_redeemed + 1,
			    updated_at = ?
			WHERE reward_id = ? AND is_active AND stock_count IS NOT NULL AND stock_count >= 1`,
			ts, o.RewardID))
		if err != nil {
			return "", fmt.Errorf("failed to consume stock: %w", err)
		}
		if !ok {
			var active bool
			var stock sql.NullInt64
			err := tx.QueryRowContext(ctx, "SELECT is_active, stock_count FROM rewards WHERE reward_id = ?", o.RewardID).Scan(&active, &stock)
			switch {
			case err == sql.ErrNoRows:
				return points.ReasonMissing, nil
			case err != nil:
				return "", fmt.Errorf("failed to read reward: %w", err)
			case !active:
				return points.ReasonInactive, nil
			case !stock.Valid:
				return points.ReasonStockUntracked, nil
			}
			return points.ReasonOutOfStock, nil
		}
		return "", nil

	case points.ClaimSlot:
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO redemption_counters (counter_key, count) VALUES (?, 0)", o.Key); err != nil {
			return "", fmt.Errorf("failed to init counter: %w", err)
		}
		ok, err := affected(tx.ExecContext(ctx, `
			UPDATE redemption_counters SET count = MAX(count, ?) + 1
			WHERE counter_key = ? AND MAX(count, ?) < ?`,
			o.Floor, o.Key, o.Floor, o.Limit))
		if err != nil {
			return "", fmt.Errorf("failed to claim slot: %w", err)
		}
		if !ok {
			return points.ReasonLimitReached, nil
		}
		return "", nil

	case points.AppendEntry:
		e := o.Entry
		if o.CaptureBalance {
			if after, ok := st.balances[e.UserID]; ok {
				e.PointsBefore = st.before[e.UserID]
				e.PointsAfter = after
			}
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO points_ledger
			(transaction_id, user_id, transaction_type, points_change, source_reference,
			 location_id, reason, created_at, points_before, points_after)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.TransactionID, e.UserID, e.Type, e.PointsChange, nullString(e.SourceReference),
			nullString(string(e.LocationID)), nullString(e.Reason), formatTime(e.CreatedAt),
			e.PointsBefore, e.PointsAfter)
		if err != nil {
			if isUniqueConstraintError(err) {
				return points.ReasonDuplicateTransaction, nil
			}
			return "", fmt.Errorf("failed to append ledger entry: %w", err)
		}
		return "", nil
	}

	return "", fmt.Errorf("unsupported op %T", op)
}

// capture records a user's balance before the first balance op touches it.
func (st *commitState) capture(ctx context.Context, tx execer, id points.UserID) error {
	if _, seen := st.before[id]; seen {
		return nil
	}
	var bal int64
	err := tx.QueryRowContext(ctx, "SELECT points_balance FROM users WHERE user_id = ?", id).Scan(&bal)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	st.before[id] = bal
	return nil
}

func (st *commitState) refresh(ctx context.Context, tx execer, id points.UserID) error {
	var bal int64
	if err := tx.QueryRowContext(ctx, "SELECT points_balance FROM users WHERE user_id = ?", id).Scan(&bal); err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	st.balances[id] = bal
	return nil
}

// =============================================================================
// ADMIN (points.AdminStore)
// =============================================================================

// CreateUser registers a user with a zero balance. Existing users are untouched.
func (s *Store) CreateUser(ctx context.Context, id points.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (user_id, points_balance, updated_at) VALUES (?, 0, ?)",
		id, formatTime(s.now().UTC()))
	return err
}

// SaveToken inserts or replaces a QR token.
func (s *Store) SaveToken(ctx context.Context, t points.QrToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pointsValue sql.NullInt64
	if t.PointsValue != nil {
		pointsValue = sql.NullInt64{Int64: *t.PointsValue, Valid: true}
	}
	var by sql.NullString
	if t.RedeemedBy != nil {
		by = nullString(string(*t.RedeemedBy))
	}
	status := string(t.Status)
	if status == "" {
		status = string(points.TokenIssued)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qr_tokens (token_id, status, points_value, expires_at, location_id, redeemed_by, redeemed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET
			status = excluded.status,
			points_value = excluded.points_value,
			expires_at = excluded.expires_at,
			location_id = excluded.location_id,
			redeemed_by = excluded.redeemed_by,
			redeemed_at = excluded.redeemed_at`,
		t.ID, status, pointsValue, nullTime(t.ExpiresAt), nullString(string(t.LocationID)),
		by, nullTime(t.RedeemedAt))
	return err
}

// SaveReward inserts or replaces a reward's catalog fields.
func (s *Store) SaveReward(ctx context.Context, r points.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stock sql.NullInt64
	if r.StockCount != nil {
		stock = sql.NullInt64{Int64: *r.StockCount, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rewards (reward_id, name, points_cost, stock_count, is_active, redeemable_from,
		                     redeemable_until, redemption_limit_per_user, redemption_limit_per_day,
		                     total_redeemed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reward_id) DO UPDATE SET
			name = excluded.name,
			points_cost = excluded.points_cost,
			stock_count = excluded.stock_count,
			is_active = excluded.is_active,
			redeemable_from = excluded.redeemable_from,
			redeemable_until = excluded.redeemable_until,
			redemption_limit_per_user = excluded.redemption_limit_per_user,
			redemption_limit_per_day = excluded.redemption_limit_per_day,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.PointsCost, stock, r.IsActive, nullTime(r.RedeemableFrom), nullTime(r.RedeemableUntil),
		intPtrArg(r.RedemptionLimitPerUser), intPtrArg(r.RedemptionLimitPerDay), r.TotalRedeemed,
		formatTime(s.now().UTC()))
	return err
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]points.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT user_id, points_balance, updated_at FROM users ORDER BY user_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []points.User
	for rows.Next() {
		var (
			u         points.User
			updatedAt string
		)
		if err := rows.Scan(&u.ID, &u.PointsBalance, &updatedAt); err != nil {
			return nil, err
		}
		u.UpdatedAt = parseTime(updatedAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func exists(ctx context.Context, tx execer, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func intPtrArg(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
