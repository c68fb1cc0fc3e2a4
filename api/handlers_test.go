/*
handlers_test.go - HTTP contract tests

Tests for:
- Redeem and exchange success bodies
- Error code and status mapping at the boundary
- Identity before validation, admin gating
- Idempotency-Key replays
- Account and admin endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recycle-points/logging"
	"github.com/warp/recycle-points/points"
	"github.com/warp/recycle-points/points/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 15, 14, 30, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	store  *store.Memory
	coord  *points.Coordinator
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := points.NewFixedClock(testNow)
	mem := store.NewMemory().WithClock(clock)
	coord := points.NewCoordinator(mem)
	coord.Clock = clock
	coord.Evaluator.Location = time.UTC

	log := logging.Discard()
	h := NewHandler(coord, mem, log)
	return &testServer{
		t:      t,
		store:  mem,
		coord:  coord,
		router: NewRouter(h, RouterOptions{Auth: HeaderAuthenticator{}}),
	}
}

func (s *testServer) user(id points.UserID, balance int64) {
	ctx := context.Background()
	require.NoError(s.t, s.store.CreateUser(ctx, id))
	if balance > 0 {
		_, err := s.coord.Adjust(ctx, points.Adjust{UserID: id, Points: balance, Reference: "opening"})
		require.NoError(s.t, err)
	}
}

func (s *testServer) do(method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code points.Code) {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, string(code), resp.Error)
	assert.NotEmpty(t, resp.Message)
}

// =============================================================================
// REDEEM
// =============================================================================

func TestRedeem_Success(t *testing.T) {
	// GIVEN: U1 with 0 points and token T1 worth 25
	// WHEN: POST /api/redeem {qr_token: T1}
	// THEN: 200 with points_added 25, new_balance 25

	s := newTestServer(t)
	s.user("U1", 0)
	v := int64(25)
	require.NoError(t, s.store.SaveToken(context.Background(), points.QrToken{ID: "T1", Status: points.TokenActive, PointsValue: &v}))

	rec := s.do(http.MethodPost, "/api/redeem", "U1", RedeemRequest{QRToken: "T1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[RedeemResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(25), resp.PointsAdded)
	assert.Equal(t, int64(25), resp.NewBalance)
	assert.Equal(t, "T1", resp.QRToken)
	assert.Equal(t, "2025-06-15T14:30:00.000Z", resp.RedeemedAt)
}

func TestRedeem_Errors(t *testing.T) {
	past := testNow.Add(-time.Minute)
	negative := int64(-5)

	tests := []struct {
		name   string
		token  *points.QrToken
		body   any
		status int
		code   points.Code
	}{
		{"missing token field", nil, map[string]string{}, http.StatusBadRequest, points.CodeTokenRequired},
		{"blank token", nil, RedeemRequest{QRToken: "  "}, http.StatusBadRequest, points.CodeTokenRequired},
		{"malformed body", nil, "{not json", http.StatusBadRequest, points.CodeTokenRequired},
		{"unknown token", nil, RedeemRequest{QRToken: "T1"}, http.StatusBadRequest, points.CodeTokenNotFound},
		{"used token", &points.QrToken{ID: "T1", Status: points.TokenRedeemed}, RedeemRequest{QRToken: "T1"}, http.StatusBadRequest, points.CodeTokenAlreadyUsed},
		{"expired token", &points.QrToken{ID: "T1", Status: points.TokenActive, ExpiresAt: &past}, RedeemRequest{QRToken: "T1"}, http.StatusBadRequest, points.CodeTokenExpired},
		{"negative token value", &points.QrToken{ID: "T1", Status: points.TokenActive, PointsValue: &negative}, RedeemRequest{QRToken: "T1"}, http.StatusBadRequest, points.CodeInvalidPointsValue},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			s.user("U1", 0)
			if tc.token != nil {
				require.NoError(t, s.store.SaveToken(context.Background(), *tc.token))
			}
			rec := s.do(http.MethodPost, "/api/redeem", "U1", tc.body)
			assertError(t, rec, tc.status, tc.code)
		})
	}
}

func TestRedeem_UnknownUserIsDuplicateRedeem(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.SaveToken(context.Background(), points.QrToken{ID: "T1", Status: points.TokenActive}))

	rec := s.do(http.MethodPost, "/api/redeem", "ghost", RedeemRequest{QRToken: "T1"})
	assertError(t, rec, http.StatusBadRequest, points.CodeDuplicateRedeem)
}

func TestRedeem_UnauthenticatedBeforeValidation(t *testing.T) {
	// GIVEN: No identity and an empty body
	// THEN: 401 UNAUTHORIZED wins over QR_TOKEN_REQUIRED

	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/redeem", "", nil)
	assertError(t, rec, http.StatusUnauthorized, points.CodeUnauthorized)
}

func TestRedeem_IdempotencyKeyReplays(t *testing.T) {
	s := newTestServer(t)
	s.user("U1", 0)
	require.NoError(t, s.store.SaveToken(context.Background(), points.QrToken{ID: "T1", Status: points.TokenActive}))

	first := s.do(http.MethodPost, "/api/redeem", "U1", RedeemRequest{QRToken: "T1"}, "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))

	again := s.do(http.MethodPost, "/api/redeem", "U1", RedeemRequest{QRToken: "T1"}, "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusOK, again.Code, again.Body.String())
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int64(10), decode[RedeemResponse](t, again).NewBalance)

	// Without the key a retry is a plain second attempt.
	third := s.do(http.MethodPost, "/api/redeem", "U1", RedeemRequest{QRToken: "T1"})
	assertError(t, third, http.StatusBadRequest, points.CodeTokenAlreadyUsed)
}

// =============================================================================
// EXCHANGE
// =============================================================================

func TestExchange_Success(t *testing.T) {
	// GIVEN: U1 with 50, reward R1 cost 30 stock 1
	// WHEN: POST /api/rewards/R1/exchange
	// THEN: 200 with points_used 30, new_balance 20, status completed

	s := newTestServer(t)
	s.user("U1", 50)
	stock := int64(1)
	require.NoError(t, s.store.SaveReward(context.Background(), points.Reward{ID: "R1", Name: "Tote bag", PointsCost: 30, StockCount: &stock, IsActive: true}))

	rec := s.do(http.MethodPost, "/api/rewards/R1/exchange", "U1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ExchangeResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "R1", resp.RewardID)
	assert.Equal(t, "Tote bag", resp.RewardName)
	assert.Equal(t, int64(30), resp.PointsUsed)
	assert.Equal(t, int64(20), resp.NewBalance)
	assert.True(t, strings.HasPrefix(resp.ExchangeID, "txn_"))
	assert.Equal(t, "completed", resp.Status)

	// Stock is now exhausted.
	rec = s.do(http.MethodPost, "/api/rewards/R1/exchange", "U1", nil)
	assertError(t, rec, http.StatusBadRequest, points.CodeRewardOutOfStock)
}

func TestExchange_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	s.user("U1", 10)
	stock := int64(5)
	require.NoError(t, s.store.SaveReward(context.Background(), points.Reward{ID: "R1", Name: "x", PointsCost: 30, StockCount: &stock, IsActive: true}))
	require.NoError(t, s.store.SaveReward(context.Background(), points.Reward{ID: "off", Name: "x", PointsCost: 1, IsActive: false}))

	assertError(t, s.do(http.MethodPost, "/api/rewards/nope/exchange", "U1", nil), http.StatusNotFound, points.CodeRewardNotFound)
	assertError(t, s.do(http.MethodPost, "/api/rewards/R1/exchange", "ghost", nil), http.StatusNotFound, points.CodeUserNotFound)
	assertError(t, s.do(http.MethodPost, "/api/rewards/R1/exchange", "U1", nil), http.StatusBadRequest, points.CodeInsufficientPoints)
	assertError(t, s.do(http.MethodPost, "/api/rewards/off/exchange", "U1", nil), http.StatusBadRequest, points.CodeRewardInactive)
	assertError(t, s.do(http.MethodPost, "/api/rewards/R1/exchange", "", nil), http.StatusUnauthorized, points.CodeUnauthorized)
}

func TestExchange_PerUserLimit(t *testing.T) {
	s := newTestServer(t)
	s.user("U1", 100)
	one, stock := 1, int64(10)
	require.NoError(t, s.store.SaveReward(context.Background(), points.Reward{ID: "R1", Name: "x", PointsCost: 10, StockCount: &stock, IsActive: true, RedemptionLimitPerUser: &one}))

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/rewards/R1/exchange", "U1", nil).Code)
	assertError(t, s.do(http.MethodPost, "/api/rewards/R1/exchange", "U1", nil), http.StatusBadRequest, points.CodeRedemptionLimitReached)
}

// =============================================================================
// ACCOUNT
// =============================================================================

func TestMe_BalanceAndTransactions(t *testing.T) {
	s := newTestServer(t)
	s.user("U1", 40)
	for _, id := range []points.TokenID{"T1", "T2", "T3"} {
		require.NoError(t, s.store.SaveToken(context.Background(), points.QrToken{ID: id, Status: points.TokenIssued}))
		require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/redeem", "U1", RedeemRequest{QRToken: string(id)}).Code)
	}

	bal := decode[BalanceResponse](t, s.do(http.MethodGet, "/api/me/balance", "U1", nil))
	assert.Equal(t, int64(70), bal.PointsBalance)

	page1 := decode[TransactionsResponse](t, s.do(http.MethodGet, "/api/me/transactions?limit=2", "U1", nil))
	require.Len(t, page1.Transactions, 2)
	assert.Equal(t, "adjustment", page1.Transactions[0].Type)
	require.NotEmpty(t, page1.NextCursor)

	page2 := decode[TransactionsResponse](t, s.do(http.MethodGet, "/api/me/transactions?limit=2&cursor="+page1.NextCursor, "U1", nil))
	require.Len(t, page2.Transactions, 2)
	assert.Equal(t, "earn", page2.Transactions[1].Type)
	assert.Equal(t, int64(70), page2.Transactions[1].PointsAfter)

	assertError(t, s.do(http.MethodGet, "/api/me/transactions?limit=abc", "U1", nil), http.StatusBadRequest, points.CodeInvalidRequest)
	assertError(t, s.do(http.MethodGet, "/api/me/balance", "ghost", nil), http.StatusNotFound, points.CodeUserNotFound)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAdmin_RequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	s.user("U1", 0)

	rec := s.do(http.MethodPost, "/api/admin/adjustments", "U1", AdjustmentRequest{UserID: "U1", Points: 5})
	assertError(t, rec, http.StatusForbidden, points.CodeForbidden)
}

func TestAdmin_AdjustmentAndAudit(t *testing.T) {
	s := newTestServer(t)
	s.user("U1", 0)

	rec := s.do(http.MethodPost, "/api/admin/adjustments", "ops", AdjustmentRequest{UserID: "U1", Points: 15, Reason: "goodwill"}, "X-Admin", "true")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	adj := decode[AdjustmentResponse](t, rec)
	assert.Equal(t, int64(15), adj.NewBalance)

	rec = s.do(http.MethodPost, "/api/admin/adjustments", "ops", AdjustmentRequest{UserID: "U1", Points: -100}, "X-Admin", "true")
	assertError(t, rec, http.StatusBadRequest, points.CodeInsufficientPoints)

	rec = s.do(http.MethodPost, "/api/admin/adjustments", "ops", AdjustmentRequest{UserID: "U1"}, "X-Admin", "true")
	assertError(t, rec, http.StatusBadRequest, points.CodeInvalidRequest)

	summary := decode[points.AuditSummary](t, s.do(http.MethodGet, "/api/admin/audit", "ops", nil, "X-Admin", "true"))
	assert.Equal(t, 1, summary.Users)
	assert.Empty(t, summary.Inconsistent)

	report := decode[points.AuditReport](t, s.do(http.MethodGet, "/api/admin/audit?user_id=U1", "ops", nil, "X-Admin", "true"))
	assert.Equal(t, int64(15), report.Balance)
	assert.Equal(t, int64(15), report.LedgerSum)
}

func TestHealthz_NoAuth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// STATUS MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{points.ErrTokenRequired, http.StatusBadRequest},
		{points.ErrTokenNotFound, http.StatusBadRequest},
		{points.ErrDuplicateRedeem, http.StatusBadRequest},
		{points.ErrConditionFailed, http.StatusBadRequest},
		{points.ErrRewardNotFound, http.StatusNotFound},
		{points.ErrUserNotFound, http.StatusNotFound},
		{points.ErrUnauthorized, http.StatusUnauthorized},
		{points.ErrForbidden, http.StatusForbidden},
		{&points.InsufficientPointsError{Available: 1, Required: 2}, http.StatusBadRequest},
		{&points.LimitReachedError{Daily: true}, http.StatusBadRequest},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), "%v", tc.err)
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	s := newTestServer(t)
	h := NewHandler(s.coord, s.store, logging.Discard())
	rec := httptest.NewRecorder()
	h.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error)
	assert.NotContains(t, resp.Message, assert.AnError.Error())
}
