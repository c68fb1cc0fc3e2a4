/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes the Transaction Coordinator over REST. Handlers parse the request,
  take the caller from the authenticated Identity, delegate to the domain and
  render the result. They hold no business rules.

ENDPOINTS:
  Points:
    POST   /api/redeem                          Earn points from a QR token
    POST   /api/rewards/{reward_id}/exchange    Spend points on a reward

  Account:
    GET    /api/me/balance                      Current balance
    GET    /api/me/transactions                 Ledger history (?cursor=&limit=)

  Admin:
    POST   /api/admin/adjustments               Manual credit/debit
    GET    /api/admin/audit                     Balance vs ledger reconciliation (?user_id=)

  Ops:
    GET    /healthz                             Store reachability

IDEMPOTENCY:
  An Idempotency-Key header on redeem/exchange/adjustments becomes the
  transaction id. A retry with the same key returns the original result with
  the Idempotent-Replayed: true header instead of applying twice.

ERROR HANDLING:
  See errors.go. Every failure is {error: CODE, message}.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/recycle-points/points"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Coordinator *points.Coordinator
	Store       points.AdminStore
	Auditor     *points.Auditor
	Log         logrus.FieldLogger
}

// NewHandler creates a handler around coord and its store.
func NewHandler(coord *points.Coordinator, store points.AdminStore, log logrus.FieldLogger) *Handler {
	return &Handler{
		Coordinator: coord,
		Store:       store,
		Auditor:     points.NewAuditor(store, log),
		Log:         log,
	}
}

func (h *Handler) caller(r *http.Request) points.UserID {
	id, _ := IdentityFrom(r.Context())
	return id.UserID
}

func idempotencyKey(r *http.Request) points.TransactionID {
	return points.TransactionID(strings.TrimSpace(r.Header.Get(headerIdempotencyKey)))
}

// =============================================================================
// POINTS
// =============================================================================

// Redeem handles POST /api/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	// A missing or unparsable body is treated as an empty one.
	_ = json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req)

	token := strings.TrimSpace(req.QRToken)
	if token == "" {
		h.writeError(w, r, points.ErrTokenRequired)
		return
	}

	res, err := h.Coordinator.ApplyTransaction(r.Context(), points.Earn{
		UserID:        h.caller(r),
		TokenID:       points.TokenID(token),
		TransactionID: idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	markReplayed(w, res)
	writeJSON(w, http.StatusOK, toRedeemResponse(res))
}

// ExchangeReward handles POST /api/rewards/{reward_id}/exchange.
func (h *Handler) ExchangeReward(w http.ResponseWriter, r *http.Request) {
	rewardID := strings.TrimSpace(chi.URLParam(r, "reward_id"))
	if rewardID == "" {
		h.writeError(w, r, points.ErrRewardNotFound)
		return
	}

	res, err := h.Coordinator.ApplyTransaction(r.Context(), points.Spend{
		UserID:        h.caller(r),
		RewardID:      points.RewardID(rewardID),
		TransactionID: idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	markReplayed(w, res)
	writeJSON(w, http.StatusOK, toExchangeResponse(res))
}

// =============================================================================
// ACCOUNT
// =============================================================================

// GetBalance handles GET /api/me/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.GetUser(r.Context(), h.caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil {
		h.writeError(w, r, points.ErrUserNotFound)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		UserID:        string(user.ID),
		PointsBalance: user.PointsBalance,
		UpdatedAt:     timestamp(user.UpdatedAt),
	})
}

// GetTransactions handles GET /api/me/transactions.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeError(w, r, points.ErrInvalidRequest)
			return
		}
		limit = min(n, maxPageSize)
	}

	page, err := h.Store.ScanLedger(r.Context(),
		points.LedgerFilter{UserID: h.caller(r)},
		points.Page{Cursor: r.URL.Query().Get("cursor"), Limit: limit})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := TransactionsResponse{Transactions: make([]TransactionDTO, 0, len(page.Entries)), NextCursor: page.NextCursor}
	for _, e := range page.Entries {
		resp.Transactions = append(resp.Transactions, toTransactionDTO(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ADMIN
// =============================================================================

// CreateAdjustment handles POST /api/admin/adjustments.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		h.writeError(w, r, points.ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.UserID) == "" || req.Points == 0 {
		h.writeError(w, r, points.ErrInvalidRequest)
		return
	}

	admin, _ := IdentityFrom(r.Context())
	reference := req.Reference
	if reference == "" {
		reference = "admin:" + string(admin.UserID)
	}

	res, err := h.Coordinator.ApplyTransaction(r.Context(), points.Adjust{
		UserID:        points.UserID(strings.TrimSpace(req.UserID)),
		Points:        req.Points,
		Reference:     reference,
		Reason:        req.Reason,
		TransactionID: idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	markReplayed(w, res)
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, AdjustmentResponse{
		TransactionID: string(res.TransactionID),
		UserID:        string(res.UserID),
		PointsChange:  res.PointsChange,
		NewBalance:    res.NewBalance,
		CreatedAt:     timestamp(res.At),
	})
}

// Audit handles GET /api/admin/audit. With ?user_id= it audits one user,
// otherwise everyone.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	if user := r.URL.Query().Get("user_id"); user != "" {
		report, err := h.Auditor.Audit(r.Context(), points.UserID(user))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	summary, err := h.Auditor.AuditAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.Log.WithError(err).Error("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func markReplayed(w http.ResponseWriter, res *points.Result) {
	if res.Replayed {
		w.Header().Set(headerReplayed, "true")
	}
}
