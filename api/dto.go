/*
dto.go - Request and response bodies

NAMING CONVENTION:
  - *Request:  bodies sent by clients
  - *Response: bodies returned to clients
  - *DTO:      nested records inside responses

TIMESTAMPS:
  UTC, millisecond precision, "Z" suffix (2025-06-15T14:30:00.000Z).

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/recycle-points/points"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// =============================================================================
// REDEEM / EXCHANGE
// =============================================================================

// RedeemRequest is the body of POST /api/redeem.
type RedeemRequest struct {
	QRToken string `json:"qr_token"`
}

// RedeemResponse is returned for a successful earn.
type RedeemResponse struct {
	Success     bool   `json:"success"`
	PointsAdded int64  `json:"points_added"`
	NewBalance  int64  `json:"new_balance"`
	QRToken     string `json:"qr_token"`
	RedeemedAt  string `json:"redeemed_at"`
}

// ExchangeResponse is returned for a successful reward exchange.
type ExchangeResponse struct {
	Success     bool   `json:"success"`
	RewardID    string `json:"reward_id"`
	RewardName  string `json:"reward_name"`
	PointsUsed  int64  `json:"points_used"`
	NewBalance  int64  `json:"new_balance"`
	ExchangeID  string `json:"exchange_id"`
	ExchangedAt string `json:"exchanged_at"`
	Status      string `json:"status"`
}

func toRedeemResponse(res *points.Result) RedeemResponse {
	return RedeemResponse{
		Success:     true,
		PointsAdded: res.PointsChange,
		NewBalance:  res.NewBalance,
		QRToken:     string(res.TokenID),
		RedeemedAt:  timestamp(res.At),
	}
}

func toExchangeResponse(res *points.Result) ExchangeResponse {
	return ExchangeResponse{
		Success:     true,
		RewardID:    string(res.RewardID),
		RewardName:  res.RewardName,
		PointsUsed:  -res.PointsChange,
		NewBalance:  res.NewBalance,
		ExchangeID:  string(res.TransactionID),
		ExchangedAt: timestamp(res.At),
		Status:      "completed",
	}
}

// =============================================================================
// ACCOUNT
// =============================================================================

// BalanceResponse is returned by GET /api/me/balance.
type BalanceResponse struct {
	UserID        string `json:"user_id"`
	PointsBalance int64  `json:"points_balance"`
	UpdatedAt     string `json:"updated_at"`
}

// TransactionDTO is one ledger entry.
type TransactionDTO struct {
	TransactionID   string `json:"transaction_id"`
	Type            string `json:"transaction_type"`
	PointsChange    int64  `json:"points_change"`
	PointsBefore    int64  `json:"points_before"`
	PointsAfter     int64  `json:"points_after"`
	SourceReference string `json:"source_reference,omitempty"`
	LocationID      string `json:"location_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// TransactionsResponse is one page of a user's ledger.
type TransactionsResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
	NextCursor   string           `json:"next_cursor,omitempty"`
}

func toTransactionDTO(e points.LedgerEntry) TransactionDTO {
	return TransactionDTO{
		TransactionID:   string(e.TransactionID),
		Type:            string(e.Type),
		PointsChange:    e.PointsChange,
		PointsBefore:    e.PointsBefore,
		PointsAfter:     e.PointsAfter,
		SourceReference: e.SourceReference,
		LocationID:      string(e.LocationID),
		Reason:          e.Reason,
		CreatedAt:       timestamp(e.CreatedAt),
	}
}

// =============================================================================
// ADMIN
// =============================================================================

// AdjustmentRequest is the body of POST /api/admin/adjustments.
type AdjustmentRequest struct {
	UserID    string `json:"user_id"`
	Points    int64  `json:"points"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

// AdjustmentResponse reports an applied adjustment.
type AdjustmentResponse struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	PointsChange  int64  `json:"points_change"`
	NewBalance    int64  `json:"new_balance"`
	CreatedAt     string `json:"created_at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
