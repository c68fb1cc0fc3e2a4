/*
Package seed loads demo fixtures into a store.

PURPOSE:
  Populates an empty (or existing) database with users, QR tokens and
  rewards for local development and demos.

DOCUMENT FORMAT (YAML):

	users:
	  - id: alice
	    opening_balance: 50
	tokens:
	  - id: QR-0001
	    status: active
	    points_value: 25
	    expires_at: 2030-01-01T00:00:00Z
	    location_id: station-1
	rewards:
	  - id: tote-bag
	    name: Tote bag
	    points_cost: 30
	    stock_count: 10
	    is_active: true
	    redemption_limit_per_user: 1

HOW APPLY WORKS:
 1. Create users (existing users keep their balance)
 2. Post each opening_balance as an adjustment with a fixed transaction
    id, so applying the same file twice credits once
 3. Insert tokens and rewards that do not exist yet

Existing tokens and rewards are never touched: a redeemed token stays
redeemed and consumed stock stays consumed when the server restarts with
the same -seed file. Edit them with the store's admin methods instead.
*/
package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/warp/recycle-points/points"
	"gopkg.in/yaml.v3"
)

// Fixtures is a seed document.
type Fixtures struct {
	Users   []User   `yaml:"users"`
	Tokens  []Token  `yaml:"tokens"`
	Rewards []Reward `yaml:"rewards"`
}

type User struct {
	ID             string `yaml:"id"`
	OpeningBalance int64  `yaml:"opening_balance"`
}

type Token struct {
	ID          string     `yaml:"id"`
	Status      string     `yaml:"status"`
	PointsValue *int64     `yaml:"points_value"`
	ExpiresAt   *time.Time `yaml:"expires_at"`
	LocationID  string     `yaml:"location_id"`
}

type Reward struct {
	ID                     string     `yaml:"id"`
	Name                   string     `yaml:"name"`
	PointsCost             int64      `yaml:"points_cost"`
	StockCount             *int64     `yaml:"stock_count"`
	IsActive               bool       `yaml:"is_active"`
	RedeemableFrom         *time.Time `yaml:"redeemable_from"`
	RedeemableUntil        *time.Time `yaml:"redeemable_until"`
	RedemptionLimitPerUser *int       `yaml:"redemption_limit_per_user"`
	RedemptionLimitPerDay  *int       `yaml:"redemption_limit_per_day"`
}

// Load reads and validates a fixtures file.
func Load(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a fixtures document.
func Parse(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks ids and amounts.
func (f *Fixtures) Validate() error {
	for i, u := range f.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if u.OpeningBalance < 0 {
			return fmt.Errorf("users[%d]: opening_balance must not be negative", i)
		}
	}
	for i, t := range f.Tokens {
		if t.ID == "" {
			return fmt.Errorf("tokens[%d]: id is required", i)
		}
		if t.PointsValue != nil && *t.PointsValue <= 0 {
			return fmt.Errorf("tokens[%d]: points_value must be positive", i)
		}
	}
	for i, r := range f.Rewards {
		if r.ID == "" {
			return fmt.Errorf("rewards[%d]: id is required", i)
		}
		if r.StockCount != nil && *r.StockCount < 0 {
			return fmt.Errorf("rewards[%d]: stock_count must not be negative", i)
		}
	}
	return nil
}

// OpeningTransactionID is the fixed id of a user's seeded opening balance.
func OpeningTransactionID(user string) points.TransactionID {
	return points.TransactionID("seed-opening-" + user)
}

// Apply writes the fixtures. Opening balances go through coord so every
// point has a ledger entry.
func Apply(ctx context.Context, store points.AdminStore, coord *points.Coordinator, f *Fixtures) error {
	for _, u := range f.Users {
		if err := store.CreateUser(ctx, points.UserID(u.ID)); err != nil {
			return fmt.Errorf("create user %s: %w", u.ID, err)
		}
		if u.OpeningBalance == 0 {
			continue
		}
		_, err := coord.Adjust(ctx, points.Adjust{
			UserID:        points.UserID(u.ID),
			Points:        u.OpeningBalance,
			Reference:     "seed",
			Reason:        "opening balance",
			TransactionID: OpeningTransactionID(u.ID),
		})
		if err != nil {
			return fmt.Errorf("opening balance for %s: %w", u.ID, err)
		}
	}

	for _, t := range f.Tokens {
		existing, err := store.GetToken(ctx, points.TokenID(t.ID))
		if err != nil {
			return fmt.Errorf("read token %s: %w", t.ID, err)
		}
		if existing != nil {
			continue
		}
		status := points.TokenStatus(t.Status)
		if status == "" {
			status = points.TokenIssued
		}
		token := points.QrToken{
			ID:          points.TokenID(t.ID),
			Status:      status,
			PointsValue: t.PointsValue,
			ExpiresAt:   t.ExpiresAt,
			LocationID:  points.LocationID(t.LocationID),
		}
		if err := store.SaveToken(ctx, token); err != nil {
			return fmt.Errorf("save token %s: %w", t.ID, err)
		}
	}

	for _, r := range f.Rewards {
		existing, err := store.GetReward(ctx, points.RewardID(r.ID))
		if err != nil {
			return fmt.Errorf("read reward %s: %w", r.ID, err)
		}
		if existing != nil {
			continue
		}
		reward := points.Reward{
			ID:                     points.RewardID(r.ID),
			Name:                   r.Name,
			PointsCost:             r.PointsCost,
			StockCount:             r.StockCount,
			IsActive:               r.IsActive,
			RedeemableFrom:         r.RedeemableFrom,
			RedeemableUntil:        r.RedeemableUntil,
			RedemptionLimitPerUser: r.RedemptionLimitPerUser,
			RedemptionLimitPerDay:  r.RedemptionLimitPerDay,
		}
		if err := store.SaveReward(ctx, reward); err != nil {
			return fmt.Errorf("save reward %s: %w", r.ID, err)
		}
	}
	return nil
}
