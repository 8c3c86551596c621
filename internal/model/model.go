// Package model defines the core domain types shared across the trading core.
// All monetary values are either shopspring/decimal (in-flight math) or
// int64 cents (at rest) — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Valid reports whether o is one of the two binary outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// MarketStatus is the lifecycle state of a market. Transitions are monotone:
// DRAFT → OPEN → CLOSED → RESOLVED, with CANCELLED reachable from any
// non-terminal state. RESOLVED and CANCELLED are terminal.
type MarketStatus string

const (
	StatusDraft     MarketStatus = "DRAFT"
	StatusOpen      MarketStatus = "OPEN"
	StatusClosed    MarketStatus = "CLOSED"
	StatusResolved  MarketStatus = "RESOLVED"
	StatusCancelled MarketStatus = "CANCELLED"
)

// statusRank orders lifecycle states for the monotone-transition check.
var statusRank = map[MarketStatus]int{
	StatusDraft:    0,
	StatusOpen:     1,
	StatusClosed:   2,
	StatusResolved: 3,
}

// CanTransition reports whether a market may move from its current status
// to next. Backward transitions are never allowed; terminal states accept
// no transitions at all.
func (s MarketStatus) CanTransition(next MarketStatus) bool {
	if s == StatusResolved || s == StatusCancelled {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Market is an operator-created binary prediction market.
type Market struct {
	ID                 string       `json:"id"`
	Question           string       `json:"question"`
	Status             MarketStatus `json:"status"`
	MinTradeCents      int64        `json:"min_trade_cents"`
	MaxTradeCents      int64        `json:"max_trade_cents"`
	TotalVolumeCents   int64        `json:"total_volume_cents"`
	LiquidityPoolCents int64        `json:"liquidity_pool_cents"`
	ResolvedOutcome    *Outcome     `json:"resolved_outcome,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	ResolvedAt         *time.Time   `json:"resolved_at,omitempty"`
}

// AmmState holds the LMSR state for one market. It is mutated only inside
// a trade or seeding transaction; priceYes + priceNo == 1 at all times.
type AmmState struct {
	MarketID  string          `json:"market_id"`
	B         decimal.Decimal `json:"b"` // liquidity parameter, > 0
	QYes      decimal.Decimal `json:"q_yes"`
	QNo       decimal.Decimal `json:"q_no"`
	PriceYes  decimal.Decimal `json:"price_yes"`
	PriceNo   decimal.Decimal `json:"price_no"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Position is a user's aggregate holding in one market with a weighted
// average cost basis across both sides.
type Position struct {
	UserID       string          `json:"user_id"`
	MarketID     string          `json:"market_id"`
	YesShares    decimal.Decimal `json:"yes_shares"` // ≥ 0
	NoShares     decimal.Decimal `json:"no_shares"`  // ≥ 0
	AvgCostCents int64           `json:"avg_cost_cents"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Trade is an immutable record of an executed fill. Never updated or
// deleted; the idempotency key that produced it is unique.
type Trade struct {
	ID             string          `json:"id"`
	MarketID       string          `json:"market_id"`
	UserID         string          `json:"user_id"`
	Outcome        Outcome         `json:"outcome"`
	Shares         decimal.Decimal `json:"shares"`
	FillPrice      decimal.Decimal `json:"fill_price"`
	CostCents      int64           `json:"cost_cents"`
	FeeCents       int64           `json:"fee_cents"`
	TotalCostCents int64           `json:"total_cost_cents"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AccountType classifies wallet accounts. Exactly one USER_CASH account
// exists per user per currency; exactly one of each system type globally.
type AccountType string

const (
	AccountUserCash          AccountType = "USER_CASH"
	AccountCustodyCash       AccountType = "CUSTODY_CASH"
	AccountFeeRevenue        AccountType = "FEE_REVENUE"
	AccountLiquidityPool     AccountType = "LIQUIDITY_POOL"
	AccountWithdrawalPending AccountType = "WITHDRAWAL_PENDING"
)

// System reports whether the account type is a global system account.
func (t AccountType) System() bool {
	return t != AccountUserCash
}

// WalletAccount is a balance-bearing account. UserID is nil for system
// accounts.
type WalletAccount struct {
	ID             string      `json:"id"`
	UserID         *string     `json:"user_id,omitempty"`
	Type           AccountType `json:"type"`
	Currency       string      `json:"currency"`
	AvailableCents int64       `json:"available_cents"`
	PendingCents   int64       `json:"pending_cents"`
}

// LedgerEntry is one leg of a balanced double-entry transaction group.
// The signed amounts within a group always sum to zero.
type LedgerEntry struct {
	ID               string            `json:"id"`
	TxGroupID        string            `json:"tx_group_id"`
	TxKey            string            `json:"tx_key"`
	AccountID        string            `json:"account_id"`
	CounterAccountID string            `json:"counter_account_id"`
	AmountCents      int64             `json:"amount_cents"` // signed
	EntryType        string            `json:"entry_type"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// IdempotencyRecord marks a caller-supplied key as attempted. It is the
// first insert inside a trade transaction: a rolled-back trade rolls the
// record back too, so retries after true failure remain safe, while a
// committed trade blocks replay until expiry.
type IdempotencyRecord struct {
	Key       string    `json:"key"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Quote is a short-lived signed price quote. It exists only between
// issuance and verification and is never persisted.
type Quote struct {
	MarketID   string          `json:"market_id"`
	Outcome    Outcome         `json:"outcome"`
	Shares     decimal.Decimal `json:"shares"`
	CostCents  int64           `json:"cost_cents"`
	IssuedAt   time.Time       `json:"issued_at"`
	TTLSeconds int             `json:"ttl_seconds"`
	Signature  string          `json:"signature"`
}
