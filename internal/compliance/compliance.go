// Package compliance defines the external collaborator contracts the
// trading core consumes. Real implementations live outside this service;
// the permissive defaults here keep the core runnable without them.
package compliance

import (
	"context"

	"github.com/predex/trading-core/internal/fault"
)

// Action is an AML monitor's suggested disposition for a trade.
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionReview Action = "REVIEW"
	ActionBlock  Action = "BLOCK"
)

// Gate gates trading actions on compliance status. It must return nil
// before trade orchestration begins.
type Gate interface {
	ValidateTradingAction(ctx context.Context, userID string) error
}

// Assessment is the AML monitor's verdict for a prospective trade.
type Assessment struct {
	SuggestedAction Action  `json:"suggested_action"`
	RiskScore       float64 `json:"risk_score"`
}

// TradeContext carries the facts the monitor assesses.
type TradeContext struct {
	UserID        string
	MarketID      string
	NotionalCents int64
	Context       map[string]string
}

// Monitor assesses trades for AML risk. BLOCK aborts the trade before any
// mutation; REVIEW is logged and the trade proceeds.
type Monitor interface {
	AssessTrade(ctx context.Context, tc TradeContext) (Assessment, error)
}

// AllowAllGate is the default Gate: every user may trade.
type AllowAllGate struct{}

func (AllowAllGate) ValidateTradingAction(ctx context.Context, userID string) error { return nil }

// AllowAllMonitor is the default Monitor: every trade is allowed with zero
// risk score.
type AllowAllMonitor struct{}

func (AllowAllMonitor) AssessTrade(ctx context.Context, tc TradeContext) (Assessment, error) {
	return Assessment{SuggestedAction: ActionAllow}, nil
}

// BlockedGate rejects a fixed set of users. Useful in tests and as a
// reference for wiring a real gate.
type BlockedGate struct {
	Blocked map[string]bool
}

func (g BlockedGate) ValidateTradingAction(ctx context.Context, userID string) error {
	if g.Blocked[userID] {
		return fault.New(fault.CodeValidation, "user %s is not permitted to trade", userID)
	}
	return nil
}
