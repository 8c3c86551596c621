// Package limits enforces per-trade notional bounds and the per-user daily
// traded-volume budget.
package limits

import (
	"github.com/predex/trading-core/internal/fault"
	"github.com/predex/trading-core/internal/model"
)

// TradeLimiter holds the configured default bounds. A market's own
// min/max, when set, override the defaults.
type TradeLimiter struct {
	// MinTradeCents is the smallest allowed trade notional.
	MinTradeCents int64

	// MaxTradeCents is the largest allowed trade notional.
	MaxTradeCents int64

	// DailyVolumeCents caps a user's total traded notional per UTC day.
	// Zero disables the cap.
	DailyVolumeCents int64
}

// NewTradeLimiter creates a limiter with the given default bounds.
func NewTradeLimiter(minCents, maxCents, dailyCents int64) *TradeLimiter {
	return &TradeLimiter{
		MinTradeCents:    minCents,
		MaxTradeCents:    maxCents,
		DailyVolumeCents: dailyCents,
	}
}

// Check validates a trade notional against the market's bounds and the
// user's remaining daily budget. todayVolumeCents is the sum of the user's
// trades so far today, computed inside the same transaction as the trade.
func (l *TradeLimiter) Check(market *model.Market, notionalCents, todayVolumeCents int64) error {
	minCents := l.MinTradeCents
	if market.MinTradeCents > 0 {
		minCents = market.MinTradeCents
	}
	maxCents := l.MaxTradeCents
	if market.MaxTradeCents > 0 {
		maxCents = market.MaxTradeCents
	}

	if notionalCents < minCents {
		return fault.New(fault.CodeValidation, "trade of %d cents is below the %d cent minimum", notionalCents, minCents)
	}
	if maxCents > 0 && notionalCents > maxCents {
		return fault.New(fault.CodeValidation, "trade of %d cents exceeds the %d cent maximum", notionalCents, maxCents)
	}
	if l.DailyVolumeCents > 0 && todayVolumeCents+notionalCents > l.DailyVolumeCents {
		return fault.New(fault.CodeValidation, "trade would exceed the %d cent daily volume budget", l.DailyVolumeCents)
	}
	return nil
}
