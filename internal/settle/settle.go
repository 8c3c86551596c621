// Package settle pays out resolved markets and refunds cancelled ones.
// Settlement is re-runnable: every payout posts under a deterministic
// transaction key, so a crash mid-settlement resumes from where it
// stopped without paying anyone twice.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/predex/trading-core/internal/fault"
	"github.com/predex/trading-core/internal/ledger"
	"github.com/predex/trading-core/internal/metrics"
	"github.com/predex/trading-core/internal/model"
	"github.com/predex/trading-core/internal/store"
)

const (
	// payoutCentsPerShare is the fixed redemption value of a winning share.
	payoutCentsPerShare = 100

	entrySettlementPayout = "SETTLEMENT_PAYOUT"
	entryCancelRefund     = "CANCEL_REFUND"

	defaultConcurrency = 4
)

// Summary reports what one settlement run did. Replayed payouts (keys
// already consumed by an earlier run) are excluded from the totals.
type Summary struct {
	MarketID         string `json:"market_id"`
	TotalWinners     int    `json:"total_winners"`
	TotalPayoutCents int64  `json:"total_payout_cents"`
}

// Engine settles markets against the ledger.
type Engine struct {
	store       store.Store
	ledger      *ledger.Service
	currency    string
	concurrency int
}

// NewEngine creates a settlement engine.
func NewEngine(st store.Store, lg *ledger.Service, currency string) *Engine {
	return &Engine{store: st, ledger: lg, currency: currency, concurrency: defaultConcurrency}
}

// SettleMarket pays every winner of a RESOLVED market 100 cents per
// winning share out of custody, or refunds cost basis for a CANCELLED
// market. Each user's payout is its own unit of work, keyed on market and
// user, so partial runs are safe to repeat.
func (e *Engine) SettleMarket(ctx context.Context, marketID string) (*Summary, error) {
	market, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.New(fault.CodeStateConflict, "market %s not found", marketID)
		}
		return nil, err
	}

	switch market.Status {
	case model.StatusResolved:
		if market.ResolvedOutcome == nil {
			return nil, fault.New(fault.CodeIntegrity, "market %s is RESOLVED without an outcome", marketID)
		}
		return e.run(ctx, market, e.payoutForWin(*market.ResolvedOutcome), entrySettlementPayout, "settle")
	case model.StatusCancelled:
		return e.run(ctx, market, payoutForRefund, entryCancelRefund, "refund")
	default:
		return nil, fault.New(fault.CodeStateConflict,
			"market %s is %s; only RESOLVED or CANCELLED markets settle", marketID, market.Status)
	}
}

// SettleMarkets settles several markets concurrently. One market failing
// cancels the rest; completed payouts stay committed and a re-run skips
// them.
func (e *Engine) SettleMarkets(ctx context.Context, marketIDs []string) ([]Summary, error) {
	summaries := make([]Summary, len(marketIDs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, id := range marketIDs {
		i, id := i, id
		g.Go(func() error {
			s, err := e.SettleMarket(ctx, id)
			if err != nil {
				return fmt.Errorf("settle market %s: %w", id, err)
			}
			summaries[i] = *s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// payoutFunc computes what a position is owed, in cents. Zero means skip.
type payoutFunc func(p model.Position) int64

func (e *Engine) payoutForWin(winner model.Outcome) payoutFunc {
	return func(p model.Position) int64 {
		shares := p.YesShares
		if winner == model.OutcomeNo {
			shares = p.NoShares
		}
		return shares.Mul(decimal.NewFromInt(payoutCentsPerShare)).Round(0).IntPart()
	}
}

// payoutForRefund returns the position's cost basis: total shares held
// times the weighted average cost per share.
func payoutForRefund(p model.Position) int64 {
	total := p.YesShares.Add(p.NoShares)
	return total.Mul(decimal.NewFromInt(p.AvgCostCents)).Round(0).IntPart()
}

func (e *Engine) run(ctx context.Context, market *model.Market, payout payoutFunc, entryType, keyPrefix string) (*Summary, error) {
	positions, err := e.store.GetPositionsByMarket(ctx, market.ID)
	if err != nil {
		return nil, err
	}
	custody, err := e.store.GetSystemAccount(ctx, model.AccountCustodyCash, e.currency)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeIntegrity, "custody account missing")
	}
	custodyLA := ledger.Account{ID: custody.ID, Type: model.AccountCustodyCash}

	summary := &Summary{MarketID: market.ID}
	start := time.Now()
	for _, pos := range positions {
		cents := payout(pos)
		if cents <= 0 {
			continue
		}

		userAcct, err := e.store.GetUserCashAccount(ctx, pos.UserID, e.currency)
		if err != nil {
			return nil, fault.Wrap(err, fault.CodeIntegrity,
				"user %s holds a position but has no cash account", pos.UserID)
		}
		userLA := ledger.Account{ID: userAcct.ID, Type: model.AccountUserCash}

		key := fmt.Sprintf("%s:%s:%s", keyPrefix, market.ID, pos.UserID)
		meta := map[string]string{"market_id": market.ID, "user_id": pos.UserID}

		var applied bool
		err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var txErr error
			applied, txErr = e.ledger.PostTransaction(ctx, tx, key,
				ledger.Transfer(custodyLA, userLA, cents, entryType, meta))
			return txErr
		})
		if err != nil {
			return nil, err
		}
		if !applied {
			continue
		}

		summary.TotalWinners++
		summary.TotalPayoutCents += cents
		metrics.SettlementPayouts.Inc()
		metrics.SettlementPayoutCents.Add(float64(cents))
	}

	slog.Info("market settled",
		"market", market.ID,
		"status", market.Status,
		"winners", summary.TotalWinners,
		"payout_cents", summary.TotalPayoutCents,
		"elapsed", time.Since(start).String(),
	)
	return summary, nil
}
