// Package trade contains the transactional core of the exchange: the
// orchestrator that validates, prices, books, and records a trade as one
// atomic unit of work, plus the HTTP handlers in service.go.
package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predex/trading-core/internal/compliance"
	"github.com/predex/trading-core/internal/fault"
	"github.com/predex/trading-core/internal/ledger"
	"github.com/predex/trading-core/internal/limits"
	"github.com/predex/trading-core/internal/lmsr"
	"github.com/predex/trading-core/internal/metrics"
	"github.com/predex/trading-core/internal/model"
	"github.com/predex/trading-core/internal/money"
	"github.com/predex/trading-core/internal/numeric"
	"github.com/predex/trading-core/internal/quote"
	"github.com/predex/trading-core/internal/store"
)

const (
	// minSharesStr is the minimum tradable increment.
	minSharesStr = "0.01"

	scopeTrade = "trade"

	entryTradePrincipal = "TRADE_PRINCIPAL"
	entryTradeFee       = "TRADE_FEE"
)

var (
	minShares       = decimal.RequireFromString(minSharesStr)
	maxSearchShares = decimal.NewFromInt(10000)
)

// Config holds the orchestrator's tunables.
type Config struct {
	FeeRate           decimal.Decimal // fraction of notional, default 0.008
	SlippageTolerance decimal.Decimal // max relative deviation from a verified quote
	Timeout           time.Duration   // wall-clock budget per trade
	IdempotencyTTL    time.Duration   // how long consumed keys block replay
	Currency          string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FeeRate:           decimal.NewFromFloat(0.008),
		SlippageTolerance: decimal.NewFromFloat(0.01),
		Timeout:           10 * time.Second,
		IdempotencyTTL:    24 * time.Hour,
		Currency:          "USD",
	}
}

// Request is a trade submission. Exactly one of Shares or MaxSpendCents
// must be set. Quote, when present, is the signed quote the client wants
// slippage protection against.
type Request struct {
	MarketID       string
	Outcome        model.Outcome
	Shares         *decimal.Decimal
	MaxSpendCents  *int64
	Quote          *model.Quote
	IdempotencyKey string
}

// Result is the post-commit view returned to the caller.
type Result struct {
	Trade    model.Trade    `json:"trade"`
	Position model.Position `json:"position"`
	Balance  BalanceResult  `json:"balance"`
	Market   MarketResult   `json:"market"`
}

// BalanceResult is the trader's cash after the fill.
type BalanceResult struct {
	CashCents int64 `json:"cash_cents"`
}

// MarketResult is the market's state after the fill.
type MarketResult struct {
	NewPriceYes    decimal.Decimal `json:"new_price_yes"`
	NewPriceNo     decimal.Decimal `json:"new_price_no"`
	NewVolumeCents int64           `json:"new_volume_cents"`
}

// Orchestrator executes trades. All collaborators are injected explicitly;
// there is no runtime container.
type Orchestrator struct {
	store   store.Store
	ledger  *ledger.Service
	quotes  *quote.Issuer
	limiter *limits.TradeLimiter
	gate    compliance.Gate
	aml     compliance.Monitor
	cfg     Config
	now     func() time.Time
}

// NewOrchestrator wires the trade orchestrator.
func NewOrchestrator(st store.Store, lg *ledger.Service, qi *quote.Issuer, lm *limits.TradeLimiter, gate compliance.Gate, aml compliance.Monitor, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:   st,
		ledger:  lg,
		quotes:  qi,
		limiter: lm,
		gate:    gate,
		aml:     aml,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteTrade runs the full trade state machine inside one unit of work
// with a hard wall-clock budget. Any failure after idempotency admission
// rolls everything back, the admission record included, so retries with
// the same key remain safe after transient failures. Only a successful
// commit consumes the key.
func (o *Orchestrator) ExecuteTrade(ctx context.Context, userID string, req Request) (*Result, error) {
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}

	// Compliance gate and AML assessment run before any state is touched.
	if err := o.gate.ValidateTradingAction(ctx, userID); err != nil {
		return nil, err
	}
	assessment, err := o.aml.AssessTrade(ctx, compliance.TradeContext{
		UserID:        userID,
		MarketID:      req.MarketID,
		NotionalCents: o.estimateNotional(ctx, req),
	})
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeIntegrity, "aml assessment failed")
	}
	switch assessment.SuggestedAction {
	case compliance.ActionBlock:
		metrics.TradesBlocked.Inc()
		return nil, fault.New(fault.CodeValidation, "trade blocked by risk controls")
	case compliance.ActionReview:
		slog.Warn("trade flagged for review",
			"user", userID, "market", req.MarketID, "risk_score", assessment.RiskScore)
	}

	// Resolve account IDs before entering the transaction; they are
	// immutable, only their balances are transactional.
	userAcct, err := o.store.GetUserCashAccount(ctx, userID, o.cfg.Currency)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.New(fault.CodeInsufficientFunds, "no cash account for user %s", userID)
		}
		return nil, err
	}
	custodyAcct, err := o.store.GetSystemAccount(ctx, model.AccountCustodyCash, o.cfg.Currency)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeIntegrity, "custody account missing")
	}
	feeAcct, err := o.store.GetSystemAccount(ctx, model.AccountFeeRevenue, o.cfg.Currency)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeIntegrity, "fee revenue account missing")
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	var res *Result
	err = o.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var txErr error
		res, txErr = o.executeInTx(ctx, tx, userID, req, userAcct, custodyAcct, feeAcct)
		return txErr
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fault.Wrap(err, fault.CodeTimeout, "trade exceeded its time budget; safe to retry")
		}
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(req.Outcome)).Inc()
	metrics.TradeLatency.WithLabelValues(string(req.Outcome)).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", res.Trade.ID,
		"user", userID,
		"market", req.MarketID,
		"outcome", req.Outcome,
		"shares", res.Trade.Shares.String(),
		"total_cost_cents", res.Trade.TotalCostCents,
		"new_price_yes", res.Market.NewPriceYes.String(),
	)
	return res, nil
}

func (o *Orchestrator) validateRequest(req Request) error {
	if req.IdempotencyKey == "" {
		return fault.New(fault.CodeValidation, "idempotency key is required")
	}
	if req.MarketID == "" {
		return fault.New(fault.CodeValidation, "market id is required")
	}
	if !req.Outcome.Valid() {
		return fault.New(fault.CodeValidation, "outcome must be YES or NO")
	}
	if (req.Shares == nil) == (req.MaxSpendCents == nil) {
		return fault.New(fault.CodeValidation, "exactly one of shares or max_spend_cents must be set")
	}
	if req.Shares != nil && req.Shares.LessThan(minShares) {
		return fault.New(fault.CodeValidation, "shares must be at least %s", minSharesStr)
	}
	if req.MaxSpendCents != nil && *req.MaxSpendCents <= 0 {
		return fault.New(fault.CodeValidation, "max_spend_cents must be positive")
	}
	return nil
}

// estimateNotional gives the AML monitor a best-effort notional figure
// without locking anything. The authoritative figure is recomputed inside
// the transaction.
func (o *Orchestrator) estimateNotional(ctx context.Context, req Request) int64 {
	if req.MaxSpendCents != nil {
		return *req.MaxSpendCents
	}
	amm, err := o.store.GetAmmState(ctx, req.MarketID)
	if err != nil {
		return 0
	}
	mm, err := lmsr.NewMarketMaker(amm.B)
	if err != nil {
		return 0
	}
	q, err := mm.QuoteBuy(req.Outcome, amm.QYes, amm.QNo, *req.Shares)
	if err != nil {
		return 0
	}
	return money.ToCents(q.Cost)
}

// executeInTx is the per-trade state machine. Step numbering follows the
// order the mutations must happen in; everything shares one transaction.
func (o *Orchestrator) executeInTx(
	ctx context.Context,
	tx store.Tx,
	userID string,
	req Request,
	userAcct, custodyAcct, feeAcct *model.WalletAccount,
) (*Result, error) {
	now := o.now()

	// 1. Idempotency admission. A duplicate here means a previous attempt
	// committed; nothing has been mutated yet, so report and stop.
	err := tx.InsertIdempotencyRecord(ctx, model.IdempotencyRecord{
		Key:       req.IdempotencyKey,
		Scope:     scopeTrade,
		ExpiresAt: now.Add(o.cfg.IdempotencyTTL),
		CreatedAt: now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			metrics.DuplicateRequests.Inc()
			return nil, fault.New(fault.CodeDuplicateRequest,
				"idempotency key already consumed; fetch the original trade instead of resubmitting")
		}
		return nil, err
	}

	// 2. Market validation under row locks. The AMM lock serializes all
	// trades on this market.
	market, err := tx.GetMarketForUpdate(ctx, req.MarketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.New(fault.CodeStateConflict, "market %s not found", req.MarketID)
		}
		return nil, err
	}
	if market.Status != model.StatusOpen {
		return nil, fault.New(fault.CodeStateConflict, "market %s is %s, not OPEN", market.ID, market.Status)
	}
	amm, err := tx.GetAmmStateForUpdate(ctx, market.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.New(fault.CodeIntegrity, "market %s has no AMM state", market.ID)
		}
		return nil, err
	}
	mm, err := lmsr.NewMarketMaker(amm.B)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeIntegrity, "market %s has invalid liquidity", market.ID)
	}

	// 4. Sizing: explicit shares, or the largest affordable quantity via
	// monotone bisection over the convex cost curve.
	shares, err := o.size(mm, amm, req)
	if err != nil {
		return nil, err
	}

	// 5. Authoritative pricing against current state, never the quote.
	priced, err := mm.QuoteBuy(req.Outcome, amm.QYes, amm.QNo, shares)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeValidation, "cannot price %s shares", shares)
	}
	costCents := money.ToCents(priced.Cost)
	feeCents := money.CentsFee(costCents, o.cfg.FeeRate)
	totalCostCents := costCents + feeCents

	// Slippage bound against a verified quote, when one was supplied.
	if req.Quote != nil {
		if err := o.checkQuote(req, costCents); err != nil {
			return nil, err
		}
	}

	// 3. Limit validation: notional bounds plus the daily volume budget,
	// summed inside this transaction so concurrent trades cannot both
	// slip under the cap.
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	todayCents, err := tx.UserDailyVolumeCents(ctx, userID, dayStart)
	if err != nil {
		return nil, err
	}
	if err := o.limiter.Check(market, totalCostCents, todayCents); err != nil {
		return nil, err
	}

	// 6. Funds check before any ledger mutation.
	lockedUser, err := tx.GetAccountForUpdate(ctx, userAcct.ID)
	if err != nil {
		return nil, err
	}
	if lockedUser.AvailableCents < totalCostCents {
		return nil, fault.New(fault.CodeInsufficientFunds,
			"balance %d cents is less than required %d cents", lockedUser.AvailableCents, totalCostCents)
	}

	// 7. Ledger postings: two balanced groups, sub-keyed off the caller's
	// idempotency key so a retried commit cannot double-post.
	meta := map[string]string{"market_id": market.ID, "user_id": userID}
	userLA := ledger.Account{ID: userAcct.ID, Type: model.AccountUserCash}
	custodyLA := ledger.Account{ID: custodyAcct.ID, Type: model.AccountCustodyCash}
	feeLA := ledger.Account{ID: feeAcct.ID, Type: model.AccountFeeRevenue}

	if _, err := o.ledger.PostTransaction(ctx, tx, req.IdempotencyKey+":principal",
		ledger.Transfer(userLA, custodyLA, totalCostCents, entryTradePrincipal, meta)); err != nil {
		return nil, err
	}
	if feeCents > 0 {
		if _, err := o.ledger.PostTransaction(ctx, tx, req.IdempotencyKey+":fee",
			ledger.Transfer(custodyLA, feeLA, feeCents, entryTradeFee, meta)); err != nil {
			return nil, err
		}
	}

	// 8. AMM update: apply shares and persist recomputed prices.
	if req.Outcome == model.OutcomeYes {
		amm.QYes = amm.QYes.Add(shares)
	} else {
		amm.QNo = amm.QNo.Add(shares)
	}
	amm.PriceYes = mm.Price(model.OutcomeYes, amm.QYes, amm.QNo)
	amm.PriceNo = mm.Price(model.OutcomeNo, amm.QYes, amm.QNo)
	amm.UpdatedAt = now
	if err := tx.UpdateAmmState(ctx, amm); err != nil {
		return nil, err
	}

	// 9. Position create-or-update with weighted average cost.
	pos, err := o.applyPosition(ctx, tx, userID, market.ID, req.Outcome, shares, costCents, now)
	if err != nil {
		return nil, err
	}

	// 10. Immutable trade record.
	trade := model.Trade{
		ID:             uuid.New().String(),
		MarketID:       market.ID,
		UserID:         userID,
		Outcome:        req.Outcome,
		Shares:         shares,
		FillPrice:      priced.AvgPrice,
		CostCents:      costCents,
		FeeCents:       feeCents,
		TotalCostCents: totalCostCents,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	if err := tx.InsertTrade(ctx, &trade); err != nil {
		return nil, err
	}

	// 11. Market volume aggregate.
	if err := tx.AddMarketVolume(ctx, market.ID, totalCostCents); err != nil {
		return nil, err
	}

	return &Result{
		Trade:    trade,
		Position: *pos,
		Balance:  BalanceResult{CashCents: lockedUser.AvailableCents - totalCostCents},
		Market: MarketResult{
			NewPriceYes:    amm.PriceYes,
			NewPriceNo:     amm.PriceNo,
			NewVolumeCents: market.TotalVolumeCents + totalCostCents,
		},
	}, nil
}

// size resolves the share quantity for the request. Budget-based sizing
// bisects over the share axis, relying on cost being strictly increasing
// in quantity for a fixed state.
func (o *Orchestrator) size(mm *lmsr.MarketMaker, amm *model.AmmState, req Request) (decimal.Decimal, error) {
	if req.Shares != nil {
		return *req.Shares, nil
	}
	budget := *req.MaxSpendCents

	search := numeric.Bisection{
		Lo:        minShares,
		Hi:        maxSearchShares,
		Tolerance: minShares,
		MaxIter:   50,
	}
	shares, err := search.MaxFeasible(func(x decimal.Decimal) (bool, error) {
		q, err := mm.QuoteBuy(req.Outcome, amm.QYes, amm.QNo, x)
		if err != nil {
			return false, err
		}
		costCents := money.ToCents(q.Cost)
		return costCents+money.CentsFee(costCents, o.cfg.FeeRate) <= budget, nil
	})
	if err != nil {
		if errors.Is(err, numeric.ErrNoFeasiblePoint) {
			return decimal.Zero, fault.New(fault.CodeValidation,
				"budget of %d cents cannot buy the minimum %s shares", budget, minSharesStr)
		}
		return decimal.Zero, err
	}
	// Round toward zero. The bisection point is feasible and cost is
	// strictly increasing, so any smaller quantity stays within budget;
	// rounding half-up could cross the boundary and overspend by a cent.
	return shares.RoundDown(2), nil
}

// checkQuote verifies the supplied quote and bounds execution slippage
// against it. A verified quote never reserves AMM state; it only caps how
// far the committed price may drift from the quoted one.
func (o *Orchestrator) checkQuote(req Request, costCents int64) error {
	q := req.Quote
	if q.MarketID != req.MarketID || q.Outcome != req.Outcome {
		return fault.New(fault.CodeValidation, "quote does not match this trade")
	}
	if req.Shares != nil && !q.Shares.Equal(*req.Shares) {
		return fault.New(fault.CodeValidation, "quote was issued for %s shares, not %s", q.Shares, req.Shares)
	}
	if err := o.quotes.Verify(q); err != nil {
		return err
	}

	quoted := decimal.NewFromInt(q.CostCents)
	if quoted.IsZero() {
		return fault.New(fault.CodeValidation, "quote has zero cost")
	}
	drift := decimal.NewFromInt(costCents).Sub(quoted).Abs().Div(quoted)
	if drift.GreaterThan(o.cfg.SlippageTolerance) {
		return fault.New(fault.CodeValidation,
			"price moved %s%% since quoting, beyond the %s%% tolerance",
			drift.Mul(decimal.NewFromInt(100)).Round(2),
			o.cfg.SlippageTolerance.Mul(decimal.NewFromInt(100)).Round(2))
	}
	return nil
}

func (o *Orchestrator) applyPosition(
	ctx context.Context,
	tx store.Tx,
	userID, marketID string,
	outcome model.Outcome,
	shares decimal.Decimal,
	costCents int64,
	now time.Time,
) (*model.Position, error) {
	pos, err := tx.GetPosition(ctx, userID, marketID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		pos = &model.Position{
			UserID:       userID,
			MarketID:     marketID,
			YesShares:    decimal.Zero,
			NoShares:     decimal.Zero,
			AvgCostCents: decimal.NewFromInt(costCents).Div(shares).Round(0).IntPart(),
		}
	case err != nil:
		return nil, err
	default:
		oldShares := pos.YesShares.Add(pos.NoShares)
		oldCost := oldShares.Mul(decimal.NewFromInt(pos.AvgCostCents))
		newCost := oldCost.Add(decimal.NewFromInt(costCents))
		pos.AvgCostCents = newCost.Div(oldShares.Add(shares)).Round(0).IntPart()
	}

	if outcome == model.OutcomeYes {
		pos.YesShares = pos.YesShares.Add(shares)
	} else {
		pos.NoShares = pos.NoShares.Add(shares)
	}
	pos.UpdatedAt = now

	if err := tx.UpsertPosition(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}
