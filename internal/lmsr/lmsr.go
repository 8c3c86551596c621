// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for binary prediction markets.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker (capped at b * ln(2) for two outcomes)
//   - Continuous pricing with infinite liquidity
//   - Path-independent cost function
//
// All monetary values use shopspring/decimal — never float64 for money.
// Internal transcendental math uses the log-sum-exp trick for numerical
// stability, with results immediately converted to decimal. Conversion to
// integer cents happens once, at the money boundary, never here.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/predex/trading-core/internal/model"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// ErrInvalidShares is returned when a quote is requested for a
	// non-positive share quantity.
	ErrInvalidShares = errors.New("lmsr: share quantity must be positive")

	// ErrInvalidSeedPrice is returned when seeding outside (0, 1).
	ErrInvalidSeedPrice = errors.New("lmsr: initial price must be in (0, 1)")

	// ErrInvalidTargetPrice is returned when a depth target is outside the
	// clamp bounds.
	ErrInvalidTargetPrice = errors.New("lmsr: target price must be within price bounds")

	// MinPrice is the lowest allowed price (probability floor).
	// Prevents degenerate markets where shares become worthless.
	MinPrice = decimal.NewFromFloat(0.001)

	// MaxPrice is the highest allowed price (probability ceiling).
	// Prevents degenerate markets where outcome appears "certain".
	MaxPrice = decimal.NewFromFloat(0.999)

	// PriceScale is the number of decimal places for price/cost rounding.
	PriceScale int32 = 8
)

// MarketMaker implements the LMSR cost function for binary outcome markets.
// It is stateless — market quantities are passed as arguments, not stored.
type MarketMaker struct {
	b decimal.Decimal
}

// NewMarketMaker creates a new LMSR market maker with the given liquidity
// parameter b. Higher b → more liquidity, lower price impact per trade.
// Maximum market-maker loss is bounded by b * ln(2) for binary markets.
func NewMarketMaker(b decimal.Decimal) (*MarketMaker, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	return &MarketMaker{b: b}, nil
}

// B returns the liquidity parameter.
func (m *MarketMaker) B() decimal.Decimal {
	return m.b
}

// logSumExp computes ln(Σ exp(x_i)) using the log-sum-exp trick to prevent
// floating-point overflow. Without this trick, exp(x) overflows float64
// when x > ~709.
//
// Algorithm: LSE(x) = max(x) + ln(Σ exp(x_i - max(x)))
// Since (x_i - max(x)) <= 0, all exp arguments are in [0, 1].
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}

	maxVal := xs[0]
	for _, x := range xs[1:] {
		if x > maxVal {
			maxVal = x
		}
	}

	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}

	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

// Cost computes the LMSR cost function:
//
//	C(q) = b * ln(exp(qYes/b) + exp(qNo/b))
//
// Uses logSumExp internally for numerical stability.
func (m *MarketMaker) Cost(qYes, qNo decimal.Decimal) decimal.Decimal {
	bf := m.b.InexactFloat64()
	qy := qYes.InexactFloat64()
	qn := qNo.InexactFloat64()

	lse := logSumExp([]float64{qy / bf, qn / bf})
	cost := bf * lse

	return decimal.NewFromFloat(cost).Round(PriceScale)
}

// Price computes the instantaneous price (probability) for the given
// outcome:
//
//	p_yes = exp(qYes / b) / (exp(qYes / b) + exp(qNo / b))
//
// This is the softmax function. Uses max-subtraction for numerical
// stability. The YES result is clamped to [MinPrice, MaxPrice]; the NO
// price is defined as 1 - p_yes, so the two always sum to exactly one.
func (m *MarketMaker) Price(outcome model.Outcome, qYes, qNo decimal.Decimal) decimal.Decimal {
	if outcome == model.OutcomeNo {
		return decimal.NewFromInt(1).Sub(m.Price(model.OutcomeYes, qYes, qNo))
	}

	bf := m.b.InexactFloat64()
	qy := qYes.InexactFloat64()
	qn := qNo.InexactFloat64()

	// Softmax with numerical stability: subtract max to avoid overflow.
	yOverB := qy / bf
	nOverB := qn / bf
	maxVal := math.Max(yOverB, nOverB)

	expYes := math.Exp(yOverB - maxVal)
	expNo := math.Exp(nOverB - maxVal)

	price := expYes / (expYes + expNo)
	result := decimal.NewFromFloat(price).Round(PriceScale)

	// Clamp to bounds.
	if result.LessThan(MinPrice) {
		return MinPrice
	}
	if result.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return result
}

// QuoteResult describes the pricing of a prospective trade.
type QuoteResult struct {
	StartPrice  decimal.Decimal // outcome price before the trade
	EndPrice    decimal.Decimal // outcome price after the trade
	Cost        decimal.Decimal // C(q') - C(q); positive for buys
	AvgPrice    decimal.Decimal // cost / shares
	PriceImpact decimal.Decimal // (endPrice - startPrice) / startPrice
}

// QuoteBuy prices the purchase of shares of the given outcome against the
// state (qYes, qNo). Cost is strictly increasing and convex in shares for
// a fixed state; budget-based sizing relies on that monotonicity.
func (m *MarketMaker) QuoteBuy(outcome model.Outcome, qYes, qNo, shares decimal.Decimal) (QuoteResult, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return QuoteResult{}, ErrInvalidShares
	}
	newYes, newNo := apply(outcome, qYes, qNo, shares)

	start := m.Price(outcome, qYes, qNo)
	end := m.Price(outcome, newYes, newNo)
	cost := m.Cost(newYes, newNo).Sub(m.Cost(qYes, qNo))

	return QuoteResult{
		StartPrice:  start,
		EndPrice:    end,
		Cost:        cost,
		AvgPrice:    cost.Div(shares).Round(PriceScale),
		PriceImpact: end.Sub(start).Div(start).Round(PriceScale),
	}, nil
}

// QuoteSell prices the sale of shares of the given outcome. Proceeds are
// C(q) - C(q') and are always non-negative for positive share quantities.
func (m *MarketMaker) QuoteSell(outcome model.Outcome, qYes, qNo, shares decimal.Decimal) (QuoteResult, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return QuoteResult{}, ErrInvalidShares
	}
	newYes, newNo := apply(outcome, qYes, qNo, shares.Neg())

	start := m.Price(outcome, qYes, qNo)
	end := m.Price(outcome, newYes, newNo)
	proceeds := m.Cost(qYes, qNo).Sub(m.Cost(newYes, newNo))

	return QuoteResult{
		StartPrice:  start,
		EndPrice:    end,
		Cost:        proceeds,
		AvgPrice:    proceeds.Div(shares).Round(PriceScale),
		PriceImpact: end.Sub(start).Div(start).Round(PriceScale),
	}, nil
}

// apply returns the quantities after adding delta shares of outcome.
func apply(outcome model.Outcome, qYes, qNo, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if outcome == model.OutcomeYes {
		return qYes.Add(delta), qNo
	}
	return qYes, qNo.Add(delta)
}

// Seed derives (qYes, qNo) such that the YES price equals initialPriceYes,
// with qNo held at the zero baseline:
//
//	p = exp(qYes/b) / (exp(qYes/b) + 1)  ⇒  qYes = b * ln(p / (1-p))
//
// Used once per market before opening. A 0.5 seed yields (0, 0).
func Seed(b, initialPriceYes decimal.Decimal) (qYes, qNo decimal.Decimal, err error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, ErrInvalidLiquidity
	}
	p := initialPriceYes.InexactFloat64()
	if p <= 0 || p >= 1 {
		return decimal.Zero, decimal.Zero, ErrInvalidSeedPrice
	}

	logit := math.Log(p / (1 - p))
	qYes = decimal.NewFromFloat(b.InexactFloat64() * logit).Round(PriceScale)
	return qYes, decimal.Zero, nil
}

// Depth returns the shares of outcome that must be bought to move its
// price to targetPrice. Read-only; used for liquidity/spread reporting.
//
// For YES: price p requires (qYes - qNo)/b = ln(p/(1-p)), so
// shares = b*ln(p/(1-p)) + qNo - qYes. The NO case is symmetric.
func (m *MarketMaker) Depth(outcome model.Outcome, qYes, qNo, targetPrice decimal.Decimal) (decimal.Decimal, error) {
	if targetPrice.LessThan(MinPrice) || targetPrice.GreaterThan(MaxPrice) {
		return decimal.Zero, ErrInvalidTargetPrice
	}

	p := targetPrice.InexactFloat64()
	bf := m.b.InexactFloat64()
	logit := math.Log(p / (1 - p))

	var shares float64
	if outcome == model.OutcomeYes {
		shares = bf*logit + qNo.InexactFloat64() - qYes.InexactFloat64()
	} else {
		shares = bf*logit + qYes.InexactFloat64() - qNo.InexactFloat64()
	}
	return decimal.NewFromFloat(shares).Round(PriceScale), nil
}

// MaxLoss returns the maximum possible loss for the market maker: b * ln(2)
// for binary markets.
func (m *MarketMaker) MaxLoss() decimal.Decimal {
	bf := m.b.InexactFloat64()
	loss := bf * math.Log(2)
	return decimal.NewFromFloat(loss).Round(PriceScale)
}
