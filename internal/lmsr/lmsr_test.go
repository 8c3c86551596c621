package lmsr

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/predex/trading-core/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func almostEqual(t *testing.T, got, want decimal.Decimal, tol float64) {
	t.Helper()
	diff := got.Sub(want).Abs().InexactFloat64()
	if diff > tol {
		t.Fatalf("got %s, want %s (diff %g > tol %g)", got, want, diff, tol)
	}
}

func TestNewMarketMakerRejectsBadLiquidity(t *testing.T) {
	for _, b := range []string{"0", "-1"} {
		if _, err := NewMarketMaker(d(b)); err != ErrInvalidLiquidity {
			t.Errorf("b=%s: expected ErrInvalidLiquidity, got %v", b, err)
		}
	}
}

func TestCostAtSeedState(t *testing.T) {
	mm, _ := NewMarketMaker(d("100"))

	// C(0,0) = b * ln(2)
	want := 100 * math.Log(2)
	almostEqual(t, mm.Cost(decimal.Zero, decimal.Zero), decimal.NewFromFloat(want), 1e-6)
}

func TestBuyTenYesFromEvenMarket(t *testing.T) {
	mm, _ := NewMarketMaker(d("100"))

	q, err := mm.QuoteBuy(model.OutcomeYes, decimal.Zero, decimal.Zero, d("10"))
	if err != nil {
		t.Fatal(err)
	}

	// C(10,0) - C(0,0) = 100*ln(e^0.1 + 1) - 100*ln(2)
	want := 100*math.Log(math.Exp(0.1)+1) - 100*math.Log(2)
	almostEqual(t, q.Cost, decimal.NewFromFloat(want), 1e-6)

	almostEqual(t, q.StartPrice, d("0.5"), 1e-9)
	if !q.EndPrice.GreaterThan(q.StartPrice) {
		t.Errorf("buying YES must raise the YES price: start %s end %s", q.StartPrice, q.EndPrice)
	}
	if !q.AvgPrice.GreaterThan(q.StartPrice) || !q.AvgPrice.LessThan(q.EndPrice) {
		t.Errorf("avg price %s must lie between start %s and end %s", q.AvgPrice, q.StartPrice, q.EndPrice)
	}
}

func TestPricesSumToOne(t *testing.T) {
	mm, _ := NewMarketMaker(d("50"))

	states := [][2]string{
		{"0", "0"}, {"10", "0"}, {"0", "10"}, {"123.45", "67.89"}, {"500", "3"},
	}
	for _, s := range states {
		yes := mm.Price(model.OutcomeYes, d(s[0]), d(s[1]))
		no := mm.Price(model.OutcomeNo, d(s[0]), d(s[1]))
		sum := yes.Add(no)
		if sum.Sub(decimal.NewFromInt(1)).Abs().InexactFloat64() > 1e-9 {
			t.Errorf("state %v: prices sum to %s, want 1", s, sum)
		}
	}
}

func TestCostStrictlyIncreasingInShares(t *testing.T) {
	mm, _ := NewMarketMaker(d("100"))

	prev := decimal.Zero
	for _, shares := range []string{"0.01", "1", "5", "10", "50", "200"} {
		q, err := mm.QuoteBuy(model.OutcomeYes, d("20"), d("5"), d(shares))
		if err != nil {
			t.Fatal(err)
		}
		if !q.Cost.GreaterThan(prev) {
			t.Fatalf("cost %s for %s shares not greater than %s", q.Cost, shares, prev)
		}
		prev = q.Cost
	}
}

func TestPathIndependence(t *testing.T) {
	mm, _ := NewMarketMaker(d("100"))

	// Buying 10 then 5 must cost the same as buying 15 at once.
	first, _ := mm.QuoteBuy(model.OutcomeYes, decimal.Zero, decimal.Zero, d("10"))
	second, _ := mm.QuoteBuy(model.OutcomeYes, d("10"), decimal.Zero, d("5"))
	atOnce, _ := mm.QuoteBuy(model.OutcomeYes, decimal.Zero, decimal.Zero, d("15"))

	almostEqual(t, first.Cost.Add(second.Cost), atOnce.Cost, 1e-6)
}

func TestQuoteSellInvertsBuy(t *testing.T) {
	mm, _ := NewMarketMaker(d("100"))

	buy, _ := mm.QuoteBuy(model.OutcomeYes, decimal.Zero, decimal.Zero, d("10"))
	sell, _ := mm.QuoteSell(model.OutcomeYes, d("10"), decimal.Zero, d("10"))

	almostEqual(t, sell.Cost, buy.Cost, 1e-6)
	if sell.Cost.IsNegative() {
		t.Errorf("sell proceeds must be non-negative, got %s", sell.Cost)
	}
}

func TestQuoteRejectsNonPositiveShares(t *testing.T) {
	mm, _ := NewMarketMaker(d("100"))

	if _, err := mm.QuoteBuy(model.OutcomeYes, decimal.Zero, decimal.Zero, decimal.Zero); err != ErrInvalidShares {
		t.Errorf("expected ErrInvalidShares, got %v", err)
	}
	if _, err := mm.QuoteSell(model.OutcomeNo, decimal.Zero, decimal.Zero, d("-1")); err != ErrInvalidShares {
		t.Errorf("expected ErrInvalidShares, got %v", err)
	}
}

func TestPriceClamps(t *testing.T) {
	mm, _ := NewMarketMaker(d("10"))

	// Extreme imbalance pushes the raw softmax essentially to 1.
	yes := mm.Price(model.OutcomeYes, d("1000"), decimal.Zero)
	if !yes.Equal(MaxPrice) {
		t.Errorf("expected clamp to %s, got %s", MaxPrice, yes)
	}
	no := mm.Price(model.OutcomeNo, d("1000"), decimal.Zero)
	if !no.Equal(decimal.NewFromInt(1).Sub(MaxPrice)) {
		t.Errorf("NO must be 1 - clamped YES, got %s", no)
	}
}

func TestSeed(t *testing.T) {
	qYes, qNo, err := Seed(d("100"), d("0.5"))
	if err != nil {
		t.Fatal(err)
	}
	if !qYes.IsZero() || !qNo.IsZero() {
		t.Errorf("0.5 seed must yield (0,0), got (%s,%s)", qYes, qNo)
	}

	qYes, qNo, err = Seed(d("100"), d("0.7"))
	if err != nil {
		t.Fatal(err)
	}
	mm, _ := NewMarketMaker(d("100"))
	almostEqual(t, mm.Price(model.OutcomeYes, qYes, qNo), d("0.7"), 1e-6)

	for _, p := range []string{"0", "1", "-0.2", "1.5"} {
		if _, _, err := Seed(d("100"), d(p)); err != ErrInvalidSeedPrice {
			t.Errorf("seed price %s: expected ErrInvalidSeedPrice, got %v", p, err)
		}
	}
}

func TestDepthReachesTargetPrice(t *testing.T) {
	mm, _ := NewMarketMaker(d("100"))

	shares, err := mm.Depth(model.OutcomeYes, decimal.Zero, decimal.Zero, d("0.7"))
	if err != nil {
		t.Fatal(err)
	}
	// b * ln(0.7/0.3)
	almostEqual(t, shares, decimal.NewFromFloat(100*math.Log(0.7/0.3)), 1e-6)

	after := mm.Price(model.OutcomeYes, shares, decimal.Zero)
	almostEqual(t, after, d("0.7"), 1e-6)

	if _, err := mm.Depth(model.OutcomeYes, decimal.Zero, decimal.Zero, d("0.9999")); err != ErrInvalidTargetPrice {
		t.Errorf("expected ErrInvalidTargetPrice, got %v", err)
	}
}

func TestMaxLoss(t *testing.T) {
	mm, _ := NewMarketMaker(d("100"))
	almostEqual(t, mm.MaxLoss(), decimal.NewFromFloat(100*math.Log(2)), 1e-6)
}

func TestLogSumExpStability(t *testing.T) {
	// Without max-subtraction these arguments overflow float64.
	got := logSumExp([]float64{800, 800})
	want := 800 + math.Log(2)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("logSumExp([800,800]) = %g, want %g", got, want)
	}

	if got := logSumExp(nil); !math.IsInf(got, -1) {
		t.Errorf("empty input should be -Inf, got %g", got)
	}
}
