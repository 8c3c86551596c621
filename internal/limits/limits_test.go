package limits

import (
	"testing"

	"github.com/predex/trading-core/internal/fault"
	"github.com/predex/trading-core/internal/model"
)

func TestCheckDefaults(t *testing.T) {
	l := NewTradeLimiter(10, 100_000, 1_000_000)
	market := &model.Market{ID: "m1"}

	cases := []struct {
		name     string
		notional int64
		today    int64
		wantErr  bool
	}{
		{"within bounds", 500, 0, false},
		{"at minimum", 10, 0, false},
		{"below minimum", 9, 0, true},
		{"at maximum", 100_000, 0, false},
		{"above maximum", 100_001, 0, true},
		{"fills daily budget exactly", 500, 999_500, false},
		{"exceeds daily budget", 501, 999_500, true},
	}
	for _, c := range cases {
		err := l.Check(market, c.notional, c.today)
		if c.wantErr && fault.CodeOf(err) != fault.CodeValidation {
			t.Errorf("%s: expected VALIDATION, got %v", c.name, err)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
	}
}

func TestMarketBoundsOverrideDefaults(t *testing.T) {
	l := NewTradeLimiter(10, 100_000, 0)
	market := &model.Market{ID: "m1", MinTradeCents: 100, MaxTradeCents: 1_000}

	if err := l.Check(market, 50, 0); err == nil {
		t.Error("market minimum must override the default")
	}
	if err := l.Check(market, 5_000, 0); err == nil {
		t.Error("market maximum must override the default")
	}
	if err := l.Check(market, 500, 0); err != nil {
		t.Errorf("within market bounds: %v", err)
	}
}

func TestZeroDailyBudgetDisablesCap(t *testing.T) {
	l := NewTradeLimiter(10, 0, 0)
	market := &model.Market{ID: "m1"}

	if err := l.Check(market, 10_000_000, 999_999_999); err != nil {
		t.Errorf("disabled caps must not reject: %v", err)
	}
}
