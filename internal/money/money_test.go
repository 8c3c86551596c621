package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestToCentsRoundsHalfUp(t *testing.T) {
	cases := []struct {
		dollars string
		want    int64
	}{
		{"0", 0},
		{"1", 100},
		{"10.004", 1000},
		{"10.005", 1001},
		{"10.0049999", 1000},
		{"5.1249479513", 512},
		{"5.125", 513},
	}
	for _, c := range cases {
		if got := ToCents(d(c.dollars)); got != c.want {
			t.Errorf("ToCents(%s) = %d, want %d", c.dollars, got, c.want)
		}
	}
}

func TestFromCents(t *testing.T) {
	if got := FromCents(1001); !got.Equal(d("10.01")) {
		t.Errorf("FromCents(1001) = %s, want 10.01", got)
	}
	if got := ToCents(FromCents(512)); got != 512 {
		t.Errorf("round trip lost cents: %d", got)
	}
}

func TestCentsFee(t *testing.T) {
	rate := d("0.008")
	cases := []struct {
		cost int64
		want int64
	}{
		{0, 0},
		{1000, 8},
		{512, 4},  // 4.096 rounds down
		{1063, 9}, // 8.504 rounds up
		{62, 0},   // 0.496 rounds down
		{63, 1},   // 0.504 rounds up
	}
	for _, c := range cases {
		if got := CentsFee(c.cost, rate); got != c.want {
			t.Errorf("CentsFee(%d, 0.008) = %d, want %d", c.cost, got, c.want)
		}
	}
}
