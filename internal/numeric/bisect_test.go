package numeric

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMaxFeasibleFindsBoundary(t *testing.T) {
	b := Bisection{Lo: d("0.01"), Hi: d("10000"), Tolerance: d("0.01"), MaxIter: 50}
	boundary := d("7.37")

	got, err := b.MaxFeasible(func(x decimal.Decimal) (bool, error) {
		return x.LessThanOrEqual(boundary), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.GreaterThan(boundary) {
		t.Fatalf("result %s exceeds the boundary %s", got, boundary)
	}
	if boundary.Sub(got).GreaterThan(d("0.01")) {
		t.Fatalf("result %s more than tolerance below the boundary %s", got, boundary)
	}
}

func TestMaxFeasibleFullyFeasibleRange(t *testing.T) {
	b := Bisection{Lo: d("1"), Hi: d("100"), Tolerance: d("0.01"), MaxIter: 50}

	got, err := b.MaxFeasible(func(x decimal.Decimal) (bool, error) { return true, nil })
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(b.Hi) {
		t.Fatalf("fully feasible range should return Hi, got %s", got)
	}
}

func TestMaxFeasibleInfeasibleLowerBound(t *testing.T) {
	b := Bisection{Lo: d("1"), Hi: d("100"), Tolerance: d("0.01"), MaxIter: 50}

	_, err := b.MaxFeasible(func(x decimal.Decimal) (bool, error) { return false, nil })
	if !errors.Is(err, ErrNoFeasiblePoint) {
		t.Fatalf("expected ErrNoFeasiblePoint, got %v", err)
	}
}

func TestMaxFeasiblePropagatesPredicateError(t *testing.T) {
	b := Bisection{Lo: d("1"), Hi: d("100"), Tolerance: d("0.01"), MaxIter: 50}
	boom := errors.New("boom")

	_, err := b.MaxFeasible(func(x decimal.Decimal) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected predicate error, got %v", err)
	}
}
