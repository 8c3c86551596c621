// Package numeric provides a parameterized monotone root finder used for
// budget-based trade sizing. Kept generic so iteration counts and
// tolerances are configuration, not magic numbers inlined at call sites.
package numeric

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNoFeasiblePoint is returned when not even the lower bound satisfies
// the predicate.
var ErrNoFeasiblePoint = errors.New("numeric: no feasible point in search range")

var two = decimal.NewFromInt(2)

// Bisection searches [Lo, Hi] for the largest x with Feasible(x) == true,
// assuming Feasible is monotone: true on [Lo, x*] and false on (x*, Hi].
type Bisection struct {
	Lo, Hi    decimal.Decimal
	Tolerance decimal.Decimal
	MaxIter   int
}

// MaxFeasible runs the search. It returns the largest feasible point found
// within Tolerance. If Lo itself is infeasible it returns
// ErrNoFeasiblePoint; any error from the predicate aborts the search.
func (b Bisection) MaxFeasible(feasible func(x decimal.Decimal) (bool, error)) (decimal.Decimal, error) {
	ok, err := feasible(b.Lo)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, ErrNoFeasiblePoint
	}

	// If the entire range is feasible, take the upper bound.
	ok, err = feasible(b.Hi)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return b.Hi, nil
	}

	lo, hi := b.Lo, b.Hi
	for i := 0; i < b.MaxIter && hi.Sub(lo).GreaterThan(b.Tolerance); i++ {
		mid := lo.Add(hi).Div(two)
		ok, err := feasible(mid)
		if err != nil {
			return decimal.Zero, err
		}
		if ok {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}
