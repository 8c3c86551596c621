package model

import "testing"

func TestOutcomeValid(t *testing.T) {
	if !OutcomeYes.Valid() || !OutcomeNo.Valid() {
		t.Error("YES and NO must be valid outcomes")
	}
	for _, bad := range []Outcome{"", "yes", "MAYBE"} {
		if bad.Valid() {
			t.Errorf("%q should not be a valid outcome", bad)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to MarketStatus
		want     bool
	}{
		{StatusDraft, StatusOpen, true},
		{StatusDraft, StatusClosed, true},
		{StatusOpen, StatusClosed, true},
		{StatusOpen, StatusResolved, true},
		{StatusClosed, StatusResolved, true},

		{StatusOpen, StatusDraft, false},
		{StatusClosed, StatusOpen, false},
		{StatusResolved, StatusOpen, false},
		{StatusOpen, StatusOpen, false},

		// CANCELLED is reachable from any non-terminal state.
		{StatusDraft, StatusCancelled, true},
		{StatusOpen, StatusCancelled, true},
		{StatusClosed, StatusCancelled, true},

		// Terminal states accept nothing.
		{StatusResolved, StatusCancelled, false},
		{StatusCancelled, StatusOpen, false},
		{StatusCancelled, StatusCancelled, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("%s → %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestAccountTypeSystem(t *testing.T) {
	if AccountUserCash.System() {
		t.Error("USER_CASH is not a system account")
	}
	for _, typ := range []AccountType{AccountCustodyCash, AccountFeeRevenue, AccountLiquidityPool, AccountWithdrawalPending} {
		if !typ.System() {
			t.Errorf("%s should be a system account", typ)
		}
	}
}
