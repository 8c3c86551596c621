package settle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predex/trading-core/internal/fault"
	"github.com/predex/trading-core/internal/ledger"
	"github.com/predex/trading-core/internal/model"
	"github.com/predex/trading-core/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type env struct {
	store  *store.MemoryStore
	engine *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()

	isNotFound := func(err error) bool { return errors.Is(err, store.ErrNotFound) }
	if err := ledger.EnsureSystemAccounts(ctx, st, "USD", isNotFound); err != nil {
		t.Fatal(err)
	}
	// Custody holds the traders' principal.
	custody, err := st.GetSystemAccount(ctx, model.AccountCustodyCash, "USD")
	if err != nil {
		t.Fatal(err)
	}
	err = st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AdjustAccountBalance(ctx, custody.ID, 1_000_000)
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, userID := range []string{"alice", "bob"} {
		uid := userID
		err := st.CreateAccount(ctx, &model.WalletAccount{
			ID:       "acct-" + userID,
			UserID:   &uid,
			Type:     model.AccountUserCash,
			Currency: "USD",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	return &env{store: st, engine: NewEngine(st, ledger.NewService(), "USD")}
}

// addMarket creates a market in the given terminal state with alice
// holding 10 YES (avg 51) and bob holding 5 NO (avg 48).
func (e *env) addMarket(t *testing.T, id string, status model.MarketStatus, outcome *model.Outcome) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	m := &model.Market{ID: id, Question: "?", Status: status, ResolvedOutcome: outcome, CreatedAt: now}
	amm := &model.AmmState{MarketID: id, B: d("100"), QYes: d("10"), QNo: d("5"), UpdatedAt: now}
	if err := e.store.CreateMarket(ctx, m, amm); err != nil {
		t.Fatal(err)
	}

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.UpsertPosition(ctx, &model.Position{
			UserID: "alice", MarketID: id, YesShares: d("10"), NoShares: decimal.Zero, AvgCostCents: 51, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.UpsertPosition(ctx, &model.Position{
			UserID: "bob", MarketID: id, YesShares: decimal.Zero, NoShares: d("5"), AvgCostCents: 48, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (e *env) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	var got int64
	err := e.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		got = a.AvailableCents
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestSettleResolvedMarketPaysOnlyWinners(t *testing.T) {
	e := newEnv(t)
	yes := model.OutcomeYes
	e.addMarket(t, "m1", model.StatusResolved, &yes)

	summary, err := e.engine.SettleMarket(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}

	if summary.TotalWinners != 1 {
		t.Errorf("winners %d, want 1", summary.TotalWinners)
	}
	if summary.TotalPayoutCents != 1000 {
		t.Errorf("payout %d, want 1000 (10 shares × 100 cents)", summary.TotalPayoutCents)
	}
	if got := e.balance(t, "acct-alice"); got != 1000 {
		t.Errorf("alice got %d, want 1000", got)
	}
	if got := e.balance(t, "acct-bob"); got != 0 {
		t.Errorf("losing side must receive nothing, bob has %d", got)
	}

	// Conservation: custody lost exactly what winners gained.
	custody, _ := e.store.GetSystemAccount(context.Background(), model.AccountCustodyCash, "USD")
	if custody.AvailableCents != 1_000_000-1000 {
		t.Errorf("custody %d, want %d", custody.AvailableCents, 1_000_000-1000)
	}
}

func TestSettleIsRerunnable(t *testing.T) {
	e := newEnv(t)
	yes := model.OutcomeYes
	e.addMarket(t, "m1", model.StatusResolved, &yes)
	ctx := context.Background()

	if _, err := e.engine.SettleMarket(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	second, err := e.engine.SettleMarket(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}

	if second.TotalWinners != 0 || second.TotalPayoutCents != 0 {
		t.Errorf("re-run paid again: %+v", second)
	}
	if got := e.balance(t, "acct-alice"); got != 1000 {
		t.Errorf("alice has %d after re-run, want 1000", got)
	}
}

func TestSettleCancelledMarketRefundsCostBasis(t *testing.T) {
	e := newEnv(t)
	e.addMarket(t, "m1", model.StatusCancelled, nil)

	summary, err := e.engine.SettleMarket(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}

	// alice: 10 shares × 51 = 510, bob: 5 × 48 = 240.
	if summary.TotalWinners != 2 {
		t.Errorf("refunded %d holders, want 2", summary.TotalWinners)
	}
	if summary.TotalPayoutCents != 750 {
		t.Errorf("refund total %d, want 750", summary.TotalPayoutCents)
	}
	if got := e.balance(t, "acct-alice"); got != 510 {
		t.Errorf("alice refund %d, want 510", got)
	}
	if got := e.balance(t, "acct-bob"); got != 240 {
		t.Errorf("bob refund %d, want 240", got)
	}
}

func TestSettleRejectsNonTerminalMarket(t *testing.T) {
	e := newEnv(t)
	e.addMarket(t, "m1", model.StatusOpen, nil)

	_, err := e.engine.SettleMarket(context.Background(), "m1")
	if fault.CodeOf(err) != fault.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}

	_, err = e.engine.SettleMarket(context.Background(), "missing")
	if fault.CodeOf(err) != fault.CodeStateConflict {
		t.Fatalf("missing market: expected STATE_CONFLICT, got %v", err)
	}
}

func TestSettleResolvedWithoutOutcomeIsIntegrityFailure(t *testing.T) {
	e := newEnv(t)
	e.addMarket(t, "m1", model.StatusResolved, nil)

	_, err := e.engine.SettleMarket(context.Background(), "m1")
	if fault.CodeOf(err) != fault.CodeIntegrity {
		t.Fatalf("expected INTEGRITY, got %v", err)
	}
}

func TestSettleMarketsFansOut(t *testing.T) {
	e := newEnv(t)
	yes := model.OutcomeYes
	no := model.OutcomeNo
	e.addMarket(t, "m1", model.StatusResolved, &yes)
	e.addMarket(t, "m2", model.StatusResolved, &no)

	summaries, err := e.engine.SettleMarkets(context.Background(), []string{"m1", "m2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}

	// m1 pays alice 1000, m2 pays bob 500.
	if got := e.balance(t, "acct-alice"); got != 1000 {
		t.Errorf("alice %d, want 1000", got)
	}
	if got := e.balance(t, "acct-bob"); got != 500 {
		t.Errorf("bob %d, want 500", got)
	}
}
