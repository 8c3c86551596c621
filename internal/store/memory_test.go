package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predex/trading-core/internal/model"
)

func seedMarket(t *testing.T, s *MemoryStore) *model.Market {
	t.Helper()
	m := &model.Market{ID: "m1", Question: "?", Status: model.StatusOpen, CreatedAt: time.Now().UTC()}
	amm := &model.AmmState{MarketID: "m1", B: decimal.NewFromInt(100)}
	if err := s.CreateMarket(context.Background(), m, amm); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	seedMarket(t, s)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.AddMarketVolume(ctx, "m1", 500); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, &model.Trade{ID: "t1", MarketID: "m1", IdempotencyKey: "k1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	m, err := s.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalVolumeCents != 0 {
		t.Errorf("volume not rolled back: %d", m.TotalVolumeCents)
	}
	if len(s.Trades()) != 0 {
		t.Error("trade not rolled back")
	}
}

func TestWithinTxCommits(t *testing.T) {
	s := NewMemoryStore()
	seedMarket(t, s)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.AddMarketVolume(ctx, "m1", 500)
	})
	if err != nil {
		t.Fatal(err)
	}

	m, _ := s.GetMarket(ctx, "m1")
	if m.TotalVolumeCents != 500 {
		t.Errorf("volume not committed: %d", m.TotalVolumeCents)
	}
}

func TestIdempotencyRecordDuplicateDetection(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	rec := model.IdempotencyRecord{Key: "k1", Scope: "trade", ExpiresAt: now.Add(time.Hour), CreatedAt: now}

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertIdempotencyRecord(ctx, rec)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertIdempotencyRecord(ctx, rec)
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// A different scope is a different key.
	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		other := rec
		other.Scope = "settlement"
		return tx.InsertIdempotencyRecord(ctx, other)
	})
	if err != nil {
		t.Fatalf("different scope must insert: %v", err)
	}
}

func TestIdempotencyRecordExpiryFreesKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	expired := model.IdempotencyRecord{Key: "k1", Scope: "trade", ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-25 * time.Hour)}
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertIdempotencyRecord(ctx, expired)
	})
	if err != nil {
		t.Fatal(err)
	}

	fresh := model.IdempotencyRecord{Key: "k1", Scope: "trade", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertIdempotencyRecord(ctx, fresh)
	})
	if err != nil {
		t.Fatalf("expired key must be reusable: %v", err)
	}
}

func TestRollbackFreesIdempotencyKeyAndTxKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	boom := errors.New("boom")

	rec := model.IdempotencyRecord{Key: "k1", Scope: "trade", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertIdempotencyRecord(ctx, rec); err != nil {
			return err
		}
		if _, err := tx.ClaimTransactionKey(ctx, "ledger-k1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatal(err)
	}

	// Both keys must be claimable again after the rollback.
	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertIdempotencyRecord(ctx, rec); err != nil {
			return err
		}
		claimed, err := tx.ClaimTransactionKey(ctx, "ledger-k1")
		if err != nil {
			return err
		}
		if !claimed {
			t.Error("transaction key not freed by rollback")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWithinTxHonorsContextCancellation(t *testing.T) {
	s := NewMemoryStore()
	seedMarket(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.AddMarketVolume(ctx, "m1", 500); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	m, _ := s.GetMarket(context.Background(), "m1")
	if m.TotalVolumeCents != 0 {
		t.Error("cancelled unit of work must roll back")
	}
}

func TestUpsertPositionAndDailyVolume(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.UpsertPosition(ctx, &model.Position{UserID: "alice", MarketID: "m1", YesShares: decimal.NewFromInt(10)}); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, &model.Trade{ID: "t1", UserID: "alice", MarketID: "m1", TotalCostCents: 516, IdempotencyKey: "k1", CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, &model.Trade{ID: "t2", UserID: "alice", MarketID: "m1", TotalCostCents: 200, IdempotencyKey: "k2", CreatedAt: dayStart.Add(-time.Hour)}); err != nil {
			return err
		}
		sum, err := tx.UserDailyVolumeCents(ctx, "alice", dayStart)
		if err != nil {
			return err
		}
		if sum != 516 {
			t.Errorf("daily volume %d, want 516 (yesterday's trade excluded)", sum)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	pos, err := s.GetPosition(ctx, "alice", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !pos.YesShares.Equal(decimal.NewFromInt(10)) {
		t.Errorf("position shares %s, want 10", pos.YesShares)
	}
}
