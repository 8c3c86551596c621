package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predex/trading-core/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// market and AMM state reads. Only the lock-free quote path benefits:
// everything inside a unit of work reads through the primary under row
// locks, so transactional pricing never sees a stale cache.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store. The TTL
// should be short (a second or two); quotes are re-priced at commit time
// anyway, so brief staleness only affects advisory pricing.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func ammKey(id string) string    { return fmt.Sprintf("amm:%s", id) }

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(id), data, s.ttl)
	}
	return m, nil
}

func (s *CachedStore) GetAmmState(ctx context.Context, marketID string) (*model.AmmState, error) {
	data, err := s.rdb.Get(ctx, ammKey(marketID)).Bytes()
	if err == nil {
		var a model.AmmState
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.Store.GetAmmState(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, ammKey(marketID), data, s.ttl)
	}
	return a, nil
}

// WithinTx delegates to the primary and drops cached state afterwards so
// the next quote sees post-trade prices promptly.
func (s *CachedStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	touched := make(map[string]bool)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &trackingTx{Tx: tx, touched: touched})
	})
	if err != nil {
		return err
	}
	for id := range touched {
		s.rdb.Del(ctx, marketKey(id), ammKey(id))
	}
	return nil
}

// trackingTx records which markets a unit of work locked so the cache can
// invalidate exactly those after commit.
type trackingTx struct {
	Tx
	touched map[string]bool
}

func (t *trackingTx) GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	t.touched[id] = true
	return t.Tx.GetMarketForUpdate(ctx, id)
}

func (t *trackingTx) GetAmmStateForUpdate(ctx context.Context, marketID string) (*model.AmmState, error) {
	t.touched[marketID] = true
	return t.Tx.GetAmmStateForUpdate(ctx, marketID)
}
