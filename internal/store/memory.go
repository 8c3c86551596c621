package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/predex/trading-core/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. WithinTx holds the write lock for the whole unit of work and
// restores a snapshot on failure, which gives the same serializable,
// all-or-nothing semantics the PostgreSQL implementation gets from row
// locks and transactions.
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	amm       map[string]*model.AmmState
	positions map[string]*model.Position
	accounts  map[string]*model.WalletAccount
	trades    []model.Trade
	entries   []model.LedgerEntry
	idem      map[string]model.IdempotencyRecord
	txKeys    map[string]bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		amm:       make(map[string]*model.AmmState),
		positions: make(map[string]*model.Position),
		accounts:  make(map[string]*model.WalletAccount),
		idem:      make(map[string]model.IdempotencyRecord),
		txKeys:    make(map[string]bool),
	}
}

func posKey(userID, marketID string) string { return userID + "|" + marketID }

func idemKey(key, scope string) string { return key + "|" + scope }

// --- snapshot/rollback ---

type memSnapshot struct {
	markets   map[string]*model.Market
	amm       map[string]*model.AmmState
	positions map[string]*model.Position
	accounts  map[string]*model.WalletAccount
	trades    []model.Trade
	entries   []model.LedgerEntry
	idem      map[string]model.IdempotencyRecord
	txKeys    map[string]bool
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		markets:   make(map[string]*model.Market, len(s.markets)),
		amm:       make(map[string]*model.AmmState, len(s.amm)),
		positions: make(map[string]*model.Position, len(s.positions)),
		accounts:  make(map[string]*model.WalletAccount, len(s.accounts)),
		trades:    append([]model.Trade(nil), s.trades...),
		entries:   append([]model.LedgerEntry(nil), s.entries...),
		idem:      make(map[string]model.IdempotencyRecord, len(s.idem)),
		txKeys:    make(map[string]bool, len(s.txKeys)),
	}
	for k, v := range s.markets {
		cp := *v
		snap.markets[k] = &cp
	}
	for k, v := range s.amm {
		cp := *v
		snap.amm[k] = &cp
	}
	for k, v := range s.positions {
		cp := *v
		snap.positions[k] = &cp
	}
	for k, v := range s.accounts {
		cp := *v
		snap.accounts[k] = &cp
	}
	for k, v := range s.idem {
		snap.idem[k] = v
	}
	for k := range s.txKeys {
		snap.txKeys[k] = true
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.markets = snap.markets
	s.amm = snap.amm
	s.positions = snap.positions
	s.accounts = snap.accounts
	s.trades = snap.trades
	s.entries = snap.entries
	s.idem = snap.idem
	s.txKeys = snap.txKeys
}

// WithinTx serializes all units of work behind the write lock, runs fn
// against a transactional view, and rolls back to the pre-transaction
// snapshot on any error (including a context deadline hit mid-flight).
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	err := fn(ctx, &memTx{s: s})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// --- Store reads ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market, amm *model.AmmState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("market %s already exists: %w", m.ID, ErrDuplicateKey)
	}
	mc := *m
	ac := *amm
	s.markets[m.ID] = &mc
	s.amm[m.ID] = &ac
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) GetAmmState(_ context.Context, marketID string) (*model.AmmState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ammLocked(marketID)
}

func (s *MemoryStore) ammLocked(marketID string) (*model.AmmState, error) {
	a, ok := s.amm[marketID]
	if !ok {
		return nil, fmt.Errorf("amm state for market %s: %w", marketID, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positionLocked(userID, marketID)
}

func (s *MemoryStore) positionLocked(userID, marketID string) (*model.Position, error) {
	p, ok := s.positions[posKey(userID, marketID)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", userID, marketID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetPositionsByMarket(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.MarketID == marketID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetUserCashAccount(_ context.Context, userID, currency string) (*model.WalletAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Type == model.AccountUserCash && a.UserID != nil && *a.UserID == userID && a.Currency == currency {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("cash account for user %s: %w", userID, ErrNotFound)
}

func (s *MemoryStore) GetSystemAccount(_ context.Context, typ model.AccountType, currency string) (*model.WalletAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Type == typ && a.Currency == currency {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("system account %s: %w", typ, ErrNotFound)
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.WalletAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID]; exists {
		return fmt.Errorf("account %s already exists: %w", a.ID, ErrDuplicateKey)
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTradeByIdempotencyKey(_ context.Context, key string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.trades {
		if s.trades[i].IdempotencyKey == key {
			cp := s.trades[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("trade for key %s: %w", key, ErrNotFound)
}

// LedgerEntries returns a copy of all entries. Test helper.
func (s *MemoryStore) LedgerEntries() []model.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.LedgerEntry(nil), s.entries...)
}

// Trades returns a copy of all trade records. Test helper.
func (s *MemoryStore) Trades() []model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Trade(nil), s.trades...)
}

// --- Tx implementation (lock already held by WithinTx) ---

type memTx struct {
	s *MemoryStore
}

func (t *memTx) InsertIdempotencyRecord(_ context.Context, rec model.IdempotencyRecord) error {
	k := idemKey(rec.Key, rec.Scope)
	if existing, ok := t.s.idem[k]; ok {
		if existing.ExpiresAt.After(rec.CreatedAt) {
			return fmt.Errorf("idempotency key %s: %w", rec.Key, ErrDuplicateKey)
		}
		// Expired record: replace it.
	}
	t.s.idem[k] = rec
	return nil
}

func (t *memTx) GetMarketForUpdate(_ context.Context, id string) (*model.Market, error) {
	m, ok := t.s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (t *memTx) GetAmmStateForUpdate(_ context.Context, marketID string) (*model.AmmState, error) {
	return t.s.ammLocked(marketID)
}

func (t *memTx) UpdateAmmState(_ context.Context, amm *model.AmmState) error {
	if _, ok := t.s.amm[amm.MarketID]; !ok {
		return fmt.Errorf("amm state for market %s: %w", amm.MarketID, ErrNotFound)
	}
	cp := *amm
	t.s.amm[amm.MarketID] = &cp
	return nil
}

func (t *memTx) UpdateMarketStatus(_ context.Context, marketID string, status model.MarketStatus, outcome *model.Outcome, at time.Time) error {
	m, ok := t.s.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	m.Status = status
	if status == model.StatusResolved || status == model.StatusCancelled {
		m.ResolvedAt = &at
		m.ResolvedOutcome = outcome
	}
	return nil
}

func (t *memTx) AddMarketVolume(_ context.Context, marketID string, deltaCents int64) error {
	m, ok := t.s.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	m.TotalVolumeCents += deltaCents
	return nil
}

func (t *memTx) GetAccountForUpdate(_ context.Context, accountID string) (*model.WalletAccount, error) {
	a, ok := t.s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) GetPosition(_ context.Context, userID, marketID string) (*model.Position, error) {
	return t.s.positionLocked(userID, marketID)
}

func (t *memTx) UpsertPosition(_ context.Context, p *model.Position) error {
	cp := *p
	t.s.positions[posKey(p.UserID, p.MarketID)] = &cp
	return nil
}

func (t *memTx) InsertTrade(_ context.Context, tr *model.Trade) error {
	for i := range t.s.trades {
		if t.s.trades[i].IdempotencyKey == tr.IdempotencyKey {
			return fmt.Errorf("trade key %s: %w", tr.IdempotencyKey, ErrDuplicateKey)
		}
	}
	t.s.trades = append(t.s.trades, *tr)
	return nil
}

func (t *memTx) UserDailyVolumeCents(_ context.Context, userID string, since time.Time) (int64, error) {
	var sum int64
	for i := range t.s.trades {
		tr := &t.s.trades[i]
		if tr.UserID == userID && !tr.CreatedAt.Before(since) {
			sum += tr.TotalCostCents
		}
	}
	return sum, nil
}

// --- ledger.Store ---

func (t *memTx) ClaimTransactionKey(_ context.Context, key string) (bool, error) {
	if t.s.txKeys[key] {
		return false, nil
	}
	t.s.txKeys[key] = true
	return true, nil
}

func (t *memTx) InsertLedgerEntries(_ context.Context, entries []model.LedgerEntry) error {
	t.s.entries = append(t.s.entries, entries...)
	return nil
}

func (t *memTx) AdjustAccountBalance(_ context.Context, accountID string, deltaCents int64) error {
	a, ok := t.s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	a.AvailableCents += deltaCents
	return nil
}
