// Package store defines the persistence interface for the trading core.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache on the quote path), and in-memory (for testing).
//
// All mutations flow through a Tx obtained from WithinTx, so a trade is
// all-or-nothing across money and price state. Concurrent trades against
// the same market are serialized structurally: every trade locks the
// market's AMM state row before reading it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/predex/trading-core/internal/ledger"
	"github.com/predex/trading-core/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateKey is returned when an insert-or-detect primitive hits
	// an existing key. Expected control flow, not a logged error.
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// Store is the read side plus the unit-of-work entry point.
type Store interface {
	// CreateMarket persists a market together with its seeded AMM state
	// atomically.
	CreateMarket(ctx context.Context, m *model.Market, amm *model.AmmState) error

	// GetMarket retrieves a market by ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// GetAmmState retrieves the AMM state for a market.
	GetAmmState(ctx context.Context, marketID string) (*model.AmmState, error)

	// GetPosition retrieves one user's position in one market.
	GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error)

	// GetPositionsByUser returns all of a user's positions.
	GetPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// GetPositionsByMarket returns every position in a market.
	GetPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// GetUserCashAccount returns the user's USER_CASH account.
	GetUserCashAccount(ctx context.Context, userID, currency string) (*model.WalletAccount, error)

	// GetSystemAccount returns the global account of the given type.
	GetSystemAccount(ctx context.Context, typ model.AccountType, currency string) (*model.WalletAccount, error)

	// CreateAccount persists a wallet account.
	CreateAccount(ctx context.Context, a *model.WalletAccount) error

	// GetTradeByIdempotencyKey fetches the trade a consumed key produced,
	// so duplicate submitters can retrieve their original result.
	GetTradeByIdempotencyKey(ctx context.Context, key string) (*model.Trade, error)

	// WithinTx runs fn inside one atomic unit of work. Any error rolls the
	// whole unit back; a nil return commits it.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the mutation surface of one unit of work. It embeds ledger.Store
// so postings commit and roll back with the rest of the trade.
type Tx interface {
	ledger.Store

	// InsertIdempotencyRecord is the insert-or-detect-duplicate primitive.
	// Returns ErrDuplicateKey when the key+scope is already present and
	// unexpired. It is the first insert of a trade transaction.
	InsertIdempotencyRecord(ctx context.Context, rec model.IdempotencyRecord) error

	// GetMarketForUpdate loads a market with a row lock.
	GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error)

	// GetAmmStateForUpdate loads AMM state with a row lock. This lock is
	// what serializes concurrent trades on the same market.
	GetAmmStateForUpdate(ctx context.Context, marketID string) (*model.AmmState, error)

	// UpdateAmmState persists new quantities and prices.
	UpdateAmmState(ctx context.Context, amm *model.AmmState) error

	// UpdateMarketStatus applies a lifecycle transition.
	UpdateMarketStatus(ctx context.Context, marketID string, status model.MarketStatus, outcome *model.Outcome, at time.Time) error

	// AddMarketVolume increments the market's cumulative traded volume.
	AddMarketVolume(ctx context.Context, marketID string, deltaCents int64) error

	// GetAccountForUpdate loads a wallet account with a row lock.
	GetAccountForUpdate(ctx context.Context, accountID string) (*model.WalletAccount, error)

	// GetPosition retrieves one user's position in one market.
	GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error)

	// UpsertPosition creates or replaces a position.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// UserDailyVolumeCents sums the user's trade notional since the given
	// instant, inside this transaction's snapshot.
	UserDailyVolumeCents(ctx context.Context, userID string, since time.Time) (int64, error)
}
