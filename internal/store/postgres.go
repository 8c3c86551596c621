package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predex/trading-core/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Decimal quantities are stored as NUMERIC for exact precision; money is
// stored as BIGINT cents. Same-market trades are serialized by the row
// lock taken in GetAmmStateForUpdate.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// schema holds the DDL for all core tables. Unique constraints back the
// insert-or-detect idempotency primitives.
const schema = `
CREATE TABLE IF NOT EXISTS markets (
	id                   TEXT PRIMARY KEY,
	question             TEXT NOT NULL,
	status               TEXT NOT NULL,
	min_trade_cents      BIGINT NOT NULL DEFAULT 0,
	max_trade_cents      BIGINT NOT NULL DEFAULT 0,
	total_volume_cents   BIGINT NOT NULL DEFAULT 0,
	liquidity_pool_cents BIGINT NOT NULL DEFAULT 0,
	resolved_outcome     TEXT,
	created_at           TIMESTAMPTZ NOT NULL,
	resolved_at          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS amm_states (
	market_id  TEXT PRIMARY KEY REFERENCES markets(id),
	b          NUMERIC NOT NULL,
	q_yes      NUMERIC NOT NULL,
	q_no       NUMERIC NOT NULL,
	price_yes  NUMERIC NOT NULL,
	price_no   NUMERIC NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	user_id        TEXT NOT NULL,
	market_id      TEXT NOT NULL REFERENCES markets(id),
	yes_shares     NUMERIC NOT NULL,
	no_shares      NUMERIC NOT NULL,
	avg_cost_cents BIGINT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, market_id)
);

CREATE TABLE IF NOT EXISTS trades (
	id               TEXT PRIMARY KEY,
	market_id        TEXT NOT NULL REFERENCES markets(id),
	user_id          TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	shares           NUMERIC NOT NULL,
	fill_price       NUMERIC NOT NULL,
	cost_cents       BIGINT NOT NULL,
	fee_cents        BIGINT NOT NULL,
	total_cost_cents BIGINT NOT NULL,
	idempotency_key  TEXT NOT NULL UNIQUE,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_user_day ON trades (user_id, created_at);

CREATE TABLE IF NOT EXISTS wallet_accounts (
	id              TEXT PRIMARY KEY,
	user_id         TEXT,
	account_type    TEXT NOT NULL,
	currency        TEXT NOT NULL,
	available_cents BIGINT NOT NULL DEFAULT 0,
	pending_cents   BIGINT NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS wallet_user_cash
	ON wallet_accounts (user_id, currency) WHERE account_type = 'USER_CASH';
CREATE UNIQUE INDEX IF NOT EXISTS wallet_system
	ON wallet_accounts (account_type, currency) WHERE user_id IS NULL;

CREATE TABLE IF NOT EXISTS ledger_entries (
	id                 TEXT PRIMARY KEY,
	tx_group_id        TEXT NOT NULL,
	tx_key             TEXT NOT NULL,
	account_id         TEXT NOT NULL REFERENCES wallet_accounts(id),
	counter_account_id TEXT NOT NULL REFERENCES wallet_accounts(id),
	amount_cents       BIGINT NOT NULL,
	entry_type         TEXT NOT NULL,
	metadata           JSONB,
	created_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_group ON ledger_entries (tx_group_id);

CREATE TABLE IF NOT EXISTS ledger_tx_keys (
	tx_key     TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS idempotency_records (
	key        TEXT NOT NULL,
	scope      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (key, scope)
);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market, amm *model.AmmState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO markets (id, question, status, min_trade_cents, max_trade_cents,
		                      total_volume_cents, liquidity_pool_cents, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.Question, m.Status, m.MinTradeCents, m.MaxTradeCents,
		m.TotalVolumeCents, m.LiquidityPoolCents, m.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO amm_states (market_id, b, q_yes, q_no, price_yes, price_no, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)`,
		amm.MarketID, amm.B.String(), amm.QYes.String(), amm.QNo.String(),
		amm.PriceYes.String(), amm.PriceNo.String(), amm.UpdatedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const marketCols = `id, question, status, min_trade_cents, max_trade_cents,
	total_volume_cents, liquidity_pool_cents, resolved_outcome, created_at, resolved_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var outcome *string
	err := row.Scan(&m.ID, &m.Question, &m.Status, &m.MinTradeCents, &m.MaxTradeCents,
		&m.TotalVolumeCents, &m.LiquidityPoolCents, &outcome, &m.CreatedAt, &m.ResolvedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if outcome != nil {
		o := model.Outcome(*outcome)
		m.ResolvedOutcome = &o
	}
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func scanAmm(row pgx.Row) (*model.AmmState, error) {
	var a model.AmmState
	var b, qYes, qNo, priceYes, priceNo string
	err := row.Scan(&a.MarketID, &b, &qYes, &qNo, &priceYes, &priceNo, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	a.B, _ = decimal.NewFromString(b)
	a.QYes, _ = decimal.NewFromString(qYes)
	a.QNo, _ = decimal.NewFromString(qNo)
	a.PriceYes, _ = decimal.NewFromString(priceYes)
	a.PriceNo, _ = decimal.NewFromString(priceNo)
	return &a, nil
}

const ammCols = `market_id, b::TEXT, q_yes::TEXT, q_no::TEXT, price_yes::TEXT, price_no::TEXT, updated_at`

func (s *PostgresStore) GetAmmState(ctx context.Context, marketID string) (*model.AmmState, error) {
	a, err := scanAmm(s.pool.QueryRow(ctx,
		`SELECT `+ammCols+` FROM amm_states WHERE market_id = $1`, marketID))
	if err != nil {
		return nil, fmt.Errorf("get amm state %s: %w", marketID, err)
	}
	return a, nil
}

const positionCols = `user_id, market_id, yes_shares::TEXT, no_shares::TEXT, avg_cost_cents, updated_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var yes, no string
	err := row.Scan(&p.UserID, &p.MarketID, &yes, &no, &p.AvgCostCents, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	p.YesShares, _ = decimal.NewFromString(yes)
	p.NoShares, _ = decimal.NewFromString(no)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 AND market_id = $2`,
		userID, marketID))
}

func (s *PostgresStore) GetPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPositions(rows)
}

func (s *PostgresStore) GetPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const accountCols = `id, user_id, account_type, currency, available_cents, pending_cents`

func scanAccount(row pgx.Row) (*model.WalletAccount, error) {
	var a model.WalletAccount
	err := row.Scan(&a.ID, &a.UserID, &a.Type, &a.Currency, &a.AvailableCents, &a.PendingCents)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *PostgresStore) GetUserCashAccount(ctx context.Context, userID, currency string) (*model.WalletAccount, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM wallet_accounts
		 WHERE account_type = 'USER_CASH' AND user_id = $1 AND currency = $2`,
		userID, currency))
}

func (s *PostgresStore) GetSystemAccount(ctx context.Context, typ model.AccountType, currency string) (*model.WalletAccount, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM wallet_accounts
		 WHERE account_type = $1 AND user_id IS NULL AND currency = $2`,
		typ, currency))
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.WalletAccount) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallet_accounts (id, user_id, account_type, currency, available_cents, pending_cents)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, a.Type, a.Currency, a.AvailableCents, a.PendingCents)
	return err
}

const tradeCols = `id, market_id, user_id, outcome, shares::TEXT, fill_price::TEXT,
	cost_cents, fee_cents, total_cost_cents, idempotency_key, created_at`

func scanTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	var shares, fill string
	err := row.Scan(&t.ID, &t.MarketID, &t.UserID, &t.Outcome, &shares, &fill,
		&t.CostCents, &t.FeeCents, &t.TotalCostCents, &t.IdempotencyKey, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	t.Shares, _ = decimal.NewFromString(shares)
	t.FillPrice, _ = decimal.NewFromString(fill)
	return &t, nil
}

func (s *PostgresStore) GetTradeByIdempotencyKey(ctx context.Context, key string) (*model.Trade, error) {
	return scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeCols+` FROM trades WHERE idempotency_key = $1`, key))
}

// WithinTx runs fn inside one database transaction. The transaction is the
// unit of work: commit and rollback happen here, at the boundary, never in
// the steps.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// --- Tx implementation ---

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertIdempotencyRecord(ctx context.Context, rec model.IdempotencyRecord) error {
	// Expired keys are reclaimable; live keys collide.
	_, err := t.tx.Exec(ctx,
		`DELETE FROM idempotency_records WHERE key = $1 AND scope = $2 AND expires_at < $3`,
		rec.Key, rec.Scope, rec.CreatedAt)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO idempotency_records (key, scope, expires_at, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (key, scope) DO NOTHING`,
		rec.Key, rec.Scope, rec.ExpiresAt, rec.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency key %s: %w", rec.Key, ErrDuplicateKey)
	}
	return nil
}

func (t *pgTx) GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(t.tx.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock market %s: %w", id, err)
	}
	return m, nil
}

func (t *pgTx) GetAmmStateForUpdate(ctx context.Context, marketID string) (*model.AmmState, error) {
	a, err := scanAmm(t.tx.QueryRow(ctx,
		`SELECT `+ammCols+` FROM amm_states WHERE market_id = $1 FOR UPDATE`, marketID))
	if err != nil {
		return nil, fmt.Errorf("lock amm state %s: %w", marketID, err)
	}
	return a, nil
}

func (t *pgTx) UpdateAmmState(ctx context.Context, amm *model.AmmState) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE amm_states
		 SET q_yes = $2::NUMERIC, q_no = $3::NUMERIC,
		     price_yes = $4::NUMERIC, price_no = $5::NUMERIC, updated_at = $6
		 WHERE market_id = $1`,
		amm.MarketID, amm.QYes.String(), amm.QNo.String(),
		amm.PriceYes.String(), amm.PriceNo.String(), amm.UpdatedAt)
	return err
}

func (t *pgTx) UpdateMarketStatus(ctx context.Context, marketID string, status model.MarketStatus, outcome *model.Outcome, at time.Time) error {
	if status == model.StatusResolved || status == model.StatusCancelled {
		_, err := t.tx.Exec(ctx,
			`UPDATE markets SET status = $2, resolved_outcome = $3, resolved_at = $4 WHERE id = $1`,
			marketID, status, outcome, at)
		return err
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE markets SET status = $2 WHERE id = $1`, marketID, status)
	return err
}

func (t *pgTx) AddMarketVolume(ctx context.Context, marketID string, deltaCents int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE markets SET total_volume_cents = total_volume_cents + $2 WHERE id = $1`,
		marketID, deltaCents)
	return err
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, accountID string) (*model.WalletAccount, error) {
	return scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountCols+` FROM wallet_accounts WHERE id = $1 FOR UPDATE`, accountID))
}

func (t *pgTx) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	return scanPosition(t.tx.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 AND market_id = $2`,
		userID, marketID))
}

func (t *pgTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, yes_shares, no_shares, avg_cost_cents, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)
		 ON CONFLICT (user_id, market_id) DO UPDATE
		 SET yes_shares = EXCLUDED.yes_shares, no_shares = EXCLUDED.no_shares,
		     avg_cost_cents = EXCLUDED.avg_cost_cents, updated_at = EXCLUDED.updated_at`,
		p.UserID, p.MarketID, p.YesShares.String(), p.NoShares.String(),
		p.AvgCostCents, p.UpdatedAt)
	return err
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, user_id, outcome, shares, fill_price,
		                     cost_cents, fee_cents, total_cost_cents, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11)`,
		tr.ID, tr.MarketID, tr.UserID, tr.Outcome, tr.Shares.String(), tr.FillPrice.String(),
		tr.CostCents, tr.FeeCents, tr.TotalCostCents, tr.IdempotencyKey, tr.CreatedAt)
	return err
}

func (t *pgTx) UserDailyVolumeCents(ctx context.Context, userID string, since time.Time) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_cost_cents), 0) FROM trades
		 WHERE user_id = $1 AND created_at >= $2`, userID, since).Scan(&sum)
	return sum, err
}

// --- ledger.Store ---

func (t *pgTx) ClaimTransactionKey(ctx context.Context, key string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_tx_keys (tx_key) VALUES ($1) ON CONFLICT (tx_key) DO NOTHING`, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) InsertLedgerEntries(ctx context.Context, entries []model.LedgerEntry) error {
	for _, e := range entries {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, tx_group_id, tx_key, account_id,
			                             counter_account_id, amount_cents, entry_type, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.TxGroupID, e.TxKey, e.AccountID, e.CounterAccountID,
			e.AmountCents, e.EntryType, e.Metadata, e.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) AdjustAccountBalance(ctx context.Context, accountID string, deltaCents int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE wallet_accounts SET available_cents = available_cents + $2 WHERE id = $1`,
		accountID, deltaCents)
	return err
}
