// Package ledger implements double-entry bookkeeping over wallet accounts.
// Every value movement is a transaction group of two or more entries whose
// signed amounts sum to zero; balances change atomically with entry
// insertion. A transaction key gives each group at-most-once application:
// re-posting under the same key is a no-op success, not a duplicate write.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/predex/trading-core/internal/fault"
	"github.com/predex/trading-core/internal/model"
)

// Account identifies a wallet account within a posting. The type is
// carried so balances can be applied in a fixed account-type order on
// every code path, preventing deadlocks between concurrent commits.
type Account struct {
	ID   string
	Type model.AccountType
}

// Entry is one leg of a prospective transaction group.
type Entry struct {
	Account        Account
	CounterAccount Account
	AmountCents    int64 // signed
	EntryType      string
	Metadata       map[string]string
}

// Store is what the ledger needs from the transactional storage layer.
// Implementations run inside the caller's unit of work, so a rolled-back
// trade rolls back the postings too.
type Store interface {
	// ClaimTransactionKey records the key and reports whether this is its
	// first use. A false return means the group was already applied.
	ClaimTransactionKey(ctx context.Context, key string) (bool, error)

	// InsertLedgerEntries appends the rows of one transaction group.
	InsertLedgerEntries(ctx context.Context, entries []model.LedgerEntry) error

	// AdjustAccountBalance applies a signed delta to availableCents.
	AdjustAccountBalance(ctx context.Context, accountID string, deltaCents int64) error
}

// typeRank fixes the account-access order: user cash first, then custody,
// fee revenue, liquidity pool, withdrawal pending.
var typeRank = map[model.AccountType]int{
	model.AccountUserCash:          0,
	model.AccountCustodyCash:       1,
	model.AccountFeeRevenue:        2,
	model.AccountLiquidityPool:     3,
	model.AccountWithdrawalPending: 4,
}

// Service posts balanced transaction groups.
type Service struct {
	now func() time.Time
}

// NewService creates a ledger service.
func NewService() *Service {
	return &Service{now: func() time.Time { return time.Now().UTC() }}
}

// Transfer builds the balanced entry pair for moving amountCents from one
// account to another: a negative leg on from, a positive leg on to.
func Transfer(from, to Account, amountCents int64, entryType string, metadata map[string]string) []Entry {
	return []Entry{
		{Account: from, CounterAccount: to, AmountCents: -amountCents, EntryType: entryType, Metadata: metadata},
		{Account: to, CounterAccount: from, AmountCents: amountCents, EntryType: entryType, Metadata: metadata},
	}
}

// PostTransaction validates and applies one transaction group under the
// given key. Imbalance is an integrity failure: it can only mean a caller
// bug, so it is asserted and never surfaced as a user error. Re-posting an
// already-applied key returns (false, nil) without writing anything; the
// bool lets re-runnable callers such as settlement tell a fresh posting
// from a replay.
func (s *Service) PostTransaction(ctx context.Context, st Store, key string, entries []Entry) (bool, error) {
	if err := validate(entries); err != nil {
		return false, err
	}

	claimed, err := st.ClaimTransactionKey(ctx, key)
	if err != nil {
		return false, err
	}
	if !claimed {
		// Already applied; at-most-once semantics make this a success.
		return false, nil
	}

	groupID := uuid.New().String()
	now := s.now()
	rows := make([]model.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, model.LedgerEntry{
			ID:               uuid.New().String(),
			TxGroupID:        groupID,
			TxKey:            key,
			AccountID:        e.Account.ID,
			CounterAccountID: e.CounterAccount.ID,
			AmountCents:      e.AmountCents,
			EntryType:        e.EntryType,
			Metadata:         e.Metadata,
			CreatedAt:        now,
		})
	}
	if err := st.InsertLedgerEntries(ctx, rows); err != nil {
		return false, err
	}

	for _, acct := range orderedAccounts(entries) {
		if acct.delta == 0 {
			continue
		}
		if err := st.AdjustAccountBalance(ctx, acct.id, acct.delta); err != nil {
			return false, err
		}
	}
	return true, nil
}

func validate(entries []Entry) error {
	if len(entries) < 2 {
		return fault.New(fault.CodeIntegrity, "ledger: transaction group needs at least 2 entries, got %d", len(entries))
	}
	var sum int64
	for _, e := range entries {
		if e.AmountCents == 0 {
			return fault.New(fault.CodeIntegrity, "ledger: zero-amount entry on account %s", e.Account.ID)
		}
		if e.Account.ID == e.CounterAccount.ID {
			return fault.New(fault.CodeIntegrity, "ledger: entry and counter-entry share account %s", e.Account.ID)
		}
		sum += e.AmountCents
	}
	if sum != 0 {
		return fault.New(fault.CodeIntegrity, "ledger: imbalanced transaction, entries sum to %d cents", sum)
	}
	return nil
}

type accountDelta struct {
	id    string
	rank  int
	delta int64
}

// orderedAccounts aggregates per-account deltas and sorts them by account
// type rank (then ID for determinism within a rank).
func orderedAccounts(entries []Entry) []accountDelta {
	byID := make(map[string]*accountDelta)
	for _, e := range entries {
		ad, ok := byID[e.Account.ID]
		if !ok {
			ad = &accountDelta{id: e.Account.ID, rank: typeRank[e.Account.Type]}
			byID[e.Account.ID] = ad
		}
		ad.delta += e.AmountCents
	}

	out := make([]accountDelta, 0, len(byID))
	for _, ad := range byID {
		out = append(out, *ad)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		return out[i].id < out[j].id
	})
	return out
}
