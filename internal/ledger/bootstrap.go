package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/predex/trading-core/internal/model"
)

// AccountDirectory is the minimal account lookup/creation surface the
// bootstrap helpers need. The storage layer's Store satisfies it; its
// not-found sentinel is passed in as a predicate because store depends on
// ledger, not the other way around.
type AccountDirectory interface {
	GetSystemAccount(ctx context.Context, typ model.AccountType, currency string) (*model.WalletAccount, error)
	GetUserCashAccount(ctx context.Context, userID, currency string) (*model.WalletAccount, error)
	CreateAccount(ctx context.Context, a *model.WalletAccount) error
}

var systemAccountTypes = []model.AccountType{
	model.AccountCustodyCash,
	model.AccountFeeRevenue,
	model.AccountLiquidityPool,
	model.AccountWithdrawalPending,
}

// EnsureSystemAccounts creates any missing system account, one per type
// per currency. Run at startup; idempotent.
func EnsureSystemAccounts(ctx context.Context, dir AccountDirectory, currency string, isNotFound func(error) bool) error {
	for _, typ := range systemAccountTypes {
		_, err := dir.GetSystemAccount(ctx, typ, currency)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return err
		}
		acct := &model.WalletAccount{
			ID:       uuid.New().String(),
			Type:     typ,
			Currency: currency,
		}
		if err := dir.CreateAccount(ctx, acct); err != nil {
			return err
		}
	}
	return nil
}

// EnsureUserCashAccount returns the user's USER_CASH account, creating an
// empty one on first sight. Funding happens out of band; this only
// guarantees the account row exists.
func EnsureUserCashAccount(ctx context.Context, dir AccountDirectory, userID, currency string, isNotFound func(error) bool) (*model.WalletAccount, error) {
	acct, err := dir.GetUserCashAccount(ctx, userID, currency)
	if err == nil {
		return acct, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	acct = &model.WalletAccount{
		ID:       uuid.New().String(),
		UserID:   &userID,
		Type:     model.AccountUserCash,
		Currency: currency,
	}
	if err := dir.CreateAccount(ctx, acct); err != nil {
		// Lost a create race; the winner's row is the account.
		return dir.GetUserCashAccount(ctx, userID, currency)
	}
	return acct, nil
}
