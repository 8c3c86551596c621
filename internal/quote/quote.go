// Package quote issues and verifies short-lived signed price quotes.
//
// Quotes are advisory price locks for slippage protection, not a binding
// reservation of AMM state: the price that settles a trade is always
// recomputed at commit time. A verified quote therefore bounds risk (the
// orchestrator enforces a slippage tolerance against it) without
// guaranteeing execution at exactly the quoted price.
package quote

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predex/trading-core/internal/fault"
	"github.com/predex/trading-core/internal/lmsr"
	"github.com/predex/trading-core/internal/model"
	"github.com/predex/trading-core/internal/money"
)

// TTL is the fixed quote lifetime.
const TTL = 10 * time.Second

// Issuer signs quotes with a shared secret. Issuance and verification are
// read-only and lock-free; they may run at arbitrary concurrency.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates an issuer with the given signing secret.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret, now: func() time.Time { return time.Now().UTC() }}
}

// Issue prices a prospective buy against the current AMM state and returns
// a signed quote. The market must be OPEN.
func (i *Issuer) Issue(market *model.Market, amm *model.AmmState, outcome model.Outcome, shares decimal.Decimal) (*model.Quote, error) {
	if market.Status != model.StatusOpen {
		return nil, fault.New(fault.CodeStateConflict, "market %s is not open for trading", market.ID)
	}
	if !outcome.Valid() {
		return nil, fault.New(fault.CodeValidation, "outcome must be YES or NO")
	}

	mm, err := lmsr.NewMarketMaker(amm.B)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeIntegrity, "market %s has invalid liquidity", market.ID)
	}
	res, err := mm.QuoteBuy(outcome, amm.QYes, amm.QNo, shares)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeValidation, "cannot quote %s shares", shares)
	}

	q := &model.Quote{
		MarketID:   market.ID,
		Outcome:    outcome,
		Shares:     shares,
		CostCents:  money.ToCents(res.Cost),
		IssuedAt:   i.now(),
		TTLSeconds: int(TTL / time.Second),
	}
	q.Signature = i.sign(q)
	return q, nil
}

// Verify checks expiry first, then recomputes the signature over the
// quote's fields. Either failure is a validation error: the caller should
// fetch a fresh quote.
func (i *Issuer) Verify(q *model.Quote) error {
	age := i.now().Sub(q.IssuedAt)
	if age > time.Duration(q.TTLSeconds)*time.Second {
		return fault.New(fault.CodeValidation, "quote expired %s ago", age-time.Duration(q.TTLSeconds)*time.Second)
	}
	if !hmac.Equal([]byte(i.sign(q)), []byte(q.Signature)) {
		return fault.New(fault.CodeValidation, "quote signature mismatch")
	}
	return nil
}

// sign binds all price-relevant fields into one keyed hash.
func (i *Issuer) sign(q *model.Quote) string {
	mac := hmac.New(sha256.New, i.secret)
	fmt.Fprintf(mac, "%s|%s|%s|%d|%d|%d",
		q.MarketID, q.Outcome, q.Shares.String(), q.CostCents, q.IssuedAt.Unix(), q.TTLSeconds)
	return hex.EncodeToString(mac.Sum(nil))
}
