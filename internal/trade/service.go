package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predex/trading-core/internal/fault"
	"github.com/predex/trading-core/internal/lmsr"
	"github.com/predex/trading-core/internal/metrics"
	"github.com/predex/trading-core/internal/model"
	"github.com/predex/trading-core/internal/quote"
	"github.com/predex/trading-core/internal/settle"
	"github.com/predex/trading-core/internal/store"
)

// Service exposes the trading core over HTTP.
type Service struct {
	store    store.Store
	orch     *Orchestrator
	quotes   *quote.Issuer
	settler  *settle.Engine
	currency string
}

// NewService wires the HTTP layer.
func NewService(st store.Store, orch *Orchestrator, qi *quote.Issuer, se *settle.Engine, currency string) *Service {
	return &Service{store: st, orch: orch, quotes: qi, settler: se, currency: currency}
}

// RegisterRoutes mounts all endpoints on the router.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Route("/markets", func(r chi.Router) {
		r.Post("/", s.handleCreateMarket)
		r.Get("/", s.handleListMarkets)
		r.Route("/{marketID}", func(r chi.Router) {
			r.Get("/", s.handleGetMarket)
			r.Post("/status", s.handleTransition)
			r.Get("/quote", s.handleQuote)
			r.Post("/trades", s.handleTrade)
			r.Get("/positions/{userID}", s.handleGetPosition)
		})
	})
	r.Get("/trades/{idempotencyKey}", s.handleGetTradeByKey)
	r.Get("/users/{userID}/portfolio", s.handlePortfolio)
}

type createMarketRequest struct {
	Question        string          `json:"question"`
	B               decimal.Decimal `json:"b"`
	InitialPriceYes decimal.Decimal `json:"initial_price_yes"`
	MinTradeCents   int64           `json:"min_trade_cents"`
	MaxTradeCents   int64           `json:"max_trade_cents"`
}

func (s *Service) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.CodeValidation, "invalid request body"))
		return
	}
	if req.Question == "" {
		writeError(w, fault.New(fault.CodeValidation, "question is required"))
		return
	}
	if req.InitialPriceYes.IsZero() {
		req.InitialPriceYes = decimal.NewFromFloat(0.5)
	}

	qYes, qNo, err := lmsr.Seed(req.B, req.InitialPriceYes)
	if err != nil {
		writeError(w, fault.Wrap(err, fault.CodeValidation, "cannot seed market"))
		return
	}
	mm, err := lmsr.NewMarketMaker(req.B)
	if err != nil {
		writeError(w, fault.Wrap(err, fault.CodeValidation, "invalid liquidity parameter"))
		return
	}

	now := time.Now().UTC()
	market := &model.Market{
		ID:            uuid.New().String(),
		Question:      req.Question,
		Status:        model.StatusDraft,
		MinTradeCents: req.MinTradeCents,
		MaxTradeCents: req.MaxTradeCents,
		// Bounded worst case: the operator can never lose more than this.
		LiquidityPoolCents: mm.MaxLoss().Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		CreatedAt:          now,
	}
	amm := &model.AmmState{
		MarketID:  market.ID,
		B:         req.B,
		QYes:      qYes,
		QNo:       qNo,
		PriceYes:  mm.Price(model.OutcomeYes, qYes, qNo),
		PriceNo:   mm.Price(model.OutcomeNo, qYes, qNo),
		UpdatedAt: now,
	}

	if err := s.store.CreateMarket(r.Context(), market, amm); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("market created", "market", market.ID, "b", req.B.String(), "seed_price_yes", req.InitialPriceYes.String())
	writeJSON(w, http.StatusCreated, marketView{Market: market, Amm: amm})
}

func (s *Service) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

// marketView pairs a market with its live AMM prices.
type marketView struct {
	Market *model.Market   `json:"market"`
	Amm    *model.AmmState `json:"amm"`
}

func (s *Service) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "marketID")
	market, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		writeError(w, notFoundAs(err, "market %s not found", id))
		return
	}
	amm, err := s.store.GetAmmState(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketView{Market: market, Amm: amm})
}

type transitionRequest struct {
	Status  model.MarketStatus `json:"status"`
	Outcome *model.Outcome     `json:"outcome,omitempty"`
}

type transitionResponse struct {
	Market     *model.Market   `json:"market"`
	Settlement *settle.Summary `json:"settlement,omitempty"`
}

// handleTransition applies a lifecycle transition. Resolving requires an
// outcome and triggers settlement; cancelling triggers refunds. Both run
// after the status commit, keyed payouts make a crash between the two
// recoverable by re-posting the same transition.
func (s *Service) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "marketID")
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.CodeValidation, "invalid request body"))
		return
	}
	if req.Status == model.StatusResolved {
		if req.Outcome == nil || !req.Outcome.Valid() {
			writeError(w, fault.New(fault.CodeValidation, "resolving requires an outcome of YES or NO"))
			return
		}
	}

	var market *model.Market
	err := s.store.WithinTx(r.Context(), func(ctx context.Context, tx store.Tx) error {
		m, err := tx.GetMarketForUpdate(ctx, id)
		if err != nil {
			return notFoundAs(err, "market %s not found", id)
		}
		if !m.Status.CanTransition(req.Status) {
			// Re-posting the terminal transition is how a crashed
			// settlement run is resumed.
			if m.Status == req.Status && (req.Status == model.StatusResolved || req.Status == model.StatusCancelled) {
				market = m
				return nil
			}
			return fault.New(fault.CodeStateConflict, "cannot transition market from %s to %s", m.Status, req.Status)
		}
		now := time.Now().UTC()
		if err := tx.UpdateMarketStatus(ctx, id, req.Status, req.Outcome, now); err != nil {
			return err
		}
		m.Status = req.Status
		if req.Status == model.StatusResolved {
			m.ResolvedOutcome = req.Outcome
			m.ResolvedAt = &now
		}
		market = m
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := transitionResponse{Market: market}
	if req.Status == model.StatusResolved || req.Status == model.StatusCancelled {
		summary, err := s.settler.SettleMarket(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Settlement = summary
	}

	slog.Info("market transitioned", "market", id, "status", req.Status)
	writeJSON(w, http.StatusOK, resp)
}

// handleQuote is the lock-free advisory pricing path. Reads may come from
// the cache; the returned quote is signed and carries its own expiry.
func (s *Service) handleQuote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "marketID")
	outcome := model.Outcome(r.URL.Query().Get("outcome"))
	shares, err := decimal.NewFromString(r.URL.Query().Get("shares"))
	if err != nil {
		writeError(w, fault.New(fault.CodeValidation, "shares must be a decimal number"))
		return
	}

	market, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		writeError(w, notFoundAs(err, "market %s not found", id))
		return
	}
	amm, err := s.store.GetAmmState(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	q, err := s.quotes.Issue(market, amm, outcome, shares)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.QuotesIssued.Inc()
	writeJSON(w, http.StatusOK, q)
}

type tradeRequest struct {
	Outcome       model.Outcome    `json:"outcome"`
	Shares        *decimal.Decimal `json:"shares,omitempty"`
	MaxSpendCents *int64           `json:"max_spend_cents,omitempty"`
	Quote         *model.Quote     `json:"quote,omitempty"`
}

func (s *Service) handleTrade(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, fault.New(fault.CodeValidation, "X-User-ID header is required"))
		return
	}
	key := r.Header.Get("Idempotency-Key")

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.CodeValidation, "invalid request body"))
		return
	}

	res, err := s.orch.ExecuteTrade(r.Context(), userID, Request{
		MarketID:       chi.URLParam(r, "marketID"),
		Outcome:        req.Outcome,
		Shares:         req.Shares,
		MaxSpendCents:  req.MaxSpendCents,
		Quote:          req.Quote,
		IdempotencyKey: key,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleGetTradeByKey lets a client that hit DUPLICATE_REQUEST retrieve
// the trade its key originally produced.
func (s *Service) handleGetTradeByKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "idempotencyKey")
	trade, err := s.store.GetTradeByIdempotencyKey(r.Context(), key)
	if err != nil {
		writeError(w, notFoundAs(err, "no trade for idempotency key %s", key))
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

func (s *Service) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	userID := chi.URLParam(r, "userID")
	pos, err := s.store.GetPosition(r.Context(), userID, marketID)
	if err != nil {
		writeError(w, notFoundAs(err, "no position for user %s in market %s", userID, marketID))
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// positionView augments a position with its mark-to-market value at
// current AMM prices.
type positionView struct {
	model.Position
	MarketStatus model.MarketStatus `json:"market_status"`
	ValueCents   int64              `json:"value_cents"`
}

type portfolioResponse struct {
	UserID    string         `json:"user_id"`
	CashCents int64          `json:"cash_cents"`
	Positions []positionView `json:"positions"`
}

func (s *Service) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	// A user we have never seen simply has no cash yet. Reads do not
	// create accounts; the funding path does.
	var cashCents int64
	acct, err := s.store.GetUserCashAccount(ctx, userID, s.currency)
	switch {
	case err == nil:
		cashCents = acct.AvailableCents
	case errors.Is(err, store.ErrNotFound):
	default:
		writeError(w, err)
		return
	}

	positions, err := s.store.GetPositionsByUser(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, pos := range positions {
		market, err := s.store.GetMarket(ctx, pos.MarketID)
		if err != nil {
			writeError(w, err)
			return
		}
		amm, err := s.store.GetAmmState(ctx, pos.MarketID)
		if err != nil {
			writeError(w, err)
			return
		}
		cents100 := decimal.NewFromInt(100)
		value := pos.YesShares.Mul(amm.PriceYes).Add(pos.NoShares.Mul(amm.PriceNo)).Mul(cents100)
		views = append(views, positionView{
			Position:     pos,
			MarketStatus: market.Status,
			ValueCents:   value.Round(0).IntPart(),
		})
	}

	writeJSON(w, http.StatusOK, portfolioResponse{
		UserID:    userID,
		CashCents: cashCents,
		Positions: views,
	})
}

// notFoundAs converts the storage not-found sentinel into a coded
// validation error with a useful message; other errors pass through.
func notFoundAs(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return fault.New(fault.CodeValidation, format, args...)
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps a coded error to its HTTP status. Integrity failures
// log the full detail and surface a generic message.
func writeError(w http.ResponseWriter, err error) {
	code := fault.CodeOf(err)
	if code == fault.CodeIntegrity {
		slog.Error("internal error", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(fault.HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(code),
		"error": fault.UserMessage(err),
	})
}
