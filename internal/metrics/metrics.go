// Package metrics registers the Prometheus instruments for the trading
// core. Everything is registered at init via promauto on the default
// registry and exposed on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesTotal counts committed trades by outcome side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_trades_total",
		Help: "Committed trades by outcome.",
	}, []string{"outcome"})

	// TradeLatency observes end-to-end trade execution time in seconds.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trading_trade_duration_seconds",
		Help:    "Trade execution latency, submission to commit.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"outcome"})

	// DuplicateRequests counts trades rejected by idempotency admission.
	DuplicateRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trading_duplicate_requests_total",
		Help: "Trade submissions rejected because their idempotency key was already consumed.",
	})

	// TradesBlocked counts trades stopped by compliance controls.
	TradesBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trading_trades_blocked_total",
		Help: "Trades blocked by the compliance gate or AML monitor.",
	})

	// QuotesIssued counts signed quotes handed out.
	QuotesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trading_quotes_issued_total",
		Help: "Signed price quotes issued.",
	})

	// SettlementPayouts counts individual settlement transfers.
	SettlementPayouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trading_settlement_payouts_total",
		Help: "Individual winner payouts posted during settlement.",
	})

	// SettlementPayoutCents accumulates cents paid out at settlement.
	SettlementPayoutCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trading_settlement_payout_cents_total",
		Help: "Total cents transferred to winners at settlement.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_http_requests_total",
		Help: "HTTP requests by method and status.",
	}, []string{"method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trading_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// HTTPMiddleware instruments every request with a counter and a latency
// histogram.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		httpRequests.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
