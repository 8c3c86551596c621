package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUOTE_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port %s, want 8080", cfg.Port)
	}
	if !cfg.FeeRate.Equal(decimal.RequireFromString("0.008")) {
		t.Errorf("fee rate %s, want 0.008", cfg.FeeRate)
	}
	if cfg.TradeTimeout != 10*time.Second {
		t.Errorf("trade timeout %s, want 10s", cfg.TradeTimeout)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Errorf("idempotency ttl %s, want 24h", cfg.IdempotencyTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUOTE_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("FEE_RATE", "0.01")
	t.Setenv("TRADE_TIMEOUT", "5s")
	t.Setenv("MIN_TRADE_CENTS", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" || !cfg.FeeRate.Equal(decimal.RequireFromString("0.01")) ||
		cfg.TradeTimeout != 5*time.Second || cfg.MinTradeCents != 50 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("QUOTE_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("missing QUOTE_SECRET must fail")
	}
}

func TestLoadRejectsBadFeeRate(t *testing.T) {
	t.Setenv("QUOTE_SECRET", "s3cret")
	t.Setenv("FEE_RATE", "1.5")
	if _, err := Load(); err == nil {
		t.Fatal("fee rate above 1 must fail")
	}
}
