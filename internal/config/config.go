// Package config loads runtime configuration from the environment, with a
// .env file picked up in development when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the full runtime configuration of the trading service.
type Config struct {
	Port        string
	DatabaseURL string // empty runs on the in-memory store
	RedisURL    string // empty disables the quote-path cache

	QuoteSecret string

	FeeRate           decimal.Decimal
	SlippageTolerance decimal.Decimal

	MinTradeCents    int64
	MaxTradeCents    int64
	DailyVolumeCents int64

	TradeTimeout   time.Duration
	CacheTTL       time.Duration
	IdempotencyTTL time.Duration
}

// Load reads configuration from the environment. A missing QUOTE_SECRET is
// fatal in any deployment that issues quotes, so it is validated here
// rather than at first use.
func Load() (*Config, error) {
	// Best effort; production sets real environment variables.
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		QuoteSecret: os.Getenv("QUOTE_SECRET"),

		TradeTimeout:   getDuration("TRADE_TIMEOUT", 10*time.Second),
		CacheTTL:       getDuration("CACHE_TTL", 2*time.Second),
		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		MinTradeCents:    getInt64("MIN_TRADE_CENTS", 10),
		MaxTradeCents:    getInt64("MAX_TRADE_CENTS", 1_000_000),
		DailyVolumeCents: getInt64("DAILY_VOLUME_CENTS", 10_000_000),
	}

	var err error
	if cfg.FeeRate, err = getDecimal("FEE_RATE", "0.008"); err != nil {
		return nil, err
	}
	if cfg.SlippageTolerance, err = getDecimal("SLIPPAGE_TOLERANCE", "0.01"); err != nil {
		return nil, err
	}

	if cfg.QuoteSecret == "" {
		return nil, fmt.Errorf("config: QUOTE_SECRET must be set")
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("config: FEE_RATE %s out of range [0, 1)", cfg.FeeRate)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getDecimal(key, fallback string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
