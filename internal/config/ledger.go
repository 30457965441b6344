package config

import (
	"os"
	"strconv"
	"time"

	"github.com/civicdrive/backend/internal/models"
	"github.com/shopspring/decimal"
)

// LoanPolicyConfig holds the credit line parameters shared by every balance.
type LoanPolicyConfig struct {
	MaxLoan            models.Cents
	InterestMultiplier decimal.Decimal
	InterestThreshold  models.Cents
	Currency           string
}

func DefaultLoanPolicyConfig() LoanPolicyConfig {
	return LoanPolicyConfig{
		MaxLoan:            2000,
		InterestMultiplier: decimal.RequireFromString("1.25"),
		InterestThreshold:  1,
		Currency:           "USD",
	}
}

func LoadLoanPolicyConfig() LoanPolicyConfig {
	def := DefaultLoanPolicyConfig()
	cfg := LoanPolicyConfig{
		MaxLoan:            getEnvAsCents("LOAN_MAX_AMOUNT", def.MaxLoan),
		InterestMultiplier: getEnvAsDecimal("LOAN_INTEREST_MULTIPLIER", def.InterestMultiplier),
		InterestThreshold:  getEnvAsCents("LOAN_INTEREST_THRESHOLD", def.InterestThreshold),
		Currency:           getEnv("LEDGER_CURRENCY", def.Currency),
	}
	if cfg.InterestMultiplier.LessThan(decimal.NewFromInt(1)) {
		cfg.InterestMultiplier = def.InterestMultiplier
	}
	return cfg
}

// RefundConfig controls the background sweeper that retries pending refunds.
type RefundConfig struct {
	SweepSchedule string
	BatchSize     int
	MaxAttempts   int
}

func LoadRefundConfig() RefundConfig {
	return RefundConfig{
		SweepSchedule: getEnv("REFUND_SWEEP_SCHEDULE", "@every 1m"),
		BatchSize:     getEnvAsInt("REFUND_SWEEP_BATCH", 50),
		MaxAttempts:   getEnvAsInt("REFUND_MAX_ATTEMPTS", 10),
	}
}

// RateLimitConfig bounds mutating ledger requests per user.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

func LoadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: getEnvAsInt("LEDGER_RATE_LIMIT", 30),
		Window:      getEnvAsDuration("LEDGER_RATE_LIMIT_WINDOW", time.Minute),
	}
}

type IdempotencyConfig struct {
	TTL time.Duration
}

func LoadIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL: getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsCents(key string, defaultVal models.Cents) models.Cents {
	if val := os.Getenv(key); val != "" {
		if c, err := models.ParseCents(val); err == nil && c >= 0 {
			return c
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}
