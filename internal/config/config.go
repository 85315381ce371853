// Package config loads the controller's env-driven settings, grounded on
// the teacher's own getEnv*/Load shape (internal/config/config.go,
// cmd/main.go's godotenv bootstrap).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// StoreDriver selects the store.Store backend.
type StoreDriver string

const (
	StoreDriverSQLite   StoreDriver = "sqlite"
	StoreDriverPostgres StoreDriver = "postgres"
	StoreDriverMemory   StoreDriver = "memory"
)

// BrokerDriver selects the broker.Client backend.
type BrokerDriver string

const (
	BrokerDriverAlpaca   BrokerDriver = "alpaca"
	BrokerDriverScripted BrokerDriver = "scripted"
)

type Config struct {
	Debug bool

	StoreDriver StoreDriver
	DatabaseURL string // dsn for postgres, file path for sqlite

	BrokerDriver  BrokerDriver
	AlpacaKeyID   string
	AlpacaSecret  string
	AlpacaBaseURL string
	AlpacaDataURL string
	AlpacaPaper   bool

	// Rate limiting / circuit breaker (internal/ratelimit)
	BrokerRateLimitRPS   int
	BrokerRateLimitBurst int
	BreakerMaxRequests   uint32
	BreakerInterval      time.Duration
	BreakerTimeout       time.Duration
	BreakerFailureRatio  float64

	// Work queue (internal/queue)
	WorkerInterval time.Duration

	// Reconciler (internal/reconcile)
	ReconcileSyncInterval   time.Duration
	ReconcileUnrealInterval time.Duration
	ReconcileStaleAfter     time.Duration

	// Execution engine (internal/execution)
	SubmitMaxRetries int
	SubmitTimeout    time.Duration
	PollInterval     time.Duration
	MonitorBudget    time.Duration

	// Asset universe (internal/universe)
	AssetClass string

	// Telegram event sink (internal/events)
	TelegramToken  string
	TelegramChatID int64

	// Idempotency key time-bucket width; loaded but not read anywhere —
	// internal/idempotency derives its default bucket from a fixed 60s.
	IdempotencyTimeBucket time.Duration

	// Order notional cap; loaded but not read anywhere — internal/validate
	// applies no notional limit.
	MaxOrderNotional decimal.Decimal
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment")
	}

	cfg := &Config{
		Debug: getEnvBool("DEBUG", false),

		StoreDriver: StoreDriver(getEnv("STORE_DRIVER", string(StoreDriverSQLite))),
		DatabaseURL: getEnv("DATABASE_URL", "data/controller.db"),

		BrokerDriver:  BrokerDriver(getEnv("BROKER_DRIVER", string(BrokerDriverAlpaca))),
		AlpacaKeyID:   os.Getenv("ALPACA_API_KEY_ID"),
		AlpacaSecret:  os.Getenv("ALPACA_API_SECRET_KEY"),
		AlpacaBaseURL: getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
		AlpacaDataURL: getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),
		AlpacaPaper:   getEnvBool("ALPACA_PAPER", true),

		BrokerRateLimitRPS:   getEnvInt("BROKER_RATE_LIMIT_RPS", 25),
		BrokerRateLimitBurst: getEnvInt("BROKER_RATE_LIMIT_BURST", 30),
		BreakerMaxRequests:   uint32(getEnvInt("BREAKER_MAX_REQUESTS", 5)),
		BreakerInterval:      getEnvDuration("BREAKER_INTERVAL", time.Minute),
		BreakerTimeout:       getEnvDuration("BREAKER_TIMEOUT", 30*time.Second),
		BreakerFailureRatio:  getEnvFloat("BREAKER_FAILURE_RATIO", 0.6),

		WorkerInterval: getEnvDuration("WORKER_INTERVAL", 5*time.Second),

		ReconcileSyncInterval:   getEnvDuration("RECONCILE_SYNC_INTERVAL", time.Minute),
		ReconcileUnrealInterval: getEnvDuration("RECONCILE_UNREAL_INTERVAL", 5*time.Minute),
		ReconcileStaleAfter:     getEnvDuration("RECONCILE_STALE_AFTER", 24*time.Hour),

		SubmitMaxRetries: getEnvInt("SUBMIT_MAX_RETRIES", 2),
		SubmitTimeout:    getEnvDuration("SUBMIT_TIMEOUT", 30*time.Second),
		PollInterval:     getEnvDuration("POLL_INTERVAL", time.Second),
		MonitorBudget:    getEnvDuration("MONITOR_BUDGET", 30*time.Second),

		AssetClass: getEnv("ASSET_CLASS", "us_equity"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		IdempotencyTimeBucket: getEnvDuration("IDEMPOTENCY_TIME_BUCKET", time.Minute),

		MaxOrderNotional: getEnvDecimal("MAX_ORDER_NOTIONAL", decimal.NewFromInt(100000)),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.BrokerDriver == BrokerDriverAlpaca && (cfg.AlpacaKeyID == "" || cfg.AlpacaSecret == "") {
		return nil, fmt.Errorf("ALPACA_API_KEY_ID and ALPACA_API_SECRET_KEY are required when BROKER_DRIVER=alpaca")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
