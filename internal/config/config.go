// Package config loads process configuration once at startup from
// environment variables. Nothing under this package reads the environment
// again after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Operations Core service.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Tenancy  TenancyConfig
	Stripe   StripeConfig
	Outbox   OutboxConfig
	Policy   PolicyConfig
	Monitoring MonitoringConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	ShutdownGrace time.Duration
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// TenancyConfig carries the defaults described in spec.md §6.
type TenancyConfig struct {
	DefaultOrgID      string
	BusinessTimezone  string // IANA name, e.g. "Australia/Sydney"
}

// StripeConfig holds Stripe credentials and redirect URLs.
type StripeConfig struct {
	SecretKey            string
	WebhookSecret        string
	SuccessURL           string
	CancelURL            string
	InvoiceSuccessURL    string
	InvoiceCancelURL     string
	CallTimeout          time.Duration
	WebhookVerifyTimeout time.Duration
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	BreakerHalfOpenProbes   int
}

// OutboxConfig holds worker-pool and DLQ tuning knobs.
type OutboxConfig struct {
	EmailMode              string // off, log, send
	EmailFromAddress       string
	EmailAPIKey            string
	EmailRetryBackoff      time.Duration
	EmailMaxRetries        int
	EmailUnsubscribeSecret string
	ExportMode             string
	ExportWebhookURL       string
	ExportWebhookSecret    string
	PollInterval           time.Duration
	BatchSize              int
	WorkerCount            int
	ShutdownGrace          time.Duration
}

// PolicyConfig holds the pricing/risk knobs that the original source kept
// in a dynamic settings singleton. Here they are a plain struct read once
// at startup; there is no hot-reload path, so changes take effect only on
// restart.
type PolicyConfig struct {
	DepositsEnabled      bool
	DepositPercent       float64
	DepositCurrency      string
	MinDepositCents      int64
	MaxDepositCents      int64
	HighValueThresholdCents int64
	HighRiskPostalPrefixes []string
}

// MonitoringConfig holds observability configuration.
type MonitoringConfig struct {
	Enabled        bool
	PrometheusPort int
	MetricsPath    string
	LogLevel       string
}

// Load reads configuration from the environment. It is called exactly once
// from cmd/server/main.go.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:          getEnv("SERVER_HOST", "0.0.0.0"),
			Port:          getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:   getEnvAsDuration("SERVER_READ_TIMEOUT", "30s"),
			WriteTimeout:  getEnvAsDuration("SERVER_WRITE_TIMEOUT", "30s"),
			IdleTimeout:   getEnvAsDuration("SERVER_IDLE_TIMEOUT", "120s"),
			ShutdownGrace: getEnvAsDuration("SERVER_SHUTDOWN_GRACE", "15s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "opscore"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "opscore"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Tenancy: TenancyConfig{
			DefaultOrgID:     getEnv("DEFAULT_ORG_ID", ""),
			BusinessTimezone: getEnv("BUSINESS_TIMEZONE", "UTC"),
		},
		Stripe: StripeConfig{
			SecretKey:               getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:           getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:              getEnv("STRIPE_SUCCESS_URL", ""),
			CancelURL:               getEnv("STRIPE_CANCEL_URL", ""),
			InvoiceSuccessURL:       getEnv("STRIPE_INVOICE_SUCCESS_URL", ""),
			InvoiceCancelURL:        getEnv("STRIPE_INVOICE_CANCEL_URL", ""),
			CallTimeout:             getEnvAsDuration("STRIPE_CALL_TIMEOUT", "10s"),
			WebhookVerifyTimeout:    getEnvAsDuration("STRIPE_WEBHOOK_VERIFY_TIMEOUT", "3s"),
			BreakerFailureThreshold: getEnvAsInt("STRIPE_BREAKER_FAILURE_THRESHOLD", 5),
			BreakerCooldown:         getEnvAsDuration("STRIPE_BREAKER_COOLDOWN", "30s"),
			BreakerHalfOpenProbes:   getEnvAsInt("STRIPE_BREAKER_HALF_OPEN_PROBES", 2),
		},
		Outbox: OutboxConfig{
			EmailMode:              getEnv("EMAIL_MODE", "log"),
			EmailFromAddress:       getEnv("EMAIL_FROM_ADDRESS", "ops@example.com"),
			EmailAPIKey:            getEnv("RESEND_API_KEY", ""),
			EmailRetryBackoff:      getEnvAsDuration("EMAIL_RETRY_BACKOFF_SECONDS", "60s"),
			EmailMaxRetries:        getEnvAsInt("EMAIL_MAX_RETRIES", 5),
			EmailUnsubscribeSecret: getEnv("EMAIL_UNSUBSCRIBE_SECRET", ""),
			ExportMode:             getEnv("EXPORT_MODE", "log"),
			ExportWebhookURL:       getEnv("EXPORT_WEBHOOK_URL", ""),
			ExportWebhookSecret:    getEnv("EXPORT_WEBHOOK_SECRET", ""),
			PollInterval:           getEnvAsDuration("OUTBOX_POLL_INTERVAL", "5s"),
			BatchSize:              getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
			WorkerCount:            getEnvAsInt("OUTBOX_WORKER_COUNT", 4),
			ShutdownGrace:          getEnvAsDuration("OUTBOX_SHUTDOWN_GRACE", "10s"),
		},
		Policy: PolicyConfig{
			DepositsEnabled:         getEnvAsBool("DEPOSITS_ENABLED", true),
			DepositPercent:          getEnvAsFloat("DEPOSIT_PERCENT", 0.20),
			DepositCurrency:         getEnv("DEPOSIT_CURRENCY", "usd"),
			MinDepositCents:         int64(getEnvAsInt("MIN_DEPOSIT_CENTS", 5000)),
			MaxDepositCents:         int64(getEnvAsInt("MAX_DEPOSIT_CENTS", 20000)),
			HighValueThresholdCents: int64(getEnvAsInt("HIGH_VALUE_THRESHOLD_CENTS", 30000)),
			HighRiskPostalPrefixes:  splitCSV(getEnv("HIGH_RISK_POSTAL_PREFIXES", "")),
		},
		Monitoring: MonitoringConfig{
			Enabled:        getEnvAsBool("METRICS_ENABLED", true),
			PrometheusPort: getEnvAsInt("PROMETHEUS_PORT", 9090),
			MetricsPath:    getEnv("METRICS_PATH", "/metrics"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Stripe.SecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ := time.ParseDuration(defaultValue)
		return duration
	}
	return value
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
