// Package config provides configuration management for the tip ledger engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Processor ProcessorConfig
	Webhook   WebhookConfig
	Sync      SyncConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port       string
	Host       string
	AdminToken string // optional shared secret for /admin routes
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ProcessorConfig holds payment processor API configuration
type ProcessorConfig struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond int
	PageSize          int
	MaxRetries        int
}

// WebhookConfig holds webhook verification configuration
type WebhookConfig struct {
	Secret    string
	Tolerance time.Duration
	DedupeTTL time.Duration
}

// SyncConfig holds sync worker configuration
type SyncConfig struct {
	BatchSize       int           // jobs claimed per batch
	Concurrency     int           // jobs executed in parallel within a batch
	AccountLimit    int           // accounts enqueued per daily run
	AccountClass    string        // platform, connected or all
	LeaseTTL        time.Duration // per-account lease lifetime
	StaleThreshold  time.Duration // running jobs older than this are re-queued
	PollInterval    time.Duration
	EnqueueInterval time.Duration // how often today's jobs are enqueued
}

// ReconcileConfig holds reconciliation scheduling configuration
type ReconcileConfig struct {
	Enabled  bool
	Interval time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	APIRequestsPerSecond int           // per-client limit on the HTTP API
	ProcessorBudget      int           // processor requests per budget window across all workers
	BudgetWindow         time.Duration
	HighPriorityShare    float64       // share of the processor budget reserved for webhook work
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:       getEnv("SERVER_PORT", "8080"),
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			AdminToken: getEnv("ADMIN_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "tip_ledger"),
				User:           getEnv("POSTGRES_USER", "ledger"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 25),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "tip_ledger"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Processor: ProcessorConfig{
			APIKey:            getEnv("PROCESSOR_API_KEY", ""),
			BaseURL:           getEnv("PROCESSOR_BASE_URL", "https://api.stripe.com"),
			Timeout:           getEnvAsDuration("PROCESSOR_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsInt("PROCESSOR_RPS", 20),
			PageSize:          getEnvAsInt("PROCESSOR_PAGE_SIZE", 100),
			MaxRetries:        getEnvAsInt("PROCESSOR_MAX_RETRIES", 3),
		},
		Webhook: WebhookConfig{
			Secret:    getEnv("WEBHOOK_SECRET", ""),
			Tolerance: getEnvAsDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
			DedupeTTL: getEnvAsDuration("WEBHOOK_DEDUPE_TTL", 24*time.Hour),
		},
		Sync: SyncConfig{
			BatchSize:       getEnvAsInt("SYNC_BATCH_SIZE", 50),
			Concurrency:     getEnvAsInt("SYNC_CONCURRENCY", 4),
			AccountLimit:    getEnvAsInt("SYNC_ACCOUNT_LIMIT", 1000),
			AccountClass:    strings.ToLower(getEnv("SYNC_ACCOUNT_CLASS", "all")),
			LeaseTTL:        getEnvAsDuration("SYNC_LEASE_TTL", 10*time.Minute),
			StaleThreshold:  getEnvAsDuration("SYNC_STALE_THRESHOLD", 30*time.Minute),
			PollInterval:    getEnvAsDuration("SYNC_POLL_INTERVAL", time.Minute),
			EnqueueInterval: getEnvAsDuration("SYNC_ENQUEUE_INTERVAL", time.Hour),
		},
		Reconcile: ReconcileConfig{
			Enabled:  getEnvAsBool("RECONCILE_ENABLED", true),
			Interval: getEnvAsDuration("RECONCILE_INTERVAL", time.Hour),
		},
		RateLimit: RateLimitConfig{
			APIRequestsPerSecond: getEnvAsInt("RATE_LIMIT_API_RPS", 10),
			ProcessorBudget:      getEnvAsInt("RATE_LIMIT_PROCESSOR_BUDGET", 5000),
			BudgetWindow:         getEnvAsDuration("RATE_LIMIT_BUDGET_WINDOW", time.Minute),
			HighPriorityShare:    getEnvAsFloat("RATE_LIMIT_HIGH_PRIORITY_SHARE", 0.2),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate checks settings the engine cannot run without
func (c *Config) Validate() error {
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("SYNC_CONCURRENCY must be positive, got %d", c.Sync.Concurrency)
	}
	if c.Sync.LeaseTTL <= 0 {
		return fmt.Errorf("SYNC_LEASE_TTL must be positive")
	}
	switch c.Sync.AccountClass {
	case "platform", "connected", "all":
	default:
		return fmt.Errorf("SYNC_ACCOUNT_CLASS must be platform, connected or all, got %q", c.Sync.AccountClass)
	}
	if c.Processor.PageSize <= 0 || c.Processor.PageSize > 100 {
		return fmt.Errorf("PROCESSOR_PAGE_SIZE must be between 1 and 100, got %d", c.Processor.PageSize)
	}
	if c.RateLimit.HighPriorityShare < 0 || c.RateLimit.HighPriorityShare > 1 {
		return fmt.Errorf("RATE_LIMIT_HIGH_PRIORITY_SHARE must be between 0 and 1")
	}
	return nil
}

// PostgresDSN returns the connection string for Postgres
func (c *Config) PostgresDSN() string {
	pg := c.Database.Postgres
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		pg.User, pg.Password, pg.Host, pg.Port, pg.Database)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
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
	valueStr := getEnv(key, "")
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
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
