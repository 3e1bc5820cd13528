package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tip-ledger/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// testPostgresConfig points at the local development database unless overridden
func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           envOr("TEST_POSTGRES_HOST", "localhost"),
		Port:           envOr("TEST_POSTGRES_PORT", "5432"),
		Database:       envOr("TEST_POSTGRES_DB", "tip_ledger_test"),
		User:           envOr("TEST_POSTGRES_USER", "ledger"),
		Password:       envOr("TEST_POSTGRES_PASSWORD", "ledger_dev_password"),
		MaxConnections: 5,
	}
}
