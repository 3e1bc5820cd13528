package storage

import (
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"

	"github.com/tip-ledger/internal/config"
)

func TestNewClickHouseDB(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Enabled:  true,
		Host:     envOr("TEST_CLICKHOUSE_HOST", "localhost"),
		Port:     envOr("TEST_CLICKHOUSE_PORT", "9000"),
		Database: envOr("TEST_CLICKHOUSE_DB", "tip_ledger"),
		User:     "default",
		Password: envOr("TEST_CLICKHOUSE_PASSWORD", ""),
	}

	db, err := NewClickHouseDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	ctx := testContext(t)
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if db.Conn() == nil {
		t.Error("Conn() returned nil")
	}
}

func TestClickHouseOptions(t *testing.T) {
	opts, err := clickHouseOptions(&config.ClickHouseConfig{
		Host:     "ch.internal",
		Port:     "9000",
		Database: "tip_ledger",
		User:     "mirror",
		Password: "secret",
	})
	if !assert.NoError(t, err) {
		return
	}

	assert.Equal(t, []string{"ch.internal:9000"}, opts.Addr)
	assert.Equal(t, "tip_ledger", opts.Auth.Database)
	assert.Equal(t, "mirror", opts.Auth.Username)
	assert.Equal(t, mirrorQueryTimeoutSeconds, opts.Settings["max_execution_time"])
	if assert.NotNil(t, opts.Compression) {
		assert.Equal(t, clickhouse.CompressionLZ4, opts.Compression.Method)
	}
	assert.Equal(t, 5, opts.MaxOpenConns)
}

func TestClickHouseOptions_IPv6Host(t *testing.T) {
	opts, err := clickHouseOptions(&config.ClickHouseConfig{Host: "::1", Port: "9000"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"[::1]:9000"}, opts.Addr)
}

func TestClickHouseOptions_MissingAddress(t *testing.T) {
	_, err := clickHouseOptions(&config.ClickHouseConfig{Host: "localhost"})
	assert.Error(t, err)
}

func TestSplitSQLStatements(t *testing.T) {
	content := `-- header comment
CREATE TABLE a (
    id String
) ENGINE = MergeTree ORDER BY id;

-- second
CREATE TABLE b (id String) ENGINE = Memory;
SELECT 1`

	stmts := splitSQLStatements(content)
	assert.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "CREATE TABLE b (id String) ENGINE = Memory", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestSplitSQLStatements_Empty(t *testing.T) {
	assert.Empty(t, splitSQLStatements("-- only a comment\n\n"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
