package storage

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/config"
)

// mirrorQueryTimeoutSeconds caps read-side history and consistency queries
const mirrorQueryTimeoutSeconds = 60

// ClickHouseDB wraps the ClickHouse connection used by the ledger mirror
type ClickHouseDB struct {
	conn driver.Conn
}

// clickHouseOptions builds driver options for the mirror connection
func clickHouseOptions(cfg *config.ClickHouseConfig) (*clickhouse.Options, error) {
	if cfg.Host == "" || cfg.Port == "" {
		return nil, fmt.Errorf("clickhouse host and port are required")
	}
	return &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": mirrorQueryTimeoutSeconds,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     5,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}, nil
}

// NewClickHouseDB opens and pings the mirror connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	opts, err := clickHouseOptions(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying driver connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

func (db *ClickHouseDB) Ping(ctx context.Context) error {
	if err := db.conn.Ping(ctx); err != nil {
		return apperrors.NewDatabaseError("clickhouse ping", err)
	}
	return nil
}

// Exec runs a statement that returns no rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}
