// Package store implements durable document collections backed by
// ClickHouse. client.go carries the low-level connection wrapper,
// simplified to a single node — this indexer targets one ClickHouse
// instance per deployment, not a replicated cluster, so the
// ON CLUSTER/ReplicatedEngine machinery has no home here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/icrc-indexer/indexer/internal/envutil"
	"github.com/icrc-indexer/indexer/internal/retry"
)

// Client wraps a single-node ClickHouse connection pool.
type Client struct {
	logger   *zap.Logger
	conn     driver.Conn
	database string
}

// NewClient opens a ClickHouse connection and ensures the target
// database exists, retrying transient dial failures with the same
// backoff policy the ledger client uses, since the store's startup
// path faces the same transient-network-error shape.
func NewClient(ctx context.Context, logger *zap.Logger, addr, database string) (*Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()

	if addr == "" {
		addr = envutil.String("CLICKHOUSE_ADDR", "localhost:9000")
	}
	username := envutil.String("CLICKHOUSE_USER", "default")
	password := os.Getenv("CLICKHOUSE_PASSWORD")

	dbName := SanitizeName(database)

	baseOptions := func(authDatabase string) *clickhouse.Options {
		return &clickhouse.Options{
			Addr: []string{addr},
			Auth: clickhouse.Auth{
				Database: authDatabase,
				Username: username,
				Password: password,
			},
			DialTimeout:     10 * time.Second,
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			Compression: &clickhouse.Compression{
				Method: clickhouse.CompressionLZ4,
			},
		}
	}

	cl := &Client{logger: logger, database: database}
	retryCfg := retry.LedgerDefaults()

	err := retry.WithBackoff(connCtx, retryCfg, logger, "clickhouse_connect", func() error {
		// Connect against "default" first: dbName may not exist yet, and
		// a connection's Auth.Database must name a database that is
		// already there.
		bootstrap, err := clickhouse.Open(baseOptions("default"))
		if err != nil {
			return fmt.Errorf("open clickhouse connection: %w", err)
		}
		if err := bootstrap.Ping(connCtx); err != nil {
			return fmt.Errorf("ping clickhouse: %w", err)
		}
		if err := bootstrap.Exec(connCtx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
			return fmt.Errorf("create database %s: %w", database, err)
		}
		_ = bootstrap.Close()

		conn, err := clickhouse.Open(baseOptions(dbName))
		if err != nil {
			return fmt.Errorf("open clickhouse connection: %w", err)
		}
		if err := conn.Ping(connCtx); err != nil {
			return fmt.Errorf("ping clickhouse: %w", err)
		}
		cl.conn = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cl, nil
}

// SanitizeName makes an identifier safe to interpolate into DDL.
func SanitizeName(id string) string {
	out := make([]byte, 0, len(id))
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out = append(out, byte(c))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *Client) QueryRow(ctx context.Context, query string, args ...interface{}) driver.Row {
	return c.conn.QueryRow(ctx, query, args...)
}

func (c *Client) Query(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

func (c *Client) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return c.conn.Select(ctx, dest, query, args...)
}

func (c *Client) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// IsNoRows reports whether err represents an empty result set.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
