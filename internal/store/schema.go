package store

import (
	"context"
	"fmt"
)

// tableNames holds the per-token table names (the five collections
// plus their two materialized views), namespaced by the symbol prefix.
type tableNames struct {
	transactions     string
	transactionsByTS string
	accounts         string
	balances         string
	balancesByAmount string
	anomalies        string
	supply           string
}

func tablesFor(symbol string) tableNames {
	p := SanitizeName(symbol)
	return tableNames{
		transactions:     p + "_transactions",
		transactionsByTS: p + "_transactions_by_ts",
		accounts:         p + "_accounts",
		balances:         p + "_balances",
		balancesByAmount: p + "_balances_by_amount",
		anomalies:        p + "_balance_anomalies",
		supply:           p + "_total_supply",
	}
}

const syncStatusTable = "sync_status"

// InitializeToken creates the five per-token collections for symbol, if
// they do not already exist. Idempotent: safe to call on every
// coordinator Init.
func (s *Store) InitializeToken(ctx context.Context, symbol string) error {
	t := tablesFor(symbol)

	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	idx UInt64,
	kind String,
	timestamp UInt64,
	fee String,
	memo String,
	created_at_time Nullable(UInt64),
	payload String
) ENGINE = ReplacingMergeTree
ORDER BY idx`, t.transactions),

		fmt.Sprintf(`
CREATE MATERIALIZED VIEW IF NOT EXISTS %s
ENGINE = ReplacingMergeTree
ORDER BY (timestamp, idx)
POPULATE AS SELECT idx, kind, timestamp, fee, memo, created_at_time, payload FROM %s`,
			t.transactionsByTS, t.transactions),

		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	account String,
	idx UInt64
) ENGINE = ReplacingMergeTree
ORDER BY (account, idx)`, t.accounts),

		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	account String,
	balance String,
	balance_num UInt256,
	updated_at_index UInt64
) ENGINE = ReplacingMergeTree(updated_at_index)
ORDER BY account`, t.balances),

		fmt.Sprintf(`
CREATE MATERIALIZED VIEW IF NOT EXISTS %s
ENGINE = ReplacingMergeTree(updated_at_index)
ORDER BY (balance_num DESC, account)
POPULATE AS SELECT account, balance, balance_num, updated_at_index FROM %s`,
			t.balancesByAmount, t.balances),

		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	account String,
	idx UInt64,
	kind String,
	details String,
	created_at DateTime64(9) DEFAULT now64(9)
) ENGINE = MergeTree
ORDER BY (account, idx)`, t.anomalies),

		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	token String,
	total_supply String,
	total_supply_num UInt256,
	updated_at_index UInt64
) ENGINE = ReplacingMergeTree(updated_at_index)
ORDER BY token`, t.supply),
	}

	for _, stmt := range stmts {
		if err := s.client.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initialize token %s: %w", symbol, err)
		}
	}
	return nil
}

// InitializeGlobal creates the global sync_status collection.
func (s *Store) InitializeGlobal(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	token String,
	last_indexed Int64,
	archive_phase_complete UInt8,
	phase String,
	updated_at Int64,
	owner String,
	lock_expires_at Int64
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY token`, syncStatusTable)

	if err := s.client.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("initialize %s: %w", syncStatusTable, err)
	}
	return nil
}

// DropToken drops all five per-token collections.
func (s *Store) DropToken(ctx context.Context, symbol string) error {
	t := tablesFor(symbol)
	for _, table := range []string{t.transactionsByTS, t.transactions, t.balancesByAmount, t.accounts, t.balances, t.anomalies, t.supply} {
		if err := s.client.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	return nil
}
