package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/icrc-indexer/indexer/internal/amount"
	"github.com/icrc-indexer/indexer/internal/model"
)

// ErrNotFound is returned by lookups that find nothing, per the
// get_tx/get_cursor contract.
var ErrNotFound = errors.New("store: not found")

// Direction selects scan order for ScanTx.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Store implements the durable, per-token document collections plus
// the global sync_status collection, backed by ClickHouse. Writes go
// straight to the target tables since ReplacingMergeTree already gives
// idempotent re-application without a staging phase.
type Store struct {
	client *Client
	logger *zap.Logger
}

// New wraps an already-connected Client as a Store.
func New(client *Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Close releases the underlying ClickHouse connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// txRow is the wire shape persisted for one transaction; the variant
// payload is kept as opaque JSON since ClickHouse has no tagged-union
// column type and the decoder has already normalized it.
type txRow struct {
	Kind    model.Kind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// PutTx upserts tx keyed on (token, index). Re-applying identical
// content is a no-op by construction: ReplacingMergeTree collapses
// rows with the same sort key (idx) and clients that retry a batch
// after a crash always retry with the same content.
func (s *Store) PutTx(ctx context.Context, token string, tx model.Tx) error {
	t := tablesFor(token)

	payload, err := encodeTxPayload(tx)
	if err != nil {
		return fmt.Errorf("put_tx encode: %w", err)
	}
	row := txRow{Kind: tx.Kind, Payload: payload}
	encoded, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("put_tx marshal: %w", err)
	}

	var feeStr string
	if tx.Fee != nil {
		feeStr = tx.Fee.String()
	}
	var createdAt *uint64
	if tx.CreatedAtTime != nil {
		createdAt = tx.CreatedAtTime
	}

	batch, err := s.client.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (idx, kind, timestamp, fee, memo, created_at_time, payload)", t.transactions))
	if err != nil {
		return fmt.Errorf("put_tx prepare: %w", err)
	}
	if err := batch.Append(tx.Index, string(tx.Kind), tx.Timestamp, feeStr, tx.Memo, createdAt, string(encoded)); err != nil {
		return fmt.Errorf("put_tx append: %w", err)
	}
	return batch.Send()
}

func encodeTxPayload(tx model.Tx) (json.RawMessage, error) {
	switch tx.Kind {
	case model.KindMint:
		return json.Marshal(tx.Mint)
	case model.KindBurn:
		return json.Marshal(tx.Burn)
	case model.KindTransfer:
		return json.Marshal(tx.Transfer)
	case model.KindApprove:
		return json.Marshal(tx.Approve)
	default:
		return nil, fmt.Errorf("unknown tx kind %q", tx.Kind)
	}
}

// GetTx returns the transaction at index, or ErrNotFound.
func (s *Store) GetTx(ctx context.Context, token string, index uint64) (model.Tx, error) {
	t := tablesFor(token)
	var (
		kind      string
		timestamp uint64
		fee       string
		memo      []byte
		createdAt *uint64
		payload   string
	)
	row := s.client.QueryRow(ctx, fmt.Sprintf(
		"SELECT kind, timestamp, fee, memo, created_at_time, payload FROM %s FINAL WHERE idx = ?", t.transactions), index)
	if err := row.Scan(&kind, &timestamp, &fee, &memo, &createdAt, &payload); err != nil {
		if IsNoRows(err) {
			return model.Tx{}, ErrNotFound
		}
		return model.Tx{}, fmt.Errorf("get_tx: %w", err)
	}
	return decodeTxRow(token, index, kind, timestamp, fee, memo, createdAt, payload)
}

func decodeTxRow(token string, index uint64, kind string, timestamp uint64, fee string, memo []byte, createdAt *uint64, payload string) (model.Tx, error) {
	tx := model.Tx{Index: index, Token: token, Kind: model.Kind(kind), Timestamp: timestamp, Memo: memo, CreatedAtTime: createdAt}
	if fee != "" {
		f, err := amount.FromString(fee)
		if err != nil {
			return model.Tx{}, fmt.Errorf("get_tx decode fee: %w", err)
		}
		tx.Fee = &f
	}

	var wrapped txRow
	if err := json.Unmarshal([]byte(payload), &wrapped); err != nil {
		return model.Tx{}, fmt.Errorf("get_tx decode row: %w", err)
	}

	switch tx.Kind {
	case model.KindMint:
		var p model.MintPayload
		if err := json.Unmarshal(wrapped.Payload, &p); err != nil {
			return model.Tx{}, err
		}
		tx.Mint = &p
	case model.KindBurn:
		var p model.BurnPayload
		if err := json.Unmarshal(wrapped.Payload, &p); err != nil {
			return model.Tx{}, err
		}
		tx.Burn = &p
	case model.KindTransfer:
		var p model.TransferPayload
		if err := json.Unmarshal(wrapped.Payload, &p); err != nil {
			return model.Tx{}, err
		}
		tx.Transfer = &p
	case model.KindApprove:
		var p model.ApprovePayload
		if err := json.Unmarshal(wrapped.Payload, &p); err != nil {
			return model.Tx{}, err
		}
		tx.Approve = &p
	default:
		return model.Tx{}, fmt.Errorf("get_tx: unknown persisted kind %q", tx.Kind)
	}
	return tx, nil
}

// ScanTx returns transactions with index in [from, from+limit) (or the
// equivalent window walking backward for Descending), in the requested
// direction.
func (s *Store) ScanTx(ctx context.Context, token string, from uint64, limit int, dir Direction) ([]model.Tx, error) {
	t := tablesFor(token)
	order := "ASC"
	cmp := ">="
	if dir == Descending {
		order = "DESC"
		cmp = "<="
	}

	query := fmt.Sprintf(
		"SELECT idx, kind, timestamp, fee, memo, created_at_time, payload FROM %s FINAL WHERE idx %s ? ORDER BY idx %s LIMIT ?",
		t.transactions, cmp, order)

	rows, err := s.client.Query(ctx, query, from, limit)
	if err != nil {
		return nil, fmt.Errorf("scan_tx: %w", err)
	}
	defer rows.Close()

	var out []model.Tx
	for rows.Next() {
		var (
			idx       uint64
			kind      string
			timestamp uint64
			fee       string
			memo      []byte
			createdAt *uint64
			payload   string
		)
		if err := rows.Scan(&idx, &kind, &timestamp, &fee, &memo, &createdAt, &payload); err != nil {
			return nil, fmt.Errorf("scan_tx scan: %w", err)
		}
		tx, err := decodeTxRow(token, idx, kind, timestamp, fee, memo, createdAt, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// MaxIndex returns the highest persisted index for token, or -1 if none.
func (s *Store) MaxIndex(ctx context.Context, token string) (int64, error) {
	t := tablesFor(token)
	var max *uint64
	row := s.client.QueryRow(ctx, fmt.Sprintf("SELECT maxOrNull(idx) FROM %s", t.transactions))
	if err := row.Scan(&max); err != nil {
		return -1, fmt.Errorf("max_index: %w", err)
	}
	if max == nil {
		return -1, nil
	}
	return int64(*max), nil
}

// AppendAccountIndex adds index to account's ordered unique index set.
// Idempotent: a duplicate (account, idx) row collapses under
// ReplacingMergeTree on merge and is indistinguishable from a single
// insert to every query here (DISTINCT/FINAL) — never read-modify-write.
func (s *Store) AppendAccountIndex(ctx context.Context, token, account string, index uint64) error {
	t := tablesFor(token)
	batch, err := s.client.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (account, idx)", t.accounts))
	if err != nil {
		return fmt.Errorf("append_account_index prepare: %w", err)
	}
	if err := batch.Append(account, index); err != nil {
		return fmt.Errorf("append_account_index append: %w", err)
	}
	return batch.Send()
}

// AccountIndices returns account's committed indices in ascending order.
func (s *Store) AccountIndices(ctx context.Context, token, account string) ([]uint64, error) {
	t := tablesFor(token)
	rows, err := s.client.Query(ctx, fmt.Sprintf(
		"SELECT DISTINCT idx FROM %s FINAL WHERE account = ? ORDER BY idx ASC", t.accounts), account)
	if err != nil {
		return nil, fmt.Errorf("account_indices: %w", err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var idx uint64
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// SetBalance upserts account's balance. Zero amounts are preserved,
// never deleted.
func (s *Store) SetBalance(ctx context.Context, token, account string, amt amount.Amount, atIndex uint64) error {
	t := tablesFor(token)
	num, ok := new(big.Int).SetString(amt.String(), 10)
	if !ok {
		return fmt.Errorf("set_balance: invalid amount %q", amt.String())
	}
	batch, err := s.client.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (account, balance, balance_num, updated_at_index)", t.balances))
	if err != nil {
		return fmt.Errorf("set_balance prepare: %w", err)
	}
	if err := batch.Append(account, amt.String(), num, atIndex); err != nil {
		return fmt.Errorf("set_balance append: %w", err)
	}
	return batch.Send()
}

// GetBalance returns account's balance, or zero if no record exists.
func (s *Store) GetBalance(ctx context.Context, token, account string) (amount.Amount, error) {
	t := tablesFor(token)
	var balance string
	row := s.client.QueryRow(ctx, fmt.Sprintf("SELECT balance FROM %s FINAL WHERE account = ?", t.balances), account)
	if err := row.Scan(&balance); err != nil {
		if IsNoRows(err) {
			return amount.Zero(), nil
		}
		return amount.Zero(), fmt.Errorf("get_balance: %w", err)
	}
	return amount.FromString(balance)
}

// RankedBalances returns the top limit balances for token, ordered by
// balance descending (ties broken by account), reading the
// balances-by-amount materialized view instead of sorting the base
// table at query time.
func (s *Store) RankedBalances(ctx context.Context, token string, limit int) ([]model.BalanceRecord, error) {
	t := tablesFor(token)
	query := fmt.Sprintf(
		"SELECT account, balance, updated_at_index FROM %s FINAL ORDER BY balance_num DESC, account LIMIT ?",
		t.balancesByAmount)

	rows, err := s.client.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ranked_balances: %w", err)
	}
	defer rows.Close()

	var out []model.BalanceRecord
	for rows.Next() {
		var (
			account   string
			balance   string
			updatedAt uint64
		)
		if err := rows.Scan(&account, &balance, &updatedAt); err != nil {
			return nil, fmt.Errorf("ranked_balances scan: %w", err)
		}
		amt, err := amount.FromString(balance)
		if err != nil {
			return nil, fmt.Errorf("ranked_balances: %w", err)
		}
		out = append(out, model.BalanceRecord{Account: account, Balance: amt, UpdatedAtIndex: updatedAt})
	}
	return out, rows.Err()
}

// SetSupply upserts the token's total supply singleton.
func (s *Store) SetSupply(ctx context.Context, token string, amt amount.Amount, atIndex uint64) error {
	t := tablesFor(token)
	num, ok := new(big.Int).SetString(amt.String(), 10)
	if !ok {
		return fmt.Errorf("set_supply: invalid amount %q", amt.String())
	}
	batch, err := s.client.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (token, total_supply, total_supply_num, updated_at_index)", t.supply))
	if err != nil {
		return fmt.Errorf("set_supply prepare: %w", err)
	}
	if err := batch.Append(token, amt.String(), num, atIndex); err != nil {
		return fmt.Errorf("set_supply append: %w", err)
	}
	return batch.Send()
}

// GetSupply returns the token's total supply, or zero if unset.
func (s *Store) GetSupply(ctx context.Context, token string) (amount.Amount, error) {
	t := tablesFor(token)
	var supply string
	row := s.client.QueryRow(ctx, fmt.Sprintf("SELECT total_supply FROM %s FINAL WHERE token = ?", t.supply), token)
	if err := row.Scan(&supply); err != nil {
		if IsNoRows(err) {
			return amount.Zero(), nil
		}
		return amount.Zero(), fmt.Errorf("get_supply: %w", err)
	}
	return amount.FromString(supply)
}

// PutAnomaly appends an anomaly record (append-only).
func (s *Store) PutAnomaly(ctx context.Context, token string, a model.Anomaly) error {
	t := tablesFor(token)
	batch, err := s.client.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (account, idx, kind, details)", t.anomalies))
	if err != nil {
		return fmt.Errorf("put_anomaly prepare: %w", err)
	}
	if err := batch.Append(a.Account, a.Index, string(a.Kind), a.Details); err != nil {
		return fmt.Errorf("put_anomaly append: %w", err)
	}
	return batch.Send()
}

// GetCursor returns token's sync cursor, or ErrNotFound if none exists.
func (s *Store) GetCursor(ctx context.Context, token string) (model.Cursor, error) {
	var (
		lastIndexed int64
		archiveDone uint8
		phase       string
		updatedAt   int64
		owner       string
		lockExpires int64
	)
	row := s.client.QueryRow(ctx, fmt.Sprintf(
		"SELECT last_indexed, archive_phase_complete, phase, updated_at, owner, lock_expires_at FROM %s FINAL WHERE token = ?",
		syncStatusTable), token)
	if err := row.Scan(&lastIndexed, &archiveDone, &phase, &updatedAt, &owner, &lockExpires); err != nil {
		if IsNoRows(err) {
			return model.Cursor{}, ErrNotFound
		}
		return model.Cursor{}, fmt.Errorf("get_cursor: %w", err)
	}
	return model.Cursor{
		Token:                token,
		LastIndexed:          lastIndexed,
		ArchivePhaseComplete: archiveDone != 0,
		Phase:                model.Phase(phase),
		UpdatedAt:            updatedAt,
		Owner:                owner,
		LockExpiresAt:        lockExpires,
	}, nil
}

// SetCursor upserts token's sync cursor. This is the linearization
// point for a sync batch's commit discipline.
func (s *Store) SetCursor(ctx context.Context, cursor model.Cursor) error {
	cursor.UpdatedAt = time.Now().UnixNano()
	batch, err := s.client.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (token, last_indexed, archive_phase_complete, phase, updated_at, owner, lock_expires_at)", syncStatusTable))
	if err != nil {
		return fmt.Errorf("set_cursor prepare: %w", err)
	}
	archiveDone := uint8(0)
	if cursor.ArchivePhaseComplete {
		archiveDone = 1
	}
	if err := batch.Append(cursor.Token, cursor.LastIndexed, archiveDone, string(cursor.Phase), cursor.UpdatedAt, cursor.Owner, cursor.LockExpiresAt); err != nil {
		return fmt.Errorf("set_cursor append: %w", err)
	}
	return batch.Send()
}

// Reset drops all five per-token collections and deletes
// sync_status[token].
func (s *Store) Reset(ctx context.Context, token string) error {
	if err := s.DropToken(ctx, token); err != nil {
		return err
	}
	return s.client.Exec(ctx, fmt.Sprintf("ALTER TABLE %s DELETE WHERE token = ?", syncStatusTable), token)
}
