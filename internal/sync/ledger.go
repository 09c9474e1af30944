package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/icrc-indexer/indexer/internal/balance"
	"github.com/icrc-indexer/indexer/internal/ledger"
	"github.com/icrc-indexer/indexer/internal/model"
)

// TickInterval is the live syncer's fixed poll period.
const TickInterval = 5 * time.Second

// MaxSoftRetries bounds retry cycles per tick before giving up on a
// tick without advancing the cursor.
const MaxSoftRetries = 3

// LedgerSyncer catches the live ledger up from the cursor on a fixed
// tick, forever. It is typed against the same Store interface
// ArchiveSyncer uses so both can run against a fake in tests without a
// live ClickHouse instance.
type LedgerSyncer struct {
	client  ledger.Client
	store   Store
	logger  *zap.Logger
	archive *ArchiveSyncer
}

// NewLedgerSyncer builds a LedgerSyncer. archive is used to reroute
// any archived_ranges a get_transactions response returns.
func NewLedgerSyncer(client ledger.Client, st Store, archive *ArchiveSyncer, logger *zap.Logger) *LedgerSyncer {
	return &LedgerSyncer{client: client, store: st, logger: logger, archive: archive}
}

// Tick performs one poll-and-commit iteration: read the tip, fetch
// anything new, decode and apply it, and commit.
func (l *LedgerSyncer) Tick(ctx context.Context, token, canisterID string, cursor model.Cursor, state balance.State) (model.Cursor, balance.State, error) {
	var lastErr error
	for attempt := 0; attempt < MaxSoftRetries; attempt++ {
		newCursor, newState, err := l.attempt(ctx, token, canisterID, cursor, state)
		if err == nil {
			return newCursor, newState, nil
		}
		lastErr = err
		l.logger.Warn("ledger tick attempt failed",
			zap.String("token", token), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	l.logger.Error("ledger tick exhausted retries, cursor unchanged",
		zap.String("token", token), zap.Error(lastErr))
	return cursor, state, nil // soft failure: schedule next tick without advancing
}

func (l *LedgerSyncer) attempt(ctx context.Context, token, canisterID string, cursor model.Cursor, state balance.State) (model.Cursor, balance.State, error) {
	tip, err := l.client.GetTipLength(ctx, canisterID)
	if err != nil {
		return cursor, state, fmt.Errorf("ledger sync: get_tip_length: %w", err)
	}

	if tip == uint64(cursor.LastIndexed+1) {
		return cursor, state, nil // nothing new
	}

	from := uint64(cursor.LastIndexed + 1)
	length := tip - from
	if length > BatchSize {
		length = BatchSize
	}

	resp, err := l.client.GetTransactions(ctx, canisterID, from, length)
	if err != nil {
		return cursor, state, fmt.Errorf("ledger sync: get_transactions: %w", err)
	}

	if len(resp.ArchivedRanges) > 0 {
		cursor, state, err = l.rerouteArchived(ctx, token, cursor, state, resp.ArchivedRanges)
		if err != nil {
			return cursor, state, err
		}
	}

	if len(resp.Transactions) == 0 {
		return cursor, state, nil
	}

	newState, newLast, err := applyBatch(ctx, l.logger, l.store, token, state, cursor.LastIndexed, from, resp.Transactions)
	if err != nil {
		return cursor, state, err
	}

	cursor.LastIndexed = newLast
	cursor.Phase = model.PhaseLive
	if err := l.store.SetCursor(ctx, cursor); err != nil {
		return cursor, state, fmt.Errorf("ledger sync: set_cursor: %w", err)
	}
	return cursor, newState, nil
}

// rerouteArchived sends any archived_ranges the live ledger reported
// through the archive syncer's direct-fetch mechanism: each range
// already names its canister, offset, and length, so it is fetched
// straight from that canister rather than by re-walking a descriptor
// list.
func (l *LedgerSyncer) rerouteArchived(ctx context.Context, token string, cursor model.Cursor, state balance.State, ranges []ledger.ArchivedRange) (model.Cursor, balance.State, error) {
	for _, r := range ranges {
		newCursor, newState, err := l.archive.FetchRange(ctx, token, cursor, state, r.CanisterID, r.From, r.Length)
		if err != nil {
			return cursor, state, fmt.Errorf("ledger sync: reroute archived range %s: %w", r.CanisterID, err)
		}
		cursor, state = newCursor, newState
	}
	return cursor, state, nil
}
