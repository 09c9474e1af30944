package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/icrc-indexer/indexer/internal/balance"
	"github.com/icrc-indexer/indexer/internal/decode"
	"github.com/icrc-indexer/indexer/internal/ledger"
	"github.com/icrc-indexer/indexer/internal/model"
)

// ErrSchemaIncompatible is returned when the probe-before-batch fetch
// fails to decode.
var ErrSchemaIncompatible = fmt.Errorf("sync: schema incompatible")

// ArchiveSyncer walks archive descriptors in order and batch-commits
// their ranges.
type ArchiveSyncer struct {
	client ledger.Client
	store  Store
	logger *zap.Logger
}

// NewArchiveSyncer builds an ArchiveSyncer.
func NewArchiveSyncer(client ledger.Client, st Store, logger *zap.Logger) *ArchiveSyncer {
	return &ArchiveSyncer{client: client, store: st, logger: logger}
}

// Run walks every archive descriptor for canisterID in ascending
// `from` order, batch-committing ranges that intersect
// (cursor.LastIndexed, +inf). On the last batch of the last
// descriptor it returns archiveComplete=true so the caller can set
// ArchivePhaseComplete atomically with the final cursor write.
func (a *ArchiveSyncer) Run(ctx context.Context, token, canisterID string, cursor model.Cursor, state balance.State) (model.Cursor, balance.State, bool, error) {
	descriptors, err := a.client.ListArchives(ctx, canisterID)
	if err != nil {
		return cursor, state, false, fmt.Errorf("archive sync: list_archives: %w", err)
	}

	if len(descriptors) == 0 {
		// No archive canisters exist for this token (all history still
		// lives on the main ledger): there is nothing for this phase to
		// do, so it is immediately complete and the live syncer takes
		// over from index 0.
		cursor.ArchivePhaseComplete = true
		cursor.Phase = model.PhaseArchive
		if err := a.store.SetCursor(ctx, cursor); err != nil {
			return cursor, state, false, fmt.Errorf("archive sync: set_cursor: %w", err)
		}
		return cursor, state, true, nil
	}

	probed := false

	for i, d := range descriptors {
		if int64(d.To) <= cursor.LastIndexed {
			continue // fully consumed already
		}
		start := d.From
		if int64(start) <= cursor.LastIndexed {
			start = uint64(cursor.LastIndexed + 1)
		}

		if !probed {
			if err := a.probe(ctx, d.CanisterID, start); err != nil {
				return cursor, state, false, err
			}
			probed = true
		} else {
			// Probe every archive, not just the first. A probe failure here
			// means *this* archive is unreachable — end the pass with a
			// warning instead of an error; later archives are not walked,
			// so the cursor has not advanced past it and it is retried on
			// the next Run.
			if err := a.probe(ctx, d.CanisterID, start); err != nil {
				a.logger.Warn("archive unreachable, ending this pass",
					zap.String("token", token), zap.String("canister", d.CanisterID), zap.Error(err))
				break
			}
		}

		for pos := start; pos <= d.To; {
			length := min64(BatchSize, d.To-pos+1)
			resp, err := a.client.GetTransactions(ctx, d.CanisterID, pos, length)
			if err != nil {
				return cursor, state, false, fmt.Errorf("archive sync: get_transactions %s@%d: %w", d.CanisterID, pos, err)
			}

			newState, newLast, err := applyBatch(ctx, a.logger, a.store, token, state, cursor.LastIndexed, pos, resp.Transactions)
			if err != nil {
				return cursor, state, false, err
			}
			state = newState

			isLastBatchOfLastDescriptor := i == len(descriptors)-1 && pos+length-1 >= d.To
			cursor.LastIndexed = newLast
			cursor.Phase = model.PhaseArchive
			cursor.ArchivePhaseComplete = isLastBatchOfLastDescriptor
			if err := a.store.SetCursor(ctx, cursor); err != nil {
				return cursor, state, false, fmt.Errorf("archive sync: set_cursor: %w", err)
			}

			pos += length
		}
	}

	if !cursor.ArchivePhaseComplete && uint64(cursor.LastIndexed+1) > descriptors[len(descriptors)-1].To {
		// Every descriptor was already fully consumed on entry (the loop
		// above skipped all of them) but a prior run never observed the
		// completion flag, e.g. the archive list grew shorter on a
		// later list_archives call. Nothing left to do for this phase.
		cursor.ArchivePhaseComplete = true
		cursor.Phase = model.PhaseArchive
		if err := a.store.SetCursor(ctx, cursor); err != nil {
			return cursor, state, false, fmt.Errorf("archive sync: set_cursor: %w", err)
		}
	}

	return cursor, state, cursor.ArchivePhaseComplete, nil
}

// FetchRange probes and batch-fetches a known archive canister range
// directly, without re-listing archives. This is the mechanism the
// live syncer reroutes through when a get_transactions response
// reports archived_ranges: the live ledger already told the caller
// exactly which canister, offset, and length hold the data, so there
// is no descriptor list to walk.
func (a *ArchiveSyncer) FetchRange(ctx context.Context, token string, cursor model.Cursor, state balance.State, canisterID string, from, length uint64) (model.Cursor, balance.State, error) {
	if int64(from) <= cursor.LastIndexed {
		skip := uint64(cursor.LastIndexed+1) - from
		if skip >= length {
			return cursor, state, nil // fully consumed already
		}
		from += skip
		length -= skip
	}

	if err := a.probe(ctx, canisterID, from); err != nil {
		return cursor, state, err
	}

	for pos, remaining := from, length; remaining > 0; {
		batchLen := min64(BatchSize, remaining)
		resp, err := a.client.GetTransactions(ctx, canisterID, pos, batchLen)
		if err != nil {
			return cursor, state, fmt.Errorf("archive sync: get_transactions %s@%d: %w", canisterID, pos, err)
		}

		newState, newLast, err := applyBatch(ctx, a.logger, a.store, token, state, cursor.LastIndexed, pos, resp.Transactions)
		if err != nil {
			return cursor, state, err
		}
		state = newState
		cursor.LastIndexed = newLast
		if err := a.store.SetCursor(ctx, cursor); err != nil {
			return cursor, state, fmt.Errorf("archive sync: set_cursor: %w", err)
		}

		pos += batchLen
		remaining -= batchLen
	}

	return cursor, state, nil
}

// probe issues a one-transaction fetch to validate schema
// compatibility before trusting a descriptor.
func (a *ArchiveSyncer) probe(ctx context.Context, canisterID string, from uint64) error {
	resp, err := a.client.GetTransactions(ctx, canisterID, from, 1)
	if err != nil {
		return fmt.Errorf("%w: probe fetch %s@%d: %v", ErrSchemaIncompatible, canisterID, from, err)
	}
	if len(resp.Transactions) == 0 {
		return nil
	}
	if _, err := decode.Decode(resp.Transactions[0], from, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaIncompatible, err)
	}
	return nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
