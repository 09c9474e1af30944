package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/icrc-indexer/indexer/internal/amount"
	"github.com/icrc-indexer/indexer/internal/balance"
	"github.com/icrc-indexer/indexer/internal/ledger"
	"github.com/icrc-indexer/indexer/internal/model"
)

func mustAmount(s string) amount.Amount {
	a, err := amount.FromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

// fakeStore is an in-memory implementation of the Store interface the
// syncers need, standing in for a live ClickHouse-backed store.Store in
// these tests.
type fakeStore struct {
	mu        sync.Mutex
	txs       map[uint64]model.Tx
	accounts  map[string]map[uint64]bool
	balances  map[string]amount.Amount
	supply    amount.Amount
	anomalies []model.Anomaly
	cursor    model.Cursor
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		txs:      map[uint64]model.Tx{},
		accounts: map[string]map[uint64]bool{},
		balances: map[string]amount.Amount{},
		supply:   amount.Zero(),
		cursor:   model.Cursor{LastIndexed: -1},
	}
}

func (f *fakeStore) PutTx(_ context.Context, _ string, tx model.Tx) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.Index] = tx
	return nil
}

func (f *fakeStore) AppendAccountIndex(_ context.Context, _, account string, index uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.accounts[account]
	if !ok {
		set = map[uint64]bool{}
		f.accounts[account] = set
	}
	set[index] = true
	return nil
}

func (f *fakeStore) SetBalance(_ context.Context, _, account string, amt amount.Amount, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[account] = amt
	return nil
}

func (f *fakeStore) SetSupply(_ context.Context, _ string, amt amount.Amount, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supply = amt
	return nil
}

func (f *fakeStore) PutAnomaly(_ context.Context, _ string, a model.Anomaly) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anomalies = append(f.anomalies, a)
	return nil
}

func (f *fakeStore) SetCursor(_ context.Context, cursor model.Cursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = cursor
	return nil
}

func (f *fakeStore) indices() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, 0, len(f.txs))
	for idx := range f.txs {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *fakeStore) accountIndices(account string) []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, 0)
	for idx := range f.accounts[account] {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func mintRaw(to, amt string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"kind":"mint","timestamp":1700000000,"mint":{"to":%q,"amount":%q}}`, to, amt))
}

func transferRaw(from, to, amt, fee string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"kind":"transfer","timestamp":1700000000,"fee":%q,"transfer":{"from":%q,"to":%q,"amount":%q}}`,
		fee, from, to, amt))
}

// TestArchiveThenLiveProducesDenseIndices drives 5 txs from an archive
// canister, then 3 more from the live ledger, yielding dense indices
// 0-7 and archive_phase_complete=true.
func TestArchiveThenLiveProducesDenseIndices(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	client := ledger.NewFakeClient()
	client.Archives["ledger-1"] = []ledger.ArchiveDescriptor{
		{CanisterID: "archive-x", From: 0, To: 4},
	}
	client.Batches["archive-x"] = map[uint64]ledger.TransactionsResponse{
		0: {Transactions: []json.RawMessage{
			mintRaw("A", "100"),
			mintRaw("A", "50"),
			mintRaw("B", "10"),
			transferRaw("A", "B", "5", "0"),
			transferRaw("B", "A", "1", "0"),
		}},
	}
	client.Batches["ledger-1"] = map[uint64]ledger.TransactionsResponse{
		5: {Transactions: []json.RawMessage{
			mintRaw("A", "1"),
			mintRaw("B", "1"),
			transferRaw("A", "B", "1", "0"),
		}},
	}
	client.TipFor["ledger-1"] = 8

	fs := newFakeStore()
	archiveSyncer := NewArchiveSyncer(client, fs, logger)

	cursor := fs.cursor
	state := balance.NewState()

	cursor, state, complete, err := archiveSyncer.Run(ctx, "T", "ledger-1", cursor, state)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, int64(4), cursor.LastIndexed)

	// Live phase: one tick reads the fake ledger's tip length of 8 and
	// pulls indices 5-7 from the live ledger.
	ls := NewLedgerSyncer(client, fs, archiveSyncer, logger)
	cursor, state, err = ls.Tick(ctx, "T", "ledger-1", cursor, state)
	require.NoError(t, err)

	assert.Equal(t, int64(7), cursor.LastIndexed)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4, 5, 6, 7}, fs.indices())
}

// TestResumeFromMidBatchMatchesUninterruptedRun verifies that killing
// after index 3 and resuming yields the same final state as an
// uninterrupted run, with no duplicate account entries.
func TestResumeFromMidBatchMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	buildClient := func() *ledger.FakeClient {
		c := ledger.NewFakeClient()
		c.Archives["ledger-1"] = []ledger.ArchiveDescriptor{{CanisterID: "archive-x", From: 0, To: 4}}
		c.Batches["archive-x"] = map[uint64]ledger.TransactionsResponse{
			// Batch as it would be fetched from a fresh start...
			0: {Transactions: []json.RawMessage{
				mintRaw("A", "100"),
				mintRaw("A", "50"),
				mintRaw("B", "10"),
				transferRaw("A", "B", "5", "0"),
				transferRaw("B", "A", "1", "0"),
			}},
			// ...and as it would be fetched resuming from index 4: the
			// real canister answers any valid `from`, the fake just needs
			// both offsets registered.
			4: {Transactions: []json.RawMessage{
				transferRaw("B", "A", "1", "0"),
			}},
		}
		return c
	}

	// Uninterrupted run.
	freshStore := newFakeStore()
	freshSyncer := NewArchiveSyncer(buildClient(), freshStore, logger)
	_, freshState, _, err := freshSyncer.Run(ctx, "T", "ledger-1", freshStore.cursor, balance.NewState())
	require.NoError(t, err)

	// Interrupted run: pretend the process already committed through
	// index 3 before crashing (a prior batch write succeeded).
	resumedStore := newFakeStore()
	resumedStore.cursor = model.Cursor{LastIndexed: 3}
	resumedStore.txs[0] = model.Tx{Index: 0}
	resumedStore.txs[1] = model.Tx{Index: 1}
	resumedStore.txs[2] = model.Tx{Index: 2}
	resumedStore.txs[3] = model.Tx{Index: 3}
	priorState := balance.NewState()
	priorState.Balances["A"] = mustAmount("145") // 100+50-5
	priorState.Balances["B"] = mustAmount("15")  // 10+5
	priorState.Supply = mustAmount("160")

	resumedSyncer := NewArchiveSyncer(buildClient(), resumedStore, logger)
	_, resumedState, complete, err := resumedSyncer.Run(ctx, "T", "ledger-1", resumedStore.cursor, priorState)
	require.NoError(t, err)
	assert.True(t, complete)

	assert.Equal(t, freshState.Balances["A"].String(), resumedState.Balances["A"].String())
	assert.Equal(t, freshState.Balances["B"].String(), resumedState.Balances["B"].String())
	assert.Equal(t, freshState.Supply.String(), resumedState.Supply.String())

	for _, account := range []string{"A", "B"} {
		idxs := resumedStore.accountIndices(account)
		seen := map[uint64]bool{}
		for _, idx := range idxs {
			assert.False(t, seen[idx], "duplicate account index entry for %s: %d", account, idx)
			seen[idx] = true
		}
	}
}

// TestArchivePhaseCompletesWithNoArchives covers the token-with-no-
// archives edge case: the phase must not spin forever waiting for a
// "last batch" that never happens.
func TestArchivePhaseCompletesWithNoArchives(t *testing.T) {
	ctx := context.Background()
	client := ledger.NewFakeClient()
	client.Archives["ledger-1"] = nil

	fs := newFakeStore()
	syncer := NewArchiveSyncer(client, fs, zap.NewNop())

	cursor, _, complete, err := syncer.Run(ctx, "T", "ledger-1", fs.cursor, balance.NewState())
	require.NoError(t, err)
	assert.True(t, complete)
	assert.True(t, cursor.ArchivePhaseComplete)
}

// TestLedgerTickReroutesArchivedRanges verifies that a live
// get_transactions response naming an archived_ranges entry is
// fetched directly from that archive canister, not by re-listing the
// main ledger's archives.
func TestLedgerTickReroutesArchivedRanges(t *testing.T) {
	ctx := context.Background()
	client := ledger.NewFakeClient()
	client.TipFor["ledger-1"] = 2
	client.Batches["ledger-1"] = map[uint64]ledger.TransactionsResponse{
		0: {
			ArchivedRanges: []ledger.ArchivedRange{
				{CanisterID: "archive-y", From: 0, Length: 2},
			},
		},
	}
	client.Batches["archive-y"] = map[uint64]ledger.TransactionsResponse{
		0: {Transactions: []json.RawMessage{
			mintRaw("A", "10"),
			mintRaw("B", "20"),
		}},
	}
	fs := newFakeStore()
	archiveSyncer := NewArchiveSyncer(client, fs, zap.NewNop())
	ls := NewLedgerSyncer(client, fs, archiveSyncer, zap.NewNop())

	cursor, _, err := ls.Tick(ctx, "T", "ledger-1", fs.cursor, balance.NewState())
	require.NoError(t, err)

	assert.Equal(t, int64(1), cursor.LastIndexed)
	assert.Equal(t, []uint64{0, 1}, fs.indices())
}

// TestLedgerTickNothingNewLeavesCursorUnchanged verifies that a tick
// finding no new transactions leaves the cursor untouched.
func TestLedgerTickNothingNewLeavesCursorUnchanged(t *testing.T) {
	ctx := context.Background()
	client := ledger.NewFakeClient()
	client.TipFor["ledger-1"] = 3

	fs := newFakeStore()
	fs.cursor = model.Cursor{LastIndexed: 2}
	archiveSyncer := NewArchiveSyncer(client, fs, zap.NewNop())
	ls := NewLedgerSyncer(client, fs, archiveSyncer, zap.NewNop())

	cursor, _, err := ls.Tick(ctx, "T", "ledger-1", fs.cursor, balance.NewState())
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor.LastIndexed)
}
