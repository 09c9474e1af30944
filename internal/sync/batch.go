// Package sync implements the Archive Syncer and Ledger Syncer: the
// two procedures that fetch, decode, apply, and commit batches of
// transactions. batch.go holds the commit discipline shared by both.
package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/icrc-indexer/indexer/internal/balance"
	"github.com/icrc-indexer/indexer/internal/decode"
	"github.com/icrc-indexer/indexer/internal/model"
)

// BatchSize is the default transaction count per commit batch.
const BatchSize = 1000

// applyBatch decodes raw records starting at firstIndex, applies them
// to state in order, and commits in a fixed order: (a) write all Tx,
// (b) append account indices, (c) balances/supply/anomalies. It
// returns the updated engine state and the new last-indexed value;
// writing the cursor, step (d), is left to the calling syncer.
func applyBatch(
	ctx context.Context,
	logger *zap.Logger,
	st Store,
	token string,
	state balance.State,
	lastIndexed int64,
	firstIndex uint64,
	raw []json.RawMessage,
) (balance.State, int64, error) {
	if len(raw) == 0 {
		return state, lastIndexed, nil
	}

	txs := make([]model.Tx, 0, len(raw))
	for i, r := range raw {
		idx := firstIndex + uint64(i)
		tx, err := decode.Decode(r, idx, token)
		if err != nil {
			logger.Error("decode failed, aborting batch",
				zap.String("token", token), zap.Uint64("index", idx), zap.Error(err))
			return state, lastIndexed, fmt.Errorf("sync: decode batch at index %d: %w", idx, err)
		}
		txs = append(txs, tx)
	}

	touched := map[string]struct{}{}
	var anomalies []model.Anomaly
	// balance.Apply updates the balances map in place, so the batch works
	// on a copy: on any error below the caller's state is left untouched.
	newState := balance.NewState()
	newState.Supply = state.Supply
	for account, bal := range state.Balances {
		newState.Balances[account] = bal
	}
	newLast := lastIndexed
	for _, tx := range txs {
		result, err := balance.Apply(newState, tx, newLast)
		if err != nil {
			return state, lastIndexed, fmt.Errorf("sync: apply index %d: %w", tx.Index, err)
		}
		newState = result.State
		newLast = int64(tx.Index)
		anomalies = append(anomalies, result.Anomalies...)
		for _, a := range result.TouchedAccounts {
			touched[a] = struct{}{}
		}
	}

	// (a) write all Tx documents.
	for _, tx := range txs {
		if err := st.PutTx(ctx, token, tx); err != nil {
			return state, lastIndexed, fmt.Errorf("sync: put_tx %d: %w", tx.Index, err)
		}
	}

	// (b) append account indices.
	for _, tx := range txs {
		accounts := accountsTouchedBy(tx)
		for _, a := range accounts {
			if err := st.AppendAccountIndex(ctx, token, a, tx.Index); err != nil {
				return state, lastIndexed, fmt.Errorf("sync: append_account_index %s/%d: %w", a, tx.Index, err)
			}
		}
	}

	// (c) balances and supply.
	for account := range touched {
		bal := newState.Balances[account]
		if err := st.SetBalance(ctx, token, account, bal, uint64(newLast)); err != nil {
			return state, lastIndexed, fmt.Errorf("sync: set_balance %s: %w", account, err)
		}
	}
	if err := st.SetSupply(ctx, token, newState.Supply, uint64(newLast)); err != nil {
		return state, lastIndexed, fmt.Errorf("sync: set_supply: %w", err)
	}
	for _, a := range anomalies {
		if err := st.PutAnomaly(ctx, token, a); err != nil {
			return state, lastIndexed, fmt.Errorf("sync: put_anomaly: %w", err)
		}
	}

	return newState, newLast, nil
}

func accountsTouchedBy(tx model.Tx) []string {
	switch tx.Kind {
	case model.KindMint:
		return []string{tx.Mint.To.String()}
	case model.KindBurn:
		accts := []string{tx.Burn.From.String()}
		if tx.Burn.Spender != nil {
			accts = append(accts, tx.Burn.Spender.String())
		}
		return accts
	case model.KindTransfer:
		accts := []string{tx.Transfer.From.String(), tx.Transfer.To.String()}
		if tx.Transfer.Spender != nil {
			accts = append(accts, tx.Transfer.Spender.String())
		}
		return accts
	case model.KindApprove:
		return []string{tx.Approve.From.String(), tx.Approve.Spender.String()}
	default:
		return nil
	}
}
