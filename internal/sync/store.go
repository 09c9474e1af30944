package sync

import (
	"context"

	"github.com/icrc-indexer/indexer/internal/amount"
	"github.com/icrc-indexer/indexer/internal/model"
)

// Store is the subset of the durable store the syncers need to commit
// a batch. *store.Store satisfies this; tests use an in-memory fake
// instead of a live ClickHouse instance.
type Store interface {
	PutTx(ctx context.Context, token string, tx model.Tx) error
	AppendAccountIndex(ctx context.Context, token, account string, index uint64) error
	SetBalance(ctx context.Context, token, account string, amt amount.Amount, atIndex uint64) error
	SetSupply(ctx context.Context, token string, amt amount.Amount, atIndex uint64) error
	PutAnomaly(ctx context.Context, token string, a model.Anomaly) error
	SetCursor(ctx context.Context, cursor model.Cursor) error
}
