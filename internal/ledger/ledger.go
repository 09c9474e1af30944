// Package ledger implements the request/response oracle for a ledger
// or archive canister.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
)

// BatchMax is the maximum transaction count requested in a single
// get_transactions call.
const BatchMax = 2000

// ErrUnavailable is returned when a call exhausts its retry budget.
var ErrUnavailable = errors.New("ledger: unavailable")

// ArchiveDescriptor names an auxiliary canister and the inclusive
// index range it holds.
type ArchiveDescriptor struct {
	CanisterID string
	From       uint64
	To         uint64
}

// ArchivedRange tells the caller that part of a get_transactions
// response actually lives in an archive, not the canister queried.
type ArchivedRange struct {
	CanisterID string
	From       uint64
	Length     uint64
}

// TransactionsResponse is the raw result of get_transactions, before
// decoding. Transactions are opaque JSON: the decoder normalizes each
// one given its absolute index.
type TransactionsResponse struct {
	Transactions   []json.RawMessage
	ArchivedRanges []ArchivedRange
}

// Metadata is a ledger or archive canister's token metadata.
type Metadata struct {
	Decimals    uint8
	Symbol      string
	Name        string
	TotalSupply string
}

// Client is the ledger oracle interface: every implementation (HTTP,
// fake) must honor the same retry/timeout contract.
type Client interface {
	ListArchives(ctx context.Context, canisterID string) ([]ArchiveDescriptor, error)
	GetTransactions(ctx context.Context, canisterID string, from, length uint64) (TransactionsResponse, error)
	GetMetadata(ctx context.Context, canisterID string) (Metadata, error)
	GetTipLength(ctx context.Context, canisterID string) (uint64, error)
}
