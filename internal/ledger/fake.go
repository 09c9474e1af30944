package ledger

import (
	"context"
	"fmt"
)

// FakeClient serves a fixed, pre-loaded set of canister responses; it
// implements Client for syncer/coordinator tests in place of a live
// canister HTTP gateway.
type FakeClient struct {
	Archives    map[string][]ArchiveDescriptor
	Batches     map[string]map[uint64]TransactionsResponse // canisterID -> start -> response
	MetadataFor map[string]Metadata
	TipFor      map[string]uint64

	// FailOn, when set, is returned as the error for any call whose
	// canisterID matches, regardless of preloaded data.
	FailOn map[string]error
}

// NewFakeClient returns an empty FakeClient ready to be populated by tests.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Archives:    map[string][]ArchiveDescriptor{},
		Batches:     map[string]map[uint64]TransactionsResponse{},
		MetadataFor: map[string]Metadata{},
		TipFor:      map[string]uint64{},
		FailOn:      map[string]error{},
	}
}

func (f *FakeClient) ListArchives(_ context.Context, canisterID string) ([]ArchiveDescriptor, error) {
	if err, ok := f.FailOn[canisterID]; ok {
		return nil, err
	}
	return f.Archives[canisterID], nil
}

func (f *FakeClient) GetTransactions(_ context.Context, canisterID string, from, length uint64) (TransactionsResponse, error) {
	if err, ok := f.FailOn[canisterID]; ok {
		return TransactionsResponse{}, err
	}
	byStart, ok := f.Batches[canisterID]
	if !ok {
		return TransactionsResponse{}, fmt.Errorf("fake ledger: no batches configured for %s", canisterID)
	}
	resp, ok := byStart[from]
	if !ok {
		return TransactionsResponse{}, fmt.Errorf("fake ledger: no batch at from=%d for %s", from, canisterID)
	}
	if uint64(len(resp.Transactions)) > length {
		resp.Transactions = resp.Transactions[:length]
	}
	return resp, nil
}

func (f *FakeClient) GetMetadata(_ context.Context, canisterID string) (Metadata, error) {
	if err, ok := f.FailOn[canisterID]; ok {
		return Metadata{}, err
	}
	md, ok := f.MetadataFor[canisterID]
	if !ok {
		return Metadata{}, fmt.Errorf("fake ledger: no metadata configured for %s", canisterID)
	}
	return md, nil
}

func (f *FakeClient) GetTipLength(_ context.Context, canisterID string) (uint64, error) {
	if err, ok := f.FailOn[canisterID]; ok {
		return 0, err
	}
	return f.TipFor[canisterID], nil
}
