package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icrc-indexer/indexer/internal/model"
)

func TestDecodeMintIntegerAmount(t *testing.T) {
	raw := []byte(`{"kind":"mint","timestamp":1700000000,"mint":{"to":"alice","amount":1000}}`)
	tx, err := Decode(raw, 0, "ICP")
	require.NoError(t, err)

	assert.Equal(t, model.KindMint, tx.Kind)
	require.NotNil(t, tx.Mint)
	assert.Equal(t, "alice", tx.Mint.To.String())
	assert.Equal(t, "1000", tx.Mint.Amount.String())
	// 10-digit seconds timestamp normalized to nanoseconds.
	assert.Equal(t, uint64(1700000000)*1_000_000_000, tx.Timestamp)
}

func TestDecodeTransferSequenceHeadedAmount(t *testing.T) {
	raw := []byte(`{
		"kind":"transfer",
		"timestamp":1700000000000000000,
		"fee":"1",
		"transfer":{"from":"alice","to":"bob","amount":["300","archive-extra-field"]}
	}`)
	tx, err := Decode(raw, 5, "ICP")
	require.NoError(t, err)

	assert.Equal(t, model.KindTransfer, tx.Kind)
	require.NotNil(t, tx.Transfer)
	assert.Equal(t, "300", tx.Transfer.Amount.String())
	require.NotNil(t, tx.Fee)
	assert.Equal(t, "1", tx.Fee.String())
	// 19-digit nanosecond timestamp passes through unchanged.
	assert.Equal(t, uint64(1700000000000000000), tx.Timestamp)
}

func TestDecodeAccountObjectWithSubaccount(t *testing.T) {
	raw := []byte(`{
		"kind":"burn",
		"timestamp":1700000000,
		"burn":{"from":{"owner":"alice","subaccount":"AQ=="},"amount":"50"}
	}`)
	tx, err := Decode(raw, 1, "ICP")
	require.NoError(t, err)
	require.NotNil(t, tx.Burn)
	assert.Equal(t, "alice:01", tx.Burn.From.String())
}

func TestDecodeZeroSubaccountCanonicalizesToAbsent(t *testing.T) {
	raw := []byte(`{
		"kind":"burn",
		"timestamp":1700000000,
		"burn":{"from":{"owner":"alice","subaccount":[0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]},"amount":"50"}
	}`)
	tx, err := Decode(raw, 1, "ICP")
	require.NoError(t, err)
	require.NotNil(t, tx.Burn)
	assert.Equal(t, "alice", tx.Burn.From.String())
}

func TestDecodeUnknownKindIsHardError(t *testing.T) {
	raw := []byte(`{"kind":"teleport","timestamp":1700000000}`)
	_, err := Decode(raw, 0, "ICP")
	require.Error(t, err)
}

func TestDecodeMissingKindIsHardError(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000}`)
	_, err := Decode(raw, 0, "ICP")
	require.Error(t, err)
}

func TestDecodeNonNumericAmountFails(t *testing.T) {
	raw := []byte(`{"kind":"mint","timestamp":1700000000,"mint":{"to":"alice","amount":"not-a-number"}}`)
	_, err := Decode(raw, 0, "ICP")
	require.Error(t, err)
}

func TestDecodeApproveWithSpenderAndExpiry(t *testing.T) {
	raw := []byte(`{
		"kind":"approve",
		"timestamp":1700000000,
		"fee":"2",
		"approve":{"from":"alice","spender":"carol","amount":"50","expires_at":1700000000}
	}`)
	tx, err := Decode(raw, 2, "ICP")
	require.NoError(t, err)
	require.NotNil(t, tx.Approve)
	assert.Equal(t, "carol", tx.Approve.Spender.String())
}
