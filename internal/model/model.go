// Package model holds the canonical domain types shared by every
// component: transactions, accounts, cursors, balances, and anomalies.
package model

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/icrc-indexer/indexer/internal/amount"
)

// Kind enumerates the transaction variants.
type Kind string

const (
	KindMint     Kind = "mint"
	KindBurn     Kind = "burn"
	KindTransfer Kind = "transfer"
	KindApprove  Kind = "approve"
)

// Account is an (owner principal, optional 32-byte subaccount) pair.
// Subaccount is nil once canonicalized (absent or all-zero collapse
// to the same nil form).
type Account struct {
	Owner      string
	Subaccount []byte
}

// NewAccount builds a canonicalized Account: an all-zero or empty
// subaccount is collapsed to absent.
func NewAccount(owner string, subaccount []byte) Account {
	if isZeroSubaccount(subaccount) {
		subaccount = nil
	}
	return Account{Owner: owner, Subaccount: subaccount}
}

func isZeroSubaccount(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// String renders the canonical account key: "owner" when the
// subaccount is absent/all-zero, else "owner:<hex(subaccount)>".
func (a Account) String() string {
	if len(a.Subaccount) == 0 {
		return a.Owner
	}
	return a.Owner + ":" + hex.EncodeToString(a.Subaccount)
}

// ParseAccount parses the canonical "owner" or "owner:<hex>" string
// form back into an Account. Used when a bare-string Account must be
// canonicalized by the decoder.
func ParseAccount(s string) (Account, error) {
	owner, hexPart, found := strings.Cut(s, ":")
	if !found {
		return Account{Owner: owner}, nil
	}
	sub, err := hex.DecodeString(hexPart)
	if err != nil {
		return Account{}, fmt.Errorf("model: invalid subaccount hex in %q: %w", s, err)
	}
	return NewAccount(owner, sub), nil
}

// Tx is the canonical transaction record.
type Tx struct {
	Index         uint64
	Token         string
	Kind          Kind
	Timestamp     uint64 // nanoseconds since epoch
	Fee           *amount.Amount
	Memo          []byte
	CreatedAtTime *uint64

	// Variant payload, exactly one populated per Kind.
	Mint     *MintPayload
	Burn     *BurnPayload
	Transfer *TransferPayload
	Approve  *ApprovePayload
}

type MintPayload struct {
	To     Account
	Amount amount.Amount
}

type BurnPayload struct {
	From    Account
	Spender *Account
	Amount  amount.Amount
}

type TransferPayload struct {
	From    Account
	To      Account
	Spender *Account
	Amount  amount.Amount
}

type ApprovePayload struct {
	From              Account
	Spender           Account
	Amount            amount.Amount
	ExpectedAllowance *amount.Amount
	ExpiresAt         *uint64
}

// Phase distinguishes where the coordinator is in a token's sync
// lifecycle; exposed on the cursor as an informational field.
type Phase string

const (
	PhaseArchive Phase = "archive"
	PhaseLive    Phase = "live"
)

// Cursor is the per-token durable sync position.
type Cursor struct {
	Token                string
	LastIndexed          int64 // -1 means nothing committed yet
	ArchivePhaseComplete bool
	Phase                Phase
	UpdatedAt            int64  // unix nanoseconds
	Owner                string // advisory-lock holder
	LockExpiresAt        int64
}

// AnomalyKind enumerates the balance-engine discrepancy kinds.
type AnomalyKind string

const (
	AnomalyUnderflow       AnomalyKind = "underflow"
	AnomalySupplyUnderflow AnomalyKind = "supply_underflow"
	AnomalyNegativeAmount  AnomalyKind = "negative_amount"
)

// Anomaly is an append-only discrepancy record.
type Anomaly struct {
	Account string
	Index   uint64
	Kind    AnomalyKind
	Details string
}

// BalanceRecord is a per-account balance.
type BalanceRecord struct {
	Account        string
	Balance        amount.Amount
	UpdatedAtIndex uint64
}

// SupplyRecord is the per-token supply singleton.
type SupplyRecord struct {
	TotalSupply    amount.Amount
	UpdatedAtIndex uint64
}

// TokenDescriptor describes one indexed ledger.
type TokenDescriptor struct {
	Symbol     string
	Name       string
	CanisterID string
	Decimals   uint8
}
