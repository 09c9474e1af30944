// Package decode normalizes heterogeneous canister transaction shapes
// into the canonical model.Tx. The decoder never guesses kind from
// payload shape, and a missing or unknown kind is always a hard error.
package decode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/icrc-indexer/indexer/internal/amount"
	"github.com/icrc-indexer/indexer/internal/model"
)

// Error wraps a decode failure with a reason taxonomy callers can
// branch on.
type Error struct {
	Reason string
	Index  uint64
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("decode: index %d: %s: %v", e.Index, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(index uint64, reason string, err error) *Error {
	return &Error{Reason: reason, Index: index, Err: err}
}

// rawAccount mirrors the two wire shapes an Account can take: an
// object with owner/subaccount, or a bare canonical string.
type rawAccount struct {
	object *rawAccountObject
	bare   string
	isBare bool
}

type rawAccountObject struct {
	Owner      string `json:"owner"`
	Subaccount []byte `json:"subaccount,omitempty"`
}

func (r *rawAccount) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		r.bare = s
		r.isBare = true
		return nil
	}
	var obj rawAccountObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.object = &obj
	return nil
}

func (r rawAccount) resolve() (model.Account, error) {
	if r.isBare {
		return model.ParseAccount(r.bare)
	}
	if r.object == nil {
		return model.Account{}, fmt.Errorf("missing account")
	}
	return model.NewAccount(r.object.Owner, r.object.Subaccount), nil
}

// rawAmount accepts a decimal string, an unsigned integer, or a
// sequence whose first element is the amount (the archive variant).
type rawAmount struct {
	value string
}

func (r *rawAmount) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	switch {
	case len(trimmed) == 0:
		return fmt.Errorf("empty amount")
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		r.value = s
		return nil
	case trimmed[0] == '[':
		var seq []json.RawMessage
		if err := json.Unmarshal(b, &seq); err != nil {
			return err
		}
		if len(seq) == 0 {
			return fmt.Errorf("empty amount sequence")
		}
		var head rawAmount
		if err := json.Unmarshal(seq[0], &head); err != nil {
			return err
		}
		r.value = head.value
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		r.value = n.String()
		return nil
	}
}

func (r rawAmount) resolve() (amount.Amount, error) {
	if r.value == "" {
		return amount.Amount{}, fmt.Errorf("missing amount")
	}
	a, err := amount.FromString(r.value)
	if err != nil {
		return amount.Amount{}, err
	}
	return a, nil
}

type rawTx struct {
	Kind          string       `json:"kind"`
	Timestamp     json.Number  `json:"timestamp"`
	Fee           *rawAmount   `json:"fee,omitempty"`
	Memo          []byte       `json:"memo,omitempty"`
	CreatedAtTime *json.Number `json:"created_at_time,omitempty"`

	Mint *struct {
		To     rawAccount `json:"to"`
		Amount rawAmount  `json:"amount"`
	} `json:"mint,omitempty"`

	Burn *struct {
		From    rawAccount  `json:"from"`
		Spender *rawAccount `json:"spender,omitempty"`
		Amount  rawAmount   `json:"amount"`
	} `json:"burn,omitempty"`

	Transfer *struct {
		From    rawAccount  `json:"from"`
		To      rawAccount  `json:"to"`
		Spender *rawAccount `json:"spender,omitempty"`
		Amount  rawAmount   `json:"amount"`
	} `json:"transfer,omitempty"`

	Approve *struct {
		From              rawAccount   `json:"from"`
		Spender           rawAccount   `json:"spender"`
		Amount            rawAmount    `json:"amount"`
		ExpectedAllowance *rawAmount   `json:"expected_allowance,omitempty"`
		ExpiresAt         *json.Number `json:"expires_at,omitempty"`
	} `json:"approve,omitempty"`
}

// Decode normalizes a raw canister transaction record into a
// canonical model.Tx at the given absolute index.
func Decode(raw []byte, index uint64, token string) (model.Tx, error) {
	var r rawTx
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Tx{}, fail(index, "malformed record", err)
	}

	if r.Kind == "" {
		return model.Tx{}, fail(index, "missing kind", fmt.Errorf("kind field absent"))
	}

	tx := model.Tx{Index: index, Token: token}

	ts, err := normalizeTimestamp(r.Timestamp)
	if err != nil {
		return model.Tx{}, fail(index, "bad timestamp", err)
	}
	tx.Timestamp = ts

	if r.Fee != nil {
		fee, err := r.Fee.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "amount_format", err)
		}
		tx.Fee = &fee
	}
	tx.Memo = r.Memo
	if r.CreatedAtTime != nil {
		cat, err := normalizeTimestamp(*r.CreatedAtTime)
		if err != nil {
			return model.Tx{}, fail(index, "bad created_at_time", err)
		}
		tx.CreatedAtTime = &cat
	}

	switch model.Kind(r.Kind) {
	case model.KindMint:
		if r.Mint == nil {
			return model.Tx{}, fail(index, "missing mint payload", fmt.Errorf("kind=mint but no mint field"))
		}
		to, err := r.Mint.To.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "bad mint.to", err)
		}
		amt, err := r.Mint.Amount.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "amount_format", err)
		}
		tx.Kind = model.KindMint
		tx.Mint = &model.MintPayload{To: to, Amount: amt}

	case model.KindBurn:
		if r.Burn == nil {
			return model.Tx{}, fail(index, "missing burn payload", fmt.Errorf("kind=burn but no burn field"))
		}
		from, err := r.Burn.From.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "bad burn.from", err)
		}
		amt, err := r.Burn.Amount.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "amount_format", err)
		}
		payload := &model.BurnPayload{From: from, Amount: amt}
		if r.Burn.Spender != nil {
			sp, err := r.Burn.Spender.resolve()
			if err != nil {
				return model.Tx{}, fail(index, "bad burn.spender", err)
			}
			payload.Spender = &sp
		}
		tx.Kind = model.KindBurn
		tx.Burn = payload

	case model.KindTransfer:
		if r.Transfer == nil {
			return model.Tx{}, fail(index, "missing transfer payload", fmt.Errorf("kind=transfer but no transfer field"))
		}
		from, err := r.Transfer.From.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "bad transfer.from", err)
		}
		to, err := r.Transfer.To.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "bad transfer.to", err)
		}
		amt, err := r.Transfer.Amount.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "amount_format", err)
		}
		payload := &model.TransferPayload{From: from, To: to, Amount: amt}
		if r.Transfer.Spender != nil {
			sp, err := r.Transfer.Spender.resolve()
			if err != nil {
				return model.Tx{}, fail(index, "bad transfer.spender", err)
			}
			payload.Spender = &sp
		}
		tx.Kind = model.KindTransfer
		tx.Transfer = payload

	case model.KindApprove:
		if r.Approve == nil {
			return model.Tx{}, fail(index, "missing approve payload", fmt.Errorf("kind=approve but no approve field"))
		}
		from, err := r.Approve.From.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "bad approve.from", err)
		}
		spender, err := r.Approve.Spender.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "bad approve.spender", err)
		}
		amt, err := r.Approve.Amount.resolve()
		if err != nil {
			return model.Tx{}, fail(index, "amount_format", err)
		}
		payload := &model.ApprovePayload{From: from, Spender: spender, Amount: amt}
		if r.Approve.ExpectedAllowance != nil {
			ea, err := r.Approve.ExpectedAllowance.resolve()
			if err != nil {
				return model.Tx{}, fail(index, "amount_format", err)
			}
			payload.ExpectedAllowance = &ea
		}
		if r.Approve.ExpiresAt != nil {
			ea, err := normalizeTimestamp(*r.Approve.ExpiresAt)
			if err != nil {
				return model.Tx{}, fail(index, "bad expires_at", err)
			}
			payload.ExpiresAt = &ea
		}
		tx.Kind = model.KindApprove
		tx.Approve = payload

	default:
		return model.Tx{}, fail(index, "unknown kind", fmt.Errorf("kind=%q", r.Kind))
	}

	return tx, nil
}

// normalizeTimestamp converts seconds-resolution timestamps to
// nanoseconds: any value with fewer than 14 decimal digits is
// multiplied by 10^9.
func normalizeTimestamp(n json.Number) (uint64, error) {
	s := n.String()
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("non-integer timestamp %q: %w", s, err)
	}
	if len(s) < 14 {
		return v * 1_000_000_000, nil
	}
	return v, nil
}
