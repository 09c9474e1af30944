// Package balance implements the balance/supply state transition
// applied per transaction. It does no I/O; Apply updates the balances
// map of the State it is given in place.
package balance

import (
	"fmt"

	"github.com/icrc-indexer/indexer/internal/amount"
	"github.com/icrc-indexer/indexer/internal/model"
)

// State is the balance engine's working state: per-account balances
// and the token's total supply.
type State struct {
	Balances map[string]amount.Amount
	Supply   amount.Amount
}

// NewState returns an empty state with zero supply.
func NewState() State {
	return State{Balances: make(map[string]amount.Amount), Supply: amount.Zero()}
}

func (s State) balanceOf(account string) amount.Amount {
	if b, ok := s.Balances[account]; ok {
		return b
	}
	return amount.Zero()
}

// Result carries the new state plus any anomalies recorded while
// applying one transaction, and the set of accounts touched (for the
// caller's accounts-index bookkeeping).
type Result struct {
	State           State
	Anomalies       []model.Anomaly
	TouchedAccounts []string
}

// Apply computes the new state after tx, per the balance engine's
// transition rules for mint/burn/transfer/approve. The caller must
// enforce strictly increasing index; Apply refuses any tx.index <=
// lastIndexed. The returned Result.State shares state.Balances, which
// Apply modifies in place; the input state is not preserved.
func Apply(state State, tx model.Tx, lastIndexed int64) (Result, error) {
	if int64(tx.Index) <= lastIndexed {
		return Result{}, fmt.Errorf("balance: refusing tx index %d <= last indexed %d", tx.Index, lastIndexed)
	}

	switch tx.Kind {
	case model.KindMint:
		return applyMint(state, tx)
	case model.KindBurn:
		return applyBurn(state, tx)
	case model.KindTransfer:
		return applyTransfer(state, tx)
	case model.KindApprove:
		return applyApprove(state, tx)
	default:
		return Result{}, fmt.Errorf("balance: unknown tx kind %q", tx.Kind)
	}
}

func applyMint(state State, tx model.Tx) (Result, error) {
	p := tx.Mint
	to := p.To.String()
	state.Balances[to] = amount.Add(state.balanceOf(to), p.Amount)
	state.Supply = amount.Add(state.Supply, p.Amount)
	return Result{State: state, TouchedAccounts: []string{to}}, nil
}

func applyBurn(state State, tx model.Tx) (Result, error) {
	p := tx.Burn
	from := p.From.String()
	var anomalies []model.Anomaly

	newBal, ok := amount.SubClamped(state.balanceOf(from), p.Amount)
	effective := p.Amount
	if !ok {
		anomalies = append(anomalies, model.Anomaly{
			Account: from, Index: tx.Index, Kind: model.AnomalyUnderflow,
			Details: fmt.Sprintf("burn %s exceeds balance %s", p.Amount.String(), state.balanceOf(from).String()),
		})
		effective = state.balanceOf(from)
		newBal = amount.Zero()
	}
	state.Balances[from] = newBal

	if state.Supply.LessThan(effective) {
		anomalies = append(anomalies, model.Anomaly{
			Account: from, Index: tx.Index, Kind: model.AnomalySupplyUnderflow,
			Details: fmt.Sprintf("burn %s exceeds supply %s", effective.String(), state.Supply.String()),
		})
		state.Supply = amount.Zero()
	} else {
		state.Supply = amount.Sub(state.Supply, effective)
	}

	touched := []string{from}
	if p.Spender != nil {
		touched = append(touched, p.Spender.String())
	}
	return Result{State: state, Anomalies: anomalies, TouchedAccounts: touched}, nil
}

func applyTransfer(state State, tx model.Tx) (Result, error) {
	p := tx.Transfer
	from := p.From.String()
	to := p.To.String()
	var anomalies []model.Anomaly

	fee := amount.Zero()
	if tx.Fee != nil {
		fee = *tx.Fee
	}
	debit := amount.Add(p.Amount, fee)

	newFromBal, ok := amount.SubClamped(state.balanceOf(from), debit)
	if !ok {
		anomalies = append(anomalies, model.Anomaly{
			Account: from, Index: tx.Index, Kind: model.AnomalyUnderflow,
			Details: fmt.Sprintf("transfer debit %s exceeds balance %s", debit.String(), state.balanceOf(from).String()),
		})
		newFromBal = amount.Zero()
	}
	state.Balances[from] = newFromBal
	state.Balances[to] = amount.Add(state.balanceOf(to), p.Amount)

	burned := amount.Min(state.Supply, fee)
	state.Supply = amount.Sub(state.Supply, burned)

	touched := []string{from, to}
	if p.Spender != nil {
		touched = append(touched, p.Spender.String())
	}
	return Result{State: state, Anomalies: anomalies, TouchedAccounts: touched}, nil
}

func applyApprove(state State, tx model.Tx) (Result, error) {
	p := tx.Approve
	from := p.From.String()
	var anomalies []model.Anomaly

	fee := amount.Zero()
	if tx.Fee != nil {
		fee = *tx.Fee
	}
	if !fee.IsZero() {
		newFromBal, ok := amount.SubClamped(state.balanceOf(from), fee)
		if !ok {
			anomalies = append(anomalies, model.Anomaly{
				Account: from, Index: tx.Index, Kind: model.AnomalyUnderflow,
				Details: fmt.Sprintf("approve fee %s exceeds balance %s", fee.String(), state.balanceOf(from).String()),
			})
			newFromBal = amount.Zero()
		}
		state.Balances[from] = newFromBal

		burned := amount.Min(state.Supply, fee)
		state.Supply = amount.Sub(state.Supply, burned)
	}

	return Result{State: state, Anomalies: anomalies, TouchedAccounts: []string{from, p.Spender.String()}}, nil
}
