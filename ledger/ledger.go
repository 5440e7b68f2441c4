// Package ledger is the value-custody service the staking core moves funds
// through. StateBank keeps balances in the same state write buffer as the
// staking records, so a reverted transaction also reverts its transfers.
package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/tolstake/core"
)

var (
	ErrInvalidAmount       = errors.New("ledger: amount must be > 0")
	ErrInvalidAccount      = errors.New("ledger: account required")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrBalanceOverflow     = errors.New("ledger: balance overflow")
)

// Bank moves value between accounts. Debit and credit of a Transfer must be
// applied together or not at all.
type Bank interface {
	Transfer(token, from, to string, amount uint64) error
	BalanceOf(token, account string) (uint64, error)
}

// StateBank implements Bank on top of core.State accounts.
type StateBank struct {
	state core.State
}

// NewStateBank returns a Bank over state.
func NewStateBank(state core.State) *StateBank {
	return &StateBank{state: state}
}

// Transfer debits from and credits to. Both balances are checked before
// either account is written.
func (b *StateBank) Transfer(token, from, to string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if token == "" || from == "" || to == "" {
		return ErrInvalidAccount
	}
	sender, err := b.state.GetAccount(token, from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientBalance, from, sender.Balance, amount)
	}
	if from == to {
		return nil
	}
	recipient, err := b.state.GetAccount(token, to)
	if err != nil {
		return err
	}
	if recipient.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, to)
	}

	sender.Balance -= amount
	recipient.Balance += amount
	if err := b.state.SetAccount(sender); err != nil {
		return err
	}
	return b.state.SetAccount(recipient)
}

// BalanceOf returns the balance of account in token; unknown accounts hold 0.
func (b *StateBank) BalanceOf(token, account string) (uint64, error) {
	acc, err := b.state.GetAccount(token, account)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Credit mints amount into account. Only genesis allocation uses it.
func (b *StateBank) Credit(token, account string, amount uint64) error {
	if token == "" || account == "" {
		return ErrInvalidAccount
	}
	acc, err := b.state.GetAccount(token, account)
	if err != nil {
		return err
	}
	if acc.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, account)
	}
	acc.Balance += amount
	return b.state.SetAccount(acc)
}
