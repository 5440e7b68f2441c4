package economy

import (
	"fmt"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/staking"
	"github.com/tolelom/tolstake/vm"
)

func init() {
	vm.Register(core.TxTransfer, vm.Handle(handleTransfer))
}

// TransferResult is returned in the receipt of a transfer.
type TransferResult struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

func handleTransfer(ctx *vm.Context, p *core.TransferPayload) (any, error) {
	if p.Amount == 0 {
		return nil, fmt.Errorf("%w: transfer amount must be > 0", staking.ErrInvalidArgument)
	}
	if p.To == "" || p.Token == "" {
		return nil, fmt.Errorf("%w: transfer token and recipient required", staking.ErrInvalidArgument)
	}
	if err := ctx.Bank.Transfer(p.Token, ctx.Tx.From, p.To, p.Amount); err != nil {
		return nil, fmt.Errorf("%w: %w", staking.ErrTransferFailed, err)
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"token":  p.Token,
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	})
	return &TransferResult{Token: p.Token, From: ctx.Tx.From, To: p.To, Amount: p.Amount}, nil
}
