// Package staking registers the pool and position transaction handlers.
package staking

import (
	"fmt"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/staking"
	"github.com/tolelom/tolstake/vm"
)

func init() {
	vm.Register(core.TxPoolInit, vm.Handle(handlePoolInit))
	vm.Register(core.TxPoolFund, vm.Handle(handlePoolFund))
	vm.Register(core.TxStake, vm.Handle(handleStake))
	vm.Register(core.TxRedeem, vm.Handle(handleRedeem))
	vm.Register(core.TxPoolClose, vm.Handle(handlePoolClose))
}

// timeOverride rejects a caller-supplied time unless the node allows it.
func timeOverride(ctx *vm.Context, at *int64) error {
	if at != nil && !ctx.AllowTimeOverride {
		return fmt.Errorf("%w: time override is disabled", staking.ErrInvalidArgument)
	}
	return nil
}

func handlePoolInit(ctx *vm.Context, p *core.PoolInitPayload) (any, error) {
	pool, err := ctx.Keeper().InitializePool(staking.InitPoolParams{
		ID:                 p.PoolID,
		Admin:              ctx.Tx.From,
		Token:              p.Token,
		RewardRate:         p.RewardRate,
		MinStakingDuration: p.MinStakingDuration,
	})
	if err != nil {
		return nil, err
	}
	ctx.Emit(events.EventPoolInitialized, map[string]any{
		"pool_id":              pool.ID,
		"admin":                pool.Admin,
		"token":                pool.Token,
		"reward_rate":          pool.RewardRate,
		"min_staking_duration": pool.MinStakingDuration,
	})
	return pool, nil
}

func handlePoolFund(ctx *vm.Context, p *core.PoolFundPayload) (any, error) {
	pool, err := ctx.Keeper().Fund(p.PoolID, ctx.Tx.From, p.Amount)
	if err != nil {
		return nil, err
	}
	ctx.Emit(events.EventPoolFunded, map[string]any{
		"pool_id":       pool.ID,
		"funder":        ctx.Tx.From,
		"amount":        p.Amount,
		"reward_budget": pool.RewardBudget,
	})
	return pool, nil
}

func handleStake(ctx *vm.Context, p *core.StakePayload) (any, error) {
	if err := timeOverride(ctx, p.At); err != nil {
		return nil, err
	}
	pos, err := ctx.Keeper().Stake(p.PoolID, ctx.Tx.From, p.Token, p.Amount, p.At)
	if err != nil {
		return nil, err
	}
	ctx.Emit(events.EventStaked, map[string]any{
		"pool_id":   pos.PoolID,
		"owner":     pos.Owner,
		"principal": pos.Principal,
		"opened_at": pos.OpenedAt,
	})
	return pos, nil
}

func handleRedeem(ctx *vm.Context, p *core.RedeemPayload) (any, error) {
	if err := timeOverride(ctx, p.At); err != nil {
		return nil, err
	}
	s, err := ctx.Keeper().Redeem(p.PoolID, ctx.Tx.From, p.Force, p.At)
	if err != nil {
		return nil, err
	}
	ctx.Emit(events.EventRedeemed, map[string]any{
		"pool_id":     s.PoolID,
		"owner":       s.Owner,
		"principal":   s.Principal,
		"reward":      s.Reward,
		"reward_paid": s.RewardPaid,
		"total":       s.Total,
		"elapsed":     s.Elapsed,
		"forced":      s.Forced,
		"clamped":     s.Clamped,
	})
	return s, nil
}

func handlePoolClose(ctx *vm.Context, p *core.PoolClosePayload) (any, error) {
	closed, err := ctx.Keeper().ClosePool(p.PoolID, ctx.Tx.From)
	if err != nil {
		return nil, err
	}
	ctx.Emit(events.EventPoolClosed, map[string]any{
		"pool_id":  closed.Pool.ID,
		"admin":    closed.Pool.Admin,
		"returned": closed.Returned,
	})
	return closed, nil
}
