// Package staking implements the pool and position state machine: admins
// fund a pool's reward budget, users lock principal in a single position per
// pool, and redemption returns principal plus the accrued reward.
//
// Every operation validates and computes first, moves value through the
// ledger second, and writes pool/position records last. Callers that need
// all-or-nothing semantics across a ledger failure run the operation inside a
// state snapshot (see vm.Executor).
package staking

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/tolstake/clock"
	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/ledger"
	"github.com/tolelom/tolstake/reward"
)

// InitPoolParams configures a new pool. An empty ID is derived from Admin
// and Token.
type InitPoolParams struct {
	ID                 string
	Admin              string
	Token              string
	RewardRate         uint8
	MinStakingDuration int64
}

// Settlement describes a completed redemption.
type Settlement struct {
	PoolID     string     `json:"pool_id"`
	Owner      string     `json:"owner"`
	Principal  uint64     `json:"principal"`
	Reward     uint64     `json:"reward"`      // accrued by the formula
	RewardPaid uint64     `json:"reward_paid"` // after clamping to the budget
	Total      uint64     `json:"total"`
	Elapsed    int64      `json:"elapsed"`
	Forced     bool       `json:"forced"`
	Clamped    bool       `json:"clamped"`
	Pool       *core.Pool `json:"pool"`
}

// StakeInfo is a read-only view of a position and what redeeming it now
// would pay.
type StakeInfo struct {
	PoolID     string `json:"pool_id"`
	Owner      string `json:"owner"`
	Principal  uint64 `json:"principal"`
	OpenedAt   int64  `json:"opened_at"`
	Elapsed    int64  `json:"elapsed"`
	Accrued    uint64 `json:"accrued"`
	Payable    uint64 `json:"payable"`
	UnlockAt   int64  `json:"unlock_at"`
	Redeemable bool   `json:"redeemable"` // without force and without clamping
}

// ClosedPool describes a pool closure.
type ClosedPool struct {
	Pool     *core.Pool `json:"pool"`
	Returned uint64     `json:"returned"`
}

// Keeper applies staking operations to a state through a bank.
type Keeper struct {
	state core.State
	bank  ledger.Bank
	clock clock.Clock
}

// NewKeeper returns a Keeper. bank must see the same state when it is an
// in-process ledger.
func NewKeeper(state core.State, bank ledger.Bank, clk clock.Clock) *Keeper {
	return &Keeper{state: state, bank: bank, clock: clk}
}

// Pool returns the pool with id.
func (k *Keeper) Pool(id string) (*core.Pool, error) {
	p, err := k.state.GetPool(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrPoolNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load pool %q: %w", id, err)
	}
	return p, nil
}

// Position returns the user's active position in a pool, or nil when the
// user has nothing staked.
func (k *Keeper) Position(poolID, user string) (*core.Position, error) {
	pos, err := k.state.GetPosition(poolID, user)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load position %s/%s: %w", poolID, user, err)
	}
	if !pos.Active() || pos.PoolID != poolID || pos.Owner != user {
		return nil, nil
	}
	return pos, nil
}

// InitializePool creates a pool with an empty reward budget.
func (k *Keeper) InitializePool(p InitPoolParams) (*core.Pool, error) {
	if p.Admin == "" {
		return nil, fmt.Errorf("%w: admin required", ErrInvalidArgument)
	}
	if p.Token == "" {
		return nil, fmt.Errorf("%w: token required", ErrInvalidArgument)
	}
	if p.RewardRate > reward.MaxRate {
		return nil, fmt.Errorf("%w: reward rate %d above %d", ErrInvalidArgument, p.RewardRate, reward.MaxRate)
	}
	if p.MinStakingDuration < 0 {
		return nil, fmt.Errorf("%w: negative minimum staking duration", ErrInvalidArgument)
	}
	id := p.ID
	if id == "" {
		id = crypto.PoolID(p.Admin, p.Token)
	}

	if _, err := k.state.GetPool(id); err == nil {
		return nil, fmt.Errorf("%w: pool %q", ErrAlreadyExists, id)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("checking pool %q: %w", id, err)
	}

	pool := &core.Pool{
		ID:                 id,
		Admin:              p.Admin,
		Token:              p.Token,
		RewardRate:         p.RewardRate,
		MinStakingDuration: p.MinStakingDuration,
		CreatedAt:          k.clock.Now(),
	}
	if err := k.state.SetPool(pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// Fund moves amount from the admin into the pool's custody and adds it to
// the reward budget.
func (k *Keeper) Fund(poolID, funder string, amount uint64) (*core.Pool, error) {
	pool, err := k.Pool(poolID)
	if err != nil {
		return nil, err
	}
	if pool.Closed {
		return nil, fmt.Errorf("%w: %q", ErrPoolClosed, poolID)
	}
	if funder != pool.Admin {
		return nil, fmt.Errorf("%w: only the pool admin can fund the reward budget", ErrUnauthorized)
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidArgument)
	}
	budget, ok := add(pool.RewardBudget, amount)
	if !ok {
		return nil, fmt.Errorf("%w: reward budget overflow", ErrCalculation)
	}

	if err := k.transfer(pool.Token, funder, crypto.CustodyAddress(pool.ID), amount); err != nil {
		return nil, err
	}
	pool.RewardBudget = budget
	if err := k.state.SetPool(pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// Stake opens the user's position. at overrides the clock.
func (k *Keeper) Stake(poolID, user, token string, amount uint64, at *int64) (*core.Position, error) {
	pool, err := k.Pool(poolID)
	if err != nil {
		return nil, err
	}
	if pool.Closed {
		return nil, fmt.Errorf("%w: %q", ErrPoolClosed, poolID)
	}
	if user == "" {
		return nil, fmt.Errorf("%w: user required", ErrInvalidArgument)
	}
	existing, err := k.Position(poolID, user)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s holds %d in pool %q", ErrAlreadyStaked, user, existing.Principal, poolID)
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidArgument)
	}
	if token != pool.Token {
		return nil, fmt.Errorf("%w: token %q does not match pool token %q", ErrInvalidArgument, token, pool.Token)
	}
	total, ok := add(pool.TotalStaked, amount)
	if !ok {
		return nil, fmt.Errorf("%w: total staked overflow", ErrCalculation)
	}
	count, ok := add(pool.ActivePositions, 1)
	if !ok {
		return nil, fmt.Errorf("%w: position count overflow", ErrCalculation)
	}

	if err := k.transfer(pool.Token, user, crypto.CustodyAddress(pool.ID), amount); err != nil {
		return nil, err
	}
	pos := &core.Position{
		PoolID:    pool.ID,
		Owner:     user,
		Principal: amount,
		OpenedAt:  k.now(at),
	}
	pool.TotalStaked = total
	pool.ActivePositions = count
	if err := k.state.SetPosition(pos); err != nil {
		return nil, err
	}
	if err := k.state.SetPool(pool); err != nil {
		return nil, err
	}
	return pos, nil
}

// Redeem closes the user's position, paying principal plus reward. When the
// budget cannot cover the reward, a forced redeem pays what is left and an
// unforced one fails with no state change. at overrides the clock.
func (k *Keeper) Redeem(poolID, user string, force bool, at *int64) (*Settlement, error) {
	pool, err := k.Pool(poolID)
	if err != nil {
		return nil, err
	}
	pos, err := k.Position(poolID, user)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, fmt.Errorf("%w: %s in pool %q", ErrNothingStaked, user, poolID)
	}

	elapsed := k.now(at) - pos.OpenedAt
	if elapsed < 0 {
		return nil, fmt.Errorf("%w: redeem time precedes stake time by %ds", ErrInvalidArgument, -elapsed)
	}
	if !force && pool.MinStakingDuration > 0 && elapsed < pool.MinStakingDuration {
		return nil, fmt.Errorf("%w: staked %ds of %ds", ErrDurationNotMet, elapsed, pool.MinStakingDuration)
	}
	accrued, err := k.accrue(pos.Principal, elapsed, pool.RewardRate)
	if err != nil {
		return nil, err
	}

	paid := accrued
	if pool.RewardBudget < accrued {
		if !force {
			return nil, fmt.Errorf("%w: reward %d, budget %d", ErrInsufficientRewardFunds, accrued, pool.RewardBudget)
		}
		paid = pool.RewardBudget
	}
	budget, ok := sub(pool.RewardBudget, paid)
	if !ok {
		return nil, fmt.Errorf("%w: reward budget underflow", ErrCalculation)
	}
	total, ok := add(pos.Principal, paid)
	if !ok {
		return nil, fmt.Errorf("%w: payout overflow", ErrCalculation)
	}
	staked, ok := sub(pool.TotalStaked, pos.Principal)
	if !ok {
		return nil, fmt.Errorf("%w: total staked underflow", ErrCalculation)
	}
	count, ok := sub(pool.ActivePositions, 1)
	if !ok {
		return nil, fmt.Errorf("%w: position count underflow", ErrCalculation)
	}

	if err := k.transfer(pool.Token, crypto.CustodyAddress(pool.ID), user, total); err != nil {
		return nil, err
	}
	pool.RewardBudget = budget
	pool.TotalStaked = staked
	pool.ActivePositions = count
	if err := k.state.SetPool(pool); err != nil {
		return nil, err
	}
	if err := k.state.DeletePosition(pool.ID, user); err != nil {
		return nil, err
	}
	return &Settlement{
		PoolID:     pool.ID,
		Owner:      user,
		Principal:  pos.Principal,
		Reward:     accrued,
		RewardPaid: paid,
		Total:      total,
		Elapsed:    elapsed,
		Forced:     force,
		Clamped:    paid < accrued,
		Pool:       pool,
	}, nil
}

// StakeInfo reports the user's principal and the reward a redemption at the
// given time would accrue and pay.
func (k *Keeper) StakeInfo(poolID, user string, at *int64) (*StakeInfo, error) {
	pool, err := k.Pool(poolID)
	if err != nil {
		return nil, err
	}
	pos, err := k.Position(poolID, user)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, fmt.Errorf("%w: %s in pool %q", ErrNothingStaked, user, poolID)
	}
	elapsed := k.now(at) - pos.OpenedAt
	accrued, err := k.accrue(pos.Principal, elapsed, pool.RewardRate)
	if err != nil {
		return nil, err
	}
	payable := min(accrued, pool.RewardBudget)
	unlock := reward.UnlockTime(pos.OpenedAt, pool.MinStakingDuration)
	return &StakeInfo{
		PoolID:     pool.ID,
		Owner:      user,
		Principal:  pos.Principal,
		OpenedAt:   pos.OpenedAt,
		Elapsed:    elapsed,
		Accrued:    accrued,
		Payable:    payable,
		UnlockAt:   unlock,
		Redeemable: k.now(at) >= unlock && payable == accrued,
	}, nil
}

// ClosePool returns the unspent reward budget to the admin and stops the pool
// from accepting funds or stakes. All positions must be redeemed first.
func (k *Keeper) ClosePool(poolID, caller string) (*ClosedPool, error) {
	pool, err := k.Pool(poolID)
	if err != nil {
		return nil, err
	}
	if caller != pool.Admin {
		return nil, fmt.Errorf("%w: only the pool admin can close the pool", ErrUnauthorized)
	}
	if pool.Closed {
		return nil, fmt.Errorf("%w: %q", ErrPoolClosed, poolID)
	}
	if pool.ActivePositions > 0 {
		return nil, fmt.Errorf("%w: pool %q still has %d active positions", ErrInvalidArgument, poolID, pool.ActivePositions)
	}

	returned := pool.RewardBudget
	if returned > 0 {
		if err := k.transfer(pool.Token, crypto.CustodyAddress(pool.ID), pool.Admin, returned); err != nil {
			return nil, err
		}
	}
	pool.RewardBudget = 0
	pool.Closed = true
	if err := k.state.SetPool(pool); err != nil {
		return nil, err
	}
	return &ClosedPool{Pool: pool, Returned: returned}, nil
}

// ---- helpers ----

func (k *Keeper) now(at *int64) int64 {
	if at != nil {
		return *at
	}
	return k.clock.Now()
}

func (k *Keeper) transfer(token, from, to string, amount uint64) error {
	if err := k.bank.Transfer(token, from, to, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (k *Keeper) accrue(principal uint64, elapsed int64, rate uint8) (uint64, error) {
	r, err := reward.Compute(principal, elapsed, rate)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, reward.ErrNegativeElapsed), errors.Is(err, reward.ErrRateOutOfRange):
		return 0, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	default:
		return 0, fmt.Errorf("%w: %w", ErrCalculation, err)
	}
}

func add(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

func sub(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}
