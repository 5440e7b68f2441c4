package staking_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolstake/clock"
	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/internal/testutil"
	"github.com/tolelom/tolstake/ledger"
	"github.com/tolelom/tolstake/staking"
	"github.com/tolelom/tolstake/storage"
)

const tok = "TOK"

type fixture struct {
	state  *storage.StateDB
	bank   *ledger.StateBank
	clock  *clock.Manual
	keeper *staking.Keeper
}

func newFixture(t *testing.T, balances map[string]uint64) *fixture {
	t.Helper()
	s := testutil.NewStateDB()
	bank := ledger.NewStateBank(s)
	for acct, amt := range balances {
		require.NoError(t, bank.Credit(tok, acct, amt))
	}
	clk := clock.NewManual(0)
	return &fixture{state: s, bank: bank, clock: clk, keeper: staking.NewKeeper(s, bank, clk)}
}

func (f *fixture) pool(t *testing.T, rate uint8, minDuration int64) *core.Pool {
	t.Helper()
	p, err := f.keeper.InitializePool(staking.InitPoolParams{
		ID: "pool-1", Admin: "admin", Token: tok, RewardRate: rate, MinStakingDuration: minDuration,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) balance(t *testing.T, acct string) uint64 {
	t.Helper()
	b, err := f.bank.BalanceOf(tok, acct)
	require.NoError(t, err)
	return b
}

func at(v int64) *int64 { return &v }

func TestFundStakeRedeemOneDay(t *testing.T) {
	f := newFixture(t, map[string]uint64{"admin": 1000, "alice": 500})
	f.pool(t, 10, 0)

	pool, err := f.keeper.Fund("pool-1", "admin", 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), pool.RewardBudget)

	pos, err := f.keeper.Stake("pool-1", "alice", tok, 500, at(0))
	require.NoError(t, err)
	assert.Equal(t, &core.Position{PoolID: "pool-1", Owner: "alice", Principal: 500, OpenedAt: 0}, pos)

	s, err := f.keeper.Redeem("pool-1", "alice", false, at(86400))
	require.NoError(t, err)
	// floor(500 * 10 * 1 / 36500)
	assert.Equal(t, uint64(0), s.Reward)
	assert.Equal(t, uint64(500), s.Total)
	assert.Equal(t, uint64(1000)-s.RewardPaid, s.Pool.RewardBudget)
	assert.Equal(t, uint64(500), f.balance(t, "alice"))

	pos, err = f.keeper.Position("pool-1", "alice")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestSecondStakeRejected(t *testing.T) {
	f := newFixture(t, map[string]uint64{"bob": 150})
	f.pool(t, 10, 0)

	_, err := f.keeper.Stake("pool-1", "bob", tok, 100, at(0))
	require.NoError(t, err)

	_, err = f.keeper.Stake("pool-1", "bob", tok, 50, at(10))
	assert.ErrorIs(t, err, staking.ErrAlreadyStaked)

	pos, err := f.keeper.Position("pool-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), pos.Principal)
	assert.Equal(t, uint64(50), f.balance(t, "bob"))
}

func TestMinimumDuration(t *testing.T) {
	f := newFixture(t, map[string]uint64{"carol": 100})
	f.pool(t, 10, 86400)

	_, err := f.keeper.Stake("pool-1", "carol", tok, 100, at(0))
	require.NoError(t, err)

	_, err = f.keeper.Redeem("pool-1", "carol", false, at(100))
	assert.ErrorIs(t, err, staking.ErrDurationNotMet)

	s, err := f.keeper.Redeem("pool-1", "carol", true, at(100))
	require.NoError(t, err)
	assert.Zero(t, s.Reward)
	assert.Equal(t, uint64(100), s.Total)
	assert.Equal(t, int64(100), s.Elapsed)
	assert.Equal(t, uint64(100), f.balance(t, "carol"))
}

func setupClamp(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, map[string]uint64{"admin": 5, "dave": 73000})
	f.pool(t, 10, 0)
	_, err := f.keeper.Fund("pool-1", "admin", 5)
	require.NoError(t, err)
	_, err = f.keeper.Stake("pool-1", "dave", tok, 73000, at(0))
	require.NoError(t, err)
	return f
}

func TestClampToBudget(t *testing.T) {
	f := setupClamp(t)
	s, err := f.keeper.Redeem("pool-1", "dave", true, at(86400))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), s.Reward)
	assert.Equal(t, uint64(5), s.RewardPaid)
	assert.True(t, s.Clamped)
	assert.Zero(t, s.Pool.RewardBudget)
	assert.Equal(t, uint64(73005), f.balance(t, "dave"))
	assert.Zero(t, f.balance(t, crypto.CustodyAddress("pool-1")))
}

func TestUnforcedRedeemOverBudgetChangesNothing(t *testing.T) {
	f := setupClamp(t)
	root := f.state.ComputeRoot()

	_, err := f.keeper.Redeem("pool-1", "dave", false, at(86400))
	assert.ErrorIs(t, err, staking.ErrInsufficientRewardFunds)
	assert.Equal(t, staking.KindInsufficientRewardFunds, staking.KindOf(err))

	assert.Equal(t, root, f.state.ComputeRoot())
	pool, err := f.keeper.Pool("pool-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), pool.RewardBudget)
	pos, err := f.keeper.Position("pool-1", "dave")
	require.NoError(t, err)
	assert.Equal(t, uint64(73000), pos.Principal)
}

func TestInitializePool(t *testing.T) {
	f := newFixture(t, nil)

	p, err := f.keeper.InitializePool(staking.InitPoolParams{Admin: "admin", Token: tok, RewardRate: 100})
	require.NoError(t, err)
	assert.Equal(t, crypto.PoolID("admin", tok), p.ID)
	assert.Zero(t, p.RewardBudget)

	_, err = f.keeper.InitializePool(staking.InitPoolParams{Admin: "admin", Token: tok})
	assert.ErrorIs(t, err, staking.ErrAlreadyExists)

	for name, params := range map[string]staking.InitPoolParams{
		"no admin":         {Token: tok},
		"no token":         {Admin: "admin"},
		"rate":             {Admin: "admin", Token: "X", RewardRate: 101},
		"negative min dur": {Admin: "admin", Token: "Y", MinStakingDuration: -1},
	} {
		_, err := f.keeper.InitializePool(params)
		assert.ErrorIs(t, err, staking.ErrInvalidArgument, name)
	}
}

func TestFundErrors(t *testing.T) {
	f := newFixture(t, map[string]uint64{"admin": 10, "mallory": 10})
	f.pool(t, 10, 0)

	_, err := f.keeper.Fund("missing", "admin", 1)
	assert.ErrorIs(t, err, staking.ErrPoolNotFound)

	_, err = f.keeper.Fund("pool-1", "mallory", 1)
	assert.ErrorIs(t, err, staking.ErrUnauthorized)

	_, err = f.keeper.Fund("pool-1", "admin", 0)
	assert.ErrorIs(t, err, staking.ErrInvalidArgument)

	_, err = f.keeper.Fund("pool-1", "admin", 11)
	assert.ErrorIs(t, err, staking.ErrTransferFailed)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	pool, err := f.keeper.Pool("pool-1")
	require.NoError(t, err)
	assert.Zero(t, pool.RewardBudget)
}

func TestStakeErrors(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 10})
	f.pool(t, 10, 0)

	_, err := f.keeper.Stake("pool-1", "alice", tok, 0, nil)
	assert.ErrorIs(t, err, staking.ErrInvalidArgument)

	_, err = f.keeper.Stake("pool-1", "alice", "OTHER", 5, nil)
	assert.ErrorIs(t, err, staking.ErrInvalidArgument)

	_, err = f.keeper.Stake("pool-1", "alice", tok, 11, nil)
	assert.ErrorIs(t, err, staking.ErrTransferFailed)

	pos, err := f.keeper.Position("pool-1", "alice")
	require.NoError(t, err)
	assert.Nil(t, pos)
	pool, err := f.keeper.Pool("pool-1")
	require.NoError(t, err)
	assert.Zero(t, pool.TotalStaked)
	assert.Zero(t, pool.ActivePositions)
}

func TestStakeUsesClock(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 10})
	f.pool(t, 10, 0)
	f.clock.Set(1234)

	pos, err := f.keeper.Stake("pool-1", "alice", tok, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), pos.OpenedAt)
}

func TestRedeemErrors(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 10})
	f.pool(t, 10, 0)

	_, err := f.keeper.Redeem("pool-1", "alice", true, nil)
	assert.ErrorIs(t, err, staking.ErrNothingStaked)

	_, err = f.keeper.Stake("pool-1", "alice", tok, 10, at(100))
	require.NoError(t, err)

	_, err = f.keeper.Redeem("pool-1", "alice", true, at(99))
	assert.ErrorIs(t, err, staking.ErrInvalidArgument)

	// Redeem once, then again.
	_, err = f.keeper.Redeem("pool-1", "alice", false, at(100))
	require.NoError(t, err)
	_, err = f.keeper.Redeem("pool-1", "alice", false, at(100))
	assert.ErrorIs(t, err, staking.ErrNothingStaked)
}

func TestRestakeAfterRedeem(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 10})
	f.pool(t, 10, 0)

	_, err := f.keeper.Stake("pool-1", "alice", tok, 10, at(0))
	require.NoError(t, err)
	_, err = f.keeper.Redeem("pool-1", "alice", false, at(1))
	require.NoError(t, err)

	pos, err := f.keeper.Stake("pool-1", "alice", tok, 10, at(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos.OpenedAt)
}

func TestBudgetAndCustodyConservation(t *testing.T) {
	f := newFixture(t, map[string]uint64{"admin": 1000, "a": 36500, "b": 73000, "c": 10})
	f.pool(t, 20, 0)
	_, err := f.keeper.Fund("pool-1", "admin", 1000)
	require.NoError(t, err)

	for _, u := range []struct {
		name   string
		amount uint64
	}{{"a", 36500}, {"b", 73000}, {"c", 10}} {
		_, err := f.keeper.Stake("pool-1", u.name, tok, u.amount, at(0))
		require.NoError(t, err)
	}
	custody := crypto.CustodyAddress("pool-1")

	var paid uint64
	for i, u := range []string{"a", "b", "c"} {
		s, err := f.keeper.Redeem("pool-1", u, true, at(int64(i+1)*30*86400))
		require.NoError(t, err)
		paid += s.RewardPaid
		assert.LessOrEqual(t, s.RewardPaid, s.Reward)

		pool, err := f.keeper.Pool("pool-1")
		require.NoError(t, err)
		assert.Equal(t, 1000-paid, pool.RewardBudget)
		assert.Equal(t, pool.RewardBudget+pool.TotalStaked, f.balance(t, custody))
	}
	pool, err := f.keeper.Pool("pool-1")
	require.NoError(t, err)
	assert.Zero(t, pool.ActivePositions)
	assert.Zero(t, pool.TotalStaked)
}

func TestPoolsWithSeparatorInIDStayApart(t *testing.T) {
	f := newFixture(t, map[string]uint64{"x": 1000, "c": 100, "b:c": 50})
	for _, id := range []string{"a", "a:b"} {
		_, err := f.keeper.InitializePool(staking.InitPoolParams{ID: id, Admin: "admin", Token: tok, RewardRate: 10})
		require.NoError(t, err)
	}
	_, err := f.keeper.Stake("a", "x", tok, 1000, at(0))
	require.NoError(t, err)
	_, err = f.keeper.Stake("a:b", "c", tok, 100, at(0))
	require.NoError(t, err)

	pos, err := f.keeper.Position("a", "b:c")
	require.NoError(t, err)
	assert.Nil(t, pos)
	_, err = f.keeper.Redeem("a", "b:c", true, at(0))
	assert.ErrorIs(t, err, staking.ErrNothingStaked)

	_, err = f.keeper.Stake("a", "b:c", tok, 50, at(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1050), f.balance(t, crypto.CustodyAddress("a")))
	assert.Equal(t, uint64(100), f.balance(t, crypto.CustodyAddress("a:b")))

	s, err := f.keeper.Redeem("a:b", "c", false, at(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), s.Total)
	assert.Zero(t, s.Pool.ActivePositions)
	assert.Zero(t, s.Pool.TotalStaked)

	still, err := f.keeper.Position("a", "b:c")
	require.NoError(t, err)
	require.NotNil(t, still)
	assert.Equal(t, uint64(50), still.Principal)
}

func TestStakeInfo(t *testing.T) {
	f := newFixture(t, map[string]uint64{"admin": 5, "dave": 73000})
	f.pool(t, 10, 86400)
	_, err := f.keeper.Fund("pool-1", "admin", 5)
	require.NoError(t, err)
	_, err = f.keeper.Stake("pool-1", "dave", tok, 73000, at(0))
	require.NoError(t, err)

	info, err := f.keeper.StakeInfo("pool-1", "dave", at(100))
	require.NoError(t, err)
	assert.Equal(t, int64(86400), info.UnlockAt)
	assert.Zero(t, info.Accrued)
	assert.False(t, info.Redeemable)

	info, err = f.keeper.StakeInfo("pool-1", "dave", at(86400))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), info.Accrued)
	assert.Equal(t, uint64(5), info.Payable)
	assert.False(t, info.Redeemable)

	_, err = f.keeper.StakeInfo("pool-1", "nobody", nil)
	assert.ErrorIs(t, err, staking.ErrNothingStaked)
}

func TestClosePool(t *testing.T) {
	f := newFixture(t, map[string]uint64{"admin": 100, "alice": 10})
	f.pool(t, 10, 0)
	_, err := f.keeper.Fund("pool-1", "admin", 100)
	require.NoError(t, err)
	_, err = f.keeper.Stake("pool-1", "alice", tok, 10, at(0))
	require.NoError(t, err)

	_, err = f.keeper.ClosePool("pool-1", "alice")
	assert.ErrorIs(t, err, staking.ErrUnauthorized)

	_, err = f.keeper.ClosePool("pool-1", "admin")
	assert.ErrorIs(t, err, staking.ErrInvalidArgument)

	_, err = f.keeper.Redeem("pool-1", "alice", false, at(0))
	require.NoError(t, err)

	closed, err := f.keeper.ClosePool("pool-1", "admin")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), closed.Returned)
	assert.True(t, closed.Pool.Closed)
	assert.Equal(t, uint64(100), f.balance(t, "admin"))

	_, err = f.keeper.Fund("pool-1", "admin", 1)
	assert.ErrorIs(t, err, staking.ErrPoolClosed)
	_, err = f.keeper.Stake("pool-1", "alice", tok, 1, nil)
	assert.ErrorIs(t, err, staking.ErrPoolClosed)
	_, err = f.keeper.ClosePool("pool-1", "admin")
	assert.ErrorIs(t, err, staking.ErrPoolClosed)
}

type failingBank struct{ ledger.Bank }

func (failingBank) Transfer(string, string, string, uint64) error {
	return errors.New("ledger unavailable")
}

func TestTransferFailureWritesNoRecords(t *testing.T) {
	s := testutil.NewStateDB()
	k := staking.NewKeeper(s, failingBank{ledger.NewStateBank(s)}, clock.NewManual(0))
	_, err := k.InitializePool(staking.InitPoolParams{ID: "p", Admin: "admin", Token: tok, RewardRate: 1})
	require.NoError(t, err)
	root := s.ComputeRoot()

	_, err = k.Fund("p", "admin", 1)
	assert.Equal(t, staking.KindTransferFailed, staking.KindOf(err))
	_, err = k.Stake("p", "alice", tok, 1, nil)
	assert.ErrorIs(t, err, staking.ErrTransferFailed)
	assert.Equal(t, root, s.ComputeRoot())
}

// switchBank delegates to a real bank until fail is set.
type switchBank struct {
	ledger.Bank
	fail bool
}

func (b *switchBank) Transfer(token, from, to string, amount uint64) error {
	if b.fail {
		return errors.New("ledger unavailable")
	}
	return b.Bank.Transfer(token, from, to, amount)
}

func TestRedeemTransferFailureWritesNoRecords(t *testing.T) {
	s := testutil.NewStateDB()
	inner := ledger.NewStateBank(s)
	require.NoError(t, inner.Credit(tok, "admin", 1000))
	require.NoError(t, inner.Credit(tok, "dave", 73000))
	bank := &switchBank{Bank: inner}
	k := staking.NewKeeper(s, bank, clock.NewManual(0))

	_, err := k.InitializePool(staking.InitPoolParams{ID: "p", Admin: "admin", Token: tok, RewardRate: 10})
	require.NoError(t, err)
	_, err = k.Fund("p", "admin", 1000)
	require.NoError(t, err)
	_, err = k.Stake("p", "dave", tok, 73000, at(0))
	require.NoError(t, err)
	info, err := k.StakeInfo("p", "dave", at(86400))
	require.NoError(t, err)
	require.Equal(t, uint64(20), info.Accrued)
	root := s.ComputeRoot()

	bank.fail = true
	_, err = k.Redeem("p", "dave", false, at(86400))
	assert.Equal(t, staking.KindTransferFailed, staking.KindOf(err))
	assert.Equal(t, root, s.ComputeRoot())

	pool, err := k.Pool("p")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), pool.RewardBudget)
	assert.Equal(t, uint64(73000), pool.TotalStaked)
	assert.Equal(t, uint64(1), pool.ActivePositions)
	pos, err := k.Position("p", "dave")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, uint64(73000), pos.Principal)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, staking.KindNone, staking.KindOf(nil))
	assert.Equal(t, staking.KindInternal, staking.KindOf(errors.New("boom")))
	assert.Equal(t, staking.KindPoolNotFound, staking.KindOf(staking.ErrPoolNotFound))
	assert.Equal(t, staking.KindCalculation, staking.KindOf(staking.ErrCalculation))
}
