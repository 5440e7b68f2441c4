package ledger_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolstake/internal/testutil"
	"github.com/tolelom/tolstake/ledger"
)

func TestTransferMovesBalance(t *testing.T) {
	bank := ledger.NewStateBank(testutil.NewStateDB())
	require.NoError(t, bank.Credit("TOK", "alice", 1000))

	require.NoError(t, bank.Transfer("TOK", "alice", "bob", 300))

	a, _ := bank.BalanceOf("TOK", "alice")
	b, _ := bank.BalanceOf("TOK", "bob")
	assert.Equal(t, uint64(700), a)
	assert.Equal(t, uint64(300), b)
}

func TestTransferRejects(t *testing.T) {
	bank := ledger.NewStateBank(testutil.NewStateDB())
	require.NoError(t, bank.Credit("TOK", "alice", 10))
	require.NoError(t, bank.Credit("TOK", "full", math.MaxUint64))

	assert.ErrorIs(t, bank.Transfer("TOK", "alice", "bob", 0), ledger.ErrInvalidAmount)
	assert.ErrorIs(t, bank.Transfer("TOK", "", "bob", 1), ledger.ErrInvalidAccount)
	assert.ErrorIs(t, bank.Transfer("TOK", "alice", "bob", 11), ledger.ErrInsufficientBalance)
	assert.ErrorIs(t, bank.Transfer("OTHER", "alice", "bob", 1), ledger.ErrInsufficientBalance)
	assert.ErrorIs(t, bank.Transfer("TOK", "alice", "full", 1), ledger.ErrBalanceOverflow)

	// Nothing moved.
	a, _ := bank.BalanceOf("TOK", "alice")
	assert.Equal(t, uint64(10), a)
}

func TestSelfTransferIsBalanceCheckOnly(t *testing.T) {
	bank := ledger.NewStateBank(testutil.NewStateDB())
	require.NoError(t, bank.Credit("TOK", "alice", 10))
	require.NoError(t, bank.Transfer("TOK", "alice", "alice", 10))
	assert.ErrorIs(t, bank.Transfer("TOK", "alice", "alice", 11), ledger.ErrInsufficientBalance)
	a, _ := bank.BalanceOf("TOK", "alice")
	assert.Equal(t, uint64(10), a)
}

func TestCreditOverflow(t *testing.T) {
	bank := ledger.NewStateBank(testutil.NewStateDB())
	require.NoError(t, bank.Credit("TOK", "alice", math.MaxUint64))
	assert.ErrorIs(t, bank.Credit("TOK", "alice", 1), ledger.ErrBalanceOverflow)
}
