package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tok   = common.HexToAddress("0x0000000000000000000000000000000000000011")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	pool  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func TestCommitApplies(t *testing.T) {
	l := New()
	l.Mint(tok, alice, big.NewInt(100))

	j := l.Begin()
	require.NoError(t, j.Transfer(tok, alice, bob, big.NewInt(40)))
	require.NoError(t, j.Commit())

	assert.Equal(t, int64(60), l.Balance(tok, alice).Int64())
	assert.Equal(t, int64(40), l.Balance(tok, bob).Int64())
}

func TestDiscardLeavesBalancesUnchanged(t *testing.T) {
	l := New()
	l.Mint(tok, alice, big.NewInt(100))

	j := l.Begin()
	require.NoError(t, j.Transfer(tok, alice, bob, big.NewInt(40)))
	j.Discard()

	assert.Equal(t, int64(100), l.Balance(tok, alice).Int64())
	assert.Equal(t, int64(0), l.Balance(tok, bob).Int64())
}

func TestOverdraftRejected(t *testing.T) {
	l := New()
	l.Mint(tok, alice, big.NewInt(10))

	j := l.Begin()
	err := j.Transfer(tok, alice, bob, big.NewInt(11))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestStagedBalanceChains(t *testing.T) {
	l := New()
	l.Mint(tok, pool, big.NewInt(50))

	// alice has nothing committed, but a staged credit lets her pay bob.
	j := l.Begin()
	require.NoError(t, j.Transfer(tok, pool, alice, big.NewInt(30)))
	require.NoError(t, j.Transfer(tok, alice, bob, big.NewInt(30)))
	require.NoError(t, j.Commit())

	assert.Equal(t, int64(0), l.Balance(tok, alice).Int64())
	assert.Equal(t, int64(30), l.Balance(tok, bob).Int64())
	assert.Equal(t, int64(20), l.Balance(tok, pool).Int64())
}

func TestExternalAccountMayOverdraw(t *testing.T) {
	l := New()
	l.SetExternal(pool)

	j := l.Begin()
	require.NoError(t, j.Transfer(tok, pool, alice, big.NewInt(1000)))
	require.NoError(t, j.Commit())
	assert.Equal(t, int64(1000), l.Balance(tok, alice).Int64())
}

func TestBadAmount(t *testing.T) {
	l := New()
	j := l.Begin()
	assert.ErrorIs(t, j.Transfer(tok, alice, bob, big.NewInt(0)), ErrBadAmount)
	assert.ErrorIs(t, j.Transfer(tok, alice, bob, big.NewInt(-5)), ErrBadAmount)
}

func TestJournalSingleUse(t *testing.T) {
	l := New()
	l.Mint(tok, alice, big.NewInt(10))
	j := l.Begin()
	require.NoError(t, j.Transfer(tok, alice, bob, big.NewInt(5)))
	require.NoError(t, j.Commit())
	assert.Error(t, j.Commit())
	assert.Error(t, j.Transfer(tok, alice, bob, big.NewInt(1)))
}
