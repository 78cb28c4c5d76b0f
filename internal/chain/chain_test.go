package chain

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/cellar/internal/types"
)

var (
	alice = NameToAddress("alice")
	bob   = NameToAddress("bob")
	carol = NameToAddress("carol")
)

func usdc(n int64) sdktypes.Coin {
	return sdktypes.NewCoin("uusdc", sdkmath.NewInt(n))
}

func TestLedgerMintTransferBurn(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, usdc(100)))
	require.NoError(t, l.Transfer(alice, bob, usdc(40)))

	assert.Equal(t, int64(60), l.BalanceOf(alice, "uusdc").Int64())
	assert.Equal(t, int64(40), l.BalanceOf(bob, "uusdc").Int64())
	assert.Equal(t, int64(100), l.TotalSupply("uusdc").Int64())

	err := l.Transfer(bob, alice, usdc(41))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.ErrorIs(t, err, types.ErrInvalidInput)

	require.NoError(t, l.Burn(bob, usdc(40)))
	assert.True(t, l.BalanceOf(bob, "uusdc").IsZero())
	assert.Equal(t, int64(60), l.TotalSupply("uusdc").Int64())
}

func TestLedgerAllowances(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, usdc(100)))

	err := l.TransferFrom(bob, alice, carol, usdc(10))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, l.Approve(alice, bob, "uusdc", sdkmath.NewInt(25)))
	assert.Equal(t, 1, l.OutstandingAllowances(alice, ""))
	require.NoError(t, l.TransferFrom(bob, alice, carol, usdc(25)))

	assert.Equal(t, int64(25), l.BalanceOf(carol, "uusdc").Int64())
	assert.Equal(t, 0, l.OutstandingAllowances(alice, ""))
}

func TestLedgerRejectsInvalidDenom(t *testing.T) {
	l := NewLedger()
	err := l.Mint(alice, sdktypes.Coin{Denom: "x", Amount: sdkmath.OneInt()})
	require.ErrorIs(t, err, ErrInvalidCoin)
}

func TestJournalRestoresOnError(t *testing.T) {
	l := NewLedger()
	j := NewJournal(l)
	require.NoError(t, l.Mint(alice, usdc(100)))

	boom := errors.New("boom")
	err := j.Atomic(func() error {
		require.NoError(t, l.Transfer(alice, bob, usdc(70)))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(100), l.BalanceOf(alice, "uusdc").Int64())
	assert.True(t, l.BalanceOf(bob, "uusdc").IsZero())
}

func TestJournalNestedFailureKeepsOuterWork(t *testing.T) {
	l := NewLedger()
	j := NewJournal(l)
	require.NoError(t, l.Mint(alice, usdc(100)))

	err := j.Atomic(func() error {
		if err := l.Transfer(alice, bob, usdc(10)); err != nil {
			return err
		}
		inner := j.Atomic(func() error {
			_ = l.Transfer(alice, carol, usdc(10))
			return errors.New("inner failed")
		})
		assert.Error(t, inner)
		assert.Equal(t, 1, j.Depth())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), l.BalanceOf(bob, "uusdc").Int64())
	assert.True(t, l.BalanceOf(carol, "uusdc").IsZero())
	assert.Equal(t, 0, j.Depth())
}

func TestJournalRestoresOnPanic(t *testing.T) {
	l := NewLedger()
	j := NewJournal(l)
	require.NoError(t, l.Mint(alice, usdc(5)))

	assert.Panics(t, func() {
		_ = j.Atomic(func() error {
			_ = l.Burn(alice, usdc(5))
			panic("unexpected")
		})
	})
	assert.Equal(t, int64(5), l.BalanceOf(alice, "uusdc").Int64())
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now())
}

func TestNameToAddressIsStable(t *testing.T) {
	assert.Equal(t, NameToAddress("alice"), alice)
	assert.NotEqual(t, alice, bob)
}
