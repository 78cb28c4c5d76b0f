package protocol

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/types"
)

var (
	supplier = chain.NameToAddress("supplier")
	borrower = chain.NameToAddress("borrower")
)

func TestLendingMarketLiquidityLimitsWithdrawals(t *testing.T) {
	ledger := chain.NewLedger()
	market := NewLendingMarket(chain.NameToAddress("market"), ledger)
	require.NoError(t, ledger.Mint(supplier, sdktypes.NewCoin("uusdc", sdkmath.NewInt(1_000))))

	require.NoError(t, ledger.Approve(supplier, market.Address(), "uusdc", sdkmath.NewInt(1_000)))
	require.NoError(t, market.Supply(supplier, "uusdc", sdkmath.NewInt(1_000)))
	require.NoError(t, market.Borrow(borrower, "uusdc", sdkmath.NewInt(700)))

	assert.Equal(t, int64(300), market.Liquidity("uusdc").Int64())
	err := market.Withdraw(supplier, "uusdc", sdkmath.NewInt(301), supplier)
	require.ErrorIs(t, err, types.ErrLiquidity)

	require.NoError(t, market.Withdraw(supplier, "uusdc", sdkmath.NewInt(300), supplier))
	assert.Equal(t, int64(700), market.SuppliedBalance(supplier, "uusdc").Int64())
	assert.Equal(t, int64(700), market.DebtOf(borrower, "uusdc").Int64())
}

func TestLendingMarketAccrueInterest(t *testing.T) {
	ledger := chain.NewLedger()
	market := NewLendingMarket(chain.NameToAddress("market"), ledger)
	require.NoError(t, ledger.Mint(supplier, sdktypes.NewCoin("uusdc", sdkmath.NewInt(10_000))))
	require.NoError(t, ledger.Approve(supplier, market.Address(), "uusdc", sdkmath.NewInt(10_000)))
	require.NoError(t, market.Supply(supplier, "uusdc", sdkmath.NewInt(10_000)))

	require.NoError(t, market.AccrueInterest("uusdc", 100))
	assert.Equal(t, int64(10_100), market.SuppliedBalance(supplier, "uusdc").Int64())
	assert.Equal(t, int64(10_100), market.Liquidity("uusdc").Int64())
}

func TestStakingPoolClaim(t *testing.T) {
	ledger := chain.NewLedger()
	pool := NewStakingPool(chain.NameToAddress("staking"), ledger, "ureward")
	require.NoError(t, ledger.Mint(supplier, sdktypes.NewCoin("uatom", sdkmath.NewInt(50))))
	require.NoError(t, ledger.Approve(supplier, pool.Address(), "uatom", sdkmath.NewInt(50)))
	require.NoError(t, pool.Stake(supplier, "uatom", sdkmath.NewInt(50)))

	pool.AddReward(supplier, sdkmath.NewInt(7))
	claimed, err := pool.Claim(supplier)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claimed.Int64())
	assert.Equal(t, int64(7), ledger.BalanceOf(supplier, "ureward").Int64())
	assert.True(t, pool.PendingRewards(supplier).IsZero())
}

type fixedQuoter struct{ num, den int64 }

func (q fixedQuoter) GetValue(_ string, amount sdkmath.Int, _ string) (sdkmath.Int, error) {
	return amount.MulRaw(q.num).QuoRaw(q.den), nil
}

func TestSwapRouterEnforcesMinOut(t *testing.T) {
	ledger := chain.NewLedger()
	router := NewSwapRouter(chain.NameToAddress("router"), ledger, fixedQuoter{num: 2, den: 1}, 30)
	require.NoError(t, ledger.Mint(router.Address(), sdktypes.NewCoin("uatom", sdkmath.NewInt(1_000_000))))
	require.NoError(t, ledger.Mint(supplier, sdktypes.NewCoin("uusdc", sdkmath.NewInt(10_000))))
	require.NoError(t, ledger.Approve(supplier, router.Address(), "uusdc", sdkmath.NewInt(10_000)))

	_, err := router.Swap(supplier, sdktypes.NewCoin("uusdc", sdkmath.NewInt(10_000)), "uatom", sdkmath.NewInt(20_000))
	require.ErrorIs(t, err, types.ErrSlippage)

	out, err := router.Swap(supplier, sdktypes.NewCoin("uusdc", sdkmath.NewInt(10_000)), "uatom", sdkmath.NewInt(19_900))
	require.NoError(t, err)
	assert.Equal(t, int64(19_940), out.Int64())
}

func TestAMMPoolLock(t *testing.T) {
	pool := NewAMMPool(chain.NameToAddress("pool"), sdkmath.LegacyNewDec(1))
	assert.False(t, pool.ReentrancyLocked())
	pool.WithLock(func() {
		assert.True(t, pool.ReentrancyLocked())
	})
	assert.False(t, pool.ReentrancyLocked())
}

func TestDirectoryResolve(t *testing.T) {
	d := NewDirectory[*StaticFeed]()
	f := NewStaticFeed(chain.NameToAddress("feed"), 8, sdkmath.NewInt(100), time.Unix(0, 0))
	d.Register(f.Address(), f)
	got, ok := d.Resolve(f.Address())
	require.True(t, ok)
	assert.Same(t, f, got)
	_, ok = d.Resolve(supplier)
	assert.False(t, ok)
}
