package adaptor

import (
	"math/big"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/protocol"
	"github.com/elys-network/cellar/internal/types"
)

var (
	vault    = chain.NameToAddress("vault")
	receiver = chain.NameToAddress("receiver")
	usdcData = MustEncode(TokenData{Denom: "uusdc"})
)

func newContext(t *testing.T) VaultContext {
	t.Helper()
	ledger := chain.NewLedger()
	require.NoError(t, ledger.Mint(vault, sdktypes.NewCoin("uusdc", sdkmath.NewInt(1_000_000))))
	return VaultContext{Vault: vault, Ledger: ledger, Clock: chain.NewManualClock(time.Unix(1_700_000_000, 0))}
}

func TestERC20Adaptor(t *testing.T) {
	vc := newContext(t)
	a := NewERC20Adaptor()

	asset, err := a.AssetOf(usdcData)
	require.NoError(t, err)
	assert.Equal(t, "uusdc", asset)

	bal, err := a.BalanceOf(vc, usdcData)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), bal.Int64())

	require.NoError(t, a.Withdraw(vc, sdkmath.NewInt(400), receiver, usdcData))
	assert.Equal(t, int64(400), vc.Ledger.BalanceOf(receiver, "uusdc").Int64())

	_, err = a.AssetOf([]byte{0xff})
	require.ErrorIs(t, err, ErrInvalidAdaptorData)
}

func TestLendingAdaptorScopesApprovals(t *testing.T) {
	vc := newContext(t)
	market := protocol.NewLendingMarket(chain.NameToAddress("market"), vc.Ledger)
	a := NewLendingAdaptor(market)

	require.NoError(t, a.Deposit(vc, sdkmath.NewInt(600_000), usdcData))
	assert.Equal(t, 0, vc.Ledger.OutstandingAllowances(vault, ""))

	bal, err := a.BalanceOf(vc, usdcData)
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), bal.Int64())

	// someone else drains part of the market
	require.NoError(t, market.Borrow(receiver, "uusdc", sdkmath.NewInt(500_000)))
	w, err := a.WithdrawableFrom(vc, usdcData)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), w.Int64())

	op := NewOp(ActionWithdraw, AmountParams{Denom: "uusdc", Amount: big.NewInt(100_000)})
	require.NoError(t, a.Execute(vc, op))
	assert.Equal(t, int64(500_000), vc.Ledger.BalanceOf(vault, "uusdc").Int64())

	err = a.Execute(vc, NewOp("flashloan", AmountParams{Denom: "uusdc", Amount: big.NewInt(1)}))
	require.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestLendingDebtAdaptor(t *testing.T) {
	vc := newContext(t)
	market := protocol.NewLendingMarket(chain.NameToAddress("market"), vc.Ledger)
	require.NoError(t, vc.Ledger.Mint(market.Address(), sdktypes.NewCoin("uusdc", sdkmath.NewInt(50_000))))
	a := NewLendingDebtAdaptor(market)
	assert.True(t, a.IsDebt())

	require.NoError(t, a.Execute(vc, NewOp(ActionBorrow, AmountParams{Denom: "uusdc", Amount: big.NewInt(20_000)})))
	debt, err := a.BalanceOf(vc, usdcData)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000), debt.Int64())

	require.NoError(t, a.Execute(vc, NewOp(ActionRepay, AmountParams{Denom: "uusdc", Amount: big.NewInt(5_000)})))
	debt, err = a.BalanceOf(vc, usdcData)
	require.NoError(t, err)
	assert.Equal(t, int64(15_000), debt.Int64())
	assert.Equal(t, 0, vc.Ledger.OutstandingAllowances(vault, ""))

	require.ErrorIs(t, a.Deposit(vc, sdkmath.OneInt(), usdcData), ErrUserDepositsDisabled)
	w, err := a.WithdrawableFrom(vc, usdcData)
	require.NoError(t, err)
	assert.True(t, w.IsZero())
}

func TestStakingAdaptorIsIlliquid(t *testing.T) {
	vc := newContext(t)
	pool := protocol.NewStakingPool(chain.NameToAddress("staking"), vc.Ledger, "ureward")
	a := NewStakingAdaptor(pool)

	require.NoError(t, a.Deposit(vc, sdkmath.NewInt(10_000), usdcData))
	bal, err := a.BalanceOf(vc, usdcData)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), bal.Int64())

	w, err := a.WithdrawableFrom(vc, usdcData)
	require.NoError(t, err)
	assert.True(t, w.IsZero())

	pool.AddReward(vault, sdkmath.NewInt(3))
	require.NoError(t, a.Execute(vc, types.AdaptorOp{Action: ActionClaim}))
	assert.Equal(t, int64(3), vc.Ledger.BalanceOf(vault, "ureward").Int64())

	require.NoError(t, a.Withdraw(vc, sdkmath.NewInt(10_000), vault, usdcData))
	assert.Equal(t, int64(1_000_000), vc.Ledger.BalanceOf(vault, "uusdc").Int64())
}

type oneToOne struct{}

func (oneToOne) GetValue(_ string, amount sdkmath.Int, _ string) (sdkmath.Int, error) {
	return amount, nil
}

func TestSwapAdaptor(t *testing.T) {
	vc := newContext(t)
	router := protocol.NewSwapRouter(chain.NameToAddress("router"), vc.Ledger, oneToOne{}, 0)
	require.NoError(t, vc.Ledger.Mint(router.Address(), sdktypes.NewCoin("udai", sdkmath.NewInt(1_000_000))))
	a := NewSwapAdaptor(router)

	_, err := a.AssetOf(nil)
	require.ErrorIs(t, err, ErrNotAPosition)

	op := NewOp(ActionSwap, SwapParams{In: "uusdc", Amount: big.NewInt(1_000), Out: "udai", MinOut: big.NewInt(1_000)})
	require.NoError(t, a.Execute(vc, op))
	assert.Equal(t, int64(1_000), vc.Ledger.BalanceOf(vault, "udai").Int64())
	assert.Equal(t, 0, vc.Ledger.OutstandingAllowances(vault, ""))

	op = NewOp(ActionSwap, SwapParams{In: "uusdc", Amount: big.NewInt(1_000), Out: "udai", MinOut: big.NewInt(1_001)})
	require.ErrorIs(t, a.Execute(vc, op), types.ErrSlippage)
	assert.Equal(t, 0, vc.Ledger.OutstandingAllowances(vault, ""))
}

func TestAdaptorIdentifiersAreDistinct(t *testing.T) {
	ids := map[types.AdaptorID]bool{}
	for _, id := range []types.AdaptorID{ERC20AdaptorID, LendingAdaptorID, LendingDebtAdaptorID, StakingAdaptorID, CellarAdaptorID, SwapAdaptorID} {
		assert.False(t, ids[id])
		ids[id] = true
	}
}
