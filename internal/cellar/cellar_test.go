package cellar

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/cellar/internal/adaptor"
	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/fees"
	"github.com/elys-network/cellar/internal/pricerouter"
	"github.com/elys-network/cellar/internal/protocol"
	"github.com/elys-network/cellar/internal/registry"
	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/withdrawqueue"
)

const (
	posLending  types.PositionID = 1
	posWETH     types.PositionID = 2
	posDebt     types.PositionID = 3
	posStaking  types.PositionID = 4
	posIdleUSDC types.PositionID = 5
)

var (
	usdc = types.Token{Denom: "uusdc", Symbol: "USDC", Decimals: 6}
	weth = types.Token{Denom: "weth", Symbol: "WETH", Decimals: 18}

	owner      = chain.NameToAddress("owner")
	strategist = chain.NameToAddress("strategist")
	payout     = chain.NameToAddress("strategist-payout")
	collector  = chain.NameToAddress("fee-collector")
	automation = chain.NameToAddress("automation")
	alice      = chain.NameToAddress("alice")
	bob        = chain.NameToAddress("bob")
)

func usdcAmount(whole int64) sdkmath.Int {
	return sdkmath.NewInt(whole).Mul(usdc.One())
}

func wethAmount(whole int64) sdkmath.Int {
	return sdkmath.NewInt(whole).Mul(weth.One())
}

type fixture struct {
	clock    *chain.ManualClock
	ledger   *chain.Ledger
	journal  *chain.Journal
	router   *pricerouter.Router
	registry *registry.Registry
	market   *protocol.LendingMarket
	pool     *protocol.StakingPool
	swap     *protocol.SwapRouter
	fees     *fees.Engine
	cellar   *Cellar
}

func newFixture(t *testing.T, swapFeeBps uint32) *fixture {
	t.Helper()
	f := &fixture{clock: chain.NewManualClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))}
	f.ledger = chain.NewLedger()
	f.journal = chain.NewJournal(f.ledger)

	feeds := protocol.NewDirectory[pricerouter.Feed]()
	chainlink := pricerouter.NewChainlinkExtension(feeds, f.clock)
	f.router = pricerouter.NewRouter(owner)
	for _, p := range []struct {
		token  types.Token
		answer int64
	}{{usdc, 1_00000000}, {weth, 2000_00000000}} {
		feed := protocol.NewStaticFeed(chain.NameToAddress(p.token.Symbol+"-usd"), 8, sdkmath.NewInt(p.answer), f.clock.Now())
		feeds.Register(feed.Address(), feed)
		settings, err := pricerouter.EncodeSettings(pricerouter.ChainlinkSettings{Feed: feed.Address()})
		require.NoError(t, err)
		require.NoError(t, f.router.AddAsset(owner, p.token, chainlink, settings, sdkmath.LegacyDec{}))
	}

	f.registry = registry.New(owner, f.router)
	f.market = protocol.NewLendingMarket(chain.NameToAddress("lending-market"), f.ledger)
	f.pool = protocol.NewStakingPool(chain.NameToAddress("staking-pool"), f.ledger, "ureward")
	f.swap = protocol.NewSwapRouter(chain.NameToAddress("swap-router"), f.ledger, f.router, swapFeeBps)
	require.NoError(t, f.ledger.Mint(f.swap.Address(), sdktypes.NewCoin("weth", wethAmount(1_000))))
	require.NoError(t, f.ledger.Mint(f.swap.Address(), sdktypes.NewCoin("uusdc", usdcAmount(1_000_000))))

	adaptors := []adaptor.Adaptor{
		adaptor.NewERC20Adaptor(),
		adaptor.NewLendingAdaptor(f.market),
		adaptor.NewLendingDebtAdaptor(f.market),
		adaptor.NewStakingAdaptor(f.pool),
		adaptor.NewSwapAdaptor(f.swap),
	}
	for _, a := range adaptors {
		require.NoError(t, f.registry.TrustAdaptor(owner, a))
	}
	for _, p := range []struct {
		id      types.PositionID
		adaptor types.AdaptorID
		denom   string
		debt    bool
	}{
		{posLending, adaptor.LendingAdaptorID, "uusdc", false},
		{posWETH, adaptor.ERC20AdaptorID, "weth", false},
		{posDebt, adaptor.LendingDebtAdaptorID, "uusdc", true},
		{posStaking, adaptor.StakingAdaptorID, "uusdc", false},
		{posIdleUSDC, adaptor.ERC20AdaptorID, "uusdc", false},
	} {
		require.NoError(t, f.registry.TrustPosition(owner, p.id, p.adaptor, adaptor.MustEncode(adaptor.TokenData{Denom: p.denom}), p.debt))
	}
	require.NoError(t, f.registry.SetAddress(owner, registry.SlotFeeCollector, collector))

	f.fees = fees.NewEngine(chain.NameToAddress("fees-and-reserves"), f.ledger, f.clock, automation, time.Hour)
	f.journal.Register(f.router, f.registry, f.market, f.pool, f.fees)

	c, err := New(Config{
		Address:          chain.NameToAddress("cellar"),
		Name:             "Real Yield USD",
		Symbol:           "RYUSD",
		ShareDenom:       "cellar-ryusd",
		Asset:            usdc,
		Owner:            owner,
		Strategist:       strategist,
		StrategistPayout: payout,
		PlatformFeeBps:   2_000,
		ManagementFeeBps: 200,
	}, Deps{Ledger: f.ledger, Journal: f.journal, Clock: f.clock, Registry: f.registry, Prices: f.router, Fees: f.fees})
	require.NoError(t, err)
	f.cellar = c

	for _, a := range adaptors {
		require.NoError(t, c.AddAdaptorToCatalogue(owner, a.Identifier()))
	}
	for _, id := range []types.PositionID{posLending, posWETH, posDebt, posStaking, posIdleUSDC} {
		require.NoError(t, c.AddPositionToCatalogue(owner, id))
	}
	require.NoError(t, c.AddPosition(strategist, 0, posLending))
	require.NoError(t, c.AddPosition(strategist, 1, posWETH))
	require.NoError(t, c.AddPosition(strategist, 2, posStaking))
	require.NoError(t, c.AddPosition(strategist, 0, posDebt))
	return f
}

func (f *fixture) deposit(t *testing.T, user common.Address, whole int64) sdkmath.Int {
	t.Helper()
	require.NoError(t, f.ledger.Mint(user, sdktypes.NewCoin("uusdc", usdcAmount(whole))))
	shares, err := f.cellar.Deposit(user, usdcAmount(whole), user)
	require.NoError(t, err)
	return shares
}

func (f *fixture) totalAssets(t *testing.T) sdkmath.Int {
	t.Helper()
	ta, err := f.cellar.TotalAssets()
	require.NoError(t, err)
	return ta
}

func swapCall(in string, amount sdkmath.Int, out string, minOut sdkmath.Int) types.AdaptorCall {
	return types.AdaptorCall{
		Adaptor: adaptor.SwapAdaptorID,
		Ops: []types.AdaptorOp{adaptor.NewOp(adaptor.ActionSwap, adaptor.SwapParams{
			In: in, Amount: amount.BigInt(), Out: out, MinOut: minOut.BigInt(),
		})},
	}
}

func TestFirstDepositMintsOneToOne(t *testing.T) {
	f := newFixture(t, 0)
	shares := f.deposit(t, alice, 1_000)
	assert.Equal(t, usdcAmount(1_000), shares)
	assert.Equal(t, uint32(6), f.cellar.ShareToken().Decimals)

	price, err := f.cellar.SharePrice()
	require.NoError(t, err)
	assert.Equal(t, usdc.One(), price)
}

func TestDepositRebalanceWithdrawScenario(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 100_000)

	receipt, err := f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(10_000), nil)
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(10_000), receipt.Actual)
	assert.Equal(t, usdcAmount(100_000), receipt.TotalAssetsAfter)
	assert.Equal(t, usdcAmount(10_000), f.market.SuppliedBalance(f.cellar.Address(), "uusdc"))
	assert.Equal(t, usdcAmount(100_000), f.totalAssets(t))

	shares, err := f.cellar.Withdraw(alice, usdcAmount(10_000), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(10_000), shares)
	assert.Equal(t, usdcAmount(10_000), f.ledger.BalanceOf(alice, "uusdc"))
	assert.Equal(t, usdcAmount(90_000), f.cellar.BalanceOf(alice))
	assert.Equal(t, usdcAmount(90_000), f.totalAssets(t))
	assert.Equal(t, usdcAmount(80_000), f.ledger.BalanceOf(f.cellar.Address(), "uusdc"))
	assert.Len(t, f.cellar.RebalanceHistory(), 1)
}

func TestProportionalWithdrawalPaysInKind(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 100_000)

	call := swapCall("uusdc", usdcAmount(50_000), "weth", wethAmount(25))
	receipt, err := f.cellar.Rebalance(strategist, types.IdlePosition, posWETH, usdcAmount(50_000), []types.AdaptorCall{call})
	require.NoError(t, err)
	assert.Equal(t, wethAmount(25), receipt.Actual)
	assert.Equal(t, usdcAmount(100_000), f.totalAssets(t))

	require.NoError(t, f.cellar.SetWithdrawType(owner, types.WithdrawProportional))
	assets, err := f.cellar.Redeem(alice, usdcAmount(10_000), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(10_000), assets)

	assert.Equal(t, usdcAmount(5_000), f.ledger.BalanceOf(alice, "uusdc"))
	assert.Equal(t, wethAmount(25).QuoRaw(10), f.ledger.BalanceOf(alice, "weth"))
	assert.Equal(t, usdcAmount(90_000), f.totalAssets(t))
}

func TestOrderlyWithdrawalSkipsIlliquidPositions(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 100_000)
	_, err := f.cellar.Rebalance(strategist, types.IdlePosition, posStaking, usdcAmount(60_000), nil)
	require.NoError(t, err)
	_, err = f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(30_000), nil)
	require.NoError(t, err)

	withdrawable, err := f.cellar.TotalAssetsWithdrawable()
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(40_000), withdrawable)

	_, err = f.cellar.Withdraw(alice, usdcAmount(35_000), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(5_000), f.market.SuppliedBalance(f.cellar.Address(), "uusdc"))
	assert.Equal(t, usdcAmount(60_000), f.pool.StakedBalance(f.cellar.Address(), "uusdc"))

	sharesBefore := f.cellar.BalanceOf(alice)
	_, err = f.cellar.Withdraw(alice, usdcAmount(20_000), alice, alice)
	require.ErrorIs(t, err, ErrLiquidityExceeded)
	assert.Equal(t, "LIQUIDITY", types.ErrorKind(err))
	assert.Equal(t, sharesBefore, f.cellar.BalanceOf(alice), "failed withdraw must not burn shares")
	assert.Equal(t, usdcAmount(5_000), f.market.SuppliedBalance(f.cellar.Address(), "uusdc"))
}

func TestUntrustedPositionIsRejected(t *testing.T) {
	f := newFixture(t, 0)
	before := f.cellar.CreditPositions()

	err := f.registry.TrustPosition(owner, 42, adaptor.ERC20AdaptorID, adaptor.MustEncode(adaptor.TokenData{Denom: "uscam"}), false)
	require.ErrorIs(t, err, registry.ErrAssetNotSupported)

	err = f.cellar.AddPositionToCatalogue(owner, 42)
	require.ErrorIs(t, err, ErrPositionNotTrusted)
	err = f.cellar.AddPosition(strategist, 0, 42)
	require.ErrorIs(t, err, ErrPositionNotInCatalogue)
	assert.Equal(t, before, f.cellar.CreditPositions())
}

func TestDistrustedPositionCanOnlyBeUnwound(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 1_000)
	_, err := f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(600), nil)
	require.NoError(t, err)

	require.NoError(t, f.registry.DistrustPosition(owner, posLending))
	assert.Equal(t, usdcAmount(1_000), f.totalAssets(t), "distrusted positions stay valued")

	_, err = f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(100), nil)
	require.ErrorIs(t, err, ErrPositionNotTrusted)

	_, err = f.cellar.Rebalance(strategist, posLending, types.IdlePosition, usdcAmount(600), nil)
	require.NoError(t, err)
	assert.True(t, f.market.SuppliedBalance(f.cellar.Address(), "uusdc").IsZero())

	require.ErrorIs(t, f.cellar.ForcePositionOut(owner, 1, posLending, false), ErrInvalidIndex)
	require.ErrorIs(t, f.cellar.ForcePositionOut(owner, 1, posWETH, false), ErrPositionStillTrusted)
	require.NoError(t, f.cellar.ForcePositionOut(owner, 0, posLending, false))
	assert.NotContains(t, f.cellar.CreditPositions(), posLending)
}

func TestRebalanceRevertsOnSlippage(t *testing.T) {
	f := newFixture(t, 100)
	f.deposit(t, alice, 100_000)

	call := swapCall("uusdc", usdcAmount(50_000), "weth", sdkmath.ZeroInt())
	_, err := f.cellar.Rebalance(strategist, types.IdlePosition, posWETH, usdcAmount(50_000), []types.AdaptorCall{call})
	require.ErrorIs(t, err, ErrTotalAssetsDeviation)
	assert.Equal(t, "SLIPPAGE", types.ErrorKind(err))

	assert.Equal(t, usdcAmount(100_000), f.ledger.BalanceOf(f.cellar.Address(), "uusdc"))
	assert.True(t, f.ledger.BalanceOf(f.cellar.Address(), "weth").IsZero())
	assert.Zero(t, f.ledger.OutstandingAllowances(f.cellar.Address(), ""))
	assert.Empty(t, f.cellar.RebalanceHistory())

	require.NoError(t, f.cellar.SetRebalanceDeviation(owner, 150))
	_, err = f.cellar.Rebalance(strategist, types.IdlePosition, posWETH, usdcAmount(50_000), []types.AdaptorCall{call})
	require.NoError(t, err)
}

func TestStrategistGuards(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 1_000)

	_, err := f.cellar.Rebalance(alice, types.IdlePosition, posLending, usdcAmount(1), nil)
	require.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(2_000), nil)
	require.ErrorIs(t, err, ErrInsufficientIdle)
	_, err = f.cellar.Rebalance(strategist, types.IdlePosition, posDebt, usdcAmount(1), nil)
	require.ErrorIs(t, err, ErrPositionNotUsed)

	require.NoError(t, f.cellar.RemoveAdaptorFromCatalogue(owner, adaptor.SwapAdaptorID))
	err = f.cellar.CallOnAdaptor(strategist, []types.AdaptorCall{swapCall("uusdc", usdcAmount(1), "weth", sdkmath.ZeroInt())})
	require.ErrorIs(t, err, ErrAdaptorNotInCatalogue)
}

func TestDebtReducesTotalAssets(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 100_000)
	_, err := f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(100_000), nil)
	require.NoError(t, err)

	borrow := types.AdaptorCall{
		Adaptor: adaptor.LendingDebtAdaptorID,
		Ops:     []types.AdaptorOp{adaptor.NewOp(adaptor.ActionBorrow, adaptor.AmountParams{Denom: "uusdc", Amount: usdcAmount(40_000).BigInt()})},
	}
	require.NoError(t, f.cellar.CallOnAdaptor(strategist, []types.AdaptorCall{borrow}))

	assert.Equal(t, usdcAmount(100_000), f.totalAssets(t))
	balances, err := f.cellar.PositionBalances()
	require.NoError(t, err)
	var debt types.PositionBalance
	for _, b := range balances {
		if b.IsDebt {
			debt = b
		}
	}
	assert.Equal(t, posDebt, debt.ID)
	assert.Equal(t, usdcAmount(40_000), debt.Value)
	assert.True(t, debt.Withdrawable.IsZero())

	withdrawable, err := f.cellar.TotalAssetsWithdrawable()
	require.NoError(t, err)
	// 40k idle plus the 60k the market still holds
	assert.Equal(t, usdcAmount(100_000), withdrawable)
}

type reentrantAdaptor struct {
	target        *Cellar
	leaveApproval bool
	depositErr    error
	observed      sdkmath.Int
}

var reentrantAdaptorID = types.NewAdaptorID("Reentrant Adaptor")

func (a *reentrantAdaptor) Identifier() types.AdaptorID { return reentrantAdaptorID }
func (a *reentrantAdaptor) IsDebt() bool                { return false }
func (a *reentrantAdaptor) AssetOf([]byte) (string, error) {
	return "uusdc", nil
}
func (a *reentrantAdaptor) BalanceOf(adaptor.VaultContext, []byte) (sdkmath.Int, error) {
	return sdkmath.ZeroInt(), nil
}
func (a *reentrantAdaptor) WithdrawableFrom(adaptor.VaultContext, []byte) (sdkmath.Int, error) {
	return sdkmath.ZeroInt(), nil
}
func (a *reentrantAdaptor) Deposit(adaptor.VaultContext, sdkmath.Int, []byte) error { return nil }
func (a *reentrantAdaptor) Withdraw(adaptor.VaultContext, sdkmath.Int, common.Address, []byte) error {
	return nil
}

func (a *reentrantAdaptor) Execute(vc adaptor.VaultContext, _ types.AdaptorOp) error {
	if a.leaveApproval {
		return vc.Ledger.Approve(vc.Vault, bob, "uusdc", sdkmath.OneInt())
	}
	_, a.depositErr = a.target.Deposit(vc.Vault, sdkmath.OneInt(), vc.Vault)
	a.observed, _ = a.target.TotalAssets()
	return nil
}

func TestReentrancyIsBlockedButViewsWork(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 1_000)
	evil := &reentrantAdaptor{target: f.cellar}
	require.NoError(t, f.registry.TrustAdaptor(owner, evil))
	require.NoError(t, f.cellar.AddAdaptorToCatalogue(owner, reentrantAdaptorID))

	call := types.AdaptorCall{Adaptor: reentrantAdaptorID, Ops: []types.AdaptorOp{{Action: "poke"}}}
	require.NoError(t, f.cellar.CallOnAdaptor(strategist, []types.AdaptorCall{call}))
	require.ErrorIs(t, evil.depositErr, ErrReentrant)
	assert.Equal(t, "REENTRANCY", types.ErrorKind(evil.depositErr))
	assert.Equal(t, usdcAmount(1_000), evil.observed)

	evil.leaveApproval = true
	err := f.cellar.CallOnAdaptor(strategist, []types.AdaptorCall{call})
	require.ErrorIs(t, err, ErrApprovalOutstanding)
	assert.Zero(t, f.ledger.OutstandingAllowances(f.cellar.Address(), ""))
}

func TestShutdownIsOneWay(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 1_000)
	_, err := f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(500), nil)
	require.NoError(t, err)

	require.ErrorIs(t, f.cellar.InitiateShutdown(alice), types.ErrUnauthorized)
	require.NoError(t, f.cellar.InitiateShutdown(owner))
	require.ErrorIs(t, f.cellar.LiftShutdown(owner), ErrShutdownPermanent)
	assert.True(t, f.cellar.IsShutdown())

	require.NoError(t, f.ledger.Mint(bob, sdktypes.NewCoin("uusdc", usdcAmount(10))))
	_, err = f.cellar.Deposit(bob, usdcAmount(10), bob)
	require.ErrorIs(t, err, ErrShutdownActive)
	assert.Equal(t, "SHUTDOWN", types.ErrorKind(err))

	_, err = f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(100), nil)
	require.ErrorIs(t, err, ErrShutdownActive)
	_, err = f.cellar.Rebalance(strategist, posLending, types.IdlePosition, usdcAmount(500), nil)
	require.NoError(t, err)

	_, err = f.cellar.Redeem(alice, usdcAmount(1_000), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(1_000), f.ledger.BalanceOf(alice, "uusdc"))
}

func TestPauseBlocksUserEntryPoints(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 1_000)
	require.NoError(t, f.registry.PauseTarget(owner, f.cellar.Address()))

	_, err := f.cellar.Withdraw(alice, usdcAmount(1), alice, alice)
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, f.cellar.Transfer(alice, bob, usdcAmount(1)), ErrPaused)
	maxWithdraw, err := f.cellar.MaxWithdraw(alice)
	require.NoError(t, err)
	assert.True(t, maxWithdraw.IsZero())

	require.NoError(t, f.registry.UnpauseTarget(owner, f.cellar.Address()))
	_, err = f.cellar.Withdraw(alice, usdcAmount(1), alice, alice)
	require.NoError(t, err)
}

func TestRoundTripAndConservation(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 100_000)

	// a deposit immediately redeemed never returns more than was paid
	shares := f.deposit(t, bob, 333)
	assets, err := f.cellar.Redeem(bob, shares, bob, bob)
	require.NoError(t, err)
	assert.True(t, assets.LTE(usdcAmount(333)))

	f.deposit(t, bob, 50_000)
	_, err = f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(150_000), nil)
	require.NoError(t, err)
	require.NoError(t, f.market.AccrueInterest("uusdc", 333))

	claimA, err := f.cellar.PreviewRedeem(f.cellar.BalanceOf(alice))
	require.NoError(t, err)
	claimB, err := f.cellar.PreviewRedeem(f.cellar.BalanceOf(bob))
	require.NoError(t, err)
	assert.True(t, claimA.Add(claimB).LTE(f.totalAssets(t)))
	assert.True(t, claimA.GT(usdcAmount(100_000)))

	assetsA, err := f.cellar.Redeem(alice, f.cellar.BalanceOf(alice), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, claimA, assetsA)
}

func TestSupplyCapAndMint(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.cellar.SetShareSupplyCap(owner, usdcAmount(1_000)))
	f.deposit(t, alice, 600)

	require.NoError(t, f.ledger.Mint(bob, sdktypes.NewCoin("uusdc", usdcAmount(1_000))))
	_, err := f.cellar.Deposit(bob, usdcAmount(500), bob)
	require.ErrorIs(t, err, ErrSupplyCapExceeded)

	maxDeposit, err := f.cellar.MaxDeposit()
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(400), maxDeposit)

	assets, err := f.cellar.Mint(bob, usdcAmount(400), bob)
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(400), assets)
}

func TestPositionManagement(t *testing.T) {
	f := newFixture(t, 0)

	require.ErrorIs(t, f.cellar.AddPosition(strategist, 0, posIdleUSDC), ErrHoldingAssetPosition)
	require.ErrorIs(t, f.cellar.AddPosition(strategist, 0, posLending), ErrPositionInUse)
	require.ErrorIs(t, f.cellar.AddPosition(alice, 0, posLending), types.ErrUnauthorized)

	require.NoError(t, f.cellar.SwapPositions(strategist, 0, 1, false))
	assert.Equal(t, []types.PositionID{posWETH, posLending, posStaking}, f.cellar.CreditPositions())
	assert.Equal(t, []types.PositionID{posDebt}, f.cellar.DebtPositions())

	f.deposit(t, alice, 1_000)
	_, err := f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(100), nil)
	require.NoError(t, err)
	require.ErrorIs(t, f.cellar.RemovePosition(strategist, 1, false), ErrPositionNotEmpty)
	require.ErrorIs(t, f.cellar.RemovePositionFromCatalogue(owner, posLending), ErrPositionInUse)

	require.NoError(t, f.cellar.RemovePosition(strategist, 0, false))
	assert.Equal(t, []types.PositionID{posLending, posStaking}, f.cellar.CreditPositions())
	require.NoError(t, f.cellar.RemovePositionFromCatalogue(owner, posWETH))
	assert.False(t, f.cellar.IsPositionInCatalogue(posWETH))
}

func TestHoldingPositionReceivesDeposits(t *testing.T) {
	f := newFixture(t, 0)
	require.ErrorIs(t, f.cellar.SetHoldingPosition(strategist, posWETH), ErrInvalidHoldingPosition)
	require.NoError(t, f.cellar.SetHoldingPosition(strategist, posLending))

	f.deposit(t, alice, 2_500)
	assert.Equal(t, usdcAmount(2_500), f.market.SuppliedBalance(f.cellar.Address(), "uusdc"))
	assert.True(t, f.ledger.BalanceOf(f.cellar.Address(), "uusdc").IsZero())
	assert.Equal(t, usdcAmount(2_500), f.totalAssets(t))

	_, err := f.cellar.Withdraw(alice, usdcAmount(1_000), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(1_500), f.market.SuppliedBalance(f.cellar.Address(), "uusdc"))
}

func TestSendFeesDilutesOnceAndSplits(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 1_000_000)

	receipt, err := f.cellar.SendFees(strategist)
	require.NoError(t, err)
	assert.True(t, receipt.SharesMinted.IsZero(), "first accrual only starts the clock")

	f.clock.Advance(365 * 24 * time.Hour)
	receipt, err = f.cellar.SendFees(strategist)
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(20_000), receipt.FeesOwed)
	// 20k * 1M / (1M - 20k) shares
	assert.Equal(t, sdkmath.NewInt(20_408_163_265), receipt.SharesMinted)
	assert.Equal(t, sdkmath.NewInt(4_081_632_653), f.cellar.BalanceOf(collector))
	assert.Equal(t, sdkmath.NewInt(16_326_530_612), f.cellar.BalanceOf(payout))

	again, err := f.cellar.SendFees(strategist)
	require.NoError(t, err)
	assert.True(t, again.SharesMinted.IsZero())

	claim, err := f.cellar.PreviewRedeem(f.cellar.BalanceOf(alice))
	require.NoError(t, err)
	assert.InDelta(t, 980_000_000_000, claim.Int64(), 1)
}

func TestReservesSettleFees(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 1_000_000)
	_, err := f.cellar.SendFees(strategist)
	require.NoError(t, err)

	require.NoError(t, f.cellar.AddToReserves(strategist, usdcAmount(2_500)))
	assert.Equal(t, usdcAmount(997_500), f.totalAssets(t))

	f.clock.Advance(365 * 24 * time.Hour)
	receipt, err := f.cellar.SettleFeesFromReserves(strategist)
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(2_500), receipt.PaidFromReserves)
	assert.Equal(t, usdcAmount(500), f.ledger.BalanceOf(collector, "uusdc"))
	assert.Equal(t, usdcAmount(2_000), f.ledger.BalanceOf(payout, "uusdc"))

	meta, err := f.cellar.FeeMetaData()
	require.NoError(t, err)
	assert.True(t, meta.Reserves.IsZero())
	assert.True(t, meta.FeesOwed.IsPositive())
	require.ErrorIs(t, f.cellar.WithdrawFromReserves(strategist, usdcAmount(1)), fees.ErrInsufficientReserves)
}

func TestReserveMovesStayWithinDeviation(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 1_000_000)

	require.ErrorIs(t, f.cellar.AddToReserves(alice, usdcAmount(1)), types.ErrUnauthorized)

	// 30 bps of NAV per move
	err := f.cellar.AddToReserves(strategist, usdcAmount(3_001))
	require.ErrorIs(t, err, ErrTotalAssetsDeviation)
	assert.Equal(t, usdcAmount(1_000_000), f.totalAssets(t))
	meta, err := f.cellar.FeeMetaData()
	require.NoError(t, err)
	assert.True(t, meta.Reserves.IsZero(), "failed move is rolled back")

	require.NoError(t, f.cellar.AddToReserves(strategist, usdcAmount(3_000)))
	require.NoError(t, f.cellar.AddToReserves(strategist, usdcAmount(2_000)))
	assert.Equal(t, usdcAmount(995_000), f.totalAssets(t))

	require.ErrorIs(t, f.cellar.WithdrawFromReserves(strategist, usdcAmount(5_000)), ErrTotalAssetsDeviation)
	require.NoError(t, f.cellar.WithdrawFromReserves(strategist, usdcAmount(2_500)))
	assert.Equal(t, usdcAmount(997_500), f.totalAssets(t))

	require.NoError(t, f.cellar.SetRebalanceDeviation(owner, 100))
	require.NoError(t, f.cellar.WithdrawFromReserves(strategist, usdcAmount(2_500)))
	assert.Equal(t, usdcAmount(1_000_000), f.totalAssets(t))
}

func TestDistrustedAdaptorCannotBeCalled(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 100_000)
	_, err := f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(10_000), nil)
	require.NoError(t, err)

	require.NoError(t, f.registry.DistrustAdaptor(owner, adaptor.SwapAdaptorID))
	assert.True(t, f.cellar.IsAdaptorInCatalogue(adaptor.SwapAdaptorID), "catalogue entry outlives registry trust")

	call := swapCall("uusdc", usdcAmount(1_000), "weth", sdkmath.ZeroInt())
	err = f.cellar.CallOnAdaptor(strategist, []types.AdaptorCall{call})
	require.ErrorIs(t, err, ErrAdaptorNotTrusted)
	assert.Equal(t, "CONFIGURATION", types.ErrorKind(err))

	_, err = f.cellar.Rebalance(strategist, types.IdlePosition, posWETH, usdcAmount(1_000), []types.AdaptorCall{call})
	require.ErrorIs(t, err, ErrAdaptorNotTrusted)
	assert.Equal(t, usdcAmount(90_000), f.ledger.BalanceOf(f.cellar.Address(), "uusdc"))
	assert.True(t, f.ledger.BalanceOf(f.cellar.Address(), "weth").IsZero())

	require.ErrorIs(t, f.cellar.AddAdaptorToCatalogue(owner, adaptor.SwapAdaptorID), ErrAdaptorNotTrusted)

	// positions behind a distrusted adaptor stay valued and can be unwound
	require.NoError(t, f.registry.DistrustAdaptor(owner, adaptor.LendingAdaptorID))
	assert.Equal(t, usdcAmount(100_000), f.totalAssets(t))
	_, err = f.cellar.Rebalance(strategist, posLending, types.IdlePosition, usdcAmount(10_000), nil)
	require.NoError(t, err)
	assert.True(t, f.market.SuppliedBalance(f.cellar.Address(), "uusdc").IsZero())
}

func TestRebalanceIntoPositionNeedsProceeds(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 100_000)

	_, err := f.cellar.Rebalance(strategist, types.IdlePosition, posWETH, usdcAmount(1_000), nil)
	require.ErrorIs(t, err, ErrNothingToDeposit)
	assert.Equal(t, "INVALID_INPUT", types.ErrorKind(err))
	assert.Empty(t, f.cellar.RebalanceHistory())

	_, err = f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(20_000), nil)
	require.NoError(t, err)
	_, err = f.cellar.Rebalance(strategist, posLending, posWETH, usdcAmount(5_000), nil)
	require.ErrorIs(t, err, ErrNothingToDeposit)
	assert.Equal(t, usdcAmount(20_000), f.market.SuppliedBalance(f.cellar.Address(), "uusdc"), "withdrawal is rolled back")

	receipt, err := f.cellar.Rebalance(strategist, types.IdlePosition, posWETH, sdkmath.ZeroInt(), nil)
	require.NoError(t, err)
	assert.True(t, receipt.Actual.IsZero())
}

func TestCellarCannotHoldItself(t *testing.T) {
	f := newFixture(t, 0)
	vaults := protocol.NewDirectory[adaptor.ShareVault]()
	vaults.Register(f.cellar.Address(), f.cellar)
	require.NoError(t, f.registry.TrustAdaptor(owner, adaptor.NewCellarAdaptor(vaults)))
	require.NoError(t, f.cellar.AddAdaptorToCatalogue(owner, adaptor.CellarAdaptorID))

	const posSelf types.PositionID = 9
	data := adaptor.MustEncode(adaptor.VaultData{Vault: f.cellar.Address()})
	require.NoError(t, f.registry.TrustPosition(owner, posSelf, adaptor.CellarAdaptorID, data, false))
	require.NoError(t, f.cellar.AddPositionToCatalogue(owner, posSelf))

	err := f.cellar.AddPosition(strategist, 0, posSelf)
	require.ErrorIs(t, err, ErrSelfPosition)
	assert.Equal(t, "CONFIGURATION", types.ErrorKind(err))
	assert.NotContains(t, f.cellar.CreditPositions(), posSelf)

	f.deposit(t, alice, 1_000)
	assert.Equal(t, usdcAmount(1_000), f.totalAssets(t))
}

func TestWithdrawQueueSolvesAgainstCellar(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, alice, 100_000)
	_, err := f.cellar.Rebalance(strategist, types.IdlePosition, posLending, usdcAmount(100_000), nil)
	require.NoError(t, err)
	require.NoError(t, f.market.AccrueInterest("uusdc", 1_000))

	vaults := protocol.NewDirectory[withdrawqueue.Vault]()
	vaults.Register(f.cellar.Address(), f.cellar)
	queue := withdrawqueue.New(chain.NameToAddress("withdraw-queue"), vaults, f.journal, f.clock)
	f.journal.Register(queue)

	require.NoError(t, f.cellar.Approve(alice, queue.Address(), usdcAmount(10_000)))
	require.NoError(t, queue.UpdateWithdrawRequest(f.cellar.Address(), alice, withdrawqueue.Request{
		Deadline:            f.clock.Now().Add(24 * time.Hour),
		ExecutionSharePrice: usdc.One(),
		SharesToWithdraw:    usdcAmount(10_000),
	}))

	solver := chain.NameToAddress("solver")
	report, err := queue.Solve(solver, f.cellar.Address(), []common.Address{alice})
	require.NoError(t, err)
	require.Len(t, report.Filled, 1)
	assert.Equal(t, usdcAmount(10_000), f.ledger.BalanceOf(alice, "uusdc"))
	// at a share price of 1.1 only 9090.909091 shares are burned for 10k
	assert.Equal(t, sdkmath.NewInt(909_090_909), f.cellar.BalanceOf(solver))
	assert.Equal(t, usdcAmount(90_000), f.cellar.BalanceOf(alice))
}
