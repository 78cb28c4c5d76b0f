package withdrawqueue

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/protocol"
	"github.com/elys-network/cellar/internal/types"
)

var (
	usdc   = types.Token{Denom: "uusdc", Symbol: "USDC", Decimals: 6}
	alice  = chain.NameToAddress("alice")
	bob    = chain.NameToAddress("bob")
	carol  = chain.NameToAddress("carol")
	solver = chain.NameToAddress("solver")
)

type allowanceKey struct{ owner, spender common.Address }

// stubVault prices shares at a fixed rate and pays withdrawals out of a liquidity budget.
type stubVault struct {
	addr       common.Address
	price      sdkmath.Int
	liquidity  sdkmath.Int
	shares     map[common.Address]sdkmath.Int
	allowances map[allowanceKey]sdkmath.Int
	paid       map[common.Address]sdkmath.Int
}

func newStubVault(price, liquidity int64) *stubVault {
	return &stubVault{
		addr:       chain.NameToAddress("vault"),
		price:      sdkmath.NewInt(price),
		liquidity:  sdkmath.NewInt(liquidity),
		shares:     map[common.Address]sdkmath.Int{},
		allowances: map[allowanceKey]sdkmath.Int{},
		paid:       map[common.Address]sdkmath.Int{},
	}
}

func get(m map[common.Address]sdkmath.Int, a common.Address) sdkmath.Int {
	if v, ok := m[a]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

func (v *stubVault) Address() common.Address { return v.addr }
func (v *stubVault) Asset() types.Token      { return usdc }
func (v *stubVault) BalanceOf(owner common.Address) sdkmath.Int {
	return get(v.shares, owner)
}

func (v *stubVault) Allowance(owner, spender common.Address) sdkmath.Int {
	if a, ok := v.allowances[allowanceKey{owner, spender}]; ok {
		return a
	}
	return sdkmath.ZeroInt()
}

func (v *stubVault) PreviewRedeem(shares sdkmath.Int) (sdkmath.Int, error) {
	return shares.Mul(v.price).Quo(usdc.One()), nil
}

func (v *stubVault) Transfer(caller, to common.Address, shares sdkmath.Int) error {
	if get(v.shares, caller).LT(shares) {
		return fmt.Errorf("%w: share balance", types.ErrLiquidity)
	}
	v.shares[caller] = get(v.shares, caller).Sub(shares)
	v.shares[to] = get(v.shares, to).Add(shares)
	return nil
}

func (v *stubVault) TransferFrom(spender, from, to common.Address, shares sdkmath.Int) error {
	allowed := v.Allowance(from, spender)
	if allowed.LT(shares) {
		return fmt.Errorf("%w: allowance", types.ErrLiquidity)
	}
	v.allowances[allowanceKey{from, spender}] = allowed.Sub(shares)
	return v.Transfer(from, to, shares)
}

func (v *stubVault) Withdraw(_ common.Address, assets sdkmath.Int, receiver, owner common.Address) (sdkmath.Int, error) {
	if assets.GT(v.liquidity) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: vault liquidity", types.ErrLiquidity)
	}
	num := assets.Mul(usdc.One())
	shares := num.Add(v.price).SubRaw(1).Quo(v.price)
	if get(v.shares, owner).LT(shares) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: share balance", types.ErrLiquidity)
	}
	v.shares[owner] = get(v.shares, owner).Sub(shares)
	v.paid[receiver] = get(v.paid, receiver).Add(assets)
	v.liquidity = v.liquidity.Sub(assets)
	return shares, nil
}

type stubSnapshot struct {
	liquidity  sdkmath.Int
	shares     map[common.Address]sdkmath.Int
	allowances map[allowanceKey]sdkmath.Int
	paid       map[common.Address]sdkmath.Int
}

func (v *stubVault) Snapshot() any {
	s := stubSnapshot{
		liquidity:  v.liquidity,
		shares:     map[common.Address]sdkmath.Int{},
		allowances: map[allowanceKey]sdkmath.Int{},
		paid:       map[common.Address]sdkmath.Int{},
	}
	for k, x := range v.shares {
		s.shares[k] = x
	}
	for k, x := range v.allowances {
		s.allowances[k] = x
	}
	for k, x := range v.paid {
		s.paid[k] = x
	}
	return s
}

func (v *stubVault) Restore(snapshot any) {
	s := snapshot.(stubSnapshot)
	v.liquidity, v.shares, v.allowances, v.paid = s.liquidity, s.shares, s.allowances, s.paid
}

type fixture struct {
	clock *chain.ManualClock
	vault *stubVault
	queue *Queue
}

func newFixture(price, liquidity int64) *fixture {
	clock := chain.NewManualClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	vault := newStubVault(price, liquidity)
	vaults := protocol.NewDirectory[Vault]()
	vaults.Register(vault.Address(), vault)
	journal := chain.NewJournal(vault)
	q := New(chain.NameToAddress("withdraw-queue"), vaults, journal, clock)
	journal.Register(q)
	return &fixture{clock: clock, vault: vault, queue: q}
}

// holder gives user shares and lets the queue pull approved of them.
func (f *fixture) holder(user common.Address, shares, approved int64) {
	f.vault.shares[user] = sdkmath.NewInt(shares)
	f.vault.allowances[allowanceKey{user, f.queue.Address()}] = sdkmath.NewInt(approved)
}

func (f *fixture) request(t *testing.T, user common.Address, shares, execPrice int64) {
	t.Helper()
	require.NoError(t, f.queue.UpdateWithdrawRequest(f.vault.Address(), user, Request{
		Deadline:            f.clock.Now().Add(time.Hour),
		ExecutionSharePrice: sdkmath.NewInt(execPrice),
		SharesToWithdraw:    sdkmath.NewInt(shares),
	}))
}

func TestUpdateWithdrawRequestValidation(t *testing.T) {
	f := newFixture(1_000_000, 1_000_000_000)

	err := f.queue.UpdateWithdrawRequest(f.vault.Address(), alice, Request{
		Deadline:            f.clock.Now(),
		ExecutionSharePrice: sdkmath.NewInt(1),
		SharesToWithdraw:    sdkmath.NewInt(1),
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	err = f.queue.UpdateWithdrawRequest(chain.NameToAddress("nowhere"), alice, Request{SharesToWithdraw: sdkmath.NewInt(1)})
	require.ErrorIs(t, err, ErrUnknownVault)

	f.request(t, alice, 5_000_000, 1_000_000)
	req, ok := f.queue.GetUserWithdrawRequest(f.vault.Address(), alice)
	require.True(t, ok)
	assert.Equal(t, sdkmath.NewInt(5_000_000), req.SharesToWithdraw)

	require.NoError(t, f.queue.CancelWithdrawRequest(f.vault.Address(), alice))
	_, ok = f.queue.GetUserWithdrawRequest(f.vault.Address(), alice)
	assert.False(t, ok)
}

func TestExpiredRequestIsNotFillable(t *testing.T) {
	f := newFixture(1_000_000, 1_000_000_000)
	f.holder(alice, 10_000_000, 10_000_000)
	f.request(t, alice, 10_000_000, 1_000_000)

	valid, err := f.queue.IsWithdrawRequestValid(f.vault.Address(), alice)
	require.NoError(t, err)
	assert.True(t, valid)

	f.clock.Advance(2 * time.Hour)
	_, err = f.queue.SolveOne(solver, f.vault.Address(), alice)
	require.ErrorIs(t, err, ErrRequestExpired)
	assert.True(t, IsExpired(err))
	assert.Equal(t, sdkmath.NewInt(10_000_000), f.vault.BalanceOf(alice))

	assert.Equal(t, 1, f.queue.SweepExpired(f.vault.Address()))
	assert.Empty(t, f.queue.PendingRequests(f.vault.Address()))
}

func TestSolveSkipsFailuresAndPaysSolver(t *testing.T) {
	f := newFixture(1_100_000, 1_000_000_000)
	f.holder(alice, 10_000_000, 10_000_000)
	f.holder(bob, 10_000_000, 10_000_000)
	f.holder(carol, 10_000_000, 0)
	f.request(t, alice, 10_000_000, 1_000_000)
	f.request(t, bob, 10_000_000, 1_200_000)
	f.request(t, carol, 10_000_000, 1_000_000)

	report, err := f.queue.Solve(solver, f.vault.Address(), []common.Address{alice, bob, carol, alice})
	require.NoError(t, err)

	require.Len(t, report.Filled, 1)
	assert.Equal(t, alice, report.Filled[0].User)
	assert.Equal(t, sdkmath.NewInt(10_000_000), report.Filled[0].Assets)
	assert.Equal(t, sdkmath.NewInt(10_000_000), get(f.vault.paid, alice))

	require.Len(t, report.Skipped, 3)
	assert.Equal(t, "SLIPPAGE", report.Skipped[0].Kind)
	assert.Equal(t, "LIQUIDITY", report.Skipped[1].Kind)
	assert.Equal(t, "REENTRANCY", report.Skipped[2].Kind)

	// 10 USDC at 1.1 per share burns 9.090910 shares, the rest is the solver's
	assert.Equal(t, sdkmath.NewInt(909_090), report.SolverShares)
	assert.Equal(t, sdkmath.NewInt(909_090), f.vault.BalanceOf(solver))
	assert.True(t, f.vault.BalanceOf(f.queue.Address()).IsZero())

	_, ok := f.queue.GetUserWithdrawRequest(f.vault.Address(), alice)
	assert.False(t, ok)
	pending := f.queue.PendingRequests(f.vault.Address())
	require.Len(t, pending, 2)
	assert.True(t, bytes.Compare(pending[0].User.Bytes(), pending[1].User.Bytes()) < 0)
	for _, p := range pending {
		assert.False(t, p.Request.InSolve)
	}
}

func TestSolveOneRevertsAsAWhole(t *testing.T) {
	f := newFixture(1_000_000, 5_000_000)
	f.holder(alice, 10_000_000, 10_000_000)
	f.request(t, alice, 10_000_000, 1_000_000)

	_, err := f.queue.SolveOne(solver, f.vault.Address(), alice)
	require.ErrorIs(t, err, types.ErrLiquidity)

	assert.Equal(t, sdkmath.NewInt(10_000_000), f.vault.BalanceOf(alice))
	assert.Equal(t, sdkmath.NewInt(10_000_000), f.vault.Allowance(alice, f.queue.Address()))
	req, ok := f.queue.GetUserWithdrawRequest(f.vault.Address(), alice)
	require.True(t, ok)
	assert.False(t, req.InSolve)

	f.vault.liquidity = sdkmath.NewInt(50_000_000)
	fill, err := f.queue.SolveOne(solver, f.vault.Address(), alice)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(10_000_000), fill.Assets)
	assert.True(t, f.vault.BalanceOf(alice).IsZero())
	assert.True(t, f.vault.BalanceOf(solver).IsZero())
}
