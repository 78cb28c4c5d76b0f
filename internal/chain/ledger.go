package chain

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/types"
)

var (
	ErrInsufficientBalance   = fmt.Errorf("%w: insufficient balance", types.ErrInvalidInput)
	ErrInsufficientAllowance = fmt.Errorf("%w: insufficient allowance", types.ErrUnauthorized)
	ErrInvalidCoin           = fmt.Errorf("%w: invalid coin", types.ErrInvalidInput)
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
	denom   string
}

// Ledger is the token layer every component settles through. Balances never go negative.
type Ledger struct {
	balances   map[common.Address]sdktypes.Coins
	allowances map[allowanceKey]sdkmath.Int
	supply     sdktypes.Coins
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]sdktypes.Coins),
		allowances: make(map[allowanceKey]sdkmath.Int),
		supply:     sdktypes.NewCoins(),
	}
}

func validateCoin(coin sdktypes.Coin) error {
	if err := sdktypes.ValidateDenom(coin.Denom); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCoin, err)
	}
	if coin.Amount.IsNil() || coin.Amount.IsNegative() {
		return fmt.Errorf("%w: amount %s", ErrInvalidCoin, coin.Amount)
	}
	return nil
}

func (l *Ledger) BalanceOf(addr common.Address, denom string) sdkmath.Int {
	return l.balances[addr].AmountOf(denom)
}

// Balances returns every non-zero balance of addr.
func (l *Ledger) Balances(addr common.Address) sdktypes.Coins {
	return l.balances[addr]
}

func (l *Ledger) TotalSupply(denom string) sdkmath.Int {
	return l.supply.AmountOf(denom)
}

func (l *Ledger) Mint(to common.Address, coin sdktypes.Coin) error {
	if err := validateCoin(coin); err != nil {
		return err
	}
	if coin.IsZero() {
		return nil
	}
	l.balances[to] = l.balances[to].Add(coin)
	l.supply = l.supply.Add(coin)
	return nil
}

func (l *Ledger) Burn(from common.Address, coin sdktypes.Coin) error {
	if err := validateCoin(coin); err != nil {
		return err
	}
	if coin.IsZero() {
		return nil
	}
	if err := l.debit(from, coin); err != nil {
		return err
	}
	l.supply = l.supply.Sub(coin)
	return nil
}

// Transfer moves coin from one account to another. The caller authenticates from.
func (l *Ledger) Transfer(from, to common.Address, coin sdktypes.Coin) error {
	if err := validateCoin(coin); err != nil {
		return err
	}
	if coin.IsZero() || from == to {
		return nil
	}
	if err := l.debit(from, coin); err != nil {
		return err
	}
	l.balances[to] = l.balances[to].Add(coin)
	return nil
}

// TransferFrom moves coin out of from on behalf of spender, consuming allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, coin sdktypes.Coin) error {
	if err := validateCoin(coin); err != nil {
		return err
	}
	if spender != from {
		if err := l.SpendAllowance(from, spender, coin.Denom, coin.Amount); err != nil {
			return err
		}
	}
	return l.Transfer(from, to, coin)
}

func (l *Ledger) Approve(owner, spender common.Address, denom string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: allowance %s", ErrInvalidCoin, amount)
	}
	key := allowanceKey{owner: owner, spender: spender, denom: denom}
	if amount.IsZero() {
		delete(l.allowances, key)
		return nil
	}
	l.allowances[key] = amount
	return nil
}

func (l *Ledger) Allowance(owner, spender common.Address, denom string) sdkmath.Int {
	if a, ok := l.allowances[allowanceKey{owner: owner, spender: spender, denom: denom}]; ok {
		return a
	}
	return sdkmath.ZeroInt()
}

// SpendAllowance lowers the allowance owner granted spender by amount.
func (l *Ledger) SpendAllowance(owner, spender common.Address, denom string, amount sdkmath.Int) error {
	current := l.Allowance(owner, spender, denom)
	if current.LT(amount) {
		return fmt.Errorf("%w: %s has %s of %s from %s, needs %s",
			ErrInsufficientAllowance, spender.Hex(), current, denom, owner.Hex(), amount)
	}
	return l.Approve(owner, spender, denom, current.Sub(amount))
}

// OutstandingAllowances counts non-zero approvals granted by owner, optionally ignoring one denom.
func (l *Ledger) OutstandingAllowances(owner common.Address, ignoreDenom string) int {
	n := 0
	for k := range l.allowances {
		if k.owner == owner && k.denom != ignoreDenom {
			n++
		}
	}
	return n
}

func (l *Ledger) debit(from common.Address, coin sdktypes.Coin) error {
	remaining, hasNeg := l.balances[from].SafeSub(coin)
	if hasNeg {
		return fmt.Errorf("%w: %s holds %s, needs %s",
			ErrInsufficientBalance, from.Hex(), l.BalanceOf(from, coin.Denom), coin)
	}
	if remaining.IsZero() {
		delete(l.balances, from)
	} else {
		l.balances[from] = remaining
	}
	return nil
}

type ledgerSnapshot struct {
	balances   map[common.Address]sdktypes.Coins
	allowances map[allowanceKey]sdkmath.Int
	supply     sdktypes.Coins
}

// Snapshot copies the maps. Coins and Int values are never mutated in place so a shallow copy is enough.
func (l *Ledger) Snapshot() any {
	s := ledgerSnapshot{
		balances:   make(map[common.Address]sdktypes.Coins, len(l.balances)),
		allowances: make(map[allowanceKey]sdkmath.Int, len(l.allowances)),
		supply:     l.supply,
	}
	for k, v := range l.balances {
		s.balances[k] = v
	}
	for k, v := range l.allowances {
		s.allowances[k] = v
	}
	return s
}

func (l *Ledger) Restore(snapshot any) {
	s := snapshot.(ledgerSnapshot)
	l.balances = s.balances
	l.allowances = s.allowances
	l.supply = s.supply
}
