package protocol

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/utils"
)

// LendingMarket is a pooled money market. Suppliers can withdraw only what is not lent out.
type LendingMarket struct {
	address  common.Address
	ledger   *chain.Ledger
	supplied book
	borrowed book
}

func NewLendingMarket(address common.Address, ledger *chain.Ledger) *LendingMarket {
	return &LendingMarket{
		address:  address,
		ledger:   ledger,
		supplied: make(book),
		borrowed: make(book),
	}
}

func (m *LendingMarket) Address() common.Address { return m.address }

// Supply pulls amount from the supplier. The supplier must have approved the market.
func (m *LendingMarket) Supply(from common.Address, denom string, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	coin := sdktypes.Coin{Denom: denom, Amount: amount}
	if err := m.ledger.TransferFrom(m.address, from, m.address, coin); err != nil {
		return fmt.Errorf("supply %s: %w", coin, err)
	}
	m.supplied.set(denom, from, m.supplied.get(denom, from).Add(amount))
	return nil
}

// Withdraw pays out part of owner's supply to receiver.
func (m *LendingMarket) Withdraw(owner common.Address, denom string, amount sdkmath.Int, receiver common.Address) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	balance := m.supplied.get(denom, owner)
	if balance.LT(amount) {
		return fmt.Errorf("%w: %s supplied, %s requested", ErrInsufficientSupply, balance, amount)
	}
	if liquidity := m.Liquidity(denom); liquidity.LT(amount) {
		return fmt.Errorf("%w: %s available, %s requested", ErrInsufficientLiquidity, liquidity, amount)
	}
	if err := m.ledger.Transfer(m.address, receiver, sdktypes.Coin{Denom: denom, Amount: amount}); err != nil {
		return err
	}
	m.supplied.set(denom, owner, balance.Sub(amount))
	return nil
}

func (m *LendingMarket) SuppliedBalance(owner common.Address, denom string) sdkmath.Int {
	return m.supplied.get(denom, owner)
}

// Liquidity is the amount of denom the market can pay out right now.
func (m *LendingMarket) Liquidity(denom string) sdkmath.Int {
	return m.ledger.BalanceOf(m.address, denom)
}

func (m *LendingMarket) Borrow(borrower common.Address, denom string, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if liquidity := m.Liquidity(denom); liquidity.LT(amount) {
		return fmt.Errorf("%w: %s available, %s requested", ErrInsufficientLiquidity, liquidity, amount)
	}
	if err := m.ledger.Transfer(m.address, borrower, sdktypes.Coin{Denom: denom, Amount: amount}); err != nil {
		return err
	}
	m.borrowed.set(denom, borrower, m.borrowed.get(denom, borrower).Add(amount))
	return nil
}

// Repay pulls amount from payer towards its own debt. The payer must have approved the market.
func (m *LendingMarket) Repay(payer common.Address, denom string, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	debt := m.borrowed.get(denom, payer)
	if debt.LT(amount) {
		return fmt.Errorf("%w: owes %s, repaying %s", ErrRepayExceedsDebt, debt, amount)
	}
	if err := m.ledger.TransferFrom(m.address, payer, m.address, sdktypes.Coin{Denom: denom, Amount: amount}); err != nil {
		return fmt.Errorf("repay: %w", err)
	}
	m.borrowed.set(denom, payer, debt.Sub(amount))
	return nil
}

func (m *LendingMarket) DebtOf(borrower common.Address, denom string) sdkmath.Int {
	return m.borrowed.get(denom, borrower)
}

// AccrueInterest grows every supplier balance of denom by bps and mints the backing into the market.
func (m *LendingMarket) AccrueInterest(denom string, bps uint32) error {
	total := sdkmath.ZeroInt()
	for addr, bal := range m.supplied[denom] {
		interest := utils.ApplyBps(bal, bps)
		m.supplied[denom][addr] = bal.Add(interest)
		total = total.Add(interest)
	}
	return m.ledger.Mint(m.address, sdktypes.Coin{Denom: denom, Amount: total})
}

type lendingSnapshot struct {
	supplied book
	borrowed book
}

func (m *LendingMarket) Snapshot() any {
	return lendingSnapshot{supplied: m.supplied.clone(), borrowed: m.borrowed.clone()}
}

func (m *LendingMarket) Restore(snapshot any) {
	s := snapshot.(lendingSnapshot)
	m.supplied, m.borrowed = s.supplied, s.borrowed
}
