package protocol

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/utils"
)

// Quoter values one asset in terms of another.
type Quoter interface {
	GetValue(base string, amount sdkmath.Int, quote string) (sdkmath.Int, error)
}

// SwapRouter fills swaps from its own inventory at oracle value minus a fee.
type SwapRouter struct {
	address common.Address
	ledger  *chain.Ledger
	quoter  Quoter
	feeBps  uint32
}

func NewSwapRouter(address common.Address, ledger *chain.Ledger, quoter Quoter, feeBps uint32) *SwapRouter {
	return &SwapRouter{address: address, ledger: ledger, quoter: quoter, feeBps: feeBps}
}

func (s *SwapRouter) Address() common.Address { return s.address }

// Quote returns the output for swapping in into outDenom.
func (s *SwapRouter) Quote(in sdktypes.Coin, outDenom string) (sdkmath.Int, error) {
	value, err := s.quoter.GetValue(in.Denom, in.Amount, outDenom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return value.Sub(utils.ApplyBps(value, s.feeBps)), nil
}

// Swap pulls in from trader, who must have approved the router, and pays at least minOut.
func (s *SwapRouter) Swap(trader common.Address, in sdktypes.Coin, outDenom string, minOut sdkmath.Int) (sdkmath.Int, error) {
	if !in.Amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrNonPositiveAmount
	}
	out, err := s.Quote(in, outDenom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if out.LT(minOut) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s out, %s minimum", ErrSwapSlippage, out, minOut)
	}
	if inventory := s.ledger.BalanceOf(s.address, outDenom); inventory.LT(out) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: router holds %s %s", ErrInsufficientLiquidity, inventory, outDenom)
	}
	if err := s.ledger.TransferFrom(s.address, trader, s.address, in); err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("swap: %w", err)
	}
	if err := s.ledger.Transfer(s.address, trader, sdktypes.Coin{Denom: outDenom, Amount: out}); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return out, nil
}
