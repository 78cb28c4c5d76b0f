package adaptor

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/types"
)

var SwapAdaptorID = types.NewAdaptorID("Swap Adaptor V1")

const ActionSwap = "swap"

type Swapper interface {
	Address() common.Address
	Swap(trader common.Address, in sdktypes.Coin, outDenom string, minOut sdkmath.Int) (sdkmath.Int, error)
}

// SwapAdaptor converts between assets during a rebalance. It backs no position.
type SwapAdaptor struct {
	router Swapper
}

func NewSwapAdaptor(router Swapper) *SwapAdaptor {
	return &SwapAdaptor{router: router}
}

func (a *SwapAdaptor) Identifier() types.AdaptorID { return SwapAdaptorID }
func (a *SwapAdaptor) IsDebt() bool                { return false }

func (a *SwapAdaptor) AssetOf([]byte) (string, error) { return "", ErrNotAPosition }

func (a *SwapAdaptor) BalanceOf(VaultContext, []byte) (sdkmath.Int, error) {
	return sdkmath.ZeroInt(), ErrNotAPosition
}

func (a *SwapAdaptor) WithdrawableFrom(VaultContext, []byte) (sdkmath.Int, error) {
	return sdkmath.ZeroInt(), ErrNotAPosition
}

func (a *SwapAdaptor) Deposit(VaultContext, sdkmath.Int, []byte) error { return ErrNotAPosition }

func (a *SwapAdaptor) Withdraw(VaultContext, sdkmath.Int, common.Address, []byte) error {
	return ErrNotAPosition
}

func (a *SwapAdaptor) Execute(vc VaultContext, op types.AdaptorOp) error {
	if op.Action != ActionSwap {
		return unsupported("swap", op.Action)
	}
	var p SwapParams
	if err := decode(op.Params, &p); err != nil {
		return err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 || p.In == "" || p.Out == "" {
		return fmt.Errorf("%w: malformed swap", types.ErrInvalidInput)
	}
	amount := sdkmath.NewIntFromBigInt(p.Amount)
	minOut := sdkmath.ZeroInt()
	if p.MinOut != nil {
		minOut = sdkmath.NewIntFromBigInt(p.MinOut)
	}
	return withApproval(vc, a.router.Address(), p.In, amount, func() error {
		_, err := a.router.Swap(vc.Vault, sdktypes.Coin{Denom: p.In, Amount: amount}, p.Out, minOut)
		return err
	})
}
