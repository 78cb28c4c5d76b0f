package adaptor

import (
	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/types"
)

var ERC20AdaptorID = types.NewAdaptorID("ERC20 Adaptor V1")

// ERC20Adaptor tracks a token the vault simply holds.
type ERC20Adaptor struct{}

func NewERC20Adaptor() *ERC20Adaptor { return &ERC20Adaptor{} }

func (ERC20Adaptor) Identifier() types.AdaptorID { return ERC20AdaptorID }
func (ERC20Adaptor) IsDebt() bool                { return false }

func (ERC20Adaptor) AssetOf(data []byte) (string, error) {
	return decodeToken(data)
}

func (ERC20Adaptor) BalanceOf(vc VaultContext, data []byte) (sdkmath.Int, error) {
	denom, err := decodeToken(data)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return vc.Ledger.BalanceOf(vc.Vault, denom), nil
}

func (a ERC20Adaptor) WithdrawableFrom(vc VaultContext, data []byte) (sdkmath.Int, error) {
	return a.BalanceOf(vc, data)
}

// Deposit is a no-op: the tokens already sit in the vault.
func (ERC20Adaptor) Deposit(VaultContext, sdkmath.Int, []byte) error { return nil }

func (ERC20Adaptor) Withdraw(vc VaultContext, amount sdkmath.Int, receiver common.Address, data []byte) error {
	denom, err := decodeToken(data)
	if err != nil {
		return err
	}
	return vc.Ledger.Transfer(vc.Vault, receiver, sdktypes.Coin{Denom: denom, Amount: amount})
}

func (ERC20Adaptor) Execute(_ VaultContext, op types.AdaptorOp) error {
	return unsupported("erc20", op.Action)
}
