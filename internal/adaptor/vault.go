package adaptor

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/types"
)

var CellarAdaptorID = types.NewAdaptorID("Cellar Adaptor V1")

// ShareVault is the ERC4626 surface of another cellar.
type ShareVault interface {
	Asset() types.Token
	BalanceOf(owner common.Address) sdkmath.Int
	PreviewRedeem(shares sdkmath.Int) (sdkmath.Int, error)
	MaxWithdraw(owner common.Address) (sdkmath.Int, error)
	Deposit(caller common.Address, assets sdkmath.Int, receiver common.Address) (sdkmath.Int, error)
	Withdraw(caller common.Address, assets sdkmath.Int, receiver, owner common.Address) (sdkmath.Int, error)
}

// VaultResolver finds cellars by address.
type VaultResolver interface {
	Resolve(addr common.Address) (ShareVault, bool)
}

// CellarAdaptor holds shares of another cellar, valued in that cellar's asset.
type CellarAdaptor struct {
	vaults VaultResolver
}

func NewCellarAdaptor(vaults VaultResolver) *CellarAdaptor {
	return &CellarAdaptor{vaults: vaults}
}

func (a *CellarAdaptor) Identifier() types.AdaptorID { return CellarAdaptorID }
func (a *CellarAdaptor) IsDebt() bool                { return false }

// VaultTarget returns the cellar a Cellar adaptor position holds shares of.
func VaultTarget(data []byte) (common.Address, error) {
	var d VaultData
	if err := decode(data, &d); err != nil {
		return common.Address{}, err
	}
	return d.Vault, nil
}

func (a *CellarAdaptor) target(data []byte) (ShareVault, error) {
	addr, err := VaultTarget(data)
	if err != nil {
		return nil, err
	}
	v, ok := a.vaults.Resolve(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVault, addr.Hex())
	}
	return v, nil
}

func (a *CellarAdaptor) AssetOf(data []byte) (string, error) {
	v, err := a.target(data)
	if err != nil {
		return "", err
	}
	return v.Asset().Denom, nil
}

func (a *CellarAdaptor) BalanceOf(vc VaultContext, data []byte) (sdkmath.Int, error) {
	v, err := a.target(data)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return v.PreviewRedeem(v.BalanceOf(vc.Vault))
}

func (a *CellarAdaptor) WithdrawableFrom(vc VaultContext, data []byte) (sdkmath.Int, error) {
	v, err := a.target(data)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return v.MaxWithdraw(vc.Vault)
}

func (a *CellarAdaptor) Deposit(vc VaultContext, amount sdkmath.Int, data []byte) error {
	v, err := a.target(data)
	if err != nil {
		return err
	}
	_, err = v.Deposit(vc.Vault, amount, vc.Vault)
	return err
}

func (a *CellarAdaptor) Withdraw(vc VaultContext, amount sdkmath.Int, receiver common.Address, data []byte) error {
	v, err := a.target(data)
	if err != nil {
		return err
	}
	_, err = v.Withdraw(vc.Vault, amount, receiver, vc.Vault)
	return err
}

func (a *CellarAdaptor) Execute(_ VaultContext, op types.AdaptorOp) error {
	return unsupported("cellar", op.Action)
}
