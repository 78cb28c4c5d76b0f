package adaptor

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/utils"
)

var (
	LendingAdaptorID     = types.NewAdaptorID("Lending Supply Adaptor V1")
	LendingDebtAdaptorID = types.NewAdaptorID("Lending Debt Adaptor V1")
)

// Lending operations.
const (
	ActionSupply   = "supply"
	ActionWithdraw = "withdraw"
	ActionBorrow   = "borrow"
	ActionRepay    = "repay"
)

// LendingMarket is the money market surface both lending adaptors use.
type LendingMarket interface {
	Address() common.Address
	Supply(from common.Address, denom string, amount sdkmath.Int) error
	Withdraw(owner common.Address, denom string, amount sdkmath.Int, receiver common.Address) error
	SuppliedBalance(owner common.Address, denom string) sdkmath.Int
	Liquidity(denom string) sdkmath.Int
	Borrow(borrower common.Address, denom string, amount sdkmath.Int) error
	Repay(payer common.Address, denom string, amount sdkmath.Int) error
	DebtOf(borrower common.Address, denom string) sdkmath.Int
}

// LendingAdaptor manages a supply position. Only the unlent part of the market is withdrawable.
type LendingAdaptor struct {
	market LendingMarket
}

func NewLendingAdaptor(market LendingMarket) *LendingAdaptor {
	return &LendingAdaptor{market: market}
}

func (a *LendingAdaptor) Identifier() types.AdaptorID { return LendingAdaptorID }
func (a *LendingAdaptor) IsDebt() bool                { return false }

func (a *LendingAdaptor) AssetOf(data []byte) (string, error) {
	return decodeToken(data)
}

func (a *LendingAdaptor) BalanceOf(vc VaultContext, data []byte) (sdkmath.Int, error) {
	denom, err := decodeToken(data)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return a.market.SuppliedBalance(vc.Vault, denom), nil
}

func (a *LendingAdaptor) WithdrawableFrom(vc VaultContext, data []byte) (sdkmath.Int, error) {
	denom, err := decodeToken(data)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.MinInt(a.market.SuppliedBalance(vc.Vault, denom), a.market.Liquidity(denom)), nil
}

func (a *LendingAdaptor) Deposit(vc VaultContext, amount sdkmath.Int, data []byte) error {
	denom, err := decodeToken(data)
	if err != nil {
		return err
	}
	return a.supply(vc, denom, amount)
}

func (a *LendingAdaptor) Withdraw(vc VaultContext, amount sdkmath.Int, receiver common.Address, data []byte) error {
	denom, err := decodeToken(data)
	if err != nil {
		return err
	}
	return a.market.Withdraw(vc.Vault, denom, amount, receiver)
}

func (a *LendingAdaptor) Execute(vc VaultContext, op types.AdaptorOp) error {
	denom, amount, err := decodeAmount(op.Params)
	if err != nil {
		return err
	}
	switch op.Action {
	case ActionSupply:
		return a.supply(vc, denom, amount)
	case ActionWithdraw:
		return a.market.Withdraw(vc.Vault, denom, amount, vc.Vault)
	default:
		return unsupported("lending", op.Action)
	}
}

func (a *LendingAdaptor) supply(vc VaultContext, denom string, amount sdkmath.Int) error {
	return withApproval(vc, a.market.Address(), denom, amount, func() error {
		return a.market.Supply(vc.Vault, denom, amount)
	})
}

// LendingDebtAdaptor reports borrowed balances. Debt is never withdrawable and can
// only change through borrow and repay operations.
type LendingDebtAdaptor struct {
	market LendingMarket
}

func NewLendingDebtAdaptor(market LendingMarket) *LendingDebtAdaptor {
	return &LendingDebtAdaptor{market: market}
}

func (a *LendingDebtAdaptor) Identifier() types.AdaptorID { return LendingDebtAdaptorID }
func (a *LendingDebtAdaptor) IsDebt() bool                { return true }

func (a *LendingDebtAdaptor) AssetOf(data []byte) (string, error) {
	return decodeToken(data)
}

func (a *LendingDebtAdaptor) BalanceOf(vc VaultContext, data []byte) (sdkmath.Int, error) {
	denom, err := decodeToken(data)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return a.market.DebtOf(vc.Vault, denom), nil
}

func (a *LendingDebtAdaptor) WithdrawableFrom(VaultContext, []byte) (sdkmath.Int, error) {
	return sdkmath.ZeroInt(), nil
}

func (a *LendingDebtAdaptor) Deposit(VaultContext, sdkmath.Int, []byte) error {
	return ErrUserDepositsDisabled
}

func (a *LendingDebtAdaptor) Withdraw(VaultContext, sdkmath.Int, common.Address, []byte) error {
	return ErrUserWithdrawDisabled
}

func (a *LendingDebtAdaptor) Execute(vc VaultContext, op types.AdaptorOp) error {
	denom, amount, err := decodeAmount(op.Params)
	if err != nil {
		return err
	}
	switch op.Action {
	case ActionBorrow:
		return a.market.Borrow(vc.Vault, denom, amount)
	case ActionRepay:
		return withApproval(vc, a.market.Address(), denom, amount, func() error {
			return a.market.Repay(vc.Vault, denom, amount)
		})
	default:
		return unsupported("lending debt", op.Action)
	}
}
