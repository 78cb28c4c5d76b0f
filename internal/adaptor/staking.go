package adaptor

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/types"
)

var StakingAdaptorID = types.NewAdaptorID("Staking Adaptor V1")

const (
	ActionStake   = "stake"
	ActionUnstake = "unstake"
	ActionClaim   = "claim"
)

type StakingPool interface {
	Address() common.Address
	Stake(staker common.Address, denom string, amount sdkmath.Int) error
	Unstake(staker common.Address, denom string, amount sdkmath.Int, receiver common.Address) error
	StakedBalance(staker common.Address, denom string) sdkmath.Int
	Claim(staker common.Address) (sdkmath.Int, error)
}

// StakingAdaptor manages staked tokens. Staked balances are valued but never
// withdrawable by users; the strategist unstakes through a rebalance.
type StakingAdaptor struct {
	pool StakingPool
}

func NewStakingAdaptor(pool StakingPool) *StakingAdaptor {
	return &StakingAdaptor{pool: pool}
}

func (a *StakingAdaptor) Identifier() types.AdaptorID { return StakingAdaptorID }
func (a *StakingAdaptor) IsDebt() bool                { return false }

func (a *StakingAdaptor) AssetOf(data []byte) (string, error) {
	return decodeToken(data)
}

func (a *StakingAdaptor) BalanceOf(vc VaultContext, data []byte) (sdkmath.Int, error) {
	denom, err := decodeToken(data)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return a.pool.StakedBalance(vc.Vault, denom), nil
}

func (a *StakingAdaptor) WithdrawableFrom(VaultContext, []byte) (sdkmath.Int, error) {
	return sdkmath.ZeroInt(), nil
}

func (a *StakingAdaptor) Deposit(vc VaultContext, amount sdkmath.Int, data []byte) error {
	denom, err := decodeToken(data)
	if err != nil {
		return err
	}
	return a.stake(vc, denom, amount)
}

func (a *StakingAdaptor) Withdraw(vc VaultContext, amount sdkmath.Int, receiver common.Address, data []byte) error {
	denom, err := decodeToken(data)
	if err != nil {
		return err
	}
	return a.pool.Unstake(vc.Vault, denom, amount, receiver)
}

func (a *StakingAdaptor) Execute(vc VaultContext, op types.AdaptorOp) error {
	if op.Action == ActionClaim {
		_, err := a.pool.Claim(vc.Vault)
		return err
	}
	denom, amount, err := decodeAmount(op.Params)
	if err != nil {
		return err
	}
	switch op.Action {
	case ActionStake:
		return a.stake(vc, denom, amount)
	case ActionUnstake:
		return a.pool.Unstake(vc.Vault, denom, amount, vc.Vault)
	default:
		return unsupported("staking", op.Action)
	}
}

func (a *StakingAdaptor) stake(vc VaultContext, denom string, amount sdkmath.Int) error {
	return withApproval(vc, a.pool.Address(), denom, amount, func() error {
		return a.pool.Stake(vc.Vault, denom, amount)
	})
}
