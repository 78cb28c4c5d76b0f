package protocol

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/chain"
)

// StakingPool locks deposited tokens and accrues a reward token per staker.
type StakingPool struct {
	address     common.Address
	ledger      *chain.Ledger
	rewardDenom string
	staked      book
	rewards     map[common.Address]sdkmath.Int
}

func NewStakingPool(address common.Address, ledger *chain.Ledger, rewardDenom string) *StakingPool {
	return &StakingPool{
		address:     address,
		ledger:      ledger,
		rewardDenom: rewardDenom,
		staked:      make(book),
		rewards:     make(map[common.Address]sdkmath.Int),
	}
}

func (p *StakingPool) Address() common.Address { return p.address }
func (p *StakingPool) RewardDenom() string     { return p.rewardDenom }

// Stake pulls amount from staker. The staker must have approved the pool.
func (p *StakingPool) Stake(staker common.Address, denom string, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if err := p.ledger.TransferFrom(p.address, staker, p.address, sdktypes.Coin{Denom: denom, Amount: amount}); err != nil {
		return fmt.Errorf("stake: %w", err)
	}
	p.staked.set(denom, staker, p.staked.get(denom, staker).Add(amount))
	return nil
}

func (p *StakingPool) Unstake(staker common.Address, denom string, amount sdkmath.Int, receiver common.Address) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	bal := p.staked.get(denom, staker)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s staked, %s requested", ErrInsufficientSupply, bal, amount)
	}
	if err := p.ledger.Transfer(p.address, receiver, sdktypes.Coin{Denom: denom, Amount: amount}); err != nil {
		return err
	}
	p.staked.set(denom, staker, bal.Sub(amount))
	return nil
}

func (p *StakingPool) StakedBalance(staker common.Address, denom string) sdkmath.Int {
	return p.staked.get(denom, staker)
}

// AddReward credits staker with claimable reward tokens.
func (p *StakingPool) AddReward(staker common.Address, amount sdkmath.Int) {
	cur, ok := p.rewards[staker]
	if !ok {
		cur = sdkmath.ZeroInt()
	}
	p.rewards[staker] = cur.Add(amount)
}

func (p *StakingPool) PendingRewards(staker common.Address) sdkmath.Int {
	if r, ok := p.rewards[staker]; ok {
		return r
	}
	return sdkmath.ZeroInt()
}

// Claim mints pending rewards to staker and returns the amount.
func (p *StakingPool) Claim(staker common.Address) (sdkmath.Int, error) {
	pending := p.PendingRewards(staker)
	if pending.IsZero() {
		return pending, nil
	}
	if err := p.ledger.Mint(staker, sdktypes.Coin{Denom: p.rewardDenom, Amount: pending}); err != nil {
		return sdkmath.ZeroInt(), err
	}
	delete(p.rewards, staker)
	return pending, nil
}

type stakingSnapshot struct {
	staked  book
	rewards map[common.Address]sdkmath.Int
}

func (p *StakingPool) Snapshot() any {
	rewards := make(map[common.Address]sdkmath.Int, len(p.rewards))
	for k, v := range p.rewards {
		rewards[k] = v
	}
	return stakingSnapshot{staked: p.staked.clone(), rewards: rewards}
}

func (p *StakingPool) Restore(snapshot any) {
	s := snapshot.(stakingSnapshot)
	p.staked, p.rewards = s.staked, s.rewards
}
