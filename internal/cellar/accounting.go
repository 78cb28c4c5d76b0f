package cellar

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/adaptor"
	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/utils"
)

func (c *Cellar) adaptorFor(id types.PositionID) (adaptor.Adaptor, position, error) {
	p, ok := c.positions[id]
	if !ok {
		return nil, position{}, fmt.Errorf("%w: %d", ErrPositionNotUsed, id)
	}
	a, err := c.registry.Adaptor(p.data.Adaptor)
	if err != nil {
		return nil, position{}, err
	}
	return a, p, nil
}

// valueOf converts amount of denom into holding asset units.
func (c *Cellar) valueOf(denom string, amount sdkmath.Int) (sdkmath.Int, error) {
	if denom == c.asset.Denom || amount.IsZero() {
		return amount, nil
	}
	return c.prices.GetValue(denom, amount, c.asset.Denom)
}

func (c *Cellar) idle() sdkmath.Int {
	return c.ledger.BalanceOf(c.address, c.asset.Denom)
}

// PositionBalances reports every credit and debt position, credit positions first in
// withdrawal order.
func (c *Cellar) PositionBalances() ([]types.PositionBalance, error) {
	vc := c.vaultContext()
	out := make([]types.PositionBalance, 0, len(c.creditPositions)+len(c.debtPositions))
	for _, list := range [][]types.PositionID{c.creditPositions, c.debtPositions} {
		for _, id := range list {
			a, p, err := c.adaptorFor(id)
			if err != nil {
				return nil, err
			}
			balance, err := a.BalanceOf(vc, p.data.AdaptorData)
			if err != nil {
				return nil, fmt.Errorf("position %d balance: %w", id, err)
			}
			withdrawable := sdkmath.ZeroInt()
			if !p.data.IsDebt {
				if withdrawable, err = a.WithdrawableFrom(vc, p.data.AdaptorData); err != nil {
					return nil, fmt.Errorf("position %d withdrawable: %w", id, err)
				}
			}
			value, err := c.valueOf(p.asset, balance)
			if err != nil {
				return nil, fmt.Errorf("position %d value: %w", id, err)
			}
			out = append(out, types.PositionBalance{
				ID:           id,
				Asset:        p.asset,
				IsDebt:       p.data.IsDebt,
				Balance:      balance,
				Withdrawable: withdrawable,
				Value:        value,
			})
		}
	}
	return out, nil
}

// TotalAssets is idle holding asset plus the value of credit positions minus the value
// of debt positions, in holding asset units. A negative net value reads as zero.
func (c *Cellar) TotalAssets() (sdkmath.Int, error) {
	balances, err := c.PositionBalances()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	total := c.idle()
	for _, b := range balances {
		if b.IsDebt {
			total = total.Sub(b.Value)
		} else {
			total = total.Add(b.Value)
		}
	}
	if total.IsNegative() {
		return sdkmath.ZeroInt(), nil
	}
	return total, nil
}

// TotalAssetsWithdrawable is what users could pull out right now: idle holding asset
// plus the value of withdrawable credit balances.
func (c *Cellar) TotalAssetsWithdrawable() (sdkmath.Int, error) {
	vc := c.vaultContext()
	total := c.idle()
	for _, id := range c.creditPositions {
		a, p, err := c.adaptorFor(id)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		w, err := a.WithdrawableFrom(vc, p.data.AdaptorData)
		if err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("position %d withdrawable: %w", id, err)
		}
		v, err := c.valueOf(p.asset, w)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		total = total.Add(v)
	}
	return total, nil
}

// toShares and toAssets are the ERC4626 conversions at a given supply and NAV.
// An empty vault converts 1:1.
func toShares(assets, supply, totalAssets sdkmath.Int, roundUp bool) (sdkmath.Int, error) {
	if supply.IsZero() {
		return assets, nil
	}
	if totalAssets.IsZero() {
		return sdkmath.ZeroInt(), ErrInsolvent
	}
	if roundUp {
		return utils.MulDivUp(assets, supply, totalAssets)
	}
	return utils.MulDivDown(assets, supply, totalAssets)
}

func toAssets(shares, supply, totalAssets sdkmath.Int, roundUp bool) (sdkmath.Int, error) {
	if supply.IsZero() {
		return shares, nil
	}
	if roundUp {
		return utils.MulDivUp(shares, totalAssets, supply)
	}
	return utils.MulDivDown(shares, totalAssets, supply)
}

func (c *Cellar) convert(amount sdkmath.Int, assetsToShares, roundUp bool) (sdkmath.Int, error) {
	totalAssets, err := c.TotalAssets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if assetsToShares {
		return toShares(amount, c.TotalSupply(), totalAssets, roundUp)
	}
	return toAssets(amount, c.TotalSupply(), totalAssets, roundUp)
}

func (c *Cellar) ConvertToShares(assets sdkmath.Int) (sdkmath.Int, error) {
	return c.convert(assets, true, false)
}

func (c *Cellar) ConvertToAssets(shares sdkmath.Int) (sdkmath.Int, error) {
	return c.convert(shares, false, false)
}

// PreviewDeposit rounds down: the depositor never gets more shares than paid for.
func (c *Cellar) PreviewDeposit(assets sdkmath.Int) (sdkmath.Int, error) {
	return c.convert(assets, true, false)
}

// PreviewMint rounds up: minting shares costs at least their value.
func (c *Cellar) PreviewMint(shares sdkmath.Int) (sdkmath.Int, error) {
	return c.convert(shares, false, true)
}

// PreviewWithdraw rounds up: withdrawing assets burns at least their value in shares.
func (c *Cellar) PreviewWithdraw(assets sdkmath.Int) (sdkmath.Int, error) {
	return c.convert(assets, true, true)
}

// PreviewRedeem rounds down.
func (c *Cellar) PreviewRedeem(shares sdkmath.Int) (sdkmath.Int, error) {
	return c.convert(shares, false, false)
}

// SharePrice is the holding asset value of one whole share.
func (c *Cellar) SharePrice() (sdkmath.Int, error) {
	return c.PreviewRedeem(c.asset.One())
}

// MaxWithdraw is the owner's claim capped by current liquidity. Zero while paused.
func (c *Cellar) MaxWithdraw(owner common.Address) (sdkmath.Int, error) {
	if c.IsPaused() {
		return sdkmath.ZeroInt(), nil
	}
	claim, err := c.PreviewRedeem(c.BalanceOf(owner))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	withdrawable, err := c.TotalAssetsWithdrawable()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.MinInt(claim, withdrawable), nil
}

func (c *Cellar) MaxRedeem(owner common.Address) (sdkmath.Int, error) {
	if c.IsPaused() {
		return sdkmath.ZeroInt(), nil
	}
	withdrawable, err := c.TotalAssetsWithdrawable()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	liquidShares, err := c.ConvertToShares(withdrawable)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.MinInt(c.BalanceOf(owner), liquidShares), nil
}

// MaxDeposit is zero while shut down or paused, and bounded by the share supply cap.
func (c *Cellar) MaxDeposit() (sdkmath.Int, error) {
	if c.shutdown || c.IsPaused() {
		return sdkmath.ZeroInt(), nil
	}
	if c.supplyCap.IsZero() {
		return sdkmath.NewIntWithDecimal(1, 60), nil
	}
	supply := c.TotalSupply()
	if supply.GTE(c.supplyCap) {
		return sdkmath.ZeroInt(), nil
	}
	return c.PreviewMint(c.supplyCap.Sub(supply))
}
