package cellar

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/utils"
)

// ShareToken describes the cellar's shares. They carry the holding asset's decimals.
func (c *Cellar) ShareToken() types.Token {
	return types.Token{Denom: c.shareDenom, Symbol: c.symbol, Decimals: c.asset.Decimals}
}

func (c *Cellar) checkSupplyCap(newShares sdkmath.Int) error {
	if c.supplyCap.IsZero() {
		return nil
	}
	if c.TotalSupply().Add(newShares).GT(c.supplyCap) {
		return fmt.Errorf("%w: cap %s", ErrSupplyCapExceeded, c.supplyCap)
	}
	return nil
}

// enter pulls assets from caller, mints shares to receiver and forwards the assets to
// the holding position when one is set.
func (c *Cellar) enter(caller common.Address, assets, shares sdkmath.Int, receiver common.Address) error {
	if err := c.checkSupplyCap(shares); err != nil {
		return err
	}
	if err := c.ledger.Transfer(caller, c.address, c.asset.Coin(assets)); err != nil {
		return fmt.Errorf("pull deposit: %w", err)
	}
	if err := c.ledger.Mint(receiver, c.ShareToken().Coin(shares)); err != nil {
		return err
	}
	if err := c.forwardToHoldingPosition(assets); err != nil {
		return err
	}
	c.logger.Info().
		Str("caller", caller.Hex()).
		Str("receiver", receiver.Hex()).
		Str("assets", assets.String()).
		Str("shares", shares.String()).
		Msg("Deposit")
	return nil
}

func (c *Cellar) forwardToHoldingPosition(assets sdkmath.Int) error {
	if c.holdingPosition == types.IdlePosition || !c.registry.IsTrusted(c.holdingPosition) {
		return nil
	}
	a, p, err := c.adaptorFor(c.holdingPosition)
	if err != nil {
		return err
	}
	if err := a.Deposit(c.vaultContext(), assets, p.data.AdaptorData); err != nil {
		return fmt.Errorf("deposit into holding position %d: %w", c.holdingPosition, err)
	}
	return nil
}

// Deposit takes assets from caller and mints shares to receiver, rounding shares down.
// The first deposit into an empty cellar mints 1:1.
func (c *Cellar) Deposit(caller common.Address, assets sdkmath.Int, receiver common.Address) (sdkmath.Int, error) {
	var shares sdkmath.Int
	err := c.nonReentrant(func() error {
		if err := c.whenNotPaused(); err != nil {
			return err
		}
		if err := c.whenNotShutdown(); err != nil {
			return err
		}
		if !assets.IsPositive() {
			return ErrZeroAssets
		}
		var err error
		if shares, err = c.PreviewDeposit(assets); err != nil {
			return err
		}
		if !shares.IsPositive() {
			return ErrZeroShares
		}
		return c.enter(caller, assets, shares, receiver)
	})
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return shares, nil
}

// Mint mints exactly shares to receiver, charging caller the rounded up asset cost.
func (c *Cellar) Mint(caller common.Address, shares sdkmath.Int, receiver common.Address) (sdkmath.Int, error) {
	var assets sdkmath.Int
	err := c.nonReentrant(func() error {
		if err := c.whenNotPaused(); err != nil {
			return err
		}
		if err := c.whenNotShutdown(); err != nil {
			return err
		}
		if !shares.IsPositive() {
			return ErrZeroShares
		}
		var err error
		if assets, err = c.PreviewMint(shares); err != nil {
			return err
		}
		if !assets.IsPositive() {
			return ErrZeroAssets
		}
		return c.enter(caller, assets, shares, receiver)
	})
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return assets, nil
}

// Withdraw burns the rounded up share cost of assets from owner and pays assets to
// receiver. Withdrawals keep working after shutdown.
func (c *Cellar) Withdraw(caller common.Address, assets sdkmath.Int, receiver, owner common.Address) (sdkmath.Int, error) {
	var shares sdkmath.Int
	err := c.nonReentrant(func() error {
		if err := c.whenNotPaused(); err != nil {
			return err
		}
		if !assets.IsPositive() {
			return ErrZeroAssets
		}
		var err error
		if shares, err = c.PreviewWithdraw(assets); err != nil {
			return err
		}
		return c.exit(caller, assets, shares, receiver, owner)
	})
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return shares, nil
}

// Redeem burns shares from owner and pays their rounded down value to receiver.
func (c *Cellar) Redeem(caller common.Address, shares sdkmath.Int, receiver, owner common.Address) (sdkmath.Int, error) {
	var assets sdkmath.Int
	err := c.nonReentrant(func() error {
		if err := c.whenNotPaused(); err != nil {
			return err
		}
		if !shares.IsPositive() {
			return ErrZeroShares
		}
		var err error
		if assets, err = c.PreviewRedeem(shares); err != nil {
			return err
		}
		if !assets.IsPositive() {
			return ErrZeroAssets
		}
		return c.exit(caller, assets, shares, receiver, owner)
	})
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return assets, nil
}

func (c *Cellar) exit(caller common.Address, assets, shares sdkmath.Int, receiver, owner common.Address) error {
	supply := c.TotalSupply()
	if caller != owner {
		if err := c.ledger.SpendAllowance(owner, caller, c.shareDenom, shares); err != nil {
			return err
		}
	}
	if err := c.ledger.Burn(owner, c.ShareToken().Coin(shares)); err != nil {
		return err
	}

	var err error
	switch c.withdrawType {
	case types.WithdrawProportional:
		err = c.withdrawProportional(assets, shares, supply, receiver)
	default:
		err = c.withdrawOrderly(assets, receiver)
	}
	if err != nil {
		return err
	}

	c.logger.Info().
		Str("caller", caller.Hex()).
		Str("owner", owner.Hex()).
		Str("receiver", receiver.Hex()).
		Str("assets", assets.String()).
		Str("shares", shares.String()).
		Str("withdraw_type", c.withdrawType.String()).
		Msg("Withdraw")
	return nil
}

// withdrawOrderly pays idle holding asset first, then drains credit positions in list
// order, paying each position's asset out in kind. Illiquid positions are skipped.
func (c *Cellar) withdrawOrderly(assets sdkmath.Int, receiver common.Address) error {
	remaining := assets

	fromIdle := utils.MinInt(c.idle(), remaining)
	if fromIdle.IsPositive() {
		if err := c.ledger.Transfer(c.address, receiver, c.asset.Coin(fromIdle)); err != nil {
			return err
		}
		remaining = remaining.Sub(fromIdle)
	}

	vc := c.vaultContext()
	for _, id := range c.creditPositions {
		if remaining.IsZero() {
			break
		}
		a, p, err := c.adaptorFor(id)
		if err != nil {
			return err
		}
		withdrawable, err := a.WithdrawableFrom(vc, p.data.AdaptorData)
		if err != nil {
			return fmt.Errorf("position %d withdrawable: %w", id, err)
		}
		if withdrawable.IsZero() {
			continue
		}
		value, err := c.valueOf(p.asset, withdrawable)
		if err != nil {
			return err
		}
		if value.IsZero() {
			continue
		}

		amount := withdrawable
		if value.GT(remaining) {
			// only part of the position is needed, converted back into its own asset
			if amount, err = c.amountOf(p.asset, remaining); err != nil {
				return err
			}
			amount = utils.MinInt(amount, withdrawable)
			value = remaining
		}
		if amount.IsZero() {
			continue
		}
		if err := a.Withdraw(vc, amount, receiver, p.data.AdaptorData); err != nil {
			return fmt.Errorf("withdraw from position %d: %w", id, err)
		}
		remaining = remaining.Sub(value)
	}

	if remaining.IsPositive() {
		return fmt.Errorf("%w: %s of %s unpaid", ErrLiquidityExceeded, remaining, assets)
	}
	return nil
}

// withdrawProportional pays the burned fraction of idle and of every liquid credit
// position, capped at what the user is owed, and tops up any remainder in order.
func (c *Cellar) withdrawProportional(assets, shares, supply sdkmath.Int, receiver common.Address) error {
	remaining := assets

	fromIdle := utils.MinInt(c.idle().Mul(shares).Quo(supply), remaining)
	if fromIdle.IsPositive() {
		if err := c.ledger.Transfer(c.address, receiver, c.asset.Coin(fromIdle)); err != nil {
			return err
		}
		remaining = remaining.Sub(fromIdle)
	}

	vc := c.vaultContext()
	for _, id := range c.creditPositions {
		if remaining.IsZero() {
			break
		}
		a, p, err := c.adaptorFor(id)
		if err != nil {
			return err
		}
		withdrawable, err := a.WithdrawableFrom(vc, p.data.AdaptorData)
		if err != nil {
			return fmt.Errorf("position %d withdrawable: %w", id, err)
		}
		if withdrawable.IsZero() {
			continue
		}
		balance, err := a.BalanceOf(vc, p.data.AdaptorData)
		if err != nil {
			return err
		}
		amount := utils.MinInt(balance.Mul(shares).Quo(supply), withdrawable)
		value, err := c.valueOf(p.asset, amount)
		if err != nil {
			return err
		}
		if value.GT(remaining) {
			if amount, err = c.amountOf(p.asset, remaining); err != nil {
				return err
			}
			value = remaining
		}
		if amount.IsZero() || value.IsZero() {
			continue
		}
		if err := a.Withdraw(vc, amount, receiver, p.data.AdaptorData); err != nil {
			return fmt.Errorf("withdraw from position %d: %w", id, err)
		}
		remaining = remaining.Sub(value)
	}

	if remaining.IsZero() {
		return nil
	}
	return c.withdrawOrderly(remaining, receiver)
}

// amountOf converts a holding asset value into denom units, rounding down.
func (c *Cellar) amountOf(denom string, value sdkmath.Int) (sdkmath.Int, error) {
	if denom == c.asset.Denom {
		return value, nil
	}
	return c.prices.GetValue(c.asset.Denom, value, denom)
}

// Transfer moves shares from caller to to.
func (c *Cellar) Transfer(caller, to common.Address, shares sdkmath.Int) error {
	if err := c.whenNotPaused(); err != nil {
		return err
	}
	return c.ledger.Transfer(caller, to, c.ShareToken().Coin(shares))
}

// TransferFrom moves shares from from to to on behalf of spender.
func (c *Cellar) TransferFrom(spender, from, to common.Address, shares sdkmath.Int) error {
	if err := c.whenNotPaused(); err != nil {
		return err
	}
	return c.ledger.TransferFrom(spender, from, to, c.ShareToken().Coin(shares))
}

func (c *Cellar) Approve(owner, spender common.Address, shares sdkmath.Int) error {
	return c.ledger.Approve(owner, spender, c.shareDenom, shares)
}
