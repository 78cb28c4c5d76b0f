package cellar

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/registry"
	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/utils"
)

// SendFees accrues fees and settles what is owed by minting shares worth the owed
// amount: owed * supply / (totalAssets - owed). The platform cut goes to the fee
// collector, the rest to the strategist payout address. Calling it twice in the same
// block mints nothing the second time.
func (c *Cellar) SendFees(caller common.Address) (types.FeeReceipt, error) {
	receipt := types.FeeReceipt{
		Vault:            c.address,
		FeesOwed:         sdkmath.ZeroInt(),
		SharesMinted:     sdkmath.ZeroInt(),
		PlatformShares:   sdkmath.ZeroInt(),
		StrategistShares: sdkmath.ZeroInt(),
		PaidFromReserves: sdkmath.ZeroInt(),
	}
	err := c.nonReentrant(func() error {
		if err := c.onlyManager(caller); err != nil {
			return err
		}
		if c.fees == nil {
			return ErrNoFeeEngine
		}
		if err := c.fees.Accrue(c.address); err != nil {
			return err
		}
		owed := c.fees.FeesOwed(c.address)
		supply := c.TotalSupply()
		if owed.IsZero() || supply.IsZero() {
			return nil
		}
		totalAssets, err := c.TotalAssets()
		if err != nil {
			return err
		}
		if totalAssets.LTE(owed) {
			return fmt.Errorf("%w: fees owed %s exceed total assets %s", types.ErrLiquidity, owed, totalAssets)
		}
		shares, err := utils.MulDivDown(owed, supply, totalAssets.Sub(owed))
		if err != nil {
			return err
		}
		collector, err := c.registry.GetAddress(registry.SlotFeeCollector)
		if err != nil {
			return err
		}
		platformShares := utils.ApplyBps(shares, c.platformFeeBps)
		strategistShares := shares.Sub(platformShares)
		if platformShares.IsPositive() {
			if err := c.ledger.Mint(collector, c.ShareToken().Coin(platformShares)); err != nil {
				return err
			}
		}
		if strategistShares.IsPositive() {
			if err := c.ledger.Mint(c.strategistPayout, c.ShareToken().Coin(strategistShares)); err != nil {
				return err
			}
		}
		if err := c.fees.MarkFeesPaid(c.address, owed); err != nil {
			return err
		}

		receipt.FeesOwed = owed
		receipt.SharesMinted = shares
		receipt.PlatformShares = platformShares
		receipt.StrategistShares = strategistShares
		c.logger.Info().
			Str("fees_owed", owed.String()).
			Str("shares_minted", shares.String()).
			Str("platform_shares", platformShares.String()).
			Msg("Fees sent")
		return nil
	})
	if err != nil {
		return types.FeeReceipt{}, err
	}
	return receipt, nil
}

// reserveCall runs a strategist reserve move under the same checks as adaptor calls, so a
// single move can shift NAV by at most the rebalance deviation.
func (c *Cellar) reserveCall(caller common.Address, move func() error) error {
	return c.nonReentrant(func() error {
		if err := c.onlyStrategist(caller); err != nil {
			return err
		}
		if c.fees == nil {
			return ErrNoFeeEngine
		}
		before, err := c.beginStrategistCall()
		if err != nil {
			return err
		}
		if err := move(); err != nil {
			return err
		}
		_, err = c.endStrategistCall(before)
		return err
	})
}

// AddToReserves moves idle holding asset into the fees engine reserve for this cellar.
func (c *Cellar) AddToReserves(caller common.Address, amount sdkmath.Int) error {
	return c.reserveCall(caller, func() error {
		if amount.GT(c.idle()) {
			return fmt.Errorf("%w: %s requested, %s idle", ErrInsufficientIdle, amount, c.idle())
		}
		return c.fees.AddAssetsToReserves(c.address, amount)
	})
}

func (c *Cellar) WithdrawFromReserves(caller common.Address, amount sdkmath.Int) error {
	return c.reserveCall(caller, func() error {
		return c.fees.WithdrawAssetsFromReserves(c.address, amount)
	})
}

// SettleFeesFromReserves pays owed fees out of reserves instead of diluting holders.
func (c *Cellar) SettleFeesFromReserves(caller common.Address) (types.FeeReceipt, error) {
	var receipt types.FeeReceipt
	err := c.nonReentrant(func() error {
		if err := c.onlyStrategist(caller); err != nil {
			return err
		}
		if c.fees == nil {
			return ErrNoFeeEngine
		}
		collector, err := c.registry.GetAddress(registry.SlotFeeCollector)
		if err != nil {
			return err
		}
		if err := c.fees.Accrue(c.address); err != nil {
			return err
		}
		owed := c.fees.FeesOwed(c.address)
		paid, _, err := c.fees.PayFeesFromReserves(c.address, c.platformFeeBps, collector, c.strategistPayout)
		if err != nil {
			return err
		}
		receipt = types.FeeReceipt{
			Vault:            c.address,
			FeesOwed:         owed,
			SharesMinted:     sdkmath.ZeroInt(),
			PlatformShares:   sdkmath.ZeroInt(),
			StrategistShares: sdkmath.ZeroInt(),
			PaidFromReserves: paid,
		}
		return nil
	})
	if err != nil {
		return types.FeeReceipt{}, err
	}
	return receipt, nil
}

// ChangeFees updates the fee rates after accruing under the old ones.
func (c *Cellar) ChangeFees(caller common.Address, managementBps, performanceBps uint32) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		if c.fees == nil {
			return ErrNoFeeEngine
		}
		return c.fees.ChangeFees(c.address, managementBps, performanceBps)
	})
}

// FeeMetaData exposes this cellar's accrual state.
func (c *Cellar) FeeMetaData() (types.FeeMetaData, error) {
	if c.fees == nil {
		return types.FeeMetaData{}, ErrNoFeeEngine
	}
	return c.fees.MetaData(c.address)
}
