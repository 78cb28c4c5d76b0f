package cellar

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/types"
)

// InitiateShutdown stops deposits and rebalances into positions for good. Users can
// still withdraw and the strategist can still unwind into idle.
func (c *Cellar) InitiateShutdown(caller common.Address) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		if c.shutdown {
			return ErrShutdownActive
		}
		c.shutdown = true
		c.logger.Warn().Str("caller", caller.Hex()).Msg("Cellar shut down")
		return nil
	})
}

// LiftShutdown always fails: shutdown is one way.
func (c *Cellar) LiftShutdown(caller common.Address) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	return ErrShutdownPermanent
}

func (c *Cellar) SetWithdrawType(caller common.Address, withdrawType types.WithdrawType) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		if withdrawType != types.WithdrawOrderly && withdrawType != types.WithdrawProportional {
			return fmt.Errorf("%w: %s", types.ErrInvalidInput, withdrawType)
		}
		c.withdrawType = withdrawType
		c.logger.Info().Str("withdraw_type", withdrawType.String()).Msg("Withdraw type set")
		return nil
	})
}

func (c *Cellar) SetRebalanceDeviation(caller common.Address, bps uint32) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		if bps > MaxRebalanceDeviationBps {
			return fmt.Errorf("%w: %d > %d", ErrDeviationTooHigh, bps, MaxRebalanceDeviationBps)
		}
		c.deviationBps = bps
		return nil
	})
}

// SetShareSupplyCap bounds total supply for future deposits. Zero removes the cap.
func (c *Cellar) SetShareSupplyCap(caller common.Address, supplyCap sdkmath.Int) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		if supplyCap.IsNil() || supplyCap.IsNegative() {
			return fmt.Errorf("%w: supply cap %s", types.ErrInvalidInput, supplyCap)
		}
		c.supplyCap = supplyCap
		return nil
	})
}

func (c *Cellar) SetStrategistPayout(caller, payout common.Address) error {
	return c.nonReentrant(func() error {
		if err := c.onlyManager(caller); err != nil {
			return err
		}
		if payout == (common.Address{}) {
			return fmt.Errorf("%w: empty payout address", types.ErrInvalidInput)
		}
		c.strategistPayout = payout
		return nil
	})
}

func (c *Cellar) SetPlatformFee(caller common.Address, bps uint32) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		if bps > MaxPlatformFeeBps {
			return fmt.Errorf("%w: %d > %d", ErrFeeTooHigh, bps, MaxPlatformFeeBps)
		}
		c.platformFeeBps = bps
		return nil
	})
}

func (c *Cellar) SetStrategist(caller, strategist common.Address) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		if strategist == (common.Address{}) {
			return fmt.Errorf("%w: empty strategist address", types.ErrInvalidInput)
		}
		c.strategist = strategist
		c.logger.Info().Str("strategist", strategist.Hex()).Msg("Strategist set")
		return nil
	})
}
