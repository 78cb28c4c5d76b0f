package cellar

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/elys-network/cellar/internal/types"
)

// callState is what every strategist call is checked against once its adaptors ran.
type callState struct {
	supply      sdkmath.Int
	totalAssets sdkmath.Int
}

func (c *Cellar) beginStrategistCall() (callState, error) {
	totalAssets, err := c.TotalAssets()
	if err != nil {
		return callState{}, err
	}
	return callState{supply: c.TotalSupply(), totalAssets: totalAssets}, nil
}

// endStrategistCall enforces that a strategist call minted or burned no shares, left no
// approvals behind and kept NAV within the allowed deviation.
func (c *Cellar) endStrategistCall(before callState) (sdkmath.Int, error) {
	if supply := c.TotalSupply(); !supply.Equal(before.supply) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s -> %s", ErrSupplyChanged, before.supply, supply)
	}
	if n := c.ledger.OutstandingAllowances(c.address, ""); n > 0 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d approvals", ErrApprovalOutstanding, n)
	}
	after, err := c.TotalAssets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if !bpsWithin(before.totalAssets, after, c.deviationBps) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s -> %s, allowed %d bps",
			ErrTotalAssetsDeviation, before.totalAssets, after, c.deviationBps)
	}
	return after, nil
}

func (c *Cellar) runCalls(calls []types.AdaptorCall) error {
	vc := c.vaultContext()
	for _, call := range calls {
		if !c.adaptorCatalogue[call.Adaptor] {
			return fmt.Errorf("%w: %s", ErrAdaptorNotInCatalogue, call.Adaptor)
		}
		if !c.registry.IsAdaptorTrusted(call.Adaptor) {
			return fmt.Errorf("%w: %s", ErrAdaptorNotTrusted, call.Adaptor)
		}
		a, err := c.registry.Adaptor(call.Adaptor)
		if err != nil {
			return err
		}
		for _, op := range call.Ops {
			if err := a.Execute(vc, op); err != nil {
				return fmt.Errorf("adaptor %s %s: %w", call.Adaptor, op.Action, err)
			}
		}
	}
	return nil
}

// CallOnAdaptor lets the strategist run arbitrary operations through catalogued adaptors.
func (c *Cellar) CallOnAdaptor(caller common.Address, calls []types.AdaptorCall) error {
	return c.nonReentrant(func() error {
		if err := c.onlyStrategist(caller); err != nil {
			return err
		}
		before, err := c.beginStrategistCall()
		if err != nil {
			return err
		}
		if err := c.runCalls(calls); err != nil {
			return err
		}
		_, err = c.endStrategistCall(before)
		return err
	})
}

func (c *Cellar) isCredit(id types.PositionID) bool {
	p, ok := c.positions[id]
	return ok && !p.data.IsDebt
}

// Rebalance moves amount out of from, runs calls, then deposits whatever the vault gained
// of the destination asset into to. IdlePosition stands for idle holding asset on either
// side. While shut down the only allowed destination is idle. A non-zero amount that
// leaves a credit destination with nothing to deposit fails.
func (c *Cellar) Rebalance(caller common.Address, from, to types.PositionID, amount sdkmath.Int, calls []types.AdaptorCall) (types.RebalanceReceipt, error) {
	var receipt types.RebalanceReceipt
	err := c.nonReentrant(func() error {
		if err := c.onlyStrategist(caller); err != nil {
			return err
		}
		if to != types.IdlePosition {
			if err := c.whenNotShutdown(); err != nil {
				return err
			}
		}
		if from == to {
			return fmt.Errorf("%w: source and destination are both %d", types.ErrInvalidInput, from)
		}
		if amount.IsNil() || amount.IsNegative() {
			return fmt.Errorf("%w: amount %s", types.ErrInvalidInput, amount)
		}
		if from != types.IdlePosition && !c.isCredit(from) {
			return fmt.Errorf("%w: source %d", ErrPositionNotUsed, from)
		}
		if to != types.IdlePosition {
			if !c.isCredit(to) {
				return fmt.Errorf("%w: destination %d", ErrPositionNotUsed, to)
			}
			if !c.registry.IsTrusted(to) {
				return fmt.Errorf("%w: destination %d", ErrPositionNotTrusted, to)
			}
		}

		before, err := c.beginStrategistCall()
		if err != nil {
			return err
		}
		destAsset := c.asset.Denom
		if to != types.IdlePosition {
			destAsset = c.positions[to].asset
		}
		baseline := c.ledger.BalanceOf(c.address, destAsset)

		vc := c.vaultContext()
		if from == types.IdlePosition {
			if amount.GT(c.idle()) {
				return fmt.Errorf("%w: %s requested, %s idle", ErrInsufficientIdle, amount, c.idle())
			}
			// idle funds are already in the vault, count them as withdrawn
			if destAsset == c.asset.Denom {
				baseline = baseline.Sub(amount)
			}
		} else if amount.IsPositive() {
			a, p, err := c.adaptorFor(from)
			if err != nil {
				return err
			}
			if err := a.Withdraw(vc, amount, c.address, p.data.AdaptorData); err != nil {
				return fmt.Errorf("withdraw from position %d: %w", from, err)
			}
		}

		if err := c.runCalls(calls); err != nil {
			return err
		}

		actual := c.ledger.BalanceOf(c.address, destAsset).Sub(baseline)
		if actual.IsNegative() {
			actual = sdkmath.ZeroInt()
		}
		if to != types.IdlePosition && amount.IsPositive() && !actual.IsPositive() {
			return fmt.Errorf("%w: position %d gained no %s", ErrNothingToDeposit, to, destAsset)
		}
		if to != types.IdlePosition && actual.IsPositive() {
			a, p, err := c.adaptorFor(to)
			if err != nil {
				return err
			}
			if err := a.Deposit(vc, actual, p.data.AdaptorData); err != nil {
				return fmt.Errorf("deposit into position %d: %w", to, err)
			}
		}

		after, err := c.endStrategistCall(before)
		if err != nil {
			return err
		}

		receipt = types.RebalanceReceipt{
			ID:                uuid.New(),
			Vault:             c.address,
			From:              from,
			To:                to,
			Requested:         amount,
			Actual:            actual,
			TotalAssetsBefore: before.totalAssets,
			TotalAssetsAfter:  after,
			Timestamp:         c.clock.Now(),
		}
		c.receipts = append(c.receipts, receipt)
		if len(c.receipts) > maxReceipts {
			c.receipts = c.receipts[len(c.receipts)-maxReceipts:]
		}

		c.logger.Info().
			Str("rebalance_id", receipt.ID.String()).
			Uint32("from", uint32(from)).
			Uint32("to", uint32(to)).
			Str("requested", amount.String()).
			Str("actual", actual.String()).
			Str("total_assets_before", before.totalAssets.String()).
			Str("total_assets_after", after.String()).
			Msg("Rebalance")
		return nil
	})
	if err != nil {
		return types.RebalanceReceipt{}, err
	}
	return receipt, nil
}
