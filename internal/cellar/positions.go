package cellar

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/adaptor"
	"github.com/elys-network/cellar/internal/types"
)

func (c *Cellar) AddAdaptorToCatalogue(caller common.Address, id types.AdaptorID) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		if !c.registry.IsAdaptorTrusted(id) {
			return fmt.Errorf("%w: %s", ErrAdaptorNotTrusted, id)
		}
		c.adaptorCatalogue[id] = true
		c.logger.Info().Str("adaptor", id.String()).Msg("Adaptor added to catalogue")
		return nil
	})
}

func (c *Cellar) RemoveAdaptorFromCatalogue(caller common.Address, id types.AdaptorID) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		delete(c.adaptorCatalogue, id)
		return nil
	})
}

func (c *Cellar) AddPositionToCatalogue(caller common.Address, id types.PositionID) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		if !c.registry.IsTrusted(id) {
			return fmt.Errorf("%w: %d", ErrPositionNotTrusted, id)
		}
		c.positionCatalogue[id] = true
		c.logger.Info().Uint32("position", uint32(id)).Msg("Position added to catalogue")
		return nil
	})
}

func (c *Cellar) RemovePositionFromCatalogue(caller common.Address, id types.PositionID) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		if _, used := c.positions[id]; used {
			return fmt.Errorf("%w: %d", ErrPositionInUse, id)
		}
		delete(c.positionCatalogue, id)
		return nil
	})
}

func (c *Cellar) IsPositionInCatalogue(id types.PositionID) bool { return c.positionCatalogue[id] }
func (c *Cellar) IsAdaptorInCatalogue(id types.AdaptorID) bool   { return c.adaptorCatalogue[id] }

func (c *Cellar) positionList(isDebt bool) *[]types.PositionID {
	if isDebt {
		return &c.debtPositions
	}
	return &c.creditPositions
}

// AddPosition inserts a catalogued position at index of the credit or debt list chosen by
// its registry debt flag. Its registry binding is cached so the cellar can keep valuing
// and unwinding it if the registry later distrusts it.
func (c *Cellar) AddPosition(caller common.Address, index int, id types.PositionID) error {
	return c.nonReentrant(func() error {
		if err := c.onlyManager(caller); err != nil {
			return err
		}
		if id == types.IdlePosition {
			return fmt.Errorf("%w: position 0 is reserved", types.ErrInvalidInput)
		}
		if !c.positionCatalogue[id] {
			return fmt.Errorf("%w: %d", ErrPositionNotInCatalogue, id)
		}
		if !c.registry.IsTrusted(id) {
			return fmt.Errorf("%w: %d", ErrPositionNotTrusted, id)
		}
		if _, used := c.positions[id]; used {
			return fmt.Errorf("%w: %d", ErrPositionInUse, id)
		}
		data, err := c.registry.GetPositionData(id)
		if err != nil {
			return err
		}
		if !c.adaptorCatalogue[data.Adaptor] {
			return fmt.Errorf("%w: %s", ErrAdaptorNotInCatalogue, data.Adaptor)
		}
		asset, err := c.registry.PositionAsset(id)
		if err != nil {
			return err
		}
		if !c.prices.IsSupported(asset) {
			return fmt.Errorf("%w: position %d asset %s not priced", ErrPositionNotTrusted, id, asset)
		}
		if data.Adaptor == adaptor.ERC20AdaptorID && asset == c.asset.Denom {
			return fmt.Errorf("%w: position %d", ErrHoldingAssetPosition, id)
		}
		if data.Adaptor == adaptor.CellarAdaptorID {
			target, err := adaptor.VaultTarget(data.AdaptorData)
			if err != nil {
				return err
			}
			if target == c.address {
				return fmt.Errorf("%w: position %d", ErrSelfPosition, id)
			}
		}

		list := c.positionList(data.IsDebt)
		if len(*list) >= types.MaxPositions {
			return ErrPositionsFull
		}
		if index < 0 || index > len(*list) {
			return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
		}
		*list = slices.Insert(*list, index, id)
		c.positions[id] = position{data: data, asset: asset}

		c.logger.Info().
			Uint32("position", uint32(id)).
			Int("index", index).
			Bool("debt", data.IsDebt).
			Str("asset", asset).
			Msg("Position added")
		return nil
	})
}

// RemovePosition drops the position at index. The position must be empty.
func (c *Cellar) RemovePosition(caller common.Address, index int, isDebt bool) error {
	return c.nonReentrant(func() error {
		if err := c.onlyManager(caller); err != nil {
			return err
		}
		list := c.positionList(isDebt)
		if index < 0 || index >= len(*list) {
			return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
		}
		id := (*list)[index]
		if id == c.holdingPosition {
			return fmt.Errorf("%w: position %d is the holding position", ErrPositionInUse, id)
		}
		a, p, err := c.adaptorFor(id)
		if err != nil {
			return err
		}
		balance, err := a.BalanceOf(c.vaultContext(), p.data.AdaptorData)
		if err != nil {
			return err
		}
		if !balance.IsZero() {
			return fmt.Errorf("%w: position %d holds %s", ErrPositionNotEmpty, id, balance)
		}
		c.dropPosition(list, index)
		return nil
	})
}

// ForcePositionOut removes a position the registry no longer trusts, whatever it holds.
func (c *Cellar) ForcePositionOut(caller common.Address, index int, id types.PositionID, isDebt bool) error {
	return c.nonReentrant(func() error {
		if err := c.onlyOwner(caller); err != nil {
			return err
		}
		list := c.positionList(isDebt)
		if index < 0 || index >= len(*list) || (*list)[index] != id {
			return fmt.Errorf("%w: position %d not at index %d", ErrInvalidIndex, id, index)
		}
		if c.registry.IsTrusted(id) {
			return fmt.Errorf("%w: %d", ErrPositionStillTrusted, id)
		}
		if id == c.holdingPosition {
			c.holdingPosition = types.IdlePosition
		}
		c.dropPosition(list, index)
		c.logger.Warn().Uint32("position", uint32(id)).Msg("Position forced out")
		return nil
	})
}

func (c *Cellar) dropPosition(list *[]types.PositionID, index int) {
	id := (*list)[index]
	*list = slices.Delete(*list, index, index+1)
	delete(c.positions, id)
	c.logger.Info().Uint32("position", uint32(id)).Msg("Position removed")
}

// SwapPositions exchanges two entries of a list, changing withdrawal order.
func (c *Cellar) SwapPositions(caller common.Address, i, j int, isDebt bool) error {
	return c.nonReentrant(func() error {
		if err := c.onlyManager(caller); err != nil {
			return err
		}
		list := *c.positionList(isDebt)
		if i < 0 || j < 0 || i >= len(list) || j >= len(list) {
			return fmt.Errorf("%w: %d, %d", ErrInvalidIndex, i, j)
		}
		list[i], list[j] = list[j], list[i]
		return nil
	})
}

// SetHoldingPosition makes deposits flow into id. IdlePosition keeps deposits idle.
func (c *Cellar) SetHoldingPosition(caller common.Address, id types.PositionID) error {
	return c.nonReentrant(func() error {
		if err := c.onlyManager(caller); err != nil {
			return err
		}
		if id != types.IdlePosition {
			p, ok := c.positions[id]
			if !ok || p.data.IsDebt || p.asset != c.asset.Denom {
				return fmt.Errorf("%w: %d", ErrInvalidHoldingPosition, id)
			}
		}
		c.holdingPosition = id
		c.logger.Info().Uint32("position", uint32(id)).Msg("Holding position set")
		return nil
	})
}
