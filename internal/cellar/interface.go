package cellar

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/adaptor"
	"github.com/elys-network/cellar/internal/fees"
	"github.com/elys-network/cellar/internal/types"
)

// Registry is the part of the global trust gate a cellar consults.
// Trust is checked when positions and adaptors enter the cellar and again
// before any deposit into a position.
type Registry interface {
	IsTrusted(id types.PositionID) bool
	GetPositionData(id types.PositionID) (types.PositionData, error)
	PositionAsset(id types.PositionID) (string, error)
	IsAdaptorTrusted(id types.AdaptorID) bool
	Adaptor(id types.AdaptorID) (adaptor.Adaptor, error)
	GetAddress(slot uint32) (common.Address, error)
	IsPaused(target common.Address) bool
}

// PriceRouter values position balances in the holding asset.
type PriceRouter interface {
	IsSupported(denom string) bool
	GetValue(base string, amount sdkmath.Int, quote string) (sdkmath.Int, error)
}

// FeeEngine accrues fees and keeps reserves on behalf of many cellars.
type FeeEngine interface {
	Register(target fees.Target, reserveAsset string, managementBps, performanceBps uint32) error
	Accrue(vault common.Address) error
	FeesOwed(vault common.Address) sdkmath.Int
	MarkFeesPaid(vault common.Address, amount sdkmath.Int) error
	ChangeFees(vault common.Address, managementBps, performanceBps uint32) error
	MetaData(vault common.Address) (types.FeeMetaData, error)
	AddAssetsToReserves(vault common.Address, amount sdkmath.Int) error
	WithdrawAssetsFromReserves(vault common.Address, amount sdkmath.Int) error
	PayFeesFromReserves(vault common.Address, platformBps uint32, collector, payout common.Address) (paid, platformCut sdkmath.Int, err error)
}
