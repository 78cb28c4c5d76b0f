package fees

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/logger"
	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/utils"
)

const (
	MaxManagementFeeBps  = 1_000 // 10% per year
	MaxPerformanceFeeBps = 5_000
	secondsPerYear       = 365 * 24 * 60 * 60
)

var (
	ErrNotRegistered        = fmt.Errorf("%w: vault not registered with fees engine", types.ErrConfiguration)
	ErrAlreadyRegistered    = fmt.Errorf("%w: vault already registered with fees engine", types.ErrConfiguration)
	ErrFeeTooHigh           = fmt.Errorf("%w: fee above cap", types.ErrInvalidInput)
	ErrReserveAsset         = fmt.Errorf("%w: reserve asset must be the vault holding asset", types.ErrConfiguration)
	ErrNotAutomation        = fmt.Errorf("%w: caller is not the automation keeper", types.ErrUnauthorized)
	ErrInsufficientReserves = fmt.Errorf("%w: not enough reserves", types.ErrLiquidity)
	ErrNonPositiveAmount    = fmt.Errorf("%w: amount must be positive", types.ErrInvalidInput)
)

// Target is the vault side of fee accrual.
type Target interface {
	Address() common.Address
	Asset() types.Token
	TotalAssets() (sdkmath.Int, error)
	TotalSupply() sdkmath.Int
}

// Engine accrues management and performance fees for many vaults and holds their reserves.
// Mutating calls take the vault address as the caller identity: only the vault itself
// may touch its own accounting.
type Engine struct {
	address           common.Address
	ledger            *chain.Ledger
	clock             chain.Clock
	automation        common.Address
	minUpkeepInterval time.Duration
	metas             map[common.Address]types.FeeMetaData
	targets           map[common.Address]Target
	logger            zerolog.Logger
}

func NewEngine(address common.Address, ledger *chain.Ledger, clock chain.Clock, automation common.Address, minUpkeepInterval time.Duration) *Engine {
	return &Engine{
		address:           address,
		ledger:            ledger,
		clock:             clock,
		automation:        automation,
		minUpkeepInterval: minUpkeepInterval,
		metas:             make(map[common.Address]types.FeeMetaData),
		targets:           make(map[common.Address]Target),
		logger:            logger.GetForComponent("fees_engine"),
	}
}

func (e *Engine) Address() common.Address { return e.address }

func validateFees(managementBps, performanceBps uint32) error {
	if managementBps > MaxManagementFeeBps {
		return fmt.Errorf("%w: management %d > %d", ErrFeeTooHigh, managementBps, MaxManagementFeeBps)
	}
	if performanceBps > MaxPerformanceFeeBps {
		return fmt.Errorf("%w: performance %d > %d", ErrFeeTooHigh, performanceBps, MaxPerformanceFeeBps)
	}
	return nil
}

// Register starts fee accounting for target. Accrual begins at the first call to Accrue.
func (e *Engine) Register(target Target, reserveAsset string, managementBps, performanceBps uint32) error {
	vault := target.Address()
	if _, ok := e.metas[vault]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, vault.Hex())
	}
	if reserveAsset != target.Asset().Denom {
		return fmt.Errorf("%w: %s", ErrReserveAsset, reserveAsset)
	}
	if err := validateFees(managementBps, performanceBps); err != nil {
		return err
	}
	e.targets[vault] = target
	e.metas[vault] = types.FeeMetaData{
		ReserveAsset:       reserveAsset,
		ManagementFeeBps:   managementBps,
		PerformanceFeeBps:  performanceBps,
		Reserves:           sdkmath.ZeroInt(),
		ExactHighWatermark: sdkmath.ZeroInt(),
		TotalAssets:        sdkmath.ZeroInt(),
		FeesOwed:           sdkmath.ZeroInt(),
	}
	e.logger.Info().
		Str("vault", vault.Hex()).
		Uint32("management_fee_bps", managementBps).
		Uint32("performance_fee_bps", performanceBps).
		Msg("Vault registered for fees")
	return nil
}

func (e *Engine) IsRegistered(vault common.Address) bool {
	_, ok := e.metas[vault]
	return ok
}

func (e *Engine) MetaData(vault common.Address) (types.FeeMetaData, error) {
	meta, ok := e.metas[vault]
	if !ok {
		return types.FeeMetaData{}, fmt.Errorf("%w: %s", ErrNotRegistered, vault.Hex())
	}
	return meta, nil
}

func (e *Engine) FeesOwed(vault common.Address) sdkmath.Int {
	if meta, ok := e.metas[vault]; ok {
		return meta.FeesOwed
	}
	return sdkmath.ZeroInt()
}

// ChangeFees accrues under the old rates and then switches to the new ones.
func (e *Engine) ChangeFees(vault common.Address, managementBps, performanceBps uint32) error {
	if err := validateFees(managementBps, performanceBps); err != nil {
		return err
	}
	if err := e.Accrue(vault); err != nil {
		return err
	}
	meta := e.metas[vault]
	meta.ManagementFeeBps, meta.PerformanceFeeBps = managementBps, performanceBps
	e.metas[vault] = meta
	return nil
}

// Accrue charges fees for the time since the last accrual. Management fees are
// linear in time on the lower of the current and the last observed NAV. Performance
// fees are charged on share price gains above the high watermark, which then moves
// up to the current price. A second call at the same timestamp changes nothing.
func (e *Engine) Accrue(vault common.Address) error {
	meta, ok := e.metas[vault]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, vault.Hex())
	}
	target := e.targets[vault]
	now := e.clock.Now()

	totalAssets, err := target.TotalAssets()
	if err != nil {
		return fmt.Errorf("fee accrual total assets: %w", err)
	}
	supply := target.TotalSupply()

	if supply.IsZero() || meta.ExactHighWatermark.IsZero() {
		meta.Timestamp = now
		meta.TotalAssets = totalAssets
		if supply.IsPositive() {
			meta.ExactHighWatermark = totalAssets.Mul(utils.Ray).Quo(supply)
		}
		e.metas[vault] = meta
		return nil
	}

	elapsed := int64(now.Sub(meta.Timestamp) / time.Second)
	if elapsed <= 0 {
		return nil
	}

	managementFee := sdkmath.ZeroInt()
	if meta.ManagementFeeBps > 0 {
		base := utils.MinInt(totalAssets, meta.TotalAssets)
		managementFee = base.MulRaw(int64(meta.ManagementFeeBps)).MulRaw(elapsed).
			QuoRaw(secondsPerYear).QuoRaw(utils.BpsDenominator)
	}

	performanceFee := sdkmath.ZeroInt()
	exactSharePrice := totalAssets.Mul(utils.Ray).Quo(supply)
	if exactSharePrice.GT(meta.ExactHighWatermark) {
		if meta.PerformanceFeeBps > 0 {
			gain := exactSharePrice.Sub(meta.ExactHighWatermark)
			performanceFee = supply.Mul(gain).MulRaw(int64(meta.PerformanceFeeBps)).
				Quo(utils.Ray).QuoRaw(utils.BpsDenominator)
		}
		meta.ExactHighWatermark = exactSharePrice
	}

	meta.FeesOwed = meta.FeesOwed.Add(managementFee).Add(performanceFee)
	meta.Timestamp = now
	meta.TotalAssets = totalAssets
	e.metas[vault] = meta

	e.logger.Debug().
		Str("vault", vault.Hex()).
		Int64("elapsed_seconds", elapsed).
		Str("management_fee", managementFee.String()).
		Str("performance_fee", performanceFee.String()).
		Str("fees_owed", meta.FeesOwed.String()).
		Msg("Fees accrued")
	return nil
}

// MarkFeesPaid lowers fees owed after the vault settled amount by other means.
func (e *Engine) MarkFeesPaid(vault common.Address, amount sdkmath.Int) error {
	meta, ok := e.metas[vault]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, vault.Hex())
	}
	if amount.GT(meta.FeesOwed) {
		amount = meta.FeesOwed
	}
	meta.FeesOwed = meta.FeesOwed.Sub(amount)
	e.metas[vault] = meta
	return nil
}

// AddAssetsToReserves moves holding asset out of the vault into its reserve.
func (e *Engine) AddAssetsToReserves(vault common.Address, amount sdkmath.Int) error {
	meta, ok := e.metas[vault]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, vault.Hex())
	}
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if err := e.ledger.Transfer(vault, e.address, sdktypes.Coin{Denom: meta.ReserveAsset, Amount: amount}); err != nil {
		return fmt.Errorf("add to reserves: %w", err)
	}
	meta.Reserves = meta.Reserves.Add(amount)
	e.metas[vault] = meta
	return nil
}

func (e *Engine) WithdrawAssetsFromReserves(vault common.Address, amount sdkmath.Int) error {
	meta, ok := e.metas[vault]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, vault.Hex())
	}
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if amount.GT(meta.Reserves) {
		return fmt.Errorf("%w: %s held, %s requested", ErrInsufficientReserves, meta.Reserves, amount)
	}
	if err := e.ledger.Transfer(e.address, vault, sdktypes.Coin{Denom: meta.ReserveAsset, Amount: amount}); err != nil {
		return err
	}
	meta.Reserves = meta.Reserves.Sub(amount)
	e.metas[vault] = meta
	return nil
}

// PayFeesFromReserves settles as much of the owed fees as reserves allow, splitting
// platformBps of the payment to collector and the rest to payout.
func (e *Engine) PayFeesFromReserves(vault common.Address, platformBps uint32, collector, payout common.Address) (paid, platformCut sdkmath.Int, err error) {
	if err := e.Accrue(vault); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	meta := e.metas[vault]
	paid = utils.MinInt(meta.FeesOwed, meta.Reserves)
	if paid.IsZero() {
		return paid, sdkmath.ZeroInt(), nil
	}
	platformCut = utils.ApplyBps(paid, platformBps)
	if err := e.ledger.Transfer(e.address, collector, sdktypes.Coin{Denom: meta.ReserveAsset, Amount: platformCut}); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	if err := e.ledger.Transfer(e.address, payout, sdktypes.Coin{Denom: meta.ReserveAsset, Amount: paid.Sub(platformCut)}); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	meta.Reserves = meta.Reserves.Sub(paid)
	meta.FeesOwed = meta.FeesOwed.Sub(paid)
	e.metas[vault] = meta

	e.logger.Info().
		Str("vault", vault.Hex()).
		Str("paid", paid.String()).
		Str("platform_cut", platformCut.String()).
		Msg("Fees paid from reserves")
	return paid, platformCut, nil
}

// CheckUpkeep lists vaults whose last accrual is older than the minimum upkeep interval.
func (e *Engine) CheckUpkeep() []common.Address {
	now := e.clock.Now()
	var due []common.Address
	for vault, meta := range e.metas {
		if meta.Timestamp.IsZero() || now.Sub(meta.Timestamp) >= e.minUpkeepInterval {
			due = append(due, vault)
		}
	}
	return due
}

// PerformUpkeep accrues fees for each vault. A failing vault does not block the others.
func (e *Engine) PerformUpkeep(caller common.Address, vaults []common.Address) error {
	if caller != e.automation {
		return ErrNotAutomation
	}
	var errs []error
	for _, vault := range vaults {
		if err := e.Accrue(vault); err != nil {
			errs = append(errs, fmt.Errorf("vault %s: %w", vault.Hex(), err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) Snapshot() any {
	cp := make(map[common.Address]types.FeeMetaData, len(e.metas))
	for k, v := range e.metas {
		cp[k] = v
	}
	return cp
}

func (e *Engine) Restore(snapshot any) {
	e.metas = snapshot.(map[common.Address]types.FeeMetaData)
}
