package cellar

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/cellar/internal/adaptor"
	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/logger"
	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/utils"
)

const (
	DefaultRebalanceDeviationBps = 30
	MaxRebalanceDeviationBps     = 1_000
	MaxPlatformFeeBps            = 2_000
	maxReceipts                  = 64
)

var (
	ErrInvalidConfig          = fmt.Errorf("%w: invalid cellar config", types.ErrConfiguration)
	ErrNotOwner               = fmt.Errorf("%w: caller is not the cellar owner", types.ErrUnauthorized)
	ErrNotStrategist          = fmt.Errorf("%w: caller is not the strategist", types.ErrUnauthorized)
	ErrReentrant              = fmt.Errorf("%w: cellar is locked", types.ErrReentrancy)
	ErrPaused                 = fmt.Errorf("%w: cellar paused by registry", types.ErrShutdown)
	ErrShutdownActive         = fmt.Errorf("%w: cellar is shut down", types.ErrShutdown)
	ErrShutdownPermanent      = fmt.Errorf("%w: shutdown cannot be lifted", types.ErrShutdown)
	ErrZeroAssets             = fmt.Errorf("%w: zero assets", types.ErrInvalidInput)
	ErrZeroShares             = fmt.Errorf("%w: zero shares", types.ErrInvalidInput)
	ErrSupplyCapExceeded      = fmt.Errorf("%w: share supply cap exceeded", types.ErrInvalidInput)
	ErrLiquidityExceeded      = fmt.Errorf("%w: not enough withdrawable liquidity", types.ErrLiquidity)
	ErrInsufficientIdle       = fmt.Errorf("%w: not enough idle holding asset", types.ErrLiquidity)
	ErrInsolvent              = fmt.Errorf("%w: vault has shares but no assets", types.ErrLiquidity)
	ErrPositionNotInCatalogue = fmt.Errorf("%w: position not in catalogue", types.ErrConfiguration)
	ErrAdaptorNotInCatalogue  = fmt.Errorf("%w: adaptor not in catalogue", types.ErrConfiguration)
	ErrPositionNotTrusted     = fmt.Errorf("%w: position not trusted by registry", types.ErrConfiguration)
	ErrAdaptorNotTrusted      = fmt.Errorf("%w: adaptor not trusted by registry", types.ErrConfiguration)
	ErrPositionInUse          = fmt.Errorf("%w: position already used", types.ErrConfiguration)
	ErrPositionNotUsed        = fmt.Errorf("%w: position not used by cellar", types.ErrConfiguration)
	ErrPositionNotEmpty       = fmt.Errorf("%w: position still holds assets", types.ErrConfiguration)
	ErrPositionsFull          = fmt.Errorf("%w: position list full", types.ErrConfiguration)
	ErrPositionStillTrusted   = fmt.Errorf("%w: position is still trusted", types.ErrConfiguration)
	ErrHoldingAssetPosition   = fmt.Errorf("%w: plain holding asset position would be double counted", types.ErrConfiguration)
	ErrInvalidHoldingPosition = fmt.Errorf("%w: holding position must be a credit position in the holding asset", types.ErrConfiguration)
	ErrInvalidIndex           = fmt.Errorf("%w: position index out of range", types.ErrInvalidInput)
	ErrNothingToDeposit       = fmt.Errorf("%w: rebalance produced nothing to deposit", types.ErrInvalidInput)
	ErrSelfPosition           = fmt.Errorf("%w: cellar cannot hold its own shares", types.ErrConfiguration)
	ErrSupplyChanged          = fmt.Errorf("%w: share supply changed during strategist call", types.ErrConfiguration)
	ErrApprovalOutstanding    = fmt.Errorf("%w: strategist call left approvals outstanding", types.ErrConfiguration)
	ErrTotalAssetsDeviation   = fmt.Errorf("%w: total assets moved beyond allowed deviation", types.ErrSlippage)
	ErrDeviationTooHigh       = fmt.Errorf("%w: rebalance deviation above maximum", types.ErrInvalidInput)
	ErrFeeTooHigh             = fmt.Errorf("%w: platform fee above maximum", types.ErrInvalidInput)
	ErrNoFeeEngine            = fmt.Errorf("%w: cellar has no fees engine", types.ErrConfiguration)
)

// Config holds the deployment parameters of one cellar.
type Config struct {
	Address                      common.Address
	Name                         string
	Symbol                       string
	ShareDenom                   string // ledger denom of the shares, e.g. "cellar-usdc"
	Asset                        types.Token
	Owner                        common.Address
	Strategist                   common.Address
	StrategistPayout             common.Address
	WithdrawType                 types.WithdrawType
	AllowedRebalanceDeviationBps uint32
	ShareSupplyCap               sdkmath.Int // zero or nil means uncapped
	PlatformFeeBps               uint32
	ManagementFeeBps             uint32
	PerformanceFeeBps            uint32
}

// Deps are the shared components a cellar runs against.
type Deps struct {
	Ledger   *chain.Ledger
	Journal  *chain.Journal
	Clock    chain.Clock
	Registry Registry
	Prices   PriceRouter
	Fees     FeeEngine // optional
}

type position struct {
	data  types.PositionData
	asset string
}

// Cellar pools deposits of one holding asset, mints shares against them, and lets a
// strategist route the pooled capital through trusted positions.
type Cellar struct {
	address    common.Address
	name       string
	symbol     string
	shareDenom string
	asset      types.Token
	owner      common.Address

	ledger   *chain.Ledger
	journal  *chain.Journal
	clock    chain.Clock
	registry Registry
	prices   PriceRouter
	fees     FeeEngine

	strategist        common.Address
	strategistPayout  common.Address
	withdrawType      types.WithdrawType
	deviationBps      uint32
	supplyCap         sdkmath.Int
	platformFeeBps    uint32
	shutdown          bool
	creditPositions   []types.PositionID
	debtPositions     []types.PositionID
	positionCatalogue map[types.PositionID]bool
	adaptorCatalogue  map[types.AdaptorID]bool
	positions         map[types.PositionID]position // cached at AddPosition so distrusted positions stay valued
	holdingPosition   types.PositionID
	receipts          []types.RebalanceReceipt

	locked bool
	logger zerolog.Logger
}

func validateConfig(cfg Config, deps Deps) error {
	switch {
	case cfg.Address == (common.Address{}):
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	case cfg.Owner == (common.Address{}):
		return fmt.Errorf("%w: owner is required", ErrInvalidConfig)
	case cfg.Asset.Denom == "" || cfg.Asset.Decimals > 18:
		return fmt.Errorf("%w: holding asset %q with %d decimals", ErrInvalidConfig, cfg.Asset.Denom, cfg.Asset.Decimals)
	case cfg.ShareDenom == "" || cfg.ShareDenom == cfg.Asset.Denom:
		return fmt.Errorf("%w: share denom %q", ErrInvalidConfig, cfg.ShareDenom)
	case cfg.AllowedRebalanceDeviationBps > MaxRebalanceDeviationBps:
		return ErrDeviationTooHigh
	case cfg.PlatformFeeBps > MaxPlatformFeeBps:
		return ErrFeeTooHigh
	case deps.Ledger == nil || deps.Journal == nil || deps.Clock == nil || deps.Registry == nil || deps.Prices == nil:
		return fmt.Errorf("%w: ledger, journal, clock, registry and price router are required", ErrInvalidConfig)
	}
	if err := sdktypes.ValidateDenom(cfg.ShareDenom); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if !deps.Prices.IsSupported(cfg.Asset.Denom) {
		return fmt.Errorf("%w: holding asset %s is not priced", ErrInvalidConfig, cfg.Asset.Denom)
	}
	return nil
}

// New creates a cellar, registers it with the journal and, when a fees engine is
// given, with the engine.
func New(cfg Config, deps Deps) (*Cellar, error) {
	if err := validateConfig(cfg, deps); err != nil {
		return nil, err
	}
	deviation := cfg.AllowedRebalanceDeviationBps
	if deviation == 0 {
		deviation = DefaultRebalanceDeviationBps
	}
	supplyCap := cfg.ShareSupplyCap
	if supplyCap.IsNil() {
		supplyCap = sdkmath.ZeroInt()
	}
	strategist := cfg.Strategist
	if strategist == (common.Address{}) {
		strategist = cfg.Owner
	}
	payout := cfg.StrategistPayout
	if payout == (common.Address{}) {
		payout = strategist
	}

	c := &Cellar{
		address:           cfg.Address,
		name:              cfg.Name,
		symbol:            cfg.Symbol,
		shareDenom:        cfg.ShareDenom,
		asset:             cfg.Asset,
		owner:             cfg.Owner,
		ledger:            deps.Ledger,
		journal:           deps.Journal,
		clock:             deps.Clock,
		registry:          deps.Registry,
		prices:            deps.Prices,
		fees:              deps.Fees,
		strategist:        strategist,
		strategistPayout:  payout,
		withdrawType:      cfg.WithdrawType,
		deviationBps:      deviation,
		supplyCap:         supplyCap,
		platformFeeBps:    cfg.PlatformFeeBps,
		positionCatalogue: make(map[types.PositionID]bool),
		adaptorCatalogue:  make(map[types.AdaptorID]bool),
		positions:         make(map[types.PositionID]position),
		logger:            logger.GetForComponent("cellar").With().Str("cellar", cfg.Symbol).Logger(),
	}
	if c.fees != nil {
		if err := c.fees.Register(c, cfg.Asset.Denom, cfg.ManagementFeeBps, cfg.PerformanceFeeBps); err != nil {
			return nil, fmt.Errorf("register fees: %w", err)
		}
	}
	deps.Journal.Register(c)

	c.logger.Info().
		Str("address", c.address.Hex()).
		Str("asset", c.asset.Denom).
		Str("share_denom", c.shareDenom).
		Str("withdraw_type", c.withdrawType.String()).
		Msg("Cellar created")
	return c, nil
}

func (c *Cellar) Address() common.Address             { return c.address }
func (c *Cellar) Name() string                        { return c.name }
func (c *Cellar) Symbol() string                      { return c.symbol }
func (c *Cellar) Asset() types.Token                  { return c.asset }
func (c *Cellar) ShareDenom() string                  { return c.shareDenom }
func (c *Cellar) Decimals() uint32                    { return c.asset.Decimals }
func (c *Cellar) Owner() common.Address               { return c.owner }
func (c *Cellar) Strategist() common.Address          { return c.strategist }
func (c *Cellar) WithdrawType() types.WithdrawType    { return c.withdrawType }
func (c *Cellar) IsShutdown() bool                    { return c.shutdown }
func (c *Cellar) IsPaused() bool                      { return c.registry.IsPaused(c.address) }
func (c *Cellar) HoldingPosition() types.PositionID   { return c.holdingPosition }
func (c *Cellar) RebalanceDeviationBps() uint32       { return c.deviationBps }
func (c *Cellar) PlatformFeeBps() uint32              { return c.platformFeeBps }
func (c *Cellar) ShareSupplyCap() sdkmath.Int         { return c.supplyCap }
func (c *Cellar) StrategistPayout() common.Address    { return c.strategistPayout }
func (c *Cellar) TotalSupply() sdkmath.Int            { return c.ledger.TotalSupply(c.shareDenom) }
func (c *Cellar) BalanceOf(owner common.Address) sdkmath.Int {
	return c.ledger.BalanceOf(owner, c.shareDenom)
}

func (c *Cellar) Allowance(owner, spender common.Address) sdkmath.Int {
	return c.ledger.Allowance(owner, spender, c.shareDenom)
}

// CreditPositions and DebtPositions return copies of the ordered position lists.
func (c *Cellar) CreditPositions() []types.PositionID {
	return append([]types.PositionID(nil), c.creditPositions...)
}

func (c *Cellar) DebtPositions() []types.PositionID {
	return append([]types.PositionID(nil), c.debtPositions...)
}

func (c *Cellar) RebalanceHistory() []types.RebalanceReceipt {
	return append([]types.RebalanceReceipt(nil), c.receipts...)
}

func (c *Cellar) vaultContext() adaptor.VaultContext {
	return adaptor.VaultContext{Vault: c.address, Ledger: c.ledger, Clock: c.clock}
}

// nonReentrant runs fn under the cellar lock as one atomic call. Views stay callable
// while the lock is held.
func (c *Cellar) nonReentrant(fn func() error) error {
	if c.locked {
		return ErrReentrant
	}
	c.locked = true
	defer func() { c.locked = false }()
	return c.journal.Atomic(fn)
}

func (c *Cellar) onlyOwner(caller common.Address) error {
	if caller != c.owner {
		return ErrNotOwner
	}
	return nil
}

func (c *Cellar) onlyStrategist(caller common.Address) error {
	if caller != c.strategist {
		return ErrNotStrategist
	}
	return nil
}

// onlyManager admits the owner and the strategist.
func (c *Cellar) onlyManager(caller common.Address) error {
	if caller != c.owner && caller != c.strategist {
		return ErrNotStrategist
	}
	return nil
}

func (c *Cellar) whenNotPaused() error {
	if c.registry.IsPaused(c.address) {
		return ErrPaused
	}
	return nil
}

func (c *Cellar) whenNotShutdown() error {
	if c.shutdown {
		return ErrShutdownActive
	}
	return nil
}

type cellarSnapshot struct {
	strategist        common.Address
	strategistPayout  common.Address
	withdrawType      types.WithdrawType
	deviationBps      uint32
	supplyCap         sdkmath.Int
	platformFeeBps    uint32
	shutdown          bool
	creditPositions   []types.PositionID
	debtPositions     []types.PositionID
	positionCatalogue map[types.PositionID]bool
	adaptorCatalogue  map[types.AdaptorID]bool
	positions         map[types.PositionID]position
	holdingPosition   types.PositionID
	receipts          []types.RebalanceReceipt
}

// Snapshot implements chain.Journaled. The reentrancy lock is not part of the state.
func (c *Cellar) Snapshot() any {
	s := cellarSnapshot{
		strategist:        c.strategist,
		strategistPayout:  c.strategistPayout,
		withdrawType:      c.withdrawType,
		deviationBps:      c.deviationBps,
		supplyCap:         c.supplyCap,
		platformFeeBps:    c.platformFeeBps,
		shutdown:          c.shutdown,
		creditPositions:   append([]types.PositionID(nil), c.creditPositions...),
		debtPositions:     append([]types.PositionID(nil), c.debtPositions...),
		positionCatalogue: make(map[types.PositionID]bool, len(c.positionCatalogue)),
		adaptorCatalogue:  make(map[types.AdaptorID]bool, len(c.adaptorCatalogue)),
		positions:         make(map[types.PositionID]position, len(c.positions)),
		holdingPosition:   c.holdingPosition,
		receipts:          append([]types.RebalanceReceipt(nil), c.receipts...),
	}
	for k, v := range c.positionCatalogue {
		s.positionCatalogue[k] = v
	}
	for k, v := range c.adaptorCatalogue {
		s.adaptorCatalogue[k] = v
	}
	for k, v := range c.positions {
		s.positions[k] = v
	}
	return s
}

func (c *Cellar) Restore(snapshot any) {
	s := snapshot.(cellarSnapshot)
	c.strategist = s.strategist
	c.strategistPayout = s.strategistPayout
	c.withdrawType = s.withdrawType
	c.deviationBps = s.deviationBps
	c.supplyCap = s.supplyCap
	c.platformFeeBps = s.platformFeeBps
	c.shutdown = s.shutdown
	c.creditPositions = s.creditPositions
	c.debtPositions = s.debtPositions
	c.positionCatalogue = s.positionCatalogue
	c.adaptorCatalogue = s.adaptorCatalogue
	c.positions = s.positions
	c.holdingPosition = s.holdingPosition
	c.receipts = s.receipts
}

// Summary is the live view served by the API.
func (c *Cellar) Summary() (types.VaultSummary, error) {
	totalAssets, err := c.TotalAssets()
	if err != nil {
		return types.VaultSummary{}, err
	}
	withdrawable, err := c.TotalAssetsWithdrawable()
	if err != nil {
		return types.VaultSummary{}, err
	}
	price, err := c.SharePrice()
	if err != nil {
		return types.VaultSummary{}, err
	}
	balances, err := c.PositionBalances()
	if err != nil {
		return types.VaultSummary{}, err
	}
	return types.VaultSummary{
		Address:                 c.address.Hex(),
		Name:                    c.name,
		Symbol:                  c.symbol,
		Asset:                   c.asset,
		TotalAssets:             totalAssets,
		TotalAssetsWithdrawable: withdrawable,
		TotalSupply:             c.TotalSupply(),
		SharePrice:              price,
		WithdrawType:            c.withdrawType.String(),
		Shutdown:                c.shutdown,
		Paused:                  c.IsPaused(),
		Positions:               balances,
	}, nil
}

// bpsWithin reports whether after lies within bps of before in either direction.
func bpsWithin(before, after sdkmath.Int, bps uint32) bool {
	diff := after.Sub(before).Abs().MulRaw(utils.BpsDenominator)
	return diff.LTE(before.MulRaw(int64(bps)))
}
