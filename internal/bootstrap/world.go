/*

Package bootstrap turns a deployment file into a running world: a ledger and journal,
the price router with one feed per token, the in-world protocols, a registry trusting
every adaptor and declared position, the fees engine, the withdraw queue, and each
cellar with its share price oracle.

*/

package bootstrap

import (
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/cellar/internal/adaptor"
	"github.com/elys-network/cellar/internal/cellar"
	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/config"
	"github.com/elys-network/cellar/internal/fees"
	"github.com/elys-network/cellar/internal/logger"
	"github.com/elys-network/cellar/internal/oracle"
	"github.com/elys-network/cellar/internal/pricerouter"
	"github.com/elys-network/cellar/internal/protocol"
	"github.com/elys-network/cellar/internal/registry"
	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/utils"
	"github.com/elys-network/cellar/internal/withdrawqueue"
)

const (
	feedDecimals = 8
	queueName    = "withdraw-queue"
)

// World is everything a deployment builds. Drivers must go through the embedded
// chain.World lock before touching any component.
type World struct {
	*chain.World

	Owner      common.Address
	Automation common.Address

	Router   *pricerouter.Router
	Registry *registry.Registry
	Market   *protocol.LendingMarket
	Pool     *protocol.StakingPool
	Swap     *protocol.SwapRouter
	Fees     *fees.Engine
	Queue    *withdrawqueue.Queue

	// Feeds are keyed by token denom so operators and tests can push prices.
	Feeds   map[string]*protocol.StaticFeed
	Cellars []*cellar.Cellar
	Oracles map[common.Address]*oracle.SharePriceOracle // by cellar address

	shareExt      *pricerouter.ShareExtension
	pendingShares map[common.Address]common.Address // cellar -> oracle, share token not priced yet
	logger        zerolog.Logger
}

// Build constructs a world from d at the clock's current time.
func Build(d *config.Deployment, clock chain.Clock) (*World, error) {
	w := &World{
		World:         chain.NewWorld(clock),
		Owner:         config.ResolveAddress(d.Owner),
		Automation:    config.ResolveAddress(d.Automation),
		Feeds:         make(map[string]*protocol.StaticFeed),
		Oracles:       make(map[common.Address]*oracle.SharePriceOracle),
		pendingShares: make(map[common.Address]common.Address),
		logger:        logger.GetForComponent("bootstrap"),
	}

	if err := w.buildPricing(d); err != nil {
		return nil, err
	}
	if err := w.buildProtocols(d); err != nil {
		return nil, err
	}
	if err := w.buildRegistry(d); err != nil {
		return nil, err
	}
	if err := w.buildCellars(d); err != nil {
		return nil, err
	}
	if err := w.fundAccounts(d.Accounts); err != nil {
		return nil, err
	}

	w.logger.Info().
		Int("tokens", len(d.Tokens)).
		Int("positions", len(d.Positions)).
		Int("cellars", len(w.Cellars)).
		Msg("World built from deployment")
	return w, nil
}

func (w *World) buildPricing(d *config.Deployment) error {
	feeds := protocol.NewDirectory[pricerouter.Feed]()
	chainlink := pricerouter.NewChainlinkExtension(feeds, w.Clock)
	w.Router = pricerouter.NewRouter(w.Owner)
	w.Journal.Register(w.Router)

	for _, t := range d.Tokens {
		price, err := sdkmath.LegacyNewDecFromStr(t.USDPrice)
		if err != nil {
			return fmt.Errorf("token %s price: %w", t.Denom, err)
		}
		answer, err := utils.DecimalStringToSDKInt(t.USDPrice, feedDecimals)
		if err != nil {
			return fmt.Errorf("token %s feed answer: %w", t.Denom, err)
		}
		feed := protocol.NewStaticFeed(chain.NameToAddress(t.Denom+"-usd-feed"), feedDecimals, answer, w.Clock.Now())
		feeds.Register(feed.Address(), feed)
		w.Journal.Register(feed)
		w.Feeds[t.Denom] = feed

		settings, err := pricerouter.EncodeSettings(pricerouter.ChainlinkSettings{
			Feed:      feed.Address(),
			Heartbeat: uint64(t.Heartbeat / time.Second),
		})
		if err != nil {
			return err
		}
		token := types.Token{Denom: t.Denom, Symbol: t.Symbol, Decimals: t.Decimals}
		if err := w.Router.AddAsset(w.Owner, token, chainlink, settings, price); err != nil {
			return err
		}
	}

	w.shareExt = pricerouter.NewShareExtension(shareOracles{w})
	return nil
}

func (w *World) buildProtocols(d *config.Deployment) error {
	p := d.Protocols
	w.Market = protocol.NewLendingMarket(config.ResolveAddress(orName(p.LendingMarket, "lending-market")), w.Ledger)
	w.Pool = protocol.NewStakingPool(config.ResolveAddress(orName(p.StakingPool, "staking-pool")), w.Ledger, p.StakingReward)
	w.Swap = protocol.NewSwapRouter(config.ResolveAddress(orName(p.SwapRouter, "swap-router")), w.Ledger, w.Router, p.SwapFeeBps)
	w.Journal.Register(w.Market, w.Pool)

	for _, b := range p.SwapInventory {
		coin, err := parseCoin(b)
		if err != nil {
			return fmt.Errorf("swap inventory: %w", err)
		}
		if err := w.Ledger.Mint(w.Swap.Address(), coin); err != nil {
			return err
		}
	}

	// outside liquidity is supplied by a dedicated account so the market book stays balanced
	provider := chain.NameToAddress("lending-liquidity-provider")
	for _, b := range p.LendingLiquidity {
		coin, err := parseCoin(b)
		if err != nil {
			return fmt.Errorf("lending liquidity: %w", err)
		}
		if err := w.Ledger.Mint(provider, coin); err != nil {
			return err
		}
		if err := w.Ledger.Approve(provider, w.Market.Address(), coin.Denom, coin.Amount); err != nil {
			return err
		}
		if err := w.Market.Supply(provider, coin.Denom, coin.Amount); err != nil {
			return err
		}
	}

	w.Fees = fees.NewEngine(config.ResolveAddress(orName(d.Fees.Address, "fees-and-reserves")), w.Ledger, w.Clock, w.Automation, d.Fees.MinUpkeepInterval)
	w.Journal.Register(w.Fees)

	w.Queue = withdrawqueue.New(chain.NameToAddress(queueName), queueVaults{w}, w.Journal, w.Clock)
	w.Journal.Register(w.Queue)
	return nil
}

func (w *World) adaptors() []adaptor.Adaptor {
	return []adaptor.Adaptor{
		adaptor.NewERC20Adaptor(),
		adaptor.NewLendingAdaptor(w.Market),
		adaptor.NewLendingDebtAdaptor(w.Market),
		adaptor.NewStakingAdaptor(w.Pool),
		adaptor.NewSwapAdaptor(w.Swap),
		adaptor.NewCellarAdaptor(shareVaults{w}),
	}
}

var adaptorIDs = map[string]types.AdaptorID{
	"erc20":        adaptor.ERC20AdaptorID,
	"lending":      adaptor.LendingAdaptorID,
	"lending_debt": adaptor.LendingDebtAdaptorID,
	"staking":      adaptor.StakingAdaptorID,
	"cellar":       adaptor.CellarAdaptorID,
}

func (w *World) buildRegistry(d *config.Deployment) error {
	w.Registry = registry.New(w.Owner, w.Router)
	w.Journal.Register(w.Registry)
	for _, a := range w.adaptors() {
		if err := w.Registry.TrustAdaptor(w.Owner, a); err != nil {
			return err
		}
	}
	slots := map[uint32]common.Address{
		registry.SlotSwapRouter:      w.Swap.Address(),
		registry.SlotPriceRouter:     chain.NameToAddress("price-router"),
		registry.SlotFeesAndReserves: w.Fees.Address(),
		registry.SlotFeeCollector:    config.ResolveAddress(orName(d.FeeCollector, "fee-collector")),
	}
	for slot, addr := range slots {
		if err := w.Registry.SetAddress(w.Owner, slot, addr); err != nil {
			return err
		}
	}
	return nil
}

// trustReady trusts every pending position whose dependencies now exist. Cellar
// positions wait until the cellar they hold has been built.
func (w *World) trustReady(pending map[uint32]config.PositionConfig, built map[string]*cellar.Cellar) error {
	ids := make([]uint32, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p := pending[id]
		var data []byte
		if p.Adaptor == "cellar" {
			target, ok := built[p.Vault]
			if !ok {
				continue
			}
			data = adaptor.MustEncode(adaptor.VaultData{Vault: target.Address()})
		} else {
			data = adaptor.MustEncode(adaptor.TokenData{Denom: p.Denom})
		}
		isDebt := p.Adaptor == "lending_debt"
		if err := w.Registry.TrustPosition(w.Owner, types.PositionID(id), adaptorIDs[p.Adaptor], data, isDebt); err != nil {
			return fmt.Errorf("trust position %d: %w", id, err)
		}
		delete(pending, id)
	}
	return nil
}

func (w *World) buildCellars(d *config.Deployment) error {
	pending := make(map[uint32]config.PositionConfig, len(d.Positions))
	for _, p := range d.Positions {
		pending[p.ID] = p
	}
	built := make(map[string]*cellar.Cellar, len(d.Cellars))

	for _, cc := range d.Cellars {
		if err := w.trustReady(pending, built); err != nil {
			return err
		}
		c, err := w.buildCellar(cc)
		if err != nil {
			return fmt.Errorf("cellar %s: %w", cc.Name, err)
		}
		built[cc.Name] = c
	}
	if err := w.trustReady(pending, built); err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d positions reference cellars declared after their users", types.ErrConfiguration, len(pending))
	}
	return nil
}

func (w *World) buildCellar(cc config.CellarConfig) (*cellar.Cellar, error) {
	asset, err := w.Router.Token(cc.Asset)
	if err != nil {
		return nil, err
	}
	withdrawType, err := types.ParseWithdrawType(cc.WithdrawType)
	if err != nil {
		return nil, err
	}
	supplyCap := sdkmath.ZeroInt()
	if cc.ShareSupplyCap != "" {
		var ok bool
		if supplyCap, ok = sdkmath.NewIntFromString(cc.ShareSupplyCap); !ok {
			return nil, fmt.Errorf("%w: share_supply_cap %q", types.ErrInvalidInput, cc.ShareSupplyCap)
		}
	}
	owner := config.ResolveAddress(cc.Owner)
	var strategist, payout common.Address
	if cc.Strategist != "" {
		strategist = config.ResolveAddress(cc.Strategist)
	}
	if cc.StrategistPayout != "" {
		payout = config.ResolveAddress(cc.StrategistPayout)
	}

	c, err := cellar.New(cellar.Config{
		Address:                      chain.NameToAddress("cellar:" + cc.Name),
		Name:                         cc.Name,
		Symbol:                       cc.Symbol,
		ShareDenom:                   cc.ShareDenom,
		Asset:                        asset,
		Owner:                        owner,
		Strategist:                   strategist,
		StrategistPayout:             payout,
		WithdrawType:                 withdrawType,
		AllowedRebalanceDeviationBps: *cc.RebalanceDeviationBps,
		ShareSupplyCap:               supplyCap,
		PlatformFeeBps:               *cc.PlatformFeeBps,
		ManagementFeeBps:             *cc.ManagementFeeBps,
		PerformanceFeeBps:            *cc.PerformanceFeeBps,
	}, cellar.Deps{
		Ledger:   w.Ledger,
		Journal:  w.Journal,
		Clock:    w.Clock,
		Registry: w.Registry,
		Prices:   w.Router,
		Fees:     w.Fees,
	})
	if err != nil {
		return nil, err
	}
	w.Cellars = append(w.Cellars, c)

	for _, a := range w.adaptors() {
		if err := c.AddAdaptorToCatalogue(owner, a.Identifier()); err != nil {
			return nil, err
		}
	}
	for _, id := range cc.Positions {
		pid := types.PositionID(id)
		if err := c.AddPositionToCatalogue(owner, pid); err != nil {
			return nil, err
		}
		data, err := w.Registry.GetPositionData(pid)
		if err != nil {
			return nil, err
		}
		index := len(c.CreditPositions())
		if data.IsDebt {
			index = len(c.DebtPositions())
		}
		if err := c.AddPosition(owner, index, pid); err != nil {
			return nil, err
		}
	}
	if cc.HoldingPosition != 0 {
		if err := c.SetHoldingPosition(owner, types.PositionID(cc.HoldingPosition)); err != nil {
			return nil, err
		}
	}

	o, err := oracle.New(chain.NameToAddress("oracle:"+cc.Name), c, w.Clock, oracle.Config{
		Heartbeat:                   cc.Oracle.Heartbeat,
		DeviationTriggerBps:         cc.Oracle.DeviationTriggerBps,
		GracePeriod:                 cc.Oracle.GracePeriod,
		ObservationsToUse:           cc.Oracle.ObservationsToUse,
		AllowedAnswerChangeLowerBps: config.DefaultVaultParameters.OracleAnswerChangeLowerBps,
		AllowedAnswerChangeUpperBps: config.DefaultVaultParameters.OracleAnswerChangeUpperBps,
		Automation:                  w.Automation,
	})
	if err != nil {
		return nil, err
	}
	w.Journal.Register(o)
	w.Oracles[c.Address()] = o
	if cc.PriceShares {
		w.pendingShares[c.Address()] = o.Address()
	}

	w.logger.Info().
		Str("cellar", cc.Name).
		Str("address", c.Address().Hex()).
		Str("asset", asset.Denom).
		Int("credit_positions", len(c.CreditPositions())).
		Int("debt_positions", len(c.DebtPositions())).
		Msg("Cellar built")
	return c, nil
}

func (w *World) fundAccounts(accounts []config.AccountConfig) error {
	for _, a := range accounts {
		addr := config.ResolveAddress(a.Name)
		for _, b := range a.Balances {
			coin, err := parseCoin(b)
			if err != nil {
				return fmt.Errorf("account %s: %w", a.Name, err)
			}
			if err := w.Ledger.Mint(addr, coin); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListPricedShares registers share tokens with the price router once their oracle is
// safe to use. It returns the denoms listed by this call.
func (w *World) ListPricedShares() []string {
	var listed []string
	for vault, oracleAddr := range w.pendingShares {
		c, ok := w.Cellar(vault)
		if !ok {
			continue
		}
		if _, _, notSafe := w.Oracles[vault].GetLatest(); notSafe {
			continue
		}
		settings, err := pricerouter.EncodeSettings(pricerouter.ShareSettings{Oracle: oracleAddr})
		if err != nil {
			continue
		}
		if err := w.Router.AddAsset(w.Owner, c.ShareToken(), w.shareExt, settings, sdkmath.LegacyDec{}); err != nil {
			w.logger.Debug().Err(err).Str("cellar", c.Name()).Msg("Share token not priceable yet")
			continue
		}
		delete(w.pendingShares, vault)
		listed = append(listed, c.ShareToken().Denom)
	}
	sort.Strings(listed)
	return listed
}

// Cellar finds a cellar by address.
func (w *World) Cellar(addr common.Address) (*cellar.Cellar, bool) {
	for _, c := range w.Cellars {
		if c.Address() == addr {
			return c, true
		}
	}
	return nil, false
}

// CellarByName finds a cellar by its deployment name.
func (w *World) CellarByName(name string) (*cellar.Cellar, bool) {
	for _, c := range w.Cellars {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

func orName(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func parseCoin(b config.BalanceConfig) (sdktypes.Coin, error) {
	amount, ok := sdkmath.NewIntFromString(b.Amount)
	if !ok || amount.IsNegative() {
		return sdktypes.Coin{}, fmt.Errorf("%w: amount %q for %s", types.ErrInvalidInput, b.Amount, b.Denom)
	}
	return sdktypes.NewCoin(b.Denom, amount), nil
}
