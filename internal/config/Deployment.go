package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/chain"
)

// Deployment describes a whole world: priced tokens, the protocols adaptors talk to,
// the registry's trusted positions and the cellars built on top.
type Deployment struct {
	Owner        string `toml:"owner"`
	Automation   string `toml:"automation"`
	FeeCollector string `toml:"fee_collector"`

	Tokens    []TokenConfig    `toml:"tokens"`
	Protocols ProtocolsConfig  `toml:"protocols"`
	Fees      FeesConfig       `toml:"fees"`
	Positions []PositionConfig `toml:"positions"`
	Cellars   []CellarConfig   `toml:"cellars"`
	Accounts  []AccountConfig  `toml:"accounts"`
}

type TokenConfig struct {
	Denom     string        `toml:"denom"`
	Symbol    string        `toml:"symbol"`
	Decimals  uint32        `toml:"decimals"`
	USDPrice  string        `toml:"usd_price"` // decimal, seeds the token's feed
	Heartbeat time.Duration `toml:"heartbeat"`
}

type ProtocolsConfig struct {
	LendingMarket    string          `toml:"lending_market"`
	StakingPool      string          `toml:"staking_pool"`
	StakingReward    string          `toml:"staking_reward_denom"`
	SwapRouter       string          `toml:"swap_router"`
	SwapFeeBps       uint32          `toml:"swap_fee_bps"`
	SwapInventory    []BalanceConfig `toml:"swap_inventory"`
	LendingLiquidity []BalanceConfig `toml:"lending_liquidity"`
}

type BalanceConfig struct {
	Denom  string `toml:"denom"`
	Amount string `toml:"amount"` // base units
}

type FeesConfig struct {
	Address           string        `toml:"address"`
	MinUpkeepInterval time.Duration `toml:"min_upkeep_interval"`
}

// PositionConfig trusts one position in the registry. Adaptor is one of erc20, lending,
// lending_debt, staking or cellar; Vault names the cellar a cellar position holds.
type PositionConfig struct {
	ID      uint32 `toml:"id"`
	Adaptor string `toml:"adaptor"`
	Denom   string `toml:"denom"`
	Vault   string `toml:"vault"`
}

type CellarConfig struct {
	Name             string   `toml:"name"`
	Symbol           string   `toml:"symbol"`
	ShareDenom       string   `toml:"share_denom"`
	Asset            string   `toml:"asset"`
	Owner            string   `toml:"owner"`
	Strategist       string   `toml:"strategist"`
	StrategistPayout string   `toml:"strategist_payout"`
	WithdrawType     string   `toml:"withdraw_type"`
	ShareSupplyCap   string   `toml:"share_supply_cap"`
	Positions        []uint32 `toml:"positions"`
	HoldingPosition  uint32   `toml:"holding_position"`
	PriceShares      bool     `toml:"price_shares"` // register the share token with the price router

	RebalanceDeviationBps *uint32 `toml:"rebalance_deviation_bps"`
	PlatformFeeBps        *uint32 `toml:"platform_fee_bps"`
	ManagementFeeBps      *uint32 `toml:"management_fee_bps"`
	PerformanceFeeBps     *uint32 `toml:"performance_fee_bps"`

	Oracle OracleConfig `toml:"oracle"`
}

type OracleConfig struct {
	Heartbeat           time.Duration `toml:"heartbeat"`
	DeviationTriggerBps uint32        `toml:"deviation_trigger_bps"`
	GracePeriod         time.Duration `toml:"grace_period"`
	ObservationsToUse   int           `toml:"observations_to_use"`
}

// AccountConfig seeds a named account with tokens, handy for demo deployments.
type AccountConfig struct {
	Name     string          `toml:"name"`
	Balances []BalanceConfig `toml:"balances"`
}

// LoadDeployment decodes path and fills omitted values from DefaultVaultParameters.
func LoadDeployment(path string) (*Deployment, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("deployment file %s: %w", path, err)
	}
	d := &Deployment{}
	meta, err := toml.DecodeFile(path, d)
	if err != nil {
		return nil, fmt.Errorf("failed to decode deployment %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("deployment %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	d.applyDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Deployment) applyDefaults() {
	p := DefaultVaultParameters
	if d.Automation == "" {
		d.Automation = KeeperName
	}
	if d.Automation == "" {
		d.Automation = defaultKeeperName
	}
	if d.Protocols.StakingReward == "" {
		d.Protocols.StakingReward = "ureward"
	}
	if d.Fees.MinUpkeepInterval == 0 {
		d.Fees.MinUpkeepInterval = p.FeesMinUpkeepInterval
	}
	for i := range d.Tokens {
		if d.Tokens[i].Heartbeat == 0 {
			d.Tokens[i].Heartbeat = p.FeedHeartbeat
		}
	}
	for i := range d.Cellars {
		c := &d.Cellars[i]
		if c.Owner == "" {
			c.Owner = d.Owner
		}
		if c.WithdrawType == "" {
			c.WithdrawType = "orderly"
		}
		c.RebalanceDeviationBps = orDefault(c.RebalanceDeviationBps, p.RebalanceDeviationBps)
		c.PlatformFeeBps = orDefault(c.PlatformFeeBps, p.PlatformFeeBps)
		c.ManagementFeeBps = orDefault(c.ManagementFeeBps, p.ManagementFeeBps)
		c.PerformanceFeeBps = orDefault(c.PerformanceFeeBps, p.PerformanceFeeBps)
		if c.Oracle.Heartbeat == 0 {
			c.Oracle.Heartbeat = p.OracleHeartbeat
		}
		if c.Oracle.DeviationTriggerBps == 0 {
			c.Oracle.DeviationTriggerBps = p.OracleDeviationTriggerBps
		}
		if c.Oracle.GracePeriod == 0 {
			c.Oracle.GracePeriod = p.OracleGracePeriod
		}
		if c.Oracle.ObservationsToUse == 0 {
			c.Oracle.ObservationsToUse = p.OracleObservationsToUse
		}
	}
}

func orDefault(v *uint32, fallback uint32) *uint32 {
	if v != nil {
		return v
	}
	return &fallback
}

// Validate checks references between sections. Economic limits are enforced later by
// the components themselves.
func (d *Deployment) Validate() error {
	var errs []error
	if d.Owner == "" {
		errs = append(errs, errors.New("owner is required"))
	}
	tokens := make(map[string]bool, len(d.Tokens))
	for _, t := range d.Tokens {
		if t.Denom == "" || tokens[t.Denom] {
			errs = append(errs, fmt.Errorf("token %q is empty or declared twice", t.Denom))
		}
		tokens[t.Denom] = true
		if _, err := sdkmath.LegacyNewDecFromStr(t.USDPrice); err != nil {
			errs = append(errs, fmt.Errorf("token %s usd_price: %w", t.Denom, err))
		}
	}
	cellars := make(map[string]bool, len(d.Cellars))
	for _, c := range d.Cellars {
		cellars[c.Name] = true
	}
	positions := make(map[uint32]bool, len(d.Positions))
	for _, p := range d.Positions {
		if p.ID == 0 || positions[p.ID] {
			errs = append(errs, fmt.Errorf("position id %d is reserved or declared twice", p.ID))
		}
		positions[p.ID] = true
		switch p.Adaptor {
		case "erc20", "lending", "lending_debt", "staking":
			if !tokens[p.Denom] {
				errs = append(errs, fmt.Errorf("position %d uses undeclared token %q", p.ID, p.Denom))
			}
		case "cellar":
			if !cellars[p.Vault] {
				errs = append(errs, fmt.Errorf("position %d holds undeclared cellar %q", p.ID, p.Vault))
			}
		default:
			errs = append(errs, fmt.Errorf("position %d has unknown adaptor %q", p.ID, p.Adaptor))
		}
	}
	for _, c := range d.Cellars {
		if c.Name == "" || c.ShareDenom == "" {
			errs = append(errs, errors.New("cellar name and share_denom are required"))
		}
		if !tokens[c.Asset] {
			errs = append(errs, fmt.Errorf("cellar %s uses undeclared asset %q", c.Name, c.Asset))
		}
		for _, id := range c.Positions {
			if !positions[id] {
				errs = append(errs, fmt.Errorf("cellar %s uses undeclared position %d", c.Name, id))
			}
		}
		if c.HoldingPosition != 0 && !positions[c.HoldingPosition] {
			errs = append(errs, fmt.Errorf("cellar %s holding position %d is undeclared", c.Name, c.HoldingPosition))
		}
	}
	return errors.Join(errs...)
}

// ResolveAddress accepts either a 0x address or a name that is hashed into one.
func ResolveAddress(nameOrHex string) common.Address {
	if common.IsHexAddress(nameOrHex) {
		return common.HexToAddress(nameOrHex)
	}
	return chain.NameToAddress(nameOrHex)
}
