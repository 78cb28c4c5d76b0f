package pricerouter

import (
	"fmt"
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/types"
)

// Extension is one valuation strategy. SetupSource must refuse when an asset it
// depends on is not yet supported by the router.
type Extension interface {
	SetupSource(r *Router, token types.Token, settings []byte) error
	PriceInUSD(token types.Token) (sdkmath.LegacyDec, error)
}

// Resolver finds the in-world collaborator deployed at addr.
type Resolver[T any] interface {
	Resolve(addr common.Address) (T, bool)
}

// EncodeSettings RLP encodes any of the settings structs below.
func EncodeSettings(v any) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

func decodeSettings(settings []byte, v any) error {
	if err := rlp.DecodeBytes(settings, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

// Feed is a round based price feed in the style of Chainlink aggregators.
type Feed interface {
	LatestRoundData() (answer sdkmath.Int, updatedAt time.Time, err error)
	Decimals() uint32
}

// DefaultHeartbeat applies when a feed is added without one.
const DefaultHeartbeat = 24 * time.Hour

type ChainlinkSettings struct {
	Feed      common.Address
	Heartbeat uint64   // seconds, 0 means DefaultHeartbeat
	Min       *big.Int // feed units, 0 means 1
	Max       *big.Int // feed units, 0 means unbounded
	InETH     bool     // answer is quoted in the numeraire instead of USD
}

type chainlinkSource struct {
	feed      Feed
	heartbeat time.Duration
	min       sdkmath.Int
	max       sdkmath.Int
	inETH     bool
}

// ChainlinkExtension prices assets with a direct feed, optionally quoted through the ETH numeraire.
type ChainlinkExtension struct {
	router  *Router
	feeds   Resolver[Feed]
	clock   chain.Clock
	sources map[string]chainlinkSource
}

func NewChainlinkExtension(feeds Resolver[Feed], clock chain.Clock) *ChainlinkExtension {
	return &ChainlinkExtension{feeds: feeds, clock: clock, sources: make(map[string]chainlinkSource)}
}

func (e *ChainlinkExtension) SetupSource(r *Router, token types.Token, settings []byte) error {
	var s ChainlinkSettings
	if err := decodeSettings(settings, &s); err != nil {
		return err
	}
	feed, ok := e.feeds.Resolve(s.Feed)
	if !ok {
		return fmt.Errorf("%w: no feed at %s", ErrInvalidSettings, s.Feed.Hex())
	}
	src := chainlinkSource{
		feed:      feed,
		heartbeat: DefaultHeartbeat,
		min:       sdkmath.OneInt(),
		max:       sdkmath.ZeroInt(),
		inETH:     s.InETH,
	}
	if s.Heartbeat > 0 {
		src.heartbeat = time.Duration(s.Heartbeat) * time.Second
	}
	if s.Min != nil && s.Min.Sign() > 0 {
		src.min = sdkmath.NewIntFromBigInt(s.Min)
	}
	if s.Max != nil && s.Max.Sign() > 0 {
		src.max = sdkmath.NewIntFromBigInt(s.Max)
		if src.max.LTE(src.min) {
			return fmt.Errorf("%w: max %s not above min %s", ErrInvalidSettings, src.max, src.min)
		}
	}
	if s.InETH && !r.IsSupported(r.Numeraire()) {
		return fmt.Errorf("%w: %s needs %s", ErrUnsupportedDependent, token.Denom, r.Numeraire())
	}
	e.router = r
	e.sources[token.Denom] = src
	return nil
}

func (e *ChainlinkExtension) PriceInUSD(token types.Token) (sdkmath.LegacyDec, error) {
	src, ok := e.sources[token.Denom]
	if !ok {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: no feed for %s", ErrUnsupportedAsset, token.Denom)
	}
	answer, updatedAt, err := src.feed.LatestRoundData()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if !answer.IsPositive() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s answered %s", ErrNonPositivePrice, token.Denom, answer)
	}
	if age := e.clock.Now().Sub(updatedAt); age > src.heartbeat {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s answer is %s old", ErrStalePrice, token.Denom, age)
	}
	if answer.LT(src.min) || (src.max.IsPositive() && answer.GT(src.max)) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s answered %s", ErrPriceOutOfBounds, token.Denom, answer)
	}

	price := sdkmath.LegacyNewDecFromIntWithPrec(answer, int64(src.feed.Decimals()))
	if src.inETH {
		ethPrice, err := e.router.PriceInUSD(e.router.Numeraire())
		if err != nil {
			return sdkmath.LegacyZeroDec(), err
		}
		price = price.Mul(ethPrice)
	}
	return price, nil
}

// RateProvider reports how much underlying one wrapped token redeems for.
type RateProvider interface {
	Rate() (sdkmath.LegacyDec, error)
}

type RateSettings struct {
	Provider   common.Address
	Underlying string
}

type rateSource struct {
	provider   RateProvider
	underlying string
}

// RateExtension prices wrapped assets as rate * price(underlying).
type RateExtension struct {
	router    *Router
	providers Resolver[RateProvider]
	sources   map[string]rateSource
}

func NewRateExtension(providers Resolver[RateProvider]) *RateExtension {
	return &RateExtension{providers: providers, sources: make(map[string]rateSource)}
}

func (e *RateExtension) SetupSource(r *Router, token types.Token, settings []byte) error {
	var s RateSettings
	if err := decodeSettings(settings, &s); err != nil {
		return err
	}
	provider, ok := e.providers.Resolve(s.Provider)
	if !ok {
		return fmt.Errorf("%w: no rate provider at %s", ErrInvalidSettings, s.Provider.Hex())
	}
	if !r.IsSupported(s.Underlying) {
		return fmt.Errorf("%w: %s needs %s", ErrUnsupportedDependent, token.Denom, s.Underlying)
	}
	e.router = r
	e.sources[token.Denom] = rateSource{provider: provider, underlying: s.Underlying}
	return nil
}

func (e *RateExtension) PriceInUSD(token types.Token) (sdkmath.LegacyDec, error) {
	src, ok := e.sources[token.Denom]
	if !ok {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: no rate source for %s", ErrUnsupportedAsset, token.Denom)
	}
	rate, err := src.provider.Rate()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if !rate.IsPositive() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s rate %s", ErrNonPositivePrice, token.Denom, rate)
	}
	underlying, err := e.router.PriceInUSD(src.underlying)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return rate.Mul(underlying), nil
}

// Pool is an AMM pool whose LP token is priced from its virtual price.
type Pool interface {
	VirtualPrice() (sdkmath.LegacyDec, error)
	ReentrancyLocked() bool
}

type PoolSettings struct {
	Pool       common.Address
	Underlying string
}

type poolSource struct {
	pool       Pool
	underlying string
}

// PoolExtension prices LP tokens and refuses to quote while the pool is mid call.
type PoolExtension struct {
	router  *Router
	pools   Resolver[Pool]
	sources map[string]poolSource
}

func NewPoolExtension(pools Resolver[Pool]) *PoolExtension {
	return &PoolExtension{pools: pools, sources: make(map[string]poolSource)}
}

func (e *PoolExtension) SetupSource(r *Router, token types.Token, settings []byte) error {
	var s PoolSettings
	if err := decodeSettings(settings, &s); err != nil {
		return err
	}
	pool, ok := e.pools.Resolve(s.Pool)
	if !ok {
		return fmt.Errorf("%w: no pool at %s", ErrInvalidSettings, s.Pool.Hex())
	}
	if !r.IsSupported(s.Underlying) {
		return fmt.Errorf("%w: %s needs %s", ErrUnsupportedDependent, token.Denom, s.Underlying)
	}
	e.router = r
	e.sources[token.Denom] = poolSource{pool: pool, underlying: s.Underlying}
	return nil
}

func (e *PoolExtension) PriceInUSD(token types.Token) (sdkmath.LegacyDec, error) {
	src, ok := e.sources[token.Denom]
	if !ok {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: no pool for %s", ErrUnsupportedAsset, token.Denom)
	}
	// A pool that is mid call can report a virtual price that does not match its balances.
	if src.pool.ReentrancyLocked() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s", ErrReadOnlyReentrancy, token.Denom)
	}
	vp, err := src.pool.VirtualPrice()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	underlying, err := e.router.PriceInUSD(src.underlying)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return vp.Mul(underlying), nil
}

// ShareOracle is the read side of a share price oracle.
type ShareOracle interface {
	GetLatest() (answer, twaa sdkmath.Int, notSafeToUse bool)
	Decimals() uint32
	Asset() string
}

type ShareSettings struct {
	Oracle common.Address
}

// ShareExtension prices nested cellar shares from the time weighted oracle answer.
type ShareExtension struct {
	router  *Router
	oracles Resolver[ShareOracle]
	sources map[string]ShareOracle
}

func NewShareExtension(oracles Resolver[ShareOracle]) *ShareExtension {
	return &ShareExtension{oracles: oracles, sources: make(map[string]ShareOracle)}
}

func (e *ShareExtension) SetupSource(r *Router, token types.Token, settings []byte) error {
	var s ShareSettings
	if err := decodeSettings(settings, &s); err != nil {
		return err
	}
	oracle, ok := e.oracles.Resolve(s.Oracle)
	if !ok {
		return fmt.Errorf("%w: no share oracle at %s", ErrInvalidSettings, s.Oracle.Hex())
	}
	if !r.IsSupported(oracle.Asset()) {
		return fmt.Errorf("%w: %s needs %s", ErrUnsupportedDependent, token.Denom, oracle.Asset())
	}
	if oracle.Decimals() != token.Decimals {
		return fmt.Errorf("%w: oracle decimals %d, token decimals %d", ErrInvalidSettings, oracle.Decimals(), token.Decimals)
	}
	e.router = r
	e.sources[token.Denom] = oracle
	return nil
}

func (e *ShareExtension) PriceInUSD(token types.Token) (sdkmath.LegacyDec, error) {
	oracle, ok := e.sources[token.Denom]
	if !ok {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: no share oracle for %s", ErrUnsupportedAsset, token.Denom)
	}
	_, twaa, notSafe := oracle.GetLatest()
	if notSafe {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s", ErrOracleNotSafe, token.Denom)
	}
	underlying, err := e.router.PriceInUSD(oracle.Asset())
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	assetToken, err := e.router.Token(oracle.Asset())
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	perShare := sdkmath.LegacyNewDecFromIntWithPrec(twaa, int64(assetToken.Decimals))
	return perShare.Mul(underlying), nil
}
