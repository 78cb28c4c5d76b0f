package pricerouter

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/cellar/internal/logger"
	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/utils"
)

var (
	ErrUnsupportedAsset     = fmt.Errorf("%w: asset not supported by price router", types.ErrConfiguration)
	ErrUnsupportedDependent = fmt.Errorf("%w: pricing dependency not supported", types.ErrConfiguration)
	ErrInvalidSettings      = fmt.Errorf("%w: invalid extension settings", types.ErrConfiguration)
	ErrAnswerMismatch       = fmt.Errorf("%w: live answer deviates from expected answer", types.ErrConfiguration)
	ErrNotOwner             = fmt.Errorf("%w: caller is not the price router owner", types.ErrUnauthorized)

	ErrStalePrice         = fmt.Errorf("%w: price older than heartbeat", types.ErrStaleness)
	ErrNonPositivePrice   = fmt.Errorf("%w: non-positive price", types.ErrStaleness)
	ErrPriceOutOfBounds   = fmt.Errorf("%w: price outside configured bounds", types.ErrStaleness)
	ErrReadOnlyReentrancy = fmt.Errorf("%w: pool reentrancy lock is held", types.ErrStaleness)
	ErrOracleNotSafe      = fmt.Errorf("%w: share price oracle not safe to use", types.ErrStaleness)
)

// DefaultNumeraire is the asset ETH denominated feeds are converted through.
const DefaultNumeraire = "weth"

// expectedAnswerTolerance is the allowed distance, in percent, between the live and the expected answer at add time.
const expectedAnswerTolerance = 1

type assetEntry struct {
	token     types.Token
	extension Extension
}

// Router resolves the USD value of every supported asset through exactly one extension.
type Router struct {
	owner     common.Address
	numeraire string
	assets    map[string]assetEntry
	logger    zerolog.Logger
}

func NewRouter(owner common.Address) *Router {
	return &Router{
		owner:     owner,
		numeraire: DefaultNumeraire,
		assets:    make(map[string]assetEntry),
		logger:    logger.GetForComponent("price_router"),
	}
}

// Numeraire is the denom used to convert ETH quoted feeds into USD.
func (r *Router) Numeraire() string { return r.numeraire }

// AddAsset binds token to ext. The extension validates settings and its own dependencies,
// then the router prices the asset once and, when expectedAnswer is non-zero, requires the
// live USD price to be within 1% of it. Re-adding an asset replaces its extension.
func (r *Router) AddAsset(caller common.Address, token types.Token, ext Extension, settings []byte, expectedAnswer sdkmath.LegacyDec) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	if ext == nil {
		return fmt.Errorf("%w: nil extension for %s", ErrInvalidSettings, token.Denom)
	}
	if token.Decimals > 18 {
		return fmt.Errorf("%w: %s has %d decimals", ErrInvalidSettings, token.Denom, token.Decimals)
	}
	if err := ext.SetupSource(r, token, settings); err != nil {
		return fmt.Errorf("setup source for %s: %w", token.Denom, err)
	}

	price, err := ext.PriceInUSD(token)
	if err != nil {
		return fmt.Errorf("price %s after setup: %w", token.Denom, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: %s priced at %s", ErrNonPositivePrice, token.Denom, price)
	}
	if !expectedAnswer.IsNil() && !expectedAnswer.IsZero() {
		diff := price.Sub(expectedAnswer).Abs()
		if diff.MulInt64(100).GT(expectedAnswer.MulInt64(expectedAnswerTolerance)) {
			return fmt.Errorf("%w: %s live %s expected %s", ErrAnswerMismatch, token.Denom, price, expectedAnswer)
		}
	}

	r.assets[token.Denom] = assetEntry{token: token, extension: ext}
	r.logger.Info().
		Str("denom", token.Denom).
		Str("extension", fmt.Sprintf("%T", ext)).
		Str("price_usd", price.String()).
		Msg("Asset added to price router")
	return nil
}

func (r *Router) RemoveAsset(caller common.Address, denom string) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	if _, ok := r.assets[denom]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, denom)
	}
	delete(r.assets, denom)
	r.logger.Info().Str("denom", denom).Msg("Asset removed from price router")
	return nil
}

func (r *Router) IsSupported(denom string) bool {
	_, ok := r.assets[denom]
	return ok
}

// Token returns the metadata an asset was added with.
func (r *Router) Token(denom string) (types.Token, error) {
	entry, ok := r.assets[denom]
	if !ok {
		return types.Token{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, denom)
	}
	return entry.token, nil
}

// PriceInUSD returns the USD price of one whole token with 18 decimals of precision.
func (r *Router) PriceInUSD(denom string) (sdkmath.LegacyDec, error) {
	entry, ok := r.assets[denom]
	if !ok {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s", ErrUnsupportedAsset, denom)
	}
	price, err := entry.extension.PriceInUSD(entry.token)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("price %s: %w", denom, err)
	}
	if !price.IsPositive() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s priced at %s", ErrNonPositivePrice, denom, price)
	}
	return price, nil
}

// GetValue converts amount of base into quote native units, rounding down.
func (r *Router) GetValue(base string, amount sdkmath.Int, quote string) (sdkmath.Int, error) {
	if amount.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	if base == quote {
		return amount, nil
	}
	baseToken, basePrice, err := r.priceOf(base)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	quoteToken, quotePrice, err := r.priceOf(quote)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	// amount * pBase * 10^qDec / (pQuote * 10^bDec), both prices share the 1e18 scale
	num := amount.Mul(sdkmath.NewIntFromBigInt(basePrice.BigInt())).Mul(utils.Pow10(quoteToken.Decimals))
	den := sdkmath.NewIntFromBigInt(quotePrice.BigInt()).Mul(utils.Pow10(baseToken.Decimals))
	return num.Quo(den), nil
}

// GetValues sums the quote value of several base amounts.
func (r *Router) GetValues(bases []string, amounts []sdkmath.Int, quote string) (sdkmath.Int, error) {
	if len(bases) != len(amounts) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d bases, %d amounts", types.ErrInvalidInput, len(bases), len(amounts))
	}
	total := sdkmath.ZeroInt()
	for i, base := range bases {
		v, err := r.GetValue(base, amounts[i], quote)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		total = total.Add(v)
	}
	return total, nil
}

// GetExchangeRate returns how many quote base units one whole base token is worth.
func (r *Router) GetExchangeRate(base, quote string) (sdkmath.Int, error) {
	token, err := r.Token(base)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return r.GetValue(base, token.One(), quote)
}

func (r *Router) priceOf(denom string) (types.Token, sdkmath.LegacyDec, error) {
	token, err := r.Token(denom)
	if err != nil {
		return types.Token{}, sdkmath.LegacyDec{}, err
	}
	price, err := r.PriceInUSD(denom)
	if err != nil {
		return types.Token{}, sdkmath.LegacyDec{}, err
	}
	return token, price, nil
}

// Snapshot implements chain.Journaled.
func (r *Router) Snapshot() any {
	cp := make(map[string]assetEntry, len(r.assets))
	for k, v := range r.assets {
		cp[k] = v
	}
	return cp
}

func (r *Router) Restore(snapshot any) {
	r.assets = snapshot.(map[string]assetEntry)
}
