/*

This is a custom type for tokens which carries everything the engine needs to value and move an asset.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
)

type Token struct {
	Denom    string `json:"denom"`    // e.g., "uusdc", also the ledger denom
	Symbol   string `json:"symbol"`   // e.g., "USDC"
	Decimals uint32 `json:"decimals"` // e.g., 6 means 1_000_000 base units = 1 token
}

// One returns one whole token expressed in base units.
func (t Token) One() sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, int(t.Decimals))
}

// Coin wraps an amount of this token into a coin.
func (t Token) Coin(amount sdkmath.Int) sdktypes.Coin {
	return sdktypes.Coin{Denom: t.Denom, Amount: amount}
}
