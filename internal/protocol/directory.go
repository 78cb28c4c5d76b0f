/*

In-world stand-ins for the external protocols a cellar allocates into. They keep the
accounting a real protocol would (balances, liquidity, debt, locks) and settle every
token movement through the shared ledger.

*/

package protocol

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/types"
)

var (
	ErrInsufficientSupply    = fmt.Errorf("%w: withdraw exceeds supplied balance", types.ErrInvalidInput)
	ErrInsufficientLiquidity = fmt.Errorf("%w: protocol liquidity exhausted", types.ErrLiquidity)
	ErrRepayExceedsDebt      = fmt.Errorf("%w: repay exceeds debt", types.ErrInvalidInput)
	ErrSwapSlippage          = fmt.Errorf("%w: swap output below minimum", types.ErrSlippage)
	ErrNonPositiveAmount     = fmt.Errorf("%w: amount must be positive", types.ErrInvalidInput)
)

// Directory maps deployed addresses to collaborators of one kind.
type Directory[T any] struct {
	entries map[common.Address]T
}

func NewDirectory[T any]() *Directory[T] {
	return &Directory[T]{entries: make(map[common.Address]T)}
}

func (d *Directory[T]) Register(addr common.Address, v T) {
	d.entries[addr] = v
}

func (d *Directory[T]) Resolve(addr common.Address) (T, bool) {
	v, ok := d.entries[addr]
	return v, ok
}

func (d *Directory[T]) Len() int { return len(d.entries) }

// book tracks per denom, per account amounts owed by a protocol.
type book map[string]map[common.Address]sdkmath.Int

func (b book) get(denom string, addr common.Address) sdkmath.Int {
	if v, ok := b[denom][addr]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

func (b book) set(denom string, addr common.Address, v sdkmath.Int) {
	if v.IsZero() {
		delete(b[denom], addr)
		return
	}
	if b[denom] == nil {
		b[denom] = make(map[common.Address]sdkmath.Int)
	}
	b[denom][addr] = v
}

func (b book) clone() book {
	dst := make(book, len(b))
	for denom, accounts := range b {
		inner := make(map[common.Address]sdkmath.Int, len(accounts))
		for k, v := range accounts {
			inner[k] = v
		}
		dst[denom] = inner
	}
	return dst
}
