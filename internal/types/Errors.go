/*

Error kinds shared by every engine package. Concrete errors wrap exactly one kind so callers
can branch with errors.Is, and the API can report a stable code per kind.

*/

package types

import "errors"

var (
	ErrConfiguration = errors.New("configuration error")  // untrusted position or adaptor, unsupported asset
	ErrLiquidity     = errors.New("liquidity error")      // not enough withdrawable balance
	ErrStaleness     = errors.New("stale or unsafe price") // heartbeat exceeded, bad answer, pool reentrancy lock
	ErrSlippage      = errors.New("slippage error")
	ErrExpiry        = errors.New("expired")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid input")
	ErrReentrancy    = errors.New("reentrant call")
	ErrShutdown      = errors.New("vault halted")
)

var errorKinds = []struct {
	kind error
	code string
}{
	{ErrConfiguration, "CONFIGURATION"},
	{ErrLiquidity, "LIQUIDITY"},
	{ErrStaleness, "STALENESS"},
	{ErrSlippage, "SLIPPAGE"},
	{ErrExpiry, "EXPIRY"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrInvalidInput, "INVALID_INPUT"},
	{ErrReentrancy, "REENTRANCY"},
	{ErrShutdown, "SHUTDOWN"},
}

// ErrorKind maps an error to the code of the first kind it wraps, or "INTERNAL".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			return k.code
		}
	}
	return "INTERNAL"
}
