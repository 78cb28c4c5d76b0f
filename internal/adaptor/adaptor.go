package adaptor

import (
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/types"
)

var (
	ErrInvalidAdaptorData   = fmt.Errorf("%w: invalid adaptor data", types.ErrConfiguration)
	ErrUnsupportedOperation = fmt.Errorf("%w: operation not supported by adaptor", types.ErrInvalidInput)
	ErrUserDepositsDisabled = fmt.Errorf("%w: position does not accept deposits", types.ErrConfiguration)
	ErrUserWithdrawDisabled = fmt.Errorf("%w: position does not allow withdrawals", types.ErrConfiguration)
	ErrNotAPosition         = fmt.Errorf("%w: adaptor does not back positions", types.ErrConfiguration)
	ErrUnknownVault         = fmt.Errorf("%w: unknown target vault", types.ErrConfiguration)
)

// VaultContext carries the identity adaptors act for. Adaptors read balances by the
// vault's address and move the vault's tokens, but never hold anything themselves.
type VaultContext struct {
	Vault  common.Address
	Ledger *chain.Ledger
	Clock  chain.Clock
}

// Adaptor translates generic vault operations into calls against one external protocol.
type Adaptor interface {
	Identifier() types.AdaptorID
	IsDebt() bool
	AssetOf(data []byte) (string, error)
	// BalanceOf is denominated in AssetOf units.
	BalanceOf(vc VaultContext, data []byte) (sdkmath.Int, error)
	// WithdrawableFrom is zero for positions that only a strategist can unwind.
	WithdrawableFrom(vc VaultContext, data []byte) (sdkmath.Int, error)
	Deposit(vc VaultContext, amount sdkmath.Int, data []byte) error
	Withdraw(vc VaultContext, amount sdkmath.Int, receiver common.Address, data []byte) error
	Execute(vc VaultContext, op types.AdaptorOp) error
}

// TokenData configures positions that are identified by a single denom.
type TokenData struct {
	Denom string
}

// VaultData configures a position in another cellar.
type VaultData struct {
	Vault common.Address
}

// AmountParams is the payload of single asset operations.
type AmountParams struct {
	Denom  string
	Amount *big.Int
}

// SwapParams is the payload of the swap operation.
type SwapParams struct {
	In     string
	Amount *big.Int
	Out    string
	MinOut *big.Int
}

// Encode RLP encodes adaptor data or operation params.
func Encode(v any) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

// MustEncode is Encode for values that cannot fail to encode, such as the structs above.
func MustEncode(v any) []byte {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(err)
	}
	return b
}

// NewOp builds an operation with RLP encoded params.
func NewOp(action string, params any) types.AdaptorOp {
	return types.AdaptorOp{Action: action, Params: MustEncode(params)}
}

func decode(data []byte, v any) error {
	if err := rlp.DecodeBytes(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAdaptorData, err)
	}
	return nil
}

func decodeToken(data []byte) (string, error) {
	var d TokenData
	if err := decode(data, &d); err != nil {
		return "", err
	}
	if d.Denom == "" {
		return "", fmt.Errorf("%w: empty denom", ErrInvalidAdaptorData)
	}
	return d.Denom, nil
}

func decodeAmount(params []byte) (string, sdkmath.Int, error) {
	var p AmountParams
	if err := decode(params, &p); err != nil {
		return "", sdkmath.ZeroInt(), err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return "", sdkmath.ZeroInt(), fmt.Errorf("%w: amount must be positive", types.ErrInvalidInput)
	}
	return p.Denom, sdkmath.NewIntFromBigInt(p.Amount), nil
}

// withApproval grants spender exactly amount for the duration of fn and always revokes it.
func withApproval(vc VaultContext, spender common.Address, denom string, amount sdkmath.Int, fn func() error) error {
	if err := vc.Ledger.Approve(vc.Vault, spender, denom, amount); err != nil {
		return err
	}
	defer func() { _ = vc.Ledger.Approve(vc.Vault, spender, denom, sdkmath.ZeroInt()) }()
	return fn()
}

func unsupported(id string, action string) error {
	return fmt.Errorf("%w: %s does not implement %q", ErrUnsupportedOperation, id, action)
}
