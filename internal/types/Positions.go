/*

This file contains the types for positions, adaptor calls and the receipts produced while rebalancing a cellar.

*/

package types

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// PositionID identifies a trusted position in the registry.
type PositionID uint32

// IdlePosition is reserved. In rebalance calls it stands for the cellar's idle holding balance.
const IdlePosition PositionID = 0

// MaxPositions bounds both the credit and the debt position lists of a cellar.
const MaxPositions = 32

// AdaptorID is the keccak256 hash of an adaptor's human readable identifier.
type AdaptorID common.Hash

func NewAdaptorID(name string) AdaptorID {
	return AdaptorID(crypto.Keccak256Hash([]byte(name)))
}

func (id AdaptorID) String() string {
	return common.Hash(id).Hex()
}

// PositionData is what the registry binds to a trusted position.
type PositionData struct {
	IsDebt      bool      `json:"is_debt"`
	Adaptor     AdaptorID `json:"adaptor"`
	AdaptorData []byte    `json:"adaptor_data"` // RLP encoded, interpreted only by the adaptor
}

// WithdrawType controls how a cellar sources liquidity for withdrawals.
type WithdrawType uint8

const (
	WithdrawOrderly      WithdrawType = iota // drain positions in catalogue order
	WithdrawProportional                     // pro-rata across liquid positions
)

func (w WithdrawType) String() string {
	switch w {
	case WithdrawOrderly:
		return "ORDERLY"
	case WithdrawProportional:
		return "PROPORTIONAL"
	default:
		return fmt.Sprintf("WithdrawType(%d)", uint8(w))
	}
}

// ParseWithdrawType accepts the names used in deployment files.
func ParseWithdrawType(s string) (WithdrawType, error) {
	switch s {
	case "", "orderly", "ORDERLY":
		return WithdrawOrderly, nil
	case "proportional", "PROPORTIONAL":
		return WithdrawProportional, nil
	}
	return 0, fmt.Errorf("%w: unknown withdraw type %q", ErrInvalidInput, s)
}

// AdaptorOp is one protocol specific operation run in the cellar's context.
type AdaptorOp struct {
	Action string `json:"action"` // e.g., "supply", "borrow", "swap"
	Params []byte `json:"params"` // RLP encoded, shape depends on Action
}

// AdaptorCall groups the operations a strategist runs against one adaptor.
type AdaptorCall struct {
	Adaptor AdaptorID   `json:"adaptor"`
	Ops     []AdaptorOp `json:"ops"`
}

// RebalanceReceipt records the outcome of a strategist rebalance.
type RebalanceReceipt struct {
	ID                uuid.UUID      `json:"id"`
	Vault             common.Address `json:"vault"`
	From              PositionID     `json:"from"`
	To                PositionID     `json:"to"`
	Requested         sdkmath.Int    `json:"requested"`
	Actual            sdkmath.Int    `json:"actual"`              // amount that landed in the destination
	TotalAssetsBefore sdkmath.Int    `json:"total_assets_before"` // NAV snapshot taken before any adaptor ran
	TotalAssetsAfter  sdkmath.Int    `json:"total_assets_after"`
	Timestamp         time.Time      `json:"timestamp"`
}

// PositionBalance is a point in time view of one cellar position.
type PositionBalance struct {
	ID           PositionID  `json:"id"`
	Asset        string      `json:"asset"`
	IsDebt       bool        `json:"is_debt"`
	Balance      sdkmath.Int `json:"balance"`      // in the position asset's base units
	Withdrawable sdkmath.Int `json:"withdrawable"` // zero for debt and illiquid positions
	Value        sdkmath.Int `json:"value"`        // in holding asset units
}
