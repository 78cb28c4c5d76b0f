/*

This file contains the fee bookkeeping types owned by the fees and reserves engine.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// FeeMetaData is the per vault accrual state.
type FeeMetaData struct {
	ReserveAsset       string      `json:"reserve_asset"`
	ManagementFeeBps   uint32      `json:"management_fee_bps"`
	PerformanceFeeBps  uint32      `json:"performance_fee_bps"`
	Timestamp          time.Time   `json:"timestamp"`            // last accrual
	Reserves           sdkmath.Int `json:"reserves"`             // reserve asset held for the vault
	ExactHighWatermark sdkmath.Int `json:"exact_high_watermark"` // share price scaled by 1e27, never decreases
	TotalAssets        sdkmath.Int `json:"total_assets"`         // NAV seen at the last accrual
	FeesOwed           sdkmath.Int `json:"fees_owed"`            // reserve asset units, only grows until collected
}

// FeeReceipt describes one fee collection.
type FeeReceipt struct {
	Vault            common.Address `json:"vault"`
	FeesOwed         sdkmath.Int    `json:"fees_owed"`
	SharesMinted     sdkmath.Int    `json:"shares_minted"`
	PlatformShares   sdkmath.Int    `json:"platform_shares"`
	StrategistShares sdkmath.Int    `json:"strategist_shares"`
	PaidFromReserves sdkmath.Int    `json:"paid_from_reserves"`
}
