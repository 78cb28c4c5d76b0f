/*

Snapshots persisted by the keeper at the end of each cycle and served by the API.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

type VaultSnapshot struct {
	ID             int64             `json:"id,omitempty"` // assigned by the database
	CycleID        uuid.UUID         `json:"cycle_id"`
	CycleNumber    int               `json:"cycle_number"`
	Vault          string            `json:"vault"`
	Timestamp      time.Time         `json:"timestamp"`
	TotalAssets    sdkmath.Int       `json:"total_assets"`
	TotalSupply    sdkmath.Int       `json:"total_supply"`
	SharePrice     sdkmath.Int       `json:"share_price"`    // holding asset per whole share
	HighWatermark  sdkmath.Int       `json:"high_watermark"` // 1e27 scaled
	FeesOwed       sdkmath.Int       `json:"fees_owed"`
	Reserves       sdkmath.Int       `json:"reserves"`
	OracleAnswer   sdkmath.Int       `json:"oracle_answer"`
	OracleTWAA     sdkmath.Int       `json:"oracle_twaa"`
	OracleNotSafe  bool              `json:"oracle_not_safe"`
	PendingQueue   int               `json:"pending_queue"` // open withdraw requests
	Shutdown       bool              `json:"shutdown"`
	Positions      []PositionBalance `json:"positions"`
	UpkeepsApplied []string          `json:"upkeeps_applied"`
}

// VaultSummary is the live view returned by the API.
type VaultSummary struct {
	Address                 string            `json:"address"`
	Name                    string            `json:"name"`
	Symbol                  string            `json:"symbol"`
	Asset                   Token             `json:"asset"`
	TotalAssets             sdkmath.Int       `json:"total_assets"`
	TotalAssetsWithdrawable sdkmath.Int       `json:"total_assets_withdrawable"`
	TotalSupply             sdkmath.Int       `json:"total_supply"`
	SharePrice              sdkmath.Int       `json:"share_price"`
	WithdrawType            string            `json:"withdraw_type"`
	Shutdown                bool              `json:"shutdown"`
	Paused                  bool              `json:"paused"`
	Positions               []PositionBalance `json:"positions"`
}
