/*

This file contains the default parameters for cellars and the keeper.

Vault defaults fill in whatever a deployment file leaves out. Keeper defaults are saved
to the database on first start and versioned from then on.

*/

package config

import (
	"time"
)

// VaultParameters are the per cellar knobs a deployment may omit.
type VaultParameters struct {
	RebalanceDeviationBps uint32 `json:"rebalance_deviation_bps"`
	PlatformFeeBps        uint32 `json:"platform_fee_bps"`
	ManagementFeeBps      uint32 `json:"management_fee_bps"`
	PerformanceFeeBps     uint32 `json:"performance_fee_bps"`

	OracleHeartbeat            time.Duration `json:"oracle_heartbeat"`
	OracleDeviationTriggerBps  uint32        `json:"oracle_deviation_trigger_bps"`
	OracleGracePeriod          time.Duration `json:"oracle_grace_period"`
	OracleObservationsToUse    int           `json:"oracle_observations_to_use"`
	OracleAnswerChangeLowerBps uint32        `json:"oracle_answer_change_lower_bps"`
	OracleAnswerChangeUpperBps uint32        `json:"oracle_answer_change_upper_bps"`
	FeedHeartbeat              time.Duration `json:"feed_heartbeat"`
	FeesMinUpkeepInterval      time.Duration `json:"fees_min_upkeep_interval"`
}

// DefaultVaultParameters provides the baseline for every cellar in a deployment.
var DefaultVaultParameters = VaultParameters{
	RebalanceDeviationBps: 30, // 0.3% NAV drift per strategist call.
	// Rationale: enough room for swap fees on a rebalance, small enough that a bad route reverts.

	PlatformFeeBps: 2_000, // Platform keeps 20% of collected fees.

	ManagementFeeBps: 200, // 2% a year on the lower of current and last seen NAV.

	PerformanceFeeBps: 1_000, // 10% of gains above the high watermark.

	OracleHeartbeat: 24 * time.Hour, // Record an observation at least daily.
	// Rationale: the TWAA window is built from heartbeats, so this bounds how stale an average can be.

	OracleDeviationTriggerBps: 50, // Or sooner, when the share price moves 0.5%.

	OracleGracePeriod: 5 * time.Minute, // A fresher observation than this is not trusted yet.
	// Rationale: an observation written in the same block as a manipulation must not price anything.

	OracleObservationsToUse: 4, // Average over four heartbeats.

	OracleAnswerChangeLowerBps: 9_000,  // Reject a new answer 10% below the previous one.
	OracleAnswerChangeUpperBps: 11_000, // Or 10% above it.

	FeedHeartbeat: 24 * time.Hour, // Chainlink style feeds older than this are stale.

	FeesMinUpkeepInterval: time.Hour, // Automation accrues a vault at most hourly.
}

// KeeperParameters drive the keeper's schedules. They are stored in the database with
// a version so operators can change them without a redeploy.
type KeeperParameters struct {
	OracleUpkeepCron string `json:"oracle_upkeep_cron"`
	FeeUpkeepCron    string `json:"fee_upkeep_cron"`
	SweepCron        string `json:"sweep_cron"`
	SnapshotCron     string `json:"snapshot_cron"`

	// MaxSolveBatch caps how many queued requests one solve may settle.
	MaxSolveBatch int `json:"max_solve_batch"`
	// SolveQueue lets the keeper act as a solver of last resort.
	SolveQueue bool `json:"solve_queue"`
}

// DefaultKeeperParameters is saved as version 1 when the database has no active set.
var DefaultKeeperParameters = KeeperParameters{
	OracleUpkeepCron: "@every 5m", // Oracles decide themselves whether an upkeep is due.
	FeeUpkeepCron:    "@every 1h", // Matches FeesMinUpkeepInterval.
	SweepCron:        "@every 15m",
	SnapshotCron:     "@every 30m",
	MaxSolveBatch:    50,
	SolveQueue:       true,
}
