package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elys-network/cellar/internal/bootstrap"
	"github.com/elys-network/cellar/internal/config"
	"github.com/elys-network/cellar/internal/logger"
	"github.com/elys-network/cellar/internal/metrics"
	"github.com/elys-network/cellar/internal/state"
	"github.com/elys-network/cellar/internal/types"
)

// DefaultParametersConfigName is the keeper_parameters config the binary reads.
const DefaultParametersConfigName = "default_keeper"

// Keeper is the automation account of a world: it performs oracle and fee upkeeps,
// lists share tokens once they can be priced, sweeps and solves the withdraw queue,
// and records vault snapshots.
type Keeper struct {
	logger  zerolog.Logger
	world   *bootstrap.World
	metrics *metrics.KeeperMetrics

	params        config.KeeperParameters
	paramsVersion int
	persist       bool // write snapshots and cycle numbers to the database

	// mu keeps a cron job and a loop cycle from interleaving their steps
	mu         sync.Mutex
	cycleCount int
}

// Config holds the configuration for creating a new Keeper instance
type Config struct {
	World         *bootstrap.World
	Params        *config.KeeperParameters
	ParamsVersion int
	Persist       bool
	Metrics       *metrics.KeeperMetrics // optional
}

func validateConfig(cfg Config) error {
	if cfg.World == nil {
		return fmt.Errorf("world cannot be nil")
	}
	if cfg.Params == nil {
		return fmt.Errorf("keeper parameters cannot be nil")
	}
	if cfg.Params.MaxSolveBatch <= 0 {
		return fmt.Errorf("max solve batch must be positive, got %d", cfg.Params.MaxSolveBatch)
	}
	if cfg.Persist && state.DB == nil {
		return fmt.Errorf("persistence requested but the database is not initialized")
	}
	return nil
}

// NewKeeper creates a keeper acting as the world's automation account.
func NewKeeper(cfg Config) (*Keeper, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("keeper configuration validation failed: %w", err)
	}
	k := &Keeper{
		logger:        logger.GetForComponent("keeper"),
		world:         cfg.World,
		metrics:       cfg.Metrics,
		params:        *cfg.Params,
		paramsVersion: cfg.ParamsVersion,
		persist:       cfg.Persist,
	}
	k.metrics.SetParametersVersion(cfg.ParamsVersion)

	k.logger.Info().
		Str("automation", cfg.World.Automation.Hex()).
		Int("paramsVersion", cfg.ParamsVersion).
		Int("maxSolveBatch", k.params.MaxSolveBatch).
		Bool("solveQueue", k.params.SolveQueue).
		Bool("persist", k.persist).
		Msg("Keeper instance created")
	return k, nil
}

// Params returns the parameters the keeper runs with.
func (k *Keeper) Params() config.KeeperParameters { return k.params }

// RunLoop runs a full cycle immediately and then every interval until ctx is done.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().Dur("interval", interval).Msg("Starting keeper main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	k.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.RunCycle(ctx)
		}
	}
}

// CycleReport summarises what one cycle changed.
type CycleReport struct {
	CycleID     uuid.UUID
	CycleNumber int
	Oracles     []string // vault addresses whose oracle recorded an observation
	Fees        []string // vault addresses whose fees were accrued
	Listed      []string // share denoms added to the price router
	Swept       int
	Solves      []SolveSummary
	Snapshots   []types.VaultSnapshot
	Errors      []error
}

// SolveSummary is the keeper's view of one queue solve.
type SolveSummary struct {
	Vault   string
	Filled  int
	Skipped []string // error kinds
}

// Err joins every step error of the cycle.
func (r CycleReport) Err() error { return errors.Join(r.Errors...) }

// RunCycle performs every upkeep once and snapshots each cellar. A failing step is
// logged and recorded without stopping the others.
func (k *Keeper) RunCycle(ctx context.Context) CycleReport {
	k.mu.Lock()
	defer k.mu.Unlock()

	cycleStartTime := time.Now()
	report := CycleReport{CycleID: uuid.New(), CycleNumber: k.nextCycleNumber(ctx)}
	cycleLogger := k.logger.With().Str("cycle_id", report.CycleID.String()).Int("cycle", report.CycleNumber).Logger()
	cycleLogger.Info().Msg("--- Starting keeper cycle ---")

	cycleLogger.Info().Msg("Step 1: Oracle upkeep...")
	report.Oracles = k.upkeepOracles(cycleLogger, &report)

	cycleLogger.Info().Msg("Step 2: Fee accrual upkeep...")
	report.Fees = k.upkeepFees(cycleLogger, &report)

	cycleLogger.Info().Msg("Step 3: Share token listings...")
	report.Listed = k.listShares(cycleLogger)

	cycleLogger.Info().Msg("Step 4: Withdraw queue sweep and solve...")
	report.Swept, report.Solves = k.serviceQueue(cycleLogger, &report)

	cycleLogger.Info().Msg("Step 5: Vault snapshots...")
	report.Snapshots = k.snapshotVaults(ctx, cycleLogger, &report)

	err := report.Err()
	k.metrics.ObserveCycle(time.Since(cycleStartTime), err)
	event := cycleLogger.Info()
	if err != nil {
		event = cycleLogger.Warn().Err(err)
	}
	event.
		Int("oracleUpkeeps", len(report.Oracles)).
		Int("feeUpkeeps", len(report.Fees)).
		Int("listed", len(report.Listed)).
		Int("swept", report.Swept).
		Int("snapshots", len(report.Snapshots)).
		Str("cycleDuration", time.Since(cycleStartTime).String()).
		Msg("--- Keeper cycle completed ---")
	return report
}

// nextCycleNumber increments the persistent counter, falling back to the in-memory one.
func (k *Keeper) nextCycleNumber(ctx context.Context) int {
	k.cycleCount++
	if !k.persist {
		return k.cycleCount
	}
	n, err := state.IncrementCycleNumber(ctx)
	if err != nil {
		k.logger.Error().Err(err).Msg("Failed to increment cycle number, using in-memory counter")
		return k.cycleCount
	}
	k.cycleCount = n
	return n
}
