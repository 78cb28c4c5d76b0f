package keeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/cellar/internal/cellar"
	"github.com/elys-network/cellar/internal/oracle"
	"github.com/elys-network/cellar/internal/state"
	"github.com/elys-network/cellar/internal/types"
)

// Upkeep kinds, used as metric labels and in snapshot upkeep lists.
const (
	UpkeepOracle  = "oracle"
	UpkeepFees    = "fees"
	UpkeepListing = "listing"
	UpkeepSweep   = "sweep"
	UpkeepSolve   = "solve"
)

// upkeepOracles records an observation on every oracle that is due. Oracles that are
// not due are skipped quietly.
func (k *Keeper) upkeepOracles(log zerolog.Logger, report *CycleReport) []string {
	w := k.world
	var updated []string
	for _, c := range w.Cellars {
		o, ok := w.Oracles[c.Address()]
		if !ok {
			continue
		}
		err := w.Do(func() error { return o.PerformUpkeep(w.Automation) })
		switch {
		case errors.Is(err, oracle.ErrUpkeepNotNeeded):
			log.Debug().Str("vault", c.Name()).Msg("Oracle upkeep not needed")
		case err != nil:
			k.metrics.ObserveUpkeep(UpkeepOracle, err)
			log.Error().Err(err).Str("vault", c.Name()).Str("kind", types.ErrorKind(err)).Msg("Oracle upkeep failed")
			report.Errors = append(report.Errors, fmt.Errorf("oracle upkeep %s: %w", c.Name(), err))
		default:
			k.metrics.ObserveUpkeep(UpkeepOracle, nil)
			updated = append(updated, c.Address().Hex())
		}
	}
	return updated
}

// upkeepFees accrues every vault the fees engine reports as due, one journal call per
// vault so a failing vault does not roll back the others.
func (k *Keeper) upkeepFees(log zerolog.Logger, report *CycleReport) []string {
	w := k.world
	var due []common.Address
	_ = w.View(func() error {
		due = w.Fees.CheckUpkeep()
		return nil
	})
	// the engine iterates a map, keep the cellar order instead
	dueSet := make(map[common.Address]bool, len(due))
	for _, v := range due {
		dueSet[v] = true
	}

	var accrued []string
	for _, c := range w.Cellars {
		vault := c.Address()
		if !dueSet[vault] {
			continue
		}
		err := w.Do(func() error { return w.Fees.PerformUpkeep(w.Automation, []common.Address{vault}) })
		k.metrics.ObserveUpkeep(UpkeepFees, err)
		if err != nil {
			log.Error().Err(err).Str("vault", c.Name()).Str("kind", types.ErrorKind(err)).Msg("Fee upkeep failed")
			report.Errors = append(report.Errors, fmt.Errorf("fee upkeep %s: %w", c.Name(), err))
			continue
		}
		accrued = append(accrued, vault.Hex())
	}
	if len(accrued) == 0 {
		log.Debug().Msg("No vault due for fee accrual")
	}
	return accrued
}

func (k *Keeper) listShares(log zerolog.Logger) []string {
	var listed []string
	_ = k.world.Do(func() error {
		listed = k.world.ListPricedShares()
		return nil
	})
	for _, denom := range listed {
		k.metrics.ObserveUpkeep(UpkeepListing, nil)
		log.Info().Str("denom", denom).Msg("Share token listed on the price router")
	}
	return listed
}

// serviceQueue drops expired requests and, when enabled, fills every request whose
// execution price is met, acting as solver with the automation account.
func (k *Keeper) serviceQueue(log zerolog.Logger, report *CycleReport) (int, []SolveSummary) {
	w := k.world
	swept := 0
	var solves []SolveSummary
	for _, c := range w.Cellars {
		vault := c.Address()
		var n int
		_ = w.Do(func() error {
			n = w.Queue.SweepExpired(vault)
			return nil
		})
		swept += n
		if n > 0 {
			k.metrics.ObserveUpkeep(UpkeepSweep, nil)
		}
		if !k.params.SolveQueue {
			continue
		}

		users := k.fillableUsers(vault)
		if len(users) == 0 {
			continue
		}
		var summary SolveSummary
		err := w.Do(func() error {
			r, err := w.Queue.Solve(w.Automation, vault, users)
			if err != nil {
				return err
			}
			summary = SolveSummary{Vault: vault.Hex(), Filled: len(r.Filled)}
			for _, s := range r.Skipped {
				summary.Skipped = append(summary.Skipped, s.Kind)
			}
			return nil
		})
		k.metrics.ObserveUpkeep(UpkeepSolve, err)
		if err != nil {
			log.Error().Err(err).Str("vault", c.Name()).Msg("Withdraw queue solve failed")
			report.Errors = append(report.Errors, fmt.Errorf("solve %s: %w", c.Name(), err))
			continue
		}
		k.metrics.ObserveSolve(c.Name(), summary.Filled, summary.Skipped)
		solves = append(solves, summary)
		log.Info().
			Str("vault", c.Name()).
			Int("filled", summary.Filled).
			Int("skipped", len(summary.Skipped)).
			Msg("Withdraw queue serviced")
	}
	return swept, solves
}

// fillableUsers lists up to MaxSolveBatch users whose request can execute right now.
func (k *Keeper) fillableUsers(vault common.Address) []common.Address {
	w := k.world
	var users []common.Address
	_ = w.View(func() error {
		for _, p := range w.Queue.PendingRequests(vault) {
			if len(users) >= k.params.MaxSolveBatch {
				break
			}
			if ok, err := w.Queue.IsWithdrawRequestValid(vault, p.User); err == nil && ok {
				users = append(users, p.User)
			}
		}
		return nil
	})
	return users
}

// snapshotVaults captures every cellar and, when persistence is on, stores the snapshots.
func (k *Keeper) snapshotVaults(ctx context.Context, log zerolog.Logger, report *CycleReport) []types.VaultSnapshot {
	applied := k.upkeepsByVault(report)
	var snapshots []types.VaultSnapshot
	for _, c := range k.world.Cellars {
		var snap types.VaultSnapshot
		err := k.world.View(func() error {
			var err error
			snap, err = k.captureVault(c)
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("vault", c.Name()).Msg("Failed to capture vault snapshot")
			report.Errors = append(report.Errors, fmt.Errorf("snapshot %s: %w", c.Name(), err))
			continue
		}
		snap.CycleID = report.CycleID
		snap.CycleNumber = report.CycleNumber
		snap.UpkeepsApplied = applied[snap.Vault]
		if snap.UpkeepsApplied == nil {
			snap.UpkeepsApplied = []string{}
		}
		k.metrics.SetVault(c.Name(), c.Asset().Decimals, snap.TotalAssets, snap.SharePrice, snap.OracleNotSafe, snap.PendingQueue)
		snapshots = append(snapshots, snap)
	}

	if !k.persist {
		return snapshots
	}
	saved := 0
	for i := range snapshots {
		id, err := state.SaveVaultSnapshot(ctx, snapshots[i])
		if err != nil {
			log.Error().Err(err).Str("vault", snapshots[i].Vault).Msg("Failed to save vault snapshot")
			report.Errors = append(report.Errors, err)
			continue
		}
		snapshots[i].ID = id
		saved++
	}
	k.metrics.IncSnapshotsSaved(saved)
	return snapshots
}

// captureVault reads one cellar. Callers hold the world's read lock.
func (k *Keeper) captureVault(c *cellar.Cellar) (types.VaultSnapshot, error) {
	w := k.world
	summary, err := c.Summary()
	if err != nil {
		return types.VaultSnapshot{}, err
	}
	snap := types.VaultSnapshot{
		Vault:        summary.Address,
		Timestamp:    w.Clock.Now(),
		TotalAssets:  summary.TotalAssets,
		TotalSupply:  summary.TotalSupply,
		SharePrice:   summary.SharePrice,
		PendingQueue: len(w.Queue.PendingRequests(c.Address())),
		Shutdown:     summary.Shutdown,
		Positions:    summary.Positions,
	}

	if meta, err := w.Fees.MetaData(c.Address()); err == nil {
		snap.HighWatermark = meta.ExactHighWatermark
		snap.FeesOwed = meta.FeesOwed
		snap.Reserves = meta.Reserves
	}

	snap.OracleNotSafe = true
	if o, ok := w.Oracles[c.Address()]; ok {
		snap.OracleAnswer, snap.OracleTWAA, snap.OracleNotSafe = o.GetLatest()
	}
	return snap, nil
}

func (k *Keeper) upkeepsByVault(report *CycleReport) map[string][]string {
	out := make(map[string][]string)
	listed := make(map[string]bool, len(report.Listed))
	for _, denom := range report.Listed {
		listed[denom] = true
	}
	for _, c := range k.world.Cellars {
		if listed[c.ShareDenom()] {
			v := c.Address().Hex()
			out[v] = append(out[v], UpkeepListing)
		}
	}
	for _, v := range report.Oracles {
		out[v] = append(out[v], UpkeepOracle)
	}
	for _, v := range report.Fees {
		out[v] = append(out[v], UpkeepFees)
	}
	for _, s := range report.Solves {
		if s.Filled > 0 {
			out[s.Vault] = append(out[s.Vault], UpkeepSolve)
		}
	}
	return out
}
