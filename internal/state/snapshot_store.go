package state

import (
	"context"
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/elys-network/cellar/internal/types"
)

// numeric renders an amount for a NUMERIC(78, 0) column. Unset amounts are stored as zero.
func numeric(x sdkmath.Int) string {
	if x.IsNil() {
		return "0"
	}
	return x.String()
}

func parseNumeric(column, s string) (sdkmath.Int, error) {
	x, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("column %s holds non integer %q", column, s)
	}
	return x, nil
}

// SaveVaultSnapshot saves one vault's end of cycle state to the database.
func SaveVaultSnapshot(ctx context.Context, snapshot types.VaultSnapshot) (int64, error) {
	if DB == nil {
		return 0, ErrNotInitialized
	}

	positionsJSON, err := json.Marshal(snapshot.Positions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal positions: %w", err)
	}

	query := `
		INSERT INTO vault_snapshots (
			cycle_id, cycle_number, vault, snapshot_timestamp,
			total_assets, total_supply, share_price, high_watermark, fees_owed, reserves,
			oracle_answer, oracle_twaa, oracle_not_safe,
			pending_queue, shutdown, positions, upkeeps_applied
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRowContext(ctx,
		query,
		snapshot.CycleID, snapshot.CycleNumber, snapshot.Vault, snapshot.Timestamp,
		numeric(snapshot.TotalAssets), numeric(snapshot.TotalSupply), numeric(snapshot.SharePrice),
		numeric(snapshot.HighWatermark), numeric(snapshot.FeesOwed), numeric(snapshot.Reserves),
		numeric(snapshot.OracleAnswer), numeric(snapshot.OracleTWAA), snapshot.OracleNotSafe,
		snapshot.PendingQueue, snapshot.Shutdown, positionsJSON, pq.Array(snapshot.UpkeepsApplied),
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save vault snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("vault", snapshot.Vault).
		Str("total_assets", numeric(snapshot.TotalAssets)).
		Msg("Vault snapshot saved to database")

	return snapshotID, nil
}
