package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/cellar/internal/types"
)

// ErrSnapshotNotFound is returned when a vault has no stored snapshot yet.
var ErrSnapshotNotFound = errors.New("snapshot not found")

const snapshotColumns = `
	snapshot_id, cycle_id, cycle_number, vault, snapshot_timestamp,
	total_assets, total_supply, share_price, high_watermark, fees_owed, reserves,
	oracle_answer, oracle_twaa, oracle_not_safe,
	pending_queue, shutdown, positions, upkeeps_applied`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSnapshot reads one vault_snapshots row selected with snapshotColumns.
func scanSnapshot(row rowScanner) (types.VaultSnapshot, error) {
	var (
		s             types.VaultSnapshot
		amounts       [8]string
		positionsJSON []byte
	)
	err := row.Scan(
		&s.ID, &s.CycleID, &s.CycleNumber, &s.Vault, &s.Timestamp,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4], &amounts[5],
		&amounts[6], &amounts[7], &s.OracleNotSafe,
		&s.PendingQueue, &s.Shutdown, &positionsJSON, pq.Array(&s.UpkeepsApplied),
	)
	if err != nil {
		return s, err
	}

	columns := [8]string{"total_assets", "total_supply", "share_price", "high_watermark", "fees_owed", "reserves", "oracle_answer", "oracle_twaa"}
	dsts := [8]*sdkmath.Int{
		&s.TotalAssets, &s.TotalSupply, &s.SharePrice, &s.HighWatermark,
		&s.FeesOwed, &s.Reserves, &s.OracleAnswer, &s.OracleTWAA,
	}
	for i := range amounts {
		x, err := parseNumeric(columns[i], amounts[i])
		if err != nil {
			return s, err
		}
		*dsts[i] = x
	}

	if len(positionsJSON) > 0 {
		if err := json.Unmarshal(positionsJSON, &s.Positions); err != nil {
			return s, fmt.Errorf("failed to unmarshal positions: %w", err)
		}
	}
	return s, nil
}

// GetRecentSnapshots retrieves the latest snapshots across all vaults, newest first.
func GetRecentSnapshots(ctx context.Context, limit int) ([]types.VaultSnapshot, error) {
	if DB == nil {
		return nil, ErrNotInitialized
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	rows, err := DB.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM vault_snapshots
		ORDER BY snapshot_timestamp DESC, snapshot_id DESC
		LIMIT $1`, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent snapshots")
		return nil, fmt.Errorf("failed to query recent snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.VaultSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan snapshot row")
			continue // Skip this row and continue with others
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Debug().Int("count", len(snapshots)).Int("limit", limit).Msg("Retrieved recent snapshots")
	return snapshots, nil
}

// GetLatestSnapshot returns the most recent snapshot of one vault.
func GetLatestSnapshot(ctx context.Context, vault string) (*types.VaultSnapshot, error) {
	if DB == nil {
		return nil, ErrNotInitialized
	}

	row := DB.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM vault_snapshots
		WHERE vault = $1
		ORDER BY snapshot_timestamp DESC, snapshot_id DESC
		LIMIT 1`, vault)
	s, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: vault %s", ErrSnapshotNotFound, vault)
		}
		return nil, fmt.Errorf("failed to query latest snapshot for %s: %w", vault, err)
	}
	return &s, nil
}

// CountSnapshots reports how many snapshots are stored, for the health endpoint.
func CountSnapshots(ctx context.Context) (int, error) {
	if DB == nil {
		return 0, ErrNotInitialized
	}
	var n int
	if err := DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}
