package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elys-network/cellar/internal/config"
)

// ErrNoActiveParameters means no version of a config has been saved and activated yet.
var ErrNoActiveParameters = errors.New("no active keeper parameters")

// SaveKeeperParameters saves a new version of keeper parameters. When makeActive is set
// the previously active version of configName is deactivated in the same transaction.
func SaveKeeperParameters(ctx context.Context, params config.KeeperParameters, configName string, version int, makeActive bool) (paramsID int64, err error) {
	if DB == nil {
		return 0, ErrNotInitialized
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal keeper parameters: %w", err)
	}

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		_, err = tx.ExecContext(ctx, `UPDATE keeper_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO keeper_parameters (version, config_name, is_active, activated_at, created_at, params)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING params_id;`,
		version, configName, makeActive, now, now, paramsJSON,
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert keeper parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved keeper parameters")
	return paramsID, nil
}

// LoadActiveKeeperParameters loads the currently active keeper parameters and their version.
func LoadActiveKeeperParameters(ctx context.Context, configName string) (*config.KeeperParameters, int, error) {
	if DB == nil {
		return nil, 0, ErrNotInitialized
	}

	var (
		version    int
		paramsJSON []byte
	)
	err := DB.QueryRowContext(ctx, `
		SELECT version, params
		FROM keeper_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`, configName).Scan(&version, &paramsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, fmt.Errorf("%w for config '%s'", ErrNoActiveParameters, configName)
		}
		return nil, 0, fmt.Errorf("failed to load active keeper parameters for config '%s': %w", configName, err)
	}

	// start from defaults so keys added after a version was saved still get a value
	p := config.DefaultKeeperParameters
	if err := json.Unmarshal(paramsJSON, &p); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal keeper parameters version %d: %w", version, err)
	}
	log.Info().Str("config", configName).Int("version", version).Msg("Loaded active keeper parameters")
	return &p, version, nil
}

// LoadOrSeedKeeperParameters returns the active parameters, saving defaults as version 1
// when none exist.
func LoadOrSeedKeeperParameters(ctx context.Context, configName string, defaults config.KeeperParameters) (*config.KeeperParameters, int, error) {
	p, version, err := LoadActiveKeeperParameters(ctx, configName)
	if err == nil {
		return p, version, nil
	}
	if !errors.Is(err, ErrNoActiveParameters) {
		return nil, 0, err
	}
	log.Info().Str("config", configName).Msg("No active keeper parameters found, saving defaults")
	if _, err := SaveKeeperParameters(ctx, defaults, configName, 1, true); err != nil {
		return nil, 0, err
	}
	return &defaults, 1, nil
}
