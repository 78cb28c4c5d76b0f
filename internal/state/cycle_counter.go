/*

This file manages the persistent keeper cycle counter.
The counter lives in the database so cycle numbers keep increasing across restarts.

*/

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ensureCycleCounterTable creates the cycle_counter table if it doesn't exist
func ensureCycleCounterTable() error {
	if DB == nil {
		return ErrNotInitialized
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := DB.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create cycle_counter table: %w", err)
	}

	log.Debug().Msg("Ensured cycle_counter table exists")
	return nil
}

// GetCurrentCycleNumber retrieves the current cycle number from the database
func GetCurrentCycleNumber(ctx context.Context) (int, error) {
	if DB == nil {
		return 0, ErrNotInitialized
	}

	var currentCycle int
	err := DB.QueryRowContext(ctx, `SELECT current_cycle FROM cycle_counter WHERE id = 1;`).Scan(&currentCycle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn().Msg("No cycle counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current cycle number: %w", err)
	}
	return currentCycle, nil
}

// IncrementCycleNumber increments the cycle counter and returns the new value
func IncrementCycleNumber(ctx context.Context) (int, error) {
	if DB == nil {
		return 0, ErrNotInitialized
	}

	updateQuery := `
		UPDATE cycle_counter
		SET current_cycle = current_cycle + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_cycle;`

	var newCycle int
	if err := DB.QueryRowContext(ctx, updateQuery).Scan(&newCycle); err != nil {
		return 0, fmt.Errorf("failed to increment cycle number: %w", err)
	}

	log.Debug().Int("newCycle", newCycle).Msg("Incremented cycle counter")
	return newCycle, nil
}

// ResetCycleNumber resets the cycle counter to a specific value (for testing/maintenance)
func ResetCycleNumber(ctx context.Context, cycleNumber int) error {
	if DB == nil {
		return ErrNotInitialized
	}
	if cycleNumber < 0 {
		return fmt.Errorf("cycle number cannot be negative: %d", cycleNumber)
	}

	result, err := DB.ExecContext(ctx, `
		UPDATE cycle_counter
		SET current_cycle = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1;`, cycleNumber)
	if err != nil {
		return fmt.Errorf("failed to reset cycle number to %d: %w", cycleNumber, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no rows updated when resetting cycle number")
	}

	log.Warn().Int("cycleNumber", cycleNumber).Msg("Reset cycle counter")
	return nil
}
