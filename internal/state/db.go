package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// ErrNotInitialized is returned by every store call made before InitDB.
var ErrNotInitialized = errors.New("database not initialized")

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// DSN renders the lib/pq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	var err error
	DB, err = sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	if err = DB.Ping(); err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("db", cfg.DBName).Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
		DB = nil
	}
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS vault_snapshots (
		snapshot_id BIGSERIAL PRIMARY KEY,
		cycle_id UUID NOT NULL,
		cycle_number INTEGER NOT NULL,
		vault VARCHAR(42) NOT NULL,
		snapshot_timestamp TIMESTAMPTZ NOT NULL,

		total_assets NUMERIC(78, 0) NOT NULL,
		total_supply NUMERIC(78, 0) NOT NULL,
		share_price NUMERIC(78, 0) NOT NULL,
		high_watermark NUMERIC(78, 0) NOT NULL,
		fees_owed NUMERIC(78, 0) NOT NULL,
		reserves NUMERIC(78, 0) NOT NULL,

		oracle_answer NUMERIC(78, 0) NOT NULL,
		oracle_twaa NUMERIC(78, 0) NOT NULL,
		oracle_not_safe BOOLEAN NOT NULL,

		pending_queue INTEGER NOT NULL DEFAULT 0,
		shutdown BOOLEAN NOT NULL DEFAULT FALSE,
		positions JSONB,
		upkeeps_applied TEXT[]
	);
	CREATE INDEX IF NOT EXISTS idx_vault_snapshots_timestamp ON vault_snapshots(snapshot_timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_vault_snapshots_vault ON vault_snapshots(vault, snapshot_timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_vault_snapshots_cycle ON vault_snapshots(cycle_number DESC);

	CREATE TABLE IF NOT EXISTS keeper_parameters (
		params_id SERIAL PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 1,
		config_name VARCHAR(255) NOT NULL DEFAULT 'default',
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		params JSONB NOT NULL,
		CONSTRAINT uq_keeper_parameters_config_version UNIQUE (config_name, version)
	);
	CREATE INDEX IF NOT EXISTS idx_keeper_parameters_config_active ON keeper_parameters(config_name, is_active, activated_at DESC);
`

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return ErrNotInitialized
	}
	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	if err := ensureCycleCounterTable(); err != nil {
		return err
	}
	log.Info().Msg("Database schema ensured (vault_snapshots, keeper_parameters, cycle_counter).")
	return nil
}

// DropSchema removes every table EnsureSchema creates. Used by the reset script.
func DropSchema() error {
	if DB == nil {
		return ErrNotInitialized
	}
	_, err := DB.Exec(`
		DROP TABLE IF EXISTS vault_snapshots CASCADE;
		DROP TABLE IF EXISTS keeper_parameters CASCADE;
		DROP TABLE IF EXISTS cycle_counter CASCADE;
	`)
	if err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	log.Warn().Msg("Dropped all cellar tables")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
