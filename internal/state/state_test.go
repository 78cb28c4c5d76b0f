package state

import (
	"context"
	"os"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/cellar/internal/config"
	"github.com/elys-network/cellar/internal/types"
)

// setupDB connects to the database named by DB_* variables and starts from empty tables.
func setupDB(t *testing.T) {
	t.Helper()
	host := os.Getenv("DB_HOST")
	if host == "" {
		t.Skip("DB_HOST not set, skipping database tests")
	}
	sslMode := os.Getenv("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}
	require.NoError(t, InitDB(DBConfig{
		Host:     host,
		Port:     config.GetEnvAsInt("DB_PORT", 5432),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
		SSLMode:  sslMode,
	}))
	require.NoError(t, DropSchema())
	require.NoError(t, EnsureSchema())
	t.Cleanup(CloseDB)
}

func TestStoresFailWithoutDatabase(t *testing.T) {
	saved := DB
	DB = nil
	defer func() { DB = saved }()

	ctx := context.Background()
	_, err := SaveVaultSnapshot(ctx, types.VaultSnapshot{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = GetRecentSnapshots(ctx, 5)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = IncrementCycleNumber(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, _, err = LoadActiveKeeperParameters(ctx, "default")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Error(t, TestDBConnection())
}

func TestNumericRendering(t *testing.T) {
	assert.Equal(t, "0", numeric(sdkmath.Int{}))
	assert.Equal(t, "123456789012345678901234567890", numeric(sdkmath.NewIntWithDecimal(123456789012345678, 12).AddRaw(901234567890)))

	_, err := parseNumeric("total_assets", "12.5")
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	n, err := IncrementCycleNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap := types.VaultSnapshot{
		CycleID:        uuid.New(),
		CycleNumber:    n,
		Vault:          "0x00000000000000000000000000000000000000aa",
		Timestamp:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		TotalAssets:    sdkmath.NewInt(1_000_000_000),
		TotalSupply:    sdkmath.NewInt(990_000_000),
		SharePrice:     sdkmath.NewInt(1_010_101),
		HighWatermark:  sdkmath.NewIntWithDecimal(1, 27),
		FeesOwed:       sdkmath.NewInt(42),
		Reserves:       sdkmath.ZeroInt(),
		OracleAnswer:   sdkmath.NewInt(1_010_000),
		OracleTWAA:     sdkmath.NewInt(1_005_000),
		OracleNotSafe:  true,
		PendingQueue:   2,
		Positions:      []types.PositionBalance{{ID: 1, Asset: "uusdc", Balance: sdkmath.NewInt(7), Value: sdkmath.NewInt(7)}},
		UpkeepsApplied: []string{"oracle", "fees"},
	}
	id, err := SaveVaultSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := GetLatestSnapshot(ctx, snap.Vault)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, snap.CycleID, got.CycleID)
	assert.True(t, got.HighWatermark.Equal(snap.HighWatermark))
	assert.True(t, got.OracleTWAA.Equal(snap.OracleTWAA))
	assert.Equal(t, snap.UpkeepsApplied, got.UpkeepsApplied)
	require.Len(t, got.Positions, 1)
	assert.True(t, got.Positions[0].Value.Equal(sdkmath.NewInt(7)))

	recent, err := GetRecentSnapshots(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	_, err = GetLatestSnapshot(ctx, "0x00000000000000000000000000000000000000bb")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestKeeperParametersAreVersioned(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	p, version, err := LoadOrSeedKeeperParameters(ctx, "default", config.DefaultKeeperParameters)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, config.DefaultKeeperParameters, *p)

	changed := config.DefaultKeeperParameters
	changed.MaxSolveBatch = 5
	_, err = SaveKeeperParameters(ctx, changed, "default", 2, true)
	require.NoError(t, err)

	p, version, err = LoadActiveKeeperParameters(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, 5, p.MaxSolveBatch)

	require.NoError(t, ResetCycleNumber(ctx, 0))
	n, err := GetCurrentCycleNumber(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
