package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/elys-network/cellar/internal/bootstrap"
	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/config"
	"github.com/elys-network/cellar/internal/keeper"
	"github.com/elys-network/cellar/internal/logger"
	"github.com/elys-network/cellar/internal/metrics"
	"github.com/elys-network/cellar/internal/state"
	"github.com/elys-network/cellar/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main builds the deployment, then runs the keeper loop, its cron jobs and the HTTP API.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Msg("Cellar starting...")

	deployment, err := config.LoadDeployment(config.DeploymentPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", config.DeploymentPath).Msg("Failed to load deployment")
	}
	world, err := bootstrap.Build(deployment, chain.SystemClock{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build deployment")
	}
	log.Info().Int("cellars", len(world.Cellars)).Str("automation", world.Automation.Hex()).Msg("Deployment built")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. Database and keeper parameters ---
	params := config.DefaultKeeperParameters
	paramsVersion := 0
	if config.DBEnabled {
		dbCfg := state.DBConfig{
			Host: os.Getenv("DB_HOST"), Port: config.GetEnvAsInt("DB_PORT", 5432),
			User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
			DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}

		loaded, version, err := state.LoadOrSeedKeeperParameters(ctx, keeper.DefaultParametersConfigName, config.DefaultKeeperParameters)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load keeper parameters")
		}
		params, paramsVersion = *loaded, version
		log.Info().Int("version", paramsVersion).Msg("Keeper parameters loaded successfully.")
	} else {
		log.Warn().Msg("DB_ENABLED=false, snapshots and cycle numbers are kept in memory only")
	}

	// --- 3. Keeper ---
	k, err := keeper.NewKeeper(keeper.Config{
		World:         world,
		Params:        &params,
		ParamsVersion: paramsVersion,
		Persist:       config.DBEnabled,
		Metrics:       metrics.Keeper(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper")
	}

	scheduler := keeper.NewScheduler(ctx)
	if err := k.Schedule(scheduler); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule keeper jobs")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// --- 4. Web Server ---
	webServer := web.NewWebServer(config.WebPort, world)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting Cellar HTTP API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Keeper main loop, until SIGINT or SIGTERM ---
	k.RunLoop(ctx, config.KeeperInterval)
	log.Info().Msg("Cellar shutting down")
}
