package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Service configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// DeploymentPath is the TOML file describing the tokens, protocols, positions and cellars to build.
	DeploymentPath string

	// WebPort is the port the read only API listens on.
	WebPort string

	// KeeperInterval is the pause between two keeper cycles.
	KeeperInterval time.Duration

	// KeeperName derives the automation address the keeper signs upkeeps with.
	KeeperName string

	// DBEnabled turns snapshot persistence and the cycle counter on.
	DBEnabled bool
)

const (
	defaultWebPort        = "8080"
	defaultKeeperInterval = 10 * time.Minute
	defaultKeeperName     = "automation"
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// Only CELLAR_DEPLOYMENT is required, everything else has a default.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	DeploymentPath, err = getEnv("CELLAR_DEPLOYMENT")
	if err != nil {
		return err
	}

	WebPort = getEnvOrDefault("WEB_PORT", defaultWebPort)
	KeeperName = getEnvOrDefault("KEEPER_NAME", defaultKeeperName)

	KeeperInterval, err = getEnvAsDuration("KEEPER_INTERVAL", defaultKeeperInterval)
	if err != nil {
		return err
	}
	if KeeperInterval <= 0 {
		return errors.New("environment variable KEEPER_INTERVAL must be positive")
	}

	DBEnabled, err = getEnvAsBool("DB_ENABLED", true)
	if err != nil {
		return err
	}

	log.Debug().
		Str("DeploymentPath", DeploymentPath).
		Str("WebPort", WebPort).
		Dur("KeeperInterval", KeeperInterval).
		Bool("DBEnabled", DBEnabled).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

func getEnvOrDefault(key, fallback string) string {
	if value, err := getEnv(key); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration parses values such as "90s" or "10m".
func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return fallback, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}

func getEnvAsBool(key string, fallback bool) (bool, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return fallback, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}

// GetEnvAsInt is used for optional numeric settings such as DB_PORT.
func GetEnvAsInt(key string, fallback int) int {
	valueStr, err := getEnv(key)
	if err != nil {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Int("fallback", fallback).Msg("Invalid integer in environment, using fallback")
		return fallback
	}
	return value
}
