package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultName identifies the vault this instance manages.
	VaultName string
	// VaultOwner is the authority allowed to push manual quotes.
	VaultOwner string
	// CompositionFile is the path to the vault composition JSON.
	CompositionFile string

	// DriftThresholdPercent is the weight deviation that triggers rebalancing.
	DriftThresholdPercent int64
	// MaxQuoteAge is the oldest quote the engine will value assets on.
	MaxQuoteAge time.Duration
	// CycleInterval is the pause between rebalance cycles.
	CycleInterval time.Duration

	// LogLevel controls logging verbosity ("debug", "info", "warn", "error").
	LogLevel string
	// LogFile optionally mirrors logs to a file. Empty disables it.
	LogFile string

	// ConfidentialKeyHex is the AES-256 key for the sealed rebalance path,
	// hex encoded. Empty disables the confidential path.
	ConfidentialKeyHex string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. Variables without a listed default are required.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultName, err = getEnv("BVM_VAULT_NAME")
	if err != nil {
		return err
	}

	VaultOwner, err = getEnv("BVM_VAULT_OWNER")
	if err != nil {
		return err
	}

	CompositionFile, err = getEnv("BVM_COMPOSITION_FILE")
	if err != nil {
		return err
	}

	DriftThresholdPercent = getEnvAsInt64OrDefault("BVM_DRIFT_THRESHOLD_PERCENT", DefaultDriftThresholdPercent)

	maxAgeSeconds := getEnvAsInt64OrDefault("BVM_MAX_QUOTE_AGE_SECONDS", DefaultMaxQuoteAgeSeconds)
	MaxQuoteAge = time.Duration(maxAgeSeconds) * time.Second

	cycleSeconds := getEnvAsInt64OrDefault("BVM_CYCLE_INTERVAL_SECONDS", DefaultCycleIntervalSeconds)
	CycleInterval = time.Duration(cycleSeconds) * time.Second

	LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	LogFile = getEnvOrDefault("LOG_FILE", "")
	ConfidentialKeyHex = getEnvOrDefault("BVM_CONFIDENTIAL_KEY", "")

	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("VaultName", VaultName).
		Int64("DriftThresholdPercent", DriftThresholdPercent).
		Dur("MaxQuoteAge", MaxQuoteAge).
		Dur("CycleInterval", CycleInterval).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable with a fallback.
func getEnvOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsInt64OrDefault retrieves an int64 environment variable with a
// fallback. An unparsable value is reported and the fallback used.
func getEnvAsInt64OrDefault(key string, fallback int64) int64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid integer environment variable, using default")
		return fallback
	}
	return value
}

// getEnvAsIntOrDefault retrieves an int environment variable with a fallback.
func getEnvAsIntOrDefault(key string, fallback int) int {
	return int(getEnvAsInt64OrDefault(key, int64(fallback)))
}
