/*

Development helper: drops every BVM table and reapplies the schema. This
destroys all persisted cycle history and receipts; never point it at a
production database.

*/

package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/state"
)

func main() {
	logger.Initialize(envOr("LOG_LEVEL", "info"), "")

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on OS environment variables")
	}

	cfg := state.DBConfig{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     portFromEnv(),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
	if cfg.User == "" || cfg.DBName == "" {
		log.Fatal().Msg("DB_USER and DB_NAME must be set")
	}

	if err := state.InitDB(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer state.CloseDB()

	log.Info().Str("dbname", cfg.DBName).Msg("Dropping BVM tables")
	drop := `
		DROP TABLE IF EXISTS cycle_snapshots CASCADE;
		DROP TABLE IF EXISTS operation_receipts CASCADE;
		DROP TABLE IF EXISTS cycle_counter CASCADE;
	`
	if _, err := state.DB.Exec(drop); err != nil {
		log.Fatal().Err(err).Msg("Failed to drop tables")
	}

	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to recreate schema")
	}
	log.Info().Msg("Database reset complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func portFromEnv() int {
	v := os.Getenv("DB_PORT")
	if v == "" {
		return 5432
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		log.Fatal().Str("DB_PORT", v).Msg("DB_PORT must be an integer")
	}
	return port
}
