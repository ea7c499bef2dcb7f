package main

import (
	"context"
	"encoding/hex"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/basketlabs/bvm/internal/bvm"
	"github.com/basketlabs/bvm/internal/config"
	"github.com/basketlabs/bvm/internal/confidential"
	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/oracle"
	"github.com/basketlabs/bvm/internal/simulations"
	"github.com/basketlabs/bvm/internal/state"
	"github.com/basketlabs/bvm/internal/strategy"
	"github.com/basketlabs/bvm/internal/vault"
	"github.com/basketlabs/bvm/internal/web"
)

// main is the entry point for the BVM system.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel, config.LogFile)
	log.Info().Msg("BVM Core Logic Starting...")

	// Initialize database connection
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load and validate the vault composition
	comp, feeds, err := config.LoadComposition(config.CompositionFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", config.CompositionFile).Msg("Failed to load vault composition")
	}
	log.Info().
		Str("vault", comp.Name).
		Int("assets", len(comp.Assets)).
		Int("feeds", len(feeds)).
		Msg("Vault composition loaded")

	// --- 2. Engine Wiring ---
	// Oracle: authority-pushed quotes. A feed-account reader slots in here
	// for assets with published feeds.
	provider := oracle.NewManualProvider(config.VaultOwner)

	balances := simulations.NewMemoryBalances()
	exchange := simulations.NewSimulatedExchange(nil, nil, 0)

	var ledger *strategy.Ledger
	if staked, ok := comp.StakedAsset(); ok {
		ledger = strategy.NewLedger(strategy.NewSimulatedStrategy(staked.Symbol+"-staking", 0))
	}

	var sealer *confidential.Sealer
	var computer confidential.Computer
	confidentialMode := false
	if config.ConfidentialKeyHex != "" {
		key, err := hex.DecodeString(config.ConfidentialKeyHex)
		if err != nil || len(key) != 32 {
			log.Fatal().Msg("BVM_CONFIDENTIAL_KEY must be 32 bytes, hex encoded")
		}
		sealer, err = confidential.NewSealer(key)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build sealer")
		}
		computer = confidential.NewSealedComputer(sealer)
		confidentialMode = true
		log.Info().Msg("Confidential rebalancing path enabled")
	}

	engine := vault.NewEngine(comp, balances, exchange, provider, ledger, sealer, computer, vault.Policy{
		DriftThresholdPercent: config.DriftThresholdPercent,
		MaxQuoteAge:           config.MaxQuoteAge,
	})

	// --- 3. Start Web Server ---
	webPort := strconv.Itoa(config.WebPort)
	webServer := web.NewWebServer(webPort, comp.Name, engine, provider)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting BVM web dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Create BVM Instance ---
	instance, err := bvm.NewBVM(bvm.Config{
		Engine:       engine,
		VaultName:    comp.Name,
		Confidential: confidentialMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BVM instance")
	}

	// --- 5. Start BVM Main Loop ---
	log.Info().Str("interval", config.CycleInterval.String()).Msg("Starting BVM main loop")

	ctx := context.Background()
	instance.RunLoop(ctx, config.CycleInterval)
}
