package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"

	"creditrail/config"
	"creditrail/core/types"
	"creditrail/crypto"
	"creditrail/native/lending"
	"creditrail/native/pricefeed"
	"creditrail/observability/logging"
	"creditrail/observability/metrics"
	telemetry "creditrail/observability/otel"
	"creditrail/rpc"
	"creditrail/storage"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const authorityPassEnv = "CREDITRAIL_AUTHORITY_PASS"

// vaultAddress derives the stable custody address for a module vault from its
// label. The addresses carry no key material; only the engine moves their
// balances.
func vaultAddress(label string) crypto.Address {
	hash := ethcrypto.Keccak256([]byte("creditrail/vault/" + label))
	return crypto.NewAddress(crypto.VaultPrefix, hash[12:])
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("creditraild", cfg.Environment, logging.Options{
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	if err := config.Validate(cfg); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	insecureOTLP := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecureOTLP = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "creditraild",
		Environment: cfg.Environment,
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:    insecureOTLP,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		logger.Error("Failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()
	state := storage.NewState(db)

	authorityKey, err := crypto.LoadFromKeystore(cfg.AuthorityKeystorePath, os.Getenv(authorityPassEnv))
	if err != nil {
		panic(fmt.Sprintf("Failed to load authority key: %v", err))
	}
	authority := authorityKey.PubKey().Address()

	oracle := pricefeed.NewStaticOracle()
	incomes := lending.NewIncomeRegistry()

	engine := lending.NewEngine(
		vaultAddress("liquidity"),
		vaultAddress("collateral"),
		vaultAddress("insurance"),
	)
	engine.SetState(state)
	engine.SetPoolID(cfg.Lending.PoolID)
	engine.SetOracle(oracle, cfg.Lending.MaxQuoteAge())
	engine.SetQuota(cfg.Lending.Quota())
	engine.SetActionPauses(cfg.Lending.ActionPauses())
	engine.SetIncomeSource(incomes.Lookup)
	engine.SetMetrics(metrics.Lending())

	if err := bootstrapState(logger, engine, state, cfg, authority); err != nil {
		logger.Error("Failed to bootstrap lending state", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(engine, logger)
	server.SetOracle(oracle)
	server.SetIncomeRegistry(incomes)
	if token := strings.TrimSpace(cfg.RPCAuthToken); token != "" {
		server.SetAuthToken(token)
	}

	logger.Info("creditraild ready",
		slog.String("component", "daemon"),
		slog.String("pool", cfg.Lending.PoolID),
		logging.MaskField("authority", authority.String()),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// bootstrapState materialises the reserve, the risk model and the vault
// accounts on first start. Existing records are left untouched so restarts
// never clobber live state.
func bootstrapState(logger *slog.Logger, engine *lending.Engine, state *storage.State, cfg *config.Config, authority crypto.Address) error {
	reserve, err := state.GetReserve(cfg.Lending.PoolID)
	if err != nil {
		return err
	}
	if reserve == nil {
		if err := engine.InitReserve(authority, cfg.Lending.Reserve()); err != nil {
			return err
		}
		logger.Info("initialised reserve", "component", "daemon", "pool", cfg.Lending.PoolID)
	}

	model, err := state.GetRiskModel(cfg.RiskModelID)
	if err != nil {
		return err
	}
	if model == nil {
		providers, err := cfg.ProviderAddresses()
		if err != nil {
			return err
		}
		model = &lending.RiskModel{
			ID:           cfg.RiskModelID,
			Authority:    authority,
			Tiers:        cfg.RiskTiers,
			KYCProviders: providers,
		}
		if err := engine.RegisterRiskModel(authority, model); err != nil {
			return err
		}
		logger.Info("registered risk model", "component", "daemon", "model", cfg.RiskModelID)
	}

	vaults := []crypto.Address{
		vaultAddress("liquidity"),
		vaultAddress("collateral"),
		vaultAddress("insurance"),
		authority,
	}
	for _, addr := range vaults {
		account, err := state.GetAccount(addr)
		if err != nil {
			return err
		}
		if account != nil {
			continue
		}
		fresh := &types.Account{BalanceRUSD: big.NewInt(0), BalanceCRL: big.NewInt(0)}
		if err := state.PutAccount(addr, fresh); err != nil {
			return err
		}
	}
	return nil
}
