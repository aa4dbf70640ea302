package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"namedeal/config"
	"namedeal/gateway"
	"namedeal/native/deal"
	"namedeal/native/dispatcher"
	"namedeal/observability/logging"
	"namedeal/storage"
)

func main() {
	configFile := flag.String("config", "./namedeal.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NAMEDEAL_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("namedeald", env, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "deals"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	store := storage.NewStore(db)
	if err := configureVaults(store, cfg); err != nil {
		logger.Error("Failed to configure vaults", slog.Any("error", err))
		os.Exit(1)
	}

	engine := deal.NewEngine()
	engine.SetState(store)
	if err := configureEngine(engine, cfg); err != nil {
		logger.Error("Failed to configure engine", slog.Any("error", err))
		os.Exit(1)
	}

	schedules, err := buildSchedules(cfg)
	if err != nil {
		logger.Error("Failed to build schedules", slog.Any("error", err))
		os.Exit(1)
	}
	disp := dispatcher.New(engine, schedules, logger)

	auth := gateway.NewAuthenticator(gateway.AuthConfig{
		Enabled:    strings.TrimSpace(cfg.JWTSecret) != "",
		HMACSecret: cfg.JWTSecret,
	}, logger)
	limiter := gateway.NewRateLimiter(cfg.RequestsPerMinute)
	server := gateway.NewServer(engine, disp, auth, limiter, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "address", cfg.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway failed", slog.Any("error", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", slog.Any("error", err))
	}
}

func configureVaults(store *storage.Store, cfg *config.Config) error {
	coin, err := config.ParseAddress(cfg.VaultCoinAddress)
	if err != nil {
		return fmt.Errorf("vault coin address: %w", err)
	}
	token, err := config.ParseAddress(cfg.VaultTokenAddress)
	if err != nil {
		return fmt.Errorf("vault token address: %w", err)
	}
	store.SetVaultAddress(deal.LegCoin, coin)
	store.SetVaultAddress(deal.LegToken, token)
	return nil
}

func configureEngine(engine *deal.Engine, cfg *config.Config) error {
	treasury, err := config.ParseAddress(cfg.TreasuryAddress)
	if err != nil {
		return fmt.Errorf("treasury address: %w", err)
	}
	engine.SetTreasury(treasury)
	if strings.TrimSpace(cfg.VoucherSignerAddress) != "" {
		signer, err := config.ParseAddress(cfg.VoucherSignerAddress)
		if err != nil {
			return fmt.Errorf("voucher signer address: %w", err)
		}
		engine.SetVoucherSigner(signer)
	}
	return nil
}

var kindByName = map[string]deal.Kind{
	"sale":          deal.KindSale,
	"multi_sale":    deal.KindMultiSale,
	"auction":       deal.KindAuction,
	"multi_auction": deal.KindMultiAuction,
	"offer":         deal.KindOffer,
	"multi_offer":   deal.KindMultiOffer,
	"swap":          deal.KindSwap,
}

func buildSchedules(cfg *config.Config) (map[deal.Kind]dispatcher.Schedule, error) {
	schedules := make(map[deal.Kind]dispatcher.Schedule, len(cfg.Schedule))
	for name, entry := range cfg.Schedule {
		kind, ok := kindByName[name]
		if !ok {
			return nil, fmt.Errorf("unknown schedule kind %q", name)
		}
		schedules[kind] = dispatcher.Schedule{
			CommissionFactor: entry.CommissionFactor,
			MaxCommission:    big.NewInt(entry.MaxCommission),
			MinPrice:         big.NewInt(entry.MinPrice),
		}
	}
	return schedules, nil
}
