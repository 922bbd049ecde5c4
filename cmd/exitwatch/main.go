package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/maxkarpets/exitwatch/internal/audit"
	"github.com/maxkarpets/exitwatch/internal/config"
	"github.com/maxkarpets/exitwatch/internal/engine"
	"github.com/maxkarpets/exitwatch/internal/fees"
	"github.com/maxkarpets/exitwatch/internal/logger"
	"github.com/maxkarpets/exitwatch/internal/pricing"
	"github.com/maxkarpets/exitwatch/internal/rpcpool"
	"github.com/maxkarpets/exitwatch/internal/server"
	"github.com/maxkarpets/exitwatch/internal/storage"
	"github.com/maxkarpets/exitwatch/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/config.yml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync(log) }()

	log.Info("Starting exitwatch",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Int("rpc_fallbacks", len(cfg.RPCFallbacks)))

	store, err := postgres.NewStorage(cfg.PostgresURL, log.Named("storage"))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.CloseDB(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
	defer cancel()

	sourceConfigs, err := store.EnabledPriceSources(startCtx)
	if err != nil {
		return fmt.Errorf("failed to load price source configuration: %w", err)
	}
	chain, err := pricing.NewChain(sourceConfigs, cfg.RequestTimeout(), log)
	if err != nil {
		return err
	}
	if chain.SourceCount() == 0 {
		log.Warn("No usable price sources configured, every cycle will hold")
	}

	tradeCfg, err := store.TradeAPI(startCtx)
	if err != nil {
		return fmt.Errorf("failed to load trade API configuration: %w", err)
	}
	if tradeCfg == nil {
		return errors.New("no enabled trade API configured")
	}
	executor := engine.NewTradeExecutor(*tradeCfg, cfg.ExitSlippagePercent, cfg.RequestTimeout(), log)

	monitor := engine.NewMonitor(store, chain, executor, log)

	trail, err := audit.NewTrail(cfg.AuditFile, 5*time.Second, log)
	if err != nil {
		return fmt.Errorf("failed to open audit trail: %w", err)
	}
	defer func() {
		if err := trail.Close(); err != nil {
			log.Error("Failed to close audit trail", zap.Error(err))
		}
	}()
	monitor.SetExitRecorder(trail)

	reader := rpcpool.NewBalanceReader(cfg.RPCFallbacks, cfg.RequestTimeout(), log)
	sampler := rpcpool.NewFeeSampler(cfg.RPCFallbacks, cfg.RequestTimeout(), log)
	estimator := fees.NewEstimator(sampler, fees.Floors{
		Low:      cfg.FeeFloorLow,
		Medium:   cfg.FeeFloorMedium,
		High:     cfg.FeeFloorHigh,
		VeryHigh: cfg.FeeFloorVeryHigh,
	}, cfg.FeeCooldown(), log)

	rpcConfig := &primaryRPCResolver{store: store, fallback: cfg.RPCPrimary}
	handlers := server.NewHandlers(monitor, reader, estimator, rpcConfig, log)
	srv := server.New(server.Config{
		ListenAddr: cfg.ListenAddr,
		AuthToken:  cfg.AuthToken,
	}, handlers, log)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server crashed: %w", err)
	case sig := <-stop:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// primaryRPCResolver prefers the store-configured primary endpoint and falls
// back to the static configuration when none is set.
type primaryRPCResolver struct {
	store    storage.APIConfigStore
	fallback string
}

func (r *primaryRPCResolver) PrimaryRPC(ctx context.Context) (string, error) {
	primary, err := r.store.PrimaryRPC(ctx)
	if err != nil {
		return "", err
	}
	if primary == "" {
		primary = r.fallback
	}
	return primary, nil
}
