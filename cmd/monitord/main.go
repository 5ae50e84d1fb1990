// ====================================
// File: cmd/monitord/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-monitor/internal/config"
	"github.com/rovshanmuradov/solana-monitor/internal/engine"
	"github.com/rovshanmuradov/solana-monitor/internal/logger"
	"github.com/rovshanmuradov/solana-monitor/internal/marketdata"
	"github.com/rovshanmuradov/solana-monitor/internal/metrics"
	"github.com/rovshanmuradov/solana-monitor/internal/notify"
	"github.com/rovshanmuradov/solana-monitor/internal/storage/sqlite"
	"github.com/rovshanmuradov/solana-monitor/internal/trader"
	"github.com/rovshanmuradov/solana-monitor/internal/wallet"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err))
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		zap.NewExample().Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer log.Sync()
	log.Info("Starting monitor daemon")

	store, err := sqlite.NewStore(cfg.DatabasePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	if err := store.RunMigrations(); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := config.NewRegistry(store, log.Logger)
	if err := registry.SeedDefaults(ctx); err != nil {
		log.Fatal("Failed to seed config defaults", zap.Error(err))
	}

	market := marketdata.NewClient(cfg.MarketDataBaseURL, store, registry, log.Logger)
	registry.Register(market)

	m := metrics.New(prometheus.DefaultRegisterer)

	newTrader := func(secretKey string) (engine.Trader, func(), error) {
		w, err := wallet.New(secretKey)
		if err != nil {
			return nil, nil, err
		}
		t := trader.New(w, store, market, registry, log.Logger)
		registry.Register(t)
		return t, func() { registry.Unregister(t) }, nil
	}
	newNotifier := func(webhookURL string) engine.Notifier {
		return notify.New(webhookURL, log.Logger)
	}

	eng := engine.New(store, market, newTrader, newNotifier, m, log.Logger, engine.Options{})
	if err := eng.RecoverAll(ctx); err != nil {
		log.Error("Recovery finished with errors", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsListen,
		Handler: promhttp.Handler(),
	}
	go func() {
		log.Info("Metrics listener started", zap.String("addr", cfg.MetricsListen))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics listener failed", zap.Error(err))
		}
	}()

	// Ожидаем сигнал завершения.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Мониторы в статусе monitoring остаются как есть и будут подняты
	// восстановлением при следующем старте.
	eng.Shutdown(shutdownCtx)
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Metrics listener shutdown failed", zap.Error(err))
	}
	log.Info("Monitor daemon stopped")
}
