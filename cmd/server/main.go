// Package main is the entry point for Bucketeer, a multi-bucket option
// allocation autotrader.
//
// Startup sequence:
// 1. Load process configuration (.env and environment)
// 2. Initialize logging
// 3. Wire databases, repositories, services and jobs
// 4. Recover orders left working by a previous run
// 5. Start the scheduler and the HTTP server
// 6. Wait for a shutdown signal and stop gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/di"
	"github.com/aristath/bucketeer/internal/server"
	"github.com/aristath/bucketeer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("trading_mode", cfg.TradingMode).
		Str("data_dir", cfg.DataDir).
		Msg("Starting Bucketeer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Resolve orders a previous run left PLACED or OPEN before trading again
	recoverCtx, recoverCancel := context.WithTimeout(ctx, 2*time.Minute)
	resolved, err := container.Executor.Recover(recoverCtx)
	recoverCancel()
	if err != nil {
		log.Error().Err(err).Msg("Startup order recovery failed")
	} else if resolved > 0 {
		log.Info().Int("resolved", resolved).Msg("Startup order recovery completed")
	}

	databases := make([]server.HealthChecker, 0, 2)
	for _, db := range container.Databases() {
		databases = append(databases, db)
	}

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		DataDir:      cfg.DataDir,
		TradingMode:  cfg.TradingMode,
		Cycles:       container.Orchestrator,
		Orders:       container.OrderRepo,
		Canceller:    container.Executor,
		Snapshots:    container.SnapshotService,
		Equity:       container.EquityRepo,
		Strategy:     container.StrategyStore,
		Overrides:    container.SettingsRepo,
		Alerts:       container.AlertManager,
		EventManager: container.EventManager,
		Databases:    databases,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	// Waits for a running cycle to finish
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	for _, db := range container.Databases() {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Str("database", db.Name()).Msg("Final WAL checkpoint failed")
		}
	}

	log.Info().Msg("Server stopped")
}
