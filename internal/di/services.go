package di

import (
	"context"
	"fmt"

	"github.com/aristath/bucketeer/internal/clients/broker"
	"github.com/aristath/bucketeer/internal/clients/paper"
	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/events"
	"github.com/aristath/bucketeer/internal/modules/alerts"
	"github.com/aristath/bucketeer/internal/modules/contracts"
	"github.com/aristath/bucketeer/internal/modules/execution"
	"github.com/aristath/bucketeer/internal/modules/marketdata"
	"github.com/aristath/bucketeer/internal/modules/orchestrator"
	"github.com/aristath/bucketeer/internal/modules/portfolio"
	"github.com/aristath/bucketeer/internal/modules/settings"
	"github.com/aristath/bucketeer/internal/modules/strategy"
	"github.com/aristath/bucketeer/internal/reliability"
	"github.com/rs/zerolog"
)

// paperOptionCommission is charged per contract by the simulator
const paperOptionCommission = 0.65

// InitializeServices builds clients and services on top of the repositories
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.SettingsRepo == nil {
		return fmt.Errorf("repositories must be initialized before services")
	}

	// Credentials stored in settings win over the environment
	if err := cfg.UpdateFromSettings(container.SettingsRepo); err != nil {
		log.Warn().Err(err).Msg("Failed to read broker credentials from settings, using environment")
	}

	store, err := loadStrategyStore(cfg.StrategyPath, container.SettingsRepo, log)
	if err != nil {
		return err
	}
	container.StrategyStore = store

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	if err := initializeBroker(container, cfg, log); err != nil {
		return err
	}

	container.MarketData = marketdata.NewService(container.BrokerClient, log)
	container.Selector = contracts.NewSelector(container.MarketData, store, log)
	container.Engine = strategy.NewEngine(container.MarketData, container.Selector, log)
	container.SnapshotService = portfolio.NewSnapshotService(container.BrokerClient, container.MarketData, log)
	container.Executor = execution.NewExecutor(container.BrokerClient, container.OrderRepo, container.EventManager, log)

	var notifiers []alerts.Notifier
	if discord := alerts.NewDiscordNotifier(cfg.DiscordWebhookURL, log); discord.Enabled() {
		notifiers = append(notifiers, discord)
		log.Info().Msg("Discord alert delivery enabled")
	}
	container.AlertManager = alerts.NewManager(
		container.AlertRepo,
		container.EquityRepo,
		container.EventManager,
		log,
		notifiers...,
	)

	container.Orchestrator = orchestrator.NewOrchestrator(
		container.SnapshotService,
		container.Engine,
		container.Executor,
		container.OrderRepo,
		container.EquityRepo,
		container.AlertManager,
		store,
		container.EventManager,
		log,
	)

	if cfg.Backup != nil && cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(ctx, *cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create backup storage client: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			s3Client,
			[]reliability.Backupable{container.LedgerDB, container.ConfigDB},
			cfg.DataDir,
			cfg.Backup.Prefix,
			cfg.Backup.RetentionDays,
			container.EventManager,
			log,
		)
	}

	log.Info().
		Str("trading_mode", cfg.TradingMode).
		Uint64("config_version", store.Current().Version).
		Msg("Services initialized")
	return nil
}

// initializeBroker creates the API client and, in paper mode, the simulator
// that prices against it
func initializeBroker(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.Broker.BaseURL == "" {
		return fmt.Errorf("BROKER_BASE_URL is required: paper trading prices against live market data")
	}
	container.APIClient = broker.NewClient(broker.Config{
		BaseURL:       cfg.Broker.BaseURL,
		APIToken:      cfg.Broker.APIToken,
		AccountID:     cfg.Broker.AccountID,
		RatePerMinute: cfg.Broker.RatePerMinute,
		Timeout:       cfg.Broker.Timeout,
	}, log)

	if cfg.IsLive() {
		container.BrokerClient = container.APIClient
		log.Warn().Msg("LIVE trading enabled: orders go to the execution API")
		return nil
	}

	container.PaperBroker = paper.NewBroker(paper.Config{
		StartingCash:     cfg.PaperStartingCash,
		OptionCommission: paperOptionCommission,
	}, container.APIClient, log)
	container.BrokerClient = container.PaperBroker
	log.Info().Float64("starting_cash", cfg.PaperStartingCash).Msg("Paper trading enabled")
	return nil
}

// loadStrategyStore reads the strategy file and replays persisted live
// overrides. Overrides that no longer validate are dropped with a warning.
func loadStrategyStore(path string, repo *settings.Repository, log zerolog.Logger) (*config.StrategyStore, error) {
	base, err := config.LoadStrategy(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy config: %w", err)
	}
	store := config.NewStrategyStore(base)

	overrides, err := repo.StrategyOverrides()
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy overrides: %w", err)
	}
	for key, value := range overrides {
		if !config.IsOverrideKey(key) {
			log.Warn().Str("key", key).Msg("Ignoring unknown strategy override")
			continue
		}
		if _, err := store.SetOverride(key, value); err != nil {
			log.Warn().Err(err).Str("key", key).Str("value", value).Msg("Ignoring invalid strategy override")
		}
	}
	return store, nil
}
