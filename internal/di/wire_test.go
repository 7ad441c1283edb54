package di

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:           t.TempDir(),
		Port:              8080,
		TradingMode:       config.TradingModePaper,
		CycleSchedule:     "0 */15 9-16 * * MON-FRI",
		RecoverySchedule:  "0 */5 * * * *",
		PaperStartingCash: 10000,
		Broker: config.BrokerConfig{
			BaseURL:       "http://127.0.0.1:1",
			RatePerMinute: 60,
		},
	}
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.FileExists(t, filepath.Join(cfg.DataDir, "ledger.db"))
	assert.FileExists(t, filepath.Join(cfg.DataDir, "config.db"))

	for _, table := range []string{"orders", "fills", "equity_history"} {
		var name string
		err := container.LedgerDB.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "ledger table %s", table)
	}
	for _, table := range []string{"settings", "alert_state", "alert_log"} {
		var name string
		err := container.ConfigDB.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "config table %s", table)
	}
}

func TestInitializeRepositories_RequiresDatabases(t *testing.T) {
	assert.Error(t, InitializeRepositories(&Container{}, zerolog.Nop()))
}

func TestLoadStrategyStore_ReplaysOverrides(t *testing.T) {
	cfg := testConfig(t)
	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()
	require.NoError(t, InitializeRepositories(container, zerolog.Nop()))

	repo := container.SettingsRepo
	require.NoError(t, repo.SetStrategyOverride("execution.max_trades_per_day", "3"))
	require.NoError(t, repo.SetStrategyOverride("governance.cash_min_fraction", "plenty"))
	require.NoError(t, repo.SetStrategyOverride("no.such.key", "1"))

	store, err := loadStrategyStore("", repo, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 3, store.Config().Execution.MaxTradesPerDay)
	assert.Equal(t, 0.20, store.Config().Governance.CashMinFraction)
	assert.Equal(t, map[string]string{"execution.max_trades_per_day": "3"}, store.Current().Overrides)
}

func TestWire_PaperMode(t *testing.T) {
	cfg := testConfig(t)

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	require.NotNil(t, container.PaperBroker)
	assert.Same(t, container.PaperBroker, container.BrokerClient)
	assert.NotNil(t, container.Orchestrator)
	assert.NotNil(t, container.AlertManager)
	assert.Nil(t, container.BackupService)

	jobs := container.Scheduler.Jobs()
	sort.Strings(jobs)
	assert.Equal(t, []string{"database_integrity", "database_maintenance", "decision_cycle", "order_recovery", "wal_checkpoint"}, jobs)
}

func TestWire_LiveModeUsesAPIClient(t *testing.T) {
	cfg := testConfig(t)
	cfg.TradingMode = config.TradingModeLive
	cfg.Broker.AccountID = "acct-1"

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.Nil(t, container.PaperBroker)
	assert.Same(t, container.APIClient, container.BrokerClient)
}

func TestWire_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"no market data source", func(c *config.Config) { c.Broker.BaseURL = "" }},
		{"bad cycle schedule", func(c *config.Config) { c.CycleSchedule = "every now and then" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(cfg)
			_, err := Wire(context.Background(), cfg, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}
