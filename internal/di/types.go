// Package di provides dependency injection type definitions.
//
// Container holds every long-lived dependency. It is built by Wire and
// handed to the HTTP server and the scheduler.
package di

import (
	"github.com/aristath/bucketeer/internal/clients/broker"
	"github.com/aristath/bucketeer/internal/clients/paper"
	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/database"
	"github.com/aristath/bucketeer/internal/domain"
	"github.com/aristath/bucketeer/internal/events"
	"github.com/aristath/bucketeer/internal/modules/alerts"
	"github.com/aristath/bucketeer/internal/modules/contracts"
	"github.com/aristath/bucketeer/internal/modules/execution"
	"github.com/aristath/bucketeer/internal/modules/marketdata"
	"github.com/aristath/bucketeer/internal/modules/orchestrator"
	"github.com/aristath/bucketeer/internal/modules/portfolio"
	"github.com/aristath/bucketeer/internal/modules/settings"
	"github.com/aristath/bucketeer/internal/modules/strategy"
	"github.com/aristath/bucketeer/internal/modules/trading"
	"github.com/aristath/bucketeer/internal/reliability"
	"github.com/aristath/bucketeer/internal/scheduler"
)

// Container holds all dependencies for the application
type Container struct {
	// Databases
	LedgerDB *database.DB // orders, fills, equity_history
	ConfigDB *database.DB // settings, alert_state, alert_log

	// Repositories
	OrderRepo    *trading.OrderRepository
	EquityRepo   *portfolio.EquityRepository
	SettingsRepo *settings.Repository
	AlertRepo    *alerts.Repository

	// Clients. PaperBroker is nil in live mode.
	APIClient    *broker.Client
	PaperBroker  *paper.Broker
	BrokerClient domain.BrokerClient

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Services
	StrategyStore   *config.StrategyStore
	MarketData      *marketdata.Service
	Selector        *contracts.Selector
	Engine          *strategy.Engine
	SnapshotService *portfolio.SnapshotService
	Executor        *execution.Executor
	AlertManager    *alerts.Manager
	Orchestrator    *orchestrator.Orchestrator
	BackupService   *reliability.BackupService // nil when backups are disabled

	Scheduler *scheduler.Scheduler
}

// Databases returns every open database
func (c *Container) Databases() []*database.DB {
	var out []*database.DB
	for _, db := range []*database.DB{c.LedgerDB, c.ConfigDB} {
		if db != nil {
			out = append(out, db)
		}
	}
	return out
}

// Close closes every open database
func (c *Container) Close() {
	for _, db := range c.Databases() {
		_ = db.Close()
	}
}
