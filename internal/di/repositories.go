package di

import (
	"fmt"

	"github.com/aristath/bucketeer/internal/modules/alerts"
	"github.com/aristath/bucketeer/internal/modules/portfolio"
	"github.com/aristath/bucketeer/internal/modules/settings"
	"github.com/aristath/bucketeer/internal/modules/trading"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates every repository over the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil || container.LedgerDB == nil || container.ConfigDB == nil {
		return fmt.Errorf("databases must be initialized before repositories")
	}

	container.OrderRepo = trading.NewOrderRepository(container.LedgerDB.Conn(), log)
	container.EquityRepo = portfolio.NewEquityRepository(container.LedgerDB.Conn(), log)
	container.SettingsRepo = settings.NewRepository(container.ConfigDB.Conn(), log)
	container.AlertRepo = alerts.NewRepository(container.ConfigDB.Conn(), log)

	log.Debug().Msg("Repositories initialized")
	return nil
}
