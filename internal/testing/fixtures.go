package testing

import (
	"time"

	"github.com/aristath/bucketeer/internal/domain"
)

// Equity returns a held equity position
func Equity(symbol string, qty int, entry, current float64) domain.Position {
	p := domain.PositionFromSymbol(symbol, qty, entry)
	p.CurrentPrice = current
	return p
}

// Option returns a held option position built from an OSI symbol
func Option(osi string, qty int, entry, current float64) domain.Position {
	p := domain.PositionFromSymbol(osi, qty, entry)
	p.CurrentPrice = current
	return p
}

// OSI formats an option symbol
func OSI(underlying string, expiration time.Time, optType domain.OptionType, strike float64) string {
	return domain.OptionSymbol{
		Underlying: underlying,
		Expiration: expiration,
		Type:       optType,
		Strike:     strike,
	}.String()
}

// Snapshot builds a snapshot with the given balances and positions
func Snapshot(equity, cash float64, positions ...domain.Position) domain.Snapshot {
	return domain.Snapshot{
		Equity:           equity,
		Cash:             cash,
		BuyingPower:      cash,
		Positions:        positions,
		UnderlyingPrices: map[string]float64{},
		TakenAt:          time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC),
	}
}
