package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPosition_PnLPct(t *testing.T) {
	pnl, ok := Position{EntryPrice: 2, CurrentPrice: 3}.PnLPct()
	assert.True(t, ok)
	assert.InDelta(t, 0.5, pnl, 1e-9)

	_, ok = Position{EntryPrice: 0, CurrentPrice: 3}.PnLPct()
	assert.False(t, ok)
	_, ok = Position{EntryPrice: 2}.PnLPct()
	assert.False(t, ok)
}

func TestPosition_IsOTM(t *testing.T) {
	call := Position{Class: ClassOption, OptionType: OptionCall, Strike: 100}
	put := Position{Class: ClassOption, OptionType: OptionPut, Strike: 100}

	assert.True(t, call.IsOTM(95))
	assert.False(t, call.IsOTM(105))
	assert.True(t, put.IsOTM(105))
	assert.False(t, put.IsOTM(95))
	assert.False(t, Position{Class: ClassEquity}.IsOTM(50))
}

func TestPosition_DTE(t *testing.T) {
	now := time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC)
	opt := Position{Class: ClassOption, Expiration: time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, 11, opt.DTE(now))
	assert.Equal(t, 0, Position{Class: ClassEquity}.DTE(now))
	assert.Equal(t, -1, DaysToExpiration(time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), now))
}

func TestSnapshot_Lookups(t *testing.T) {
	snap := Snapshot{
		Equity: 10000,
		Positions: []Position{
			{Symbol: "vti", Quantity: 10, CurrentPrice: 200, Class: ClassEquity},
			PositionFromSymbol("SPY   250321P00412500", 2, 3),
		},
		UnderlyingPrices: map[string]float64{"SPY": 415, "QQQ": 0},
	}
	snap.Positions[1].CurrentPrice = 5

	assert.InDelta(t, 2000, snap.SymbolValue("VTI"), 1e-9)
	assert.InDelta(t, 0.1, snap.ClassFraction(ClassOption), 1e-9)

	price, ok := snap.UnderlyingPrice("spy")
	assert.True(t, ok)
	assert.InDelta(t, 415, price, 1e-9)
	_, ok = snap.UnderlyingPrice("QQQ")
	assert.False(t, ok)
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	for _, s := range []OrderStatus{StatusFilled, StatusCancelled, StatusRejected, StatusExpired} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []OrderStatus{StatusProposed, StatusPlaced, StatusOpen, StatusGovernanceBlocked} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestCandidate_Notional(t *testing.T) {
	assert.InDelta(t, 620, Candidate{Symbol: "SPY250321P00412500", Quantity: 2, LimitPrice: 3.1}.Notional(), 1e-9)
	assert.InDelta(t, 2200, Candidate{Symbol: "VTI", Quantity: 10, LimitPrice: 220}.Notional(), 1e-9)
}
