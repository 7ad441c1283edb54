package portfolio

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/bucketeer/internal/domain"
	"github.com/aristath/bucketeer/internal/modules/marketdata"
	testingpkg "github.com/aristath/bucketeer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotService_Refresh(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	broker := testingpkg.NewMockBroker(20000, 4000)
	broker.Positions = []domain.BrokerPosition{
		{Symbol: "SPY", Quantity: 10, AvgPrice: 400},
		{Symbol: "SPY   251219C00500000", Quantity: 2, CostBasis: 1000},
		{Symbol: "NOQUOTE", Quantity: 5, AvgPrice: 10},
	}
	market := testingpkg.NewMockMarketData()
	market.SetQuote("SPY", 449, 451)
	market.SetQuote("SPY251219C00500000", 6, 7)
	market.SetLast("QQQ", 380)

	svc := NewSnapshotService(broker, market, log)
	_, ok := svc.Latest()
	assert.False(t, ok)

	snap, err := svc.Refresh(context.Background(), []string{"QQQ", "IWM"})
	require.NoError(t, err)

	assert.Equal(t, 20000.0, snap.Equity)
	require.Len(t, snap.Positions, 3)
	assert.Equal(t, 450.0, snap.Positions[0].CurrentPrice)

	opt := snap.Positions[1]
	assert.True(t, opt.IsOption())
	assert.Equal(t, "SPY", opt.Underlying)
	assert.InDelta(t, 5.0, opt.EntryPrice, 1e-9) // 1000 / (2 * 100)
	assert.Equal(t, 6.5, opt.CurrentPrice)

	// Missing quote is left at zero, never invented
	assert.Equal(t, 0.0, snap.Positions[2].CurrentPrice)

	assert.Equal(t, 450.0, snap.UnderlyingPrices["SPY"])
	assert.Equal(t, 380.0, snap.UnderlyingPrices["QQQ"])
	_, hasIWM := snap.UnderlyingPrices["IWM"]
	assert.False(t, hasIWM)

	latest, ok := svc.Latest()
	require.True(t, ok)
	assert.Equal(t, snap.Equity, latest.Equity)
}

func TestSnapshotService_CashOnlyEquityFallback(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	broker := testingpkg.NewMockBroker(0, 2500)
	svc := NewSnapshotService(broker, testingpkg.NewMockMarketData(), log)

	snap, err := svc.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, snap.Equity)
}

func TestSnapshotService_BalanceFailure(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	broker := testingpkg.NewMockBroker(0, 0)
	broker.BalancesErr = errors.New("boom")
	svc := NewSnapshotService(broker, testingpkg.NewMockMarketData(), log)

	_, err := svc.Refresh(context.Background(), nil)
	require.Error(t, err)
	_, ok := svc.Latest()
	assert.False(t, ok)
}

func TestSnapshotService_WarmsQuotesInOneRequest(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	bid, ask, last := 449.0, 451.0, 380.0
	optBid, optAsk := 6.0, 7.0

	broker := testingpkg.NewMockBroker(20000, 4000)
	broker.Positions = []domain.BrokerPosition{
		{Symbol: "SPY", Quantity: 10, AvgPrice: 400},
		{Symbol: "SPY251219C00500000", Quantity: 2, AvgPrice: 5},
		{Symbol: "NOQUOTE", Quantity: 5, AvgPrice: 10},
	}
	broker.Quotes["SPY"] = domain.BrokerQuote{Symbol: "SPY", Bid: &bid, Ask: &ask}
	broker.Quotes["SPY251219C00500000"] = domain.BrokerQuote{Symbol: "SPY251219C00500000", Bid: &optBid, Ask: &optAsk}
	broker.Quotes["QQQ"] = domain.BrokerQuote{Symbol: "QQQ", Last: &last}

	svc := NewSnapshotService(broker, marketdata.NewService(broker, log), log)
	snap, err := svc.Refresh(context.Background(), []string{"QQQ", "IWM"})
	require.NoError(t, err)

	assert.Equal(t, 1, broker.CallCount("GetQuotes"))
	require.Len(t, snap.Positions, 3)
	assert.Equal(t, 450.0, snap.Positions[0].CurrentPrice)
	assert.Equal(t, 6.5, snap.Positions[1].CurrentPrice)
	assert.Equal(t, 0.0, snap.Positions[2].CurrentPrice)
	assert.Equal(t, 380.0, snap.UnderlyingPrices["QQQ"])
	assert.Equal(t, 450.0, snap.UnderlyingPrices["SPY"])
}
