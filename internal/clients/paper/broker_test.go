package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/bucketeer/internal/domain"
	testingpkg "github.com/aristath/bucketeer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func newPaper(t *testing.T, cash float64) (*Broker, *testingpkg.MockBroker) {
	t.Helper()
	source := testingpkg.NewMockBroker(0, 0)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewBroker(Config{StartingCash: cash, OptionCommission: 0.65}, source, log), source
}

const call = "SPY250620C00500000"

func TestPlaceOrder_FillsMarketableBuyAtAsk(t *testing.T) {
	b, source := newPaper(t, 10000)
	source.Quotes[call] = domain.BrokerQuote{Symbol: call, Bid: ptr(9.8), Ask: ptr(10.0)}
	ctx := context.Background()

	placed, err := b.PlaceOrder(ctx, domain.OrderRequest{ClientOrderID: "c1", Symbol: call, Side: domain.SideBuy, Quantity: 2, LimitPrice: 10.5})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlaced, placed.Status)

	order, err := b.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, order.Status)
	assert.Equal(t, 10.0, order.AvgFillPrice)

	// 2 contracts x $10 x 100 + 2 x $0.65
	assert.InDelta(t, 10000-2000-1.30, b.Book().Cash(), 1e-9)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 2, positions[0].Quantity)
	assert.Equal(t, 10.0, positions[0].AvgPrice)
	assert.Equal(t, 2000.0, positions[0].CostBasis)
}

func TestPlaceOrder_RestsUntilMarketable(t *testing.T) {
	b, source := newPaper(t, 10000)
	source.Quotes["SPY"] = domain.BrokerQuote{Symbol: "SPY", Bid: ptr(499), Ask: ptr(501)}
	ctx := context.Background()

	placed, err := b.PlaceOrder(ctx, domain.OrderRequest{Symbol: "SPY", Side: domain.SideBuy, Quantity: 1, LimitPrice: 495})
	require.NoError(t, err)

	order, err := b.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, order.Status)

	open, err := b.GetOpenOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	source.Quotes["SPY"] = domain.BrokerQuote{Symbol: "SPY", Bid: ptr(493), Ask: ptr(494)}
	order, err = b.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, order.Status)
	assert.Equal(t, 494.0, order.AvgFillPrice)
}

func TestPlaceOrder_NoQuoteStaysOpen(t *testing.T) {
	b, _ := newPaper(t, 10000)
	ctx := context.Background()

	placed, err := b.PlaceOrder(ctx, domain.OrderRequest{Symbol: "XYZ", Side: domain.SideBuy, Quantity: 1, LimitPrice: 10})
	require.NoError(t, err)
	order, err := b.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, order.Status)
}

func TestPlaceOrder_RejectsInsufficientCash(t *testing.T) {
	b, source := newPaper(t, 500)
	source.Quotes[call] = domain.BrokerQuote{Symbol: call, Bid: ptr(9.8), Ask: ptr(10.0)}
	ctx := context.Background()

	placed, err := b.PlaceOrder(ctx, domain.OrderRequest{Symbol: call, Side: domain.SideBuy, Quantity: 1, LimitPrice: 10})
	require.NoError(t, err)
	order, err := b.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, order.Status)
	assert.Equal(t, 500.0, b.Book().Cash())
}

func TestPlaceOrder_DuplicateClientIDReturnsOriginal(t *testing.T) {
	b, _ := newPaper(t, 10000)
	ctx := context.Background()
	req := domain.OrderRequest{ClientOrderID: "dup", Symbol: "SPY", Side: domain.SideBuy, Quantity: 1, LimitPrice: 10}

	first, err := b.PlaceOrder(ctx, req)
	require.NoError(t, err)
	second, err := b.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestSellRealizesAndPreviewGuardsQuantity(t *testing.T) {
	b, source := newPaper(t, 10000)
	source.Quotes[call] = domain.BrokerQuote{Symbol: call, Bid: ptr(10), Ask: ptr(10)}
	ctx := context.Background()

	_, err := b.PreviewOrder(ctx, domain.OrderRequest{Symbol: call, Side: domain.SideSell, Quantity: 1, LimitPrice: 10})
	assert.Error(t, err, "selling an unheld contract")

	buy, err := b.PlaceOrder(ctx, domain.OrderRequest{Symbol: call, Side: domain.SideBuy, Quantity: 2, LimitPrice: 10})
	require.NoError(t, err)
	_, err = b.GetOrder(ctx, buy.ID)
	require.NoError(t, err)

	source.Quotes[call] = domain.BrokerQuote{Symbol: call, Bid: ptr(20), Ask: ptr(20.5)}
	est, err := b.PreviewOrder(ctx, domain.OrderRequest{Symbol: call, Side: domain.SideSell, Quantity: 1, LimitPrice: 20})
	require.NoError(t, err)
	assert.Equal(t, 2000.0, est.Notional)
	assert.Equal(t, 0.0, est.BuyingPowerRequired)

	balances, err := b.GetBalances(ctx)
	require.NoError(t, err)
	// marked at mid 20.25
	assert.InDelta(t, balances.Cash+2*20.25*100, balances.Equity, 1e-9)

	sell, err := b.PlaceOrder(ctx, domain.OrderRequest{Symbol: call, Side: domain.SideSell, Quantity: 1, LimitPrice: 20})
	require.NoError(t, err)
	order, err := b.GetOrder(ctx, sell.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, order.Status)
	assert.Equal(t, 20.0, order.AvgFillPrice)
}

func TestCancelOrder(t *testing.T) {
	b, _ := newPaper(t, 10000)
	ctx := context.Background()

	placed, err := b.PlaceOrder(ctx, domain.OrderRequest{Symbol: "SPY", Side: domain.SideBuy, Quantity: 1, LimitPrice: 10})
	require.NoError(t, err)

	require.NoError(t, b.CancelOrder(ctx, placed.ID))
	order, err := b.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, order.Status)

	assert.Error(t, b.CancelOrder(ctx, placed.ID))
	assert.True(t, errors.Is(b.CancelOrder(ctx, "missing"), domain.ErrOrderNotFound))

	_, err = b.GetOrder(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))
}
