package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
	testingpkg "github.com/aristath/bucketeer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine() (*Engine, *testingpkg.MockMarketData, *testingpkg.MockSelector) {
	market := testingpkg.NewMockMarketData()
	selector := testingpkg.NewMockSelector()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewEngine(market, selector, log), market, selector
}

func ofKind(cands []domain.Candidate, kinds ...domain.CandidateKind) []domain.Candidate {
	var out []domain.Candidate
	for _, c := range cands {
		for _, k := range kinds {
			if c.Kind == k {
				out = append(out, c)
			}
		}
	}
	return out
}

// snapshot date is 2025-03-10
func expiringIn(days int) time.Time {
	return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
}

func TestTakeProfit_Thresholds(t *testing.T) {
	testCases := []struct {
		name     string
		qty      int
		current  float64
		expected int
		full     bool
	}{
		{"+100% closes half", 10, 100, 5, false},
		{"+200% closes all", 10, 150, 10, true},
		{"just under +200% stays partial", 10, 149.99, 5, false},
		{"partial of one contract is one", 1, 100, 1, false},
		{"below threshold", 10, 99.99, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _, _ := newEngine()
			snap := testingpkg.Snapshot(100000, 50000, testingpkg.Equity("AAPL", tc.qty, 50, tc.current))

			cands := ofKind(engine.Decide(context.Background(), snap, config.DefaultStrategy()), domain.KindTakeProfit)
			if tc.expected == 0 {
				assert.Empty(t, cands)
				return
			}
			require.Len(t, cands, 1)
			c := cands[0]
			assert.Equal(t, domain.SideSell, c.Side)
			assert.Equal(t, tc.expected, c.Quantity)
			assert.Equal(t, 50.0, c.EntryPrice)
			if tc.full {
				assert.Contains(t, c.Rationale, "full position")
			} else {
				assert.NotContains(t, c.Rationale, "full position")
			}
		})
	}
}

func TestTakeProfit_StopsFurtherChecks(t *testing.T) {
	engine, market, selector := newEngine()
	osi := testingpkg.OSI("SPY", expiringIn(10), domain.OptionCall, 450)
	snap := testingpkg.Snapshot(100000, 50000, testingpkg.Option(osi, 2, 20, 60))
	snap.UnderlyingPrices["SPY"] = 500
	market.SetQuote(osi, 59, 61)
	selector.Contracts["SPY"] = &domain.ContractQuote{OSISymbol: "SPY250620C00500000", Mid: 30}

	cands := engine.Decide(context.Background(), snap, config.DefaultStrategy())
	require.NotEmpty(t, cands)
	assert.Equal(t, domain.KindTakeProfit, cands[0].Kind)
	assert.Empty(t, ofKind(cands, domain.KindRollClose, domain.KindRollOpen, domain.KindStopLoss))
	assert.Equal(t, 59.0, cands[0].LimitPrice, "sells at the bid")
}

func TestStopLoss(t *testing.T) {
	farCall := testingpkg.OSI("SPY", expiringIn(90), domain.OptionCall, 500)
	nearCall := testingpkg.OSI("SPY", expiringIn(5), domain.OptionCall, 500)

	testCases := []struct {
		name       string
		position   domain.Position
		underlying float64
		fires      bool
	}{
		{"equity drawdown", testingpkg.Equity("AAPL", 10, 100, 40), 0, true},
		{"equity small loss", testingpkg.Equity("AAPL", 10, 100, 60), 0, false},
		{"option drawdown beyond strike buffer", testingpkg.Option(farCall, 1, 10, 4), 450, true},
		{"option drawdown inside strike buffer", testingpkg.Option(farCall, 1, 10, 4), 490, false},
		{"option drawdown without underlying quote", testingpkg.Option(farCall, 1, 10, 4), 0, false},
		{"near expiry out of the money", testingpkg.Option(nearCall, 1, 2, 1.9), 480, true},
		{"near expiry in the money", testingpkg.Option(nearCall, 1, 2, 1.9), 520, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _, _ := newEngine()
			snap := testingpkg.Snapshot(100000, 50000, tc.position)
			if tc.underlying > 0 {
				snap.UnderlyingPrices["SPY"] = tc.underlying
			}

			cands := ofKind(engine.Decide(context.Background(), snap, config.DefaultStrategy()), domain.KindStopLoss)
			if !tc.fires {
				assert.Empty(t, cands)
				return
			}
			require.Len(t, cands, 1)
			assert.Equal(t, tc.position.Quantity, cands[0].Quantity)
			assert.Equal(t, domain.SideSell, cands[0].Side)
		})
	}
}

func TestRoll_CostCaps(t *testing.T) {
	old := testingpkg.OSI("SPY", expiringIn(10), domain.OptionCall, 450)
	replacement := testingpkg.OSI("SPY", expiringIn(90), domain.OptionCall, 500)

	testCases := []struct {
		name        string
		newMid      float64
		maxDebitPct float64
		maxDebitAbs float64
		accepted    bool
	}{
		// current value $60: pct cap 50% = $30
		{"within both caps", 70, 0.5, 25, true},
		{"over absolute cap only", 88, 0.5, 25, false},
		{"over percentage cap only", 100, 0.5, 50, false},
		{"credit roll", 55, 0.5, 25, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine, market, selector := newEngine()
			snap := testingpkg.Snapshot(1000000, 500000, testingpkg.Option(old, 3, 55, 60))
			snap.UnderlyingPrices["SPY"] = 500
			market.SetQuote(old, 59.5, 60.5)
			selector.Contracts["SPY"] = &domain.ContractQuote{OSISymbol: replacement, Bid: tc.newMid - 0.5, Ask: tc.newMid + 0.5, Mid: tc.newMid}

			cfg := config.DefaultStrategy()
			cfg.Roll.MaxDebitPct = tc.maxDebitPct
			cfg.Roll.MaxDebitAbs = tc.maxDebitAbs

			cands := ofKind(engine.Decide(context.Background(), snap, cfg), domain.KindRollClose, domain.KindRollOpen)
			if !tc.accepted {
				assert.Empty(t, cands)
				return
			}
			require.Len(t, cands, 2)
			assert.Equal(t, domain.KindRollClose, cands[0].Kind)
			assert.Equal(t, domain.SideSell, cands[0].Side)
			assert.Equal(t, 3, cands[0].Quantity)
			assert.Equal(t, 59.5, cands[0].LimitPrice)
			assert.Equal(t, domain.KindRollOpen, cands[1].Kind)
			assert.Equal(t, domain.SideBuy, cands[1].Side)
			assert.Equal(t, replacement, cands[1].Symbol)
			assert.Equal(t, 3, cands[1].Quantity)
			assert.Equal(t, tc.newMid, cands[1].LimitPrice)
			assert.Equal(t, "core", cands[1].Bucket)
		})
	}
}

func TestRoll_SkipsUntrackedAndSpeculative(t *testing.T) {
	engine, market, selector := newEngine()
	untracked := testingpkg.OSI("IWM", expiringIn(10), domain.OptionCall, 150)
	moonshot := testingpkg.OSI("TSLA", expiringIn(10), domain.OptionCall, 150)
	snap := testingpkg.Snapshot(1000000, 500000,
		testingpkg.Option(untracked, 1, 5, 5),
		testingpkg.Option(moonshot, 1, 5, 5),
	)
	snap.UnderlyingPrices["IWM"] = 200
	snap.UnderlyingPrices["TSLA"] = 200
	market.SetQuote(untracked, 4.9, 5.1)
	market.SetQuote(moonshot, 4.9, 5.1)
	selector.Contracts["IWM"] = &domain.ContractQuote{OSISymbol: "IWM250620C00150000", Mid: 5}
	selector.Contracts["TSLA"] = &domain.ContractQuote{OSISymbol: "TSLA250620C00150000", Mid: 5}

	cands := engine.Decide(context.Background(), snap, config.DefaultStrategy())
	assert.Empty(t, ofKind(cands, domain.KindRollClose, domain.KindRollOpen))
}

func TestCapTrim_ExcessOverCap(t *testing.T) {
	engine, _, _ := newEngine()
	// moonshot at 34% of $10,000 against a 30% cap
	snap := testingpkg.Snapshot(10000, 6600,
		testingpkg.Equity("TSLA", 17, 100, 100),
		testingpkg.Equity("NVDA", 17, 100, 100),
	)

	cands := engine.Decide(context.Background(), snap, config.DefaultStrategy())
	trims := ofKind(cands, domain.KindCapTrim)
	require.Len(t, trims, 2)

	trimmed := 0.0
	for _, c := range trims {
		assert.Equal(t, domain.SideSell, c.Side)
		assert.Equal(t, "moonshot", c.Bucket)
		trimmed += c.Notional()
	}
	assert.InDelta(t, 400.0, trimmed, 1e-9)

	// cap trims lead the list
	assert.Equal(t, domain.KindCapTrim, cands[0].Kind)
	assert.Equal(t, domain.KindCapTrim, cands[1].Kind)
}

func TestCapTrim_ProportionalAndSkipsUnquoted(t *testing.T) {
	engine, _, _ := newEngine()
	snap := testingpkg.Snapshot(10000, 6000,
		testingpkg.Equity("TSLA", 30, 100, 100), // $3000
		testingpkg.Equity("NVDA", 10, 100, 100), // $1000
		testingpkg.Equity("PLTR", 50, 10, 0),    // no quote
	)

	// 40% vs 30%: $1000 excess split 3:1
	trims := ofKind(engine.Decide(context.Background(), snap, config.DefaultStrategy()), domain.KindCapTrim)
	require.Len(t, trims, 2)
	assert.Equal(t, "TSLA", trims[0].Symbol)
	assert.Equal(t, 8, trims[0].Quantity) // ceil(750/100)
	assert.Equal(t, "NVDA", trims[1].Symbol)
	assert.Equal(t, 3, trims[1].Quantity) // ceil(250/100)
}

func TestCapTrim_UnderCapEmitsNothing(t *testing.T) {
	engine, _, _ := newEngine()
	snap := testingpkg.Snapshot(10000, 7000, testingpkg.Equity("TSLA", 30, 100, 100))

	assert.Empty(t, ofKind(engine.Decide(context.Background(), snap, config.DefaultStrategy()), domain.KindCapTrim))
}

func TestRebalance_BuyFloorsToContracts(t *testing.T) {
	engine, _, selector := newEngine()
	snap := testingpkg.Snapshot(10000, 10000)
	snap.UnderlyingPrices["SPY"] = 500
	selector.Contracts["SPY"] = &domain.ContractQuote{OSISymbol: "SPY250620C00500000", Bid: 9.9, Ask: 10.1, Mid: 10}

	cands := ofKind(engine.Decide(context.Background(), snap, config.DefaultStrategy()), domain.KindRebalanceBuy)
	require.Len(t, cands, 1)
	// need $4500 at $1000 per contract
	assert.Equal(t, 4, cands[0].Quantity)
	assert.Equal(t, 10.0, cands[0].LimitPrice)
	assert.Equal(t, "core", cands[0].Bucket)
	assert.Equal(t, []string{"SPY"}, selector.Requests)
}

func TestRebalance_SkipsWhenNothingQualifies(t *testing.T) {
	engine, _, selector := newEngine()
	snap := testingpkg.Snapshot(10000, 10000)
	snap.UnderlyingPrices["SPY"] = 500
	snap.UnderlyingPrices["QQQ"] = 400
	// QQQ contract too expensive for a single lot
	selector.Contracts["QQQ"] = &domain.ContractQuote{OSISymbol: "QQQ250620C00400000", Mid: 30}

	cands := ofKind(engine.Decide(context.Background(), snap, config.DefaultStrategy()), domain.KindRebalanceBuy)
	assert.Empty(t, cands)
}

func TestRebalance_SellOverweightBucket(t *testing.T) {
	engine, _, _ := newEngine()
	snap := testingpkg.Snapshot(10000, 6000, testingpkg.Equity("QQQ", 10, 400, 400))

	cands := ofKind(engine.Decide(context.Background(), snap, config.DefaultStrategy()), domain.KindRebalanceSell)
	require.Len(t, cands, 1)
	// 40% vs 25% target: $1500 over at $400 per share
	assert.Equal(t, 3, cands[0].Quantity)
	assert.Equal(t, "QQQ", cands[0].Symbol)
	assert.Equal(t, "growth", cands[0].Bucket)
}

func TestRebalance_WithinDeadBand(t *testing.T) {
	engine, _, selector := newEngine()
	snap := testingpkg.Snapshot(10000, 5600, testingpkg.Equity("SPY", 1, 4400, 4400))
	snap.UnderlyingPrices["SPY"] = 4400
	selector.Contracts["SPY"] = &domain.ContractQuote{OSISymbol: "SPY250620C04400000", Mid: 0.5}

	cands := ofKind(engine.Decide(context.Background(), snap, config.DefaultStrategy()), domain.KindRebalanceBuy, domain.KindRebalanceSell)
	for _, c := range cands {
		assert.NotEqual(t, "core", c.Bucket)
	}
}

func TestDecide_MissingQuoteSkipsPosition(t *testing.T) {
	engine, _, _ := newEngine()
	snap := testingpkg.Snapshot(100000, 50000, testingpkg.Equity("AAPL", 10, 50, 0))

	assert.Empty(t, engine.Decide(context.Background(), snap, config.DefaultStrategy()))
}

func TestDecide_NoDoubleSellAfterCapTrim(t *testing.T) {
	engine, _, _ := newEngine()
	// TSLA is over the cap and also up 200%
	snap := testingpkg.Snapshot(10000, 6600, testingpkg.Equity("TSLA", 34, 33, 100))

	cands := engine.Decide(context.Background(), snap, config.DefaultStrategy())
	total := 0
	for _, c := range cands {
		if c.Symbol == "TSLA" && c.Side == domain.SideSell {
			total += c.Quantity
		}
	}
	assert.Equal(t, 34, total)
	assert.Equal(t, domain.KindCapTrim, cands[0].Kind)
	assert.Equal(t, 4, cands[0].Quantity)
}
