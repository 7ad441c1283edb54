package governance

import (
	"testing"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
	testingpkg "github.com/aristath/bucketeer/internal/testing"
	"github.com/stretchr/testify/assert"
)

func hwm(v float64) *float64 { return &v }

func buy(symbol string, qty int, price float64) domain.Candidate {
	return domain.Candidate{Side: domain.SideBuy, Symbol: symbol, Quantity: qty, LimitPrice: price}
}

func spyCall(strike float64) string {
	return testingpkg.OSI("SPY", time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), domain.OptionCall, strike)
}

func sell(symbol string, qty int, price float64) domain.Candidate {
	return domain.Candidate{Side: domain.SideSell, Symbol: symbol, Quantity: qty, LimitPrice: price}
}

func TestEvaluate_CashBufferScenario(t *testing.T) {
	gate := NewGate(config.DefaultStrategy())
	snap := testingpkg.Snapshot(10000, 1500, testingpkg.Equity("IWM", 10, 200, 200))
	state := State{Snapshot: snap}

	d := gate.Evaluate(state, buy("XLE", 6, 100))
	assert.False(t, d.Allowed)
	assert.Equal(t, RuleCashBuffer, d.Rule)
	assert.Equal(t, "cash buffer would be violated: need $2000.00 minimum cash, have $1500.00 with $600.00 order", d.Reason)

	d = gate.Evaluate(state, sell("IWM", 10, 200))
	assert.True(t, d.Allowed)
}

func TestEvaluate_IsIdempotent(t *testing.T) {
	gate := NewGate(config.DefaultStrategy())
	snap := testingpkg.Snapshot(10000, 1500)
	state := State{Snapshot: snap, HighWaterMark: hwm(12000)}
	c := buy("XLE", 6, 100)

	first := gate.Evaluate(state, c)
	second := gate.Evaluate(state, c)
	assert.Equal(t, first, second)
	assert.Equal(t, 10000.0, state.Snapshot.Equity)
	assert.Equal(t, 12000.0, *state.HighWaterMark)
}

func TestEvaluate_KillSwitch(t *testing.T) {
	testCases := []struct {
		name    string
		hwm     *float64
		allowed bool
	}{
		{"no history", nil, true},
		{"shallow drawdown", hwm(11000), true},
		{"at threshold", hwm(12500), false},
		{"beyond threshold", hwm(20000), false},
	}

	gate := NewGate(config.DefaultStrategy())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			state := State{Snapshot: testingpkg.Snapshot(10000, 9000), HighWaterMark: tc.hwm}
			d := gate.Evaluate(state, buy("XLE", 1, 100))
			assert.Equal(t, tc.allowed, d.Allowed)
			if !tc.allowed {
				assert.Equal(t, RuleKillSwitch, d.Rule)
			}
		})
	}
}

func TestEvaluate_SellExemptPastKillSwitch(t *testing.T) {
	gate := NewGate(config.DefaultStrategy())
	// every BUY rule is violated here
	snap := testingpkg.Snapshot(10000, 100,
		testingpkg.Equity("SPY", 20, 500, 500),
		testingpkg.Equity("TSLA", 50, 100, 100),
	)
	state := State{Snapshot: snap, HighWaterMark: hwm(50000)}

	for _, c := range []domain.Candidate{sell("SPY", 1, 500), sell("TSLA", 50, 100), sell("NEW", 1, 1)} {
		assert.True(t, gate.Evaluate(state, c).Allowed, c.Symbol)
	}
	assert.False(t, gate.Evaluate(state, buy("SPY", 1, 500)).Allowed)
}

func TestEvaluate_ZeroEquityAllows(t *testing.T) {
	gate := NewGate(config.DefaultStrategy())
	state := State{Snapshot: testingpkg.Snapshot(0, 0), HighWaterMark: hwm(10000)}
	assert.True(t, gate.Evaluate(state, buy("SPY", 100, 500)).Allowed)
}

func TestEvaluate_PositionAndBucketLimits(t *testing.T) {
	testCases := []struct {
		name      string
		positions []domain.Position
		candidate domain.Candidate
		rule      string
	}{
		{
			name:      "max single position",
			positions: []domain.Position{testingpkg.Equity("XLE", 20, 100, 100)},
			candidate: buy("XLE", 6, 100), // 2600 > 2500
			rule:      RuleMaxPosition,
		},
		{
			name: "max correlated exposure",
			positions: []domain.Position{
				testingpkg.Option(spyCall(480), 1, 20, 20), // 20% each
				testingpkg.Option(spyCall(490), 1, 20, 20),
				testingpkg.Option(spyCall(500), 1, 20, 20),
				testingpkg.Option(spyCall(510), 1, 20, 20),
			},
			candidate: buy(spyCall(520), 1, 5), // 80% + 5%
			rule:      RuleMaxCorrelated,
		},
		{
			name: "moonshot hard cap",
			positions: []domain.Position{
				testingpkg.Equity("TSLA", 12, 100, 100),
				testingpkg.Equity("NVDA", 12, 100, 100),
			},
			candidate: buy("PLTR", 10, 70), // 24% + 7%
			rule:      RuleMoonshotCap,
		},
	}

	gate := NewGate(config.DefaultStrategy())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			snap := testingpkg.Snapshot(10000, 100000, tc.positions...)
			d := gate.Evaluate(State{Snapshot: snap}, tc.candidate)
			assert.False(t, d.Allowed)
			assert.Equal(t, tc.rule, d.Rule, d.Reason)
		})
	}
}

func TestEvaluate_AllowsHealthyBuy(t *testing.T) {
	gate := NewGate(config.DefaultStrategy())
	snap := testingpkg.Snapshot(10000, 8000, testingpkg.Equity("SPY", 4, 500, 500))
	d := gate.Evaluate(State{Snapshot: snap, HighWaterMark: hwm(10200)}, buy("SPY", 1, 500))
	assert.True(t, d.Allowed, d.Reason)
	assert.Empty(t, d.Rule)
}

func TestDrawdown(t *testing.T) {
	snap := testingpkg.Snapshot(8000, 0)

	dd, ok := Drawdown(State{Snapshot: snap, HighWaterMark: hwm(10000)})
	assert.True(t, ok)
	assert.InDelta(t, 0.2, dd, 1e-9)

	_, ok = Drawdown(State{Snapshot: snap})
	assert.False(t, ok)

	dd, ok = Drawdown(State{Snapshot: snap, HighWaterMark: hwm(7000)})
	assert.True(t, ok)
	assert.Equal(t, 0.0, dd)
}
