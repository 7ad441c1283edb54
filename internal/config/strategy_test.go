package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStrategy_IsValid(t *testing.T) {
	c := DefaultStrategy()
	require.NoError(t, c.Validate())
	assert.Equal(t, 2.0, c.TakeProfit.FullClosePnL)
	assert.Equal(t, 1.0, c.TakeProfit.PartialClosePnL)
	assert.Equal(t, 0.30, c.Governance.MoonshotCap)
	assert.Equal(t, 24*time.Hour, c.Alerts.CoalesceWindow)

	m, ok := c.MoonshotBucket()
	require.True(t, ok)
	assert.Equal(t, "moonshot", m.Name)
	assert.Len(t, c.TrackedBuckets(), 2)
}

func TestParseStrategy_AppliesDefaultsAndDurations(t *testing.T) {
	content := []byte(`
buckets:
  - name: core
    underlying: SPY
    target: 0.6
  - name: moonshot
    symbols: [TSLA]
    target: 0.1
    speculative: true
governance:
  cash_min_fraction: 0.25
execution:
  poll_interval: 5s
  max_trades_per_day: 4
`)
	c, err := ParseStrategy(content)
	require.NoError(t, err)
	assert.Equal(t, 0.25, c.Governance.CashMinFraction)
	assert.Equal(t, 5*time.Second, c.Execution.PollInterval)
	assert.Equal(t, 4, c.Execution.MaxTradesPerDay)
	assert.Equal(t, 0.20, c.Governance.KillSwitchDrawdown)
	assert.Equal(t, "America/New_York", c.Execution.ExchangeTimezone)
	assert.Len(t, c.Buckets, 2)
}

func TestParseStrategy_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", "buckets: [unclosed"},
		{"targets above one", "buckets:\n  - {name: a, underlying: SPY, target: 0.7}\n  - {name: b, underlying: QQQ, target: 0.5}\n"},
		{"duplicate bucket", "buckets:\n  - {name: a, underlying: SPY, target: 0.1}\n  - {name: a, underlying: QQQ, target: 0.1}\n"},
		{"two speculative", "buckets:\n  - {name: a, symbols: [X], target: 0.1, speculative: true}\n  - {name: b, symbols: [Y], target: 0.1, speculative: true}\n"},
		{"bad cutoff", "execution:\n  same_day_cutoff: \"25:99\"\n"},
		{"warning above kill", "alerts:\n  warning_drawdown: 0.5\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseStrategy([]byte(tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadStrategy_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dead_band: 0.05\n"), 0644))

	c, err := LoadStrategy(path)
	require.NoError(t, err)
	assert.Equal(t, 0.05, c.DeadBand)

	_, err = LoadStrategy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	c, err = LoadStrategy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultStrategy().DeadBand, c.DeadBand)
}

func TestBucketFractions(t *testing.T) {
	c := DefaultStrategy()
	snap := domain.Snapshot{
		Equity: 10000,
		Positions: []domain.Position{
			{Symbol: "SPY", Quantity: 10, CurrentPrice: 400, Class: domain.ClassEquity},
			domain.PositionFromSymbol("TSLA251219C00300000", 2, 5),
		},
	}
	snap.Positions[1].CurrentPrice = 10

	core, _ := c.BucketFor(snap.Positions[0])
	assert.Equal(t, "core", core.Name)
	assert.InDelta(t, 0.40, c.BucketFraction(snap, core), 1e-9)
	assert.InDelta(t, 0.20, c.MoonshotFraction(snap), 1e-9)
	assert.Equal(t, "moonshot", c.BucketNameForSymbol("TSLA251219C00300000"))
	assert.Equal(t, "", c.BucketNameForSymbol("IBM"))
}
