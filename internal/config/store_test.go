package config

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyStore_Versions(t *testing.T) {
	s := NewStrategyStore(DefaultStrategy())
	v1 := s.Current()
	assert.Equal(t, uint64(1), v1.Version)

	v2, err := s.SetOverride("governance.cash_min_fraction", "0.3")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2.Version)
	assert.Equal(t, 0.3, s.Config().Governance.CashMinFraction)

	// A cycle holding v1 keeps seeing its own snapshot
	assert.Equal(t, 0.20, v1.Config.Governance.CashMinFraction)

	v3, err := s.ClearOverride("governance.cash_min_fraction")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v3.Version)
	assert.Equal(t, 0.20, s.Config().Governance.CashMinFraction)
	assert.Empty(t, v3.Overrides)
}

func TestStrategyStore_RejectsInvalid(t *testing.T) {
	s := NewStrategyStore(DefaultStrategy())

	_, err := s.SetOverride("nope", "1")
	assert.Error(t, err)

	_, err = s.SetOverride("roll.trigger_dte", "soon")
	assert.Error(t, err)

	// Would put the warning band above the hard cap
	_, err = s.SetOverride("alerts.cap_warning", "0.9")
	assert.Error(t, err)

	assert.Equal(t, uint64(1), s.Current().Version)
}

func TestStrategyStore_ReplaceKeepsOverrides(t *testing.T) {
	s := NewStrategyStore(DefaultStrategy())
	_, err := s.SetOverride("execution.poll_interval", "1s")
	require.NoError(t, err)

	base := DefaultStrategy()
	base.DeadBand = 0.04
	v, err := s.Replace(base)
	require.NoError(t, err)
	assert.Equal(t, 0.04, v.Config.DeadBand)
	assert.Equal(t, time.Second, v.Config.Execution.PollInterval)
}

func TestStrategyStore_ConcurrentReaders(t *testing.T) {
	s := NewStrategyStore(DefaultStrategy())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v := s.Current()
				assert.NotNil(t, v)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		_, err := s.SetOverride("dead_band", "0.03")
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, uint64(11), s.Current().Version)
}

func TestOverrideKeys_Sorted(t *testing.T) {
	keys := OverrideKeys()
	require.NotEmpty(t, keys)
	assert.True(t, IsOverrideKey("governance.moonshot_cap"))
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}
