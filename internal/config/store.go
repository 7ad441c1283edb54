package config

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// StrategyVersion is an immutable, numbered configuration snapshot.
// A decision cycle reads one version for its whole duration.
type StrategyVersion struct {
	Version   uint64            `json:"version"`
	Config    StrategyConfig    `json:"config"`
	Overrides map[string]string `json:"overrides"`
	CreatedAt time.Time         `json:"created_at"`
}

// StrategyStore holds the current StrategyVersion. Reads are lock-free;
// writers serialize on mu and publish a new version.
type StrategyStore struct {
	current   atomic.Pointer[StrategyVersion]
	mu        sync.Mutex
	base      StrategyConfig
	overrides map[string]string
}

// NewStrategyStore creates a store at version 1
func NewStrategyStore(base StrategyConfig) *StrategyStore {
	s := &StrategyStore{base: base, overrides: map[string]string{}}
	s.current.Store(&StrategyVersion{
		Version:   1,
		Config:    base,
		Overrides: map[string]string{},
		CreatedAt: time.Now(),
	})
	return s
}

// Current returns the latest published version
func (s *StrategyStore) Current() *StrategyVersion {
	return s.current.Load()
}

// Config returns the latest configuration
func (s *StrategyStore) Config() StrategyConfig {
	return s.current.Load().Config
}

// SetOverride applies one live override and publishes a new version
func (s *StrategyStore) SetOverride(key, value string) (*StrategyVersion, error) {
	return s.SetOverrides(map[string]string{key: value})
}

// SetOverrides applies a batch of overrides atomically. On error nothing is published.
func (s *StrategyStore) SetOverrides(values map[string]string) (*StrategyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]string, len(s.overrides)+len(values))
	for k, v := range s.overrides {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return s.publish(s.base, merged)
}

// ClearOverride removes an override and publishes a new version
func (s *StrategyStore) ClearOverride(key string) (*StrategyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]string, len(s.overrides))
	for k, v := range s.overrides {
		if k != key {
			merged[k] = v
		}
	}
	return s.publish(s.base, merged)
}

// Replace swaps the base configuration, keeping live overrides
func (s *StrategyStore) Replace(base StrategyConfig) (*StrategyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publish(base, s.overrides)
}

func (s *StrategyStore) publish(base StrategyConfig, overrides map[string]string) (*StrategyVersion, error) {
	cfg, err := ApplyOverrides(base, overrides)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	copied := make(map[string]string, len(overrides))
	for k, v := range overrides {
		copied[k] = v
	}
	next := &StrategyVersion{
		Version:   s.current.Load().Version + 1,
		Config:    cfg,
		Overrides: copied,
		CreatedAt: time.Now(),
	}
	s.base = base
	s.overrides = copied
	s.current.Store(next)
	return next, nil
}

type overrideSetter func(c *StrategyConfig, value string) error

func floatSetter(field func(c *StrategyConfig) *float64) overrideSetter {
	return func(c *StrategyConfig, value string) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func intSetter(field func(c *StrategyConfig) *int) overrideSetter {
	return func(c *StrategyConfig, value string) error {
		i, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*field(c) = i
		return nil
	}
}

func durationSetter(field func(c *StrategyConfig) *time.Duration) overrideSetter {
	return func(c *StrategyConfig, value string) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// overrideKeys are the runtime-editable settings, keyed as section.field
var overrideKeys = map[string]overrideSetter{
	"dead_band":                            floatSetter(func(c *StrategyConfig) *float64 { return &c.DeadBand }),
	"take_profit.full_close_pnl":           floatSetter(func(c *StrategyConfig) *float64 { return &c.TakeProfit.FullClosePnL }),
	"take_profit.partial_close_pnl":        floatSetter(func(c *StrategyConfig) *float64 { return &c.TakeProfit.PartialClosePnL }),
	"take_profit.close_fraction":           floatSetter(func(c *StrategyConfig) *float64 { return &c.TakeProfit.CloseFraction }),
	"stop_loss.drawdown_pnl":               floatSetter(func(c *StrategyConfig) *float64 { return &c.StopLoss.DrawdownPnL }),
	"stop_loss.strike_buffer":              floatSetter(func(c *StrategyConfig) *float64 { return &c.StopLoss.StrikeBuffer }),
	"stop_loss.close_dte":                  intSetter(func(c *StrategyConfig) *int { return &c.StopLoss.CloseDTE }),
	"roll.trigger_dte":                     intSetter(func(c *StrategyConfig) *int { return &c.Roll.TriggerDTE }),
	"roll.max_debit_pct":                   floatSetter(func(c *StrategyConfig) *float64 { return &c.Roll.MaxDebitPct }),
	"roll.max_debit_abs":                   floatSetter(func(c *StrategyConfig) *float64 { return &c.Roll.MaxDebitAbs }),
	"contracts.min_dte":                    intSetter(func(c *StrategyConfig) *int { return &c.Contracts.MinDTE }),
	"contracts.max_dte":                    intSetter(func(c *StrategyConfig) *int { return &c.Contracts.MaxDTE }),
	"contracts.strike_moneyness":           floatSetter(func(c *StrategyConfig) *float64 { return &c.Contracts.StrikeMoneyness }),
	"contracts.min_open_interest":          intSetter(func(c *StrategyConfig) *int { return &c.Contracts.MinOpenInterest }),
	"contracts.max_spread_pct":             floatSetter(func(c *StrategyConfig) *float64 { return &c.Contracts.MaxSpreadPct }),
	"governance.kill_switch_drawdown":      floatSetter(func(c *StrategyConfig) *float64 { return &c.Governance.KillSwitchDrawdown }),
	"governance.kill_switch_lookback_days": intSetter(func(c *StrategyConfig) *int { return &c.Governance.KillSwitchLookbackDays }),
	"governance.cash_min_fraction":         floatSetter(func(c *StrategyConfig) *float64 { return &c.Governance.CashMinFraction }),
	"governance.max_single_position":       floatSetter(func(c *StrategyConfig) *float64 { return &c.Governance.MaxSinglePosition }),
	"governance.max_correlated":            floatSetter(func(c *StrategyConfig) *float64 { return &c.Governance.MaxCorrelated }),
	"governance.moonshot_cap":              floatSetter(func(c *StrategyConfig) *float64 { return &c.Governance.MoonshotCap }),
	"execution.max_trades_per_day":         intSetter(func(c *StrategyConfig) *int { return &c.Execution.MaxTradesPerDay }),
	"execution.poll_interval":              durationSetter(func(c *StrategyConfig) *time.Duration { return &c.Execution.PollInterval }),
	"execution.cycle_poll_timeout":         durationSetter(func(c *StrategyConfig) *time.Duration { return &c.Execution.CyclePollTimeout }),
	"execution.manual_poll_timeout":        durationSetter(func(c *StrategyConfig) *time.Duration { return &c.Execution.ManualPollTimeout }),
	"execution.same_day_cutoff": func(c *StrategyConfig, value string) error {
		c.Execution.SameDayCutoff = value
		return nil
	},
	"alerts.warning_drawdown":  floatSetter(func(c *StrategyConfig) *float64 { return &c.Alerts.WarningDrawdown }),
	"alerts.roll_warning_days": intSetter(func(c *StrategyConfig) *int { return &c.Alerts.RollWarningDays }),
	"alerts.cap_warning":       floatSetter(func(c *StrategyConfig) *float64 { return &c.Alerts.CapWarning }),
	"alerts.coalesce_window":   durationSetter(func(c *StrategyConfig) *time.Duration { return &c.Alerts.CoalesceWindow }),
}

// OverrideKeys lists the runtime-editable setting keys in sorted order
func OverrideKeys() []string {
	keys := make([]string, 0, len(overrideKeys))
	for k := range overrideKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsOverrideKey reports whether key is runtime-editable
func IsOverrideKey(key string) bool {
	_, ok := overrideKeys[key]
	return ok
}

// ApplyOverrides returns a copy of base with the overrides applied
func ApplyOverrides(base StrategyConfig, overrides map[string]string) (StrategyConfig, error) {
	cfg := base
	cfg.Buckets = append([]Bucket(nil), base.Buckets...)

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		setter, ok := overrideKeys[key]
		if !ok {
			return StrategyConfig{}, fmt.Errorf("unknown setting %q", key)
		}
		if err := setter(&cfg, overrides[key]); err != nil {
			return StrategyConfig{}, fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return cfg, nil
}
