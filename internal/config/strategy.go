package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
	"gopkg.in/yaml.v3"
)

// Bucket is one configured allocation target
type Bucket struct {
	Name        string   `yaml:"name"`
	Underlying  string   `yaml:"underlying"`  // Rebalanced through options on this underlying
	Symbols     []string `yaml:"symbols"`     // Additional underlyings/equities counted in the bucket
	Target      float64  `yaml:"target"`      // Target fraction of equity
	Speculative bool     `yaml:"speculative"` // The moonshot sleeve
}

// Contains reports whether a position is counted in this bucket
func (b Bucket) Contains(p domain.Position) bool {
	u := domain.NormalizeSymbol(p.UnderlyingSymbol())
	if b.Underlying != "" && domain.NormalizeSymbol(b.Underlying) == u {
		return true
	}
	for _, s := range b.Symbols {
		if domain.NormalizeSymbol(s) == u {
			return true
		}
	}
	return false
}

// TakeProfitConfig holds take-profit thresholds (fractions, 1.0 = +100%)
type TakeProfitConfig struct {
	FullClosePnL    float64 `yaml:"full_close_pnl"`
	PartialClosePnL float64 `yaml:"partial_close_pnl"`
	CloseFraction   float64 `yaml:"close_fraction"`
}

// StopLossConfig holds stop-loss thresholds
type StopLossConfig struct {
	DrawdownPnL  float64 `yaml:"drawdown_pnl"`  // e.g. -0.5
	StrikeBuffer float64 `yaml:"strike_buffer"` // underlying beyond strike by this fraction
	CloseDTE     int     `yaml:"close_dte"`
}

// RollConfig holds roll trigger and cost caps (per-share premium)
type RollConfig struct {
	TriggerDTE  int     `yaml:"trigger_dte"`
	MaxDebitPct float64 `yaml:"max_debit_pct"`
	MaxDebitAbs float64 `yaml:"max_debit_abs"`
}

// ContractConfig holds the contract selector's filters
type ContractConfig struct {
	OptionType      domain.OptionType `yaml:"option_type"`
	MinDTE          int               `yaml:"min_dte"`
	MaxDTE          int               `yaml:"max_dte"`
	StrikeMoneyness float64           `yaml:"strike_moneyness"` // strike / underlying price target
	MinOpenInterest int               `yaml:"min_open_interest"`
	MaxSpreadPct    float64           `yaml:"max_spread_pct"` // (ask-bid)/mid
}

// GovernanceConfig holds the hard risk limits
type GovernanceConfig struct {
	KillSwitchDrawdown     float64 `yaml:"kill_switch_drawdown"`
	KillSwitchLookbackDays int     `yaml:"kill_switch_lookback_days"`
	CashMinFraction        float64 `yaml:"cash_min_fraction"`
	MaxSinglePosition      float64 `yaml:"max_single_position"`
	MaxCorrelated          float64 `yaml:"max_correlated"`
	MoonshotCap            float64 `yaml:"moonshot_cap"`
}

// ExecutionConfig holds order lifecycle settings
type ExecutionConfig struct {
	MaxTradesPerDay   int           `yaml:"max_trades_per_day"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	CyclePollTimeout  time.Duration `yaml:"cycle_poll_timeout"`
	ManualPollTimeout time.Duration `yaml:"manual_poll_timeout"`
	SameDayCutoff     string        `yaml:"same_day_cutoff"` // HH:MM exchange time
	ExchangeTimezone  string        `yaml:"exchange_timezone"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
}

// AlertConfig holds proactive warning thresholds
type AlertConfig struct {
	WarningDrawdown float64       `yaml:"warning_drawdown"`
	RollWarningDays int           `yaml:"roll_warning_days"`
	CapWarning      float64       `yaml:"cap_warning"`
	CoalesceWindow  time.Duration `yaml:"coalesce_window"`
}

// StrategyConfig is the complete, named set of strategy thresholds
type StrategyConfig struct {
	Buckets    []Bucket         `yaml:"buckets"`
	DeadBand   float64          `yaml:"dead_band"` // fraction of equity
	TakeProfit TakeProfitConfig `yaml:"take_profit"`
	StopLoss   StopLossConfig   `yaml:"stop_loss"`
	Roll       RollConfig       `yaml:"roll"`
	Contracts  ContractConfig   `yaml:"contracts"`
	Governance GovernanceConfig `yaml:"governance"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Alerts     AlertConfig      `yaml:"alerts"`
}

// DefaultStrategy returns the built-in strategy configuration
func DefaultStrategy() StrategyConfig {
	c := StrategyConfig{
		Buckets: []Bucket{
			{Name: "core", Underlying: "SPY", Target: 0.45},
			{Name: "growth", Underlying: "QQQ", Target: 0.25},
			{Name: "moonshot", Symbols: []string{"TSLA", "NVDA", "PLTR"}, Target: 0.10, Speculative: true},
		},
	}
	c.applyDefaults()
	return c
}

// LoadStrategy reads a YAML strategy file and fills in defaults.
// An empty path returns DefaultStrategy.
func LoadStrategy(path string) (StrategyConfig, error) {
	if path == "" {
		return DefaultStrategy(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return StrategyConfig{}, fmt.Errorf("failed to read strategy config: %w", err)
	}
	return ParseStrategy(b)
}

// ParseStrategy decodes YAML strategy content and fills in defaults
func ParseStrategy(content []byte) (StrategyConfig, error) {
	var c StrategyConfig
	if err := yaml.Unmarshal(content, &c); err != nil {
		return StrategyConfig{}, fmt.Errorf("failed to parse strategy config: %w", err)
	}
	if len(c.Buckets) == 0 {
		c.Buckets = DefaultStrategy().Buckets
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return StrategyConfig{}, err
	}
	return c, nil
}

func (c *StrategyConfig) applyDefaults() {
	if c.DeadBand == 0 {
		c.DeadBand = 0.02
	}

	if c.TakeProfit.FullClosePnL == 0 {
		c.TakeProfit.FullClosePnL = 2.0
	}
	if c.TakeProfit.PartialClosePnL == 0 {
		c.TakeProfit.PartialClosePnL = 1.0
	}
	if c.TakeProfit.CloseFraction == 0 {
		c.TakeProfit.CloseFraction = 0.5
	}

	if c.StopLoss.DrawdownPnL == 0 {
		c.StopLoss.DrawdownPnL = -0.5
	}
	if c.StopLoss.StrikeBuffer == 0 {
		c.StopLoss.StrikeBuffer = 0.05
	}
	if c.StopLoss.CloseDTE == 0 {
		c.StopLoss.CloseDTE = 7
	}

	if c.Roll.TriggerDTE == 0 {
		c.Roll.TriggerDTE = 21
	}
	if c.Roll.MaxDebitPct == 0 {
		c.Roll.MaxDebitPct = 0.5
	}
	if c.Roll.MaxDebitAbs == 0 {
		c.Roll.MaxDebitAbs = 25
	}

	if c.Contracts.OptionType == "" {
		c.Contracts.OptionType = domain.OptionCall
	}
	if c.Contracts.MinDTE == 0 {
		c.Contracts.MinDTE = 60
	}
	if c.Contracts.MaxDTE == 0 {
		c.Contracts.MaxDTE = 120
	}
	if c.Contracts.StrikeMoneyness == 0 {
		c.Contracts.StrikeMoneyness = 1.0
	}
	if c.Contracts.MinOpenInterest == 0 {
		c.Contracts.MinOpenInterest = 100
	}
	if c.Contracts.MaxSpreadPct == 0 {
		c.Contracts.MaxSpreadPct = 0.10
	}

	if c.Governance.KillSwitchDrawdown == 0 {
		c.Governance.KillSwitchDrawdown = 0.20
	}
	if c.Governance.KillSwitchLookbackDays == 0 {
		c.Governance.KillSwitchLookbackDays = 90
	}
	if c.Governance.CashMinFraction == 0 {
		c.Governance.CashMinFraction = 0.20
	}
	if c.Governance.MaxSinglePosition == 0 {
		c.Governance.MaxSinglePosition = 0.25
	}
	if c.Governance.MaxCorrelated == 0 {
		c.Governance.MaxCorrelated = 0.80
	}
	if c.Governance.MoonshotCap == 0 {
		c.Governance.MoonshotCap = 0.30
	}

	if c.Execution.MaxTradesPerDay == 0 {
		c.Execution.MaxTradesPerDay = 10
	}
	if c.Execution.PollInterval == 0 {
		c.Execution.PollInterval = 2 * time.Second
	}
	if c.Execution.CyclePollTimeout == 0 {
		c.Execution.CyclePollTimeout = 20 * time.Second
	}
	if c.Execution.ManualPollTimeout == 0 {
		c.Execution.ManualPollTimeout = 2 * time.Minute
	}
	if c.Execution.SameDayCutoff == "" {
		c.Execution.SameDayCutoff = "15:30"
	}
	if c.Execution.ExchangeTimezone == "" {
		c.Execution.ExchangeTimezone = "America/New_York"
	}
	if c.Execution.RetryAttempts == 0 {
		c.Execution.RetryAttempts = 3
	}
	if c.Execution.RetryBackoff == 0 {
		c.Execution.RetryBackoff = 500 * time.Millisecond
	}

	if c.Alerts.WarningDrawdown == 0 {
		c.Alerts.WarningDrawdown = 0.15
	}
	if c.Alerts.RollWarningDays == 0 {
		c.Alerts.RollWarningDays = 7
	}
	if c.Alerts.CapWarning == 0 {
		c.Alerts.CapWarning = 0.27
	}
	if c.Alerts.CoalesceWindow == 0 {
		c.Alerts.CoalesceWindow = 24 * time.Hour
	}
}

// Validate checks the strategy configuration for internal consistency
func (c StrategyConfig) Validate() error {
	seen := make(map[string]bool, len(c.Buckets))
	speculative := 0
	total := 0.0
	for _, b := range c.Buckets {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			return fmt.Errorf("bucket name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate bucket %q", name)
		}
		seen[name] = true
		if b.Target < 0 || b.Target > 1 {
			return fmt.Errorf("bucket %s: target %.4f outside [0, 1]", name, b.Target)
		}
		if b.Speculative {
			speculative++
		}
		total += b.Target
	}
	if speculative > 1 {
		return fmt.Errorf("at most one speculative bucket is allowed, got %d", speculative)
	}
	if total > 1.0+1e-9 {
		return fmt.Errorf("bucket targets sum to %.4f, above 1.0", total)
	}
	if c.TakeProfit.PartialClosePnL > c.TakeProfit.FullClosePnL {
		return fmt.Errorf("partial_close_pnl %.2f above full_close_pnl %.2f", c.TakeProfit.PartialClosePnL, c.TakeProfit.FullClosePnL)
	}
	if c.TakeProfit.CloseFraction <= 0 || c.TakeProfit.CloseFraction > 1 {
		return fmt.Errorf("close_fraction %.2f outside (0, 1]", c.TakeProfit.CloseFraction)
	}
	if c.Alerts.WarningDrawdown >= c.Governance.KillSwitchDrawdown {
		return fmt.Errorf("warning_drawdown must be below kill_switch_drawdown")
	}
	if c.Alerts.CapWarning >= c.Governance.MoonshotCap {
		return fmt.Errorf("cap_warning must be below moonshot_cap")
	}
	if c.Contracts.MinDTE > c.Contracts.MaxDTE {
		return fmt.Errorf("contracts.min_dte above max_dte")
	}
	if _, err := c.Execution.Location(); err != nil {
		return err
	}
	if _, _, err := c.Execution.Cutoff(); err != nil {
		return err
	}
	return nil
}

// Location returns the exchange time zone
func (e ExecutionConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(e.ExchangeTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange_timezone %q: %w", e.ExchangeTimezone, err)
	}
	return loc, nil
}

// Cutoff parses SameDayCutoff into hour and minute
func (e ExecutionConfig) Cutoff() (int, int, error) {
	t, err := time.Parse("15:04", e.SameDayCutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid same_day_cutoff %q: %w", e.SameDayCutoff, err)
	}
	return t.Hour(), t.Minute(), nil
}

// MoonshotBucket returns the speculative bucket, if configured
func (c StrategyConfig) MoonshotBucket() (Bucket, bool) {
	for _, b := range c.Buckets {
		if b.Speculative {
			return b, true
		}
	}
	return Bucket{}, false
}

// BucketFor returns the first bucket containing the position
func (c StrategyConfig) BucketFor(p domain.Position) (Bucket, bool) {
	for _, b := range c.Buckets {
		if b.Contains(p) {
			return b, true
		}
	}
	return Bucket{}, false
}

// BucketNameForSymbol resolves the bucket tag for an arbitrary symbol
func (c StrategyConfig) BucketNameForSymbol(symbol string) string {
	if b, ok := c.BucketFor(domain.PositionFromSymbol(symbol, 0, 0)); ok {
		return b.Name
	}
	return ""
}

// BucketValue returns the market value held in the bucket
func (c StrategyConfig) BucketValue(s domain.Snapshot, b Bucket) float64 {
	total := 0.0
	for _, p := range s.Positions {
		if b.Contains(p) {
			total += p.MarketValue()
		}
	}
	return total
}

// BucketFraction returns the bucket's share of equity
func (c StrategyConfig) BucketFraction(s domain.Snapshot, b Bucket) float64 {
	if s.Equity <= 0 {
		return 0
	}
	return c.BucketValue(s, b) / s.Equity
}

// MoonshotFraction returns the speculative bucket's share of equity (0 when unconfigured)
func (c StrategyConfig) MoonshotFraction(s domain.Snapshot) float64 {
	b, ok := c.MoonshotBucket()
	if !ok {
		return 0
	}
	return c.BucketFraction(s, b)
}

// TrackedBuckets returns the non-speculative buckets
func (c StrategyConfig) TrackedBuckets() []Bucket {
	out := make([]Bucket, 0, len(c.Buckets))
	for _, b := range c.Buckets {
		if !b.Speculative {
			out = append(out, b)
		}
	}
	return out
}
