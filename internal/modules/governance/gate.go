// Package governance evaluates hard risk rules against a proposed order.
package governance

import (
	"fmt"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
)

// Rule names reported in a Decision
const (
	RuleKillSwitch    = "kill_switch"
	RuleCashBuffer    = "cash_buffer"
	RuleMaxPosition   = "max_single_position"
	RuleMaxCorrelated = "max_correlated_exposure"
	RuleMoonshotCap   = "moonshot_cap"
)

// State is everything a decision is computed from
type State struct {
	Snapshot      domain.Snapshot
	HighWaterMark *float64 // Highest equity over the lookback; nil without history
}

// Decision is the gate's verdict for one candidate
type Decision struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Allow is the passing decision
func Allow() Decision {
	return Decision{Allowed: true}
}

func block(rule, format string, args ...interface{}) Decision {
	return Decision{Allowed: false, Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Gate applies the governance rules. It holds configuration only.
type Gate struct {
	cfg config.StrategyConfig
}

// NewGate creates a gate for one configuration version
func NewGate(cfg config.StrategyConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate checks the candidate against the rules in order; the first
// failure wins. Sells are never blocked and an empty account is always allowed.
func (g *Gate) Evaluate(state State, c domain.Candidate) Decision {
	snap := state.Snapshot
	if c.Side != domain.SideBuy || snap.Equity <= 0 {
		return Allow()
	}
	rules := g.cfg.Governance
	notional := c.Notional()

	if dd, ok := Drawdown(state); ok && dd >= rules.KillSwitchDrawdown {
		return block(RuleKillSwitch,
			"kill switch active: drawdown %.1f%% from high-water mark $%.2f is at or beyond %.1f%%",
			dd*100, *state.HighWaterMark, rules.KillSwitchDrawdown*100)
	}

	if d := CashBuffer(snap, notional, rules.CashMinFraction); !d.Allowed {
		return d
	}

	symbolValue := snap.SymbolValue(c.Symbol) + notional
	if limit := rules.MaxSinglePosition * snap.Equity; symbolValue > limit {
		return block(RuleMaxPosition,
			"position limit would be exceeded: %s would be $%.2f, limit $%.2f (%.1f%% of equity)",
			domain.NormalizeSymbol(c.Symbol), symbolValue, limit, rules.MaxSinglePosition*100)
	}

	candidatePos := domain.PositionFromSymbol(c.Symbol, c.Quantity, c.LimitPrice)

	correlated := 0.0
	for _, b := range g.cfg.TrackedBuckets() {
		value := g.cfg.BucketValue(snap, b)
		if b.Contains(candidatePos) {
			value += notional
		}
		correlated += value / snap.Equity
	}
	if correlated > rules.MaxCorrelated {
		return block(RuleMaxCorrelated,
			"correlated exposure would be %.1f%%, limit %.1f%%", correlated*100, rules.MaxCorrelated*100)
	}

	if moonshot, ok := g.cfg.MoonshotBucket(); ok {
		value := g.cfg.BucketValue(snap, moonshot)
		if moonshot.Contains(candidatePos) {
			value += notional
		}
		if fraction := value / snap.Equity; fraction > rules.MoonshotCap {
			return block(RuleMoonshotCap,
				"%s bucket would be %.1f%%, hard cap %.1f%%", moonshot.Name, fraction*100, rules.MoonshotCap*100)
		}
	}

	return Allow()
}

// Drawdown returns the fractional drawdown from the high-water mark.
// ok is false without history or a positive high-water mark.
func Drawdown(state State) (float64, bool) {
	if state.HighWaterMark == nil || *state.HighWaterMark <= 0 {
		return 0, false
	}
	hwm := *state.HighWaterMark
	dd := (hwm - state.Snapshot.Equity) / hwm
	if dd < 0 {
		dd = 0
	}
	return dd, true
}

// CashBuffer checks that a purchase of notional leaves the minimum cash.
// The execution pipeline reuses it with the broker's cost figure.
func CashBuffer(snap domain.Snapshot, notional, minFraction float64) Decision {
	minimum := snap.Equity * minFraction
	if snap.Cash-notional < minimum {
		return block(RuleCashBuffer,
			"cash buffer would be violated: need $%.2f minimum cash, have $%.2f with $%.2f order",
			minimum, snap.Cash, notional)
	}
	return Allow()
}
