// Package orchestrator drives the decision cycle: snapshot, decide,
// govern and execute each candidate, persist, then raise alerts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
	"github.com/aristath/bucketeer/internal/events"
	"github.com/aristath/bucketeer/internal/modules/execution"
	"github.com/aristath/bucketeer/internal/modules/governance"
	"github.com/rs/zerolog"
)

// ErrCycleInProgress is returned when a cycle is already running
var ErrCycleInProgress = errors.New("decision cycle already in progress")

// ErrBudgetExhausted is returned for manual orders once today's trades are used up
var ErrBudgetExhausted = errors.New("daily trade budget exhausted")

const moduleName = "orchestrator"

// Skip reasons for the opening leg of a roll
const (
	skipRollUnpaired      = "no closing leg precedes this roll"
	skipRollCloseUnfilled = "closing leg of the roll did not fill"
	skipRollBudget        = "trade budget cannot cover both roll legs"
)

// Snapshotter refreshes and publishes the portfolio snapshot
type Snapshotter interface {
	Refresh(ctx context.Context, watch []string) (domain.Snapshot, error)
}

// Decider proposes candidates for a snapshot
type Decider interface {
	Decide(ctx context.Context, snap domain.Snapshot, cfg config.StrategyConfig) []domain.Candidate
}

// Executor runs one candidate through governance and execution
type Executor interface {
	Execute(ctx context.Context, req execution.Request) (execution.Outcome, error)
}

// TradeCounter counts orders placed in the current exchange day
type TradeCounter interface {
	CountPlacedToday(now time.Time, loc *time.Location) (int, error)
}

// EquityStore records equity history and serves the high-water mark
type EquityStore interface {
	Record(at time.Time, equity, cash float64) error
	HighestSince(days int, now time.Time) (*float64, error)
}

// AlertChecker evaluates proactive alerts under one config version
type AlertChecker interface {
	CheckAll(ctx context.Context, snap domain.Snapshot, cfg config.StrategyConfig) []domain.Alert
}

// ConfigSource supplies the current versioned strategy configuration
type ConfigSource interface {
	Current() *config.StrategyVersion
}

// CandidateResult is one candidate and what happened to it
type CandidateResult struct {
	Candidate domain.Candidate   `json:"candidate"`
	Outcome   *execution.Outcome `json:"outcome,omitempty"`
	Skipped   string             `json:"skipped,omitempty"`
}

// CycleResult summarizes one decision cycle
type CycleResult struct {
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	ConfigVersion uint64            `json:"config_version"`
	Equity        float64           `json:"equity"`
	HighWaterMark *float64          `json:"high_water_mark,omitempty"`
	Results       []CandidateResult `json:"results"`
	Submitted     int               `json:"submitted"`
	Filled        int               `json:"filled"`
	Blocked       int               `json:"blocked"`
	Failed        int               `json:"failed"`
	BudgetLeft    int               `json:"budget_left"`
	Alerts        []domain.Alert    `json:"alerts"`
	Error         string            `json:"error,omitempty"`
}

// Orchestrator owns the decision cycle. Only one cycle runs at a time.
type Orchestrator struct {
	cycleMu sync.Mutex

	snapshots Snapshotter
	decider   Decider
	executor  Executor
	trades    TradeCounter
	equity    EquityStore
	alerts    AlertChecker
	cfg       ConfigSource
	events    *events.Manager
	now       func() time.Time
	log       zerolog.Logger

	resultMu sync.RWMutex
	last     *CycleResult
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	snapshots Snapshotter,
	decider Decider,
	executor Executor,
	trades TradeCounter,
	equity EquityStore,
	alerts AlertChecker,
	cfg ConfigSource,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		snapshots: snapshots,
		decider:   decider,
		executor:  executor,
		trades:    trades,
		equity:    equity,
		alerts:    alerts,
		cfg:       cfg,
		events:    eventManager,
		now:       time.Now,
		log:       log.With().Str("service", "orchestrator").Logger(),
	}
}

// RunCycle runs one decision cycle. A concurrent call returns
// ErrCycleInProgress without doing anything.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !o.cycleMu.TryLock() {
		o.log.Info().Msg("Cycle already in progress, skipping")
		o.events.Emit(events.CycleSkipped, moduleName, map[string]interface{}{"reason": "in progress"})
		cyclesTotal.WithLabelValues("skipped").Inc()
		return nil, ErrCycleInProgress
	}
	defer o.cycleMu.Unlock()

	result, err := o.runCycle(ctx)
	if result != nil {
		result.FinishedAt = o.now()
		cycleDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
		if err != nil {
			result.Error = err.Error()
		}
		o.resultMu.Lock()
		o.last = result
		o.resultMu.Unlock()
	}
	if err != nil {
		cyclesTotal.WithLabelValues("failed").Inc()
		o.log.Error().Err(err).Msg("Cycle failed")
		o.events.EmitError(moduleName, err, map[string]interface{}{"stage": "cycle"})
		return result, err
	}
	cyclesTotal.WithLabelValues("completed").Inc()
	return result, nil
}

func (o *Orchestrator) runCycle(ctx context.Context) (*CycleResult, error) {
	version := o.cfg.Current()
	cfg := version.Config
	result := &CycleResult{StartedAt: o.now(), ConfigVersion: version.Version}
	o.events.Emit(events.CycleStarted, moduleName, map[string]interface{}{"config_version": version.Version})

	loc, err := cfg.Execution.Location()
	if err != nil {
		return result, err
	}

	snap, err := o.snapshots.Refresh(ctx, watchlist(cfg))
	if err != nil {
		return result, fmt.Errorf("snapshot refresh failed: %w", err)
	}
	result.Equity = snap.Equity
	equityGauge.Set(snap.Equity)

	hwm, err := o.equity.HighestSince(cfg.Governance.KillSwitchLookbackDays, snap.TakenAt)
	if err != nil {
		return result, fmt.Errorf("failed to load high-water mark: %w", err)
	}
	result.HighWaterMark = hwm
	if snap.Equity > 0 {
		if err := o.equity.Record(snap.TakenAt, snap.Equity, snap.Cash); err != nil {
			o.log.Warn().Err(err).Msg("Failed to record equity")
		}
	}

	candidates := o.decider.Decide(ctx, snap, cfg)
	o.events.Emit(events.CandidatesProposed, moduleName, map[string]interface{}{"count": len(candidates)})
	o.log.Info().
		Int("candidates", len(candidates)).
		Float64("equity", snap.Equity).
		Uint64("config_version", version.Version).
		Msg("Candidates proposed")

	placedToday, err := o.trades.CountPlacedToday(o.now(), loc)
	if err != nil {
		return result, fmt.Errorf("failed to count today's trades: %w", err)
	}
	budget := cfg.Execution.MaxTradesPerDay

	// A roll's opening leg only goes out after its closing leg filled
	rollOpenSkip := skipRollUnpaired
	for i, c := range candidates {
		if ctx.Err() != nil {
			o.skipRemaining(result, candidates[i:], "cycle cancelled")
			break
		}
		if c.Kind == domain.KindRollOpen && rollOpenSkip != "" {
			o.log.Info().Str("symbol", c.Symbol).Str("reason", rollOpenSkip).Msg("Skipping roll replacement")
			result.Results = append(result.Results, CandidateResult{Candidate: c, Skipped: rollOpenSkip})
			rollOpenSkip = skipRollUnpaired
			continue
		}
		rollOpenSkip = skipRollUnpaired

		if placedToday >= budget {
			o.log.Info().Int("placed_today", placedToday).Int("budget", budget).Msg("Trade budget exhausted, deferring remaining candidates")
			o.skipRemaining(result, candidates[i:], ErrBudgetExhausted.Error())
			break
		}
		paired := c.Kind == domain.KindRollClose && i+1 < len(candidates) && candidates[i+1].Kind == domain.KindRollOpen
		if paired && placedToday+2 > budget {
			o.log.Info().Str("symbol", c.Symbol).Int("placed_today", placedToday).Int("budget", budget).Msg("Deferring roll, budget covers only one leg")
			result.Results = append(result.Results, CandidateResult{Candidate: c, Skipped: skipRollBudget})
			rollOpenSkip = skipRollBudget
			continue
		}

		out, err := o.executor.Execute(ctx, execution.Request{
			Candidate: c,
			State:     governance.State{Snapshot: snap, HighWaterMark: hwm},
			Config:    cfg,
			Timeout:   cfg.Execution.CyclePollTimeout,
		})
		if err != nil {
			o.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("Candidate rejected")
		}
		result.Results = append(result.Results, CandidateResult{Candidate: c, Outcome: &out})

		if out.OrderID != "" {
			placedToday++
			result.Submitted++
		}
		if paired {
			rollOpenSkip = skipRollCloseUnfilled
			if out.Status == domain.StatusFilled {
				rollOpenSkip = ""
			}
		}
		switch {
		case out.Status == domain.StatusFilled:
			result.Filled++
		case out.Blocked():
			result.Blocked++
		case !out.OK:
			result.Failed++
		}

		if out.Status == domain.StatusFilled {
			snap, err = o.snapshots.Refresh(ctx, watchlist(cfg))
			if err != nil {
				o.skipRemaining(result, candidates[i+1:], "snapshot refresh failed")
				result.BudgetLeft = max(budget-placedToday, 0)
				return result, fmt.Errorf("snapshot refresh after fill failed: %w", err)
			}
			result.Equity = snap.Equity
		}
	}
	result.BudgetLeft = max(budget-placedToday, 0)
	budgetGauge.Set(float64(result.BudgetLeft))

	result.Alerts = o.alerts.CheckAll(ctx, snap, cfg)

	o.events.EmitTyped(moduleName, &events.CycleCompletedData{
		Candidates:    len(candidates),
		Submitted:     result.Submitted,
		Filled:        result.Filled,
		Blocked:       result.Blocked,
		Failed:        result.Failed,
		Alerts:        len(result.Alerts),
		BudgetLeft:    result.BudgetLeft,
		ConfigVersion: version.Version,
		DurationMs:    o.now().Sub(result.StartedAt).Milliseconds(),
		Equity:        result.Equity,
	})
	o.log.Info().
		Int("submitted", result.Submitted).
		Int("filled", result.Filled).
		Int("blocked", result.Blocked).
		Int("failed", result.Failed).
		Int("budget_left", result.BudgetLeft).
		Msg("Cycle completed")
	return result, nil
}

func (o *Orchestrator) skipRemaining(result *CycleResult, rest []domain.Candidate, reason string) {
	for _, c := range rest {
		result.Results = append(result.Results, CandidateResult{Candidate: c, Skipped: reason})
	}
}

// Preview refreshes the snapshot and returns what a cycle would propose
// without executing anything
func (o *Orchestrator) Preview(ctx context.Context) ([]domain.Candidate, error) {
	cfg := o.cfg.Current().Config
	snap, err := o.snapshots.Refresh(ctx, watchlist(cfg))
	if err != nil {
		return nil, fmt.Errorf("snapshot refresh failed: %w", err)
	}
	return o.decider.Decide(ctx, snap, cfg), nil
}

// SubmitManual executes an operator order under the cycle guard, the
// governance gate and the daily trade budget
func (o *Orchestrator) SubmitManual(ctx context.Context, c domain.Candidate, timeout time.Duration) (execution.Outcome, error) {
	if !o.cycleMu.TryLock() {
		return execution.Outcome{}, ErrCycleInProgress
	}
	defer o.cycleMu.Unlock()

	cfg := o.cfg.Current().Config
	loc, err := cfg.Execution.Location()
	if err != nil {
		return execution.Outcome{}, err
	}
	placed, err := o.trades.CountPlacedToday(o.now(), loc)
	if err != nil {
		return execution.Outcome{}, fmt.Errorf("failed to count today's trades: %w", err)
	}
	if placed >= cfg.Execution.MaxTradesPerDay {
		return execution.Outcome{}, ErrBudgetExhausted
	}

	snap, err := o.snapshots.Refresh(ctx, watchlist(cfg))
	if err != nil {
		return execution.Outcome{}, fmt.Errorf("snapshot refresh failed: %w", err)
	}
	hwm, err := o.equity.HighestSince(cfg.Governance.KillSwitchLookbackDays, snap.TakenAt)
	if err != nil {
		return execution.Outcome{}, fmt.Errorf("failed to load high-water mark: %w", err)
	}

	if c.Kind == "" {
		c.Kind = domain.KindManual
	}
	if c.Bucket == "" {
		c.Bucket = cfg.BucketNameForSymbol(c.Symbol)
	}
	out, err := o.executor.Execute(ctx, execution.Request{
		Candidate: c,
		State:     governance.State{Snapshot: snap, HighWaterMark: hwm},
		Config:    cfg,
		Timeout:   timeout,
	})
	if err != nil {
		return out, err
	}
	if out.Status == domain.StatusFilled {
		if _, err := o.snapshots.Refresh(ctx, watchlist(cfg)); err != nil {
			o.log.Warn().Err(err).Msg("Snapshot refresh after manual fill failed")
		}
	}
	return out, nil
}

// LastResult returns the most recent cycle result, if any
func (o *Orchestrator) LastResult() *CycleResult {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.last
}

// watchlist returns the bucket underlyings the cycle needs prices for
func watchlist(cfg config.StrategyConfig) []string {
	var out []string
	for _, b := range cfg.Buckets {
		if b.Underlying != "" {
			out = append(out, b.Underlying)
		}
	}
	return out
}
