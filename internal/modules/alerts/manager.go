// Package alerts raises proactive warnings before hard limits are reached
// and coalesces repeats within a window.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
	"github.com/aristath/bucketeer/internal/events"
	"github.com/aristath/bucketeer/internal/modules/governance"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "bucketeer_alerts_total",
	Help: "Alerts emitted after coalescing",
}, []string{"type"})

func init() {
	prometheus.MustRegister(alertsTotal)
}

// StateStore persists coalescing state and emitted alerts
type StateStore interface {
	LastTriggered(key string) (*time.Time, error)
	SetLastTriggered(key string, at time.Time) error
	Append(a domain.Alert) error
}

// EquityHistory supplies the high-water mark
type EquityHistory interface {
	HighestSince(days int, now time.Time) (*float64, error)
}

// Notifier delivers an alert outside the process
type Notifier interface {
	Notify(ctx context.Context, a domain.Alert) error
}

// Manager evaluates the alert thresholds against a snapshot
type Manager struct {
	store     StateStore
	history   EquityHistory
	events    *events.Manager
	notifiers []Notifier
	now       func() time.Time
	log       zerolog.Logger
}

// NewManager creates an alert manager
func NewManager(store StateStore, history EquityHistory, eventManager *events.Manager, log zerolog.Logger, notifiers ...Notifier) *Manager {
	return &Manager{
		store:     store,
		history:   history,
		events:    eventManager,
		notifiers: notifiers,
		now:       time.Now,
		log:       log.With().Str("service", "alerts").Logger(),
	}
}

// CheckAll evaluates every threshold under cfg and returns the alerts that
// fired and were not suppressed by the coalescing window. Callers pass the
// config version their cycle started with.
func (m *Manager) CheckAll(ctx context.Context, snap domain.Snapshot, cfg config.StrategyConfig) []domain.Alert {
	now := m.now()

	var hwm *float64
	if m.history != nil {
		h, err := m.history.HighestSince(cfg.Governance.KillSwitchLookbackDays, now)
		if err != nil {
			m.log.Warn().Err(err).Msg("Failed to load high-water mark, skipping drawdown alert")
		} else {
			hwm = h
		}
	}

	var emitted []domain.Alert
	for _, a := range Evaluate(snap, hwm, cfg, now) {
		if m.coalesced(a, cfg.Alerts.CoalesceWindow, now) {
			continue
		}
		m.deliver(ctx, a)
		emitted = append(emitted, a)
	}
	return emitted
}

// coalesced reports whether the alert's key fired within the window.
// Unreadable state lets the alert through.
func (m *Manager) coalesced(a domain.Alert, window time.Duration, now time.Time) bool {
	last, err := m.store.LastTriggered(a.Key)
	if err != nil {
		m.log.Warn().Err(err).Str("key", a.Key).Msg("Failed to read alert state")
		return false
	}
	if last != nil && now.Sub(*last) < window {
		m.log.Debug().Str("key", a.Key).Time("last_triggered", *last).Msg("Alert coalesced")
		return true
	}
	return false
}

func (m *Manager) deliver(ctx context.Context, a domain.Alert) {
	if err := m.store.SetLastTriggered(a.Key, a.TriggeredAt); err != nil {
		m.log.Error().Err(err).Str("key", a.Key).Msg("Failed to record alert state")
	}
	if err := m.store.Append(a); err != nil {
		m.log.Error().Err(err).Str("key", a.Key).Msg("Failed to log alert")
	}
	alertsTotal.WithLabelValues(string(a.Type)).Inc()

	m.log.Warn().
		Str("type", string(a.Type)).
		Str("severity", string(a.Severity)).
		Str("key", a.Key).
		Msg(a.Message)

	if m.events != nil {
		m.events.EmitTyped("alerts", &events.AlertData{
			AlertType: string(a.Type),
			Severity:  string(a.Severity),
			Message:   a.Message,
			Details:   a.Details,
		})
	}
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			m.log.Warn().Err(err).Str("key", a.Key).Msg("Alert delivery failed")
		}
	}
}

// Evaluate returns every alert whose threshold is currently met, before coalescing
func Evaluate(snap domain.Snapshot, hwm *float64, cfg config.StrategyConfig, now time.Time) []domain.Alert {
	var out []domain.Alert

	if dd, ok := governance.Drawdown(governance.State{Snapshot: snap, HighWaterMark: hwm}); ok {
		warn, kill := cfg.Alerts.WarningDrawdown, cfg.Governance.KillSwitchDrawdown
		if dd > warn && dd < kill {
			out = append(out, domain.Alert{
				Type:     domain.AlertKillSwitchWarning,
				Severity: domain.SeverityWarning,
				Message: fmt.Sprintf("drawdown %.1f%% from high-water mark; kill switch engages at %.1f%%",
					dd*100, kill*100),
				Details: map[string]interface{}{
					"drawdown":        dd,
					"high_water_mark": *hwm,
					"equity":          snap.Equity,
					"kill_switch_at":  kill,
				},
				Key:         string(domain.AlertKillSwitchWarning),
				TriggeredAt: now,
			})
		}
	}

	trigger := cfg.Roll.TriggerDTE
	horizon := trigger + cfg.Alerts.RollWarningDays
	for _, p := range snap.Positions {
		if !p.IsOption() {
			continue
		}
		b, ok := cfg.BucketFor(p)
		if !ok || b.Speculative {
			continue
		}
		dte := p.DTE(now)
		if dte <= trigger || dte > horizon {
			continue
		}
		symbol := p.NormalizedSymbol()
		out = append(out, domain.Alert{
			Type:     domain.AlertRollNeeded,
			Severity: domain.SeverityInfo,
			Message:  fmt.Sprintf("%s expires in %d days; roll window opens at %d DTE", symbol, dte, trigger),
			Details: map[string]interface{}{
				"symbol":     symbol,
				"bucket":     b.Name,
				"dte":        dte,
				"expiration": p.Expiration.Format("2006-01-02"),
			},
			Key:         string(domain.AlertRollNeeded) + ":" + symbol,
			TriggeredAt: now,
		})
	}

	if moonshot, ok := cfg.MoonshotBucket(); ok {
		fraction := cfg.BucketFraction(snap, moonshot)
		capWarn, hardCap := cfg.Alerts.CapWarning, cfg.Governance.MoonshotCap
		if fraction >= capWarn && fraction < hardCap {
			out = append(out, domain.Alert{
				Type:     domain.AlertCapApproaching,
				Severity: domain.SeverityWarning,
				Message: fmt.Sprintf("%s bucket at %.1f%% of equity; hard cap %.1f%%",
					moonshot.Name, fraction*100, hardCap*100),
				Details: map[string]interface{}{
					"bucket":   moonshot.Name,
					"fraction": fraction,
					"cap":      hardCap,
				},
				Key:         string(domain.AlertCapApproaching),
				TriggeredAt: now,
			})
		}
	}

	return out
}

// Recent returns logged alerts, newest first, when the store supports listing
func (m *Manager) Recent(limit int) ([]domain.Alert, error) {
	lister, ok := m.store.(interface {
		ListRecent(limit int) ([]domain.Alert, error)
	})
	if !ok {
		return nil, nil
	}
	return lister.ListRecent(limit)
}
