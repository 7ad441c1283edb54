package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
	"github.com/aristath/bucketeer/internal/events"
	"github.com/aristath/bucketeer/internal/modules/execution"
	"github.com/aristath/bucketeer/internal/modules/orchestrator"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"service":      "bucketeer",
		"trading_mode": s.cfg.TradingMode,
	})
}

// SnapshotResponse is the body of GET /api/snapshot
type SnapshotResponse struct {
	domain.Snapshot
	OptionFraction   float64 `json:"option_fraction"`
	EquityFraction   float64 `json:"equity_fraction"`
	RealizedPnLToday float64 `json:"realized_pnl_today"`
}

// handleSnapshot returns the last refreshed portfolio snapshot with
// its asset-class split and today's realized P&L
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.cfg.Snapshots.Latest()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no snapshot yet")
		return
	}
	resp := SnapshotResponse{
		Snapshot:       snap,
		OptionFraction: snap.ClassFraction(domain.ClassOption),
		EquityFraction: snap.ClassFraction(domain.ClassEquity),
	}

	loc, err := s.cfg.Strategy.Config().Execution.Location()
	if err != nil {
		loc = time.UTC
	}
	now := s.now().In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if pnl, err := s.cfg.Orders.RealizedPnLSince(midnight); err != nil {
		s.log.Warn().Err(err).Msg("Failed to sum realized P&L")
	} else {
		resp.RealizedPnLToday = pnl
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleEquity returns daily equity history. ?days= defaults to 90.
func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 90)
	if err != nil || days <= 0 {
		s.writeError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}
	points, err := s.cfg.Equity.History(days, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load equity history")
		s.writeError(w, http.StatusInternalServerError, "failed to load equity history")
		return
	}
	s.writeJSON(w, http.StatusOK, points)
}

// handleCandidates returns what a cycle would propose right now, without trading
func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.cfg.Cycles.Preview(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Candidate preview failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if candidates == nil {
		candidates = []domain.Candidate{}
	}
	s.writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.limitParam(w, r)
	if !ok {
		return
	}
	orders, err := s.cfg.Orders.ListRecent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list orders")
		s.writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleListFills(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.limitParam(w, r)
	if !ok {
		return
	}
	fills, err := s.cfg.Orders.ListFills(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list fills")
		s.writeError(w, http.StatusInternalServerError, "failed to list fills")
		return
	}
	if fills == nil {
		fills = []domain.Fill{}
	}
	s.writeJSON(w, http.StatusOK, fills)
}

// ManualOrderRequest is the body of POST /api/orders
type ManualOrderRequest struct {
	Action     domain.Side `json:"action"`
	Symbol     string      `json:"symbol"`
	Quantity   int         `json:"quantity"`
	Price      float64     `json:"price"`
	Rationale  string      `json:"rationale"`
	Bucket     string      `json:"bucket"`
	EntryPrice float64     `json:"entry_price"`
}

// handleManualOrder places an operator order. ?timeout= is a Go duration or
// whole seconds; 0 places the order and returns without polling.
func (s *Server) handleManualOrder(w http.ResponseWriter, r *http.Request) {
	var req ManualOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	timeout := s.cfg.Strategy.Config().Execution.ManualPollTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := parseTimeout(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "timeout must be a duration or seconds")
			return
		}
		timeout = d
	}

	rationale := req.Rationale
	if rationale == "" {
		rationale = "manual order"
	}
	out, err := s.cfg.Cycles.SubmitManual(r.Context(), domain.Candidate{
		Side:       req.Action,
		Symbol:     req.Symbol,
		Quantity:   req.Quantity,
		LimitPrice: req.Price,
		Rationale:  rationale,
		Bucket:     req.Bucket,
		Kind:       domain.KindManual,
		EntryPrice: req.EntryPrice,
	}, timeout)
	switch {
	case errors.Is(err, execution.ErrInvalidCandidate):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, orchestrator.ErrCycleInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, orchestrator.ErrBudgetExhausted):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Manual order failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.cfg.Canceller.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, execution.ErrOrderNotWorking):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Str("order_id", id).Msg("Cancel failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.StatusCancelled)})
}

// handleRunCycle runs a decision cycle now
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	result, err := s.cfg.Cycles.RunCycle(r.Context())
	if errors.Is(err, orchestrator.ErrCycleInProgress) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil && result == nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	// A failed cycle still reports what it managed to do
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleLastCycle(w http.ResponseWriter, r *http.Request) {
	result := s.cfg.Cycles.LastResult()
	if result == nil {
		s.writeError(w, http.StatusNotFound, "no cycle has run yet")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// SettingsResponse is the body of GET /api/settings
type SettingsResponse struct {
	Version      uint64                `json:"version"`
	Config       config.StrategyConfig `json:"config"`
	Overrides    map[string]string     `json:"overrides"`
	OverrideKeys []string              `json:"override_keys"`
	CreatedAt    time.Time             `json:"created_at"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	v := s.cfg.Strategy.Current()
	s.writeJSON(w, http.StatusOK, SettingsResponse{
		Version:      v.Version,
		Config:       v.Config,
		Overrides:    v.Overrides,
		OverrideKeys: config.OverrideKeys(),
		CreatedAt:    v.CreatedAt,
	})
}

// handleSetSetting applies a live override. The value is validated against
// the current configuration before it is persisted.
func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !config.IsOverrideKey(key) {
		s.writeError(w, http.StatusBadRequest, "unknown setting: "+key)
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	candidate, err := config.ApplyOverrides(s.cfg.Strategy.Config(), map[string]string{key: body.Value})
	if err == nil {
		err = candidate.Validate()
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.cfg.Overrides.SetStrategyOverride(key, body.Value); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to persist setting")
		s.writeError(w, http.StatusInternalServerError, "failed to persist setting")
		return
	}
	v, err := s.cfg.Strategy.SetOverride(key, body.Value)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.settingsChanged(key, body.Value, v.Version)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": body.Value, "version": v.Version})
}

func (s *Server) handleClearSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !config.IsOverrideKey(key) {
		s.writeError(w, http.StatusBadRequest, "unknown setting: "+key)
		return
	}
	if err := s.cfg.Overrides.DeleteStrategyOverride(key); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to delete setting")
		s.writeError(w, http.StatusInternalServerError, "failed to delete setting")
		return
	}
	v, err := s.cfg.Strategy.ClearOverride(key)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.settingsChanged(key, "", v.Version)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "version": v.Version})
}

func (s *Server) settingsChanged(key, value string, version uint64) {
	s.log.Info().Str("key", key).Str("value", value).Uint64("config_version", version).Msg("Strategy setting changed")
	if s.cfg.EventManager != nil {
		s.cfg.EventManager.EmitTyped("server", &events.SettingsChangedData{
			Key:           key,
			Value:         value,
			ConfigVersion: version,
		})
	}
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.limitParam(w, r)
	if !ok {
		return
	}
	alerts, err := s.cfg.Alerts.Recent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list alerts")
		s.writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data, s.log)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil || limit <= 0 {
		s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func parseTimeout(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, errors.New("negative timeout")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("negative timeout")
	}
	return d, nil
}
