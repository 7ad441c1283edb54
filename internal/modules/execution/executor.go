// Package execution drives one order through preflight, governance,
// placement and fill confirmation.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
	"github.com/aristath/bucketeer/internal/events"
	"github.com/aristath/bucketeer/internal/modules/governance"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidCandidate is returned for candidates that fail validation.
// Nothing is sent to the broker for them.
var ErrInvalidCandidate = errors.New("invalid candidate")

// ErrOrderNotWorking is returned when cancelling an order that already finished
var ErrOrderNotWorking = errors.New("order is not working")

// FailureMessage is the user-facing text for broker-side failures
const FailureMessage = "order failed — check symbol/liquidity/cash"

const moduleName = "execution"

// Clock abstracts time so polling can be driven by tests
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OrderStore is the slice of the order repository the executor writes to
type OrderStore interface {
	Save(o domain.Order) error
	UpdateStatus(id string, status domain.OrderStatus, fillPrice *float64, filledAt *time.Time) error
	// RecordFill marks the order FILLED and stores the fill atomically
	RecordFill(f domain.Fill) error
	GetByID(id string) (*domain.Order, error)
	ListNonTerminal() ([]domain.Order, error)
}

// Request is one candidate to execute under one config version
type Request struct {
	Candidate domain.Candidate
	State     governance.State
	Config    config.StrategyConfig
	// Timeout bounds fill polling; zero means a single status check
	Timeout time.Duration
}

// Outcome is the result of one execution attempt
type Outcome struct {
	OK          bool               `json:"ok"`
	OrderID     string             `json:"order_id,omitempty"`
	Status      domain.OrderStatus `json:"status,omitempty"`
	Rule        string             `json:"rule,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Error       string             `json:"error,omitempty"`
	Err         error              `json:"-"`
	FillPrice   *float64           `json:"fill_price,omitempty"`
	RealizedPnL *float64           `json:"realized_pnl,omitempty"`
}

// Blocked reports whether a policy check stopped the order
func (o Outcome) Blocked() bool {
	return o.Status == domain.StatusGovernanceBlocked
}

// Executor runs the order lifecycle against a broker
type Executor struct {
	broker domain.BrokerClient
	store  OrderStore
	events *events.Manager
	clock  Clock
	log    zerolog.Logger
}

// NewExecutor creates a new executor
func NewExecutor(broker domain.BrokerClient, store OrderStore, eventManager *events.Manager, log zerolog.Logger) *Executor {
	return &Executor{
		broker: broker,
		store:  store,
		events: eventManager,
		clock:  realClock{},
		log:    log.With().Str("service", "execution").Logger(),
	}
}

// SetClock replaces the clock used for cutoffs and polling
func (e *Executor) SetClock(c Clock) {
	e.clock = c
}

// Execute runs the candidate through every stage and stops at the first
// failing one. The error is non-nil only for ErrInvalidCandidate; policy
// blocks and broker failures are reported in the Outcome.
func (e *Executor) Execute(ctx context.Context, req Request) (Outcome, error) {
	c := req.Candidate
	c.Symbol = domain.NormalizeSymbol(c.Symbol)
	if err := Validate(c); err != nil {
		return Outcome{Status: domain.StatusProposed, Error: err.Error(), Err: err}, err
	}
	cfg := req.Config.Execution
	log := e.log.With().
		Str("symbol", c.Symbol).
		Str("side", string(c.Side)).
		Int("quantity", c.Quantity).
		Float64("limit_price", c.LimitPrice).
		Logger()

	if reason, blocked := e.pastCutoff(c, cfg); blocked {
		log.Info().Str("reason", reason).Msg("Same-day expiry cutoff reached")
		return e.fail(c, domain.StatusPreflightFailed, "", reason, nil), nil
	}

	orderReq := domain.OrderRequest{
		Symbol:     c.Symbol,
		Side:       c.Side,
		Quantity:   c.Quantity,
		LimitPrice: c.LimitPrice,
		Opening:    c.Side == domain.SideBuy,
	}

	est, err := e.preflight(ctx, orderReq, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Preflight failed")
		return e.fail(c, domain.StatusPreflightFailed, "", "preflight failed", err), nil
	}

	gate := governance.NewGate(req.Config)
	if d := gate.Evaluate(req.State, c); !d.Allowed {
		log.Info().Str("rule", d.Rule).Str("reason", d.Reason).Msg("Governance blocked order")
		return e.block(c, d.Rule, d.Reason), nil
	}

	if c.Side == domain.SideBuy {
		cost := est.Notional + est.Commission
		if d := governance.CashBuffer(req.State.Snapshot, cost, req.Config.Governance.CashMinFraction); !d.Allowed {
			reason := "cash re-check with broker cost failed: " + d.Reason
			log.Info().Float64("broker_cost", cost).Msg("Cash re-check blocked order")
			return e.block(c, d.Rule, reason), nil
		}
	}

	pending, err := e.hasPendingOrder(ctx, c.Symbol)
	if err != nil {
		log.Warn().Err(err).Msg("Could not check pending orders")
		return e.fail(c, domain.StatusGovernanceAllowed, "", "could not check pending orders", err), nil
	}
	if pending {
		log.Info().Msg("Pending order exists, skipping")
		return e.block(c, "duplicate_order", "pending order exists"), nil
	}

	orderReq.ClientOrderID = uuid.NewString()
	placed, err := e.broker.PlaceOrder(ctx, orderReq)
	if err != nil || placed == nil || placed.ID == "" {
		if err == nil {
			err = errors.New("broker returned no order id")
		}
		log.Error().Err(err).Str("client_order_id", orderReq.ClientOrderID).Msg("Order placement failed")
		return e.fail(c, domain.StatusGovernanceAllowed, "", "placement failed", err), nil
	}

	now := e.clock.Now()
	order := domain.Order{
		ID:            placed.ID,
		ClientOrderID: orderReq.ClientOrderID,
		Side:          c.Side,
		Symbol:        c.Symbol,
		Quantity:      c.Quantity,
		LimitPrice:    c.LimitPrice,
		Status:        domain.StatusPlaced,
		Bucket:        c.Bucket,
		Rationale:     c.Rationale,
		EntryPrice:    c.EntryPrice,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.Save(order); err != nil {
		// The order is live at the broker; keep confirming it regardless
		log.Error().Err(err).Str("order_id", order.ID).Msg("Failed to persist placed order")
	}
	ordersTotal.WithLabelValues(string(domain.StatusPlaced)).Inc()
	log.Info().Str("order_id", order.ID).Str("client_order_id", order.ClientOrderID).Msg("Order placed")
	e.emit(events.OrderPlaced, order, "")

	if placed.Status == domain.StatusFilled && placed.AvgFillPrice > 0 {
		return e.settle(order, placed), nil
	}
	return e.poll(ctx, order, cfg, req.Timeout), nil
}

// Validate checks a candidate's side, symbol, quantity and price
func Validate(c domain.Candidate) error {
	if c.Side != domain.SideBuy && c.Side != domain.SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidCandidate, c.Side)
	}
	symbol := domain.NormalizeSymbol(c.Symbol)
	if symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidCandidate)
	}
	if len(symbol) > 6 && !domain.IsOptionSymbol(symbol) {
		return fmt.Errorf("%w: %q is neither a ticker nor an OSI option symbol", ErrInvalidCandidate, c.Symbol)
	}
	if c.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidCandidate, c.Quantity)
	}
	if c.LimitPrice <= 0 || math.IsNaN(c.LimitPrice) || math.IsInf(c.LimitPrice, 0) {
		return fmt.Errorf("%w: limit price must be positive, got %v", ErrInvalidCandidate, c.LimitPrice)
	}
	return nil
}

// pastCutoff blocks opening an option that expires today once the cutoff has passed
func (e *Executor) pastCutoff(c domain.Candidate, cfg config.ExecutionConfig) (string, bool) {
	if c.Side != domain.SideBuy {
		return "", false
	}
	opt, err := domain.ParseOSI(c.Symbol)
	if err != nil {
		return "", false
	}
	loc, err := cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	hour, minute, err := cfg.Cutoff()
	if err != nil {
		return "", false
	}
	now := e.clock.Now().In(loc)
	y, m, d := now.Date()
	ey, em, ed := opt.Expiration.Date()
	if y != ey || m != em || d != ed {
		return "", false
	}
	cutoff := time.Date(y, m, d, hour, minute, 0, 0, loc)
	if now.Before(cutoff) {
		return "", false
	}
	return fmt.Sprintf("contract expires today and the %s cutoff has passed", cfg.SameDayCutoff), true
}

// preflight asks the broker for a cost estimate, backing off on rate limits
func (e *Executor) preflight(ctx context.Context, req domain.OrderRequest, cfg config.ExecutionConfig) (*domain.CostEstimate, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			wait := cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			if err := e.clock.Sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		est, err := e.broker.PreviewOrder(ctx, req)
		if err == nil {
			if est == nil {
				return nil, errors.New("broker returned no estimate")
			}
			return est, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrRateLimited) {
			return nil, err
		}
		e.log.Debug().Int("attempt", attempt+1).Msg("Preflight rate limited, backing off")
	}
	return nil, fmt.Errorf("preflight retries exhausted: %w", lastErr)
}

// hasPendingOrder looks for a non-terminal order on the symbol at the broker
// and in the local ledger
func (e *Executor) hasPendingOrder(ctx context.Context, symbol string) (bool, error) {
	open, err := e.broker.GetOpenOrders(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list open orders: %w", err)
	}
	for _, o := range open {
		if !o.Status.IsTerminal() && domain.NormalizeSymbol(o.Symbol) == symbol {
			return true, nil
		}
	}

	local, err := e.store.ListNonTerminal()
	if err != nil {
		return false, fmt.Errorf("failed to list local orders: %w", err)
	}
	for _, o := range local {
		if strings.EqualFold(domain.NormalizeSymbol(o.Symbol), symbol) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Executor) block(c domain.Candidate, rule, reason string) Outcome {
	blocksTotal.WithLabelValues(rule).Inc()
	ordersTotal.WithLabelValues(string(domain.StatusGovernanceBlocked)).Inc()
	e.events.EmitTyped(moduleName, &events.OrderEventData{
		Type:     events.OrderBlocked,
		Symbol:   c.Symbol,
		Side:     string(c.Side),
		Quantity: c.Quantity,
		Price:    c.LimitPrice,
		Status:   string(domain.StatusGovernanceBlocked),
		Reason:   reason,
		Bucket:   c.Bucket,
	})
	return Outcome{Status: domain.StatusGovernanceBlocked, Rule: rule, Reason: reason}
}

func (e *Executor) fail(c domain.Candidate, status domain.OrderStatus, orderID, reason string, err error) Outcome {
	ordersTotal.WithLabelValues(string(status)).Inc()
	out := Outcome{OrderID: orderID, Status: status, Reason: reason, Error: reason, Err: err}
	if err != nil {
		out.Error = FailureMessage
	}
	e.events.EmitTyped(moduleName, &events.OrderEventData{
		Type:     events.OrderFailed,
		OrderID:  orderID,
		Symbol:   c.Symbol,
		Side:     string(c.Side),
		Quantity: c.Quantity,
		Price:    c.LimitPrice,
		Status:   string(status),
		Reason:   reason,
		Bucket:   c.Bucket,
	})
	return out
}

func (e *Executor) emit(t events.EventType, o domain.Order, reason string) {
	price := o.LimitPrice
	if o.FillPrice != nil {
		price = *o.FillPrice
	}
	e.events.EmitTyped(moduleName, &events.OrderEventData{
		Type:     t,
		OrderID:  o.ID,
		Symbol:   o.Symbol,
		Side:     string(o.Side),
		Quantity: o.Quantity,
		Price:    price,
		Status:   string(o.Status),
		Reason:   reason,
		Bucket:   o.Bucket,
	})
}
