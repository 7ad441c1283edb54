package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
	"github.com/aristath/bucketeer/internal/events"
)

// poll checks the order until it reaches a terminal status or the timeout
// elapses. A timeout leaves the order working at the broker and reports OPEN.
func (e *Executor) poll(ctx context.Context, order domain.Order, cfg config.ExecutionConfig, timeout time.Duration) Outcome {
	start := e.clock.Now()
	deadline := start.Add(timeout)
	defer func() {
		pollDuration.Observe(e.clock.Now().Sub(start).Seconds())
	}()

	log := e.log.With().Str("order_id", order.ID).Str("symbol", order.Symbol).Logger()
	rateLimited := 0

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Caller gave up waiting for fill")
			return e.leaveOpen(order, "caller cancelled while waiting for fill")
		}

		wait := cfg.PollInterval
		bo, err := e.broker.GetOrder(ctx, order.ID)
		switch {
		case err == nil && bo != nil && bo.Status.IsTerminal():
			return e.settle(order, bo)
		case err == nil:
			// still working
		case errors.Is(err, domain.ErrOrderNotFound):
			log.Debug().Msg("Order not visible yet")
		case errors.Is(err, domain.ErrRateLimited):
			rateLimited++
			if rateLimited > cfg.RetryAttempts {
				log.Warn().Int("attempts", rateLimited).Msg("Status polling rate limited, giving up")
				return e.leaveOpen(order, "status polling rate limited")
			}
			wait = cfg.RetryBackoff * time.Duration(1<<(rateLimited-1))
		case ctx.Err() != nil:
			return e.leaveOpen(order, "caller cancelled while waiting for fill")
		default:
			log.Warn().Err(err).Msg("Order status check failed")
		}

		now := e.clock.Now()
		if timeout <= 0 || !now.Before(deadline) {
			return e.leaveOpen(order, fmt.Sprintf("not filled within %s", timeout))
		}
		if remaining := deadline.Sub(now); wait > remaining {
			wait = remaining
		}
		if err := e.clock.Sleep(ctx, wait); err != nil {
			log.Info().Msg("Caller gave up waiting for fill")
			return e.leaveOpen(order, "caller cancelled while waiting for fill")
		}
	}
}

// leaveOpen records a working order that has not reached a terminal state
func (e *Executor) leaveOpen(order domain.Order, reason string) Outcome {
	order.Status = domain.StatusOpen
	if err := e.store.UpdateStatus(order.ID, domain.StatusOpen, nil, nil); err != nil {
		e.log.Error().Err(err).Str("order_id", order.ID).Msg("Failed to persist OPEN status")
	}
	ordersTotal.WithLabelValues(string(domain.StatusOpen)).Inc()
	e.emit(events.OrderOpen, order, reason)
	return Outcome{OK: true, OrderID: order.ID, Status: domain.StatusOpen, Reason: reason}
}

// settle persists a terminal broker status. Fills also record realized
// P&L for sells whose entry price is known.
func (e *Executor) settle(order domain.Order, bo *domain.BrokerOrder) Outcome {
	now := e.clock.Now()
	log := e.log.With().Str("order_id", order.ID).Str("symbol", order.Symbol).Logger()
	ordersTotal.WithLabelValues(string(bo.Status)).Inc()

	if bo.Status != domain.StatusFilled {
		order.Status = bo.Status
		if err := e.store.UpdateStatus(order.ID, bo.Status, nil, nil); err != nil {
			log.Error().Err(err).Msg("Failed to persist terminal status")
		}
		reason := fmt.Sprintf("order %s by broker", statusVerb(bo.Status))
		log.Warn().Str("status", string(bo.Status)).Msg("Order ended without a fill")
		t := events.OrderFailed
		if bo.Status == domain.StatusCancelled {
			t = events.OrderCancelled
		}
		e.emit(t, order, reason)
		return Outcome{OrderID: order.ID, Status: bo.Status, Reason: reason, Error: FailureMessage}
	}

	price := bo.AvgFillPrice
	if price <= 0 {
		price = order.LimitPrice
	}
	qty := order.Quantity
	if bo.ExecutedQuantity > 0 && bo.ExecutedQuantity < qty {
		qty = bo.ExecutedQuantity
	}

	filledAt := now
	if bo.FilledAt != nil && !bo.FilledAt.IsZero() {
		filledAt = *bo.FilledAt
	}

	order.Status = domain.StatusFilled
	order.FillPrice = &price
	order.FilledAt = &filledAt

	fill := domain.Fill{
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: qty,
		Price:    price,
		FilledAt: filledAt,
	}
	if order.Side == domain.SideSell && order.EntryPrice > 0 {
		mult := 1
		if domain.IsOptionSymbol(order.Symbol) {
			mult = domain.OptionMultiplier
		}
		pnl := (price - order.EntryPrice) * float64(qty*mult)
		fill.RealizedPnL = &pnl
	}
	if err := e.store.RecordFill(fill); err != nil {
		log.Error().Err(err).Msg("Failed to persist fill")
	}

	log.Info().Float64("fill_price", price).Int("quantity", qty).Msg("Order filled")
	e.emit(events.OrderFilled, order, "")
	return Outcome{OK: true, OrderID: order.ID, Status: domain.StatusFilled, FillPrice: &price, RealizedPnL: fill.RealizedPnL}
}

func statusVerb(s domain.OrderStatus) string {
	switch s {
	case domain.StatusCancelled:
		return "cancelled"
	case domain.StatusRejected:
		return "rejected"
	case domain.StatusExpired:
		return "expired"
	}
	return string(s)
}

// Recover re-checks every persisted non-terminal order once by id and
// records any terminal status the broker reports. It returns the number of
// orders that reached a terminal state.
func (e *Executor) Recover(ctx context.Context) (int, error) {
	orders, err := e.store.ListNonTerminal()
	if err != nil {
		return 0, fmt.Errorf("failed to list non-terminal orders: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}
	e.log.Info().Int("orders", len(orders)).Msg("Recovering non-terminal orders")

	resolved := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		bo, err := e.broker.GetOrder(ctx, o.ID)
		if err != nil {
			e.log.Warn().Err(err).Str("order_id", o.ID).Msg("Could not recover order status")
			continue
		}
		if bo == nil || !bo.Status.IsTerminal() {
			if o.Status != domain.StatusOpen {
				if err := e.store.UpdateStatus(o.ID, domain.StatusOpen, nil, nil); err != nil {
					e.log.Error().Err(err).Str("order_id", o.ID).Msg("Failed to persist OPEN status")
				}
			}
			continue
		}
		e.settle(o, bo)
		resolved++
	}
	return resolved, nil
}

// Cancel cancels a working order at the broker and records it
func (e *Executor) Cancel(ctx context.Context, orderID string) error {
	order, err := e.store.GetByID(orderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	if order == nil {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("order %s is already %s: %w", orderID, order.Status, ErrOrderNotWorking)
	}
	if err := e.broker.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	order.Status = domain.StatusCancelled
	if err := e.store.UpdateStatus(orderID, domain.StatusCancelled, nil, nil); err != nil {
		return fmt.Errorf("order %s cancelled but not recorded: %w", orderID, err)
	}
	ordersTotal.WithLabelValues(string(domain.StatusCancelled)).Inc()
	e.log.Info().Str("order_id", orderID).Msg("Order cancelled")
	e.emit(events.OrderCancelled, *order, "cancelled on request")
	return nil
}
