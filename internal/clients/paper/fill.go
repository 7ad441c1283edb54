package paper

import (
	"context"

	"github.com/aristath/bucketeer/internal/domain"
)

// tryFill fills a resting order when the quote crosses its limit.
// Buys fill at the ask, sells at the bid; a missing side falls back to last.
func (b *Broker) tryFill(ctx context.Context, orderID string, limit float64) {
	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok || order.Status.IsTerminal() {
		b.mu.Unlock()
		return
	}
	symbol := order.Symbol
	b.mu.Unlock()

	price, ok := b.executablePrice(ctx, symbol, order.Side)

	b.mu.Lock()
	defer b.mu.Unlock()
	if order.Status.IsTerminal() {
		return
	}
	order.UpdatedAt = b.now()

	if !ok {
		order.Status = domain.StatusOpen
		return
	}
	if (order.Side == domain.SideBuy && limit < price) || (order.Side == domain.SideSell && limit > price) {
		order.Status = domain.StatusOpen
		return
	}

	commission := b.commission(domain.OrderRequest{Symbol: symbol, Quantity: order.Quantity})
	if order.Side == domain.SideBuy {
		cost := price*float64(order.Quantity*multiplier(symbol)) + commission
		if cost > b.book.Cash() {
			b.log.Warn().
				Str("order_id", orderID).
				Float64("cost", cost).
				Float64("cash", b.book.Cash()).
				Msg("Paper order rejected for insufficient cash")
			order.Status = domain.StatusRejected
			delete(b.limits, orderID)
			return
		}
	}

	if _, err := b.book.ApplyFill(symbol, order.Side, order.Quantity, price); err != nil {
		b.log.Warn().Err(err).Str("order_id", orderID).Msg("Paper order rejected")
		order.Status = domain.StatusRejected
		delete(b.limits, orderID)
		return
	}
	b.book.AdjustCash(-commission)

	order.Status = domain.StatusFilled
	order.ExecutedQuantity = order.Quantity
	order.AvgFillPrice = price
	filledAt := order.UpdatedAt
	order.FilledAt = &filledAt
	delete(b.limits, orderID)

	b.log.Info().
		Str("order_id", orderID).
		Str("symbol", symbol).
		Float64("price", price).
		Msg("Paper order filled")
}

func (b *Broker) executablePrice(ctx context.Context, symbol string, side domain.Side) (float64, bool) {
	if b.source == nil {
		return 0, false
	}
	quotes, err := b.source.GetQuotes(ctx, []string{symbol})
	if err != nil {
		b.log.Debug().Err(err).Str("symbol", symbol).Msg("Quote unavailable for paper fill")
		return 0, false
	}
	q, ok := quotes[domain.NormalizeSymbol(symbol)]
	if !ok {
		return 0, false
	}
	var quoted *float64
	if side == domain.SideBuy {
		quoted = q.Ask
	} else {
		quoted = q.Bid
	}
	if quoted != nil && *quoted > 0 {
		return *quoted, true
	}
	if q.Last != nil && *q.Last > 0 {
		return *q.Last, true
	}
	return 0, false
}

// markToMarket refreshes book prices from mid quotes
func (b *Broker) markToMarket(ctx context.Context) {
	if b.source == nil {
		return
	}
	positions := b.book.Positions()
	if len(positions) == 0 {
		return
	}
	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.NormalizedSymbol())
	}
	quotes, err := b.source.GetQuotes(ctx, symbols)
	if err != nil {
		b.log.Debug().Err(err).Msg("Mark to market skipped")
		return
	}
	for sym, q := range quotes {
		if q.Bid != nil && q.Ask != nil {
			if ba, ok := domain.NewBidAsk(*q.Bid, *q.Ask); ok {
				b.book.Mark(sym, ba.Mid)
				continue
			}
		}
		if q.Last != nil {
			b.book.Mark(sym, *q.Last)
		}
	}
}
