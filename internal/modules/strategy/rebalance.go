package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
)

// rebalance moves each tracked bucket with an underlying toward its target
// once the gap exceeds the dead band. Sizes always floor.
func (e *Engine) rebalance(ctx context.Context, snap domain.Snapshot, cfg config.StrategyConfig, committed map[string]int) []domain.Candidate {
	if snap.Equity <= 0 {
		return nil
	}
	band := cfg.DeadBand * snap.Equity

	var out []domain.Candidate
	for _, b := range cfg.TrackedBuckets() {
		if b.Underlying == "" {
			continue
		}
		current := cfg.BucketFraction(snap, b)
		need := snap.Equity*b.Target - snap.Equity*current

		switch {
		case need > band:
			if c, ok := e.rebalanceBuy(ctx, snap, b, need, current); ok {
				out = append(out, c)
			}
		case need < -band:
			if c, ok := e.rebalanceSell(ctx, snap, b, -need, current, committed); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func (e *Engine) rebalanceBuy(ctx context.Context, snap domain.Snapshot, b config.Bucket, need, current float64) (domain.Candidate, bool) {
	underlying := domain.NormalizeSymbol(b.Underlying)
	price, ok := e.underlyingPrice(ctx, snap, underlying)
	if !ok {
		return domain.Candidate{}, false
	}
	contract, err := e.selector.SelectContract(ctx, underlying, price)
	if err != nil {
		e.log.Warn().Err(err).Str("bucket", b.Name).Msg("Contract selection failed, skipping rebalance")
		return domain.Candidate{}, false
	}
	if contract == nil || contract.Mid <= 0 {
		return domain.Candidate{}, false
	}

	qty := int(math.Floor(need / (contract.Mid * domain.OptionMultiplier)))
	if qty <= 0 {
		return domain.Candidate{}, false
	}
	return domain.Candidate{
		Side:       domain.SideBuy,
		Symbol:     domain.NormalizeSymbol(contract.OSISymbol),
		Quantity:   qty,
		LimitPrice: contract.Mid,
		Rationale: fmt.Sprintf("rebalance: %s at %.1f%% vs %.1f%% target, adding $%.2f",
			b.Name, current*100, b.Target*100, need),
		Bucket: b.Name,
		Kind:   domain.KindRebalanceBuy,
	}, true
}

// rebalanceSell trims the first bucket position large enough to cover the excess
func (e *Engine) rebalanceSell(ctx context.Context, snap domain.Snapshot, b config.Bucket, excess, current float64, committed map[string]int) (domain.Candidate, bool) {
	for _, p := range snap.Positions {
		if !b.Contains(p) || p.CurrentPrice <= 0 {
			continue
		}
		available := p.Quantity - committed[p.NormalizedSymbol()]
		if available <= 0 || p.MarketValue() <= excess {
			continue
		}
		qty := int(math.Floor(excess / (p.CurrentPrice * float64(p.Multiplier()))))
		if qty > available {
			qty = available
		}
		if qty <= 0 {
			return domain.Candidate{}, false
		}
		return domain.Candidate{
			Side:       domain.SideSell,
			Symbol:     p.NormalizedSymbol(),
			Quantity:   qty,
			LimitPrice: e.sellPrice(ctx, p),
			Rationale: fmt.Sprintf("rebalance: %s at %.1f%% vs %.1f%% target, reducing $%.2f",
				b.Name, current*100, b.Target*100, excess),
			Bucket:     b.Name,
			Kind:       domain.KindRebalanceSell,
			EntryPrice: p.EntryPrice,
		}, true
	}
	return domain.Candidate{}, false
}
