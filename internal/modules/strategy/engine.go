// Package strategy turns a portfolio snapshot into the ordered list of
// candidate orders for one decision cycle.
package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// Engine is the strategy decision engine. It reads quotes through the
// injected providers and never places or mutates anything.
type Engine struct {
	market   domain.MarketDataProvider
	selector domain.ContractSelector
	log      zerolog.Logger
}

// NewEngine creates a decision engine
func NewEngine(market domain.MarketDataProvider, selector domain.ContractSelector, log zerolog.Logger) *Engine {
	return &Engine{
		market:   market,
		selector: selector,
		log:      log.With().Str("service", "strategy").Logger(),
	}
}

// Decide returns this cycle's candidates: cap trims first, then per-position
// exits and rolls in snapshot order, then bucket rebalances.
func (e *Engine) Decide(ctx context.Context, snap domain.Snapshot, cfg config.StrategyConfig) []domain.Candidate {
	now := snap.TakenAt
	if now.IsZero() {
		now = time.Now()
	}

	// Quantity already committed to sells this cycle, by symbol
	committed := make(map[string]int)

	var out []domain.Candidate
	for _, c := range e.capTrim(ctx, snap, cfg) {
		committed[domain.NormalizeSymbol(c.Symbol)] += c.Quantity
		out = append(out, c)
	}

	for _, pos := range snap.Positions {
		remaining := pos.Quantity - committed[pos.NormalizedSymbol()]
		if remaining <= 0 {
			continue
		}
		pos.Quantity = remaining
		cands := e.evaluatePosition(ctx, snap, cfg, pos, now)
		for _, c := range cands {
			if c.Side == domain.SideSell {
				committed[domain.NormalizeSymbol(c.Symbol)] += c.Quantity
			}
		}
		out = append(out, cands...)
	}

	out = append(out, e.rebalance(ctx, snap, cfg, committed)...)

	e.log.Debug().Int("candidates", len(out)).Msg("Decision complete")
	return out
}

// capTrim spreads the speculative bucket's excess over its cap across the
// bucket's quoted positions in proportion to market value. Each sell is
// rounded up so the bucket lands at or under the cap.
func (e *Engine) capTrim(ctx context.Context, snap domain.Snapshot, cfg config.StrategyConfig) []domain.Candidate {
	bucket, ok := cfg.MoonshotBucket()
	if !ok || snap.Equity <= 0 {
		return nil
	}
	capFraction := cfg.Governance.MoonshotCap
	fraction := cfg.BucketFraction(snap, bucket)
	if fraction <= capFraction {
		return nil
	}
	excess := (fraction - capFraction) * snap.Equity

	var held []domain.Position
	var values []float64
	for _, p := range snap.Positions {
		if !bucket.Contains(p) || p.CurrentPrice <= 0 || p.Quantity <= 0 {
			continue
		}
		held = append(held, p)
		values = append(values, p.MarketValue())
	}
	if len(held) == 0 {
		return nil
	}
	total := floats.Sum(values)
	if total <= 0 {
		return nil
	}
	shares := make([]float64, len(values))
	copy(shares, values)
	floats.Scale(excess/total, shares)

	var out []domain.Candidate
	for i, p := range held {
		unit := p.CurrentPrice * float64(p.Multiplier())
		qty := int(math.Ceil(shares[i]/unit - 1e-9))
		if qty > p.Quantity {
			qty = p.Quantity
		}
		if qty <= 0 {
			continue
		}
		out = append(out, domain.Candidate{
			Side:       domain.SideSell,
			Symbol:     p.NormalizedSymbol(),
			Quantity:   qty,
			LimitPrice: e.sellPrice(ctx, p),
			Rationale: fmt.Sprintf("cap-trim: %s at %.1f%% exceeds %.1f%% cap, trimming $%.2f of $%.2f excess",
				bucket.Name, fraction*100, capFraction*100, shares[i], excess),
			Bucket:     bucket.Name,
			Kind:       domain.KindCapTrim,
			EntryPrice: p.EntryPrice,
		})
	}
	return out
}

// sellPrice is the bid when a two-sided quote is available, otherwise the
// snapshot price
func (e *Engine) sellPrice(ctx context.Context, p domain.Position) float64 {
	ba, err := e.market.GetQuoteBidAsk(ctx, p.NormalizedSymbol())
	if err == nil && ba != nil && ba.Bid > 0 {
		return ba.Bid
	}
	return p.CurrentPrice
}

// underlyingPrice prefers the snapshot's price and falls back to a live quote
func (e *Engine) underlyingPrice(ctx context.Context, snap domain.Snapshot, underlying string) (float64, bool) {
	if price, ok := snap.UnderlyingPrice(underlying); ok {
		return price, true
	}
	price, err := e.market.GetQuote(ctx, underlying)
	if err != nil {
		e.log.Debug().Err(err).Str("underlying", underlying).Msg("Underlying quote failed")
		return 0, false
	}
	if price == nil || *price <= 0 {
		return 0, false
	}
	return *price, true
}

func bucketName(cfg config.StrategyConfig, p domain.Position) string {
	if b, ok := cfg.BucketFor(p); ok {
		return b.Name
	}
	return ""
}
