package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
)

// evaluatePosition runs take-profit, stop-loss and roll in that order.
// The first rule that fires ends evaluation for the position.
func (e *Engine) evaluatePosition(ctx context.Context, snap domain.Snapshot, cfg config.StrategyConfig, pos domain.Position, now time.Time) []domain.Candidate {
	if pos.Quantity <= 0 {
		return nil
	}
	pnl, ok := pos.PnLPct()
	if !ok {
		e.log.Debug().Str("symbol", pos.Symbol).Msg("No quote or entry price, skipping position")
		return nil
	}

	if c, ok := e.takeProfit(ctx, cfg, pos, pnl); ok {
		return []domain.Candidate{c}
	}
	if c, ok := e.stopLoss(ctx, snap, cfg, pos, pnl, now); ok {
		return []domain.Candidate{c}
	}
	return e.roll(ctx, snap, cfg, pos, now)
}

func (e *Engine) takeProfit(ctx context.Context, cfg config.StrategyConfig, pos domain.Position, pnl float64) (domain.Candidate, bool) {
	tp := cfg.TakeProfit
	var qty int
	var label string
	switch {
	case pnl >= tp.FullClosePnL:
		qty = pos.Quantity
		label = fmt.Sprintf("take-profit: %+.1f%% >= %+.1f%%, closing full position", pnl*100, tp.FullClosePnL*100)
	case pnl >= tp.PartialClosePnL:
		qty = int(math.Floor(float64(pos.Quantity) * tp.CloseFraction))
		if qty < 1 {
			qty = 1
		}
		label = fmt.Sprintf("take-profit: %+.1f%% >= %+.1f%%, closing %.0f%%", pnl*100, tp.PartialClosePnL*100, tp.CloseFraction*100)
	default:
		return domain.Candidate{}, false
	}

	return domain.Candidate{
		Side:       domain.SideSell,
		Symbol:     pos.NormalizedSymbol(),
		Quantity:   qty,
		LimitPrice: e.sellPrice(ctx, pos),
		Rationale:  label,
		Bucket:     bucketName(cfg, pos),
		Kind:       domain.KindTakeProfit,
		EntryPrice: pos.EntryPrice,
	}, true
}

// stopLoss fires on a drawdown confirmed by the underlying (options) or
// outright (equity), or on a near-expiry option that is out of the money.
func (e *Engine) stopLoss(ctx context.Context, snap domain.Snapshot, cfg config.StrategyConfig, pos domain.Position, pnl float64, now time.Time) (domain.Candidate, bool) {
	sl := cfg.StopLoss
	var reason string

	if pnl <= sl.DrawdownPnL {
		if !pos.IsOption() {
			reason = fmt.Sprintf("stop-loss: %+.1f%% <= %+.1f%%", pnl*100, sl.DrawdownPnL*100)
		} else if u, ok := e.underlyingPrice(ctx, snap, pos.UnderlyingSymbol()); ok && beyondStrike(pos, u, sl.StrikeBuffer) {
			reason = fmt.Sprintf("stop-loss: %+.1f%% <= %+.1f%% with %s at %.2f beyond %.2f strike",
				pnl*100, sl.DrawdownPnL*100, pos.UnderlyingSymbol(), u, pos.Strike)
		}
	}

	if reason == "" && pos.IsOption() {
		dte := pos.DTE(now)
		if dte < sl.CloseDTE {
			if u, ok := e.underlyingPrice(ctx, snap, pos.UnderlyingSymbol()); ok && pos.IsOTM(u) {
				reason = fmt.Sprintf("stop-loss: %d DTE < %d and out of the money (%s at %.2f, strike %.2f)",
					dte, sl.CloseDTE, pos.UnderlyingSymbol(), u, pos.Strike)
			}
		}
	}

	if reason == "" {
		return domain.Candidate{}, false
	}
	return domain.Candidate{
		Side:       domain.SideSell,
		Symbol:     pos.NormalizedSymbol(),
		Quantity:   pos.Quantity,
		LimitPrice: e.sellPrice(ctx, pos),
		Rationale:  reason,
		Bucket:     bucketName(cfg, pos),
		Kind:       domain.KindStopLoss,
		EntryPrice: pos.EntryPrice,
	}, true
}

// beyondStrike reports whether the underlying sits past the strike, in the
// losing direction, by at least buffer (a fraction of the strike)
func beyondStrike(pos domain.Position, underlying, buffer float64) bool {
	if pos.Strike <= 0 {
		return false
	}
	if pos.OptionType == domain.OptionPut {
		return (underlying-pos.Strike)/pos.Strike >= buffer
	}
	return (pos.Strike-underlying)/pos.Strike >= buffer
}

// roll replaces a near-expiry option in a tracked bucket with the selector's
// contract. Either debit cap alone rejects the roll.
func (e *Engine) roll(ctx context.Context, snap domain.Snapshot, cfg config.StrategyConfig, pos domain.Position, now time.Time) []domain.Candidate {
	rc := cfg.Roll
	if !pos.IsOption() || pos.DTE(now) >= rc.TriggerDTE {
		return nil
	}
	bucket, ok := cfg.BucketFor(pos)
	if !ok || bucket.Speculative {
		return nil
	}

	underlying := pos.UnderlyingSymbol()
	price, ok := e.underlyingPrice(ctx, snap, underlying)
	if !ok {
		return nil
	}
	next, err := e.selector.SelectContract(ctx, underlying, price)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Contract selection failed, skipping roll")
		return nil
	}
	if next == nil || next.Mid <= 0 || domain.NormalizeSymbol(next.OSISymbol) == pos.NormalizedSymbol() {
		return nil
	}

	ba, err := e.market.GetQuoteBidAsk(ctx, pos.NormalizedSymbol())
	if err != nil || ba == nil || ba.Bid <= 0 {
		e.log.Debug().Str("symbol", pos.Symbol).Msg("No bid for expiring contract, skipping roll")
		return nil
	}

	debit := next.Mid - pos.CurrentPrice
	pctCap := rc.MaxDebitPct * pos.CurrentPrice
	if debit > pctCap || debit > rc.MaxDebitAbs {
		e.log.Info().
			Str("symbol", pos.Symbol).
			Str("replacement", next.OSISymbol).
			Float64("debit", debit).
			Float64("pct_cap", pctCap).
			Float64("abs_cap", rc.MaxDebitAbs).
			Msg("Roll rejected on cost")
		return nil
	}

	dte := pos.DTE(now)
	return []domain.Candidate{
		{
			Side:       domain.SideSell,
			Symbol:     pos.NormalizedSymbol(),
			Quantity:   pos.Quantity,
			LimitPrice: ba.Bid,
			Rationale:  fmt.Sprintf("roll: %d DTE < %d, closing before rolling to %s", dte, rc.TriggerDTE, next.OSISymbol),
			Bucket:     bucket.Name,
			Kind:       domain.KindRollClose,
			EntryPrice: pos.EntryPrice,
		},
		{
			Side:       domain.SideBuy,
			Symbol:     domain.NormalizeSymbol(next.OSISymbol),
			Quantity:   pos.Quantity,
			LimitPrice: next.Mid,
			Rationale:  fmt.Sprintf("roll: replacing %s, debit $%.2f per share", pos.NormalizedSymbol(), debit),
			Bucket:     bucket.Name,
			Kind:       domain.KindRollOpen,
		},
	}
}
