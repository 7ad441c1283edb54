package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
	"github.com/rs/zerolog"
)

// QuoteWarmer is a market data provider that can fetch a batch of quotes
// in one request ahead of per-symbol reads
type QuoteWarmer interface {
	Warm(ctx context.Context, symbols []string) error
}

// SnapshotService builds portfolio snapshots from the execution API and
// publishes the latest one for readers outside the decision cycle.
type SnapshotService struct {
	broker domain.BrokerClient
	market domain.MarketDataProvider
	log    zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	latest *domain.Snapshot
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(broker domain.BrokerClient, market domain.MarketDataProvider, log zerolog.Logger) *SnapshotService {
	return &SnapshotService{
		broker: broker,
		market: market,
		log:    log.With().Str("service", "snapshot").Logger(),
		now:    time.Now,
	}
}

// Refresh pulls balances, positions and quotes and publishes a new snapshot.
// watch lists extra underlyings whose price the cycle needs (bucket targets).
// A position without a usable quote keeps CurrentPrice 0 and is skipped by
// the decision engine rather than valued at zero.
func (s *SnapshotService) Refresh(ctx context.Context, watch []string) (domain.Snapshot, error) {
	balances, err := s.broker.GetBalances(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to get balances: %w", err)
	}
	held, err := s.broker.GetPositions(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to get positions: %w", err)
	}

	snap := domain.Snapshot{
		Cash:             balances.Cash,
		BuyingPower:      balances.BuyingPower,
		UnderlyingPrices: make(map[string]float64),
		TakenAt:          s.now(),
	}

	underlyings := make(map[string]bool)
	for _, w := range watch {
		if w != "" {
			underlyings[domain.NormalizeSymbol(w)] = true
		}
	}

	positions := make([]domain.Position, 0, len(held))
	for _, bp := range held {
		if bp.Quantity == 0 {
			continue
		}
		pos := domain.PositionFromSymbol(bp.Symbol, bp.Quantity, bp.AvgPrice)
		if pos.EntryPrice <= 0 && bp.CostBasis > 0 {
			pos.EntryPrice = bp.CostBasis / float64(bp.Quantity*pos.Multiplier())
		}
		underlyings[pos.UnderlyingSymbol()] = true
		positions = append(positions, pos)
	}

	if warmer, ok := s.market.(QuoteWarmer); ok {
		symbols := make([]string, 0, len(positions)+len(underlyings))
		for _, pos := range positions {
			if !underlyings[pos.NormalizedSymbol()] {
				symbols = append(symbols, pos.NormalizedSymbol())
			}
		}
		for u := range underlyings {
			symbols = append(symbols, u)
		}
		if err := warmer.Warm(ctx, symbols); err != nil {
			s.log.Debug().Err(err).Int("symbols", len(symbols)).Msg("Batch quote fetch failed, reading quotes one by one")
		}
	}

	positionsValue := 0.0
	for _, pos := range positions {
		if ba, err := s.market.GetQuoteBidAsk(ctx, pos.NormalizedSymbol()); err == nil && ba != nil && ba.Mid > 0 {
			pos.CurrentPrice = ba.Mid
		} else if last, err := s.market.GetQuote(ctx, pos.NormalizedSymbol()); err == nil && last != nil && *last > 0 {
			pos.CurrentPrice = *last
		} else {
			s.log.Warn().Str("symbol", pos.Symbol).Msg("No quote for held position")
		}

		positionsValue += pos.MarketValue()
		snap.Positions = append(snap.Positions, pos)
	}

	for u := range underlyings {
		price, err := s.market.GetQuote(ctx, u)
		if err != nil || price == nil || *price <= 0 {
			s.log.Debug().Str("underlying", u).Msg("Underlying price unavailable")
			continue
		}
		snap.UnderlyingPrices[u] = *price
	}

	snap.Equity = balances.Equity
	if snap.Equity <= 0 && (balances.Cash > 0 || positionsValue > 0) {
		// Cash-only accounts under-report equity
		snap.Equity = balances.Cash + positionsValue
	}

	s.mu.Lock()
	s.latest = &snap
	s.mu.Unlock()

	s.log.Debug().
		Float64("equity", snap.Equity).
		Float64("cash", snap.Cash).
		Int("positions", len(snap.Positions)).
		Msg("Snapshot refreshed")

	return snap, nil
}

// Latest returns the last published snapshot
func (s *SnapshotService) Latest() (domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return domain.Snapshot{}, false
	}
	return *s.latest, true
}
