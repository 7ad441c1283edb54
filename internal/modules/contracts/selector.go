// Package contracts selects the option contract to open for an underlying.
package contracts

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
	"github.com/rs/zerolog"
)

// ConfigSource supplies the current strategy configuration
type ConfigSource interface {
	Config() config.StrategyConfig
}

// Selector implements domain.ContractSelector.
//
// Expirations inside the [MinDTE, MaxDTE] window are searched nearest first.
// Within an expiration, contracts of the configured type that pass the
// liquidity filters (open interest, two-sided quote, spread) compete on
// distance from the target strike (underlying × StrikeMoneyness); ties go to
// the higher open interest. The first expiration with a match wins.
type Selector struct {
	market domain.MarketDataProvider
	cfg    ConfigSource
	now    func() time.Time
	log    zerolog.Logger
}

// NewSelector creates a contract selector
func NewSelector(market domain.MarketDataProvider, cfg ConfigSource, log zerolog.Logger) *Selector {
	return &Selector{
		market: market,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With().Str("service", "contract-selector").Logger(),
	}
}

// SelectContract returns the best contract or nil when none qualifies
func (s *Selector) SelectContract(ctx context.Context, underlying string, underlyingPrice float64) (*domain.ContractQuote, error) {
	if underlyingPrice <= 0 {
		return nil, nil
	}
	filters := s.cfg.Config().Contracts
	underlying = domain.NormalizeSymbol(underlying)

	expirations, err := s.market.GetOptionExpirations(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("failed to list expirations for %s: %w", underlying, err)
	}

	now := s.now()
	var window []time.Time
	for _, exp := range expirations {
		dte := domain.DaysToExpiration(exp, now)
		if dte >= filters.MinDTE && dte <= filters.MaxDTE {
			window = append(window, exp)
		}
	}
	sort.Slice(window, func(i, j int) bool { return window[i].Before(window[j]) })

	target := underlyingPrice * filters.StrikeMoneyness
	for _, exp := range window {
		chain, err := s.market.GetOptionChain(ctx, underlying, exp)
		if err != nil {
			return nil, fmt.Errorf("failed to load chain for %s %s: %w", underlying, exp.Format("2006-01-02"), err)
		}
		if best := pick(chain, filters, target); best != nil {
			s.log.Debug().
				Str("underlying", underlying).
				Str("contract", best.OSISymbol).
				Float64("mid", best.Mid).
				Msg("Contract selected")
			return best, nil
		}
	}

	s.log.Info().
		Str("underlying", underlying).
		Int("expirations_in_window", len(window)).
		Msg("No contract passed the selection filters")
	return nil, nil
}

func pick(chain []domain.OptionContract, filters config.ContractConfig, target float64) *domain.ContractQuote {
	var best *domain.OptionContract
	var bestQuote domain.BidAsk
	bestDistance := math.Inf(1)

	for i := range chain {
		c := &chain[i]
		if filters.OptionType != "" && c.Type != filters.OptionType {
			continue
		}
		if c.OpenInterest < filters.MinOpenInterest {
			continue
		}
		ba, ok := domain.NewBidAsk(c.Bid, c.Ask)
		if !ok {
			continue
		}
		if filters.MaxSpreadPct > 0 && (ba.Ask-ba.Bid)/ba.Mid > filters.MaxSpreadPct {
			continue
		}

		distance := math.Abs(c.Strike - target)
		if distance < bestDistance || (distance == bestDistance && best != nil && c.OpenInterest > best.OpenInterest) {
			best = c
			bestQuote = ba
			bestDistance = distance
		}
	}

	if best == nil {
		return nil
	}
	return &domain.ContractQuote{
		OSISymbol:  best.Symbol,
		Strike:     best.Strike,
		Expiration: best.Expiration,
		Bid:        bestQuote.Bid,
		Ask:        bestQuote.Ask,
		Mid:        bestQuote.Mid,
	}
}
