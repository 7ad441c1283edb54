// Package marketdata serves quotes, option chains and greeks from the
// execution API with short-lived caching.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
	"github.com/rs/zerolog"
)

// TTL defaults per data type
const (
	DefaultQuoteTTL      = 15 * time.Second
	DefaultChainTTL      = 2 * time.Minute
	DefaultExpirationTTL = 6 * time.Hour
)

// Source is the part of the execution API market data is read from
type Source interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]domain.BrokerQuote, error)
	GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error)
	GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]domain.OptionContract, error)
}

type cachedQuote struct {
	quote   domain.BrokerQuote
	present bool
	at      time.Time
}

type cachedChain struct {
	contracts []domain.OptionContract
	at        time.Time
}

type cachedExpirations struct {
	dates []time.Time
	at    time.Time
}

// Service implements domain.MarketDataProvider.
// A symbol the source does not know is cached as absent for the quote TTL.
type Service struct {
	source        Source
	quoteTTL      time.Duration
	chainTTL      time.Duration
	expirationTTL time.Duration
	now           func() time.Time
	log           zerolog.Logger

	mu          sync.Mutex
	quotes      map[string]cachedQuote
	chains      map[string]cachedChain
	expirations map[string]cachedExpirations
}

// NewService creates a market data service with the default TTLs
func NewService(source Source, log zerolog.Logger) *Service {
	return &Service{
		source:        source,
		quoteTTL:      DefaultQuoteTTL,
		chainTTL:      DefaultChainTTL,
		expirationTTL: DefaultExpirationTTL,
		now:           time.Now,
		log:           log.With().Str("service", "marketdata").Logger(),
		quotes:        make(map[string]cachedQuote),
		chains:        make(map[string]cachedChain),
		expirations:   make(map[string]cachedExpirations),
	}
}

// SetQuoteTTL overrides the quote cache lifetime (0 disables quote caching)
func (s *Service) SetQuoteTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quoteTTL = ttl
}

// GetQuote returns the last trade price, falling back to the bid/ask mid
func (s *Service) GetQuote(ctx context.Context, symbol string) (*float64, error) {
	q, ok, err := s.quote(ctx, symbol)
	if err != nil || !ok {
		return nil, err
	}
	if q.Last != nil && *q.Last > 0 {
		last := *q.Last
		return &last, nil
	}
	if q.Bid != nil && q.Ask != nil {
		if ba, ok := domain.NewBidAsk(*q.Bid, *q.Ask); ok {
			return &ba.Mid, nil
		}
	}
	return nil, nil
}

// GetQuoteBidAsk returns a two-sided quote, or nil when either side is missing or crossed
func (s *Service) GetQuoteBidAsk(ctx context.Context, symbol string) (*domain.BidAsk, error) {
	q, ok, err := s.quote(ctx, symbol)
	if err != nil || !ok {
		return nil, err
	}
	if q.Bid == nil || q.Ask == nil {
		return nil, nil
	}
	ba, valid := domain.NewBidAsk(*q.Bid, *q.Ask)
	if !valid {
		return nil, nil
	}
	return &ba, nil
}

// GetOptionExpirations returns expirations sorted as the source reports them
func (s *Service) GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	key := domain.NormalizeSymbol(underlying)
	now := s.now()

	s.mu.Lock()
	if c, ok := s.expirations[key]; ok && now.Sub(c.at) < s.expirationTTL {
		s.mu.Unlock()
		return c.dates, nil
	}
	s.mu.Unlock()

	dates, err := s.source.GetOptionExpirations(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get expirations for %s: %w", key, err)
	}

	s.mu.Lock()
	s.expirations[key] = cachedExpirations{dates: dates, at: now}
	s.mu.Unlock()
	return dates, nil
}

// GetOptionChain returns one expiration's chain
func (s *Service) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]domain.OptionContract, error) {
	key := chainKey(underlying, expiration)
	now := s.now()

	s.mu.Lock()
	if c, ok := s.chains[key]; ok && now.Sub(c.at) < s.chainTTL {
		s.mu.Unlock()
		return c.contracts, nil
	}
	s.mu.Unlock()

	contracts, err := s.source.GetOptionChain(ctx, domain.NormalizeSymbol(underlying), expiration)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain %s: %w", key, err)
	}

	s.mu.Lock()
	s.chains[key] = cachedChain{contracts: contracts, at: now}
	s.mu.Unlock()
	return contracts, nil
}

// GetOptionGreeks looks up reported greeks through each contract's chain.
// Contracts without greeks are absent from the result.
func (s *Service) GetOptionGreeks(ctx context.Context, symbols []string) (map[string]domain.Greeks, error) {
	out := make(map[string]domain.Greeks)
	for _, sym := range symbols {
		parsed, err := domain.ParseOSI(sym)
		if err != nil {
			continue
		}
		chain, err := s.GetOptionChain(ctx, parsed.Underlying, parsed.Expiration)
		if err != nil {
			return nil, err
		}
		want := parsed.String()
		for _, c := range chain {
			if c.Symbol == want && c.Greeks != nil {
				out[domain.NormalizeSymbol(sym)] = *c.Greeks
				break
			}
		}
	}
	return out, nil
}

// Warm fetches quotes for many symbols in one request
func (s *Service) Warm(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	quotes, err := s.source.GetQuotes(ctx, symbols)
	if err != nil {
		return fmt.Errorf("failed to warm quotes: %w", err)
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		key := domain.NormalizeSymbol(sym)
		q, ok := quotes[key]
		s.quotes[key] = cachedQuote{quote: q, present: ok, at: now}
	}
	return nil
}

// Invalidate drops cached quotes so the next read goes to the source
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = make(map[string]cachedQuote)
}

func (s *Service) quote(ctx context.Context, symbol string) (domain.BrokerQuote, bool, error) {
	key := domain.NormalizeSymbol(symbol)
	if key == "" {
		return domain.BrokerQuote{}, false, nil
	}
	now := s.now()

	s.mu.Lock()
	if c, ok := s.quotes[key]; ok && now.Sub(c.at) < s.quoteTTL {
		s.mu.Unlock()
		return c.quote, c.present, nil
	}
	s.mu.Unlock()

	quotes, err := s.source.GetQuotes(ctx, []string{key})
	if err != nil {
		s.log.Debug().Err(err).Str("symbol", key).Msg("Quote fetch failed")
		return domain.BrokerQuote{}, false, fmt.Errorf("failed to get quote for %s: %w", key, err)
	}
	q, ok := quotes[key]

	s.mu.Lock()
	s.quotes[key] = cachedQuote{quote: q, present: ok, at: now}
	s.mu.Unlock()
	return q, ok, nil
}

func chainKey(underlying string, expiration time.Time) string {
	return domain.NormalizeSymbol(underlying) + ":" + expiration.Format("2006-01-02")
}
