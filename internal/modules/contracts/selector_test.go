package contracts

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/domain"
	testingpkg "github.com/aristath/bucketeer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainMarket serves expirations and chains from maps
type chainMarket struct {
	*testingpkg.MockMarketData
	expirations []time.Time
	chains      map[string][]domain.OptionContract
	chainCalls  []string
}

func (m *chainMarket) GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	return m.expirations, nil
}

func (m *chainMarket) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]domain.OptionContract, error) {
	key := expiration.Format("2006-01-02")
	m.chainCalls = append(m.chainCalls, key)
	return m.chains[key], nil
}

var today = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func contract(exp time.Time, strike, bid, ask float64, oi int) domain.OptionContract {
	sym := domain.OptionSymbol{Underlying: "SPY", Expiration: exp, Type: domain.OptionCall, Strike: strike}.String()
	return domain.OptionContract{
		Symbol: sym, Underlying: "SPY", Strike: strike, Expiration: exp,
		Type: domain.OptionCall, Bid: bid, Ask: ask, OpenInterest: oi,
	}
}

func newSelector(market domain.MarketDataProvider) *Selector {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	store := config.NewStrategyStore(config.DefaultStrategy())
	s := NewSelector(market, store, log)
	s.now = func() time.Time { return today }
	return s
}

func TestSelectContract_NearestQualifyingExpiration(t *testing.T) {
	near := day(30)  // outside the default 60..120 window
	first := day(75) // inside
	later := day(110)
	market := &chainMarket{
		MockMarketData: testingpkg.NewMockMarketData(),
		expirations:    []time.Time{later, near, first},
		chains: map[string][]domain.OptionContract{
			first.Format("2006-01-02"): {
				contract(first, 490, 20, 21, 500),
				contract(first, 500, 15, 15.5, 800),
				contract(first, 510, 10, 10.4, 900),
			},
			later.Format("2006-01-02"): {
				contract(later, 500, 25, 25.5, 800),
			},
		},
	}

	got, err := newSelector(market).SelectContract(context.Background(), "spy", 501)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 500.0, got.Strike)
	assert.Equal(t, first, got.Expiration)
	assert.InDelta(t, 15.25, got.Mid, 1e-9)
	assert.Equal(t, []string{first.Format("2006-01-02")}, market.chainCalls)
}

func TestSelectContract_Filters(t *testing.T) {
	exp := day(90)
	testCases := []struct {
		name  string
		chain []domain.OptionContract
	}{
		{"low open interest", []domain.OptionContract{contract(exp, 500, 15, 15.5, 10)}},
		{"one-sided quote", []domain.OptionContract{contract(exp, 500, 0, 15.5, 500)}},
		{"wide spread", []domain.OptionContract{contract(exp, 500, 10, 14, 500)}},
		{"wrong type", func() []domain.OptionContract {
			c := contract(exp, 500, 15, 15.5, 500)
			c.Type = domain.OptionPut
			return []domain.OptionContract{c}
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			market := &chainMarket{
				MockMarketData: testingpkg.NewMockMarketData(),
				expirations:    []time.Time{exp},
				chains:         map[string][]domain.OptionContract{exp.Format("2006-01-02"): tc.chain},
			}
			got, err := newSelector(market).SelectContract(context.Background(), "SPY", 500)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestSelectContract_FallsThroughToLaterExpiration(t *testing.T) {
	first := day(70)
	second := day(100)
	market := &chainMarket{
		MockMarketData: testingpkg.NewMockMarketData(),
		expirations:    []time.Time{first, second},
		chains: map[string][]domain.OptionContract{
			first.Format("2006-01-02"):  {contract(first, 500, 15, 15.5, 5)},
			second.Format("2006-01-02"): {contract(second, 505, 18, 18.6, 300)},
		},
	}

	got, err := newSelector(market).SelectContract(context.Background(), "SPY", 500)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second, got.Expiration)
}

func TestSelectContract_NoPriceReturnsNil(t *testing.T) {
	got, err := newSelector(testingpkg.NewMockMarketData()).SelectContract(context.Background(), "SPY", 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}
