package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
)

// MockBroker is a scriptable domain.BrokerClient.
// Zero-value fields return empty results; error fields are returned as-is.
type MockBroker struct {
	mu sync.Mutex

	Balances    *domain.AccountBalances
	BalancesErr error
	Positions   []domain.BrokerPosition
	Quotes      map[string]domain.BrokerQuote
	Expirations map[string][]time.Time
	Chains      map[string][]domain.OptionContract

	Estimate    *domain.CostEstimate
	PreviewErrs []error // consumed one per call before Estimate is returned

	PlaceResult *domain.BrokerOrder
	PlaceErr    error

	// GetOrderFunc scripts order polling; call counts from 1
	GetOrderFunc func(id string, call int) (*domain.BrokerOrder, error)
	OpenOrders   []domain.BrokerOrder
	OpenErr      error
	CancelErr    error

	Calls     map[string]int
	Placed    []domain.OrderRequest
	Cancelled []string
}

// NewMockBroker creates a mock broker with the given balances
func NewMockBroker(equity, cash float64) *MockBroker {
	return &MockBroker{
		Balances: &domain.AccountBalances{Equity: equity, Cash: cash, BuyingPower: cash},
		Quotes:   map[string]domain.BrokerQuote{},
		Calls:    map[string]int{},
	}
}

func (m *MockBroker) record(name string) int {
	if m.Calls == nil {
		m.Calls = map[string]int{}
	}
	m.Calls[name]++
	return m.Calls[name]
}

// CallCount returns how many times a method was called
func (m *MockBroker) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

func (m *MockBroker) GetBalances(ctx context.Context) (*domain.AccountBalances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetBalances")
	if m.BalancesErr != nil {
		return nil, m.BalancesErr
	}
	if m.Balances == nil {
		return &domain.AccountBalances{}, nil
	}
	b := *m.Balances
	return &b, nil
}

func (m *MockBroker) GetPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetPositions")
	return append([]domain.BrokerPosition(nil), m.Positions...), nil
}

func (m *MockBroker) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.BrokerQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetQuotes")
	out := make(map[string]domain.BrokerQuote, len(symbols))
	for _, s := range symbols {
		if q, ok := m.Quotes[domain.NormalizeSymbol(s)]; ok {
			out[domain.NormalizeSymbol(s)] = q
		}
	}
	return out, nil
}

func (m *MockBroker) GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetOptionExpirations")
	return m.Expirations[domain.NormalizeSymbol(underlying)], nil
}

func (m *MockBroker) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]domain.OptionContract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetOptionChain")
	key := domain.NormalizeSymbol(underlying) + ":" + expiration.Format("2006-01-02")
	return m.Chains[key], nil
}

func (m *MockBroker) PreviewOrder(ctx context.Context, req domain.OrderRequest) (*domain.CostEstimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("PreviewOrder")
	if len(m.PreviewErrs) > 0 {
		err := m.PreviewErrs[0]
		m.PreviewErrs = m.PreviewErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.Estimate != nil {
		e := *m.Estimate
		return &e, nil
	}
	notional := req.LimitPrice * float64(req.Quantity)
	if domain.IsOptionSymbol(req.Symbol) {
		notional *= domain.OptionMultiplier
	}
	return &domain.CostEstimate{Commission: 1, Notional: notional, BuyingPowerRequired: notional + 1}, nil
}

func (m *MockBroker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.BrokerOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("PlaceOrder")
	m.Placed = append(m.Placed, req)
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	if m.PlaceResult != nil {
		o := *m.PlaceResult
		return &o, nil
	}
	return &domain.BrokerOrder{
		ID:            fmt.Sprintf("ORD-%d", len(m.Placed)),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Status:        domain.StatusPlaced,
	}, nil
}

func (m *MockBroker) GetOrder(ctx context.Context, orderID string) (*domain.BrokerOrder, error) {
	m.mu.Lock()
	call := m.record("GetOrder")
	fn := m.GetOrderFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(orderID, call)
	}
	return nil, domain.ErrOrderNotFound
}

func (m *MockBroker) GetOpenOrders(ctx context.Context) ([]domain.BrokerOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetOpenOrders")
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return append([]domain.BrokerOrder(nil), m.OpenOrders...), nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CancelOrder")
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.Cancelled = append(m.Cancelled, orderID)
	return nil
}

// FilledAfter returns a GetOrderFunc that reports status until call n, then FILLED at price
func FilledAfter(n int, price float64, status domain.OrderStatus) func(string, int) (*domain.BrokerOrder, error) {
	return func(id string, call int) (*domain.BrokerOrder, error) {
		if call >= n {
			return &domain.BrokerOrder{ID: id, Status: domain.StatusFilled, AvgFillPrice: price}, nil
		}
		return &domain.BrokerOrder{ID: id, Status: status}, nil
	}
}

// MockMarketData is a map-backed domain.MarketDataProvider.
// Symbols absent from the maps are "unavailable" (nil result, nil error).
type MockMarketData struct {
	mu     sync.Mutex
	Last   map[string]float64
	BidAsk map[string]domain.BidAsk
	Greeks map[string]domain.Greeks
	Err    error
}

// NewMockMarketData creates an empty mock provider
func NewMockMarketData() *MockMarketData {
	return &MockMarketData{
		Last:   map[string]float64{},
		BidAsk: map[string]domain.BidAsk{},
		Greeks: map[string]domain.Greeks{},
	}
}

// SetQuote sets both the last price and a symmetric bid/ask around it
func (m *MockMarketData) SetQuote(symbol string, bid, ask float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.NormalizeSymbol(symbol)
	m.BidAsk[key] = domain.BidAsk{Bid: bid, Ask: ask, Mid: (bid + ask) / 2}
	m.Last[key] = (bid + ask) / 2
}

// SetLast sets only the last price
func (m *MockMarketData) SetLast(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Last[domain.NormalizeSymbol(symbol)] = price
}

func (m *MockMarketData) GetQuote(ctx context.Context, symbol string) (*float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.Last[domain.NormalizeSymbol(symbol)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MockMarketData) GetQuoteBidAsk(ctx context.Context, symbol string) (*domain.BidAsk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	q, ok := m.BidAsk[domain.NormalizeSymbol(symbol)]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (m *MockMarketData) GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	return nil, nil
}

func (m *MockMarketData) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]domain.OptionContract, error) {
	return nil, nil
}

func (m *MockMarketData) GetOptionGreeks(ctx context.Context, symbols []string) (map[string]domain.Greeks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Greeks)
	for _, s := range symbols {
		if g, ok := m.Greeks[domain.NormalizeSymbol(s)]; ok {
			out[domain.NormalizeSymbol(s)] = g
		}
	}
	return out, nil
}

// MockSelector returns a fixed contract per underlying
type MockSelector struct {
	mu        sync.Mutex
	Contracts map[string]*domain.ContractQuote
	Err       error
	Requests  []string
}

// NewMockSelector creates an empty mock selector
func NewMockSelector() *MockSelector {
	return &MockSelector{Contracts: map[string]*domain.ContractQuote{}}
}

func (m *MockSelector) SelectContract(ctx context.Context, underlying string, underlyingPrice float64) (*domain.ContractQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, domain.NormalizeSymbol(underlying))
	if m.Err != nil {
		return nil, m.Err
	}
	c, ok := m.Contracts[domain.NormalizeSymbol(underlying)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
