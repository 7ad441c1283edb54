package domain

import (
	"context"
	"time"
)

// BrokerClient defines broker-agnostic execution and account operations.
// Implementations: clients/broker (REST) and clients/paper (in-memory).
type BrokerClient interface {
	// Account operations
	GetBalances(ctx context.Context) (*AccountBalances, error)
	GetPositions(ctx context.Context) ([]BrokerPosition, error)

	// Market data operations
	GetQuotes(ctx context.Context, symbols []string) (map[string]BrokerQuote, error)
	GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error)
	GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]OptionContract, error)

	// Trading operations
	PreviewOrder(ctx context.Context, req OrderRequest) (*CostEstimate, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*BrokerOrder, error)
	GetOrder(ctx context.Context, orderID string) (*BrokerOrder, error)
	GetOpenOrders(ctx context.Context) ([]BrokerOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// MarketDataProvider supplies quotes, chains and greeks.
// A nil result means "unavailable": callers skip, never substitute zero.
type MarketDataProvider interface {
	GetQuote(ctx context.Context, symbol string) (*float64, error)
	GetQuoteBidAsk(ctx context.Context, symbol string) (*BidAsk, error)
	GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error)
	GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]OptionContract, error)
	GetOptionGreeks(ctx context.Context, symbols []string) (map[string]Greeks, error)
}

// ContractSelector picks a specific option contract to trade for an underlying.
// Returns nil when no contract passes the filters.
type ContractSelector interface {
	SelectContract(ctx context.Context, underlying string, underlyingPrice float64) (*ContractQuote, error)
}
