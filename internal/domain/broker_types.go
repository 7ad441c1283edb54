package domain

import (
	"errors"
	"time"
)

// Broker-agnostic types for the execution API and market data.
// Concrete clients (REST broker, paper broker) transform their wire formats into these.

// Transient broker errors. Callers retry these inside the affected call.
var (
	// ErrRateLimited is returned when the API answers with a rate-limit response
	ErrRateLimited = errors.New("broker rate limit exceeded")
	// ErrOrderNotFound is returned when an order id is not (yet) visible to the API
	ErrOrderNotFound = errors.New("order not found")
)

// AccountBalances is the account-level money summary
type AccountBalances struct {
	Equity      float64 // Total account value
	Cash        float64 // Settled cash
	BuyingPower float64 // Available buying power
}

// BrokerPosition is a position as reported by the broker
type BrokerPosition struct {
	Symbol    string  // Broker-native symbol (OSI for options)
	Quantity  int     // Signed quantity
	CostBasis float64 // Total cost basis
	AvgPrice  float64 // Average cost per share/contract unit
}

// BidAsk is a two-sided quote
type BidAsk struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
	Mid float64 `json:"mid"`
}

// NewBidAsk builds a BidAsk, computing mid. Returns false when either side is missing.
func NewBidAsk(bid, ask float64) (BidAsk, bool) {
	if bid <= 0 || ask <= 0 || ask < bid {
		return BidAsk{}, false
	}
	return BidAsk{Bid: bid, Ask: ask, Mid: (bid + ask) / 2}, true
}

// BrokerQuote is a quote as reported by the broker
type BrokerQuote struct {
	Symbol string
	Last   *float64
	Bid    *float64
	Ask    *float64
}

// Greeks are broker-reported option sensitivities
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	IV    float64 `json:"iv"`
}

// OptionContract is one row of an option chain
type OptionContract struct {
	Symbol       string     `json:"symbol"` // OSI
	Underlying   string     `json:"underlying"`
	Strike       float64    `json:"strike"`
	Expiration   time.Time  `json:"expiration"`
	Type         OptionType `json:"type"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	OpenInterest int        `json:"open_interest"`
	Volume       int        `json:"volume"`
	Greeks       *Greeks    `json:"greeks,omitempty"`
}

// ContractQuote is the Contract Selector's answer
type ContractQuote struct {
	OSISymbol  string    `json:"osi_symbol"`
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Mid        float64   `json:"mid"`
}

// OrderRequest is a limit order submission
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Quantity      int
	LimitPrice    float64
	Opening       bool // true when the order opens (BUY_TO_OPEN) rather than closes
}

// CostEstimate is the broker's preflight answer
type CostEstimate struct {
	Commission          float64
	Notional            float64
	BuyingPowerRequired float64
}

// BrokerOrder is an order as reported by the broker
type BrokerOrder struct {
	ID               string
	ClientOrderID    string
	Symbol           string
	Side             Side
	Quantity         int
	ExecutedQuantity int
	AvgFillPrice     float64
	Status           OrderStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	FilledAt         *time.Time // Execution time, when the broker reports one
}
