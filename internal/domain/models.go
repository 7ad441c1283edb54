// Package domain provides core domain models and types.
package domain

import (
	"math"
	"time"
)

// Side represents an order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// InstrumentClass represents the asset class of a held instrument
type InstrumentClass string

const (
	ClassEquity InstrumentClass = "equity"
	ClassOption InstrumentClass = "option"
)

// OptionType is call or put
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// OptionMultiplier is the number of shares controlled by one listed option contract
const OptionMultiplier = 100

// Position represents a held instrument.
// Strike, Expiration and OptionType are only set for options.
type Position struct {
	Symbol       string          `json:"symbol"`     // Broker-native symbol
	OSISymbol    string          `json:"osi_symbol"` // Normalized OSI identifier (options only)
	Quantity     int             `json:"quantity"`   // Signed, positive = long
	EntryPrice   float64         `json:"entry_price"`
	CurrentPrice float64         `json:"current_price"`
	Class        InstrumentClass `json:"class"`
	Underlying   string          `json:"underlying,omitempty"`
	Strike       float64         `json:"strike,omitempty"`
	Expiration   time.Time       `json:"expiration,omitempty"`
	OptionType   OptionType      `json:"option_type,omitempty"`
}

// IsOption reports whether the position is an option contract
func (p Position) IsOption() bool {
	return p.Class == ClassOption
}

// Multiplier returns the contract multiplier for the position
func (p Position) Multiplier() int {
	if p.IsOption() {
		return OptionMultiplier
	}
	return 1
}

// MarketValue returns the current market value of the position
func (p Position) MarketValue() float64 {
	return p.CurrentPrice * float64(p.Quantity) * float64(p.Multiplier())
}

// PnLPct returns (current - entry) / entry. Returns false if the entry price is unknown.
func (p Position) PnLPct() (float64, bool) {
	if p.EntryPrice <= 0 || p.CurrentPrice <= 0 {
		return 0, false
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice, true
}

// UnderlyingSymbol returns the underlying for options and the symbol itself for equities
func (p Position) UnderlyingSymbol() string {
	if p.IsOption() && p.Underlying != "" {
		return p.Underlying
	}
	return p.Symbol
}

// NormalizedSymbol returns the OSI symbol for options and the upper-cased symbol otherwise
func (p Position) NormalizedSymbol() string {
	if p.IsOption() && p.OSISymbol != "" {
		return p.OSISymbol
	}
	return NormalizeSymbol(p.Symbol)
}

// DTE returns the number of calendar days to expiration as of now.
func (p Position) DTE(now time.Time) int {
	if !p.IsOption() || p.Expiration.IsZero() {
		return 0
	}
	return DaysToExpiration(p.Expiration, now)
}

// IsOTM reports whether the option is out of the money at the given underlying price
func (p Position) IsOTM(underlyingPrice float64) bool {
	if !p.IsOption() {
		return false
	}
	if p.OptionType == OptionPut {
		return underlyingPrice > p.Strike
	}
	return underlyingPrice < p.Strike
}

// DaysToExpiration counts calendar days from now's date to the expiration date.
func DaysToExpiration(expiration, now time.Time) int {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ey, em, ed := expiration.Date()
	exp := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(math.Round(exp.Sub(today).Hours() / 24))
}

// Snapshot is the portfolio state a decision cycle works against.
type Snapshot struct {
	Equity           float64            `json:"equity"`
	Cash             float64            `json:"cash"`
	BuyingPower      float64            `json:"buying_power"`
	Positions        []Position         `json:"positions"`
	UnderlyingPrices map[string]float64 `json:"underlying_prices"`
	TakenAt          time.Time          `json:"taken_at"`
}

// SymbolValue returns the market value held in the given (normalized) symbol
func (s Snapshot) SymbolValue(symbol string) float64 {
	symbol = NormalizeSymbol(symbol)
	total := 0.0
	for _, p := range s.Positions {
		if p.NormalizedSymbol() == symbol {
			total += p.MarketValue()
		}
	}
	return total
}

// ClassFraction returns the fraction of equity held in the given asset class
func (s Snapshot) ClassFraction(class InstrumentClass) float64 {
	if s.Equity <= 0 {
		return 0
	}
	total := 0.0
	for _, p := range s.Positions {
		if p.Class == class {
			total += p.MarketValue()
		}
	}
	return total / s.Equity
}

// UnderlyingPrice returns the last known underlying price, if any
func (s Snapshot) UnderlyingPrice(underlying string) (float64, bool) {
	if s.UnderlyingPrices == nil {
		return 0, false
	}
	price, ok := s.UnderlyingPrices[NormalizeSymbol(underlying)]
	if !ok || price <= 0 {
		return 0, false
	}
	return price, true
}

// CandidateKind tags why a candidate was emitted
type CandidateKind string

const (
	KindCapTrim       CandidateKind = "cap_trim"
	KindTakeProfit    CandidateKind = "take_profit"
	KindStopLoss      CandidateKind = "stop_loss"
	KindRollClose     CandidateKind = "roll_close"
	KindRollOpen      CandidateKind = "roll_open"
	KindRebalanceBuy  CandidateKind = "rebalance_buy"
	KindRebalanceSell CandidateKind = "rebalance_sell"
	KindManual        CandidateKind = "manual"
)

// Candidate is a proposed but unexecuted order
type Candidate struct {
	Side       Side          `json:"action"`
	Symbol     string        `json:"symbol"`
	Quantity   int           `json:"quantity"`
	LimitPrice float64       `json:"price"`
	Rationale  string        `json:"rationale"`
	Bucket     string        `json:"bucket"`
	Kind       CandidateKind `json:"kind"`
	EntryPrice float64       `json:"entry_price,omitempty"` // SELL only, for realized P&L
}

// Multiplier returns the contract multiplier implied by the candidate's symbol
func (c Candidate) Multiplier() int {
	if IsOptionSymbol(c.Symbol) {
		return OptionMultiplier
	}
	return 1
}

// Notional returns quantity x price x multiplier
func (c Candidate) Notional() float64 {
	return float64(c.Quantity) * c.LimitPrice * float64(c.Multiplier())
}

// OrderStatus is a state of the order lifecycle
type OrderStatus string

const (
	StatusProposed          OrderStatus = "PROPOSED"
	StatusPreflightOK       OrderStatus = "PREFLIGHT_OK"
	StatusPreflightFailed   OrderStatus = "PREFLIGHT_FAILED"
	StatusGovernanceAllowed OrderStatus = "GOVERNANCE_ALLOWED"
	StatusGovernanceBlocked OrderStatus = "GOVERNANCE_BLOCKED"
	StatusPlaced            OrderStatus = "PLACED"
	StatusOpen              OrderStatus = "OPEN"
	StatusFilled            OrderStatus = "FILLED"
	StatusCancelled         OrderStatus = "CANCELLED"
	StatusRejected          OrderStatus = "REJECTED"
	StatusExpired           OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions can happen
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Order is a candidate that passed governance and was submitted to the broker
type Order struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"client_order_id"`
	Side          Side        `json:"side"`
	Symbol        string      `json:"symbol"`
	Quantity      int         `json:"quantity"`
	LimitPrice    float64     `json:"limit_price"`
	Status        OrderStatus `json:"status"`
	Bucket        string      `json:"bucket"`
	Rationale     string      `json:"rationale"`
	EntryPrice    float64     `json:"entry_price,omitempty"`
	FillPrice     *float64    `json:"fill_price,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	FilledAt      *time.Time  `json:"filled_at,omitempty"`
}

// Fill records an executed order
type Fill struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	FilledAt    time.Time `json:"filled_at"`
}

// AlertType identifies one of the proactive alert checks
type AlertType string

const (
	AlertKillSwitchWarning AlertType = "kill-switch-warning"
	AlertRollNeeded        AlertType = "roll-needed"
	AlertCapApproaching    AlertType = "cap-approaching"
)

// AlertSeverity grades an alert
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a proactive threshold notification
type Alert struct {
	Type        AlertType              `json:"type"`
	Severity    AlertSeverity          `json:"severity"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details"`
	Key         string                 `json:"key"` // Coalescing key: type, or type:symbol for rolls
	TriggeredAt time.Time              `json:"triggered_at"`
}
