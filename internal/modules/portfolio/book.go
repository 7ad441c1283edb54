package portfolio

import (
	"fmt"
	"sync"

	"github.com/aristath/bucketeer/internal/domain"
)

// Book is an in-memory position ledger. Positions are created on the first
// fill of a symbol, reweighted (VWAP entry) on later buys, and removed when
// their quantity reaches zero. Short positions are not supported.
type Book struct {
	mu        sync.RWMutex
	cash      float64
	positions map[string]*domain.Position
	order     []string // insertion order of normalized symbols
}

// NewBook creates a book holding only cash
func NewBook(cash float64) *Book {
	return &Book{
		cash:      cash,
		positions: make(map[string]*domain.Position),
	}
}

// ApplyFill applies an execution to the book and returns the realized P&L
// for sells (nil for buys).
func (b *Book) ApplyFill(symbol string, side domain.Side, quantity int, price float64) (*float64, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("fill quantity must be positive")
	}
	if price <= 0 {
		return nil, fmt.Errorf("fill price must be positive")
	}
	key := domain.NormalizeSymbol(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	pos, held := b.positions[key]

	switch side {
	case domain.SideBuy:
		if !held {
			p := domain.PositionFromSymbol(key, quantity, price)
			p.CurrentPrice = price
			b.positions[key] = &p
			b.order = append(b.order, key)
			b.cash -= price * float64(quantity) * float64(p.Multiplier())
			return nil, nil
		}
		total := pos.Quantity + quantity
		pos.EntryPrice = (pos.EntryPrice*float64(pos.Quantity) + price*float64(quantity)) / float64(total)
		pos.Quantity = total
		pos.CurrentPrice = price
		b.cash -= price * float64(quantity) * float64(pos.Multiplier())
		return nil, nil

	case domain.SideSell:
		if !held {
			return nil, fmt.Errorf("cannot sell %s: not held", key)
		}
		if quantity > pos.Quantity {
			return nil, fmt.Errorf("cannot sell %d %s: only %d held", quantity, key, pos.Quantity)
		}
		mult := float64(pos.Multiplier())
		realized := (price - pos.EntryPrice) * float64(quantity) * mult
		b.cash += price * float64(quantity) * mult
		pos.Quantity -= quantity
		pos.CurrentPrice = price
		if pos.Quantity == 0 {
			b.remove(key)
		}
		return &realized, nil

	default:
		return nil, fmt.Errorf("invalid side %q", side)
	}
}

func (b *Book) remove(key string) {
	delete(b.positions, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Mark updates the current price of a held symbol
func (b *Book) Mark(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.positions[domain.NormalizeSymbol(symbol)]; ok && price > 0 {
		pos.CurrentPrice = price
	}
}

// AdjustCash adds delta to cash (commissions, deposits)
func (b *Book) AdjustCash(delta float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash += delta
}

// Cash returns the cash balance
func (b *Book) Cash() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cash
}

// Position returns a copy of a held position
func (b *Book) Position(symbol string) (domain.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[domain.NormalizeSymbol(symbol)]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all held positions in first-fill order
func (b *Book) Positions() []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Position, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, *b.positions[k])
	}
	return out
}

// Equity returns cash plus the market value of all positions
func (b *Book) Equity() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := b.cash
	for _, p := range b.positions {
		total += p.MarketValue()
	}
	return total
}
