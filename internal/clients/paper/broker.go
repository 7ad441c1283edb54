// Package paper provides a simulated broker that fills marketable limit
// orders against live quotes and keeps positions in memory.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
	"github.com/aristath/bucketeer/internal/modules/portfolio"
	"github.com/rs/zerolog"
)

// QuoteSource is the read-only slice of the broker interface the simulator prices against
type QuoteSource interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]domain.BrokerQuote, error)
	GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error)
	GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]domain.OptionContract, error)
}

// Config holds simulator settings
type Config struct {
	StartingCash     float64
	OptionCommission float64 // per contract
	EquityCommission float64 // per order
}

// Broker is an in-memory domain.BrokerClient
type Broker struct {
	cfg    Config
	source QuoteSource
	book   *portfolio.Book
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	orders   map[string]*domain.BrokerOrder
	limits   map[string]float64
	byClient map[string]string
	seq      int
}

// NewBroker creates a simulated broker funded with cfg.StartingCash
func NewBroker(cfg Config, source QuoteSource, log zerolog.Logger) *Broker {
	return &Broker{
		cfg:      cfg,
		source:   source,
		book:     portfolio.NewBook(cfg.StartingCash),
		log:      log.With().Str("component", "paper-broker").Logger(),
		now:      time.Now,
		orders:   make(map[string]*domain.BrokerOrder),
		limits:   make(map[string]float64),
		byClient: make(map[string]string),
	}
}

func (b *Broker) GetBalances(ctx context.Context) (*domain.AccountBalances, error) {
	b.markToMarket(ctx)
	cash := b.book.Cash()
	return &domain.AccountBalances{
		Equity:      b.book.Equity(),
		Cash:        cash,
		BuyingPower: cash,
	}, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	var out []domain.BrokerPosition
	for _, p := range b.book.Positions() {
		out = append(out, domain.BrokerPosition{
			Symbol:    p.NormalizedSymbol(),
			Quantity:  p.Quantity,
			CostBasis: p.EntryPrice * float64(p.Quantity*p.Multiplier()),
			AvgPrice:  p.EntryPrice,
		})
	}
	return out, nil
}

func (b *Broker) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.BrokerQuote, error) {
	if b.source == nil {
		return map[string]domain.BrokerQuote{}, nil
	}
	return b.source.GetQuotes(ctx, symbols)
}

func (b *Broker) GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	if b.source == nil {
		return nil, nil
	}
	return b.source.GetOptionExpirations(ctx, underlying)
}

func (b *Broker) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]domain.OptionContract, error) {
	if b.source == nil {
		return nil, nil
	}
	return b.source.GetOptionChain(ctx, underlying, expiration)
}

// PreviewOrder costs an order. Sells of more than is held are rejected here.
func (b *Broker) PreviewOrder(ctx context.Context, req domain.OrderRequest) (*domain.CostEstimate, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.Side == domain.SideSell {
		pos, ok := b.book.Position(req.Symbol)
		if !ok || pos.Quantity < req.Quantity {
			return nil, fmt.Errorf("insufficient position in %s to sell %d", domain.NormalizeSymbol(req.Symbol), req.Quantity)
		}
	}

	notional := req.LimitPrice * float64(req.Quantity*multiplier(req.Symbol))
	commission := b.commission(req)
	est := &domain.CostEstimate{Commission: commission, Notional: notional}
	if req.Side == domain.SideBuy {
		est.BuyingPowerRequired = notional + commission
	}
	return est, nil
}

// PlaceOrder accepts a day limit order and fills it at once when marketable.
// A repeated client order id returns the original order.
func (b *Broker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.BrokerOrder, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if req.ClientOrderID != "" {
		if id, ok := b.byClient[req.ClientOrderID]; ok {
			existing := *b.orders[id]
			b.mu.Unlock()
			return &existing, nil
		}
	}
	b.seq++
	now := b.now()
	order := &domain.BrokerOrder{
		ID:            fmt.Sprintf("PAPER-%d", b.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        domain.NormalizeSymbol(req.Symbol),
		Side:          req.Side,
		Quantity:      req.Quantity,
		Status:        domain.StatusPlaced,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.orders[order.ID] = order
	b.limits[order.ID] = req.LimitPrice
	if req.ClientOrderID != "" {
		b.byClient[req.ClientOrderID] = order.ID
	}
	b.mu.Unlock()

	b.tryFill(ctx, order.ID, req.LimitPrice)

	b.mu.Lock()
	defer b.mu.Unlock()
	placed := *b.orders[order.ID]
	placed.Status = domain.StatusPlaced
	b.log.Info().
		Str("order_id", placed.ID).
		Str("symbol", placed.Symbol).
		Str("side", string(placed.Side)).
		Int("quantity", placed.Quantity).
		Float64("limit_price", req.LimitPrice).
		Msg("Paper order accepted")
	return &placed, nil
}

// GetOrder returns the order, retrying the fill for orders still resting
func (b *Broker) GetOrder(ctx context.Context, orderID string) (*domain.BrokerOrder, error) {
	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	resting := !order.Status.IsTerminal()
	limit := b.limits[orderID]
	b.mu.Unlock()

	if resting {
		b.tryFill(ctx, orderID, limit)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *b.orders[orderID]
	return &cp, nil
}

func (b *Broker) GetOpenOrders(ctx context.Context) ([]domain.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BrokerOrder
	for _, o := range b.orders {
		if !o.Status.IsTerminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("order %s is already %s", orderID, order.Status)
	}
	order.Status = domain.StatusCancelled
	order.UpdatedAt = b.now()
	delete(b.limits, orderID)
	return nil
}

// Book exposes the simulated ledger
func (b *Broker) Book() *portfolio.Book {
	return b.book
}

func (b *Broker) commission(req domain.OrderRequest) float64 {
	if domain.IsOptionSymbol(req.Symbol) {
		return b.cfg.OptionCommission * float64(req.Quantity)
	}
	return b.cfg.EquityCommission
}

func validate(req domain.OrderRequest) error {
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if req.LimitPrice <= 0 {
		return fmt.Errorf("limit price must be positive")
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return fmt.Errorf("invalid side: %s", req.Side)
	}
	return nil
}

func multiplier(symbol string) int {
	if domain.IsOptionSymbol(symbol) {
		return domain.OptionMultiplier
	}
	return 1
}
