package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
)

// GetBalances returns account equity, cash and buying power
func (c *Client) GetBalances(ctx context.Context) (*domain.AccountBalances, error) {
	resp, err := c.do(ctx, http.MethodGet, c.accountPath("/balances"), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	return transformBalances(resp)
}

// GetPositions returns all open positions
func (c *Client) GetPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	resp, err := c.do(ctx, http.MethodGet, c.accountPath("/positions"), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	return transformPositions(resp), nil
}

// GetQuotes returns quotes keyed by normalized symbol. Unknown symbols are absent.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.BrokerQuote, error) {
	if len(symbols) == 0 {
		return map[string]domain.BrokerQuote{}, nil
	}
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, domain.NormalizeSymbol(s))
	}
	q := url.Values{}
	q.Set("symbols", strings.Join(normalized, ","))
	q.Set("greeks", "false")

	resp, err := c.do(ctx, http.MethodGet, "/v1/markets/quotes", q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get quotes: %w", err)
	}
	return transformQuotes(resp), nil
}

// GetOptionExpirations lists available expiration dates for an underlying
func (c *Client) GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	q := url.Values{}
	q.Set("symbol", domain.NormalizeSymbol(underlying))
	resp, err := c.do(ctx, http.MethodGet, "/v1/markets/options/expirations", q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get expirations for %s: %w", underlying, err)
	}
	return transformExpirations(resp), nil
}

// GetOptionChain returns the chain for one expiration, with greeks when available
func (c *Client) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]domain.OptionContract, error) {
	q := url.Values{}
	q.Set("symbol", domain.NormalizeSymbol(underlying))
	q.Set("expiration", expiration.Format("2006-01-02"))
	q.Set("greeks", "true")
	resp, err := c.do(ctx, http.MethodGet, "/v1/markets/options/chains", q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain for %s: %w", underlying, err)
	}
	return transformChain(resp, underlying), nil
}

// PreviewOrder asks the API to cost an order without submitting it
func (c *Client) PreviewOrder(ctx context.Context, req domain.OrderRequest) (*domain.CostEstimate, error) {
	form, err := orderForm(req)
	if err != nil {
		return nil, err
	}
	form.Set("preview", "true")

	resp, err := c.do(ctx, http.MethodPost, c.accountPath("/orders"), nil, form)
	if err != nil {
		return nil, fmt.Errorf("failed to preview order: %w", err)
	}
	return transformEstimate(resp)
}

// PlaceOrder submits a day limit order
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.BrokerOrder, error) {
	form, err := orderForm(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, c.accountPath("/orders"), nil, form)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	o, ok := resp["order"].(map[string]interface{})
	if !ok || str(o, "id") == "" {
		return nil, fmt.Errorf("place order response has no order id")
	}

	c.log.Info().
		Str("order_id", str(o, "id")).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Int("quantity", req.Quantity).
		Float64("limit_price", req.LimitPrice).
		Msg("Order submitted")

	return &domain.BrokerOrder{
		ID:            str(o, "id"),
		ClientOrderID: req.ClientOrderID,
		Symbol:        domain.NormalizeSymbol(req.Symbol),
		Side:          req.Side,
		Quantity:      req.Quantity,
		Status:        mapStatus(str(o, "status")),
		CreatedAt:     time.Now(),
	}, nil
}

// GetOrder returns the current state of one order
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.BrokerOrder, error) {
	resp, err := c.do(ctx, http.MethodGet, c.accountPath("/orders/"+url.PathEscape(orderID)), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	o, ok := resp["order"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	order := transformOrder(o)
	if order.ID == "" {
		order.ID = orderID
	}
	return &order, nil
}

// GetOpenOrders returns orders that have not reached a terminal state
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.BrokerOrder, error) {
	resp, err := c.do(ctx, http.MethodGet, c.accountPath("/orders"), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	var out []domain.BrokerOrder
	for _, item := range asList(nested(resp, "orders", "order")) {
		o, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		order := transformOrder(o)
		if order.Status.IsTerminal() {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

// CancelOrder requests cancellation of an open order
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := c.do(ctx, http.MethodDelete, c.accountPath("/orders/"+url.PathEscape(orderID)), nil, nil); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	c.log.Info().Str("order_id", orderID).Msg("Order cancellation requested")
	return nil
}

func orderForm(req domain.OrderRequest) (url.Values, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if req.LimitPrice <= 0 {
		return nil, fmt.Errorf("limit price must be positive")
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return nil, fmt.Errorf("invalid side: %s", req.Side)
	}

	sym := domain.NormalizeSymbol(req.Symbol)
	form := url.Values{}
	if domain.IsOptionSymbol(sym) {
		parsed, err := domain.ParseOSI(sym)
		if err != nil {
			return nil, fmt.Errorf("invalid option symbol %s: %w", req.Symbol, err)
		}
		form.Set("class", "option")
		form.Set("symbol", parsed.Underlying)
		form.Set("option_symbol", sym)
	} else {
		form.Set("class", "equity")
		form.Set("symbol", sym)
	}
	form.Set("side", orderSide(req))
	form.Set("quantity", strconv.Itoa(req.Quantity))
	form.Set("type", "limit")
	form.Set("duration", "day")
	form.Set("price", strconv.FormatFloat(req.LimitPrice, 'f', 2, 64))
	if req.ClientOrderID != "" {
		form.Set("tag", req.ClientOrderID)
	}
	return form, nil
}
