package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
)

// asList normalizes the API's "object or list or null" collection shape
func asList(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return t
	case map[string]interface{}:
		return []interface{}{t}
	default:
		return nil
	}
}

// nested walks a chain of object keys, returning nil when any step is missing
func nested(m map[string]interface{}, keys ...string) interface{} {
	var cur interface{} = m
	for _, k := range keys {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

func str(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

func intOf(v interface{}) int {
	f := domain.ToFloatOrNone(v)
	if f == nil {
		return 0
	}
	return int(*f)
}

func transformBalances(resp map[string]interface{}) (*domain.AccountBalances, error) {
	b, ok := resp["balances"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("balances missing from response")
	}

	out := &domain.AccountBalances{
		Equity: domain.FloatOr(b["total_equity"], 0),
		Cash:   domain.FloatOr(b["total_cash"], 0),
	}

	// Buying power lives under the account type's section
	for _, section := range []string{"margin", "cash", "pdt"} {
		s, ok := b[section].(map[string]interface{})
		if !ok {
			continue
		}
		if bp := domain.ToFloatOrNone(s["stock_buying_power"]); bp != nil {
			out.BuyingPower = *bp
			break
		}
		if bp := domain.ToFloatOrNone(s["cash_available"]); bp != nil {
			out.BuyingPower = *bp
			break
		}
	}
	if out.BuyingPower == 0 {
		out.BuyingPower = out.Cash
	}
	return out, nil
}

func transformPositions(resp map[string]interface{}) []domain.BrokerPosition {
	var out []domain.BrokerPosition
	for _, item := range asList(nested(resp, "positions", "position")) {
		p, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		qty := intOf(p["quantity"])
		if qty == 0 {
			continue
		}
		pos := domain.BrokerPosition{
			Symbol:    domain.NormalizeSymbol(str(p, "symbol")),
			Quantity:  qty,
			CostBasis: domain.FloatOr(p["cost_basis"], 0),
		}
		mult := 1
		if domain.IsOptionSymbol(pos.Symbol) {
			mult = domain.OptionMultiplier
		}
		if pos.CostBasis != 0 {
			pos.AvgPrice = pos.CostBasis / float64(qty*mult)
		}
		out = append(out, pos)
	}
	return out
}

func transformQuotes(resp map[string]interface{}) map[string]domain.BrokerQuote {
	out := make(map[string]domain.BrokerQuote)
	for _, item := range asList(nested(resp, "quotes", "quote")) {
		q, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sym := domain.NormalizeSymbol(str(q, "symbol"))
		if sym == "" {
			continue
		}
		out[sym] = domain.BrokerQuote{
			Symbol: sym,
			Last:   positive(domain.ToFloatOrNone(q["last"])),
			Bid:    positive(domain.ToFloatOrNone(q["bid"])),
			Ask:    positive(domain.ToFloatOrNone(q["ask"])),
		}
	}
	return out
}

func positive(f *float64) *float64 {
	if f == nil || *f <= 0 {
		return nil
	}
	return f
}

func transformExpirations(resp map[string]interface{}) []time.Time {
	var out []time.Time
	dates := nested(resp, "expirations", "date")
	if s, ok := dates.(string); ok {
		dates = []interface{}{s}
	}
	for _, item := range asList(dates) {
		s, ok := item.(string)
		if !ok {
			continue
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

func transformChain(resp map[string]interface{}, underlying string) []domain.OptionContract {
	var out []domain.OptionContract
	for _, item := range asList(nested(resp, "options", "option")) {
		o, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sym := domain.NormalizeSymbol(str(o, "symbol"))
		parsed, err := domain.ParseOSI(sym)
		if err != nil {
			continue
		}
		c := domain.OptionContract{
			Symbol:       parsed.String(),
			Underlying:   domain.NormalizeSymbol(underlying),
			Strike:       domain.FloatOr(o["strike"], parsed.Strike),
			Expiration:   parsed.Expiration,
			Type:         parsed.Type,
			Bid:          domain.FloatOr(o["bid"], 0),
			Ask:          domain.FloatOr(o["ask"], 0),
			OpenInterest: intOf(o["open_interest"]),
			Volume:       intOf(o["volume"]),
		}
		if g, ok := o["greeks"].(map[string]interface{}); ok {
			c.Greeks = &domain.Greeks{
				Delta: domain.FloatOr(g["delta"], 0),
				Gamma: domain.FloatOr(g["gamma"], 0),
				Theta: domain.FloatOr(g["theta"], 0),
				Vega:  domain.FloatOr(g["vega"], 0),
				IV:    domain.FloatOr(g["mid_iv"], 0),
			}
		}
		out = append(out, c)
	}
	return out
}

func transformEstimate(resp map[string]interface{}) (*domain.CostEstimate, error) {
	o, ok := resp["order"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("order missing from preview response")
	}
	if st := strings.ToLower(str(o, "status")); st != "" && st != "ok" {
		return nil, fmt.Errorf("preview rejected: %s", st)
	}
	notional := domain.ToFloatOrNone(o["order_cost"])
	if notional == nil {
		notional = domain.ToFloatOrNone(o["cost"])
	}
	if notional == nil {
		return nil, fmt.Errorf("preview response has no cost")
	}
	est := &domain.CostEstimate{
		Commission: domain.FloatOr(o["commission"], 0),
		Notional:   *notional,
	}
	est.BuyingPowerRequired = domain.FloatOr(o["margin_change"], est.Notional+est.Commission)
	return est, nil
}

// mapStatus maps the API's order status vocabulary to the lifecycle states
func mapStatus(s string) domain.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "filled":
		return domain.StatusFilled
	case "canceled", "cancelled":
		return domain.StatusCancelled
	case "rejected", "error":
		return domain.StatusRejected
	case "expired":
		return domain.StatusExpired
	case "ok", "pending", "submitted":
		return domain.StatusPlaced
	default:
		// open, partially_filled, calculated, accepted_for_bidding, held
		return domain.StatusOpen
	}
}

func mapSide(s string) domain.Side {
	if strings.HasPrefix(strings.ToLower(s), "sell") {
		return domain.SideSell
	}
	return domain.SideBuy
}

func transformOrder(o map[string]interface{}) domain.BrokerOrder {
	sym := str(o, "option_symbol")
	if sym == "" {
		sym = str(o, "symbol")
	}
	out := domain.BrokerOrder{
		ID:               str(o, "id"),
		ClientOrderID:    str(o, "tag"),
		Symbol:           domain.NormalizeSymbol(sym),
		Side:             mapSide(str(o, "side")),
		Quantity:         intOf(o["quantity"]),
		ExecutedQuantity: intOf(o["exec_quantity"]),
		AvgFillPrice:     domain.FloatOr(o["avg_fill_price"], 0),
		Status:           mapStatus(str(o, "status")),
	}
	if t, err := time.Parse(time.RFC3339, str(o, "create_date")); err == nil {
		out.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, str(o, "transaction_date")); err == nil {
		out.UpdatedAt = t
		if out.Status == domain.StatusFilled {
			out.FilledAt = &t
		}
	}
	return out
}

// orderSide renders the API's side, which distinguishes opening and closing option trades
func orderSide(req domain.OrderRequest) string {
	if !domain.IsOptionSymbol(req.Symbol) {
		return strings.ToLower(string(req.Side))
	}
	if req.Side == domain.SideBuy {
		if req.Opening {
			return "buy_to_open"
		}
		return "buy_to_close"
	}
	if req.Opening {
		return "sell_to_open"
	}
	return "sell_to_close"
}
