package engine

import (
	"sort"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// Execution is one crossing produced by Cross. Both orders have already
// been decremented by Qty.
type Execution struct {
	Buy   *domain.Order
	Sell  *domain.Order
	Price quant.PriceMicros
	Qty   quant.Qty
}

// SortBook partitions open orders into price-time sorted sides.
// Market orders sort ahead of every limit price on their side.
func SortBook(orders []*domain.Order) (buys, sells []*domain.Order) {
	for _, o := range orders {
		if o.RemainingQty <= 0 {
			continue
		}
		if o.Side == domain.Buy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool { return better(buys[i], buys[j], true) })
	sort.SliceStable(sells, func(i, j int) bool { return better(sells[i], sells[j], false) })
	return buys, sells
}

func better(a, b *domain.Order, buy bool) bool {
	if a.IsMarket() != b.IsMarket() {
		return a.IsMarket()
	}
	if !a.IsMarket() && a.LimitPrice() != b.LimitPrice() {
		if buy {
			return a.LimitPrice() > b.LimitPrice()
		}
		return a.LimitPrice() < b.LimitPrice()
	}
	return a.Before(b)
}

// Cross runs the crossing algorithm over sorted sides and returns the
// executions in the order they happened. It mutates RemainingQty of the
// orders it fills and touches nothing else.
//
// Market orders take resting limit liquidity first (a market order crosses
// any price), then limit orders cross while best bid >= best ask. Two market
// orders never trade with each other since neither carries a price.
func Cross(buys, sells []*domain.Order) []Execution {
	var out []Execution

	limitBuys, marketBuys := splitMarket(buys)
	limitSells, marketSells := splitMarket(sells)

	out = sweep(out, marketBuys, limitSells, true)
	out = sweep(out, marketSells, limitBuys, false)

	i, j := 0, 0
	for i < len(limitBuys) && j < len(limitSells) {
		b, s := limitBuys[i], limitSells[j]
		if b.RemainingQty <= 0 {
			i++
			continue
		}
		if s.RemainingQty <= 0 {
			j++
			continue
		}
		if b.LimitPrice() < s.LimitPrice() {
			break
		}
		price := s.LimitPrice()
		if b.Before(s) {
			price = b.LimitPrice()
		}
		out = append(out, fill(b, s, price))
	}
	return out
}

// sweep fills each market order against the resting limit side in priority order.
func sweep(out []Execution, market, resting []*domain.Order, marketIsBuy bool) []Execution {
	j := 0
	for _, m := range market {
		for m.RemainingQty > 0 && j < len(resting) {
			r := resting[j]
			if r.RemainingQty <= 0 {
				j++
				continue
			}
			if marketIsBuy {
				out = append(out, fill(m, r, r.LimitPrice()))
			} else {
				out = append(out, fill(r, m, r.LimitPrice()))
			}
		}
	}
	return out
}

func fill(b, s *domain.Order, price quant.PriceMicros) Execution {
	qty := min(b.RemainingQty, s.RemainingQty)
	b.RemainingQty -= qty
	s.RemainingQty -= qty
	return Execution{Buy: b, Sell: s, Price: price, Qty: qty}
}

func splitMarket(side []*domain.Order) (limit, market []*domain.Order) {
	for _, o := range side {
		if o.IsMarket() {
			market = append(market, o)
		} else {
			limit = append(limit, o)
		}
	}
	return limit, market
}
