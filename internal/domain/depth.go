package domain

import "github.com/jonhpyo/MyHTS/pkg/quant"

// PriceLevel aggregates resting limit orders at one price.
type PriceLevel struct {
	Price  quant.PriceMicros
	Qty    quant.Qty
	Orders int
}

// Depth is an aggregated order book snapshot. Bids are sorted best (highest)
// first, asks best (lowest) first.
type Depth struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
}

// Mid returns the midpoint of best bid and ask, or whichever side exists.
func (d *Depth) Mid() (quant.PriceMicros, bool) {
	bid, hasBid := firstLevel(d.Bids)
	ask, hasAsk := firstLevel(d.Asks)
	switch {
	case hasBid && hasAsk:
		return (bid + ask) / 2, true
	case hasBid:
		return bid, true
	case hasAsk:
		return ask, true
	}
	return 0, false
}

func firstLevel(levels []PriceLevel) (quant.PriceMicros, bool) {
	for _, l := range levels {
		if l.Qty > 0 {
			return l.Price, true
		}
	}
	return 0, false
}
