package domain

import "github.com/jonhpyo/MyHTS/pkg/quant"

// Position represents a per-symbol holding.
type Position struct {
	AccountID   int64
	Symbol      string
	Qty         quant.Qty         // Positive for Long, Negative for Short.
	AvgPrice    quant.PriceMicros // Weighted average cost of Qty; 0 when flat.
	RealizedPnL quant.PriceMicros
	UpdatedAt   quant.TimeStamp
}

// IsLong checks if the position is Long.
func (p *Position) IsLong() bool {
	return p.Qty > 0
}

// IsShort checks if the position is Short.
func (p *Position) IsShort() bool {
	return p.Qty < 0
}

// IsFlat reports a zero position.
func (p *Position) IsFlat() bool {
	return p.Qty == 0
}
