// Package ledger keeps cash balances and per-symbol positions. All state is
// derived from the trade journal: ApplyFill is the only rule that moves a
// position, and Post is the only path that writes it.
package ledger

import (
	"fmt"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
	"github.com/jonhpyo/MyHTS/pkg/safe"
	"github.com/shopspring/decimal"
)

// ApplyFill books one fill into pos and returns the cash delta of the
// account (negative for BUY, positive for SELL).
//
// Opening or increasing fills move AvgPrice to the quantity-weighted
// average. Reducing fills realize (price - avg) * closed for longs and
// (avg - price) * closed for shorts. A fill that crosses zero closes the old
// side at the old average and opens the remainder at the fill price.
func ApplyFill(pos *domain.Position, side domain.Side, price quant.PriceMicros, qty quant.Qty) (quant.PriceMicros, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("%w: fill quantity %d", domain.ErrValidation, qty)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: fill price %d", domain.ErrValidation, price)
	}

	notional, err := quant.Notional(price, qty)
	if err != nil {
		return 0, err
	}
	signed := qty
	cash := -notional
	if side == domain.Sell {
		signed = -qty
		cash = notional
	}

	old := pos.Qty
	next, err := safe.Add(int64(old), int64(signed))
	if err != nil {
		return 0, err
	}

	if old == 0 || (old > 0) == (signed > 0) {
		pos.AvgPrice = weightedAverage(abs(old), pos.AvgPrice, qty, price, abs(quant.Qty(next)))
		pos.Qty = quant.Qty(next)
		return cash, nil
	}

	closed := min(abs(old), qty)
	perUnit := int64(price - pos.AvgPrice)
	if old < 0 {
		perUnit = -perUnit
	}
	realized, err := safe.Mul(perUnit, int64(closed))
	if err != nil {
		return 0, err
	}
	total, err := safe.Add(int64(pos.RealizedPnL), realized)
	if err != nil {
		return 0, err
	}
	pos.RealizedPnL = quant.PriceMicros(total)
	pos.Qty = quant.Qty(next)

	switch {
	case next == 0:
		pos.AvgPrice = 0
	case (next > 0) != (old > 0):
		pos.AvgPrice = price
	}
	return cash, nil
}

func weightedAverage(oldQty quant.Qty, oldAvg quant.PriceMicros, qty quant.Qty, price quant.PriceMicros, newQty quant.Qty) quant.PriceMicros {
	if newQty == 0 {
		return 0
	}
	cost := decimal.NewFromInt(int64(oldQty)).Mul(oldAvg.Decimal()).
		Add(decimal.NewFromInt(int64(qty)).Mul(price.Decimal()))
	return quant.RoundDecimal(cost.Div(decimal.NewFromInt(int64(newQty))))
}

func abs(q quant.Qty) quant.Qty {
	if q < 0 {
		return -q
	}
	return q
}

// MarkToMarket values each position at the supplied reference price. A
// symbol missing from prices is marked at its own average price. The input
// positions are not modified.
func MarkToMarket(positions []domain.Position, prices map[string]quant.PriceMicros) ([]domain.Valuation, quant.PriceMicros, error) {
	out := make([]domain.Valuation, 0, len(positions))
	var totalUnrealized int64

	for _, p := range positions {
		last, ok := prices[p.Symbol]
		if !ok || last <= 0 {
			last = p.AvgPrice
		}
		assetValue, err := quant.Notional(last, p.Qty)
		if err != nil {
			return nil, 0, err
		}

		var unrealized int64
		if p.Qty != 0 {
			if unrealized, err = safe.Mul(int64(last-p.AvgPrice), int64(p.Qty)); err != nil {
				return nil, 0, err
			}
		}
		if totalUnrealized, err = safe.Add(totalUnrealized, unrealized); err != nil {
			return nil, 0, err
		}

		out = append(out, domain.Valuation{
			Position:      p,
			LastPrice:     last,
			AssetValue:    assetValue,
			UnrealizedPnL: quant.PriceMicros(unrealized),
		})
	}
	return out, quant.PriceMicros(totalUnrealized), nil
}
