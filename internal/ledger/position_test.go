package ledger

import (
	"testing"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
	"github.com/stretchr/testify/require"
)

const px = quant.PriceScale

type fill struct {
	side  domain.Side
	price quant.PriceMicros
	qty   quant.Qty
}

func TestApplyFill(t *testing.T) {
	tests := []struct {
		name         string
		fills        []fill
		wantQty      quant.Qty
		wantAvg      quant.PriceMicros
		wantRealized quant.PriceMicros
		wantCash     quant.PriceMicros
	}{
		{
			name:     "open long",
			fills:    []fill{{domain.Buy, 100 * px, 10}},
			wantQty:  10,
			wantAvg:  100 * px,
			wantCash: -1000 * px,
		},
		{
			name:     "add to long averages cost",
			fills:    []fill{{domain.Buy, 100 * px, 10}, {domain.Buy, 110 * px, 30}},
			wantQty:  40,
			wantAvg:  107500000, // (1000 + 3300) / 40
			wantCash: -4300 * px,
		},
		{
			name:         "partial close realizes on closed qty",
			fills:        []fill{{domain.Buy, 100 * px, 10}, {domain.Sell, 120 * px, 4}},
			wantQty:      6,
			wantAvg:      100 * px,
			wantRealized: 80 * px,
			wantCash:     -520 * px,
		},
		{
			name:         "full close resets avg",
			fills:        []fill{{domain.Buy, 100 * px, 10}, {domain.Sell, 90 * px, 10}},
			wantQty:      0,
			wantAvg:      0,
			wantRealized: -100 * px,
			wantCash:     -100 * px,
		},
		{
			name:         "sell through long flips to short at fill price",
			fills:        []fill{{domain.Buy, 100 * px, 5}, {domain.Sell, 110 * px, 8}},
			wantQty:      -3,
			wantAvg:      110 * px,
			wantRealized: 50 * px,
			wantCash:     380 * px,
		},
		{
			name:     "open and add short",
			fills:    []fill{{domain.Sell, 100 * px, 10}, {domain.Sell, 90 * px, 10}},
			wantQty:  -20,
			wantAvg:  95 * px,
			wantCash: 1900 * px,
		},
		{
			name:         "cover short realizes with flipped sign",
			fills:        []fill{{domain.Sell, 100 * px, 10}, {domain.Buy, 80 * px, 4}},
			wantQty:      -6,
			wantAvg:      100 * px,
			wantRealized: 80 * px,
			wantCash:     680 * px,
		},
		{
			name:         "buy through short flips to long",
			fills:        []fill{{domain.Sell, 100 * px, 2}, {domain.Buy, 105 * px, 5}},
			wantQty:      3,
			wantAvg:      105 * px,
			wantRealized: -10 * px,
			wantCash:     -325 * px,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := &domain.Position{Symbol: "AAPL"}
			var cash quant.PriceMicros
			for _, f := range tt.fills {
				delta, err := ApplyFill(pos, f.side, f.price, f.qty)
				require.NoError(t, err)
				cash += delta
			}
			require.Equal(t, tt.wantQty, pos.Qty, "qty")
			require.Equal(t, tt.wantAvg, pos.AvgPrice, "avg")
			require.Equal(t, tt.wantRealized, pos.RealizedPnL, "realized")
			require.Equal(t, tt.wantCash, cash, "cash")
		})
	}
}

func TestApplyFill_RejectsBadInput(t *testing.T) {
	pos := &domain.Position{}
	_, err := ApplyFill(pos, domain.Buy, 100*px, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = ApplyFill(pos, domain.Buy, 0, 1)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = ApplyFill(pos, domain.Buy, quant.PriceMicros(1<<62), 8)
	require.ErrorIs(t, err, domain.ErrOverflow)
	require.Equal(t, domain.Position{}, *pos, "failed fills must not touch the position")
}

func TestMarkToMarket(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "AAPL", Qty: 10, AvgPrice: 100 * px, RealizedPnL: 7 * px},
		{Symbol: "TSLA", Qty: -5, AvgPrice: 200 * px},
		{Symbol: "MSFT", Qty: 3, AvgPrice: 50 * px},
		{Symbol: "NVDA", Qty: 0},
	}
	prices := map[string]quant.PriceMicros{"AAPL": 110 * px, "TSLA": 190 * px, "NVDA": 10 * px}

	vals, total, err := MarkToMarket(positions, prices)
	require.NoError(t, err)
	require.Len(t, vals, 4)

	require.Equal(t, quant.PriceMicros(1100*px), vals[0].AssetValue)
	require.Equal(t, quant.PriceMicros(100*px), vals[0].UnrealizedPnL)
	require.Equal(t, quant.PriceMicros(7*px), vals[0].RealizedPnL, "realized pnl untouched")

	require.Equal(t, quant.PriceMicros(-950*px), vals[1].AssetValue)
	require.Equal(t, quant.PriceMicros(50*px), vals[1].UnrealizedPnL)

	// no reference price: marked at cost
	require.Equal(t, quant.PriceMicros(50*px), vals[2].LastPrice)
	require.Zero(t, vals[2].UnrealizedPnL)

	require.Zero(t, vals[3].UnrealizedPnL)
	require.Equal(t, quant.PriceMicros(150*px), total)

	require.Equal(t, quant.Qty(10), positions[0].Qty, "input positions are not mutated")
}
