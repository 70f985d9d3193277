package api

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/internal/execution"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// Prices and amounts travel as decimal strings ("101.25") and are accepted
// as either JSON strings or numbers.

type limitOrderRequest struct {
	UserID    int64           `json:"user_id" binding:"required"`
	AccountID int64           `json:"account_id" binding:"required"`
	Symbol    string          `json:"symbol" binding:"required"`
	Side      string          `json:"side" binding:"required"`
	Price     decimal.Decimal `json:"price"`
	Qty       int64           `json:"qty"`
}

type marketOrderRequest struct {
	UserID    int64  `json:"user_id" binding:"required"`
	AccountID int64  `json:"account_id" binding:"required"`
	Symbol    string `json:"symbol" binding:"required"`
	Side      string `json:"side" binding:"required"`
	Qty       int64  `json:"qty"`
}

type cancelRequest struct {
	OrderIDs []int64 `json:"order_ids"`
}

type openAccountRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Name   string `json:"name"`
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func toMicros(d decimal.Decimal, field string) (quant.PriceMicros, error) {
	v, err := quant.FromDecimal(d)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrValidation, field, err)
	}
	return v, nil
}

type tradeDTO struct {
	ID          int64  `json:"id"`
	BuyOrderID  int64  `json:"buy_order_id"`
	SellOrderID int64  `json:"sell_order_id"`
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	Qty         int64  `json:"qty"`
	TradeTime   int64  `json:"trade_time"`
	Side        string `json:"side,omitempty"`
	OrderID     int64  `json:"order_id,omitempty"`
}

func newTradeDTO(t domain.Trade) tradeDTO {
	return tradeDTO{
		ID:          t.ID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Symbol:      t.Symbol,
		Price:       t.Price.String(),
		Qty:         int64(t.Quantity),
		TradeTime:   int64(t.TradeTime),
	}
}

func newFillDTO(f domain.Fill) tradeDTO {
	dto := newTradeDTO(f.Trade)
	dto.Side = string(f.Side)
	dto.OrderID = f.OrderID
	return dto
}

type orderResultDTO struct {
	OrderID      int64      `json:"order_id"`
	Status       string     `json:"status"`
	Fills        []tradeDTO `json:"fills"`
	FilledQty    int64      `json:"filled_qty"`
	AvgPrice     string     `json:"avg_price"`
	RemainingQty int64      `json:"remaining_qty"`
	LeftoverQty  int64      `json:"leftover_qty"`
}

func newOrderResultDTO(r *execution.OrderResult) orderResultDTO {
	fills := make([]tradeDTO, 0, len(r.Fills))
	for _, t := range r.Fills {
		fills = append(fills, newTradeDTO(t))
	}
	return orderResultDTO{
		OrderID:      r.OrderID,
		Status:       string(r.Status),
		Fills:        fills,
		FilledQty:    int64(r.FilledQty),
		AvgPrice:     r.AvgPrice.String(),
		RemainingQty: int64(r.RemainingQty),
		LeftoverQty:  int64(r.LeftoverQty),
	}
}

type orderDTO struct {
	ID           int64   `json:"id"`
	AccountID    int64   `json:"account_id"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Type         string  `json:"order_type"`
	Price        *string `json:"price"`
	Quantity     int64   `json:"quantity"`
	RemainingQty int64   `json:"remaining_qty"`
	Status       string  `json:"status"`
	CreatedAt    int64   `json:"created_at"`
}

func newOrderDTO(o domain.Order) orderDTO {
	dto := orderDTO{
		ID:           o.ID,
		AccountID:    o.AccountID,
		Symbol:       o.Symbol,
		Side:         string(o.Side),
		Type:         string(o.Type),
		Quantity:     int64(o.Quantity),
		RemainingQty: int64(o.RemainingQty),
		Status:       string(o.Status),
		CreatedAt:    int64(o.CreatedAt),
	}
	if o.Price != nil {
		p := o.Price.String()
		dto.Price = &p
	}
	return dto
}

type accountDTO struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Balance   string `json:"balance"`
	CreatedAt int64  `json:"created_at"`
}

func newAccountDTO(a domain.Account) accountDTO {
	return accountDTO{ID: a.ID, UserID: a.UserID, Name: a.Name, Balance: a.Balance.String(), CreatedAt: int64(a.CreatedAt)}
}

type positionDTO struct {
	Symbol        string `json:"symbol"`
	Qty           int64  `json:"qty"`
	AvgPrice      string `json:"avg_price"`
	RealizedPnL   string `json:"realized_pnl"`
	LastPrice     string `json:"last_price,omitempty"`
	AssetValue    string `json:"asset_value,omitempty"`
	UnrealizedPnL string `json:"unrealized_pnl,omitempty"`
}

func newPositionDTO(p domain.Position) positionDTO {
	return positionDTO{Symbol: p.Symbol, Qty: int64(p.Qty), AvgPrice: p.AvgPrice.String(), RealizedPnL: p.RealizedPnL.String()}
}

type summaryDTO struct {
	AccountID int64         `json:"account_id"`
	Balance   string        `json:"balance"`
	Positions []positionDTO `json:"positions"`
}

type valuationDTO struct {
	AccountID       int64         `json:"account_id"`
	Cash            string        `json:"cash"`
	Positions       []positionDTO `json:"positions"`
	TotalUnrealized string        `json:"total_unrealized"`
}

type levelDTO struct {
	Price  string `json:"price"`
	Qty    int64  `json:"qty"`
	Orders int    `json:"orders"`
}

type depthDTO struct {
	Symbol string     `json:"symbol"`
	Bids   []levelDTO `json:"bids"`
	Asks   []levelDTO `json:"asks"`
	Mid    *string    `json:"mid"`
}

func newDepthDTO(d domain.Depth) depthDTO {
	conv := func(levels []domain.PriceLevel) []levelDTO {
		out := make([]levelDTO, 0, len(levels))
		for _, l := range levels {
			out = append(out, levelDTO{Price: l.Price.String(), Qty: int64(l.Qty), Orders: l.Orders})
		}
		return out
	}
	dto := depthDTO{Symbol: d.Symbol, Bids: conv(d.Bids), Asks: conv(d.Asks)}
	if mid, ok := d.Mid(); ok {
		s := mid.String()
		dto.Mid = &s
	}
	return dto
}
