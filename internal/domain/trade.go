package domain

import "github.com/jonhpyo/MyHTS/pkg/quant"

// Trade is an immutable execution record.
type Trade struct {
	ID            int64
	BuyOrderID    int64
	SellOrderID   int64
	BuyAccountID  int64
	SellAccountID int64
	Symbol        string
	Price         quant.PriceMicros
	Quantity      quant.Qty
	TradeTime     quant.TimeStamp
}

// Involves reports whether orderID is either side of the trade.
func (t *Trade) Involves(orderID int64) bool {
	return t.BuyOrderID == orderID || t.SellOrderID == orderID
}

// Fill is a trade seen from one account: the side that account took.
type Fill struct {
	Trade
	AccountID int64
	OrderID   int64
	Side      Side
}
