package event

import (
	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvTrade Type = iota + 1
	EvOrderUpdate
)

func (t Type) String() string {
	switch t {
	case EvTrade:
		return "trade"
	case EvOrderUpdate:
		return "order_update"
	}
	return "unknown"
}

// Event is the interface for everything published after a commit.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
	// Key groups events for ordered delivery (the symbol).
	Key() string
	setSeq(seq uint64)
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }
func (e *BaseEvent) setSeq(seq uint64)     { e.Seq = seq }

// TradeEvent is one committed execution.
type TradeEvent struct {
	BaseEvent
	TradeID     int64             `json:"trade_id"`
	BuyOrderID  int64             `json:"buy_order_id"`
	SellOrderID int64             `json:"sell_order_id"`
	Symbol      string            `json:"symbol"`
	Price       quant.PriceMicros `json:"price_micros"`
	Qty         quant.Qty         `json:"qty"`
}

func (e *TradeEvent) GetType() Type { return EvTrade }
func (e *TradeEvent) Key() string   { return e.Symbol }

// OrderUpdateEvent represents an order status change.
type OrderUpdateEvent struct {
	BaseEvent
	OrderID      int64     `json:"order_id"`
	AccountID    int64     `json:"account_id"`
	Symbol       string    `json:"symbol"`
	Status       string    `json:"status"`
	FilledQty    quant.Qty `json:"filled_qty"`
	RemainingQty quant.Qty `json:"remaining_qty"`
}

func (e *OrderUpdateEvent) GetType() Type { return EvOrderUpdate }
func (e *OrderUpdateEvent) Key() string   { return e.Symbol }

// NewTradeEvent converts a journal row.
func NewTradeEvent(t domain.Trade) *TradeEvent {
	return &TradeEvent{
		BaseEvent:   BaseEvent{Ts: t.TradeTime},
		TradeID:     t.ID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Symbol:      t.Symbol,
		Price:       t.Price,
		Qty:         t.Quantity,
	}
}

// NewOrderUpdateEvent snapshots an order after a state change.
func NewOrderUpdateEvent(o domain.Order) *OrderUpdateEvent {
	return &OrderUpdateEvent{
		BaseEvent:    BaseEvent{Ts: o.UpdatedAt},
		OrderID:      o.ID,
		AccountID:    o.AccountID,
		Symbol:       o.Symbol,
		Status:       string(o.Status),
		FilledQty:    o.FilledQty(),
		RemainingQty: o.RemainingQty,
	}
}
