package domain

import (
	"fmt"
	"strings"

	"github.com/jonhpyo/MyHTS/pkg/quant"
)

type Side string
type OrderType string
type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"

	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"

	StatusWorking   OrderStatus = "WORKING"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// ParseSide accepts "buy"/"BUY" style input.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrValidation, s)
}

// Opposite returns the contra side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Order represents one order intent and its fill state.
// Prices are PriceMicros; a market order has Price == nil.
type Order struct {
	ID           int64
	UserID       int64
	AccountID    int64
	Symbol       string
	Side         Side
	Type         OrderType
	Price        *quant.PriceMicros
	Quantity     quant.Qty
	RemainingQty quant.Qty
	Status       OrderStatus
	CreatedAt    quant.TimeStamp
	UpdatedAt    quant.TimeStamp
}

// IsOpen checks if the order is still resting (WORKING or PARTIAL).
func (o *Order) IsOpen() bool {
	return o.Status == StatusWorking || o.Status == StatusPartial
}

// IsMarket reports whether the order carries no limit price.
func (o *Order) IsMarket() bool {
	return o.Type == Market
}

// LimitPrice returns the limit price, or 0 for market orders.
func (o *Order) LimitPrice() quant.PriceMicros {
	if o.Price == nil {
		return 0
	}
	return *o.Price
}

// FilledQty is the executed part of the order.
// Cancelled market orders have RemainingQty forced to zero, so use the
// trade journal for those.
func (o *Order) FilledQty() quant.Qty {
	return o.Quantity - o.RemainingQty
}

// Before reports FIFO precedence: earlier CreatedAt, then lower ID.
func (o *Order) Before(other *Order) bool {
	if o.CreatedAt != other.CreatedAt {
		return o.CreatedAt < other.CreatedAt
	}
	return o.ID < other.ID
}

// StatusFor derives the status of a non-cancelled order from its quantities.
func StatusFor(quantity, remaining quant.Qty) OrderStatus {
	switch {
	case remaining <= 0:
		return StatusFilled
	case remaining < quantity:
		return StatusPartial
	default:
		return StatusWorking
	}
}

// NormalizeSymbol upper-cases and trims a symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
