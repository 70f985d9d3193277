package domain

import (
	"errors"
	"testing"

	"github.com/jonhpyo/MyHTS/pkg/quant"
)

func TestOrder_IsOpen(t *testing.T) {
	tests := []struct {
		name   string
		status OrderStatus
		want   bool
	}{
		{"WORKING", StatusWorking, true},
		{"PARTIAL", StatusPartial, true},
		{"FILLED", StatusFilled, false},
		{"CANCELLED", StatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Status: tt.status}
			if got := o.IsOpen(); got != tt.want {
				t.Errorf("Order.IsOpen() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		qty, remaining quant.Qty
		want           OrderStatus
	}{
		{10, 10, StatusWorking},
		{10, 5, StatusPartial},
		{10, 0, StatusFilled},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.qty, tt.remaining); got != tt.want {
			t.Errorf("StatusFor(%d, %d) = %s, want %s", tt.qty, tt.remaining, got, tt.want)
		}
	}
}

func TestOrder_Before(t *testing.T) {
	a := &Order{ID: 2, CreatedAt: 100}
	b := &Order{ID: 1, CreatedAt: 200}
	c := &Order{ID: 3, CreatedAt: 100}
	if !a.Before(b) {
		t.Error("earlier created_at must win")
	}
	if !a.Before(c) || c.Before(a) {
		t.Error("equal created_at falls back to id")
	}
}

func TestParseSide(t *testing.T) {
	if s, err := ParseSide(" buy "); err != nil || s != Buy {
		t.Errorf("ParseSide(buy) = %s, %v", s, err)
	}
	if s, err := ParseSide("SELL"); err != nil || s != Sell {
		t.Errorf("ParseSide(SELL) = %s, %v", s, err)
	}
	if _, err := ParseSide("hold"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Error("Opposite mismatch")
	}
}

func TestDepth_Mid(t *testing.T) {
	d := Depth{
		Bids: []PriceLevel{{Price: 99, Qty: 1}},
		Asks: []PriceLevel{{Price: 101, Qty: 2}},
	}
	if mid, ok := d.Mid(); !ok || mid != 100 {
		t.Errorf("Mid = %d, %v; want 100", mid, ok)
	}

	onlyAsk := Depth{Asks: []PriceLevel{{Price: 0, Qty: 0}, {Price: 105, Qty: 1}}}
	if mid, ok := onlyAsk.Mid(); !ok || mid != 105 {
		t.Errorf("Mid = %d, %v; want 105", mid, ok)
	}

	empty := Depth{}
	if _, ok := empty.Mid(); ok {
		t.Error("empty book has no mid")
	}
}
