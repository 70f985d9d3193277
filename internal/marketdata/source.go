// Package marketdata supplies reference prices for mark-to-market. Prices
// from here are never used for matching.
package marketdata

import (
	"context"
	"sync"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// PriceSource returns the current reference price of a symbol.
type PriceSource interface {
	ReferencePrice(ctx context.Context, symbol string) (quant.PriceMicros, bool)
}

// Prices collects reference prices for every symbol a source knows.
func Prices(ctx context.Context, src PriceSource, symbols []string) map[string]quant.PriceMicros {
	out := make(map[string]quant.PriceMicros, len(symbols))
	if src == nil {
		return out
	}
	for _, s := range symbols {
		if p, ok := src.ReferencePrice(ctx, s); ok && p > 0 {
			out[s] = p
		}
	}
	return out
}

// Static is a settable in-memory price table.
type Static struct {
	mu     sync.RWMutex
	prices map[string]quant.PriceMicros
}

func NewStatic(prices map[string]quant.PriceMicros) *Static {
	s := &Static{prices: make(map[string]quant.PriceMicros, len(prices))}
	for k, v := range prices {
		s.prices[domain.NormalizeSymbol(k)] = v
	}
	return s
}

func (s *Static) Set(symbol string, price quant.PriceMicros) {
	s.mu.Lock()
	s.prices[domain.NormalizeSymbol(symbol)] = price
	s.mu.Unlock()
}

func (s *Static) ReferencePrice(_ context.Context, symbol string) (quant.PriceMicros, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// DepthReader is the slice of the store BookMid needs.
type DepthReader interface {
	Depth(ctx context.Context, symbol string, levels int) (domain.Depth, error)
}

// BookMid prices a symbol at the mid of its own resting book.
type BookMid struct {
	Book DepthReader
}

func (b BookMid) ReferencePrice(ctx context.Context, symbol string) (quant.PriceMicros, bool) {
	d, err := b.Book.Depth(ctx, symbol, 1)
	if err != nil {
		return 0, false
	}
	return d.Mid()
}

// Chain asks each source in turn; the first price wins.
type Chain []PriceSource

func (c Chain) ReferencePrice(ctx context.Context, symbol string) (quant.PriceMicros, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if p, ok := src.ReferencePrice(ctx, symbol); ok && p > 0 {
			return p, true
		}
	}
	return 0, false
}
