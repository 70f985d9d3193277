package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

type fakeBook struct{ d domain.Depth }

func (f fakeBook) Depth(_ context.Context, symbol string, _ int) (domain.Depth, error) {
	d := f.d
	d.Symbol = symbol
	return d, nil
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	static := NewStatic(map[string]quant.PriceMicros{"aapl": 150_000_000})
	book := BookMid{Book: fakeBook{d: domain.Depth{
		Bids: []domain.PriceLevel{{Price: 99_000_000, Qty: 1}},
		Asks: []domain.PriceLevel{{Price: 101_000_000, Qty: 1}},
	}}}
	chain := Chain{nil, static, book}

	p, ok := chain.ReferencePrice(ctx, "AAPL")
	require.True(t, ok)
	require.Equal(t, quant.PriceMicros(150_000_000), p)

	p, ok = chain.ReferencePrice(ctx, "MSFT")
	require.True(t, ok)
	require.Equal(t, quant.PriceMicros(100_000_000), p)

	static.Set("MSFT", 200_000_000)
	prices := Prices(ctx, chain, []string{"AAPL", "MSFT"})
	require.Equal(t, map[string]quant.PriceMicros{"AAPL": 150_000_000, "MSFT": 200_000_000}, prices)

	_, ok = BookMid{Book: fakeBook{}}.ReferencePrice(ctx, "X")
	require.False(t, ok)
	require.Empty(t, Prices(ctx, nil, []string{"AAPL"}))
}

func TestPoller_FetchesPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/AAPL"):
			w.Write([]byte(`{"chart":{"result":[{"meta":{"currency":"USD","symbol":"AAPL","regularMarketPrice":187.4415}}],"error":null}}`))
		case strings.HasSuffix(r.URL.Path, "/BAD"):
			w.Write([]byte(`{"chart":{"result":[],"error":{"code":"Not Found","description":"No data found"}}}`))
		default:
			http.Error(w, "nope", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	p := NewPoller([]string{"AAPL", "BAD"}, PollerConfig{URL: srv.URL + "/chart/%s", PollInterval: time.Hour, Timeout: time.Second})
	p.retry.Base, p.retry.Max = time.Millisecond, time.Millisecond

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	price, ok := p.ReferencePrice(ctx, "AAPL")
	require.True(t, ok)
	require.Equal(t, quant.PriceMicros(187_441_500), price)

	_, ok = p.ReferencePrice(ctx, "BAD")
	require.False(t, ok)
}

func TestPoller_BreakerStopsHammering(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPoller([]string{"A"}, PollerConfig{URL: srv.URL + "/%s"})
	p.retry.Base, p.retry.Max = time.Millisecond, time.Millisecond

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		p.refresh(ctx)
	}
	// Five failures open the breaker; later attempts never reach the server.
	require.Equal(t, int32(5), hits.Load())
}
