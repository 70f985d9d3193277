package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jonhpyo/MyHTS/internal/infra"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// DefaultChartURL is the Yahoo Finance chart endpoint; %s is the symbol.
const DefaultChartURL = "https://query1.finance.yahoo.com/v8/finance/chart/%s"

// chartResponse represents the Yahoo Finance Chart API response.
// Prices are decoded as json.Number so they never pass through float64.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string      `json:"currency"`
				Symbol             string      `json:"symbol"`
				RegularMarketPrice json.Number `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Poller periodically fetches reference prices over HTTP and serves the
// last good value per symbol.
type Poller struct {
	symbols      []string
	urlTemplate  string
	pollInterval time.Duration
	httpClient   *http.Client
	breaker      *infra.CircuitBreaker
	retry        infra.Backoff

	mu     sync.RWMutex
	prices map[string]quant.PriceMicros

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PollerConfig configures a Poller. Zero values select defaults.
type PollerConfig struct {
	URL          string // must contain %s for the symbol
	PollInterval time.Duration
	Timeout      time.Duration
}

// NewPoller creates a poller for symbols.
func NewPoller(symbols []string, cfg PollerConfig) *Poller {
	p := &Poller{
		symbols:      symbols,
		urlTemplate:  DefaultChartURL,
		pollInterval: 60 * time.Second,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		breaker:      infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("marketdata")),
		retry:        infra.Backoff{Base: time.Second, Max: 4 * time.Second},
		prices:       make(map[string]quant.PriceMicros),
	}
	if cfg.URL != "" {
		p.urlTemplate = cfg.URL
	}
	if cfg.PollInterval > 0 {
		p.pollInterval = cfg.PollInterval
	}
	if cfg.Timeout > 0 {
		p.httpClient.Timeout = cfg.Timeout
	}
	return p
}

// Start fetches once and then polls until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.refresh(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Reference price polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Reference price polling stopped")
				return
			case <-ticker.C:
				p.refresh(ctx)
			}
		}
	}()
}

// Stop stops the polling.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

func (p *Poller) ReferencePrice(_ context.Context, symbol string) (quant.PriceMicros, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.prices[symbol]
	return v, ok
}

func (p *Poller) refresh(ctx context.Context) {
	for _, s := range p.symbols {
		if err := p.fetch(ctx, s); err != nil {
			slog.Warn("Reference price fetch failed", slog.String("symbol", s), slog.Any("error", err))
		}
	}
}

// fetch retries up to three times with backoff, behind the circuit breaker.
func (p *Poller) fetch(ctx context.Context, symbol string) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			if err := p.retry.Sleep(ctx, i-1); err != nil {
				return err
			}
		}
		err := p.breaker.Execute(func() error { return p.doFetch(ctx, symbol) })
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, infra.ErrCircuitOpen) {
			return err
		}
	}
	return lastErr
}

func (p *Poller) doFetch(ctx context.Context, symbol string) error {
	url := p.urlTemplate
	if strings.Contains(url, "%s") {
		url = fmt.Sprintf(url, symbol)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", infra.AppName+"/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var data chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return err
	}
	if data.Chart.Error != nil {
		return fmt.Errorf("chart API error: %s - %s", data.Chart.Error.Code, data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 || data.Chart.Result[0].Meta.RegularMarketPrice == "" {
		return fmt.Errorf("empty chart response for %s", symbol)
	}

	d, err := decimal.NewFromString(data.Chart.Result[0].Meta.RegularMarketPrice.String())
	if err != nil {
		return fmt.Errorf("bad price %q: %w", data.Chart.Result[0].Meta.RegularMarketPrice, err)
	}
	if !d.IsPositive() {
		return fmt.Errorf("non-positive price %s for %s", d, symbol)
	}
	price := quant.RoundDecimal(d)

	p.mu.Lock()
	old := p.prices[symbol]
	p.prices[symbol] = price
	p.mu.Unlock()

	if old != price {
		slog.Debug("Reference price updated",
			slog.String("symbol", symbol),
			slog.String("price", price.String()),
			slog.String("old_price", old.String()))
	}
	return nil
}
