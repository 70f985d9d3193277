package execution

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/internal/engine"
	"github.com/jonhpyo/MyHTS/internal/marketdata"
	"github.com/jonhpyo/MyHTS/internal/storage"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

const unit = quant.PriceScale

// flakyRunner fails the first n units of work with contention.
type flakyRunner struct {
	inner domain.TxRunner
	fails atomic.Int32
}

func (f *flakyRunner) WithTx(ctx context.Context, fn func(domain.UnitOfWork) error) error {
	if f.fails.Add(-1) >= 0 {
		return fmt.Errorf("%w: simulated", domain.ErrContention)
	}
	return f.inner.WithTx(ctx, fn)
}

type harness struct {
	svc    *Service
	store  *storage.Store
	flaky  *flakyRunner
	prices *marketdata.Static
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "svc.db"),
		LockTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := Config{
		Symbols:      []string{"AAPL", "MSFT"},
		AllowShort:   true,
		MarketIOC:    true,
		RetryBackoff: time.Millisecond,
		InitialCash:  10_000 * unit,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	flaky := &flakyRunner{inner: store}
	prices := marketdata.NewStatic(nil)
	return &harness{
		svc:    NewService(store, engine.New(flaky, nil), prices, cfg),
		store:  store,
		flaky:  flaky,
		prices: prices,
	}
}

func (h *harness) open(t *testing.T, userID int64) int64 {
	t.Helper()
	a, err := h.svc.OpenAccount(context.Background(), userID, "main")
	require.NoError(t, err)
	return a.ID
}

func limit(user, acct int64, side domain.Side, price int64, qty quant.Qty) LimitRequest {
	return LimitRequest{UserID: user, AccountID: acct, Symbol: "AAPL", Side: side, Price: quant.PriceMicros(price * unit), Qty: qty}
}

func TestSubmitLimit_FullFill(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	buyer, seller := h.open(t, 1), h.open(t, 2)

	rest, err := h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Buy, 100, 10))
	require.NoError(t, err)
	require.Equal(t, domain.StatusWorking, rest.Status)
	require.Empty(t, rest.Fills)
	require.Equal(t, quant.Qty(10), rest.RemainingQty)

	res, err := h.svc.SubmitLimit(ctx, limit(2, seller, domain.Sell, 100, 10))
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, res.Status)
	require.Len(t, res.Fills, 1)
	require.Equal(t, quant.Qty(10), res.FilledQty)
	require.Equal(t, quant.PriceMicros(100*unit), res.AvgPrice)
	require.Zero(t, res.RemainingQty)

	o, err := h.store.Order(ctx, rest.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, o.Status)
}

func TestSubmitLimit_PartialFill(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	buyer, seller := h.open(t, 1), h.open(t, 2)

	_, err := h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Buy, 101, 5))
	require.NoError(t, err)

	res, err := h.svc.SubmitLimit(ctx, limit(2, seller, domain.Sell, 100, 10))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPartial, res.Status)
	require.Equal(t, quant.Qty(5), res.FilledQty)
	require.Equal(t, quant.Qty(5), res.RemainingQty)
	require.Equal(t, quant.PriceMicros(101*unit), res.AvgPrice)

	working, err := h.svc.WorkingOrders(ctx, seller, 10)
	require.NoError(t, err)
	require.Len(t, working, 1)
	require.Equal(t, res.OrderID, working[0].ID)
}

func TestSubmitMarket_IOCOnEmptyBook(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	acct := h.open(t, 1)

	res, err := h.svc.SubmitMarket(ctx, MarketRequest{UserID: 1, AccountID: acct, Symbol: "aapl", Side: domain.Sell, Qty: 10})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, res.Status)
	require.Empty(t, res.Fills)
	require.Equal(t, quant.Qty(10), res.LeftoverQty)
	require.Zero(t, res.RemainingQty)

	working, err := h.svc.WorkingOrders(ctx, acct, 10)
	require.NoError(t, err)
	require.Empty(t, working)
}

func TestSubmitMarket_PartialThenCancelled(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	buyer, seller := h.open(t, 1), h.open(t, 2)

	_, err := h.svc.SubmitLimit(ctx, limit(2, seller, domain.Sell, 100, 2))
	require.NoError(t, err)
	_, err = h.svc.SubmitLimit(ctx, limit(2, seller, domain.Sell, 102, 2))
	require.NoError(t, err)

	res, err := h.svc.SubmitMarket(ctx, MarketRequest{UserID: 1, AccountID: buyer, Symbol: "AAPL", Side: domain.Buy, Qty: 5})
	require.NoError(t, err)
	require.Equal(t, quant.Qty(4), res.FilledQty)
	require.Equal(t, quant.Qty(1), res.LeftoverQty)
	require.Equal(t, quant.PriceMicros(101*unit), res.AvgPrice)
	require.Equal(t, domain.StatusCancelled, res.Status)
}

func TestSubmitMarket_RestsWhenIOCDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MarketIOC = false })
	ctx := context.Background()
	buyer, seller := h.open(t, 1), h.open(t, 2)

	res, err := h.svc.SubmitMarket(ctx, MarketRequest{UserID: 2, AccountID: seller, Symbol: "AAPL", Side: domain.Sell, Qty: 3})
	require.NoError(t, err)
	require.Equal(t, domain.StatusWorking, res.Status)
	require.Equal(t, quant.Qty(3), res.RemainingQty)

	bid, err := h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Buy, 99, 3))
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, bid.Status)
	require.Equal(t, quant.PriceMicros(99*unit), bid.AvgPrice)
}

func TestSubmit_Rejections(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AllowShort = false })
	ctx := context.Background()
	acct := h.open(t, 1)

	// 1000 of cash cannot buy 20@100.
	poor := h.open(t, 5)
	_, err := h.store.Account(ctx, poor)
	require.NoError(t, err)
	require.NoError(t, h.store.WithTx(ctx, func(uow domain.UnitOfWork) error {
		return uow.AdjustBalance(ctx, poor, -9_000*unit)
	}))

	tests := []struct {
		name string
		req  LimitRequest
		want error
	}{
		{"zero price", limit(1, acct, domain.Buy, 0, 1), domain.ErrValidation},
		{"zero qty", limit(1, acct, domain.Buy, 100, 0), domain.ErrValidation},
		{"bad side", LimitRequest{UserID: 1, AccountID: acct, Symbol: "AAPL", Side: "HOLD", Price: unit, Qty: 1}, domain.ErrValidation},
		{"unknown symbol", LimitRequest{UserID: 1, AccountID: acct, Symbol: "TSLA", Side: domain.Buy, Price: unit, Qty: 1}, domain.ErrUnknownSymbol},
		{"foreign account", limit(2, acct, domain.Buy, 1, 1), domain.ErrValidation},
		{"unknown account", limit(1, 999, domain.Buy, 1, 1), domain.ErrNotFound},
		{"insufficient balance", limit(5, poor, domain.Buy, 100, 20), domain.ErrInsufficientFunds},
		{"naked short", limit(1, acct, domain.Sell, 100, 1), domain.ErrInsufficientPosition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.SubmitLimit(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}

	working, err := h.svc.WorkingOrders(ctx, poor, 10)
	require.NoError(t, err)
	require.Empty(t, working)
}

func TestSubmit_CommittedFundsAndPosition(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AllowShort = false })
	ctx := context.Background()
	buyer, seller := h.open(t, 1), h.open(t, 2)

	// 60 + 40 of 10,000: the second buy only fits once the first is counted.
	_, err := h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Buy, 100, 60))
	require.NoError(t, err)
	_, err = h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Buy, 100, 41))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// A market buy is priced against the resting asks.
	_, err = h.svc.SubmitMarket(ctx, MarketRequest{UserID: 1, AccountID: buyer, Symbol: "AAPL", Side: domain.Buy, Qty: 1})
	require.NoError(t, err)

	// Seller has no AAPL yet.
	_, err = h.svc.SubmitLimit(ctx, limit(2, seller, domain.Sell, 100, 1))
	require.ErrorIs(t, err, domain.ErrInsufficientPosition)

	// Give the buyer 60 AAPL by crossing with a shortable third account.
	h.svc.cfg.AllowShort = true
	third := h.open(t, 3)
	_, err = h.svc.SubmitLimit(ctx, limit(3, third, domain.Sell, 100, 60))
	require.NoError(t, err)
	h.svc.cfg.AllowShort = false

	_, err = h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Sell, 200, 50))
	require.NoError(t, err)
	_, err = h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Sell, 200, 11))
	require.ErrorIs(t, err, domain.ErrInsufficientPosition)
	_, err = h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Sell, 200, 10))
	require.NoError(t, err)
}

func TestSubmit_RetriesContendedMatchOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	buyer, seller := h.open(t, 1), h.open(t, 2)

	_, err := h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Buy, 100, 1))
	require.NoError(t, err)

	h.flaky.fails.Store(1)
	res, err := h.svc.SubmitLimit(ctx, limit(2, seller, domain.Sell, 100, 1))
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, res.Status)

	_, err = h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Buy, 100, 1))
	require.NoError(t, err)
	h.flaky.fails.Store(2)
	res, err = h.svc.SubmitLimit(ctx, limit(2, seller, domain.Sell, 100, 1))
	require.ErrorIs(t, err, domain.ErrContention)
	require.True(t, domain.IsRetryable(err))
	require.NotNil(t, res)
	require.Equal(t, domain.StatusWorking, res.Status)

	// The next trigger picks the order up.
	trades, err := h.svc.engine.Match(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	buyer, seller := h.open(t, 1), h.open(t, 2)

	a, err := h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Buy, 100, 5))
	require.NoError(t, err)
	b, err := h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Buy, 90, 5))
	require.NoError(t, err)
	filled, err := h.svc.SubmitLimit(ctx, limit(2, seller, domain.Sell, 100, 5))
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, filled.Status)

	n, err := h.svc.Cancel(ctx, []int64{a.OrderID, b.OrderID, b.OrderID, 12345, 0})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = h.svc.Cancel(ctx, []int64{b.OrderID})
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = h.svc.Cancel(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, n)

	o, err := h.store.Order(ctx, b.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, o.Status)
	require.Equal(t, quant.Qty(5), o.RemainingQty)
}

func TestAccounts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.PrimaryAccount(ctx, 7)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.OpenAccount(ctx, 0, "x")
	require.ErrorIs(t, err, domain.ErrValidation)

	first := h.open(t, 7)
	h.open(t, 7)

	primary, err := h.svc.PrimaryAccount(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, first, primary.ID)
	require.Equal(t, quant.PriceMicros(10_000*unit), primary.Balance)

	list, err := h.svc.ListAccounts(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)

	acct, err := h.svc.Deposit(ctx, first, 500*unit)
	require.NoError(t, err)
	require.Equal(t, quant.PriceMicros(10_500*unit), acct.Balance)

	_, err = h.svc.Deposit(ctx, first, -1)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.svc.Deposit(ctx, 999, unit)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSummaryValuationAndReconcile(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	buyer, seller := h.open(t, 1), h.open(t, 2)

	_, err := h.svc.SubmitLimit(ctx, limit(1, buyer, domain.Buy, 100, 10))
	require.NoError(t, err)
	_, err = h.svc.SubmitLimit(ctx, limit(2, seller, domain.Sell, 100, 4))
	require.NoError(t, err)
	_, err = h.svc.Deposit(ctx, buyer, 1*unit)
	require.NoError(t, err)

	sum, err := h.svc.AccountSummary(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, quant.PriceMicros((10_000-400+1)*unit), sum.Account.Balance)
	require.Len(t, sum.Positions, 1)
	require.Equal(t, quant.Qty(4), sum.Positions[0].Qty)

	fills, err := h.svc.Trades(ctx, seller, 10)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, domain.Sell, fills[0].Side)

	h.prices.Set("AAPL", 110*unit)
	val, err := h.svc.Valuation(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, quant.PriceMicros(40*unit), val.TotalUnrealized)
	require.Equal(t, quant.PriceMicros(440*unit), val.Positions[0].AssetValue)

	sellerVal, err := h.svc.Valuation(ctx, seller)
	require.NoError(t, err)
	require.Equal(t, quant.PriceMicros(-40*unit), sellerVal.TotalUnrealized)

	for _, id := range []int64{buyer, seller} {
		diffs, err := h.svc.Reconcile(ctx, id)
		require.NoError(t, err)
		require.Empty(t, diffs)
	}

	// Tamper with the stored balance; replay must notice.
	require.NoError(t, h.store.WithTx(ctx, func(uow domain.UnitOfWork) error {
		return uow.AdjustBalance(ctx, buyer, 1)
	}))
	diffs, err := h.svc.Reconcile(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, "balance", diffs[0].Field)
}

func TestDepth(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	acct := h.open(t, 1)

	_, err := h.svc.SubmitLimit(ctx, limit(1, acct, domain.Buy, 99, 1))
	require.NoError(t, err)
	_, err = h.svc.SubmitLimit(ctx, limit(1, acct, domain.Sell, 101, 2))
	require.NoError(t, err)

	d, err := h.svc.Depth(ctx, "aapl", 0)
	require.NoError(t, err)
	mid, ok := d.Mid()
	require.True(t, ok)
	require.Equal(t, quant.PriceMicros(100*unit), mid)

	_, err = h.svc.Depth(ctx, "TSLA", 5)
	require.ErrorIs(t, err, domain.ErrUnknownSymbol)
	require.Equal(t, []string{"AAPL", "MSFT"}, h.svc.Symbols())
}
