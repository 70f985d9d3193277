package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/internal/event"
	"github.com/jonhpyo/MyHTS/internal/ledger"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// Publisher receives events once the unit of work that produced them has
// committed.
type Publisher interface {
	Publish(evs ...event.Event)
}

// Result is what one match committed.
type Result struct {
	Trades  []domain.Trade
	Updated []domain.Order
}

// Engine matches one symbol per unit of work. It holds no book in memory;
// the store is the book.
type Engine struct {
	store domain.TxRunner
	pub   Publisher
}

// New creates an engine. pub may be nil.
func New(store domain.TxRunner, pub Publisher) *Engine {
	return &Engine{store: store, pub: pub}
}

// Match locks the crossable orders of symbol, crosses them and commits the
// trades, order updates and ledger postings together. Calling it when
// nothing crosses is cheap and returns no trades.
func (e *Engine) Match(ctx context.Context, symbol string) ([]domain.Trade, error) {
	var res Result
	err := e.store.WithTx(ctx, func(uow domain.UnitOfWork) error {
		var err error
		res, err = MatchTx(ctx, uow, symbol)
		return err
	})
	if err != nil {
		if domain.IsRetryable(err) {
			slog.Warn("Match contended", slog.String("symbol", symbol), slog.Any("error", err))
		} else {
			slog.Error("Match failed", slog.String("symbol", symbol), slog.Any("error", err))
		}
		return nil, err
	}

	if len(res.Trades) > 0 {
		var filled quant.Qty
		for _, t := range res.Trades {
			filled += t.Quantity
		}
		slog.Info("Matched",
			slog.String("symbol", symbol),
			slog.Int("trades", len(res.Trades)),
			slog.Int64("filled_qty", int64(filled)))
	}
	e.Announce(res)
	return res.Trades, nil
}

// Announce publishes a committed result.
func (e *Engine) Announce(res Result) {
	if e.pub == nil || (len(res.Trades) == 0 && len(res.Updated) == 0) {
		return
	}
	evs := make([]event.Event, 0, len(res.Trades)+len(res.Updated))
	for _, t := range res.Trades {
		evs = append(evs, event.NewTradeEvent(t))
	}
	for _, o := range res.Updated {
		evs = append(evs, event.NewOrderUpdateEvent(o))
	}
	e.pub.Publish(evs...)
}

// MatchTx is the body of Match for callers that already own a unit of work.
func MatchTx(ctx context.Context, uow domain.UnitOfWork, symbol string) (Result, error) {
	orders, err := uow.LockCrossable(ctx, symbol)
	if err != nil {
		return Result{}, err
	}

	before := make(map[int64]quant.Qty, len(orders))
	for _, o := range orders {
		before[o.ID] = o.RemainingQty
	}

	execs := Cross(SortBook(orders))
	if len(execs) == 0 {
		return Result{}, nil
	}

	now := uow.Now()
	trades := make([]domain.Trade, 0, len(execs))
	touched := make(map[int64]*domain.Order)
	for _, x := range execs {
		t := domain.Trade{
			BuyOrderID:    x.Buy.ID,
			SellOrderID:   x.Sell.ID,
			BuyAccountID:  x.Buy.AccountID,
			SellAccountID: x.Sell.AccountID,
			Symbol:        symbol,
			Price:         x.Price,
			Quantity:      x.Qty,
			TradeTime:     now,
		}
		if err := uow.InsertTrade(ctx, &t); err != nil {
			return Result{}, err
		}
		trades = append(trades, t)
		touched[x.Buy.ID] = x.Buy
		touched[x.Sell.ID] = x.Sell
	}

	ids := make([]int64, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	updated := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		o := touched[id]
		o.Status = domain.StatusFor(o.Quantity, o.RemainingQty)
		o.UpdatedAt = now
		if err := uow.UpdateRemaining(ctx, id, before[id], o.RemainingQty, o.Status); err != nil {
			return Result{}, err
		}
		updated = append(updated, *o)
	}

	if err := ledger.Post(ctx, uow, trades, now); err != nil {
		return Result{}, fmt.Errorf("post trades: %w", err)
	}
	return Result{Trades: trades, Updated: updated}, nil
}
