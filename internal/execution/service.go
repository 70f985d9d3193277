package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/internal/engine"
	"github.com/jonhpyo/MyHTS/internal/infra"
	"github.com/jonhpyo/MyHTS/internal/marketdata"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// Config is the trading policy.
type Config struct {
	Symbols      []string
	AllowShort   bool
	MarketIOC    bool
	RetryBackoff time.Duration
	InitialCash  quant.PriceMicros
}

// Service admits orders, runs the matching engine for their symbol and
// turns the outcome into an OrderResult. It keeps no order state of its own.
type Service struct {
	store   domain.Store
	engine  *engine.Engine
	prices  marketdata.PriceSource
	cfg     Config
	symbols map[string]struct{}
	retry   infra.Backoff
}

// NewService wires the lifecycle manager. prices may be nil.
func NewService(store domain.Store, eng *engine.Engine, prices marketdata.PriceSource, cfg Config) *Service {
	symbols := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[domain.NormalizeSymbol(s)] = struct{}{}
	}
	return &Service{
		store:   store,
		engine:  eng,
		prices:  prices,
		cfg:     cfg,
		symbols: symbols,
		retry:   infra.Backoff{Base: cfg.RetryBackoff, Max: cfg.RetryBackoff},
	}
}

// Symbols returns the tradable symbols, sorted.
func (s *Service) Symbols() []string {
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *Service) SubmitLimit(ctx context.Context, req LimitRequest) (*OrderResult, error) {
	if req.Price <= 0 {
		return nil, s.reject(req.AccountID, fmt.Errorf("%w: price must be positive", domain.ErrValidation))
	}
	price := req.Price
	o := &domain.Order{
		UserID:    req.UserID,
		AccountID: req.AccountID,
		Symbol:    domain.NormalizeSymbol(req.Symbol),
		Side:      req.Side,
		Type:      domain.Limit,
		Price:     &price,
		Quantity:  req.Qty,
	}
	if err := s.admit(ctx, o); err != nil {
		return nil, s.reject(req.AccountID, err)
	}

	_, matchErr := s.matchWithRetry(ctx, o.Symbol)
	res, err := s.result(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return res, matchErr
}

func (s *Service) SubmitMarket(ctx context.Context, req MarketRequest) (*OrderResult, error) {
	o := &domain.Order{
		UserID:    req.UserID,
		AccountID: req.AccountID,
		Symbol:    domain.NormalizeSymbol(req.Symbol),
		Side:      req.Side,
		Type:      domain.Market,
		Quantity:  req.Qty,
	}
	if err := s.admit(ctx, o); err != nil {
		return nil, s.reject(req.AccountID, err)
	}

	_, matchErr := s.matchWithRetry(ctx, o.Symbol)

	// The remainder of a market order has no price to rest at. It is
	// cancelled even when matching failed, so it cannot trade later.
	if s.cfg.MarketIOC {
		if err := s.cancelRemainder(ctx, o.ID); err != nil {
			return nil, errors.Join(matchErr, err)
		}
	}

	res, err := s.result(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return res, matchErr
}

// matchWithRetry retries a contended match once after a short backoff.
func (s *Service) matchWithRetry(ctx context.Context, symbol string) ([]domain.Trade, error) {
	trades, err := s.engine.Match(ctx, symbol)
	if err == nil || !domain.IsRetryable(err) {
		return trades, err
	}
	if err := s.retry.Sleep(ctx, 0); err != nil {
		return nil, err
	}
	return s.engine.Match(ctx, symbol)
}

func (s *Service) cancelRemainder(ctx context.Context, orderID int64) error {
	var cancelled bool
	err := s.store.WithTx(ctx, func(uow domain.UnitOfWork) error {
		var err error
		_, cancelled, err = uow.CancelOrder(ctx, orderID, true)
		return err
	})
	if err != nil {
		return fmt.Errorf("cancel market remainder of %d: %w", orderID, err)
	}
	if cancelled {
		s.announceOrders(ctx, []int64{orderID})
	}
	return nil
}

func (s *Service) Cancel(ctx context.Context, orderIDs []int64) (int, error) {
	ids := dedupe(orderIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	var done []int64
	err := s.store.WithTx(ctx, func(uow domain.UnitOfWork) error {
		done = done[:0]
		for _, id := range ids {
			_, ok, err := uow.CancelOrder(ctx, id, false)
			if err != nil {
				return err
			}
			if ok {
				done = append(done, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("Orders cancelled", slog.Int("requested", len(ids)), slog.Int("cancelled", len(done)))
	s.announceOrders(ctx, done)
	return len(done), nil
}

func (s *Service) announceOrders(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	res := engine.Result{Updated: make([]domain.Order, 0, len(ids))}
	for _, id := range ids {
		o, err := s.store.Order(ctx, id)
		if err != nil {
			slog.Warn("Order update not published", slog.Int64("order_id", id), slog.Any("error", err))
			continue
		}
		res.Updated = append(res.Updated, *o)
	}
	s.engine.Announce(res)
}

// result reads the order and its fills back from the store.
func (s *Service) result(ctx context.Context, orderID int64) (*OrderResult, error) {
	o, err := s.store.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	trades, err := s.store.TradesByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	res := &OrderResult{
		OrderID:      o.ID,
		Status:       o.Status,
		Fills:        trades,
		RemainingQty: o.RemainingQty,
	}
	notional := decimal.Zero
	for _, t := range trades {
		res.FilledQty += t.Quantity
		notional = notional.Add(t.Price.Decimal().Mul(decimal.NewFromInt(int64(t.Quantity))))
	}
	if res.FilledQty > 0 {
		res.AvgPrice = quant.RoundDecimal(notional.Div(decimal.NewFromInt(int64(res.FilledQty))))
	}
	res.LeftoverQty = o.Quantity - res.FilledQty
	return res, nil
}

func (s *Service) reject(accountID int64, err error) error {
	slog.Warn("Order rejected", slog.Int64("account_id", accountID), slog.Any("error", err))
	return err
}

func (s *Service) WorkingOrders(ctx context.Context, accountID int64, limit int) ([]domain.Order, error) {
	return s.store.WorkingOrdersByAccount(ctx, accountID, limit)
}

func (s *Service) Trades(ctx context.Context, accountID int64, limit int) ([]domain.Fill, error) {
	return s.store.FillsByAccount(ctx, accountID, limit)
}

func (s *Service) Depth(ctx context.Context, symbol string, levels int) (domain.Depth, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if err := s.checkSymbol(symbol); err != nil {
		return domain.Depth{}, err
	}
	switch {
	case levels <= 0:
		levels = 10
	case levels > 100:
		levels = 100
	}
	return s.store.Depth(ctx, symbol, levels)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	// Ascending lock order.
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
