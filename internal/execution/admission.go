package execution

import (
	"context"
	"fmt"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
	"github.com/jonhpyo/MyHTS/pkg/safe"
)

func (s *Service) checkSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol is required", domain.ErrValidation)
	}
	if _, ok := s.symbols[symbol]; !ok {
		return fmt.Errorf("%w: %w %q", domain.ErrValidation, domain.ErrUnknownSymbol, symbol)
	}
	return nil
}

func (s *Service) validate(o *domain.Order) error {
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	if o.Side != domain.Buy && o.Side != domain.Sell {
		return fmt.Errorf("%w: unknown side %q", domain.ErrValidation, o.Side)
	}
	if o.AccountID <= 0 {
		return fmt.Errorf("%w: account is required", domain.ErrValidation)
	}
	return s.checkSymbol(o.Symbol)
}

// admit validates o and persists it as WORKING in one unit of work. The
// account row stays locked while funds and position are checked, which
// also holds off ledger postings for this account.
func (s *Service) admit(ctx context.Context, o *domain.Order) error {
	if err := s.validate(o); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(uow domain.UnitOfWork) error {
		acct, err := uow.LockAccount(ctx, o.AccountID)
		if err != nil {
			return err
		}
		if acct.UserID != o.UserID {
			return fmt.Errorf("%w: account %d does not belong to user %d", domain.ErrValidation, o.AccountID, o.UserID)
		}

		switch o.Side {
		case domain.Buy:
			if err := s.checkFunds(ctx, uow, acct, o); err != nil {
				return err
			}
		case domain.Sell:
			if !s.cfg.AllowShort {
				if err := checkPosition(ctx, uow, o); err != nil {
					return err
				}
			}
		}

		o.RemainingQty = o.Quantity
		o.Status = domain.StatusWorking
		o.CreatedAt = uow.Now()
		o.UpdatedAt = o.CreatedAt
		return uow.InsertOrder(ctx, o)
	})
}

// checkFunds compares the order's notional with the balance not already
// committed to working limit buys.
func (s *Service) checkFunds(ctx context.Context, uow domain.UnitOfWork, acct *domain.Account, o *domain.Order) error {
	var notional quant.PriceMicros
	var err error
	if o.IsMarket() {
		notional, err = estimateMarketBuy(ctx, uow, o.Symbol, o.Quantity)
	} else {
		notional, err = quant.Notional(o.LimitPrice(), o.Quantity)
	}
	if err != nil {
		return err
	}

	committed, err := uow.CommittedBuyNotional(ctx, acct.ID)
	if err != nil {
		return err
	}
	available, err := safe.Sub(int64(acct.Balance), int64(committed))
	if err != nil {
		return err
	}
	if int64(notional) > available {
		return fmt.Errorf("%w: need %s, available %s", domain.ErrInsufficientFunds,
			notional, quant.PriceMicros(available))
	}
	return nil
}

// estimateMarketBuy walks the resting asks. Quantity the book cannot fill
// is not priced since the IOC remainder will not trade.
func estimateMarketBuy(ctx context.Context, uow domain.UnitOfWork, symbol string, qty quant.Qty) (quant.PriceMicros, error) {
	asks, err := uow.RestingLevels(ctx, symbol, domain.Sell)
	if err != nil {
		return 0, err
	}
	var total int64
	left := qty
	for _, lvl := range asks {
		if left <= 0 {
			break
		}
		take := min(left, lvl.Qty)
		n, err := quant.Notional(lvl.Price, take)
		if err != nil {
			return 0, err
		}
		if total, err = safe.Add(total, int64(n)); err != nil {
			return 0, err
		}
		left -= take
	}
	return quant.PriceMicros(total), nil
}

// checkPosition rejects a sell beyond the long position not yet committed
// to other working sells.
func checkPosition(ctx context.Context, uow domain.UnitOfWork, o *domain.Order) error {
	pos, err := uow.Position(ctx, o.AccountID, o.Symbol)
	if err != nil {
		return err
	}
	committed, err := uow.CommittedSellQty(ctx, o.AccountID, o.Symbol)
	if err != nil {
		return err
	}
	free := pos.Qty - committed
	if o.Quantity > free {
		return fmt.Errorf("%w: selling %d of %s, free %d", domain.ErrInsufficientPosition, o.Quantity, o.Symbol, max(free, 0))
	}
	return nil
}
