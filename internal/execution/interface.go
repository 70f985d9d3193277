package execution

import (
	"context"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/internal/ledger"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// Lifecycle is the order entry, cancellation and account surface exposed to
// transports.
type Lifecycle interface {
	SubmitLimit(ctx context.Context, req LimitRequest) (*OrderResult, error)
	SubmitMarket(ctx context.Context, req MarketRequest) (*OrderResult, error)
	// Cancel returns how many orders actually transitioned to CANCELLED.
	Cancel(ctx context.Context, orderIDs []int64) (int, error)

	WorkingOrders(ctx context.Context, accountID int64, limit int) ([]domain.Order, error)
	AccountSummary(ctx context.Context, accountID int64) (*domain.AccountSummary, error)
	Trades(ctx context.Context, accountID int64, limit int) ([]domain.Fill, error)

	OpenAccount(ctx context.Context, userID int64, name string) (*domain.Account, error)
	ListAccounts(ctx context.Context, userID int64) ([]domain.Account, error)
	PrimaryAccount(ctx context.Context, userID int64) (*domain.Account, error)
	Deposit(ctx context.Context, accountID int64, amount quant.PriceMicros) (*domain.Account, error)

	Depth(ctx context.Context, symbol string, levels int) (domain.Depth, error)
	Valuation(ctx context.Context, accountID int64) (*Valuation, error)
	Reconcile(ctx context.Context, accountID int64) ([]ledger.Discrepancy, error)
}

var _ Lifecycle = (*Service)(nil)

// LimitRequest is a new limit order.
type LimitRequest struct {
	UserID    int64
	AccountID int64
	Symbol    string
	Side      domain.Side
	Price     quant.PriceMicros
	Qty       quant.Qty
}

// MarketRequest is a new market order.
type MarketRequest struct {
	UserID    int64
	AccountID int64
	Symbol    string
	Side      domain.Side
	Qty       quant.Qty
}

// OrderResult reports what happened to a submitted order.
type OrderResult struct {
	OrderID      int64
	Status       domain.OrderStatus
	Fills        []domain.Trade
	FilledQty    quant.Qty
	AvgPrice     quant.PriceMicros // volume weighted over Fills; 0 without fills
	RemainingQty quant.Qty         // still resting in the book
	LeftoverQty  quant.Qty         // Quantity - FilledQty
}

// Valuation is an account marked to market.
type Valuation struct {
	AccountID       int64
	Cash            quant.PriceMicros
	Positions       []domain.Valuation
	TotalUnrealized quant.PriceMicros
}
