package domain

import (
	"context"

	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// UnitOfWork is the transactional view of the order store, trade journal
// and ledger. Every method runs inside the same transaction; nothing is
// visible to other callers until TxRunner.WithTx returns nil.
type UnitOfWork interface {
	// Now returns a strictly increasing timestamp for created_at/updated_at.
	Now() quant.TimeStamp

	// InsertOrder persists o and assigns o.ID.
	InsertOrder(ctx context.Context, o *Order) error
	// LockCrossable locks and returns every WORKING/PARTIAL order of symbol
	// with remaining quantity. Rows locked by a concurrent transaction are
	// skipped, not waited on.
	LockCrossable(ctx context.Context, symbol string) ([]*Order, error)
	// UpdateRemaining moves an open order from expected to remaining. It
	// fails if the stored remaining quantity is no longer expected.
	UpdateRemaining(ctx context.Context, orderID int64, expected, remaining quant.Qty, status OrderStatus) error
	// CancelOrder transitions an open order with remaining > 0 to CANCELLED
	// and returns the quantity that was still open. ok is false when the
	// order is unknown, terminal or already fully filled. zeroRemaining
	// forces remaining_qty to 0 (immediate-or-cancel).
	CancelOrder(ctx context.Context, orderID int64, zeroRemaining bool) (open quant.Qty, ok bool, err error)
	// InsertTrade appends t to the journal and assigns t.ID.
	InsertTrade(ctx context.Context, t *Trade) error

	InsertAccount(ctx context.Context, a *Account) error
	// LockAccount returns the account row locked for update.
	LockAccount(ctx context.Context, accountID int64) (*Account, error)
	AdjustBalance(ctx context.Context, accountID int64, delta quant.PriceMicros) error
	RecordCashMovement(ctx context.Context, m *CashMovement) error
	// LockPosition returns the (account, symbol) position locked for update,
	// or a flat zero position when none exists yet.
	LockPosition(ctx context.Context, accountID int64, symbol string) (Position, error)
	SavePosition(ctx context.Context, p Position) error
	// Position reads a position without locking or creating it; a missing
	// row is returned as a flat position.
	Position(ctx context.Context, accountID int64, symbol string) (Position, error)

	// CommittedBuyNotional sums price*remaining over open LIMIT BUY orders.
	CommittedBuyNotional(ctx context.Context, accountID int64) (quant.PriceMicros, error)
	// CommittedSellQty sums remaining over open SELL orders for symbol.
	CommittedSellQty(ctx context.Context, accountID int64, symbol string) (quant.Qty, error)
	// RestingLevels aggregates open LIMIT orders of one side, best first.
	RestingLevels(ctx context.Context, symbol string, side Side) ([]PriceLevel, error)
}

// TxRunner executes fn as one atomic unit of work. A non-nil error from fn
// rolls everything back.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(UnitOfWork) error) error
}

// Reader serves the read-only queries of the external interface.
type Reader interface {
	Order(ctx context.Context, orderID int64) (*Order, error)
	WorkingOrdersByAccount(ctx context.Context, accountID int64, limit int) ([]Order, error)
	TradesByOrder(ctx context.Context, orderID int64) ([]Trade, error)
	// FillsByAccount returns the newest fills first.
	FillsByAccount(ctx context.Context, accountID int64, limit int) ([]Fill, error)
	// AccountJournal returns every fill of the account in execution order.
	AccountJournal(ctx context.Context, accountID int64) ([]Fill, error)
	Account(ctx context.Context, accountID int64) (*Account, error)
	AccountsByUser(ctx context.Context, userID int64) ([]Account, error)
	Positions(ctx context.Context, accountID int64) ([]Position, error)
	CashMovements(ctx context.Context, accountID int64) ([]CashMovement, error)
	Depth(ctx context.Context, symbol string, levels int) (Depth, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	TxRunner
	Reader
}
