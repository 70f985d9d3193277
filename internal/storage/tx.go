package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

const (
	orderCols = "id, user_id, account_id, symbol, side, order_type, price, quantity, remaining_qty, status, created_at, updated_at"
	openOrder = "status IN ('WORKING', 'PARTIAL')"
)

// Tx implements domain.UnitOfWork on a database transaction.
type Tx struct {
	tx  *sql.Tx
	d   Dialect
	now func() quant.TimeStamp
}

var _ domain.UnitOfWork = (*Tx)(nil)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (t *Tx) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.d.rebind(q), args...)
}

// insert runs an INSERT and returns the generated id.
func (t *Tx) insert(ctx context.Context, q string, args ...any) (int64, error) {
	if t.d.returning {
		var id int64
		if err := t.tx.QueryRowContext(ctx, t.d.rebind(q+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := t.exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *Tx) Now() quant.TimeStamp {
	return t.now()
}

func (t *Tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	if o.CreatedAt == 0 {
		o.CreatedAt = t.now()
	}
	var price sql.NullInt64
	if o.Price != nil {
		price = sql.NullInt64{Int64: int64(*o.Price), Valid: true}
	}
	if o.UpdatedAt == 0 {
		o.UpdatedAt = o.CreatedAt
	}
	id, err := t.insert(ctx,
		`INSERT INTO orders (user_id, account_id, symbol, side, order_type, price, quantity, remaining_qty, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.UserID, o.AccountID, o.Symbol, string(o.Side), string(o.Type), price,
		int64(o.Quantity), int64(o.RemainingQty), string(o.Status), int64(o.CreatedAt), int64(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	o.ID = id
	return nil
}

func (t *Tx) LockCrossable(ctx context.Context, symbol string) ([]*domain.Order, error) {
	q := "SELECT " + orderCols + " FROM orders WHERE symbol = ? AND " + openOrder +
		" AND remaining_qty > 0 ORDER BY id" + t.d.skipLocked
	rows, err := t.tx.QueryContext(ctx, t.d.rebind(q), symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to lock crossable orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func (t *Tx) UpdateRemaining(ctx context.Context, orderID int64, expected, remaining quant.Qty, status domain.OrderStatus) error {
	if remaining < 0 || remaining > expected {
		return fmt.Errorf("order %d: remaining %d -> %d is not a decrement", orderID, expected, remaining)
	}
	res, err := t.exec(ctx,
		"UPDATE orders SET remaining_qty = ?, status = ?, updated_at = ? WHERE id = ? AND remaining_qty = ? AND "+openOrder,
		int64(remaining), string(status), int64(t.now()), orderID, int64(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: order %d no longer has remaining %d", domain.ErrContention, orderID, expected)
	}
	return nil
}

func (t *Tx) CancelOrder(ctx context.Context, orderID int64, zeroRemaining bool) (quant.Qty, bool, error) {
	var open int64
	err := t.tx.QueryRowContext(ctx,
		t.d.rebind("SELECT remaining_qty FROM orders WHERE id = ? AND "+openOrder+" AND remaining_qty > 0"+t.d.forUpdate),
		orderID,
	).Scan(&open)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to lock order %d: %w", orderID, err)
	}

	remaining := open
	if zeroRemaining {
		remaining = 0
	}
	res, err := t.exec(ctx,
		"UPDATE orders SET status = ?, remaining_qty = ?, updated_at = ? WHERE id = ? AND remaining_qty > 0 AND "+openOrder,
		string(domain.StatusCancelled), remaining, int64(t.now()), orderID,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	return quant.Qty(open), n == 1, nil
}

func (t *Tx) InsertTrade(ctx context.Context, tr *domain.Trade) error {
	id, err := t.insert(ctx,
		`INSERT INTO trades (buy_order_id, sell_order_id, buy_account_id, sell_account_id, symbol, price, quantity, trade_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.BuyOrderID, tr.SellOrderID, tr.BuyAccountID, tr.SellAccountID, tr.Symbol,
		int64(tr.Price), int64(tr.Quantity), int64(tr.TradeTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	tr.ID = id
	return nil
}

func (t *Tx) InsertAccount(ctx context.Context, a *domain.Account) error {
	if a.CreatedAt == 0 {
		a.CreatedAt = t.now()
	}
	id, err := t.insert(ctx,
		"INSERT INTO accounts (user_id, name, balance, created_at) VALUES (?, ?, ?, ?)",
		a.UserID, a.Name, int64(a.Balance), int64(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	a.ID = id
	return nil
}

func (t *Tx) LockAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	row := t.tx.QueryRowContext(ctx,
		t.d.rebind("SELECT id, user_id, name, balance, created_at FROM accounts WHERE id = ?"+t.d.forUpdate),
		accountID,
	)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", accountID, domain.ErrNotFound)
	}
	return a, err
}

func (t *Tx) AdjustBalance(ctx context.Context, accountID int64, delta quant.PriceMicros) error {
	res, err := t.exec(ctx, "UPDATE accounts SET balance = balance + ? WHERE id = ?", int64(delta), accountID)
	if err != nil {
		return fmt.Errorf("failed to adjust balance of %d: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 && delta != 0 {
		return fmt.Errorf("account %d: %w", accountID, domain.ErrNotFound)
	}
	return nil
}

func (t *Tx) RecordCashMovement(ctx context.Context, m *domain.CashMovement) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = t.now()
	}
	id, err := t.insert(ctx,
		"INSERT INTO cash_movements (account_id, amount, reason, created_at) VALUES (?, ?, ?, ?)",
		m.AccountID, int64(m.Amount), m.Reason, int64(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record cash movement: %w", err)
	}
	m.ID = id
	return nil
}

func (t *Tx) LockPosition(ctx context.Context, accountID int64, symbol string) (domain.Position, error) {
	// The row must exist before it can be locked, otherwise two writers
	// could both see "no position" and overwrite each other.
	if _, err := t.exec(ctx, t.d.ensurePosition, accountID, symbol, int64(t.now())); err != nil {
		return domain.Position{}, fmt.Errorf("failed to create position row: %w", err)
	}

	p := domain.Position{AccountID: accountID, Symbol: symbol}
	var qty, avg, realized, updated int64
	err := t.tx.QueryRowContext(ctx,
		t.d.rebind("SELECT qty, avg_price, realized_pnl, updated_at FROM positions WHERE account_id = ? AND symbol = ?"+t.d.forUpdate),
		accountID, symbol,
	).Scan(&qty, &avg, &realized, &updated)
	if err != nil {
		return domain.Position{}, fmt.Errorf("failed to lock position: %w", err)
	}
	p.Qty = quant.Qty(qty)
	p.AvgPrice = quant.PriceMicros(avg)
	p.RealizedPnL = quant.PriceMicros(realized)
	p.UpdatedAt = quant.TimeStamp(updated)
	return p, nil
}

func (t *Tx) SavePosition(ctx context.Context, p domain.Position) error {
	if p.UpdatedAt == 0 {
		p.UpdatedAt = t.now()
	}
	_, err := t.exec(ctx,
		"UPDATE positions SET qty = ?, avg_price = ?, realized_pnl = ?, updated_at = ? WHERE account_id = ? AND symbol = ?",
		int64(p.Qty), int64(p.AvgPrice), int64(p.RealizedPnL), int64(p.UpdatedAt), p.AccountID, p.Symbol,
	)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

func (t *Tx) Position(ctx context.Context, accountID int64, symbol string) (domain.Position, error) {
	p := domain.Position{AccountID: accountID, Symbol: symbol}
	var qty, avg, realized, updated int64
	err := t.tx.QueryRowContext(ctx,
		t.d.rebind("SELECT qty, avg_price, realized_pnl, updated_at FROM positions WHERE account_id = ? AND symbol = ?"),
		accountID, symbol,
	).Scan(&qty, &avg, &realized, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("failed to read position: %w", err)
	}
	p.Qty = quant.Qty(qty)
	p.AvgPrice = quant.PriceMicros(avg)
	p.RealizedPnL = quant.PriceMicros(realized)
	p.UpdatedAt = quant.TimeStamp(updated)
	return p, nil
}

func (t *Tx) CommittedBuyNotional(ctx context.Context, accountID int64) (quant.PriceMicros, error) {
	var sum int64
	err := t.tx.QueryRowContext(ctx,
		t.d.rebind("SELECT COALESCE(SUM(price * remaining_qty), 0) FROM orders WHERE account_id = ? AND side = 'BUY' AND order_type = 'LIMIT' AND "+openOrder),
		accountID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum committed buys: %w", err)
	}
	return quant.PriceMicros(sum), nil
}

func (t *Tx) CommittedSellQty(ctx context.Context, accountID int64, symbol string) (quant.Qty, error) {
	var sum int64
	err := t.tx.QueryRowContext(ctx,
		t.d.rebind("SELECT COALESCE(SUM(remaining_qty), 0) FROM orders WHERE account_id = ? AND symbol = ? AND side = 'SELL' AND "+openOrder),
		accountID, symbol,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum committed sells: %w", err)
	}
	return quant.Qty(sum), nil
}

func (t *Tx) RestingLevels(ctx context.Context, symbol string, side domain.Side) ([]domain.PriceLevel, error) {
	return queryLevels(ctx, t.tx, t.d, symbol, side, 0)
}

// queryLevels aggregates open limit orders of one side, best price first.
func queryLevels(ctx context.Context, q querier, d Dialect, symbol string, side domain.Side, limit int) ([]domain.PriceLevel, error) {
	order := "ASC"
	if side == domain.Buy {
		order = "DESC"
	}
	stmt := "SELECT price, SUM(remaining_qty), COUNT(*) FROM orders WHERE symbol = ? AND side = ? AND order_type = 'LIMIT' AND " +
		openOrder + " AND remaining_qty > 0 GROUP BY price ORDER BY price " + order
	args := []any{symbol, string(side)}
	if limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, d.rebind(stmt), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels: %w", err)
	}
	defer rows.Close()

	var levels []domain.PriceLevel
	for rows.Next() {
		var price, qty int64
		var count int
		if err := rows.Scan(&price, &qty, &count); err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		levels = append(levels, domain.PriceLevel{Price: quant.PriceMicros(price), Qty: quant.Qty(qty), Orders: count})
	}
	return levels, rows.Err()
}

func scanOrder(r rowScanner) (*domain.Order, error) {
	var (
		o                            domain.Order
		side, typ, status            string
		price                        sql.NullInt64
		qty, remaining, created, upd int64
	)
	if err := r.Scan(&o.ID, &o.UserID, &o.AccountID, &o.Symbol, &side, &typ, &price, &qty, &remaining, &status, &created, &upd); err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	if price.Valid {
		p := quant.PriceMicros(price.Int64)
		o.Price = &p
	}
	o.Quantity = quant.Qty(qty)
	o.RemainingQty = quant.Qty(remaining)
	o.CreatedAt = quant.TimeStamp(created)
	o.UpdatedAt = quant.TimeStamp(upd)
	return &o, nil
}

func scanAccount(r rowScanner) (*domain.Account, error) {
	var a domain.Account
	var balance, created int64
	if err := r.Scan(&a.ID, &a.UserID, &a.Name, &balance, &created); err != nil {
		return nil, err
	}
	a.Balance = quant.PriceMicros(balance)
	a.CreatedAt = quant.TimeStamp(created)
	return &a, nil
}
