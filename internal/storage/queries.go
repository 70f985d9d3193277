package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

const defaultLimit = 100

const tradeCols = "id, buy_order_id, sell_order_id, buy_account_id, sell_account_id, symbol, price, quantity, trade_time"

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

func (s *Store) Order(ctx context.Context, orderID int64) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind("SELECT "+orderCols+" FROM orders WHERE id = ?"), orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	return o, nil
}

func (s *Store) WorkingOrdersByAccount(ctx context.Context, accountID int64, limit int) ([]domain.Order, error) {
	rows, err := s.query(ctx,
		"SELECT "+orderCols+" FROM orders WHERE account_id = ? AND "+openOrder+" AND remaining_qty > 0 ORDER BY id DESC LIMIT ?",
		accountID, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query working orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) TradesByOrder(ctx context.Context, orderID int64) ([]domain.Trade, error) {
	rows, err := s.query(ctx,
		"SELECT "+tradeCols+" FROM trades WHERE buy_order_id = ? OR sell_order_id = ? ORDER BY id",
		orderID, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// fillsQuery expands each trade into one row per participating account.
// A self-trade yields both a BUY and a SELL fill.
const fillsQuery = `SELECT f.side, f.order_id, ` + tradeCols + ` FROM (
	SELECT 'BUY' AS side, buy_order_id AS order_id, ` + tradeCols + ` FROM trades WHERE buy_account_id = ?
	UNION ALL
	SELECT 'SELL' AS side, sell_order_id AS order_id, ` + tradeCols + ` FROM trades WHERE sell_account_id = ?
) f`

func (s *Store) FillsByAccount(ctx context.Context, accountID int64, limit int) ([]domain.Fill, error) {
	return s.fills(ctx, accountID, fillsQuery+" ORDER BY f.id DESC, f.side DESC LIMIT ?", accountID, accountID, clampLimit(limit))
}

func (s *Store) AccountJournal(ctx context.Context, accountID int64) ([]domain.Fill, error) {
	return s.fills(ctx, accountID, fillsQuery+" ORDER BY f.id ASC, f.side ASC", accountID, accountID)
}

func (s *Store) fills(ctx context.Context, accountID int64, q string, args ...any) ([]domain.Fill, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var (
			f    domain.Fill
			side string
		)
		var price, qty, ts int64
		if err := rows.Scan(&side, &f.OrderID,
			&f.ID, &f.BuyOrderID, &f.SellOrderID, &f.BuyAccountID, &f.SellAccountID,
			&f.Symbol, &price, &qty, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.Side = domain.Side(side)
		f.AccountID = accountID
		f.Price = quant.PriceMicros(price)
		f.Quantity = quant.Qty(qty)
		f.TradeTime = quant.TimeStamp(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) Account(ctx context.Context, accountID int64) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT id, user_id, name, balance, created_at FROM accounts WHERE id = ?"), accountID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", accountID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}
	return a, nil
}

func (s *Store) AccountsByUser(ctx context.Context, userID int64) ([]domain.Account, error) {
	rows, err := s.query(ctx,
		"SELECT id, user_id, name, balance, created_at FROM accounts WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) Positions(ctx context.Context, accountID int64) ([]domain.Position, error) {
	rows, err := s.query(ctx,
		"SELECT symbol, qty, avg_price, realized_pnl, updated_at FROM positions WHERE account_id = ? ORDER BY symbol", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p := domain.Position{AccountID: accountID}
		var qty, avg, realized, updated int64
		if err := rows.Scan(&p.Symbol, &qty, &avg, &realized, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.Qty = quant.Qty(qty)
		p.AvgPrice = quant.PriceMicros(avg)
		p.RealizedPnL = quant.PriceMicros(realized)
		p.UpdatedAt = quant.TimeStamp(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CashMovements(ctx context.Context, accountID int64) ([]domain.CashMovement, error) {
	rows, err := s.query(ctx,
		"SELECT id, account_id, amount, reason, created_at FROM cash_movements WHERE account_id = ? ORDER BY id", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash movements: %w", err)
	}
	defer rows.Close()

	var out []domain.CashMovement
	for rows.Next() {
		var m domain.CashMovement
		var amount, created int64
		if err := rows.Scan(&m.ID, &m.AccountID, &amount, &m.Reason, &created); err != nil {
			return nil, fmt.Errorf("failed to scan cash movement: %w", err)
		}
		m.Amount = quant.PriceMicros(amount)
		m.CreatedAt = quant.TimeStamp(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Depth aggregates resting limit orders into at most levels price levels per side.
func (s *Store) Depth(ctx context.Context, symbol string, levels int) (domain.Depth, error) {
	d := domain.Depth{Symbol: symbol}
	var err error
	if d.Bids, err = queryLevels(ctx, s.db, s.dialect, symbol, domain.Buy, levels); err != nil {
		return d, err
	}
	if d.Asks, err = queryLevels(ctx, s.db, s.dialect, symbol, domain.Sell, levels); err != nil {
		return d, err
	}
	return d, nil
}

func scanTrade(r rowScanner) (domain.Trade, error) {
	var t domain.Trade
	var price, qty, ts int64
	if err := r.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID, &t.BuyAccountID, &t.SellAccountID,
		&t.Symbol, &price, &qty, &ts); err != nil {
		return t, fmt.Errorf("failed to scan trade: %w", err)
	}
	t.Price = quant.PriceMicros(price)
	t.Quantity = quant.Qty(qty)
	t.TradeTime = quant.TimeStamp(ts)
	return t, nil
}
