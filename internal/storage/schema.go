package storage

import (
	"context"
	"fmt"
	"strings"
)

var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id {{pk}},
		user_id BIGINT NOT NULL,
		name {{str}} NOT NULL DEFAULT '',
		balance BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id {{pk}},
		user_id BIGINT NOT NULL,
		account_id BIGINT NOT NULL,
		symbol {{str}} NOT NULL,
		side {{str}} NOT NULL,
		order_type {{str}} NOT NULL,
		price BIGINT NULL,
		quantity BIGINT NOT NULL,
		remaining_qty BIGINT NOT NULL,
		status {{str}} NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CHECK (quantity > 0),
		CHECK (remaining_qty >= 0 AND remaining_qty <= quantity)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id {{pk}},
		buy_order_id BIGINT NOT NULL,
		sell_order_id BIGINT NOT NULL,
		buy_account_id BIGINT NOT NULL,
		sell_account_id BIGINT NOT NULL,
		symbol {{str}} NOT NULL,
		price BIGINT NOT NULL,
		quantity BIGINT NOT NULL,
		trade_time BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		account_id BIGINT NOT NULL,
		symbol {{str}} NOT NULL,
		qty BIGINT NOT NULL,
		avg_price BIGINT NOT NULL,
		realized_pnl BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (account_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS cash_movements (
		id {{pk}},
		account_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		reason {{str}} NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

var schemaIndexes = []string{
	"CREATE INDEX {{ine}}idx_orders_book ON orders (symbol, status)",
	"CREATE INDEX {{ine}}idx_orders_account ON orders (account_id, status)",
	"CREATE INDEX {{ine}}idx_trades_buy_account ON trades (buy_account_id)",
	"CREATE INDEX {{ine}}idx_trades_sell_account ON trades (sell_account_id)",
	"CREATE INDEX {{ine}}idx_trades_buy_order ON trades (buy_order_id)",
	"CREATE INDEX {{ine}}idx_trades_sell_order ON trades (sell_order_id)",
	"CREATE INDEX {{ine}}idx_cash_movements_account ON cash_movements (account_id)",
	"CREATE INDEX {{ine}}idx_accounts_user ON accounts (user_id)",
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	ine := ""
	if s.dialect.indexIfExists {
		ine = "IF NOT EXISTS "
	}
	r := strings.NewReplacer("{{pk}}", s.dialect.autoPK, "{{str}}", s.dialect.str, "{{ine}}", ine)

	for _, stmt := range schemaTables {
		if _, err := s.db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, stmt := range schemaIndexes {
		if _, err := s.db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			if s.dialect.isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
