package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// Config selects the engine and bounds lock waits.
type Config struct {
	Driver       string
	DSN          string
	LockTimeout  time.Duration
	MaxOpenConns int
}

// Store is the single transactional store shared by the order store, the
// trade journal and the ledger.
type Store struct {
	db          *sql.DB
	dialect     Dialect
	lockTimeout time.Duration
	clock       *quant.Clock
}

var _ domain.Store = (*Store)(nil)

// Open connects, applies engine settings and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.Name, err)
	}

	if d.Name == "sqlite" {
		// SQLite has one writer; a single connection turns every unit of
		// work into a serialized transaction and the pool wait becomes the
		// lock wait.
		db.SetMaxOpenConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)

		pragmas := []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA synchronous=NORMAL;",
			"PRAGMA cache_size=-2000;", // 2MB cache
			"PRAGMA foreign_keys=ON;",
			"PRAGMA busy_timeout=5000;",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
			}
		}
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", d.Name, err)
	}

	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	s := &Store{db: db, dialect: d, lockTimeout: timeout, clock: quant.NewClock(nil)}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Store opened", slog.String("driver", d.Name), slog.Duration("lock_timeout", timeout))
	return s, nil
}

// Dialect returns the engine name.
func (s *Store) Dialect() string {
	return s.dialect.Name
}

// WithTx runs fn inside one transaction. Waiting for a connection or a row
// lock longer than the lock timeout fails with domain.ErrContention.
func (s *Store) WithTx(ctx context.Context, fn func(domain.UnitOfWork) error) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	conn, err := s.db.Conn(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: no connection within %s", domain.ErrContention, s.lockTimeout)
		}
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(fmt.Errorf("failed to begin transaction: %w", err))
	}

	if stmt := s.dialect.lockTimeoutStmt(s.lockTimeout); stmt != "" {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			sqlTx.Rollback()
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	tx := &Tx{tx: sqlTx, d: s.dialect, now: s.clock.Next}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Error("Rollback failed", slog.Any("error", rbErr))
		}
		return s.classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

func (s *Store) classify(err error) error {
	if errors.Is(err, domain.ErrContention) || !s.dialect.isContention(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrContention, err)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
