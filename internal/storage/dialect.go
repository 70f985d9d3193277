package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect captures the SQL differences between the supported engines.
type Dialect struct {
	Name       string
	driverName string

	autoPK string // primary key column definition for surrogate ids
	str    string // short string column type

	forUpdate  string // row lock suffix for single-row reads
	skipLocked string // row lock suffix for the crossable-set read

	numbered      bool // $1, $2 placeholders instead of ?
	returning     bool // INSERT ... RETURNING id
	indexIfExists bool // CREATE INDEX IF NOT EXISTS is supported

	ensurePosition string
}

const positionCols = "(account_id, symbol, qty, avg_price, realized_pnl, updated_at) VALUES (?, ?, 0, 0, 0, ?)"

var dialects = map[string]Dialect{
	"sqlite": {
		Name:           "sqlite",
		driverName:     "sqlite",
		autoPK:         "INTEGER PRIMARY KEY AUTOINCREMENT",
		str:            "TEXT",
		returning:      true,
		indexIfExists:  true,
		ensurePosition: "INSERT INTO positions " + positionCols + " ON CONFLICT (account_id, symbol) DO NOTHING",
	},
	"postgres": {
		Name:           "postgres",
		driverName:     "pgx",
		autoPK:         "BIGSERIAL PRIMARY KEY",
		str:            "TEXT",
		forUpdate:      " FOR UPDATE",
		skipLocked:     " FOR UPDATE SKIP LOCKED",
		numbered:       true,
		returning:      true,
		indexIfExists:  true,
		ensurePosition: "INSERT INTO positions " + positionCols + " ON CONFLICT (account_id, symbol) DO NOTHING",
	},
	"mysql": {
		Name:           "mysql",
		driverName:     "mysql",
		autoPK:         "BIGINT AUTO_INCREMENT PRIMARY KEY",
		str:            "VARCHAR(64)",
		forUpdate:      " FOR UPDATE",
		skipLocked:     " FOR UPDATE SKIP LOCKED",
		ensurePosition: "INSERT IGNORE INTO positions " + positionCols,
	},
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "pgx", "postgresql":
		driver = "postgres"
	case "sqlite3":
		driver = "sqlite"
	}
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
	return d, nil
}

// rebind rewrites ? placeholders for engines that number them.
func (d Dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// lockTimeoutStmt bounds row-lock waits for the current transaction.
func (d Dialect) lockTimeoutStmt(timeout time.Duration) string {
	if timeout <= 0 {
		return ""
	}
	switch d.Name {
	case "postgres":
		return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())
	case "mysql":
		secs := int64(timeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)
	}
	return ""
}

// isContention reports lock timeouts, deadlocks and serialization failures.
func (d Dialect) isContention(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001": // lock_not_available, deadlock_detected, serialization_failure
			return true
		}
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213, 3572: // lock wait timeout, deadlock, NOWAIT lock failure
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// isDuplicateIndex reports MySQL's "duplicate key name" on re-migration.
func (d Dialect) isDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1061
}
