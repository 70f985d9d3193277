package domain

import (
	"errors"

	"github.com/jonhpyo/MyHTS/pkg/safe"
)

var (
	// ErrValidation covers bad price, quantity, side or symbol.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownSymbol is wrapped together with ErrValidation.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrInsufficientFunds rejects a BUY whose notional exceeds available cash.
	ErrInsufficientFunds = errors.New("insufficient balance")
	// ErrInsufficientPosition rejects a SELL beyond the held quantity when shorting is off.
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrContention is a retryable lock-wait timeout, deadlock or serialization failure.
	ErrContention = errors.New("lock contention")
	// ErrNotFound is returned for unknown accounts or orders.
	ErrNotFound = errors.New("not found")
	// ErrOverflow aborts a unit of work whose fixed-point math would wrap.
	ErrOverflow = safe.ErrOverflow
	// ErrLedgerImbalance means a trade's cash deltas did not sum to zero.
	ErrLedgerImbalance = errors.New("ledger imbalance")
)

// IsRetryable reports whether err is a transient contention failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}
