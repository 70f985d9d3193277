package quant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonhpyo/MyHTS/pkg/safe"
	"github.com/shopspring/decimal"
)

// PriceMicros represents a price or cash amount multiplied by 1,000,000 (10^6).
// E.g., 1.23 USD = 1,230,000 PriceMicros.
type PriceMicros int64

// Qty is an order or position quantity in whole units (shares/contracts).
type Qty int64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	PriceScale    = 1000000
	PriceDecimals = 6
)

// ErrInvalidNumber is returned when a numeric string cannot be parsed.
var ErrInvalidNumber = errors.New("invalid fixed-point number")

var priceScaleDec = decimal.NewFromInt(PriceScale)

func (p PriceMicros) String() string {
	return p.Decimal().StringFixed(PriceDecimals)
}

// Decimal converts to a decimal in display units (1.23, not 1230000).
func (p PriceMicros) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -PriceDecimals)
}

// FromDecimal converts a display-unit decimal to PriceMicros.
// Values with more than six fractional digits are rejected.
func FromDecimal(d decimal.Decimal) (PriceMicros, error) {
	scaled := d.Mul(priceScaleDec)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidNumber, d, PriceDecimals)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidNumber, d)
	}
	return PriceMicros(scaled.IntPart()), nil
}

// RoundDecimal converts a display-unit decimal to PriceMicros using
// banker's rounding at the sixth decimal.
func RoundDecimal(d decimal.Decimal) PriceMicros {
	return PriceMicros(d.Mul(priceScaleDec).RoundBank(0).IntPart())
}

// Notional returns price * qty, failing on overflow.
func Notional(p PriceMicros, q Qty) (PriceMicros, error) {
	v, err := safe.Mul(int64(p), int64(q))
	if err != nil {
		return 0, err
	}
	return PriceMicros(v), nil
}

// ParsePriceMicros parses a numeric string into PriceMicros without float64.
func ParsePriceMicros(s string) (PriceMicros, error) {
	v, err := parseFixedPoint(s, PriceDecimals)
	if err != nil {
		return 0, err
	}
	return PriceMicros(v), nil
}

// parseFixedPoint parses a numeric string into an int64 with the given precision.
// E.g., parseFixedPoint("1.23", 6) -> 1,230,000.
func parseFixedPoint(s string, precision int) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidNumber
	}

	neg := strings.HasPrefix(s, "-")
	intStr, fracStr, _ := strings.Cut(strings.TrimPrefix(s, "-"), ".")
	if intStr == "" && fracStr == "" {
		return 0, ErrInvalidNumber
	}
	if len(fracStr) > precision {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidNumber, s, precision)
	}
	for _, part := range []string{intStr, fracStr} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
			}
		}
	}

	var intPart int64
	if intStr != "" {
		v, err := strconv.ParseInt(intStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
		intPart = v
	}
	scale := int64(1)
	for i := 0; i < precision; i++ {
		scale *= 10
	}
	total, err := safe.Mul(intPart, scale)
	if err != nil {
		return 0, err
	}

	// Pad fraction part with zeros if shorter than precision
	var fracPart int64
	if fracStr != "" {
		fracPart, _ = strconv.ParseInt(fracStr, 10, 64)
		for i := len(fracStr); i < precision; i++ {
			fracPart *= 10
		}
	}
	if total, err = safe.Add(total, fracPart); err != nil {
		return 0, err
	}
	if neg {
		return -total, nil
	}
	return total, nil
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// Clock hands out strictly increasing Unix-microsecond timestamps so that
// two orders admitted in the same microsecond still have a FIFO order.
type Clock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewClock returns a Clock backed by now (time.Now when nil).
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns max(now, last+1).
func (c *Clock) Next() TimeStamp {
	for {
		last := c.last.Load()
		ts := c.now().UnixMicro()
		if ts <= last {
			ts = last + 1
		}
		if c.last.CompareAndSwap(last, ts) {
			return TimeStamp(ts)
		}
	}
}

// Time converts back to time.Time (UTC).
func (t TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}
