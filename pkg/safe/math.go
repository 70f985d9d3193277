package safe

import (
	"errors"
	"math"
)

// ErrOverflow is returned when an int64 operation would wrap.
var ErrOverflow = errors.New("CORE_SAFE_INT64_OVERFLOW")

// ErrDivByZero is returned by Div for a zero divisor.
var ErrDivByZero = errors.New("CORE_SAFE_DIV_BY_ZERO")

// Add performs int64 addition and reports overflow/underflow.
func Add(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub performs int64 subtraction and reports overflow/underflow.
func Sub(a, b int64) (int64, error) {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// Mul performs int64 multiplication and reports overflow/underflow.
func Mul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > 0 {
		if b > 0 {
			if a > math.MaxInt64/b {
				return 0, ErrOverflow
			}
		} else if b < math.MinInt64/a {
			return 0, ErrOverflow
		}
	} else {
		if b > 0 {
			if a < math.MinInt64/b {
				return 0, ErrOverflow
			}
		} else if a < math.MaxInt64/b {
			return 0, ErrOverflow
		}
	}
	return a * b, nil
}

// Div performs int64 division.
func Div(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrDivByZero
	}
	if a == math.MinInt64 && b == -1 {
		return 0, ErrOverflow
	}
	return a / b, nil
}

// Neg negates a, failing for MinInt64.
func Neg(a int64) (int64, error) {
	if a == math.MinInt64 {
		return 0, ErrOverflow
	}
	return -a, nil
}
