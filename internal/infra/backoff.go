package infra

import (
	"context"
	"time"
)

// Backoff is a capped exponential delay: Base * 2^retry, at most Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// ReconnectBackoff is used for outbound feeds (market data, Kafka).
var ReconnectBackoff = Backoff{Base: 1 * time.Second, Max: 60 * time.Second}

// Delay returns the wait before retry number retryCount (0-based).
// A negative retryCount returns Base.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		return b.Base
	}
	// 2^30 * anything useful is already past any sane cap.
	if retryCount > 30 {
		return b.Max
	}
	d := b.Base * time.Duration(1<<retryCount)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// Sleep waits for Delay(retryCount) or until ctx is done.
func (b Backoff) Sleep(ctx context.Context, retryCount int) error {
	d := b.Delay(retryCount)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CalculateBackoff returns the reconnect delay for a given retry count.
func CalculateBackoff(retryCount int) time.Duration {
	return ReconnectBackoff.Delay(retryCount)
}
