package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
// Thread-safe and suitable for concurrent API calls.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewRateLimiter creates a new rate limiter.
// burst: maximum burst size
// perSecond: refill rate (requests per second)
func NewRateLimiter(burst float64, perSecond float64) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		tokens:     burst,
		maxTokens:  burst,
		refillRate: perSecond,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.TryAcquire() {
			return nil
		}
		t := time.NewTimer(time.Duration(float64(time.Second) / r.refillRate))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// TryAcquire attempts to acquire a token without blocking.
// Returns true if a token was acquired, false otherwise.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	r.lastUsed = time.Now()

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// RetryAfter estimates how long until the next token.
func (r *RateLimiter) RetryAfter() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens >= 1 || r.refillRate <= 0 {
		return 0
	}
	return time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
}

// refill adds tokens based on elapsed time.
// Must be called with mutex held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate

	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	r.lastRefill = now
}

// KeyedLimiter keeps one bucket per client key (e.g. remote IP).
type KeyedLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*RateLimiter
	burst     float64
	perSecond float64
	idleTTL   time.Duration
	lastSweep time.Time
}

// NewKeyedLimiter creates per-key buckets with the same limits.
func NewKeyedLimiter(burst, perSecond float64) *KeyedLimiter {
	return &KeyedLimiter{
		buckets:   make(map[string]*RateLimiter),
		burst:     burst,
		perSecond: perSecond,
		idleTTL:   10 * time.Minute,
		lastSweep: time.Now(),
	}
}

// Get returns the bucket for key, creating it on first use.
func (k *KeyedLimiter) Get(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if time.Since(k.lastSweep) > k.idleTTL {
		k.sweep()
	}
	rl, ok := k.buckets[key]
	if !ok {
		rl = NewRateLimiter(k.burst, k.perSecond)
		k.buckets[key] = rl
	}
	return rl
}

// sweep drops idle buckets. Must be called with mutex held.
func (k *KeyedLimiter) sweep() {
	now := time.Now()
	for key, rl := range k.buckets {
		rl.mu.Lock()
		idle := now.Sub(rl.lastUsed) > k.idleTTL
		rl.mu.Unlock()
		if idle {
			delete(k.buckets, key)
		}
	}
	k.lastSweep = now
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
