package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements the token bucket algorithm for rate limiting.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64     // maximum number of tokens
	tokens     int64     // current number of tokens
	refillRate int64     // tokens added per second
	lastRefill time.Time // last refill timestamp
}

// NewTokenBucket creates a new token bucket that starts full.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request is allowed and consumes a token if so.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN checks if n requests are allowed and consumes n tokens if so.
func (tb *TokenBucket) AllowN(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}

	return false
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int64(elapsed.Seconds()) * tb.refillRate

	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Limiter tracks one token bucket per key (connection throttling uses the
// remote IP as key). Idle buckets are dropped after an hour.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*entry
	capacity   int64
	refillRate int64
}

type entry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// NewLimiter creates a keyed rate limiter.
func NewLimiter(capacity, refillRate int64) *Limiter {
	l := &Limiter{
		buckets:    make(map[string]*entry),
		capacity:   capacity,
		refillRate: refillRate,
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether the request for the given key is within the limit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.buckets[key]
	if !ok {
		e = &entry{bucket: NewTokenBucket(l.capacity, l.refillRate)}
		l.buckets[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	return e.bucket.Allow()
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-1 * time.Hour)
		l.mu.Lock()
		for key, e := range l.buckets {
			if e.lastSeen.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}
