// Package ratelimit gates outbound fetches per host with token buckets.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRefillRate is tokens per second added to each bucket.
	DefaultRefillRate = 0.5
	// DefaultCapacity is the bucket size; new buckets start full.
	DefaultCapacity = 1.0

	// unitsPerToken scales tokens to the integer burst of rate.Limiter so
	// fractional capacities keep their exact refill arithmetic.
	unitsPerToken = 1000
)

// Bucket is a point-in-time view of one host's bucket.
type Bucket struct {
	Capacity   float64
	Tokens     float64
	RefillRate float64
	UpdatedAt  time.Time
}

// Limiter holds one token bucket per key behind a single lock.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	refillRate float64
	capacity   float64
	now        func() time.Time
}

type bucket struct {
	lim       *rate.Limiter
	updatedAt time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a limiter. Non-positive arguments fall back to the defaults.
// A capacity below one never holds a whole token, so such a limiter denies
// every call.
func New(refillRate, capacity float64, opts ...Option) *Limiter {
	if refillRate <= 0 {
		refillRate = DefaultRefillRate
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Limiter{
		buckets:    make(map[string]*bucket),
		refillRate: refillRate,
		capacity:   capacity,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow refills the bucket for key by the elapsed time and consumes one token
// if available. It never blocks; a false result means skip the fetch.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		limit := rate.Limit(l.refillRate * unitsPerToken)
		b = &bucket{lim: rate.NewLimiter(limit, int(math.Round(l.capacity*unitsPerToken)))}
		b.lim.SetLimitAt(now, limit)
		l.buckets[key] = b
	}
	b.updatedAt = now
	return b.lim.AllowN(now, unitsPerToken)
}

// Snapshot returns the current state of key's bucket without consuming.
func (l *Limiter) Snapshot(key string) (Bucket, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	tokens := b.lim.TokensAt(l.now()) / unitsPerToken
	return Bucket{
		Capacity:   l.capacity,
		Tokens:     math.Max(0, math.Min(l.capacity, tokens)),
		RefillRate: l.refillRate,
		UpdatedAt:  b.updatedAt,
	}, true
}

// Len returns the number of hosts with a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
