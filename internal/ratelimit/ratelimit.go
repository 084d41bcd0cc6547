// Package ratelimit implements a per-venue token-bucket limiter with
// a continuous (fractional-token) refill model, an async suspending
// check, and a non-blocking try_check.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/errs"
)

// Limiter is a single venue's token bucket. Check polls for a token at
// the refill cadence rather than waking a dedicated queue of waiters;
// the bucket has no coupling to any other venue's limiter.
type Limiter struct {
	venue string

	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewLimiter constructs a Limiter for one venue.
func NewLimiter(venue string, requestsPerSecond, burstSize float64) *Limiter {
	return &Limiter{
		venue:      venue,
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: requestsPerSecond,
		lastRefill: time.Now(),
	}
}

func (l *Limiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now
}

// TryCheck attempts to acquire one token without blocking.
func (l *Limiter) TryCheck() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens >= 1 {
		l.tokens--
		return nil
	}
	return &errs.RateLimitExceededError{Venue: l.venue, Message: "token bucket empty"}
}

// Check suspends until a token is available or ctx is cancelled.
// Infallible except for context cancellation: the limiter itself never
// reports a rate-limit error from Check.
func (l *Limiter) Check(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refillLocked()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}

		// Compute time until at least one token is available and wait
		// that long (or until context cancellation), then recheck.
		deficit := 1 - l.tokens
		wait := time.Duration((deficit / l.refillRate) * float64(time.Second))
		if wait <= 0 {
			wait = time.Millisecond
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// AvailableTokens returns a snapshot of the current token count,
// refilled to now.
func (l *Limiter) AvailableTokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return l.tokens
}

// Registry holds one Limiter per venue.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Register installs a limiter for a venue, replacing any existing one.
func (r *Registry) Register(venue string, requestsPerSecond, burstSize float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[venue] = NewLimiter(venue, requestsPerSecond, burstSize)
}

// Get returns the limiter for a venue, or nil if none is registered.
func (r *Registry) Get(venue string) *Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[venue]
}
