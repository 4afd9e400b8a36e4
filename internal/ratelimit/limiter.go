package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages independent token buckets per key (a page id or an API client)
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a limiter allowing events per period with the given burst.
// A non-positive events count disables limiting.
func NewLimiter(events int, per time.Duration, burst int) *Limiter {
	r := rate.Inf
	if events > 0 && per > 0 {
		r = rate.Limit(float64(events) / per.Seconds())
	}
	if burst <= 0 {
		burst = 1
	}

	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// PerMinute is shorthand for NewLimiter(events, time.Minute, burst)
func PerMinute(events, burst int) *Limiter {
	return NewLimiter(events, time.Minute, burst)
}

// PerHour is shorthand for NewLimiter(events, time.Hour, burst)
func PerHour(events, burst int) *Limiter {
	return NewLimiter(events, time.Hour, burst)
}

// GetLimiter returns the bucket for key, creating it on first use
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}

	return limiter
}

// Allow checks if an event is allowed for key. A nil limiter allows everything.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	return l.GetLimiter(key).Allow()
}

// Tokens returns the current number of available tokens for key
func (l *Limiter) Tokens(key string) float64 {
	return l.GetLimiter(key).Tokens()
}

// Forget drops the bucket for key
func (l *Limiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.limiters, key)
	l.mu.Unlock()
}
