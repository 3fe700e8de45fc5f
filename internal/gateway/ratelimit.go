package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter applies a per-client requests-per-minute budget.
// rpm > 0 enables it; zero or negative disables it entirely.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rpm      int
	burst    int
}

// NewRateLimiter builds a limiter. burst <= 0 selects a burst of 5.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rpm:      rpm,
		burst:    burst,
	}
}

// Enabled reports whether limiting is active.
func (r *RateLimiter) Enabled() bool { return r != nil && r.rpm > 0 }

// Allow reports whether the client identified by key may proceed.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	lim, ok := r.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), r.burst)
		r.limiters[key] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}
