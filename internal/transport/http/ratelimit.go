package http

import (
	"sync"
	"time"
)

// rateLimiter allows limit events per window. A zero limit allows everything.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	counter int
	resetAt time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	if limit <= 0 {
		return &rateLimiter{limit: 0}
	}
	return &rateLimiter{
		limit:  limit,
		window: time.Minute,
	}
}

func (r *rateLimiter) allow() bool {
	return r.allowAt(time.Now())
}

func (r *rateLimiter) allowAt(now time.Time) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.After(r.resetAt) {
		r.counter = 0
		r.resetAt = now.Add(r.window)
	}
	r.counter++
	return r.counter <= r.limit
}
