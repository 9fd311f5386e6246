// Package cooldown throttles command usage per user.
package cooldown

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTracked bounds the number of remembered users. Idle limiters are dropped
// once the bound is reached.
const maxTracked = 4096

// Limiter hands out one token bucket per key. A nil *Limiter allows everything.
type Limiter struct {
	every time.Duration
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a limiter refilling one token every interval up to burst.
// A non-positive interval disables limiting.
func New(interval time.Duration, burst int) *Limiter {
	if interval <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		every:    interval,
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token for key and reports whether it was available.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxTracked {
			l.evictIdle(now)
		}
		limiter = rate.NewLimiter(rate.Every(l.every), l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.limiters)
}

// evictIdle drops limiters whose bucket is full again. The caller holds l.mu.
func (l *Limiter) evictIdle(now time.Time) {
	for key, limiter := range l.limiters {
		if limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}
