package http

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxLimiterKeys bounds how many client IPs are tracked at once.
const DefaultMaxLimiterKeys = 10000

// LoginLimiter throttles login attempts per client IP.
// Limiters are created lazily and pruned on insert, so no background
// goroutine is needed.
type LoginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	maxKeys  int
}

// NewLoginLimiter allows perMinute attempts per IP with the given burst.
// A non-positive perMinute disables limiting.
func NewLoginLimiter(perMinute, burst int) *LoginLimiter {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.Inf
	if perMinute > 0 {
		lim = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &LoginLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     lim,
		burst:    burst,
		maxKeys:  DefaultMaxLimiterKeys,
	}
}

// Allow reports whether key may attempt a login now.
func (l *LoginLimiter) Allow(key string) bool {
	if l.rate == rate.Inf {
		return true
	}
	return l.getLimiter(key).Allow()
}

func (l *LoginLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		if len(l.limiters) >= l.maxKeys {
			l.prune()
		}
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// prune drops limiters whose bucket has refilled, i.e. idle clients.
// If every tracked client is still throttled the map is reset.
func (l *LoginLimiter) prune() {
	for k, lim := range l.limiters {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.limiters, k)
		}
	}
	if len(l.limiters) >= l.maxKeys {
		l.limiters = make(map[string]*rate.Limiter)
	}
}

// Len returns the number of tracked clients (for testing).
func (l *LoginLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// clientIP returns the caller address; middleware.RealIP has already
// rewritten RemoteAddr from X-Forwarded-For / X-Real-IP.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
		if addr[i] == ']' {
			break
		}
	}
	return addr
}
