package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTimeout = 10 * time.Minute

// limiterEntry pairs a token bucket with the time it was last touched, so
// Cleanup can purge buckets for clients that stopped sending requests
// instead of wiping every bucket on a fixed schedule.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-IP rate limiting.
type RateLimiter struct {
	limiters    map[string]*limiterEntry
	mu          sync.RWMutex
	rps         int
	burst       int
	idleTimeout time.Duration
}

// NewRateLimiter creates a new rate limiter. idleTimeout controls how long a
// client's bucket is kept around after its last request before Cleanup
// reclaims it; a non-positive value falls back to defaultIdleTimeout.
func NewRateLimiter(requestsPerSecond, burst int, idleTimeout time.Duration) *RateLimiter {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &RateLimiter{
		limiters:    make(map[string]*limiterEntry),
		rps:         requestsPerSecond,
		burst:       burst,
		idleTimeout: idleTimeout,
	}
}

// getLimiter returns the rate limiter for a given IP, touching its
// lastAccess time.
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	entry, exists := rl.limiters[ip]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		entry.lastAccess = time.Now()
		rl.mu.Unlock()
		return entry.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock.
	entry, exists = rl.limiters[ip]
	if exists {
		entry.lastAccess = time.Now()
		return entry.limiter
	}

	entry = &limiterEntry{
		limiter:    rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
		lastAccess: time.Now(),
	}
	rl.limiters[ip] = entry

	return entry.limiter
}

// Cleanup removes limiters that have been idle longer than idleTimeout,
// rather than wiping every bucket (which would let a client that just
// exhausted its burst start over for free).
func (rl *RateLimiter) Cleanup() {
	cutoff := time.Now().Add(-rl.idleTimeout)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

// Middleware returns an HTTP middleware function for rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)

		limiter := rl.getLimiter(ip)
		if !limiter.Allow() {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request. X-Forwarded-For may
// carry a comma-separated hop chain ("client, proxy1, proxy2"); only the
// first (client-supplied) entry is used, trimmed of surrounding whitespace.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	return r.RemoteAddr
}
