package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int64
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
	}
}

// KeyFunc derives the rate limit key for a request. The default keys by
// caller subject header when present, falling back to client IP.
type KeyFunc func(r *http.Request) string

// SubjectKey returns the default rate limit key function.
func SubjectKey(r *http.Request) string {
	if subject := r.Header.Get("X-Tollgate-Subject"); subject != "" {
		return "subject:" + subject
	}
	return "ip:" + clientIP(r)
}

// clientIP extracts the originating client address, preferring proxy headers
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First address in the list is the original client
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MemoryRateLimiter implements fixed-window rate limiting in process memory.
// It serves single-instance deployments and tests; multi-instance
// deployments should use the Redis-backed limiter so the window is shared.
type MemoryRateLimiter struct {
	config  *RateLimitConfig
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryRateLimiter creates an in-memory rate limiter
func NewMemoryRateLimiter(config *RateLimitConfig) *MemoryRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &MemoryRateLimiter{
		config:  config,
		windows: make(map[string]*window),
	}
}

// Allow checks if a request is allowed for the given key
func (rl *MemoryRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, exists := rl.windows[key]
	if !exists || now.After(w.resetAt) {
		rl.windows[key] = &window{count: 1, resetAt: now.Add(rl.config.WindowDuration)}
		return true
	}

	w.count++
	return w.count <= rl.config.RequestsPerWindow
}

// Remaining returns the number of remaining requests for a key
func (rl *MemoryRateLimiter) Remaining(key string) int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, exists := rl.windows[key]
	if !exists || time.Now().After(w.resetAt) {
		return rl.config.RequestsPerWindow
	}
	remaining := rl.config.RequestsPerWindow - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
