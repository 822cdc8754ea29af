package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// requestWindow tracks API requests from an IP.
type requestWindow struct {
	Count   int
	FirstAt time.Time
}

// RateLimiter is a fixed-window per-IP request limiter for the chart
// API. It protects the upstream history provider from a client burst
// (rapid symbol cycling) punching through the cache layers.
type RateLimiter struct {
	mu           sync.RWMutex
	windows      map[string]*requestWindow
	maxRequests  int
	windowPeriod time.Duration
	done         chan struct{}
}

// NewRateLimiter creates a new rate limiter.
// maxRequests: requests allowed per window per IP
// windowPeriod: window length
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	rl := &RateLimiter{
		windows:      make(map[string]*requestWindow),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
		done:         make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

// startCleanup periodically removes expired windows until Stop.
func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, window := range rl.windows {
		if now.Sub(window.FirstAt) > rl.windowPeriod {
			delete(rl.windows, ip)
		}
	}
}

// Allow records a request for an IP and reports whether it is within
// the limit, along with remaining quota and time until the window
// resets.
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	window, exists := rl.windows[ip]

	if !exists || now.Sub(window.FirstAt) > rl.windowPeriod {
		rl.windows[ip] = &requestWindow{Count: 1, FirstAt: now}
		return true, rl.maxRequests - 1, 0
	}

	window.Count++
	remaining := rl.maxRequests - window.Count
	if remaining < 0 {
		return false, 0, rl.windowPeriod - now.Sub(window.FirstAt)
	}
	return true, remaining, 0
}

// RateLimitMiddleware limits requests per IP on the chart API.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		allowed, remaining, retryAfter := rl.Allow(ip)

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": int(retryAfter.Seconds()) + 1,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
