package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"relaychat/internal/utils"

	"github.com/gin-gonic/gin"
)

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	rate     float64 // tokens per second
	burst    int
	cleanup  time.Duration
	stop     chan struct{}
	once     sync.Once
}

// Visitor represents a client's rate limiting data
type Visitor struct {
	limiter  *TokenBucket
	lastSeen time.Time
}

// TokenBucket implements the token bucket algorithm
type TokenBucket struct {
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per key with
// the given burst
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}

	rl := &RateLimiter{
		visitors: make(map[string]*Visitor),
		rate:     float64(perMinute) / 60,
		burst:    burst,
		cleanup:  3 * time.Minute,
		stop:     make(chan struct{}),
	}

	go rl.cleanupVisitors()

	return rl
}

// Allow checks if a request for key is allowed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	visitor, exists := rl.visitors[key]
	if !exists {
		visitor = &Visitor{
			limiter: &TokenBucket{
				tokens:   float64(rl.burst),
				capacity: float64(rl.burst),
				rate:     rl.rate,
				lastTime: now,
			},
		}
		rl.visitors[key] = visitor
	}

	visitor.lastSeen = now
	return visitor.limiter.allow(now)
}

// Stop ends the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (tb *TokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(tb.lastTime).Seconds()
	tb.lastTime = now

	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}

	return false
}

func (rl *RateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, visitor := range rl.visitors {
				if time.Since(visitor.lastSeen) > rl.cleanup {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimit rejects clients that exceed the limiter's budget with 429
func RateLimit(limiter *RateLimiter, perMinute int) gin.HandlerFunc {
	limit := strconv.Itoa(perMinute)

	return func(c *gin.Context) {
		if !limiter.Allow(getClientKey(c)) {
			c.Header("X-RateLimit-Limit", limit)
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "60")

			utils.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", limit)
		c.Next()
	}
}

func getClientKey(c *gin.Context) string {
	if userID := c.GetString("user_id"); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}
