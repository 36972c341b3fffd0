package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	buckets map[string]*visitor
	lastGC  time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewIPRateLimiter allows perMinute requests per IP with a burst of the same
// size. Buckets idle for ten minutes are forgotten.
func NewIPRateLimiter(perMinute int) *IPRateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &IPRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		idle:    10 * time.Minute,
		buckets: make(map[string]*visitor),
	}
}

// GinMiddleware returns gin handler enforcing per-IP limits.
func (l *IPRateLimiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.Allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false, "error": "rate_limited", "message": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// Allow consumes one token for key.
func (l *IPRateLimiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	v, ok := l.buckets[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = v
	}
	v.seen = now
	if now.Sub(l.lastGC) > l.idle {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.idle {
				delete(l.buckets, k)
			}
		}
		l.lastGC = now
	}
	l.mu.Unlock()
	return v.lim.AllowN(now, 1)
}
