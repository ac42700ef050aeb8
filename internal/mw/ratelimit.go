package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// DeviceHeader is the header devices use to identify themselves.
const DeviceHeader = "X-Device-Id"

// KeyFunc picks the bucket a request is limited under.
type KeyFunc func(c *gin.Context) string

// ClientKey limits by client IP.
func ClientKey(c *gin.Context) string {
	return c.ClientIP()
}

// DeviceOrClientKey limits by device id when the request names one, so
// devices sharing a NAT address get their own buckets.
func DeviceOrClientKey(c *gin.Context) string {
	if id := c.GetHeader(DeviceHeader); id != "" {
		return c.ClientIP() + "|" + id
	}
	return c.ClientIP()
}

// Limiters holds one token bucket per key. Buckets idle for longer than the
// idle window are evicted.
type Limiters struct {
	mu      sync.Mutex
	buckets *cache.Cache
	r       rate.Limit
	b       int
	idle    time.Duration
}

// NewLimiters creates a limiter set allowing r events per second with burst b.
func NewLimiters(r rate.Limit, b int, idle time.Duration) *Limiters {
	return &Limiters{
		buckets: cache.New(idle, idle),
		r:       r,
		b:       b,
		idle:    idle,
	}
}

// Get returns the bucket for key, creating it if needed, and refreshes its
// idle deadline.
func (l *Limiters) Get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.buckets.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
	}
	l.buckets.Set(key, limiter, l.idle)
	return limiter.(*rate.Limiter)
}

// Len reports how many buckets are held, expired ones included until the
// next cleanup.
func (l *Limiters) Len() int {
	return l.buckets.ItemCount()
}

// RateLimiter is a middleware limiting requests per key.
func RateLimiter(limiters *Limiters, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiters.Get(key(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
