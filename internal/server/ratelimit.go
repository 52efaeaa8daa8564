package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	clientIdleTTL   = 10 * time.Minute
	clientSweepTick = 5 * time.Minute
)

// clientBuckets tracks one token bucket per client IP and drops buckets
// that have been idle for clientIdleTTL.
type clientBuckets struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*clientBucket
}

type clientBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newClientBuckets(rps, burst int) *clientBuckets {
	b := &clientBuckets{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*clientBucket),
	}
	go b.sweep()
	return b
}

func (b *clientBuckets) allow(ip string) bool {
	b.mu.Lock()
	entry, ok := b.buckets[ip]
	if !ok {
		entry = &clientBucket{lim: rate.NewLimiter(b.rps, b.burst)}
		b.buckets[ip] = entry
	}
	entry.lastSeen = time.Now()
	b.mu.Unlock()

	return entry.lim.Allow()
}

func (b *clientBuckets) sweep() {
	for range time.Tick(clientSweepTick) {
		b.mu.Lock()
		for ip, entry := range b.buckets {
			if time.Since(entry.lastSeen) > clientIdleTTL {
				delete(b.buckets, ip)
			}
		}
		b.mu.Unlock()
	}
}

// RateLimiter returns a middleware enforcing a per-IP token bucket with the
// given steady rate and burst.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	buckets := newClientBuckets(rps, burst)

	return func(c *gin.Context) {
		if !buckets.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
