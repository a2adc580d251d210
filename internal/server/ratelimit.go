package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleEviction = 10 * time.Minute

type actorLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a per-actor token bucket to mutating routes. Entries
// for idle actors are evicted lazily on the next sweep.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu        sync.Mutex
	limiters  map[string]*actorLimiter
	lastSweep time.Time
	clock     func() time.Time
}

// NewRateLimiter constructs a per-actor rate limiter.
func NewRateLimiter(perSecond float64, burst int, clock func() time.Time) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		limiters:  make(map[string]*actorLimiter),
		lastSweep: clock(),
		clock:     clock,
	}
}

// Middleware returns the gin handler enforcing the limit. It must run after
// the authorization middleware that resolves the actor.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString(actorContextKey)
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !rl.allow(actor) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(actor string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	if now.Sub(rl.lastSweep) > limiterIdleEviction {
		for key, entry := range rl.limiters {
			if now.Sub(entry.lastAccess) > limiterIdleEviction {
				delete(rl.limiters, key)
			}
		}
		rl.lastSweep = now
	}

	entry, ok := rl.limiters[actor]
	if !ok {
		entry = &actorLimiter{limiter: rate.NewLimiter(rl.perSecond, rl.burst)}
		rl.limiters[actor] = entry
	}
	entry.lastAccess = now
	return entry.limiter.Allow()
}
