package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

// Idle callers are forgotten after limiterTTL; the sweep runs every
// sweepInterval.
const (
	limiterTTL    = time.Hour
	sweepInterval = 5 * time.Minute
)

// callerLimiters holds one token bucket per caller.
type callerLimiters struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	*rate.Limiter
	lastSeen time.Time
}

func newCallerLimiters(cfg config.RateLimitConfig) *callerLimiters {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := max(cfg.Burst, 1)
	return &callerLimiters{limit: limit, burst: burst, buckets: make(map[string]*bucket)}
}

// reserve takes a token for caller. It returns zero when the request may
// proceed, otherwise how long the caller should wait.
func (l *callerLimiters) reserve(caller string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[caller]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[caller] = b
	}
	b.lastSeen = now
	if b.AllowN(now, 1) {
		return 0
	}
	r := b.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return max(delay, time.Second)
}

// sweep drops callers idle since before cutoff.
func (l *callerLimiters) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for caller, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, caller)
		}
	}
}

func (l *callerLimiters) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit returns per-caller token-bucket middleware. The caller is the
// API key set by Auth, or the client IP when auth is off. Rejected requests
// get 429 with a Retry-After header.
//
// A background sweep forgets idle callers until ctx is done.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	limiters := newCallerLimiters(cfg)

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limiters.sweep(now.Add(-limiterTTL))
			}
		}
	}()

	return func(c *gin.Context) {
		caller := c.GetString(apiKeyContextKey)
		if caller == "" {
			caller = c.ClientIP()
		}

		if wait := limiters.reserve(caller, time.Now()); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				models.NewErrorResponse(models.ErrCodeRateLimited, "rate limit exceeded, please slow down"))
			return
		}
		c.Next()
	}
}
