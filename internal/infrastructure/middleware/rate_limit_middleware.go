package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"playloop/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 5 * time.Minute
	limiterSweepEvery = 256
)

type ingestLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ingestLimiters hands out one token bucket per caller key. Buckets idle for
// longer than idleTTL are swept lazily so closed sessions do not accumulate.
type ingestLimiters struct {
	mu      sync.Mutex
	buckets map[string]*ingestLimiter
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	calls   int
}

func newIngestLimiters(limit rate.Limit, burst int, idleTTL time.Duration) *ingestLimiters {
	return &ingestLimiters{
		buckets: make(map[string]*ingestLimiter),
		limit:   limit,
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// reserve takes one token for key and returns how long the caller would have
// to wait for it. A zero wait means the request is admitted.
func (l *ingestLimiters) reserve(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%limiterSweepEvery == 0 {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &ingestLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return l.idleTTL
	}
	wait := r.DelayFrom(now)
	if wait > 0 {
		r.CancelAt(now)
	}
	return wait
}

func (l *ingestLimiters) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

func (l *ingestLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// limiterKey is the session admitted by SessionAuthMiddleware, or the client
// IP when the route is not session scoped.
func limiterKey(c *gin.Context) string {
	if id, ok := SessionID(c); ok {
		return "session:" + string(id)
	}
	return "ip:" + c.ClientIP()
}

// NewHTTPRateLimitMiddleware limits telemetry ingest per session, or per
// client IP before a session exists. MaxConcurrent caps in-flight requests
// across all callers.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return rateLimit(
		newIngestLimiters(rate.Limit(cfg.RateLimiting.RequestsPerSecond), cfg.RateLimiting.Burst, limiterIdleTTL),
		cfg.RateLimiting.MaxConcurrent,
	)
}

func rateLimit(limiters *ingestLimiters, maxConcurrent int) gin.HandlerFunc {
	var inFlight chan struct{}
	if maxConcurrent > 0 {
		inFlight = make(chan struct{}, maxConcurrent)
	}

	return func(c *gin.Context) {
		if inFlight != nil {
			select {
			case inFlight <- struct{}{}:
				defer func() { <-inFlight }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		if wait := limiters.reserve(limiterKey(c)); wait > 0 {
			seconds := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": seconds,
			})
			return
		}
		c.Next()
	}
}
