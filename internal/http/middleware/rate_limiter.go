package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"authz-gateway/internal/gatekeeper"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRetryAfter         = "Retry-After"

	msgRateLimitExceeded = "rate limit exceeded"
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is implemented by the in-process token bucket and the Redis window.
type Limiter interface {
	Decide(ctx context.Context, key string) Decision
}

// RateLimiter implements token bucket rate limiting per identity
type RateLimiter struct {
	limiters sync.Map // key -> *rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter
// requestsPerSecond: number of requests allowed per second
// burst: maximum burst size
func NewRateLimiter(requestsPerSecond int, burst int) *RateLimiter {
	return &RateLimiter{
		rate:  rate.Limit(requestsPerSecond),
		burst: burst,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	limiter, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.rate, rl.burst))
	return limiter.(*rate.Limiter)
}

// Allow checks if a request should be allowed for the given key
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

func (rl *RateLimiter) Decide(_ context.Context, key string) Decision {
	limiter := rl.getLimiter(key)
	if !limiter.Allow() {
		return Decision{Limit: rl.burst, RetryAfter: time.Second}
	}
	return Decision{Allowed: true, Limit: rl.burst, Remaining: int(limiter.Tokens())}
}

// Middleware returns an Echo middleware function for rate limiting
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return LimitMiddleware(rl)
}

// LimitMiddleware keys requests by signed-in subject, falling back to client IP.
func LimitMiddleware(l Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := l.Decide(c.Request().Context(), rateLimitKey(c))

			c.Response().Header().Set(headerRateLimitLimit, strconv.Itoa(d.Limit))
			if !d.Allowed {
				retry := int(d.RetryAfter.Round(time.Second) / time.Second)
				if retry < 1 {
					retry = 1
				}
				c.Response().Header().Set(headerRateLimitRemaining, "0")
				c.Response().Header().Set(headerRetryAfter, strconv.Itoa(retry))

				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": msgRateLimitExceeded,
				})
			}

			c.Response().Header().Set(headerRateLimitRemaining, strconv.Itoa(d.Remaining))
			return next(c)
		}
	}
}

func rateLimitKey(c echo.Context) string {
	if id, err := gatekeeper.GetIdentity(c); err == nil {
		return "subject:" + id.ID
	}
	return "ip:" + c.RealIP()
}

// StrictRateLimiter is a more aggressive rate limiter for sensitive endpoints
type StrictRateLimiter struct {
	*RateLimiter
}

// NewStrictRateLimiter creates a strict rate limiter for sign-in
func NewStrictRateLimiter() *StrictRateLimiter {
	return &StrictRateLimiter{
		RateLimiter: NewRateLimiter(5, 10), // 5 req/sec, burst of 10
	}
}

// GlobalRateLimiter is a lenient rate limiter for general usage
type GlobalRateLimiter struct {
	*RateLimiter
}

// NewGlobalRateLimiter creates a global rate limiter
func NewGlobalRateLimiter() *GlobalRateLimiter {
	return &GlobalRateLimiter{
		RateLimiter: NewRateLimiter(100, 200), // 100 req/sec, burst of 200
	}
}
