package middleware

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultRedisPrefix  = "authz:rl:"
	redisLimiterTimeout = 500 * time.Millisecond
)

// fixedWindowScript counts hits in a window that starts with the first hit.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter shares a fixed-window limit across gateway replicas. When Redis
// cannot answer it defers to Fallback.
type RedisLimiter struct {
	client   redis.Scripter
	limit    int
	window   time.Duration
	prefix   string
	fallback Limiter
	log      zerolog.Logger
}

func NewRedisLimiter(client redis.Scripter, limit int, window time.Duration, fallback Limiter, log zerolog.Logger) *RedisLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client:   client,
		limit:    limit,
		window:   window,
		prefix:   defaultRedisPrefix,
		fallback: fallback,
		log:      log,
	}
}

func (l *RedisLimiter) Decide(ctx context.Context, key string) Decision {
	ctx, cancel := context.WithTimeout(ctx, redisLimiterTimeout)
	defer cancel()

	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil || len(res) < 2 {
		l.log.Warn().Err(err).Msg("redis rate limiter unavailable, using fallback")
		return l.fallbackDecide(ctx, key)
	}

	count, ttlMs := int(res[0]), res[1]
	if ttlMs < 0 {
		ttlMs = l.window.Milliseconds()
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:    count <= l.limit,
		Limit:      l.limit,
		Remaining:  remaining,
		RetryAfter: time.Duration(ttlMs) * time.Millisecond,
	}
}

func (l *RedisLimiter) fallbackDecide(ctx context.Context, key string) Decision {
	if l.fallback == nil {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}
	return l.fallback.Decide(ctx, key)
}

func (l *RedisLimiter) Middleware() echo.MiddlewareFunc {
	return LimitMiddleware(l)
}
