package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iliyamo/sunnah-audio/internal/config"
)

// bucketScript refills and takes one token atomically.
// returns { allowed (0|1), tokens left, retry after ms }
var bucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])
	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 and refill_tokens > 0 then
		local intervals = math.floor(math.max(0, now_ms - last_refill) / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + intervals * refill_tokens)
			last_refill = last_refill + intervals * interval_ms
		end
	end

	local allowed = 0
	local retry_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_ms = math.max(0, interval_ms - (now_ms - last_refill))
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)
	return { allowed, tokens, retry_ms }
`)

// RateLimiter is a per-key token bucket kept in Redis.  When Redis cannot
// be reached it degrades to an in-process limiter per key rather than
// failing open.
type RateLimiter struct {
	cfg config.RateLimitConfig
	rdb redis.Scripter
	log *zap.Logger
	now func() time.Time

	mu    sync.Mutex
	local map[string]*localBucket
}

type localBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

const maxLocalBuckets = 10000

func NewRateLimiter(cfg config.RateLimitConfig, rdb redis.Scripter, log *zap.Logger) *RateLimiter {
	return &RateLimiter{cfg: cfg, rdb: rdb, log: log, now: time.Now, local: map[string]*localBucket{}}
}

// Middleware applies the limiter to the wrapped routes.
func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if !l.cfg.Enabled {
			return next
		}
		return func(c echo.Context) error {
			key := l.key(c)
			allowed, remaining, retry := l.take(c.Request().Context(), key)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if !allowed {
				secs := int(math.Ceil(retry.Seconds()))
				h.Set("Retry-After", strconv.Itoa(secs))
				if l.cfg.Debug {
					l.log.Info("rate limited", zap.String("key", key), zap.Duration("retry", retry))
				}
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests. Please try again later.")
			}
			return next(c)
		}
	}
}

func (l *RateLimiter) take(ctx context.Context, key string) (bool, int64, time.Duration) {
	if l.rdb != nil {
		vals, err := bucketScript.Run(ctx, l.rdb, []string{key},
			l.now().UnixMilli(),
			l.cfg.Capacity,
			l.cfg.RefillTokens,
			l.cfg.RefillInterval.Milliseconds(),
			int64(l.cfg.TTL/time.Second),
		).Int64Slice()
		if err == nil && len(vals) == 3 {
			return vals[0] == 1, vals[1], time.Duration(vals[2]) * time.Millisecond
		}
		l.log.Warn("rate limiter falling back to local buckets", zap.Error(err))
	}
	return l.takeLocal(key)
}

func (l *RateLimiter) takeLocal(key string) (bool, int64, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.local[key]
	if !ok {
		if len(l.local) >= maxLocalBuckets {
			l.prune(now)
		}
		b = &localBucket{lim: rate.NewLimiter(rate.Limit(l.cfg.LocalRPS), l.cfg.LocalBurst)}
		l.local[key] = b
	}
	b.seen = now

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, 0, d
	}
	return true, int64(b.lim.TokensAt(now)), 0
}

// prune drops buckets idle for longer than the Redis TTL.  Caller holds mu.
func (l *RateLimiter) prune(now time.Time) {
	for k, b := range l.local {
		if now.Sub(b.seen) > l.cfg.TTL {
			delete(l.local, k)
		}
	}
}

func (l *RateLimiter) key(c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := userKey(c)
	route := c.Request().Method + " " + c.Path()

	parts := []string{l.cfg.Prefix}
	switch strings.ToLower(l.cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}
