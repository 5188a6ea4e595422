package middleware

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures the Redis-backed per-customer RPS limiter.
type RateLimitConfig struct {
	Redis          *redis.Client
	DefaultRPS     int           // fallback when the customer row carries no rate_limit_rps
	KeyPrefix      string        // e.g. "rl:cust:"
	Window         time.Duration // usually 1s
	RetryAfterHint bool          // set Retry-After when limited
}

// RateLimitMiddleware applies a fixed-window per-customer RPS limit. It runs
// after APIKeyMiddleware and falls open: anonymous requests, a missing limit
// or an unreachable Redis all pass through. Tracking APIs must not drop
// billable confirmations because the limiter's backing store hiccuped.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:cust:"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			custID, ok := CustomerIDFromCtx(c)
			if !ok || custID <= 0 {
				return next(c)
			}

			limit := cfg.DefaultRPS
			if v := c.Get("customer_rps"); v != nil {
				if m, ok := v.(int); ok && m > 0 {
					limit = m
				}
			}
			if limit <= 0 || cfg.Redis == nil {
				return next(c)
			}

			// fixed-window key: rl:cust:{id}:{unix_sec}
			now := time.Now()
			key := cfg.KeyPrefix + strconv.FormatInt(custID, 10) + ":" + strconv.FormatInt(now.Unix(), 10)

			pipe := cfg.Redis.Pipeline()
			cnt := pipe.Incr(c.Request().Context(), key)
			pipe.Expire(c.Request().Context(), key, cfg.Window*2)
			if _, err := pipe.Exec(c.Request().Context()); err != nil {
				return next(c)
			}

			if cnt.Val() > int64(limit) {
				if cfg.RetryAfterHint {
					remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
					if remain > 0 {
						c.Response().Header().Set("Retry-After", strconv.Itoa(int(remain.Round(time.Second)/time.Second)))
					}
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}
