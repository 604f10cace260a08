package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

// ClientIDHeader identifies the integrating chat service. Requests without
// it are keyed by remote IP.
const ClientIDHeader = "X-Client-ID"

// ErrNoRateLimitStore is returned when no Redis client is configured.
var ErrNoRateLimitStore = errors.New("redis client is nil")

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	Resource string
	Limit    int
	Window   time.Duration
	Policy   FailPolicy
	// Disabled bypasses the limiter entirely (development and test profiles).
	Disabled bool
}

// RateLimitDisabledFor reports whether env is a profile where requests are
// never throttled.
func RateLimitDisabledFor(env string) bool {
	switch env {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

// CheckRateLimit counts one hit for resource/id in a fixed window.
// It returns whether the hit is allowed and how many hits remain.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, int, error) {
	if rdb == nil {
		return false, 0, ErrNoRateLimitStore
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if cnt == 1 {
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}

	remaining := limit - int(cnt)
	if remaining < 0 {
		remaining = 0
	}
	return cnt <= int64(limit), remaining, nil
}

// RateLimit returns a Fiber middleware enforcing cfg.Limit requests per
// cfg.Window per client.
func RateLimit(rdb *redis.Client, cfg RateLimitConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Disabled || cfg.Limit <= 0 {
			return c.Next()
		}

		id := "ip:" + c.IP()
		if client := c.Get(ClientIDHeader); client != "" {
			id = "client:" + client
		}

		resource := cfg.Resource
		if resource == "" {
			resource = c.Path()
		}

		allowed, remaining, err := CheckRateLimit(c.UserContext(), rdb, resource, id, cfg.Limit, cfg.Window)
		if err != nil {
			if cfg.Policy == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limit fail-closed",
					"resource", resource, "error", err.Error())
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "rate limit unavailable",
				})
			}
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
