package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/therealcybermattlee/ddcharacterbot/internal/httpx"
	"github.com/therealcybermattlee/ddcharacterbot/internal/metrics"
	"github.com/therealcybermattlee/ddcharacterbot/internal/ratelimit"
)

// Limiter is the part of ratelimit.Limiter the middleware needs.
type Limiter interface {
	Check(ctx context.Context, identifier string, limit int, window time.Duration) ratelimit.Result
}

// RateLimitPolicy describes one budget.  Name keeps counters of different
// policies apart; KeyStrategy picks which request attributes identify a
// client (ip, user, route, ip_user, ip_route, user_route, ip_user_route).
type RateLimitPolicy struct {
	Name        string
	Limit       int
	Window      time.Duration
	KeyStrategy string
	Debug       bool
}

// RateLimit returns a middleware that counts requests per client and
// answers 429 RATE_LIMIT_EXCEEDED once the policy's budget is spent.  It
// always sets X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
// A nil limiter disables limiting.
func RateLimit(l Limiter, p RateLimitPolicy, logger *slog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	if l == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(p, c)
			res := l.Check(c.Request().Context(), key, p.Limit, p.Window)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
			if p.Debug {
				h.Set("X-RateLimit-Key", key)
			}

			switch {
			case res.FailedOpen:
				m.RateLimitDecision(metrics.DecisionFailOpen)
			case !res.Allowed:
				m.RateLimitDecision(metrics.DecisionDenied)
				secs := int(math.Ceil(time.Until(res.ResetTime).Seconds()))
				if secs < 0 {
					secs = 0
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				if p.Debug {
					logger.InfoContext(c.Request().Context(), "rate limit block",
						"key", key, "reset", res.ResetTime.Unix())
				}
				return httpx.Fail(c, http.StatusTooManyRequests, httpx.CodeRateLimitExceeded,
					"Too many requests, please try again later")
			default:
				m.RateLimitDecision(metrics.DecisionAllowed)
			}
			return next(c)
		}
	}
}

func buildRateKey(p RateLimitPolicy, c echo.Context) string {
	parts := []string{p.Name}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	// Anonymous callers are told apart by address so user-based strategies
	// never collapse every unauthenticated client into one counter.
	uid, ok := userID(c)
	if !ok {
		uid = "anon:" + ip
	}
	route := c.Request().Method + " " + c.Path()

	switch strings.ToLower(p.KeyStrategy) {
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
	case "ip_user_route":
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	default: // "ip"
		parts = append(parts, "ip", ip)
	}
	return strings.Join(parts, ":")
}
