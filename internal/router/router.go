// Package router registers the HTTP routes and the middleware each group
// runs behind.
package router

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/therealcybermattlee/ddcharacterbot/internal/auth"
	"github.com/therealcybermattlee/ddcharacterbot/internal/config"
	"github.com/therealcybermattlee/ddcharacterbot/internal/handler"
	"github.com/therealcybermattlee/ddcharacterbot/internal/metrics"
	"github.com/therealcybermattlee/ddcharacterbot/internal/middleware"
	"github.com/therealcybermattlee/ddcharacterbot/internal/model"
)

// Deps collects what the routes need.  A nil Limiter disables rate
// limiting; a nil Gatherer leaves /metrics unregistered.
type Deps struct {
	Auth      *handler.AuthHandler
	Tokens    auth.TokenVerifier
	Sessions  middleware.Sessions
	Limiter   middleware.Limiter
	RateLimit config.RateLimitConfig
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Ready     map[string]handler.Pinger
	Logger    *slog.Logger
}

// RegisterRoutes registers operational endpoints that sit outside the
// versioned API and are never rate limited.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	if d.Ready != nil {
		e.GET("/readyz", handler.Ready(d.Ready))
	}
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
}

// RegisterAuth registers the /v1 API.  Every /v1 request passes the
// general rate limit first; register and login additionally pass a
// stricter per-IP budget.  Refresh, logout and /v1/me require a valid
// token backed by a live session.
func RegisterAuth(e *echo.Echo, d Deps) {
	limiter := d.Limiter
	if !d.RateLimit.Enabled {
		limiter = nil
	}
	general := middleware.RateLimit(limiter, middleware.RateLimitPolicy{
		Name:        "api",
		Limit:       d.RateLimit.Limit,
		Window:      d.RateLimit.Window,
		KeyStrategy: d.RateLimit.KeyStrategy,
		Debug:       d.RateLimit.Debug,
	}, d.Logger, d.Metrics)
	strict := middleware.RateLimit(limiter, middleware.RateLimitPolicy{
		Name:        "auth",
		Limit:       d.RateLimit.AuthLimit,
		Window:      d.RateLimit.AuthWindow,
		KeyStrategy: "ip",
		Debug:       d.RateLimit.Debug,
	}, d.Logger, d.Metrics)
	authn := middleware.Authenticate(middleware.AuthConfig{
		Tokens:   d.Tokens,
		Sessions: d.Sessions,
		Logger:   d.Logger,
		Metrics:  d.Metrics,
	})

	v1 := e.Group("/v1", general)

	g := v1.Group("/auth")
	g.POST("/register", d.Auth.Register, strict)
	g.POST("/login", d.Auth.Login, strict)
	g.POST("/refresh", d.Auth.Refresh, authn)
	g.POST("/logout", d.Auth.Logout, authn)

	v1.GET("/me", d.Auth.Me, authn, middleware.RequireRole(model.RoleDM, model.RolePlayer, model.RoleObserver))
}
