package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/therealcybermattlee/ddcharacterbot/internal/httpx"
	"github.com/therealcybermattlee/ddcharacterbot/internal/model"
)

// RequireRole returns a middleware that only lets through users whose
// session role is one of roles.  It must run after Authenticate; without
// an identity on the context the request is treated as forbidden.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[string(r)] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(ctxKeyRole).(string)
			if !ok || !allowed[role] {
				return httpx.Fail(c, http.StatusForbidden, httpx.CodeForbidden, "Insufficient permissions")
			}
			return next(c)
		}
	}
}
