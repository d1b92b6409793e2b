package middleware

// identity.go carries the authenticated identity between the auth
// middleware and downstream handlers.  It is stored twice: on the echo
// context for handlers, and on the request's context.Context for code that
// only sees a ctx (services, repositories).

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/therealcybermattlee/ddcharacterbot/internal/model"
	"github.com/therealcybermattlee/ddcharacterbot/internal/session"
)

// Echo context keys set by Authenticate.  "user_id" and "role" keep the
// plain-string form RequireRole and the rate limiter read.
const (
	ctxKeyIdentity = "identity"
	ctxKeySession  = "session"
	ctxKeyUserID   = "user_id"
	ctxKeyRole     = "role"
)

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(model.Identity)
	return id, ok
}

// CurrentIdentity returns the identity Authenticate attached to c.
func CurrentIdentity(c echo.Context) (model.Identity, bool) {
	id, ok := c.Get(ctxKeyIdentity).(model.Identity)
	return id, ok
}

// CurrentSession returns the session record Authenticate attached to c.
func CurrentSession(c echo.Context) (*session.Record, bool) {
	rec, ok := c.Get(ctxKeySession).(*session.Record)
	return rec, ok && rec != nil
}

func setIdentity(c echo.Context, rec *session.Record) {
	id := rec.Identity()
	c.Set(ctxKeyIdentity, id)
	c.Set(ctxKeySession, rec)
	c.Set(ctxKeyUserID, id.UserID)
	c.Set(ctxKeyRole, string(id.Role))
	c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
}

// userID returns the authenticated user's id.  It reports false before
// authentication has run.
func userID(c echo.Context) (string, bool) {
	v, ok := c.Get(ctxKeyUserID).(string)
	return v, ok && v != ""
}
