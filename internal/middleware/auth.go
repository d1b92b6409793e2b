package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/therealcybermattlee/ddcharacterbot/internal/auth"
	"github.com/therealcybermattlee/ddcharacterbot/internal/httpx"
	"github.com/therealcybermattlee/ddcharacterbot/internal/logging"
	"github.com/therealcybermattlee/ddcharacterbot/internal/metrics"
	"github.com/therealcybermattlee/ddcharacterbot/internal/session"
)

// Sessions is the part of session.Store the auth middleware needs.
type Sessions interface {
	Get(ctx context.Context, userID string) (*session.Record, error)
	Touch(ctx context.Context, userID string) (*session.Record, error)
}

// AuthConfig wires Authenticate to its collaborators.  Logger and Metrics
// are optional.
type AuthConfig struct {
	Tokens   auth.TokenVerifier
	Sessions Sessions
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// authState is where a request ended up in the authentication decision.
type authState string

const (
	stateNoHeader      authState = "no-header"
	stateInvalidToken  authState = "invalid-token" // malformed, bad signature or expired
	stateNoSession     authState = "no-session"
	stateStoreError    authState = "store-error"
	stateAuthenticated authState = "authenticated"
)

// Authenticate returns a middleware that requires a valid Bearer token
// backed by a live session.  Every failure ends the request with 401 and a
// stable code:
//
//	missing or malformed header      UNAUTHORIZED
//	token fails verification         INVALID_TOKEN
//	no session for the token's user  SESSION_EXPIRED
//	session store unavailable        UNAUTHORIZED (fails closed)
//
// On success the session's lastActivity is bumped, the identity is put on
// the echo context and the request context, and next runs.
func Authenticate(cfg AuthConfig) echo.MiddlewareFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return reject(c, cfg.Metrics, stateNoHeader)
			}

			claims, ok := cfg.Tokens.Verify(raw)
			if !ok {
				return reject(c, cfg.Metrics, stateInvalidToken)
			}

			rec, err := cfg.Sessions.Get(ctx, claims.UserID)
			if err != nil {
				if errors.Is(err, session.ErrNotFound) {
					return reject(c, cfg.Metrics, stateNoSession)
				}
				logging.LogError(ctx, logger, "session lookup failed, denying request", err,
					"user_id", claims.UserID, "path", c.Path())
				return reject(c, cfg.Metrics, stateStoreError)
			}

			// The decision is already made; a failed activity bump only
			// shortens the sliding TTL.
			if touched, err := cfg.Sessions.Touch(ctx, claims.UserID); err != nil {
				logging.LogWarn(ctx, logger, "session activity update failed", err,
					"user_id", claims.UserID)
			} else {
				rec = touched
			}

			setIdentity(c, rec)
			cfg.Metrics.AuthOutcome(metrics.OutcomeAuthenticated)
			return next(c)
		}
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.  The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	const scheme = "Bearer "
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", false
	}
	token := strings.TrimSpace(header[len(scheme):])
	return token, token != ""
}

func reject(c echo.Context, m *metrics.Metrics, state authState) error {
	switch state {
	case stateInvalidToken:
		m.AuthOutcome(metrics.OutcomeInvalidToken)
		return httpx.Fail(c, http.StatusUnauthorized, httpx.CodeInvalidToken, "Invalid or expired token")
	case stateNoSession:
		m.AuthOutcome(metrics.OutcomeSessionExpired)
		return httpx.Fail(c, http.StatusUnauthorized, httpx.CodeSessionExpired, "Session expired, please log in again")
	case stateStoreError:
		m.AuthOutcome(metrics.OutcomeStoreError)
		return httpx.Fail(c, http.StatusUnauthorized, httpx.CodeUnauthorized, "Authentication required")
	default:
		m.AuthOutcome(metrics.OutcomeUnauthorized)
		return httpx.Fail(c, http.StatusUnauthorized, httpx.CodeUnauthorized, "Authentication required")
	}
}
