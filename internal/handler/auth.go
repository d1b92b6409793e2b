package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/therealcybermattlee/ddcharacterbot/internal/httpx"
	"github.com/therealcybermattlee/ddcharacterbot/internal/logging"
	"github.com/therealcybermattlee/ddcharacterbot/internal/middleware"
	"github.com/therealcybermattlee/ddcharacterbot/internal/model"
	"github.com/therealcybermattlee/ddcharacterbot/internal/repository"
	"github.com/therealcybermattlee/ddcharacterbot/internal/service"
)

// requestTimeout bounds the store calls made on behalf of one request.
const requestTimeout = 5 * time.Second

// AuthService is implemented by service.AuthService.
type AuthService interface {
	Register(ctx context.Context, email, username, password string, role model.Role) (*service.Session, error)
	Login(ctx context.Context, email, password string) (*service.Session, error)
	Refresh(ctx context.Context, id model.Identity) (*service.Session, error)
	Logout(ctx context.Context, userID string) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth   AuthService
	Logger *slog.Logger
}

func NewAuthHandler(a AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{Auth: a, Logger: logger}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"` // dm | player | observer, default player
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type meResp struct {
	User         model.Identity `json:"user"`
	SessionSince time.Time      `json:"sessionSince"`
	LastActivity time.Time      `json:"lastActivity"`
}

// Register: create the account and return a token immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return httpx.Fail(c, http.StatusBadRequest, httpx.CodeValidation, "invalid body")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	out, err := h.Auth.Register(ctx, req.Email, req.Username, req.Password, model.Role(req.Role))
	if err != nil {
		return h.fail(c, "register failed", err)
	}
	return httpx.OK(c, http.StatusCreated, out)
}

// Login: verify credentials and open a session.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return httpx.Fail(c, http.StatusBadRequest, httpx.CodeValidation, "invalid body")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	out, err := h.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return h.fail(c, "login failed", err)
	}
	return httpx.OK(c, http.StatusOK, out)
}

// Refresh: issue a new token for the authenticated session (protected).
func (h *AuthHandler) Refresh(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return httpx.Fail(c, http.StatusUnauthorized, httpx.CodeUnauthorized, "Authentication required")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	out, err := h.Auth.Refresh(ctx, id)
	if err != nil {
		return h.fail(c, "refresh failed", err)
	}
	return httpx.OK(c, http.StatusOK, out)
}

// Logout: delete the session, revoking every token of the user (protected).
func (h *AuthHandler) Logout(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return httpx.Fail(c, http.StatusUnauthorized, httpx.CodeUnauthorized, "Authentication required")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.Auth.Logout(ctx, id.UserID); err != nil {
		return h.fail(c, "logout failed", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me: the authenticated identity and its session timestamps (protected).
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return httpx.Fail(c, http.StatusUnauthorized, httpx.CodeUnauthorized, "Authentication required")
	}
	resp := meResp{User: id}
	if rec, ok := middleware.CurrentSession(c); ok {
		resp.SessionSince = rec.CreatedAt
		resp.LastActivity = rec.LastActivity
	}
	return httpx.OK(c, http.StatusOK, resp)
}

func (h *AuthHandler) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	ctx := service.WithClientIP(c.Request().Context(), c.RealIP())
	return context.WithTimeout(ctx, requestTimeout)
}

// fail maps service errors to client-safe responses.  Anything unexpected
// is logged with its detail and answered with a generic 500.
func (h *AuthHandler) fail(c echo.Context, msg string, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return httpx.Fail(c, http.StatusBadRequest, httpx.CodeValidation, verr.Message)
	case errors.Is(err, service.ErrInvalidCredentials):
		return httpx.Fail(c, http.StatusUnauthorized, httpx.CodeInvalidCredentials, "Invalid email or password")
	case errors.Is(err, repository.ErrUserExists):
		return httpx.Fail(c, http.StatusConflict, httpx.CodeUserExists, "Email or username already registered")
	}
	logging.LogError(c.Request().Context(), h.Logger, msg, err, "path", c.Path())
	return httpx.Fail(c, http.StatusInternalServerError, httpx.CodeInternal, "Internal server error")
}
