package router_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealcybermattlee/ddcharacterbot/internal/auth"
	"github.com/therealcybermattlee/ddcharacterbot/internal/config"
	"github.com/therealcybermattlee/ddcharacterbot/internal/handler"
	"github.com/therealcybermattlee/ddcharacterbot/internal/httpx"
	"github.com/therealcybermattlee/ddcharacterbot/internal/metrics"
	"github.com/therealcybermattlee/ddcharacterbot/internal/model"
	"github.com/therealcybermattlee/ddcharacterbot/internal/ratelimit"
	"github.com/therealcybermattlee/ddcharacterbot/internal/repository"
	"github.com/therealcybermattlee/ddcharacterbot/internal/router"
	"github.com/therealcybermattlee/ddcharacterbot/internal/service"
	"github.com/therealcybermattlee/ddcharacterbot/internal/session"
	"github.com/therealcybermattlee/ddcharacterbot/internal/testutil"
)

// memUsers is an in-memory UserStore keyed by email.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Email]; ok {
		return repository.ErrUserExists
	}
	u.ID = "user-" + u.Email
	cp := *u
	m.users[u.Email] = &cp
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpdateCredential(_ context.Context, id, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			u.PasswordHash = credential
			return nil
		}
	}
	return repository.ErrNotFound
}

func newServer(t *testing.T, rl config.RateLimitConfig) *echo.Echo {
	t.Helper()
	_, rdb := testutil.NewRedis(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tokens, err := auth.NewTokenService([]byte("router-test-secret-0123456789abcdef"))
	require.NoError(t, err)
	sessions := session.NewStore(rdb, time.Hour)
	svc := service.NewAuthService(service.AuthDeps{
		Users:      &memUsers{users: map[string]*model.User{}},
		Sessions:   sessions,
		Passwords:  auth.NewPasswordService(),
		Tokens:     tokens,
		Metrics:    m,
		TokenTTL:   15 * time.Minute,
		SessionTTL: time.Hour,
	})

	e := echo.New()
	d := router.Deps{
		Auth:      handler.NewAuthHandler(svc, nil),
		Tokens:    tokens,
		Sessions:  sessions,
		Limiter:   ratelimit.New(rdb),
		RateLimit: rl,
		Metrics:   m,
		Gatherer:  reg,
	}
	router.RegisterRoutes(e, d)
	router.RegisterAuth(e, d)
	return e
}

func defaultLimits() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:     true,
		Limit:       100,
		Window:      time.Minute,
		AuthLimit:   10,
		AuthWindow:  15 * time.Minute,
		KeyStrategy: "ip",
	}
}

func call(t *testing.T, e *echo.Echo, method, path, token, body string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env httpx.Envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func tokenOf(t *testing.T, env httpx.Envelope) string {
	t.Helper()
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	tok, ok := data["token"].(string)
	require.True(t, ok)
	return tok
}

func TestSessionLifecycle(t *testing.T) {
	e := newServer(t, defaultLimits())

	rec, env := call(t, e, http.MethodPost, "/v1/auth/register", "",
		`{"email":"quill@example.com","username":"Quill","password":"correct horse","role":"dm"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	token := tokenOf(t, env)

	rec, env = call(t, e, http.MethodGet, "/v1/me", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	user := env.Data.(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "quill@example.com", user["email"])
	assert.Equal(t, "dm", user["role"])

	rec, env = call(t, e, http.MethodPost, "/v1/auth/login", "", `{"email":"quill@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	token = tokenOf(t, env)

	rec, env = call(t, e, http.MethodPost, "/v1/auth/refresh", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := tokenOf(t, env)

	rec, _ = call(t, e, http.MethodPost, "/v1/auth/logout", refreshed, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Both tokens are still cryptographically valid but the session is gone.
	for _, tok := range []string{token, refreshed} {
		rec, env = call(t, e, http.MethodGet, "/v1/me", tok, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, httpx.CodeSessionExpired, env.Error.Code)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	e := newServer(t, defaultLimits())

	for _, path := range []string{"/v1/me", "/v1/auth/refresh", "/v1/auth/logout"} {
		method := http.MethodPost
		if path == "/v1/me" {
			method = http.MethodGet
		}
		rec, env := call(t, e, method, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, httpx.CodeUnauthorized, env.Error.Code, path)
	}

	rec, env := call(t, e, http.MethodGet, "/v1/me", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httpx.CodeInvalidToken, env.Error.Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	rl := defaultLimits()
	rl.AuthLimit = 2
	e := newServer(t, rl)

	body := `{"email":"nobody@example.com","password":"guess"}`
	for i := 0; i < 2; i++ {
		rec, env := call(t, e, http.MethodPost, "/v1/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, httpx.CodeInvalidCredentials, env.Error.Code)
	}

	rec, env := call(t, e, http.MethodPost, "/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, httpx.CodeRateLimitExceeded, env.Error.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
}

func TestUserKeyedLimitSeparatesAnonymousClients(t *testing.T) {
	rl := defaultLimits()
	rl.Limit = 2
	rl.KeyStrategy = "user"
	e := newServer(t, rl)

	for i, addr := range []string{"10.0.0.1:5100", "10.0.0.2:5100", "10.0.0.3:5100"} {
		body := fmt.Sprintf(`{"email":"adventurer%d@example.com","username":"Adventurer %d","password":"correct horse"}`, i, i)
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code, addr)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	rl := defaultLimits()
	rl.Enabled = false
	rl.AuthLimit = 1
	e := newServer(t, rl)

	for i := 0; i < 3; i++ {
		rec, _ := call(t, e, http.MethodPost, "/v1/auth/login", "", `{"email":"nobody@example.com","password":"guess"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	e := newServer(t, defaultLimits())

	rec, _ := call(t, e, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	_, _ = call(t, e, http.MethodGet, "/v1/me", "", "")
	rec, _ = call(t, e, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ddcb_auth_requests_total{outcome="unauthorized"} 1`)
	assert.Contains(t, rec.Body.String(), `ddcb_ratelimit_decisions_total{decision="allowed"} 1`)
}
