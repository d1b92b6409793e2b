// Package service implements the account flows that sit between the HTTP
// handlers and the stores: registration, login with credential migration,
// token refresh and logout.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	"github.com/therealcybermattlee/ddcharacterbot/internal/auth"
	"github.com/therealcybermattlee/ddcharacterbot/internal/logging"
	"github.com/therealcybermattlee/ddcharacterbot/internal/metrics"
	"github.com/therealcybermattlee/ddcharacterbot/internal/model"
	"github.com/therealcybermattlee/ddcharacterbot/internal/queue"
	"github.com/therealcybermattlee/ddcharacterbot/internal/repository"
	"github.com/therealcybermattlee/ddcharacterbot/internal/session"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// ErrInvalidCredentials is returned by Login for an unknown email or a
// wrong password.  The two cases are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ValidationError reports a malformed request field.  Message is safe to
// show to the client.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UserStore is the persistence the auth flows need.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateCredential(ctx context.Context, id, credential string) error
}

// SessionStore is the session persistence the auth flows need.
type SessionStore interface {
	Create(ctx context.Context, userID string, rec session.Record, ttl time.Duration) error
	Update(ctx context.Context, userID string, patch session.Patch) error
	Delete(ctx context.Context, userID string) error
}

// AuthDeps wires an AuthService.  Events, Metrics and Logger are optional.
type AuthDeps struct {
	Users      UserStore
	Sessions   SessionStore
	Passwords  auth.PasswordHasher
	Tokens     auth.TokenSigner
	Events     queue.Publisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	TokenTTL   time.Duration
	SessionTTL time.Duration
}

// AuthService runs the account flows.
type AuthService struct {
	AuthDeps
}

// Session is what a successful register, login or refresh hands back.
type Session struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      model.Identity `json:"user"`
}

func NewAuthService(deps AuthDeps) *AuthService {
	if deps.Events == nil {
		deps.Events = queue.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &AuthService{AuthDeps: deps}
}

type clientIPKey struct{}

// WithClientIP records the caller's address for audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// Register creates an account with a fresh scrypt credential and opens its
// first session.  An empty role defaults to player.
func (s *AuthService) Register(ctx context.Context, email, username, password string, role model.Role) (*Session, error) {
	email = repository.NormalizeEmail(email)
	username = strings.TrimSpace(username)
	if role == "" {
		role = model.RolePlayer
	}
	if err := validateRegistration(email, username, password, role); err != nil {
		return nil, err
	}

	credential, err := s.Passwords.Hash(password)
	if err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").With("stage", "hash").Wrap(err)
	}
	u := &model.User{Email: email, Username: username, Role: role, PasswordHash: credential}
	if err := s.Users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, err
		}
		return nil, oops.Code("USER_CREATE_FAILED").With("stage", "insert").Wrap(err)
	}

	out, err := s.open(ctx, u.Identity())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, queue.EventUserRegistered, u.ID, u.Email)
	return out, nil
}

// registration carries the validation rules for Register.
type registration struct {
	Email    string `validate:"required,email,max=254"`
	Username string `validate:"required,max=50"`
	Password string `validate:"min=8"`
	Role     string `validate:"oneof=dm player observer"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateRegistration(email, username, password string, role model.Role) error {
	err := validate.Struct(registration{Email: email, Username: username, Password: password, Role: string(role)})
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return invalid(field, "%s is required", field)
	case "email":
		return invalid(field, "email is not a valid address")
	case "max":
		return invalid(field, "%s must be at most %s characters", field, fe.Param())
	case "min":
		return invalid(field, "%s must be at least %d characters", field, MinPasswordLength)
	case "oneof":
		return invalid(field, "role must be one of dm, player, observer")
	}
	return invalid(field, "%s is invalid", field)
}

// Login checks email and password and opens a session.  A verification
// always runs, against a dummy credential for unknown emails, so timing
// does not reveal which accounts exist.  A legacy credential that verifies
// is re-hashed with scrypt; failing to store the new credential is logged
// and does not fail the login.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = repository.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalid("credentials", "email and password are required")
	}

	u, err := s.Users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, oops.Code("USER_LOOKUP_FAILED").Wrap(err)
	}

	credential := auth.DummyCredential
	if u != nil {
		credential = u.PasswordHash
	}
	if !s.Passwords.Verify(password, credential) || u == nil {
		s.publish(ctx, queue.EventLoginFailed, "", email)
		return nil, ErrInvalidCredentials
	}

	if s.Passwords.NeedsUpgrade(u.PasswordHash) {
		s.migrate(ctx, u, password)
	}

	out, err := s.open(ctx, u.Identity())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, queue.EventUserLogin, u.ID, u.Email)
	return out, nil
}

func (s *AuthService) migrate(ctx context.Context, u *model.User, password string) {
	from := auth.FormatOf(u.PasswordHash)
	credential, err := s.Passwords.Hash(password)
	if err == nil {
		err = s.Users.UpdateCredential(ctx, u.ID, credential)
	}
	if err != nil {
		s.Metrics.Migration(metrics.MigrationFailed)
		logging.LogWarn(ctx, s.Logger, "credential migration failed", err,
			"user_id", u.ID, "from", string(from))
		return
	}
	u.PasswordHash = credential
	s.Metrics.Migration(metrics.MigrationSucceeded)
	s.Logger.InfoContext(ctx, "credential migrated", "user_id", u.ID, "from", string(from))
	s.publish(ctx, queue.EventCredentialMigrated, u.ID, u.Email)
}

// Refresh issues a new token for an authenticated identity and slides its
// session TTL.
func (s *AuthService) Refresh(ctx context.Context, id model.Identity) (*Session, error) {
	token, claims, err := s.Tokens.Sign(id, s.TokenTTL)
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.Update(ctx, id.UserID, session.Patch{}); err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: time.Unix(claims.ExpiresAt, 0).UTC(), User: id}, nil
}

// Logout deletes the user's session, revoking every token issued to them.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.Sessions.Delete(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, queue.EventUserLogout, userID, "")
	return nil
}

// open signs a token and writes the session record that makes it usable.
func (s *AuthService) open(ctx context.Context, id model.Identity) (*Session, error) {
	token, claims, err := s.Tokens.Sign(id, s.TokenTTL)
	if err != nil {
		return nil, err
	}
	rec := session.Record{Email: id.Email, Username: id.Username, Role: id.Role}
	if err := s.Sessions.Create(ctx, id.UserID, rec, s.SessionTTL); err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: time.Unix(claims.ExpiresAt, 0).UTC(), User: id}, nil
}

func (s *AuthService) publish(ctx context.Context, typ queue.EventType, userID, email string) {
	ev := queue.NewAuthEvent(typ, userID, email, clientIP(ctx))
	if err := s.Events.Publish(ctx, ev); err != nil {
		logging.LogWarn(ctx, s.Logger, "audit publish failed", err, "event_type", string(typ))
	}
}
