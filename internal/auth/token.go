package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/therealcybermattlee/ddcharacterbot/internal/model"
)

// TokenType is the "typ" header written into every token.
const TokenType = "TOKEN"

// Claims is the identity payload signed into a token.  Timestamps are Unix
// seconds.  The JSON field names are part of the wire format.
type Claims struct {
	UserID    string     `json:"userId"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	Role      model.Role `json:"role"`
	IssuedAt  int64      `json:"issuedAt"`
	ExpiresAt int64      `json:"expiresAt"`
}

// Identity returns the identity fields of c.
func (c Claims) Identity() model.Identity {
	return model.Identity{UserID: c.UserID, Email: c.Email, Username: c.Username, Role: c.Role}
}

// The methods below satisfy jwt.Claims so the parser can validate expiry
// against our own field names.

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c Claims) GetIssuer() (string, error)              { return "", nil }
func (c Claims) GetSubject() (string, error)             { return c.UserID, nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// TokenSigner issues tokens.
type TokenSigner interface {
	Sign(identity model.Identity, ttl time.Duration) (string, Claims, error)
}

// TokenVerifier checks tokens.  Verify returns false for every kind of
// invalid token; callers cannot and need not tell the cases apart.
type TokenVerifier interface {
	Verify(token string) (Claims, bool)
}

// TokenService signs and verifies HS256 tokens of the form
// base64url(header).base64url(claims).base64url(signature).
type TokenService struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService creates a TokenService that signs with secret.
func NewTokenService(secret []byte, opts ...TokenOption) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	s := &TokenService{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// Sign issues a token for identity that expires ttl from now.  It returns
// the compact token together with the claims that were signed.
func (s *TokenService) Sign(identity model.Identity, ttl time.Duration) (string, Claims, error) {
	if ttl < time.Second {
		return "", Claims{}, ErrInvalidTTL
	}
	if identity.UserID == "" {
		return "", Claims{}, ErrMissingUserID
	}
	if !identity.Role.Valid() {
		return "", Claims{}, ErrInvalidRole
	}

	now := s.now()
	claims := Claims{
		UserID:    identity.UserID,
		Email:     identity.Email,
		Username:  identity.Username,
		Role:      identity.Role,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["typ"] = TokenType

	signed, err := t.SignedString(s.secret)
	if err != nil {
		return "", Claims{}, oops.Code("AUTH_TOKEN_SIGN_FAILED").
			With("user_id", identity.UserID).
			Wrap(err)
	}
	return signed, claims, nil
}

// Verify parses token, checks the HMAC signature in constant time and
// rejects it once expiresAt <= now.
func (s *TokenService) Verify(token string) (Claims, bool) {
	var claims Claims
	parsed, err := s.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, false
	}
	if claims.UserID == "" || claims.ExpiresAt <= claims.IssuedAt || !claims.Role.Valid() {
		return Claims{}, false
	}
	// The parser only rejects once now is past exp; a token is already
	// expired at exp itself.
	if claims.ExpiresAt <= s.now().Unix() {
		return Claims{}, false
	}
	return claims, true
}
