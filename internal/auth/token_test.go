package auth_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealcybermattlee/ddcharacterbot/internal/auth"
	"github.com/therealcybermattlee/ddcharacterbot/internal/model"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTokenService(t *testing.T) (*auth.TokenService, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	svc, err := auth.NewTokenService(testSecret, auth.WithClock(clock.Now))
	require.NoError(t, err)
	return svc, clock
}

func sampleIdentity() model.Identity {
	return model.Identity{
		UserID:   "6f1c1c52-3b0e-4b8e-9a55-2f8b0c3f9d10",
		Email:    "mira@example.com",
		Username: "mira",
		Role:     model.RolePlayer,
	}
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	svc, err := auth.NewTokenService(nil)
	assert.ErrorIs(t, err, auth.ErrEmptySecret)
	assert.Nil(t, svc)
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc, clock := newTokenService(t)

	token, signed, err := svc.Sign(sampleIdentity(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))
	assert.Equal(t, clock.Now().Unix(), signed.IssuedAt)
	assert.Equal(t, clock.Now().Add(time.Hour).Unix(), signed.ExpiresAt)

	got, ok := svc.Verify(token)
	require.True(t, ok)
	assert.Equal(t, signed, got)
	assert.Equal(t, sampleIdentity(), got.Identity())
}

func TestTokenService_WireFormat(t *testing.T) {
	svc, _ := newTokenService(t)

	token, _, err := svc.Sign(sampleIdentity(), time.Minute)
	require.NoError(t, err)

	segments := strings.Split(token, ".")
	require.Len(t, segments, 3)
	for _, seg := range segments {
		assert.NotContains(t, seg, "=", "segments are unpadded")
		assert.NotContains(t, seg, "+")
		assert.NotContains(t, seg, "/")
	}

	header, err := base64.RawURLEncoding.DecodeString(segments[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"alg":"HS256","typ":"TOKEN"}`, string(header))

	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	for _, key := range []string{"userId", "email", "username", "role", "issuedAt", "expiresAt"} {
		assert.Contains(t, fields, key)
	}
}

func TestTokenService_UnicodePayload(t *testing.T) {
	svc, _ := newTokenService(t)

	id := sampleIdentity()
	id.Username = "Ærwyn Þórsdóttir 🐉 龍"

	token, _, err := svc.Sign(id, time.Minute)
	require.NoError(t, err)

	got, ok := svc.Verify(token)
	require.True(t, ok)
	assert.Equal(t, id.Username, got.Username)
}

func TestTokenService_TamperDetection(t *testing.T) {
	svc, _ := newTokenService(t)

	token, _, err := svc.Sign(sampleIdentity(), time.Hour)
	require.NoError(t, err)

	segments := strings.Split(token, ".")
	sig, err := base64.RawURLEncoding.DecodeString(segments[2])
	require.NoError(t, err)

	for i := 0; i < len(sig)*8; i++ {
		flipped := append([]byte(nil), sig...)
		flipped[i/8] ^= 1 << (i % 8)
		forged := segments[0] + "." + segments[1] + "." + base64.RawURLEncoding.EncodeToString(flipped)

		_, ok := svc.Verify(forged)
		require.False(t, ok, "bit %d flipped must not verify", i)
	}
}

func TestTokenService_RejectsModifiedClaims(t *testing.T) {
	svc, _ := newTokenService(t)

	token, signed, err := svc.Sign(sampleIdentity(), time.Hour)
	require.NoError(t, err)
	segments := strings.Split(token, ".")

	signed.Role = model.RoleDM
	payload, err := json.Marshal(signed)
	require.NoError(t, err)
	forged := segments[0] + "." + base64.RawURLEncoding.EncodeToString(payload) + "." + segments[2]

	_, ok := svc.Verify(forged)
	assert.False(t, ok)
}

func TestTokenService_Expiry(t *testing.T) {
	svc, clock := newTokenService(t)
	start := clock.Now()

	token, _, err := svc.Sign(sampleIdentity(), 60*time.Second)
	require.NoError(t, err)

	clock.t = start.Add(30 * time.Second)
	_, ok := svc.Verify(token)
	assert.True(t, ok, "valid at +30s")

	clock.t = start.Add(60 * time.Second)
	_, ok = svc.Verify(token)
	assert.False(t, ok, "expiresAt <= now is expired")

	clock.t = start.Add(61 * time.Second)
	_, ok = svc.Verify(token)
	assert.False(t, ok, "expired at +61s")
}

func TestTokenService_RejectsInvalidInput(t *testing.T) {
	svc, _ := newTokenService(t)
	other, err := auth.NewTokenService([]byte("a-completely-different-secret-value"))
	require.NoError(t, err)

	foreign, _, err := other.Sign(sampleIdentity(), time.Hour)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":             "",
		"one segment":       "abc",
		"two segments":      "abc.def",
		"four segments":     "a.b.c.d",
		"bad base64":        "!!!.???.***",
		"not json":          base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".e30.e30",
		"wrong secret":      foreign,
		"alg none":          base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"TOKEN"}`)) + ".e30.",
		"padded base64 sig": strings.Repeat("a", 10) + ".e30.YQ==",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, ok := svc.Verify(token)
				assert.False(t, ok)
			})
		})
	}
}

func TestTokenService_SignValidation(t *testing.T) {
	svc, _ := newTokenService(t)

	_, _, err := svc.Sign(sampleIdentity(), 0)
	assert.ErrorIs(t, err, auth.ErrInvalidTTL)

	_, _, err = svc.Sign(sampleIdentity(), 500*time.Millisecond)
	assert.ErrorIs(t, err, auth.ErrInvalidTTL)

	id := sampleIdentity()
	id.Role = "admin"
	_, _, err = svc.Sign(id, time.Minute)
	assert.ErrorIs(t, err, auth.ErrInvalidRole)

	id = sampleIdentity()
	id.UserID = ""
	token, _, err := svc.Sign(id, time.Minute)
	assert.ErrorIs(t, err, auth.ErrMissingUserID)
	assert.Empty(t, token)
}
