package auth

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/samber/oops"
)

// DummyCredential is a well-formed scrypt credential that matches no
// password.  Login verifies against it when the email is unknown so the
// response time does not reveal whether an account exists.
//
//nolint:gosec // G101: not a real credential.
const DummyCredential = "scrypt$00000000000000000000000000000000$0000000000000000000000000000000000000000000000000000000000000000"

// PasswordHasher hashes and verifies stored credentials.
type PasswordHasher interface {
	// Hash produces a new scrypt credential for password.
	Hash(password string) (string, error)

	// Verify reports whether password matches credential.  It never
	// returns an error: malformed credentials simply do not match.
	Verify(password, credential string) bool

	// NeedsUpgrade reports whether credential uses a legacy format and
	// should be re-hashed after a successful Verify.
	NeedsUpgrade(credential string) bool
}

// PasswordService implements PasswordHasher with scrypt and keeps
// verifying the legacy SHA-256 and bcrypt formats until they are migrated.
type PasswordService struct {
	params    scryptParams
	verifiers map[CredentialFormat]verifier
}

// NewPasswordService returns a PasswordService using the fixed scrypt cost
// parameters (N=2^16, r=8, p=1, 32-byte key, 16-byte salt).
func NewPasswordService() *PasswordService {
	return newPasswordService(defaultScryptParams)
}

func newPasswordService(params scryptParams) *PasswordService {
	return &PasswordService{
		params: params,
		verifiers: map[CredentialFormat]verifier{
			FormatScrypt: params.verify,
			FormatSHA256: verifySHA256,
			FormatBcrypt: verifyBcrypt,
		},
	}
}

// Hash returns scrypt$<saltHex>$<hashHex> for password using a fresh
// random salt.
func (s *PasswordService) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, s.params.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key, err := s.params.derive(password, salt)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").
			With("operation", "scrypt.Key").
			Wrap(err)
	}

	return scryptPrefix + hex.EncodeToString(salt) + "$" + hex.EncodeToString(key), nil
}

// Verify dispatches on the credential's format tag.
func (s *PasswordService) Verify(password, credential string) bool {
	verify, ok := s.verifiers[FormatOf(credential)]
	if !ok {
		return false
	}
	return verify(password, credential)
}

// NeedsUpgrade returns true for every format other than scrypt.
func (s *PasswordService) NeedsUpgrade(credential string) bool {
	return FormatOf(credential) != FormatScrypt
}
