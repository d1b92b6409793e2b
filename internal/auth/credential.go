package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

// CredentialFormat identifies how a stored credential string was produced.
// The format is derived from the credential itself; there is no separate
// algorithm column in the users table.
type CredentialFormat string

const (
	// FormatScrypt is the current format: scrypt$<hex-salt>$<hex-hash>.
	FormatScrypt CredentialFormat = "scrypt"
	// FormatSHA256 is a bare 64-character hex SHA-256 digest written before
	// the scrypt migration.
	FormatSHA256 CredentialFormat = "sha256"
	// FormatBcrypt covers $2a$/$2b$/$2y$ hashes left behind by the previous
	// backend.
	FormatBcrypt CredentialFormat = "bcrypt"
)

const scryptPrefix = "scrypt$"

// FormatOf returns the format tag of credential.  Anything that is neither
// scrypt nor bcrypt is treated as a legacy SHA-256 digest; malformed values
// simply fail verification under that strategy.
func FormatOf(credential string) CredentialFormat {
	switch {
	case strings.HasPrefix(credential, scryptPrefix):
		return FormatScrypt
	case strings.HasPrefix(credential, "$2a$"),
		strings.HasPrefix(credential, "$2b$"),
		strings.HasPrefix(credential, "$2y$"):
		return FormatBcrypt
	default:
		return FormatSHA256
	}
}

// verifier checks password against a credential of a single format.  It
// must report false on any decoding problem instead of returning an error.
type verifier func(password, credential string) bool

// scryptParams are the key-derivation cost parameters.  They are fixed for
// every stored credential so that hashes stay comparable and migratable.
type scryptParams struct {
	n, r, p int
	keyLen  int
	saltLen int
}

// defaultScryptParams bounds the CPU and memory spent per login (~64 MiB).
var defaultScryptParams = scryptParams{n: 1 << 16, r: 8, p: 1, keyLen: 32, saltLen: 16}

func (p scryptParams) derive(password string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(password), salt, p.n, p.r, p.p, p.keyLen)
}

func (p scryptParams) verify(password, credential string) bool {
	parts := strings.Split(credential, "$")
	if len(parts) != 3 || parts[0] != string(FormatScrypt) {
		return false
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil || len(salt) == 0 {
		return false
	}
	expected, err := hex.DecodeString(parts[2])
	if err != nil {
		return false
	}
	computed, err := p.derive(password, salt)
	if err != nil {
		return false
	}
	// ConstantTimeCompare returns 0 straight away on a length mismatch and
	// otherwise XOR-accumulates over every byte.
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// verifySHA256 checks a legacy unsalted digest.
//
// The comparison is plain string equality, not constant time.  It matches
// how these rows were checked before the scrypt migration; see DESIGN.md
// before changing it.
func verifySHA256(password, credential string) bool {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:]) == credential
}

func verifyBcrypt(password, credential string) bool {
	return bcrypt.CompareHashAndPassword([]byte(credential), []byte(password)) == nil
}
