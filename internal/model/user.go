package model

import (
	"strings"
	"time"
)

// Role is the closed set of table roles a user can hold.  The value is
// carried in token claims and session records, so it must stay stable.
type Role string

const (
	RoleDM       Role = "dm"       // runs campaigns
	RolePlayer   Role = "player"   // owns characters
	RoleObserver Role = "observer" // read-only access
)

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Valid reports whether r is one of dm, player or observer.
func (r Role) Valid() bool {
	switch r {
	case RoleDM, RolePlayer, RoleObserver:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// User represents an application user record as stored in the `users`
// table.  PasswordHash holds the credential string in one of the formats
// understood by auth.PasswordService; it never leaves the service layer.
//
// Fields:
//
//	ID           – UUID primary key.
//	Email        – unique, lower-cased email address.
//	Username     – unique display name (may contain non-ASCII characters).
//	Role         – dm, player or observer.
//	PasswordHash – scrypt credential, or a legacy SHA-256/bcrypt digest.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           string
	Email        string
	Username     string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the authenticated view of a user that downstream routes
// receive.  It never carries tokens or credentials.
type Identity struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Identity returns the public identity fields of u.
func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email, Username: u.Username, Role: u.Role}
}
