// Package queue carries authentication audit events over RabbitMQ: the
// event payload, a publisher used by the auth flows and a consumer that
// appends events to an audit log.
package queue

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType names what happened to an account.
type EventType string

const (
	EventUserRegistered     EventType = "user.registered"
	EventUserLogin          EventType = "user.login"
	EventUserLogout         EventType = "user.logout"
	EventCredentialMigrated EventType = "credential.migrated"
	EventLoginFailed        EventType = "login.failed"
)

// AuthEvent is published after each authentication state change.  It
// never carries passwords, credentials or tokens.
type AuthEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	UserID     string    `json:"userId,omitempty"`
	Email      string    `json:"email,omitempty"`
	IP         string    `json:"ip,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewAuthEvent stamps an event with a fresh ULID and the current UTC time.
func NewAuthEvent(typ EventType, userID, email, ip string) AuthEvent {
	return AuthEvent{
		ID:         ulid.Make().String(),
		Type:       typ,
		UserID:     userID,
		Email:      email,
		IP:         ip,
		OccurredAt: time.Now().UTC(),
	}
}
