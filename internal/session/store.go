// Package session keeps one revocable session record per authenticated
// user in Redis.  A token is only honoured while its user's record exists,
// so deleting the record (logout) or letting its TTL lapse revokes every
// token issued to that user.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/therealcybermattlee/ddcharacterbot/internal/model"
)

// ErrNotFound is returned by Get when the user has no live session.  It is
// distinct from store failures so callers can tell "session expired" from
// "store unavailable".
var ErrNotFound = errors.New("session not found")

// DefaultPrefix namespaces session keys: <prefix>:<userId>.
const DefaultPrefix = "session"

// Record is the server-side session of one user.
type Record struct {
	UserID       string     `json:"userId"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	Role         model.Role `json:"role"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity time.Time  `json:"lastActivity"`
}

// Identity returns the identity fields of r.
func (r Record) Identity() model.Identity {
	return model.Identity{UserID: r.UserID, Email: r.Email, Username: r.Username, Role: r.Role}
}

// Patch lists the fields Update may change.  Nil fields are left alone.
type Patch struct {
	Email    *string
	Username *string
	Role     *model.Role
}

// Store persists session records with a sliding TTL.
type Store struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option { return func(s *Store) { s.prefix = prefix } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore returns a Store whose records live for ttl after their last
// write.  Update refreshes that TTL.
func NewStore(rdb redis.Cmdable, ttl time.Duration, opts ...Option) *Store {
	s := &Store{rdb: rdb, ttl: ttl, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is the sliding lifetime applied by Update.
func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) key(userID string) string { return s.prefix + ":" + userID }

// Create writes rec under userID, replacing any previous session.  A
// non-positive ttl falls back to the store's default.
func (s *Store) Create(ctx context.Context, userID string, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC()
	rec.UserID = userID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastActivity = now
	return s.put(ctx, rec, ttl, "create")
}

// Get returns the live session of userID, ErrNotFound when there is none,
// or a SESSION_STORE_UNAVAILABLE error when Redis cannot be read.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	data, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, oops.Code("SESSION_STORE_UNAVAILABLE").
			With("operation", "get").
			With("user_id", userID).
			Wrap(err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, oops.Code("SESSION_CORRUPT").
			With("user_id", userID).
			Wrap(err)
	}
	return &rec, nil
}

// Update merges patch into the existing session, stamps LastActivity and
// re-persists it with a fresh TTL.  It is a no-op when no session exists.
//
// The read and the write are separate commands; a concurrent Delete can be
// undone by an Update that read the record first.  Last writer wins.
func (s *Store) Update(ctx context.Context, userID string, patch Patch) error {
	_, err := s.update(ctx, userID, patch)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Touch stamps LastActivity, slides the TTL and returns the record as
// stored.  Unlike Update it reports ErrNotFound for a missing session.
func (s *Store) Touch(ctx context.Context, userID string) (*Record, error) {
	return s.update(ctx, userID, Patch{})
}

func (s *Store) update(ctx context.Context, userID string, patch Patch) (*Record, error) {
	rec, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if patch.Email != nil {
		rec.Email = *patch.Email
	}
	if patch.Username != nil {
		rec.Username = *patch.Username
	}
	if patch.Role != nil {
		rec.Role = *patch.Role
	}
	rec.LastActivity = s.now().UTC()
	if err := s.put(ctx, *rec, s.ttl, "update"); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the session of userID.  Deleting a missing session is not
// an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, s.key(userID)).Err(); err != nil {
		return oops.Code("SESSION_STORE_UNAVAILABLE").
			With("operation", "delete").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, rec Record, ttl time.Duration, op string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return oops.Code("SESSION_ENCODE_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	if err := s.rdb.Set(ctx, s.key(rec.UserID), data, ttl).Err(); err != nil {
		return oops.Code("SESSION_STORE_UNAVAILABLE").
			With("operation", op).
			With("user_id", rec.UserID).
			Wrap(err)
	}
	return nil
}
