package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/therealcybermattlee/ddcharacterbot/internal/model"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

const userColumns = "id,email,username,role,password_hash,created_at,updated_at"

// UserRepo reads and writes the `users` table.
type UserRepo struct {
	DB    *sql.DB
	newID func() string
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db, newID: func() string { return uuid.NewString() }}
}

// NormalizeEmail lower-cases and trims an address before it is stored or
// looked up.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts u with a fresh UUID and fills in ID and timestamps.  A
// duplicate email or username returns ErrUserExists.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	id := r.newID()
	email := NormalizeEmail(u.Email)
	now := time.Now().UTC().Truncate(time.Second)

	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id,email,username,role,password_hash,created_at,updated_at) VALUES (?,?,?,?,?,?,?)",
		id, email, u.Username, string(u.Role), u.PasswordHash, now, now)
	if err != nil {
		if isDuplicate(err) {
			return ErrUserExists
		}
		return err
	}
	u.ID = id
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

// UpdateCredential replaces the stored credential of a user, typically after
// a legacy digest has been migrated to scrypt.
func (r *UserRepo) UpdateCredential(ctx context.Context, id, credential string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=?, updated_at=CURRENT_TIMESTAMP WHERE id=?",
		credential, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := r.DB.QueryRowContext(ctx, q, arg).
		Scan(&u.ID, &u.Email, &u.Username, &role, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "1062")
}
