package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// UserStore persists the local user mirror
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, email, COALESCE(full_name, ''), created_at, last_login_at`

// GetByID returns the live user with id. Soft-deleted users are NotFound.
func (s *UserStore) GetByID(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND is_deleted = FALSE`, id)
	return scanUser(row)
}

// Create inserts user and returns the stored row. When a concurrent insert
// of the same id won the race, that row is returned instead. A conflict with
// any other row is auth.ErrIdentityConflict.
func (s *UserStore) Create(ctx context.Context, user *auth.User) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, full_name)
		VALUES ($1, $2, NULLIF($3, ''))
		RETURNING `+userColumns,
		user.ID, user.Email, user.FullName,
	)
	created, err := scanUser(row)
	if err == nil {
		return created, nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	existing, err := s.GetByID(ctx, user.ID)
	if errors.Is(err, apierr.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", auth.ErrIdentityConflict, pqErr.Constraint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to re-read user after conflict: %w", err)
	}
	return existing, nil
}

// StampLastLogin records a successful sign-in for email. It reports whether
// a local user was updated.
func (s *UserStore) StampLastLogin(ctx context.Context, email string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = NOW() WHERE email = $1 AND is_deleted = FALSE`, email)
	if err != nil {
		return false, fmt.Errorf("failed to stamp last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to stamp last login: %w", err)
	}
	return n > 0, nil
}

// UpdateFullName changes the display name of a live user
func (s *UserStore) UpdateFullName(ctx context.Context, id, fullName string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET full_name = NULLIF($2, '') WHERE id = $1 AND is_deleted = FALSE`, id, fullName)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return apierr.NotFound("user not found")
	}
	return nil
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}
