package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm_portal/internal/models"
)

const userColumns = `
	id, email, password_hash, department_id, roles, enabled,
	last_login_at, created_at, updated_at`

// UserRepository handles user accounts and their refresh tokens
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	query := `INSERT INTO users (
			id, email, password_hash, department_id, roles, enabled,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := r.db.conn.QueryRowxContext(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.DepartmentID, u.Roles, u.Enabled,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID loads a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var u models.User
	err := r.db.conn.GetContext(ctx, &u, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}

// GetByEmail loads a user by email. Used by login.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	var u models.User
	err := r.db.conn.GetContext(ctx, &u, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return &u, nil
}

// List returns users, optionally narrowed to one department, ordered by email.
func (r *UserRepository) List(ctx context.Context, departmentID *uuid.UUID) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []interface{}{}

	if departmentID != nil {
		args = append(args, *departmentID)
		query += ` WHERE department_id = $1`
	}
	query += ` ORDER BY email`

	users := []*models.User{}
	if err := r.db.conn.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return users, nil
}

// Update rewrites a user's mutable fields. The password hash is only
// replaced when non-empty.
func (r *UserRepository) Update(ctx context.Context, u *models.User) error {
	query := `UPDATE users SET
			email = $2,
			password_hash = CASE WHEN $3 = '' THEN password_hash ELSE $3 END,
			department_id = $4,
			roles = $5,
			enabled = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.conn.QueryRowxContext(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.DepartmentID, u.Roles, u.Enabled,
	).Scan(&u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return nil
}

// TouchLastLogin stamps a successful login
func (r *UserRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.conn.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// Delete removes a user account. Their usage history stays in the ledger.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete row count: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Refresh tokens. Only the sha256 hash of a token is stored; lookup runs on
// the hash of the presented token.

// StoreRefreshToken persists a newly issued refresh token hash
func (r *UserRepository) StoreRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	query := `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, false, NOW())
		RETURNING created_at`

	err := r.db.conn.QueryRowxContext(ctx, query, t.ID, t.UserID, t.TokenHash, t.ExpiresAt).
		Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

// GetRefreshToken loads a refresh token by its hash
func (r *UserRepository) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT id, user_id, token_hash, expires_at, revoked, created_at
		FROM refresh_tokens WHERE token_hash = $1`

	var t models.RefreshToken
	err := r.db.conn.GetContext(ctx, &t, query, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return &t, nil
}

// RevokeRefreshToken marks one token unusable. Used on rotation and logout.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read revoke row count: %w", err)
	}
	if affected == 0 {
		return ErrRefreshTokenNotFound
	}

	return nil
}

// RevokeUserRefreshTokens invalidates every outstanding token for a user,
// e.g. after a password change or account disable.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND NOT revoked`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user refresh tokens: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read revoke row count: %w", err)
	}

	return affected, nil
}

// DeleteExpiredRefreshTokens drops tokens past their expiry. Called from the
// maintenance loop.
func (r *UserRepository) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete row count: %w", err)
	}

	return affected, nil
}
