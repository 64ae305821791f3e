// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"codeberg.org/natours/natours/internal/models"
)

// CreateUser inserts a new user. ID, photo, role and creation time are
// filled in when empty.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Photo == "" {
		user.Photo = models.DefaultPhoto
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO users (id, name, email, photo, role, password_hash, password_changed_at, active, created_at)
		 VALUES (:id, :name, :email, :photo, :role, :password_hash, :password_changed_at, :active, :created_at)`,
		user)
	return wrapError(err)
}

// GetUserByID retrieves an active user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = ? AND active = 1`, id)
	if err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// GetUserByEmail retrieves an active user by normalized email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = ? AND active = 1`, email)
	if err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// ListUsers returns all active users, newest first.
func (r *Repository) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := r.db.SelectContext(ctx, &users, `SELECT * FROM users WHERE active = 1 ORDER BY created_at DESC, id`); err != nil {
		return nil, err
	}
	return users, nil
}

// CountAdmins returns the number of active administrators.
func (r *Repository) CountAdmins(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM users WHERE role = ? AND active = 1`, models.RoleAdmin)
	return count, err
}

// UpdatePassword stores a new password hash and change time. Any pending
// reset is cleared in the same statement.
func (r *Repository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users
		    SET password_hash = ?, password_changed_at = ?,
		        password_reset_token_hash = NULL, password_reset_expires_at = NULL
		  WHERE id = ? AND active = 1`,
		passwordHash, changedAt.UTC(), id)
	return requireAffected(res, err)
}

// SetPasswordReset records a pending reset. Hash and expiry are always
// written together.
func (r *Repository) SetPasswordReset(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_reset_token_hash = ?, password_reset_expires_at = ?
		  WHERE id = ? AND active = 1`,
		tokenHash, expiresAt.UTC(), id)
	return requireAffected(res, err)
}

// ClearPasswordReset removes a pending reset, but only while it still holds
// tokenHash. A newer request for the same user is left untouched.
func (r *Repository) ClearPasswordReset(ctx context.Context, id, tokenHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_reset_token_hash = NULL, password_reset_expires_at = NULL
		  WHERE id = ? AND password_reset_token_hash = ?`,
		id, tokenHash)
	return wrapError(err)
}

// ConsumePasswordReset atomically redeems a reset token: when an active user
// holds tokenHash with an expiry after now, the password is replaced and the
// reset fields are cleared. Concurrent callers presenting the same token
// cannot both succeed. Unknown and expired tokens yield ErrNotFound.
func (r *Repository) ConsumePasswordReset(ctx context.Context, tokenHash string, now time.Time, passwordHash string, changedAt time.Time) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`UPDATE users
		    SET password_hash = ?, password_changed_at = ?,
		        password_reset_token_hash = NULL, password_reset_expires_at = NULL
		  WHERE password_reset_token_hash = ? AND password_reset_expires_at > ? AND active = 1
		RETURNING *`,
		passwordHash, changedAt.UTC(), tokenHash, now.UTC())
	if err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// UpdateProfile changes name and email of an active user.
func (r *Repository) UpdateProfile(ctx context.Context, id, name, email string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`UPDATE users SET name = ?, email = ? WHERE id = ? AND active = 1 RETURNING *`,
		name, email, id)
	if err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// SetRole assigns a role to a user.
func (r *Repository) SetRole(ctx context.Context, id string, role models.Role) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, id)
	return requireAffected(res, err)
}

// Deactivate marks a user inactive. Inactive users are invisible to every
// lookup above.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET active = 0 WHERE id = ? AND active = 1`, id)
	return requireAffected(res, err)
}
