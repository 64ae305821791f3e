// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"time"
)

// DefaultPhoto is assigned to users who never uploaded an avatar.
const DefaultPhoto = "default.jpg"

// User is a stored credential record. Secret and bookkeeping columns never
// leave the process as JSON.
type User struct { //nolint:govet // fieldalignment: readability over optimization
	ID                     string     `db:"id" json:"id"`
	Name                   string     `db:"name" json:"name"`
	Email                  string     `db:"email" json:"email"`
	Photo                  string     `db:"photo" json:"photo"`
	Role                   Role       `db:"role" json:"role"`
	PasswordHash           string     `db:"password_hash" json:"-"`
	PasswordChangedAt      *time.Time `db:"password_changed_at" json:"-"`
	PasswordResetTokenHash *string    `db:"password_reset_token_hash" json:"-"`
	PasswordResetExpiresAt *time.Time `db:"password_reset_expires_at" json:"-"`
	Active                 bool       `db:"active" json:"-"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
}

// HasRole reports whether the user holds one of the given roles.
func (u *User) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user is an administrator.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ResetPending reports whether a password reset is outstanding at now.
func (u *User) ResetPending(now time.Time) bool {
	return u.PasswordResetTokenHash != nil && u.PasswordResetExpiresAt != nil && now.Before(*u.PasswordResetExpiresAt)
}

// ChangedPasswordAfter reports whether the password was changed after a
// token issued at issuedAt was minted.
func (u *User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return issuedAt.Before(*u.PasswordChangedAt)
}
