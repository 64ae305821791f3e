// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth manages the credential lifecycle: registration, sign-in,
// password changes and password resets.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"codeberg.org/natours/natours/internal/apperr"
	"codeberg.org/natours/natours/internal/config"
	"codeberg.org/natours/natours/internal/metrics"
	"codeberg.org/natours/natours/internal/models"
	"codeberg.org/natours/natours/internal/repository"
)

// Client-facing messages.
const (
	MsgIncorrectCredentials = "Incorrect email or password"
	MsgMissingCredentials   = "Please provide email and password!"
	MsgInvalidEmail         = "Please provide a valid email"
	MsgPasswordMismatch     = "Passwords are not the same!"
	MsgWrongCurrentPassword = "Your current password is wrong."
	MsgNoUserWithEmail      = "There is no user with that email address."
	MsgResetTokenInvalid    = "Token is invalid or has expired"
	MsgEmailDeliveryFailed  = "There was an error sending the email. Try again later!"
)

// changedAtMargin is subtracted from passwordChangedAt so that a token
// minted right after a change is never judged stale.
const changedAtMargin = time.Second

// ResetMailer delivers password reset tokens.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, user *models.User, token string) error
}

type Service struct {
	repo      *repository.Repository
	hasher    *Hasher
	mailer    ResetMailer
	metrics   *metrics.Metrics
	validator *PasswordValidator
	now       func() time.Time
	dummyHash string
	resetTTL  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(repo *repository.Repository, hasher *Hasher, mailer ResetMailer, cfg config.AuthConfig, m *metrics.Metrics, opts ...Option) (*Service, error) {
	// unknown emails are compared against this hash so both paths cost the same
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), hasher.cost)
	if err != nil {
		return nil, err
	}

	resetTTL := cfg.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = 10 * time.Minute
	}

	s := &Service{
		repo:      repo,
		hasher:    hasher,
		mailer:    mailer,
		metrics:   m,
		validator: NewPasswordValidatorFromConfig(cfg),
		now:       time.Now,
		dummyHash: string(dummy),
		resetTTL:  resetTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterParams holds the parameters for user registration
type RegisterParams struct {
	Name                 string
	Email                string
	Password             string
	PasswordConfirmation string
	Role                 models.Role
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *Service) checkNewPassword(password, confirmation string, attrs ...string) error {
	if result := s.validator.Validate(password, attrs...); !result.Valid {
		return apperr.Validation(result.Message())
	}
	if password != confirmation {
		return apperr.Validation(MsgPasswordMismatch)
	}
	return nil
}

// Register creates a new user account with the default role unless params
// name another one.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*models.User, error) {
	email := NormalizeEmail(params.Email)
	if !validEmail(email) {
		return nil, apperr.Validation(MsgInvalidEmail)
	}
	if err := s.checkNewPassword(params.Password, params.PasswordConfirmation, email); err != nil {
		return nil, err
	}

	role := params.Role
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return nil, apperr.Validationf("Role is either: %s", joinRoles())
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	passwordHash, err := s.hasher.Hash(ctx, params.Password)
	if err != nil {
		return nil, apperr.Internal(err, "hash password")
	}

	user := &models.User{
		Name:         name,
		Email:        email,
		Role:         role,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.metrics.RecordAuth("signup", metrics.OutcomeFailure)
			return nil, apperr.Validationf("Duplicate email: %s. Please use another value!", email)
		}
		s.metrics.RecordAuth("signup", metrics.OutcomeError)
		return nil, apperr.Internal(err, "create user")
	}

	s.metrics.RecordAuth("signup", metrics.OutcomeSuccess)
	slog.InfoContext(ctx, "register_success", "user_id", user.ID, "email", email)

	return user, nil
}

func joinRoles() string {
	roles := models.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return strings.Join(names, ", ")
}

// Authenticate checks an email and password pair. Unknown emails and wrong
// passwords fail with the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation(MsgMissingCredentials)
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.metrics.RecordAuth("signin", metrics.OutcomeError)
			return nil, apperr.Internal(err, "load user")
		}
		_ = s.hasher.Verify(ctx, password, s.dummyHash)
		slog.WarnContext(ctx, "login_failed", "email", email, "reason", "user_not_found")
		s.metrics.RecordAuth("signin", metrics.OutcomeFailure)
		return nil, apperr.Authentication(apperr.ReasonCredentials, MsgIncorrectCredentials)
	}

	if !s.hasher.Verify(ctx, password, user.PasswordHash) {
		slog.WarnContext(ctx, "login_failed", "email", email, "reason", "invalid_password")
		s.metrics.RecordAuth("signin", metrics.OutcomeFailure)
		return nil, apperr.Authentication(apperr.ReasonCredentials, MsgIncorrectCredentials)
	}

	s.metrics.RecordAuth("signin", metrics.OutcomeSuccess)
	slog.InfoContext(ctx, "login_success", "user_id", user.ID)
	return user, nil
}

// ChangePassword replaces the password of an authenticated user after
// checking the current one. Every token issued before the change becomes
// stale.
func (s *Service) ChangePassword(ctx context.Context, user *models.User, currentPassword, newPassword, confirmation string) (*models.User, error) {
	if currentPassword == "" || newPassword == "" {
		return nil, apperr.Validation("Please provide your current and new password!")
	}

	stored, err := s.repo.GetUserByID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Authentication(apperr.ReasonInvalid, "The user belonging to this token does no longer exist.")
		}
		return nil, apperr.Internal(err, "load user")
	}

	if !s.hasher.Verify(ctx, currentPassword, stored.PasswordHash) {
		s.metrics.RecordAuth("password_change", metrics.OutcomeFailure)
		slog.WarnContext(ctx, "password_change_failed", "user_id", stored.ID, "reason", "wrong_current_password")
		return nil, apperr.Authentication(apperr.ReasonCredentials, MsgWrongCurrentPassword)
	}

	if err := s.checkNewPassword(newPassword, confirmation, stored.Email, stored.Name); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return nil, apperr.Internal(err, "hash password")
	}

	changedAt := s.now().Add(-changedAtMargin).UTC()
	if err := s.repo.UpdatePassword(ctx, stored.ID, passwordHash, changedAt); err != nil {
		s.metrics.RecordAuth("password_change", metrics.OutcomeError)
		return nil, apperr.Internal(err, "update password")
	}

	stored.PasswordHash = passwordHash
	stored.PasswordChangedAt = &changedAt
	stored.PasswordResetTokenHash = nil
	stored.PasswordResetExpiresAt = nil

	s.metrics.RecordAuth("password_change", metrics.OutcomeSuccess)
	slog.InfoContext(ctx, "password_changed", "user_id", stored.ID)
	return stored, nil
}

// RequestPasswordReset stores the hash of a fresh reset token for the user
// with the given email and mails the plaintext token. When delivery fails
// the pending reset is withdrawn again.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", apperr.Validation("Please provide your email address.")
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.RecordAuth("reset_request", metrics.OutcomeFailure)
			return "", apperr.NotFound(MsgNoUserWithEmail)
		}
		return "", apperr.Internal(err, "load user")
	}

	token, tokenHash, err := GenerateResetToken()
	if err != nil {
		return "", apperr.Internal(err, "generate reset token")
	}

	now := s.now()
	replaced := user.ResetPending(now)
	expiresAt := now.Add(s.resetTTL).UTC()
	if err := s.repo.SetPasswordReset(ctx, user.ID, tokenHash, expiresAt); err != nil {
		return "", apperr.Internal(err, "store reset token")
	}

	if err := s.mailer.SendPasswordReset(ctx, user, token); err != nil {
		// the request context may already be gone; the rollback must still run
		if clearErr := s.repo.ClearPasswordReset(context.WithoutCancel(ctx), user.ID, tokenHash); clearErr != nil {
			apperr.LogError(slog.Default(), "reset_rollback_failed", apperr.Internal(clearErr, "clear reset token"))
		}
		s.metrics.RecordAuth("reset_request", metrics.OutcomeError)
		return "", apperr.Internal(err, MsgEmailDeliveryFailed)
	}

	s.metrics.RecordAuth("reset_request", metrics.OutcomeSuccess)
	slog.InfoContext(ctx, "password_reset_requested", "user_id", user.ID, "expires_at", expiresAt, "replaced_pending", replaced)
	return token, nil
}

// ConsumeReset sets a new password using a reset token. Unknown, used and
// expired tokens are indistinguishable to the caller.
func (s *Service) ConsumeReset(ctx context.Context, token, newPassword, confirmation string) (*models.User, error) {
	if token == "" {
		return nil, apperr.InvalidToken(MsgResetTokenInvalid)
	}
	if err := s.checkNewPassword(newPassword, confirmation); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return nil, apperr.Internal(err, "hash password")
	}

	now := s.now().UTC()
	user, err := s.repo.ConsumePasswordReset(ctx, HashResetToken(token), now, passwordHash, now.Add(-changedAtMargin))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.RecordAuth("reset_consume", metrics.OutcomeFailure)
			slog.WarnContext(ctx, "password_reset_rejected")
			return nil, apperr.InvalidToken(MsgResetTokenInvalid)
		}
		s.metrics.RecordAuth("reset_consume", metrics.OutcomeError)
		return nil, apperr.Internal(err, "consume reset token")
	}

	s.metrics.RecordAuth("reset_consume", metrics.OutcomeSuccess)
	slog.InfoContext(ctx, "password_reset_completed", "user_id", user.ID)
	return user, nil
}

// UpdateProfile changes the name and email of an authenticated user. Empty
// values keep the current ones.
func (s *Service) UpdateProfile(ctx context.Context, user *models.User, name, email string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = user.Name
	}

	email = NormalizeEmail(email)
	if email == "" {
		email = user.Email
	} else if !validEmail(email) {
		return nil, apperr.Validation(MsgInvalidEmail)
	}

	updated, err := s.repo.UpdateProfile(ctx, user.ID, name, email)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, apperr.Validationf("Duplicate email: %s. Please use another value!", email)
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperr.NotFound("No user found with that ID")
		}
		return nil, apperr.Internal(err, "update profile")
	}

	slog.InfoContext(ctx, "profile_updated", "user_id", updated.ID)
	return updated, nil
}

// Deactivate disables the account of an authenticated user. Its tokens stop
// resolving immediately.
func (s *Service) Deactivate(ctx context.Context, user *models.User) error {
	if err := s.repo.Deactivate(ctx, user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("No user found with that ID")
		}
		return apperr.Internal(err, "deactivate user")
	}
	s.metrics.RecordAuth("deactivate", metrics.OutcomeSuccess)
	slog.InfoContext(ctx, "user_deactivated", "user_id", user.ID)
	return nil
}

// GetUser returns an active user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("No user found with that ID")
		}
		return nil, apperr.Internal(err, "load user")
	}
	return user, nil
}

// ListUsers returns all active users.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list users")
	}
	return users, nil
}

// EnsureAdmin creates an administrator with the given credentials, or
// promotes the existing user with that email. The password must satisfy
// the policy either way but is only stored for a new account; created
// reports which case applied.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) (user *models.User, created bool, err error) {
	if err := s.checkNewPassword(password, password, NormalizeEmail(email), name); err != nil {
		return nil, false, err
	}

	user, err = s.Register(ctx, RegisterParams{
		Name:                 name,
		Email:                email,
		Password:             password,
		PasswordConfirmation: password,
		Role:                 models.RoleAdmin,
	})
	if err == nil {
		return user, true, nil
	}
	if !apperr.Is(err, apperr.KindValidation) {
		return nil, false, err
	}

	existing, lookupErr := s.repo.GetUserByEmail(ctx, NormalizeEmail(email))
	if lookupErr != nil {
		// not a duplicate: surface the original validation failure
		return nil, false, err
	}
	if !existing.IsAdmin() {
		if err := s.repo.SetRole(ctx, existing.ID, models.RoleAdmin); err != nil {
			return nil, false, apperr.Internal(err, "promote admin")
		}
		existing.Role = models.RoleAdmin
	}
	slog.InfoContext(ctx, "admin_promoted", "user_id", existing.ID, "password_changed", false)
	return existing, false, nil
}

// CountAdmins returns the number of active administrators.
func (s *Service) CountAdmins(ctx context.Context) (int64, error) {
	count, err := s.repo.CountAdmins(ctx)
	if err != nil {
		return 0, apperr.Internal(err, "count admins")
	}
	return count, nil
}
