// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/natours/natours/internal/apperr"
	"codeberg.org/natours/natours/internal/models"
	authsvc "codeberg.org/natours/natours/internal/services/auth"
	"codeberg.org/natours/natours/internal/services/session"
)

// MsgTokenSent confirms a password reset request.
const MsgTokenSent = "Token sent to email!"

// TokenIssuer mints session tokens.
type TokenIssuer interface {
	Issue(subjectID string) (string, error)
}

// AuthHandlers contains handlers for authentication.
type AuthHandlers struct {
	svc               *authsvc.Service
	tokens            TokenIssuer
	sessions          *session.Manager
	hideUnknownEmails bool
}

// NewAuth creates a new AuthHandlers instance. With hideUnknownEmails set,
// forgot-password answers unknown addresses like known ones.
func NewAuth(svc *authsvc.Service, tokens TokenIssuer, sessions *session.Manager, hideUnknownEmails bool) *AuthHandlers {
	return &AuthHandlers{
		svc:               svc,
		tokens:            tokens,
		sessions:          sessions,
		hideUnknownEmails: hideUnknownEmails,
	}
}

// sendSession issues a token for user and delivers it as body and cookie.
func (h *AuthHandlers) sendSession(c echo.Context, status int, user *models.User) error {
	tok, err := h.tokens.Issue(user.ID)
	if err != nil {
		return apperr.Internal(err, "issue token")
	}
	return h.sessions.Send(c, status, tok, user)
}

// SignupRequest is the request body for registration.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Confirmation
}

// Signup registers a user and signs them in.
func (h *AuthHandlers) Signup(c echo.Context) error {
	var req SignupRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	user, err := h.svc.Register(c.Request().Context(), authsvc.RegisterParams{
		Name:                 req.Name,
		Email:                req.Email,
		Password:             req.Password,
		PasswordConfirmation: req.Confirmation.Value(),
	})
	if err != nil {
		return err
	}

	return h.sendSession(c, http.StatusCreated, user)
}

// SigninRequest is the request body for signing in.
type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signin checks credentials and starts a session.
func (h *AuthHandlers) Signin(c echo.Context) error {
	var req SigninRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	user, err := h.svc.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return h.sendSession(c, http.StatusOK, user)
}

// Signout replaces the session cookie with an expired one.
func (h *AuthHandlers) Signout(c echo.Context) error {
	c.SetCookie(h.sessions.Clear())
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

// ForgotPasswordRequest is the request body for starting a password reset.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword mails a reset token to the account owner.
func (h *AuthHandlers) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if _, err := h.svc.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		if !h.hideUnknownEmails || !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		slog.InfoContext(c.Request().Context(), "password_reset_unknown_email")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "success",
		"message": MsgTokenSent,
	})
}

// ResetPasswordRequest is the request body for redeeming a reset token.
type ResetPasswordRequest struct {
	Password string `json:"password"`
	Confirmation
}

// ResetPassword sets a new password with the token from the path and signs
// the user in.
func (h *AuthHandlers) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	user, err := h.svc.ConsumeReset(c.Request().Context(), c.Param("token"), req.Password, req.Confirmation.Value())
	if err != nil {
		return err
	}

	return h.sendSession(c, http.StatusCreated, user)
}

// UpdatePasswordRequest is the request body for changing the password.
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	Password        string `json:"password"`
	Confirmation
}

// UpdatePassword changes the password of the signed-in user and replaces
// the session, since the old token is stale from now on.
func (h *AuthHandlers) UpdatePassword(c echo.Context) error {
	user, err := principal(c)
	if err != nil {
		return err
	}

	var req UpdatePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	updated, err := h.svc.ChangePassword(c.Request().Context(), user, req.CurrentPassword, req.Password, req.Confirmation.Value())
	if err != nil {
		return err
	}

	return h.sendSession(c, http.StatusOK, updated)
}
