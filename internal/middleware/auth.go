// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package middleware contains the route guard and role check for the API.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"codeberg.org/natours/natours/internal/apperr"
	"codeberg.org/natours/natours/internal/auth"
	"codeberg.org/natours/natours/internal/metrics"
	"codeberg.org/natours/natours/internal/models"
	"codeberg.org/natours/natours/internal/repository"
	"codeberg.org/natours/natours/internal/services/token"
)

// Client-facing denial messages.
const (
	MsgNotLoggedIn     = "You are not logged in! Please log in to get access."
	MsgInvalidToken    = "Invalid token. Please log in again!"
	MsgExpiredToken    = "Your token has expired! Please log in again."
	MsgPasswordChanged = "User recently changed password! Please log in again."
	MsgForbidden       = "You do not have permission to perform this action"
)

const reasonForbidden = "forbidden"

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(tokenString string) (*token.Verified, error)
}

// UserLoader loads active users by ID.
type UserLoader interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Guard authenticates requests carrying a session token.
type Guard struct {
	verifier   TokenVerifier
	users      UserLoader
	cookieName string
	metrics    *metrics.Metrics
}

// NewGuard creates a Guard reading the token from the Authorization header
// or, failing that, from cookieName.
func NewGuard(verifier TokenVerifier, users UserLoader, cookieName string, m *metrics.Metrics) *Guard {
	return &Guard{
		verifier:   verifier,
		users:      users,
		cookieName: cookieName,
		metrics:    m,
	}
}

// Authenticate resolves the principal of r. Failures are authentication
// errors carrying the reason; lookup failures other than a missing user are
// internal.
func (g *Guard) Authenticate(r *http.Request) (*models.User, error) {
	raw := g.extract(r)
	if raw == "" {
		return nil, g.deny(apperr.ReasonMissing, MsgNotLoggedIn)
	}

	claims, err := g.verifier.Verify(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, g.deny(apperr.ReasonExpired, MsgExpiredToken)
		}
		return nil, g.deny(apperr.ReasonInvalid, MsgInvalidToken)
	}

	user, err := g.users.GetUserByID(r.Context(), claims.SubjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, g.deny(apperr.ReasonInvalid, MsgInvalidToken)
		}
		return nil, apperr.Internal(err, "load token subject")
	}

	if user.ChangedPasswordAfter(claims.IssuedAt) {
		return nil, g.deny(apperr.ReasonStale, MsgPasswordChanged)
	}

	return user, nil
}

func (g *Guard) extract(r *http.Request) string {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok && strings.TrimSpace(tok) != "" {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(g.cookieName); err == nil {
		return c.Value
	}
	return ""
}

func (g *Guard) deny(reason apperr.Reason, msg string) error {
	g.metrics.RecordDenial(string(reason))
	return apperr.Authentication(reason, msg)
}

// Protect rejects requests without a valid session and stores the
// principal in the request context otherwise.
func (g *Guard) Protect() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := g.Authenticate(c.Request())
			if err != nil {
				if apperr.Is(err, apperr.KindAuthentication) {
					slog.DebugContext(c.Request().Context(), "guard_denied",
						"reason", apperr.ReasonOf(err),
						"path", c.Request().URL.Path,
					)
				}
				return err
			}

			c.SetRequest(c.Request().WithContext(auth.SetUser(c.Request().Context(), user)))
			return next(c)
		}
	}
}

// Authorize returns an authorization error unless user holds one of roles.
func Authorize(user *models.User, roles ...models.Role) error {
	if user == nil || !user.HasRole(roles...) {
		return apperr.Authorization(MsgForbidden)
	}
	return nil
}

// RestrictTo only lets principals with one of roles through. It must run
// after Protect.
func (g *Guard) RestrictTo(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := Authorize(auth.GetUser(c.Request().Context()), roles...); err != nil {
				g.metrics.RecordDenial(reasonForbidden)
				return err
			}
			return next(c)
		}
	}
}
