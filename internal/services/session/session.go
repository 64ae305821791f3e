// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session hands freshly issued tokens to the client, both in the
// response body and as an httpOnly cookie.
package session

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"codeberg.org/natours/natours/internal/models"
)

// DefaultCookieName is the cookie the route guard falls back to.
const DefaultCookieName = "jwt"

// Response is the body sent alongside a new session token.
type Response struct {
	Status string   `json:"status"`
	Token  string   `json:"token"`
	Data   UserData `json:"data"`
}

// UserData wraps the public user representation.
type UserData struct {
	User *models.User `json:"user"`
}

// Manager builds session cookies and responses.
type Manager struct {
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

// NewManager creates a Manager whose cookies live as long as the token.
func NewManager(cookieName string, ttl time.Duration, secure bool) *Manager {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Manager{
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		now:        time.Now,
	}
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Cookie returns the cookie carrying token.
func (m *Manager) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  m.now().Add(m.ttl),
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Clear returns a cookie that makes the browser drop the session.
func (m *Manager) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Send sets the session cookie and writes the token and user as JSON.
func (m *Manager) Send(c echo.Context, status int, token string, user *models.User) error {
	c.SetCookie(m.Cookie(token))
	return c.JSON(status, Response{
		Status: "success",
		Token:  token,
		Data:   UserData{User: user},
	})
}
