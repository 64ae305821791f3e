// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/natours/natours/internal/apperr"
	"codeberg.org/natours/natours/internal/models"
	authsvc "codeberg.org/natours/natours/internal/services/auth"
	"codeberg.org/natours/natours/internal/services/session"
)

// MsgNotForPasswords rejects password fields sent to the profile endpoint.
const MsgNotForPasswords = "This route is not for password updates. Please use /update-password."

// UserHandlers serves the signed-in user's account and the admin user list.
type UserHandlers struct {
	svc      *authsvc.Service
	sessions *session.Manager
}

// NewUsers creates a new UserHandlers instance.
func NewUsers(svc *authsvc.Service, sessions *session.Manager) *UserHandlers {
	return &UserHandlers{svc: svc, sessions: sessions}
}

// CurrentUser returns the signed-in user.
func (h *UserHandlers) CurrentUser(c echo.Context) error {
	user, err := principal(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse(user))
}

// UpdateUserDataRequest holds the profile fields a user may change. The
// password fields are only decoded to reject them.
type UpdateUserDataRequest struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Password *string `json:"password"`
	Confirmation
}

// UpdateUserData changes name and email of the signed-in user.
func (h *UserHandlers) UpdateUserData(c echo.Context) error {
	user, err := principal(c)
	if err != nil {
		return err
	}

	var req UpdateUserDataRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Password != nil || req.Confirmation.Present() {
		return apperr.Validation(MsgNotForPasswords)
	}

	updated, err := h.svc.UpdateProfile(c.Request().Context(), user, req.Name, req.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse(updated))
}

// DeleteCurrentUser deactivates the signed-in user and ends the session.
func (h *UserHandlers) DeleteCurrentUser(c echo.Context) error {
	user, err := principal(c)
	if err != nil {
		return err
	}

	if err := h.svc.Deactivate(c.Request().Context(), user); err != nil {
		return err
	}

	c.SetCookie(h.sessions.Clear())
	return c.NoContent(http.StatusNoContent)
}

type usersEnvelope struct {
	Status  string    `json:"status"`
	Results int       `json:"results"`
	Data    usersData `json:"data"`
}

type usersData struct {
	Users []models.User `json:"users"`
}

// ListUsers returns all active users.
func (h *UserHandlers) ListUsers(c echo.Context) error {
	users, err := h.svc.ListUsers(c.Request().Context())
	if err != nil {
		return err
	}
	if users == nil {
		users = []models.User{}
	}

	return c.JSON(http.StatusOK, usersEnvelope{
		Status:  "success",
		Results: len(users),
		Data:    usersData{Users: users},
	})
}

// GetUser returns one active user by ID.
func (h *UserHandlers) GetUser(c echo.Context) error {
	user, err := h.svc.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse(user))
}
