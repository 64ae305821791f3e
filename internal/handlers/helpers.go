// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"github.com/labstack/echo/v4"

	"codeberg.org/natours/natours/internal/apperr"
	"codeberg.org/natours/natours/internal/auth"
	"codeberg.org/natours/natours/internal/models"
)

// MsgInvalidBody is returned when a request body cannot be decoded.
const MsgInvalidBody = "Invalid request body."

// bind decodes the request into v, turning decoder failures into
// validation errors.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperr.Validation(MsgInvalidBody)
	}
	return nil
}

// principal returns the user stored by the route guard.
func principal(c echo.Context) (*models.User, error) {
	user := auth.GetUser(c.Request().Context())
	if user == nil {
		return nil, apperr.Authentication(apperr.ReasonMissing, "You are not logged in! Please log in to get access.")
	}
	return user, nil
}

// userEnvelope is the success body for a single user.
type userEnvelope struct {
	Status string   `json:"status"`
	Data   userData `json:"data"`
}

type userData struct {
	User *models.User `json:"user"`
}

func userResponse(user *models.User) userEnvelope {
	return userEnvelope{Status: "success", Data: userData{User: user}}
}

// Confirmation carries the repeated password. passwordConfirmation is the
// documented key; confirmPassword is still accepted from older clients.
type Confirmation struct {
	PasswordConfirmation *string `json:"passwordConfirmation"`
	ConfirmPassword      *string `json:"confirmPassword"`
}

// Value returns the confirmation, preferring passwordConfirmation when
// both keys are sent.
func (c Confirmation) Value() string {
	switch {
	case c.PasswordConfirmation != nil:
		return *c.PasswordConfirmation
	case c.ConfirmPassword != nil:
		return *c.ConfirmPassword
	}
	return ""
}

// Present reports whether either key was sent.
func (c Confirmation) Present() bool {
	return c.PasswordConfirmation != nil || c.ConfirmPassword != nil
}
