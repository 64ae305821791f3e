// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/natours/natours/internal/apperr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ErrorHandler renders errors returned by handlers and middleware. In
// development mode internal errors carry their full text in the body.
func ErrorHandler(dev bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := errorResponse(err, dev)
		if code >= http.StatusInternalServerError {
			apperr.LogError(slog.Default(), "request_failed", err)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, body)
		}
		if writeErr != nil {
			slog.ErrorContext(c.Request().Context(), "failed to write error response", "error", writeErr)
		}
	}
}

func errorResponse(err error, dev bool) (int, ErrorResponse) {
	var code int
	var msg string

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
		if code >= http.StatusInternalServerError {
			msg = apperr.InternalMessage
		}
	} else {
		code = apperr.HTTPStatus(apperr.KindOf(err))
		msg = apperr.Message(err)
	}

	body := ErrorResponse{Status: statusWord(code), Message: msg}
	if dev && code >= http.StatusInternalServerError {
		body.Error = err.Error()
	}
	return code, body
}

func statusWord(code int) string {
	if code >= http.StatusInternalServerError {
		return "error"
	}
	return "fail"
}
