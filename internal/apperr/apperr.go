// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package apperr defines the error kinds surfaced by the API and their
// mapping to HTTP status codes. Kinds travel as samber/oops error codes.
package apperr

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/samber/oops"
)

// Kind classifies an error for the HTTP layer.
type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindAuthentication Kind = "AUTHENTICATION_ERROR"
	KindAuthorization  Kind = "AUTHORIZATION_ERROR"
	KindNotFound       Kind = "NOT_FOUND"
	KindInvalidToken   Kind = "INVALID_TOKEN"
	KindInternal       Kind = "INTERNAL_ERROR"
)

// Reason distinguishes authentication failures.
type Reason string

const (
	ReasonMissing     Reason = "missing"
	ReasonInvalid     Reason = "invalid"
	ReasonExpired     Reason = "expired"
	ReasonStale       Reason = "stale"
	ReasonCredentials Reason = "credentials"
)

// InternalMessage is shown to clients instead of internal error details.
const InternalMessage = "Something went very wrong!"

const reasonKey = "reason"

// Validation reports malformed or rejected input.
func Validation(msg string) error {
	return oops.Code(string(KindValidation)).New(msg)
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...any) error {
	return oops.Code(string(KindValidation)).Errorf(format, args...)
}

// Authentication reports a failed identity check.
func Authentication(reason Reason, msg string) error {
	return oops.Code(string(KindAuthentication)).With(reasonKey, string(reason)).New(msg)
}

// Authorization reports an authenticated principal lacking permission.
func Authorization(msg string) error {
	return oops.Code(string(KindAuthorization)).New(msg)
}

// NotFound reports a missing resource.
func NotFound(msg string) error {
	return oops.Code(string(KindNotFound)).New(msg)
}

// InvalidToken reports an unusable password reset token.
func InvalidToken(msg string) error {
	return oops.Code(string(KindInvalidToken)).New(msg)
}

// Internal wraps an unexpected failure. The cause is logged, never shown.
func Internal(err error, operation string) error {
	if err == nil {
		err = errors.New(operation)
	}
	return oops.Code(string(KindInternal)).With("operation", operation).Wrap(err)
}

// KindOf returns the kind carried by err. Errors without a kind are internal.
func KindOf(err error) Kind {
	if oopsErr, ok := oops.AsOops(err); ok {
		switch k := Kind(fmt.Sprint(oopsErr.Code())); k {
		case KindValidation, KindAuthentication, KindAuthorization, KindNotFound, KindInvalidToken, KindInternal:
			return k
		}
	}
	return KindInternal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// ReasonOf returns the authentication failure reason, or "" if none.
func ReasonOf(err error) Reason {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if r, ok := oopsErr.Context()[reasonKey]; ok {
		return Reason(fmt.Sprint(r))
	}
	return ""
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation, KindInvalidToken:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Operational reports whether the error message is safe to show to clients.
func Operational(err error) bool {
	return KindOf(err) != KindInternal
}

// Message returns the client-facing message for err.
func Message(err error) string {
	if !Operational(err) {
		return InternalMessage
	}
	return err.Error()
}

// LogError logs an error with its code and context when it is an oops error.
func LogError(logger *slog.Logger, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != nil && code != "" {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		logger.Error(msg, attrs...)
		return
	}
	logger.Error(msg, "error", err)
}
