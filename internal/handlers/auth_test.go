// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/natours/natours/internal/apperr"
	"codeberg.org/natours/natours/internal/handlers"
	authsvc "codeberg.org/natours/natours/internal/services/auth"
	"codeberg.org/natours/natours/internal/testutil"
)

func TestSignup(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(env.auth.Signup, call{
		method: http.MethodPost,
		path:   "/api/v1/users/signup",
		body:   `{"name":"Jonas","email":"Jonas@Example.com","password":"pass1234","confirmPassword":"pass1234"}`,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)

	user := body["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "jonas@example.com", user["email"])
	assert.Equal(t, "user", user["role"])
	assert.NotContains(t, rec.Body.String(), "password")

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Equal(t, tok, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	verified, err := env.issuer.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, user["id"], verified.SubjectID)
}

func TestSignup_Rejected(t *testing.T) {
	env := newTestEnv(t, false)
	testutil.NewTestUser(t, env.repo, "taken@example.com")

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"mismatch", `{"email":"a@example.com","password":"pass1234","confirmPassword":"pass12345"}`, authsvc.MsgPasswordMismatch},
		{"bad email", `{"email":"nope","password":"pass1234","confirmPassword":"pass1234"}`, authsvc.MsgInvalidEmail},
		{"duplicate", `{"email":"taken@example.com","password":"pass1234","confirmPassword":"pass1234"}`, "Duplicate email: taken@example.com. Please use another value!"},
		{"broken json", `{"email":`, handlers.MsgInvalidBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(env.auth.Signup, call{method: http.MethodPost, path: "/api/v1/users/signup", body: tt.body})

			assertFail(t, rec, http.StatusBadRequest, tt.message)
			assert.Nil(t, sessionCookie(rec))
		})
	}
}

func TestSignin(t *testing.T) {
	env := newTestEnv(t, false)
	testutil.NewTestUser(t, env.repo, "jonas@example.com")

	rec := env.do(env.auth.Signin, call{
		method: http.MethodPost,
		path:   "/api/v1/users/signin",
		body:   `{"email":"jonas@example.com","password":"pass1234"}`,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["token"])
	assert.NotNil(t, sessionCookie(rec))
}

func TestSignin_Failures(t *testing.T) {
	env := newTestEnv(t, false)
	testutil.NewTestUser(t, env.repo, "jonas@example.com")

	t.Run("wrong password", func(t *testing.T) {
		rec := env.do(env.auth.Signin, call{method: http.MethodPost, path: "/", body: `{"email":"jonas@example.com","password":"wrongpass"}`})
		assertFail(t, rec, http.StatusUnauthorized, authsvc.MsgIncorrectCredentials)
	})

	t.Run("unknown email looks the same", func(t *testing.T) {
		rec := env.do(env.auth.Signin, call{method: http.MethodPost, path: "/", body: `{"email":"ghost@example.com","password":"pass1234"}`})
		assertFail(t, rec, http.StatusUnauthorized, authsvc.MsgIncorrectCredentials)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := env.do(env.auth.Signin, call{method: http.MethodPost, path: "/", body: `{"email":"jonas@example.com"}`})
		assertFail(t, rec, http.StatusBadRequest, authsvc.MsgMissingCredentials)
	})
}

func TestSignout(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(env.auth.Signout, call{method: http.MethodPost, path: "/api/v1/users/signout"})

	assert.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestForgotPassword(t *testing.T) {
	env := newTestEnv(t, false)
	testutil.NewTestUser(t, env.repo, "jonas@example.com")

	rec := env.do(env.auth.ForgotPassword, call{method: http.MethodPost, path: "/", body: `{"email":"jonas@example.com"}`})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, handlers.MsgTokenSent, decode(t, rec)["message"])
	assert.NotEmpty(t, env.mailer.last())
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	t.Run("reported by default", func(t *testing.T) {
		env := newTestEnv(t, false)

		rec := env.do(env.auth.ForgotPassword, call{method: http.MethodPost, path: "/", body: `{"email":"ghost@example.com"}`})

		assertFail(t, rec, http.StatusNotFound, authsvc.MsgNoUserWithEmail)
	})

	t.Run("hidden when configured", func(t *testing.T) {
		env := newTestEnv(t, true)

		rec := env.do(env.auth.ForgotPassword, call{method: http.MethodPost, path: "/", body: `{"email":"ghost@example.com"}`})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, handlers.MsgTokenSent, decode(t, rec)["message"])
		assert.Empty(t, env.mailer.last())
	})

	t.Run("validation errors are not hidden", func(t *testing.T) {
		env := newTestEnv(t, true)

		rec := env.do(env.auth.ForgotPassword, call{method: http.MethodPost, path: "/", body: `{}`})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestForgotPassword_DeliveryFailure(t *testing.T) {
	env := newTestEnv(t, false)
	user := testutil.NewTestUser(t, env.repo, "jonas@example.com")
	env.mailer.err = errors.New("smtp: connection refused")

	rec := env.do(env.auth.ForgotPassword, call{method: http.MethodPost, path: "/", body: `{"email":"jonas@example.com"}`})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, apperr.InternalMessage, body["message"])
	assert.NotContains(t, rec.Body.String(), "connection refused")

	stored, err := env.repo.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PasswordResetTokenHash)
	assert.Nil(t, stored.PasswordResetExpiresAt)
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t, false)
	user := testutil.NewTestUser(t, env.repo, "jonas@example.com")

	env.do(env.auth.ForgotPassword, call{method: http.MethodPost, path: "/", body: `{"email":"jonas@example.com"}`})
	resetToken := env.mailer.last()
	require.NotEmpty(t, resetToken)

	reset := call{
		method: http.MethodPatch,
		path:   "/api/v1/users/reset-password/" + resetToken,
		body:   `{"password":"newpass123","confirmPassword":"newpass123"}`,
		params: map[string]string{"token": resetToken},
	}

	rec := env.do(env.auth.ResetPassword, reset)

	require.Equal(t, http.StatusCreated, rec.Code)
	tok, _ := decode(t, rec)["token"].(string)
	verified, err := env.issuer.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.SubjectID)

	// single use
	rec = env.do(env.auth.ResetPassword, reset)
	assertFail(t, rec, http.StatusBadRequest, authsvc.MsgResetTokenInvalid)

	// the new password works, the old one does not
	rec = env.do(env.auth.Signin, call{method: http.MethodPost, path: "/", body: `{"email":"jonas@example.com","password":"newpass123"}`})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(env.auth.Signin, call{method: http.MethodPost, path: "/", body: `{"email":"jonas@example.com","password":"pass1234"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResetPassword_Expired(t *testing.T) {
	env := newTestEnv(t, false)
	testutil.NewTestUser(t, env.repo, "jonas@example.com")

	env.do(env.auth.ForgotPassword, call{method: http.MethodPost, path: "/", body: `{"email":"jonas@example.com"}`})
	resetToken := env.mailer.last()
	env.clock.Advance(10*time.Minute + time.Second)

	rec := env.do(env.auth.ResetPassword, call{
		method: http.MethodPatch,
		path:   "/",
		body:   `{"password":"newpass123","confirmPassword":"newpass123"}`,
		params: map[string]string{"token": resetToken},
	})

	assertFail(t, rec, http.StatusBadRequest, authsvc.MsgResetTokenInvalid)
}

func TestUpdatePassword(t *testing.T) {
	env := newTestEnv(t, false)
	user := testutil.NewTestUser(t, env.repo, "jonas@example.com")

	t.Run("wrong current password", func(t *testing.T) {
		rec := env.do(env.auth.UpdatePassword, call{
			method: http.MethodPatch,
			path:   "/",
			body:   `{"currentPassword":"nope12345","password":"newpass123","confirmPassword":"newpass123"}`,
			user:   user,
		})
		assertFail(t, rec, http.StatusUnauthorized, authsvc.MsgWrongCurrentPassword)
	})

	t.Run("success issues a fresh session", func(t *testing.T) {
		rec := env.do(env.auth.UpdatePassword, call{
			method: http.MethodPatch,
			path:   "/",
			body:   `{"currentPassword":"pass1234","password":"newpass123","confirmPassword":"newpass123"}`,
			user:   user,
		})

		require.Equal(t, http.StatusOK, rec.Code)
		tok, _ := decode(t, rec)["token"].(string)
		require.NotEmpty(t, tok)
		assert.Equal(t, tok, sessionCookie(rec).Value)
	})

	t.Run("without principal", func(t *testing.T) {
		rec := env.do(env.auth.UpdatePassword, call{method: http.MethodPatch, path: "/", body: `{}`})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestPasswordConfirmationKeys(t *testing.T) {
	t.Run("signup", func(t *testing.T) {
		env := newTestEnv(t, false)

		rec := env.do(env.auth.Signup, call{
			method: http.MethodPost,
			path:   "/",
			body:   `{"email":"a@example.com","password":"goodpass1","passwordConfirmation":"goodpass1"}`,
		})

		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("documented key wins over the legacy one", func(t *testing.T) {
		env := newTestEnv(t, false)

		rec := env.do(env.auth.Signup, call{
			method: http.MethodPost,
			path:   "/",
			body:   `{"email":"a@example.com","password":"goodpass1","passwordConfirmation":"goodpass1","confirmPassword":"other123"}`,
		})
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = env.do(env.auth.Signup, call{
			method: http.MethodPost,
			path:   "/",
			body:   `{"email":"b@example.com","password":"goodpass1","passwordConfirmation":"other123","confirmPassword":"goodpass1"}`,
		})
		assertFail(t, rec, http.StatusBadRequest, authsvc.MsgPasswordMismatch)
	})

	t.Run("reset password", func(t *testing.T) {
		env := newTestEnv(t, false)
		testutil.NewTestUser(t, env.repo, "jonas@example.com")
		env.do(env.auth.ForgotPassword, call{method: http.MethodPost, path: "/", body: `{"email":"jonas@example.com"}`})
		resetToken := env.mailer.last()
		require.NotEmpty(t, resetToken)

		rec := env.do(env.auth.ResetPassword, call{
			method: http.MethodPatch,
			path:   "/",
			body:   `{"password":"newpass123","passwordConfirmation":"newpass123"}`,
			params: map[string]string{"token": resetToken},
		})

		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("update password", func(t *testing.T) {
		env := newTestEnv(t, false)
		user := testutil.NewTestUser(t, env.repo, "jonas@example.com")

		rec := env.do(env.auth.UpdatePassword, call{
			method: http.MethodPatch,
			path:   "/",
			body:   `{"currentPassword":"pass1234","password":"newpass123","passwordConfirmation":"newpass123"}`,
			user:   user,
		})

		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestConfirmation(t *testing.T) {
	strp := func(s string) *string { return &s }

	tests := []struct {
		name    string
		in      handlers.Confirmation
		value   string
		present bool
	}{
		{"none", handlers.Confirmation{}, "", false},
		{"documented", handlers.Confirmation{PasswordConfirmation: strp("a")}, "a", true},
		{"legacy", handlers.Confirmation{ConfirmPassword: strp("b")}, "b", true},
		{"both", handlers.Confirmation{PasswordConfirmation: strp("a"), ConfirmPassword: strp("b")}, "a", true},
		{"empty documented", handlers.Confirmation{PasswordConfirmation: strp("")}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.value, tt.in.Value())
			assert.Equal(t, tt.present, tt.in.Present())
		})
	}
}
