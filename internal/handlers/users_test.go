// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/natours/natours/internal/handlers"
	"codeberg.org/natours/natours/internal/models"
	"codeberg.org/natours/natours/internal/repository"
	"codeberg.org/natours/natours/internal/testutil"
)

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t, false)
	user := testutil.NewTestUser(t, env.repo, "jonas@example.com")

	rec := env.do(env.users.CurrentUser, call{method: http.MethodGet, path: "/", user: user})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, user.ID, body["data"].(map[string]any)["user"].(map[string]any)["id"])
}

func TestUpdateUserData(t *testing.T) {
	env := newTestEnv(t, false)
	user := testutil.NewTestUser(t, env.repo, "jonas@example.com")
	testutil.NewTestUser(t, env.repo, "taken@example.com")

	t.Run("password fields rejected", func(t *testing.T) {
		for _, body := range []string{
			`{"name":"J","password":"newpass123"}`,
			`{"confirmPassword":"newpass123"}`,
			`{"passwordConfirmation":"newpass123"}`,
		} {
			rec := env.do(env.users.UpdateUserData, call{method: http.MethodPatch, path: "/", body: body, user: user})
			assertFail(t, rec, http.StatusBadRequest, handlers.MsgNotForPasswords)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		rec := env.do(env.users.UpdateUserData, call{method: http.MethodPatch, path: "/", body: `{"email":"taken@example.com"}`, user: user})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("name and email", func(t *testing.T) {
		rec := env.do(env.users.UpdateUserData, call{
			method: http.MethodPatch,
			path:   "/",
			body:   `{"name":"Jonas Schmedtmann","email":"JS@example.com","role":"admin"}`,
			user:   user,
		})

		require.Equal(t, http.StatusOK, rec.Code)
		got := decode(t, rec)["data"].(map[string]any)["user"].(map[string]any)
		assert.Equal(t, "Jonas Schmedtmann", got["name"])
		assert.Equal(t, "js@example.com", got["email"])
		assert.Equal(t, "user", got["role"])
	})
}

func TestDeleteCurrentUser(t *testing.T) {
	env := newTestEnv(t, false)
	user := testutil.NewTestUser(t, env.repo, "jonas@example.com")

	rec := env.do(env.users.DeleteCurrentUser, call{method: http.MethodDelete, path: "/", user: user})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	require.NotNil(t, sessionCookie(rec))
	assert.Empty(t, sessionCookie(rec).Value)

	_, err := env.repo.GetUserByID(context.Background(), user.ID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	rec = env.do(env.auth.Signin, call{method: http.MethodPost, path: "/", body: `{"email":"jonas@example.com","password":"pass1234"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t, false)
	admin := testutil.NewTestUserWithRole(t, env.repo, "admin@example.com", models.RoleAdmin)
	testutil.NewTestUser(t, env.repo, "a@example.com")
	gone := testutil.NewTestUser(t, env.repo, "b@example.com")
	require.NoError(t, env.repo.Deactivate(context.Background(), gone.ID))

	rec := env.do(env.users.ListUsers, call{method: http.MethodGet, path: "/", user: admin})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.InDelta(t, 2, body["results"], 0)
	assert.Len(t, body["data"].(map[string]any)["users"], 2)
}

func TestGetUser(t *testing.T) {
	env := newTestEnv(t, false)
	user := testutil.NewTestUser(t, env.repo, "jonas@example.com")

	t.Run("found", func(t *testing.T) {
		rec := env.do(env.users.GetUser, call{method: http.MethodGet, path: "/", params: map[string]string{"id": user.ID}})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "jonas@example.com", decode(t, rec)["data"].(map[string]any)["user"].(map[string]any)["email"])
	})

	t.Run("missing", func(t *testing.T) {
		rec := env.do(env.users.GetUser, call{method: http.MethodGet, path: "/", params: map[string]string{"id": "nope"}})

		assertFail(t, rec, http.StatusNotFound, "No user found with that ID")
	})
}
