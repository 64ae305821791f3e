// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"codeberg.org/natours/natours/internal/apperr"
	"codeberg.org/natours/natours/internal/auth"
	"codeberg.org/natours/natours/internal/config"
	"codeberg.org/natours/natours/internal/metrics"
	"codeberg.org/natours/natours/internal/middleware"
	"codeberg.org/natours/natours/internal/models"
	"codeberg.org/natours/natours/internal/repository"
	authsvc "codeberg.org/natours/natours/internal/services/auth"
	"codeberg.org/natours/natours/internal/services/token"
	"codeberg.org/natours/natours/internal/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type guardFixture struct {
	guard   *middleware.Guard
	issuer  *token.Issuer
	repo    *repository.Repository
	clock   *testutil.Clock
	metrics *metrics.Metrics
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	clock := testutil.NewClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	issuer, err := token.NewIssuer([]byte(testSecret), time.Hour, token.WithClock(clock.Now))
	require.NoError(t, err)

	m := metrics.New()
	return &guardFixture{
		guard:   middleware.NewGuard(issuer, repo, "jwt", m),
		issuer:  issuer,
		repo:    repo,
		clock:   clock,
		metrics: m,
	}
}

func (f *guardFixture) issue(t *testing.T, user *models.User) string {
	t.Helper()
	tok, err := f.issuer.Issue(user.ID)
	require.NoError(t, err)
	return tok
}

func bearer(tok string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	return req
}

func denials(t *testing.T, m *metrics.Metrics) int {
	t.Helper()
	count, err := promtest.GatherAndCount(m.Registry(), "natours_auth_guard_denials_total")
	require.NoError(t, err)
	return count
}

func TestAuthenticate_Bearer(t *testing.T) {
	f := newGuardFixture(t)
	user := testutil.NewTestUser(t, f.repo, "jonas@example.com")

	got, err := f.guard.Authenticate(bearer(f.issue(t, user)))

	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestAuthenticate_CookieFallback(t *testing.T) {
	f := newGuardFixture(t)
	user := testutil.NewTestUser(t, f.repo, "jonas@example.com")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: f.issue(t, user)})

	got, err := f.guard.Authenticate(req)

	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestAuthenticate_HeaderWinsOverCookie(t *testing.T) {
	f := newGuardFixture(t)
	alice := testutil.NewTestUser(t, f.repo, "alice@example.com")
	bob := testutil.NewTestUser(t, f.repo, "bob@example.com")

	req := bearer(f.issue(t, alice))
	req.AddCookie(&http.Cookie{Name: "jwt", Value: f.issue(t, bob)})

	got, err := f.guard.Authenticate(req)

	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
}

func TestAuthenticate_Missing(t *testing.T) {
	f := newGuardFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"empty bearer", "Bearer "},
		{"other scheme", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}

			_, err := f.guard.Authenticate(req)

			apperr.AssertKind(t, err, apperr.KindAuthentication)
			apperr.AssertReason(t, err, apperr.ReasonMissing)
			assert.Equal(t, middleware.MsgNotLoggedIn, err.Error())
		})
	}
}

func TestAuthenticate_Invalid(t *testing.T) {
	f := newGuardFixture(t)
	user := testutil.NewTestUser(t, f.repo, "jonas@example.com")

	other, err := token.NewIssuer([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	require.NoError(t, err)
	forged, err := other.Issue(user.ID)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":      "not.a.token",
		"wrong secret": forged,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.guard.Authenticate(bearer(tok))

			apperr.AssertReason(t, err, apperr.ReasonInvalid)
			assert.Equal(t, middleware.MsgInvalidToken, err.Error())
		})
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	f := newGuardFixture(t)
	user := testutil.NewTestUser(t, f.repo, "jonas@example.com")
	tok := f.issue(t, user)

	f.clock.Advance(time.Hour)

	_, err := f.guard.Authenticate(bearer(tok))

	apperr.AssertReason(t, err, apperr.ReasonExpired)
	assert.Equal(t, middleware.MsgExpiredToken, err.Error())
}

func TestAuthenticate_UnknownSubject(t *testing.T) {
	f := newGuardFixture(t)
	tok := f.issue(t, &models.User{ID: "does-not-exist"})

	_, err := f.guard.Authenticate(bearer(tok))

	apperr.AssertReason(t, err, apperr.ReasonInvalid)
}

func TestAuthenticate_DeactivatedUser(t *testing.T) {
	f := newGuardFixture(t)
	user := testutil.NewTestUser(t, f.repo, "jonas@example.com")
	tok := f.issue(t, user)

	require.NoError(t, f.repo.Deactivate(context.Background(), user.ID))

	_, err := f.guard.Authenticate(bearer(tok))

	apperr.AssertReason(t, err, apperr.ReasonInvalid)
}

type failingLoader struct{}

func (failingLoader) GetUserByID(context.Context, string) (*models.User, error) {
	return nil, errors.New("database is locked")
}

func TestAuthenticate_LoaderFailureIsInternal(t *testing.T) {
	f := newGuardFixture(t)
	guard := middleware.NewGuard(f.issuer, failingLoader{}, "jwt", nil)

	_, err := guard.Authenticate(bearer(f.issue(t, &models.User{ID: "u1"})))

	apperr.AssertKind(t, err, apperr.KindInternal)
}

// A token minted before a password change is rejected afterwards.
func TestAuthenticate_StaleAfterPasswordChange(t *testing.T) {
	f := newGuardFixture(t)
	user := testutil.NewTestUser(t, f.repo, "jonas@example.com")

	hasher, err := authsvc.NewHasher(bcrypt.MinCost, 1, nil)
	require.NoError(t, err)
	svc, err := authsvc.NewService(f.repo, hasher, nil, config.AuthConfig{PasswordMinLength: 8}, nil, authsvc.WithClock(f.clock.Now))
	require.NoError(t, err)

	oldToken := f.issue(t, user)

	f.clock.Advance(5 * time.Second)
	_, err = svc.ChangePassword(context.Background(), user, testutil.TestPassword, "newpass123", "newpass123")
	require.NoError(t, err)

	_, err = f.guard.Authenticate(bearer(oldToken))
	apperr.AssertKind(t, err, apperr.KindAuthentication)
	apperr.AssertReason(t, err, apperr.ReasonStale)
	assert.Equal(t, middleware.MsgPasswordChanged, err.Error())

	// a token issued after the change is fresh
	got, err := f.guard.Authenticate(bearer(f.issue(t, user)))
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

// The one second margin keeps a token issued in the same second as the
// change valid.
func TestAuthenticate_SameSecondChangeStaysValid(t *testing.T) {
	f := newGuardFixture(t)
	user := testutil.NewTestUser(t, f.repo, "jonas@example.com")
	tok := f.issue(t, user)

	require.NoError(t, f.repo.UpdatePassword(context.Background(), user.ID, user.PasswordHash, f.clock.Now().Add(-time.Second)))

	_, err := f.guard.Authenticate(bearer(tok))
	assert.NoError(t, err)
}

func TestProtect(t *testing.T) {
	f := newGuardFixture(t)
	user := testutil.NewTestUser(t, f.repo, "jonas@example.com")
	e := echo.New()

	var seen *models.User
	h := f.guard.Protect()(func(c echo.Context) error {
		seen = auth.GetUser(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	t.Run("authorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(bearer(f.issue(t, user)), rec)

		require.NoError(t, h(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, user.ID, seen.ID)
	})

	t.Run("denied short-circuits", func(t *testing.T) {
		seen = nil
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

		err := h(c)

		apperr.AssertReason(t, err, apperr.ReasonMissing)
		assert.Nil(t, seen)
		assert.Equal(t, 1, denials(t, f.metrics))
	})
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		role    models.Role
		allowed []models.Role
		wantErr bool
	}{
		{"admin allowed", models.RoleAdmin, []models.Role{models.RoleAdmin, models.RoleLeadGuide}, false},
		{"lead guide allowed", models.RoleLeadGuide, []models.Role{models.RoleAdmin, models.RoleLeadGuide}, false},
		{"user denied", models.RoleUser, []models.Role{models.RoleAdmin, models.RoleLeadGuide}, true},
		{"guide denied", models.RoleGuide, []models.Role{models.RoleAdmin}, true},
		{"no roles denies everyone", models.RoleAdmin, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := middleware.Authorize(&models.User{Role: tt.role}, tt.allowed...)
			if tt.wantErr {
				apperr.AssertKind(t, err, apperr.KindAuthorization)
				assert.Equal(t, http.StatusForbidden, apperr.HTTPStatus(apperr.KindOf(err)))
				assert.Equal(t, middleware.MsgForbidden, err.Error())
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("nil principal", func(t *testing.T) {
		apperr.AssertKind(t, middleware.Authorize(nil, models.RoleUser), apperr.KindAuthorization)
	})
}

func TestRestrictTo(t *testing.T) {
	f := newGuardFixture(t)
	e := echo.New()
	called := false
	h := f.guard.RestrictTo(models.RoleAdmin, models.RoleLeadGuide)(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})

	newCtx := func(role models.Role) echo.Context {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.SetUser(req.Context(), &models.User{ID: "u1", Role: role}))
		return e.NewContext(req, httptest.NewRecorder())
	}

	err := h(newCtx(models.RoleUser))
	apperr.AssertKind(t, err, apperr.KindAuthorization)
	assert.False(t, called)
	assert.Equal(t, 1, denials(t, f.metrics))

	require.NoError(t, h(newCtx(models.RoleLeadGuide)))
	assert.True(t, called)
}
