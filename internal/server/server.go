// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package server wires the HTTP API together and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"

	"codeberg.org/natours/natours/internal/config"
	"codeberg.org/natours/natours/internal/database"
	"codeberg.org/natours/natours/internal/handlers"
	"codeberg.org/natours/natours/internal/i18n"
	"codeberg.org/natours/natours/internal/metrics"
	"codeberg.org/natours/natours/internal/middleware"
	"codeberg.org/natours/natours/internal/models"
	"codeberg.org/natours/natours/internal/repository"
	"codeberg.org/natours/natours/internal/services/auth"
	"codeberg.org/natours/natours/internal/services/email"
	"codeberg.org/natours/natours/internal/services/session"
	"codeberg.org/natours/natours/internal/services/token"
)

// APIPrefix is the base path of the user API.
const APIPrefix = "/api/v1/users"

const shutdownTimeout = 10 * time.Second

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Auth.GeneratedSecret {
		slog.Warn("no JWT secret configured, using a random one; sessions end on restart")
	}

	slog.Info("starting server",
		"env", cfg.Env,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	// Database
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	warnWithoutAdmin(ctx, repository.New(db))

	// i18n
	if initErr := i18n.Init(); initErr != nil {
		return fmt.Errorf("failed to init i18n: %w", initErr)
	}

	e, err := New(cfg, db)
	if err != nil {
		return err
	}

	return startWithGracefulShutdown(ctx, e, cfg)
}

// New builds the echo instance with all services, middleware and routes.
func New(cfg *config.Config, db *sqlx.DB) (*echo.Echo, error) {
	m := metrics.New()
	repo := repository.New(db)

	hasher, err := auth.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashWorkers, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create password hasher: %w", err)
	}

	mailer, err := newMailer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create email service: %w", err)
	}

	svc, err := auth.NewService(repo, hasher, mailer, cfg.Auth, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	issuer, err := token.NewIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	sessions := session.NewManager(cfg.Auth.CookieName, cfg.Auth.JWTExpiresIn, cfg.Auth.CookieSecure)
	guard := middleware.NewGuard(issuer, repo, sessions.CookieName(), m)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.ErrorHandler(cfg.IsDevelopment())

	setupMiddleware(e, cfg)
	setupRoutes(e, routeDeps{
		health:    handlers.New(repo),
		auth:      handlers.NewAuth(svc, issuer, sessions, cfg.Auth.ResetHideUnknownEmail),
		users:     handlers.NewUsers(svc, sessions),
		guard:     guard,
		metrics:   m,
		rateLimit: cfg.Server.RateLimit,
	})

	return e, nil
}

// warnWithoutAdmin logs a hint when no active administrator exists.
func warnWithoutAdmin(ctx context.Context, repo *repository.Repository) {
	count, err := repo.CountAdmins(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count administrators", "error", err)
		return
	}
	if count == 0 {
		slog.WarnContext(ctx, "no active administrator, run the create-admin command to add one")
	}
}

func newMailer(cfg *config.Config) (*email.Service, error) {
	ttl := email.WithResetTTL(cfg.Auth.ResetTokenTTL)
	if !cfg.SMTP.Configured() {
		slog.Warn("SMTP not configured, password reset emails are logged instead of sent")
		return email.NewLogService(slog.Default(), cfg.Server.BaseURL, ttl), nil
	}
	return email.NewService(&cfg.SMTP, cfg.Server.BaseURL, ttl)
}

type routeDeps struct {
	health    *handlers.Handlers
	auth      *handlers.AuthHandlers
	users     *handlers.UserHandlers
	guard     *middleware.Guard
	metrics   *metrics.Metrics
	rateLimit int
}

func setupRoutes(e *echo.Echo, d routeDeps) {
	e.GET("/health", d.health.Health)
	e.GET("/metrics", echo.WrapHandler(d.metrics.Handler()))

	api := e.Group(APIPrefix, rateLimiter(d.rateLimit))

	// Public
	api.POST("/signup", d.auth.Signup)
	api.POST("/signin", d.auth.Signin)
	api.POST("/signout", d.auth.Signout)
	api.POST("/forgot-password", d.auth.ForgotPassword)
	api.PATCH("/reset-password/:token", d.auth.ResetPassword)

	// Signed in
	protect := d.guard.Protect()
	api.PATCH("/update-password", d.auth.UpdatePassword, protect)
	api.GET("/current-user", d.users.CurrentUser, protect)
	api.PATCH("/update-user-data", d.users.UpdateUserData, protect)
	api.DELETE("/delete-current-user", d.users.DeleteCurrentUser, protect)

	// Staff
	api.GET("", d.users.ListUsers, protect, d.guard.RestrictTo(models.RoleAdmin))
	api.GET("/:id", d.users.GetUser, protect, d.guard.RestrictTo(models.RoleAdmin, models.RoleLeadGuide))
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		slog.Info("Server running", "url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
		return err
	}

	slog.Info("server stopped")
	return nil
}
