// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"

	"codeberg.org/natours/natours/internal/apperr"
	"codeberg.org/natours/natours/internal/config"
	"codeberg.org/natours/natours/internal/database"
	"codeberg.org/natours/natours/internal/repository"
	"codeberg.org/natours/natours/internal/services/auth"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: migrateAction(func(db *sqlx.DB) error {
					return database.RunMigrations(db.DB)
				}),
			},
			{
				Name:  "down",
				Usage: "Roll back the last migration",
				Action: migrateAction(func(db *sqlx.DB) error {
					return database.MigrateDown(db.DB)
				}),
			},
			{
				Name:  "reset",
				Usage: "Roll back all migrations",
				Action: migrateAction(func(db *sqlx.DB) error {
					return database.MigrateReset(db.DB)
				}),
			},
			{
				Name:   "status",
				Usage:  "Print the applied schema version",
				Action: migrateAction(nil),
			},
		},
	}
}

// migrateAction connects without migrating, runs fn and prints the
// resulting schema version.
func migrateAction(fn func(*sqlx.DB) error) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		db, err := database.Connect(cmd.String("database-dsn"))
		if err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
		defer func() { _ = db.Close() }()

		if fn != nil {
			if err := fn(db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}

		version, err := database.MigrationVersion(db.DB)
		if err != nil {
			return err
		}
		return printf(cmd.Root().Writer, "schema version: %d\n", version)
	}
}

func createAdminCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-admin",
		Usage: "Create an administrator or promote an existing user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true, Usage: "Email address of the administrator"},
			&cli.StringFlag{Name: "password", Required: true, Usage: "Password of a new administrator (checked but not applied to an existing user)"},
			&cli.StringFlag{Name: "name", Usage: "Display name (defaults to the email's local part)"},
		},
		Action: createAdmin,
	}
}

func createAdmin(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	hasher, err := auth.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashWorkers, nil)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(repository.New(db), hasher, nil, cfg.Auth, nil)
	if err != nil {
		return err
	}

	user, created, err := svc.EnsureAdmin(ctx, cmd.String("name"), cmd.String("email"), cmd.String("password"))
	if err != nil {
		if apperr.Operational(err) {
			return fmt.Errorf("create admin: %s", apperr.Message(err))
		}
		return fmt.Errorf("create admin: %w", err)
	}

	w := cmd.Root().Writer
	if !created {
		if err := printf(w, "%s already exists, promoted without changing the password\n", user.Email); err != nil {
			return err
		}
	}

	count, err := svc.CountAdmins(ctx)
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	return printf(w, "admin %s (%s) ready, %d active administrators\n", user.Email, user.ID, count)
}

func printf(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
