// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
	"golang.org/x/crypto/bcrypt"
)

var configFile = altsrc.StringSourcer("config.toml")

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// MinSecretLength is the minimum JWT signing secret length in bytes.
	MinSecretLength = 32
)

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Env      string
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Auth     AuthConfig
	SMTP     SMTPConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string
	MaxBodySize int // in MB
	RateLimit   int // requests per hour per client on /api/v1/users, 0 disables
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

// AuthConfig is captured once at startup and never mutated afterwards.
type AuthConfig struct { //nolint:govet // fieldalignment not critical for config structs
	JWTSecret             string
	JWTExpiresIn          time.Duration
	CookieName            string
	CookieSecure          bool
	BcryptCost            int
	HashWorkers           int
	PasswordMinLength     int
	PasswordPolicy        PasswordPolicy
	ResetTokenTTL         time.Duration
	ResetHideUnknownEmail bool
	GeneratedSecret       bool // true when JWTSecret was generated for development
}

// PasswordPolicy lists the optional password rules on top of the
// minimum length.
type PasswordPolicy struct {
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSpecial   bool
	CheckSimilarity  bool // reject passwords resembling the user's name or email
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// Configured reports whether an SMTP relay has been set up.
func (s SMTPConfig) Configured() bool {
	return s.Host != "" && s.From != ""
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Env: strings.ToLower(cmd.String("env")),
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			BaseURL:     cmd.String("base-url"),
			MaxBodySize: int(cmd.Int("max-body-size")),
			RateLimit:   int(cmd.Int("rate-limit")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		Auth: AuthConfig{
			JWTSecret:             cmd.String("jwt-secret"),
			JWTExpiresIn:          cmd.Duration("jwt-expires-in"),
			CookieName:            cmd.String("cookie-name"),
			CookieSecure:          cmd.Bool("cookie-secure"),
			BcryptCost:            int(cmd.Int("bcrypt-cost")),
			HashWorkers:           int(cmd.Int("hash-workers")),
			PasswordMinLength:     int(cmd.Int("password-min-length")),
			ResetTokenTTL:         cmd.Duration("reset-token-ttl"),
			ResetHideUnknownEmail: cmd.Bool("reset-hide-unknown-email"),
			PasswordPolicy: PasswordPolicy{
				RequireUppercase: cmd.Bool("password-require-uppercase"),
				RequireLowercase: cmd.Bool("password-require-lowercase"),
				RequireDigit:     cmd.Bool("password-require-digit"),
				RequireSpecial:   cmd.Bool("password-require-special"),
				CheckSimilarity:  cmd.Bool("password-check-similarity"),
			},
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}

	applyAuthDefaults(cfg)

	return cfg
}

// IsDevelopment reports whether the application runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env))
	}
	if len(c.Auth.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength))
	}
	if c.Auth.JWTExpiresIn <= 0 {
		errs = append(errs, errors.New("jwt expiry must be positive"))
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.Auth.HashWorkers < 1 {
		errs = append(errs, errors.New("hash workers must be at least 1"))
	}
	if c.Auth.PasswordMinLength < 1 {
		errs = append(errs, errors.New("password minimum length must be at least 1"))
	}
	if c.Auth.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("reset token ttl must be positive"))
	}
	if c.Auth.CookieName == "" {
		errs = append(errs, errors.New("cookie name must not be empty"))
	}
	if !c.IsDevelopment() && !c.SMTP.Configured() {
		errs = append(errs, errors.New("smtp host and from address are required in production"))
	}

	return errors.Join(errs...)
}

// applyAuthDefaults fills in development conveniences and production hardening.
func applyAuthDefaults(cfg *Config) {
	if cfg.Auth.HashWorkers <= 0 {
		cfg.Auth.HashWorkers = runtime.NumCPU()
	}
	if cfg.Env == EnvProduction {
		cfg.Auth.CookieSecure = true
	}
	if cfg.Auth.JWTSecret == "" && cfg.Env == EnvDevelopment {
		if key := securecookie.GenerateRandomKey(MinSecretLength); key != nil {
			cfg.Auth.JWTSecret = hex.EncodeToString(key)
			cfg.Auth.GeneratedSecret = true
		}
	}
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port

	scheme := "https"
	if IsLocalhost(host) {
		scheme = "http"
	}

	// Hide default ports in URL
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "env",
			Value:   EnvDevelopment,
			Usage:   "Environment (development, production)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("APP_ENV"), toml.TOML("env", configFile)),
		},
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: cli.NewValueSourceChain(cli.EnvVar("HOST"), toml.TOML("server.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PORT"), toml.TOML("server.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Base URL used in links sent by email",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BASE_URL"), toml.TOML("server.base_url", configFile)),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: cli.NewValueSourceChain(cli.EnvVar("MAX_BODY_SIZE"), toml.TOML("server.max_body_size", configFile)),
		},
		&cli.IntFlag{
			Name:    "rate-limit",
			Value:   100,
			Usage:   "Requests per hour per client on user routes (0 disables)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("RATE_LIMIT"), toml.TOML("server.rate_limit", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_LEVEL"), toml.TOML("log.level", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_FORMAT"), toml.TOML("log.format", configFile)),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/natours.db",
			Usage:   "Database DSN",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DATABASE_DSN"), toml.TOML("database.dsn", configFile)),
		},
		// Auth flags
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "Secret used to sign session tokens (at least 32 bytes, generated if empty in development)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("JWT_SECRET"), toml.TOML("auth.jwt_secret", configFile)),
		},
		&cli.DurationFlag{
			Name:    "jwt-expires-in",
			Value:   90 * 24 * time.Hour,
			Usage:   "Session token lifetime",
			Sources: cli.NewValueSourceChain(cli.EnvVar("JWT_EXPIRES_IN"), toml.TOML("auth.jwt_expires_in", configFile)),
		},
		&cli.StringFlag{
			Name:    "cookie-name",
			Value:   "jwt",
			Usage:   "Name of the session token cookie",
			Sources: cli.NewValueSourceChain(cli.EnvVar("COOKIE_NAME"), toml.TOML("auth.cookie_name", configFile)),
		},
		&cli.BoolFlag{
			Name:    "cookie-secure",
			Usage:   "Mark the session cookie Secure (always on in production)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("COOKIE_SECURE"), toml.TOML("auth.cookie_secure", configFile)),
		},
		&cli.IntFlag{
			Name:    "bcrypt-cost",
			Value:   12,
			Usage:   "bcrypt work factor",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BCRYPT_COST"), toml.TOML("auth.bcrypt_cost", configFile)),
		},
		&cli.IntFlag{
			Name:    "hash-workers",
			Usage:   "Concurrent password hash operations (defaults to the number of CPUs)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("HASH_WORKERS"), toml.TOML("auth.hash_workers", configFile)),
		},
		&cli.IntFlag{
			Name:    "password-min-length",
			Value:   8,
			Usage:   "Minimum password length",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PASSWORD_MIN_LENGTH"), toml.TOML("auth.password_min_length", configFile)),
		},
		&cli.BoolFlag{
			Name:    "password-require-uppercase",
			Usage:   "Require an uppercase letter in new passwords",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PASSWORD_REQUIRE_UPPERCASE"), toml.TOML("auth.password_require_uppercase", configFile)),
		},
		&cli.BoolFlag{
			Name:    "password-require-lowercase",
			Usage:   "Require a lowercase letter in new passwords",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PASSWORD_REQUIRE_LOWERCASE"), toml.TOML("auth.password_require_lowercase", configFile)),
		},
		&cli.BoolFlag{
			Name:    "password-require-digit",
			Usage:   "Require a digit in new passwords",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PASSWORD_REQUIRE_DIGIT"), toml.TOML("auth.password_require_digit", configFile)),
		},
		&cli.BoolFlag{
			Name:    "password-require-special",
			Usage:   "Require a punctuation or symbol character in new passwords",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PASSWORD_REQUIRE_SPECIAL"), toml.TOML("auth.password_require_special", configFile)),
		},
		&cli.BoolFlag{
			Name:    "password-check-similarity",
			Usage:   "Reject new passwords that resemble the user's name or email",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PASSWORD_CHECK_SIMILARITY"), toml.TOML("auth.password_check_similarity", configFile)),
		},
		&cli.DurationFlag{
			Name:    "reset-token-ttl",
			Value:   10 * time.Minute,
			Usage:   "Lifetime of password reset tokens",
			Sources: cli.NewValueSourceChain(cli.EnvVar("RESET_TOKEN_TTL"), toml.TOML("auth.reset_token_ttl", configFile)),
		},
		&cli.BoolFlag{
			Name:    "reset-hide-unknown-email",
			Usage:   "Answer forgot-password for unknown emails with success instead of 404",
			Sources: cli.NewValueSourceChain(cli.EnvVar("RESET_HIDE_UNKNOWN_EMAIL"), toml.TOML("auth.reset_hide_unknown_email", configFile)),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP relay host (emails are logged when empty in development)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_HOST"), toml.TOML("smtp.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP relay port",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PORT"), toml.TOML("smtp.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_USERNAME"), toml.TOML("smtp.username", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PASSWORD"), toml.TOML("smtp.password", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address for outgoing email",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM"), toml.TOML("smtp.from", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Value:   "Natours",
			Usage:   "Sender display name for outgoing email",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM_NAME"), toml.TOML("smtp.from_name", configFile)),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require STARTTLS for the SMTP connection",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_TLS"), toml.TOML("smtp.tls", configFile)),
		},
	}
}
