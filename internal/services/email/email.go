// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email delivers password reset links.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"codeberg.org/natours/natours/internal/config"
	"codeberg.org/natours/natours/internal/i18n"
	"codeberg.org/natours/natours/internal/models"
)

// ResetPath is the API path a reset token is submitted to.
const ResetPath = "/api/v1/users/reset-password/"

// Message is a rendered plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Transport hands a rendered message to a delivery mechanism.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Service renders and sends password reset emails.
type Service struct {
	transport Transport
	baseURL   string
	resetTTL  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithResetTTL sets the token lifetime mentioned in the email.
func WithResetTTL(d time.Duration) Option {
	return func(s *Service) {
		s.resetTTL = d
	}
}

// WithTransport replaces the delivery mechanism.
func WithTransport(t Transport) Option {
	return func(s *Service) {
		s.transport = t
	}
}

// NewService creates an email service that delivers over SMTP.
func NewService(cfg *config.SMTPConfig, baseURL string, opts ...Option) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	return newService(&SMTPTransport{cfg: cfg}, baseURL, opts...), nil
}

// NewLogService creates an email service that writes messages to the log
// instead of sending them. Meant for development without an SMTP relay.
func NewLogService(logger *slog.Logger, baseURL string, opts ...Option) *Service {
	return newService(&LogTransport{logger: logger}, baseURL, opts...)
}

func newService(t Transport, baseURL string, opts ...Option) *Service {
	s := &Service{
		transport: t,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		resetTTL:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResetURL returns the link that redeems token.
func (s *Service) ResetURL(token string) string {
	return s.baseURL + ResetPath + url.PathEscape(token)
}

// SendPasswordReset mails the reset link for token to user, localized by
// the locale stored in ctx.
func (s *Service) SendPasswordReset(ctx context.Context, user *models.User, token string) error {
	msg := s.composeReset(ctx, user, token)
	if err := s.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("send password reset to %s: %w", user.Email, err)
	}
	return nil
}

func (s *Service) composeReset(ctx context.Context, user *models.User, token string) Message {
	data := map[string]any{
		"Name":     user.Name,
		"ResetURL": s.ResetURL(token),
		"Minutes":  int(s.resetTTL.Minutes()),
	}

	return Message{
		To:      user.Email,
		Subject: i18n.TData(ctx, "password_reset_subject", data),
		Body:    i18n.TData(ctx, "password_reset_greeting", data) + "\n\n" + i18n.TData(ctx, "password_reset_body", data),
	}
}

// SMTPTransport sends messages through an SMTP relay using go-mail.
type SMTPTransport struct {
	cfg *config.SMTPConfig
}

// Send delivers msg over SMTP.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	m, err := buildMsg(t.cfg, msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(t.cfg.Host, clientOptions(t.cfg)...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}

func buildMsg(cfg *config.SMTPConfig, msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()

	if cfg.FromName != "" {
		if err := m.FromFormat(cfg.FromName, cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := m.From(cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

func clientOptions(cfg *config.SMTPConfig) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(10 * time.Second),
	}

	// implicit TLS on 465, STARTTLS elsewhere
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	return opts
}

// LogTransport writes messages to a logger.
type LogTransport struct {
	logger *slog.Logger
}

// Send logs msg at info level.
func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	t.logger.InfoContext(ctx, "email_logged",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("locale", i18n.GetLocale(ctx)),
		slog.String("body", msg.Body),
	)
	return nil
}
