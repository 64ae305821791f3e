// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package token issues and verifies signed session tokens (HS256 JWTs).
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest accepted signing secret in bytes.
const MinSecretLength = 32

var (
	// ErrInvalidSignature means the token was not signed with our secret and algorithm.
	ErrInvalidSignature = errors.New("token signature is invalid")
	// ErrExpired means the token's expiry is at or before the current time.
	ErrExpired = errors.New("token has expired")
	// ErrMalformed means the token could not be decoded or lacks required claims.
	ErrMalformed = errors.New("token is malformed")
)

// Claims carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
}

// Verified is the result of a successful verification.
type Verified struct {
	SubjectID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs and verifies session tokens with a single process-wide secret.
type Issuer struct {
	now    func() time.Time
	secret []byte
	ttl    time.Duration
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer. The secret must be at least MinSecretLength
// bytes and the ttl positive.
func NewIssuer(secret []byte, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}

	i := &Issuer{
		now:    time.Now,
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue mints a token for subjectID, valid from now for the configured ttl.
func (i *Issuer) Issue(subjectID string) (string, error) {
	if subjectID == "" {
		return "", errors.New("token subject must not be empty")
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the token's subject and
// issue time. A token whose expiry equals the current second is expired.
func (i *Issuer) Verify(tokenString string) (*Verified, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, classify(err)
	}

	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrMalformed
	}

	expiresAt := claims.ExpiresAt.Time
	if !i.now().Before(expiresAt) {
		return nil, ErrExpired
	}

	return &Verified{
		SubjectID: claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: expiresAt,
	}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}
