// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"codeberg.org/natours/natours/internal/metrics"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned for passwords bcrypt would truncate.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// Hasher hashes and verifies passwords with bcrypt. At most workers
// operations run at once; further callers wait for a slot or for their
// context to end.
type Hasher struct {
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
	cost    int
}

// NewHasher creates a Hasher. Non-positive workers default to the number of CPUs.
func NewHasher(cost, workers int, m *metrics.Metrics) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Hasher{
		sem:     semaphore.NewWeighted(int64(workers)),
		metrics: m,
		cost:    cost,
	}, nil
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	var out []byte
	err := h.run(ctx, func() error {
		var err error
		out, err = bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
		return err
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether plaintext matches hash. The comparison runs in
// constant time; a cancelled context counts as a mismatch.
func (h *Hasher) Verify(ctx context.Context, plaintext, hash string) bool {
	err := h.run(ctx, func() error {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	})
	return err == nil
}

func (h *Hasher) run(ctx context.Context, fn func() error) error {
	queued := time.Now()
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for hash slot: %w", err)
	}
	defer h.sem.Release(1)

	started := time.Now()
	h.metrics.ObserveHashWait(started.Sub(queued))
	err := fn()
	h.metrics.ObserveHashDuration(time.Since(started))
	return err
}
