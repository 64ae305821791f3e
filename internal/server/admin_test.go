// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"codeberg.org/natours/natours/internal/models"
	"codeberg.org/natours/natours/internal/testutil"
)

func TestWarnWithoutAdmin(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, repo := testutil.NewTestDB(t)
	testutil.NewTestUser(t, repo, "user@example.com")

	warnWithoutAdmin(context.Background(), repo)
	assert.Contains(t, buf.String(), "no active administrator")

	buf.Reset()
	testutil.NewTestUserWithRole(t, repo, "admin@example.com", models.RoleAdmin)

	warnWithoutAdmin(context.Background(), repo)
	assert.Empty(t, buf.String())
}
