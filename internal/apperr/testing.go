// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package apperr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertKind asserts that err carries the given kind.
func AssertKind(t *testing.T, err error, k Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, k, KindOf(err), "unexpected kind for %v", err)
}

// AssertReason asserts that err is an authentication error with the given reason.
func AssertReason(t *testing.T, err error, r Reason) {
	t.Helper()
	AssertKind(t, err, KindAuthentication)
	assert.Equal(t, r, ReasonOf(err))
}
