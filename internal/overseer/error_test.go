// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package overseer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(SendFailed, "write failed", cause)

	assert.Contains(t, err.Error(), "send_failed")
	assert.Contains(t, err.Error(), "write failed")
	assert.Contains(t, err.Error(), "boom")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Internal, "oops", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(NotFound, "no such instance: abc")
	assert.True(t, errors.Is(err, New(NotFound, "")))
	assert.False(t, errors.Is(err, New(Timeout, "")))
}

func TestWithHintDoesNotMutateOriginal(t *testing.T) {
	base := New(InvalidArgument, "bad input")
	hinted := base.WithHint("try again")

	assert.Empty(t, base.Hint)
	assert.Equal(t, "try again", hinted.Hint)
}
